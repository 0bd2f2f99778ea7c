// Package tool implements the tool calling subsystem: declarative tool
// definitions with safety metadata, schema generation, argument validation
// and a registry that serves cached declarations to the model.
package tool

import (
	"github.com/alexbeletsky/transcribe-talk/core"
	"github.com/alexbeletsky/transcribe-talk/internal/util"
)

// Tool is a named, schema-described local operation the model can invoke.
//
// Implementations should:
//   - Provide clear snake_case names and imperative descriptions
//   - Declare every parameter in their Definition
//   - Honor toolCtx.Context() cancellation; the scheduler cancels it on timeout
//   - Be safe for concurrent use
type Tool interface {
	// Definition returns the immutable declaration of the tool.
	Definition() Definition

	// Call executes the tool with arguments already validated against the
	// definition. Returned values are rendered as text for the model.
	Call(toolCtx *core.ToolContext, args map[string]any) (any, error)
}

// ValidationError represents parameter validation errors with detailed information.
type ValidationError = util.ValidationError

// Error codes attached to *core.ToolError by FunctionTool.
const (
	CodeValidation = "VALIDATION_ERROR"
	CodeExecution  = "EXECUTION_ERROR"
)
