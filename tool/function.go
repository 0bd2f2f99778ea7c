package tool

import (
	"errors"
	"fmt"
	"time"

	"github.com/alexbeletsky/transcribe-talk/core"
	"github.com/alexbeletsky/transcribe-talk/internal/util"
)

// FunctionTool exposes a plain Go function as a Tool.
//
// Call validates arguments against the definition schema, fills defaults and
// invokes the function. Failures are normalized to *core.ToolError:
//
//	VALIDATION_ERROR  -> schema / argument mismatch (unwraps to core.ErrToolValidation)
//	EXECUTION_ERROR   -> the function returned a plain error
//	custom codes are preserved when the function returns *core.ToolError itself
//
// A FunctionTool has no mutable state after construction and is safe for
// concurrent use.
type FunctionTool struct {
	def    Definition
	schema map[string]any
	fn     func(toolCtx *core.ToolContext, args map[string]any) (any, error)
}

// NewFunctionTool constructs a FunctionTool.
//
// Example:
//
//	echo := NewFunctionTool(Definition{
//	  Name:        "echo",
//	  Description: "Echo the given text",
//	  Parameters:  []Parameter{{Name: "text", Type: String, Required: true}},
//	}, func(tc *core.ToolContext, args map[string]any) (any, error) {
//	  return args["text"], nil
//	})
func NewFunctionTool(def Definition, fn func(toolCtx *core.ToolContext, args map[string]any) (any, error)) *FunctionTool {
	return &FunctionTool{def: def, schema: def.Schema(), fn: fn}
}

// Definition implements Tool.
func (t *FunctionTool) Definition() Definition { return t.def }

// Call implements Tool.
func (t *FunctionTool) Call(toolCtx *core.ToolContext, args map[string]any) (any, error) {
	logger := toolCtx.Logger()
	start := time.Now()

	logger.Debug("tool.call.start", "tool", t.def.Name, "fc_id", toolCtx.FunctionCallID())

	if err := util.ValidateParameters(args, t.schema); err != nil {
		logger.Warn("tool.call.validation_failed", "tool", t.def.Name, "error", err.Error())
		return nil, core.NewToolError(t.def.Name, CodeValidation, "parameter validation failed", fmt.Errorf("%w: %w", core.ErrToolValidation, err))
	}

	result, err := t.fn(toolCtx, t.def.ApplyDefaults(args))
	if err != nil {
		var toolErr *core.ToolError
		if errors.As(err, &toolErr) {
			logger.Warn("tool.call.error", "tool", t.def.Name, "code", toolErr.Code, "error", toolErr.Error())
			return nil, err
		}
		logger.Warn("tool.call.error", "tool", t.def.Name, "error", err.Error())
		return nil, core.NewToolError(t.def.Name, CodeExecution, "execution failed", err)
	}

	logger.Debug("tool.call.success", "tool", t.def.Name, "duration_ms", time.Since(start).Milliseconds())

	return result, nil
}

var _ Tool = (*FunctionTool)(nil)
