package core

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrTransientService marks network or rate-limit failures of a collaborator.
	ErrTransientService = errors.New("transient service error")
	// ErrToolValidation marks arguments that do not satisfy a tool schema.
	ErrToolValidation = errors.New("tool validation failed")
	// ErrUnknownTool is returned when a tool name is not registered.
	ErrUnknownTool = errors.New("unknown tool")
	// ErrDuplicateTool is returned when registering a name twice.
	ErrDuplicateTool = errors.New("duplicate tool")
	// ErrInvalidDefinition is returned for malformed tool definitions.
	ErrInvalidDefinition = errors.New("invalid tool definition")
	// ErrToolTimeout marks a tool exceeding its execution timeout.
	ErrToolTimeout = errors.New("tool timed out")
	// ErrApprovalDenied marks a call the user declined.
	ErrApprovalDenied = errors.New("approval denied")
	// ErrLoopDetected marks a repeated identical tool call.
	ErrLoopDetected = errors.New("loop detected")
	// ErrCompressionFailed marks a failed summarization attempt.
	ErrCompressionFailed = errors.New("history compression failed")
	// ErrSafetyLimitExceeded marks a breached turn or tool call limit.
	ErrSafetyLimitExceeded = errors.New("safety limit exceeded")
	// ErrMalformedStream marks an unparsable tool call payload.
	ErrMalformedStream = errors.New("malformed stream")
)

// LoopDetectedError describes a detected cycle of identical tool calls.
type LoopDetectedError struct {
	Tool        string
	ArgsHash    string
	Occurrences int
	Window      time.Duration
}

func (e *LoopDetectedError) Error() string {
	return fmt.Sprintf("loop detected: tool %q called %d times with identical arguments within %s", e.Tool, e.Occurrences, e.Window)
}

// Unwrap allows errors.Is(err, ErrLoopDetected).
func (e *LoopDetectedError) Unwrap() error { return ErrLoopDetected }

// SafetyLimitError describes which agent limit was breached.
type SafetyLimitError struct {
	Limit string
	Max   int
}

func (e *SafetyLimitError) Error() string {
	return fmt.Sprintf("limit reached: %s (max %d)", e.Limit, e.Max)
}

// Unwrap allows errors.Is(err, ErrSafetyLimitExceeded).
func (e *SafetyLimitError) Unwrap() error { return ErrSafetyLimitExceeded }

// ToolError represents a typed failure raised by a tool body.
type ToolError struct {
	Tool    string
	Code    string
	Message string
	Err     error
}

// NewToolError creates a ToolError.
func NewToolError(tool, code, message string, err error) *ToolError {
	return &ToolError{Tool: tool, Code: code, Message: message, Err: err}
}

func (e *ToolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("tool %s [%s]: %s: %v", e.Tool, e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("tool %s [%s]: %s", e.Tool, e.Code, e.Message)
}

func (e *ToolError) Unwrap() error { return e.Err }
