package core

import (
	"context"

	"github.com/alexbeletsky/transcribe-talk/logging"
)

// ToolContext is the execution surface handed to a tool body. Its Context is
// cancelled when the tool's timeout elapses or the cycle is interrupted, and
// tools must honor it.
type ToolContext struct {
	ctx     context.Context
	request ToolCallRequest
	logger  logging.Logger
}

// NewToolContext binds a tool invocation to ctx.
func NewToolContext(ctx context.Context, req ToolCallRequest, logger logging.Logger) *ToolContext {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &ToolContext{ctx: ctx, request: req, logger: logger}
}

// Context returns the context associated with the tool invocation.
func (tc *ToolContext) Context() context.Context { return tc.ctx }

// FunctionCallID returns the id of the originating tool call request.
func (tc *ToolContext) FunctionCallID() string { return tc.request.ID }

// TurnID returns the id of the turn that produced the request.
func (tc *ToolContext) TurnID() string { return tc.request.TurnID }

// ToolName returns the invoked tool name.
func (tc *ToolContext) ToolName() string { return tc.request.Name }

// Logger returns the logger associated with the tool invocation.
func (tc *ToolContext) Logger() logging.Logger { return tc.logger }

// Err reports the cancellation cause, if any.
func (tc *ToolContext) Err() error { return tc.ctx.Err() }
