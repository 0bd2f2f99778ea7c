package model

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/alexbeletsky/transcribe-talk/core"
)

// Normalized finish reasons reported by adapters.
const (
	FinishStop          = "stop"
	FinishToolCalls     = "tool_calls"
	FinishLength        = "length"
	FinishContentFilter = "content_filter"
)

// ToolDefinition declaratively exposes a callable function to the model.
type ToolDefinition struct {
	Type     string             `json:"type"` // "function"
	Function FunctionDefinition `json:"function"`
}

// FunctionDefinition describes an individual function (tool) exposed to the model.
// Parameters is a JSON Schema object.
type FunctionDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Request captures the normalized model input.
type Request struct {
	Messages    []core.Message   `json:"messages"`
	Tools       []ToolDefinition `json:"tools,omitempty"`
	Stream      bool             `json:"stream,omitempty"`
	Temperature *float64         `json:"temperature,omitempty"`
	MaxTokens   int              `json:"max_tokens,omitempty"`
}

// ToolCallDelta is a fragment of a tool call. Fragments sharing an Index
// belong to the same call; ID and Name usually arrive with the first fragment
// and Arguments are concatenated in arrival order.
type ToolCallDelta struct {
	Index     int    `json:"index"`
	ID        string `json:"id,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

// Response is a (partial or final) chunk emitted by a model. When streaming,
// the final chunk (Partial=false) carries FinishReason and Usage but never
// repeats text that was already delivered in partial chunks.
type Response struct {
	ID           string          `json:"id,omitempty"`
	Partial      bool            `json:"partial"`
	Text         string          `json:"text,omitempty"`
	Thought      string          `json:"thought,omitempty"`
	ToolCalls    []ToolCallDelta `json:"tool_calls,omitempty"`
	FinishReason string          `json:"finish_reason,omitempty"`
	Usage        *core.Usage     `json:"usage,omitempty"`
	Raw          any             `json:"-"`
}

// Info contains metadata about a model implementation.
type Info struct {
	Name          string `json:"name"`
	Provider      string `json:"provider"`
	SupportsTools bool   `json:"supports_tools"`
}

// Model is the minimal interface required to drive generation. Both returned
// channels are closed by the implementation once the stream ends; at most one
// error is sent. Implementations must stop promptly when ctx is cancelled.
type Model interface {
	Generate(ctx context.Context, req Request) (<-chan Response, <-chan error)

	// Info returns information about the model implementation.
	Info() Info
}

// Transient marks err as a retryable collaborator failure.
func Transient(err error) error {
	if err == nil || errors.Is(err, core.ErrTransientService) {
		return err
	}
	return fmt.Errorf("%w: %w", core.ErrTransientService, err)
}

// IsRetryableStatus reports whether an HTTP status code denotes a transient failure.
func IsRetryableStatus(code int) bool {
	return code == 408 || code == 409 || code == 429 || code >= 500
}

// ClassifyError wraps network failures and retryable HTTP statuses as
// transient. statusCode is zero when the error carries no HTTP status.
func ClassifyError(err error, statusCode int) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if statusCode != 0 {
		if IsRetryableStatus(statusCode) {
			return Transient(err)
		}
		return err
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return Transient(err)
	}
	return err
}
