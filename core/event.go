package core

import (
	"time"

	"github.com/google/uuid"
)

// EventType tags the variant carried by an Event.
type EventType string

const (
	EventContent          EventType = "content"
	EventThought          EventType = "thought"
	EventToolCallRequest  EventType = "tool_call_request"
	EventFunctionResponse EventType = "function_response"
	EventFinished         EventType = "finished"
	EventError            EventType = "error"
	EventDebug            EventType = "debug"
)

// FinishReason describes why a turn or cycle ended.
type FinishReason string

const (
	FinishDone      FinishReason = "done"
	FinishToolCalls FinishReason = "tool_calls"
	FinishLength    FinishReason = "length"
	FinishFiltered  FinishReason = "content_filter"
	FinishLimit     FinishReason = "limit"
	FinishError     FinishReason = "error"
)

// ErrorKind classifies Error events. Values mirror the error taxonomy.
type ErrorKind string

const (
	ErrorKindService        ErrorKind = "service"
	ErrorKindMalformed      ErrorKind = "malformed_tool_call"
	ErrorKindLoopDetected   ErrorKind = "loop_detected"
	ErrorKindSafetyLimit    ErrorKind = "safety_limit"
	ErrorKindCancelled      ErrorKind = "cancelled"
	ErrorKindCompression    ErrorKind = "compression"
	ErrorKindToolValidation ErrorKind = "tool_validation"
)

// Usage reports token accounting of a model exchange.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Add accumulates another usage record.
func (u Usage) Add(o Usage) Usage {
	return Usage{
		PromptTokens:     u.PromptTokens + o.PromptTokens,
		CompletionTokens: u.CompletionTokens + o.CompletionTokens,
		TotalTokens:      u.TotalTokens + o.TotalTokens,
	}
}

// ErrorDetail is the payload of an Error event.
type ErrorDetail struct {
	Kind        ErrorKind        `json:"kind"`
	Message     string           `json:"message"`
	Recoverable bool             `json:"recoverable"`
	Err         error            `json:"-"`
	Call        *ToolCallRequest `json:"call,omitempty"`
}

// Event is the unit exchanged between Turn, Agent and the output sink. Exactly
// one payload field is populated, selected by Type. Events are ephemeral and
// should be treated as immutable after emission.
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	TurnID    string    `json:"turn_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`

	Text         string           `json:"text,omitempty"`
	ToolCall     *ToolCallRequest `json:"tool_call,omitempty"`
	Result       *ToolCallResult  `json:"result,omitempty"`
	FinishReason FinishReason     `json:"finish_reason,omitempty"`
	Usage        *Usage           `json:"usage,omitempty"`
	Error        *ErrorDetail     `json:"error,omitempty"`
	Raw          any              `json:"raw,omitempty"`
}

// NewEvent creates a bare event of the given type bound to a turn.
// Prefer the typed constructors below.
func NewEvent(typ EventType, turnID string) Event {
	return Event{ID: NewID(), Type: typ, TurnID: turnID, Timestamp: time.Now().UTC()}
}

// NewContentEvent carries a narration fragment.
func NewContentEvent(turnID, text string) Event {
	e := NewEvent(EventContent, turnID)
	e.Text = text
	return e
}

// NewThoughtEvent carries reasoning text.
func NewThoughtEvent(turnID, text string) Event {
	e := NewEvent(EventThought, turnID)
	e.Text = text
	return e
}

// NewToolCallRequestEvent surfaces a complete tool call request.
func NewToolCallRequestEvent(req ToolCallRequest) Event {
	e := NewEvent(EventToolCallRequest, req.TurnID)
	e.ToolCall = &req
	return e
}

// NewFunctionResponseEvent wraps a tool result for display and history.
func NewFunctionResponseEvent(turnID string, res ToolCallResult) Event {
	e := NewEvent(EventFunctionResponse, turnID)
	e.Result = &res
	return e
}

// NewFinishedEvent marks the end of a turn or cycle.
func NewFinishedEvent(turnID string, reason FinishReason, usage *Usage) Event {
	e := NewEvent(EventFinished, turnID)
	e.FinishReason = reason
	e.Usage = usage
	return e
}

// NewErrorEvent reports a failure. Message defaults to err's text.
func NewErrorEvent(turnID string, kind ErrorKind, err error, recoverable bool) Event {
	e := NewEvent(EventError, turnID)
	d := &ErrorDetail{Kind: kind, Recoverable: recoverable, Err: err}
	if err != nil {
		d.Message = err.Error()
	}
	e.Error = d
	return e
}

// NewDebugEvent carries a raw collaborator frame.
func NewDebugEvent(turnID string, raw any) Event {
	e := NewEvent(EventDebug, turnID)
	e.Raw = raw
	return e
}

// NewID generates a new UUID based identifier.
func NewID() string { return uuid.NewString() }

// IsTerminal reports whether the event ends a stream (finished or error).
func (e Event) IsTerminal() bool { return e.Type == EventFinished || e.Type == EventError }
