package core

import (
	"fmt"
	"time"
)

// ToolCallRequest is a fully assembled request to run a tool, created by a
// Turn once the streamed argument fragments form a JSON object.
type ToolCallRequest struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	Arguments    map[string]any `json:"arguments"`
	RawArguments string         `json:"raw_arguments"`
	TurnID       string         `json:"turn_id"`
}

// ToolCall converts the request into the form recorded on assistant messages.
func (r ToolCallRequest) ToolCall() ToolCall {
	return ToolCall{ID: r.ID, Name: r.Name, Arguments: r.RawArguments}
}

// ToolCallStatus is the terminal state of a tool call.
type ToolCallStatus string

const (
	ToolCallSuccess   ToolCallStatus = "success"
	ToolCallError     ToolCallStatus = "error"
	ToolCallCancelled ToolCallStatus = "cancelled"
	ToolCallDenied    ToolCallStatus = "denied"
)

// ToolCallResult is the outcome of exactly one ToolCallRequest.
type ToolCallResult struct {
	RequestID string         `json:"request_id"`
	Name      string         `json:"name"`
	Status    ToolCallStatus `json:"status"`
	Output    string         `json:"output,omitempty"`
	Error     string         `json:"error,omitempty"`
	Duration  time.Duration  `json:"duration"`
}

// Succeeded reports whether the tool ran to completion without error.
func (r ToolCallResult) Succeeded() bool { return r.Status == ToolCallSuccess }

// Content renders the result as the text the model receives in the tool-role
// message. Each status gets a distinct prefix so the model can adapt.
func (r ToolCallResult) Content() string {
	switch r.Status {
	case ToolCallSuccess:
		return r.Output
	case ToolCallDenied:
		if r.Error != "" {
			return fmt.Sprintf("Denied: %s", r.Error)
		}
		return fmt.Sprintf("Denied: the user declined to run tool '%s'", r.Name)
	case ToolCallCancelled:
		return fmt.Sprintf("Cancelled: %s", r.Error)
	default:
		return fmt.Sprintf("Error: %s", r.Error)
	}
}

// Message converts the result into the tool-role history message.
func (r ToolCallResult) Message() Message {
	m := NewToolMessage(r.RequestID, r.Name, r.Content())
	m.Metadata = map[string]string{"status": string(r.Status)}
	return m
}

// NewCancelledResult builds a cancelled result for a request that never ran
// (or was interrupted) with the given reason.
func NewCancelledResult(req ToolCallRequest, reason string) ToolCallResult {
	return ToolCallResult{RequestID: req.ID, Name: req.Name, Status: ToolCallCancelled, Error: reason}
}

// NewErrorResult builds an error result for a request.
func NewErrorResult(req ToolCallRequest, err error) ToolCallResult {
	return ToolCallResult{RequestID: req.ID, Name: req.Name, Status: ToolCallError, Error: err.Error()}
}
