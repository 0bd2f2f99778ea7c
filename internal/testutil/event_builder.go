package testutil

import (
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/alexbeletsky/transcribe-talk/core"
)

// EventBuilder provides a fluent helper for constructing event scripts in
// tests. Example:
//
//	evs := NewEventBuilder().Turn("t1").Text("hello").Finished(core.FinishDone).Events()
//
// Every event gets a deterministic ID and timestamp so scripts compare equal
// across runs.
type EventBuilder struct {
	turnID string
	start  time.Time
	events []core.Event
	calls  int
}

// NewEventBuilder creates a builder for turn "turn-1".
func NewEventBuilder() *EventBuilder {
	return &EventBuilder{turnID: "turn-1", start: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
}

// Turn sets the turn ID for the events added next (chainable).
func (b *EventBuilder) Turn(id string) *EventBuilder { b.turnID = id; return b }

// Text appends a Content event (chainable).
func (b *EventBuilder) Text(t string) *EventBuilder {
	return b.add(core.NewContentEvent(b.turnID, t))
}

// Thought appends a Thought event (chainable).
func (b *EventBuilder) Thought(t string) *EventBuilder {
	return b.add(core.NewThoughtEvent(b.turnID, t))
}

// ToolCall appends a ToolCallRequest event. Call IDs are numbered call-1,
// call-2 and so on (chainable).
func (b *EventBuilder) ToolCall(name string, args map[string]any) *EventBuilder {
	b.calls++
	raw, _ := json.Marshal(args)
	req := core.ToolCallRequest{
		ID:           "call-" + strconv.Itoa(b.calls),
		Name:         name,
		Arguments:    args,
		RawArguments: string(raw),
		TurnID:       b.turnID,
	}
	return b.add(core.NewToolCallRequestEvent(req))
}

// Result appends a FunctionResponse event answering the most recent tool
// call with the given name (chainable).
func (b *EventBuilder) Result(name string, status core.ToolCallStatus, output string) *EventBuilder {
	res := core.ToolCallResult{RequestID: b.lastCallID(name), Name: name, Status: status}
	if status == core.ToolCallSuccess {
		res.Output = output
	} else {
		res.Error = output
	}
	return b.add(core.NewFunctionResponseEvent(b.turnID, res))
}

// Finished appends a Finished event (chainable).
func (b *EventBuilder) Finished(reason core.FinishReason) *EventBuilder {
	return b.add(core.NewFinishedEvent(b.turnID, reason, nil))
}

// FinishedWithUsage appends a Finished event reporting usage (chainable).
func (b *EventBuilder) FinishedWithUsage(reason core.FinishReason, usage core.Usage) *EventBuilder {
	return b.add(core.NewFinishedEvent(b.turnID, reason, &usage))
}

// Error appends an Error event (chainable).
func (b *EventBuilder) Error(kind core.ErrorKind, msg string, recoverable bool) *EventBuilder {
	return b.add(core.NewErrorEvent(b.turnID, kind, errors.New(msg), recoverable))
}

// Events returns a copy of the built script.
func (b *EventBuilder) Events() []core.Event {
	return append([]core.Event(nil), b.events...)
}

// Stream replays the built script on a closed channel.
func (b *EventBuilder) Stream() <-chan core.Event { return Replay(b.events...) }

func (b *EventBuilder) add(ev core.Event) *EventBuilder {
	n := len(b.events) + 1
	ev.ID = "event-" + strconv.Itoa(n)
	ev.Timestamp = b.start.Add(time.Duration(n) * time.Millisecond)
	b.events = append(b.events, ev)
	return b
}

func (b *EventBuilder) lastCallID(name string) string {
	for i := len(b.events) - 1; i >= 0; i-- {
		if ev := b.events[i]; ev.ToolCall != nil && ev.ToolCall.Name == name {
			return ev.ToolCall.ID
		}
	}
	return ""
}
