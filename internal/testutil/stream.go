package testutil

import (
	"testing"
	"time"

	"github.com/alexbeletsky/transcribe-talk/core"
)

// DefaultTimeout bounds Collect.
const DefaultTimeout = 5 * time.Second

// Replay returns a buffered, already closed channel yielding events in order.
func Replay(events ...core.Event) <-chan core.Event {
	ch := make(chan core.Event, len(events))
	for _, ev := range events {
		ch <- ev
	}
	close(ch)
	return ch
}

// Collect drains ch until it closes, failing the test if that takes longer
// than DefaultTimeout.
func Collect(t testing.TB, ch <-chan core.Event) []core.Event {
	t.Helper()

	var events []core.Event
	timeout := time.After(DefaultTimeout)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-timeout:
			t.Fatalf("event stream did not close, got %d events", len(events))
			return events
		}
	}
}

// Types projects events onto their types.
func Types(events []core.Event) []core.EventType {
	out := make([]core.EventType, len(events))
	for i, ev := range events {
		out[i] = ev.Type
	}
	return out
}
