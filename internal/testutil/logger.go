package testutil

import (
	"sync"

	"github.com/alexbeletsky/transcribe-talk/logging"
)

// Entry is one recorded log call.
type Entry struct {
	Level string
	Msg   string
	Args  map[string]any
}

// RecordingLogger keeps every entry in memory. It is safe for concurrent use.
type RecordingLogger struct {
	mu      sync.Mutex
	entries []Entry
}

func (l *RecordingLogger) record(level, msg string, args []any) {
	fields := make(map[string]any, len(args)/2)
	for i := 0; i+1 < len(args); i += 2 {
		if k, ok := args[i].(string); ok {
			fields[k] = args[i+1]
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, Entry{Level: level, Msg: msg, Args: fields})
}

// Debug implements logging.Logger.
func (l *RecordingLogger) Debug(msg string, args ...any) { l.record("debug", msg, args) }

// Info implements logging.Logger.
func (l *RecordingLogger) Info(msg string, args ...any) { l.record("info", msg, args) }

// Warn implements logging.Logger.
func (l *RecordingLogger) Warn(msg string, args ...any) { l.record("warn", msg, args) }

// Error implements logging.Logger.
func (l *RecordingLogger) Error(msg string, args ...any) { l.record("error", msg, args) }

// Entries returns a copy of the recorded entries.
func (l *RecordingLogger) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Entry(nil), l.entries...)
}

// Find returns the entries logged with msg.
func (l *RecordingLogger) Find(msg string) []Entry {
	var out []Entry
	for _, e := range l.Entries() {
		if e.Msg == msg {
			out = append(out, e)
		}
	}
	return out
}

var _ logging.Logger = (*RecordingLogger)(nil)
