package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// LogLevel is a thin enum for user friendly level configuration decoupled from slog.
type LogLevel int

const (
	// LogLevelDebug is the debug logging level.
	LogLevelDebug LogLevel = iota
	// LogLevelInfo is the informational logging level.
	LogLevelInfo
	// LogLevelWarn is the warning logging level.
	LogLevelWarn
	// LogLevelError is the error logging level.
	LogLevelError
)

// String returns the string representation of the log level.
func (l LogLevel) String() string {
	switch l {
	case LogLevelDebug:
		return "DEBUG"
	case LogLevelInfo:
		return "INFO"
	case LogLevelWarn:
		return "WARN"
	case LogLevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel maps a case-insensitive level name onto a LogLevel. Unknown names
// resolve to LogLevelInfo.
func ParseLevel(s string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LogLevelDebug
	case "warn", "warning":
		return LogLevelWarn
	case "error":
		return LogLevelError
	default:
		return LogLevelInfo
	}
}

// Logger defines the minimal logging interface. Arguments are alternating
// key/value pairs as accepted by log/slog.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// TalkLogger wraps slog.Logger adding component scoping and domain convenience
// methods. With* methods return copies; the receiver is never mutated.
type TalkLogger struct {
	logger         *slog.Logger
	component      string
	conversationID string
}

// LoggerConfig configures construction of a TalkLogger.
type LoggerConfig struct {
	Level     LogLevel
	Format    string // json or text
	Output    io.Writer
	AddSource bool
	Component string
}

// DefaultLoggerConfig returns a baseline text info level configuration writing
// to stderr so it never interleaves with the conversation on stdout.
func DefaultLoggerConfig() *LoggerConfig {
	return &LoggerConfig{Level: LogLevelInfo, Format: "text", Output: os.Stderr}
}

// NewLogger builds a TalkLogger from a config (or defaults if nil).
func NewLogger(cfg *LoggerConfig) *TalkLogger {
	if cfg == nil {
		cfg = DefaultLoggerConfig()
	}
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: slogLevel(cfg.Level), AddSource: cfg.AddSource}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}
	return &TalkLogger{logger: slog.New(handler), component: cfg.Component}
}

// NewSlogLogger creates a TalkLogger with the given level, format and source flag.
func NewSlogLogger(level LogLevel, format string, addSource bool) *TalkLogger {
	cfg := DefaultLoggerConfig()
	cfg.Level = level
	if format != "" {
		cfg.Format = format
	}
	cfg.AddSource = addSource
	return NewLogger(cfg)
}

func slogLevel(l LogLevel) slog.Level {
	switch l {
	case LogLevelDebug:
		return slog.LevelDebug
	case LogLevelWarn:
		return slog.LevelWarn
	case LogLevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithComponent sets the logical component (agent, turn, scheduler, ...).
func (l *TalkLogger) WithComponent(c string) *TalkLogger {
	nl := *l
	nl.component = c
	return &nl
}

// WithConversation attaches a conversation identifier to every entry.
func (l *TalkLogger) WithConversation(id string) *TalkLogger {
	nl := *l
	nl.conversationID = id
	return &nl
}

func (l *TalkLogger) attrs(args []any) []any {
	out := make([]any, 0, len(args)+4)
	if l.component != "" {
		out = append(out, "component", l.component)
	}
	if l.conversationID != "" {
		out = append(out, "conversation_id", l.conversationID)
	}
	return append(out, args...)
}

func (l *TalkLogger) log(level slog.Level, msg string, args ...any) {
	l.logger.Log(context.Background(), level, msg, l.attrs(args)...)
}

// Debug logs at debug level.
func (l *TalkLogger) Debug(msg string, args ...any) { l.log(slog.LevelDebug, msg, args...) }

// Info logs at info level.
func (l *TalkLogger) Info(msg string, args ...any) { l.log(slog.LevelInfo, msg, args...) }

// Warn logs at warn level.
func (l *TalkLogger) Warn(msg string, args ...any) { l.log(slog.LevelWarn, msg, args...) }

// Error logs at error level.
func (l *TalkLogger) Error(msg string, args ...any) { l.log(slog.LevelError, msg, args...) }

// WithComponent scopes l to a component when it supports scoping; other
// loggers are returned unchanged.
func WithComponent(l Logger, component string) Logger {
	if tl, ok := l.(*TalkLogger); ok {
		return tl.WithComponent(component)
	}
	return l
}

// WithConversation tags l with a conversation id when it supports it.
func WithConversation(l Logger, id string) Logger {
	if tl, ok := l.(*TalkLogger); ok && id != "" {
		return tl.WithConversation(id)
	}
	return l
}

// LogToolCall records execution details for a tool invocation.
func LogToolCall(l Logger, tool, status string, dur time.Duration, err error) {
	args := []any{"tool_name", tool, "status", status, "duration_ms", dur.Milliseconds()}
	if err != nil {
		l.Warn("tool.call.failed", append(args, "error", err.Error())...)
		return
	}
	l.Info("tool.call.completed", args...)
}

// LogLLMCall records model call latency, token usage and success.
func LogLLMCall(l Logger, model string, tokens int, dur time.Duration, err error) {
	args := []any{"model", model, "token_count", tokens, "duration_ms", dur.Milliseconds()}
	if err != nil {
		l.Error("llm.call.failed", append(args, "error", err.Error())...)
		return
	}
	l.Info("llm.call.completed", args...)
}

// LogTurn records the outcome of a single model exchange.
func LogTurn(l Logger, turnID string, index, toolCalls int, finishReason string, dur time.Duration) {
	l.Info("turn.completed",
		"turn_id", turnID,
		"turn_index", index,
		"tool_calls", toolCalls,
		"finish_reason", finishReason,
		"duration_ms", dur.Milliseconds(),
	)
}

// StartTimer returns a closure that logs the elapsed duration of op when invoked.
func StartTimer(l Logger, op string) func() {
	start := time.Now()
	return func() { l.Debug("operation.completed", "operation", op, "duration_ms", time.Since(start).Milliseconds()) }
}

// NoOpLogger discards all log messages. Useful for testing or when logging is disabled.
type NoOpLogger struct{}

// Debug logs a debug message.
func (NoOpLogger) Debug(string, ...any) {}

// Info logs an informational message.
func (NoOpLogger) Info(string, ...any) {}

// Warn logs a warning message.
func (NoOpLogger) Warn(string, ...any) {}

// Error logs an error message.
func (NoOpLogger) Error(string, ...any) {}

var (
	_ Logger = (*TalkLogger)(nil)
	_ Logger = NoOpLogger{}
)
