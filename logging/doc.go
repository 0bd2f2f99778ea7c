// Package logging provides a minimal logging interface and adapters for
// transcribe-talk.
//
// The Logger interface defines the standard logging methods (Debug, Info, Warn,
// Error) that the agent, turn and scheduler use for observability. This package
// includes:
//
//   - Logger interface for dependency injection
//   - TalkLogger, a log/slog backed Logger with component and conversation
//     scoping
//   - LogToolCall, LogLLMCall, LogTurn and StartTimer helpers working over any
//     Logger
//   - NoOpLogger for silent operation (testing, library defaults)
//
// Usage:
//
//	logger := logging.NewSlogLogger(logging.LogLevelInfo, "json", false)
//	a := agent.New(m, registry, func(o *agent.Options) { o.Logger = logger })
package logging
