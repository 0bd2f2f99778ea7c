package agent

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/alexbeletsky/transcribe-talk/compress"
	"github.com/alexbeletsky/transcribe-talk/core"
	"github.com/alexbeletsky/transcribe-talk/history"
	"github.com/alexbeletsky/transcribe-talk/logging"
	"github.com/alexbeletsky/transcribe-talk/loopdetect"
	"github.com/alexbeletsky/transcribe-talk/metrics"
	"github.com/alexbeletsky/transcribe-talk/model"
	"github.com/alexbeletsky/transcribe-talk/prompt"
	"github.com/alexbeletsky/transcribe-talk/scheduler"
	"github.com/alexbeletsky/transcribe-talk/tool"
)

// Limit names reported in SafetyLimitError.
const (
	LimitTurns             = "max_turns"
	LimitToolCallsPerTurn  = "max_tool_calls_per_turn"
	LimitTotalToolCalls    = "max_total_tool_calls"
	defaultMaxTurns        = 20
	defaultMaxCallsPerTurn = 5
	defaultMaxTotalCalls   = 50
)

// Options configures an Agent.
//
// Use functional options with New to override defaults. Collaborators left nil
// are built from the registry and model with their own defaults.
type Options struct {
	// MaxTurns bounds model turns per user input.
	MaxTurns int
	// MaxToolCallsPerTurn bounds tool requests surfaced by a single turn.
	MaxToolCallsPerTurn int
	// MaxTotalToolCalls bounds tool requests over the whole conversation.
	// Negative disables the limit.
	MaxTotalToolCalls int
	// HaltOnLoop ends the cycle when a loop is detected. Otherwise the
	// blocked call is answered with an error and the model may adapt.
	HaltOnLoop bool
	// ResetLoopPerInput clears the loop window at the start of every input.
	ResetLoopPerInput bool
	// RepairArguments lets turns repair malformed tool call arguments.
	RepairArguments bool
	// Debug forwards raw model frames as Debug events.
	Debug       bool
	Temperature *float64
	MaxTokens   int

	History      *history.History
	PromptEngine *prompt.Engine
	Scheduler    *scheduler.Scheduler
	LoopDetector *loopdetect.Detector
	// Compressor summarizes old history after each cycle. Nil disables
	// compression.
	Compressor *compress.Compressor

	Logger  logging.Logger
	Metrics *metrics.Metrics
}

// Agent runs conversation cycles against a model and a tool registry.
type Agent struct {
	model    model.Model
	registry *tool.Registry
	opts     Options

	history    *history.History
	prompt     *prompt.Engine
	scheduler  *scheduler.Scheduler
	loops      *loopdetect.Detector
	compressor *compress.Compressor
	totalCalls *core.Limiter

	// mu serializes cycles and history replacement.
	mu sync.Mutex

	statsMu sync.Mutex
	stats   Stats
}

// Stats accumulates conversation level counters.
type Stats struct {
	Inputs      int        `json:"inputs"`
	Turns       int        `json:"turns"`
	ToolCalls   int        `json:"tool_calls"`
	Compactions int        `json:"compactions"`
	Usage       core.Usage `json:"usage"`
}

// New creates an Agent.
func New(m model.Model, reg *tool.Registry, optFns ...func(o *Options)) *Agent {
	opts := Options{
		MaxTurns:            defaultMaxTurns,
		MaxToolCallsPerTurn: defaultMaxCallsPerTurn,
		MaxTotalToolCalls:   defaultMaxTotalCalls,
		HaltOnLoop:          true,
		ResetLoopPerInput:   true,
		Logger:              logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	if reg == nil {
		reg = tool.NewRegistry()
	}
	if opts.History == nil {
		opts.History = history.New()
	}
	if opts.PromptEngine == nil {
		opts.PromptEngine = prompt.New(func(o *prompt.Options) { o.Logger = opts.Logger })
	}
	if opts.Scheduler == nil {
		opts.Scheduler = scheduler.New(reg, func(o *scheduler.Options) {
			o.Logger = opts.Logger
			o.Metrics = opts.Metrics
		})
	}
	if opts.LoopDetector == nil {
		opts.LoopDetector = loopdetect.New(func(o *loopdetect.Options) { o.Logger = opts.Logger })
	}

	return &Agent{
		model:      m,
		registry:   reg,
		opts:       opts,
		history:    opts.History,
		prompt:     opts.PromptEngine,
		scheduler:  opts.Scheduler,
		loops:      opts.LoopDetector,
		compressor: opts.Compressor,
		totalCalls: core.NewLimiter(LimitTotalToolCalls, opts.MaxTotalToolCalls),
	}
}

// History returns the conversation history owned by the agent. Callers must
// not mutate it while a cycle is running.
func (a *Agent) History() *history.History { return a.history }

// Registry returns the tool registry.
func (a *Agent) Registry() *tool.Registry { return a.registry }

// Scheduler returns the tool scheduler.
func (a *Agent) Scheduler() *scheduler.Scheduler { return a.scheduler }

// Model returns the completion model.
func (a *Agent) Model() model.Model { return a.model }

// Stats returns a snapshot of the conversation counters.
func (a *Agent) Stats() Stats {
	a.statsMu.Lock()
	defer a.statsMu.Unlock()

	return a.stats
}

func (a *Agent) updateStats(fn func(s *Stats)) {
	a.statsMu.Lock()
	defer a.statsMu.Unlock()

	fn(&a.stats)
}

// Reset clears history, the loop window, counters and the total tool call
// budget. It waits for a running cycle to finish.
func (a *Agent) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.history.Clear()
	a.loops.Reset()
	a.totalCalls.Reset()
	a.scheduler.ResetSummary()
	a.updateStats(func(s *Stats) { *s = Stats{} })

	a.opts.Logger.Info("agent.reset")
}

// SaveConversation writes the history export document to w.
func (a *Agent) SaveConversation(w io.Writer) error {
	data, err := a.history.Export()
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write conversation: %w", err)
	}
	return nil
}

// LoadConversation replaces the history with the export document read from r.
func (a *Agent) LoadConversation(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("read conversation: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.history.Import(data); err != nil {
		return err
	}
	a.loops.Reset()

	a.opts.Logger.Info("agent.conversation.loaded", "messages", a.history.Len())
	return nil
}

// Result is the outcome of RunSync.
type Result struct {
	// Text is the narration of the final turn.
	Text         string
	FinishReason core.FinishReason
	Usage        core.Usage
	ToolResults  []core.ToolCallResult
	Events       []core.Event
	// Err is the detail of the error event that ended the cycle, if any.
	Err *core.ErrorDetail
}

// RunSync runs a cycle and collects its events. It returns an error only when
// ctx is cancelled; cycle failures are reported in Result.Err.
func (a *Agent) RunSync(ctx context.Context, input string) (Result, error) {
	var (
		res  Result
		text strings.Builder
	)

	for ev := range a.Run(ctx, input) {
		res.Events = append(res.Events, ev)

		switch ev.Type {
		case core.EventContent:
			text.WriteString(ev.Text)
		case core.EventToolCallRequest:
			text.Reset()
		case core.EventFunctionResponse:
			res.ToolResults = append(res.ToolResults, *ev.Result)
		case core.EventFinished:
			res.FinishReason = ev.FinishReason
			if ev.Usage != nil {
				res.Usage = *ev.Usage
			}
		case core.EventError:
			res.Err = ev.Error
			res.FinishReason = core.FinishError
			if ev.Error.Kind == core.ErrorKindSafetyLimit {
				res.FinishReason = core.FinishLimit
			}
		}
	}

	res.Text = text.String()

	if err := ctx.Err(); err != nil {
		return res, err
	}
	return res, nil
}
