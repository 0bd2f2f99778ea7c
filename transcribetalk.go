// Package transcribetalk provides a high-level façade that turns a
// config.Config into a ready conversational agent. Most applications interact
// with this package by:
//  1. Loading a config.Config (config.Load or config.Default)
//  2. Creating a TranscribeTalk via New(), optionally overriding the model,
//     the approver, the logger or the metrics registerer
//  3. Sending user input through Run (streaming events) or RunSync
//
// The façade only wires components together; every collaborator (history,
// prompt engine, scheduler, loop detector, compressor) remains reachable
// through the underlying agent.Agent.
package transcribetalk

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/google/uuid"
	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/alexbeletsky/transcribe-talk/agent"
	"github.com/alexbeletsky/transcribe-talk/compress"
	"github.com/alexbeletsky/transcribe-talk/config"
	"github.com/alexbeletsky/transcribe-talk/core"
	"github.com/alexbeletsky/transcribe-talk/history"
	"github.com/alexbeletsky/transcribe-talk/logging"
	"github.com/alexbeletsky/transcribe-talk/loopdetect"
	"github.com/alexbeletsky/transcribe-talk/memory"
	"github.com/alexbeletsky/transcribe-talk/metrics"
	"github.com/alexbeletsky/transcribe-talk/model"
	anthropicmodel "github.com/alexbeletsky/transcribe-talk/model/anthropic"
	openaimodel "github.com/alexbeletsky/transcribe-talk/model/openai"
	"github.com/alexbeletsky/transcribe-talk/prompt"
	"github.com/alexbeletsky/transcribe-talk/scheduler"
	"github.com/alexbeletsky/transcribe-talk/session"
	speechopenai "github.com/alexbeletsky/transcribe-talk/speech/openai"
	"github.com/alexbeletsky/transcribe-talk/tool"
	"github.com/alexbeletsky/transcribe-talk/tool/builtin"
)

// Options configures the TranscribeTalk instance.
type Options struct {
	// Model replaces the provider selected by the config.
	Model model.Model

	// Approver answers approval prompts. Without one, calls that need
	// approval are denied.
	Approver scheduler.Approver

	// OnStateChange observes tool call lifecycle transitions.
	OnStateChange func(req core.ToolCallRequest, state scheduler.State)

	// Tools are registered next to the builtin tools.
	Tools []tool.Tool

	// Estimator counts history tokens. Defaults to the configured
	// tokenizer; tiktoken falls back to the heuristic when its encoding
	// cannot be loaded.
	Estimator history.TokenEstimator

	// Sessions stores named conversations. Defaults to a DirStore at
	// cfg.SessionsDir or session.DefaultDir().
	Sessions session.Store

	// Registerer receives the Prometheus collectors. Nil disables metrics.
	Registerer prometheus.Registerer

	// Logger (built from the logging config if nil)
	Logger logging.Logger

	// ConversationID tags every log entry. A random id is used when empty.
	ConversationID string
}

// TranscribeTalk aggregates the agent and the services it was built from.
type TranscribeTalk struct {
	cfg            *config.Config
	agent          *agent.Agent
	workspace      *builtin.Workspace
	memory         memory.Store
	sessions       session.Store
	metrics        *metrics.Metrics
	logger         logging.Logger
	conversationID string
	closers        []io.Closer
}

// New validates cfg and wires a ready agent.
func New(cfg *config.Config, optFns ...func(o *Options)) (*TranscribeTalk, error) {
	if cfg == nil {
		cfg = config.Default()
	}

	var opts Options
	for _, fn := range optFns {
		fn(&opts)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	t := &TranscribeTalk{cfg: cfg}

	if opts.Logger == nil {
		logger, closer, err := NewLogger(cfg)
		if err != nil {
			return nil, err
		}
		if closer != nil {
			t.closers = append(t.closers, closer)
		}
		opts.Logger = logger
	}
	if opts.ConversationID == "" {
		opts.ConversationID = uuid.NewString()
	}
	opts.Logger = logging.WithConversation(opts.Logger, opts.ConversationID)
	t.logger = opts.Logger
	t.conversationID = opts.ConversationID

	if opts.Registerer != nil {
		m, err := metrics.New(opts.Registerer)
		if err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
		t.metrics = m
	}

	m := opts.Model
	if m == nil {
		var err error
		if m, err = NewModel(cfg, logging.WithComponent(opts.Logger, "model")); err != nil {
			return nil, err
		}
	}

	ws, err := builtin.NewWorkspace(cfg.Workspace)
	if err != nil {
		return nil, fmt.Errorf("open workspace: %w", err)
	}
	t.workspace = ws

	if cfg.MemoryFile != "" {
		t.memory = memory.NewFileStore(cfg.MemoryFile)
	} else {
		t.memory = memory.NewWorkspaceStore(ws.Root())
	}

	t.sessions = opts.Sessions
	if t.sessions == nil {
		dir := cfg.SessionsDir
		if dir == "" {
			dir = session.DefaultDir()
		}
		t.sessions = session.NewDirStore(dir)
	}

	reg := tool.NewRegistry()
	if err := builtin.Register(reg, ws, func(o *builtin.Options) {
		o.Memory = t.memory
		o.ConfineReads = cfg.Tools.ConfineReads
	}); err != nil {
		return nil, fmt.Errorf("register builtin tools: %w", err)
	}
	if len(opts.Tools) > 0 {
		if err := reg.Register(opts.Tools...); err != nil {
			return nil, fmt.Errorf("register tools: %w", err)
		}
	}

	mode, err := cfg.ApprovalMode()
	if err != nil {
		return nil, err
	}

	sched := scheduler.New(reg, func(o *scheduler.Options) {
		o.MaxWorkers = cfg.Tools.MaxWorkers
		o.DefaultTimeout = cfg.Tools.DefaultTimeout
		o.ApprovalMode = mode
		o.Approver = opts.Approver
		o.DryRun = cfg.Tools.DryRun
		o.OnStateChange = opts.OnStateChange
		o.Logger = logging.WithComponent(opts.Logger, "scheduler")
		o.Metrics = t.metrics
	})

	loops := loopdetect.New(func(o *loopdetect.Options) {
		o.Threshold = cfg.Agent.LoopThreshold
		o.Window = cfg.Agent.LoopWindow
		o.Logger = logging.WithComponent(opts.Logger, "loopdetect")
	})

	if opts.Estimator == nil {
		opts.Estimator = newEstimator(cfg.Compression.Tokenizer)
	}
	hist := history.New(func(o *history.Options) {
		o.Estimator = opts.Estimator
	})

	engine := prompt.New(func(o *prompt.Options) {
		o.Workspace = ws.Root()
		o.Memory = t.memory
		o.Logger = logging.WithComponent(opts.Logger, "prompt")
	})

	var compressor *compress.Compressor
	if cfg.Compression.Enabled {
		compressor = compress.New(m, func(o *compress.Options) {
			o.TokenThreshold = cfg.Compression.TokenThreshold
			o.PreserveRecent = cfg.Compression.PreserveRecent
			o.Logger = logging.WithComponent(opts.Logger, "compress")
		})
	}

	t.agent = agent.New(m, reg, func(o *agent.Options) {
		o.MaxTurns = cfg.Agent.MaxTurns
		o.MaxToolCallsPerTurn = cfg.Agent.MaxToolCallsPerTurn
		o.MaxTotalToolCalls = cfg.Agent.MaxTotalToolCalls
		o.HaltOnLoop = cfg.Agent.HaltOnLoop
		o.RepairArguments = cfg.Agent.RepairArguments
		o.Debug = cfg.Debug
		o.History = hist
		o.PromptEngine = engine
		o.Scheduler = sched
		o.LoopDetector = loops
		o.Compressor = compressor
		o.Logger = logging.WithComponent(opts.Logger, "agent")
		o.Metrics = t.metrics
	})

	opts.Logger.Info("transcribetalk.ready",
		"provider", cfg.Provider,
		"model", m.Info().Name,
		"workspace", ws.Root(),
		"approval_mode", string(mode),
		"tools", reg.Len(),
	)

	return t, nil
}

// NewModel builds the completion model selected by cfg.Provider. Remote
// providers are wrapped with transient error retries.
func NewModel(cfg *config.Config, logger logging.Logger) (model.Model, error) {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}

	retry := func(o *model.RetryOptions) {
		o.MaxRetries = cfg.OpenAI.MaxRetries
		o.Logger = logger
	}

	switch cfg.Provider {
	case config.ProviderOpenAI:
		client := openaisdk.NewClient(openAIOptions(cfg)...)
		m := openaimodel.NewModelFromClient(&client, func(o *openaimodel.Options) {
			o.Model = cfg.OpenAI.Model
			o.Temperature = cfg.OpenAI.Temperature
			o.MaxCompletionTokens = int64(cfg.OpenAI.MaxTokens)
		})
		return model.WithRetry(m, retry), nil
	case config.ProviderAnthropic:
		m := anthropicmodel.NewModel(func(o *anthropicmodel.Options) {
			o.Model = anthropicsdk.Model(cfg.Anthropic.Model)
			o.MaxTokens = int64(cfg.Anthropic.MaxTokens)
			o.APIKey = cfg.Anthropic.APIKey
		})
		return model.WithRetry(m, retry), nil
	case config.ProviderMock:
		return model.NewMockModel("mock", config.ProviderMock), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
}

// NewSpeech builds the OpenAI transcription and synthesis client. Speech
// always uses the OpenAI credentials, whatever the completion provider.
func NewSpeech(cfg *config.Config, logger logging.Logger) (*speechopenai.Client, error) {
	if cfg.OpenAI.APIKey == "" {
		return nil, errors.New("speech requires openai.api_key (set OPENAI_API_KEY)")
	}
	if logger == nil {
		logger = logging.NoOpLogger{}
	}

	client := openaisdk.NewClient(openAIOptions(cfg)...)
	return speechopenai.NewFromClient(&client, func(o *speechopenai.Options) {
		if cfg.Speech.TranscriptionModel != "" {
			o.TranscriptionModel = cfg.Speech.TranscriptionModel
		}
		if cfg.Speech.SpeechModel != "" {
			o.SpeechModel = cfg.Speech.SpeechModel
		}
		if cfg.Speech.Voice != "" {
			o.Voice = cfg.Speech.Voice
		}
		if cfg.Speech.Format != "" {
			o.Format = cfg.Speech.Format
		}
		o.MaxRetries = cfg.OpenAI.MaxRetries
		o.Logger = logger
	}), nil
}

// NewLogger builds the logger described by cfg.Logging. The returned closer
// is non-nil when logs go to a file.
func NewLogger(cfg *config.Config) (logging.Logger, io.Closer, error) {
	lc := logging.DefaultLoggerConfig()
	lc.Level = cfg.LogLevel()
	if cfg.Debug {
		lc.Level = logging.LogLevelDebug
		lc.AddSource = true
	}
	if cfg.Logging.Format != "" {
		lc.Format = cfg.Logging.Format
	}

	var closer io.Closer
	if cfg.Logging.File != "" {
		f, err := os.OpenFile(cfg.Logging.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		lc.Output = f
		closer = f
	}

	return logging.NewLogger(lc), closer, nil
}

func newEstimator(tokenizer string) history.TokenEstimator {
	if tokenizer == config.TokenizerHeuristic {
		return history.HeuristicEstimator{}
	}
	return history.NewTiktokenEstimator()
}

func openAIOptions(cfg *config.Config) []option.RequestOption {
	// Retries are handled by model.WithRetry and the speech client.
	opts := []option.RequestOption{option.WithMaxRetries(0)}
	if cfg.OpenAI.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.OpenAI.APIKey))
	}
	if cfg.OpenAI.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.OpenAI.BaseURL))
	}
	return opts
}

// Agent returns the underlying agent.
func (t *TranscribeTalk) Agent() *agent.Agent { return t.agent }

// Config returns the configuration the instance was built from.
func (t *TranscribeTalk) Config() *config.Config { return t.cfg }

// Workspace returns the sandbox root used by the builtin tools.
func (t *TranscribeTalk) Workspace() *builtin.Workspace { return t.workspace }

// Memory returns the long-term memory store.
func (t *TranscribeTalk) Memory() memory.Store { return t.memory }

// Sessions returns the named conversation store.
func (t *TranscribeTalk) Sessions() session.Store { return t.sessions }

// SaveSession stores the current conversation under id.
func (t *TranscribeTalk) SaveSession(ctx context.Context, id string) error {
	var buf bytes.Buffer
	if err := t.agent.SaveConversation(&buf); err != nil {
		return err
	}
	return t.sessions.Save(ctx, id, buf.Bytes())
}

// ResumeSession replaces the conversation with the one stored under id.
// session.ErrNotFound is returned for unknown IDs.
func (t *TranscribeTalk) ResumeSession(ctx context.Context, id string) error {
	doc, err := t.sessions.Load(ctx, id)
	if err != nil {
		return err
	}
	return t.agent.LoadConversation(bytes.NewReader(doc))
}

// Metrics returns the collectors, or nil when metrics are disabled.
func (t *TranscribeTalk) Metrics() *metrics.Metrics { return t.metrics }

// Logger returns the logger every component was built with.
func (t *TranscribeTalk) Logger() logging.Logger { return t.logger }

// ConversationID returns the id attached to every log entry.
func (t *TranscribeTalk) ConversationID() string { return t.conversationID }

// Run processes one user input and streams its events.
func (t *TranscribeTalk) Run(ctx context.Context, input string) <-chan core.Event {
	return t.agent.Run(ctx, input)
}

// RunSync is a synchronous helper that drains Run and returns the final
// answer.
func (t *TranscribeTalk) RunSync(ctx context.Context, input string) (agent.Result, error) {
	return t.agent.RunSync(ctx, input)
}

// Close releases the log file, if any.
func (t *TranscribeTalk) Close() error {
	var errs []error
	for _, c := range t.closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}
