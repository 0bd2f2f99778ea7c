package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	transcribetalk "github.com/alexbeletsky/transcribe-talk"
	"github.com/alexbeletsky/transcribe-talk/config"
	"github.com/alexbeletsky/transcribe-talk/logging"
	"github.com/alexbeletsky/transcribe-talk/scheduler"
)

const version = "0.2.0"

// cli holds flag values shared by every command.
type cli struct {
	configPath  string
	provider    string
	model       string
	voice       string
	autoConfirm bool
	dryRun      bool
	debug       bool
	logLevel    string
	logFile     string
	workspace   string
	metricsAddr string
	noColor     bool

	console *console
}

func newRootCommand() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:   "transcribe-talk",
		Short: "Voice and text conversations with a tool-using AI agent",
		Long: `transcribe-talk runs a conversational agent in your terminal.

The agent can list, read and write files in the workspace and keep notes in
long-term memory. Destructive tools ask for confirmation unless
--auto-confirm is set.

Examples:
  transcribe-talk                          # interactive chat (default)
  transcribe-talk once "summarize README"  # one-shot
  transcribe-talk once -i question.wav     # transcribe, answer, exit
  transcribe-talk config show              # effective configuration`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			c.console = newConsole(cmd.InOrStdin(), cmd.OutOrStdout(), c.noColor)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.runChat(cmd, chatFlags{})
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&c.configPath, "config", "c", "", "config file (default: ./transcribe-talk.yaml, ~/.config/transcribe-talk/config.yaml)")
	flags.StringVar(&c.provider, "provider", "", "completion provider: openai, anthropic or mock")
	flags.StringVarP(&c.model, "model", "m", "", "completion model override")
	flags.StringVar(&c.voice, "voice", "", "text-to-speech voice")
	flags.BoolVarP(&c.autoConfirm, "auto-confirm", "y", false, "run destructive tools without asking")
	flags.BoolVar(&c.dryRun, "dry-run", false, "describe tool calls instead of executing them")
	flags.BoolVarP(&c.debug, "debug", "d", false, "debug logging and raw model frames")
	flags.StringVar(&c.logLevel, "log-level", "", "log level: debug, info, warn or error")
	flags.StringVar(&c.logFile, "log-file", "", "write logs to a file instead of stderr")
	flags.StringVarP(&c.workspace, "workspace", "w", "", "workspace directory for file tools")
	flags.StringVar(&c.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9090")
	flags.BoolVar(&c.noColor, "no-color", false, "disable colored output")

	root.AddCommand(
		newChatCommand(c),
		newOnceCommand(c),
		newConfigCommand(c),
	)

	return root
}

// loadConfig resolves the configuration file, the environment and flag
// overrides, in that order.
func (c *cli) loadConfig() (*config.Config, error) {
	path, err := config.FindConfig(c.configPath)
	if err != nil {
		return nil, err
	}

	cfg := config.Default()
	if path != "" {
		if cfg, err = config.Load(path); err != nil {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
	}
	cfg.ApplyEnv()

	if c.provider != "" {
		cfg.Provider = c.provider
	}
	if c.model != "" {
		switch cfg.Provider {
		case config.ProviderAnthropic:
			cfg.Anthropic.Model = c.model
		default:
			cfg.OpenAI.Model = c.model
		}
	}
	if c.voice != "" {
		cfg.Speech.Voice = c.voice
	}
	if c.autoConfirm {
		cfg.Tools.AutoConfirm = true
	}
	if c.dryRun {
		cfg.Tools.DryRun = true
	}
	if c.debug {
		cfg.Debug = true
	}
	if c.logLevel != "" {
		cfg.Logging.Level = c.logLevel
	}
	if c.logFile != "" {
		cfg.Logging.File = c.logFile
	}
	if c.workspace != "" {
		cfg.Workspace = c.workspace
	}
	if c.metricsAddr != "" {
		cfg.Metrics.Listen = c.metricsAddr
	}

	return cfg, nil
}

// newApp builds the agent façade wired to the console. conversationID tags
// the logs and may be empty. The returned cleanup stops the metrics server
// and closes the log file.
func (c *cli) newApp(ctx context.Context, cfg *config.Config, conversationID string) (*transcribetalk.TranscribeTalk, func(), error) {
	logger, closer, err := transcribetalk.NewLogger(cfg)
	if err != nil {
		return nil, nil, err
	}

	var approver scheduler.Approver
	if c.console.interactive() {
		approver = newTTYApprover(c.console)
	}

	var reg *prometheus.Registry
	if cfg.Metrics.Listen != "" {
		reg = prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}

	app, err := transcribetalk.New(cfg, func(o *transcribetalk.Options) {
		o.Logger = logger
		o.ConversationID = conversationID
		o.Approver = approver
		if reg != nil {
			o.Registerer = reg
		}
		if cfg.Debug {
			o.OnStateChange = c.console.stateChange
		}
	})
	if err != nil {
		closeQuietly(closer)
		return nil, nil, err
	}

	stopMetrics := func() {}
	if reg != nil {
		stopMetrics, err = serveMetrics(ctx, cfg.Metrics.Listen, reg, logger)
		if err != nil {
			closeQuietly(closer)
			return nil, nil, err
		}
	}

	cleanup := func() {
		stopMetrics()
		closeQuietly(closer)
	}
	return app, cleanup, nil
}

func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry, logger logging.Logger) (func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listener: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics.serve_failed", "addr", addr, "error", err.Error())
		}
	}()
	logger.Info("metrics.listening", "addr", ln.Addr().String())

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}, nil
}

func closeQuietly(c io.Closer) {
	if c != nil {
		_ = c.Close()
	}
}
