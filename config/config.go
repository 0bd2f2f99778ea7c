// Package config handles TranscribeTalk configuration loading.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/alexbeletsky/transcribe-talk/logging"
	"github.com/alexbeletsky/transcribe-talk/scheduler"
)

// Supported completion providers.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderMock      = "mock"
)

// DefaultSearchPaths returns the config file search order:
// ./transcribe-talk.yaml, ~/.config/transcribe-talk/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"transcribe-talk.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "transcribe-talk", "config.yaml"))
	}

	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise the first existing DefaultSearchPaths entry is returned, or ""
// when there is none; running without a file is valid.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", nil
}

// Config holds all TranscribeTalk configuration. It is built once at startup
// and passed into constructors.
type Config struct {
	Provider    string            `yaml:"provider"`
	OpenAI      OpenAIConfig      `yaml:"openai"`
	Anthropic   AnthropicConfig   `yaml:"anthropic"`
	Speech      SpeechConfig      `yaml:"speech"`
	Agent       AgentConfig       `yaml:"agent"`
	Tools       ToolsConfig       `yaml:"tools"`
	Compression CompressionConfig `yaml:"compression"`
	Workspace   string            `yaml:"workspace"`
	MemoryFile  string            `yaml:"memory_file"`
	SessionsDir string            `yaml:"sessions_dir"`
	Logging     LoggingConfig     `yaml:"logging"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Debug       bool              `yaml:"debug"`
}

// OpenAIConfig defines OpenAI API settings.
type OpenAIConfig struct {
	APIKey      string  `yaml:"api_key"`
	BaseURL     string  `yaml:"base_url"`
	Model       string  `yaml:"model"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
	MaxRetries  uint64  `yaml:"max_retries"`
}

// AnthropicConfig defines Anthropic API settings.
type AnthropicConfig struct {
	APIKey    string `yaml:"api_key"`
	Model     string `yaml:"model"`
	MaxTokens int    `yaml:"max_tokens"`
}

// SpeechConfig defines transcription and synthesis settings. Both use the
// OpenAI credentials.
type SpeechConfig struct {
	TranscriptionModel string  `yaml:"transcription_model"`
	SpeechModel        string  `yaml:"speech_model"`
	Voice              string  `yaml:"voice"`
	Format             string  `yaml:"format"`
	Language           string  `yaml:"language"`
	Speed              float64 `yaml:"speed"`
}

// AgentConfig defines the orchestration safety bounds.
type AgentConfig struct {
	MaxTurns            int  `yaml:"max_turns"`
	MaxToolCallsPerTurn int  `yaml:"max_tool_calls_per_turn"`
	MaxTotalToolCalls   int  `yaml:"max_total_tool_calls"`
	HaltOnLoop          bool `yaml:"halt_on_loop"`
	LoopThreshold       int  `yaml:"loop_threshold"`
	// LoopWindow bounds how far back identical calls are remembered.
	LoopWindow      time.Duration `yaml:"loop_window"`
	RepairArguments bool          `yaml:"repair_arguments"`
}

// ToolsConfig defines tool execution settings.
type ToolsConfig struct {
	// AutoConfirm skips every approval prompt. It overrides ApprovalMode.
	AutoConfirm    bool          `yaml:"auto_confirm"`
	ApprovalMode   string        `yaml:"approval_mode"`
	DryRun         bool          `yaml:"dry_run"`
	MaxWorkers     int           `yaml:"max_workers"`
	DefaultTimeout time.Duration `yaml:"default_timeout"`
	// ConfineReads rejects reads outside the workspace instead of warning.
	ConfineReads bool `yaml:"confine_reads"`
}

// CompressionConfig defines history compression.
type CompressionConfig struct {
	Enabled        bool `yaml:"enabled"`
	TokenThreshold int  `yaml:"token_threshold"`
	PreserveRecent int  `yaml:"preserve_recent"`
	// Tokenizer selects history token counting: tiktoken or heuristic.
	Tokenizer string `yaml:"tokenizer"`
}

// Token counting strategies.
const (
	TokenizerTiktoken  = "tiktoken"
	TokenizerHeuristic = "heuristic"
)

// LoggingConfig defines log output.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// MetricsConfig defines the Prometheus endpoint. Empty Listen disables it.
type MetricsConfig struct {
	Listen string `yaml:"listen"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Provider: ProviderOpenAI,
		OpenAI: OpenAIConfig{
			Model:       "gpt-4o-mini",
			MaxTokens:   1024,
			Temperature: 0.7,
			MaxRetries:  3,
		},
		Anthropic: AnthropicConfig{
			Model:     "claude-3-5-haiku-latest",
			MaxTokens: 1024,
		},
		Speech: SpeechConfig{
			TranscriptionModel: "whisper-1",
			SpeechModel:        "tts-1",
			Voice:              "alloy",
			Format:             "mp3",
		},
		Agent: AgentConfig{
			MaxTurns:            20,
			MaxToolCallsPerTurn: 5,
			MaxTotalToolCalls:   50,
			HaltOnLoop:          true,
			LoopThreshold:       3,
			LoopWindow:          60 * time.Second,
		},
		Tools: ToolsConfig{
			ApprovalMode:   string(scheduler.ApprovalSmart),
			MaxWorkers:     4,
			DefaultTimeout: 30 * time.Second,
		},
		Compression: CompressionConfig{
			Enabled:        true,
			TokenThreshold: 6000,
			PreserveRecent: 10,
			Tokenizer:      TokenizerTiktoken,
		},
		Workspace: ".",
		Logging: LoggingConfig{
			Level:  "warn",
			Format: "text",
		},
	}
}

// Load reads configuration from a YAML file on top of Default. ${VAR}
// references are expanded from the environment before parsing.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	return Parse(data)
}

// Parse decodes YAML configuration on top of Default.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return cfg, nil
}

// ApplyEnv fills unset credentials from OPENAI_API_KEY, OPENAI_BASE_URL and
// ANTHROPIC_API_KEY.
func (c *Config) ApplyEnv() {
	if c.OpenAI.APIKey == "" {
		c.OpenAI.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if c.OpenAI.BaseURL == "" {
		c.OpenAI.BaseURL = os.Getenv("OPENAI_BASE_URL")
	}
	if c.Anthropic.APIKey == "" {
		c.Anthropic.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	}
}

// ApprovalMode resolves the effective approval mode. AutoConfirm wins over
// the configured mode.
func (c *Config) ApprovalMode() (scheduler.ApprovalMode, error) {
	if c.Tools.AutoConfirm {
		return scheduler.ApprovalNever, nil
	}
	return scheduler.ParseApprovalMode(c.Tools.ApprovalMode)
}

// LogLevel returns the parsed logging level.
func (c *Config) LogLevel() logging.LogLevel {
	return logging.ParseLevel(c.Logging.Level)
}

// Validate reports every configuration problem at once.
func (c *Config) Validate() error {
	var errs []error

	switch c.Provider {
	case ProviderOpenAI:
		if c.OpenAI.APIKey == "" {
			errs = append(errs, errors.New("openai.api_key is required (set OPENAI_API_KEY)"))
		}
		if c.OpenAI.Model == "" {
			errs = append(errs, errors.New("openai.model is required"))
		}
	case ProviderAnthropic:
		if c.Anthropic.APIKey == "" {
			errs = append(errs, errors.New("anthropic.api_key is required (set ANTHROPIC_API_KEY)"))
		}
		if c.Anthropic.Model == "" {
			errs = append(errs, errors.New("anthropic.model is required"))
		}
	case ProviderMock:
	default:
		errs = append(errs, fmt.Errorf("unknown provider %q (want %s, %s or %s)", c.Provider, ProviderOpenAI, ProviderAnthropic, ProviderMock))
	}

	if t := c.OpenAI.Temperature; t < 0 || t > 2 {
		errs = append(errs, fmt.Errorf("openai.temperature must be within [0, 2], got %g", t))
	}
	if c.Agent.MaxTurns < 0 {
		errs = append(errs, errors.New("agent.max_turns must not be negative"))
	}
	if c.Agent.MaxToolCallsPerTurn < 0 {
		errs = append(errs, errors.New("agent.max_tool_calls_per_turn must not be negative"))
	}
	if c.Agent.LoopThreshold < 2 {
		errs = append(errs, errors.New("agent.loop_threshold must be at least 2"))
	}
	if c.Agent.LoopWindow <= 0 {
		errs = append(errs, errors.New("agent.loop_window must be positive"))
	}
	if _, err := c.ApprovalMode(); err != nil {
		errs = append(errs, fmt.Errorf("tools.approval_mode: %w", err))
	}
	if c.Tools.MaxWorkers < 1 {
		errs = append(errs, errors.New("tools.max_workers must be at least 1"))
	}
	if c.Tools.DefaultTimeout <= 0 {
		errs = append(errs, errors.New("tools.default_timeout must be positive"))
	}
	if c.Compression.Enabled && c.Compression.TokenThreshold <= 0 {
		errs = append(errs, errors.New("compression.token_threshold must be positive"))
	}
	if c.Compression.PreserveRecent < 0 {
		errs = append(errs, errors.New("compression.preserve_recent must not be negative"))
	}
	switch c.Compression.Tokenizer {
	case "", TokenizerTiktoken, TokenizerHeuristic:
	default:
		errs = append(errs, fmt.Errorf("compression.tokenizer must be %s or %s, got %q", TokenizerTiktoken, TokenizerHeuristic, c.Compression.Tokenizer))
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format))
	}

	return errors.Join(errs...)
}

// Write renders c as YAML with credentials masked.
func (c *Config) Write(w io.Writer) error {
	masked := *c
	masked.OpenAI.APIKey = mask(c.OpenAI.APIKey)
	masked.Anthropic.APIKey = mask(c.Anthropic.APIKey)

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(&masked); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return enc.Close()
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 8 {
		return "****"
	}
	return secret[:4] + "****" + secret[len(secret)-4:]
}
