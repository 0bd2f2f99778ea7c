// Package compress keeps long conversations under a token budget by replacing
// the oldest part of the history with a model-written summary.
package compress

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/alexbeletsky/transcribe-talk/core"
	"github.com/alexbeletsky/transcribe-talk/history"
	"github.com/alexbeletsky/transcribe-talk/logging"
	"github.com/alexbeletsky/transcribe-talk/model"
)

const (
	// MetadataKind marks messages produced by the compressor.
	MetadataKind = "kind"
	// KindSummary is the MetadataKind value of a summary message.
	KindSummary = "summary"

	summaryPrefix = "Previous conversation summary:\n"
)

const summarySystemPrompt = "You are a helpful assistant that creates concise conversation summaries."

const summaryInstruction = `Please provide a concise summary of the following conversation.

Focus on:
1. Key topics discussed
2. Important decisions or conclusions
3. Any user preferences or context that should be remembered
4. Tool usage patterns or results

Keep the summary under 500 words.

Conversation:
%s

Summary:`

// Options configures a Compressor.
type Options struct {
	// TokenThreshold triggers compression when the history estimate exceeds it.
	TokenThreshold int
	// PreserveRecent is the number of newest messages never compressed.
	PreserveRecent int
	// MinCompressTokens skips prefixes too small to be worth summarizing.
	MinCompressTokens int
	// MaxMessageChars truncates each message in the summarization transcript.
	MaxMessageChars int
	Temperature     float64
	MaxTokens       int
	Logger          logging.Logger
}

// Result describes one Compress call.
type Result struct {
	Compressed     bool   `json:"compressed"`
	SkipReason     string `json:"skip_reason,omitempty"`
	MessagesBefore int    `json:"messages_before"`
	MessagesAfter  int    `json:"messages_after"`
	TokensBefore   int    `json:"tokens_before"`
	TokensAfter    int    `json:"tokens_after"`
	Summary        string `json:"summary,omitempty"`
}

// Compressor summarizes history prefixes through a model.
type Compressor struct {
	model model.Model
	opts  Options
}

// New creates a compressor. Defaults: threshold 6000 tokens, 10 preserved
// messages, prefixes under 1000 tokens skipped.
func New(m model.Model, optFns ...func(o *Options)) *Compressor {
	opts := Options{
		TokenThreshold:    6000,
		PreserveRecent:    10,
		MinCompressTokens: 1000,
		MaxMessageChars:   500,
		Temperature:       0.3,
		MaxTokens:         600,
		Logger:            logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.PreserveRecent < 0 {
		opts.PreserveRecent = 0
	}

	return &Compressor{model: m, opts: opts}
}

// Options returns the effective configuration.
func (c *Compressor) Options() Options { return c.opts }

// ShouldCompress reports whether the history estimate exceeds the threshold.
func (c *Compressor) ShouldCompress(h *history.History) bool {
	return h.EstimateTokens() > c.opts.TokenThreshold
}

// Boundary returns the index splitting msgs into the compressible prefix
// msgs[:i] and the preserved tail. The tail holds at least PreserveRecent
// messages and never starts inside a tool exchange.
func (c *Compressor) Boundary(msgs []core.Message) int {
	end := len(msgs) - c.opts.PreserveRecent
	if end <= 0 {
		return 0
	}
	for end > 0 && end < len(msgs) && msgs[end].Role == core.RoleTool {
		end--
	}
	return end
}

// IsSummary reports whether m was produced by a Compressor.
func IsSummary(m core.Message) bool {
	return m.Role == core.RoleSystem && m.Metadata[MetadataKind] == KindSummary
}

// Compress summarizes the prefix when the history is over the threshold.
// A skipped compression returns a Result with SkipReason and no error.
// Summarization failures wrap core.ErrCompressionFailed and leave h untouched.
func (c *Compressor) Compress(ctx context.Context, h *history.History) (Result, error) {
	msgs := h.Messages()
	res := Result{
		MessagesBefore: len(msgs),
		MessagesAfter:  len(msgs),
		TokensBefore:   h.EstimateTokens(),
	}
	res.TokensAfter = res.TokensBefore

	if res.TokensBefore <= c.opts.TokenThreshold {
		res.SkipReason = "below threshold"
		return res, nil
	}

	end := c.Boundary(msgs)
	prefix := msgs[:end]
	switch {
	case end == 0:
		res.SkipReason = "not enough messages"
		return res, nil
	case len(prefix) == 1 && IsSummary(prefix[0]):
		res.SkipReason = "already summarized"
		return res, nil
	}
	if tokens := h.EstimateRange(0, end); tokens < c.opts.MinCompressTokens {
		res.SkipReason = fmt.Sprintf("prefix too small (%d tokens)", tokens)
		return res, nil
	}

	defer logging.StartTimer(c.opts.Logger, "compress.summarize")()

	start := time.Now()
	summary, err := c.summarize(ctx, prefix)
	if err != nil {
		c.opts.Logger.Warn("compress.failed", "error", err.Error(), "messages", len(prefix))
		return res, fmt.Errorf("%w: %w", core.ErrCompressionFailed, err)
	}

	msg := core.NewSystemMessage(summaryPrefix + summary).WithMetadata(MetadataKind, KindSummary)
	msg.Timestamp = prefix[0].Timestamp
	if err := h.ReplaceRange(0, end, msg); err != nil {
		return res, fmt.Errorf("%w: %w", core.ErrCompressionFailed, err)
	}

	res.Compressed = true
	res.Summary = summary
	res.MessagesAfter = h.Len()
	res.TokensAfter = h.EstimateTokens()

	c.opts.Logger.Info("compress.done",
		"messages_before", res.MessagesBefore,
		"messages_after", res.MessagesAfter,
		"tokens_before", res.TokensBefore,
		"tokens_after", res.TokensAfter,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return res, nil
}

func (c *Compressor) summarize(ctx context.Context, prefix []core.Message) (string, error) {
	temp := c.opts.Temperature
	req := model.Request{
		Messages: []core.Message{
			core.NewSystemMessage(summarySystemPrompt),
			core.NewUserMessage(fmt.Sprintf(summaryInstruction, c.Transcript(prefix))),
		},
		Temperature: &temp,
		MaxTokens:   c.opts.MaxTokens,
	}

	out, err := model.Collect(ctx, c.model, req)
	if err != nil {
		return "", err
	}
	summary := strings.TrimSpace(out.Text)
	if summary == "" {
		return "", fmt.Errorf("empty summary")
	}
	return summary, nil
}

// Transcript renders messages as plain text for summarization. System
// messages are skipped unless they are earlier summaries.
func (c *Compressor) Transcript(msgs []core.Message) string {
	parts := make([]string, 0, len(msgs))
	for _, m := range msgs {
		var line string
		switch {
		case IsSummary(m):
			line = "Earlier summary: " + strings.TrimPrefix(m.Content, summaryPrefix)
		case m.Role == core.RoleSystem:
			continue
		case m.Role == core.RoleTool:
			line = fmt.Sprintf("Tool (%s): %s", m.Name, truncate(m.Content, c.opts.MaxMessageChars))
		case m.HasToolCalls():
			calls := make([]string, 0, len(m.ToolCalls))
			for _, tc := range m.ToolCalls {
				calls = append(calls, fmt.Sprintf("%s(%s)", tc.Name, tc.Arguments))
			}
			line = "Assistant: "
			if m.Content != "" {
				line += truncate(m.Content, c.opts.MaxMessageChars) + " "
			}
			line += "[called " + strings.Join(calls, ", ") + "]"
		default:
			line = fmt.Sprintf("%s: %s", roleLabel(m.Role), truncate(m.Content, c.opts.MaxMessageChars))
		}
		parts = append(parts, line)
	}
	return strings.Join(parts, "\n\n")
}

func roleLabel(r core.Role) string {
	s := string(r)
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func truncate(s string, max int) string {
	if max <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "..."
}
