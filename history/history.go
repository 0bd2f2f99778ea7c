package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/alexbeletsky/transcribe-talk/core"
)

// exportVersion is the version written by Export and accepted by Import.
const exportVersion = 1

// ErrInvalidMessage is returned when appending or importing a malformed message.
var ErrInvalidMessage = errors.New("invalid message")

// ErrInvalidRange is returned by ReplaceRange for out of bounds indices.
var ErrInvalidRange = errors.New("invalid range")

// Options configures a History.
type Options struct {
	Estimator TokenEstimator
}

// History is the ordered conversation log. It is safe for concurrent reads;
// writes are expected from a single owner.
type History struct {
	mu        sync.RWMutex
	messages  []core.Message
	estimator TokenEstimator
}

// New creates an empty History.
func New(optFns ...func(o *Options)) *History {
	opts := Options{Estimator: HeuristicEstimator{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Estimator == nil {
		opts.Estimator = HeuristicEstimator{}
	}
	return &History{estimator: opts.Estimator}
}

func validate(m core.Message) error {
	if !m.Role.Valid() {
		return fmt.Errorf("%w: unknown role %q", ErrInvalidMessage, m.Role)
	}
	if m.Role == core.RoleTool && m.ToolCallID == "" {
		return fmt.Errorf("%w: tool message without tool_call_id", ErrInvalidMessage)
	}
	if len(m.ToolCalls) > 0 && m.Role != core.RoleAssistant {
		return fmt.Errorf("%w: %s message with tool calls", ErrInvalidMessage, m.Role)
	}
	return nil
}

// Append adds messages to the end of the log. Either all messages are
// appended or none.
func (h *History) Append(msgs ...core.Message) error {
	for _, m := range msgs {
		if err := validate(m); err != nil {
			return err
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for _, m := range msgs {
		c := m.Clone()
		if c.Timestamp.IsZero() {
			c.Timestamp = time.Now().UTC()
		}
		h.messages = append(h.messages, c)
	}

	return nil
}

// Messages returns a copy of the full log.
func (h *History) Messages() []core.Message {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return cloneAll(h.messages)
}

// Len returns the number of messages.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.messages)
}

// Clear removes every message.
func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.messages = nil
}

// Curated returns the log without incomplete tool exchanges: an assistant
// message is dropped when any of its tool calls lacks a tool-role response,
// and tool responses whose originating call was dropped or never existed are
// removed as well. The receiver is not modified.
func (h *History) Curated() []core.Message {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return Curate(h.messages)
}

// Curate applies the curated projection to an arbitrary message slice.
func Curate(msgs []core.Message) []core.Message {
	responded := make(map[string]bool)
	for _, m := range msgs {
		if m.Role == core.RoleTool {
			responded[m.ToolCallID] = true
		}
	}

	valid := make(map[string]bool)
	complete := make([]bool, len(msgs))
	for i, m := range msgs {
		if !m.HasToolCalls() {
			continue
		}
		ok := true
		for _, tc := range m.ToolCalls {
			if !responded[tc.ID] {
				ok = false
				break
			}
		}
		complete[i] = ok
		if ok {
			for _, tc := range m.ToolCalls {
				valid[tc.ID] = true
			}
		}
	}

	out := make([]core.Message, 0, len(msgs))
	for i, m := range msgs {
		switch {
		case m.HasToolCalls() && !complete[i]:
			continue
		case m.Role == core.RoleTool && !valid[m.ToolCallID]:
			continue
		}
		out = append(out, m.Clone())
	}

	return out
}

// EstimateTokens returns the estimated token cost of the full log.
func (h *History) EstimateTokens() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return h.estimate(h.messages)
}

// EstimateRange returns the estimated token cost of messages[start:end].
func (h *History) EstimateRange(start, end int) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if start < 0 || end > len(h.messages) || start > end {
		return 0
	}
	return h.estimate(h.messages[start:end])
}

// Estimator returns the configured token estimator.
func (h *History) Estimator() TokenEstimator { return h.estimator }

func (h *History) estimate(msgs []core.Message) int {
	total := 0
	for _, m := range msgs {
		total += h.estimator.EstimateMessage(m)
	}
	return total
}

// ReplaceRange substitutes messages[start:end] with summary.
func (h *History) ReplaceRange(start, end int, summary core.Message) error {
	if err := validate(summary); err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if start < 0 || end > len(h.messages) || start >= end {
		return fmt.Errorf("%w: [%d,%d) of %d", ErrInvalidRange, start, end, len(h.messages))
	}

	s := summary.Clone()
	if s.Timestamp.IsZero() {
		s.Timestamp = time.Now().UTC()
	}

	next := make([]core.Message, 0, len(h.messages)-(end-start)+1)
	next = append(next, h.messages[:start]...)
	next = append(next, s)
	next = append(next, h.messages[end:]...)
	h.messages = next

	return nil
}

type exportDoc struct {
	Version    int            `json:"version"`
	ExportedAt time.Time      `json:"exported_at"`
	Messages   []core.Message `json:"messages"`
}

// Export serializes the log as JSON.
func (h *History) Export() ([]byte, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	msgs := h.messages
	if msgs == nil {
		msgs = []core.Message{}
	}
	return json.MarshalIndent(exportDoc{Version: exportVersion, ExportedAt: time.Now().UTC(), Messages: msgs}, "", "  ")
}

// Import replaces the log with a previously exported document.
func (h *History) Import(data []byte) error {
	var doc exportDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("decode history: %w", err)
	}
	if doc.Version != exportVersion {
		return fmt.Errorf("unsupported history version %d", doc.Version)
	}
	for i, m := range doc.Messages {
		if err := validate(m); err != nil {
			return fmt.Errorf("message %d: %w", i, err)
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.messages = cloneAll(doc.Messages)

	return nil
}

// Stats summarizes the log.
type Stats struct {
	Messages        int               `json:"messages"`
	ByRole          map[core.Role]int `json:"by_role"`
	EstimatedTokens int               `json:"estimated_tokens"`
	Oldest          time.Time         `json:"oldest,omitzero"`
	Newest          time.Time         `json:"newest,omitzero"`
}

// Summary reports counts per role, estimated tokens and the time span.
func (h *History) Summary() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	s := Stats{Messages: len(h.messages), ByRole: map[core.Role]int{}, EstimatedTokens: h.estimate(h.messages)}
	for _, m := range h.messages {
		s.ByRole[m.Role]++
	}
	if n := len(h.messages); n > 0 {
		s.Oldest = h.messages[0].Timestamp
		s.Newest = h.messages[n-1].Timestamp
	}
	return s
}

func cloneAll(msgs []core.Message) []core.Message {
	out := make([]core.Message, len(msgs))
	for i, m := range msgs {
		out[i] = m.Clone()
	}
	return out
}
