package history

import (
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/alexbeletsky/transcribe-talk/core"
)

// TokenEstimator estimates how many tokens a message costs in a request.
type TokenEstimator interface {
	EstimateMessage(m core.Message) int
}

// messageOverhead approximates per-message framing tokens (role, separators).
const messageOverhead = 10

// HeuristicEstimator estimates roughly four characters per token.
type HeuristicEstimator struct{}

// EstimateMessage implements TokenEstimator.
func (HeuristicEstimator) EstimateMessage(m core.Message) int {
	chars := len(m.Content) + len(m.Role) + messageOverhead
	for _, tc := range m.ToolCalls {
		chars += len(tc.ID) + len(tc.Name) + len(tc.Arguments)
	}
	if n := chars / 4; n > 0 {
		return n
	}
	return 1
}

// TiktokenEstimator counts tokens with the cl100k_base encoding. The encoding
// is loaded lazily on first use.
type TiktokenEstimator struct {
	once     sync.Once
	encoding *tiktoken.Tiktoken
	fallback HeuristicEstimator
}

// NewTiktokenEstimator creates an estimator backed by tiktoken.
func NewTiktokenEstimator() *TiktokenEstimator { return &TiktokenEstimator{} }

func (e *TiktokenEstimator) init() {
	e.once.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			e.encoding = enc
		}
	})
}

// Available reports whether the encoding loaded; otherwise the heuristic is used.
func (e *TiktokenEstimator) Available() bool {
	e.init()
	return e.encoding != nil
}

// EstimateMessage implements TokenEstimator.
func (e *TiktokenEstimator) EstimateMessage(m core.Message) int {
	e.init()
	if e.encoding == nil {
		return e.fallback.EstimateMessage(m)
	}
	n := 4 + e.count(string(m.Role)) + e.count(m.Content)
	for _, tc := range m.ToolCalls {
		n += e.count(tc.Name) + e.count(tc.Arguments) + 3
	}
	return n
}

func (e *TiktokenEstimator) count(s string) int {
	if strings.TrimSpace(s) == "" {
		return 0
	}
	return len(e.encoding.Encode(s, nil, nil))
}

var (
	_ TokenEstimator = HeuristicEstimator{}
	_ TokenEstimator = (*TiktokenEstimator)(nil)
)
