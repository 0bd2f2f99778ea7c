// Package metrics exposes Prometheus collectors describing agent activity:
// turns, tool executions, approvals, token usage and safety events.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/alexbeletsky/transcribe-talk/core"
)

const (
	namespace = "transcribe_talk"
	subsystem = "agent"
)

// Metrics groups the agent collectors. A nil *Metrics is valid and records
// nothing, so components can carry one unconditionally.
type Metrics struct {
	turns         *prometheus.CounterVec
	turnDuration  *prometheus.HistogramVec
	toolCalls     *prometheus.CounterVec
	toolDuration  *prometheus.HistogramVec
	toolsInFlight prometheus.Gauge
	approvals     *prometheus.CounterVec
	tokens        *prometheus.CounterVec
	loops         *prometheus.CounterVec
	compressions  *prometheus.CounterVec
	limits        *prometheus.CounterVec
}

// New registers the collectors with reg. A nil reg uses the default
// registerer. Collectors that are already registered are reused.
func New(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		turns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "turns_total",
			Help:      "Model turns by finish reason.",
		}, []string{"finish"}),
		turnDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "turn_duration_seconds",
			Help:      "Wall time of a single model turn.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"finish"}),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "tool_calls_total",
			Help:      "Tool executions by tool and terminal status.",
		}, []string{"tool", "status"}),
		toolDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "tool_duration_seconds",
			Help:      "Tool execution latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"tool"}),
		toolsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "tools_in_flight",
			Help:      "Tool bodies currently executing.",
		}),
		approvals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "tool_approvals_total",
			Help:      "Approval decisions by tool and outcome.",
		}, []string{"tool", "decision"}),
		tokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "tokens_total",
			Help:      "Tokens reported by the model.",
		}, []string{"kind"}),
		loops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "loops_detected_total",
			Help:      "Repeated identical tool calls that were blocked.",
		}, []string{"tool"}),
		compressions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "compressions_total",
			Help:      "History compression attempts by outcome.",
		}, []string{"outcome"}),
		limits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "safety_limits_total",
			Help:      "Safety limit breaches by limit name.",
		}, []string{"limit"}),
	}

	var err error
	if m.turns, err = register(reg, m.turns); err != nil {
		return nil, err
	}
	if m.turnDuration, err = register(reg, m.turnDuration); err != nil {
		return nil, err
	}
	if m.toolCalls, err = register(reg, m.toolCalls); err != nil {
		return nil, err
	}
	if m.toolDuration, err = register(reg, m.toolDuration); err != nil {
		return nil, err
	}
	if m.toolsInFlight, err = register(reg, m.toolsInFlight); err != nil {
		return nil, err
	}
	if m.approvals, err = register(reg, m.approvals); err != nil {
		return nil, err
	}
	if m.tokens, err = register(reg, m.tokens); err != nil {
		return nil, err
	}
	if m.loops, err = register(reg, m.loops); err != nil {
		return nil, err
	}
	if m.compressions, err = register(reg, m.compressions); err != nil {
		return nil, err
	}
	if m.limits, err = register(reg, m.limits); err != nil {
		return nil, err
	}

	return m, nil
}

// MustNew is like New but panics on registration errors.
func MustNew(reg prometheus.Registerer) *Metrics {
	m, err := New(reg)
	if err != nil {
		panic(err)
	}
	return m
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// Turn records a finished model turn.
func (m *Metrics) Turn(finish core.FinishReason, d time.Duration) {
	if m == nil {
		return
	}
	m.turns.WithLabelValues(string(finish)).Inc()
	m.turnDuration.WithLabelValues(string(finish)).Observe(d.Seconds())
}

// ToolCall records a tool execution outcome.
func (m *Metrics) ToolCall(tool string, status core.ToolCallStatus, d time.Duration) {
	if m == nil {
		return
	}
	m.toolCalls.WithLabelValues(tool, string(status)).Inc()
	if d > 0 {
		m.toolDuration.WithLabelValues(tool).Observe(d.Seconds())
	}
}

// ToolStarted increments the in-flight gauge. Pair with ToolDone.
func (m *Metrics) ToolStarted() {
	if m == nil {
		return
	}
	m.toolsInFlight.Inc()
}

// ToolDone decrements the in-flight gauge.
func (m *Metrics) ToolDone() {
	if m == nil {
		return
	}
	m.toolsInFlight.Dec()
}

// ToolApproval records a user approval decision.
func (m *Metrics) ToolApproval(tool string, approved bool) {
	if m == nil {
		return
	}
	decision := "denied"
	if approved {
		decision = "approved"
	}
	m.approvals.WithLabelValues(tool, decision).Inc()
}

// Tokens accumulates model usage.
func (m *Metrics) Tokens(u *core.Usage) {
	if m == nil || u == nil {
		return
	}
	m.tokens.WithLabelValues("prompt").Add(float64(u.PromptTokens))
	m.tokens.WithLabelValues("completion").Add(float64(u.CompletionTokens))
}

// LoopDetected records a blocked repeated call.
func (m *Metrics) LoopDetected(tool string) {
	if m == nil {
		return
	}
	m.loops.WithLabelValues(tool).Inc()
}

// Compression records a compression attempt. Outcome is one of
// "compressed", "skipped" or "failed".
func (m *Metrics) Compression(outcome string) {
	if m == nil {
		return
	}
	m.compressions.WithLabelValues(outcome).Inc()
}

// SafetyLimit records a breached limit.
func (m *Metrics) SafetyLimit(limit string) {
	if m == nil {
		return
	}
	m.limits.WithLabelValues(limit).Inc()
}
