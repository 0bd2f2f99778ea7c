package core

import (
	"sync"
)

// Limiter enforces a maximum count (turns, tool calls) per scope.
type Limiter struct {
	name  string
	max   int
	count int
	mu    sync.Mutex
}

// NewLimiter creates a limiter. If max < 0, the limit is disabled.
// A max of 0 allows nothing.
func NewLimiter(name string, max int) *Limiter {
	return &Limiter{name: name, max: max}
}

// Allow reports whether n more units fit without consuming them.
func (l *Limiter) Allow(n int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.max < 0 || l.count+n <= l.max
}

// Add consumes n units and returns a *SafetyLimitError if that exceeds the
// limit. Units are not consumed on failure.
func (l *Limiter) Add(n int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.max >= 0 && l.count+n > l.max {
		return &SafetyLimitError{Limit: l.name, Max: l.max}
	}
	l.count += n

	return nil
}

// Count returns the consumed units.
func (l *Limiter) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.count
}

// Remaining returns how many units are left, or -1 when unlimited.
func (l *Limiter) Remaining() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.max < 0 {
		return -1
	}

	return l.max - l.count
}

// Reset clears the counter.
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.count = 0
}
