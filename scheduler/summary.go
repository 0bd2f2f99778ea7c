package scheduler

import (
	"time"

	"github.com/alexbeletsky/transcribe-talk/core"
)

// Summary aggregates the outcomes of every call the scheduler has handled.
type Summary struct {
	Total    int
	ByStatus map[core.ToolCallStatus]int
	// TimedOut counts cancelled results caused by a tool timeout.
	TimedOut        int
	AverageDuration time.Duration

	totalDuration time.Duration
	executed      int
}

// Summary returns a snapshot of the aggregated outcomes.
func (s *Scheduler) Summary() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := s.summary
	out.ByStatus = make(map[core.ToolCallStatus]int, len(s.summary.ByStatus))
	for k, v := range s.summary.ByStatus {
		out.ByStatus[k] = v
	}
	return out
}

// ResetSummary clears the aggregated outcomes.
func (s *Scheduler) ResetSummary() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.summary = Summary{ByStatus: map[core.ToolCallStatus]int{}}
}

func (s *Scheduler) record(res core.ToolCallResult) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.summary.Total++
	s.summary.ByStatus[res.Status]++
	if res.Duration > 0 {
		s.summary.executed++
		s.summary.totalDuration += res.Duration
		s.summary.AverageDuration = s.summary.totalDuration / time.Duration(s.summary.executed)
	}
}

func (s *Scheduler) markTimedOut() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.summary.TimedOut++
}
