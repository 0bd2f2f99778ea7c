// Package loopdetect catches a model repeating the same tool call.
//
// A Detector keeps a bounded, time-ordered window of (tool, argument hash)
// observations. Check records an observation and fails once the pair has been
// seen Threshold times inside Window. Entries older than Window are evicted on
// every call and the window never holds more than MaxEntries observations.
package loopdetect

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/alexbeletsky/transcribe-talk/core"
	"github.com/alexbeletsky/transcribe-talk/logging"
)

// Options configures a Detector.
type Options struct {
	// Threshold is the number of identical calls inside Window, including the
	// current one, that counts as a loop.
	Threshold int
	Window    time.Duration
	// MaxEntries caps the window size; the oldest entry is dropped first.
	MaxEntries int
	// Strict flags the first repetition.
	Strict bool
	Clock  func() time.Time
	Logger logging.Logger
}

type observation struct {
	key  string
	tool string
	hash string
	at   time.Time
}

// Stats summarizes what the detector has seen since the last Reset.
type Stats struct {
	TotalCalls     int            `json:"total_calls"`
	UniqueCalls    int            `json:"unique_calls"`
	RepeatedCalls  int            `json:"repeated_calls"`
	LoopsDetected  int            `json:"loops_detected"`
	ToolCounts     map[string]int `json:"tool_counts"`
	ActiveTracking int            `json:"active_tracking"`
}

// Detector is safe for concurrent use.
type Detector struct {
	opts Options

	mu      sync.Mutex
	window  []observation
	seen    map[string]bool
	total   int
	loops   int
	perTool map[string]int
}

// New creates a detector. Defaults: threshold 3 within 60s, 256 entries.
func New(optFns ...func(o *Options)) *Detector {
	opts := Options{
		Threshold:  3,
		Window:     60 * time.Second,
		MaxEntries: 256,
		Clock:      time.Now,
		Logger:     logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Strict {
		opts.Threshold = 2
	}
	if opts.Threshold < 1 {
		opts.Threshold = 1
	}
	if opts.MaxEntries < opts.Threshold {
		opts.MaxEntries = opts.Threshold
	}

	d := &Detector{opts: opts}
	d.resetLocked()
	return d
}

// Threshold returns the effective threshold.
func (d *Detector) Threshold() int { return d.opts.Threshold }

// Check records a call and returns *core.LoopDetectedError when the pair
// reached the threshold inside the window.
func (d *Detector) Check(tool string, args map[string]any) error {
	hash := HashArguments(args)
	key := tool + "\x00" + hash

	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.opts.Clock()
	d.evictLocked(now)

	d.window = append(d.window, observation{key: key, tool: tool, hash: hash, at: now})
	if len(d.window) > d.opts.MaxEntries {
		d.window = d.window[len(d.window)-d.opts.MaxEntries:]
	}
	d.total++
	d.perTool[tool]++
	d.seen[key] = true

	count := 0
	for _, o := range d.window {
		if o.key == key {
			count++
		}
	}
	if count < d.opts.Threshold {
		return nil
	}

	d.loops++
	d.opts.Logger.Warn("loopdetect.loop", "tool", tool, "args_hash", hash[:12], "occurrences", count, "window", d.opts.Window.String())

	return &core.LoopDetectedError{Tool: tool, ArgsHash: hash, Occurrences: count, Window: d.opts.Window}
}

// Len returns the number of observations inside the window.
func (d *Detector) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.evictLocked(d.opts.Clock())
	return len(d.window)
}

// Reset clears the window and statistics.
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.resetLocked()
}

// Stats returns a snapshot of call statistics.
func (d *Detector) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.evictLocked(d.opts.Clock())

	counts := make(map[string]int, len(d.perTool))
	for k, v := range d.perTool {
		counts[k] = v
	}
	return Stats{
		TotalCalls:     d.total,
		UniqueCalls:    len(d.seen),
		RepeatedCalls:  d.total - len(d.seen),
		LoopsDetected:  d.loops,
		ToolCounts:     counts,
		ActiveTracking: len(d.window),
	}
}

func (d *Detector) resetLocked() {
	d.window = nil
	d.seen = make(map[string]bool)
	d.perTool = make(map[string]int)
	d.total = 0
	d.loops = 0
}

func (d *Detector) evictLocked(now time.Time) {
	cutoff := now.Add(-d.opts.Window)
	i := 0
	for i < len(d.window) && d.window[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		d.window = append(d.window[:0:0], d.window[i:]...)
	}
}

// HashArguments returns the hex SHA-256 of the canonical JSON encoding of
// args. Map keys are sorted by encoding/json, so equal maps hash equally.
func HashArguments(args map[string]any) string {
	if args == nil {
		args = map[string]any{}
	}
	data, err := json.Marshal(args)
	if err != nil {
		data = []byte(fmt.Sprintf("%v", args))
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
