// Package turn runs one request/response exchange with a model and classifies
// its stream into events.
//
// A Turn never touches history and never executes tools. It forwards text as
// Content events, reasoning as Thought events and assembles tool call
// fragments into ToolCallRequest events once their arguments form a JSON
// object, consulting the loop detector first. Every Turn ends with exactly
// one terminal event (Finished or Error) unless its context is cancelled, in
// which case the channel is closed without one.
package turn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kaptinlin/jsonrepair"

	"github.com/alexbeletsky/transcribe-talk/core"
	"github.com/alexbeletsky/transcribe-talk/logging"
	"github.com/alexbeletsky/transcribe-talk/loopdetect"
	"github.com/alexbeletsky/transcribe-talk/model"
)

// Options configures a Turn.
type Options struct {
	// TurnID identifies the turn in events. Generated when empty.
	TurnID string
	// LoopDetector gates tool call requests. Nil disables loop detection.
	LoopDetector *loopdetect.Detector
	// RepairArguments runs unparsable arguments through jsonrepair before
	// declaring the call malformed.
	RepairArguments bool
	// Debug emits raw model frames as Debug events.
	Debug  bool
	Logger logging.Logger
}

// Turn is single use.
type Turn struct {
	model model.Model
	opts  Options
}

// New creates a turn bound to m.
func New(m model.Model, optFns ...func(o *Options)) *Turn {
	opts := Options{
		Logger: logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.TurnID == "" {
		opts.TurnID = core.NewID()
	}

	return &Turn{model: m, opts: opts}
}

// ID returns the turn id.
func (t *Turn) ID() string { return t.opts.TurnID }

// Run starts the exchange. The returned channel is unbuffered so a slow
// consumer throttles stream consumption; it is closed after the terminal
// event or when ctx is cancelled.
func (t *Turn) Run(ctx context.Context, req model.Request) <-chan core.Event {
	out := make(chan core.Event)

	go func() {
		defer close(out)

		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		r := &run{
			turn:    t,
			ctx:     ctx,
			out:     out,
			pending: make(map[int]*pending),
			ids:     make(map[string]bool),
		}
		r.execute(req)
	}()

	return out
}

type pending struct {
	index   int
	id      string
	name    string
	args    strings.Builder
	emitted bool
}

type run struct {
	turn *Turn
	ctx  context.Context
	out  chan<- core.Event

	pending map[int]*pending
	order   []int
	next    int
	ids     map[string]bool

	requests     int
	finishReason string
	usage        *core.Usage
}

func (r *run) logger() logging.Logger { return r.turn.opts.Logger }

func (r *run) id() string { return r.turn.opts.TurnID }

func (r *run) tokens() int {
	if r.usage == nil {
		return 0
	}
	return r.usage.TotalTokens
}

func (r *run) emit(ev core.Event) bool {
	select {
	case <-r.ctx.Done():
		return false
	case r.out <- ev:
		return true
	}
}

func (r *run) execute(req model.Request) {
	start := time.Now()
	r.logger().Debug("turn.start", "turn_id", r.id(), "messages", len(req.Messages), "tools", len(req.Tools))

	respCh, errCh := r.turn.model.Generate(r.ctx, req)

	var streamErr error
	for respCh != nil || errCh != nil {
		select {
		case <-r.ctx.Done():
			r.logger().Debug("turn.cancelled", "turn_id", r.id())
			return
		case err, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			if err != nil && streamErr == nil {
				streamErr = err
			}
		case resp, ok := <-respCh:
			if !ok {
				respCh = nil
				continue
			}
			if done := r.handle(resp); done {
				return
			}
		}
	}

	if streamErr != nil {
		if r.ctx.Err() != nil {
			return
		}
		logging.LogLLMCall(r.logger(), r.turn.model.Info().Name, r.tokens(), time.Since(start), streamErr)
		r.emit(core.NewErrorEvent(r.id(), core.ErrorKindService, streamErr, errors.Is(streamErr, core.ErrTransientService)))
		return
	}

	if done := r.flush(); done {
		return
	}

	reason := r.finish()
	logging.LogLLMCall(r.logger(), r.turn.model.Info().Name, r.tokens(), time.Since(start), nil)
	r.logger().Debug("turn.finished", "turn_id", r.id(), "reason", string(reason), "tool_calls", r.requests, "duration_ms", time.Since(start).Milliseconds())
	r.emit(core.NewFinishedEvent(r.id(), reason, r.usage))
}

// handle processes one chunk. It returns true when the turn has ended.
func (r *run) handle(resp model.Response) bool {
	if r.turn.opts.Debug && resp.Raw != nil {
		if !r.emit(core.NewDebugEvent(r.id(), resp.Raw)) {
			return true
		}
	}
	if resp.Thought != "" {
		if !r.emit(core.NewThoughtEvent(r.id(), resp.Thought)) {
			return true
		}
	}
	if resp.Text != "" {
		if !r.emit(core.NewContentEvent(r.id(), resp.Text)) {
			return true
		}
	}

	for _, d := range resp.ToolCalls {
		p, ok := r.pending[d.Index]
		if !ok {
			p = &pending{index: d.Index}
			r.pending[d.Index] = p
			r.order = append(r.order, d.Index)
		}
		if p.emitted {
			if strings.TrimSpace(d.Arguments) != "" {
				r.logger().Warn("turn.fragment_after_complete", "turn_id", r.id(), "index", d.Index)
			}
			continue
		}
		if d.ID != "" && p.id == "" {
			p.id = d.ID
		}
		if d.Name != "" {
			p.name = d.Name
		}
		p.args.WriteString(d.Arguments)
	}

	if resp.FinishReason != "" {
		r.finishReason = resp.FinishReason
	}
	if resp.Usage != nil {
		u := *resp.Usage
		r.usage = &u
	}

	return r.emitReady()
}

// emitReady surfaces complete calls in first-seen index order. It stops at
// the first call whose arguments are still incomplete.
func (r *run) emitReady() bool {
	for r.next < len(r.order) {
		p := r.pending[r.order[r.next]]
		if p.name == "" {
			return false
		}
		args, ok := parseObject(p.args.String())
		if !ok {
			return false
		}
		if done := r.surface(p, args, p.args.String()); done {
			return true
		}
		r.next++
	}
	return false
}

// flush resolves calls still buffered when the stream ends.
func (r *run) flush() bool {
	for ; r.next < len(r.order); r.next++ {
		p := r.pending[r.order[r.next]]
		raw := strings.TrimSpace(p.args.String())
		if raw == "" {
			raw = "{}"
		}

		args, ok := parseObject(raw)
		if !ok && r.turn.opts.RepairArguments {
			if repaired, err := jsonrepair.JSONRepair(raw); err == nil {
				if args, ok = parseObject(repaired); ok {
					r.logger().Info("turn.arguments_repaired", "turn_id", r.id(), "tool", p.name)
					raw = repaired
				}
			}
		}

		if !ok || p.name == "" {
			err := fmt.Errorf("%w: incomplete tool call at index %d (tool %q): %q", core.ErrMalformedStream, p.index, p.name, truncate(p.args.String(), 200))
			r.logger().Warn("turn.malformed_tool_call", "turn_id", r.id(), "index", p.index, "tool", p.name)
			r.emit(core.NewErrorEvent(r.id(), core.ErrorKindMalformed, err, true))
			return true
		}

		if done := r.surface(p, args, raw); done {
			return true
		}
	}
	return false
}

// surface runs the loop check and emits the request. It returns true when the
// turn has ended.
func (r *run) surface(p *pending, args map[string]any, raw string) bool {
	p.emitted = true

	id := p.id
	if id == "" || r.ids[id] {
		id = "call_" + core.NewID()
	}
	r.ids[id] = true

	req := core.ToolCallRequest{
		ID:           id,
		Name:         p.name,
		Arguments:    args,
		RawArguments: raw,
		TurnID:       r.id(),
	}

	if d := r.turn.opts.LoopDetector; d != nil {
		if err := d.Check(req.Name, req.Arguments); err != nil {
			ev := core.NewErrorEvent(r.id(), core.ErrorKindLoopDetected, err, true)
			ev.Error.Call = &req
			r.emit(ev)
			return true
		}
	}

	r.requests++
	return !r.emit(core.NewToolCallRequestEvent(req))
}

func (r *run) finish() core.FinishReason {
	if r.requests > 0 {
		return core.FinishToolCalls
	}
	switch r.finishReason {
	case model.FinishLength:
		return core.FinishLength
	case model.FinishContentFilter:
		return core.FinishFiltered
	default:
		return core.FinishDone
	}
}

func parseObject(raw string) (map[string]any, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw[0] != '{' {
		return nil, false
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, false
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, true
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "..."
}
