package agent

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/alexbeletsky/transcribe-talk/core"
	"github.com/alexbeletsky/transcribe-talk/logging"
	"github.com/alexbeletsky/transcribe-talk/turn"
)

// Run processes one user input and streams the cycle's events. Content and
// Thought events are forwarded as they arrive. The channel is unbuffered and
// closed when the cycle ends; the last event is either Finished or an Error.
// A recoverable Error (loop detected with HaltOnLoop disabled) may be followed
// by further events.
func (a *Agent) Run(ctx context.Context, input string) <-chan core.Event {
	out := make(chan core.Event)

	go func() {
		defer close(out)

		a.mu.Lock()
		defer a.mu.Unlock()

		c := &cycle{agent: a, ctx: ctx, out: out, id: core.NewID()}
		c.run(input)
	}()

	return out
}

type cycle struct {
	agent *Agent
	ctx   context.Context
	out   chan<- core.Event
	id    string
	usage core.Usage
}

// turnOutcome is what the agent learned from consuming one turn.
type turnOutcome struct {
	id       string
	text     strings.Builder
	requests []core.ToolCallRequest
	finish   core.FinishReason
	usage    *core.Usage
	err      *core.Event
	// breach is set when a tool call limit stopped consumption early.
	breach error
	// blocked is the call rejected by the loop detector.
	blocked *core.ToolCallRequest
}

func (c *cycle) emit(ev core.Event) bool {
	select {
	case <-c.ctx.Done():
		return false
	case c.out <- ev:
		return true
	}
}

// tryEmit delivers ev only if the consumer is ready. Used after cancellation.
func (c *cycle) tryEmit(ev core.Event) {
	select {
	case c.out <- ev:
	default:
	}
}

func (c *cycle) run(input string) {
	a := c.agent
	log := a.opts.Logger
	start := time.Now()

	a.updateStats(func(s *Stats) { s.Inputs++ })
	if a.opts.ResetLoopPerInput {
		a.loops.Reset()
	}

	if err := a.history.Append(core.NewUserMessage(input)); err != nil {
		c.emit(core.NewErrorEvent("", core.ErrorKindService, err, false))
		return
	}

	log.Info("agent.cycle.start", "cycle_id", c.id, "history", a.history.Len())

	turns := core.NewLimiter(LimitTurns, a.opts.MaxTurns)

	for index := 0; ; index++ {
		if err := turns.Add(1); err != nil {
			c.limitReached("", err)
			c.finishCycle(start)
			return
		}

		o, ok := c.runTurn(index)
		if !ok {
			c.interrupted(o)
			return
		}

		switch {
		case o.breach != nil:
			c.closeRequests(o, o.breach.Error())
			c.limitReached(o.id, o.breach)
			c.finishCycle(start)
			return

		case o.err != nil && o.err.Error.Kind == core.ErrorKindLoopDetected:
			if !c.handleLoop(o) {
				c.finishCycle(start)
				return
			}
			continue

		case o.err != nil:
			c.closeRequests(o, "turn failed: "+o.err.Error.Message)
			c.emit(*o.err)
			c.finishCycle(start)
			return

		case len(o.requests) == 0:
			if err := a.history.Append(core.NewAssistantMessage(o.text.String())); err != nil {
				log.Error("agent.history.append_failed", "error", err.Error())
			}
			c.emit(core.NewFinishedEvent(o.id, o.finish, c.usagePtr()))
			c.finishCycle(start)
			return
		}

		if !c.executeBatch(o, nil, nil) {
			return
		}
	}
}

// runTurn starts a turn and consumes it. ok is false when ctx was cancelled.
func (c *cycle) runTurn(index int) (*turnOutcome, bool) {
	a := c.agent

	req, err := a.prompt.BuildRequest(c.ctx, a.history, a.registry.Declarations())
	if err != nil {
		ev := core.NewErrorEvent("", core.ErrorKindService, err, false)
		return &turnOutcome{err: &ev}, c.ctx.Err() == nil
	}
	req.Temperature = a.opts.Temperature
	req.MaxTokens = a.opts.MaxTokens

	turnCtx, cancel := context.WithCancel(c.ctx)
	defer cancel()

	t := turn.New(a.model, func(o *turn.Options) {
		o.LoopDetector = a.loops
		o.RepairArguments = a.opts.RepairArguments
		o.Debug = a.opts.Debug
		o.Logger = logging.WithComponent(a.opts.Logger, "turn")
	})

	o := &turnOutcome{id: t.ID()}
	start := time.Now()
	a.updateStats(func(s *Stats) { s.Turns++ })

	for ev := range t.Run(turnCtx, req) {
		switch ev.Type {
		case core.EventContent:
			o.text.WriteString(ev.Text)
		case core.EventToolCallRequest:
			o.requests = append(o.requests, *ev.ToolCall)
			if err := c.checkCallLimits(len(o.requests)); err != nil {
				o.breach = err
				c.emit(ev)
				cancel()
				continue
			}
		case core.EventFinished:
			o.finish = ev.FinishReason
			o.usage = ev.Usage
			continue
		case core.EventError:
			e := ev
			o.err = &e
			if ev.Error.Kind == core.ErrorKindLoopDetected {
				o.blocked = ev.Error.Call
				if ev.Error.Call != nil {
					a.opts.Metrics.LoopDetected(ev.Error.Call.Name)
				}
			}
			continue
		}

		if o.breach != nil {
			continue
		}
		if !c.emit(ev) {
			cancel()
		}
	}

	if o.usage != nil {
		c.usage = c.usage.Add(*o.usage)
		a.updateStats(func(s *Stats) { s.Usage = s.Usage.Add(*o.usage) })
		a.opts.Metrics.Tokens(o.usage)
	}

	finish := o.finish
	if o.err != nil {
		finish = core.FinishError
	}
	if o.breach != nil {
		finish = core.FinishLimit
	}
	a.opts.Metrics.Turn(finish, time.Since(start))
	logging.LogTurn(a.opts.Logger, o.id, index, len(o.requests), string(finish), time.Since(start))

	if c.ctx.Err() != nil {
		return o, false
	}
	if o.breach == nil && o.err == nil && o.finish == "" {
		// Closed without a terminal event.
		return o, false
	}

	return o, true
}

// checkCallLimits reports a breach when n surfaced requests in this turn would
// exceed either tool call limit.
func (c *cycle) checkCallLimits(n int) error {
	a := c.agent
	if limit := a.opts.MaxToolCallsPerTurn; limit >= 0 && n > limit {
		return &core.SafetyLimitError{Limit: LimitToolCallsPerTurn, Max: limit}
	}
	if !a.totalCalls.Allow(n) {
		return &core.SafetyLimitError{Limit: LimitTotalToolCalls, Max: a.opts.MaxTotalToolCalls}
	}
	return nil
}

// executeBatch records the assistant request message, runs the batch and
// appends the results in request order. A call blocked by the loop detector
// is recorded after the executed ones with an error result. It returns false
// when the cycle ended.
func (c *cycle) executeBatch(o *turnOutcome, blocked *core.ToolCallRequest, blockedErr error) bool {
	a := c.agent

	if len(o.requests) > 0 {
		if err := a.totalCalls.Add(len(o.requests)); err != nil {
			c.closeRequests(o, err.Error())
			c.limitReached(o.id, err)
			return false
		}
		a.updateStats(func(s *Stats) { s.ToolCalls += len(o.requests) })
	}

	msg := assistantMessage(o)
	if blocked != nil {
		msg.ToolCalls = append(msg.ToolCalls, blocked.ToolCall())
	}
	if err := a.history.Append(msg); err != nil {
		a.opts.Logger.Error("agent.history.append_failed", "error", err.Error())
	}

	results := a.scheduler.Execute(c.ctx, o.requests)
	if blocked != nil {
		results = append(results, core.NewErrorResult(*blocked, blockedErr))
	}

	msgs := make([]core.Message, 0, len(results))
	for _, r := range results {
		msgs = append(msgs, r.Message())
	}
	if err := a.history.Append(msgs...); err != nil {
		a.opts.Logger.Error("agent.history.append_failed", "error", err.Error())
	}

	for _, r := range results {
		if !c.emit(core.NewFunctionResponseEvent(o.id, r)) {
			break
		}
	}

	if c.ctx.Err() != nil {
		c.tryEmit(core.NewErrorEvent(o.id, core.ErrorKindCancelled, c.ctx.Err(), false))
		return false
	}
	return true
}

// handleLoop applies the loop policy. It returns true when the cycle continues.
func (c *cycle) handleLoop(o *turnOutcome) bool {
	a := c.agent
	loopErr := o.err.Error.Err
	if loopErr == nil {
		loopErr = core.ErrLoopDetected
	}

	a.opts.Logger.Warn("agent.loop.detected", "cycle_id", c.id, "turn_id", o.id, "halt", a.opts.HaltOnLoop, "error", loopErr.Error())

	if a.opts.HaltOnLoop {
		c.closeRequests(o, "tool-call phase aborted: "+loopErr.Error())
		ev := *o.err
		ev.Error.Recoverable = false
		c.emit(ev)
		return false
	}

	c.emit(*o.err)

	if o.blocked == nil && len(o.requests) == 0 {
		return true
	}
	return c.executeBatch(o, o.blocked, loopErr)
}

// closeRequests records the surfaced requests with cancelled results so no
// request is left without a response, then reports those results.
func (c *cycle) closeRequests(o *turnOutcome, reason string) {
	a := c.agent
	if len(o.requests) == 0 {
		if text := o.text.String(); text != "" {
			if err := a.history.Append(core.NewAssistantMessage(text)); err != nil {
				a.opts.Logger.Error("agent.history.append_failed", "error", err.Error())
			}
		}
		return
	}

	results := make([]core.ToolCallResult, len(o.requests))
	msgs := make([]core.Message, 0, len(o.requests)+1)
	msgs = append(msgs, assistantMessage(o))
	for i, req := range o.requests {
		results[i] = core.NewCancelledResult(req, reason)
		msgs = append(msgs, results[i].Message())
	}
	if err := a.history.Append(msgs...); err != nil {
		a.opts.Logger.Error("agent.history.append_failed", "error", err.Error())
	}

	for _, r := range results {
		a.opts.Metrics.ToolCall(r.Name, r.Status, 0)
		if !c.emit(core.NewFunctionResponseEvent(o.id, r)) {
			return
		}
	}
}

func (c *cycle) limitReached(turnID string, err error) {
	a := c.agent
	var limitErr *core.SafetyLimitError
	if errors.As(err, &limitErr) {
		a.opts.Metrics.SafetyLimit(limitErr.Limit)
	}
	a.opts.Logger.Warn("agent.limit.reached", "cycle_id", c.id, "error", err.Error())
	c.emit(core.NewErrorEvent(turnID, core.ErrorKindSafetyLimit, err, false))
}

// interrupted leaves history consistent after cancellation.
func (c *cycle) interrupted(o *turnOutcome) {
	if o != nil {
		c.closeRequests(o, "interrupted by user")
	}
	c.agent.opts.Logger.Info("agent.cycle.cancelled", "cycle_id", c.id)
	if err := c.ctx.Err(); err != nil {
		c.tryEmit(core.NewErrorEvent("", core.ErrorKindCancelled, err, false))
	}
}

// finishCycle runs the once-per-input compression check.
func (c *cycle) finishCycle(start time.Time) {
	a := c.agent
	defer func() {
		a.opts.Logger.Info("agent.cycle.complete", "cycle_id", c.id, "duration_ms", time.Since(start).Milliseconds(), "history", a.history.Len())
	}()

	if a.compressor == nil || c.ctx.Err() != nil {
		return
	}
	if !a.compressor.ShouldCompress(a.history) {
		return
	}

	res, err := a.compressor.Compress(c.ctx, a.history)
	switch {
	case err != nil:
		a.opts.Metrics.Compression("failed")
		a.opts.Logger.Warn("agent.compress.skipped", "cycle_id", c.id, "error", err.Error())
	case res.Compressed:
		a.updateStats(func(s *Stats) { s.Compactions++ })
		a.opts.Metrics.Compression("compressed")
	default:
		a.opts.Metrics.Compression("skipped")
		a.opts.Logger.Debug("agent.compress.skipped", "cycle_id", c.id, "reason", res.SkipReason)
	}
}

func (c *cycle) usagePtr() *core.Usage {
	u := c.usage
	return &u
}

func assistantMessage(o *turnOutcome) core.Message {
	calls := make([]core.ToolCall, len(o.requests))
	for i, r := range o.requests {
		calls[i] = r.ToolCall()
	}
	return core.NewAssistantMessage(o.text.String(), calls...)
}
