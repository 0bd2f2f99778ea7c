// Package scheduler validates, approves and executes tool call requests on a
// bounded worker pool and returns their results in request order.
package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/alexbeletsky/transcribe-talk/core"
	"github.com/alexbeletsky/transcribe-talk/logging"
	"github.com/alexbeletsky/transcribe-talk/metrics"
	"github.com/alexbeletsky/transcribe-talk/tool"
)

// State is a step in the life of a single tool call.
type State string

const (
	StateValidating       State = "validating"
	StateAwaitingApproval State = "awaiting_approval"
	StateScheduled        State = "scheduled"
	StateExecuting        State = "executing"
	StateSuccess          State = "success"
	StateError            State = "error"
	StateCancelled        State = "cancelled"
	StateDenied           State = "denied"
)

// Options configures a Scheduler.
type Options struct {
	// MaxWorkers bounds concurrently executing tool bodies across all batches.
	MaxWorkers int
	// DefaultTimeout applies to definitions without their own timeout.
	DefaultTimeout time.Duration
	ApprovalMode   ApprovalMode
	// Approver is consulted when ApprovalMode requires confirmation. Calls
	// needing approval are denied when it is nil.
	Approver Approver
	// DryRun records a simulated success instead of calling the tool.
	DryRun  bool
	Logger  logging.Logger
	Metrics *metrics.Metrics
	// OnStateChange observes every transition. It is called from worker
	// goroutines and must not block.
	OnStateChange func(req core.ToolCallRequest, state State)
}

// Scheduler runs tool calls against a Registry.
type Scheduler struct {
	registry *tool.Registry
	opts     Options
	sem      *semaphore.Weighted

	mu      sync.Mutex
	summary Summary
}

// New creates a Scheduler bound to reg.
func New(reg *tool.Registry, optFns ...func(o *Options)) *Scheduler {
	opts := Options{
		MaxWorkers:     4,
		DefaultTimeout: 30 * time.Second,
		ApprovalMode:   ApprovalSmart,
		Logger:         logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.MaxWorkers < 1 {
		opts.MaxWorkers = 1
	}
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = 30 * time.Second
	}
	if opts.ApprovalMode == "" {
		opts.ApprovalMode = ApprovalSmart
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	return &Scheduler{
		registry: reg,
		opts:     opts,
		sem:      semaphore.NewWeighted(int64(opts.MaxWorkers)),
		summary:  Summary{ByStatus: map[core.ToolCallStatus]int{}},
	}
}

// Options returns the effective configuration.
func (s *Scheduler) Options() Options { return s.opts }

// Execute runs reqs concurrently and returns exactly one result per request,
// in request order. A tool body that ignores cancellation keeps its worker
// slot until it returns.
func (s *Scheduler) Execute(ctx context.Context, reqs []core.ToolCallRequest) []core.ToolCallResult {
	n := len(reqs)
	if n == 0 {
		return nil
	}

	results := make([]core.ToolCallResult, n)

	var wg sync.WaitGroup

	batchStart := time.Now()
	for i := range reqs {
		wg.Add(1)
		go func(idx int, req core.ToolCallRequest) {
			defer wg.Done()
			results[idx] = s.executeOne(ctx, req)
		}(i, reqs[i])
	}

	wg.Wait()

	s.opts.Logger.Debug(
		"scheduler.batch.complete",
		"count", n,
		"workers", s.opts.MaxWorkers,
		"duration_ms", time.Since(batchStart).Milliseconds(),
	)

	return results
}

func (s *Scheduler) executeOne(ctx context.Context, req core.ToolCallRequest) core.ToolCallResult {
	res := s.process(ctx, req)
	res.RequestID = req.ID
	res.Name = req.Name

	s.transition(req, State(res.Status))
	s.record(res)
	s.opts.Metrics.ToolCall(req.Name, res.Status, res.Duration)

	var err error
	if res.Error != "" {
		err = errors.New(res.Error)
	}
	logging.LogToolCall(s.opts.Logger, req.Name, string(res.Status), res.Duration, err)

	return res
}

func (s *Scheduler) process(ctx context.Context, req core.ToolCallRequest) core.ToolCallResult {
	s.transition(req, StateValidating)

	if err := ctx.Err(); err != nil {
		return core.NewCancelledResult(req, "interrupted before execution")
	}

	args := req.Arguments
	if args == nil {
		args = map[string]any{}
	}

	if err := s.registry.Validate(req.Name, args); err != nil {
		s.opts.Logger.Warn("scheduler.tool.invalid", "tool", req.Name, "call_id", req.ID, "error", err.Error())
		return core.NewErrorResult(req, err)
	}

	t, err := s.registry.Lookup(req.Name)
	if err != nil {
		return core.NewErrorResult(req, err)
	}
	def := t.Definition()

	if s.opts.ApprovalMode.Requires(def) {
		s.transition(req, StateAwaitingApproval)
		if res, ok := s.approve(ctx, req, def); !ok {
			return res
		}
	}

	s.transition(req, StateScheduled)

	if s.opts.DryRun {
		s.opts.Logger.Info("scheduler.tool.dry_run", "tool", req.Name, "call_id", req.ID)
		return core.ToolCallResult{
			Status: core.ToolCallSuccess,
			Output: fmt.Sprintf("[DRY-RUN] Tool '%s' would be executed with arguments: %s", req.Name, renderArgs(req)),
		}
	}

	if err := s.sem.Acquire(ctx, 1); err != nil {
		return core.NewCancelledResult(req, "interrupted while waiting for a worker")
	}

	return s.run(ctx, req, t, def, args)
}

func (s *Scheduler) approve(ctx context.Context, req core.ToolCallRequest, def tool.Definition) (core.ToolCallResult, bool) {
	if s.opts.Approver == nil {
		s.opts.Logger.Warn("scheduler.tool.no_approver", "tool", req.Name, "call_id", req.ID)
		return core.ToolCallResult{Status: core.ToolCallDenied, Error: "approval required but no approver is configured"}, false
	}

	approved, err := s.opts.Approver.Approve(ctx, ApprovalRequest{Call: req, Definition: def})
	if err != nil {
		if ctx.Err() != nil {
			return core.NewCancelledResult(req, "interrupted while awaiting approval"), false
		}
		s.opts.Logger.Warn("scheduler.tool.approval_error", "tool", req.Name, "call_id", req.ID, "error", err.Error())
		return core.ToolCallResult{Status: core.ToolCallDenied, Error: fmt.Sprintf("approval failed: %v", err)}, false
	}

	s.opts.Metrics.ToolApproval(req.Name, approved)
	if !approved {
		s.opts.Logger.Info("scheduler.tool.denied", "tool", req.Name, "call_id", req.ID)
		return core.ToolCallResult{Status: core.ToolCallDenied}, false
	}

	return core.ToolCallResult{}, true
}

// run executes the tool body holding one worker slot. The slot is released
// only when the body returns, even if the result was already decided by a
// timeout.
func (s *Scheduler) run(ctx context.Context, req core.ToolCallRequest, t tool.Tool, def tool.Definition, args map[string]any) core.ToolCallResult {
	timeout := def.Timeout
	if timeout <= 0 {
		timeout = s.opts.DefaultTimeout
	}

	execCtx, cancel := context.WithTimeout(ctx, timeout)

	s.transition(req, StateExecuting)
	s.opts.Logger.Debug("scheduler.tool.start", "tool", req.Name, "call_id", req.ID, "timeout", timeout.String())

	type outcome struct {
		value any
		err   error
	}

	done := make(chan outcome, 1)
	start := time.Now()

	s.opts.Metrics.ToolStarted()
	go func() {
		defer s.sem.Release(1)
		defer s.opts.Metrics.ToolDone()
		defer cancel()

		var o outcome
		func() {
			defer func() {
				if r := recover(); r != nil {
					o.err = panicError(r)
					s.opts.Logger.Error("scheduler.tool.panic", "tool", req.Name, "call_id", req.ID, "recover", r, "stack", string(debug.Stack()))
				}
			}()
			toolCtx := core.NewToolContext(execCtx, req, s.opts.Logger)
			o.value, o.err = t.Call(toolCtx, args)
		}()
		done <- o
	}()

	var res core.ToolCallResult
	select {
	case o := <-done:
		res = s.complete(ctx, execCtx, req, o.value, o.err, timeout)
	case <-execCtx.Done():
		select {
		case o := <-done:
			res = s.complete(ctx, execCtx, req, o.value, o.err, timeout)
		default:
			res = s.interrupted(ctx, execCtx, req, timeout)
		}
	}

	res.Duration = time.Since(start)
	return res
}

func (s *Scheduler) complete(ctx, execCtx context.Context, req core.ToolCallRequest, value any, err error, timeout time.Duration) core.ToolCallResult {
	if err != nil {
		if execCtx.Err() != nil && (errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)) {
			return s.interrupted(ctx, execCtx, req, timeout)
		}
		return core.ToolCallResult{Status: core.ToolCallError, Error: renderError(err)}
	}

	out, rerr := renderOutput(value)
	if rerr != nil {
		return core.ToolCallResult{Status: core.ToolCallError, Error: rerr.Error()}
	}

	return core.ToolCallResult{Status: core.ToolCallSuccess, Output: out}
}

func (s *Scheduler) interrupted(ctx, execCtx context.Context, req core.ToolCallRequest, timeout time.Duration) core.ToolCallResult {
	if ctx.Err() == nil && errors.Is(execCtx.Err(), context.DeadlineExceeded) {
		s.markTimedOut()
		s.opts.Logger.Warn("scheduler.tool.timeout", "tool", req.Name, "call_id", req.ID, "timeout", timeout.String())
		return core.ToolCallResult{Status: core.ToolCallCancelled, Error: fmt.Sprintf("%v after %s", core.ErrToolTimeout, timeout)}
	}
	return core.ToolCallResult{Status: core.ToolCallCancelled, Error: "interrupted"}
}

func (s *Scheduler) transition(req core.ToolCallRequest, state State) {
	if s.opts.OnStateChange != nil {
		s.opts.OnStateChange(req, state)
	}
}

func renderArgs(req core.ToolCallRequest) string {
	if req.RawArguments != "" {
		return req.RawArguments
	}
	b, err := json.Marshal(req.Arguments)
	if err != nil {
		return "{}"
	}
	return string(b)
}

func renderOutput(v any) (string, error) {
	switch val := v.(type) {
	case nil:
		return "", nil
	case string:
		return val, nil
	case []byte:
		return string(val), nil
	case fmt.Stringer:
		return val.String(), nil
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return "", fmt.Errorf("render tool output: %w", err)
		}
		return string(b), nil
	}
}

func renderError(err error) string {
	var te *core.ToolError
	if errors.As(err, &te) {
		if te.Err != nil {
			return te.Err.Error()
		}
		if te.Message != "" {
			return te.Message
		}
	}
	return err.Error()
}

func panicError(r any) error { return &panicErr{val: r} }

type panicErr struct {
	val any
}

func (p *panicErr) Error() string { return fmt.Sprintf("tool panicked: %v", p.val) }
