package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexbeletsky/transcribe-talk/core"
	"github.com/alexbeletsky/transcribe-talk/internal/testutil"
	"github.com/alexbeletsky/transcribe-talk/tool"
)

func sleepTool(name string, destructive bool, timeout time.Duration) *tool.FunctionTool {
	return tool.NewFunctionTool(tool.Definition{
		Name:        name,
		Description: "sleep then echo",
		Parameters: []tool.Parameter{
			{Name: "ms", Type: tool.Integer, Required: true},
			{Name: "text", Type: tool.String},
		},
		Timeout:     timeout,
		Destructive: destructive,
	}, func(tc *core.ToolContext, args map[string]any) (any, error) {
		ms := toInt(args["ms"])
		select {
		case <-time.After(time.Duration(ms) * time.Millisecond):
		case <-tc.Context().Done():
			return nil, tc.Err()
		}
		if s, ok := args["text"].(string); ok {
			return s, nil
		}
		return fmt.Sprintf("slept %d", ms), nil
	})
}

func toInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case float64:
		return int(n)
	}
	return 0
}

func call(id, name string, args map[string]any) core.ToolCallRequest {
	return core.ToolCallRequest{ID: id, Name: name, Arguments: args, TurnID: "turn-1"}
}

func TestExecute_PreservesRequestOrder(t *testing.T) {
	reg := tool.NewRegistry().MustRegister(sleepTool("nap", false, 0))
	s := New(reg, func(o *Options) { o.MaxWorkers = 3 })

	reqs := []core.ToolCallRequest{
		call("a", "nap", map[string]any{"ms": 60, "text": "first"}),
		call("b", "nap", map[string]any{"ms": 5, "text": "second"}),
		call("c", "nap", map[string]any{"ms": 30, "text": "third"}),
	}

	results := s.Execute(context.Background(), reqs)
	require.Len(t, results, 3)

	for i, r := range results {
		assert.Equal(t, reqs[i].ID, r.RequestID)
		assert.Equal(t, core.ToolCallSuccess, r.Status)
	}
	assert.Equal(t, "first", results[0].Output)
	assert.Equal(t, "second", results[1].Output)
	assert.Equal(t, "third", results[2].Output)
}

func TestExecute_WorkerBound(t *testing.T) {
	var inFlight, maxInFlight atomic.Int32

	busy := tool.NewFunctionTool(tool.Definition{Name: "busy", Description: "busy"}, func(tc *core.ToolContext, _ map[string]any) (any, error) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			m := maxInFlight.Load()
			if n <= m || maxInFlight.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		return "ok", nil
	})

	s := New(tool.NewRegistry().MustRegister(busy), func(o *Options) { o.MaxWorkers = 2 })

	reqs := make([]core.ToolCallRequest, 8)
	for i := range reqs {
		reqs[i] = call(fmt.Sprintf("c%d", i), "busy", nil)
	}

	results := s.Execute(context.Background(), reqs)
	require.Len(t, results, 8)
	for _, r := range results {
		assert.Equal(t, core.ToolCallSuccess, r.Status)
	}
	assert.LessOrEqual(t, maxInFlight.Load(), int32(2))
	assert.Equal(t, int32(2), maxInFlight.Load())
}

func TestExecute_WorkerBoundHoldsForSlowCancellation(t *testing.T) {
	var inFlight, maxInFlight atomic.Int32

	stubborn := tool.NewFunctionTool(tool.Definition{Name: "stubborn", Description: "ignores ctx", Timeout: 10 * time.Millisecond}, func(tc *core.ToolContext, _ map[string]any) (any, error) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			m := maxInFlight.Load()
			if n <= m || maxInFlight.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(40 * time.Millisecond)
		return "late", nil
	})

	s := New(tool.NewRegistry().MustRegister(stubborn), func(o *Options) { o.MaxWorkers = 1 })

	results := s.Execute(context.Background(), []core.ToolCallRequest{
		call("a", "stubborn", nil),
		call("b", "stubborn", nil),
		call("c", "stubborn", nil),
	})

	for _, r := range results {
		assert.Equal(t, core.ToolCallCancelled, r.Status)
	}
	assert.Equal(t, int32(1), maxInFlight.Load())
}

func TestExecute_Timeout(t *testing.T) {
	reg := tool.NewRegistry().MustRegister(sleepTool("nap", false, 20*time.Millisecond))
	s := New(reg)

	results := s.Execute(context.Background(), []core.ToolCallRequest{
		call("a", "nap", map[string]any{"ms": 500}),
		call("b", "nap", map[string]any{"ms": 1}),
	})

	require.Len(t, results, 2)
	assert.Equal(t, core.ToolCallCancelled, results[0].Status)
	assert.Contains(t, results[0].Error, "timed out after 20ms")
	assert.Contains(t, results[0].Content(), "Cancelled:")
	assert.Equal(t, core.ToolCallSuccess, results[1].Status)

	sum := s.Summary()
	assert.Equal(t, 1, sum.TimedOut)
	assert.Equal(t, 1, sum.ByStatus[core.ToolCallCancelled])
	assert.Equal(t, 1, sum.ByStatus[core.ToolCallSuccess])
}

func TestExecute_DefaultTimeout(t *testing.T) {
	reg := tool.NewRegistry().MustRegister(sleepTool("nap", false, 0))
	s := New(reg, func(o *Options) { o.DefaultTimeout = 15 * time.Millisecond })

	results := s.Execute(context.Background(), []core.ToolCallRequest{call("a", "nap", map[string]any{"ms": 500})})
	assert.Equal(t, core.ToolCallCancelled, results[0].Status)
	assert.Contains(t, results[0].Error, "15ms")
}

func TestExecute_ValidationAndUnknownTool(t *testing.T) {
	var executed atomic.Int32
	reg := tool.NewRegistry().MustRegister(tool.NewFunctionTool(tool.Definition{
		Name:        "read_file",
		Description: "read",
		Parameters:  []tool.Parameter{{Name: "file_path", Type: tool.String, Required: true}},
	}, func(*core.ToolContext, map[string]any) (any, error) {
		executed.Add(1)
		return "", nil
	}))
	s := New(reg)

	results := s.Execute(context.Background(), []core.ToolCallRequest{
		call("a", "read_file", map[string]any{}),
		call("b", "delete_everything", map[string]any{}),
	})

	assert.Equal(t, core.ToolCallError, results[0].Status)
	assert.Contains(t, results[0].Error, core.ErrToolValidation.Error())
	assert.Equal(t, core.ToolCallError, results[1].Status)
	assert.Contains(t, results[1].Error, core.ErrUnknownTool.Error())
	assert.Equal(t, "delete_everything", results[1].Name)
	assert.Zero(t, executed.Load())
}

func TestExecute_ApprovalModes(t *testing.T) {
	newReg := func() *tool.Registry {
		return tool.NewRegistry().MustRegister(
			sleepTool("safe", false, 0),
			sleepTool("danger", true, 0),
		)
	}
	reqs := []core.ToolCallRequest{
		call("a", "safe", map[string]any{"ms": 1}),
		call("b", "danger", map[string]any{"ms": 1}),
	}

	t.Run("smart asks only for destructive tools", func(t *testing.T) {
		var asked []string
		var mu sync.Mutex
		s := New(newReg(), func(o *Options) {
			o.ApprovalMode = ApprovalSmart
			o.Approver = ApproverFunc(func(_ context.Context, r ApprovalRequest) (bool, error) {
				mu.Lock()
				asked = append(asked, r.Call.Name)
				mu.Unlock()
				return false, nil
			})
		})

		results := s.Execute(context.Background(), reqs)
		assert.Equal(t, []string{"danger"}, asked)
		assert.Equal(t, core.ToolCallSuccess, results[0].Status)
		assert.Equal(t, core.ToolCallDenied, results[1].Status)
		assert.Contains(t, results[1].Content(), "Denied")
	})

	t.Run("always asks for every tool", func(t *testing.T) {
		var asked atomic.Int32
		s := New(newReg(), func(o *Options) {
			o.ApprovalMode = ApprovalAlways
			o.Approver = ApproverFunc(func(context.Context, ApprovalRequest) (bool, error) {
				asked.Add(1)
				return true, nil
			})
		})

		results := s.Execute(context.Background(), reqs)
		assert.Equal(t, int32(2), asked.Load())
		assert.Equal(t, core.ToolCallSuccess, results[0].Status)
		assert.Equal(t, core.ToolCallSuccess, results[1].Status)
	})

	t.Run("never skips approval", func(t *testing.T) {
		s := New(newReg(), func(o *Options) { o.ApprovalMode = ApprovalNever })

		results := s.Execute(context.Background(), reqs)
		assert.Equal(t, core.ToolCallSuccess, results[1].Status)
	})

	t.Run("missing approver denies", func(t *testing.T) {
		s := New(newReg())

		results := s.Execute(context.Background(), reqs)
		assert.Equal(t, core.ToolCallSuccess, results[0].Status)
		assert.Equal(t, core.ToolCallDenied, results[1].Status)
	})
}

func TestExecute_PendingApprovalBlocksOnlyItsRequest(t *testing.T) {
	release := make(chan struct{})
	reg := tool.NewRegistry().MustRegister(
		sleepTool("safe", false, 0),
		sleepTool("danger", true, 0),
	)
	s := New(reg, func(o *Options) {
		o.MaxWorkers = 1
		o.Approver = ApproverFunc(func(ctx context.Context, _ ApprovalRequest) (bool, error) {
			<-release
			return true, nil
		})
	})

	var safeDone atomic.Bool
	s.opts.OnStateChange = func(req core.ToolCallRequest, st State) {
		if req.Name == "safe" && st == StateSuccess {
			safeDone.Store(true)
			close(release)
		}
	}

	results := s.Execute(context.Background(), []core.ToolCallRequest{
		call("a", "danger", map[string]any{"ms": 1}),
		call("b", "safe", map[string]any{"ms": 1}),
	})

	assert.True(t, safeDone.Load())
	assert.Equal(t, core.ToolCallSuccess, results[0].Status)
	assert.Equal(t, core.ToolCallSuccess, results[1].Status)
}

func TestExecute_DryRun(t *testing.T) {
	var executed atomic.Int32
	reg := tool.NewRegistry().MustRegister(tool.NewFunctionTool(tool.Definition{
		Name:        "write_file",
		Description: "write",
		Destructive: true,
		Parameters:  []tool.Parameter{{Name: "file_path", Type: tool.String, Required: true}},
	}, func(*core.ToolContext, map[string]any) (any, error) {
		executed.Add(1)
		return "written", nil
	}))
	s := New(reg, func(o *Options) {
		o.DryRun = true
		o.ApprovalMode = ApprovalNever
	})

	req := call("a", "write_file", map[string]any{"file_path": "x.txt"})
	req.RawArguments = `{"file_path":"x.txt"}`

	results := s.Execute(context.Background(), []core.ToolCallRequest{req})
	assert.Equal(t, core.ToolCallSuccess, results[0].Status)
	assert.Equal(t, `[DRY-RUN] Tool 'write_file' would be executed with arguments: {"file_path":"x.txt"}`, results[0].Output)
	assert.Zero(t, executed.Load())
}

func TestExecute_PanicAndErrors(t *testing.T) {
	reg := tool.NewRegistry().MustRegister(
		tool.NewFunctionTool(tool.Definition{Name: "explode", Description: "panics"}, func(*core.ToolContext, map[string]any) (any, error) {
			panic("kaboom")
		}),
		tool.NewFunctionTool(tool.Definition{Name: "fail", Description: "fails"}, func(*core.ToolContext, map[string]any) (any, error) {
			return nil, errors.New("disk full")
		}),
		tool.NewFunctionTool(tool.Definition{Name: "structured", Description: "returns a map"}, func(*core.ToolContext, map[string]any) (any, error) {
			return map[string]int{"count": 2}, nil
		}),
	)
	s := New(reg)

	results := s.Execute(context.Background(), []core.ToolCallRequest{
		call("a", "explode", nil),
		call("b", "fail", nil),
		call("c", "structured", nil),
	})

	assert.Equal(t, core.ToolCallError, results[0].Status)
	assert.Contains(t, results[0].Error, "kaboom")
	assert.Equal(t, core.ToolCallError, results[1].Status)
	assert.Equal(t, "disk full", results[1].Error)
	assert.Equal(t, "Error: disk full", results[1].Content())
	assert.Equal(t, core.ToolCallSuccess, results[2].Status)
	assert.JSONEq(t, `{"count":2}`, results[2].Output)
}

func TestExecute_LogsEveryToolCall(t *testing.T) {
	reg := tool.NewRegistry().MustRegister(
		sleepTool("nap", false, 0),
		tool.NewFunctionTool(tool.Definition{Name: "fail", Description: "fails"}, func(*core.ToolContext, map[string]any) (any, error) {
			return nil, errors.New("disk full")
		}),
	)
	logger := &testutil.RecordingLogger{}
	s := New(reg, func(o *Options) { o.Logger = logger })

	s.Execute(context.Background(), []core.ToolCallRequest{
		call("a", "nap", map[string]any{"ms": 1}),
		call("b", "fail", nil),
	})

	done := logger.Find("tool.call.completed")
	require.Len(t, done, 1)
	assert.Equal(t, "nap", done[0].Args["tool_name"])
	assert.Equal(t, "success", done[0].Args["status"])

	failed := logger.Find("tool.call.failed")
	require.Len(t, failed, 1)
	assert.Equal(t, "fail", failed[0].Args["tool_name"])
	assert.Equal(t, "disk full", failed[0].Args["error"])
}

func TestExecute_ParentCancellation(t *testing.T) {
	reg := tool.NewRegistry().MustRegister(sleepTool("nap", false, 0))
	s := New(reg)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	results := s.Execute(ctx, []core.ToolCallRequest{call("a", "nap", map[string]any{"ms": 2000})})
	require.Len(t, results, 1)
	assert.Equal(t, core.ToolCallCancelled, results[0].Status)
	assert.Equal(t, "interrupted", results[0].Error)
	assert.Zero(t, s.Summary().TimedOut)
}

func TestExecute_StateTransitions(t *testing.T) {
	reg := tool.NewRegistry().MustRegister(sleepTool("danger", true, 0))

	var mu sync.Mutex
	var states []State
	s := New(reg, func(o *Options) {
		o.Approver = AutoApprove
		o.OnStateChange = func(_ core.ToolCallRequest, st State) {
			mu.Lock()
			states = append(states, st)
			mu.Unlock()
		}
	})

	s.Execute(context.Background(), []core.ToolCallRequest{call("a", "danger", map[string]any{"ms": 1})})

	assert.Equal(t, []State{StateValidating, StateAwaitingApproval, StateScheduled, StateExecuting, StateSuccess}, states)
}

func TestParseApprovalMode(t *testing.T) {
	m, err := ParseApprovalMode(" ALWAYS ")
	require.NoError(t, err)
	assert.Equal(t, ApprovalAlways, m)

	m, err = ParseApprovalMode("")
	require.NoError(t, err)
	assert.Equal(t, ApprovalSmart, m)

	_, err = ParseApprovalMode("sometimes")
	assert.Error(t, err)
}

func TestSummaryReset(t *testing.T) {
	reg := tool.NewRegistry().MustRegister(sleepTool("nap", false, 0))
	s := New(reg)

	s.Execute(context.Background(), []core.ToolCallRequest{call("a", "nap", map[string]any{"ms": 1})})
	sum := s.Summary()
	assert.Equal(t, 1, sum.Total)
	assert.Positive(t, sum.AverageDuration)

	s.ResetSummary()
	assert.Zero(t, s.Summary().Total)
}
