package main

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/alexbeletsky/transcribe-talk/scheduler"
)

// ttyApprover asks the user before a tool runs. Answering "always" approves
// the tool for the rest of the session.
type ttyApprover struct {
	c *console

	mu     sync.Mutex
	always map[string]bool
}

func newTTYApprover(c *console) *ttyApprover {
	return &ttyApprover{c: c, always: map[string]bool{}}
}

type approvalAnswer struct {
	approved bool
	always   bool
}

// Approve implements scheduler.Approver. Prompts are serialized through the
// console input; cancelling ctx abandons the prompt and hands input back.
func (a *ttyApprover) Approve(ctx context.Context, req scheduler.ApprovalRequest) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	name := req.Call.Name

	a.mu.Lock()
	ok := a.always[name]
	a.mu.Unlock()
	if ok {
		return true, nil
	}

	if err := a.c.acquireInput(ctx); err != nil {
		return false, err
	}
	defer a.c.releaseInput()

	p := a.c.p
	a.c.printf(p.warn, "\n⚠ %s wants to run\n", p.bold.Sprint(name))
	if d := req.Definition.Description; d != "" {
		a.c.printf(p.dim, "  %s\n", d)
	}
	a.c.printf(nil, "  arguments: %s\n", formatArgs(req.Call))

	ans, err := a.ask(ctx)
	if err != nil {
		return false, err
	}
	if ans.always {
		a.mu.Lock()
		a.always[name] = true
		a.mu.Unlock()
	}
	return ans.approved, nil
}

// ask must be called while owning the console input.
func (a *ttyApprover) ask(ctx context.Context) (approvalAnswer, error) {
	for {
		line, err := a.c.readLine(ctx, "  Allow? [y]es / [N]o / [a]lways: ")
		if ctx.Err() != nil {
			return approvalAnswer{}, ctx.Err()
		}
		if err != nil {
			return approvalAnswer{}, fmt.Errorf("read approval: %w", err)
		}

		switch strings.ToLower(line) {
		case "y", "yes":
			return approvalAnswer{approved: true}, nil
		case "a", "always":
			return approvalAnswer{approved: true, always: true}, nil
		case "", "n", "no":
			return approvalAnswer{}, nil
		default:
			a.c.printf(a.c.p.failure, "  Please answer y, n or a.\n")
		}
	}
}

var _ scheduler.Approver = (*ttyApprover)(nil)
