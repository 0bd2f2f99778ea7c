package scheduler

import (
	"context"
	"fmt"
	"strings"

	"github.com/alexbeletsky/transcribe-talk/core"
	"github.com/alexbeletsky/transcribe-talk/tool"
)

// ApprovalMode governs which tool calls need user confirmation.
type ApprovalMode string

const (
	// ApprovalNever executes every call without asking.
	ApprovalNever ApprovalMode = "never"
	// ApprovalSmart asks only for tools whose definition is Destructive.
	ApprovalSmart ApprovalMode = "smart"
	// ApprovalAlways asks for every call.
	ApprovalAlways ApprovalMode = "always"
)

// ParseApprovalMode converts a configuration string into an ApprovalMode.
func ParseApprovalMode(s string) (ApprovalMode, error) {
	switch m := ApprovalMode(strings.ToLower(strings.TrimSpace(s))); m {
	case ApprovalNever, ApprovalSmart, ApprovalAlways:
		return m, nil
	case "":
		return ApprovalSmart, nil
	default:
		return "", fmt.Errorf("invalid approval mode %q (want never, smart or always)", s)
	}
}

// Requires reports whether a call to a tool with def needs confirmation.
func (m ApprovalMode) Requires(def tool.Definition) bool {
	switch m {
	case ApprovalNever:
		return false
	case ApprovalAlways:
		return true
	default:
		return def.Destructive
	}
}

// ApprovalRequest describes the call awaiting confirmation.
type ApprovalRequest struct {
	Call       core.ToolCallRequest
	Definition tool.Definition
}

// Approver asks the user to confirm a call. Approve blocks until the user
// answers or ctx is done. Implementations must be safe for concurrent use;
// interactive ones usually serialize prompts internally.
type Approver interface {
	Approve(ctx context.Context, req ApprovalRequest) (bool, error)
}

// ApproverFunc adapts a function to Approver.
type ApproverFunc func(ctx context.Context, req ApprovalRequest) (bool, error)

// Approve implements Approver.
func (f ApproverFunc) Approve(ctx context.Context, req ApprovalRequest) (bool, error) {
	return f(ctx, req)
}

// AutoApprove approves everything.
var AutoApprove Approver = ApproverFunc(func(context.Context, ApprovalRequest) (bool, error) { return true, nil })
