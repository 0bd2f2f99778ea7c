// Package builtin provides the stock tools: directory listing, file read and
// write confined to a workspace, and long-term memory.
package builtin

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/alexbeletsky/transcribe-talk/memory"
	"github.com/alexbeletsky/transcribe-talk/tool"
)

// Tool categories.
const (
	CategoryFileSystem = "file_system"
	CategoryMemory     = "memory"
)

// Workspace is the directory tools resolve relative paths against. Writes
// outside it are rejected.
type Workspace struct {
	root string
}

// NewWorkspace creates a workspace rooted at dir.
func NewWorkspace(dir string) (*Workspace, error) {
	abs, err := filepath.Abs(filepath.Clean(dir))
	if err != nil {
		return nil, fmt.Errorf("workspace: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	return &Workspace{root: abs}, nil
}

// Root returns the absolute workspace directory.
func (w *Workspace) Root() string { return w.root }

// Resolve returns the absolute form of path, relative paths being joined to
// the root.
func (w *Workspace) Resolve(path string) string {
	if path == "" {
		return w.root
	}
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Join(w.root, path)
}

// Contains reports whether abs lies within the workspace.
func (w *Workspace) Contains(abs string) bool {
	rel, err := filepath.Rel(w.root, abs)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

// Options configures the builtin tool set.
type Options struct {
	// Memory backs save_memory and read_memory. Defaults to CONTEXT.md in the
	// workspace.
	Memory memory.Store
	// MaxReadBytes bounds read_file.
	MaxReadBytes int64
	// ConfineReads rejects reads outside the workspace instead of logging them.
	ConfineReads bool
}

// Tools returns the builtin tools bound to ws.
func Tools(ws *Workspace, optFns ...func(o *Options)) []tool.Tool {
	opts := Options{
		MaxReadBytes: 10 * 1024 * 1024,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Memory == nil {
		opts.Memory = memory.NewWorkspaceStore(ws.Root())
	}

	return []tool.Tool{
		NewListDirectory(ws, opts),
		NewReadFile(ws, opts),
		NewWriteFile(ws),
		NewSaveMemory(opts.Memory),
		NewReadMemory(opts.Memory),
	}
}

// Register adds the builtin tools to reg.
func Register(reg *tool.Registry, ws *Workspace, optFns ...func(o *Options)) error {
	return reg.Register(Tools(ws, optFns...)...)
}

func stringArg(args map[string]any, name, def string) string {
	if v, ok := args[name].(string); ok {
		return v
	}
	return def
}

func boolArg(args map[string]any, name string, def bool) bool {
	if v, ok := args[name].(bool); ok {
		return v
	}
	return def
}

func intArg(args map[string]any, name string, def int) int {
	switch v := args[name].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return def
}

func formatSize(n int64) string {
	const unit = 1024
	switch {
	case n < unit:
		return fmt.Sprintf("%d B", n)
	case n < unit*unit:
		return fmt.Sprintf("%.1f KB", float64(n)/unit)
	case n < unit*unit*unit:
		return fmt.Sprintf("%.1f MB", float64(n)/(unit*unit))
	default:
		return fmt.Sprintf("%.1f GB", float64(n)/(unit*unit*unit))
	}
}
