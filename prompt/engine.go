// Package prompt assembles the outgoing message list: a system prompt
// rendered from a template with environment facts, workspace information,
// long-term memory and custom context, followed by the curated history.
package prompt

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/alexbeletsky/transcribe-talk/core"
	"github.com/alexbeletsky/transcribe-talk/history"
	"github.com/alexbeletsky/transcribe-talk/internal/util"
	"github.com/alexbeletsky/transcribe-talk/logging"
	"github.com/alexbeletsky/transcribe-talk/memory"
	"github.com/alexbeletsky/transcribe-talk/model"
)

// DefaultTemplate is the stock system prompt.
const DefaultTemplate = `You are TranscribeTalk, an AI assistant with voice interaction capabilities.

You can help users through natural conversation, and you have access to tools that allow you to interact with their local environment when needed.
{{if .Environment}}
Environmental Context:
{{.Environment}}
{{end}}{{if .Custom}}
Additional Context:
{{join "\n" .Custom}}
{{end}}{{if .WorkspaceInfo}}
Workspace Information:
{{.WorkspaceInfo}}
{{end}}{{if .Memory}}
Long-Term Memory:
{{.Memory}}
{{end}}
Current session started at: {{.Timestamp}}
Working from: {{.Workspace}}

Guidelines:
1. Be conversational and natural in your responses
2. When using tools, explain what you're doing
3. Ask for clarification when needed
4. Provide helpful and accurate information
5. Respect user privacy and security`

var projectFilePatterns = []string{"*.md", "*.txt", "*.json", "*.yaml", "*.yml"}

// Options configures an Engine.
type Options struct {
	// Template is a text/template rendered against Data.
	Template string
	// Workspace is the directory described in the prompt. Defaults to the
	// process working directory.
	Workspace string
	// Memory is injected into the system prompt when set.
	Memory memory.Store
	// MaxMemoryChars keeps only the tail of a large memory document.
	MaxMemoryChars int
	// MaxProjectFiles bounds the workspace file listing.
	MaxProjectFiles int
	// IncludeEnvironment adds OS, working directory and time facts.
	IncludeEnvironment bool
	// Clock returns the current time.
	Clock  func() time.Time
	Logger logging.Logger
}

// Data is the value the system prompt template is rendered against.
type Data struct {
	Environment   string
	Custom        []string
	WorkspaceInfo string
	Memory        string
	Timestamp     string
	Workspace     string
}

// Engine builds system prompts and outgoing requests. It never mutates
// history.
type Engine struct {
	opts      Options
	startedAt time.Time

	mu     sync.RWMutex
	custom []Instruction
}

// New creates a prompt engine.
func New(optFns ...func(o *Options)) *Engine {
	opts := Options{
		Template:           DefaultTemplate,
		MaxMemoryChars:     8000,
		MaxProjectFiles:    10,
		IncludeEnvironment: true,
		Clock:              time.Now,
		Logger:             logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Workspace == "" {
		if wd, err := os.Getwd(); err == nil {
			opts.Workspace = wd
		}
	}

	return &Engine{opts: opts, startedAt: opts.Clock()}
}

// SetTemplate replaces the system prompt template.
func (e *Engine) SetTemplate(tmpl string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.opts.Template = tmpl
}

// AddContext appends an additional context entry.
func (e *Engine) AddContext(inst Instruction) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.custom = append(e.custom, inst)
}

// ClearContext removes all additional context entries.
func (e *Engine) ClearContext() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.custom = nil
}

// Data gathers the template values.
func (e *Engine) Data(ctx context.Context) (Data, error) {
	e.mu.RLock()
	custom := append([]Instruction(nil), e.custom...)
	e.mu.RUnlock()

	d := Data{
		Timestamp: e.startedAt.Format("2006-01-02 15:04:05"),
		Workspace: e.opts.Workspace,
	}

	if e.opts.IncludeEnvironment {
		d.Environment = e.environment()
	}

	for _, inst := range custom {
		text, err := inst.Resolve(ctx)
		if err != nil {
			return Data{}, fmt.Errorf("failed to resolve context: %w", err)
		}
		if text = strings.TrimSpace(text); text != "" {
			d.Custom = append(d.Custom, text)
		}
	}

	d.WorkspaceInfo = e.workspaceInfo()

	if e.opts.Memory != nil {
		doc, err := e.opts.Memory.ReadAll(ctx)
		if err != nil {
			e.opts.Logger.Warn("prompt.memory.read_failed", "error", err.Error())
		} else {
			d.Memory = truncateHead(strings.TrimSpace(doc), e.opts.MaxMemoryChars)
		}
	}

	return d, nil
}

// SystemPrompt renders the system prompt.
func (e *Engine) SystemPrompt(ctx context.Context) (string, error) {
	d, err := e.Data(ctx)
	if err != nil {
		return "", err
	}

	e.mu.RLock()
	tmpl := e.opts.Template
	e.mu.RUnlock()

	text, err := util.RenderTemplate(tmpl, d)
	if err != nil {
		return "", fmt.Errorf("failed to render system prompt: %w", err)
	}

	e.opts.Logger.Debug("prompt.system.rendered", "length", len(text), "memory_chars", len(d.Memory))

	return strings.TrimSpace(text), nil
}

// Messages returns the system prompt followed by the curated history.
func (e *Engine) Messages(ctx context.Context, h *history.History) ([]core.Message, error) {
	sys, err := e.SystemPrompt(ctx)
	if err != nil {
		return nil, err
	}
	curated := h.Curated()
	msgs := make([]core.Message, 0, len(curated)+1)
	msgs = append(msgs, core.NewSystemMessage(sys))
	return append(msgs, curated...), nil
}

// BuildRequest assembles a streaming model request.
func (e *Engine) BuildRequest(ctx context.Context, h *history.History, tools []model.ToolDefinition) (model.Request, error) {
	msgs, err := e.Messages(ctx, h)
	if err != nil {
		return model.Request{}, err
	}
	return model.Request{Messages: msgs, Tools: tools, Stream: true}, nil
}

func (e *Engine) environment() string {
	lines := []string{
		fmt.Sprintf("OS: %s %s", runtime.GOOS, runtime.GOARCH),
		fmt.Sprintf("Go: %s", runtime.Version()),
	}
	if wd, err := os.Getwd(); err == nil {
		lines = append(lines, "Working Directory: "+wd)
	}
	lines = append(lines, "Current Time: "+e.opts.Clock().Format("2006-01-02 15:04:05 MST"))
	return strings.Join(lines, "\n")
}

func (e *Engine) workspaceInfo() string {
	ws := e.opts.Workspace
	if ws == "" {
		return ""
	}
	if fi, err := os.Stat(ws); err != nil || !fi.IsDir() {
		return ""
	}

	lines := []string{"Path: " + ws}

	var files []string
	for _, pattern := range projectFilePatterns {
		matches, _ := filepath.Glob(filepath.Join(ws, pattern))
		for _, m := range matches {
			files = append(files, filepath.Base(m))
		}
	}
	sort.Strings(files)
	if len(files) > e.opts.MaxProjectFiles {
		files = files[:e.opts.MaxProjectFiles]
	}
	if len(files) > 0 {
		lines = append(lines, "Project files found:")
		for _, f := range files {
			lines = append(lines, "  - "+f)
		}
	}

	if _, err := os.Stat(filepath.Join(ws, memory.DefaultFileName)); err == nil {
		lines = append(lines, "Long-term memory available ("+memory.DefaultFileName+")")
	}

	return strings.Join(lines, "\n")
}

// truncateHead keeps the last max runes of s.
func truncateHead(s string, max int) string {
	if max <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return "...\n" + string(r[len(r)-max:])
}
