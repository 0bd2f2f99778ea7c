package prompt

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexbeletsky/transcribe-talk/core"
	"github.com/alexbeletsky/transcribe-talk/history"
	"github.com/alexbeletsky/transcribe-talk/memory"
	"github.com/alexbeletsky/transcribe-talk/model"
)

func fixedClock() time.Time { return time.Date(2024, 3, 4, 5, 6, 7, 0, time.UTC) }

func TestSystemPrompt_Default(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.go"), []byte("x"), 0o644))

	store := memory.NewInMemoryStore()
	require.NoError(t, store.Append(context.Background(), memory.Entry{Content: "User's name is Sam", Category: "user_preference"}))

	e := New(func(o *Options) {
		o.Workspace = dir
		o.Memory = store
		o.Clock = fixedClock
	})
	e.AddContext(NewInstructionFromText("Reply briefly."))

	sys, err := e.SystemPrompt(context.Background())
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(sys, "You are TranscribeTalk"))
	assert.Contains(t, sys, "Environmental Context:")
	assert.Contains(t, sys, "Current Time: 2024-03-04 05:06:07")
	assert.Contains(t, sys, "Additional Context:\nReply briefly.")
	assert.Contains(t, sys, "Project files found:\n  - README.md")
	assert.NotContains(t, sys, "main.go")
	assert.Contains(t, sys, "User's name is Sam")
	assert.Contains(t, sys, "Current session started at: 2024-03-04 05:06:07")
	assert.Contains(t, sys, "Working from: "+dir)
	assert.NotContains(t, sys, "<no value>")
}

func TestSystemPrompt_CustomTemplate(t *testing.T) {
	e := New(func(o *Options) {
		o.Workspace = "/nowhere"
		o.IncludeEnvironment = false
		o.Template = "ws={{.Workspace}} env={{default \"none\" .Environment}}"
	})
	sys, err := e.SystemPrompt(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ws=/nowhere env=none", sys)

	e.SetTemplate("{{.Missing")
	_, err = e.SystemPrompt(context.Background())
	assert.Error(t, err)
}

func TestSystemPrompt_ProviderError(t *testing.T) {
	e := New(func(o *Options) { o.Template = "x" })
	boom := errors.New("boom")
	e.AddContext(NewInstructionFromFunc(func(context.Context) (string, error) { return "", boom }))
	_, err := e.SystemPrompt(context.Background())
	assert.ErrorIs(t, err, boom)

	e.ClearContext()
	_, err = e.SystemPrompt(context.Background())
	assert.NoError(t, err)
}

func TestBuildRequest_CuratedHistory(t *testing.T) {
	h := history.New()
	require.NoError(t, h.Append(
		core.NewUserMessage("what files are here?"),
		core.NewAssistantMessage("", core.ToolCall{ID: "c1", Name: "list_directory", Arguments: `{"path":"."}`}),
	))

	e := New(func(o *Options) { o.Template = "system" })
	decls := []model.ToolDefinition{{Type: "function", Function: model.FunctionDefinition{Name: "list_directory"}}}

	req, err := e.BuildRequest(context.Background(), h, decls)
	require.NoError(t, err)
	require.Len(t, req.Messages, 2)
	assert.Equal(t, core.RoleSystem, req.Messages[0].Role)
	assert.Equal(t, "system", req.Messages[0].Content)
	assert.Equal(t, core.RoleUser, req.Messages[1].Role)
	assert.True(t, req.Stream)
	assert.Equal(t, decls, req.Tools)
	assert.Equal(t, 2, h.Len())
}

func TestTruncateHead(t *testing.T) {
	assert.Equal(t, "abc", truncateHead("abc", 5))
	assert.Equal(t, "...\ncde", truncateHead("abcde", 3))
	assert.Equal(t, "abcde", truncateHead("abcde", 0))
}

func TestInstruction(t *testing.T) {
	inst := NewInstructionFromText("static")
	assert.True(t, inst.IsStatic())
	text, err := inst.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "static", text)

	dyn := NewInstructionFromProvider(Func(func(context.Context) (string, error) { return "dynamic", nil }))
	assert.False(t, dyn.IsStatic())
	text, err = dyn.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "dynamic", text)
}
