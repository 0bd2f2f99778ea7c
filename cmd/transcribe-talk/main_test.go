package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexbeletsky/transcribe-talk/core"
)

const mockConfig = `provider: mock
compression:
  tokenizer: heuristic
logging:
  level: error
`

// setupCLI runs the test inside a fresh directory holding a mock provider
// config and isolates the home directory.
func setupCLI(t *testing.T, cfg string) string {
	t.Helper()

	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	t.Setenv("HOME", t.TempDir())
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("ANTHROPIC_API_KEY", "")

	if cfg != "" {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "transcribe-talk.yaml"), []byte(cfg), 0o644))
	}
	return dir
}

func runCLI(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()

	cmd := newRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)

	err := cmd.ExecuteContext(context.Background())
	return out.String(), errOut.String(), err
}

func TestOnce_Argument(t *testing.T) {
	setupCLI(t, mockConfig)

	out, _, err := runCLI(t, "", "once", "hello")
	require.NoError(t, err)
	assert.Contains(t, out, "AI: Mock response to: hello")
}

func TestOnce_Stdin(t *testing.T) {
	setupCLI(t, mockConfig)

	out, _, err := runCLI(t, "hello from a pipe\n", "once")
	require.NoError(t, err)
	assert.Contains(t, out, "Mock response to: hello from a pipe")
}

func TestOnce_NoInput(t *testing.T) {
	setupCLI(t, mockConfig)

	_, _, err := runCLI(t, "", "once")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no input")
}

func TestOnce_JSON(t *testing.T) {
	setupCLI(t, mockConfig)

	out, stderr, err := runCLI(t, "", "once", "--format", "json", "hello")
	require.NoError(t, err)
	assert.Contains(t, stderr, "AI: Mock response to: hello")

	var res onceResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, "hello", res.Input)
	assert.Equal(t, "Mock response to: hello", res.Response)
	assert.Equal(t, core.FinishDone, res.FinishReason)
	assert.Equal(t, "mock", res.Provider)
	assert.Nil(t, res.Error)
}

func TestOnce_OutputFile(t *testing.T) {
	dir := setupCLI(t, mockConfig)
	path := filepath.Join(dir, "result.txt")

	out, _, err := runCLI(t, "", "once", "-o", path, "hello")
	require.NoError(t, err)
	assert.Contains(t, out, "Result saved to")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "User: hello\n\nAI: Mock response to: hello\n", string(data))
}

func TestOnce_BadFormat(t *testing.T) {
	setupCLI(t, mockConfig)

	_, _, err := runCLI(t, "", "once", "--format", "xml", "hello")
	require.Error(t, err)
}

func TestOnce_AudioNeedsOpenAIKey(t *testing.T) {
	dir := setupCLI(t, mockConfig)
	audio := filepath.Join(dir, "q.wav")
	require.NoError(t, os.WriteFile(audio, []byte("RIFF"), 0o644))

	_, _, err := runCLI(t, "", "once", "-i", audio)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "openai.api_key")
}

func TestChat_Session(t *testing.T) {
	setupCLI(t, mockConfig)

	input := strings.Join([]string{"hello", "/stats", "/save conv.json", "/clear", "/load conv.json", "/nope", "/quit"}, "\n") + "\n"
	out, _, err := runCLI(t, input)
	require.NoError(t, err)

	assert.Contains(t, out, "TranscribeTalk "+version)
	assert.Contains(t, out, "AI: Mock response to: hello")
	assert.Contains(t, out, "inputs 1")
	assert.Contains(t, out, "Saved to conv.json")
	assert.Contains(t, out, "Conversation cleared")
	assert.Contains(t, out, "Loaded 2 messages from conv.json")
	assert.Contains(t, out, "unknown command /nope")
	assert.FileExists(t, "conv.json")
}

func TestChat_EOFEnds(t *testing.T) {
	setupCLI(t, mockConfig)

	out, _, err := runCLI(t, "hi\n", "chat")
	require.NoError(t, err)
	assert.Contains(t, out, "Mock response to: hi")
}

func TestChat_SessionResume(t *testing.T) {
	setupCLI(t, mockConfig)

	out, _, err := runCLI(t, "hello\n/quit\n", "chat", "--session", "work")
	require.NoError(t, err)
	assert.Contains(t, out, "New session work")

	out, _, err = runCLI(t, "/sessions\n/quit\n", "chat", "-s", "work")
	require.NoError(t, err)
	assert.Contains(t, out, "Resumed session work (2 messages)")
	assert.Contains(t, out, "* work")
}

func TestChat_InvalidSessionID(t *testing.T) {
	setupCLI(t, mockConfig)

	_, _, err := runCLI(t, "", "chat", "--session", "../x")
	require.Error(t, err)
}

func TestChat_SpeakDirectory(t *testing.T) {
	dir := setupCLI(t, mockConfig)

	out, _, err := runCLI(t, "hello\n/quit\n", "chat", "--speak", "voice")
	require.NoError(t, err)

	assert.DirExists(t, filepath.Join(dir, "voice"))
	assert.Contains(t, out, "speech: speech requires openai.api_key")
}

func TestChat_HelpAndMemory(t *testing.T) {
	setupCLI(t, mockConfig)

	out, _, err := runCLI(t, "/help\n/memory\n/quit\n")
	require.NoError(t, err)
	assert.Contains(t, out, "/voice <file>")
	assert.Contains(t, out, "(empty)")
}

func TestConfigShow_AppliesFlags(t *testing.T) {
	setupCLI(t, mockConfig)

	out, _, err := runCLI(t, "", "config", "show", "--model", "gpt-test", "--auto-confirm", "--dry-run")
	require.NoError(t, err)

	assert.Contains(t, out, "provider: mock")
	assert.Contains(t, out, "model: gpt-test")
	assert.Contains(t, out, "auto_confirm: true")
	assert.Contains(t, out, "dry_run: true")
}

func TestConfigValidate(t *testing.T) {
	setupCLI(t, mockConfig)

	out, _, err := runCLI(t, "", "config", "validate")
	require.NoError(t, err)
	assert.Contains(t, out, "Configuration is valid")

	_, _, err = runCLI(t, "", "config", "validate", "--provider", "openai")
	require.Error(t, err)
}

func TestConfigPath(t *testing.T) {
	setupCLI(t, "")

	out, _, err := runCLI(t, "", "config", "path")
	require.NoError(t, err)
	assert.Contains(t, out, "using defaults")
}

func TestMissingExplicitConfig(t *testing.T) {
	setupCLI(t, "")

	_, _, err := runCLI(t, "", "--config", "missing.yaml", "config", "show")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config file not found")
}
