package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LogLevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, LogLevelWarn, ParseLevel("warning"))
	assert.Equal(t, LogLevelError, ParseLevel(" error "))
	assert.Equal(t, LogLevelInfo, ParseLevel("verbose"))
}

func TestTalkLogger_JSONFields(t *testing.T) {
	var buf bytes.Buffer
	var l Logger = NewLogger(&LoggerConfig{Level: LogLevelDebug, Format: "json", Output: &buf})
	l = WithConversation(WithComponent(l, "scheduler"), "c-1")

	LogToolCall(l, "list_directory", "success", 12*time.Millisecond, nil)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "tool.call.completed", entry["msg"])
	assert.Equal(t, "scheduler", entry["component"])
	assert.Equal(t, "c-1", entry["conversation_id"])
	assert.Equal(t, "list_directory", entry["tool_name"])
	assert.EqualValues(t, 12, entry["duration_ms"])
}

func TestTalkLogger_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&LoggerConfig{Level: LogLevelWarn, Output: &buf})
	l.Info("hidden")
	LogLLMCall(l, "gpt-4o-mini", 10, time.Second, errors.New("boom"))

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.True(t, strings.Contains(out, "llm.call.failed"))
}

func TestWithComponentDoesNotMutate(t *testing.T) {
	base := NewLogger(&LoggerConfig{Output: &bytes.Buffer{}})
	scoped := base.WithComponent("turn")
	assert.Empty(t, base.component)
	assert.Equal(t, "turn", scoped.component)
}

func TestHelpers_NoOpAndScoping(t *testing.T) {
	var l Logger = NoOpLogger{}
	assert.Equal(t, l, WithComponent(l, "agent"))
	assert.Equal(t, l, WithConversation(l, "c-1"))

	LogTurn(l, "turn-1", 0, 2, "tool_calls", time.Second)
	StartTimer(l, "noop")()
}

func TestLogTurnAndTimer(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&LoggerConfig{Level: LogLevelDebug, Format: "json", Output: &buf})

	LogTurn(WithComponent(l, "agent"), "turn-1", 1, 2, "tool_calls", 30*time.Millisecond)
	StartTimer(l, "compress")()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var turn map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &turn))
	assert.Equal(t, "turn.completed", turn["msg"])
	assert.Equal(t, "agent", turn["component"])
	assert.EqualValues(t, 2, turn["tool_calls"])
	assert.Equal(t, "tool_calls", turn["finish_reason"])

	var timer map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &timer))
	assert.Equal(t, "operation.completed", timer["msg"])
	assert.Equal(t, "compress", timer["operation"])
}

func TestWithConversation_EmptyIDKeepsLogger(t *testing.T) {
	l := NewLogger(&LoggerConfig{Output: &bytes.Buffer{}})
	assert.Same(t, l, WithConversation(l, "").(*TalkLogger))
}
