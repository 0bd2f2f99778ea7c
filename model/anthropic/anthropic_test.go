package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexbeletsky/transcribe-talk/core"
	"github.com/alexbeletsky/transcribe-talk/model"
)

var streamEvents = []struct{ name, data string }{
	{"message_start", `{"type":"message_start","message":{"id":"msg_1","type":"message","role":"assistant","model":"claude","content":[],"stop_reason":null,"stop_sequence":null,"usage":{"input_tokens":11,"output_tokens":1}}}`},
	{"content_block_start", `{"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`},
	{"content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Checking"}}`},
	{"content_block_stop", `{"type":"content_block_stop","index":0}`},
	{"content_block_start", `{"type":"content_block_start","index":1,"content_block":{"type":"tool_use","id":"toolu_1","name":"list_directory","input":{}}}`},
	{"content_block_delta", `{"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"{\"path\":"}}`},
	{"content_block_delta", `{"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"\".\"}"}}`},
	{"content_block_stop", `{"type":"content_block_stop","index":1}`},
	{"message_delta", `{"type":"message_delta","delta":{"stop_reason":"tool_use","stop_sequence":null},"usage":{"output_tokens":9}}`},
	{"message_stop", `{"type":"message_stop"}`},
}

func TestGenerate_Streaming(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(raw, &body))
		w.Header().Set("Content-Type", "text/event-stream")
		for _, ev := range streamEvents {
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.name, ev.data)
		}
	}))
	defer srv.Close()

	client := anthropic.NewClient(option.WithBaseURL(srv.URL), option.WithAPIKey("test"), option.WithMaxRetries(0))
	m := NewModelFromClient(&client)

	req := model.Request{
		Messages: []core.Message{
			core.NewSystemMessage("be brief"),
			core.NewUserMessage("what files are here?"),
			core.NewAssistantMessage("", core.ToolCall{ID: "a", Name: "read_file", Arguments: `{"file_path":"x"}`}),
			core.NewToolMessage("a", "read_file", "x content"),
		},
		Tools: []model.ToolDefinition{{Type: "function", Function: model.FunctionDefinition{
			Name: "list_directory", Description: "List files",
			Parameters: map[string]any{"type": "object", "properties": map[string]any{"path": map[string]any{"type": "string"}}, "required": []string{"path"}},
		}}},
		Stream: true,
	}

	c, err := model.Collect(context.Background(), m, req)
	require.NoError(t, err)
	assert.Equal(t, "Checking", c.Text)
	require.Len(t, c.ToolCalls, 1)
	assert.Equal(t, core.ToolCall{ID: "toolu_1", Name: "list_directory", Arguments: `{"path":"."}`}, c.ToolCalls[0])
	assert.Equal(t, model.FinishToolCalls, c.FinishReason)
	require.NotNil(t, c.Usage)
	assert.Equal(t, 20, c.Usage.TotalTokens)

	assert.NotNil(t, body["system"])
	msgs, _ := body["messages"].([]any)
	require.Len(t, msgs, 3, "system is lifted out and the tool result becomes a user message")
	last, _ := msgs[2].(map[string]any)
	assert.Equal(t, "user", last["role"])
}

func TestBuildMessages_GroupsToolResults(t *testing.T) {
	msgs := buildMessages([]core.Message{
		core.NewUserMessage("q"),
		core.NewAssistantMessage("", core.ToolCall{ID: "1", Name: "a"}, core.ToolCall{ID: "2", Name: "b"}),
		core.NewToolMessage("1", "a", "r1"),
		core.NewToolMessage("2", "b", "r2"),
		core.NewAssistantMessage("done"),
	})
	require.Len(t, msgs, 4)
	assert.Len(t, msgs[2].Content, 2)
}

func TestNormalizeStopReason(t *testing.T) {
	assert.Equal(t, model.FinishStop, normalizeStopReason("end_turn"))
	assert.Equal(t, model.FinishToolCalls, normalizeStopReason("tool_use"))
	assert.Equal(t, model.FinishLength, normalizeStopReason("max_tokens"))
}

func TestRateLimitIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, `{"type":"error","error":{"type":"overloaded_error","message":"busy"}}`)
	}))
	defer srv.Close()

	client := anthropic.NewClient(option.WithBaseURL(srv.URL), option.WithAPIKey("test"), option.WithMaxRetries(0))
	_, err := model.Collect(context.Background(), NewModelFromClient(&client), model.Request{
		Messages: []core.Message{core.NewUserMessage("hi")},
		Stream:   true,
	})
	assert.ErrorIs(t, err, core.ErrTransientService)
}
