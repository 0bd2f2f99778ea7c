package history

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexbeletsky/transcribe-talk/core"
)

func at(sec int) time.Time { return time.Date(2025, 1, 2, 3, 4, sec, 500, time.UTC) }

func exchange(callID string) []core.Message {
	a := core.NewAssistantMessage("", core.ToolCall{ID: callID, Name: "list_directory", Arguments: `{"path":"."}`})
	r := core.NewToolMessage(callID, "list_directory", "a.txt\nb.txt")
	return []core.Message{a, r}
}

func TestAppend_Validation(t *testing.T) {
	h := New()
	require.NoError(t, h.Append(core.NewUserMessage("hi")))

	err := h.Append(core.Message{Role: "robot"})
	assert.ErrorIs(t, err, ErrInvalidMessage)

	err = h.Append(core.Message{Role: core.RoleTool, Content: "x"})
	assert.ErrorIs(t, err, ErrInvalidMessage)

	bad := core.NewUserMessage("x")
	bad.ToolCalls = []core.ToolCall{{ID: "1"}}
	assert.ErrorIs(t, h.Append(core.NewUserMessage("ok"), bad), ErrInvalidMessage)
	assert.Equal(t, 1, h.Len(), "failed batch must not be partially appended")
}

func TestMessages_ReturnsCopies(t *testing.T) {
	h := New()
	require.NoError(t, h.Append(exchange("c1")...))
	msgs := h.Messages()
	msgs[0].ToolCalls[0].Name = "mutated"
	assert.Equal(t, "list_directory", h.Messages()[0].ToolCalls[0].Name)
}

func TestCurated_DropsIncompleteExchange(t *testing.T) {
	h := New()
	require.NoError(t, h.Append(core.NewUserMessage("what files are here?")))
	require.NoError(t, h.Append(exchange("c1")...))

	// Simulated mid-turn cancellation: two calls requested, one answered.
	partial := core.NewAssistantMessage("checking",
		core.ToolCall{ID: "c2", Name: "read_file", Arguments: `{"file_path":"a.txt"}`},
		core.ToolCall{ID: "c3", Name: "read_file", Arguments: `{"file_path":"b.txt"}`},
	)
	require.NoError(t, h.Append(partial, core.NewToolMessage("c2", "read_file", "aaa")))

	curated := h.Curated()
	require.Len(t, curated, 3)
	assert.Equal(t, core.RoleUser, curated[0].Role)
	assert.Equal(t, "c1", curated[1].ToolCalls[0].ID)
	assert.Equal(t, "c1", curated[2].ToolCallID)
	assertCuratedInvariant(t, curated)

	assert.Equal(t, 5, h.Len(), "Curated must not modify history")
}

func TestCurated_DropsOrphanToolResponse(t *testing.T) {
	h := New()
	require.NoError(t, h.Append(core.NewToolMessage("ghost", "read_file", "x"), core.NewUserMessage("hi")))
	curated := h.Curated()
	require.Len(t, curated, 1)
	assert.Equal(t, core.RoleUser, curated[0].Role)
}

func TestCurated_InvariantOverPrefixes(t *testing.T) {
	var msgs []core.Message
	msgs = append(msgs, core.NewUserMessage("q"))
	msgs = append(msgs, core.NewAssistantMessage("", core.ToolCall{ID: "a", Name: "t"}, core.ToolCall{ID: "b", Name: "t"}))
	msgs = append(msgs, core.NewToolMessage("b", "t", "2"), core.NewToolMessage("a", "t", "1"))
	msgs = append(msgs, core.NewAssistantMessage("done"))

	// Every prefix models a cancellation at a different point.
	for i := 0; i <= len(msgs); i++ {
		h := New()
		require.NoError(t, h.Append(msgs[:i]...))
		assertCuratedInvariant(t, h.Curated())
	}
}

func assertCuratedInvariant(t *testing.T, msgs []core.Message) {
	t.Helper()
	responses := map[string]bool{}
	calls := map[string]bool{}
	for _, m := range msgs {
		if m.Role == core.RoleTool {
			responses[m.ToolCallID] = true
		}
		for _, tc := range m.ToolCalls {
			calls[tc.ID] = true
		}
	}
	for id := range calls {
		assert.True(t, responses[id], "call %s has no response", id)
	}
	for id := range responses {
		assert.True(t, calls[id], "response %s has no call", id)
	}
}

func TestExportImport_RoundTrip(t *testing.T) {
	src := New()
	msgs := []core.Message{
		{Role: core.RoleSystem, Content: "Previous conversation summary:\n...", Timestamp: at(1), Metadata: map[string]string{"kind": "summary"}},
		{Role: core.RoleUser, Content: "what files are here?", Timestamp: at(2)},
		{Role: core.RoleAssistant, ToolCalls: []core.ToolCall{{ID: "c1", Name: "list_directory", Arguments: `{"path":"."}`}}, Timestamp: at(3)},
		{Role: core.RoleTool, ToolCallID: "c1", Name: "list_directory", Content: "a.txt", Timestamp: at(4)},
		{Role: core.RoleAssistant, Content: "There is one file: a.txt", Timestamp: at(5)},
	}
	require.NoError(t, src.Append(msgs...))

	data, err := src.Export()
	require.NoError(t, err)

	dst := New()
	require.NoError(t, dst.Append(core.NewUserMessage("stale")))
	require.NoError(t, dst.Import(data))

	assert.Equal(t, src.Messages(), dst.Messages())
	for i, m := range dst.Messages() {
		assert.Equal(t, msgs[i].Role, m.Role)
		assert.Equal(t, msgs[i].Content, m.Content)
	}
}

func TestImport_Errors(t *testing.T) {
	h := New()
	assert.Error(t, h.Import([]byte("{")))
	assert.Error(t, h.Import([]byte(`{"version":2,"messages":[]}`)))
	assert.ErrorIs(t, h.Import([]byte(`{"version":1,"messages":[{"role":"tool","content":"x"}]}`)), ErrInvalidMessage)
}

func TestReplaceRange(t *testing.T) {
	h := New()
	for i := 0; i < 5; i++ {
		require.NoError(t, h.Append(core.NewUserMessage(string(rune('a'+i)))))
	}
	summary := core.NewSystemMessage("summary")
	require.NoError(t, h.ReplaceRange(0, 3, summary))

	msgs := h.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, "summary", msgs[0].Content)
	assert.Equal(t, "d", msgs[1].Content)
	assert.Equal(t, "e", msgs[2].Content)

	assert.ErrorIs(t, h.ReplaceRange(2, 2, summary), ErrInvalidRange)
	assert.ErrorIs(t, h.ReplaceRange(0, 9, summary), ErrInvalidRange)
}

func TestEstimateTokens(t *testing.T) {
	h := New()
	assert.Equal(t, 0, h.EstimateTokens())

	m := core.Message{Role: core.RoleUser, Content: "abcdefghijklmnopqrstuvwxyz0123456789"}
	require.NoError(t, h.Append(m))
	// (36 content + 4 role + 10 overhead) / 4
	assert.Equal(t, 12, h.EstimateTokens())
	assert.Equal(t, 12, h.EstimateRange(0, 1))
	assert.Equal(t, 0, h.EstimateRange(1, 0))

	assert.Equal(t, 1, HeuristicEstimator{}.EstimateMessage(core.Message{}))
}

func TestTiktokenEstimator(t *testing.T) {
	e := NewTiktokenEstimator()
	n := e.EstimateMessage(core.NewUserMessage("hello world, this is a test"))
	assert.Greater(t, n, 0)

	h := New(func(o *Options) { o.Estimator = e })
	require.NoError(t, h.Append(core.NewUserMessage("hello")))
	assert.Greater(t, h.EstimateTokens(), 0)
}

func TestSummary(t *testing.T) {
	h := New()
	require.NoError(t, h.Append(core.NewUserMessage("q")))
	require.NoError(t, h.Append(exchange("c1")...))
	s := h.Summary()
	assert.Equal(t, 3, s.Messages)
	assert.Equal(t, 1, s.ByRole[core.RoleTool])
	assert.False(t, s.Newest.Before(s.Oldest))

	h.Clear()
	assert.Equal(t, 0, h.Len())
}
