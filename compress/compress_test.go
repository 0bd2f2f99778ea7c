package compress

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexbeletsky/transcribe-talk/core"
	"github.com/alexbeletsky/transcribe-talk/history"
	"github.com/alexbeletsky/transcribe-talk/model"
)

func testOptions(o *Options) {
	o.TokenThreshold = 500
	o.PreserveRecent = 4
	o.MinCompressTokens = 100
}

func longHistory(t *testing.T, n int) *history.History {
	t.Helper()
	h := history.New()
	for i := 0; i < n; i++ {
		text := fmt.Sprintf("message %d %s", i, strings.Repeat("x", 600))
		if i%2 == 0 {
			require.NoError(t, h.Append(core.NewUserMessage(text)))
		} else {
			require.NoError(t, h.Append(core.NewAssistantMessage(text)))
		}
	}
	return h
}

func TestCompress_ReplacesPrefix(t *testing.T) {
	m := model.NewMockModel("summarizer", "mock").AddText("User and assistant exchanged filler.")
	c := New(m, testOptions)
	h := longHistory(t, 14)
	recent := h.Messages()[10:]

	require.True(t, c.ShouldCompress(h))
	res, err := c.Compress(context.Background(), h)
	require.NoError(t, err)
	assert.True(t, res.Compressed)
	assert.Equal(t, 14, res.MessagesBefore)
	assert.Equal(t, 5, res.MessagesAfter)
	assert.Less(t, res.TokensAfter, res.TokensBefore)

	msgs := h.Messages()
	require.Len(t, msgs, 5)
	assert.True(t, IsSummary(msgs[0]))
	assert.Equal(t, "Previous conversation summary:\nUser and assistant exchanged filler.", msgs[0].Content)
	for i, r := range recent {
		assert.Equal(t, r.Content, msgs[i+1].Content)
	}

	reqs := m.Requests()
	require.Len(t, reqs, 1)
	require.NotNil(t, reqs[0].Temperature)
	assert.InDelta(t, 0.3, *reqs[0].Temperature, 1e-9)
	assert.Equal(t, 600, reqs[0].MaxTokens)
	assert.Contains(t, reqs[0].Messages[1].Content, "message 0 ")
	assert.NotContains(t, reqs[0].Messages[1].Content, "message 10 ")
	assert.Contains(t, reqs[0].Messages[1].Content, strings.Repeat("x", 10)+"...")
}

func TestCompress_Idempotent(t *testing.T) {
	m := model.NewMockModel("summarizer", "mock").AddText("short summary")
	c := New(m, testOptions)
	h := longHistory(t, 14)

	_, err := c.Compress(context.Background(), h)
	require.NoError(t, err)
	snapshot, err := h.Export()
	require.NoError(t, err)
	before := h.Messages()

	res, err := c.Compress(context.Background(), h)
	require.NoError(t, err)
	assert.False(t, res.Compressed)
	assert.NotEmpty(t, res.SkipReason)
	assert.Equal(t, before, h.Messages())
	assert.Equal(t, 1, m.Calls())

	again, err := h.Export()
	require.NoError(t, err)
	assert.Equal(t, len(snapshot), len(again))
}

func TestCompress_SummaryOnlyPrefixSkipped(t *testing.T) {
	m := model.NewMockModel("summarizer", "mock")
	c := New(m, func(o *Options) {
		testOptions(o)
		o.TokenThreshold = 10
	})
	h := history.New()
	require.NoError(t, h.Append(core.NewSystemMessage("Previous conversation summary:\nx").WithMetadata(MetadataKind, KindSummary)))
	for i := 0; i < 4; i++ {
		require.NoError(t, h.Append(core.NewUserMessage(strings.Repeat("y", 200))))
	}

	res, err := c.Compress(context.Background(), h)
	require.NoError(t, err)
	assert.Equal(t, "already summarized", res.SkipReason)
	assert.Equal(t, 0, m.Calls())
}

func TestCompress_FailureIsNonDestructive(t *testing.T) {
	boom := errors.New("service down")
	m := model.NewMockModel("summarizer", "mock").AddError(boom)
	c := New(m, testOptions)
	h := longHistory(t, 14)
	before := h.Messages()

	_, err := c.Compress(context.Background(), h)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrCompressionFailed)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, before, h.Messages())
}

func TestCompress_SkipReasons(t *testing.T) {
	m := model.NewMockModel("summarizer", "mock")
	c := New(m, testOptions)

	h := history.New()
	require.NoError(t, h.Append(core.NewUserMessage("hi")))
	res, err := c.Compress(context.Background(), h)
	require.NoError(t, err)
	assert.Equal(t, "below threshold", res.SkipReason)

	c = New(m, func(o *Options) {
		testOptions(o)
		o.TokenThreshold = 10
		o.MinCompressTokens = 10000
	})
	res, err = c.Compress(context.Background(), longHistory(t, 8))
	require.NoError(t, err)
	assert.Contains(t, res.SkipReason, "prefix too small")
	assert.Equal(t, 0, m.Calls())
}

func TestBoundary_KeepsToolExchangeTogether(t *testing.T) {
	c := New(nil, func(o *Options) { o.PreserveRecent = 2 })
	msgs := []core.Message{
		core.NewUserMessage("q1"),
		core.NewAssistantMessage("a1"),
		core.NewUserMessage("what files are here?"),
		core.NewAssistantMessage("", core.ToolCall{ID: "1", Name: "list_directory"}, core.ToolCall{ID: "2", Name: "read_file"}),
		core.NewToolMessage("1", "list_directory", "a.txt"),
		core.NewToolMessage("2", "read_file", "hello"),
	}
	assert.Equal(t, 3, c.Boundary(msgs))
	assert.Equal(t, 0, c.Boundary(msgs[:2]))

	c = New(nil, func(o *Options) { o.PreserveRecent = 0 })
	assert.Equal(t, 6, c.Boundary(msgs))
}

func TestTranscript(t *testing.T) {
	c := New(nil, func(o *Options) { o.MaxMessageChars = 5 })
	out := c.Transcript([]core.Message{
		core.NewSystemMessage("system prompt"),
		core.NewSystemMessage(summaryPrefix + "old").WithMetadata(MetadataKind, KindSummary),
		core.NewUserMessage("hello world"),
		core.NewAssistantMessage("", core.ToolCall{ID: "1", Name: "list_directory", Arguments: `{"path":"."}`}),
		core.NewToolMessage("1", "list_directory", "a.txt b.txt"),
	})
	assert.Equal(t, "Earlier summary: old\n\nUser: hello...\n\nAssistant: [called list_directory({\"path\":\".\"})]\n\nTool (list_directory): a.txt...", out)
}
