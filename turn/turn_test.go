package turn

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexbeletsky/transcribe-talk/core"
	"github.com/alexbeletsky/transcribe-talk/internal/testutil"
	"github.com/alexbeletsky/transcribe-talk/loopdetect"
	"github.com/alexbeletsky/transcribe-talk/model"
)

func userRequest(text string) model.Request {
	return model.Request{Messages: []core.Message{core.NewUserMessage(text)}, Stream: true}
}

func TestRun_TextAndThought(t *testing.T) {
	m := model.NewMockModel("m", "mock").AddResponse(
		model.Response{Partial: true, Thought: "thinking"},
		model.Response{Partial: true, Text: "Hello "},
		model.Response{Partial: true, Text: "world"},
		model.Response{FinishReason: model.FinishStop, Usage: &core.Usage{TotalTokens: 7}},
	)

	tr := New(m)
	events := testutil.Collect(t, tr.Run(context.Background(), userRequest("hi")))

	assert.Equal(t, []core.EventType{core.EventThought, core.EventContent, core.EventContent, core.EventFinished}, testutil.Types(events))
	assert.Equal(t, "Hello ", events[1].Text)
	assert.Equal(t, "world", events[2].Text)
	last := events[3]
	assert.Equal(t, core.FinishDone, last.FinishReason)
	require.NotNil(t, last.Usage)
	assert.Equal(t, 7, last.Usage.TotalTokens)
	for _, ev := range events {
		assert.Equal(t, tr.ID(), ev.TurnID)
	}
}

func TestRun_FragmentedToolCalls(t *testing.T) {
	m := model.NewMockModel("m", "mock").AddResponse(
		model.Response{Partial: true, Text: "Let me look."},
		model.Response{Partial: true, ToolCalls: []model.ToolCallDelta{{Index: 0, ID: "call_a", Name: "list_directory", Arguments: `{"pa`}}},
		model.Response{Partial: true, ToolCalls: []model.ToolCallDelta{{Index: 1, ID: "call_b", Name: "read_file", Arguments: `{"file_path":`}}},
		model.Response{Partial: true, ToolCalls: []model.ToolCallDelta{{Index: 0, Arguments: `th":"."}`}}},
		model.Response{Partial: true, ToolCalls: []model.ToolCallDelta{{Index: 1, Arguments: `"a.txt"}`}}},
		model.Response{FinishReason: model.FinishToolCalls},
	)

	events := testutil.Collect(t, New(m).Run(context.Background(), userRequest("what files are here?")))
	require.Equal(t, []core.EventType{core.EventContent, core.EventToolCallRequest, core.EventToolCallRequest, core.EventFinished}, testutil.Types(events))

	first := events[1].ToolCall
	assert.Equal(t, "call_a", first.ID)
	assert.Equal(t, "list_directory", first.Name)
	assert.Equal(t, map[string]any{"path": "."}, first.Arguments)
	assert.Equal(t, `{"path":"."}`, first.RawArguments)

	second := events[2].ToolCall
	assert.Equal(t, "call_b", second.ID)
	assert.Equal(t, map[string]any{"file_path": "a.txt"}, second.Arguments)

	assert.Equal(t, core.FinishToolCalls, events[3].FinishReason)
}

func TestRun_EmptyArgumentsAndMissingIDs(t *testing.T) {
	m := model.NewMockModel("m", "mock").AddResponse(
		model.Response{Partial: true, ToolCalls: []model.ToolCallDelta{{Index: 0, Name: "read_memory"}}},
		model.Response{Partial: true, ToolCalls: []model.ToolCallDelta{{Index: 1, ID: "dup", Name: "list_directory", Arguments: `{}`}}},
		model.Response{Partial: true, ToolCalls: []model.ToolCallDelta{{Index: 2, ID: "dup", Name: "list_directory", Arguments: `{"path":"src"}`}}},
		model.Response{FinishReason: model.FinishStop},
	)

	events := testutil.Collect(t, New(m).Run(context.Background(), userRequest("x")))
	require.Equal(t, []core.EventType{core.EventToolCallRequest, core.EventToolCallRequest, core.EventToolCallRequest, core.EventFinished}, testutil.Types(events))

	ids := map[string]bool{}
	for _, ev := range events[:3] {
		require.NotEmpty(t, ev.ToolCall.ID)
		ids[ev.ToolCall.ID] = true
	}
	assert.Len(t, ids, 3)

	// the empty-argument call resolves at stream end but keeps index order
	assert.Equal(t, "read_memory", events[0].ToolCall.Name)
	assert.Equal(t, map[string]any{}, events[0].ToolCall.Arguments)
	assert.Equal(t, "dup", events[1].ToolCall.ID)
	assert.Equal(t, core.FinishToolCalls, events[3].FinishReason)
}

func TestRun_MalformedToolCall(t *testing.T) {
	m := model.NewMockModel("m", "mock").AddResponse(
		model.Response{Partial: true, ToolCalls: []model.ToolCallDelta{{Index: 0, ID: "c1", Name: "list_directory", Arguments: `{"path": "."`}}},
		model.Response{FinishReason: model.FinishToolCalls},
	)

	events := testutil.Collect(t, New(m).Run(context.Background(), userRequest("x")))
	require.Len(t, events, 1)
	require.Equal(t, core.EventError, events[0].Type)
	assert.Equal(t, core.ErrorKindMalformed, events[0].Error.Kind)
	assert.ErrorIs(t, events[0].Error.Err, core.ErrMalformedStream)
}

func TestTruncate_KeepsRunesWhole(t *testing.T) {
	s := strings.Repeat("é", 300)

	got := truncate(s, 200)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, strings.Repeat("é", 200)+"...", got)
	assert.Equal(t, "short", truncate("short", 200))
}

func TestRun_RepairArguments(t *testing.T) {
	m := model.NewMockModel("m", "mock").AddResponse(
		model.Response{Partial: true, ToolCalls: []model.ToolCallDelta{{Index: 0, ID: "c1", Name: "list_directory", Arguments: `{"path": "."`}}},
		model.Response{FinishReason: model.FinishToolCalls},
	)

	events := testutil.Collect(t, New(m, func(o *Options) { o.RepairArguments = true }).Run(context.Background(), userRequest("x")))
	require.Equal(t, []core.EventType{core.EventToolCallRequest, core.EventFinished}, testutil.Types(events))
	assert.Equal(t, map[string]any{"path": "."}, events[0].ToolCall.Arguments)
}

func TestRun_LoopDetected(t *testing.T) {
	detector := loopdetect.New(func(o *loopdetect.Options) { o.Threshold = 3 })
	call := core.ToolCall{ID: "c", Name: "list_directory", Arguments: `{"path":"."}`}

	for i := 0; i < 2; i++ {
		m := model.NewMockModel("m", "mock").AddToolCalls(call)
		events := testutil.Collect(t, New(m, func(o *Options) { o.LoopDetector = detector }).Run(context.Background(), userRequest("x")))
		require.Equal(t, []core.EventType{core.EventToolCallRequest, core.EventFinished}, testutil.Types(events))
	}

	m := model.NewMockModel("m", "mock").AddToolCalls(call, core.ToolCall{ID: "d", Name: "read_file", Arguments: `{"file_path":"a"}`})
	events := testutil.Collect(t, New(m, func(o *Options) { o.LoopDetector = detector }).Run(context.Background(), userRequest("x")))

	require.Len(t, events, 1)
	ev := events[0]
	require.Equal(t, core.EventError, ev.Type)
	assert.Equal(t, core.ErrorKindLoopDetected, ev.Error.Kind)
	require.NotNil(t, ev.Error.Call)
	assert.Equal(t, "list_directory", ev.Error.Call.Name)

	var loopErr *core.LoopDetectedError
	require.True(t, errors.As(ev.Error.Err, &loopErr))
	assert.Equal(t, 3, loopErr.Occurrences)
}

func TestRun_LogsModelCall(t *testing.T) {
	logger := &testutil.RecordingLogger{}
	m := model.NewMockModel("gpt-test", "mock").
		AddResponse(model.Response{Partial: true, Text: "ok"}, model.Response{FinishReason: model.FinishStop, Usage: &core.Usage{TotalTokens: 7}}).
		AddError(errors.New("boom"))

	testutil.Collect(t, New(m, func(o *Options) { o.Logger = logger }).Run(context.Background(), userRequest("x")))
	done := logger.Find("llm.call.completed")
	require.Len(t, done, 1)
	assert.Equal(t, "gpt-test", done[0].Args["model"])
	assert.Equal(t, 7, done[0].Args["token_count"])

	testutil.Collect(t, New(m, func(o *Options) { o.Logger = logger }).Run(context.Background(), userRequest("y")))
	failed := logger.Find("llm.call.failed")
	require.Len(t, failed, 1)
	assert.Equal(t, "boom", failed[0].Args["error"])
}

func TestRun_ServiceError(t *testing.T) {
	boom := model.Transient(errors.New("rate limited"))
	m := model.NewMockModel("m", "mock").AddError(boom, model.Response{Partial: true, Text: "partial"})

	events := testutil.Collect(t, New(m).Run(context.Background(), userRequest("x")))
	require.Equal(t, []core.EventType{core.EventContent, core.EventError}, testutil.Types(events))
	assert.Equal(t, core.ErrorKindService, events[1].Error.Kind)
	assert.True(t, events[1].Error.Recoverable)
}

func TestRun_DebugFrames(t *testing.T) {
	m := model.NewMockModel("m", "mock").AddResponse(
		model.Response{Partial: true, Text: "x", Raw: map[string]any{"frame": 1}},
		model.Response{FinishReason: model.FinishLength},
	)

	events := testutil.Collect(t, New(m, func(o *Options) { o.Debug = true }).Run(context.Background(), userRequest("x")))
	require.Equal(t, []core.EventType{core.EventDebug, core.EventContent, core.EventFinished}, testutil.Types(events))
	assert.Equal(t, core.FinishLength, events[2].FinishReason)
}

type blockingModel struct {
	started chan struct{}
}

func (b *blockingModel) Generate(ctx context.Context, req model.Request) (<-chan model.Response, <-chan error) {
	respCh := make(chan model.Response)
	errCh := make(chan error, 1)
	go func() {
		defer close(respCh)
		defer close(errCh)
		select {
		case respCh <- model.Response{Partial: true, Text: "first"}:
		case <-ctx.Done():
			errCh <- ctx.Err()
			return
		}
		close(b.started)
		<-ctx.Done()
		errCh <- ctx.Err()
	}()
	return respCh, errCh
}

func (b *blockingModel) Info() model.Info { return model.Info{Name: "blocking"} }

func TestRun_Cancellation(t *testing.T) {
	m := &blockingModel{started: make(chan struct{})}
	ctx, cancel := context.WithCancel(context.Background())
	ch := New(m).Run(ctx, userRequest("x"))

	ev := <-ch
	assert.Equal(t, core.EventContent, ev.Type)
	<-m.started
	cancel()

	for ev := range ch {
		assert.NotEqual(t, core.EventFinished, ev.Type)
	}
}
