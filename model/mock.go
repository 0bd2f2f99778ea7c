package model

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/alexbeletsky/transcribe-talk/core"
)

type mockStep struct {
	chunks []Response
	err    error
}

// MockModel is a scripted in-memory Model for tests and examples. Each
// Generate call consumes the next scripted step; once the script runs out it
// echoes the last user message.
type MockModel struct {
	mu       sync.Mutex
	info     Info
	steps    []mockStep
	requests []Request
}

// NewMockModel constructs a MockModel with tool support enabled.
func NewMockModel(name, provider string) *MockModel {
	return &MockModel{info: Info{Name: name, Provider: provider, SupportsTools: true}}
}

// AddResponse scripts one Generate call emitting chunks verbatim.
func (m *MockModel) AddResponse(chunks ...Response) *MockModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.steps = append(m.steps, mockStep{chunks: chunks})
	return m
}

// AddText scripts a streamed text answer split on whitespace.
func (m *MockModel) AddText(text string) *MockModel {
	return m.AddResponse(TextChunks(text)...)
}

// AddToolCalls scripts an answer requesting the given tool calls, each
// delivered as a single fragment.
func (m *MockModel) AddToolCalls(calls ...core.ToolCall) *MockModel {
	chunks := make([]Response, 0, len(calls)+1)
	for i, c := range calls {
		chunks = append(chunks, Response{Partial: true, ToolCalls: []ToolCallDelta{{Index: i, ID: c.ID, Name: c.Name, Arguments: c.Arguments}}})
	}
	chunks = append(chunks, Response{FinishReason: FinishToolCalls})
	return m.AddResponse(chunks...)
}

// AddError scripts a Generate call that emits chunks and then fails with err.
func (m *MockModel) AddError(err error, chunks ...Response) *MockModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.steps = append(m.steps, mockStep{chunks: chunks, err: err})
	return m
}

// Requests returns the requests received so far.
func (m *MockModel) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Request(nil), m.requests...)
}

// Calls returns the number of Generate invocations.
func (m *MockModel) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// Generate implements Model.
func (m *MockModel) Generate(ctx context.Context, req Request) (<-chan Response, <-chan error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	var step mockStep
	if len(m.steps) > 0 {
		step = m.steps[0]
		m.steps = m.steps[1:]
	} else {
		step = mockStep{chunks: TextChunks(fmt.Sprintf("Mock response to: %s", lastUserText(req.Messages)))}
	}
	m.mu.Unlock()

	respCh := make(chan Response, len(step.chunks))
	errCh := make(chan error, 1)

	go func() {
		defer close(respCh)
		defer close(errCh)
		for _, c := range step.chunks {
			select {
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			case respCh <- c:
			}
		}
		if step.err != nil {
			errCh <- step.err
		}
	}()

	return respCh, errCh
}

// Info implements Model interface.
func (m *MockModel) Info() Info { return m.info }

// TextChunks splits text into streamed word chunks followed by a final stop chunk.
func TextChunks(text string) []Response {
	var chunks []Response
	words := strings.SplitAfter(text, " ")
	for _, w := range words {
		if w == "" {
			continue
		}
		chunks = append(chunks, Response{Partial: true, Text: w})
	}
	return append(chunks, Response{FinishReason: FinishStop, Usage: &core.Usage{CompletionTokens: len(words), TotalTokens: len(words)}})
}

func lastUserText(msgs []core.Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == core.RoleUser {
			return msgs[i].Content
		}
	}
	return ""
}

var _ Model = (*MockModel)(nil)
