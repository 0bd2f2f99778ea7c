// Package openai provides an implementation of model.Model using the OpenAI
// Chat Completions API (streaming, tool calling and usage reporting). It
// adapts the normalized model.Request into SDK messages and streams chunks
// back as model.Response values.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/openai/openai-go"

	"github.com/alexbeletsky/transcribe-talk/core"
	"github.com/alexbeletsky/transcribe-talk/model"
)

// reasoningField is the non-standard delta field used by reasoning capable
// OpenAI compatible servers.
const reasoningField = "reasoning_content"

// Options configure the OpenAI model adapter. Request level Temperature and
// MaxTokens override these defaults.
type Options struct {
	Model               string
	Temperature         float64
	MaxCompletionTokens int64
}

// Model wraps the OpenAI Chat Completions API behind the generic model.Model interface.
type Model struct {
	client *openai.Client
	opts   Options
}

// NewModel creates a new OpenAI model using the official client configured
// from the environment (OPENAI_API_KEY, OPENAI_BASE_URL).
func NewModel(optFns ...func(o *Options)) *Model {
	client := openai.NewClient()
	return NewModelFromClient(&client, optFns...)
}

// NewModelFromClient creates a new OpenAI model from an existing client.
func NewModelFromClient(client *openai.Client, optFns ...func(o *Options)) *Model {
	opts := Options{
		Model:               openai.ChatModelGPT4oMini,
		Temperature:         0.7,
		MaxCompletionTokens: 1024,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Model{client: client, opts: opts}
}

// Generate implements model.Model.
func (m *Model) Generate(ctx context.Context, req model.Request) (<-chan model.Response, <-chan error) {
	out := make(chan model.Response, 32)
	errCh := make(chan error, 1)
	go func() {
		defer close(out)
		defer close(errCh)
		params := m.buildParams(req, buildMessages(req.Messages))
		var err error
		if req.Stream {
			err = m.handleStreaming(ctx, params, out)
		} else {
			err = m.handleNonStreaming(ctx, params, out)
		}
		if err != nil {
			errCh <- err
		}
	}()
	return out, errCh
}

// buildMessages converts history messages into OpenAI chat messages.
func buildMessages(msgs []core.Message) []openai.ChatCompletionMessageParamUnion {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, msg := range msgs {
		switch msg.Role {
		case core.RoleSystem:
			messages = append(messages, openai.SystemMessage(msg.Content))
		case core.RoleUser:
			messages = append(messages, openai.UserMessage(msg.Content))
		case core.RoleTool:
			messages = append(messages, openai.ToolMessage(msg.Content, msg.ToolCallID))
		case core.RoleAssistant:
			if !msg.HasToolCalls() {
				messages = append(messages, openai.AssistantMessage(msg.Content))
				continue
			}
			toolCalls := make([]openai.ChatCompletionMessageToolCallParam, len(msg.ToolCalls))
			for i, tc := range msg.ToolCalls {
				toolCalls[i] = openai.ChatCompletionMessageToolCallParam{
					ID:   tc.ID,
					Type: "function",
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      tc.Name,
						Arguments: tc.Arguments,
					},
				}
			}
			assistant := &openai.ChatCompletionAssistantMessageParam{Role: "assistant", ToolCalls: toolCalls}
			if msg.Content != "" {
				assistant.Content = openai.ChatCompletionAssistantMessageParamContentUnion{OfString: openai.String(msg.Content)}
			}
			messages = append(messages, openai.ChatCompletionMessageParamUnion{OfAssistant: assistant})
		}
	}
	return messages
}

// buildParams assembles the OpenAI request parameters including tool definitions.
func (m *Model) buildParams(req model.Request, messages []openai.ChatCompletionMessageParamUnion) openai.ChatCompletionNewParams {
	temperature := m.opts.Temperature
	if req.Temperature != nil {
		temperature = *req.Temperature
	}
	maxTokens := m.opts.MaxCompletionTokens
	if req.MaxTokens > 0 {
		maxTokens = int64(req.MaxTokens)
	}

	params := openai.ChatCompletionNewParams{
		Messages:            messages,
		Model:               m.opts.Model,
		Temperature:         openai.Float(temperature),
		MaxCompletionTokens: openai.Int(maxTokens),
	}
	if req.Stream {
		params.StreamOptions = openai.ChatCompletionStreamOptionsParam{IncludeUsage: openai.Bool(true)}
	}
	if len(req.Tools) == 0 {
		return params
	}
	tools := make([]openai.ChatCompletionToolParam, len(req.Tools))
	for i, tdef := range req.Tools {
		tools[i] = openai.ChatCompletionToolParam{
			Type: "function",
			Function: openai.FunctionDefinitionParam{
				Name:        tdef.Function.Name,
				Description: openai.String(tdef.Function.Description),
				Parameters:  tdef.Function.Parameters,
			},
		}
	}
	params.Tools = tools
	return params
}

// handleStreaming forwards deltas as partial chunks and emits one final chunk
// with the finish reason and usage once the stream is exhausted.
func (m *Model) handleStreaming(ctx context.Context, params openai.ChatCompletionNewParams, out chan<- model.Response) error {
	stream := m.client.Chat.Completions.NewStreaming(ctx, params)
	defer stream.Close()

	final := model.Response{}
	for stream.Next() {
		ck := stream.Current()
		if final.ID == "" {
			final.ID = ck.ID
		}
		if ck.Usage.TotalTokens > 0 {
			final.Usage = convertUsage(ck.Usage)
		}
		for _, ch := range ck.Choices {
			if r, ok := deltaResponse(ck.ID, ch); ok {
				if err := send(ctx, out, r); err != nil {
					return err
				}
			}
			if ch.FinishReason != "" {
				final.FinishReason = normalizeFinishReason(ch.FinishReason)
			}
		}
	}
	if err := stream.Err(); err != nil {
		return fmt.Errorf("openai streaming error: %w", classify(err))
	}
	return send(ctx, out, final)
}

func deltaResponse(id string, ch openai.ChatCompletionChunkChoice) (model.Response, bool) {
	r := model.Response{ID: id, Partial: true, Text: ch.Delta.Content, Raw: ch.Delta.RawJSON()}
	if f, ok := ch.Delta.JSON.ExtraFields[reasoningField]; ok && f.Valid() {
		var thought string
		if json.Unmarshal([]byte(f.Raw()), &thought) == nil {
			r.Thought = thought
		}
	}
	for _, tc := range ch.Delta.ToolCalls {
		r.ToolCalls = append(r.ToolCalls, model.ToolCallDelta{
			Index:     int(tc.Index),
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return r, r.Text != "" || r.Thought != "" || len(r.ToolCalls) > 0
}

// handleNonStreaming processes a normal (non-streaming) completion.
func (m *Model) handleNonStreaming(ctx context.Context, params openai.ChatCompletionNewParams, out chan<- model.Response) error {
	resp, err := m.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return fmt.Errorf("openai api error: %w", classify(err))
	}
	if len(resp.Choices) == 0 {
		return fmt.Errorf("openai api error: no choices returned")
	}
	ch0 := resp.Choices[0]
	r := model.Response{
		ID:           resp.ID,
		Text:         ch0.Message.Content,
		FinishReason: normalizeFinishReason(ch0.FinishReason),
		Usage:        convertUsage(resp.Usage),
		Raw:          resp.RawJSON(),
	}
	for i, tc := range ch0.Message.ToolCalls {
		r.ToolCalls = append(r.ToolCalls, model.ToolCallDelta{Index: i, ID: tc.ID, Name: tc.Function.Name, Arguments: tc.Function.Arguments})
	}
	return send(ctx, out, r)
}

func send(ctx context.Context, out chan<- model.Response, r model.Response) error {
	select {
	case out <- r:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func convertUsage(u openai.CompletionUsage) *core.Usage {
	if u.TotalTokens == 0 && u.PromptTokens == 0 && u.CompletionTokens == 0 {
		return nil
	}
	return &core.Usage{
		PromptTokens:     int(u.PromptTokens),
		CompletionTokens: int(u.CompletionTokens),
		TotalTokens:      int(u.TotalTokens),
	}
}

func normalizeFinishReason(reason string) string {
	switch reason {
	case "tool_calls", "function_call":
		return model.FinishToolCalls
	case "":
		return ""
	default:
		return reason
	}
}

// classify marks retryable API failures as transient.
func classify(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return model.ClassifyError(err, apiErr.StatusCode)
	}
	return model.ClassifyError(err, 0)
}

// Info returns metadata describing this OpenAI model implementation.
func (m *Model) Info() model.Info {
	return model.Info{
		Name:          m.opts.Model,
		Provider:      "openai",
		SupportsTools: true,
	}
}

var _ model.Model = (*Model)(nil)
