// Package anthropic provides a model.Model implementation for the Anthropic
// Messages API with streaming text, thinking and tool use.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"

	"github.com/alexbeletsky/transcribe-talk/core"
	"github.com/alexbeletsky/transcribe-talk/model"
)

// Options configures the Anthropic model adapter (temperature, model id,
// max tokens, API key).
type Options struct {
	Model       anthropic.Model
	Temperature float64
	MaxTokens   int64
	APIKey      string
}

func defaultOptions() Options {
	return Options{
		Model:       anthropic.ModelClaude3_5Sonnet20241022,
		Temperature: 0.7,
		MaxTokens:   1024,
	}
}

// Model wraps the Anthropic Messages API behind the generic model.Model interface.
type Model struct {
	client *anthropic.Client
	opts   Options
}

// NewModel creates a new Anthropic model using the official client.
func NewModel(optFns ...func(o *Options)) *Model {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	client := anthropic.NewClient(clientOpts...)

	return &Model{client: &client, opts: opts}
}

// NewModelFromClient creates a new Anthropic model from an existing client.
func NewModelFromClient(client *anthropic.Client, optFns ...func(o *Options)) *Model {
	opts := defaultOptions()
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

		params := m.buildParams(req)
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

func (m *Model) buildParams(req model.Request) anthropic.MessageNewParams {
	temperature := m.opts.Temperature
	if req.Temperature != nil {
		temperature = *req.Temperature
	}
	maxTokens := m.opts.MaxTokens
	if req.MaxTokens > 0 {
		maxTokens = int64(req.MaxTokens)
	}

	params := anthropic.MessageNewParams{
		Model:       m.opts.Model,
		Messages:    buildMessages(req.Messages),
		MaxTokens:   maxTokens,
		Temperature: anthropic.Float(temperature),
	}
	if system := systemBlocks(req.Messages); len(system) > 0 {
		params.System = system
	}
	if len(req.Tools) > 0 {
		params.Tools = buildTools(req.Tools)
	}
	return params
}

// buildMessages converts history into Anthropic messages. Consecutive
// tool-role messages are folded into one user message of tool_result blocks.
func buildMessages(msgs []core.Message) []anthropic.MessageParam {
	var (
		messages    []anthropic.MessageParam
		toolResults []anthropic.ContentBlockParamUnion
	)
	flush := func() {
		if len(toolResults) > 0 {
			messages = append(messages, anthropic.NewUserMessage(toolResults...))
			toolResults = nil
		}
	}

	for _, msg := range msgs {
		switch msg.Role {
		case core.RoleSystem:
			continue
		case core.RoleTool:
			isError := msg.Metadata["status"] != "" && msg.Metadata["status"] != string(core.ToolCallSuccess)
			toolResults = append(toolResults, anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, isError))
		case core.RoleUser:
			flush()
			if msg.Content != "" {
				messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
			}
		case core.RoleAssistant:
			flush()
			var content []anthropic.ContentBlockParamUnion
			if msg.Content != "" {
				content = append(content, anthropic.NewTextBlock(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				var input any = map[string]any{}
				if tc.Arguments != "" {
					if err := json.Unmarshal([]byte(tc.Arguments), &input); err != nil {
						input = tc.Arguments
					}
				}
				content = append(content, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
			}
			if len(content) > 0 {
				messages = append(messages, anthropic.NewAssistantMessage(content...))
			}
		}
	}
	flush()

	return messages
}

func systemBlocks(msgs []core.Message) []anthropic.TextBlockParam {
	var blocks []anthropic.TextBlockParam
	for _, msg := range msgs {
		if msg.Role == core.RoleSystem && msg.Content != "" {
			blocks = append(blocks, anthropic.TextBlockParam{Text: msg.Content})
		}
	}
	return blocks
}

// buildTools converts tool definitions to Anthropic tool format.
func buildTools(tools []model.ToolDefinition) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, len(tools))
	for i, tool := range tools {
		inputSchema := anthropic.ToolInputSchemaParam{Type: constant.Object("object")}
		if params := tool.Function.Parameters; params != nil {
			if properties, ok := params["properties"]; ok {
				inputSchema.Properties = properties
			}
			switch req := params["required"].(type) {
			case []string:
				inputSchema.Required = req
			case []any:
				for _, r := range req {
					if s, ok := r.(string); ok {
						inputSchema.Required = append(inputSchema.Required, s)
					}
				}
			}
		}
		u := anthropic.ToolUnionParamOfTool(inputSchema, tool.Function.Name)
		if u.OfTool != nil && tool.Function.Description != "" {
			u.OfTool.Description = anthropic.String(tool.Function.Description)
		}
		out[i] = u
	}
	return out
}

// handleStreaming translates SSE events into model chunks. Tool call fragments
// are keyed by the content block index.
func (m *Model) handleStreaming(ctx context.Context, params anthropic.MessageNewParams, out chan<- model.Response) error {
	stream := m.client.Messages.NewStreaming(ctx, params)
	defer stream.Close()

	final := model.Response{}
	usage := core.Usage{}
	for stream.Next() {
		event := stream.Current()
		var chunk *model.Response

		switch ev := event.AsAny().(type) {
		case anthropic.MessageStartEvent:
			final.ID = ev.Message.ID
			usage.PromptTokens = int(ev.Message.Usage.InputTokens)
		case anthropic.ContentBlockStartEvent:
			if tu, ok := ev.ContentBlock.AsAny().(anthropic.ToolUseBlock); ok {
				chunk = &model.Response{ToolCalls: []model.ToolCallDelta{{Index: int(ev.Index), ID: tu.ID, Name: tu.Name}}}
			}
		case anthropic.ContentBlockDeltaEvent:
			switch d := ev.Delta.AsAny().(type) {
			case anthropic.TextDelta:
				chunk = &model.Response{Text: d.Text}
			case anthropic.ThinkingDelta:
				chunk = &model.Response{Thought: d.Thinking}
			case anthropic.InputJSONDelta:
				chunk = &model.Response{ToolCalls: []model.ToolCallDelta{{Index: int(ev.Index), Arguments: d.PartialJSON}}}
			}
		case anthropic.MessageDeltaEvent:
			if ev.Delta.StopReason != "" {
				final.FinishReason = normalizeStopReason(string(ev.Delta.StopReason))
			}
			usage.CompletionTokens = int(ev.Usage.OutputTokens)
		}

		if chunk != nil {
			chunk.ID = final.ID
			chunk.Partial = true
			chunk.Raw = event.RawJSON()
			if err := send(ctx, out, *chunk); err != nil {
				return err
			}
		}
	}
	if err := stream.Err(); err != nil {
		return fmt.Errorf("anthropic streaming error: %w", classify(err))
	}

	usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	if usage.TotalTokens > 0 {
		final.Usage = &usage
	}
	return send(ctx, out, final)
}

func (m *Model) handleNonStreaming(ctx context.Context, params anthropic.MessageNewParams, out chan<- model.Response) error {
	resp, err := m.client.Messages.New(ctx, params)
	if err != nil {
		return fmt.Errorf("anthropic api error: %w", classify(err))
	}

	r := model.Response{ID: resp.ID, FinishReason: normalizeStopReason(string(resp.StopReason)), Raw: resp.RawJSON()}
	for i, block := range resp.Content {
		switch block.Type {
		case "text":
			r.Text += block.AsText().Text
		case "thinking":
			r.Thought += block.AsThinking().Thinking
		case "tool_use":
			tu := block.AsToolUse()
			args := string(tu.Input)
			if args == "" {
				args = "{}"
			}
			r.ToolCalls = append(r.ToolCalls, model.ToolCallDelta{Index: i, ID: tu.ID, Name: tu.Name, Arguments: args})
		}
	}
	in, outTok := int(resp.Usage.InputTokens), int(resp.Usage.OutputTokens)
	r.Usage = &core.Usage{PromptTokens: in, CompletionTokens: outTok, TotalTokens: in + outTok}

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

func normalizeStopReason(reason string) string {
	switch reason {
	case "end_turn", "stop_sequence", "pause_turn":
		return model.FinishStop
	case "tool_use":
		return model.FinishToolCalls
	case "max_tokens":
		return model.FinishLength
	case "refusal":
		return model.FinishContentFilter
	default:
		return reason
	}
}

func classify(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return model.ClassifyError(err, apiErr.StatusCode)
	}
	return model.ClassifyError(err, 0)
}

// Info returns metadata describing this Anthropic model implementation.
func (m *Model) Info() model.Info {
	return model.Info{
		Name:          string(m.opts.Model),
		Provider:      "anthropic",
		SupportsTools: true,
	}
}

var _ model.Model = (*Model)(nil)
