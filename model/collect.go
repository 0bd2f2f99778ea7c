package model

import (
	"context"
	"strings"

	"github.com/alexbeletsky/transcribe-talk/core"
)

// Completion is a fully aggregated model answer.
type Completion struct {
	Text         string
	Thought      string
	ToolCalls    []core.ToolCall
	FinishReason string
	Usage        *core.Usage
}

// Collect drains a Generate call into a single Completion. Tool call fragments
// are merged by index.
func Collect(ctx context.Context, m Model, req Request) (Completion, error) {
	respCh, errCh := m.Generate(ctx, req)

	var (
		text, thought strings.Builder
		out           Completion
		calls         = map[int]*core.ToolCall{}
		order         []int
	)

	for respCh != nil || errCh != nil {
		select {
		case <-ctx.Done():
			return Completion{}, ctx.Err()
		case err, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			if err != nil {
				return Completion{}, err
			}
		case r, ok := <-respCh:
			if !ok {
				respCh = nil
				continue
			}
			text.WriteString(r.Text)
			thought.WriteString(r.Thought)
			for _, d := range r.ToolCalls {
				c, exists := calls[d.Index]
				if !exists {
					c = &core.ToolCall{}
					calls[d.Index] = c
					order = append(order, d.Index)
				}
				if d.ID != "" {
					c.ID = d.ID
				}
				if d.Name != "" {
					c.Name = d.Name
				}
				c.Arguments += d.Arguments
			}
			if r.FinishReason != "" {
				out.FinishReason = r.FinishReason
			}
			if r.Usage != nil {
				out.Usage = r.Usage
			}
		}
	}

	out.Text = text.String()
	out.Thought = thought.String()
	for _, idx := range order {
		out.ToolCalls = append(out.ToolCalls, *calls[idx])
	}

	return out, nil
}
