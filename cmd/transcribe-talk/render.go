package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/alexbeletsky/transcribe-talk/core"
)

const maxResultPreview = 400

// renderer prints agent events as a conversation transcript.
type renderer struct {
	c *console

	// streaming is set while content fragments are being printed on the
	// current line.
	streaming bool
	thinking  bool
	text      strings.Builder
	finish    core.FinishReason
	usage     *core.Usage
	err       *core.ErrorDetail
	results   []core.ToolCallResult
}

func newRenderer(c *console) *renderer { return &renderer{c: c} }

// Drain renders every event on ch and returns once it closes.
func (r *renderer) Drain(ch <-chan core.Event) {
	for ev := range ch {
		r.Render(ev)
	}

	r.c.outMu.Lock()
	defer r.c.outMu.Unlock()
	r.endLine()
}

// Render prints a single event.
func (r *renderer) Render(ev core.Event) {
	r.c.outMu.Lock()
	defer r.c.outMu.Unlock()

	p := r.c.p
	out := r.c.out

	switch ev.Type {
	case core.EventThought:
		if !r.thinking {
			r.endLine()
			p.thought.Fprint(out, "thinking: ")
			r.thinking = true
			r.streaming = true
		}
		p.thought.Fprint(out, ev.Text)
	case core.EventContent:
		if r.thinking {
			r.endLine()
		}
		if !r.streaming {
			p.agent.Fprint(out, "AI: ")
			r.streaming = true
		}
		fmt.Fprint(out, ev.Text)
		r.text.WriteString(ev.Text)
	case core.EventToolCallRequest:
		r.endLine()
		// Text before a tool call is narration, not the answer.
		r.text.Reset()
		if call := ev.ToolCall; call != nil {
			p.tool.Fprintf(out, "→ %s %s\n", call.Name, p.dim.Sprint(formatArgs(*call)))
		}
	case core.EventFunctionResponse:
		r.endLine()
		if res := ev.Result; res != nil {
			r.results = append(r.results, *res)
			r.renderResult(*res)
		}
	case core.EventFinished:
		r.endLine()
		r.finish = ev.FinishReason
		r.usage = ev.Usage
		if ev.FinishReason != core.FinishDone && ev.FinishReason != "" {
			p.warn.Fprintf(out, "(finished: %s)\n", ev.FinishReason)
		}
	case core.EventError:
		r.endLine()
		if d := ev.Error; d != nil {
			r.err = d
			col := p.failure
			if d.Recoverable {
				col = p.warn
			}
			col.Fprintf(out, "✗ %s: %s\n", d.Kind, d.Message)
		}
	case core.EventDebug:
		r.endLine()
		p.dim.Fprintf(out, "debug: %v\n", ev.Raw)
	}
}

func (r *renderer) renderResult(res core.ToolCallResult) {
	p := r.c.p
	out := r.c.out

	switch res.Status {
	case core.ToolCallSuccess:
		p.success.Fprintf(out, "  ✓ %s (%s)\n", res.Name, res.Duration.Round(time.Millisecond))
		if preview := preview(res.Output); preview != "" {
			p.dim.Fprintln(out, indent(preview, "    "))
		}
	case core.ToolCallDenied, core.ToolCallCancelled:
		p.warn.Fprintf(out, "  ⊘ %s %s: %s\n", res.Name, res.Status, res.Error)
	default:
		p.failure.Fprintf(out, "  ✗ %s: %s\n", res.Name, res.Error)
	}
}

func (r *renderer) endLine() {
	if r.streaming {
		fmt.Fprintln(r.c.out)
	}
	r.streaming = false
	r.thinking = false
}

// Answer returns the text of the final answer.
func (r *renderer) Answer() string { return strings.TrimSpace(r.text.String()) }

// Failed reports whether the stream ended with a terminal error.
func (r *renderer) Failed() *core.ErrorDetail {
	if r.err != nil && !r.err.Recoverable {
		return r.err
	}
	return nil
}

func preview(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > maxResultPreview {
		return s[:maxResultPreview] + "…"
	}
	return s
}

func indent(s, prefix string) string {
	return prefix + strings.ReplaceAll(s, "\n", "\n"+prefix)
}
