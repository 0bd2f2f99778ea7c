package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/fatih/color"
	"golang.org/x/term"

	"github.com/alexbeletsky/transcribe-talk/core"
	"github.com/alexbeletsky/transcribe-talk/scheduler"
)

// palette holds the colors used for rendering. Every color is disabled when
// output is not a terminal or --no-color is set.
type palette struct {
	user    *color.Color
	agent   *color.Color
	thought *color.Color
	tool    *color.Color
	success *color.Color
	failure *color.Color
	warn    *color.Color
	dim     *color.Color
	bold    *color.Color
}

func newPalette(noColor bool) palette {
	p := palette{
		user:    color.New(color.FgBlue, color.Bold),
		agent:   color.New(color.FgMagenta, color.Bold),
		thought: color.New(color.FgHiBlack, color.Italic),
		tool:    color.New(color.FgCyan),
		success: color.New(color.FgGreen),
		failure: color.New(color.FgRed),
		warn:    color.New(color.FgYellow),
		dim:     color.New(color.FgHiBlack),
		bold:    color.New(color.Bold),
	}
	if noColor {
		for _, c := range []*color.Color{p.user, p.agent, p.thought, p.tool, p.success, p.failure, p.warn, p.dim, p.bold} {
			c.DisableColor()
		}
	}
	return p
}

// console owns the terminal. Output is serialized by outMu. Input is owned by
// one reader at a time (the REPL or a single approval prompt) and is fed by a
// background goroutine, so a cancelled reader gives the next line back to
// whoever asks next.
type console struct {
	in  *bufio.Reader
	out io.Writer
	tty bool
	p   palette

	outMu sync.Mutex
	input chan struct{}

	readOnce sync.Once
	lines    chan string
	readErr  error
}

func newConsole(in io.Reader, out io.Writer, noColor bool) *console {
	tty := isTerminal(in) && isTerminal(out)
	return &console{
		in:    bufio.NewReader(in),
		out:   out,
		tty:   tty,
		p:     newPalette(noColor || !isTerminal(out)),
		input: make(chan struct{}, 1),
	}
}

func isTerminal(v any) bool {
	f, ok := v.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// interactive reports whether both ends of the console are a terminal.
func (c *console) interactive() bool { return c.tty }

// prompt prints label and reads one trimmed line. io.EOF is returned when
// input ends.
func (c *console) prompt(ctx context.Context, label string) (string, error) {
	if err := c.acquireInput(ctx); err != nil {
		return "", err
	}
	defer c.releaseInput()
	return c.readLine(ctx, label)
}

func (c *console) acquireInput(ctx context.Context) error {
	select {
	case c.input <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *console) releaseInput() { <-c.input }

// readLine must be called while owning the input.
func (c *console) readLine(ctx context.Context, label string) (string, error) {
	if label != "" {
		c.printf(nil, "%s", label)
	}
	c.readOnce.Do(func() {
		c.lines = make(chan string)
		go c.readLoop()
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case line, ok := <-c.lines:
		if !ok {
			return "", c.readErr
		}
		return line, nil
	}
}

func (c *console) readLoop() {
	for {
		line, err := c.in.ReadString('\n')
		if err == nil || (err == io.EOF && line != "") {
			c.lines <- strings.TrimSpace(line)
		}
		if err != nil {
			c.readErr = err
			close(c.lines)
			return
		}
	}
}

// printf writes under the output lock; a nil color prints plain text.
func (c *console) printf(col *color.Color, format string, args ...any) {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	if col == nil {
		fmt.Fprintf(c.out, format, args...)
		return
	}
	col.Fprintf(c.out, format, args...)
}

func (c *console) stateChange(req core.ToolCallRequest, state scheduler.State) {
	c.printf(c.p.dim, "  · %s [%s] %s\n", req.Name, shortID(req.ID), state)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func formatArgs(req core.ToolCallRequest) string {
	if len(req.Arguments) == 0 {
		if req.RawArguments != "" {
			return req.RawArguments
		}
		return "{}"
	}
	b, err := json.Marshal(req.Arguments)
	if err != nil {
		return req.RawArguments
	}
	return string(b)
}
