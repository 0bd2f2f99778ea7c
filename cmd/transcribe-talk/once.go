package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	transcribetalk "github.com/alexbeletsky/transcribe-talk"
	"github.com/alexbeletsky/transcribe-talk/core"
	"github.com/alexbeletsky/transcribe-talk/speech"
)

type onceFlags struct {
	input  string
	output string
	format string
	speak  string
}

// onceResult is the JSON document written by `once --format json`.
type onceResult struct {
	Input         string                `json:"input"`
	Transcription *speech.Transcript    `json:"transcription,omitempty"`
	Response      string                `json:"response"`
	FinishReason  core.FinishReason     `json:"finish_reason"`
	Usage         *core.Usage           `json:"usage,omitempty"`
	ToolCalls     []core.ToolCallResult `json:"tool_calls,omitempty"`
	Error         *core.ErrorDetail     `json:"error,omitempty"`
	Provider      string                `json:"provider"`
	Model         string                `json:"model"`
}

func newOnceCommand(c *cli) *cobra.Command {
	var f onceFlags

	cmd := &cobra.Command{
		Use:   "once [message]",
		Short: "Answer a single message, audio file or stdin and exit",
		Example: `  transcribe-talk once "what files are in this directory?"
  transcribe-talk once -i question.wav --speak answer.mp3
  echo "hello" | transcribe-talk once --format json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runOnce(cmd, args, f)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&f.input, "input", "i", "", "audio file to transcribe as the message")
	flags.StringVarP(&f.output, "output", "o", "", "write the result to this file")
	flags.StringVar(&f.format, "format", "text", "result format: text or json")
	flags.StringVar(&f.speak, "speak", "", "synthesize the answer into this audio file")

	return cmd
}

func (c *cli) runOnce(cmd *cobra.Command, args []string, f onceFlags) error {
	if f.format != "text" && f.format != "json" {
		return fmt.Errorf("unknown format %q (want text or json)", f.format)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	cfg, err := c.loadConfig()
	if err != nil {
		return err
	}

	app, cleanup, err := c.newApp(ctx, cfg, "")
	if err != nil {
		return err
	}
	defer cleanup()

	res := onceResult{Provider: cfg.Provider, Model: app.Agent().Model().Info().Name}

	switch {
	case f.input != "":
		client, err := transcribetalk.NewSpeech(cfg, app.Logger())
		if err != nil {
			return err
		}
		tr, err := speech.TranscribeFile(ctx, client, f.input, speech.TranscribeOptions{Language: cfg.Speech.Language})
		if err != nil {
			return fmt.Errorf("transcribe %s: %w", f.input, err)
		}
		res.Transcription = &tr
		res.Input = strings.TrimSpace(tr.Text)
	case len(args) > 0:
		res.Input = strings.Join(args, " ")
	case !isTerminal(cmd.InOrStdin()):
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return fmt.Errorf("read stdin: %w", err)
		}
		res.Input = strings.TrimSpace(string(data))
	}
	if res.Input == "" {
		return errors.New("no input: pass a message, --input <audio> or pipe text on stdin")
	}

	// JSON on stdout keeps the transcript off stdout.
	view := c.console
	if f.format == "json" && f.output == "" {
		view = newConsole(nil, cmd.ErrOrStderr(), true)
	}
	if res.Transcription != nil {
		view.printf(view.p.user, "You said: ")
		view.printf(view.p.dim, "%s\n", res.Input)
	}

	r := newRenderer(view)
	r.Drain(app.Run(ctx, res.Input))

	res.Response = r.Answer()
	res.FinishReason = r.finish
	res.Usage = r.usage
	res.ToolCalls = r.results
	res.Error = r.Failed()

	if err := c.writeOnce(cmd, f, res); err != nil {
		return err
	}

	if f.speak != "" && res.Response != "" {
		client, err := transcribetalk.NewSpeech(cfg, app.Logger())
		if err != nil {
			return err
		}
		if err := speech.SynthesizeToFile(ctx, client, res.Response, f.speak, speech.SynthesizeOptions{
			Voice: cfg.Speech.Voice,
			Speed: cfg.Speech.Speed,
		}); err != nil {
			return fmt.Errorf("synthesize: %w", err)
		}
		view.printf(view.p.dim, "🔊 %s\n", f.speak)
	}

	if res.Error != nil {
		return fmt.Errorf("%s: %s", res.Error.Kind, res.Error.Message)
	}
	if ctx.Err() != nil {
		return errors.New("interrupted")
	}
	return nil
}

func (c *cli) writeOnce(cmd *cobra.Command, f onceFlags, res onceResult) error {
	var data []byte
	if f.format == "json" {
		var err error
		if data, err = json.MarshalIndent(res, "", "  "); err != nil {
			return err
		}
		data = append(data, '\n')
	} else {
		data = []byte(fmt.Sprintf("User: %s\n\nAI: %s\n", res.Input, res.Response))
	}

	switch {
	case f.output != "":
		if err := os.WriteFile(f.output, data, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", f.output, err)
		}
		c.console.printf(c.console.p.success, "✓ Result saved to %s\n", f.output)
	case f.format == "json":
		if _, err := cmd.OutOrStdout().Write(data); err != nil {
			return err
		}
	}
	return nil
}
