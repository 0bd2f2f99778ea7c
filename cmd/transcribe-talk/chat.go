package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	transcribetalk "github.com/alexbeletsky/transcribe-talk"
	"github.com/alexbeletsky/transcribe-talk/config"
	"github.com/alexbeletsky/transcribe-talk/session"
	"github.com/alexbeletsky/transcribe-talk/speech"
	speechopenai "github.com/alexbeletsky/transcribe-talk/speech/openai"
)

type chatFlags struct {
	speakDir  string
	sessionID string
}

func newChatCommand(c *cli) *cobra.Command {
	var f chatFlags

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive conversation (default command)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.runChat(cmd, f)
		},
	}
	cmd.Flags().StringVar(&f.speakDir, "speak", "", "synthesize every answer into an audio file in this directory")
	cmd.Flags().StringVarP(&f.sessionID, "session", "s", "", "resume and autosave the named conversation")

	return cmd
}

// chatSession is one interactive chat.
type chatSession struct {
	c        *console
	app      *transcribetalk.TranscribeTalk
	cfg      *config.Config
	audio    *speechopenai.Client
	speakDir string
	replies  int
	// id names the autosaved conversation; empty disables autosave.
	id string
}

func (c *cli) runChat(cmd *cobra.Command, f chatFlags) error {
	ctx := cmd.Context()

	cfg, err := c.loadConfig()
	if err != nil {
		return err
	}

	app, cleanup, err := c.newApp(ctx, cfg, f.sessionID)
	if err != nil {
		return err
	}
	defer cleanup()

	s := &chatSession{c: c.console, app: app, cfg: cfg, speakDir: f.speakDir, id: f.sessionID}
	if f.speakDir != "" {
		if err := os.MkdirAll(f.speakDir, 0o755); err != nil {
			return fmt.Errorf("create speak dir: %w", err)
		}
	}

	s.banner()
	if err := s.resume(ctx); err != nil {
		return err
	}

	for {
		line, err := c.console.prompt(ctx, c.console.p.user.Sprint("You: "))
		if errors.Is(err, io.EOF) {
			c.console.printf(nil, "\n")
			return nil
		}
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			return err
		}
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			quit, err := s.command(ctx, line)
			if err != nil {
				c.console.printf(c.console.p.failure, "%v\n", err)
			}
			if quit {
				return nil
			}
			continue
		}

		s.send(ctx, line)
		if ctx.Err() != nil {
			return nil
		}
	}
}

func (s *chatSession) banner() {
	p := s.c.p
	s.c.printf(p.bold, "TranscribeTalk %s\n", version)
	s.c.printf(p.dim, "provider %s · model %s · workspace %s\n",
		s.cfg.Provider, s.app.Agent().Model().Info().Name, s.app.Workspace().Root())
	s.c.printf(p.dim, "Type /help for commands. Ctrl+C interrupts an answer, Ctrl+D exits.\n\n")
}

// send runs one input. Ctrl+C cancels the answer in progress but keeps the
// session.
func (s *chatSession) send(ctx context.Context, input string) {
	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	r := newRenderer(s.c)
	r.Drain(s.app.Run(runCtx, input))

	if s.id != "" {
		if err := s.app.SaveSession(ctx, s.id); err != nil {
			s.c.printf(s.c.p.failure, "autosave: %v\n", err)
		}
	}

	if s.speakDir != "" && r.Answer() != "" && runCtx.Err() == nil {
		if err := s.speak(runCtx, r.Answer()); err != nil {
			s.c.printf(s.c.p.failure, "speech: %v\n", err)
		}
	}
}

func (s *chatSession) resume(ctx context.Context) error {
	if s.id == "" {
		return nil
	}
	if err := session.ValidateID(s.id); err != nil {
		return err
	}

	err := s.app.ResumeSession(ctx, s.id)
	switch {
	case errors.Is(err, session.ErrNotFound):
		s.c.printf(s.c.p.dim, "New session %s\n\n", s.id)
		return nil
	case err != nil:
		return fmt.Errorf("resume session %s: %w", s.id, err)
	}

	s.c.printf(s.c.p.success, "✓ Resumed session %s (%d messages)\n\n", s.id, s.app.Agent().History().Len())
	return nil
}

func (s *chatSession) speak(ctx context.Context, text string) error {
	client, err := s.speech()
	if err != nil {
		return err
	}

	s.replies++
	path := filepath.Join(s.speakDir, fmt.Sprintf("reply-%03d.%s", s.replies, s.cfg.Speech.Format))
	if err := speech.SynthesizeToFile(ctx, client, text, path, speech.SynthesizeOptions{
		Voice: s.cfg.Speech.Voice,
		Speed: s.cfg.Speech.Speed,
	}); err != nil {
		return err
	}

	s.c.printf(s.c.p.dim, "🔊 %s\n", path)
	return nil
}

func (s *chatSession) speech() (*speechopenai.Client, error) {
	if s.audio == nil {
		client, err := transcribetalk.NewSpeech(s.cfg, s.app.Logger())
		if err != nil {
			return nil, err
		}
		s.audio = client
	}
	return s.audio, nil
}

// command handles a slash command and reports whether the session should end.
func (s *chatSession) command(ctx context.Context, line string) (bool, error) {
	fields := strings.Fields(line)
	name, args := fields[0], fields[1:]
	a := s.app.Agent()
	p := s.c.p

	switch name {
	case "/quit", "/exit", "/q":
		return true, nil
	case "/help", "/h":
		s.help()
	case "/clear":
		a.Reset()
		s.c.printf(p.success, "✓ Conversation cleared\n")
	case "/stats":
		s.stats()
	case "/sessions":
		return false, s.listSessions(ctx)
	case "/memory":
		doc, err := s.app.Memory().ReadAll(ctx)
		if err != nil {
			return false, err
		}
		if strings.TrimSpace(doc) == "" {
			doc = "(empty)"
		}
		s.c.printf(p.dim, "%s\n", doc)
	case "/save", "/load":
		if len(args) != 1 {
			return false, fmt.Errorf("usage: %s <file>", name)
		}
		if name == "/save" {
			return false, s.save(args[0])
		}
		return false, s.load(args[0])
	case "/voice":
		if len(args) != 1 {
			return false, errors.New("usage: /voice <audio file>")
		}
		return false, s.voice(ctx, args[0])
	default:
		return false, fmt.Errorf("unknown command %s, try /help", name)
	}

	return false, nil
}

func (s *chatSession) help() {
	s.c.printf(s.c.p.bold, "Commands:\n")
	s.c.printf(s.c.p.dim, `  /voice <file>  transcribe an audio file and send it
  /clear         forget the conversation
  /stats         show usage and tool statistics
  /memory        show long-term memory
  /sessions      list saved sessions
  /save <file>   export the conversation as JSON
  /load <file>   replace the conversation from JSON
  /quit          exit
`)
}

func (s *chatSession) stats() {
	st := s.app.Agent().Stats()
	sum := s.app.Agent().Scheduler().Summary()
	p := s.c.p

	s.c.printf(p.bold, "Session\n")
	s.c.printf(p.dim, "  inputs %d · turns %d · tool calls %d · compactions %d\n", st.Inputs, st.Turns, st.ToolCalls, st.Compactions)
	s.c.printf(p.dim, "  tokens prompt %d · completion %d · total %d\n", st.Usage.PromptTokens, st.Usage.CompletionTokens, st.Usage.TotalTokens)
	s.c.printf(p.dim, "  history %d messages, ~%d tokens\n", s.app.Agent().History().Len(), s.app.Agent().History().EstimateTokens())

	if sum.Total == 0 {
		return
	}
	statuses := make([]string, 0, len(sum.ByStatus))
	for status, n := range sum.ByStatus {
		statuses = append(statuses, fmt.Sprintf("%s %d", status, n))
	}
	sort.Strings(statuses)
	s.c.printf(p.bold, "Tools\n")
	s.c.printf(p.dim, "  %d calls: %s · timed out %d · avg %s\n", sum.Total, strings.Join(statuses, ", "), sum.TimedOut, sum.AverageDuration)
}

func (s *chatSession) listSessions(ctx context.Context) error {
	infos, err := s.app.Sessions().List(ctx)
	if err != nil {
		return err
	}
	if len(infos) == 0 {
		s.c.printf(s.c.p.dim, "No saved sessions.\n")
		return nil
	}

	for _, info := range infos {
		marker := " "
		if info.ID == s.id {
			marker = "*"
		}
		s.c.printf(s.c.p.dim, "%s %-24s %s  %d bytes\n", marker, info.ID, info.UpdatedAt.Local().Format("2006-01-02 15:04"), info.Size)
	}
	return nil
}

func (s *chatSession) save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := s.app.Agent().SaveConversation(f); err != nil {
		return err
	}
	s.c.printf(s.c.p.success, "✓ Saved to %s\n", path)
	return nil
}

func (s *chatSession) load(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := s.app.Agent().LoadConversation(f); err != nil {
		return err
	}
	s.c.printf(s.c.p.success, "✓ Loaded %d messages from %s\n", s.app.Agent().History().Len(), path)
	return nil
}

func (s *chatSession) voice(ctx context.Context, path string) error {
	client, err := s.speech()
	if err != nil {
		return err
	}

	tr, err := speech.TranscribeFile(ctx, client, path, speech.TranscribeOptions{Language: s.cfg.Speech.Language})
	if err != nil {
		return fmt.Errorf("transcribe: %w", err)
	}
	text := strings.TrimSpace(tr.Text)
	if text == "" {
		s.c.printf(s.c.p.warn, "No speech detected.\n")
		return nil
	}

	s.c.printf(s.c.p.user, "You said: ")
	s.c.printf(s.c.p.dim, "%s\n", text)
	s.send(ctx, text)
	return nil
}
