// Package speech defines the speech-to-text and text-to-speech collaborators
// used around the conversation loop. The agent never depends on them; the
// CLI transcribes input before a cycle and synthesizes the final answer.
package speech

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// ErrEmptyText is returned when asked to synthesize blank text.
var ErrEmptyText = errors.New("speech: empty text")

// Segment is a timed span of a transcript.
type Segment struct {
	Start time.Duration `json:"start"`
	End   time.Duration `json:"end"`
	Text  string        `json:"text"`
}

// Transcript is the result of a transcription.
type Transcript struct {
	Text     string        `json:"text"`
	Language string        `json:"language,omitempty"`
	Duration time.Duration `json:"duration,omitempty"`
	Segments []Segment     `json:"segments,omitempty"`
}

// TranscribeOptions tunes one transcription.
type TranscribeOptions struct {
	// Language is an ISO-639-1 hint. Empty means auto-detect.
	Language string
	// Prompt conditions the recognizer on vocabulary or style.
	Prompt      string
	Temperature float64
	// Timestamps requests per-segment timing.
	Timestamps bool
}

// Transcriber converts recorded audio to text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio io.Reader, filename string, opts TranscribeOptions) (Transcript, error)
}

// SynthesizeOptions tunes one synthesis.
type SynthesizeOptions struct {
	Voice string
	// Format is the audio container, e.g. mp3, wav or opus.
	Format string
	// Speed scales playback speed. Zero uses the service default.
	Speed float64
	// Instructions steer tone on models that support it.
	Instructions string
}

// Synthesizer converts text to audio. The caller closes the returned stream.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string, opts SynthesizeOptions) (io.ReadCloser, error)
}

// TranscribeFile opens path and transcribes it with t.
func TranscribeFile(ctx context.Context, t Transcriber, path string, opts TranscribeOptions) (Transcript, error) {
	f, err := os.Open(path)
	if err != nil {
		return Transcript{}, fmt.Errorf("open audio: %w", err)
	}
	defer f.Close()

	return t.Transcribe(ctx, f, filepath.Base(path), opts)
}

// SynthesizeToFile writes the synthesized audio for text to path.
func SynthesizeToFile(ctx context.Context, s Synthesizer, text, path string, opts SynthesizeOptions) error {
	rc, err := s.Synthesize(ctx, text, opts)
	if err != nil {
		return err
	}
	defer rc.Close()

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create audio file: %w", err)
	}
	if _, err := io.Copy(f, rc); err != nil {
		f.Close()
		return fmt.Errorf("write audio file: %w", err)
	}
	return f.Close()
}
