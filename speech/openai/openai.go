// Package openai implements speech.Transcriber and speech.Synthesizer over
// the OpenAI audio endpoints.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"mime"
	"path/filepath"
	"strings"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"github.com/openai/openai-go"

	"github.com/alexbeletsky/transcribe-talk/core"
	"github.com/alexbeletsky/transcribe-talk/logging"
	"github.com/alexbeletsky/transcribe-talk/model"
	"github.com/alexbeletsky/transcribe-talk/speech"
)

// Options configure the audio adapters.
type Options struct {
	TranscriptionModel string
	SpeechModel        string
	Voice              string
	Format             string
	// MaxRetries bounds retries of transient failures.
	MaxRetries uint64
	NewBackOff func() backoff.BackOff
	Logger     logging.Logger
}

// Client wraps the OpenAI audio API.
type Client struct {
	client *openai.Client
	opts   Options
}

// New creates a Client configured from the environment (OPENAI_API_KEY,
// OPENAI_BASE_URL).
func New(optFns ...func(o *Options)) *Client {
	client := openai.NewClient()
	return NewFromClient(&client, optFns...)
}

// NewFromClient creates a Client from an existing SDK client.
func NewFromClient(client *openai.Client, optFns ...func(o *Options)) *Client {
	opts := Options{
		TranscriptionModel: string(openai.AudioModelWhisper1),
		SpeechModel:        string(openai.SpeechModelTTS1),
		Voice:              "alloy",
		Format:             "mp3",
		MaxRetries:         3,
		NewBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 500 * time.Millisecond
			b.MaxElapsedTime = 30 * time.Second
			return b
		},
		Logger: logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Client{client: client, opts: opts}
}

// verboseTranscription mirrors the verbose_json response fields the SDK type
// does not expose.
type verboseTranscription struct {
	Text     string  `json:"text"`
	Language string  `json:"language"`
	Duration float64 `json:"duration"`
	Segments []struct {
		Start float64 `json:"start"`
		End   float64 `json:"end"`
		Text  string  `json:"text"`
	} `json:"segments"`
}

// Transcribe implements speech.Transcriber. The audio is buffered so failed
// attempts can be replayed.
func (c *Client) Transcribe(ctx context.Context, audio io.Reader, filename string, opts speech.TranscribeOptions) (speech.Transcript, error) {
	data, err := io.ReadAll(audio)
	if err != nil {
		return speech.Transcript{}, fmt.Errorf("read audio: %w", err)
	}
	if filename == "" {
		filename = "audio.wav"
	}

	params := openai.AudioTranscriptionNewParams{
		Model:          openai.AudioModel(c.opts.TranscriptionModel),
		ResponseFormat: openai.AudioResponseFormatJSON,
	}
	if opts.Language != "" {
		params.Language = openai.String(opts.Language)
	}
	if opts.Prompt != "" {
		params.Prompt = openai.String(opts.Prompt)
	}
	if opts.Temperature > 0 {
		params.Temperature = openai.Float(opts.Temperature)
	}
	if opts.Timestamps {
		params.ResponseFormat = openai.AudioResponseFormatVerboseJSON
	}

	start := time.Now()
	var tr *openai.Transcription
	err = c.retry(ctx, "transcribe", func() error {
		params.File = &namedReader{Reader: bytes.NewReader(data), name: filename}
		var err error
		tr, err = c.client.Audio.Transcriptions.New(ctx, params)
		return err
	})
	if err != nil {
		return speech.Transcript{}, fmt.Errorf("transcribe: %w", err)
	}

	out := speech.Transcript{Text: strings.TrimSpace(tr.Text), Language: opts.Language}
	if opts.Timestamps {
		var v verboseTranscription
		if err := json.Unmarshal([]byte(tr.RawJSON()), &v); err == nil {
			out.Language = v.Language
			out.Duration = seconds(v.Duration)
			for _, s := range v.Segments {
				out.Segments = append(out.Segments, speech.Segment{
					Start: seconds(s.Start),
					End:   seconds(s.End),
					Text:  strings.TrimSpace(s.Text),
				})
			}
		}
	}

	c.opts.Logger.Info("speech.transcribed",
		"model", c.opts.TranscriptionModel,
		"bytes", len(data),
		"chars", len(out.Text),
		"language", out.Language,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return out, nil
}

// Synthesize implements speech.Synthesizer.
func (c *Client) Synthesize(ctx context.Context, text string, opts speech.SynthesizeOptions) (io.ReadCloser, error) {
	if strings.TrimSpace(text) == "" {
		return nil, speech.ErrEmptyText
	}

	voice := opts.Voice
	if voice == "" {
		voice = c.opts.Voice
	}
	format := opts.Format
	if format == "" {
		format = c.opts.Format
	}

	params := openai.AudioSpeechNewParams{
		Input:          text,
		Model:          openai.SpeechModel(c.opts.SpeechModel),
		Voice:          openai.AudioSpeechNewParamsVoice(voice),
		ResponseFormat: openai.AudioSpeechNewParamsResponseFormat(format),
	}
	if opts.Speed > 0 {
		params.Speed = openai.Float(opts.Speed)
	}
	if opts.Instructions != "" {
		params.Instructions = openai.String(opts.Instructions)
	}

	var body io.ReadCloser
	err := c.retry(ctx, "synthesize", func() error {
		resp, err := c.client.Audio.Speech.New(ctx, params)
		if err != nil {
			return err
		}
		body = resp.Body
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("synthesize: %w", err)
	}

	c.opts.Logger.Info("speech.synthesized", "model", c.opts.SpeechModel, "voice", voice, "chars", len(text))

	return body, nil
}

func (c *Client) retry(ctx context.Context, op string, fn func() error) error {
	attempt := 0
	b := backoff.WithContext(backoff.WithMaxRetries(c.opts.NewBackOff(), c.opts.MaxRetries), ctx)

	return backoff.Retry(func() error {
		attempt++
		err := classify(fn())
		if err == nil {
			return nil
		}
		if errors.Is(err, core.ErrTransientService) {
			c.opts.Logger.Warn("speech.retry", "op", op, "attempt", attempt, "error", err.Error())
			return err
		}
		return backoff.Permanent(err)
	}, b)
}

func classify(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return model.ClassifyError(err, apiErr.StatusCode)
	}
	return model.ClassifyError(err, 0)
}

func seconds(s float64) time.Duration {
	return time.Duration(math.Round(s * float64(time.Second)))
}

// namedReader carries the filename and content type into the multipart form.
type namedReader struct {
	io.Reader
	name string
}

func (r *namedReader) Filename() string { return r.name }

func (r *namedReader) Name() string { return r.name }

func (r *namedReader) ContentType() string {
	if ct := mime.TypeByExtension(filepath.Ext(r.name)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

var (
	_ speech.Transcriber = (*Client)(nil)
	_ speech.Synthesizer = (*Client)(nil)
)
