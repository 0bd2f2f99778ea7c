package speech

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTranscriber struct {
	filename string
	audio    string
}

func (f *fakeTranscriber) Transcribe(_ context.Context, audio io.Reader, filename string, _ TranscribeOptions) (Transcript, error) {
	b, err := io.ReadAll(audio)
	if err != nil {
		return Transcript{}, err
	}
	f.filename, f.audio = filename, string(b)
	return Transcript{Text: "hello"}, nil
}

type fakeSynthesizer struct{}

func (fakeSynthesizer) Synthesize(_ context.Context, text string, _ SynthesizeOptions) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader("audio:" + text)), nil
}

func TestTranscribeFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clip.wav")
	require.NoError(t, os.WriteFile(path, []byte("RIFF"), 0o644))

	ft := &fakeTranscriber{}
	tr, err := TranscribeFile(context.Background(), ft, path, TranscribeOptions{})
	require.NoError(t, err)

	assert.Equal(t, "hello", tr.Text)
	assert.Equal(t, "clip.wav", ft.filename)
	assert.Equal(t, "RIFF", ft.audio)

	_, err = TranscribeFile(context.Background(), ft, filepath.Join(t.TempDir(), "missing.wav"), TranscribeOptions{})
	assert.Error(t, err)
}

func TestSynthesizeToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.mp3")
	require.NoError(t, SynthesizeToFile(context.Background(), fakeSynthesizer{}, "hi", path, SynthesizeOptions{}))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "audio:hi", string(b))
}
