package memory

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// DefaultFileName is the memory document looked up in the workspace.
const DefaultFileName = "CONTEXT.md"

const documentHeader = "# TranscribeTalk Long-Term Memory\n\nThis file contains important context and memories saved during conversations.\n"

const (
	entryPrefix = "## ["
	tagsPrefix  = "**Tags:** "
	separator   = "---"
)

// Render formats a single entry as a markdown section.
func Render(e Entry) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "\n%s%s] %s\n", entryPrefix, e.Category, e.Timestamp.Format(time.RFC3339))
	if len(e.Tags) > 0 {
		sb.WriteString(tagsPrefix + strings.Join(e.Tags, ", ") + "\n")
	}
	sb.WriteString("\n" + e.Content + "\n\n" + separator + "\n")
	return sb.String()
}

// FileStore keeps memories in a markdown file. Text outside entry sections
// (the document header, hand-written notes) is preserved on Append and
// ignored by Entries.
type FileStore struct {
	mu   sync.Mutex
	path string
	now  func() time.Time
}

// NewFileStore creates a store backed by path. The file is created on the
// first write.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path, now: time.Now}
}

// NewWorkspaceStore creates a store for CONTEXT.md inside dir.
func NewWorkspaceStore(dir string) *FileStore {
	return NewFileStore(filepath.Join(dir, DefaultFileName))
}

// Path returns the backing file path.
func (s *FileStore) Path() string { return s.path }

// Append implements Store.
func (s *FileStore) Append(ctx context.Context, e Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e, err := normalize(e, s.now)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(s.path); errors.Is(err, fs.ErrNotExist) {
		return s.write(documentHeader + Render(e))
	}

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("memory: open %s: %w", s.path, err)
	}
	defer f.Close()

	if _, err := f.WriteString(Render(e)); err != nil {
		return fmt.Errorf("memory: append %s: %w", s.path, err)
	}
	return nil
}

// Replace implements Store.
func (s *FileStore) Replace(ctx context.Context, e Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e, err := normalize(e, s.now)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.write(documentHeader + Render(e))
}

// Entries implements Store.
func (s *FileStore) Entries(ctx context.Context, q Query) ([]Entry, error) {
	doc, err := s.ReadAll(ctx)
	if err != nil {
		return nil, err
	}
	return filter(Parse(doc), q), nil
}

// ReadAll implements Store. A missing file reads as empty.
func (s *FileStore) ReadAll(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("memory: read %s: %w", s.path, err)
	}
	return string(data), nil
}

func (s *FileStore) write(content string) error {
	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("memory: create dir: %w", err)
		}
	}
	if err := os.WriteFile(s.path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("memory: write %s: %w", s.path, err)
	}
	return nil
}

// Parse extracts entries from a memory document. Headers with an unparseable
// timestamp keep a zero Timestamp.
func Parse(doc string) []Entry {
	var (
		entries []Entry
		cur     *Entry
		body    []string
	)

	flush := func() {
		if cur == nil {
			return
		}
		cur.Content = strings.TrimSpace(strings.Join(body, "\n"))
		entries = append(entries, *cur)
		cur, body = nil, nil
	}

	sc := bufio.NewScanner(strings.NewReader(doc))
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, entryPrefix):
			flush()
			cur = parseHeader(line)
		case cur == nil:
			continue
		case strings.TrimSpace(line) == separator:
			flush()
		case len(body) == 0 && strings.HasPrefix(line, tagsPrefix):
			cur.Tags = ParseTags(strings.TrimPrefix(line, tagsPrefix))
		default:
			body = append(body, line)
		}
	}
	flush()

	return entries
}

func parseHeader(line string) *Entry {
	rest := strings.TrimPrefix(line, entryPrefix)
	e := &Entry{Category: DefaultCategory}
	idx := strings.Index(rest, "]")
	if idx < 0 {
		return e
	}
	if c := strings.TrimSpace(rest[:idx]); c != "" {
		e.Category = c
	}
	stamp := strings.TrimSpace(rest[idx+1:])
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05"} {
		if ts, err := time.Parse(layout, stamp); err == nil {
			e.Timestamp = ts
			break
		}
	}
	return e
}

var _ Store = (*FileStore)(nil)
