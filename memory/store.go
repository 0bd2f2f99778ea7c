package memory

import (
	"context"
	"errors"
	"strings"
	"time"
)

// DefaultCategory is used when an entry is saved without a category.
const DefaultCategory = "general"

// ErrEmptyContent is returned when appending an entry without content.
var ErrEmptyContent = errors.New("memory: empty content")

// Entry is one saved memory.
type Entry struct {
	Category  string    `json:"category"`
	Tags      []string  `json:"tags,omitempty"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Query filters Entries. Zero value returns everything.
type Query struct {
	// Category keeps only entries of this category when set.
	Category string
	// Recent keeps only the newest N matching entries when > 0.
	Recent int
}

// Store persists long-term memories.
type Store interface {
	// Append adds an entry to the end of the store.
	Append(ctx context.Context, e Entry) error
	// Replace drops every stored entry and stores e as the only one.
	Replace(ctx context.Context, e Entry) error
	// Entries returns the matching entries oldest first.
	Entries(ctx context.Context, q Query) ([]Entry, error)
	// ReadAll returns the rendered memory document, empty when nothing is stored.
	ReadAll(ctx context.Context) (string, error)
}

// ParseTags splits a comma separated tag list, dropping blanks.
func ParseTags(s string) []string {
	var tags []string
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}

func normalize(e Entry, now func() time.Time) (Entry, error) {
	e.Content = strings.TrimSpace(e.Content)
	if e.Content == "" {
		return e, ErrEmptyContent
	}
	e.Category = strings.TrimSpace(e.Category)
	if e.Category == "" {
		e.Category = DefaultCategory
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = now()
	}
	e.Tags = append([]string(nil), e.Tags...)
	return e, nil
}

func filter(entries []Entry, q Query) []Entry {
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if q.Category == "" || e.Category == q.Category {
			out = append(out, e)
		}
	}
	if q.Recent > 0 && len(out) > q.Recent {
		out = out[len(out)-q.Recent:]
	}
	return out
}
