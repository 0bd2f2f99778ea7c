package memory

import (
	"context"
	"strings"
	"sync"
	"time"
)

// InMemoryStore is a process-local Store. Rendered output uses the same
// markdown layout as FileStore.
//
// Concurrency: protected by RWMutex.
type InMemoryStore struct {
	mu      sync.RWMutex
	entries []Entry
	now     func() time.Time
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{now: time.Now}
}

// Append implements Store.
func (m *InMemoryStore) Append(ctx context.Context, e Entry) error {
	e, err := normalize(e, m.now)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return nil
}

// Replace implements Store.
func (m *InMemoryStore) Replace(ctx context.Context, e Entry) error {
	e, err := normalize(e, m.now)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = []Entry{e}
	return nil
}

// Entries implements Store. The returned slice is a copy.
func (m *InMemoryStore) Entries(ctx context.Context, q Query) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return filter(m.entries, q), nil
}

// ReadAll implements Store.
func (m *InMemoryStore) ReadAll(ctx context.Context) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.entries) == 0 {
		return "", nil
	}
	var sb strings.Builder
	sb.WriteString(documentHeader)
	for _, e := range m.entries {
		sb.WriteString(Render(e))
	}
	return sb.String(), nil
}

var _ Store = (*InMemoryStore)(nil)
