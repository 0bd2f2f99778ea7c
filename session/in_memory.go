package session

import (
	"context"
	"sort"
	"sync"
	"time"
)

// InMemoryStore is a volatile Store keeping documents in a process local
// map. It is safe for concurrent access. Documents are copied on the way in
// and out to prevent external mutation of internal state.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]entry
	now      func() time.Time
}

type entry struct {
	doc       []byte
	updatedAt time.Time
}

// NewInMemoryStore constructs an empty in‑memory session store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{sessions: make(map[string]entry), now: time.Now}
}

// Save implements Store.
func (s *InMemoryStore) Save(_ context.Context, id string, doc []byte) error {
	if err := ValidateID(id); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[id] = entry{doc: append([]byte(nil), doc...), updatedAt: s.now().UTC()}
	return nil
}

// Load implements Store.
func (s *InMemoryStore) Load(_ context.Context, id string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), e.doc...), nil
}

// List implements Store.
func (s *InMemoryStore) List(_ context.Context) ([]Info, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	infos := make([]Info, 0, len(s.sessions))
	for id, e := range s.sessions {
		infos = append(infos, Info{ID: id, UpdatedAt: e.updatedAt, Size: int64(len(e.doc))})
	}
	sortInfos(infos)
	return infos, nil
}

// Delete implements Store.
func (s *InMemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[id]; !ok {
		return ErrNotFound
	}
	delete(s.sessions, id)
	return nil
}

func sortInfos(infos []Info) {
	sort.Slice(infos, func(i, j int) bool {
		if !infos[i].UpdatedAt.Equal(infos[j].UpdatedAt) {
			return infos[i].UpdatedAt.After(infos[j].UpdatedAt)
		}
		return infos[i].ID < infos[j].ID
	})
}

var _ Store = (*InMemoryStore)(nil)
