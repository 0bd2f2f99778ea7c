package session

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"
)

var (
	// ErrNotFound is returned when loading or deleting an unknown session.
	ErrNotFound = errors.New("session: not found")
	// ErrInvalidID is returned for IDs that are empty or not file-name safe.
	ErrInvalidID = errors.New("session: invalid id")
)

var idPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

// Info describes a stored session.
type Info struct {
	ID        string    `json:"id"`
	UpdatedAt time.Time `json:"updated_at"`
	Size      int64     `json:"size"`
}

// Store persists conversation documents by ID.
type Store interface {
	// Save creates or overwrites the session.
	Save(ctx context.Context, id string, doc []byte) error
	// Load returns the stored document or ErrNotFound.
	Load(ctx context.Context, id string) ([]byte, error)
	// List returns every session, most recently updated first.
	List(ctx context.Context) ([]Info, error)
	// Delete removes the session or returns ErrNotFound.
	Delete(ctx context.Context, id string) error
}

// ValidateID reports whether id can name a session.
func ValidateID(id string) error {
	if !idPattern.MatchString(id) {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return nil
}
