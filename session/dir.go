package session

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const fileExt = ".json"

// DirStore keeps each session as <dir>/<id>.json. Writes go through a
// temporary file and a rename so a crash never leaves a truncated session.
type DirStore struct {
	dir string
}

// NewDirStore returns a store rooted at dir. The directory is created on the
// first Save.
func NewDirStore(dir string) *DirStore { return &DirStore{dir: dir} }

// DefaultDir returns ~/.local/share/transcribe-talk/sessions, or a relative
// .transcribe-talk/sessions when the home directory is unknown.
func DefaultDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "share", "transcribe-talk", "sessions")
	}
	return filepath.Join(".transcribe-talk", "sessions")
}

// Dir returns the root directory.
func (s *DirStore) Dir() string { return s.dir }

func (s *DirStore) path(id string) string { return filepath.Join(s.dir, id+fileExt) }

// Save implements Store.
func (s *DirStore) Save(ctx context.Context, id string, doc []byte) error {
	if err := ValidateID(id); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, "."+id+"-*.tmp")
	if err != nil {
		return fmt.Errorf("save session %s: %w", id, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(doc); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("save session %s: %w", id, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("save session %s: %w", id, err)
	}
	if err := os.Rename(tmp.Name(), s.path(id)); err != nil {
		return fmt.Errorf("save session %s: %w", id, err)
	}
	return nil
}

// Load implements Store.
func (s *DirStore) Load(ctx context.Context, id string) ([]byte, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.path(id))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", id, err)
	}
	return data, nil
}

// List implements Store. A missing directory lists as empty.
func (s *DirStore) List(ctx context.Context) ([]Info, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return []Info{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	infos := make([]Info, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, fileExt) || strings.HasPrefix(name, ".") {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}
		infos = append(infos, Info{ID: strings.TrimSuffix(name, fileExt), UpdatedAt: fi.ModTime().UTC(), Size: fi.Size()})
	}
	sortInfos(infos)
	return infos, nil
}

// Delete implements Store.
func (s *DirStore) Delete(ctx context.Context, id string) error {
	if err := ValidateID(id); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	err := os.Remove(s.path(id))
	if errors.Is(err, fs.ErrNotExist) {
		return ErrNotFound
	}
	return err
}

var _ Store = (*DirStore)(nil)
