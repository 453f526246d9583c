package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"questweaver/server/internal/state"
)

// FileStore keeps one JSON record per adventure id under a data
// directory. Saves go through write-to-temp-then-rename so a crash
// mid-write never exposes a torn record.
type FileStore struct {
	dir       string
	compactor Compactor
}

// NewFileStore creates the data directory if needed.
func NewFileStore(dir string, compactor Compactor) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data dir %s: %w", dir, err)
	}
	return &FileStore{dir: dir, compactor: compactor}, nil
}

func (s *FileStore) Load(ctx context.Context, adventureID string) (*state.AdventureState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path, err := s.recordPath(adventureID)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, adventureID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read adventure %s: %w", adventureID, err)
	}

	return decodeState(data, adventureID)
}

func (s *FileStore) Save(ctx context.Context, st *state.AdventureState) error {
	path, err := s.recordPath(st.ID)
	if err != nil {
		return err
	}

	data, err := s.compactor.prepare(ctx, st)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(s.dir, st.ID+"-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write adventure %s: %w", st.ID, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to sync adventure %s: %w", st.ID, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to commit adventure %s: %w", st.ID, err)
	}
	return nil
}

func (s *FileStore) Close() error {
	return nil
}

// recordPath rejects ids that would escape the data directory.
func (s *FileStore) recordPath(adventureID string) (string, error) {
	if adventureID == "" || strings.ContainsAny(adventureID, `/\.`) {
		return "", fmt.Errorf("%w: invalid adventure id %q", ErrNotFound, adventureID)
	}
	return filepath.Join(s.dir, adventureID+".json"), nil
}
