package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/r3d91ll/llm-chat-simulator/internal/conversation"
)

const fileExt = ".json"

// FileStore keeps one JSON document per session in a directory.
type FileStore struct {
	fs  afero.Fs
	dir string
	ttl time.Duration
	now func() time.Time
	mu  sync.RWMutex
}

// NewFileStore creates the directory if needed and returns a store rooted there.
func NewFileStore(fsys afero.Fs, dir string, ttl time.Duration) (*FileStore, error) {
	if dir == "" {
		return nil, errors.New("file store: directory is required")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if err := fsys.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	return &FileStore{fs: fsys, dir: dir, ttl: ttl, now: time.Now}, nil
}

func (s *FileStore) path(id string) string {
	return filepath.Join(s.dir, id+fileExt)
}

// Get implements Store.
func (s *FileStore) Get(ctx context.Context, id string) (*conversation.State, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}

	s.mu.RLock()
	data, err := afero.ReadFile(s.fs, s.path(id))
	s.mu.RUnlock()
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read session: %w", err)
	}

	var state conversation.State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to decode session %s: %w", id, err)
	}
	if expired(state.UpdatedAt, s.now(), s.ttl) {
		// Not found either way; Sweep removes files a failed delete leaves behind.
		_ = s.Delete(ctx, id)
		return nil, ErrNotFound
	}
	state.Normalize()
	return &state, nil
}

// Put implements Store. The document is written to a temp file and renamed
// so readers never see a partial write.
func (s *FileStore) Put(ctx context.Context, id string, state *conversation.State) error {
	if err := validateID(id); err != nil {
		return err
	}

	state.UpdatedAt = s.now()
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tmp := s.path(id) + ".tmp"
	if err := afero.WriteFile(s.fs, tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write session: %w", err)
	}
	if err := s.fs.Rename(tmp, s.path(id)); err != nil {
		return fmt.Errorf("failed to commit session: %w", err)
	}
	return nil
}

// Delete implements Store. Deleting a missing session is not an error.
func (s *FileStore) Delete(ctx context.Context, id string) error {
	if err := validateID(id); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.fs.Remove(s.path(id)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// Sweep implements Store.
func (s *FileStore) Sweep(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := afero.ReadDir(s.fs, s.dir)
	if err != nil {
		return 0, fmt.Errorf("failed to list sessions: %w", err)
	}

	now := s.now()
	removed := 0
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, fileExt) {
			continue
		}

		p := filepath.Join(s.dir, name)
		data, err := afero.ReadFile(s.fs, p)
		if err != nil {
			continue
		}
		var state conversation.State
		// Unreadable documents are swept too; they can never be loaded.
		if json.Unmarshal(data, &state) == nil && !expired(state.UpdatedAt, now, s.ttl) {
			continue
		}
		if err := s.fs.Remove(p); err == nil {
			removed++
		}
	}
	return removed, nil
}

// Close implements Store.
func (s *FileStore) Close() error {
	return nil
}
