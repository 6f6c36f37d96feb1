// Package store persists conversation state between requests, keyed by an
// opaque session id. Sessions idle longer than the TTL are treated as gone.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/r3d91ll/llm-chat-simulator/internal/conversation"
)

// DefaultTTL is how long an idle session survives.
const DefaultTTL = 6 * time.Hour

var (
	// ErrNotFound is returned when a session does not exist or has expired.
	ErrNotFound = errors.New("session not found")
	// ErrInvalidID is returned for ids that cannot be used as a storage key.
	ErrInvalidID = errors.New("invalid session id")
)

// Store is a conversation state repository.
type Store interface {
	// Get loads a session. Missing and expired sessions return ErrNotFound.
	Get(ctx context.Context, id string) (*conversation.State, error)
	// Put replaces a session and stamps its UpdatedAt.
	Put(ctx context.Context, id string, state *conversation.State) error
	Delete(ctx context.Context, id string) error
	// Sweep purges expired sessions and reports how many were removed.
	Sweep(ctx context.Context) (int, error)
	Close() error
}

// Backend names accepted by Open.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// Config selects and configures a backend.
type Config struct {
	Backend string
	Path    string // directory for file, database file for sqlite
	TTL     time.Duration
}

// Open creates the configured store.
func Open(ctx context.Context, cfg Config) (Store, error) {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}

	switch cfg.Backend {
	case BackendFile, "":
		return NewFileStore(afero.NewOsFs(), cfg.Path, cfg.TTL)
	case BackendSQLite:
		return OpenSQLite(ctx, cfg.Path, cfg.TTL)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

// validateID rejects ids that could escape a directory or collide with
// temporary files.
func validateID(id string) error {
	if id == "" || len(id) > 128 {
		return ErrInvalidID
	}
	if strings.ContainsAny(id, `/\.`) {
		return ErrInvalidID
	}
	return nil
}

func expired(updated, now time.Time, ttl time.Duration) bool {
	return !updated.IsZero() && now.Sub(updated) > ttl
}
