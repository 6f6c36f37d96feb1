package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/georgysavva/scany/v2/sqlscan"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/r3d91ll/llm-chat-simulator/internal/conversation"
)

//go:embed migrations/*.sql
var migrations embed.FS

// SQLiteStore keeps sessions in a single SQLite table.
type SQLiteStore struct {
	db  *sql.DB
	ttl time.Duration
	now func() time.Time
}

type conversationRow struct {
	ID        string `db:"id"`
	State     string `db:"state"`
	UpdatedAt int64  `db:"updated_at"` // unix milliseconds
}

// OpenSQLite opens (or creates) the database at path and applies pending
// migrations.
func OpenSQLite(ctx context.Context, path string, ttl time.Duration) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("sqlite store: path is required")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite allows one writer; a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := migrate(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &SQLiteStore{db: db, ttl: ttl, now: time.Now}, nil
}

func migrate(ctx context.Context, db *sql.DB) error {
	fsys, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return err
	}
	provider, err := goose.NewProvider(goose.DialectSQLite3, db, fsys)
	if err != nil {
		return err
	}
	_, err = provider.Up(ctx)
	return err
}

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*conversation.State, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}

	var row conversationRow
	err := sqlscan.Get(ctx, s.db, &row, `SELECT id, state, updated_at FROM conversations WHERE id = ?`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	if expired(time.UnixMilli(row.UpdatedAt), s.now(), s.ttl) {
		// Not found either way; Sweep removes rows a failed delete leaves behind.
		_ = s.Delete(ctx, id)
		return nil, ErrNotFound
	}

	var state conversation.State
	if err := json.Unmarshal([]byte(row.State), &state); err != nil {
		return nil, fmt.Errorf("failed to decode session %s: %w", id, err)
	}
	state.Normalize()
	return &state, nil
}

// Put implements Store.
func (s *SQLiteStore) Put(ctx context.Context, id string, state *conversation.State) error {
	if err := validateID(id); err != nil {
		return err
	}

	state.UpdatedAt = s.now()
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}

	query := `INSERT INTO conversations (id, state, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET state = excluded.state, updated_at = excluded.updated_at`
	if _, err := s.db.ExecContext(ctx, query, id, string(data), state.UpdatedAt.UnixMilli()); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// Delete implements Store.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	if err := validateID(id); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// Sweep implements Store.
func (s *SQLiteStore) Sweep(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.ttl).UnixMilli()
	res, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE updated_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
