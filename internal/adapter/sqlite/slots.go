package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/couchcryptid/firewatch-sync/internal/domain"
)

// SlotStore persists named client-state slots, such as the last-used identity.
type SlotStore struct {
	db *sql.DB
}

// NewSlotStore opens (or creates) the database at path and applies the schema.
// Use ":memory:" for an ephemeral store.
func NewSlotStore(path string) (*SlotStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, fmt.Errorf("create state directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open state database: %w", err)
	}
	// A single connection keeps ":memory:" databases shared across calls.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping state database: %w", err)
	}

	s := &SlotStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate state database: %w", err)
	}
	return s, nil
}

func (s *SlotStore) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS slots (
			name TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at DATETIME NOT NULL
		);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Get returns the value of slot name. ok is false when the slot was never written.
func (s *SlotStore) Get(ctx context.Context, name string) (value string, ok bool, err error) {
	err = s.db.QueryRowContext(ctx, `SELECT value FROM slots WHERE name = ?`, name).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read slot %s: %w", name, err)
	}
	return value, true, nil
}

// Put writes slot name, replacing any previous value.
func (s *SlotStore) Put(ctx context.Context, name, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO slots (name, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		name, value, domain.Now().UTC())
	if err != nil {
		return fmt.Errorf("write slot %s: %w", name, err)
	}
	return nil
}

// CheckReadiness pings the database.
func (s *SlotStore) CheckReadiness(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SlotStore) Close() error {
	return s.db.Close()
}
