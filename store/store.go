// Package store persists the enabled flag in a SQLite key-value table.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hazyhaar/a11yfix/dbopen"
)

// Schema creates the settings table.
const Schema = `
CREATE TABLE IF NOT EXISTS settings (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at INTEGER NOT NULL DEFAULT (unixepoch())
);
`

const enabledKey = "enabled"

// Store reads and writes settings.
type Store struct {
	db *sql.DB
}

// New wraps db. The caller opens it with WithSchema(Schema).
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Open opens the settings database at path.
func Open(path string) (*Store, *sql.DB, error) {
	db, err := dbopen.Open(path, dbopen.WithMkdirAll(), dbopen.WithSchema(Schema))
	if err != nil {
		return nil, nil, fmt.Errorf("store: %w", err)
	}
	return New(db), db, nil
}

// Enabled returns the persisted flag. A missing row means enabled.
func (s *Store) Enabled(ctx context.Context) (bool, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, enabledKey).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("store: enabled: %w", err)
	}
	return v != "0", nil
}

// SetEnabled persists the flag.
func (s *Store) SetEnabled(ctx context.Context, on bool) error {
	v := "0"
	if on {
		v = "1"
	}
	_, err := dbopen.Exec(ctx, s.db, `
		INSERT INTO settings (key, value, updated_at) VALUES (?, ?, unixepoch())
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		enabledKey, v)
	if err != nil {
		return fmt.Errorf("store: set enabled: %w", err)
	}
	return nil
}

// Toggle inverts the flag and returns the new value.
func (s *Store) Toggle(ctx context.Context) (bool, error) {
	on, err := s.Enabled(ctx)
	if err != nil {
		return false, err
	}
	if err := s.SetEnabled(ctx, !on); err != nil {
		return false, err
	}
	return !on, nil
}
