// Package store implements the SQLite persistence layer for users,
// settings, and federation agents (spec §6 schema). The store is an
// external collaborator per spec §1, but it is still specified here as a
// schema contract, not an engine: no business logic lives in this package
// beyond what the schema itself encodes (uniqueness, NOCASE collation).
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Store wraps the database handle.
type Store struct {
	db *sql.DB
}

// Open creates (if needed) the data directory and database file at path,
// then runs migrations.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("store: db path required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("store: mkdir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	// A single connection avoids SQLITE_BUSY under the write-serialised
	// access pattern the rest of the system assumes (spec §5: "Agent
	// records on disk: serialised per-row through the database engine").
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{db: db}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) migrate(ctx context.Context) error {
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`CREATE TABLE IF NOT EXISTS user (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			username TEXT UNIQUE NOT NULL COLLATE NOCASE,
			password TEXT NOT NULL,
			active INTEGER NOT NULL DEFAULT 1,
			timezone TEXT NOT NULL DEFAULT '',
			twofa_secret TEXT NOT NULL DEFAULT '',
			twofa_status INTEGER NOT NULL DEFAULT 0,
			twofa_last_token TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE TABLE IF NOT EXISTS setting (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			key TEXT UNIQUE NOT NULL COLLATE NOCASE,
			value TEXT,
			type VARCHAR(20) NOT NULL DEFAULT 'string'
		);`,
		`CREATE TABLE IF NOT EXISTS agent (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			url TEXT UNIQUE NOT NULL,
			username TEXT NOT NULL,
			password TEXT NOT NULL,
			active INTEGER NOT NULL DEFAULT 1
		);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
