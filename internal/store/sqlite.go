// ABOUTME: SQLite persistence layer using modernc.org/sqlite
// ABOUTME: Holds the durable command log and saved mock agent profiles

package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists command outcomes and mock agent profiles.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore opens (or creates) the database at the given path.
// The schema is created automatically; parent directories too.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// WAL keeps readers off the writer's back
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the tables if they don't exist.
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS command_log (
			command_id   TEXT PRIMARY KEY,
			agent_id     TEXT NOT NULL,
			command      TEXT NOT NULL,
			run_as_admin INTEGER NOT NULL DEFAULT 0,
			status       TEXT NOT NULL,
			source       TEXT NOT NULL,
			output       TEXT,
			error        TEXT,
			duration_ms  INTEGER NOT NULL,
			finished_at  TEXT NOT NULL,

			CHECK (status IN ('succeeded', 'failed', 'timed_out', 'transport_failed', 'canceled')),
			CHECK (source IN ('agent', 'mock'))
		);

		CREATE INDEX IF NOT EXISTS idx_command_log_agent ON command_log(agent_id);
		CREATE INDEX IF NOT EXISTS idx_command_log_finished ON command_log(finished_at DESC);

		CREATE TABLE IF NOT EXISTS mock_agents (
			agent_id   TEXT PRIMARY KEY,
			hostname   TEXT NOT NULL,
			platform   TEXT NOT NULL,
			online     INTEGER NOT NULL DEFAULT 1,
			canned     TEXT,
			created_at TEXT NOT NULL
		);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("executing schema: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable, for readiness checks.
func (s *SQLiteStore) Ping() error {
	return s.db.Ping()
}
