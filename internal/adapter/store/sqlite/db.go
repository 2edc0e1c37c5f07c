// Package sqlite persists agent profiles, index row bindings and negotiation
// sessions in a single SQLite database.
package sqlite

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Open opens (or creates) the database at path, applies pragmas and runs
// the schema migration. ":memory:" is accepted for tests.
func Open(path string) (*sql.DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open market db: %w", err)
	}
	// One connection: SQLite serializes writers anyway, and ":memory:"
	// databases are per-connection.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("exec %q: %w", pragma, err)
		}
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate market db: %w", err)
	}
	return db, nil
}

func migrate(db *sql.DB) error {
	const schema = `
		CREATE TABLE IF NOT EXISTS agents (
			seq           INTEGER PRIMARY KEY AUTOINCREMENT,
			agent_id      TEXT NOT NULL UNIQUE,
			description   TEXT NOT NULL,
			services      TEXT NOT NULL DEFAULT '[]',
			pricing       TEXT NOT NULL DEFAULT '{}',
			role          TEXT NOT NULL DEFAULT '',
			status        TEXT NOT NULL,
			registered_at TEXT NOT NULL,
			updated_at    TEXT NOT NULL
		);

		-- row_bindings maps a vector index row to the agent it was added for.
		CREATE TABLE IF NOT EXISTS row_bindings (
			idx_row  INTEGER PRIMARY KEY,
			agent_id TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS row_bindings_agent ON row_bindings (agent_id, idx_row);

		CREATE TABLE IF NOT EXISTS sessions (
			session_id  TEXT PRIMARY KEY,
			initiator   TEXT NOT NULL,
			counterpart TEXT NOT NULL,
			messages    TEXT NOT NULL DEFAULT '[]',
			status      TEXT NOT NULL,
			created_at  TEXT NOT NULL,
			updated_at  TEXT NOT NULL
		);
	`
	_, err := db.Exec(schema)
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}
