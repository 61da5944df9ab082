// Package index provides the SQLite-backed script metadata and import index.
package index

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

const coreSchemaSQL = `
CREATE TABLE IF NOT EXISTS scripts (
	path            TEXT PRIMARY KEY,
	name            TEXT NOT NULL DEFAULT '',
	command         TEXT NOT NULL DEFAULT '',
	description     TEXT NOT NULL DEFAULT '',
	kenv            TEXT NOT NULL DEFAULT '',
	shortcut        TEXT NOT NULL DEFAULT '',
	schedule        TEXT NOT NULL DEFAULT '',
	system          TEXT NOT NULL DEFAULT '',
	watch           TEXT NOT NULL DEFAULT '',
	background      TEXT NOT NULL DEFAULT '',
	snippet         TEXT NOT NULL DEFAULT '',
	is_text_snippet INTEGER NOT NULL DEFAULT 0,
	checksum        TEXT NOT NULL DEFAULT '',
	updated_at      DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS imports (
	source TEXT NOT NULL,
	target TEXT NOT NULL,
	UNIQUE(source, target)
);

CREATE INDEX IF NOT EXISTS idx_imports_source ON imports(source);
CREATE INDEX IF NOT EXISTS idx_imports_target ON imports(target);
CREATE INDEX IF NOT EXISTS idx_scripts_kenv ON scripts(kenv);
`

// DB wraps a sql.DB with index-specific operations.
type DB struct {
	conn *sql.DB
}

// Open opens (or creates) the SQLite database and applies the schema.
func Open(dsn string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("index: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("index: ping: %w", err)
	}
	if _, err := conn.Exec(coreSchemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("index: apply core schema: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}
