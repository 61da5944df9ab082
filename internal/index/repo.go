package index

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/starford/kitd/internal/apperr"
	"github.com/starford/kitd/internal/models"
)

// ScriptRow represents a row in the scripts table.
type ScriptRow struct {
	Path          string          `json:"path"`
	Name          string          `json:"name"`
	Command       string          `json:"command"`
	Description   string          `json:"description,omitempty"`
	Kenv          string          `json:"kenv"`
	Triggers      models.Triggers `json:"triggers"`
	IsTextSnippet bool            `json:"is_text_snippet,omitempty"`
	Checksum      string          `json:"checksum"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// RowFromMetadata converts parsed metadata to an index row.
func RowFromMetadata(m *models.ScriptMetadata, at time.Time) ScriptRow {
	return ScriptRow{
		Path:          m.FilePath,
		Name:          m.Name,
		Command:       m.Command,
		Description:   m.Description,
		Kenv:          m.Kenv,
		Triggers:      m.Triggers,
		IsTextSnippet: m.IsTextSnippet,
		Checksum:      m.Checksum,
		UpdatedAt:     at,
	}
}

// SearchResult represents one search hit.
type SearchResult struct {
	Path        string `json:"path"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

const scriptColumns = `path, name, command, description, kenv,
	shortcut, schedule, system, watch, background, snippet,
	is_text_snippet, checksum, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanScript(s scanner) (ScriptRow, error) {
	var r ScriptRow
	err := s.Scan(&r.Path, &r.Name, &r.Command, &r.Description, &r.Kenv,
		&r.Triggers.Shortcut, &r.Triggers.Schedule, &r.Triggers.System,
		&r.Triggers.Watch, &r.Triggers.Background, &r.Triggers.Snippet,
		&r.IsTextSnippet, &r.Checksum, &r.UpdatedAt)
	return r, err
}

// UpsertScript inserts or replaces a script and its resolved imports within a
// transaction.
func (db *DB) UpsertScript(s ScriptRow, imports []string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	_, err = tx.Exec(`
		INSERT INTO scripts (`+scriptColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			name            = excluded.name,
			command         = excluded.command,
			description     = excluded.description,
			kenv            = excluded.kenv,
			shortcut        = excluded.shortcut,
			schedule        = excluded.schedule,
			system          = excluded.system,
			watch           = excluded.watch,
			background      = excluded.background,
			snippet         = excluded.snippet,
			is_text_snippet = excluded.is_text_snippet,
			checksum        = excluded.checksum,
			updated_at      = excluded.updated_at
	`, s.Path, s.Name, s.Command, s.Description, s.Kenv,
		s.Triggers.Shortcut, s.Triggers.Schedule, s.Triggers.System,
		s.Triggers.Watch, s.Triggers.Background, s.Triggers.Snippet,
		s.IsTextSnippet, s.Checksum, s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("index: upsert script: %w", err)
	}

	// Replace imports: delete old then bulk insert.
	if _, err := tx.Exec(`DELETE FROM imports WHERE source = ?`, s.Path); err != nil {
		return fmt.Errorf("index: clear imports: %w", err)
	}
	if len(imports) > 0 {
		stmt, err := tx.Prepare(`INSERT OR IGNORE INTO imports (source, target) VALUES (?, ?)`)
		if err != nil {
			return fmt.Errorf("index: prepare import insert: %w", err)
		}
		defer stmt.Close()
		for _, target := range imports {
			if _, err := stmt.Exec(s.Path, target); err != nil {
				return fmt.Errorf("index: insert import: %w", err)
			}
		}
	}

	return tx.Commit()
}

// DeleteScript removes a script and its outgoing imports.
func (db *DB) DeleteScript(path string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.Exec(`DELETE FROM imports WHERE source = ?`, path); err != nil {
		return fmt.Errorf("index: delete imports: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM scripts WHERE path = ?`, path); err != nil {
		return fmt.Errorf("index: delete script: %w", err)
	}

	return tx.Commit()
}

// GetChecksum returns the stored checksum for a script, or empty string if not found.
func (db *DB) GetChecksum(path string) (string, error) {
	var cs string
	err := db.conn.QueryRow(`SELECT checksum FROM scripts WHERE path = ?`, path).Scan(&cs)
	if err != nil {
		return "", nil // not found is fine
	}
	return cs, nil
}

// GetScript returns one script row or apperr.ErrNotFound.
func (db *DB) GetScript(path string) (*ScriptRow, error) {
	r, err := scanScript(db.conn.QueryRow(`SELECT `+scriptColumns+` FROM scripts WHERE path = ?`, path))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("index: script %s: %w", path, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("index: get script: %w", err)
	}
	return &r, nil
}

// ListScripts returns a page of scripts ordered by name and the total count.
// An empty kenv lists every kenv.
func (db *DB) ListScripts(kenv string, limit, offset int) ([]ScriptRow, int, error) {
	if limit <= 0 {
		limit = 100
	}
	where := ""
	args := []any{}
	if kenv != "" {
		where = ` WHERE kenv = ?`
		args = append(args, kenv)
	}

	var total int
	if err := db.conn.QueryRow(`SELECT count(*) FROM scripts`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("index: count scripts: %w", err)
	}

	rows, err := db.conn.Query(`SELECT `+scriptColumns+` FROM scripts`+where+
		` ORDER BY name COLLATE NOCASE, path LIMIT ? OFFSET ?`, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("index: list scripts: %w", err)
	}
	defer rows.Close()

	var out []ScriptRow
	for rows.Next() {
		r, err := scanScript(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, r)
	}
	return out, total, rows.Err()
}

// Search performs a case-insensitive LIKE search over name, command,
// description and path.
func (db *DB) Search(query string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 20
	}
	like := "%" + query + "%"
	rows, err := db.conn.Query(`
		SELECT path, name, description
		FROM scripts
		WHERE name LIKE ? OR command LIKE ? OR description LIKE ? OR path LIKE ?
		ORDER BY name COLLATE NOCASE
		LIMIT ?
	`, like, like, like, like, limit)
	if err != nil {
		return nil, fmt.Errorf("index: search: %w", err)
	}
	defer rows.Close()

	var out []SearchResult
	for rows.Next() {
		var r SearchResult
		if err := rows.Scan(&r.Path, &r.Name, &r.Description); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// AllChecksums returns path → checksum for every indexed script.
func (db *DB) AllChecksums() (map[string]string, error) {
	rows, err := db.conn.Query(`SELECT path, checksum FROM scripts`)
	if err != nil {
		return nil, fmt.Errorf("index: all checksums: %w", err)
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var p, cs string
		if err := rows.Scan(&p, &cs); err != nil {
			return nil, err
		}
		out[p] = cs
	}
	return out, rows.Err()
}

// Dependents returns all script paths that directly import target.
func (db *DB) Dependents(target string) ([]string, error) {
	rows, err := db.conn.Query(`SELECT source FROM imports WHERE target = ? ORDER BY source`, target)
	if err != nil {
		return nil, fmt.Errorf("index: dependents: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// AllImports returns the whole import graph as source → targets.
func (db *DB) AllImports() (map[string][]string, error) {
	rows, err := db.conn.Query(`SELECT source, target FROM imports ORDER BY source, target`)
	if err != nil {
		return nil, fmt.Errorf("index: all imports: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]string)
	for rows.Next() {
		var s, t string
		if err := rows.Scan(&s, &t); err != nil {
			return nil, err
		}
		out[s] = append(out[s], t)
	}
	return out, rows.Err()
}
