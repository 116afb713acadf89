// Package store persists the source registry in a local SQLite database so
// a restarted session can skip the initial rescan.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.

	"github.com/papapumpkin/inkwell/internal/source"
)

// ErrNoSnapshot is returned by LoadRecords when nothing has been saved yet.
var ErrNoSnapshot = errors.New("store: no registry snapshot")

// schema contains the DDL executed on every open.
const schema = `
CREATE TABLE IF NOT EXISTS snapshot (
    id       INTEGER PRIMARY KEY CHECK (id = 1),
    files    INTEGER NOT NULL,
    saved_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS files (
    path              TEXT PRIMARY KEY,
    last_edit_time    TEXT NOT NULL DEFAULT '',
    last_compile_time TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS includes (
    path     TEXT NOT NULL REFERENCES files(path) ON DELETE CASCADE,
    position INTEGER NOT NULL,
    target   TEXT NOT NULL,
    line     INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (path, position)
);

CREATE TABLE IF NOT EXISTS masters (
    path   TEXT NOT NULL REFERENCES files(path) ON DELETE CASCADE,
    master TEXT NOT NULL,
    PRIMARY KEY (path, master)
);

CREATE TABLE IF NOT EXISTS diagnostics (
    id       INTEGER PRIMARY KEY AUTOINCREMENT,
    path     TEXT NOT NULL REFERENCES files(path) ON DELETE CASCADE,
    severity TEXT NOT NULL,
    file     TEXT NOT NULL DEFAULT '',
    line     INTEGER NOT NULL DEFAULT 0,
    message  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS failures (
    id      INTEGER PRIMARY KEY AUTOINCREMENT,
    path    TEXT NOT NULL REFERENCES files(path) ON DELETE CASCADE,
    message TEXT NOT NULL
);
`

// SQLiteStore keeps registry snapshots in a SQLite database in WAL mode.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (or creates) the database at dbPath and creates the schema.
func Open(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}

	// SQLite has a single writer; one pooled connection keeps the pragmas
	// below in effect for every statement.
	db.SetMaxOpenConns(1)

	pragmas := []struct{ stmt, what string }{
		{"PRAGMA journal_mode=WAL", "enable WAL mode"},
		{"PRAGMA busy_timeout=5000", "set busy timeout"},
		{"PRAGMA foreign_keys=ON", "enable foreign keys"},
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p.stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("store: %s: %w", p.what, err)
		}
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: create schema: %w", err)
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SaveRecords replaces the stored snapshot with records in one transaction.
func (s *SQLiteStore) SaveRecords(ctx context.Context, records []source.Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	if _, err := tx.ExecContext(ctx, "DELETE FROM files"); err != nil {
		return fmt.Errorf("store: clear files: %w", err)
	}

	fileStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO files (path, last_edit_time, last_compile_time) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("store: prepare file insert: %w", err)
	}
	defer fileStmt.Close()
	includeStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO includes (path, position, target, line) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("store: prepare include insert: %w", err)
	}
	defer includeStmt.Close()
	masterStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO masters (path, master) VALUES (?, ?)`)
	if err != nil {
		return fmt.Errorf("store: prepare master insert: %w", err)
	}
	defer masterStmt.Close()
	diagStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO diagnostics (path, severity, file, line, message) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("store: prepare diagnostic insert: %w", err)
	}
	defer diagStmt.Close()
	failureStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO failures (path, message) VALUES (?, ?)`)
	if err != nil {
		return fmt.Errorf("store: prepare failure insert: %w", err)
	}
	defer failureStmt.Close()

	for _, rec := range records {
		if _, err := fileStmt.ExecContext(ctx, rec.Path,
			formatTimestamp(rec.LastEditTime), formatTimestamp(rec.LastCompileTime)); err != nil {
			return fmt.Errorf("store: insert file %q: %w", rec.Path, err)
		}
		for i, target := range rec.IncludePaths {
			line := 0
			if i < len(rec.IncludeLines) {
				line = rec.IncludeLines[i]
			}
			if _, err := includeStmt.ExecContext(ctx, rec.Path, i, target, line); err != nil {
				return fmt.Errorf("store: insert include %q of %q: %w", target, rec.Path, err)
			}
		}
		for _, m := range rec.Masters {
			if _, err := masterStmt.ExecContext(ctx, rec.Path, m); err != nil {
				return fmt.Errorf("store: insert master %q of %q: %w", m, rec.Path, err)
			}
		}
		for _, d := range rec.Diagnostics {
			if _, err := diagStmt.ExecContext(ctx, rec.Path, d.Severity.String(), d.File, d.Line, d.Message); err != nil {
				return fmt.Errorf("store: insert diagnostic for %q: %w", rec.Path, err)
			}
		}
		for _, msg := range rec.UnhandledFailures {
			if _, err := failureStmt.ExecContext(ctx, rec.Path, msg); err != nil {
				return fmt.Errorf("store: insert failure for %q: %w", rec.Path, err)
			}
		}
	}

	const upsert = `
		INSERT INTO snapshot (id, files, saved_at) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET files = excluded.files, saved_at = excluded.saved_at`
	if _, err := tx.ExecContext(ctx, upsert, len(records), formatTimestamp(s.now())); err != nil {
		return fmt.Errorf("store: record snapshot: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit snapshot: %w", err)
	}
	return nil
}

// LoadRecords returns the stored snapshot sorted by path. It returns
// ErrNoSnapshot when SaveRecords has never run, and an error when the
// stored row count disagrees with the file table.
func (s *SQLiteStore) LoadRecords(ctx context.Context) ([]source.Record, error) {
	var want int
	err := s.db.QueryRowContext(ctx, "SELECT files FROM snapshot WHERE id = 1").Scan(&want)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoSnapshot
	}
	if err != nil {
		return nil, fmt.Errorf("store: read snapshot: %w", err)
	}

	records, index, err := s.loadFiles(ctx)
	if err != nil {
		return nil, err
	}
	if len(records) != want {
		return nil, fmt.Errorf("store: snapshot lists %d files, found %d", want, len(records))
	}
	if err := s.loadIncludes(ctx, records, index); err != nil {
		return nil, err
	}
	if err := s.loadMasters(ctx, records, index); err != nil {
		return nil, err
	}
	if err := s.loadDiagnostics(ctx, records, index); err != nil {
		return nil, err
	}
	if err := s.loadFailures(ctx, records, index); err != nil {
		return nil, err
	}
	return records, nil
}

// SavedAt returns when the snapshot was last written, or the zero time.
func (s *SQLiteStore) SavedAt(ctx context.Context) (time.Time, error) {
	var ts string
	err := s.db.QueryRowContext(ctx, "SELECT saved_at FROM snapshot WHERE id = 1").Scan(&ts)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("store: read snapshot time: %w", err)
	}
	return parseTimestamp(ts)
}

func (s *SQLiteStore) loadFiles(ctx context.Context) ([]source.Record, map[string]int, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT path, last_edit_time, last_compile_time FROM files ORDER BY path")
	if err != nil {
		return nil, nil, fmt.Errorf("store: query files: %w", err)
	}
	defer rows.Close()

	var records []source.Record
	index := make(map[string]int)
	for rows.Next() {
		var rec source.Record
		var edited, compiled string
		if err := rows.Scan(&rec.Path, &edited, &compiled); err != nil {
			return nil, nil, fmt.Errorf("store: scan file: %w", err)
		}
		if rec.LastEditTime, err = parseTimestamp(edited); err != nil {
			return nil, nil, fmt.Errorf("store: parse edit time of %q: %w", rec.Path, err)
		}
		if rec.LastCompileTime, err = parseTimestamp(compiled); err != nil {
			return nil, nil, fmt.Errorf("store: parse compile time of %q: %w", rec.Path, err)
		}
		index[rec.Path] = len(records)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("store: iterate files: %w", err)
	}
	return records, index, nil
}

func (s *SQLiteStore) loadIncludes(ctx context.Context, records []source.Record, index map[string]int) error {
	rows, err := s.db.QueryContext(ctx,
		"SELECT path, target, line FROM includes ORDER BY path, position")
	if err != nil {
		return fmt.Errorf("store: query includes: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var p, target string
		var line int
		if err := rows.Scan(&p, &target, &line); err != nil {
			return fmt.Errorf("store: scan include: %w", err)
		}
		rec := &records[index[p]]
		rec.IncludePaths = append(rec.IncludePaths, target)
		rec.IncludeLines = append(rec.IncludeLines, line)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("store: iterate includes: %w", err)
	}
	return nil
}

func (s *SQLiteStore) loadMasters(ctx context.Context, records []source.Record, index map[string]int) error {
	rows, err := s.db.QueryContext(ctx, "SELECT path, master FROM masters ORDER BY path, master")
	if err != nil {
		return fmt.Errorf("store: query masters: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var p, master string
		if err := rows.Scan(&p, &master); err != nil {
			return fmt.Errorf("store: scan master: %w", err)
		}
		rec := &records[index[p]]
		rec.Masters = append(rec.Masters, master)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("store: iterate masters: %w", err)
	}
	return nil
}

func (s *SQLiteStore) loadDiagnostics(ctx context.Context, records []source.Record, index map[string]int) error {
	rows, err := s.db.QueryContext(ctx,
		"SELECT path, severity, file, line, message FROM diagnostics ORDER BY id")
	if err != nil {
		return fmt.Errorf("store: query diagnostics: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var p, severity string
		var d source.Diagnostic
		if err := rows.Scan(&p, &severity, &d.File, &d.Line, &d.Message); err != nil {
			return fmt.Errorf("store: scan diagnostic: %w", err)
		}
		if d.Severity, err = source.ParseSeverity(severity); err != nil {
			return fmt.Errorf("store: diagnostic for %q: %w", p, err)
		}
		rec := &records[index[p]]
		rec.Diagnostics = append(rec.Diagnostics, d)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("store: iterate diagnostics: %w", err)
	}
	return nil
}

func (s *SQLiteStore) loadFailures(ctx context.Context, records []source.Record, index map[string]int) error {
	rows, err := s.db.QueryContext(ctx, "SELECT path, message FROM failures ORDER BY id")
	if err != nil {
		return fmt.Errorf("store: query failures: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var p, msg string
		if err := rows.Scan(&p, &msg); err != nil {
			return fmt.Errorf("store: scan failure: %w", err)
		}
		rec := &records[index[p]]
		rec.UnhandledFailures = append(rec.UnhandledFailures, msg)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("store: iterate failures: %w", err)
	}
	return nil
}

func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// timestampFormats lists accepted layouts; the last two cover rows
// written by hand with SQLite's CURRENT_TIMESTAMP.
var timestampFormats = []string{
	time.RFC3339Nano,
	time.RFC3339,
	time.DateTime,
}

func parseTimestamp(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range timestampFormats {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp format: %q", s)
}
