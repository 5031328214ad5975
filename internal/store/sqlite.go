package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const currentSchemaVersion = 1

// SQLiteStore implements Store on an embedded SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// New opens (or creates) the database at dbPath.
func New(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite allows one writer; a single connection avoids SQLITE_BUSY between
	// our own transactions.
	db.SetMaxOpenConns(1)

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Initialize creates the database schema.
func (s *SQLiteStore) Initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS modules (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		slug TEXT NOT NULL UNIQUE,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		module_type TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'draft',
		origin_id INTEGER,
		created_by INTEGER NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS branches (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		origin_id INTEGER NOT NULL,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		is_default BOOLEAN NOT NULL DEFAULT FALSE,
		created_by INTEGER NOT NULL,
		created_at TEXT NOT NULL,
		UNIQUE(origin_id, name)
	);

	CREATE TABLE IF NOT EXISTS commits (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		hash TEXT NOT NULL,
		message TEXT NOT NULL,
		author_id INTEGER NOT NULL,
		committer_id INTEGER NOT NULL,
		parent_id INTEGER REFERENCES commits(id),
		is_merge BOOLEAN NOT NULL DEFAULT FALSE,
		committed_at TEXT NOT NULL
	);

	-- Extra parents of merge commits (the implicit parent_id is order 0).
	CREATE TABLE IF NOT EXISTS commit_parents (
		commit_id INTEGER NOT NULL REFERENCES commits(id),
		parent_id INTEGER NOT NULL REFERENCES commits(id),
		parent_order INTEGER NOT NULL,
		PRIMARY KEY (commit_id, parent_order)
	);

	CREATE TABLE IF NOT EXISTS versions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		module_id INTEGER NOT NULL REFERENCES modules(id),
		branch_id INTEGER NOT NULL REFERENCES branches(id),
		commit_id INTEGER NOT NULL REFERENCES commits(id),
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		content JSON,
		content_hash TEXT NOT NULL,
		is_current_head BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS merge_requests (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		from_module_id INTEGER NOT NULL REFERENCES modules(id),
		to_module_id INTEGER NOT NULL REFERENCES modules(id),
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'open',
		allow_comments BOOLEAN NOT NULL DEFAULT TRUE,
		reason TEXT NOT NULL DEFAULT '',
		created_by INTEGER NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		merged_by INTEGER,
		merged_at TEXT,
		rejected_by INTEGER,
		rejected_at TEXT,
		closed_by INTEGER,
		closed_at TEXT
	);

	CREATE TABLE IF NOT EXISTS merge_request_comments (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		merge_request_id INTEGER NOT NULL REFERENCES merge_requests(id),
		body TEXT NOT NULL,
		created_by INTEGER NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS amvc_schema_version (
		version INTEGER PRIMARY KEY
	);

	CREATE INDEX IF NOT EXISTS idx_commits_hash ON commits(hash);
	CREATE INDEX IF NOT EXISTS idx_versions_head ON versions(module_id, branch_id, is_current_head);
	CREATE INDEX IF NOT EXISTS idx_versions_branch ON versions(branch_id, is_current_head);
	CREATE INDEX IF NOT EXISTS idx_mr_pair ON merge_requests(from_module_id, to_module_id, status);
	CREATE INDEX IF NOT EXISTS idx_mr_comments ON merge_request_comments(merge_request_id);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	if _, err := s.db.Exec("INSERT OR REPLACE INTO amvc_schema_version (version) VALUES (?)", currentSchemaVersion); err != nil {
		return fmt.Errorf("failed to set schema version: %w", err)
	}

	return nil
}

// RunMigrations checks the stored schema version and applies any pending
// migrations. It refuses to open a database written by a newer release.
func (s *SQLiteStore) RunMigrations() error {
	var version int
	err := s.db.QueryRow("SELECT version FROM amvc_schema_version").Scan(&version)
	if err == sql.ErrNoRows {
		_, err = s.db.Exec("INSERT INTO amvc_schema_version (version) VALUES (?)", currentSchemaVersion)
		return err
	}
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	if version > currentSchemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported version %d", version, currentSchemaVersion)
	}
	return nil
}

// View runs fn in a read-only transaction.
func (s *SQLiteStore) View(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return fmt.Errorf("failed to begin read transaction: %w", err)
	}
	defer tx.Rollback()

	return fn(&sqliteTx{tx: tx})
}

// Update runs fn in a writable transaction. The transaction commits only if
// fn returns nil; any error or panic rolls back every write.
func (s *SQLiteStore) Update(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	done := false
	defer func() {
		if !done {
			tx.Rollback()
		}
	}()

	if err := fn(&sqliteTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	done = true
	return nil
}

// sqliteTx implements Tx on one *sql.Tx.
type sqliteTx struct {
	tx *sql.Tx
}

var _ Tx = (*sqliteTx)(nil)

// isUniqueViolation reports whether err is a SQLite unique-constraint error.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// formatTime stores timestamps as RFC3339Nano text so ordering and round
// trips are exact across drivers.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// parseTimestamp parses a timestamp string from SQLite in various formats.
// A value no format matches is an error: a zero time would silently compare
// as older than every real timestamp.
func parseTimestamp(s string) (time.Time, error) {
	formats := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02 15:04:05.999999999-07:00",
		"2006-01-02 15:04:05",
	}
	for _, f := range formats {
		if t, err := time.Parse(f, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// nullInt64 maps the zero id to NULL.
func nullInt64(v int64) sql.NullInt64 {
	return sql.NullInt64{Int64: v, Valid: v != 0}
}

// nullTimeStr maps a nil time to NULL.
func nullTimeStr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := parseTimestamp(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
