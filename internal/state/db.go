// Package state provides the SQLite-backed store for fuel. All durable
// daemon state (tasks, epics, runs, reviews, agent health) lives in a single
// single-writer database at .fuel/agent.db, accessed via typed repositories.
package state

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// DB wraps the SQLite connection with fuel-specific operations. Writes
// serialize on the mutex; reads may run concurrently under WAL.
type DB struct {
	conn *sql.DB
	path string
	mu   sync.RWMutex
}

// Open opens the store at the given path, creating parent directories as
// needed. WAL mode is enabled for concurrent reads.
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if _, err := conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	return &DB{conn: conn, path: path}, nil
}

// OpenMemory opens an in-memory store for tests.
func OpenMemory() (*DB, error) {
	conn, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("open in-memory database: %w", err)
	}
	return &DB{conn: conn, path: ":memory:"}, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.conn.Close()
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// Migrate applies all pending schema migrations.
func (db *DB) Migrate() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	var currentVersion int
	row := db.conn.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("get schema version: %w", err)
	}

	migrations := []struct {
		version int
		sql     string
	}{
		{1, migrationV1Tasks},
		{2, migrationV2Epics},
		{3, migrationV3Runs},
		{4, migrationV4Reviews},
		{5, migrationV5AgentHealth},
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}

		tx, err := db.conn.Begin()
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}
		if _, err := tx.Exec(m.sql); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration v%d: %w", m.version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", m.version); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration v%d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration v%d: %w", m.version, err)
		}
	}

	return nil
}

const migrationV1Tasks = `
CREATE TABLE IF NOT EXISTS tasks (
	id INTEGER PRIMARY KEY,
	short_id TEXT NOT NULL UNIQUE,
	title TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	type TEXT NOT NULL DEFAULT 'task',
	status TEXT NOT NULL DEFAULT 'open',
	priority INTEGER NOT NULL DEFAULT 2,
	complexity TEXT NOT NULL DEFAULT 'moderate',
	labels TEXT NOT NULL DEFAULT '[]',
	blocked_by TEXT NOT NULL DEFAULT '[]',
	epic_id TEXT,
	commit_hash TEXT NOT NULL DEFAULT '',
	reason TEXT NOT NULL DEFAULT '',
	consumed INTEGER NOT NULL DEFAULT 0,
	consumed_at DATETIME,
	consume_pid INTEGER NOT NULL DEFAULT 0,
	last_review_issues TEXT NOT NULL DEFAULT '[]',
	selfguided_iteration INTEGER NOT NULL DEFAULT 0,
	selfguided_stuck_count INTEGER NOT NULL DEFAULT 0,
	retry_count INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL,
	completed_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
CREATE INDEX IF NOT EXISTS idx_tasks_epic_id ON tasks(epic_id);
`

const migrationV2Epics = `
CREATE TABLE IF NOT EXISTS epics (
	id INTEGER PRIMARY KEY,
	short_id TEXT NOT NULL UNIQUE,
	title TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	self_guided INTEGER NOT NULL DEFAULT 0,
	plan_filename TEXT NOT NULL DEFAULT '',
	paused_at DATETIME,
	reviewed_at DATETIME,
	approved_at DATETIME,
	approved_by TEXT NOT NULL DEFAULT '',
	changes_requested_at DATETIME,
	mirror_path TEXT NOT NULL DEFAULT '',
	mirror_status TEXT NOT NULL DEFAULT 'none',
	mirror_branch TEXT NOT NULL DEFAULT '',
	mirror_base_commit TEXT NOT NULL DEFAULT '',
	mirror_created_at DATETIME,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_epics_mirror_status ON epics(mirror_status);
`

const migrationV3Runs = `
CREATE TABLE IF NOT EXISTS runs (
	id INTEGER PRIMARY KEY,
	short_id TEXT NOT NULL UNIQUE,
	task_id TEXT NOT NULL,
	agent TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'running',
	pid INTEGER NOT NULL DEFAULT 0,
	exit_code INTEGER NOT NULL DEFAULT 0,
	session_id TEXT NOT NULL DEFAULT '',
	error_type TEXT NOT NULL DEFAULT '',
	model TEXT NOT NULL DEFAULT '',
	output_path TEXT NOT NULL DEFAULT '',
	cost_usd REAL NOT NULL DEFAULT 0,
	started_at DATETIME NOT NULL,
	ended_at DATETIME,
	duration_seconds REAL NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_runs_task_id ON runs(task_id);
CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
`

const migrationV4Reviews = `
CREATE TABLE IF NOT EXISTS reviews (
	id INTEGER PRIMARY KEY,
	short_id TEXT NOT NULL UNIQUE,
	task_id TEXT NOT NULL,
	run_id TEXT NOT NULL DEFAULT '',
	agent TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'pending',
	issues TEXT NOT NULL DEFAULT '[]',
	started_at DATETIME NOT NULL,
	completed_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_reviews_task_id ON reviews(task_id);
`

const migrationV5AgentHealth = `
CREATE TABLE IF NOT EXISTS agent_health (
	agent TEXT PRIMARY KEY,
	last_success_at DATETIME,
	last_failure_at DATETIME,
	consecutive_failures INTEGER NOT NULL DEFAULT 0,
	backoff_until DATETIME,
	total_runs INTEGER NOT NULL DEFAULT 0,
	total_successes INTEGER NOT NULL DEFAULT 0
);
`

// Exec executes a statement under the write lock.
func (db *DB) Exec(query string, args ...any) (sql.Result, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.conn.Exec(query, args...)
}

// Query executes a query that returns rows.
func (db *DB) Query(query string, args ...any) (*sql.Rows, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.conn.Query(query, args...)
}

// QueryRow executes a query that returns at most one row.
func (db *DB) QueryRow(query string, args ...any) *sql.Row {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.conn.QueryRow(query, args...)
}

// Transaction runs fn within a write transaction.
func (db *DB) Transaction(fn func(tx *sql.Tx) error) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// formatTime formats a time for SQLite storage (RFC3339 UTC).
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// formatNullableTime formats an optional time for SQLite storage.
func formatNullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

// parseTime parses a time string from SQLite.
func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}

// parseNullableTime parses a nullable time column.
func parseNullableTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil
	}
	return &t
}
