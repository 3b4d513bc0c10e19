// Package store provides the worker's sole persistence layer: typed,
// transactional access to accounts, videos, metric samples, metric
// schedules, and worker liveness, backed by a single modernc.org/sqlite
// file.
package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // pure-Go driver
)

const schemaVersion = 1

// timeLayout zero-pads the fractional seconds to a fixed 9 digits, unlike
// time.RFC3339Nano which elides a zero fraction. Stored timestamps are
// compared lexicographically in SQL (next_due_at <= ?), so a variable-width
// fraction would sort a whole-second value ("...05Z") after a fractional
// one at the same second ("...05.5Z"), since '.' < 'Z'.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// Config defines the SQLite connection pool's operational parameters.
type Config struct {
	BusyTimeout  time.Duration
	MaxOpenConns int
}

// DefaultConfig returns the recommended pool configuration: a generous
// busy timeout to absorb SQLite's single-writer serialization, and a
// connection pool sized for a handful of concurrent readers.
func DefaultConfig() Config {
	return Config{
		BusyTimeout:  5 * time.Second,
		MaxOpenConns: 5,
	}
}

// Store is the typed persistence layer over a single SQLite database.
type Store struct {
	db *sql.DB
}

// Open creates the connection pool with the pragmas the schema depends on
// (WAL journaling, a busy timeout so concurrent writers queue instead of
// failing immediately, and foreign key enforcement) and runs the embedded
// migration.
func Open(dbPath string, cfg Config) (*Store, error) {
	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)",
		dbPath, cfg.BusyTimeout.Milliseconds(),
	)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open failed: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxOpenConns)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: ping failed: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: migration failed: %w", err)
	}
	return s, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	var currentVersion int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&currentVersion); err != nil {
		return err
	}
	if currentVersion >= schemaVersion {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	schema := `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY
	);

	CREATE TABLE IF NOT EXISTS accounts (
		id               INTEGER PRIMARY KEY,
		username         TEXT NOT NULL UNIQUE,
		profile_url      TEXT,
		followers_count  INTEGER NOT NULL DEFAULT 0,
		full_scan        INTEGER NOT NULL DEFAULT 0,
		created_at       TEXT NOT NULL,
		updated_at       TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS videos (
		id                 INTEGER PRIMARY KEY AUTOINCREMENT,
		video_id           INTEGER NOT NULL UNIQUE,
		shortcode          TEXT NOT NULL UNIQUE,
		account_id         INTEGER NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
		video_url          TEXT,
		audio_url          TEXT,
		audio_file_path    TEXT,
		transcription      TEXT,
		caption            TEXT,
		duration_seconds   INTEGER NOT NULL DEFAULT 0,
		published_at       TEXT NOT NULL,
		created_at         TEXT NOT NULL,
		updated_at         TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_videos_account_published ON videos(account_id, published_at);

	CREATE TABLE IF NOT EXISTS metrics (
		id              INTEGER PRIMARY KEY AUTOINCREMENT,
		video_id        INTEGER NOT NULL REFERENCES videos(id) ON DELETE CASCADE,
		view_count      INTEGER NOT NULL,
		like_count      INTEGER NOT NULL,
		comment_count   INTEGER NOT NULL,
		save_count      INTEGER,
		followers_count INTEGER NOT NULL,
		measured_at     TEXT NOT NULL,
		created_at      TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_metrics_video_measured ON metrics(video_id, measured_at);

	CREATE TABLE IF NOT EXISTS metric_schedules (
		id               INTEGER PRIMARY KEY AUTOINCREMENT,
		video_id         INTEGER NOT NULL UNIQUE REFERENCES videos(id) ON DELETE CASCADE,
		next_due_at      TEXT NOT NULL,
		last_run_at      TEXT,
		interval_seconds INTEGER NOT NULL DEFAULT 0,
		status           TEXT NOT NULL DEFAULT 'idle',
		updated_at       TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_schedules_status_due ON metric_schedules(status, next_due_at);

	CREATE TABLE IF NOT EXISTS worker_heartbeats (
		worker_name    TEXT PRIMARY KEY,
		last_heartbeat TEXT NOT NULL,
		status         TEXT NOT NULL,
		pid            INTEGER NOT NULL,
		created_at     TEXT NOT NULL,
		updated_at     TEXT NOT NULL
	);
	`

	if _, err := tx.Exec(schema); err != nil {
		return err
	}
	if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		return err
	}
	if _, err := tx.Exec("INSERT OR REPLACE INTO schema_migrations (version) VALUES (?)", schemaVersion); err != nil {
		return err
	}

	return tx.Commit()
}

func timeOrNil(t *time.Time) interface{} {
	if t == nil || t.IsZero() {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s sql.NullString) time.Time {
	if !s.Valid || s.String == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return time.Time{}
	}
	return t
}

func parseTimePtr(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return nil
	}
	return &t
}
