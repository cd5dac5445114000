// SPDX-License-Identifier: MIT

// Package store provides SQLite persistence for the control plane: the
// connector fleet, the content mirror, the search registry, pending commands,
// throttle profiles and state, schedules, reconnect state, completion
// snapshots and the sync activity log. It is the single relational boundary;
// every consumer goes through the typed repository methods here.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // pure Go SQLite driver
)

var (
	// ErrNotFound reports a lookup that matched no row.
	ErrNotFound = errors.New("store: not found")
	// ErrConflict reports a write that violated a uniqueness invariant.
	ErrConflict = errors.New("store: conflict")
	// ErrInvalidConfig reports an entity whose fields sit outside the
	// documented ranges. Surfaced to the caller, never retried.
	ErrInvalidConfig = errors.New("store: invalid configuration")
)

// Store wraps the SQLite handle and exposes per-entity repositories.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at dbPath and runs migrations.
// WAL mode, busy timeout and foreign keys are applied through the DSN so they
// hold for every pooled connection.
func Open(dbPath string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)", dbPath)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the raw handle for collaborators that keep their own tables in
// the same database (the settings store).
func (s *Store) DB() *sql.DB {
	return s.db
}

// Ping verifies database reachability and reports the round-trip latency.
// The health endpoint builds its DB check on this.
func (s *Store) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	var one int
	if err := s.db.QueryRowContext(ctx, `SELECT 1`).Scan(&one); err != nil {
		return 0, fmt.Errorf("ping: %w", err)
	}
	return time.Since(start), nil
}

// WithTx runs fn inside a transaction, committing on nil and rolling back on
// error or panic.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS throttle_profiles (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		requests_per_minute INTEGER NOT NULL,
		daily_budget INTEGER,
		batch_size INTEGER NOT NULL,
		batch_cooldown_seconds INTEGER NOT NULL,
		rate_limit_pause_seconds INTEGER NOT NULL,
		is_default INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS connectors (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		type TEXT NOT NULL CHECK(type IN ('sonarr','radarr','whisparr','prowlarr')),
		name TEXT NOT NULL,
		base_url TEXT NOT NULL UNIQUE,
		api_key_cipher TEXT NOT NULL,
		enabled INTEGER NOT NULL DEFAULT 1,
		health_status TEXT NOT NULL DEFAULT 'unknown' CHECK(health_status IN ('healthy','unhealthy','offline','unknown')),
		last_health_check_at TEXT,
		last_synced_at TEXT,
		throttle_profile_id INTEGER REFERENCES throttle_profiles(id) ON DELETE SET NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		UNIQUE(type, name)
	);

	CREATE TABLE IF NOT EXISTS content_items (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		connector_id INTEGER NOT NULL REFERENCES connectors(id) ON DELETE CASCADE,
		kind TEXT NOT NULL CHECK(kind IN ('episode','movie')),
		upstream_id INTEGER NOT NULL,
		series_id INTEGER NOT NULL DEFAULT 0,
		season_number INTEGER NOT NULL DEFAULT 0,
		episode_number INTEGER NOT NULL DEFAULT 0,
		title TEXT NOT NULL,
		year INTEGER NOT NULL DEFAULT 0,
		monitored INTEGER NOT NULL DEFAULT 0,
		has_file INTEGER NOT NULL DEFAULT 0,
		quality_cutoff_not_met INTEGER NOT NULL DEFAULT 0,
		air_date TEXT,
		first_seen_missing_at TEXT,
		last_seen_at TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		UNIQUE(connector_id, kind, upstream_id)
	);
	CREATE INDEX IF NOT EXISTS idx_content_season ON content_items(connector_id, series_id, season_number);
	CREATE INDEX IF NOT EXISTS idx_content_seen ON content_items(connector_id, last_seen_at);

	CREATE TABLE IF NOT EXISTS search_registry (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		connector_id INTEGER NOT NULL REFERENCES connectors(id) ON DELETE CASCADE,
		content_id INTEGER NOT NULL REFERENCES content_items(id) ON DELETE CASCADE,
		search_type TEXT NOT NULL CHECK(search_type IN ('gap','upgrade')),
		state TEXT NOT NULL DEFAULT 'pending' CHECK(state IN ('pending','queued','searching','cooldown','exhausted')),
		priority INTEGER NOT NULL DEFAULT 0,
		user_priority INTEGER NOT NULL DEFAULT 0,
		attempt_count INTEGER NOT NULL DEFAULT 0,
		next_eligible_at TEXT,
		last_error TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		UNIQUE(connector_id, content_id, search_type)
	);
	CREATE INDEX IF NOT EXISTS idx_registry_eligible ON search_registry(connector_id, state, next_eligible_at);

	CREATE TABLE IF NOT EXISTS pending_commands (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		connector_id INTEGER NOT NULL REFERENCES connectors(id) ON DELETE CASCADE,
		registry_id INTEGER NOT NULL,
		upstream_command_id INTEGER NOT NULL,
		content_id INTEGER NOT NULL REFERENCES content_items(id) ON DELETE CASCADE,
		search_type TEXT NOT NULL,
		season_scoped INTEGER NOT NULL DEFAULT 0,
		series_id INTEGER NOT NULL DEFAULT 0,
		season_number INTEGER NOT NULL DEFAULT 0,
		command_status TEXT NOT NULL DEFAULT 'queued' CHECK(command_status IN ('queued','started','completed','failed')),
		file_acquired INTEGER,
		dispatched_at TEXT NOT NULL,
		completed_at TEXT
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_pending_open_content ON pending_commands(content_id) WHERE completed_at IS NULL;
	CREATE INDEX IF NOT EXISTS idx_pending_open ON pending_commands(connector_id, completed_at);

	CREATE TABLE IF NOT EXISTS throttle_states (
		connector_id INTEGER PRIMARY KEY REFERENCES connectors(id) ON DELETE CASCADE,
		requests_this_minute INTEGER NOT NULL DEFAULT 0,
		minute_window_start TEXT NOT NULL,
		requests_today INTEGER NOT NULL DEFAULT 0,
		day_window_start TEXT NOT NULL,
		is_paused INTEGER NOT NULL DEFAULT 0,
		paused_until TEXT,
		pause_reason TEXT NOT NULL DEFAULT '',
		last_batch_at TEXT,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS schedules (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		sweep_type TEXT NOT NULL CHECK(sweep_type IN ('incremental','full_reconciliation')),
		cron_expression TEXT NOT NULL,
		timezone TEXT NOT NULL DEFAULT 'UTC',
		connector_id INTEGER REFERENCES connectors(id) ON DELETE CASCADE,
		throttle_profile_id INTEGER REFERENCES throttle_profiles(id) ON DELETE SET NULL,
		enabled INTEGER NOT NULL DEFAULT 1,
		last_run_at TEXT,
		next_run_at TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS reconnect_states (
		connector_id INTEGER PRIMARY KEY REFERENCES connectors(id) ON DELETE CASCADE,
		consecutive_failures INTEGER NOT NULL DEFAULT 0,
		next_attempt_at TEXT,
		paused INTEGER NOT NULL DEFAULT 0,
		last_attempt_at TEXT,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS completion_snapshots (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		connector_id INTEGER NOT NULL REFERENCES connectors(id) ON DELETE CASCADE,
		captured_at TEXT NOT NULL,
		monitored_count INTEGER NOT NULL,
		downloaded_count INTEGER NOT NULL,
		percent_bps INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_snapshots_connector_time ON completion_snapshots(connector_id, captured_at);

	CREATE TABLE IF NOT EXISTS sync_activities (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		connector_id INTEGER NOT NULL DEFAULT 0,
		schedule_id INTEGER NOT NULL DEFAULT 0,
		source TEXT NOT NULL DEFAULT 'unknown',
		mode TEXT NOT NULL,
		started_at TEXT NOT NULL,
		finished_at TEXT NOT NULL,
		items_synced INTEGER NOT NULL DEFAULT 0,
		gaps_added INTEGER NOT NULL DEFAULT 0,
		upgrades_added INTEGER NOT NULL DEFAULT 0,
		dispatched INTEGER NOT NULL DEFAULT 0,
		deferred INTEGER NOT NULL DEFAULT 0,
		skipped_connectors INTEGER NOT NULL DEFAULT 0,
		error TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_activities_started ON sync_activities(started_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Timestamps are stored as RFC3339 TEXT in UTC so lexicographic comparisons
// in SQL match chronological order.

func fmtTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func fmtNullTime(t *time.Time) sql.NullString {
	if t == nil || t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: fmtTime(*t), Valid: true}
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339, s)
	return t
}

func parseNullTime(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, ns.String)
	if err != nil {
		return nil
	}
	return &t
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullInt(p *int64) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *p, Valid: true}
}

func intPtr(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}
