// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

const profileCols = `id, name, requests_per_minute, daily_budget, batch_size,
	batch_cooldown_seconds, rate_limit_pause_seconds, is_default, created_at, updated_at`

// DefaultProfileName is the name of the profile seeded on first start.
const DefaultProfileName = "default"

// EnsureDefaultProfile seeds a conservative system default when no default
// profile exists yet. Idempotent.
func (s *Store) EnsureDefaultProfile(ctx context.Context) (ThrottleProfile, error) {
	p, err := s.DefaultProfile(ctx)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return ThrottleProfile{}, err
	}
	seed := ThrottleProfile{
		Name:                  DefaultProfileName,
		RequestsPerMinute:     5,
		DailyBudget:           nil,
		BatchSize:             10,
		BatchCooldownSeconds:  60,
		RateLimitPauseSeconds: 900,
		IsDefault:             true,
	}
	created, err := s.CreateProfile(ctx, seed)
	if err != nil && errors.Is(err, ErrConflict) {
		// Lost a startup race; the winner's row is fine.
		return s.DefaultProfile(ctx)
	}
	return created, err
}

// CreateProfile validates and inserts a throttle profile.
func (s *Store) CreateProfile(ctx context.Context, p ThrottleProfile) (ThrottleProfile, error) {
	if err := validateProfile(p); err != nil {
		return ThrottleProfile{}, err
	}
	now := time.Now().UTC()
	var id int64
	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		if p.IsDefault {
			if _, err := tx.ExecContext(ctx, `UPDATE throttle_profiles SET is_default = 0 WHERE is_default = 1`); err != nil {
				return fmt.Errorf("clear default flag: %w", err)
			}
		}
		res, err := tx.ExecContext(ctx, `
			INSERT INTO throttle_profiles (name, requests_per_minute, daily_budget, batch_size,
				batch_cooldown_seconds, rate_limit_pause_seconds, is_default, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			p.Name, p.RequestsPerMinute, nullIntValue(p.DailyBudget), p.BatchSize,
			p.BatchCooldownSeconds, p.RateLimitPauseSeconds, boolInt(p.IsDefault), fmtTime(now), fmtTime(now))
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: profile name %q exists", ErrConflict, p.Name)
			}
			return fmt.Errorf("insert profile: %w", err)
		}
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return ThrottleProfile{}, err
	}
	return s.GetProfile(ctx, id)
}

// GetProfile returns one profile by ID.
func (s *Store) GetProfile(ctx context.Context, id int64) (ThrottleProfile, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+profileCols+` FROM throttle_profiles WHERE id = ?`, id)
	p, err := scanProfile(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return ThrottleProfile{}, ErrNotFound
	}
	return p, err
}

// DefaultProfile returns the profile flagged as system default.
func (s *Store) DefaultProfile(ctx context.Context) (ThrottleProfile, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+profileCols+` FROM throttle_profiles WHERE is_default = 1 LIMIT 1`)
	p, err := scanProfile(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return ThrottleProfile{}, ErrNotFound
	}
	return p, err
}

// ListProfiles returns all profiles, default first, then by name.
func (s *Store) ListProfiles(ctx context.Context) ([]ThrottleProfile, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+profileCols+` FROM throttle_profiles ORDER BY is_default DESC, name ASC`)
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	defer rows.Close()
	var out []ThrottleProfile
	for rows.Next() {
		p, err := scanProfile(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan profile row: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// UpdateProfile persists profile changes. Demoting the only default is
// refused so exactly one default always holds.
func (s *Store) UpdateProfile(ctx context.Context, p ThrottleProfile) (ThrottleProfile, error) {
	if err := validateProfile(p); err != nil {
		return ThrottleProfile{}, err
	}
	existing, err := s.GetProfile(ctx, p.ID)
	if err != nil {
		return ThrottleProfile{}, err
	}
	if existing.IsDefault && !p.IsDefault {
		return ThrottleProfile{}, fmt.Errorf("%w: cannot demote the default profile; promote another instead", ErrInvalidConfig)
	}
	err = s.WithTx(ctx, func(tx *sql.Tx) error {
		if p.IsDefault && !existing.IsDefault {
			if _, err := tx.ExecContext(ctx, `UPDATE throttle_profiles SET is_default = 0 WHERE is_default = 1`); err != nil {
				return fmt.Errorf("clear default flag: %w", err)
			}
		}
		_, err := tx.ExecContext(ctx, `
			UPDATE throttle_profiles
			SET name = ?, requests_per_minute = ?, daily_budget = ?, batch_size = ?,
				batch_cooldown_seconds = ?, rate_limit_pause_seconds = ?, is_default = ?, updated_at = ?
			WHERE id = ?`,
			p.Name, p.RequestsPerMinute, nullIntValue(p.DailyBudget), p.BatchSize,
			p.BatchCooldownSeconds, p.RateLimitPauseSeconds, boolInt(p.IsDefault),
			fmtTime(time.Now().UTC()), p.ID)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: profile name %q exists", ErrConflict, p.Name)
			}
			return fmt.Errorf("update profile: %w", err)
		}
		return nil
	})
	if err != nil {
		return ThrottleProfile{}, err
	}
	return s.GetProfile(ctx, p.ID)
}

// DeleteProfile removes a profile. The default profile cannot be deleted;
// connectors referencing the profile fall back to the default via SET NULL.
func (s *Store) DeleteProfile(ctx context.Context, id int64) error {
	p, err := s.GetProfile(ctx, id)
	if err != nil {
		return err
	}
	if p.IsDefault {
		return fmt.Errorf("%w: cannot delete the default profile", ErrInvalidConfig)
	}
	_, err = s.db.ExecContext(ctx, `DELETE FROM throttle_profiles WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete profile: %w", err)
	}
	return nil
}

// EffectiveProfile resolves the profile governing one connector: an explicit
// assignment wins, otherwise the system default.
func (s *Store) EffectiveProfile(ctx context.Context, conn Connector) (ThrottleProfile, error) {
	if conn.ThrottleProfileID != nil {
		p, err := s.GetProfile(ctx, *conn.ThrottleProfileID)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return ThrottleProfile{}, err
		}
	}
	return s.DefaultProfile(ctx)
}

// UpsertThrottleState persists the governor's in-memory window snapshot.
// Observability only; the process state is authoritative.
func (s *Store) UpsertThrottleState(ctx context.Context, st ThrottleState) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO throttle_states (connector_id, requests_this_minute, minute_window_start,
			requests_today, day_window_start, is_paused, paused_until, pause_reason, last_batch_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(connector_id) DO UPDATE SET
			requests_this_minute = excluded.requests_this_minute,
			minute_window_start = excluded.minute_window_start,
			requests_today = excluded.requests_today,
			day_window_start = excluded.day_window_start,
			is_paused = excluded.is_paused,
			paused_until = excluded.paused_until,
			pause_reason = excluded.pause_reason,
			last_batch_at = excluded.last_batch_at,
			updated_at = excluded.updated_at`,
		st.ConnectorID, st.RequestsThisMinute, fmtTime(st.MinuteWindowStart),
		st.RequestsToday, fmtTime(st.DayWindowStart), boolInt(st.IsPaused),
		fmtNullTime(st.PausedUntil), st.PauseReason, fmtNullTime(st.LastBatchAt),
		fmtTime(time.Now().UTC()))
	if err != nil {
		return fmt.Errorf("upsert throttle state: %w", err)
	}
	return nil
}

// GetThrottleState returns the last persisted window snapshot for a connector.
func (s *Store) GetThrottleState(ctx context.Context, connectorID int64) (ThrottleState, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT connector_id, requests_this_minute, minute_window_start, requests_today, day_window_start,
			is_paused, paused_until, pause_reason, last_batch_at, updated_at
		FROM throttle_states WHERE connector_id = ?`, connectorID)

	var (
		st                     ThrottleState
		minuteStart, dayStart  string
		isPaused               int
		pausedUntil, lastBatch sql.NullString
		updatedAt              string
	)
	err := row.Scan(&st.ConnectorID, &st.RequestsThisMinute, &minuteStart, &st.RequestsToday, &dayStart,
		&isPaused, &pausedUntil, &st.PauseReason, &lastBatch, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ThrottleState{}, ErrNotFound
	}
	if err != nil {
		return ThrottleState{}, fmt.Errorf("scan throttle state: %w", err)
	}
	st.MinuteWindowStart = parseTime(minuteStart)
	st.DayWindowStart = parseTime(dayStart)
	st.IsPaused = isPaused == 1
	st.PausedUntil = parseNullTime(pausedUntil)
	st.LastBatchAt = parseNullTime(lastBatch)
	st.UpdatedAt = parseTime(updatedAt)
	return st, nil
}

// CountPausedConnectors reports how many connectors are currently paused by
// the governor, per the last persisted snapshot.
func (s *Store) CountPausedConnectors(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM throttle_states WHERE is_paused = 1`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count paused connectors: %w", err)
	}
	return n, nil
}

func validateProfile(p ThrottleProfile) error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("%w: profile name must not be empty", ErrInvalidConfig)
	}
	if p.RequestsPerMinute < 1 || p.RequestsPerMinute > 60 {
		return fmt.Errorf("%w: requestsPerMinute must be 1..60, got %d", ErrInvalidConfig, p.RequestsPerMinute)
	}
	if p.DailyBudget != nil && (*p.DailyBudget < 10 || *p.DailyBudget > 10000) {
		return fmt.Errorf("%w: dailyBudget must be 10..10000 or null, got %d", ErrInvalidConfig, *p.DailyBudget)
	}
	if p.BatchSize < 1 || p.BatchSize > 50 {
		return fmt.Errorf("%w: batchSize must be 1..50, got %d", ErrInvalidConfig, p.BatchSize)
	}
	if p.BatchCooldownSeconds < 10 || p.BatchCooldownSeconds > 3600 {
		return fmt.Errorf("%w: batchCooldownSeconds must be 10..3600, got %d", ErrInvalidConfig, p.BatchCooldownSeconds)
	}
	if p.RateLimitPauseSeconds < 60 || p.RateLimitPauseSeconds > 3600 {
		return fmt.Errorf("%w: rateLimitPauseSeconds must be 60..3600, got %d", ErrInvalidConfig, p.RateLimitPauseSeconds)
	}
	return nil
}

func nullIntValue(p *int) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*p), Valid: true}
}

func scanProfile(scan scanFn) (ThrottleProfile, error) {
	var (
		p                    ThrottleProfile
		daily                sql.NullInt64
		isDefault            int
		createdAt, updatedAt string
	)
	err := scan(&p.ID, &p.Name, &p.RequestsPerMinute, &daily, &p.BatchSize,
		&p.BatchCooldownSeconds, &p.RateLimitPauseSeconds, &isDefault, &createdAt, &updatedAt)
	if err != nil {
		return ThrottleProfile{}, err
	}
	if daily.Valid {
		v := int(daily.Int64)
		p.DailyBudget = &v
	}
	p.IsDefault = isDefault == 1
	p.CreatedAt = parseTime(createdAt)
	p.UpdatedAt = parseTime(updatedAt)
	return p, nil
}
