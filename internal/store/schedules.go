// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/comradarr/comradarr/internal/cron"
)

const scheduleCols = `id, name, sweep_type, cron_expression, timezone, connector_id,
	throttle_profile_id, enabled, last_run_at, next_run_at, created_at, updated_at`

// CreateSchedule validates and inserts a schedule. The cron expression must
// parse under the schedule's zone; a nil ConnectorID means all connectors.
func (s *Store) CreateSchedule(ctx context.Context, sc Schedule) (Schedule, error) {
	if err := validateSchedule(sc); err != nil {
		return Schedule{}, err
	}
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO schedules (name, sweep_type, cron_expression, timezone, connector_id,
			throttle_profile_id, enabled, next_run_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sc.Name, string(sc.SweepType), sc.CronExpression, sc.Timezone, nullInt(sc.ConnectorID),
		nullInt(sc.ThrottleProfileID), boolInt(sc.Enabled), fmtNullTime(sc.NextRunAt),
		fmtTime(now), fmtTime(now))
	if err != nil {
		if isUniqueViolation(err) {
			return Schedule{}, fmt.Errorf("%w: schedule name %q exists", ErrConflict, sc.Name)
		}
		return Schedule{}, fmt.Errorf("insert schedule: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Schedule{}, fmt.Errorf("schedule id: %w", err)
	}
	return s.GetSchedule(ctx, id)
}

// GetSchedule returns one schedule by ID.
func (s *Store) GetSchedule(ctx context.Context, id int64) (Schedule, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+scheduleCols+` FROM schedules WHERE id = ?`, id)
	sc, err := scanSchedule(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return Schedule{}, ErrNotFound
	}
	return sc, err
}

// ListSchedules returns all schedules ordered by name.
func (s *Store) ListSchedules(ctx context.Context) ([]Schedule, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+scheduleCols+` FROM schedules ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	defer rows.Close()
	return collectSchedules(rows)
}

// ListEnabledSchedules returns enabled schedules ordered by ID; the
// orchestrator diffs its job table against this set.
func (s *Store) ListEnabledSchedules(ctx context.Context) ([]Schedule, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+scheduleCols+` FROM schedules WHERE enabled = 1 ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list enabled schedules: %w", err)
	}
	defer rows.Close()
	return collectSchedules(rows)
}

// UpdateSchedule persists schedule changes. The connector binding is
// immutable after creation; rebinding would let two schedules race the same
// connector mid-flight.
func (s *Store) UpdateSchedule(ctx context.Context, sc Schedule) (Schedule, error) {
	if err := validateSchedule(sc); err != nil {
		return Schedule{}, err
	}
	existing, err := s.GetSchedule(ctx, sc.ID)
	if err != nil {
		return Schedule{}, err
	}
	if !sameConnectorRef(existing.ConnectorID, sc.ConnectorID) {
		return Schedule{}, fmt.Errorf("%w: schedule connector binding is immutable", ErrInvalidConfig)
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE schedules
		SET name = ?, sweep_type = ?, cron_expression = ?, timezone = ?,
			throttle_profile_id = ?, enabled = ?, next_run_at = ?, updated_at = ?
		WHERE id = ?`,
		sc.Name, string(sc.SweepType), sc.CronExpression, sc.Timezone,
		nullInt(sc.ThrottleProfileID), boolInt(sc.Enabled), fmtNullTime(sc.NextRunAt),
		fmtTime(time.Now().UTC()), sc.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return Schedule{}, fmt.Errorf("%w: schedule name %q exists", ErrConflict, sc.Name)
		}
		return Schedule{}, fmt.Errorf("update schedule: %w", err)
	}
	return s.GetSchedule(ctx, sc.ID)
}

// DeleteSchedule removes a schedule.
func (s *Store) DeleteSchedule(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM schedules WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete schedule: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetScheduleRun stamps a fire position: lastRunAt is the occurrence that ran
// (or was caught up; zero if the schedule has never fired), nextRunAt the
// following occurrence.
func (s *Store) SetScheduleRun(ctx context.Context, id int64, lastRunAt, nextRunAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE schedules SET last_run_at = ?, next_run_at = ?, updated_at = ? WHERE id = ?`,
		fmtNullTime(&lastRunAt), fmtTime(nextRunAt), fmtTime(time.Now().UTC()), id)
	if err != nil {
		return fmt.Errorf("set schedule run: %w", err)
	}
	return nil
}

func validateSchedule(sc Schedule) error {
	if strings.TrimSpace(sc.Name) == "" {
		return fmt.Errorf("%w: schedule name must not be empty", ErrInvalidConfig)
	}
	if sc.SweepType != SweepIncremental && sc.SweepType != SweepFull {
		return fmt.Errorf("%w: unknown sweep type %q", ErrInvalidConfig, sc.SweepType)
	}
	if err := cron.Validate(sc.CronExpression, sc.Timezone); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

func sameConnectorRef(a, b *int64) bool {
	if a == nil && b == nil {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	return *a == *b
}

func scanSchedule(scan scanFn) (Schedule, error) {
	var (
		sc                   Schedule
		sweepType            string
		connectorID          sql.NullInt64
		profileID            sql.NullInt64
		enabled              int
		lastRun, nextRun     sql.NullString
		createdAt, updatedAt string
	)
	err := scan(&sc.ID, &sc.Name, &sweepType, &sc.CronExpression, &sc.Timezone, &connectorID,
		&profileID, &enabled, &lastRun, &nextRun, &createdAt, &updatedAt)
	if err != nil {
		return Schedule{}, err
	}
	sc.SweepType = SweepMode(sweepType)
	sc.ConnectorID = intPtr(connectorID)
	sc.ThrottleProfileID = intPtr(profileID)
	sc.Enabled = enabled == 1
	sc.LastRunAt = parseNullTime(lastRun)
	sc.NextRunAt = parseNullTime(nextRun)
	sc.CreatedAt = parseTime(createdAt)
	sc.UpdatedAt = parseTime(updatedAt)
	return sc, nil
}

func collectSchedules(rows *sql.Rows) ([]Schedule, error) {
	var out []Schedule
	for rows.Next() {
		sc, err := scanSchedule(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan schedule row: %w", err)
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}
