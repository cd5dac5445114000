// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// UpsertReconnectState persists the supervisor's backoff bookkeeping for one
// connector.
func (s *Store) UpsertReconnectState(ctx context.Context, st ReconnectState) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reconnect_states (connector_id, consecutive_failures, next_attempt_at, paused, last_attempt_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(connector_id) DO UPDATE SET
			consecutive_failures = excluded.consecutive_failures,
			next_attempt_at = excluded.next_attempt_at,
			paused = excluded.paused,
			last_attempt_at = excluded.last_attempt_at,
			updated_at = excluded.updated_at`,
		st.ConnectorID, st.ConsecutiveFailures, fmtNullTime(st.NextAttemptAt),
		boolInt(st.Paused), fmtNullTime(st.LastAttemptAt), fmtTime(time.Now().UTC()))
	if err != nil {
		return fmt.Errorf("upsert reconnect state: %w", err)
	}
	return nil
}

// GetReconnectState returns the supervisor state for one connector, or
// ErrNotFound when the connector has never gone offline.
func (s *Store) GetReconnectState(ctx context.Context, connectorID int64) (ReconnectState, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT connector_id, consecutive_failures, next_attempt_at, paused, last_attempt_at, updated_at
		FROM reconnect_states WHERE connector_id = ?`, connectorID)
	st, err := scanReconnectState(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return ReconnectState{}, ErrNotFound
	}
	return st, err
}

// ListReconnectStates returns all persisted supervisor states.
func (s *Store) ListReconnectStates(ctx context.Context) ([]ReconnectState, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT connector_id, consecutive_failures, next_attempt_at, paused, last_attempt_at, updated_at
		FROM reconnect_states ORDER BY connector_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list reconnect states: %w", err)
	}
	defer rows.Close()
	var out []ReconnectState
	for rows.Next() {
		st, err := scanReconnectState(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan reconnect state: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// ClearReconnectState drops the supervisor state once a connector is back
// online.
func (s *Store) ClearReconnectState(ctx context.Context, connectorID int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM reconnect_states WHERE connector_id = ?`, connectorID)
	if err != nil {
		return fmt.Errorf("clear reconnect state: %w", err)
	}
	return nil
}

func scanReconnectState(scan scanFn) (ReconnectState, error) {
	var (
		st                   ReconnectState
		nextAttempt, lastTry sql.NullString
		paused               int
		updatedAt            string
	)
	err := scan(&st.ConnectorID, &st.ConsecutiveFailures, &nextAttempt, &paused, &lastTry, &updatedAt)
	if err != nil {
		return ReconnectState{}, err
	}
	st.NextAttemptAt = parseNullTime(nextAttempt)
	st.Paused = paused == 1
	st.LastAttemptAt = parseNullTime(lastTry)
	st.UpdatedAt = parseTime(updatedAt)
	return st, nil
}
