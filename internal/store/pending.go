// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const pendingCols = `id, connector_id, registry_id, upstream_command_id, content_id, search_type,
	season_scoped, series_id, season_number, command_status, file_acquired, dispatched_at, completed_at`

// CreatePendingCommandTx records a dispatched command inside the dispatch
// transaction. The partial unique index on content_id keeps one open command
// per content leader; a violation means a concurrent dispatch won.
func (s *Store) CreatePendingCommandTx(ctx context.Context, tx *sql.Tx, p PendingCommand) (int64, error) {
	res, err := tx.ExecContext(ctx, `
		INSERT INTO pending_commands (connector_id, registry_id, upstream_command_id, content_id, search_type,
			season_scoped, series_id, season_number, command_status, dispatched_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ConnectorID, p.RegistryID, p.UpstreamCommandID, p.ContentID, string(p.SearchType),
		boolInt(p.SeasonScoped), p.SeriesID, p.SeasonNumber, string(CommandQueued), fmtTime(p.DispatchedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("%w: content already has an open command", ErrConflict)
		}
		return 0, fmt.Errorf("insert pending command: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("pending command id: %w", err)
	}
	return id, nil
}

// GetPendingCommand returns one command by ID.
func (s *Store) GetPendingCommand(ctx context.Context, id int64) (PendingCommand, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+pendingCols+` FROM pending_commands WHERE id = ?`, id)
	p, err := scanPendingCommand(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return PendingCommand{}, ErrNotFound
	}
	return p, err
}

// ListOpenCommands returns unresolved commands for one connector, oldest
// first. The tracker polls these against the upstream command endpoint.
func (s *Store) ListOpenCommands(ctx context.Context, connectorID int64) ([]PendingCommand, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+pendingCols+` FROM pending_commands
		WHERE connector_id = ? AND completed_at IS NULL
		ORDER BY dispatched_at ASC`, connectorID)
	if err != nil {
		return nil, fmt.Errorf("list open commands: %w", err)
	}
	defer rows.Close()
	return collectPendingCommands(rows)
}

// ListOpenCommandsOlderThan returns unresolved commands dispatched before the
// cutoff, across all connectors. The hourly cleanup forces these closed.
func (s *Store) ListOpenCommandsOlderThan(ctx context.Context, cutoff time.Time) ([]PendingCommand, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+pendingCols+` FROM pending_commands
		WHERE completed_at IS NULL AND dispatched_at < ?
		ORDER BY dispatched_at ASC`, fmtTime(cutoff))
	if err != nil {
		return nil, fmt.Errorf("list stale open commands: %w", err)
	}
	defer rows.Close()
	return collectPendingCommands(rows)
}

// MarkCommandStarted advances a queued command once the upstream reports it
// executing.
func (s *Store) MarkCommandStarted(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE pending_commands SET command_status = ? WHERE id = ? AND command_status = ?`,
		string(CommandStarted), id, string(CommandQueued))
	if err != nil {
		return fmt.Errorf("mark command started: %w", err)
	}
	return nil
}

// ResolveCommand closes a command with its terminal status and whether a file
// was confirmed acquired.
func (s *Store) ResolveCommand(ctx context.Context, id int64, status CommandStatus, fileAcquired bool, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE pending_commands SET command_status = ?, file_acquired = ?, completed_at = ?
		WHERE id = ? AND completed_at IS NULL`,
		string(status), boolInt(fileAcquired), fmtTime(at), id)
	if err != nil {
		return fmt.Errorf("resolve command: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// PurgeResolvedCommands deletes resolved commands older than the cutoff,
// returning the number removed.
func (s *Store) PurgeResolvedCommands(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM pending_commands WHERE completed_at IS NOT NULL AND completed_at < ?`,
		fmtTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("purge resolved commands: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// CountOpenCommands returns the number of unresolved commands, optionally
// scoped to one connector (0 means all).
func (s *Store) CountOpenCommands(ctx context.Context, connectorID int64) (int, error) {
	q := `SELECT COUNT(*) FROM pending_commands WHERE completed_at IS NULL`
	args := []any{}
	if connectorID > 0 {
		q += ` AND connector_id = ?`
		args = append(args, connectorID)
	}
	var n int
	if err := s.db.QueryRowContext(ctx, q, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count open commands: %w", err)
	}
	return n, nil
}

func scanPendingCommand(scan scanFn) (PendingCommand, error) {
	var (
		p                  PendingCommand
		searchType, status string
		seasonScoped       int
		fileAcquired       sql.NullInt64
		dispatchedAt       string
		completedAt        sql.NullString
	)
	err := scan(&p.ID, &p.ConnectorID, &p.RegistryID, &p.UpstreamCommandID, &p.ContentID, &searchType,
		&seasonScoped, &p.SeriesID, &p.SeasonNumber, &status, &fileAcquired, &dispatchedAt, &completedAt)
	if err != nil {
		return PendingCommand{}, err
	}
	p.SearchType = SearchType(searchType)
	p.SeasonScoped = seasonScoped == 1
	p.CommandStatus = CommandStatus(status)
	if fileAcquired.Valid {
		v := fileAcquired.Int64 == 1
		p.FileAcquired = &v
	}
	p.DispatchedAt = parseTime(dispatchedAt)
	p.CompletedAt = parseNullTime(completedAt)
	return p, nil
}

func collectPendingCommands(rows *sql.Rows) ([]PendingCommand, error) {
	var out []PendingCommand
	for rows.Next() {
		p, err := scanPendingCommand(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan pending command: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
