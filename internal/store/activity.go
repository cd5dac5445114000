// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"fmt"
	"time"
)

// RecordSyncActivity appends one sweep outcome row for the activity feed.
func (s *Store) RecordSyncActivity(ctx context.Context, a SyncActivity) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_activities (connector_id, schedule_id, source, mode, started_at, finished_at,
			items_synced, gaps_added, upgrades_added, dispatched, deferred, skipped_connectors, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ConnectorID, a.ScheduleID, a.Source, string(a.Mode), fmtTime(a.StartedAt), fmtTime(a.FinishedAt),
		a.ItemsSynced, a.GapsAdded, a.UpgradesAdded, a.Dispatched, a.Deferred, a.SkippedConnectors, a.Error)
	if err != nil {
		return 0, fmt.Errorf("record sync activity: %w", err)
	}
	id, _ := res.LastInsertId()
	return id, nil
}

// ListSyncActivities returns recent activity rows, newest first.
func (s *Store) ListSyncActivities(ctx context.Context, limit int) ([]SyncActivity, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, connector_id, schedule_id, source, mode, started_at, finished_at,
			items_synced, gaps_added, upgrades_added, dispatched, deferred, skipped_connectors, error
		FROM sync_activities ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list sync activities: %w", err)
	}
	defer rows.Close()

	var out []SyncActivity
	for rows.Next() {
		var (
			a                     SyncActivity
			mode                  string
			startedAt, finishedAt string
		)
		if err := rows.Scan(&a.ID, &a.ConnectorID, &a.ScheduleID, &a.Source, &mode, &startedAt, &finishedAt,
			&a.ItemsSynced, &a.GapsAdded, &a.UpgradesAdded, &a.Dispatched, &a.Deferred, &a.SkippedConnectors, &a.Error); err != nil {
			return nil, fmt.Errorf("scan sync activity: %w", err)
		}
		a.Mode = SweepMode(mode)
		a.StartedAt = parseTime(startedAt)
		a.FinishedAt = parseTime(finishedAt)
		out = append(out, a)
	}
	return out, rows.Err()
}

// PruneSyncActivities deletes activity rows started before the cutoff.
func (s *Store) PruneSyncActivities(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sync_activities WHERE started_at < ?`, fmtTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("prune sync activities: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
