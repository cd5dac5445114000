// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"fmt"
	"time"
)

// CaptureCompletionSnapshot derives monitored/downloaded counts from the
// mirror and appends a snapshot row for the connector. percentBps is basis
// points (0..10000) so the trend endpoint never re-derives float math.
func (s *Store) CaptureCompletionSnapshot(ctx context.Context, connectorID int64, at time.Time) (CompletionSnapshot, error) {
	monitored, downloaded, err := s.CompletionCounts(ctx, connectorID)
	if err != nil {
		return CompletionSnapshot{}, err
	}
	bps := 0
	if monitored > 0 {
		bps = downloaded * 10000 / monitored
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO completion_snapshots (connector_id, captured_at, monitored_count, downloaded_count, percent_bps)
		VALUES (?, ?, ?, ?, ?)`,
		connectorID, fmtTime(at), monitored, downloaded, bps)
	if err != nil {
		return CompletionSnapshot{}, fmt.Errorf("insert snapshot: %w", err)
	}
	id, _ := res.LastInsertId()
	return CompletionSnapshot{
		ID:              id,
		ConnectorID:     connectorID,
		CapturedAt:      at.UTC(),
		MonitoredCount:  monitored,
		DownloadedCount: downloaded,
		PercentBps:      bps,
	}, nil
}

// ListSnapshots returns snapshots for a connector captured in (since, now],
// oldest first. The trend endpoint serves these directly.
func (s *Store) ListSnapshots(ctx context.Context, connectorID int64, since time.Time) ([]CompletionSnapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, connector_id, captured_at, monitored_count, downloaded_count, percent_bps
		FROM completion_snapshots
		WHERE connector_id = ? AND captured_at > ?
		ORDER BY captured_at ASC`,
		connectorID, fmtTime(since))
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	var out []CompletionSnapshot
	for rows.Next() {
		var (
			snap       CompletionSnapshot
			capturedAt string
		)
		if err := rows.Scan(&snap.ID, &snap.ConnectorID, &capturedAt, &snap.MonitoredCount, &snap.DownloadedCount, &snap.PercentBps); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		snap.CapturedAt = parseTime(capturedAt)
		out = append(out, snap)
	}
	return out, rows.Err()
}

// PruneSnapshots deletes snapshots captured before the cutoff, returning the
// number removed. Retention is 30 days.
func (s *Store) PruneSnapshots(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM completion_snapshots WHERE captured_at < ?`, fmtTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("prune snapshots: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
