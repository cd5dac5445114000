// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/comradarr/comradarr/internal/connector"
)

const contentCols = `id, connector_id, kind, upstream_id, series_id, season_number, episode_number,
	title, year, monitored, has_file, quality_cutoff_not_met, air_date, first_seen_missing_at,
	last_seen_at, created_at, updated_at`

// UpsertContentItems merges a batch of upstream items into the mirror.
// first_seen_missing_at is stamped when an item transitions to missing and
// cleared once a file appears, so priority scoring can weigh how long a gap
// has been open. last_seen_at records the sweep that produced the row; full
// reconciliation deletes rows not seen since the sweep start.
func (s *Store) UpsertContentItems(ctx context.Context, connectorID int64, items []connector.Item, seenAt time.Time) error {
	if len(items) == 0 {
		return nil
	}
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO content_items (connector_id, kind, upstream_id, series_id, season_number, episode_number,
				title, year, monitored, has_file, quality_cutoff_not_met, air_date, first_seen_missing_at,
				last_seen_at, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?,
				CASE WHEN ? = 0 THEN ? ELSE NULL END,
				?, ?, ?)
			ON CONFLICT(connector_id, kind, upstream_id) DO UPDATE SET
				series_id = excluded.series_id,
				season_number = excluded.season_number,
				episode_number = excluded.episode_number,
				title = excluded.title,
				year = excluded.year,
				monitored = excluded.monitored,
				has_file = excluded.has_file,
				quality_cutoff_not_met = excluded.quality_cutoff_not_met,
				air_date = excluded.air_date,
				first_seen_missing_at = CASE
					WHEN excluded.has_file = 1 THEN NULL
					WHEN content_items.first_seen_missing_at IS NOT NULL THEN content_items.first_seen_missing_at
					ELSE excluded.last_seen_at
				END,
				last_seen_at = excluded.last_seen_at,
				updated_at = excluded.updated_at`)
		if err != nil {
			return fmt.Errorf("prepare content upsert: %w", err)
		}
		defer stmt.Close()

		now := fmtTime(time.Now().UTC())
		seen := fmtTime(seenAt)
		for _, it := range items {
			var airDate sql.NullString
			if !it.AirDate.IsZero() {
				airDate = sql.NullString{String: fmtTime(it.AirDate), Valid: true}
			}
			if _, err := stmt.ExecContext(ctx,
				connectorID, string(it.Kind), it.UpstreamID, it.SeriesID, it.SeasonNumber, it.EpisodeNumber,
				it.Title, it.Year, boolInt(it.Monitored), boolInt(it.HasFile), boolInt(it.QualityCutoffNotMet),
				airDate,
				boolInt(it.HasFile), seen, // first_seen_missing_at on insert
				seen, now, now,
			); err != nil {
				return fmt.Errorf("upsert content item %d/%d: %w", connectorID, it.UpstreamID, err)
			}
		}
		return nil
	})
}

// GetContentItem returns one mirror row by ID.
func (s *Store) GetContentItem(ctx context.Context, id int64) (ContentItem, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+contentCols+` FROM content_items WHERE id = ?`, id)
	item, err := scanContentItem(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return ContentItem{}, ErrNotFound
	}
	return item, err
}

// GetContentByUpstream resolves a mirror row by its upstream identity.
func (s *Store) GetContentByUpstream(ctx context.Context, connectorID int64, kind connector.ContentKind, upstreamID int64) (ContentItem, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+contentCols+` FROM content_items
		WHERE connector_id = ? AND kind = ? AND upstream_id = ?`,
		connectorID, string(kind), upstreamID)
	item, err := scanContentItem(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return ContentItem{}, ErrNotFound
	}
	return item, err
}

// DeleteContentItem removes one mirror row; registry entries and pending
// commands referencing it cascade away.
func (s *Store) DeleteContentItem(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM content_items WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete content item: %w", err)
	}
	return nil
}

// DeleteContentNotSeenSince removes mirror rows a full reconciliation did not
// touch, returning the number removed. Cascades clean the registry.
func (s *Store) DeleteContentNotSeenSince(ctx context.Context, connectorID int64, sweepStart time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM content_items WHERE connector_id = ? AND last_seen_at < ?`,
		connectorID, fmtTime(sweepStart))
	if err != nil {
		return 0, fmt.Errorf("delete unseen content: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// ListSeasonEpisodes returns the mirror rows for one season ordered by
// episode number. The batcher folds per-episode gap entries on this.
func (s *Store) ListSeasonEpisodes(ctx context.Context, connectorID, seriesID int64, seasonNumber int) ([]ContentItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+contentCols+` FROM content_items
		WHERE connector_id = ? AND series_id = ? AND season_number = ? AND kind = 'episode'
		ORDER BY episode_number ASC`,
		connectorID, seriesID, seasonNumber)
	if err != nil {
		return nil, fmt.Errorf("list season episodes: %w", err)
	}
	defer rows.Close()
	return collectContentItems(rows)
}

// SeasonStatsFromMirror derives the statistics the batcher needs from the
// mirrored episodes of one season: how many monitored episodes exist, how
// many have files, and the earliest future air date if any episode has not
// aired yet.
func (s *Store) SeasonStatsFromMirror(ctx context.Context, connectorID, seriesID int64, seasonNumber int, now time.Time) (connector.SeasonStats, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE monitored = 1),
			COUNT(*) FILTER (WHERE monitored = 1 AND has_file = 1),
			COUNT(*),
			COALESCE(MIN(air_date) FILTER (WHERE air_date > ?), '')
		FROM content_items
		WHERE connector_id = ? AND series_id = ? AND season_number = ? AND kind = 'episode'`,
		fmtTime(now), connectorID, seriesID, seasonNumber)

	var (
		stats     connector.SeasonStats
		nextAired string
	)
	stats.SeasonNumber = seasonNumber
	if err := row.Scan(&stats.EpisodeCount, &stats.EpisodeFileCount, &stats.TotalEpisodeCount, &nextAired); err != nil {
		return connector.SeasonStats{}, fmt.Errorf("season stats: %w", err)
	}
	if nextAired != "" {
		stats.NextAiring = parseTime(nextAired)
	}
	stats.Monitored = stats.EpisodeCount > 0
	return stats, nil
}

// CompletionCounts reports monitored and downloaded totals for one connector.
// Snapshots and the trend endpoint build on this.
func (s *Store) CompletionCounts(ctx context.Context, connectorID int64) (monitored, downloaded int, err error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE monitored = 1),
			COUNT(*) FILTER (WHERE monitored = 1 AND has_file = 1)
		FROM content_items WHERE connector_id = ?`, connectorID)
	if err := row.Scan(&monitored, &downloaded); err != nil {
		return 0, 0, fmt.Errorf("completion counts: %w", err)
	}
	return monitored, downloaded, nil
}

type scanFn func(dest ...any) error

func scanContentItem(scan scanFn) (ContentItem, error) {
	var (
		it                             ContentItem
		kind                           string
		monitored, hasFile, cutoff     int
		airDate, firstMissing          sql.NullString
		lastSeen, createdAt, updatedAt string
	)
	err := scan(&it.ID, &it.ConnectorID, &kind, &it.UpstreamID, &it.SeriesID, &it.SeasonNumber, &it.EpisodeNumber,
		&it.Title, &it.Year, &monitored, &hasFile, &cutoff, &airDate, &firstMissing,
		&lastSeen, &createdAt, &updatedAt)
	if err != nil {
		return ContentItem{}, err
	}
	it.Kind = connector.ContentKind(kind)
	it.Monitored = monitored == 1
	it.HasFile = hasFile == 1
	it.QualityCutoffNotMet = cutoff == 1
	it.AirDate = parseNullTime(airDate)
	it.FirstSeenMissingAt = parseNullTime(firstMissing)
	it.LastSeenAt = parseTime(lastSeen)
	it.CreatedAt = parseTime(createdAt)
	it.UpdatedAt = parseTime(updatedAt)
	return it, nil
}

func collectContentItems(rows *sql.Rows) ([]ContentItem, error) {
	var out []ContentItem
	for rows.Next() {
		it, err := scanContentItem(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan content row: %w", err)
		}
		out = append(out, it)
	}
	return out, rows.Err()
}
