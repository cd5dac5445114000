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

const registryCols = `id, connector_id, content_id, search_type, state, priority, user_priority,
	attempt_count, next_eligible_at, last_error, created_at, updated_at`

// EnsureEntry inserts a registry entry for (connector, content, searchType) if
// none exists, in state pending. An existing entry is left untouched: sync
// must never reset attempt counts or yank an entry out of cooldown.
func (s *Store) EnsureEntry(ctx context.Context, connectorID, contentID int64, searchType SearchType) (bool, error) {
	now := fmtTime(time.Now().UTC())
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO search_registry (connector_id, content_id, search_type, state, created_at, updated_at)
		VALUES (?, ?, ?, 'pending', ?, ?)
		ON CONFLICT(connector_id, content_id, search_type) DO NOTHING`,
		connectorID, contentID, string(searchType), now, now)
	if err != nil {
		return false, fmt.Errorf("ensure registry entry: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// SeedRegistryFromMirror inserts pending entries for every mirrored item that
// qualifies and has none yet: gap rows for monitored aired content without a
// file, upgrade rows for monitored content below its quality cutoff. Existing
// rows are left untouched, so attempt counts and cooldowns survive re-sync.
// Unaired content is not a gap yet and is skipped until its air date passes.
func (s *Store) SeedRegistryFromMirror(ctx context.Context, connectorID int64, now time.Time) (gaps, upgrades int64, err error) {
	ts := fmtTime(now)
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO search_registry (connector_id, content_id, search_type, state, created_at, updated_at)
		SELECT c.connector_id, c.id, 'gap', 'pending', ?, ?
		FROM content_items c
		WHERE c.connector_id = ? AND c.monitored = 1 AND c.has_file = 0
		  AND (c.air_date IS NULL OR c.air_date <= ?)
		ON CONFLICT(connector_id, content_id, search_type) DO NOTHING`,
		ts, ts, connectorID, ts)
	if err != nil {
		return 0, 0, fmt.Errorf("seed gap entries: %w", err)
	}
	gaps, _ = res.RowsAffected()

	res, err = s.db.ExecContext(ctx, `
		INSERT INTO search_registry (connector_id, content_id, search_type, state, created_at, updated_at)
		SELECT c.connector_id, c.id, 'upgrade', 'pending', ?, ?
		FROM content_items c
		WHERE c.connector_id = ? AND c.monitored = 1 AND c.has_file = 1 AND c.quality_cutoff_not_met = 1
		ON CONFLICT(connector_id, content_id, search_type) DO NOTHING`,
		ts, ts, connectorID)
	if err != nil {
		return 0, 0, fmt.Errorf("seed upgrade entries: %w", err)
	}
	upgrades, _ = res.RowsAffected()
	return gaps, upgrades, nil
}

// GetRegistryEntry returns one entry by ID.
func (s *Store) GetRegistryEntry(ctx context.Context, id int64) (RegistryEntry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+registryCols+` FROM search_registry WHERE id = ?`, id)
	e, err := scanRegistryEntry(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return RegistryEntry{}, ErrNotFound
	}
	return e, err
}

// ListDispatchCandidates returns entries eligible for dispatch on one
// connector, joined with their content. Eligible means pending with no
// deferral (or an elapsed one), cooldown whose delay has elapsed, or queued
// left behind by an interrupted sweep. The SQL pre-orders by the last stored
// score; the caller re-scores and re-sorts before selecting.
func (s *Store) ListDispatchCandidates(ctx context.Context, connectorID int64, now time.Time, limit int) ([]DispatchCandidate, error) {
	if limit <= 0 {
		limit = 200
	}
	cutoff := fmtTime(now)
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.connector_id, r.content_id, r.search_type, r.state, r.priority, r.user_priority,
			r.attempt_count, r.next_eligible_at, r.last_error, r.created_at, r.updated_at,
			c.id, c.connector_id, c.kind, c.upstream_id, c.series_id, c.season_number, c.episode_number,
			c.title, c.year, c.monitored, c.has_file, c.quality_cutoff_not_met, c.air_date,
			c.first_seen_missing_at, c.last_seen_at, c.created_at, c.updated_at
		FROM search_registry r
		JOIN content_items c ON c.id = r.content_id
		WHERE r.connector_id = ?
		  AND (
			(r.state = 'pending' AND (r.next_eligible_at IS NULL OR r.next_eligible_at <= ?))
			OR r.state = 'queued'
			OR (r.state = 'cooldown' AND r.next_eligible_at IS NOT NULL AND r.next_eligible_at <= ?)
		  )
		ORDER BY r.priority + r.user_priority DESC, r.created_at ASC, r.id ASC
		LIMIT ?`,
		connectorID, cutoff, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("list dispatch candidates: %w", err)
	}
	defer rows.Close()

	var out []DispatchCandidate
	for rows.Next() {
		var (
			e                              RegistryEntry
			searchType, state              string
			nextEligible                   sql.NullString
			eCreated, eUpdated             string
			it                             ContentItem
			kind                           string
			monitored, hasFile, cutoffFlag int
			airDate, firstMissing          sql.NullString
			lastSeen, cCreated, cUpdated   string
		)
		if err := rows.Scan(&e.ID, &e.ConnectorID, &e.ContentID, &searchType, &state, &e.Priority, &e.UserPriority,
			&e.AttemptCount, &nextEligible, &e.LastError, &eCreated, &eUpdated,
			&it.ID, &it.ConnectorID, &kind, &it.UpstreamID, &it.SeriesID, &it.SeasonNumber, &it.EpisodeNumber,
			&it.Title, &it.Year, &monitored, &hasFile, &cutoffFlag, &airDate,
			&firstMissing, &lastSeen, &cCreated, &cUpdated); err != nil {
			return nil, fmt.Errorf("scan candidate: %w", err)
		}
		e.SearchType = SearchType(searchType)
		e.State = RegistryState(state)
		e.NextEligibleAt = parseNullTime(nextEligible)
		e.CreatedAt = parseTime(eCreated)
		e.UpdatedAt = parseTime(eUpdated)
		it.Kind = connector.ContentKind(kind)
		it.Monitored = monitored == 1
		it.HasFile = hasFile == 1
		it.QualityCutoffNotMet = cutoffFlag == 1
		it.AirDate = parseNullTime(airDate)
		it.FirstSeenMissingAt = parseNullTime(firstMissing)
		it.LastSeenAt = parseTime(lastSeen)
		it.CreatedAt = parseTime(cCreated)
		it.UpdatedAt = parseTime(cUpdated)
		out = append(out, DispatchCandidate{Entry: e, ObservedState: e.State, Content: it})
	}
	return out, rows.Err()
}

// MarkQueued fences the entry from its observed state into queued and stores
// the freshly computed score. Returns false when another writer moved the
// entry first; the caller skips it silently.
func (s *Store) MarkQueued(ctx context.Context, id int64, observed RegistryState, score int) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE search_registry SET state = 'queued', priority = ?, updated_at = ?
		WHERE id = ? AND state = ?`,
		score, fmtTime(time.Now().UTC()), id, string(observed))
	if err != nil {
		return false, fmt.Errorf("mark queued: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// MarkSearchingTx moves a queued entry to searching and bumps the attempt
// count, inside the dispatch transaction that also records the pending
// command. Fenced on state=queued.
func (s *Store) MarkSearchingTx(ctx context.Context, tx *sql.Tx, id int64) (bool, error) {
	res, err := tx.ExecContext(ctx, `
		UPDATE search_registry
		SET state = 'searching', attempt_count = attempt_count + 1, next_eligible_at = NULL, updated_at = ?
		WHERE id = ? AND state = 'queued'`,
		fmtTime(time.Now().UTC()), id)
	if err != nil {
		return false, fmt.Errorf("mark searching: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// MarkDeferred returns a queued entry to pending with a deferral stamp.
// Admission denials land here so the next sweep retries without burning an
// attempt.
func (s *Store) MarkDeferred(ctx context.Context, id int64, nextEligibleAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE search_registry SET state = 'pending', next_eligible_at = ?, updated_at = ?
		WHERE id = ? AND state = 'queued'`,
		fmtTime(nextEligibleAt), fmtTime(time.Now().UTC()), id)
	if err != nil {
		return fmt.Errorf("mark deferred: %w", err)
	}
	return nil
}

// MarkCooldown fences a searching entry into cooldown until nextEligibleAt.
func (s *Store) MarkCooldown(ctx context.Context, id int64, nextEligibleAt time.Time, lastError string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE search_registry SET state = 'cooldown', next_eligible_at = ?, last_error = ?, updated_at = ?
		WHERE id = ? AND state = 'searching'`,
		fmtTime(nextEligibleAt), lastError, fmtTime(time.Now().UTC()), id)
	if err != nil {
		return false, fmt.Errorf("mark cooldown: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// MarkExhausted fences a searching entry into exhausted once the attempt
// ceiling is reached.
func (s *Store) MarkExhausted(ctx context.Context, id int64, lastError string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE search_registry SET state = 'exhausted', next_eligible_at = NULL, last_error = ?, updated_at = ?
		WHERE id = ? AND state = 'searching'`,
		lastError, fmtTime(time.Now().UTC()), id)
	if err != nil {
		return false, fmt.Errorf("mark exhausted: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// RequeueEntry is the user operation that pulls an entry back to pending with
// a fresh attempt budget, valid in any state. A search in flight is abandoned:
// its open command is closed as failed in the same transaction so no open
// command ever points at a non-searching row.
func (s *Store) RequeueEntry(ctx context.Context, id int64) error {
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		now := fmtTime(time.Now().UTC())
		res, err := tx.ExecContext(ctx, `
			UPDATE search_registry
			SET state = 'pending', attempt_count = 0, next_eligible_at = NULL, last_error = '', updated_at = ?
			WHERE id = ?`,
			now, id)
		if err != nil {
			return fmt.Errorf("requeue entry: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE pending_commands
			SET command_status = 'failed', completed_at = ?
			WHERE registry_id = ? AND completed_at IS NULL`,
			now, id); err != nil {
			return fmt.Errorf("requeue entry: close open command: %w", err)
		}
		return nil
	})
}

// ExhaustEntry is the user operation that parks an entry. Refused while a
// search is in flight; the tracker owns that transition.
func (s *Store) ExhaustEntry(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE search_registry SET state = 'exhausted', next_eligible_at = NULL, updated_at = ?
		WHERE id = ? AND state != 'searching'`,
		fmtTime(time.Now().UTC()), id)
	if err != nil {
		return fmt.Errorf("exhaust entry: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := s.GetRegistryEntry(ctx, id); errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("%w: entry has a search in flight", ErrConflict)
	}
	return nil
}

// DeleteEntry removes an entry outright. Valid in any state; an in-flight
// command left behind resolves as an orphan in the tracker.
func (s *Store) DeleteEntry(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM search_registry WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete entry: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetUserPriority stores the user's score adjustment for an entry.
func (s *Store) SetUserPriority(ctx context.Context, id int64, userPriority int) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE search_registry SET user_priority = ?, updated_at = ? WHERE id = ?`,
		userPriority, fmtTime(time.Now().UTC()), id)
	if err != nil {
		return fmt.Errorf("set user priority: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteEntriesForContent removes every registry entry for a content item,
// used when the tracker confirms a file was acquired.
func (s *Store) DeleteEntriesForContent(ctx context.Context, contentID int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM search_registry WHERE content_id = ?`, contentID)
	if err != nil {
		return fmt.Errorf("delete entries for content: %w", err)
	}
	return nil
}

// PruneResolvedEntries drops entries whose underlying condition resolved
// out-of-band: gap entries whose content gained a file, upgrade entries whose
// cutoff is now met, and entries on unmonitored content. In-flight searches
// are left for the tracker. Returns the number removed.
func (s *Store) PruneResolvedEntries(ctx context.Context, connectorID int64) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM search_registry
		WHERE connector_id = ? AND state != 'searching' AND id IN (
			SELECT r.id FROM search_registry r
			JOIN content_items c ON c.id = r.content_id
			WHERE r.connector_id = ?
			  AND (
				c.monitored = 0
				OR (r.search_type = 'gap' AND c.has_file = 1)
				OR (r.search_type = 'upgrade' AND c.quality_cutoff_not_met = 0)
			  )
		)`, connectorID, connectorID)
	if err != nil {
		return 0, fmt.Errorf("prune resolved entries: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// RegistryStateCounts returns the row count per state across all connectors.
func (s *Store) RegistryStateCounts(ctx context.Context) (map[RegistryState]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT state, COUNT(*) FROM search_registry GROUP BY state`)
	if err != nil {
		return nil, fmt.Errorf("registry state counts: %w", err)
	}
	defer rows.Close()
	out := make(map[RegistryState]int)
	for rows.Next() {
		var (
			state string
			n     int
		)
		if err := rows.Scan(&state, &n); err != nil {
			return nil, fmt.Errorf("scan state count: %w", err)
		}
		out[RegistryState(state)] = n
	}
	return out, rows.Err()
}

// ListRegistryEntries returns entries filtered by connector, state and search
// type (zero values mean no filter), newest first, paged.
func (s *Store) ListRegistryEntries(ctx context.Context, connectorID int64, state RegistryState, searchType SearchType, limit, offset int) ([]RegistryEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	q := `SELECT ` + registryCols + ` FROM search_registry WHERE 1=1`
	args := []any{}
	if connectorID > 0 {
		q += ` AND connector_id = ?`
		args = append(args, connectorID)
	}
	if state != "" {
		q += ` AND state = ?`
		args = append(args, string(state))
	}
	if searchType != "" {
		q += ` AND search_type = ?`
		args = append(args, string(searchType))
	}
	q += ` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list registry entries: %w", err)
	}
	defer rows.Close()

	var out []RegistryEntry
	for rows.Next() {
		e, err := scanRegistryEntry(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan registry row: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// SearchingEntriesForSeason returns the IDs of entries currently in searching
// that belong to one season. A season-scoped command resolution covers all of
// them.
func (s *Store) SearchingEntriesForSeason(ctx context.Context, connectorID, seriesID int64, seasonNumber int) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id FROM search_registry r
		JOIN content_items c ON c.id = r.content_id
		WHERE r.connector_id = ? AND r.state = 'searching'
		  AND c.series_id = ? AND c.season_number = ? AND c.kind = 'episode'`,
		connectorID, seriesID, seasonNumber)
	if err != nil {
		return nil, fmt.Errorf("searching entries for season: %w", err)
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan entry id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func scanRegistryEntry(scan scanFn) (RegistryEntry, error) {
	var (
		e                    RegistryEntry
		searchType, state    string
		nextEligible         sql.NullString
		createdAt, updatedAt string
	)
	err := scan(&e.ID, &e.ConnectorID, &e.ContentID, &searchType, &state, &e.Priority, &e.UserPriority,
		&e.AttemptCount, &nextEligible, &e.LastError, &createdAt, &updatedAt)
	if err != nil {
		return RegistryEntry{}, err
	}
	e.SearchType = SearchType(searchType)
	e.State = RegistryState(state)
	e.NextEligibleAt = parseNullTime(nextEligible)
	e.CreatedAt = parseTime(createdAt)
	e.UpdatedAt = parseTime(updatedAt)
	return e, nil
}
