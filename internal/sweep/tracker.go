// SPDX-License-Identifier: MIT

package sweep

import (
	"context"
	"errors"
	"time"

	"github.com/comradarr/comradarr/internal/connector"
	"github.com/comradarr/comradarr/internal/cron"
	"github.com/comradarr/comradarr/internal/log"
	"github.com/comradarr/comradarr/internal/metrics"
	"github.com/comradarr/comradarr/internal/notify"
	"github.com/comradarr/comradarr/internal/search"
	"github.com/comradarr/comradarr/internal/settings"
	"github.com/comradarr/comradarr/internal/store"
)

// commandTimeout force-closes commands the upstream never resolved.
const commandTimeout = 24 * time.Hour

// Tracker follows dispatched commands to their outcome: it polls the
// upstream command endpoint, confirms file acquisition against a fresh
// library read, and advances or closes the covered registry rows.
type Tracker struct {
	store   *store.Store
	clients *Clients
	bridge  *settings.Bridge
	notify  Notifier
	clock   cron.Clock
}

// NewTracker returns a tracker. A nil clock means the wall clock.
func NewTracker(st *store.Store, clients *Clients, bridge *settings.Bridge, n Notifier, clock cron.Clock) *Tracker {
	if clock == nil {
		clock = cron.System()
	}
	return &Tracker{store: st, clients: clients, bridge: bridge, notify: n, clock: clock}
}

// Tick processes every open pending command once: first the 24 h timeouts,
// then a poll per live command, then the retention purge.
func (t *Tracker) Tick(ctx context.Context) error {
	logger := log.WithComponentFromContext(ctx, "tracker")
	now := t.clock.Now()
	cfg := search.LoadConfig(ctx, t.bridge)

	stale, err := t.store.ListOpenCommandsOlderThan(ctx, now.Add(-commandTimeout))
	if err != nil {
		return err
	}
	for _, pc := range stale {
		t.closeCommand(ctx, pc, store.CommandFailed, false, "timeout", "no upstream resolution within 24h", cfg)
	}

	conns, err := t.store.ListEnabledConnectors(ctx)
	if err != nil {
		return err
	}
	for _, conn := range conns {
		if !conn.Type.Searchable() || conn.HealthStatus == store.HealthOffline {
			continue
		}
		open, lerr := t.store.ListOpenCommands(ctx, conn.ID)
		if lerr != nil {
			logger.Error().Err(lerr).Int64("connector_id", conn.ID).Str("event", "tracker.list_failed").Msg("failed to list open commands")
			continue
		}
		if len(open) == 0 {
			continue
		}
		client, cerr := t.clients.For(conn)
		if cerr != nil {
			logger.Error().Err(cerr).Int64("connector_id", conn.ID).Str("event", "tracker.client_failed").Msg("failed to build client")
			continue
		}
		for _, pc := range open {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			t.trackCommand(ctx, client, conn, pc, cfg)
		}
	}

	purged, err := t.store.PurgeResolvedCommands(ctx, now.AddDate(0, 0, -cfg.RetentionDays))
	if err != nil {
		return err
	}
	if purged > 0 {
		logger.Debug().Int64("purged", purged).Str("event", "tracker.purge").Msg("purged resolved commands")
	}

	if n, cerr := t.store.CountOpenCommands(ctx, 0); cerr == nil {
		metrics.SetPendingCommands(float64(n))
	}
	return nil
}

// trackCommand advances a single open command against the upstream state.
func (t *Tracker) trackCommand(ctx context.Context, client *connector.Client, conn store.Connector, pc store.PendingCommand, cfg search.Config) {
	logger := log.WithComponentFromContext(ctx, "tracker")

	res, err := client.Command(ctx, pc.UpstreamCommandID)
	if err != nil {
		if errors.Is(err, connector.ErrNotFound) {
			// The upstream forgot the command, usually after a restart.
			t.closeCommand(ctx, pc, store.CommandFailed, false, "orphaned", "upstream lost the command", cfg)
			return
		}
		// Transient upstream trouble; the next tick retries.
		logger.Warn().Err(err).
			Str("event", "tracker.poll_failed").
			Int64("pending_id", pc.ID).
			Int64("upstream_command_id", pc.UpstreamCommandID).
			Msg("command poll failed")
		return
	}

	switch res.State {
	case connector.CommandQueued:
		// Still waiting upstream.
	case connector.CommandStarted:
		if pc.CommandStatus == store.CommandQueued {
			if err := t.store.MarkCommandStarted(ctx, pc.ID); err != nil {
				logger.Error().Err(err).Int64("pending_id", pc.ID).Str("event", "tracker.start_mark_failed").Msg("failed to mark command started")
			}
		}
	case connector.CommandCompleted:
		t.settleCompleted(ctx, client, conn, pc, cfg)
	case connector.CommandFailed:
		t.closeCommand(ctx, pc, store.CommandFailed, false, "failed", "upstream command failed", cfg)
	}
}

// settleCompleted decides what a completed search actually achieved. Content
// still moving through the download queue keeps the command open; otherwise
// a fresh library read refreshes the mirror and each covered row settles on
// its own outcome.
func (t *Tracker) settleCompleted(ctx context.Context, client *connector.Client, conn store.Connector, pc store.PendingCommand, cfg search.Config) {
	logger := log.WithComponentFromContext(ctx, "tracker")
	now := t.clock.Now()

	entryIDs, err := t.coveredEntries(ctx, pc)
	if err != nil {
		logger.Error().Err(err).Int64("pending_id", pc.ID).Str("event", "tracker.rows_failed").Msg("failed to resolve covered rows")
		return
	}
	if len(entryIDs) == 0 {
		// Rows already cleaned up elsewhere; just close the command.
		t.resolveOnly(ctx, pc, store.CommandCompleted, false, "completed")
		return
	}

	busy, err := t.queuedUpstreamIDs(ctx, client)
	if err != nil {
		logger.Warn().Err(err).Int64("pending_id", pc.ID).Str("event", "tracker.queue_failed").Msg("queue poll failed")
		return
	}

	items, err := t.freshItems(ctx, client, conn, pc)
	if err != nil {
		logger.Warn().Err(err).Int64("pending_id", pc.ID).Str("event", "tracker.library_failed").Msg("library poll failed")
		return
	}
	if err := t.store.UpsertContentItems(ctx, conn.ID, items, now); err != nil {
		logger.Error().Err(err).Int64("pending_id", pc.ID).Str("event", "tracker.mirror_failed").Msg("mirror refresh failed")
		return
	}

	anyAcquired := false
	unresolved := 0
	for _, entryID := range entryIDs {
		entry, gerr := t.store.GetRegistryEntry(ctx, entryID)
		if errors.Is(gerr, store.ErrNotFound) {
			continue
		}
		if gerr != nil {
			logger.Error().Err(gerr).Int64("registry_id", entryID).Str("event", "tracker.entry_failed").Msg("failed to load registry entry")
			continue
		}
		content, gerr := t.store.GetContentItem(ctx, entry.ContentID)
		if errors.Is(gerr, store.ErrNotFound) {
			continue
		}
		if gerr != nil {
			logger.Error().Err(gerr).Int64("content_id", entry.ContentID).Str("event", "tracker.content_failed").Msg("failed to load content")
			continue
		}

		if busy[content.UpstreamID] {
			// Grab in progress; keep the command open for the next tick.
			unresolved++
			continue
		}

		if entry.SearchType == store.SearchGap && content.HasFile {
			if derr := t.store.DeleteEntriesForContent(ctx, content.ID); derr != nil {
				logger.Error().Err(derr).Int64("content_id", content.ID).Str("event", "tracker.delete_failed").Msg("failed to delete resolved entries")
				continue
			}
			anyAcquired = true
			t.notify.Publish(notify.SearchSuccess, map[string]any{
				"connector_id": conn.ID,
				"connector":    conn.Name,
				"title":        content.Title,
				"search_type":  string(entry.SearchType),
			})
			logger.Info().
				Str("event", "tracker.acquired").
				Int64("connector_id", conn.ID).
				Str("title", content.Title).
				Msg("file acquired")
			continue
		}

		// No file (or an upgrade whose cutoff state the library read cannot
		// see): count the attempt. A successful upgrade is pruned by the
		// next sync before its cooldown elapses.
		t.settleAttempt(ctx, conn, entry, "no results", cfg)
	}

	if unresolved > 0 {
		return
	}
	t.resolveOnly(ctx, pc, store.CommandCompleted, anyAcquired, "completed")
}

// settleAttempt applies the cooldown/exhausted decision to one row after a
// fruitless attempt.
func (t *Tracker) settleAttempt(ctx context.Context, conn store.Connector, entry store.RegistryEntry, cause string, cfg search.Config) {
	logger := log.WithComponentFromContext(ctx, "tracker")
	now := t.clock.Now()

	if entry.AttemptCount >= cfg.MaxAttempts {
		ok, err := t.store.MarkExhausted(ctx, entry.ID, cause)
		if err != nil {
			logger.Error().Err(err).Int64("registry_id", entry.ID).Str("event", "tracker.exhaust_failed").Msg("failed to exhaust entry")
			return
		}
		if ok {
			metrics.RecordRegistryTransition("exhausted")
			t.notify.Publish(notify.SearchExhausted, map[string]any{
				"connector_id": conn.ID,
				"connector":    conn.Name,
				"registry_id":  entry.ID,
				"attempts":     entry.AttemptCount,
			})
			logger.Warn().
				Str("event", "tracker.exhausted").
				Int64("registry_id", entry.ID).
				Int("attempts", entry.AttemptCount).
				Msg("entry exhausted")
		}
		return
	}

	delay := cfg.Cooldown.Delay(entry.AttemptCount)
	ok, err := t.store.MarkCooldown(ctx, entry.ID, now.Add(delay), cause)
	if err != nil {
		logger.Error().Err(err).Int64("registry_id", entry.ID).Str("event", "tracker.cooldown_failed").Msg("failed to cool down entry")
		return
	}
	if ok {
		metrics.RecordRegistryTransition("cooldown")
	}
}

// closeCommand resolves a command and sends every covered row through the
// attempt settling path.
func (t *Tracker) closeCommand(ctx context.Context, pc store.PendingCommand, status store.CommandStatus, fileAcquired bool, outcome, cause string, cfg search.Config) {
	logger := log.WithComponentFromContext(ctx, "tracker")

	entryIDs, err := t.coveredEntries(ctx, pc)
	if err != nil {
		logger.Error().Err(err).Int64("pending_id", pc.ID).Str("event", "tracker.rows_failed").Msg("failed to resolve covered rows")
		return
	}
	conn, err := t.store.GetConnector(ctx, pc.ConnectorID)
	if err != nil {
		conn = store.Connector{ID: pc.ConnectorID}
	}
	for _, entryID := range entryIDs {
		entry, gerr := t.store.GetRegistryEntry(ctx, entryID)
		if gerr != nil {
			continue
		}
		t.settleAttempt(ctx, conn, entry, cause, cfg)
	}
	t.resolveOnly(ctx, pc, status, fileAcquired, outcome)
}

// resolveOnly closes the pending command row itself.
func (t *Tracker) resolveOnly(ctx context.Context, pc store.PendingCommand, status store.CommandStatus, fileAcquired bool, outcome string) {
	if err := t.store.ResolveCommand(ctx, pc.ID, status, fileAcquired, t.clock.Now()); err != nil {
		logger := log.WithComponentFromContext(ctx, "tracker")
		logger.Error().
			Err(err).
			Int64("pending_id", pc.ID).
			Str("event", "tracker.resolve_failed").
			Msg("failed to resolve command")
		return
	}
	metrics.RecordTrackerResolution(outcome)
}

// coveredEntries lists the registry rows a command speaks for: every
// searching row of the season for a fold, otherwise the one row it was
// dispatched for.
func (t *Tracker) coveredEntries(ctx context.Context, pc store.PendingCommand) ([]int64, error) {
	if pc.SeasonScoped {
		return t.store.SearchingEntriesForSeason(ctx, pc.ConnectorID, pc.SeriesID, pc.SeasonNumber)
	}
	return []int64{pc.RegistryID}, nil
}

// queuedUpstreamIDs returns the upstream content ids currently in the
// download queue.
func (t *Tracker) queuedUpstreamIDs(ctx context.Context, client *connector.Client) (map[int64]bool, error) {
	queue, err := client.Queue(ctx)
	if err != nil {
		return nil, err
	}
	busy := make(map[int64]bool, len(queue))
	for _, item := range queue {
		if item.EpisodeID > 0 {
			busy[item.EpisodeID] = true
		}
		if item.MovieID > 0 {
			busy[item.MovieID] = true
		}
	}
	return busy, nil
}

// freshItems re-reads the slice of the library a command covers.
func (t *Tracker) freshItems(ctx context.Context, client *connector.Client, conn store.Connector, pc store.PendingCommand) ([]connector.Item, error) {
	if conn.Type.SeriesBased() {
		return client.EpisodesBySeries(ctx, pc.SeriesID)
	}
	return client.Movies(ctx)
}
