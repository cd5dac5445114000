// SPDX-License-Identifier: MIT

// Package sweep drives the discovery and dispatch cycle: sync upstream
// libraries into the content mirror, seed the search registry from the
// mirror, then push the highest-priority eligible rows through the throttle
// governor to the upstream search endpoints. The pending-command tracker in
// this package follows each dispatched command to its outcome.
package sweep

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/comradarr/comradarr/internal/connector"
	"github.com/comradarr/comradarr/internal/cron"
	"github.com/comradarr/comradarr/internal/log"
	"github.com/comradarr/comradarr/internal/metrics"
	"github.com/comradarr/comradarr/internal/notify"
	"github.com/comradarr/comradarr/internal/search"
	"github.com/comradarr/comradarr/internal/settings"
	"github.com/comradarr/comradarr/internal/store"
	"github.com/comradarr/comradarr/internal/telemetry"
	"github.com/comradarr/comradarr/internal/throttle"
)

const (
	// dispatchScanLimit bounds how many eligible registry rows one sweep
	// loads per connector. Rows beyond the window wait for the next sweep;
	// the ordering guarantees they are not starved.
	dispatchScanLimit = 500

	// maxConcurrentSweeps caps the connector fan-out. Each connector sweep
	// is serialized internally; the cap only bounds cross-connector load.
	maxConcurrentSweeps = 4

	// transientRetryDelay is the deferral applied when a single dispatch
	// fails without implicating the whole connector.
	transientRetryDelay = 5 * time.Minute
)

// Notifier is the slice of the notification dispatcher the runner uses.
type Notifier interface {
	Publish(t notify.Type, payload map[string]any)
}

// Request selects what to sweep and on whose behalf.
type Request struct {
	ScheduleID  int64 // 0 for manual and system sweeps
	Source      string
	Mode        store.SweepMode
	ConnectorID *int64 // nil sweeps every enabled connector
	ProfileID   *int64 // overrides the connector's own throttle profile
}

// Summary aggregates one sweep run across its connectors.
type Summary struct {
	Connectors int
	Skipped    int
	Items      int
	Gaps       int
	Upgrades   int
	Removed    int
	Dispatched int
	Deferred   int
}

// Runner executes sweeps. Safe for concurrent use; per-connector ordering is
// enforced by the governor's admission lock, not here.
type Runner struct {
	store    *store.Store
	clients  *Clients
	governor *throttle.Governor
	bridge   *settings.Bridge
	notify   Notifier
	clock    cron.Clock
}

// New returns a sweep runner. A nil clock means the wall clock.
func New(st *store.Store, clients *Clients, gov *throttle.Governor, bridge *settings.Bridge, n Notifier, clock cron.Clock) *Runner {
	if clock == nil {
		clock = cron.System()
	}
	return &Runner{store: st, clients: clients, governor: gov, bridge: bridge, notify: n, clock: clock}
}

// Run executes one sweep request and records its activity row. Per-connector
// failures do not abort sibling connectors; they are joined into the returned
// error after every target has been attempted.
func (r *Runner) Run(ctx context.Context, req Request) (Summary, error) {
	start := r.clock.Now()
	logger := log.WithComponentFromContext(ctx, "sweep")

	conns, err := r.targets(ctx, req)
	if err != nil {
		return Summary{}, err
	}

	ctx, span := telemetry.Tracer("comradarr/sweep").Start(ctx, "sweep.run",
		trace.WithAttributes(telemetry.SweepAttributes(string(req.Mode), req.Source, len(conns))...))
	defer span.End()

	r.notify.Publish(notify.SweepStarted, map[string]any{
		"mode":       string(req.Mode),
		"source":     req.Source,
		"connectors": len(conns),
	})
	logger.Info().
		Str("event", "sweep.start").
		Str("mode", string(req.Mode)).
		Int("connectors", len(conns)).
		Msg("sweep started")

	var (
		mu   sync.Mutex
		sum  Summary
		errs []error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentSweeps)
	for _, conn := range conns {
		if !conn.Type.Searchable() {
			continue
		}
		if conn.HealthStatus == store.HealthUnhealthy || conn.HealthStatus == store.HealthOffline {
			logger.Warn().
				Str("event", "sweep.skip_unhealthy").
				Int64("connector_id", conn.ID).
				Str("connector", conn.Name).
				Str("health", string(conn.HealthStatus)).
				Msg("skipping unhealthy connector")
			mu.Lock()
			sum.Skipped++
			mu.Unlock()
			continue
		}
		g.Go(func() error {
			res, cerr := r.sweepConnector(gctx, conn, req)
			mu.Lock()
			defer mu.Unlock()
			sum.Connectors++
			sum.Items += res.items
			sum.Gaps += res.gaps
			sum.Upgrades += res.upgrades
			sum.Removed += int(res.removed)
			sum.Dispatched += res.dispatched
			sum.Deferred += res.deferred
			if cerr != nil {
				errs = append(errs, fmt.Errorf("connector %q: %w", conn.Name, cerr))
			}
			return nil
		})
	}
	_ = g.Wait()

	finished := r.clock.Now()
	runErr := errors.Join(errs...)

	act := store.SyncActivity{
		ScheduleID:        req.ScheduleID,
		Source:            req.Source,
		Mode:              req.Mode,
		StartedAt:         start,
		FinishedAt:        finished,
		ItemsSynced:       sum.Items,
		GapsAdded:         sum.Gaps,
		UpgradesAdded:     sum.Upgrades,
		Dispatched:        sum.Dispatched,
		Deferred:          sum.Deferred,
		SkippedConnectors: sum.Skipped,
	}
	if req.ConnectorID != nil {
		act.ConnectorID = *req.ConnectorID
	}
	if runErr != nil {
		act.Error = runErr.Error()
	}
	if _, aerr := r.store.RecordSyncActivity(ctx, act); aerr != nil {
		logger.Error().Err(aerr).Str("event", "sweep.activity_record_failed").Msg("failed to record sync activity")
	}

	metrics.ObserveSweepDuration(string(req.Mode), finished.Sub(start).Seconds())
	switch {
	case runErr != nil:
		metrics.RecordSweep("error")
	case sum.Connectors == 0:
		metrics.RecordSweep("skipped")
	default:
		metrics.RecordSweep("ok")
	}
	r.refreshRegistryGauges(ctx)

	span.SetAttributes(telemetry.SweepOutcomeAttributes(sum.Dispatched, sum.Deferred)...)
	if runErr != nil {
		span.SetAttributes(telemetry.ErrorAttributes("sweep_failed")...)
		span.SetStatus(codes.Error, "sweep finished with errors")
	} else {
		span.SetStatus(codes.Ok, "")
	}

	r.notify.Publish(notify.SweepCompleted, map[string]any{
		"mode":       string(req.Mode),
		"connectors": sum.Connectors,
		"skipped":    sum.Skipped,
		"dispatched": sum.Dispatched,
		"deferred":   sum.Deferred,
		"duration":   finished.Sub(start).String(),
	})
	logger.Info().
		Str("event", "sweep.done").
		Int("connectors", sum.Connectors).
		Int("skipped", sum.Skipped).
		Int("items", sum.Items).
		Int("gaps", sum.Gaps).
		Int("upgrades", sum.Upgrades).
		Int("dispatched", sum.Dispatched).
		Int("deferred", sum.Deferred).
		Dur("took", finished.Sub(start)).
		Msg("sweep completed")

	return sum, runErr
}

// targets resolves the connectors a request covers.
func (r *Runner) targets(ctx context.Context, req Request) ([]store.Connector, error) {
	if req.ConnectorID != nil {
		conn, err := r.store.GetConnector(ctx, *req.ConnectorID)
		if err != nil {
			return nil, err
		}
		if !conn.Enabled {
			return nil, fmt.Errorf("connector %q is disabled", conn.Name)
		}
		return []store.Connector{conn}, nil
	}
	return r.store.ListEnabledConnectors(ctx)
}

type connectorResult struct {
	items      int
	gaps       int
	upgrades   int
	removed    int64
	dispatched int
	deferred   int
}

func (r *Runner) sweepConnector(ctx context.Context, conn store.Connector, req Request) (connectorResult, error) {
	ctx, span := telemetry.Tracer("comradarr/sweep").Start(ctx, "sweep.connector",
		trace.WithAttributes(telemetry.ConnectorAttributes(conn.ID, string(conn.Type), conn.Name)...))
	defer span.End()

	var res connectorResult

	client, err := r.clients.For(conn)
	if err != nil {
		return res, err
	}
	profile, err := r.profile(ctx, conn, req.ProfileID)
	if err != nil {
		return res, err
	}

	res, err = r.sync(ctx, client, conn, req.Mode)
	if err != nil {
		r.onUpstreamError(ctx, conn, profile, err)
		r.notify.Publish(notify.SyncFailed, map[string]any{
			"connector_id": conn.ID,
			"connector":    conn.Name,
			"mode":         string(req.Mode),
			"error":        err.Error(),
		})
		return res, err
	}
	r.notify.Publish(notify.SyncCompleted, map[string]any{
		"connector_id": conn.ID,
		"connector":    conn.Name,
		"mode":         string(req.Mode),
		"items":        res.items,
		"gaps":         res.gaps,
		"upgrades":     res.upgrades,
	})

	cfg := search.LoadConfig(ctx, r.bridge)
	res.dispatched, res.deferred, err = r.dispatch(ctx, client, conn, profile, cfg)
	return res, err
}

func (r *Runner) profile(ctx context.Context, conn store.Connector, override *int64) (store.ThrottleProfile, error) {
	if override != nil {
		return r.store.GetProfile(ctx, *override)
	}
	return r.store.EffectiveProfile(ctx, conn)
}

// sync refreshes the content mirror from upstream and seeds new registry
// rows. Incremental mode pulls only the wanted listings; full mode pulls the
// whole library and drops mirror rows upstream no longer has.
func (r *Runner) sync(ctx context.Context, client *connector.Client, conn store.Connector, mode store.SweepMode) (connectorResult, error) {
	var res connectorResult
	logger := log.WithComponentFromContext(ctx, "sweep")
	now := r.clock.Now()

	var (
		items []connector.Item
		err   error
	)
	if mode == store.SweepFull {
		items, err = client.FullLibrary(ctx)
	} else {
		var since time.Time
		if conn.LastSyncedAt != nil {
			since = *conn.LastSyncedAt
		}
		items, err = client.LibrarySince(ctx, since)
	}
	if err != nil {
		return res, err
	}
	res.items = len(items)

	if err := r.store.UpsertContentItems(ctx, conn.ID, items, now); err != nil {
		return res, err
	}
	if mode == store.SweepFull {
		removed, derr := r.store.DeleteContentNotSeenSince(ctx, conn.ID, now)
		if derr != nil {
			return res, derr
		}
		res.removed = removed
	}

	gaps, upgrades, err := r.store.SeedRegistryFromMirror(ctx, conn.ID, now)
	if err != nil {
		return res, err
	}
	res.gaps, res.upgrades = int(gaps), int(upgrades)

	pruned, err := r.store.PruneResolvedEntries(ctx, conn.ID)
	if err != nil {
		return res, err
	}
	if err := r.store.TouchConnectorSynced(ctx, conn.ID, now); err != nil {
		return res, err
	}
	if conn.HealthStatus != store.HealthHealthy {
		r.transitionHealth(ctx, conn, store.HealthHealthy)
	}

	logger.Info().
		Str("event", "sweep.sync").
		Int64("connector_id", conn.ID).
		Str("connector", conn.Name).
		Str("mode", string(mode)).
		Int("items", res.items).
		Int64("gaps", gaps).
		Int64("upgrades", upgrades).
		Int64("removed", res.removed).
		Int64("pruned", pruned).
		Msg("mirror synced")
	return res, nil
}

// dispatch runs the admission loop for one connector: rank, fold, admit,
// post. It stops early on a pause decision or a connector-level failure.
func (r *Runner) dispatch(ctx context.Context, client *connector.Client, conn store.Connector, profile store.ThrottleProfile, cfg search.Config) (dispatched, deferred int, err error) {
	logger := log.WithComponentFromContext(ctx, "sweep")
	now := r.clock.Now()

	r.governor.ResetBatch(conn.ID)

	cands, err := r.store.ListDispatchCandidates(ctx, conn.ID, now, dispatchScanLimit)
	if err != nil {
		return 0, 0, err
	}
	if len(cands) == 0 {
		return 0, 0, nil
	}

	ranked := search.Rank(cands, cfg.Weights, cfg.MaxAttempts, now)
	units := search.Plan(ranked, r.seasonStats(ctx, conn.ID, now), cfg.Season)

	for _, unit := range units {
		if ctx.Err() != nil {
			return dispatched, deferred, ctx.Err()
		}

		rows := r.fenceQueued(ctx, unit)
		if len(rows) == 0 {
			continue
		}

		decision := r.governor.Admit(conn.ID, profile)
		switch decision.Kind {
		case throttle.Allow:
			if perr := r.post(ctx, client, conn, unit, rows); perr != nil {
				if stop := r.onDispatchError(ctx, conn, profile, rows, perr); stop {
					return dispatched, deferred, perr
				}
				continue
			}
			dispatched++
		case throttle.Defer:
			r.deferRows(ctx, rows, r.clock.Now().Add(decision.RetryAfter))
			deferred++
		case throttle.Pause:
			r.deferRows(ctx, rows, decision.Until)
			deferred++
			logger.Warn().
				Str("event", "sweep.pause").
				Int64("connector_id", conn.ID).
				Str("reason", decision.Reason).
				Time("until", decision.Until).
				Msg("governor paused connector, stopping sweep")
			return dispatched, deferred, nil
		}
	}
	return dispatched, deferred, nil
}

// seasonStats resolves season statistics from the mirror for the batcher.
// Any lookup failure falls back to per-episode dispatch.
func (r *Runner) seasonStats(ctx context.Context, connectorID int64, now time.Time) search.StatsFunc {
	logger := log.WithComponentFromContext(ctx, "sweep")
	return func(seriesID int64, season int) (connector.SeasonStats, bool) {
		stats, err := r.store.SeasonStatsFromMirror(ctx, connectorID, seriesID, season, now)
		if err != nil {
			logger.Warn().
				Err(err).
				Str("event", "sweep.season_stats_failed").
				Int64("series_id", seriesID).
				Int("season", season).
				Msg("season statistics unavailable, dispatching per episode")
			return connector.SeasonStats{}, false
		}
		return stats, true
	}
}

// fenceQueued moves a unit's rows into queued, dropping rows another writer
// moved first. The survivors keep their rank order.
func (r *Runner) fenceQueued(ctx context.Context, unit search.Unit) []search.Ranked {
	logger := log.WithComponentFromContext(ctx, "sweep")
	kept := make([]search.Ranked, 0, len(unit.Rows))
	for _, row := range unit.Rows {
		ok, err := r.store.MarkQueued(ctx, row.Entry.ID, row.ObservedState, row.Score)
		if err != nil {
			logger.Error().
				Err(err).
				Str("event", "sweep.queue_failed").
				Int64("registry_id", row.Entry.ID).
				Msg("failed to queue registry entry")
			continue
		}
		if !ok {
			continue
		}
		metrics.RecordRegistryTransition("queued")
		kept = append(kept, row)
	}
	return kept
}

// post dispatches one unit's command upstream and records the transition and
// pending command in a single transaction.
func (r *Runner) post(ctx context.Context, client *connector.Client, conn store.Connector, unit search.Unit, rows []search.Ranked) error {
	cmdID, err := client.PostCommand(ctx, unit.Command)
	if err != nil {
		return err
	}

	leader := rows[0]
	pc := store.PendingCommand{
		ConnectorID:       conn.ID,
		RegistryID:        leader.Entry.ID,
		UpstreamCommandID: cmdID,
		ContentID:         leader.Content.ID,
		SearchType:        leader.Entry.SearchType,
		SeasonScoped:      unit.SeasonScoped(),
		SeriesID:          leader.Content.SeriesID,
		SeasonNumber:      leader.Content.SeasonNumber,
		CommandStatus:     store.CommandQueued,
		DispatchedAt:      r.clock.Now(),
	}
	err = r.store.WithTx(ctx, func(tx *sql.Tx) error {
		for _, row := range rows {
			if _, terr := r.store.MarkSearchingTx(ctx, tx, row.Entry.ID); terr != nil {
				return terr
			}
		}
		_, terr := r.store.CreatePendingCommandTx(ctx, tx, pc)
		return terr
	})
	if err != nil {
		// The upstream command is in flight but untracked; the rows stay
		// queued and the next sweep re-fences them.
		return fmt.Errorf("record dispatch: %w", err)
	}

	for range rows {
		metrics.RecordRegistryTransition("searching")
	}
	metrics.RecordDispatch(string(unit.Command.Kind))
	logger := log.WithComponentFromContext(ctx, "sweep")
	logger.Info().
		Str("event", "sweep.dispatch").
		Int64("connector_id", conn.ID).
		Str("command", string(unit.Command.Kind)).
		Int64("upstream_command_id", cmdID).
		Int("rows", len(rows)).
		Int("score", leader.Score).
		Msg("search command dispatched")
	return nil
}

// onDispatchError reacts to a failed command post. Returns true when the
// connector sweep must stop.
func (r *Runner) onDispatchError(ctx context.Context, conn store.Connector, profile store.ThrottleProfile, rows []search.Ranked, err error) bool {
	logger := log.WithComponentFromContext(ctx, "sweep")
	now := r.clock.Now()

	switch {
	case errors.Is(err, connector.ErrRateLimited):
		retryAfter, _ := connector.RetryAfterFrom(err)
		until := r.governor.OnUpstreamRateLimited(conn.ID, retryAfter, profile)
		r.deferRows(ctx, rows, until)
		logger.Warn().
			Err(err).
			Str("event", "sweep.rate_limited").
			Int64("connector_id", conn.ID).
			Time("paused_until", until).
			Msg("upstream rate limited, pausing connector")
		return true
	case errors.Is(err, connector.ErrAuthFailed):
		r.deferRows(ctx, rows, now)
		r.transitionHealth(ctx, conn, store.HealthUnhealthy)
		return true
	case errors.Is(err, connector.ErrNetwork), errors.Is(err, connector.ErrTimeout):
		r.deferRows(ctx, rows, now)
		r.transitionHealth(ctx, conn, store.HealthOffline)
		return true
	case errors.Is(err, connector.ErrNotFound):
		// The content vanished upstream; drop the mirror rows and let the
		// cascade clear their registry entries.
		for _, row := range rows {
			if derr := r.store.DeleteContentItem(ctx, row.Content.ID); derr != nil {
				logger.Error().Err(derr).
					Str("event", "sweep.content_delete_failed").
					Int64("content_id", row.Content.ID).
					Msg("failed to delete vanished content")
			}
		}
		return false
	default:
		r.deferRows(ctx, rows, now.Add(transientRetryDelay))
		logger.Error().Err(err).
			Str("event", "sweep.dispatch_failed").
			Int64("connector_id", conn.ID).
			Msg("dispatch failed, deferring rows")
		return false
	}
}

// onUpstreamError applies connector-level consequences of a failed sync.
func (r *Runner) onUpstreamError(ctx context.Context, conn store.Connector, profile store.ThrottleProfile, err error) {
	switch {
	case errors.Is(err, connector.ErrRateLimited):
		retryAfter, _ := connector.RetryAfterFrom(err)
		r.governor.OnUpstreamRateLimited(conn.ID, retryAfter, profile)
	case errors.Is(err, connector.ErrAuthFailed), errors.Is(err, connector.ErrServer):
		r.transitionHealth(ctx, conn, store.HealthUnhealthy)
	case errors.Is(err, connector.ErrNetwork), errors.Is(err, connector.ErrTimeout):
		r.transitionHealth(ctx, conn, store.HealthOffline)
	}
}

// transitionHealth persists a health change and announces it. No-op when the
// connector is already in the target state.
func (r *Runner) transitionHealth(ctx context.Context, conn store.Connector, status store.HealthStatus) {
	if conn.HealthStatus == status {
		return
	}
	logger := log.WithComponentFromContext(ctx, "sweep")
	now := r.clock.Now()
	if err := r.store.SetConnectorHealth(ctx, conn.ID, status, now); err != nil {
		logger.Error().
			Err(err).
			Str("event", "sweep.health_update_failed").
			Int64("connector_id", conn.ID).
			Msg("failed to persist connector health")
		return
	}
	metrics.SetConnectorHealthy(strconv.FormatInt(conn.ID, 10), status == store.HealthHealthy)
	r.notify.Publish(notify.ConnectorHealthChanged, map[string]any{
		"connector_id": conn.ID,
		"connector":    conn.Name,
		"from":         string(conn.HealthStatus),
		"to":           string(status),
	})
	logger.Warn().
		Str("event", "sweep.health_changed").
		Int64("connector_id", conn.ID).
		Str("connector", conn.Name).
		Str("from", string(conn.HealthStatus)).
		Str("to", string(status)).
		Msg("connector health changed")
}

// deferRows returns queued rows to pending with a deferral stamp.
func (r *Runner) deferRows(ctx context.Context, rows []search.Ranked, until time.Time) {
	logger := log.WithComponentFromContext(ctx, "sweep")
	for _, row := range rows {
		if err := r.store.MarkDeferred(ctx, row.Entry.ID, until); err != nil {
			logger.Error().
				Err(err).
				Str("event", "sweep.defer_failed").
				Int64("registry_id", row.Entry.ID).
				Msg("failed to defer registry entry")
		}
	}
}

// refreshRegistryGauges republishes the per-state row counts.
func (r *Runner) refreshRegistryGauges(ctx context.Context) {
	counts, err := r.store.RegistryStateCounts(ctx)
	if err != nil {
		return
	}
	for _, st := range []store.RegistryState{store.StatePending, store.StateQueued, store.StateSearching, store.StateCooldown, store.StateExhausted} {
		metrics.SetRegistryRows(string(st), float64(counts[st]))
	}
}
