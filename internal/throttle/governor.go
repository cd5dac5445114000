// SPDX-License-Identifier: MIT

// Package throttle guards upstream services from search floods. Every
// dispatch asks the Governor for admission; the Governor answers allow,
// defer(retryAfter) or pauseUntil(t) based on per-connector windows, budgets
// and pause state. Counters are process-resident and periodically snapshotted
// to the store for observability; the in-memory state is authoritative.
package throttle

import (
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/comradarr/comradarr/internal/cron"
	"github.com/comradarr/comradarr/internal/log"
	"github.com/comradarr/comradarr/internal/metrics"
	"github.com/comradarr/comradarr/internal/store"
)

// Kind classifies an admission decision.
type Kind int

const (
	// Allow admits the dispatch and has recorded it against the windows.
	Allow Kind = iota
	// Defer rejects for now; retry after Decision.RetryAfter.
	Defer
	// Pause rejects until Decision.Until; the sweep stops early.
	Pause
)

// Decision reasons. Closed enum, used as metric labels.
const (
	ReasonMinuteCap     = "minute_cap"
	ReasonBatchCooldown = "batch_cooldown"
	ReasonDailyBudget   = "daily_budget_exhausted"
	ReasonRateLimited   = "rate_limited"
	ReasonInternal      = "internal_error"
)

// failClosedDelay is returned when the Governor itself fails; never allow on
// an internal error.
const failClosedDelay = 5 * time.Second

// Decision is the Governor's answer to one admission request.
type Decision struct {
	Kind       Kind
	RetryAfter time.Duration // Defer
	Until      time.Time     // Pause
	Reason     string
}

func allowed() Decision {
	return Decision{Kind: Allow}
}

func deferFor(d time.Duration, reason string) Decision {
	if d <= 0 {
		d = time.Second
	}
	return Decision{Kind: Defer, RetryAfter: d, Reason: reason}
}

func pauseUntil(t time.Time, reason string) Decision {
	return Decision{Kind: Pause, Until: t, Reason: reason}
}

// LocationFunc supplies the app-level timezone the daily window rolls on.
type LocationFunc func() *time.Location

// state is one connector's window bookkeeping. Its mutex is the single
// writer guard for the throttle aggregate: admission checks and window
// updates apply atomically or not at all.
type state struct {
	mu sync.Mutex

	requestsThisMinute int
	minuteWindowStart  time.Time
	requestsToday      int
	dayWindowStart     time.Time

	isPaused    bool
	pausedUntil time.Time
	pauseReason string

	// Sweep-internal batch pacing. Armed by ResetBatch at sweep start so
	// standalone admissions (manual probes, tests) see pure window behavior.
	batchArmed     bool
	batchRun       int
	batchHoldUntil time.Time
	lastBatchAt    time.Time
}

// Governor owns admission control for all connectors.
type Governor struct {
	mu     sync.Mutex
	states map[int64]*state

	clock    cron.Clock
	location LocationFunc
	logger   zerolog.Logger
}

// New builds a Governor. location supplies the timezone whose calendar day
// bounds the daily budget window.
func New(clock cron.Clock, location LocationFunc) *Governor {
	if clock == nil {
		clock = cron.System()
	}
	if location == nil {
		location = func() *time.Location { return time.UTC }
	}
	return &Governor{
		states:   make(map[int64]*state),
		clock:    clock,
		location: location,
		logger:   log.WithComponent("throttle"),
	}
}

func (g *Governor) state(connectorID int64) *state {
	g.mu.Lock()
	defer g.mu.Unlock()
	st, ok := g.states[connectorID]
	if !ok {
		st = &state{}
		g.states[connectorID] = st
	}
	return st
}

// Admit applies the admission rules in order and, on allow, records the
// request against the minute and day windows. Any internal panic is
// swallowed and surfaces as a short defer: the Governor fails closed.
func (g *Governor) Admit(connectorID int64, profile store.ThrottleProfile) (d Decision) {
	label := strconv.FormatInt(connectorID, 10)
	defer func() {
		if r := recover(); r != nil {
			g.logger.Error().
				Str("event", "throttle.admit_panic").
				Int64("connector_id", connectorID).
				Interface("panic", r).
				Msg("governor admission panicked, failing closed")
			d = deferFor(failClosedDelay, ReasonInternal)
		}
		switch d.Kind {
		case Allow:
			metrics.RecordAdmissionAllowed(label)
		case Defer:
			metrics.RecordAdmissionDeferred(label, d.Reason)
		case Pause:
			metrics.RecordAdmissionPaused(label, d.Reason)
		}
	}()

	st := g.state(connectorID)
	st.mu.Lock()
	defer st.mu.Unlock()

	now := g.clock.Now()
	loc := g.location()

	// 1. Active pause wins over everything.
	if st.isPaused {
		if now.Before(st.pausedUntil) {
			return pauseUntil(st.pausedUntil, st.pauseReason)
		}
		st.clearPauseLocked()
		metrics.SetThrottlePaused(label, false)
	}

	// 2. Roll the minute window.
	if st.minuteWindowStart.IsZero() || now.Sub(st.minuteWindowStart) >= time.Minute {
		st.minuteWindowStart = now
		st.requestsThisMinute = 0
	}

	// 3. Roll the day window on the calendar day of the app timezone.
	dayStart := startOfDay(now, loc)
	if st.dayWindowStart.IsZero() || dayStart.After(st.dayWindowStart) {
		st.dayWindowStart = dayStart
		st.requestsToday = 0
	}

	// 4. Daily budget exhaustion pauses until local midnight.
	if profile.DailyBudget != nil && st.requestsToday >= *profile.DailyBudget {
		until := dayStart.AddDate(0, 0, 1)
		st.isPaused = true
		st.pausedUntil = until
		st.pauseReason = ReasonDailyBudget
		metrics.SetThrottlePaused(label, true)
		g.logger.Warn().
			Str("event", "throttle.daily_budget_exhausted").
			Int64("connector_id", connectorID).
			Time("paused_until", until).
			Int("requests_today", st.requestsToday).
			Msg("daily search budget exhausted")
		return pauseUntil(until, ReasonDailyBudget)
	}

	// 5. Minute cap defers to the window end.
	if st.requestsThisMinute >= profile.RequestsPerMinute {
		return deferFor(st.minuteWindowStart.Add(time.Minute).Sub(now), ReasonMinuteCap)
	}

	// Batch pacing: sweep-internal, armed by ResetBatch.
	if st.batchArmed && now.Before(st.batchHoldUntil) {
		return deferFor(st.batchHoldUntil.Sub(now), ReasonBatchCooldown)
	}

	// 6. Record the admission.
	st.requestsThisMinute++
	st.requestsToday++
	if st.batchArmed {
		st.batchRun++
		if st.batchRun >= profile.BatchSize {
			st.lastBatchAt = now
			st.batchHoldUntil = now.Add(profile.BatchCooldown())
			st.batchRun = 0
		}
	}
	metrics.SetDailyBudgetUsed(label, float64(st.requestsToday))
	return allowed()
}

// OnUpstreamRateLimited pauses the connector after an upstream 429. The pause
// lasts the longer of the advertised Retry-After and the profile's configured
// pause. Returns the pause deadline.
func (g *Governor) OnUpstreamRateLimited(connectorID int64, retryAfter time.Duration, profile store.ThrottleProfile) time.Time {
	st := g.state(connectorID)
	st.mu.Lock()
	defer st.mu.Unlock()

	pause := profile.RateLimitPause()
	if retryAfter > pause {
		pause = retryAfter
	}
	now := g.clock.Now()
	st.isPaused = true
	st.pausedUntil = now.Add(pause)
	st.pauseReason = ReasonRateLimited

	label := strconv.FormatInt(connectorID, 10)
	metrics.RecordAdmissionPaused(label, ReasonRateLimited)
	metrics.SetThrottlePaused(label, true)
	g.logger.Warn().
		Str("event", "throttle.rate_limited").
		Int64("connector_id", connectorID).
		Dur("retry_after", retryAfter).
		Time("paused_until", st.pausedUntil).
		Msg("upstream rate limited, pausing connector")
	return st.pausedUntil
}

// Resume clears a pause manually. Reports whether a pause was active.
func (g *Governor) Resume(connectorID int64) bool {
	st := g.state(connectorID)
	st.mu.Lock()
	defer st.mu.Unlock()

	wasPaused := st.isPaused
	st.clearPauseLocked()
	metrics.SetThrottlePaused(strconv.FormatInt(connectorID, 10), false)
	if wasPaused {
		g.logger.Info().
			Str("event", "throttle.resumed").
			Int64("connector_id", connectorID).
			Msg("throttle pause cleared")
	}
	return wasPaused
}

// ResetBatch arms batch pacing for a new sweep and zeroes the consecutive
// admission run. Called once per connector at sweep start.
func (g *Governor) ResetBatch(connectorID int64) {
	st := g.state(connectorID)
	st.mu.Lock()
	defer st.mu.Unlock()
	st.batchArmed = true
	st.batchRun = 0
	st.batchHoldUntil = time.Time{}
}

// Paused reports whether the connector currently sits in a pause window.
func (g *Governor) Paused(connectorID int64) bool {
	st := g.state(connectorID)
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.isPaused && g.clock.Now().Before(st.pausedUntil)
}

// PausedCount returns the number of connectors currently paused.
func (g *Governor) PausedCount() int {
	g.mu.Lock()
	ids := make([]int64, 0, len(g.states))
	for id := range g.states {
		ids = append(ids, id)
	}
	g.mu.Unlock()

	n := 0
	for _, id := range ids {
		if g.Paused(id) {
			n++
		}
	}
	return n
}

// Snapshot returns the persistable view of one connector's state.
func (g *Governor) Snapshot(connectorID int64) store.ThrottleState {
	st := g.state(connectorID)
	st.mu.Lock()
	defer st.mu.Unlock()

	snap := store.ThrottleState{
		ConnectorID:        connectorID,
		RequestsThisMinute: st.requestsThisMinute,
		MinuteWindowStart:  st.minuteWindowStart,
		RequestsToday:      st.requestsToday,
		DayWindowStart:     st.dayWindowStart,
		IsPaused:           st.isPaused,
		PauseReason:        st.pauseReason,
	}
	if !st.pausedUntil.IsZero() {
		t := st.pausedUntil
		snap.PausedUntil = &t
	}
	if !st.lastBatchAt.IsZero() {
		t := st.lastBatchAt
		snap.LastBatchAt = &t
	}
	return snap
}

// SnapshotAll returns snapshots for every connector the Governor has seen.
// The 5-second persistence tick writes these to the store.
func (g *Governor) SnapshotAll() []store.ThrottleState {
	g.mu.Lock()
	ids := make([]int64, 0, len(g.states))
	for id := range g.states {
		ids = append(ids, id)
	}
	g.mu.Unlock()

	snaps := make([]store.ThrottleState, 0, len(ids))
	for _, id := range ids {
		snaps = append(snaps, g.Snapshot(id))
	}
	return snaps
}

// Forget drops a connector's state after the connector is deleted.
func (g *Governor) Forget(connectorID int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.states, connectorID)
}

// Restore seeds a connector's windows from a persisted snapshot, so that
// budgets and pause windows survive a restart. Expired pauses and windows
// from an earlier day or minute are dropped rather than resurrected.
func (g *Governor) Restore(snap store.ThrottleState) {
	now := g.clock.Now()
	st := g.state(snap.ConnectorID)
	st.mu.Lock()
	defer st.mu.Unlock()

	if now.Sub(snap.MinuteWindowStart) < time.Minute {
		st.requestsThisMinute = snap.RequestsThisMinute
		st.minuteWindowStart = snap.MinuteWindowStart
	}
	if startOfDay(now, g.location()).Equal(startOfDay(snap.DayWindowStart, g.location())) {
		st.requestsToday = snap.RequestsToday
		st.dayWindowStart = snap.DayWindowStart
	}
	if snap.IsPaused && snap.PausedUntil != nil && now.Before(*snap.PausedUntil) {
		st.isPaused = true
		st.pausedUntil = *snap.PausedUntil
		st.pauseReason = snap.PauseReason
		g.logger.Info().
			Str("event", "throttle.pause_restored").
			Int64("connector_id", snap.ConnectorID).
			Time("until", st.pausedUntil).
			Str("reason", st.pauseReason).
			Msg("restored persisted pause window")
	}
	if snap.LastBatchAt != nil {
		st.lastBatchAt = *snap.LastBatchAt
	}
}

func (st *state) clearPauseLocked() {
	st.isPaused = false
	st.pausedUntil = time.Time{}
	st.pauseReason = ""
}

func startOfDay(t time.Time, loc *time.Location) time.Time {
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
}
