// SPDX-License-Identifier: MIT

// Package scheduler fires the control plane's periodic work: fixed-interval
// system jobs (tracker, reconnect, snapshots, retention) and the user-defined
// sweep schedules from the store. One orchestrator owns every timer; jobs
// never sleep or tick on their own.
package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/comradarr/comradarr/internal/cron"
	"github.com/comradarr/comradarr/internal/log"
	"github.com/comradarr/comradarr/internal/metrics"
	"github.com/comradarr/comradarr/internal/store"
	"github.com/comradarr/comradarr/internal/sweep"
)

// schedulerTick is the due-check granularity. Cron resolution is one minute,
// system jobs run no tighter than a few seconds; one second keeps fire skew
// invisible without busy-waiting.
const schedulerTick = time.Second

// SweepRunner runs one sweep request. Satisfied by *sweep.Runner.
type SweepRunner interface {
	Run(ctx context.Context, req sweep.Request) (sweep.Summary, error)
}

// job is one scheduled unit of work. Cron jobs carry an expression; system
// jobs carry a fixed interval. running gates overlapping fires.
type job struct {
	key     string
	expr    *cron.Expression // nil for interval jobs
	every   time.Duration    // interval jobs only
	run     func(ctx context.Context) error
	running atomic.Bool

	scheduleID int64 // 0 for system jobs
	next       time.Time
	lastRun    time.Time // zero until the first fire
}

// fingerprint carries the schedule fields whose change requires a rebind.
type fingerprint struct {
	expr     string
	timezone string
	mode     store.SweepMode
	conn     int64
	profile  int64
}

func fingerprintOf(sc store.Schedule) fingerprint {
	fp := fingerprint{expr: sc.CronExpression, timezone: sc.Timezone, mode: sc.SweepType}
	if sc.ConnectorID != nil {
		fp.conn = *sc.ConnectorID
	}
	if sc.ThrottleProfileID != nil {
		fp.profile = *sc.ThrottleProfileID
	}
	return fp
}

// Orchestrator owns every scheduled job. Start is idempotent; Stop waits for
// in-flight jobs.
type Orchestrator struct {
	store  *store.Store
	runner SweepRunner
	clock  cron.Clock
	logger zerolog.Logger

	mu       sync.Mutex
	started  bool
	system   []*job
	dynamic  map[int64]*job
	prints   map[int64]fingerprint
	base     context.Context
	baseStop context.CancelFunc
	quit     chan struct{}
	loopWG   sync.WaitGroup
	jobWG    sync.WaitGroup
}

// New returns an orchestrator. A nil clock means the wall clock.
func New(st *store.Store, runner SweepRunner, clock cron.Clock) *Orchestrator {
	if clock == nil {
		clock = cron.System()
	}
	return &Orchestrator{
		store:   st,
		runner:  runner,
		clock:   clock,
		logger:  log.WithComponent("scheduler"),
		dynamic: make(map[int64]*job),
		prints:  make(map[int64]fingerprint),
	}
}

// RegisterSystem adds a fixed-interval job. The first fire happens one full
// interval after Start. Registration after Start is allowed; the loop picks
// the job up on its next tick.
func (o *Orchestrator) RegisterSystem(name string, every time.Duration, fn func(ctx context.Context) error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	j := &job{key: "system:" + name, every: every, run: fn}
	if o.started {
		j.next = o.clock.Now().Add(every)
	}
	o.system = append(o.system, j)
}

// Start loads the enabled schedules, performs catch-up, and begins firing.
// Calling Start twice is a no-op.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.started {
		o.mu.Unlock()
		return nil
	}
	o.started = true
	now := o.clock.Now()
	for _, j := range o.system {
		j.next = now.Add(j.every)
	}
	o.base, o.baseStop = context.WithCancel(context.WithoutCancel(ctx))
	o.quit = make(chan struct{})
	o.mu.Unlock()

	if err := o.loadSchedules(ctx, true); err != nil {
		return err
	}

	o.loopWG.Add(1)
	go o.loop()
	o.logger.Info().Str("event", "scheduler.started").Msg("scheduler started")
	return nil
}

// Stop halts the fire loop and waits for running jobs to return.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if !o.started {
		o.mu.Unlock()
		return
	}
	o.started = false
	close(o.quit)
	o.mu.Unlock()

	// Quiesce the fire loop before cancelling job contexts so a fire caught
	// mid-persist does not race its own cancellation.
	o.loopWG.Wait()
	o.baseStop()
	o.jobWG.Wait()
	o.logger.Info().Str("event", "scheduler.stopped").Msg("scheduler stopped")
}

// Refresh reconciles the dynamic job set against the store: new schedules
// are added, vanished or disabled ones removed, changed ones rebound.
// Unchanged jobs keep their fire position. Call after any schedule mutation.
func (o *Orchestrator) Refresh(ctx context.Context) error {
	return o.loadSchedules(ctx, false)
}

func (o *Orchestrator) loadSchedules(ctx context.Context, catchUp bool) error {
	schedules, err := o.store.ListEnabledSchedules(ctx)
	if err != nil {
		return err
	}
	now := o.clock.Now()

	o.mu.Lock()
	defer o.mu.Unlock()

	seen := make(map[int64]bool, len(schedules))
	for _, sc := range schedules {
		seen[sc.ID] = true
		fp := fingerprintOf(sc)
		if existing, ok := o.dynamic[sc.ID]; ok {
			existing.key = "schedule:" + sc.Name
			if o.prints[sc.ID] == fp {
				continue
			}
			// Rebind in place: new expression, fresh fire position.
			expr, perr := cron.Parse(sc.CronExpression, sc.Timezone)
			if perr != nil {
				o.logger.Error().Err(perr).Int64("schedule_id", sc.ID).Str("event", "scheduler.parse_failed").Msg("schedule expression rejected")
				delete(o.dynamic, sc.ID)
				delete(o.prints, sc.ID)
				continue
			}
			existing.expr = expr
			existing.run = o.sweepJob(sc)
			existing.next = expr.Next(now)
			o.prints[sc.ID] = fp
			if err := o.store.SetScheduleRun(ctx, sc.ID, existing.lastRun, existing.next); err != nil {
				o.logger.Error().Err(err).Int64("schedule_id", sc.ID).Str("event", "scheduler.persist_failed").Msg("failed to persist fire position")
			}
			o.logger.Info().Int64("schedule_id", sc.ID).Str("event", "scheduler.rebound").Str("next", existing.next.Format(time.RFC3339)).Msg("schedule rebound")
			continue
		}

		expr, perr := cron.Parse(sc.CronExpression, sc.Timezone)
		if perr != nil {
			o.logger.Error().Err(perr).Int64("schedule_id", sc.ID).Str("event", "scheduler.parse_failed").Msg("schedule expression rejected")
			continue
		}
		j := &job{
			key:        "schedule:" + sc.Name,
			expr:       expr,
			run:        o.sweepJob(sc),
			scheduleID: sc.ID,
		}
		if sc.LastRunAt != nil {
			j.lastRun = *sc.LastRunAt
		}
		if catchUp {
			o.catchUpLocked(j, sc, now)
		}
		j.next = expr.Next(now)
		o.dynamic[sc.ID] = j
		o.prints[sc.ID] = fp
		if err := o.store.SetScheduleRun(ctx, sc.ID, j.lastRun, j.next); err != nil {
			o.logger.Error().Err(err).Int64("schedule_id", sc.ID).Str("event", "scheduler.persist_failed").Msg("failed to persist fire position")
		}
	}

	for id, j := range o.dynamic {
		if !seen[id] {
			delete(o.dynamic, id)
			delete(o.prints, id)
			o.logger.Info().Int64("schedule_id", id).Str("job", j.key).Str("event", "scheduler.removed").Msg("schedule removed")
		}
	}
	return nil
}

// catchUpLocked fires at most one synthetic run for the newest occurrence
// missed while the process was down. The fire position advances to that
// occurrence even if the sweep itself fails: replaying one window twice helps
// nobody.
func (o *Orchestrator) catchUpLocked(j *job, sc store.Schedule, now time.Time) {
	if sc.LastRunAt == nil {
		return
	}
	missed, found, err := j.expr.LastMissed(*sc.LastRunAt, now)
	if err != nil {
		o.logger.Error().Err(err).Int64("schedule_id", sc.ID).Str("event", "scheduler.catchup_overflow").Msg("catch-up scan aborted")
		return
	}
	if !found {
		return
	}
	o.logger.Info().
		Int64("schedule_id", sc.ID).
		Str("job", j.key).
		Str("event", "scheduler.catchup").
		Time("missed", missed).
		Msg("firing catch-up for missed occurrence")
	j.lastRun = missed
	o.launchLocked(j, "catchup")
}

// loop polls for due jobs until Stop.
func (o *Orchestrator) loop() {
	defer o.loopWG.Done()
	ticker := time.NewTicker(schedulerTick)
	defer ticker.Stop()
	for {
		select {
		case <-o.quit:
			return
		case <-ticker.C:
			o.fireDue(o.clock.Now())
		}
	}
}

// fireDue launches every job whose time has come and advances its fire
// position. Returns the number of launches (dropped overlaps not counted).
func (o *Orchestrator) fireDue(now time.Time) int {
	o.mu.Lock()
	defer o.mu.Unlock()

	fired := 0
	for _, j := range o.system {
		if j.next.IsZero() || now.Before(j.next) {
			continue
		}
		j.next = now.Add(j.every)
		if o.launchLocked(j, "cron") {
			fired++
		}
	}
	for _, j := range o.dynamic {
		if j.next.IsZero() || now.Before(j.next) {
			continue
		}
		firedAt := j.next
		j.next = j.expr.Next(now)
		if !o.launchLocked(j, "cron") {
			continue
		}
		fired++
		j.lastRun = firedAt
		if err := o.store.SetScheduleRun(o.base, j.scheduleID, j.lastRun, j.next); err != nil {
			o.logger.Error().Err(err).Int64("schedule_id", j.scheduleID).Str("event", "scheduler.persist_failed").Msg("failed to persist fire position")
		}
	}
	return fired
}

// launchLocked starts one job run unless the previous run is still going, in
// which case the fire is dropped.
func (o *Orchestrator) launchLocked(j *job, kind string) bool {
	if !j.running.CompareAndSwap(false, true) {
		metrics.RecordScheduleFire("dropped")
		o.logger.Warn().
			Str("event", "scheduler.overlap_dropped").
			Str("job", j.key).
			Msg("previous run still in flight, dropping fire")
		return false
	}
	metrics.RecordScheduleFire(kind)

	ctx := o.jobContext(j.key)
	o.jobWG.Add(1)
	go func() {
		defer o.jobWG.Done()
		defer j.running.Store(false)
		start := o.clock.Now()
		err := j.run(ctx)
		took := o.clock.Now().Sub(start)
		logger := log.WithContext(ctx, o.logger)
		if err != nil {
			logger.Error().Err(err).Str("event", "scheduler.job_failed").Str("job", j.key).Dur("took", took).Msg("job failed")
			return
		}
		logger.Debug().Str("event", "scheduler.job_done").Str("job", j.key).Dur("took", took).Msg("job finished")
	}()
	return true
}

// jobContext derives the per-fire context: correlation id, source and job
// name ride along into every log line the run emits.
func (o *Orchestrator) jobContext(name string) context.Context {
	base := o.base
	if base == nil {
		base = context.Background()
	}
	ctx := log.ContextWithCorrelationID(base, uuid.NewString())
	ctx = log.ContextWithSource(ctx, log.SourceScheduler)
	return log.ContextWithJobName(ctx, name)
}

// sweepJob binds one schedule row to a sweep request.
func (o *Orchestrator) sweepJob(sc store.Schedule) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		_, err := o.runner.Run(ctx, sweep.Request{
			ScheduleID:  sc.ID,
			Source:      log.SourceScheduler,
			Mode:        sc.SweepType,
			ConnectorID: sc.ConnectorID,
			ProfileID:   sc.ThrottleProfileID,
		})
		return err
	}
}
