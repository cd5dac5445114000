// SPDX-License-Identifier: MIT

package scheduler

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/comradarr/comradarr/internal/log"
	"github.com/comradarr/comradarr/internal/store"
	"github.com/comradarr/comradarr/internal/sweep"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock(t time.Time) *testClock { return &testClock{t: t} }

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type stubRunner struct {
	mu   sync.Mutex
	reqs []sweep.Request
}

func (r *stubRunner) Run(_ context.Context, req sweep.Request) (sweep.Summary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reqs = append(r.reqs, req)
	return sweep.Summary{}, nil
}

func (r *stubRunner) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.reqs)
}

func (r *stubRunner) last() sweep.Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reqs[len(r.reqs)-1]
}

func openStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "comradarr.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func addSchedule(t *testing.T, s *store.Store, name, expr string, lastRun *time.Time) store.Schedule {
	t.Helper()
	ctx := context.Background()
	sc, err := s.CreateSchedule(ctx, store.Schedule{
		Name:           name,
		SweepType:      store.SweepIncremental,
		CronExpression: expr,
		Timezone:       "UTC",
		Enabled:        true,
	})
	require.NoError(t, err)
	if lastRun != nil {
		require.NoError(t, s.SetScheduleRun(ctx, sc.ID, *lastRun, lastRun.Add(time.Hour)))
		sc, err = s.GetSchedule(ctx, sc.ID)
		require.NoError(t, err)
	}
	return sc
}

func dynamicNext(o *Orchestrator, id int64) (time.Time, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	j, ok := o.dynamic[id]
	if !ok {
		return time.Time{}, false
	}
	return j.next, true
}

func dynamicCount(o *Orchestrator) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.dynamic)
}

func TestCronScheduleFiresOnBoundary(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	sc := addSchedule(t, s, "every-five", "*/5 * * * *", nil)

	base := time.Date(2026, 8, 25, 10, 2, 30, 0, time.UTC)
	clock := newTestClock(base)
	runner := &stubRunner{}
	orch := New(s, runner, clock)
	require.NoError(t, orch.Start(ctx))
	defer orch.Stop()

	// No last run recorded, so nothing to catch up.
	assert.Equal(t, 0, runner.count())

	clock.Advance(2*time.Minute + 30*time.Second) // 10:05:00
	orch.fireDue(clock.Now())

	require.Eventually(t, func() bool { return runner.count() == 1 }, 2*time.Second, 10*time.Millisecond)
	req := runner.last()
	assert.Equal(t, sc.ID, req.ScheduleID)
	assert.Equal(t, log.SourceScheduler, req.Source)
	assert.Equal(t, store.SweepIncremental, req.Mode)
	assert.Nil(t, req.ConnectorID)

	fireAt := time.Date(2026, 8, 25, 10, 5, 0, 0, time.UTC)
	require.Eventually(t, func() bool {
		got, err := s.GetSchedule(ctx, sc.ID)
		return err == nil && got.LastRunAt != nil && got.LastRunAt.Equal(fireAt)
	}, 2*time.Second, 10*time.Millisecond)
	got, err := s.GetSchedule(ctx, sc.ID)
	require.NoError(t, err)
	require.NotNil(t, got.NextRunAt)
	assert.True(t, got.NextRunAt.Equal(fireAt.Add(5*time.Minute)))
}

func TestCatchUpFiresNewestMissedOccurrence(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	now := time.Date(2026, 8, 25, 10, 2, 30, 0, time.UTC)
	lastRun := now.Add(-3 * time.Hour) // 08:00 and 09:00 and 10:00 all missed
	sc := addSchedule(t, s, "hourly", "0 * * * *", &lastRun)

	clock := newTestClock(now)
	runner := &stubRunner{}
	orch := New(s, runner, clock)
	require.NoError(t, orch.Start(ctx))
	defer orch.Stop()

	require.Eventually(t, func() bool { return runner.count() == 1 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, runner.count(), "catch-up must replay only the newest missed occurrence")
	assert.Equal(t, sc.ID, runner.last().ScheduleID)

	got, err := s.GetSchedule(ctx, sc.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastRunAt)
	assert.True(t, got.LastRunAt.Equal(time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)))
	require.NotNil(t, got.NextRunAt)
	assert.True(t, got.NextRunAt.Equal(time.Date(2026, 8, 25, 11, 0, 0, 0, time.UTC)))
}

func TestOverlappingFireIsDropped(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	clock := newTestClock(time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC))
	orch := New(s, &stubRunner{}, clock)

	var runs atomic.Int32
	release := make(chan struct{})
	orch.RegisterSystem("slow", time.Minute, func(context.Context) error {
		runs.Add(1)
		<-release
		return nil
	})

	require.NoError(t, orch.Start(ctx))
	defer orch.Stop()

	clock.Advance(time.Minute)
	orch.fireDue(clock.Now())
	require.Eventually(t, func() bool { return runs.Load() == 1 }, 2*time.Second, 10*time.Millisecond)

	// Still in flight: the next due fire must be dropped, not queued.
	clock.Advance(time.Minute)
	orch.fireDue(clock.Now())
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(1), runs.Load())

	close(release)
	require.Eventually(t, func() bool {
		clock.Advance(time.Minute)
		orch.fireDue(clock.Now())
		return runs.Load() == 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSystemJobRegisteredAfterStart(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	clock := newTestClock(time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC))
	orch := New(s, &stubRunner{}, clock)
	require.NoError(t, orch.Start(ctx))
	defer orch.Stop()

	var runs atomic.Int32
	orch.RegisterSystem("late", 30*time.Second, func(context.Context) error {
		runs.Add(1)
		return nil
	})

	clock.Advance(30 * time.Second)
	orch.fireDue(clock.Now())
	require.Eventually(t, func() bool { return runs.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestRefreshReconcilesScheduleSet(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	first := addSchedule(t, s, "hourly", "0 * * * *", nil)

	clock := newTestClock(time.Date(2026, 8, 25, 10, 2, 30, 0, time.UTC))
	runner := &stubRunner{}
	orch := New(s, runner, clock)
	require.NoError(t, orch.Start(ctx))
	defer orch.Stop()
	assert.Equal(t, 1, dynamicCount(orch))

	second := addSchedule(t, s, "every-ten", "*/10 * * * *", nil)
	require.NoError(t, orch.Refresh(ctx))
	assert.Equal(t, 2, dynamicCount(orch))
	next, ok := dynamicNext(orch, second.ID)
	require.True(t, ok)
	assert.True(t, next.Equal(time.Date(2026, 8, 25, 10, 10, 0, 0, time.UTC)))

	first.Enabled = false
	_, err := s.UpdateSchedule(ctx, first)
	require.NoError(t, err)
	require.NoError(t, orch.Refresh(ctx))
	assert.Equal(t, 1, dynamicCount(orch))
	_, ok = dynamicNext(orch, first.ID)
	assert.False(t, ok)
	_, ok = dynamicNext(orch, second.ID)
	assert.True(t, ok)
}

func TestRefreshRebindsChangedExpression(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	sc := addSchedule(t, s, "hourly", "0 * * * *", nil)

	clock := newTestClock(time.Date(2026, 8, 25, 10, 2, 30, 0, time.UTC))
	orch := New(s, &stubRunner{}, clock)
	require.NoError(t, orch.Start(ctx))
	defer orch.Stop()

	next, ok := dynamicNext(orch, sc.ID)
	require.True(t, ok)
	require.True(t, next.Equal(time.Date(2026, 8, 25, 11, 0, 0, 0, time.UTC)))

	sc.CronExpression = "*/5 * * * *"
	_, err := s.UpdateSchedule(ctx, sc)
	require.NoError(t, err)
	require.NoError(t, orch.Refresh(ctx))

	next, ok = dynamicNext(orch, sc.ID)
	require.True(t, ok)
	assert.True(t, next.Equal(time.Date(2026, 8, 25, 10, 5, 0, 0, time.UTC)))

	// A second refresh with nothing changed must not move the fire position.
	require.NoError(t, orch.Refresh(ctx))
	again, ok := dynamicNext(orch, sc.ID)
	require.True(t, ok)
	assert.True(t, again.Equal(next))
}

func TestStartIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	addSchedule(t, s, "hourly", "0 * * * *", nil)

	clock := newTestClock(time.Date(2026, 8, 25, 10, 0, 30, 0, time.UTC))
	orch := New(s, &stubRunner{}, clock)
	require.NoError(t, orch.Start(ctx))
	require.NoError(t, orch.Start(ctx))
	orch.Stop()
	orch.Stop()
}
