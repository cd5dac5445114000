// SPDX-License-Identifier: MIT

package throttle

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/comradarr/comradarr/internal/store"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock(t time.Time) *testClock {
	return &testClock{t: t}
}

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

func utcLocation() *time.Location { return time.UTC }

func testProfile() store.ThrottleProfile {
	return store.ThrottleProfile{
		Name:                  "test",
		RequestsPerMinute:     60,
		BatchSize:             10,
		BatchCooldownSeconds:  30,
		RateLimitPauseSeconds: 900,
	}
}

func TestMinuteCap(t *testing.T) {
	t0 := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	clock := newTestClock(t0)
	g := New(clock, utcLocation)
	profile := testProfile()

	for i := 0; i < 60; i++ {
		d := g.Admit(1, profile)
		require.Equal(t, Allow, d.Kind, "admission %d", i+1)
	}
	for i := 60; i < 120; i++ {
		d := g.Admit(1, profile)
		require.Equal(t, Defer, d.Kind, "admission %d", i+1)
		assert.Equal(t, ReasonMinuteCap, d.Reason)
		assert.LessOrEqual(t, d.RetryAfter, time.Minute)
		assert.Greater(t, d.RetryAfter, time.Duration(0))
	}

	clock.Advance(time.Minute)
	for i := 0; i < 60; i++ {
		d := g.Admit(1, profile)
		require.Equal(t, Allow, d.Kind, "post-roll admission %d", i+1)
	}
}

func TestUpstreamRateLimitedPause(t *testing.T) {
	t0 := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	clock := newTestClock(t0)
	g := New(clock, utcLocation)
	profile := testProfile() // pause floor 900s

	// Retry-After shorter than the profile floor: the floor wins.
	until := g.OnUpstreamRateLimited(1, 120*time.Second, profile)
	assert.Equal(t, t0.Add(900*time.Second), until)

	d := g.Admit(1, profile)
	require.Equal(t, Pause, d.Kind)
	assert.Equal(t, until, d.Until)
	assert.Equal(t, ReasonRateLimited, d.Reason)

	// Retry-After beyond the floor: the upstream's value wins.
	until = g.OnUpstreamRateLimited(2, 1200*time.Second, profile)
	assert.Equal(t, t0.Add(1200*time.Second), until)

	// The pause expires on its own.
	clock.Advance(901 * time.Second)
	d = g.Admit(1, profile)
	assert.Equal(t, Allow, d.Kind)
}

func TestManualResume(t *testing.T) {
	clock := newTestClock(time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC))
	g := New(clock, utcLocation)
	profile := testProfile()

	g.OnUpstreamRateLimited(1, time.Hour, profile)
	require.True(t, g.Paused(1))

	assert.True(t, g.Resume(1))
	assert.False(t, g.Paused(1))
	assert.Equal(t, Allow, g.Admit(1, profile).Kind)

	// Resuming an unpaused connector reports false.
	assert.False(t, g.Resume(2))
}

func TestDailyBudgetPausesUntilLocalMidnight(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	// 23:30 New York time on Aug 24 (03:30 UTC Aug 25).
	t0 := time.Date(2026, 8, 24, 23, 30, 0, 0, ny)
	clock := newTestClock(t0)
	g := New(clock, func() *time.Location { return ny })

	budget := 10
	profile := testProfile()
	profile.DailyBudget = &budget

	for i := 0; i < 10; i++ {
		require.Equal(t, Allow, g.Admit(1, profile).Kind, "admission %d", i+1)
	}

	d := g.Admit(1, profile)
	require.Equal(t, Pause, d.Kind)
	assert.Equal(t, ReasonDailyBudget, d.Reason)
	wantMidnight := time.Date(2026, 8, 25, 0, 0, 0, 0, ny)
	assert.Equal(t, wantMidnight, d.Until)

	// Past local midnight the day window rolls and the budget is fresh.
	clock.Advance(31 * time.Minute)
	d = g.Admit(1, profile)
	assert.Equal(t, Allow, d.Kind)
}

func TestBatchPacingWithinSweep(t *testing.T) {
	t0 := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	clock := newTestClock(t0)
	g := New(clock, utcLocation)

	profile := testProfile()
	profile.BatchSize = 3
	profile.BatchCooldownSeconds = 30

	g.ResetBatch(1)
	for i := 0; i < 3; i++ {
		require.Equal(t, Allow, g.Admit(1, profile).Kind, "admission %d", i+1)
	}

	d := g.Admit(1, profile)
	require.Equal(t, Defer, d.Kind)
	assert.Equal(t, ReasonBatchCooldown, d.Reason)
	assert.LessOrEqual(t, d.RetryAfter, 30*time.Second)

	clock.Advance(30 * time.Second)
	assert.Equal(t, Allow, g.Admit(1, profile).Kind)

	// A fresh sweep clears any leftover pacing hold.
	d = g.Admit(1, profile)
	require.Equal(t, Allow, d.Kind)
	g.ResetBatch(1)
	assert.Equal(t, Allow, g.Admit(1, profile).Kind)
}

func TestBatchPacingNotArmedOutsideSweep(t *testing.T) {
	clock := newTestClock(time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC))
	g := New(clock, utcLocation)

	profile := testProfile()
	profile.BatchSize = 2
	profile.BatchCooldownSeconds = 300

	// Without ResetBatch only the minute window applies.
	for i := 0; i < 10; i++ {
		require.Equal(t, Allow, g.Admit(1, profile).Kind, "admission %d", i+1)
	}
}

func TestFailClosedOnPanic(t *testing.T) {
	clock := newTestClock(time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC))
	g := New(clock, func() *time.Location { panic("no location") })

	d := g.Admit(1, testProfile())
	require.Equal(t, Defer, d.Kind)
	assert.Equal(t, ReasonInternal, d.Reason)
	assert.Equal(t, 5*time.Second, d.RetryAfter)
}

func TestSnapshotReflectsState(t *testing.T) {
	t0 := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	clock := newTestClock(t0)
	g := New(clock, utcLocation)
	profile := testProfile()

	g.Admit(1, profile)
	g.Admit(1, profile)
	g.OnUpstreamRateLimited(1, time.Hour, profile)

	snap := g.Snapshot(1)
	assert.Equal(t, int64(1), snap.ConnectorID)
	assert.Equal(t, 2, snap.RequestsThisMinute)
	assert.Equal(t, 2, snap.RequestsToday)
	assert.True(t, snap.IsPaused)
	require.NotNil(t, snap.PausedUntil)
	assert.Equal(t, t0.Add(time.Hour), *snap.PausedUntil)
	assert.Equal(t, ReasonRateLimited, snap.PauseReason)

	all := g.SnapshotAll()
	require.Len(t, all, 1)
	assert.Equal(t, 1, g.PausedCount())
}

func TestRestoreResurrectsLivePauseOnly(t *testing.T) {
	t0 := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	clock := newTestClock(t0)
	profile := testProfile()

	// Build a snapshot on one governor, feed it into a fresh one.
	g1 := New(clock, utcLocation)
	g1.Admit(1, profile)
	g1.Admit(1, profile)
	g1.OnUpstreamRateLimited(1, time.Hour, profile)
	snap := g1.Snapshot(1)

	g2 := New(clock, utcLocation)
	g2.Restore(snap)
	assert.True(t, g2.Paused(1))
	restored := g2.Snapshot(1)
	assert.Equal(t, 2, restored.RequestsThisMinute)
	assert.Equal(t, 2, restored.RequestsToday)

	// A restart after the pause and windows lapsed restores nothing.
	clock.Advance(26 * time.Hour)
	g3 := New(clock, utcLocation)
	g3.Restore(snap)
	assert.False(t, g3.Paused(1))
	stale := g3.Snapshot(1)
	assert.Zero(t, stale.RequestsThisMinute)
	assert.Zero(t, stale.RequestsToday)
}

func TestConcurrentAdmissionsRespectCap(t *testing.T) {
	clock := newTestClock(time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC))
	g := New(clock, utcLocation)
	profile := testProfile()
	profile.RequestsPerMinute = 10

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowedCount := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if g.Admit(7, profile).Kind == Allow {
				mu.Lock()
				allowedCount++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 10, allowedCount)
}
