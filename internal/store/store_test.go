// SPDX-License-Identifier: MIT

package store_test

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/comradarr/comradarr/internal/connector"
	"github.com/comradarr/comradarr/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "comradarr.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = s.Close()
	})
	return s
}

func seedConnector(t *testing.T, s *store.Store, name string) store.Connector {
	t.Helper()
	c, err := s.CreateConnector(context.Background(), store.Connector{
		Type:         connector.TypeSonarr,
		Name:         name,
		BaseURL:      "http://" + name + ".local:8989",
		APIKeyCipher: "cipher",
		Enabled:      true,
	})
	require.NoError(t, err)
	return c
}

func seedEpisode(t *testing.T, s *store.Store, connID int64, upstreamID int64, hasFile bool) store.ContentItem {
	t.Helper()
	ctx := context.Background()
	err := s.UpsertContentItems(ctx, connID, []connector.Item{{
		Kind:          connector.KindEpisode,
		UpstreamID:    upstreamID,
		SeriesID:      100,
		SeasonNumber:  1,
		EpisodeNumber: int(upstreamID),
		Title:         "Episode",
		Monitored:     true,
		HasFile:       hasFile,
	}}, time.Now())
	require.NoError(t, err)
	item, err := s.GetContentByUpstream(ctx, connID, connector.KindEpisode, upstreamID)
	require.NoError(t, err)
	return item
}

func TestOpenMigratePing(t *testing.T) {
	s := newTestStore(t)
	latency, err := s.Ping(context.Background())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, latency, time.Duration(0))
}

func TestConnectorCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	c := seedConnector(t, s, "main")
	assert.Equal(t, store.HealthUnknown, c.HealthStatus)

	// Same type+name collides.
	_, err := s.CreateConnector(ctx, store.Connector{
		Type: connector.TypeSonarr, Name: "main", BaseURL: "http://other:8989", APIKeyCipher: "x", Enabled: true,
	})
	require.ErrorIs(t, err, store.ErrConflict)

	// Type is immutable.
	c.Type = connector.TypeRadarr
	_, err = s.UpdateConnector(ctx, c)
	require.ErrorIs(t, err, store.ErrInvalidConfig)

	c.Type = connector.TypeSonarr
	c.Name = "renamed"
	updated, err := s.UpdateConnector(ctx, c)
	require.NoError(t, err)
	assert.Equal(t, "renamed", updated.Name)

	now := time.Now()
	require.NoError(t, s.SetConnectorHealth(ctx, c.ID, store.HealthHealthy, now))
	got, err := s.GetConnector(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, store.HealthHealthy, got.HealthStatus)
	require.NotNil(t, got.LastHealthCheckAt)

	require.NoError(t, s.DeleteConnector(ctx, c.ID))
	_, err = s.GetConnector(ctx, c.ID)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestContentUpsertTracksFirstSeenMissing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	c := seedConnector(t, s, "sonarr")

	item := connector.Item{
		Kind: connector.KindEpisode, UpstreamID: 1, SeriesID: 10, SeasonNumber: 1, EpisodeNumber: 1,
		Title: "Pilot", Monitored: true, HasFile: false,
	}
	t0 := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.UpsertContentItems(ctx, c.ID, []connector.Item{item}, t0))

	got, err := s.GetContentByUpstream(ctx, c.ID, connector.KindEpisode, 1)
	require.NoError(t, err)
	require.NotNil(t, got.FirstSeenMissingAt)
	assert.Equal(t, t0, got.FirstSeenMissingAt.UTC())

	// A later sweep that still sees the gap keeps the original stamp.
	t1 := t0.Add(2 * time.Hour)
	require.NoError(t, s.UpsertContentItems(ctx, c.ID, []connector.Item{item}, t1))
	got, err = s.GetContentByUpstream(ctx, c.ID, connector.KindEpisode, 1)
	require.NoError(t, err)
	require.NotNil(t, got.FirstSeenMissingAt)
	assert.Equal(t, t0, got.FirstSeenMissingAt.UTC())
	assert.Equal(t, t1, got.LastSeenAt.UTC())

	// Once the file shows up the stamp clears.
	item.HasFile = true
	t2 := t1.Add(2 * time.Hour)
	require.NoError(t, s.UpsertContentItems(ctx, c.ID, []connector.Item{item}, t2))
	got, err = s.GetContentByUpstream(ctx, c.ID, connector.KindEpisode, 1)
	require.NoError(t, err)
	assert.Nil(t, got.FirstSeenMissingAt)
	assert.True(t, got.HasFile)
}

func TestDeleteContentNotSeenSince(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	c := seedConnector(t, s, "sonarr")

	old := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	fresh := old.Add(24 * time.Hour)

	require.NoError(t, s.UpsertContentItems(ctx, c.ID, []connector.Item{
		{Kind: connector.KindEpisode, UpstreamID: 1, Title: "stale", Monitored: true},
	}, old))
	require.NoError(t, s.UpsertContentItems(ctx, c.ID, []connector.Item{
		{Kind: connector.KindEpisode, UpstreamID: 2, Title: "fresh", Monitored: true},
	}, fresh))

	n, err := s.DeleteContentNotSeenSince(ctx, c.ID, fresh)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = s.GetContentByUpstream(ctx, c.ID, connector.KindEpisode, 1)
	require.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.GetContentByUpstream(ctx, c.ID, connector.KindEpisode, 2)
	require.NoError(t, err)
}

func TestRegistryEnsureIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	c := seedConnector(t, s, "sonarr")
	item := seedEpisode(t, s, c.ID, 1, false)

	created, err := s.EnsureEntry(ctx, c.ID, item.ID, store.SearchGap)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = s.EnsureEntry(ctx, c.ID, item.ID, store.SearchGap)
	require.NoError(t, err)
	assert.False(t, created, "second ensure must not reset the entry")

	// A different search type is a distinct entry.
	created, err = s.EnsureEntry(ctx, c.ID, item.ID, store.SearchUpgrade)
	require.NoError(t, err)
	assert.True(t, created)
}

func TestDispatchCandidateEligibility(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	c := seedConnector(t, s, "sonarr")
	now := time.Now()

	// pending, no deferral: eligible
	itemA := seedEpisode(t, s, c.ID, 1, false)
	_, err := s.EnsureEntry(ctx, c.ID, itemA.ID, store.SearchGap)
	require.NoError(t, err)

	// pending with future deferral: not eligible
	itemB := seedEpisode(t, s, c.ID, 2, false)
	_, err = s.EnsureEntry(ctx, c.ID, itemB.ID, store.SearchGap)
	require.NoError(t, err)
	entryB := entryFor(t, s, c.ID, itemB.ID)
	ok, err := s.MarkQueued(ctx, entryB.ID, store.StatePending, 0)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, s.MarkDeferred(ctx, entryB.ID, now.Add(time.Hour)))

	// cooldown elapsed: eligible
	itemC := seedEpisode(t, s, c.ID, 3, false)
	_, err = s.EnsureEntry(ctx, c.ID, itemC.ID, store.SearchGap)
	require.NoError(t, err)
	entryC := entryFor(t, s, c.ID, itemC.ID)
	moveToSearching(t, s, entryC.ID)
	ok, err = s.MarkCooldown(ctx, entryC.ID, now.Add(-time.Minute), "no results")
	require.NoError(t, err)
	require.True(t, ok)

	// cooldown not yet elapsed: not eligible
	itemD := seedEpisode(t, s, c.ID, 4, false)
	_, err = s.EnsureEntry(ctx, c.ID, itemD.ID, store.SearchGap)
	require.NoError(t, err)
	entryD := entryFor(t, s, c.ID, itemD.ID)
	moveToSearching(t, s, entryD.ID)
	ok, err = s.MarkCooldown(ctx, entryD.ID, now.Add(time.Hour), "no results")
	require.NoError(t, err)
	require.True(t, ok)

	cands, err := s.ListDispatchCandidates(ctx, c.ID, now, 0)
	require.NoError(t, err)

	got := map[int64]store.RegistryState{}
	for _, cand := range cands {
		got[cand.Entry.ContentID] = cand.ObservedState
	}
	assert.Contains(t, got, itemA.ID)
	assert.NotContains(t, got, itemB.ID)
	assert.Contains(t, got, itemC.ID)
	assert.NotContains(t, got, itemD.ID)
	assert.Equal(t, store.StateCooldown, got[itemC.ID])
}

func TestTransitionFencing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	c := seedConnector(t, s, "sonarr")
	item := seedEpisode(t, s, c.ID, 1, false)
	_, err := s.EnsureEntry(ctx, c.ID, item.ID, store.SearchGap)
	require.NoError(t, err)
	entry := entryFor(t, s, c.ID, item.ID)

	ok, err := s.MarkQueued(ctx, entry.ID, store.StatePending, 42)
	require.NoError(t, err)
	assert.True(t, ok)

	// Fencing from the stale observed state loses.
	ok, err = s.MarkQueued(ctx, entry.ID, store.StatePending, 42)
	require.NoError(t, err)
	assert.False(t, ok)

	moveToSearching(t, s, entry.ID)
	got, err := s.GetRegistryEntry(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StateSearching, got.State)
	assert.Equal(t, 1, got.AttemptCount)
	assert.Equal(t, 42, got.Priority)
}

func TestExhaustRefusedWhileSearching(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	c := seedConnector(t, s, "sonarr")
	item := seedEpisode(t, s, c.ID, 1, false)
	_, err := s.EnsureEntry(ctx, c.ID, item.ID, store.SearchGap)
	require.NoError(t, err)
	entry := entryFor(t, s, c.ID, item.ID)
	moveToSearching(t, s, entry.ID)

	err = s.ExhaustEntry(ctx, entry.ID)
	require.ErrorIs(t, err, store.ErrConflict)

	// Delete works in any state.
	require.NoError(t, s.DeleteEntry(ctx, entry.ID))
	_, err = s.GetRegistryEntry(ctx, entry.ID)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestRequeueAbandonsInFlightSearch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	c := seedConnector(t, s, "sonarr")
	item := seedEpisode(t, s, c.ID, 1, false)
	_, err := s.EnsureEntry(ctx, c.ID, item.ID, store.SearchGap)
	require.NoError(t, err)
	entry := entryFor(t, s, c.ID, item.ID)
	moveToSearching(t, s, entry.ID)

	cmdID := createPending(t, s, store.PendingCommand{
		ConnectorID: c.ID, RegistryID: entry.ID, UpstreamCommandID: 55,
		ContentID: item.ID, SearchType: store.SearchGap, DispatchedAt: time.Now(),
	})

	require.NoError(t, s.RequeueEntry(ctx, entry.ID))
	got, err := s.GetRegistryEntry(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatePending, got.State)
	assert.Equal(t, 0, got.AttemptCount)

	// The abandoned command closed as failed, so nothing open points at a
	// row that is no longer searching.
	cmd, err := s.GetPendingCommand(ctx, cmdID)
	require.NoError(t, err)
	assert.Equal(t, store.CommandFailed, cmd.CommandStatus)
	require.NotNil(t, cmd.CompletedAt)
}

func TestRequeueResetsAttempts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	c := seedConnector(t, s, "sonarr")
	item := seedEpisode(t, s, c.ID, 1, false)
	_, err := s.EnsureEntry(ctx, c.ID, item.ID, store.SearchGap)
	require.NoError(t, err)
	entry := entryFor(t, s, c.ID, item.ID)

	moveToSearching(t, s, entry.ID)
	ok, err := s.MarkExhausted(ctx, entry.ID, "max attempts")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, s.RequeueEntry(ctx, entry.ID))
	got, err := s.GetRegistryEntry(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatePending, got.State)
	assert.Equal(t, 0, got.AttemptCount)
	assert.Empty(t, got.LastError)
}

func TestPruneResolvedEntries(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	c := seedConnector(t, s, "sonarr")

	// Gap entry whose content gained a file out-of-band.
	item := seedEpisode(t, s, c.ID, 1, false)
	_, err := s.EnsureEntry(ctx, c.ID, item.ID, store.SearchGap)
	require.NoError(t, err)
	seedEpisode(t, s, c.ID, 1, true) // re-upsert with file

	// Gap entry still missing: survives.
	item2 := seedEpisode(t, s, c.ID, 2, false)
	_, err = s.EnsureEntry(ctx, c.ID, item2.ID, store.SearchGap)
	require.NoError(t, err)

	n, err := s.PruneResolvedEntries(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	counts, err := s.RegistryStateCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[store.StatePending])
}

func TestPendingCommandOpenUniqueness(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	c := seedConnector(t, s, "sonarr")
	item := seedEpisode(t, s, c.ID, 1, false)
	_, err := s.EnsureEntry(ctx, c.ID, item.ID, store.SearchGap)
	require.NoError(t, err)
	entry := entryFor(t, s, c.ID, item.ID)

	dispatchedAt := time.Now()
	firstID := createPending(t, s, store.PendingCommand{
		ConnectorID: c.ID, RegistryID: entry.ID, UpstreamCommandID: 77,
		ContentID: item.ID, SearchType: store.SearchGap, DispatchedAt: dispatchedAt,
	})
	require.NotZero(t, firstID)

	// Second open command for the same content violates the partial index.
	err = tryCreatePending(s, store.PendingCommand{
		ConnectorID: c.ID, RegistryID: entry.ID, UpstreamCommandID: 78,
		ContentID: item.ID, SearchType: store.SearchGap, DispatchedAt: dispatchedAt,
	})
	require.ErrorIs(t, err, store.ErrConflict)

	// Resolving the first frees the slot.
	require.NoError(t, s.ResolveCommand(ctx, firstID, store.CommandCompleted, true, time.Now()))
	err = tryCreatePending(s, store.PendingCommand{
		ConnectorID: c.ID, RegistryID: entry.ID, UpstreamCommandID: 79,
		ContentID: item.ID, SearchType: store.SearchGap, DispatchedAt: dispatchedAt,
	})
	require.NoError(t, err)
}

func TestPendingTimeoutAndPurge(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	c := seedConnector(t, s, "sonarr")
	item := seedEpisode(t, s, c.ID, 1, false)
	_, err := s.EnsureEntry(ctx, c.ID, item.ID, store.SearchGap)
	require.NoError(t, err)
	entry := entryFor(t, s, c.ID, item.ID)

	old := time.Now().Add(-25 * time.Hour)
	id := createPending(t, s, store.PendingCommand{
		ConnectorID: c.ID, RegistryID: entry.ID, UpstreamCommandID: 1,
		ContentID: item.ID, SearchType: store.SearchGap, DispatchedAt: old,
	})

	stale, err := s.ListOpenCommandsOlderThan(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, id, stale[0].ID)

	resolvedAt := time.Now().Add(-8 * 24 * time.Hour)
	require.NoError(t, s.ResolveCommand(ctx, id, store.CommandFailed, false, resolvedAt))

	purged, err := s.PurgeResolvedCommands(ctx, time.Now().Add(-7*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)
}

func TestProfileValidationAndDefault(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	seeded, err := s.EnsureDefaultProfile(ctx)
	require.NoError(t, err)
	assert.True(t, seeded.IsDefault)

	// Idempotent.
	again, err := s.EnsureDefaultProfile(ctx)
	require.NoError(t, err)
	assert.Equal(t, seeded.ID, again.ID)

	_, err = s.CreateProfile(ctx, store.ThrottleProfile{
		Name: "toofast", RequestsPerMinute: 61, BatchSize: 10,
		BatchCooldownSeconds: 60, RateLimitPauseSeconds: 900,
	})
	require.ErrorIs(t, err, store.ErrInvalidConfig)

	daily := 5
	_, err = s.CreateProfile(ctx, store.ThrottleProfile{
		Name: "tiny", RequestsPerMinute: 5, DailyBudget: &daily, BatchSize: 10,
		BatchCooldownSeconds: 60, RateLimitPauseSeconds: 900,
	})
	require.ErrorIs(t, err, store.ErrInvalidConfig)

	// Promoting a new default demotes the old one.
	promoted, err := s.CreateProfile(ctx, store.ThrottleProfile{
		Name: "aggressive", RequestsPerMinute: 30, BatchSize: 20,
		BatchCooldownSeconds: 30, RateLimitPauseSeconds: 300, IsDefault: true,
	})
	require.NoError(t, err)
	assert.True(t, promoted.IsDefault)

	old, err := s.GetProfile(ctx, seeded.ID)
	require.NoError(t, err)
	assert.False(t, old.IsDefault)

	// The default cannot be deleted or demoted in place.
	err = s.DeleteProfile(ctx, promoted.ID)
	require.ErrorIs(t, err, store.ErrInvalidConfig)
	promoted.IsDefault = false
	_, err = s.UpdateProfile(ctx, promoted)
	require.ErrorIs(t, err, store.ErrInvalidConfig)
}

func TestEffectiveProfileFallsBackToDefault(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	def, err := s.EnsureDefaultProfile(ctx)
	require.NoError(t, err)
	c := seedConnector(t, s, "sonarr")

	got, err := s.EffectiveProfile(ctx, c)
	require.NoError(t, err)
	assert.Equal(t, def.ID, got.ID)

	custom, err := s.CreateProfile(ctx, store.ThrottleProfile{
		Name: "custom", RequestsPerMinute: 10, BatchSize: 5,
		BatchCooldownSeconds: 120, RateLimitPauseSeconds: 600,
	})
	require.NoError(t, err)
	c.ThrottleProfileID = &custom.ID
	c, err = s.UpdateConnector(ctx, c)
	require.NoError(t, err)

	got, err = s.EffectiveProfile(ctx, c)
	require.NoError(t, err)
	assert.Equal(t, custom.ID, got.ID)
}

func TestScheduleValidationAndImmutableBinding(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	c := seedConnector(t, s, "sonarr")

	_, err := s.CreateSchedule(ctx, store.Schedule{
		Name: "bad", SweepType: store.SweepIncremental, CronExpression: "not a cron", Timezone: "UTC",
	})
	require.ErrorIs(t, err, store.ErrInvalidConfig)

	_, err = s.CreateSchedule(ctx, store.Schedule{
		Name: "badtz", SweepType: store.SweepIncremental, CronExpression: "*/15 * * * *", Timezone: "Mars/Olympus",
	})
	require.ErrorIs(t, err, store.ErrInvalidConfig)

	sc, err := s.CreateSchedule(ctx, store.Schedule{
		Name: "nightly", SweepType: store.SweepFull, CronExpression: "0 3 * * *",
		Timezone: "Europe/Vienna", ConnectorID: &c.ID, Enabled: true,
	})
	require.NoError(t, err)

	// Rebinding the connector is refused.
	other := seedConnector(t, s, "radarr")
	sc.ConnectorID = &other.ID
	_, err = s.UpdateSchedule(ctx, sc)
	require.ErrorIs(t, err, store.ErrInvalidConfig)

	// Run stamps round-trip.
	last := time.Date(2026, 8, 25, 3, 0, 0, 0, time.UTC)
	next := last.Add(24 * time.Hour)
	require.NoError(t, s.SetScheduleRun(ctx, sc.ID, last, next))
	got, err := s.GetSchedule(ctx, sc.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastRunAt)
	assert.Equal(t, last, got.LastRunAt.UTC())
}

func TestSnapshotsCaptureAndPrune(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	c := seedConnector(t, s, "sonarr")

	seedEpisode(t, s, c.ID, 1, true)
	seedEpisode(t, s, c.ID, 2, false)
	seedEpisode(t, s, c.ID, 3, false)
	seedEpisode(t, s, c.ID, 4, true)

	at := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)
	snap, err := s.CaptureCompletionSnapshot(ctx, c.ID, at)
	require.NoError(t, err)
	assert.Equal(t, 4, snap.MonitoredCount)
	assert.Equal(t, 2, snap.DownloadedCount)
	assert.Equal(t, 5000, snap.PercentBps)

	list, err := s.ListSnapshots(ctx, c.ID, at.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, list, 1)

	n, err := s.PruneSnapshots(ctx, at.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestThrottleStateRoundtrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	c := seedConnector(t, s, "sonarr")

	until := time.Now().Add(15 * time.Minute).UTC().Truncate(time.Second)
	st := store.ThrottleState{
		ConnectorID:        c.ID,
		RequestsThisMinute: 3,
		MinuteWindowStart:  time.Now().UTC().Truncate(time.Second),
		RequestsToday:      120,
		DayWindowStart:     time.Now().UTC().Truncate(24 * time.Hour),
		IsPaused:           true,
		PausedUntil:        &until,
		PauseReason:        "rate_limited",
	}
	require.NoError(t, s.UpsertThrottleState(ctx, st))

	got, err := s.GetThrottleState(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.RequestsThisMinute)
	assert.Equal(t, 120, got.RequestsToday)
	assert.True(t, got.IsPaused)
	require.NotNil(t, got.PausedUntil)
	assert.Equal(t, until, got.PausedUntil.UTC())

	paused, err := s.CountPausedConnectors(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, paused)
}

func TestSeasonStatsFromMirror(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	c := seedConnector(t, s, "sonarr")
	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)

	items := []connector.Item{
		{Kind: connector.KindEpisode, UpstreamID: 1, SeriesID: 9, SeasonNumber: 2, EpisodeNumber: 1, Monitored: true, HasFile: true, AirDate: now.Add(-48 * time.Hour), Title: "e1"},
		{Kind: connector.KindEpisode, UpstreamID: 2, SeriesID: 9, SeasonNumber: 2, EpisodeNumber: 2, Monitored: true, HasFile: false, AirDate: now.Add(-24 * time.Hour), Title: "e2"},
		{Kind: connector.KindEpisode, UpstreamID: 3, SeriesID: 9, SeasonNumber: 2, EpisodeNumber: 3, Monitored: true, HasFile: false, AirDate: now.Add(72 * time.Hour), Title: "e3"},
	}
	require.NoError(t, s.UpsertContentItems(ctx, c.ID, items, now))

	stats, err := s.SeasonStatsFromMirror(ctx, c.ID, 9, 2, now)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.EpisodeCount)
	assert.Equal(t, 1, stats.EpisodeFileCount)
	assert.Equal(t, now.Add(72*time.Hour), stats.NextAiring.UTC())
	assert.True(t, stats.Monitored)
}

func TestSyncActivityFeed(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	c := seedConnector(t, s, "sonarr")

	start := time.Date(2026, 8, 25, 9, 0, 0, 0, time.UTC)
	_, err := s.RecordSyncActivity(ctx, store.SyncActivity{
		ConnectorID: c.ID, Source: "scheduler", Mode: store.SweepIncremental,
		StartedAt: start, FinishedAt: start.Add(20 * time.Second),
		ItemsSynced: 40, GapsAdded: 3, Dispatched: 2, Deferred: 1,
	})
	require.NoError(t, err)
	_, err = s.RecordSyncActivity(ctx, store.SyncActivity{
		ConnectorID: c.ID, Source: "manual", Mode: store.SweepFull,
		StartedAt: start.Add(time.Hour), FinishedAt: start.Add(time.Hour + time.Minute),
		Error: "upstream offline",
	})
	require.NoError(t, err)

	list, err := s.ListSyncActivities(ctx, 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "manual", list[0].Source, "newest first")
	assert.Equal(t, "upstream offline", list[0].Error)
}

// --- helpers ---

func entryFor(t *testing.T, s *store.Store, connectorID, contentID int64) store.RegistryEntry {
	t.Helper()
	entries, err := s.ListRegistryEntries(context.Background(), connectorID, "", "", 100, 0)
	require.NoError(t, err)
	for _, e := range entries {
		if e.ContentID == contentID {
			return e
		}
	}
	t.Fatalf("no registry entry for content %d", contentID)
	return store.RegistryEntry{}
}

func moveToSearching(t *testing.T, s *store.Store, entryID int64) {
	t.Helper()
	ctx := context.Background()
	e, err := s.GetRegistryEntry(ctx, entryID)
	require.NoError(t, err)
	if e.State != store.StateQueued {
		ok, err := s.MarkQueued(ctx, entryID, e.State, e.Priority)
		require.NoError(t, err)
		require.True(t, ok)
	}
	err = s.WithTx(ctx, func(tx *sql.Tx) error {
		ok, err := s.MarkSearchingTx(ctx, tx, entryID)
		if err != nil {
			return err
		}
		if !ok {
			return errors.New("fence lost")
		}
		return nil
	})
	require.NoError(t, err)
}

func createPending(t *testing.T, s *store.Store, p store.PendingCommand) int64 {
	t.Helper()
	var id int64
	err := s.WithTx(context.Background(), func(tx *sql.Tx) error {
		var err error
		id, err = s.CreatePendingCommandTx(context.Background(), tx, p)
		return err
	})
	require.NoError(t, err)
	return id
}

func tryCreatePending(s *store.Store, p store.PendingCommand) error {
	return s.WithTx(context.Background(), func(tx *sql.Tx) error {
		_, err := s.CreatePendingCommandTx(context.Background(), tx, p)
		return err
	})
}
