// SPDX-License-Identifier: MIT

package search_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/comradarr/comradarr/internal/search"
	"github.com/comradarr/comradarr/internal/settings"
)

func newBridge(t *testing.T) *settings.Bridge {
	t.Helper()
	db, err := sql.Open("sqlite", "file:"+filepath.Join(t.TempDir(), "settings.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = db.Close()
	})
	s, err := settings.NewSQLStore(db)
	require.NoError(t, err)
	b := settings.NewBridge(s)
	t.Cleanup(func() {
		_ = b.Close()
	})
	return b
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg := search.LoadConfig(context.Background(), newBridge(t))

	assert.Equal(t, search.Weights{
		ContentAge:      40,
		MissingDuration: 30,
		UserPriority:    50,
		FailurePenalty:  10,
		GapBonus:        20,
	}, cfg.Weights)
	assert.Equal(t, 5, cfg.MaxAttempts)
	assert.Equal(t, time.Hour, cfg.Cooldown.Base)
	assert.Equal(t, 24*time.Hour, cfg.Cooldown.Max)
	assert.Equal(t, 2.0, cfg.Cooldown.Multiplier)
	assert.False(t, cfg.Cooldown.Jitter)
	assert.Equal(t, search.Thresholds{MinMissingPercent: 50, MinMissingCount: 3}, cfg.Season)
	assert.Equal(t, 7, cfg.RetentionDays)
}

func TestLoadConfigClampsOutOfRange(t *testing.T) {
	ctx := context.Background()
	b := newBridge(t)

	require.NoError(t, b.Set(ctx, settings.KeyWeightContentAge, "250"))
	require.NoError(t, b.Set(ctx, settings.KeyMaxAttempts, "0"))
	require.NoError(t, b.Set(ctx, settings.KeyCooldownBaseSeconds, "5"))
	require.NoError(t, b.Set(ctx, settings.KeyCooldownMaxSeconds, "10"))
	require.NoError(t, b.Set(ctx, settings.KeyCooldownMultiplier, "0.5"))
	require.NoError(t, b.Set(ctx, settings.KeyCooldownJitter, "true"))

	cfg := search.LoadConfig(ctx, b)
	assert.Equal(t, 100, cfg.Weights.ContentAge)
	assert.Equal(t, 1, cfg.MaxAttempts)
	assert.Equal(t, time.Minute, cfg.Cooldown.Base)
	assert.Equal(t, time.Minute, cfg.Cooldown.Max, "cap never sits below the base")
	assert.Equal(t, 2.0, cfg.Cooldown.Multiplier)
	assert.True(t, cfg.Cooldown.Jitter)
}

func TestLoadConfigFallsBackOnGarbage(t *testing.T) {
	ctx := context.Background()
	b := newBridge(t)

	require.NoError(t, b.Set(ctx, settings.KeyWeightGapBonus, "banana"))
	require.NoError(t, b.Set(ctx, settings.KeySeasonThresholdPct, "sixty"))

	cfg := search.LoadConfig(ctx, b)
	assert.Equal(t, 20, cfg.Weights.GapBonus)
	assert.Equal(t, 50, cfg.Season.MinMissingPercent)
}
