// SPDX-License-Identifier: MIT

package search

import (
	"context"
	"time"

	"github.com/comradarr/comradarr/internal/settings"
)

// Config bundles every mutable search-behavior setting. Loaded fresh at each
// use-site so settings edits take effect on the next sweep without a
// restart.
type Config struct {
	Weights       Weights
	MaxAttempts   int
	Cooldown      Cooldown
	Season        Thresholds
	RetentionDays int
}

// LoadConfig reads the search settings through the bridge, clamping each
// value into its documented range.
func LoadConfig(ctx context.Context, b *settings.Bridge) Config {
	cfg := Config{
		Weights: Weights{
			ContentAge:      clampInt(b.Int(ctx, settings.KeyWeightContentAge), 0, 100),
			MissingDuration: clampInt(b.Int(ctx, settings.KeyWeightMissingDuration), 0, 100),
			UserPriority:    clampInt(b.Int(ctx, settings.KeyWeightUserPriority), 0, 100),
			FailurePenalty:  clampInt(b.Int(ctx, settings.KeyWeightFailurePenalty), 0, 100),
			GapBonus:        clampInt(b.Int(ctx, settings.KeyWeightGapBonus), 0, 100),
		},
		MaxAttempts: clampInt(b.Int(ctx, settings.KeyMaxAttempts), 1, 100),
		Cooldown: Cooldown{
			Base:       time.Duration(clampInt(b.Int(ctx, settings.KeyCooldownBaseSeconds), 60, 86400)) * time.Second,
			Max:        time.Duration(clampInt(b.Int(ctx, settings.KeyCooldownMaxSeconds), 60, 7*86400)) * time.Second,
			Multiplier: b.Float(ctx, settings.KeyCooldownMultiplier),
			Jitter:     b.Bool(ctx, settings.KeyCooldownJitter),
		},
		Season: Thresholds{
			MinMissingPercent: clampInt(b.Int(ctx, settings.KeySeasonThresholdPct), 0, 100),
			MinMissingCount:   clampInt(b.Int(ctx, settings.KeySeasonThresholdCount), 1, 1000),
		},
		RetentionDays: clampInt(b.Int(ctx, settings.KeyPendingRetentionDays), 1, 365),
	}
	if cfg.Cooldown.Multiplier < 1 {
		cfg.Cooldown.Multiplier = 2
	}
	if cfg.Cooldown.Max < cfg.Cooldown.Base {
		cfg.Cooldown.Max = cfg.Cooldown.Base
	}
	return cfg
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
