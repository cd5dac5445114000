// SPDX-License-Identifier: MIT

// Package settings holds the mutable runtime configuration: search weights,
// cooldown shape, batching thresholds, auth mode. Unlike the file config,
// these change at runtime through the API without a restart. Two backends
// exist: a table in the main SQLite database, and Redis for deployments where
// a management UI writes settings from another process.
package settings

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ErrNotFound reports a key with no stored value; callers fall back to the
// compiled-in default.
var ErrNotFound = errors.New("settings: not found")

// Store is the raw key-value backend. Values are strings; typing lives in
// the Bridge.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	All(ctx context.Context) (map[string]string, error)
	Close() error
}

// Setting keys. Every key has a compiled-in default so a fresh database
// behaves sensibly without seeding. The names are a contract with external
// settings writers (the management UI); renaming one orphans stored values.
const (
	KeyAppName  = "app_name"
	KeyTimezone = "timezone"
	KeyLogLevel = "log_level"
	KeyAuthMode = "auth_mode"

	KeyMaxAttempts         = "search_max_attempts"
	KeyCooldownBaseSeconds = "search_cooldown_base_seconds"
	KeyCooldownMaxSeconds  = "search_cooldown_max_seconds"
	KeyCooldownMultiplier  = "search_cooldown_multiplier"
	KeyCooldownJitter      = "search_cooldown_jitter"

	KeyWeightContentAge      = "search_weight_content_age"
	KeyWeightMissingDuration = "search_weight_missing_duration"
	KeyWeightUserPriority    = "search_weight_user_priority"
	KeyWeightFailurePenalty  = "search_weight_failure_penalty"
	KeyWeightGapBonus        = "search_weight_gap_bonus"

	KeySeasonThresholdPct   = "search_season_threshold_pct"
	KeySeasonThresholdCount = "search_season_threshold_count"

	KeyPendingRetentionDays = "search_pending_retention_days"
)

// Auth modes. full requires the API key on every management request;
// local_bypass waives it for clients on loopback, private, or link-local
// addresses (single-box deployments on a trusted LAN).
const (
	AuthModeFull        = "full"
	AuthModeLocalBypass = "local_bypass"
)

// Defaults keyed by setting name.
var defaults = map[string]string{
	KeyAppName:  "Comradarr",
	KeyTimezone: "UTC",
	KeyLogLevel: "info",
	KeyAuthMode: AuthModeFull,

	KeyMaxAttempts:         "5",
	KeyCooldownBaseSeconds: "3600",
	KeyCooldownMaxSeconds:  "86400",
	KeyCooldownMultiplier:  "2",
	KeyCooldownJitter:      "false",

	KeyWeightContentAge:      "40",
	KeyWeightMissingDuration: "30",
	KeyWeightUserPriority:    "50",
	KeyWeightFailurePenalty:  "10",
	KeyWeightGapBonus:        "20",

	KeySeasonThresholdPct:   "50",
	KeySeasonThresholdCount: "3",

	KeyPendingRetentionDays: "7",
}

// Default returns the compiled-in default for a key, empty when the key is
// unknown.
func Default(key string) string {
	return defaults[key]
}

// Known reports whether key names a recognized setting.
func Known(key string) bool {
	_, ok := defaults[key]
	return ok
}

// Validate rejects values the Bridge would silently replace with defaults.
// The Bridge tolerates bad stored values; the API edge should not accept
// them in the first place.
func Validate(key, value string) error {
	if !Known(key) {
		return fmt.Errorf("unknown setting %q", key)
	}
	switch key {
	case KeyAppName:
		if strings.TrimSpace(value) == "" {
			return fmt.Errorf("%s cannot be blank", key)
		}
	case KeyTimezone:
		if _, err := time.LoadLocation(value); err != nil {
			return fmt.Errorf("unknown timezone %q", value)
		}
	case KeyLogLevel:
		if _, err := zerolog.ParseLevel(value); err != nil {
			return fmt.Errorf("unknown log level %q", value)
		}
	case KeyAuthMode:
		if value != AuthModeFull && value != AuthModeLocalBypass {
			return fmt.Errorf("auth mode must be %q or %q", AuthModeFull, AuthModeLocalBypass)
		}
	case KeyCooldownJitter:
		if _, err := strconv.ParseBool(value); err != nil {
			return fmt.Errorf("%s must be a boolean", key)
		}
	case KeyCooldownMultiplier:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil || f < 1 {
			return fmt.Errorf("%s must be a number >= 1", key)
		}
	case KeySeasonThresholdPct:
		n, err := strconv.Atoi(value)
		if err != nil || n < 0 || n > 100 {
			return fmt.Errorf("%s must be an integer between 0 and 100", key)
		}
	default:
		n, err := strconv.Atoi(value)
		if err != nil || n < 0 {
			return fmt.Errorf("%s must be a non-negative integer", key)
		}
	}
	return nil
}
