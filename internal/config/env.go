// SPDX-License-Identifier: MIT

package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/comradarr/comradarr/internal/log"
)

// Environment keys. Every override carries the COMRADARR_ prefix.
const (
	EnvDataDir        = "COMRADARR_DATA_DIR"
	EnvListen         = "COMRADARR_LISTEN"
	EnvMetricsListen  = "COMRADARR_METRICS_LISTEN"
	EnvAPIKey         = "COMRADARR_API_KEY"
	EnvTrustedProxies = "COMRADARR_TRUSTED_PROXIES"
	EnvRateLimitRPS   = "COMRADARR_RATE_LIMIT_RPS"

	EnvReadTimeout     = "COMRADARR_SERVER_READ_TIMEOUT"
	EnvWriteTimeout    = "COMRADARR_SERVER_WRITE_TIMEOUT"
	EnvIdleTimeout     = "COMRADARR_SERVER_IDLE_TIMEOUT"
	EnvMaxHeaderBytes  = "COMRADARR_SERVER_MAX_HEADER_BYTES"
	EnvShutdownTimeout = "COMRADARR_SERVER_SHUTDOWN_TIMEOUT"

	EnvLogLevel     = "COMRADARR_LOG_LEVEL"
	EnvLogFormat    = "COMRADARR_LOG_FORMAT"
	EnvLogPersist   = "COMRADARR_LOG_PERSIST"
	EnvLogRetention = "COMRADARR_LOG_RETENTION"
	EnvLogRingSize  = "COMRADARR_LOG_RING_SIZE"

	EnvSettingsBackend = "COMRADARR_SETTINGS_BACKEND"
	EnvRedisAddr       = "COMRADARR_REDIS_ADDR"

	EnvOTelEnabled    = "COMRADARR_OTEL_ENABLED"
	EnvOTelEndpoint   = "COMRADARR_OTEL_ENDPOINT"
	EnvOTelExporter   = "COMRADARR_OTEL_EXPORTER"
	EnvOTelSampleRate = "COMRADARR_OTEL_SAMPLE_RATE"

	EnvNotifyBuffer  = "COMRADARR_NOTIFY_BUFFER"
	EnvNotifyRate    = "COMRADARR_NOTIFY_RATE"
	EnvNotifyBurst   = "COMRADARR_NOTIFY_BURST"
	EnvNotifyWebhook = "COMRADARR_NOTIFY_WEBHOOK"
)

// envString returns the variable's value, or the fallback when unset/empty.
func envString(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

// envBool parses 1/0, true/false, yes/no. Unparseable values keep the
// fallback and log a warning.
func envBool(key string, fallback bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	switch strings.ToLower(v) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	logger := log.WithComponent("config")
	logger.Warn().
		Str("key", key).Str("value", v).
		Msg("invalid boolean in environment variable, using default")
	return fallback
}

func envInt(key string, fallback int) int {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	if i, err := strconv.Atoi(v); err == nil {
		return i
	}
	logger := log.WithComponent("config")
	logger.Warn().
		Str("key", key).Str("value", v).
		Msg("invalid integer in environment variable, using default")
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return f
	}
	logger := log.WithComponent("config")
	logger.Warn().
		Str("key", key).Str("value", v).
		Msg("invalid float in environment variable, using default")
	return fallback
}

// envDuration parses Go duration syntax ("30s", "24h").
func envDuration(key string, fallback time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	logger := log.WithComponent("config")
	logger.Warn().
		Str("key", key).Str("value", v).
		Msg("invalid duration in environment variable, using default")
	return fallback
}

// mergeEnv applies environment overrides on top of defaults and file values.
func mergeEnv(cfg *AppConfig) {
	cfg.DataDir = envString(EnvDataDir, cfg.DataDir)
	cfg.Listen = envString(EnvListen, cfg.Listen)
	cfg.MetricsListen = envString(EnvMetricsListen, cfg.MetricsListen)
	cfg.APIKey = envString(EnvAPIKey, cfg.APIKey)
	if raw, ok := os.LookupEnv(EnvTrustedProxies); ok {
		cfg.TrustedProxies = splitCSV(raw)
	}
	cfg.RateLimitRPS = envInt(EnvRateLimitRPS, cfg.RateLimitRPS)

	cfg.Server.ReadTimeout = envDuration(EnvReadTimeout, cfg.Server.ReadTimeout)
	cfg.Server.WriteTimeout = envDuration(EnvWriteTimeout, cfg.Server.WriteTimeout)
	cfg.Server.IdleTimeout = envDuration(EnvIdleTimeout, cfg.Server.IdleTimeout)
	cfg.Server.MaxHeaderBytes = envInt(EnvMaxHeaderBytes, cfg.Server.MaxHeaderBytes)
	cfg.Server.ShutdownTimeout = envDuration(EnvShutdownTimeout, cfg.Server.ShutdownTimeout)

	cfg.Log.Level = envString(EnvLogLevel, cfg.Log.Level)
	cfg.Log.Format = envString(EnvLogFormat, cfg.Log.Format)
	cfg.Log.Persist = envBool(EnvLogPersist, cfg.Log.Persist)
	cfg.Log.Retention = envDuration(EnvLogRetention, cfg.Log.Retention)
	cfg.Log.RingSize = envInt(EnvLogRingSize, cfg.Log.RingSize)

	cfg.Settings.Backend = envString(EnvSettingsBackend, cfg.Settings.Backend)
	cfg.Settings.RedisAddr = envString(EnvRedisAddr, cfg.Settings.RedisAddr)

	cfg.Telemetry.Enabled = envBool(EnvOTelEnabled, cfg.Telemetry.Enabled)
	cfg.Telemetry.Endpoint = envString(EnvOTelEndpoint, cfg.Telemetry.Endpoint)
	cfg.Telemetry.Exporter = envString(EnvOTelExporter, cfg.Telemetry.Exporter)
	cfg.Telemetry.SampleRate = envFloat(EnvOTelSampleRate, cfg.Telemetry.SampleRate)

	cfg.Notify.Buffer = envInt(EnvNotifyBuffer, cfg.Notify.Buffer)
	cfg.Notify.RatePerSec = envFloat(EnvNotifyRate, cfg.Notify.RatePerSec)
	cfg.Notify.Burst = envInt(EnvNotifyBurst, cfg.Notify.Burst)
	cfg.Notify.WebhookURL = envString(EnvNotifyWebhook, cfg.Notify.WebhookURL)
}

// splitCSV splits a comma-separated list, trimming blanks.
func splitCSV(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
