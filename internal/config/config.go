// SPDX-License-Identifier: MIT

// Package config loads the boot-time configuration: defaults, then an
// optional YAML file (strict), then COMRADARR_* environment overrides.
// Runtime-mutable knobs (search weights, cooldown, retention) live in the
// settings store, not here.
package config

import "time"

// AppConfig is the resolved process configuration.
type AppConfig struct {
	Version string

	// DataDir holds the sqlite database, the secret key file and, when log
	// persistence is on, the badger log store.
	DataDir string

	Listen        string // API listen address (host:port)
	MetricsListen string // metrics listen address; empty disables the server

	// APIKey guards the management API. Empty means no key is configured and
	// protected endpoints refuse requests (fail closed).
	APIKey string

	TrustedProxies []string // IPs/CIDRs allowed to assert X-Forwarded-For
	RateLimitRPS   int      // per-client request budget on the API

	Server    ServerConfig
	Log       LogConfig
	Settings  SettingsConfig
	Telemetry TelemetryConfig
	Notify    NotifyConfig
}

// ServerConfig tunes the embedded HTTP servers.
type ServerConfig struct {
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	MaxHeaderBytes  int
	ShutdownTimeout time.Duration
}

// LogConfig controls the zerolog output and the persistent log store.
type LogConfig struct {
	Level     string // trace|debug|info|warn|error
	Format    string // json|console
	Persist   bool   // write entries into the badger log store
	Retention time.Duration
	RingSize  int // in-memory ring capacity
}

// SettingsConfig selects the settings backend.
type SettingsConfig struct {
	Backend   string // sqlite|redis
	RedisAddr string
}

// TelemetryConfig controls the OTLP trace exporter.
type TelemetryConfig struct {
	Enabled    bool
	Endpoint   string
	Exporter   string  // grpc|http
	SampleRate float64 // fraction of traces kept, 0.0-1.0
}

// NotifyConfig sizes the notification dispatcher.
type NotifyConfig struct {
	Buffer     int
	RatePerSec float64
	Burst      int
	WebhookURL string
}

// Defaults returns the baseline configuration before file and env merging.
func Defaults() AppConfig {
	return AppConfig{
		DataDir:       "./data",
		Listen:        ":8080",
		MetricsListen: ":9090",
		RateLimitRPS:  60,
		Server: ServerConfig{
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     120 * time.Second,
			MaxHeaderBytes:  1 << 20,
			ShutdownTimeout: 30 * time.Second,
		},
		Log: LogConfig{
			Level:     "info",
			Format:    "json",
			Persist:   false,
			Retention: 7 * 24 * time.Hour,
			RingSize:  10000,
		},
		Settings: SettingsConfig{
			Backend: "sqlite",
		},
		Telemetry: TelemetryConfig{
			Exporter:   "grpc",
			SampleRate: 1.0,
		},
		Notify: NotifyConfig{
			Buffer:     256,
			RatePerSec: 10,
			Burst:      20,
		},
	}
}
