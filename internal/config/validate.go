// SPDX-License-Identifier: MIT

package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// Validate checks the resolved configuration. Errors name the offending
// field and value so operators can fix the file or env without guessing.
func Validate(cfg AppConfig) error {
	if strings.TrimSpace(cfg.DataDir) == "" {
		return fmt.Errorf("data_dir must not be empty")
	}

	if err := validateListen("listen", cfg.Listen, true); err != nil {
		return err
	}
	if err := validateListen("metrics_listen", cfg.MetricsListen, false); err != nil {
		return err
	}
	if cfg.MetricsListen != "" && cfg.MetricsListen == cfg.Listen {
		return fmt.Errorf("metrics_listen %q collides with listen address", cfg.MetricsListen)
	}

	if cfg.RateLimitRPS < 1 {
		return fmt.Errorf("rate_limit_rps must be >= 1 (got %d)", cfg.RateLimitRPS)
	}

	if cfg.Server.ReadTimeout <= 0 || cfg.Server.WriteTimeout <= 0 || cfg.Server.IdleTimeout <= 0 {
		return fmt.Errorf("server timeouts must be positive")
	}
	if cfg.Server.MaxHeaderBytes < 4096 {
		return fmt.Errorf("server.max_header_bytes must be >= 4096 (got %d)", cfg.Server.MaxHeaderBytes)
	}
	if cfg.Server.ShutdownTimeout < time.Second {
		return fmt.Errorf("server.shutdown_timeout must be >= 1s (got %s)", cfg.Server.ShutdownTimeout)
	}

	for _, p := range cfg.TrustedProxies {
		if net.ParseIP(p) != nil {
			continue
		}
		if _, _, err := net.ParseCIDR(p); err != nil {
			return fmt.Errorf("trusted_proxies entry %q is neither an IP nor a CIDR", p)
		}
	}

	switch cfg.Log.Level {
	case "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level %q not one of trace|debug|info|warn|error", cfg.Log.Level)
	}
	switch cfg.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("log.format %q not one of json|console", cfg.Log.Format)
	}
	if cfg.Log.RingSize < 100 {
		return fmt.Errorf("log.ring_size must be >= 100 (got %d)", cfg.Log.RingSize)
	}
	if cfg.Log.Persist && cfg.Log.Retention < time.Hour {
		return fmt.Errorf("log.retention must be >= 1h when persistence is on (got %s)", cfg.Log.Retention)
	}

	switch cfg.Settings.Backend {
	case "sqlite":
	case "redis":
		if _, _, err := net.SplitHostPort(cfg.Settings.RedisAddr); err != nil {
			return fmt.Errorf("settings.redis_addr %q is not host:port: %v", cfg.Settings.RedisAddr, err)
		}
	default:
		return fmt.Errorf("settings.backend %q not one of sqlite|redis", cfg.Settings.Backend)
	}

	if cfg.Telemetry.Enabled && strings.TrimSpace(cfg.Telemetry.Endpoint) == "" {
		return fmt.Errorf("telemetry.endpoint must be set when telemetry is enabled")
	}
	if cfg.Telemetry.Exporter != "grpc" && cfg.Telemetry.Exporter != "http" {
		return fmt.Errorf("telemetry.exporter %q not one of grpc|http", cfg.Telemetry.Exporter)
	}
	if cfg.Telemetry.SampleRate < 0 || cfg.Telemetry.SampleRate > 1 {
		return fmt.Errorf("telemetry.sample_rate must be within [0,1] (got %v)", cfg.Telemetry.SampleRate)
	}

	if cfg.Notify.Buffer < 1 {
		return fmt.Errorf("notify.buffer must be >= 1 (got %d)", cfg.Notify.Buffer)
	}
	if cfg.Notify.RatePerSec <= 0 {
		return fmt.Errorf("notify.rate_per_sec must be > 0 (got %v)", cfg.Notify.RatePerSec)
	}
	if cfg.Notify.Burst < 1 {
		return fmt.Errorf("notify.burst must be >= 1 (got %d)", cfg.Notify.Burst)
	}

	return nil
}

// validateListen accepts host:port with a numeric port. The API listener is
// required; others may be empty to disable the surface.
func validateListen(field, addr string, required bool) error {
	if addr == "" {
		if required {
			return fmt.Errorf("%s must not be empty", field)
		}
		return nil
	}
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid %s address %q: %v", field, addr, err)
	}
	n, err := strconv.Atoi(port)
	if err != nil || n < 0 || n > 65535 {
		return fmt.Errorf("invalid %s port %q in %q", field, port, addr)
	}
	return nil
}
