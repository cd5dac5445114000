// SPDX-License-Identifier: MIT

package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "comradarr.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefaultsAreValid(t *testing.T) {
	cfg := Defaults()
	cfg.Version = "test"
	require.NoError(t, Validate(cfg))
	assert.Equal(t, ":8080", cfg.Listen)
	assert.Equal(t, "sqlite", cfg.Settings.Backend)
	assert.Equal(t, 10000, cfg.Log.RingSize)
}

// TestLoadFullFile exercises every file section at once and diffs the
// resolved configuration against the expected shape.
func TestLoadFullFile(t *testing.T) {
	path := writeConfig(t, `
data_dir: /var/lib/comradarr
listen: ":7878"
metrics_listen: ":9100"
api_key: super-secret
trusted_proxies: ["10.0.0.0/8"]
rate_limit_rps: 120
server:
  read_timeout: 10s
  write_timeout: 20s
  idle_timeout: 60s
  max_header_bytes: 8192
  shutdown_timeout: 15s
log:
  level: debug
  format: console
  persist: true
  retention: 48h
  ring_size: 500
settings:
  backend: redis
  redis_addr: "127.0.0.1:6379"
telemetry:
  enabled: true
  endpoint: "otel-collector:4318"
  exporter: http
  sample_rate: 0.5
notify:
  buffer: 128
  rate_per_sec: 4
  burst: 8
  webhook_url: "https://hooks.example.com/comradarr"
`)
	cfg, err := NewLoader(path, "9.9.9").Load()
	require.NoError(t, err)

	want := AppConfig{
		Version:        "9.9.9",
		DataDir:        "/var/lib/comradarr",
		Listen:         ":7878",
		MetricsListen:  ":9100",
		APIKey:         "super-secret",
		TrustedProxies: []string{"10.0.0.0/8"},
		RateLimitRPS:   120,
		Server: ServerConfig{
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    20 * time.Second,
			IdleTimeout:     60 * time.Second,
			MaxHeaderBytes:  8192,
			ShutdownTimeout: 15 * time.Second,
		},
		Log: LogConfig{
			Level:     "debug",
			Format:    "console",
			Persist:   true,
			Retention: 48 * time.Hour,
			RingSize:  500,
		},
		Settings: SettingsConfig{
			Backend:   "redis",
			RedisAddr: "127.0.0.1:6379",
		},
		Telemetry: TelemetryConfig{
			Enabled:    true,
			Endpoint:   "otel-collector:4318",
			Exporter:   "http",
			SampleRate: 0.5,
		},
		Notify: NotifyConfig{
			Buffer:     128,
			RatePerSec: 4,
			Burst:      8,
			WebhookURL: "https://hooks.example.com/comradarr",
		},
	}
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Fatalf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadPrecedenceEnvOverFileOverDefaults(t *testing.T) {
	path := writeConfig(t, `
data_dir: /tmp/comradarr-test
listen: ":7878"
log:
  level: debug
  retention: 72h
telemetry:
  enabled: true
  endpoint: "otel-collector:4317"
  exporter: http
  sample_rate: 0.25
notify:
  buffer: 64
`)
	t.Setenv(EnvLogLevel, "warn") // env beats file
	t.Setenv(EnvNotifyRate, "2.5")

	cfg, err := NewLoader(path, "1.2.3").Load()
	require.NoError(t, err)

	assert.Equal(t, "1.2.3", cfg.Version)
	assert.Equal(t, "/tmp/comradarr-test", cfg.DataDir)
	assert.Equal(t, ":7878", cfg.Listen)          // file beats default
	assert.Equal(t, "warn", cfg.Log.Level)        // env beats file
	assert.Equal(t, 72*time.Hour, cfg.Log.Retention)
	assert.Equal(t, 64, cfg.Notify.Buffer)
	assert.Equal(t, 2.5, cfg.Notify.RatePerSec)
	assert.True(t, cfg.Telemetry.Enabled)
	assert.Equal(t, "http", cfg.Telemetry.Exporter)
	assert.Equal(t, 0.25, cfg.Telemetry.SampleRate)
	assert.Equal(t, ":9090", cfg.MetricsListen) // untouched default
}

func TestLoadKeepsDefaultsOnUnparseableEnv(t *testing.T) {
	def := Defaults()
	t.Setenv(EnvLogPersist, "definitely")
	t.Setenv(EnvLogRingSize, "many")
	t.Setenv(EnvNotifyRate, "fast")
	t.Setenv(EnvLogRetention, "a fortnight")

	cfg, err := NewLoader("", "test").Load()
	require.NoError(t, err)

	// Each garbage value logs a warning and keeps the default.
	assert.Equal(t, def.Log.Persist, cfg.Log.Persist)
	assert.Equal(t, def.Log.RingSize, cfg.Log.RingSize)
	assert.Equal(t, def.Notify.RatePerSec, cfg.Notify.RatePerSec)
	assert.Equal(t, def.Log.Retention, cfg.Log.Retention)
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, "data_dir: /tmp/x\nstream_port: 8001\n")
	_, err := NewLoader(path, "test").Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "strict config parse")
}

func TestLoadRejectsMultipleDocuments(t *testing.T) {
	path := writeConfig(t, "data_dir: /tmp/x\n---\ndata_dir: /tmp/y\n")
	_, err := NewLoader(path, "test").Load()
	require.Error(t, err)
}

func TestLoadResolvesRelativeDataDir(t *testing.T) {
	path := writeConfig(t, "data_dir: ./data\n")
	cfg, err := NewLoader(path, "test").Load()
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(cfg.DataDir))
}

func TestValidateRejections(t *testing.T) {
	base := func() AppConfig {
		cfg := Defaults()
		cfg.Version = "test"
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*AppConfig)
		want   string
	}{
		{"empty listen", func(c *AppConfig) { c.Listen = "" }, "listen must not be empty"},
		{"bad port", func(c *AppConfig) { c.Listen = ":99999" }, "invalid listen port"},
		{"metrics collision", func(c *AppConfig) { c.MetricsListen = c.Listen }, "collides"},
		{"bad log level", func(c *AppConfig) { c.Log.Level = "verbose" }, "log.level"},
		{"bad log format", func(c *AppConfig) { c.Log.Format = "xml" }, "log.format"},
		{"ring too small", func(c *AppConfig) { c.Log.RingSize = 50 }, "ring_size"},
		{"short retention", func(c *AppConfig) { c.Log.Persist = true; c.Log.Retention = time.Minute }, "retention"},
		{"bad backend", func(c *AppConfig) { c.Settings.Backend = "etcd" }, "settings.backend"},
		{"redis without addr", func(c *AppConfig) { c.Settings.Backend = "redis" }, "redis_addr"},
		{"telemetry without endpoint", func(c *AppConfig) { c.Telemetry.Enabled = true }, "telemetry.endpoint"},
		{"bad telemetry exporter", func(c *AppConfig) { c.Telemetry.Exporter = "udp" }, "telemetry.exporter"},
		{"sample rate out of range", func(c *AppConfig) { c.Telemetry.SampleRate = 1.5 }, "sample_rate"},
		{"bad trusted proxy", func(c *AppConfig) { c.TrustedProxies = []string{"not-an-ip"} }, "trusted_proxies"},
		{"zero rate limit", func(c *AppConfig) { c.RateLimitRPS = 0 }, "rate_limit_rps"},
		{"zero notify rate", func(c *AppConfig) { c.Notify.RatePerSec = 0 }, "rate_per_sec"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base()
			tc.mutate(&cfg)
			err := Validate(cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestValidateAcceptsCIDRProxies(t *testing.T) {
	cfg := Defaults()
	cfg.TrustedProxies = []string{"10.0.0.1", "192.168.0.0/16", "::1"}
	require.NoError(t, Validate(cfg))
}

func TestHolderReloadKeepsOldConfigOnFailure(t *testing.T) {
	path := writeConfig(t, "listen: \":7878\"\n")
	loader := NewLoader(path, "test")
	initial, err := loader.Load()
	require.NoError(t, err)

	holder := NewHolder(initial, loader, path)
	require.Equal(t, ":7878", holder.Get().Listen)

	// Corrupt the file: reload must fail and keep the running config.
	require.NoError(t, os.WriteFile(path, []byte("listen: \":7878\"\nbogus_key: true\n"), 0o600))
	require.Error(t, holder.Reload(context.Background()))
	assert.Equal(t, ":7878", holder.Get().Listen)

	// Fix it: reload picks up the change.
	require.NoError(t, os.WriteFile(path, []byte("listen: \":7979\"\n"), 0o600))
	require.NoError(t, holder.Reload(context.Background()))
	assert.Equal(t, ":7979", holder.Get().Listen)
}

func TestHolderWatcherReloadsOnWrite(t *testing.T) {
	path := writeConfig(t, "listen: \":7878\"\n")
	loader := NewLoader(path, "test")
	initial, err := loader.Load()
	require.NoError(t, err)

	holder := NewHolder(initial, loader, path)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, holder.StartWatcher(ctx))

	updates := make(chan AppConfig, 1)
	holder.RegisterListener(updates)

	require.NoError(t, os.WriteFile(path, []byte("listen: \":7979\"\n"), 0o600))

	select {
	case cfg := <-updates:
		assert.Equal(t, ":7979", cfg.Listen)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not deliver reload")
	}
	assert.Equal(t, ":7979", holder.Get().Listen)
}
