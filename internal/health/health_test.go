// SPDX-License-Identifier: MIT

package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/comradarr/comradarr/internal/config"
	"github.com/comradarr/comradarr/internal/connector"
	"github.com/comradarr/comradarr/internal/store"
)

type mockChecker struct {
	name   string
	status Status
}

func (m *mockChecker) Name() string { return m.name }

func (m *mockChecker) Check(context.Context) CheckResult {
	return CheckResult{Status: m.status}
}

func TestManagerHealthAggregation(t *testing.T) {
	m := NewManager("v1.0.0")
	m.RegisterChecker(&mockChecker{name: "ok", status: StatusHealthy})
	m.RegisterChecker(&mockChecker{name: "warn", status: StatusDegraded})

	// Non-verbose liveness never runs checks.
	resp := m.Health(context.Background(), false)
	assert.Equal(t, StatusHealthy, resp.Status)
	assert.Equal(t, "v1.0.0", resp.Version)
	assert.Nil(t, resp.Checks)

	resp = m.Health(context.Background(), true)
	assert.Equal(t, StatusDegraded, resp.Status)
	assert.Len(t, resp.Checks, 2)

	m.RegisterChecker(&mockChecker{name: "dead", status: StatusUnhealthy})
	resp = m.Health(context.Background(), true)
	assert.Equal(t, StatusUnhealthy, resp.Status)
}

func TestManagerReadiness(t *testing.T) {
	m := NewManager("v1.0.0")
	resp := m.Ready(context.Background(), false)
	assert.True(t, resp.Ready, "no checkers means ready")

	m.RegisterChecker(&mockChecker{name: "warn", status: StatusDegraded})
	resp = m.Ready(context.Background(), false)
	assert.True(t, resp.Ready, "degraded still serves traffic")
	assert.Equal(t, StatusDegraded, resp.Status)

	m.RegisterChecker(&mockChecker{name: "dead", status: StatusUnhealthy})
	resp = m.Ready(context.Background(), false)
	assert.False(t, resp.Ready)
	assert.Equal(t, StatusUnhealthy, resp.Status)
}

func TestServeHealthAlways200(t *testing.T) {
	m := NewManager("v1.0.0")
	m.RegisterChecker(&mockChecker{name: "dead", status: StatusUnhealthy})

	req := httptest.NewRequest(http.MethodGet, "/healthz?verbose=true", nil)
	rec := httptest.NewRecorder()
	m.ServeHealth(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, StatusUnhealthy, resp.Status)
}

func TestServeReady503WhenUnhealthy(t *testing.T) {
	m := NewManager("v1.0.0")
	m.RegisterChecker(&mockChecker{name: "dead", status: StatusUnhealthy})

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()
	m.ServeReady(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var resp ReadinessResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Ready)
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "comradarr.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedConnector(t *testing.T, s *store.Store, name string, enabled bool) store.Connector {
	t.Helper()
	c, err := s.CreateConnector(context.Background(), store.Connector{
		Type:         connector.TypeSonarr,
		Name:         name,
		BaseURL:      "http://" + name + ".local:8989",
		APIKeyCipher: "cipher",
		Enabled:      enabled,
	})
	require.NoError(t, err)
	return c
}

func TestStoreChecker(t *testing.T) {
	s := newTestStore(t)
	c := NewStoreChecker(s)

	result := c.Check(context.Background())
	assert.Equal(t, StatusHealthy, result.Status)
	assert.Contains(t, result.Details, "latency_ms")

	require.NoError(t, s.Close())
	result = c.Check(context.Background())
	assert.Equal(t, StatusUnhealthy, result.Status)
	assert.NotEmpty(t, result.Error)
}

func TestConnectorsChecker(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	c := NewConnectorsChecker(s)

	result := c.Check(ctx)
	assert.Equal(t, StatusHealthy, result.Status)
	assert.Equal(t, "no connectors configured", result.Message)

	up := seedConnector(t, s, "main", true)
	down := seedConnector(t, s, "backup", true)
	seedConnector(t, s, "disabled", false) // never counts

	require.NoError(t, s.SetConnectorHealth(ctx, up.ID, store.HealthHealthy, time.Now()))
	require.NoError(t, s.SetConnectorHealth(ctx, down.ID, store.HealthOffline, time.Now()))

	result = c.Check(ctx)
	assert.Equal(t, StatusDegraded, result.Status)
	assert.Equal(t, "1 of 2 connectors down", result.Message)
	assert.Equal(t, "offline", result.Details["backup"])
	assert.NotContains(t, result.Details, "disabled")

	require.NoError(t, s.SetConnectorHealth(ctx, down.ID, store.HealthHealthy, time.Now()))
	result = c.Check(ctx)
	assert.Equal(t, StatusHealthy, result.Status)
}

func TestRegistryChecker(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	conn := seedConnector(t, s, "main", true)

	require.NoError(t, s.UpsertContentItems(ctx, conn.ID, []connector.Item{{
		Kind:         connector.KindEpisode,
		UpstreamID:   101,
		SeriesID:     1,
		SeasonNumber: 1,
		Monitored:    true,
		AirDate:      time.Now().Add(-24 * time.Hour),
	}}, time.Now()))
	item, err := s.GetContentByUpstream(ctx, conn.ID, connector.KindEpisode, 101)
	require.NoError(t, err)
	_, err = s.EnsureEntry(ctx, conn.ID, item.ID, store.SearchGap)
	require.NoError(t, err)

	result := NewRegistryChecker(s).Check(ctx)
	assert.Equal(t, StatusHealthy, result.Status)
	assert.Equal(t, "queue depth 1", result.Message)
	assert.Equal(t, 1, result.Details["queue_depth"])
}

func TestThrottleChecker(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	conn := seedConnector(t, s, "main", true)

	result := NewThrottleChecker(s).Check(ctx)
	assert.Equal(t, StatusHealthy, result.Status)
	assert.Equal(t, "no paused connectors", result.Message)

	until := time.Now().Add(10 * time.Minute)
	require.NoError(t, s.UpsertThrottleState(ctx, store.ThrottleState{
		ConnectorID: conn.ID,
		IsPaused:    true,
		PausedUntil: &until,
		PauseReason: "rate_limited",
	}))

	result = NewThrottleChecker(s).Check(ctx)
	assert.Equal(t, StatusHealthy, result.Status)
	assert.Equal(t, "1 connectors paused", result.Message)
	assert.Equal(t, 1, result.Details["paused_connectors"])
}

func startupConfig(dataDir string) config.AppConfig {
	cfg := config.Defaults()
	cfg.DataDir = dataDir
	return cfg
}

func TestStartupChecks(t *testing.T) {
	t.Run("creates missing data dir", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "fresh")
		require.NoError(t, PerformStartupChecks(startupConfig(dir)))
	})
	t.Run("ensures log dir when persistence on", func(t *testing.T) {
		dir := t.TempDir()
		cfg := startupConfig(dir)
		cfg.Log.Persist = true
		require.NoError(t, PerformStartupChecks(cfg))
		info, err := os.Stat(filepath.Join(dir, "logs"))
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	})
	t.Run("rejects bad listen", func(t *testing.T) {
		cfg := startupConfig(t.TempDir())
		cfg.Listen = "no-port"
		require.Error(t, PerformStartupChecks(cfg))
	})
}
