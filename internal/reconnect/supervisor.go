// SPDX-License-Identifier: MIT

// Package reconnect probes unhealthy connectors with capped exponential
// backoff until they answer again.
package reconnect

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/rs/zerolog"

	"github.com/comradarr/comradarr/internal/connector"
	"github.com/comradarr/comradarr/internal/cron"
	"github.com/comradarr/comradarr/internal/log"
	"github.com/comradarr/comradarr/internal/metrics"
	"github.com/comradarr/comradarr/internal/notify"
	"github.com/comradarr/comradarr/internal/store"
)

const (
	baseDelay   = 30 * time.Second
	maxDelay    = 30 * time.Minute
	maxFailures = 10
	jitterFrac  = 0.2
)

// ErrPaused is returned when a probe is requested for a connector whose
// reconnect handling the user paused.
var ErrPaused = errors.New("reconnect: paused by user")

// Prober checks whether one connector answers. The production prober
// decrypts the API key and pings the upstream service.
type Prober interface {
	Probe(ctx context.Context, conn store.Connector) error
}

// ProberFunc adapts a function to the Prober interface.
type ProberFunc func(ctx context.Context, conn store.Connector) error

// Probe implements Prober.
func (f ProberFunc) Probe(ctx context.Context, conn store.Connector) error {
	return f(ctx, conn)
}

// Notifier is the slice of the notification dispatcher the supervisor uses.
type Notifier interface {
	Publish(t notify.Type, payload map[string]any)
}

// Supervisor owns reconnect state for every connector: who gets probed when,
// and with how much backoff.
type Supervisor struct {
	store  *store.Store
	prober Prober
	notify Notifier
	clock  cron.Clock
	logger zerolog.Logger
}

// New returns a supervisor. A nil clock means the wall clock.
func New(st *store.Store, prober Prober, n Notifier, clock cron.Clock) *Supervisor {
	if clock == nil {
		clock = cron.System()
	}
	return &Supervisor{
		store:  st,
		prober: prober,
		notify: n,
		clock:  clock,
		logger: log.WithComponent("reconnect"),
	}
}

// Tick runs one supervision pass: every enabled unhealthy or offline
// connector that is due and not paused gets probed. Individual probe
// failures never abort the pass.
func (s *Supervisor) Tick(ctx context.Context) error {
	conns, err := s.store.ListEnabledConnectors(ctx)
	if err != nil {
		return fmt.Errorf("reconnect: list connectors: %w", err)
	}
	now := s.clock.Now()
	for _, conn := range conns {
		if conn.HealthStatus != store.HealthUnhealthy && conn.HealthStatus != store.HealthOffline {
			continue
		}
		rs, err := s.store.GetReconnectState(ctx, conn.ID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			s.logger.Error().Err(err).
				Str("event", "reconnect.state_read_failed").
				Int64("connector_id", conn.ID).
				Msg("skipping connector")
			continue
		}
		if rs.Paused {
			continue
		}
		if rs.NextAttemptAt != nil && now.Before(*rs.NextAttemptAt) {
			continue
		}
		s.attempt(ctx, conn, rs)
	}
	return nil
}

// Probe runs a manual probe for one connector. It bypasses the backoff
// schedule but still refuses paused connectors. The probe's outcome is
// returned so action endpoints can surface it.
func (s *Supervisor) Probe(ctx context.Context, connectorID int64) error {
	conn, err := s.store.GetConnector(ctx, connectorID)
	if err != nil {
		return err
	}
	rs, err := s.store.GetReconnectState(ctx, conn.ID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	if rs.Paused {
		return ErrPaused
	}
	return s.attempt(ctx, conn, rs)
}

// Pause sets or clears the per-connector pause flag. A paused connector is
// never probed, not even manually.
func (s *Supervisor) Pause(ctx context.Context, connectorID int64, paused bool) error {
	rs, err := s.store.GetReconnectState(ctx, connectorID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	rs.ConnectorID = connectorID
	rs.Paused = paused
	return s.store.UpsertReconnectState(ctx, rs)
}

func (s *Supervisor) attempt(ctx context.Context, conn store.Connector, rs store.ReconnectState) error {
	now := s.clock.Now()
	err := s.prober.Probe(ctx, conn)
	if err == nil {
		s.recovered(ctx, conn, now)
		return nil
	}

	failures := rs.ConsecutiveFailures + 1
	if failures > maxFailures {
		failures = maxFailures
	}
	next := now.Add(backoffDelay(failures))
	rs.ConnectorID = conn.ID
	rs.ConsecutiveFailures = failures
	rs.NextAttemptAt = &next
	rs.LastAttemptAt = &now
	if uerr := s.store.UpsertReconnectState(ctx, rs); uerr != nil {
		s.logger.Error().Err(uerr).
			Str("event", "reconnect.state_write_failed").
			Int64("connector_id", conn.ID).
			Msg("backoff state not persisted")
	}

	s.reclassify(ctx, conn, err, now)
	metrics.RecordReconnectProbe("failure")
	s.logger.Warn().Err(err).
		Str("event", "reconnect.probe_failed").
		Int64("connector_id", conn.ID).
		Str("connector", conn.Name).
		Int("failures", failures).
		Time("next_attempt_at", next).
		Msg("connector still down")
	return err
}

func (s *Supervisor) recovered(ctx context.Context, conn store.Connector, now time.Time) {
	if err := s.store.ClearReconnectState(ctx, conn.ID); err != nil {
		s.logger.Error().Err(err).
			Str("event", "reconnect.state_clear_failed").
			Int64("connector_id", conn.ID).
			Msg("reconnect state not cleared")
	}
	if err := s.store.SetConnectorHealth(ctx, conn.ID, store.HealthHealthy, now); err != nil {
		s.logger.Error().Err(err).
			Str("event", "reconnect.health_write_failed").
			Int64("connector_id", conn.ID).
			Msg("health not persisted")
	}
	metrics.RecordReconnectProbe("success")
	s.logger.Info().
		Str("event", "reconnect.recovered").
		Int64("connector_id", conn.ID).
		Str("connector", conn.Name).
		Msg("connector answered again")
	if s.notify != nil {
		s.notify.Publish(notify.ConnectorHealthChanged, map[string]any{
			"connector_id": conn.ID,
			"connector":    conn.Name,
			"from":         string(conn.HealthStatus),
			"to":           string(store.HealthHealthy),
		})
	}
}

// reclassify refines unhealthy vs offline from the probe error. Only an
// actual transition is persisted and announced.
func (s *Supervisor) reclassify(ctx context.Context, conn store.Connector, err error, now time.Time) {
	target := store.HealthUnhealthy
	if errors.Is(err, connector.ErrNetwork) || errors.Is(err, connector.ErrTimeout) {
		target = store.HealthOffline
	}
	if conn.HealthStatus == target {
		return
	}
	if herr := s.store.SetConnectorHealth(ctx, conn.ID, target, now); herr != nil {
		s.logger.Error().Err(herr).
			Str("event", "reconnect.health_write_failed").
			Int64("connector_id", conn.ID).
			Msg("health not persisted")
		return
	}
	if s.notify != nil {
		s.notify.Publish(notify.ConnectorHealthChanged, map[string]any{
			"connector_id": conn.ID,
			"connector":    conn.Name,
			"from":         string(conn.HealthStatus),
			"to":           string(target),
		})
	}
}

// backoffDelay returns the wait before attempt failures+1: 30s doubling up
// to 30min, then ±20% jitter so a fleet of dead connectors does not probe in
// lockstep.
func backoffDelay(failures int) time.Duration {
	if failures < 1 {
		failures = 1
	}
	d := float64(baseDelay) * math.Pow(2, float64(failures-1))
	d = math.Min(d, float64(maxDelay))
	d *= 1 - jitterFrac + 2*jitterFrac*rand.Float64()
	return time.Duration(d)
}
