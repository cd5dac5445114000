// SPDX-License-Identifier: MIT

package health

import (
	"context"
	"fmt"

	"github.com/comradarr/comradarr/internal/store"
)

// StoreChecker pings the database. A failed ping makes the whole service
// unhealthy; nothing works without the store.
type StoreChecker struct {
	store *store.Store
}

func NewStoreChecker(st *store.Store) *StoreChecker {
	return &StoreChecker{store: st}
}

func (c *StoreChecker) Name() string { return "database" }

func (c *StoreChecker) Check(ctx context.Context) CheckResult {
	latency, err := c.store.Ping(ctx)
	if err != nil {
		return CheckResult{
			Status: StatusUnhealthy,
			Error:  err.Error(),
		}
	}
	ms := float64(latency.Microseconds()) / 1000
	return CheckResult{
		Status:  StatusHealthy,
		Message: fmt.Sprintf("ping %.2fms", ms),
		Details: map[string]any{"latency_ms": ms},
	}
}

// ConnectorsChecker surfaces per-connector health. Any enabled connector in
// unhealthy or offline state degrades the aggregate; it never makes the
// service unhealthy, since the control plane itself still works.
type ConnectorsChecker struct {
	store *store.Store
}

func NewConnectorsChecker(st *store.Store) *ConnectorsChecker {
	return &ConnectorsChecker{store: st}
}

func (c *ConnectorsChecker) Name() string { return "connectors" }

func (c *ConnectorsChecker) Check(ctx context.Context) CheckResult {
	connectors, err := c.store.ListConnectors(ctx)
	if err != nil {
		return CheckResult{Status: StatusDegraded, Error: err.Error()}
	}

	details := make(map[string]any)
	enabled, down := 0, 0
	for _, conn := range connectors {
		if !conn.Enabled {
			continue
		}
		enabled++
		details[conn.Name] = string(conn.HealthStatus)
		if conn.HealthStatus == store.HealthUnhealthy || conn.HealthStatus == store.HealthOffline {
			down++
		}
	}

	switch {
	case enabled == 0:
		return CheckResult{Status: StatusHealthy, Message: "no connectors configured"}
	case down > 0:
		return CheckResult{
			Status:  StatusDegraded,
			Message: fmt.Sprintf("%d of %d connectors down", down, enabled),
			Details: details,
		}
	default:
		return CheckResult{
			Status:  StatusHealthy,
			Message: fmt.Sprintf("%d connectors healthy", enabled),
			Details: details,
		}
	}
}

// RegistryChecker reports search registry depth: how much work is pending,
// queued or actively searching. Informational; never degrades.
type RegistryChecker struct {
	store *store.Store
}

func NewRegistryChecker(st *store.Store) *RegistryChecker {
	return &RegistryChecker{store: st}
}

func (c *RegistryChecker) Name() string { return "registry" }

func (c *RegistryChecker) Check(ctx context.Context) CheckResult {
	counts, err := c.store.RegistryStateCounts(ctx)
	if err != nil {
		return CheckResult{Status: StatusDegraded, Error: err.Error()}
	}
	depth := counts[store.StatePending] + counts[store.StateQueued] + counts[store.StateSearching]
	details := map[string]any{"queue_depth": depth}
	for state, n := range counts {
		details[string(state)] = n
	}
	return CheckResult{
		Status:  StatusHealthy,
		Message: fmt.Sprintf("queue depth %d", depth),
		Details: details,
	}
}

// ThrottleChecker reports how many connectors sit in a throttle pause.
type ThrottleChecker struct {
	store *store.Store
}

func NewThrottleChecker(st *store.Store) *ThrottleChecker {
	return &ThrottleChecker{store: st}
}

func (c *ThrottleChecker) Name() string { return "throttle" }

func (c *ThrottleChecker) Check(ctx context.Context) CheckResult {
	paused, err := c.store.CountPausedConnectors(ctx)
	if err != nil {
		return CheckResult{Status: StatusDegraded, Error: err.Error()}
	}
	msg := "no paused connectors"
	if paused > 0 {
		msg = fmt.Sprintf("%d connectors paused", paused)
	}
	return CheckResult{
		Status:  StatusHealthy,
		Message: msg,
		Details: map[string]any{"paused_connectors": paused},
	}
}
