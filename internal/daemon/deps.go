// SPDX-License-Identifier: MIT

package daemon

import (
	"net/http"

	"github.com/rs/zerolog"
)

// Deps carries what the Manager serves: the API surface, the optional
// metrics surface, and the logger everything reports through.
type Deps struct {
	// Logger is the structured logger for the daemon.
	Logger zerolog.Logger

	// ListenAddr is the API listen address (host:port).
	ListenAddr string

	// APIHandler is the HTTP handler for the API server.
	APIHandler http.Handler

	// MetricsAddr is the metrics listen address. Empty disables the
	// metrics server.
	MetricsAddr string

	// MetricsHandler is the HTTP handler for Prometheus metrics.
	MetricsHandler http.Handler
}

// Validate checks if the dependencies are complete.
func (d *Deps) Validate() error {
	if d.Logger.GetLevel() == zerolog.Disabled {
		return ErrMissingLogger
	}
	if d.ListenAddr == "" {
		return ErrMissingListenAddr
	}
	if d.APIHandler == nil {
		return ErrMissingAPIHandler
	}
	return nil
}
