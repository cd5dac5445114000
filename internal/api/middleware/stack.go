// SPDX-License-Identifier: MIT

// Package middleware holds the canonical HTTP ingress stack: panic recovery,
// correlation IDs, client-IP resolution behind trusted proxies, security
// headers, Prometheus metrics, OpenTelemetry tracing, access logging and
// rate limiting. The API server applies the whole stack through one
// StackConfig so cross-cutting concerns cannot drift between routers.
package middleware

import (
	"net"

	"github.com/go-chi/chi/v5"
)

// StackConfig configures the canonical HTTP ingress middleware stack.
type StackConfig struct {
	// TrustedProxies lists networks whose X-Forwarded-For / X-Real-IP
	// headers are believed. Empty means headers are ignored.
	TrustedProxies []*net.IPNet

	// Security headers
	EnableSecurityHeaders bool

	// Observability
	EnableMetrics  bool
	TracingService string // empty disables tracing
	EnableLogging  bool

	// Rate limiting: requests per minute per client IP. 0 disables.
	RateLimitRPM int
}

// NewRouter constructs a chi router with the canonical middleware stack applied.
func NewRouter(cfg StackConfig) *chi.Mux {
	r := chi.NewRouter()
	ApplyStack(r, cfg)
	return r
}

// ApplyStack applies the canonical middleware stack to r.
func ApplyStack(r chi.Router, cfg StackConfig) {
	// 1. Recoverer (outermost safety net)
	r.Use(Recoverer)
	// 2. Correlation ID (so every later stage logs with it)
	r.Use(Correlation)
	// 3. Client IP resolution (honours forwarding headers only from trusted proxies)
	r.Use(RealIP(cfg.TrustedProxies))
	// 4. Security headers
	if cfg.EnableSecurityHeaders {
		r.Use(SecurityHeaders())
	}
	// 5. Metrics (track all requests)
	if cfg.EnableMetrics {
		r.Use(Metrics())
	}
	// 6. Tracing (distributed tracing with OpenTelemetry)
	if cfg.TracingService != "" {
		r.Use(OTelHTTP(cfg.TracingService))
	}
	// 7. Access logging (wraps handlers, captures full latency)
	if cfg.EnableLogging {
		r.Use(RequestLogger())
	}
	// 8. Rate limit (global protection)
	if cfg.RateLimitRPM > 0 {
		r.Use(RateLimit(cfg.RateLimitRPM))
	}
}
