// SPDX-License-Identifier: MIT

// Package api exposes the management REST surface: connector, throttle
// profile and schedule CRUD, registry actions, manual sweeps and probes, the
// health contract, activity and log tails. Every /api/v1 route sits behind
// the X-Api-Key middleware; only the probe endpoints are public.
package api

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/comradarr/comradarr/internal/api/middleware"
	"github.com/comradarr/comradarr/internal/auth"
	"github.com/comradarr/comradarr/internal/config"
	"github.com/comradarr/comradarr/internal/health"
	"github.com/comradarr/comradarr/internal/log"
	"github.com/comradarr/comradarr/internal/logstore"
	"github.com/comradarr/comradarr/internal/reconnect"
	"github.com/comradarr/comradarr/internal/secrets"
	"github.com/comradarr/comradarr/internal/settings"
	"github.com/comradarr/comradarr/internal/store"
	"github.com/comradarr/comradarr/internal/sweep"
	"github.com/comradarr/comradarr/internal/throttle"
)

// SweepRunner dispatches sweep requests. Implemented by *sweep.Runner.
type SweepRunner interface {
	Run(ctx context.Context, req sweep.Request) (sweep.Summary, error)
}

// ScheduleRefresher reconciles live cron jobs against the schedules table
// after a mutation. Implemented by *scheduler.Orchestrator.
type ScheduleRefresher interface {
	Refresh(ctx context.Context) error
}

// Options carries the collaborators the server exposes over HTTP.
type Options struct {
	Config     config.AppConfig
	Store      *store.Store
	Bridge     *settings.Bridge
	Cipher     *secrets.Cipher
	Governor   *throttle.Governor
	Supervisor *reconnect.Supervisor
	Runner     SweepRunner
	Scheduler  ScheduleRefresher
	Health     *health.Manager
	Logs       *logstore.Store // nil when log persistence is off

	// BaseContext parents asynchronous work started by handlers (manual
	// sweeps). Defaults to context.Background().
	BaseContext context.Context
}

// Server is the management REST API.
type Server struct {
	cfg        config.AppConfig
	store      *store.Store
	bridge     *settings.Bridge
	cipher     *secrets.Cipher
	governor   *throttle.Governor
	supervisor *reconnect.Supervisor
	runner     SweepRunner
	scheduler  ScheduleRefresher
	health     *health.Manager
	logs       *logstore.Store
	lockout    *auth.Lockout
	base       context.Context

	// manualSweeps guards against stacking manual sweeps on the same
	// target; key is the connector ID, 0 for all-connector sweeps.
	manualSweeps sync.Map

	started time.Time
}

// New assembles the server. It does not listen; callers mount Router on an
// http.Server they own.
func New(opts Options) *Server {
	base := opts.BaseContext
	if base == nil {
		base = context.Background()
	}
	return &Server{
		cfg:        opts.Config,
		store:      opts.Store,
		bridge:     opts.Bridge,
		cipher:     opts.Cipher,
		governor:   opts.Governor,
		supervisor: opts.Supervisor,
		runner:     opts.Runner,
		scheduler:  opts.Scheduler,
		health:     opts.Health,
		logs:       opts.Logs,
		lockout:    auth.NewLockout(nil),
		base:       base,
		started:    time.Now(),
	}
}

// Router builds the chi router: the canonical middleware stack, the public
// probe endpoints and the authenticated /api/v1 surface.
func (s *Server) Router() http.Handler {
	tracing := ""
	if s.cfg.Telemetry.Enabled {
		tracing = "comradarr-api"
	}

	r := middleware.NewRouter(middleware.StackConfig{
		TrustedProxies:        s.parsedTrustedProxies(),
		EnableSecurityHeaders: true,
		EnableMetrics:         true,
		TracingService:        tracing,
		EnableLogging:         true,
		RateLimitRPM:          s.cfg.RateLimitRPS * 60,
	})

	s.registerPublicRoutes(r)

	r.Route("/api/v1", func(api chi.Router) {
		api.Use(s.authMiddleware)
		s.registerV1Routes(api)
	})

	return r
}

func (s *Server) parsedTrustedProxies() []*net.IPNet {
	if len(s.cfg.TrustedProxies) == 0 {
		return nil
	}
	proxies, err := middleware.ParseCIDRs(s.cfg.TrustedProxies)
	if err != nil {
		logger := log.WithComponent("api")
		logger.Warn().Err(err).
			Str("event", "api.bad_trusted_proxies").
			Msg("invalid trusted proxies configuration, ignoring value")
		return nil
	}
	return proxies
}

func (s *Server) registerPublicRoutes(r chi.Router) {
	r.Get("/healthz", s.health.ServeHealth)
	r.Get("/readyz", s.health.ServeReady)
}

func (s *Server) registerV1Routes(r chi.Router) {
	r.Get("/health", s.handleHealth)
	r.Get("/activity", s.handleActivity)
	r.Get("/logs", s.handleLogs)
	r.Get("/status", s.handleStatus)

	r.Get("/settings", s.handleSettingsList)
	r.Put("/settings", s.handleSettingsUpdate)

	r.Route("/connectors", func(r chi.Router) {
		r.Get("/", s.handleConnectorList)
		r.Post("/", s.handleConnectorCreate)
		r.Post("/test", s.handleConnectorTest)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.handleConnectorGet)
			r.Put("/", s.handleConnectorUpdate)
			r.Delete("/", s.handleConnectorDelete)
			r.Post("/sweep", s.handleConnectorSweep)
			r.Post("/reconnect", s.handleConnectorReconnect)
			r.Post("/throttle/resume", s.handleThrottleResume)
			r.Get("/throttle", s.handleThrottleState)
			r.Get("/trend", s.handleConnectorTrend)
		})
	})

	r.Route("/registry", func(r chi.Router) {
		r.Get("/", s.handleRegistryList)
		r.Route("/{id}", func(r chi.Router) {
			r.Delete("/", s.handleRegistryDelete)
			r.Post("/clear", s.handleRegistryClear)
			r.Post("/exhaust", s.handleRegistryExhaust)
			r.Post("/priority", s.handleRegistryPriority)
		})
	})

	r.Route("/profiles", func(r chi.Router) {
		r.Get("/", s.handleProfileList)
		r.Post("/", s.handleProfileCreate)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.handleProfileGet)
			r.Put("/", s.handleProfileUpdate)
			r.Delete("/", s.handleProfileDelete)
		})
	})

	r.Route("/schedules", func(r chi.Router) {
		r.Get("/", s.handleScheduleList)
		r.Post("/", s.handleScheduleCreate)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.handleScheduleGet)
			r.Put("/", s.handleScheduleUpdate)
			r.Delete("/", s.handleScheduleDelete)
		})
	})
}

// refreshSchedules propagates a schedule mutation into the orchestrator.
// Failures are logged, never surfaced: the row is committed and the
// orchestrator catches up on its next refresh.
func (s *Server) refreshSchedules(ctx context.Context) {
	if s.scheduler == nil {
		return
	}
	if err := s.scheduler.Refresh(ctx); err != nil {
		logger := log.WithComponentFromContext(ctx, "api")
		logger.Warn().Err(err).
			Str("event", "api.schedule_refresh_failed").
			Msg("scheduler refresh after mutation failed")
	}
}
