// SPDX-License-Identifier: MIT

// Command comradarrd runs the Comradarr daemon: the management API, the
// sweep scheduler and the background maintenance jobs in a single process.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/comradarr/comradarr/internal/api"
	"github.com/comradarr/comradarr/internal/config"
	"github.com/comradarr/comradarr/internal/daemon"
	"github.com/comradarr/comradarr/internal/health"
	"github.com/comradarr/comradarr/internal/log"
	"github.com/comradarr/comradarr/internal/logstore"
	"github.com/comradarr/comradarr/internal/notify"
	"github.com/comradarr/comradarr/internal/reconnect"
	"github.com/comradarr/comradarr/internal/scheduler"
	"github.com/comradarr/comradarr/internal/secrets"
	"github.com/comradarr/comradarr/internal/settings"
	"github.com/comradarr/comradarr/internal/store"
	"github.com/comradarr/comradarr/internal/sweep"
	"github.com/comradarr/comradarr/internal/telemetry"
	"github.com/comradarr/comradarr/internal/throttle"
	"github.com/comradarr/comradarr/internal/version"
)

// Cadences and retention windows for the always-on maintenance jobs.
// Completion snapshots feed the 30-day trend endpoint; activity rows back
// the recent-activity view.
const (
	trackerInterval         = 30 * time.Second
	reconnectInterval       = 30 * time.Second
	snapshotInterval        = time.Hour
	pruneInterval           = 24 * time.Hour
	throttlePersistInterval = 5 * time.Second

	snapshotRetention = 30 * 24 * time.Hour
	activityRetention = 30 * 24 * time.Hour
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("comradarr %s (commit: %s, built: %s)\n", version.Version, version.Commit, version.Date)
		os.Exit(0)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The config resolves before the logger is pinned so level, format and
	// version from the file apply from the very first line.
	loader := config.NewLoader(*configPath, version.Version)
	cfg, err := loader.Load()
	if err != nil {
		log.Configure(log.Config{Service: "comradarr", Version: version.Version})
		logger := log.WithComponent("daemon")
		logger.Fatal().
			Err(err).
			Str("event", "config.load_failed").
			Str("config_path", *configPath).
			Msg("failed to load configuration")
	}

	log.Configure(log.Config{
		Level:   cfg.Log.Level,
		Format:  cfg.Log.Format,
		Service: "comradarr",
		Version: cfg.Version,
	})
	log.ResizeRecentLogs(cfg.Log.RingSize)
	logger := log.WithComponent("daemon")

	if *configPath != "" {
		logger.Info().
			Str("event", "config.loaded").
			Str("source", "file").
			Str("path", *configPath).
			Msg("loaded configuration from file")
	} else {
		logger.Info().
			Str("event", "config.loaded").
			Str("source", "env+defaults").
			Msg("loaded configuration from environment and defaults")
	}

	if err := health.PerformStartupChecks(cfg); err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "startup.check_failed").
			Msg("startup checks failed, verify configuration and permissions")
	}

	logger.Info().
		Str("event", "startup").
		Str("version", version.Version).
		Str("commit", version.Commit).
		Str("build_date", version.Date).
		Str("addr", cfg.Listen).
		Msg("starting comradarr")

	logger.Info().Msgf("→ Data dir: %s", cfg.DataDir)
	logger.Info().Msgf("→ Settings backend: %s", cfg.Settings.Backend)
	if cfg.APIKey != "" {
		logger.Info().Msg("→ API key: configured")
	} else {
		logger.Warn().
			Str("security", "weak").
			Msg("→ API key: NOT configured; protected endpoints refuse requests until one is set")
	}
	if cfg.MetricsListen != "" {
		logger.Info().Msgf("→ Metrics: %s", cfg.MetricsListen)
	} else {
		logger.Info().Msg("→ Metrics: disabled")
	}
	if cfg.Log.Persist {
		logger.Info().Msgf("→ Log store: %s (retention %s)", filepath.Join(cfg.DataDir, "logs"), cfg.Log.Retention)
	}
	if cfg.Telemetry.Enabled {
		logger.Info().Msgf("→ Tracing: %s via %s", cfg.Telemetry.Endpoint, cfg.Telemetry.Exporter)
	}

	// Tracing installs globally first so every component after it picks
	// spans up through the otel registry.
	provider, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    "comradarr",
		ServiceVersion: cfg.Version,
		ExporterType:   cfg.Telemetry.Exporter,
		Endpoint:       cfg.Telemetry.Endpoint,
		SamplingRate:   cfg.Telemetry.SampleRate,
	})
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "telemetry.init_failed").
			Msg("failed to initialise tracing")
	}

	st, err := store.Open(filepath.Join(cfg.DataDir, "comradarr.db"))
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "store.open_failed").
			Msg("failed to open database")
	}
	if _, err := st.EnsureDefaultProfile(ctx); err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "store.seed_failed").
			Msg("failed to seed default throttle profile")
	}

	var backend settings.Store
	switch cfg.Settings.Backend {
	case "redis":
		backend, err = settings.NewRedisStore(settings.RedisConfig{Addr: cfg.Settings.RedisAddr})
	default:
		backend, err = settings.NewSQLStore(st.DB())
	}
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "settings.open_failed").
			Str("backend", cfg.Settings.Backend).
			Msg("failed to open settings backend")
	}
	bridge := settings.NewBridge(backend)

	// An explicitly stored log level outlives restarts and wins over the
	// boot value. The compiled-in default must not stomp the file/env level,
	// so only a real row applies.
	if lvl, lvlErr := backend.Get(ctx, settings.KeyLogLevel); lvlErr == nil {
		if err := log.SetLevel(lvl); err != nil {
			logger.Warn().Str("level", lvl).Msg("ignoring invalid stored log level")
		}
	}

	cipher, err := secrets.Open(filepath.Join(cfg.DataDir, "secret.key"))
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "secrets.open_failed").
			Msg("failed to open secret key")
	}

	governor := throttle.New(nil, func() *time.Location {
		return bridge.Location(context.Background())
	})
	restoreThrottleState(ctx, logger, st, governor)

	sinks := []notify.Sink{notify.NewLogSink()}
	if cfg.Notify.WebhookURL != "" {
		sinks = append(sinks, notify.NewWebhookSink(cfg.Notify.WebhookURL, nil))
		logger.Info().Msgf("→ Webhook: %s", cfg.Notify.WebhookURL)
	}
	dispatcher := notify.New(notify.Options{
		BufferSize:      cfg.Notify.Buffer,
		EventsPerSecond: cfg.Notify.RatePerSec,
		Burst:           cfg.Notify.Burst,
	}, sinks...)

	clients := sweep.NewClients(cipher)
	runner := sweep.New(st, clients, governor, bridge, dispatcher, nil)
	tracker := sweep.NewTracker(st, clients, bridge, dispatcher, nil)
	supervisor := reconnect.New(st, clients.Prober(), dispatcher, nil)

	orch := scheduler.New(st, runner, nil)
	registerSystemJobs(orch, st, governor, supervisor, tracker, logger)

	// Log persistence is optional; when on, the zerolog stream feeds the
	// badger store through a batching writer.
	var logs *logstore.Store
	var logWriter *log.Writer
	if cfg.Log.Persist {
		logs, err = logstore.Open(filepath.Join(cfg.DataDir, "logs"), cfg.Log.Retention)
		if err != nil {
			logger.Fatal().
				Err(err).
				Str("event", "logstore.open_failed").
				Msg("failed to open log store")
		}
		logWriter = log.NewWriter(logs)
		logWriter.Start()
		log.SetPersistenceSink(logWriter)
		log.EnablePersistence(true)

		orch.RegisterSystem("log_prune", pruneInterval, func(ctx context.Context) error {
			return logs.Prune(ctx)
		})
	}

	hm := health.NewManager(cfg.Version)
	hm.RegisterChecker(health.NewStoreChecker(st))
	hm.RegisterChecker(health.NewConnectorsChecker(st))
	hm.RegisterChecker(health.NewRegistryChecker(st))
	hm.RegisterChecker(health.NewThrottleChecker(st))

	srv := api.New(api.Options{
		Config:      cfg,
		Store:       st,
		Bridge:      bridge,
		Cipher:      cipher,
		Governor:    governor,
		Supervisor:  supervisor,
		Runner:      runner,
		Scheduler:   orch,
		Health:      hm,
		Logs:        logs,
		BaseContext: context.WithoutCancel(ctx),
	})

	mgr, err := daemon.NewManager(cfg.Server, daemon.Deps{
		Logger:         logger,
		ListenAddr:     cfg.Listen,
		APIHandler:     srv.Router(),
		MetricsAddr:    cfg.MetricsListen,
		MetricsHandler: promhttp.Handler(),
	})
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "manager.creation_failed").
			Msg("failed to create daemon manager")
	}

	// Shutdown hooks run LIFO, so registration order is reverse teardown
	// order: the store closes last, after everything that still writes to it.
	mgr.RegisterShutdownHook("store", func(context.Context) error {
		return st.Close()
	})
	mgr.RegisterShutdownHook("telemetry", func(ctx context.Context) error {
		return provider.Shutdown(ctx)
	})
	mgr.RegisterShutdownHook("settings", func(context.Context) error {
		return bridge.Close()
	})
	if logs != nil {
		mgr.RegisterShutdownHook("logstore", func(context.Context) error {
			return logs.Close()
		})
		mgr.RegisterShutdownHook("logwriter", func(context.Context) error {
			log.EnablePersistence(false)
			logWriter.Close()
			return nil
		})
	}
	mgr.RegisterShutdownHook("throttle", func(ctx context.Context) error {
		persistThrottleState(ctx, st, governor)
		return nil
	})
	mgr.RegisterShutdownHook("notify", func(context.Context) error {
		dispatcher.Close()
		return nil
	})

	holder := config.NewHolder(cfg, loader, *configPath)
	reloads := make(chan config.AppConfig, 1)
	holder.RegisterListener(reloads)
	go func() {
		for next := range reloads {
			if err := log.SetLevel(next.Log.Level); err == nil {
				logger.Info().
					Str("event", "config.level_applied").
					Str("level", next.Log.Level).
					Msg("applied reloaded log level")
			}
			log.ResizeRecentLogs(next.Log.RingSize)
		}
	}()

	dispatcher.Publish(notify.AppStarted, map[string]any{
		"version": version.Version,
		"listen":  cfg.Listen,
	})

	app := daemon.NewApp(logger, mgr, holder, orch)
	if err := app.Run(ctx); err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "daemon.failed").
			Msg("daemon exited with error")
	}

	logger.Info().Msg("server exiting")
}

// restoreThrottleState seeds the governor from persisted window snapshots so
// budgets and live pauses survive a restart.
func restoreThrottleState(ctx context.Context, logger zerolog.Logger, st *store.Store, governor *throttle.Governor) {
	conns, err := st.ListConnectors(ctx)
	if err != nil {
		logger.Warn().
			Err(err).
			Str("event", "throttle.restore_failed").
			Msg("skipping throttle state restore")
		return
	}
	restored := 0
	for _, conn := range conns {
		snap, err := st.GetThrottleState(ctx, conn.ID)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			logger.Warn().
				Err(err).
				Int64("connector_id", conn.ID).
				Msg("failed to read persisted throttle state")
			continue
		}
		governor.Restore(snap)
		restored++
	}
	if restored > 0 {
		logger.Info().
			Int("connectors", restored).
			Str("event", "throttle.restored").
			Msg("restored persisted throttle state")
	}
}

// persistThrottleState writes one snapshot per tracked connector; the live
// process state stays authoritative, the rows only survive restarts.
func persistThrottleState(ctx context.Context, st *store.Store, governor *throttle.Governor) {
	logger := log.WithComponent("throttle")
	for _, snap := range governor.SnapshotAll() {
		if err := st.UpsertThrottleState(ctx, snap); err != nil {
			logger.Warn().
				Err(err).
				Int64("connector_id", snap.ConnectorID).
				Msg("failed to persist throttle state")
		}
	}
}

// registerSystemJobs wires the always-on maintenance ticks into the
// orchestrator alongside the user-defined sweep schedules.
func registerSystemJobs(orch *scheduler.Orchestrator, st *store.Store, governor *throttle.Governor, supervisor *reconnect.Supervisor, tracker *sweep.Tracker, logger zerolog.Logger) {
	orch.RegisterSystem("tracker", trackerInterval, tracker.Tick)
	orch.RegisterSystem("reconnect", reconnectInterval, supervisor.Tick)

	orch.RegisterSystem("snapshot_capture", snapshotInterval, func(ctx context.Context) error {
		conns, err := st.ListEnabledConnectors(ctx)
		if err != nil {
			return err
		}
		now := time.Now()
		for _, conn := range conns {
			if _, err := st.CaptureCompletionSnapshot(ctx, conn.ID, now); err != nil {
				logger.Warn().
					Err(err).
					Int64("connector_id", conn.ID).
					Msg("completion snapshot failed")
			}
		}
		return nil
	})

	orch.RegisterSystem("snapshot_prune", pruneInterval, func(ctx context.Context) error {
		_, err := st.PruneSnapshots(ctx, time.Now().Add(-snapshotRetention))
		return err
	})
	orch.RegisterSystem("activity_prune", pruneInterval, func(ctx context.Context) error {
		_, err := st.PruneSyncActivities(ctx, time.Now().Add(-activityRetention))
		return err
	})

	orch.RegisterSystem("throttle_persist", throttlePersistInterval, func(ctx context.Context) error {
		persistThrottleState(ctx, st, governor)
		return nil
	})
}
