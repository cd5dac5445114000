// SPDX-License-Identifier: MIT

package daemon

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/comradarr/comradarr/internal/config"
	"github.com/comradarr/comradarr/internal/scheduler"
)

// App owns the long-lived runtime pieces (config watcher, reload signal,
// sweep scheduler) and delegates server management to Manager.
type App struct {
	logger       zerolog.Logger
	manager      Manager
	holder       *config.Holder
	orchestrator *scheduler.Orchestrator
	reloadSignal os.Signal
}

// NewApp wires an App. holder and orchestrator may be nil when the caller
// runs without hot reload or scheduling.
func NewApp(logger zerolog.Logger, manager Manager, holder *config.Holder, orch *scheduler.Orchestrator) *App {
	return &App{
		logger:       logger,
		manager:      manager,
		holder:       holder,
		orchestrator: orch,
		reloadSignal: syscall.SIGHUP,
	}
}

// Run starts the owned subsystems and blocks until ctx is cancelled or a
// fatal error occurs.
func (a *App) Run(ctx context.Context) error {
	if a.manager == nil {
		return ErrMissingManager
	}

	g, ctx := errgroup.WithContext(ctx)

	// Config watcher is best-effort: startup must not fail on watch errors.
	if a.holder != nil {
		if err := a.holder.StartWatcher(ctx); err != nil {
			a.logger.Warn().Err(err).Str("event", "config.watcher_start_failed").Msg("failed to start config watcher")
		}
	}

	// SIGHUP triggers a manual reload.
	if a.holder != nil && a.reloadSignal != nil {
		g.Go(func() error {
			hup := make(chan os.Signal, 1)
			signal.Notify(hup, a.reloadSignal)
			defer signal.Stop(hup)

			for {
				select {
				case <-ctx.Done():
					return nil
				case <-hup:
					a.logger.Info().
						Str("event", "config.reload_signal").
						Str("signal", a.reloadSignal.String()).
						Msg("received reload signal, reloading config")
					if err := a.holder.Reload(context.Background()); err != nil {
						a.logger.Warn().Err(err).Str("event", "config.reload_failed").Msg("config reload failed")
					}
				}
			}
		})
	}

	// Sweep scheduler. Stopping goes through a shutdown hook so in-flight
	// sweeps drain after the listeners stop, not concurrently with them.
	if a.orchestrator != nil {
		if err := a.orchestrator.Start(ctx); err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
		a.manager.RegisterShutdownHook("scheduler", func(context.Context) error {
			a.orchestrator.Stop()
			return nil
		})
	}

	// Server lifecycle.
	g.Go(func() error {
		err := a.manager.Start(ctx)
		if err != nil {
			_ = a.manager.Shutdown(context.Background())
		}
		return err
	})

	return g.Wait()
}
