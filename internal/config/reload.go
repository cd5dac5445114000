// SPDX-License-Identifier: MIT

package config

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/comradarr/comradarr/internal/log"
)

// reloadDebounce coalesces the burst of fsnotify events editors emit when
// saving a file.
const reloadDebounce = 500 * time.Millisecond

// Holder keeps the current configuration and swaps it atomically on reload.
// A reload that fails to load or validate leaves the running config in place.
type Holder struct {
	mu         sync.RWMutex
	current    AppConfig
	loader     *Loader
	configPath string
	watcher    *fsnotify.Watcher
	logger     zerolog.Logger

	listenerMu sync.RWMutex
	listeners  []chan<- AppConfig
}

// NewHolder wraps an initial configuration for hot reload.
func NewHolder(initial AppConfig, loader *Loader, configPath string) *Holder {
	return &Holder{
		current:    initial,
		loader:     loader,
		configPath: configPath,
		logger:     log.WithComponent("config"),
	}
}

// Get returns the current configuration.
func (h *Holder) Get() AppConfig {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.current
}

// Reload re-runs the loader and swaps in the result. Validation failures
// keep the old configuration and return the error.
func (h *Holder) Reload(_ context.Context) error {
	newCfg, err := h.loader.Load()
	if err != nil {
		h.logger.Error().Err(err).Str("event", "config.reload_failed").Msg("reload rejected, keeping running config")
		return fmt.Errorf("reload config: %w", err)
	}

	h.mu.Lock()
	oldCfg := h.current
	h.current = newCfg
	h.mu.Unlock()

	h.notifyListeners(newCfg)
	h.logChanges(oldCfg, newCfg)
	h.logger.Info().Str("event", "config.reloaded").Msg("configuration reloaded")
	return nil
}

// StartWatcher begins watching the config file. A holder without a file path
// (env-only configuration) is a no-op.
func (h *Holder) StartWatcher(ctx context.Context) error {
	if h.configPath == "" {
		h.logger.Info().Str("event", "config.watcher_disabled").Msg("no config file, watcher disabled")
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(h.configPath); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch config file: %w", err)
	}
	h.watcher = watcher

	h.logger.Info().
		Str("event", "config.watcher_started").
		Str("path", h.configPath).
		Msg("watching config file")
	go h.watchLoop(ctx)
	return nil
}

func (h *Holder) watchLoop(ctx context.Context) {
	var debounce *time.Timer
	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			_ = h.watcher.Close()
			h.logger.Info().Str("event", "config.watcher_stopped").Msg("config watcher stopped")
			return

		case event, ok := <-h.watcher.Events:
			if !ok {
				return
			}
			// Write and Create cover every editor save strategy.
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(reloadDebounce, func() {
				if err := h.Reload(ctx); err != nil {
					h.logger.Error().Err(err).Str("event", "config.auto_reload_failed").Msg("automatic reload failed")
				}
			})

		case err, ok := <-h.watcher.Errors:
			if !ok {
				return
			}
			h.logger.Error().Err(err).Str("event", "config.watcher_error").Msg("config watcher error")
		}
	}
}

// Stop closes the watcher if one is running.
func (h *Holder) Stop() {
	if h.watcher != nil {
		_ = h.watcher.Close()
	}
}

// RegisterListener subscribes a channel to successful reloads. Sends are
// non-blocking; a full channel misses that update.
func (h *Holder) RegisterListener(ch chan<- AppConfig) {
	h.listenerMu.Lock()
	defer h.listenerMu.Unlock()
	h.listeners = append(h.listeners, ch)
}

func (h *Holder) notifyListeners(cfg AppConfig) {
	h.listenerMu.RLock()
	defer h.listenerMu.RUnlock()
	for _, ch := range h.listeners {
		select {
		case ch <- cfg:
		default:
			h.logger.Warn().Str("event", "config.listener_skipped").Msg("listener channel full, update skipped")
		}
	}
}

// logChanges reports reloadable differences. Fields that need a restart to
// take effect are called out so the operator is not left guessing.
func (h *Holder) logChanges(old, cur AppConfig) {
	if old.Log.Level != cur.Log.Level {
		h.logger.Info().Str("old", old.Log.Level).Str("new", cur.Log.Level).Msg("config changed: log.level")
	}
	if old.Log.Persist != cur.Log.Persist {
		h.logger.Info().Bool("old", old.Log.Persist).Bool("new", cur.Log.Persist).Msg("config changed: log.persist (restart required)")
	}
	if old.Notify.WebhookURL != cur.Notify.WebhookURL {
		h.logger.Info().Msg("config changed: notify.webhook_url")
	}
	if old.Listen != cur.Listen {
		h.logger.Warn().Str("old", old.Listen).Str("new", cur.Listen).Msg("config changed: listen (restart required)")
	}
	if old.DataDir != cur.DataDir {
		h.logger.Warn().Msg("config changed: data_dir (restart required)")
	}
}
