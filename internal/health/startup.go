// SPDX-License-Identifier: MIT

package health

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/comradarr/comradarr/internal/config"
	"github.com/comradarr/comradarr/internal/log"
)

// PerformStartupChecks validates the environment before the daemon starts
// serving: data directory writable, listen addresses parseable. Failures
// here abort startup with an actionable message instead of a later crash.
func PerformStartupChecks(cfg config.AppConfig) error {
	logger := log.WithComponent("startup-check")
	logger.Info().Msg("running pre-flight startup checks")

	if err := checkDataDir(logger, cfg.DataDir); err != nil {
		return fmt.Errorf("data directory check failed: %w", err)
	}
	if err := checkListenAddr(logger, "api", cfg.Listen); err != nil {
		return err
	}
	if cfg.MetricsListen != "" {
		if err := checkListenAddr(logger, "metrics", cfg.MetricsListen); err != nil {
			return err
		}
	}
	if cfg.Log.Persist {
		logDir := filepath.Join(cfg.DataDir, "logs")
		if err := os.MkdirAll(logDir, 0o750); err != nil {
			return fmt.Errorf("failed to ensure log store directory %s: %w", logDir, err)
		}
		logger.Info().Str("path", logDir).Msg("✓ log store directory ready")
	}

	logger.Info().Msg("✓ all startup checks passed")
	return nil
}

// checkDataDir ensures the directory exists and is writable by creating and
// removing a probe file. Stat alone lies on read-only mounts.
func checkDataDir(logger zerolog.Logger, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			if mkErr := os.MkdirAll(path, 0o750); mkErr != nil {
				return fmt.Errorf("cannot create data directory %s: %w", path, mkErr)
			}
			logger.Info().Str("path", path).Msg("✓ data directory created")
		} else {
			return err
		}
	} else if !info.IsDir() {
		return fmt.Errorf("path is not a directory: %s", path)
	}

	probe := filepath.Join(path, ".write_test")
	if err := os.WriteFile(probe, []byte("ok"), 0o600); err != nil {
		return fmt.Errorf("data directory is not writable: %s (%v)", path, err)
	}
	_ = os.Remove(probe)

	logger.Info().Str("path", path).Msg("✓ data directory is writable")
	return nil
}

func checkListenAddr(logger zerolog.Logger, name, addr string) error {
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid %s listen address %q: %w", name, addr, err)
	}
	if n, err := strconv.Atoi(port); err != nil || n < 0 || n > 65535 {
		return fmt.Errorf("invalid %s listen port %q in %q", name, port, addr)
	}
	logger.Info().Str("addr", addr).Msgf("✓ %s listen address is valid", name)
	return nil
}
