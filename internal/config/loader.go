// SPDX-License-Identifier: MIT

package config

import (
	"fmt"
	"path/filepath"
)

// Loader resolves the configuration with precedence ENV > file > defaults.
type Loader struct {
	configPath string
	version    string
}

// NewLoader returns a loader. An empty configPath means env-only.
func NewLoader(configPath, version string) *Loader {
	return &Loader{configPath: configPath, version: version}
}

// Load builds and validates the effective configuration. The order is fixed:
// defaults, strict file parse, env overrides, then validation of the final
// shape. A failure at any stage returns without side effects.
func (l *Loader) Load() (AppConfig, error) {
	cfg := Defaults()

	if l.configPath != "" {
		fileCfg, err := loadFile(l.configPath)
		if err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
		mergeFile(&cfg, fileCfg)
	}

	mergeEnv(&cfg)
	cfg.Version = l.version

	// Relative data dirs resolve against the working directory once, here,
	// so every consumer sees the same absolute path.
	if abs, err := filepath.Abs(cfg.DataDir); err == nil {
		cfg.DataDir = abs
	}

	if err := Validate(cfg); err != nil {
		return cfg, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}
