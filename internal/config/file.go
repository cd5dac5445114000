// SPDX-License-Identifier: MIT

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration accepts Go duration strings ("90s", "168h") in YAML.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// FileConfig mirrors the YAML document. Pointer fields distinguish "absent"
// from zero so the file only overrides what it actually sets.
type FileConfig struct {
	DataDir        *string  `yaml:"data_dir"`
	Listen         *string  `yaml:"listen"`
	MetricsListen  *string  `yaml:"metrics_listen"`
	APIKey         *string  `yaml:"api_key"`
	TrustedProxies []string `yaml:"trusted_proxies"`
	RateLimitRPS   *int     `yaml:"rate_limit_rps"`

	Server *struct {
		ReadTimeout     *Duration `yaml:"read_timeout"`
		WriteTimeout    *Duration `yaml:"write_timeout"`
		IdleTimeout     *Duration `yaml:"idle_timeout"`
		MaxHeaderBytes  *int      `yaml:"max_header_bytes"`
		ShutdownTimeout *Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`

	Log *struct {
		Level     *string   `yaml:"level"`
		Format    *string   `yaml:"format"`
		Persist   *bool     `yaml:"persist"`
		Retention *Duration `yaml:"retention"`
		RingSize  *int      `yaml:"ring_size"`
	} `yaml:"log"`

	Settings *struct {
		Backend   *string `yaml:"backend"`
		RedisAddr *string `yaml:"redis_addr"`
	} `yaml:"settings"`

	Telemetry *struct {
		Enabled    *bool    `yaml:"enabled"`
		Endpoint   *string  `yaml:"endpoint"`
		Exporter   *string  `yaml:"exporter"`
		SampleRate *float64 `yaml:"sample_rate"`
	} `yaml:"telemetry"`

	Notify *struct {
		Buffer     *int     `yaml:"buffer"`
		RatePerSec *float64 `yaml:"rate_per_sec"`
		Burst      *int     `yaml:"burst"`
		WebhookURL *string  `yaml:"webhook_url"`
	} `yaml:"notify"`
}

// loadFile parses a YAML config file strictly: unknown fields, multiple
// documents and trailing content are rejected rather than silently ignored.
func loadFile(path string) (*FileConfig, error) {
	path = filepath.Clean(path)
	if ext := strings.ToLower(filepath.Ext(path)); ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("unsupported config format %q (only YAML supported)", ext)
	}

	// #nosec G304 -- config file paths are provided by the operator via flag/env
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	var fileCfg FileConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&fileCfg); err != nil {
		if errors.Is(err, io.EOF) {
			return &FileConfig{}, nil
		}
		return nil, fmt.Errorf("strict config parse: %w", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config file contains multiple documents or trailing content")
	}
	return &fileCfg, nil
}

// mergeFile applies every field the file set onto cfg.
func mergeFile(cfg *AppConfig, f *FileConfig) {
	setString(&cfg.DataDir, f.DataDir)
	setString(&cfg.Listen, f.Listen)
	setString(&cfg.MetricsListen, f.MetricsListen)
	setString(&cfg.APIKey, f.APIKey)
	if f.TrustedProxies != nil {
		cfg.TrustedProxies = f.TrustedProxies
	}
	setInt(&cfg.RateLimitRPS, f.RateLimitRPS)

	if f.Server != nil {
		setDuration(&cfg.Server.ReadTimeout, f.Server.ReadTimeout)
		setDuration(&cfg.Server.WriteTimeout, f.Server.WriteTimeout)
		setDuration(&cfg.Server.IdleTimeout, f.Server.IdleTimeout)
		setInt(&cfg.Server.MaxHeaderBytes, f.Server.MaxHeaderBytes)
		setDuration(&cfg.Server.ShutdownTimeout, f.Server.ShutdownTimeout)
	}
	if f.Log != nil {
		setString(&cfg.Log.Level, f.Log.Level)
		setString(&cfg.Log.Format, f.Log.Format)
		setBool(&cfg.Log.Persist, f.Log.Persist)
		setDuration(&cfg.Log.Retention, f.Log.Retention)
		setInt(&cfg.Log.RingSize, f.Log.RingSize)
	}
	if f.Settings != nil {
		setString(&cfg.Settings.Backend, f.Settings.Backend)
		setString(&cfg.Settings.RedisAddr, f.Settings.RedisAddr)
	}
	if f.Telemetry != nil {
		setBool(&cfg.Telemetry.Enabled, f.Telemetry.Enabled)
		setString(&cfg.Telemetry.Endpoint, f.Telemetry.Endpoint)
		setString(&cfg.Telemetry.Exporter, f.Telemetry.Exporter)
		if f.Telemetry.SampleRate != nil {
			cfg.Telemetry.SampleRate = *f.Telemetry.SampleRate
		}
	}
	if f.Notify != nil {
		setInt(&cfg.Notify.Buffer, f.Notify.Buffer)
		if f.Notify.RatePerSec != nil {
			cfg.Notify.RatePerSec = *f.Notify.RatePerSec
		}
		setInt(&cfg.Notify.Burst, f.Notify.Burst)
		setString(&cfg.Notify.WebhookURL, f.Notify.WebhookURL)
	}
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}

func setInt(dst *int, src *int) {
	if src != nil {
		*dst = *src
	}
}

func setBool(dst *bool, src *bool) {
	if src != nil {
		*dst = *src
	}
}

func setDuration(dst *time.Duration, src *Duration) {
	if src != nil {
		*dst = time.Duration(*src)
	}
}
