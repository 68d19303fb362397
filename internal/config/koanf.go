// Splitlab - Deterministic Experimentation and Impact Analysis Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/splitlab

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/tomtom215/splitlab/internal/ledger"
	"github.com/tomtom215/splitlab/internal/report"
	"github.com/tomtom215/splitlab/internal/stats"
)

// DefaultConfigPaths lists the paths where config files are searched in
// order of priority. The first file found wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/splitlab/config.yaml",
	"/etc/splitlab/config.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// defaultConfig returns the built-in defaults, applied first and overridden
// by config file and environment variables.
func defaultConfig() *Config {
	return &Config{
		Store: StoreConfig{
			Path:                 "/data/experiments",
			CacheRefreshInterval: 30 * time.Second,
		},
		Events: EventsConfig{
			Path: "/data/splitlab.duckdb",
		},
		Ledger: ledger.DefaultConfig(),
		Analysis: stats.Options{
			ConfidenceLevel: 0.95,
			TargetPower:     0.80,
			MinSampleSize:   30,
		},
		Impact: report.ImpactConfig{
			ValuePerConversion: 0,
			MonthlyUsers:       0,
		},
		Report: ReportConfig{
			Interval: time.Hour,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// Load loads configuration using Koanf v2 with layered sources:
//  1. Defaults: built-in values
//  2. Config file: optional YAML file (if present)
//  3. Environment variables: override any setting
func Load() (*Config, error) {
	k := koanf.New(".")

	defaults := defaultConfig()
	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	configPath := findConfigFile()
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// SPLITLAB_STORE_PATH -> store.path, SPLITLAB_LEDGER_QUEUE_SIZE ->
	// ledger.queue_size, and so on.
	envProvider := env.Provider("", ".", envTransformFunc)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile returns the first config file that exists, or "".
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// envTransformFunc maps environment variable names to koanf config paths.
// Only variables under the SPLITLAB_ prefix are considered; the section name
// is the first underscore-delimited token after the prefix.
//
// Examples:
//   - SPLITLAB_STORE_PATH -> store.path
//   - SPLITLAB_STORE_CACHE_REFRESH_INTERVAL -> store.cache_refresh_interval
//   - SPLITLAB_LEDGER_QUEUE_SIZE -> ledger.queue_size
//   - SPLITLAB_ANALYSIS_CONFIDENCE_LEVEL -> analysis.confidence_level
//   - SPLITLAB_LOGGING_LEVEL -> logging.level
func envTransformFunc(key string) string {
	key = strings.ToLower(key)
	const prefix = "splitlab_"
	if !strings.HasPrefix(key, prefix) {
		return ""
	}
	key = strings.TrimPrefix(key, prefix)

	section, rest, found := strings.Cut(key, "_")
	if !found {
		return section
	}
	switch section {
	case "store", "events", "ledger", "analysis", "impact", "report", "logging":
		return section + "." + rest
	default:
		return ""
	}
}
