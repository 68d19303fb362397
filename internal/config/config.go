// Splitlab - Deterministic Experimentation and Impact Analysis Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/splitlab

// Package config loads and validates application configuration from layered
// sources: built-in defaults, an optional YAML file, and environment
// variables, in that precedence order (env wins).
//
// Config is immutable after Load and safe for concurrent reads.
package config

import (
	"fmt"
	"time"

	"github.com/tomtom215/splitlab/internal/ledger"
	"github.com/tomtom215/splitlab/internal/report"
	"github.com/tomtom215/splitlab/internal/stats"
	"github.com/tomtom215/splitlab/internal/validation"
)

// Config holds all application configuration.
type Config struct {
	Store    StoreConfig         `koanf:"store"`
	Events   EventsConfig        `koanf:"events"`
	Ledger   ledger.Config       `koanf:"ledger"`
	Analysis stats.Options       `koanf:"analysis"`
	Impact   report.ImpactConfig `koanf:"impact"`
	Report   ReportConfig        `koanf:"report"`
	Logging  LoggingConfig       `koanf:"logging"`
}

// ReportConfig configures the periodic report scheduler.
type ReportConfig struct {
	// Interval is the cadence at which reports are generated for every
	// active experiment.
	Interval time.Duration `koanf:"interval" validate:"gt=0"`
}

// StoreConfig configures the BadgerDB experiment definition store.
type StoreConfig struct {
	// Path is the BadgerDB directory for experiment definitions.
	Path string `koanf:"path" validate:"required"`

	// CacheRefreshInterval is the snapshot cache refresh cadence.
	CacheRefreshInterval time.Duration `koanf:"cache_refresh_interval" validate:"gt=0"`
}

// EventsConfig configures the DuckDB event database.
type EventsConfig struct {
	// Path is the DuckDB file holding experiment events. Empty opens an
	// in-memory database (data is lost on restart; tests only).
	Path string `koanf:"path"`
}

// LoggingConfig configures structured logging output.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"omitempty,oneof=trace debug info warn error fatal"`
	Format string `koanf:"format" validate:"omitempty,oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// Validate checks the loaded configuration and returns every violation.
func (c *Config) Validate() error {
	if err := validation.ValidateStruct(c); err != nil {
		return err
	}
	if c.Analysis.ConfidenceLevel <= 0.5 {
		return fmt.Errorf("analysis confidence level %v too low, want > 0.5", c.Analysis.ConfidenceLevel)
	}
	return nil
}
