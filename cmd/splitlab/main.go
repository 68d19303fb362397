// Splitlab - Deterministic Experimentation and Impact Analysis Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/splitlab

// Package main is the entry point for the Splitlab experimentation engine.
//
// Splitlab deterministically assigns users to experiment variants, records
// exposure and outcome events, and turns them into statistically grounded
// ship/hold decisions.
//
// # Application Architecture
//
// The process initializes components in the following order:
//
//  1. Configuration: Koanf v2 layered loading (defaults, YAML file, env vars)
//  2. Definition store: BadgerDB for experiment definitions and lifecycle
//  3. Snapshot cache: in-memory read view refreshed on an interval
//  4. Event store: DuckDB for exposure and outcome events
//  5. Ledger: bounded non-blocking queue with a background batch writer
//  6. Report scheduler: periodic recommendations for active experiments
//  7. Supervisor tree: suture-managed background services
//
// The assignment engine itself is a library surface: the external transport
// layer embeds it and calls Assign directly. This process runs the ingest
// and analysis side.
//
// # Configuration
//
// All settings live under the SPLITLAB_ environment prefix or a config.yaml
// file; see internal/config for the full surface. Examples:
//
//	export SPLITLAB_STORE_PATH=/data/experiments
//	export SPLITLAB_EVENTS_PATH=/data/splitlab.duckdb
//	export SPLITLAB_LOGGING_LEVEL=debug
//	./splitlab
//
// # Signal Handling
//
// SIGINT and SIGTERM trigger graceful shutdown: the ledger drains and
// flushes its queue, then the databases close.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/dgraph-io/badger/v4"

	"github.com/tomtom215/splitlab/internal/config"
	"github.com/tomtom215/splitlab/internal/experiment"
	"github.com/tomtom215/splitlab/internal/ledger"
	"github.com/tomtom215/splitlab/internal/logging"
	"github.com/tomtom215/splitlab/internal/report"
	"github.com/tomtom215/splitlab/internal/store"
	"github.com/tomtom215/splitlab/internal/supervisor"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// Default logger; config is not available yet.
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("store_path", cfg.Store.Path).
		Str("events_path", cfg.Events.Path).
		Msg("Starting Splitlab")

	clock := experiment.SystemClock{}

	// Definition store (BadgerDB).
	db, err := badger.Open(badger.DefaultOptions(cfg.Store.Path).WithLogger(nil))
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open experiment store")
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing experiment store")
		}
	}()

	experiments, err := store.NewBadgerStore(db, clock)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize experiment store")
	}
	cache := store.NewSnapshotCache(experiments, cfg.Store.CacheRefreshInterval)

	// Event store (DuckDB).
	events, err := ledger.OpenEventStore(cfg.Events.Path)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open event store")
	}
	defer func() {
		if err := events.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing event store")
		}
	}()

	eventLedger, err := ledger.New(events, cfg.Ledger, clock)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize ledger")
	}

	generator, err := report.NewGenerator(experiments, events, cfg.Analysis, cfg.Impact, clock)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize report generator")
	}
	scheduler, err := report.NewScheduler(generator, experiments, cfg.Report.Interval)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize report scheduler")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Bridge zerolog to slog for sutureslog.
	tree, err := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create supervisor tree")
	}
	tree.AddIngestService(eventLedger)
	tree.AddCatalogService(cache)
	tree.AddCatalogService(scheduler)

	errCh := tree.ServeBackground(ctx)
	logging.Info().Msg("Splitlab started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logging.Info().Str("signal", sig.String()).Msg("Shutting down")
		cancel()
		<-errCh
	case err := <-errCh:
		if err != nil && ctx.Err() == nil {
			logging.Error().Err(err).Msg("Supervisor tree stopped unexpectedly")
		}
	}

	stats := eventLedger.Stats()
	logging.Info().
		Uint64("events_written", stats.Written).
		Uint64("events_dropped", stats.Dropped).
		Msg("Splitlab stopped")
}
