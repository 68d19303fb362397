// Splitlab - Deterministic Experimentation and Impact Analysis Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/splitlab

package store

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/tomtom215/splitlab/internal/experiment"
	"github.com/tomtom215/splitlab/internal/logging"
	"github.com/tomtom215/splitlab/internal/metrics"
)

// SnapshotCache holds a read-only in-memory snapshot of all experiment
// definitions, refreshed from the durable store on an interval or by
// explicit invalidation. Assignment lookups read the snapshot only; the
// database is never consulted synchronously per assignment.
//
// Reads are lock-free: the snapshot map is swapped atomically and never
// mutated after publication.
type SnapshotCache struct {
	source   Store
	interval time.Duration
	snapshot atomic.Value // map[string]*experiment.Experiment
}

// NewSnapshotCache creates a snapshot cache over the given store.
// The interval controls background refresh when run under Serve;
// zero disables periodic refresh (explicit Refresh only).
func NewSnapshotCache(source Store, interval time.Duration) *SnapshotCache {
	c := &SnapshotCache{source: source, interval: interval}
	c.snapshot.Store(map[string]*experiment.Experiment{})
	return c
}

// Lookup returns the cached experiment definition, or false when absent.
func (c *SnapshotCache) Lookup(id string) (*experiment.Experiment, bool) {
	snap := c.snapshot.Load().(map[string]*experiment.Experiment)
	exp, ok := snap[id]
	return exp, ok
}

// Len returns the number of experiments in the current snapshot.
func (c *SnapshotCache) Len() int {
	return len(c.snapshot.Load().(map[string]*experiment.Experiment))
}

// Refresh replaces the snapshot with the current store contents.
// Also serves as the explicit invalidation hook after authoring writes.
func (c *SnapshotCache) Refresh(ctx context.Context) error {
	experiments, err := c.source.List(ctx)
	if err != nil {
		return err
	}

	snap := make(map[string]*experiment.Experiment, len(experiments))
	for _, exp := range experiments {
		snap[exp.ID] = exp
	}
	c.snapshot.Store(snap)

	metrics.StoreCacheRefreshes.Inc()
	metrics.StoreCacheExperiments.Set(float64(len(snap)))
	return nil
}

// Serve runs the periodic refresh loop until the context is canceled.
// Implements suture.Service.
func (c *SnapshotCache) Serve(ctx context.Context) error {
	if err := c.Refresh(ctx); err != nil {
		return err
	}

	interval := c.interval
	if interval <= 0 {
		<-ctx.Done()
		return ctx.Err()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := c.Refresh(ctx); err != nil {
				logging.Err(err).Msg("CACHE: Snapshot refresh failed")
			}
		}
	}
}

// String names the service for supervisor logs.
func (c *SnapshotCache) String() string { return "experiment-snapshot-cache" }
