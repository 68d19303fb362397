// Splitlab - Deterministic Experimentation and Impact Analysis Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/splitlab

// Package assignment deterministically buckets users into experiment
// variants. The same (user, experiment) pair always resolves to the same
// variant with no stored state: assignment is a pure function of the
// experiment definition and two hashes.
package assignment

import (
	"context"
	"fmt"
	"time"

	"github.com/tomtom215/splitlab/internal/experiment"
	"github.com/tomtom215/splitlab/internal/logging"
	"github.com/tomtom215/splitlab/internal/metrics"
	"github.com/tomtom215/splitlab/internal/store"
)

// Assignment is the outcome of bucketing a user into a variant.
type Assignment struct {
	UserID       string         `json:"user_id"`
	ExperimentID string         `json:"experiment_id"`
	VariantID    string         `json:"variant_id"`
	Config       map[string]any `json:"config,omitempty"`
	AssignedAt   time.Time      `json:"assigned_at"`
}

// ExposureSink receives best-effort exposure records for produced
// assignments. Sink failures never fail the assignment.
type ExposureSink interface {
	RecordExposure(ctx context.Context, a *Assignment) error
}

// Engine evaluates assignments against the experiment snapshot.
type Engine struct {
	experiments store.Reader
	exposures   ExposureSink
	clock       experiment.Clock
}

// NewEngine creates an assignment engine reading definitions from the given
// snapshot. The exposure sink may be nil, in which case no exposure events
// are recorded.
func NewEngine(experiments store.Reader, exposures ExposureSink, clock experiment.Clock) (*Engine, error) {
	if experiments == nil {
		return nil, fmt.Errorf("experiment reader required")
	}
	if clock == nil {
		clock = experiment.SystemClock{}
	}
	return &Engine{experiments: experiments, exposures: exposures, clock: clock}, nil
}

// Assign resolves the user's variant for the experiment.
//
// A (nil, nil) return means the user is excluded: the experiment is unknown,
// not active, the user is outside the traffic allocation, or targeting rules
// do not match. Exclusion is a normal outcome, not an error. Variants carry
// no per-user state, so repeated calls are idempotent.
func (e *Engine) Assign(ctx context.Context, userID, experimentID string, evalCtx *Context) (*Assignment, error) {
	start := time.Now()

	if userID == "" {
		return nil, fmt.Errorf("user id required")
	}
	if experimentID == "" {
		return nil, fmt.Errorf("experiment id required")
	}

	exp, ok := e.experiments.Lookup(experimentID)
	if !ok {
		metrics.RecordAssignment("not_found", time.Since(start))
		return nil, nil
	}
	if !exp.IsActive() {
		metrics.RecordAssignment("inactive", time.Since(start))
		return nil, nil
	}

	if trafficFraction(userID) >= exp.TrafficAllocation {
		metrics.RecordAssignment("traffic_excluded", time.Since(start))
		return nil, nil
	}

	if !eligible(exp.Targeting, evalCtx) {
		metrics.RecordAssignment("target_excluded", time.Since(start))
		return nil, nil
	}

	bucket := bucketOf(userID, exp.ID)
	boundaries := variantBoundaries(exp.Variants)
	variant := variantFor(exp.Variants, boundaries, bucket)

	a := &Assignment{
		UserID:       userID,
		ExperimentID: exp.ID,
		VariantID:    variant.ID,
		Config:       variant.Config,
		AssignedAt:   e.clock.Now(),
	}

	metrics.RecordAssignment("assigned", time.Since(start))
	metrics.VariantAssignments.WithLabelValues(exp.ID, variant.ID).Inc()

	if e.exposures != nil {
		if err := e.exposures.RecordExposure(ctx, a); err != nil {
			logging.Warn().
				Err(err).
				Str("experiment_id", exp.ID).
				Str("variant_id", variant.ID).
				Msg("ASSIGN: Exposure record dropped")
		}
	}

	return a, nil
}
