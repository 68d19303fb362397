// Splitlab - Deterministic Experimentation and Impact Analysis Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/splitlab

package report

import (
	"context"
	"fmt"
	"time"

	"github.com/tomtom215/splitlab/internal/experiment"
	"github.com/tomtom215/splitlab/internal/logging"
	"github.com/tomtom215/splitlab/internal/store"
)

// Scheduler periodically generates reports for every active experiment and
// logs the recommendation. It is the operational heartbeat of a headless
// deployment: operators watch the log stream (or the generated-report
// metrics) instead of polling an API.
type Scheduler struct {
	generator   *Generator
	experiments store.Store
	interval    time.Duration
}

// NewScheduler creates a report scheduler.
func NewScheduler(generator *Generator, experiments store.Store, interval time.Duration) (*Scheduler, error) {
	if generator == nil {
		return nil, fmt.Errorf("report generator required")
	}
	if experiments == nil {
		return nil, fmt.Errorf("experiment store required")
	}
	if interval <= 0 {
		return nil, fmt.Errorf("interval must be positive")
	}
	return &Scheduler{generator: generator, experiments: experiments, interval: interval}, nil
}

// Serve runs the report loop until the context is canceled. Implements
// suture.Service.
func (s *Scheduler) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

// String names the service for supervisor logs.
func (s *Scheduler) String() string { return "report-scheduler" }

func (s *Scheduler) runOnce(ctx context.Context) {
	experiments, err := s.experiments.List(ctx)
	if err != nil {
		logging.Err(err).Msg("REPORT: Listing experiments failed")
		return
	}

	for _, exp := range experiments {
		if exp.Status != experiment.StatusActive {
			continue
		}

		r, err := s.generator.Generate(ctx, exp.ID, exp.StartAt, time.Time{})
		if err != nil {
			logging.Err(err).
				Str("experiment_id", exp.ID).
				Msg("REPORT: Generation failed")
			continue
		}

		logging.Info().
			Str("experiment_id", r.ExperimentID).
			Str("experiment_name", r.ExperimentName).
			Str("recommendation", string(r.Recommendation)).
			Str("reason", r.Reason).
			Msg("REPORT: Recommendation")
	}
}
