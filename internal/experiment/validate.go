// Splitlab - Deterministic Experimentation and Impact Analysis Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/splitlab

package experiment

import (
	"fmt"
	"math"
	"strings"

	"github.com/tomtom215/splitlab/internal/validation"
)

// AllocationTolerance is the permitted deviation of the variant allocation
// sum from 1.0.
const AllocationTolerance = 0.01

// ValidationError reports every invariant an experiment definition violates,
// not just the first. Authoring callers surface the full list in one pass.
type ValidationError struct {
	Violations []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if len(e.Violations) == 0 {
		return "experiment validation failed"
	}
	return "experiment validation failed: " + strings.Join(e.Violations, "; ")
}

// Validate checks every definition invariant and returns a *ValidationError
// listing all violations, or nil when the definition is valid.
//
// Rules:
//   - name, variants, and metrics are required
//   - variant allocations sum to 1.0 within AllocationTolerance
//   - at least one variant has the control role
//   - variant identifiers are unique within the experiment
//   - traffic allocation lies in (0, 1]
//   - exactly one metric is primary
func Validate(e *Experiment) error {
	var violations []string

	// Field-level rules via the shared validator (required, oneof, ranges).
	if serr := validation.ValidateStruct(e); serr != nil {
		violations = append(violations, serr.Messages()...)
	}

	if len(e.Variants) == 0 {
		violations = append(violations, "at least one variant is required")
	} else {
		var sum float64
		control := false
		seen := make(map[string]bool, len(e.Variants))
		for _, v := range e.Variants {
			sum += v.Allocation
			if v.Role == RoleControl {
				control = true
			}
			if v.ID != "" && seen[v.ID] {
				violations = append(violations, fmt.Sprintf("duplicate variant id %q", v.ID))
			}
			seen[v.ID] = true
		}
		if math.Abs(sum-1.0) > AllocationTolerance {
			violations = append(violations,
				fmt.Sprintf("variant allocations sum to %.4f, must be 1.0 within %.2f", sum, AllocationTolerance))
		}
		if !control {
			violations = append(violations, "at least one variant must have role control")
		}
	}

	if e.TrafficAllocation <= 0 || e.TrafficAllocation > 1 {
		violations = append(violations,
			fmt.Sprintf("traffic allocation %.4f must be in (0, 1]", e.TrafficAllocation))
	}

	if len(e.Metrics) == 0 {
		violations = append(violations, "at least one metric is required")
	} else {
		primaries := 0
		for _, m := range e.Metrics {
			if m.Primary {
				primaries++
			}
		}
		if primaries != 1 {
			violations = append(violations,
				fmt.Sprintf("exactly one primary metric is required, found %d", primaries))
		}
	}

	if !e.EndAt.IsZero() && !e.StartAt.IsZero() && e.EndAt.Before(e.StartAt) {
		violations = append(violations, "end time must not precede start time")
	}

	if len(violations) > 0 {
		return &ValidationError{Violations: violations}
	}
	return nil
}
