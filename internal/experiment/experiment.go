// Splitlab - Deterministic Experimentation and Impact Analysis Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/splitlab

// Package experiment defines the experiment data model: experiments, variants,
// metric specifications, targeting rules, lifecycle statuses, and the
// validation and merge policies that operate on them.
package experiment

import (
	"time"
)

// Status is the lifecycle state of an experiment.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// Role distinguishes the baseline variant from the variants tested against it.
type Role string

const (
	RoleControl   Role = "control"
	RoleTreatment Role = "treatment"
)

// MetricKind selects the statistical treatment of a metric.
type MetricKind string

const (
	// MetricProportion is a conversion-style binary outcome (did/did not).
	MetricProportion MetricKind = "proportion"
	// MetricContinuous is a time/score-style numeric outcome.
	MetricContinuous MetricKind = "continuous"
)

// Direction declares which way an improvement moves the metric.
// For a completion-time metric a decrease is the positive outcome; the
// analyzer never infers this, the definition carries it.
type Direction string

const (
	DirectionIncrease Direction = "increase"
	DirectionDecrease Direction = "decrease"
)

// Variant is one arm of an experiment.
//
// The ordered list of variant identifiers within an experiment is stable for
// the lifetime of the experiment: reordering would change bucketing outcomes
// and is forbidden after activation.
type Variant struct {
	// ID is unique within the experiment.
	ID string `json:"id" koanf:"id" validate:"required"`

	// Role is control or treatment. At least one variant must be control.
	Role Role `json:"role" koanf:"role" validate:"required,oneof=control treatment"`

	// Allocation is this variant's relative share in (0,1]. Allocations
	// across all variants must sum to 1.0 within AllocationTolerance.
	Allocation float64 `json:"allocation" koanf:"allocation" validate:"gt=0,lte=1"`

	// Config is an opaque key/value override payload applied by the
	// consuming flow (see MergeConfig for the merge policy).
	Config map[string]any `json:"config,omitempty" koanf:"config"`
}

// MetricSpec defines an outcome metric tracked for an experiment.
type MetricSpec struct {
	Name      string     `json:"name" koanf:"name" validate:"required"`
	Kind      MetricKind `json:"kind" koanf:"kind" validate:"required,oneof=proportion continuous"`
	EventName string     `json:"event_name" koanf:"event_name" validate:"required"`

	// Direction defaults to increase when empty.
	Direction Direction `json:"direction,omitempty" koanf:"direction" validate:"omitempty,oneof=increase decrease"`

	// Primary marks the decision-driving metric. Exactly one metric per
	// experiment is primary; the rest are secondary.
	Primary bool `json:"primary" koanf:"primary"`

	// ValueKey names the event payload field holding the numeric value for
	// continuous metrics. Ignored for proportion metrics.
	ValueKey string `json:"value_key,omitempty" koanf:"value_key"`
}

// ImprovementDirection returns the declared direction, defaulting to increase.
func (m MetricSpec) ImprovementDirection() Direction {
	if m.Direction == DirectionDecrease {
		return DirectionDecrease
	}
	return DirectionIncrease
}

// TargetingWildcard in a filter list matches every context value.
const TargetingWildcard = "all"

// Targeting holds eligibility filters applied before bucketing.
// An empty filter list, or a list containing TargetingWildcard, is permissive.
type Targeting struct {
	Segments  []string `json:"segments,omitempty" koanf:"segments"`
	Platforms []string `json:"platforms,omitempty" koanf:"platforms"`
}

// Experiment is a validated experiment definition.
type Experiment struct {
	ID     string `json:"id" koanf:"id"`
	Name   string `json:"name" koanf:"name" validate:"required"`
	Status Status `json:"status" koanf:"status"`

	StartAt time.Time `json:"start_at,omitempty" koanf:"start_at"`
	EndAt   time.Time `json:"end_at,omitempty" koanf:"end_at"`

	// TrafficAllocation is the fraction of all eligible users who
	// participate at all, in (0,1].
	TrafficAllocation float64 `json:"traffic_allocation" koanf:"traffic_allocation"`

	// Variants in stable, bucketing-significant order.
	Variants []Variant `json:"variants" validate:"omitempty,dive"`

	Targeting Targeting    `json:"targeting,omitempty" koanf:"targeting"`
	Metrics   []MetricSpec `json:"metrics" validate:"omitempty,dive"`

	CreatedAt time.Time `json:"created_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// Variant returns the variant with the given id, or nil.
func (e *Experiment) Variant(id string) *Variant {
	for i := range e.Variants {
		if e.Variants[i].ID == id {
			return &e.Variants[i]
		}
	}
	return nil
}

// ControlVariant returns the first variant with the control role, or nil.
func (e *Experiment) ControlVariant() *Variant {
	for i := range e.Variants {
		if e.Variants[i].Role == RoleControl {
			return &e.Variants[i]
		}
	}
	return nil
}

// PrimaryMetric returns the primary metric spec, or nil.
func (e *Experiment) PrimaryMetric() *MetricSpec {
	for i := range e.Metrics {
		if e.Metrics[i].Primary {
			return &e.Metrics[i]
		}
	}
	return nil
}

// SecondaryMetrics returns all non-primary metric specs in definition order.
func (e *Experiment) SecondaryMetrics() []MetricSpec {
	var out []MetricSpec
	for _, m := range e.Metrics {
		if !m.Primary {
			out = append(out, m)
		}
	}
	return out
}

// IsActive reports whether assignments may be produced for this experiment.
func (e *Experiment) IsActive() bool {
	return e.Status == StatusActive
}

// allowedTransitions is the lifecycle transition table. Status changes are an
// explicit operator action, never a side effect of a store write.
var allowedTransitions = map[Status][]Status{
	StatusDraft:  {StatusActive, StatusCancelled},
	StatusActive: {StatusPaused, StatusCompleted, StatusCancelled},
	StatusPaused: {StatusActive, StatusCompleted, StatusCancelled},
	// Completed and cancelled are terminal.
}

// CanTransition reports whether the lifecycle permits moving from -> to.
func CanTransition(from, to Status) bool {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
