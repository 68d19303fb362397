// Splitlab - Deterministic Experimentation and Impact Analysis Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/splitlab

// Package store persists validated experiment definitions and their lifecycle
// status. BadgerDB provides the durable layer; a refreshable in-memory
// snapshot keeps the assignment hot path off the database entirely.
package store

import (
	"context"
	"errors"

	"github.com/tomtom215/splitlab/internal/experiment"
)

// ErrNotFound is returned when an experiment id has no definition.
// The assignment path treats this as a normal null outcome, never a failure.
var ErrNotFound = errors.New("experiment not found")

// Store is the durable experiment definition store.
type Store interface {
	// Put validates and persists an experiment definition. New experiments
	// are created in draft status; writes to an existing experiment never
	// change its status (use SetStatus for lifecycle transitions). Returns
	// *experiment.ValidationError listing every violated rule.
	Put(ctx context.Context, exp *experiment.Experiment) error

	// Get returns the experiment with the given id, or ErrNotFound.
	Get(ctx context.Context, id string) (*experiment.Experiment, error)

	// List returns all stored experiments.
	List(ctx context.Context) ([]*experiment.Experiment, error)

	// SetStatus performs an explicit lifecycle transition. Transitions not
	// permitted by the lifecycle table fail with a validation error.
	SetStatus(ctx context.Context, id string, status experiment.Status) error
}

// Reader is the read-only view the assignment engine consumes. Implemented
// by SnapshotCache; lookups never touch durable storage synchronously.
type Reader interface {
	// Lookup returns the experiment definition, or false when absent.
	Lookup(id string) (*experiment.Experiment, bool)
}
