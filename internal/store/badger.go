// Splitlab - Deterministic Experimentation and Impact Analysis Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/splitlab

package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/tomtom215/splitlab/internal/experiment"
)

// experimentKeyPrefix namespaces experiment definitions in BadgerDB.
const experimentKeyPrefix = "experiment:"

// BadgerStore implements Store using BadgerDB for durable storage.
type BadgerStore struct {
	db    *badger.DB
	clock experiment.Clock
}

// NewBadgerStore creates a BadgerDB-backed experiment store.
func NewBadgerStore(db *badger.DB, clock experiment.Clock) (*BadgerStore, error) {
	if db == nil {
		return nil, fmt.Errorf("badger database required")
	}
	if clock == nil {
		clock = experiment.SystemClock{}
	}
	return &BadgerStore{db: db, clock: clock}, nil
}

// Put validates and persists an experiment definition.
//
// New experiments are assigned an id if empty and created in draft status.
// For existing experiments the stored status is preserved (lifecycle moves
// only through SetStatus), and once an experiment has left draft its variant
// order is frozen: reordering would silently rebucket users.
func (s *BadgerStore) Put(ctx context.Context, exp *experiment.Experiment) error {
	if exp == nil {
		return fmt.Errorf("experiment required")
	}

	if exp.ID == "" {
		exp.ID = uuid.New().String()
	}

	existing, err := s.Get(ctx, exp.ID)
	switch {
	case errors.Is(err, ErrNotFound):
		exp.Status = experiment.StatusDraft
		exp.CreatedAt = s.clock.Now()
	case err != nil:
		return err
	default:
		exp.Status = existing.Status
		exp.CreatedAt = existing.CreatedAt
		if existing.Status != experiment.StatusDraft && !sameVariantOrder(existing, exp) {
			return &experiment.ValidationError{Violations: []string{
				"variant order may not change after activation",
			}}
		}
	}
	exp.UpdatedAt = s.clock.Now()

	if err := experiment.Validate(exp); err != nil {
		return err
	}

	data, err := json.Marshal(exp)
	if err != nil {
		return fmt.Errorf("marshal experiment: %w", err)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(experimentKeyPrefix+exp.ID), data)
	})
}

// Get returns the experiment with the given id, or ErrNotFound.
func (s *BadgerStore) Get(_ context.Context, id string) (*experiment.Experiment, error) {
	var exp experiment.Experiment

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(experimentKeyPrefix + id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get experiment: %w", err)
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &exp)
		})
	})
	if err != nil {
		return nil, err
	}

	return &exp, nil
}

// List returns all stored experiments.
func (s *BadgerStore) List(_ context.Context) ([]*experiment.Experiment, error) {
	var experiments []*experiment.Experiment

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(experimentKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var exp experiment.Experiment
				if err := json.Unmarshal(val, &exp); err != nil {
					return fmt.Errorf("unmarshal experiment: %w", err)
				}
				experiments = append(experiments, &exp)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return experiments, nil
}

// SetStatus performs an explicit lifecycle transition.
func (s *BadgerStore) SetStatus(ctx context.Context, id string, status experiment.Status) error {
	exp, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	if !experiment.CanTransition(exp.Status, status) {
		return &experiment.ValidationError{Violations: []string{
			fmt.Sprintf("illegal status transition %s -> %s", exp.Status, status),
		}}
	}

	exp.Status = status
	exp.UpdatedAt = s.clock.Now()

	data, err := json.Marshal(exp)
	if err != nil {
		return fmt.Errorf("marshal experiment: %w", err)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(experimentKeyPrefix+id), data)
	})
}

// sameVariantOrder reports whether both definitions carry the same variant
// identifier sequence.
func sameVariantOrder(a, b *experiment.Experiment) bool {
	if len(a.Variants) != len(b.Variants) {
		return false
	}
	for i := range a.Variants {
		if a.Variants[i].ID != b.Variants[i].ID {
			return false
		}
	}
	return true
}
