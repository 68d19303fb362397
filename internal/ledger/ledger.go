// Splitlab - Deterministic Experimentation and Impact Analysis Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/splitlab

// Package ledger ingests experiment events through a bounded in-memory queue
// and persists them in batches to DuckDB. Recording never blocks the caller:
// when the queue is full the event is dropped, counted, and reported to the
// caller as ErrQueueFull.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/splitlab/internal/assignment"
	"github.com/tomtom215/splitlab/internal/experiment"
	"github.com/tomtom215/splitlab/internal/logging"
	"github.com/tomtom215/splitlab/internal/metrics"
)

// ErrQueueFull is returned when the bounded queue cannot accept an event.
// Callers on the assignment path treat this as a dropped observation, not a
// failure of the assignment itself.
var ErrQueueFull = errors.New("ledger queue full")

// ErrClosed is returned once the ledger has shut down.
var ErrClosed = errors.New("ledger closed")

// BatchWriter persists event batches. Implemented by EventStore; tests use
// in-memory fakes.
type BatchWriter interface {
	WriteBatch(ctx context.Context, events []Event) error
}

// Config controls queue depth and flush cadence.
type Config struct {
	// QueueSize bounds the in-memory queue. Events beyond this are dropped.
	QueueSize int `koanf:"queue_size" validate:"gt=0"`

	// BatchSize is the number of events per write to the store.
	BatchSize int `koanf:"batch_size" validate:"gt=0"`

	// FlushInterval bounds how long a partial batch may wait.
	FlushInterval time.Duration `koanf:"flush_interval" validate:"gt=0"`
}

// DefaultConfig returns a queue sized for bursty assignment traffic.
func DefaultConfig() Config {
	return Config{QueueSize: 8192, BatchSize: 500, FlushInterval: 2 * time.Second}
}

// Stats is a point-in-time snapshot of ledger throughput.
type Stats struct {
	Queued     uint64 `json:"queued"`
	Dropped    uint64 `json:"dropped"`
	Written    uint64 `json:"written"`
	Flushes    uint64 `json:"flushes"`
	FlushFails uint64 `json:"flush_fails"`
	QueueDepth int    `json:"queue_depth"`
}

// Ledger is the bounded, non-blocking event intake.
type Ledger struct {
	writer BatchWriter
	config Config
	clock  experiment.Clock

	queue  chan Event
	closed atomic.Bool

	// flushMu serializes interval and shutdown flushes so batches reach the
	// store in intake order.
	flushMu sync.Mutex

	queued     atomic.Uint64
	dropped    atomic.Uint64
	written    atomic.Uint64
	flushes    atomic.Uint64
	flushFails atomic.Uint64
}

// New creates a ledger writing batches through the given writer.
func New(writer BatchWriter, cfg Config, clock experiment.Clock) (*Ledger, error) {
	if writer == nil {
		return nil, fmt.Errorf("batch writer required")
	}
	if cfg.QueueSize <= 0 {
		return nil, fmt.Errorf("queue size must be positive")
	}
	if cfg.BatchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive")
	}
	if cfg.FlushInterval <= 0 {
		return nil, fmt.Errorf("flush interval must be positive")
	}
	if clock == nil {
		clock = experiment.SystemClock{}
	}

	return &Ledger{
		writer: writer,
		config: cfg,
		clock:  clock,
		queue:  make(chan Event, cfg.QueueSize),
	}, nil
}

// Record enqueues an event without blocking.
//
// An empty id gets a fresh UUID and a zero timestamp gets the current time,
// so callers may submit bare observations. Returns ErrQueueFull when the
// queue is saturated; the event is dropped and counted.
func (l *Ledger) Record(event Event) error {
	if err := event.validate(); err != nil {
		return err
	}
	if l.closed.Load() {
		l.dropped.Add(1)
		metrics.LedgerEventsDropped.WithLabelValues("closed").Inc()
		return ErrClosed
	}

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = l.clock.Now()
	}

	select {
	case l.queue <- event:
		l.queued.Add(1)
		metrics.LedgerEventsQueued.Inc()
		metrics.LedgerQueueDepth.Set(float64(len(l.queue)))
		return nil
	default:
		l.dropped.Add(1)
		metrics.LedgerEventsDropped.WithLabelValues("queue_full").Inc()
		return ErrQueueFull
	}
}

// RecordExposure implements assignment.ExposureSink: each produced
// assignment becomes an exposure event, the denominator for proportion
// metrics.
func (l *Ledger) RecordExposure(_ context.Context, a *assignment.Assignment) error {
	return l.Record(Event{
		ExperimentID: a.ExperimentID,
		VariantID:    a.VariantID,
		UserID:       a.UserID,
		Name:         ExposureEventName,
		OccurredAt:   a.AssignedAt,
	})
}

// Serve runs the background batch writer until the context is canceled,
// then drains and flushes whatever remains in the queue. Implements
// suture.Service.
func (l *Ledger) Serve(ctx context.Context) error {
	ticker := time.NewTicker(l.config.FlushInterval)
	defer ticker.Stop()

	batch := make([]Event, 0, l.config.BatchSize)

	for {
		select {
		case <-ctx.Done():
			l.closed.Store(true)
			l.drainInto(&batch)
			l.flush(batch)
			return ctx.Err()

		case event := <-l.queue:
			metrics.LedgerQueueDepth.Set(float64(len(l.queue)))
			batch = append(batch, event)
			if len(batch) >= l.config.BatchSize {
				batch = l.flush(batch)
			}

		case <-ticker.C:
			if len(batch) > 0 {
				batch = l.flush(batch)
			}
		}
	}
}

// String names the service for supervisor logs.
func (l *Ledger) String() string { return "event-ledger-writer" }

// Stats returns current throughput counters.
func (l *Ledger) Stats() Stats {
	return Stats{
		Queued:     l.queued.Load(),
		Dropped:    l.dropped.Load(),
		Written:    l.written.Load(),
		Flushes:    l.flushes.Load(),
		FlushFails: l.flushFails.Load(),
		QueueDepth: len(l.queue),
	}
}

func (l *Ledger) drainInto(batch *[]Event) {
	for {
		select {
		case event := <-l.queue:
			*batch = append(*batch, event)
		default:
			return
		}
	}
}

// maxRetainedBatches bounds how many batch-sizes worth of events survive
// consecutive flush failures. Oldest events beyond the bound are dropped
// and counted so a wedged store cannot grow the retained batch forever.
const maxRetainedBatches = 4

// flush writes one batch and returns the batch to carry forward: empty on
// success, the retained events on failure so the next flush attempt (size
// or interval triggered) retries them. The parent context is deliberately
// not used: a shutdown-triggered flush must still complete against the
// store, so each flush gets its own timeout.
func (l *Ledger) flush(batch []Event) []Event {
	if len(batch) == 0 {
		return batch
	}

	l.flushMu.Lock()
	defer l.flushMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	start := time.Now()
	if err := l.writer.WriteBatch(ctx, batch); err != nil {
		l.flushFails.Add(1)
		metrics.LedgerFlushErrors.Inc()

		limit := maxRetainedBatches * l.config.BatchSize
		if excess := len(batch) - limit; excess > 0 {
			l.dropped.Add(uint64(excess))
			metrics.LedgerEventsDropped.WithLabelValues("flush_failed").Add(float64(excess))
			batch = append(batch[:0], batch[excess:]...)
		}

		logging.Err(err).
			Int("retained", len(batch)).
			Msg("LEDGER: Batch flush failed, retaining for retry")
		return batch
	}

	l.flushes.Add(1)
	l.written.Add(uint64(len(batch)))
	metrics.RecordLedgerFlush(time.Since(start), len(batch))

	logging.Trace().
		Int("batch_size", len(batch)).
		Dur("elapsed", time.Since(start)).
		Msg("LEDGER: Batch flushed")
	return batch[:0]
}
