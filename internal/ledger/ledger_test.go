// Splitlab - Deterministic Experimentation and Impact Analysis Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/splitlab

package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/tomtom215/splitlab/internal/assignment"
	"github.com/tomtom215/splitlab/internal/experiment"
)

type fakeWriter struct {
	mu       sync.Mutex
	batches  [][]Event
	err      error
	failures int
}

func (w *fakeWriter) WriteBatch(_ context.Context, events []Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.failures > 0 {
		w.failures--
		return fmt.Errorf("store unavailable")
	}
	if w.err != nil {
		return w.err
	}
	batch := make([]Event, len(events))
	copy(batch, events)
	w.batches = append(w.batches, batch)
	return nil
}

func (w *fakeWriter) total() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := 0
	for _, b := range w.batches {
		n += len(b)
	}
	return n
}

func testEvent(user string) Event {
	return Event{
		ExperimentID: "checkout-flow",
		VariantID:    "one-page",
		UserID:       user,
		Name:         "purchase",
	}
}

func TestRecordFillsDefaults(t *testing.T) {
	clock := experiment.FixedClock{Instant: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	l, err := New(&fakeWriter{}, DefaultConfig(), clock)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if err := l.Record(testEvent("user-1")); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	got := <-l.queue
	if got.ID == "" {
		t.Error("queued event has empty id, want generated UUID")
	}
	if !got.OccurredAt.Equal(clock.Instant) {
		t.Errorf("OccurredAt = %v, want %v", got.OccurredAt, clock.Instant)
	}
}

func TestRecordValidation(t *testing.T) {
	l, err := New(&fakeWriter{}, DefaultConfig(), nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	tests := []struct {
		name  string
		event Event
	}{
		{"missing experiment id", Event{VariantID: "v", UserID: "u", Name: "n"}},
		{"missing variant id", Event{ExperimentID: "e", UserID: "u", Name: "n"}},
		{"missing user id", Event{ExperimentID: "e", VariantID: "v", Name: "n"}},
		{"missing name", Event{ExperimentID: "e", VariantID: "v", UserID: "u"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := l.Record(tt.event); err == nil {
				t.Error("Record() error = nil, want validation error")
			}
		})
	}
}

func TestRecordQueueFull(t *testing.T) {
	cfg := DefaultConfig()
	cfg.QueueSize = 2
	l, err := New(&fakeWriter{}, cfg, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	for i := 0; i < 2; i++ {
		if err := l.Record(testEvent(fmt.Sprintf("user-%d", i))); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}

	err = l.Record(testEvent("user-overflow"))
	if !errors.Is(err, ErrQueueFull) {
		t.Fatalf("Record() error = %v, want ErrQueueFull", err)
	}

	s := l.Stats()
	if s.Queued != 2 || s.Dropped != 1 {
		t.Errorf("Stats() = %+v, want Queued=2 Dropped=1", s)
	}
}

func TestServeFlushesOnBatchSize(t *testing.T) {
	writer := &fakeWriter{}
	cfg := Config{QueueSize: 100, BatchSize: 5, FlushInterval: time.Hour}
	l, err := New(writer, cfg, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		l.Serve(ctx)
	}()

	for i := 0; i < 5; i++ {
		if err := l.Record(testEvent(fmt.Sprintf("user-%d", i))); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}

	deadline := time.After(5 * time.Second)
	for writer.total() < 5 {
		select {
		case <-deadline:
			t.Fatalf("batch not flushed, wrote %d of 5 events", writer.total())
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	<-done
}

func TestServeDrainsOnShutdown(t *testing.T) {
	writer := &fakeWriter{}
	cfg := Config{QueueSize: 100, BatchSize: 50, FlushInterval: time.Hour}
	l, err := New(writer, cfg, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	for i := 0; i < 7; i++ {
		if err := l.Record(testEvent(fmt.Sprintf("user-%d", i))); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := l.Serve(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Serve() error = %v, want context.Canceled", err)
	}

	if got := writer.total(); got != 7 {
		t.Errorf("events written after shutdown = %d, want 7", got)
	}
	if err := l.Record(testEvent("late")); !errors.Is(err, ErrClosed) {
		t.Errorf("Record() after shutdown error = %v, want ErrClosed", err)
	}
}

func TestFlushFailureCounted(t *testing.T) {
	writer := &fakeWriter{err: fmt.Errorf("database wedged")}
	cfg := Config{QueueSize: 100, BatchSize: 50, FlushInterval: time.Hour}
	l, err := New(writer, cfg, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if err := l.Record(testEvent("user-1")); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	l.Serve(ctx)

	s := l.Stats()
	if s.FlushFails != 1 {
		t.Errorf("FlushFails = %d, want 1", s.FlushFails)
	}
	if s.Written != 0 {
		t.Errorf("Written = %d, want 0", s.Written)
	}
}

func TestFlushFailureRetainsBatch(t *testing.T) {
	writer := &fakeWriter{failures: 1}
	cfg := Config{QueueSize: 100, BatchSize: 2, FlushInterval: time.Hour}
	l, err := New(writer, cfg, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		l.Serve(ctx)
	}()

	// The first full batch hits the failing writer and must be carried into
	// the next flush attempt once the writer recovers.
	for i := 1; i <= 4; i++ {
		if err := l.Record(testEvent(fmt.Sprintf("user-%d", i))); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}

	deadline := time.After(5 * time.Second)
	for writer.total() < 4 {
		select {
		case <-deadline:
			t.Fatalf("stored %d events after writer recovery, want 4", writer.total())
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	<-done

	s := l.Stats()
	if s.FlushFails != 1 {
		t.Errorf("FlushFails = %d, want 1", s.FlushFails)
	}
	if s.Dropped != 0 {
		t.Errorf("Dropped = %d, want 0 (failed batch retained, not lost)", s.Dropped)
	}
	if s.Written != 4 {
		t.Errorf("Written = %d, want 4", s.Written)
	}
}

func TestFlushFailureRetentionBounded(t *testing.T) {
	writer := &fakeWriter{err: fmt.Errorf("database wedged")}
	cfg := Config{QueueSize: 100, BatchSize: 1, FlushInterval: time.Hour}
	l, err := New(writer, cfg, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	var batch []Event
	for i := 1; i <= 6; i++ {
		batch = append(batch, testEvent(fmt.Sprintf("user-%d", i)))
		batch = l.flush(batch)
	}

	limit := maxRetainedBatches * cfg.BatchSize
	if len(batch) != limit {
		t.Fatalf("retained batch length = %d, want capped at %d", len(batch), limit)
	}
	// Oldest events fall out first.
	if batch[0].UserID != "user-3" {
		t.Errorf("oldest retained event = %q, want user-3", batch[0].UserID)
	}
	if s := l.Stats(); s.Dropped != 2 {
		t.Errorf("Dropped = %d, want 2", s.Dropped)
	}
}

func TestRecordExposure(t *testing.T) {
	l, err := New(&fakeWriter{}, DefaultConfig(), nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	assignedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	err = l.RecordExposure(context.Background(), &assignment.Assignment{
		UserID:       "user-42",
		ExperimentID: "checkout-flow",
		VariantID:    "one-page",
		AssignedAt:   assignedAt,
	})
	if err != nil {
		t.Fatalf("RecordExposure() error = %v", err)
	}

	got := <-l.queue
	if got.Name != ExposureEventName {
		t.Errorf("Name = %q, want %q", got.Name, ExposureEventName)
	}
	if got.VariantID != "one-page" || got.UserID != "user-42" {
		t.Errorf("exposure event = %+v, want assignment fields carried over", got)
	}
	if !got.OccurredAt.Equal(assignedAt) {
		t.Errorf("OccurredAt = %v, want assignment time %v", got.OccurredAt, assignedAt)
	}
}
