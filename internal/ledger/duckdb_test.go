// Splitlab - Deterministic Experimentation and Impact Analysis Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/splitlab

package ledger

import (
	"context"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/splitlab/internal/experiment"
)

func newTestStore(t *testing.T) *EventStore {
	t.Helper()
	store, err := OpenEventStore("")
	if err != nil {
		t.Fatalf("OpenEventStore() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func seedEvent(experimentID, variantID, userID, name string, payload map[string]any, at time.Time) Event {
	return Event{
		ID:           uuid.New().String(),
		ExperimentID: experimentID,
		VariantID:    variantID,
		UserID:       userID,
		Name:         name,
		Payload:      payload,
		OccurredAt:   at,
	}
}

func TestWriteBatchIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	event := seedEvent("exp-1", "control", "user-1", "purchase", nil, at)
	batch := []Event{event, event} // duplicate id within one batch

	if err := store.WriteBatch(ctx, batch); err != nil {
		t.Fatalf("WriteBatch() error = %v", err)
	}
	// Replay the whole batch.
	if err := store.WriteBatch(ctx, batch); err != nil {
		t.Fatalf("WriteBatch() replay error = %v", err)
	}

	var count int
	if err := store.db.QueryRow("SELECT COUNT(*) FROM events").Scan(&count); err != nil {
		t.Fatalf("count query error = %v", err)
	}
	if count != 1 {
		t.Errorf("stored events = %d, want 1 after idempotent replays", count)
	}
}

func TestAggregateProportion(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	var batch []Event
	// 10 exposed users per variant; 4 control and 7 treatment convert.
	for i := 0; i < 10; i++ {
		cu := fmt.Sprintf("c-user-%d", i)
		tu := fmt.Sprintf("t-user-%d", i)
		batch = append(batch,
			seedEvent("exp-1", "control", cu, ExposureEventName, nil, base),
			seedEvent("exp-1", "treatment", tu, ExposureEventName, nil, base),
		)
		if i < 4 {
			batch = append(batch, seedEvent("exp-1", "control", cu, "purchase", nil, base.Add(time.Hour)))
		}
		if i < 7 {
			batch = append(batch, seedEvent("exp-1", "treatment", tu, "purchase", nil, base.Add(time.Hour)))
		}
	}
	// A repeat purchase by the same user must not inflate the conversion count.
	batch = append(batch, seedEvent("exp-1", "control", "c-user-0", "purchase", nil, base.Add(2*time.Hour)))
	// Noise from another experiment.
	batch = append(batch, seedEvent("exp-2", "control", "c-user-0", ExposureEventName, nil, base))

	if err := store.WriteBatch(ctx, batch); err != nil {
		t.Fatalf("WriteBatch() error = %v", err)
	}

	metric := experiment.MetricSpec{
		Name: "purchase_rate", Kind: experiment.MetricProportion, EventName: "purchase",
	}
	samples, err := store.Aggregate(ctx, "exp-1", metric, time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("Aggregate() error = %v", err)
	}

	control := samples["control"]
	if control.Count != 10 || control.Conversions != 4 {
		t.Errorf("control = %+v, want Count=10 Conversions=4", control)
	}
	treatment := samples["treatment"]
	if treatment.Count != 10 || treatment.Conversions != 7 {
		t.Errorf("treatment = %+v, want Count=10 Conversions=7", treatment)
	}
}

func TestAggregateWindow(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	batch := []Event{
		seedEvent("exp-1", "control", "user-early", ExposureEventName, nil, base.Add(-time.Hour)),
		seedEvent("exp-1", "control", "user-in", ExposureEventName, nil, base),
		seedEvent("exp-1", "control", "user-boundary", ExposureEventName, nil, base.Add(24*time.Hour)),
	}
	if err := store.WriteBatch(ctx, batch); err != nil {
		t.Fatalf("WriteBatch() error = %v", err)
	}

	metric := experiment.MetricSpec{
		Name: "purchase_rate", Kind: experiment.MetricProportion, EventName: "purchase",
	}
	// Half-open window: the start is included, the end is not.
	samples, err := store.Aggregate(ctx, "exp-1", metric, base, base.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("Aggregate() error = %v", err)
	}

	if got := samples["control"].Count; got != 1 {
		t.Errorf("windowed exposure count = %d, want 1", got)
	}
}

func TestAggregateContinuous(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	values := map[string][]float64{
		"control":   {10, 12, 14},
		"treatment": {8, 9, 10, 11},
	}
	var batch []Event
	for variant, vs := range values {
		for i, v := range vs {
			batch = append(batch, seedEvent("exp-1", variant, fmt.Sprintf("%s-user-%d", variant, i),
				"checkout_time", map[string]any{"seconds": v}, base))
		}
	}
	// An event without the value key contributes nothing.
	batch = append(batch, seedEvent("exp-1", "control", "control-user-x",
		"checkout_time", map[string]any{"other": 1.0}, base))

	if err := store.WriteBatch(ctx, batch); err != nil {
		t.Fatalf("WriteBatch() error = %v", err)
	}

	metric := experiment.MetricSpec{
		Name: "checkout_time", Kind: experiment.MetricContinuous,
		EventName: "checkout_time", ValueKey: "seconds",
	}
	samples, err := store.Aggregate(ctx, "exp-1", metric, time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("Aggregate() error = %v", err)
	}

	control := samples["control"]
	if control.Count != 3 {
		t.Fatalf("control count = %d, want 3", control.Count)
	}
	if math.Abs(control.Mean-12) > 1e-9 {
		t.Errorf("control mean = %v, want 12", control.Mean)
	}
	if math.Abs(control.Variance-4) > 1e-9 {
		t.Errorf("control variance = %v, want 4 (sample variance of 10,12,14)", control.Variance)
	}

	treatment := samples["treatment"]
	if treatment.Count != 4 {
		t.Errorf("treatment count = %d, want 4", treatment.Count)
	}
	if math.Abs(treatment.Mean-9.5) > 1e-9 {
		t.Errorf("treatment mean = %v, want 9.5", treatment.Mean)
	}
}

func TestAggregateUnknownKind(t *testing.T) {
	store := newTestStore(t)
	metric := experiment.MetricSpec{Name: "m", Kind: experiment.MetricKind("ordinal"), EventName: "e"}
	if _, err := store.Aggregate(context.Background(), "exp-1", metric, time.Time{}, time.Time{}); err == nil {
		t.Error("Aggregate() error = nil, want error for unknown kind")
	}
}
