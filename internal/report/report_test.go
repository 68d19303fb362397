// Splitlab - Deterministic Experimentation and Impact Analysis Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/splitlab

package report

import (
	"context"
	"testing"
	"time"

	"github.com/tomtom215/splitlab/internal/experiment"
	"github.com/tomtom215/splitlab/internal/stats"
)

type fakeSource map[string]*experiment.Experiment

func (s fakeSource) Get(_ context.Context, id string) (*experiment.Experiment, error) {
	exp, ok := s[id]
	if !ok {
		return nil, context.Canceled // any error works for the test
	}
	return exp, nil
}

type fakeAggregator map[string]map[string]stats.Sample

func (a fakeAggregator) Aggregate(_ context.Context, _ string, metric experiment.MetricSpec, _, _ time.Time) (map[string]stats.Sample, error) {
	return a[metric.Name], nil
}

func reportExperiment() *experiment.Experiment {
	return &experiment.Experiment{
		ID:                "checkout-flow",
		Name:              "Checkout Flow Redesign",
		Status:            experiment.StatusActive,
		TrafficAllocation: 1.0,
		Variants: []experiment.Variant{
			{ID: "control", Role: experiment.RoleControl, Allocation: 0.5},
			{ID: "one-page", Role: experiment.RoleTreatment, Allocation: 0.5},
		},
		Metrics: []experiment.MetricSpec{
			{Name: "purchase_rate", Kind: experiment.MetricProportion,
				EventName: "purchase", Primary: true},
			{Name: "checkout_time", Kind: experiment.MetricContinuous,
				EventName: "checkout_done", Direction: experiment.DirectionDecrease,
				ValueKey: "seconds"},
		},
	}
}

func newTestGenerator(t *testing.T, exp *experiment.Experiment, agg fakeAggregator, impact ImpactConfig) *Generator {
	t.Helper()
	clock := experiment.FixedClock{Instant: time.Date(2026, 3, 15, 9, 0, 0, 0, time.UTC)}
	g, err := NewGenerator(fakeSource{exp.ID: exp}, agg, stats.DefaultOptions(), impact, clock)
	if err != nil {
		t.Fatalf("NewGenerator() error = %v", err)
	}
	return g
}

func TestGenerateImplementTreatment(t *testing.T) {
	agg := fakeAggregator{
		"purchase_rate": {
			"control":  {Count: 1250, Conversions: 900},
			"one-page": {Count: 1280, Conversions: 998},
		},
		"checkout_time": {
			"control":  {Count: 1250, Mean: 95, Variance: 400},
			"one-page": {Count: 1280, Mean: 60, Variance: 380},
		},
	}
	impact := ImpactConfig{ValuePerConversion: 40, MonthlyUsers: 100000}
	g := newTestGenerator(t, reportExperiment(), agg, impact)

	r, err := g.Generate(context.Background(), "checkout-flow", time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	if r.Recommendation != RecommendImplementTreatment {
		t.Fatalf("Recommendation = %q, want %q (reason: %s)", r.Recommendation, RecommendImplementTreatment, r.Reason)
	}
	if r.Primary == nil || len(r.Primary.Comparisons) != 1 {
		t.Fatalf("Primary = %+v, want one comparison", r.Primary)
	}
	if !r.Primary.Comparisons[0].Favorable {
		t.Error("primary comparison Favorable = false, want true")
	}
	if len(r.Secondary) != 1 {
		t.Fatalf("Secondary count = %d, want 1", len(r.Secondary))
	}
	// Checkout time dropped and the metric declares decrease as improvement.
	if !r.Secondary[0].Comparisons[0].Favorable {
		t.Error("secondary comparison Favorable = false, want true for a declared-decrease metric")
	}

	if r.Impact == nil {
		t.Fatal("Impact = nil, want projection for a winning proportion metric")
	}
	if r.Impact.MonthlyConversionDelta <= 0 || r.Impact.MonthlyValueDelta <= 0 {
		t.Errorf("Impact = %+v, want positive deltas", r.Impact)
	}
	if r.Impact.MonthlyValueDelta != r.Impact.MonthlyConversionDelta*40 {
		t.Errorf("MonthlyValueDelta = %v, want conversion delta priced at 40", r.Impact.MonthlyValueDelta)
	}
}

func TestGenerateKeepControl(t *testing.T) {
	agg := fakeAggregator{
		"purchase_rate": {
			"control":  {Count: 5000, Conversions: 2500},
			"one-page": {Count: 5000, Conversions: 2200},
		},
		"checkout_time": {
			"control":  {Count: 5000, Mean: 95, Variance: 400},
			"one-page": {Count: 5000, Mean: 95, Variance: 400},
		},
	}
	g := newTestGenerator(t, reportExperiment(), agg, ImpactConfig{})

	r, err := g.Generate(context.Background(), "checkout-flow", time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if r.Recommendation != RecommendKeepControl {
		t.Errorf("Recommendation = %q, want %q (reason: %s)", r.Recommendation, RecommendKeepControl, r.Reason)
	}
	if r.Impact != nil {
		t.Errorf("Impact = %+v, want nil when control wins", r.Impact)
	}
}

func TestGenerateContinueMonitoring(t *testing.T) {
	agg := fakeAggregator{
		"purchase_rate": {
			"control":  {Count: 500, Conversions: 250},
			"one-page": {Count: 500, Conversions: 255},
		},
		"checkout_time": {
			"control":  {Count: 500, Mean: 95, Variance: 400},
			"one-page": {Count: 500, Mean: 94, Variance: 400},
		},
	}
	g := newTestGenerator(t, reportExperiment(), agg, ImpactConfig{})

	r, err := g.Generate(context.Background(), "checkout-flow", time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if r.Recommendation != RecommendContinueMonitoring {
		t.Errorf("Recommendation = %q, want %q (reason: %s)", r.Recommendation, RecommendContinueMonitoring, r.Reason)
	}
}

// Analysis failures surface in the comparison and push the decision to
// continue monitoring, never to a silent "not significant".
func TestGenerateInsufficientSamples(t *testing.T) {
	agg := fakeAggregator{
		"purchase_rate": {
			"control":  {Count: 5, Conversions: 2},
			"one-page": {Count: 4, Conversions: 3},
		},
		"checkout_time": {},
	}
	g := newTestGenerator(t, reportExperiment(), agg, ImpactConfig{})

	r, err := g.Generate(context.Background(), "checkout-flow", time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if r.Recommendation != RecommendContinueMonitoring {
		t.Errorf("Recommendation = %q, want %q", r.Recommendation, RecommendContinueMonitoring)
	}
	if r.Primary.Comparisons[0].AnalysisError == "" {
		t.Error("AnalysisError empty, want typed analysis failure surfaced in the report")
	}
	if r.Primary.Comparisons[0].Result != nil {
		t.Error("Result != nil alongside an analysis error")
	}
}

func TestGenerateIdempotent(t *testing.T) {
	agg := fakeAggregator{
		"purchase_rate": {
			"control":  {Count: 1250, Conversions: 900},
			"one-page": {Count: 1280, Conversions: 998},
		},
		"checkout_time": {
			"control":  {Count: 1250, Mean: 95, Variance: 400},
			"one-page": {Count: 1280, Mean: 60, Variance: 380},
		},
	}
	g := newTestGenerator(t, reportExperiment(), agg, ImpactConfig{})

	first, err := g.Generate(context.Background(), "checkout-flow", time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	second, err := g.Generate(context.Background(), "checkout-flow", time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	if first.Recommendation != second.Recommendation {
		t.Errorf("recommendations differ across runs: %q vs %q", first.Recommendation, second.Recommendation)
	}
	if first.Primary.Comparisons[0].Result.PValue != second.Primary.Comparisons[0].Result.PValue {
		t.Error("p-values differ across identical runs")
	}
	if !first.GeneratedAt.Equal(second.GeneratedAt) {
		t.Error("GeneratedAt differs under a fixed clock")
	}
}

func TestGenerateNoControl(t *testing.T) {
	exp := reportExperiment()
	exp.Variants = []experiment.Variant{
		{ID: "a", Role: experiment.RoleTreatment, Allocation: 1.0},
	}
	g := newTestGenerator(t, exp, fakeAggregator{}, ImpactConfig{})

	if _, err := g.Generate(context.Background(), "checkout-flow", time.Time{}, time.Time{}); err == nil {
		t.Error("Generate() error = nil, want error for missing control variant")
	}
}
