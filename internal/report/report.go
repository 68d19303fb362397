// Splitlab - Deterministic Experimentation and Impact Analysis Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/splitlab

// Package report turns aggregated experiment data into a decision report:
// per-metric significance comparisons against control, a ship/hold/keep
// recommendation driven by the primary metric, and a projected business
// impact for proportion metrics.
package report

import (
	"context"
	"fmt"
	"time"

	"github.com/tomtom215/splitlab/internal/experiment"
	"github.com/tomtom215/splitlab/internal/logging"
	"github.com/tomtom215/splitlab/internal/metrics"
	"github.com/tomtom215/splitlab/internal/stats"
)

// Recommendation is the decision the report argues for.
type Recommendation string

const (
	// RecommendImplementTreatment: a treatment beat control on the primary
	// metric with statistical significance.
	RecommendImplementTreatment Recommendation = "implement_treatment"
	// RecommendKeepControl: every treatment is significantly worse than
	// control on the primary metric.
	RecommendKeepControl Recommendation = "keep_control"
	// RecommendContinueMonitoring: no significant result either way, or the
	// samples cannot support a test yet.
	RecommendContinueMonitoring Recommendation = "continue_monitoring"
)

// Aggregator supplies per-variant samples for a metric. Implemented by
// ledger.EventStore.
type Aggregator interface {
	Aggregate(ctx context.Context, experimentID string, metric experiment.MetricSpec, from, to time.Time) (map[string]stats.Sample, error)
}

// ExperimentSource supplies experiment definitions. Implemented by
// store.BadgerStore.
type ExperimentSource interface {
	Get(ctx context.Context, id string) (*experiment.Experiment, error)
}

// ImpactConfig holds the business assumptions behind the projected impact
// section. Zero values disable projection.
type ImpactConfig struct {
	// ValuePerConversion is the revenue attributed to one conversion.
	ValuePerConversion float64 `koanf:"value_per_conversion" validate:"gte=0"`

	// MonthlyUsers is the expected eligible traffic per month.
	MonthlyUsers int64 `koanf:"monthly_users" validate:"gte=0"`
}

// Impact projects the primary-metric effect onto business volume.
type Impact struct {
	VariantID string `json:"variant_id"`

	// MonthlyConversionDelta is the expected change in conversions per month
	// at the configured traffic volume.
	MonthlyConversionDelta float64 `json:"monthly_conversion_delta"`

	// MonthlyValueDelta is the conversion delta priced at the configured
	// value per conversion.
	MonthlyValueDelta float64 `json:"monthly_value_delta"`
}

// VariantComparison is one treatment arm measured against control.
type VariantComparison struct {
	VariantID string                    `json:"variant_id"`
	Result    *stats.SignificanceResult `json:"result,omitempty"`

	// Favorable reports whether the measured difference moves the metric in
	// its declared improvement direction. Meaningful only with a Result.
	Favorable bool `json:"favorable"`

	// AnalysisError carries the typed reason a comparison was impossible
	// (insufficient samples, zero variance). Never silently omitted.
	AnalysisError string `json:"analysis_error,omitempty"`
}

// MetricReport is the full comparison set for one metric.
type MetricReport struct {
	Name        string                `json:"name"`
	Kind        experiment.MetricKind `json:"kind"`
	Direction   experiment.Direction  `json:"direction"`
	Primary     bool                  `json:"primary"`
	Comparisons []VariantComparison   `json:"comparisons"`
}

// Report is the generated decision document.
type Report struct {
	ExperimentID   string            `json:"experiment_id"`
	ExperimentName string            `json:"experiment_name"`
	Status         experiment.Status `json:"status"`
	GeneratedAt    time.Time         `json:"generated_at"`

	WindowFrom time.Time `json:"window_from,omitempty"`
	WindowTo   time.Time `json:"window_to,omitempty"`

	Primary   *MetricReport  `json:"primary,omitempty"`
	Secondary []MetricReport `json:"secondary,omitempty"`

	Recommendation Recommendation `json:"recommendation"`
	// Reason is a one-line human-readable basis for the recommendation.
	Reason string `json:"reason"`

	Impact *Impact `json:"impact,omitempty"`
}

// Generator builds decision reports.
type Generator struct {
	experiments ExperimentSource
	events      Aggregator
	opts        stats.Options
	impact      ImpactConfig
	clock       experiment.Clock
}

// NewGenerator creates a report generator. Impact projection is skipped
// unless both impact config fields are set.
func NewGenerator(experiments ExperimentSource, events Aggregator, opts stats.Options, impact ImpactConfig, clock experiment.Clock) (*Generator, error) {
	if experiments == nil {
		return nil, fmt.Errorf("experiment source required")
	}
	if events == nil {
		return nil, fmt.Errorf("event aggregator required")
	}
	if clock == nil {
		clock = experiment.SystemClock{}
	}
	return &Generator{
		experiments: experiments,
		events:      events,
		opts:        opts,
		impact:      impact,
		clock:       clock,
	}, nil
}

// Generate builds the decision report for an experiment over the half-open
// window [from, to). Zero bounds leave the window open on that side.
//
// Generation is read-only and idempotent: the same stored events produce
// the same report, regardless of how often it runs.
func (g *Generator) Generate(ctx context.Context, experimentID string, from, to time.Time) (*Report, error) {
	exp, err := g.experiments.Get(ctx, experimentID)
	if err != nil {
		return nil, err
	}

	control := exp.ControlVariant()
	if control == nil {
		return nil, fmt.Errorf("experiment %s has no control variant", experimentID)
	}

	r := &Report{
		ExperimentID:   exp.ID,
		ExperimentName: exp.Name,
		Status:         exp.Status,
		GeneratedAt:    g.clock.Now(),
		WindowFrom:     from,
		WindowTo:       to,
	}

	for _, metric := range exp.Metrics {
		mr, err := g.compareMetric(ctx, exp, control.ID, metric, from, to)
		if err != nil {
			return nil, err
		}
		if metric.Primary {
			r.Primary = mr
		} else {
			r.Secondary = append(r.Secondary, *mr)
		}
	}

	g.decide(r, exp)
	metrics.ReportsGenerated.WithLabelValues(string(r.Recommendation)).Inc()

	logging.Debug().
		Str("experiment_id", exp.ID).
		Str("recommendation", string(r.Recommendation)).
		Msg("REPORT: Generated")

	return r, nil
}

// compareMetric aggregates one metric and compares every treatment arm
// against control. Analysis failures are typed into the comparison rather
// than aborting the report.
func (g *Generator) compareMetric(ctx context.Context, exp *experiment.Experiment, controlID string, metric experiment.MetricSpec, from, to time.Time) (*MetricReport, error) {
	samples, err := g.events.Aggregate(ctx, exp.ID, metric, from, to)
	if err != nil {
		return nil, fmt.Errorf("aggregate metric %s: %w", metric.Name, err)
	}

	mr := &MetricReport{
		Name:      metric.Name,
		Kind:      metric.Kind,
		Direction: metric.ImprovementDirection(),
		Primary:   metric.Primary,
	}

	controlSample := samples[controlID]
	for _, variant := range exp.Variants {
		if variant.ID == controlID {
			continue
		}

		comparison := VariantComparison{VariantID: variant.ID}
		result, err := stats.Compare(controlSample, samples[variant.ID], metric.Kind, g.opts)
		if err != nil {
			comparison.AnalysisError = err.Error()
			metrics.AnalysisRuns.WithLabelValues("error").Inc()
		} else {
			comparison.Result = result
			comparison.Favorable = favorable(result.AbsoluteDiff, metric.ImprovementDirection())
			if result.Significant {
				metrics.AnalysisRuns.WithLabelValues("significant").Inc()
			} else {
				metrics.AnalysisRuns.WithLabelValues("inconclusive").Inc()
			}
		}
		mr.Comparisons = append(mr.Comparisons, comparison)
	}

	return mr, nil
}

// decide sets the recommendation from the primary metric comparisons.
//
// Ship a treatment when it shows a significant favorable effect; keep
// control only when every treatment has a significant unfavorable effect;
// otherwise keep monitoring.
func (g *Generator) decide(r *Report, exp *experiment.Experiment) {
	if r.Primary == nil || len(r.Primary.Comparisons) == 0 {
		r.Recommendation = RecommendContinueMonitoring
		r.Reason = "no primary metric comparison available"
		return
	}

	var best *VariantComparison
	allSignificantlyWorse := true
	for i := range r.Primary.Comparisons {
		c := &r.Primary.Comparisons[i]
		if c.Result == nil {
			allSignificantlyWorse = false
			continue
		}
		if c.Result.Significant && c.Favorable {
			if best == nil || betterThan(c, best, r.Primary.Direction) {
				best = c
			}
			allSignificantlyWorse = false
		} else if !c.Result.Significant || c.Favorable {
			allSignificantlyWorse = false
		}
	}

	switch {
	case best != nil:
		r.Recommendation = RecommendImplementTreatment
		r.Reason = fmt.Sprintf("variant %s improved %s with p=%.4g at %.0f%% confidence",
			best.VariantID, r.Primary.Name, best.Result.PValue, best.Result.ConfidenceLevel*100)
		r.Impact = g.projectImpact(best, r.Primary)
	case allSignificantlyWorse:
		r.Recommendation = RecommendKeepControl
		r.Reason = fmt.Sprintf("every treatment significantly degraded %s", r.Primary.Name)
	default:
		r.Recommendation = RecommendContinueMonitoring
		r.Reason = fmt.Sprintf("no significant effect on %s yet", r.Primary.Name)
	}
}

// projectImpact prices the winning variant's effect at the configured
// traffic volume. Only proportion metrics have a meaningful conversion
// delta; continuous wins report no impact section.
func (g *Generator) projectImpact(winner *VariantComparison, primary *MetricReport) *Impact {
	if primary.Kind != experiment.MetricProportion {
		return nil
	}
	if g.impact.MonthlyUsers <= 0 || g.impact.ValuePerConversion <= 0 {
		return nil
	}

	conversionDelta := winner.Result.AbsoluteDiff * float64(g.impact.MonthlyUsers)
	return &Impact{
		VariantID:              winner.VariantID,
		MonthlyConversionDelta: conversionDelta,
		MonthlyValueDelta:      conversionDelta * g.impact.ValuePerConversion,
	}
}

// favorable reports whether the difference moves the metric in its declared
// improvement direction.
func favorable(diff float64, direction experiment.Direction) bool {
	if direction == experiment.DirectionDecrease {
		return diff < 0
	}
	return diff > 0
}

// betterThan ranks two significant favorable comparisons by effect size.
func betterThan(a, b *VariantComparison, direction experiment.Direction) bool {
	if direction == experiment.DirectionDecrease {
		return a.Result.AbsoluteDiff < b.Result.AbsoluteDiff
	}
	return a.Result.AbsoluteDiff > b.Result.AbsoluteDiff
}
