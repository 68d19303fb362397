// Splitlab - Deterministic Experimentation and Impact Analysis Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/splitlab

// Package stats implements the frequentist hypothesis tests backing
// experiment analysis: a two-proportion pooled z-test for conversion-style
// metrics and Welch's t-test for continuous metrics, plus observed power and
// minimum detectable effect. All probabilities are computed from closed-form
// distribution functions; nothing here is approximated by simulation.
package stats

import (
	"fmt"
	"math"

	"github.com/tomtom215/splitlab/internal/experiment"
)

// Analysis error codes. Analysis failures are typed and reported, never
// silently coerced into a "not significant" result.
const (
	CodeInsufficientSample = "insufficient_sample"
	CodeInvalidInput       = "invalid_input"
	CodeZeroVariance       = "zero_variance"
)

// AnalysisError describes why a comparison could not be computed.
type AnalysisError struct {
	Code    string
	Message string
}

func (e *AnalysisError) Error() string {
	return fmt.Sprintf("analysis error (%s): %s", e.Code, e.Message)
}

// Sample is the aggregated observation set for one experiment arm.
//
// Proportion metrics use Count (distinct exposed users) and Conversions.
// Continuous metrics use Count (observations), Mean, and Variance (sample
// variance); Conversions is zero.
type Sample struct {
	Count       int64   `json:"count"`
	Conversions int64   `json:"conversions,omitempty"`
	Mean        float64 `json:"mean,omitempty"`
	Variance    float64 `json:"variance,omitempty"`
}

// Rate returns the conversion rate for a proportion sample.
func (s Sample) Rate() float64 {
	if s.Count == 0 {
		return 0
	}
	return float64(s.Conversions) / float64(s.Count)
}

// Options control the statistical treatment of a comparison.
type Options struct {
	// ConfidenceLevel is the two-sided confidence level, e.g. 0.95.
	ConfidenceLevel float64 `koanf:"confidence_level" validate:"gt=0,lt=1"`

	// TargetPower is used for the minimum detectable effect, e.g. 0.80.
	TargetPower float64 `koanf:"target_power" validate:"gt=0,lt=1"`

	// MinSampleSize is the per-arm observation floor below which a
	// comparison is refused as underpowered noise.
	MinSampleSize int64 `koanf:"min_sample_size" validate:"gte=2"`
}

// DefaultOptions returns the conventional 95% confidence, 80% power setup.
func DefaultOptions() Options {
	return Options{ConfidenceLevel: 0.95, TargetPower: 0.80, MinSampleSize: 30}
}

// SignificanceResult is the outcome of comparing a treatment arm against
// control on a single metric.
type SignificanceResult struct {
	Kind experiment.MetricKind `json:"kind"`

	ControlValue   float64 `json:"control_value"`
	TreatmentValue float64 `json:"treatment_value"`

	// AbsoluteDiff is treatment minus control.
	AbsoluteDiff float64 `json:"absolute_diff"`
	// RelativeLift is AbsoluteDiff over the control value.
	RelativeLift float64 `json:"relative_lift"`

	Statistic float64 `json:"statistic"`
	PValue    float64 `json:"p_value"`

	ConfidenceLevel float64 `json:"confidence_level"`
	Significant     bool    `json:"significant"`

	// ConfidenceLow/High bound the absolute difference.
	ConfidenceLow  float64 `json:"confidence_low"`
	ConfidenceHigh float64 `json:"confidence_high"`

	// Power is the observed power to detect the measured difference.
	Power float64 `json:"power"`
	// MinDetectableEffect is the smallest absolute difference the current
	// sample sizes could detect at the target power.
	MinDetectableEffect float64 `json:"min_detectable_effect"`
}

// Compare runs the appropriate significance test for the metric kind.
//
// Returns *AnalysisError when the samples cannot support a test: too few
// observations per arm, degenerate rates, or zero variance on both arms.
func Compare(control, treatment Sample, kind experiment.MetricKind, opts Options) (*SignificanceResult, error) {
	if opts.ConfidenceLevel <= 0 || opts.ConfidenceLevel >= 1 {
		return nil, &AnalysisError{
			Code:    CodeInvalidInput,
			Message: fmt.Sprintf("confidence level %v outside (0,1)", opts.ConfidenceLevel),
		}
	}
	if opts.TargetPower <= 0 || opts.TargetPower >= 1 {
		opts.TargetPower = 0.80
	}
	if control.Count < opts.MinSampleSize || treatment.Count < opts.MinSampleSize {
		return nil, &AnalysisError{
			Code: CodeInsufficientSample,
			Message: fmt.Sprintf("need at least %d observations per arm, have %d control / %d treatment",
				opts.MinSampleSize, control.Count, treatment.Count),
		}
	}

	switch kind {
	case experiment.MetricProportion:
		return compareProportions(control, treatment, opts)
	case experiment.MetricContinuous:
		return compareMeans(control, treatment, opts)
	default:
		return nil, &AnalysisError{
			Code:    CodeInvalidInput,
			Message: fmt.Sprintf("unknown metric kind %q", kind),
		}
	}
}

// compareProportions runs a two-proportion z-test with a pooled standard
// error for the statistic and an unpooled standard error for the interval.
func compareProportions(control, treatment Sample, opts Options) (*SignificanceResult, error) {
	if control.Conversions < 0 || control.Conversions > control.Count ||
		treatment.Conversions < 0 || treatment.Conversions > treatment.Count {
		return nil, &AnalysisError{
			Code:    CodeInvalidInput,
			Message: "conversions outside [0, count]",
		}
	}

	n1, n2 := float64(control.Count), float64(treatment.Count)
	p1, p2 := control.Rate(), treatment.Rate()

	pooled := (float64(control.Conversions) + float64(treatment.Conversions)) / (n1 + n2)
	pooledSE := math.Sqrt(pooled * (1 - pooled) * (1/n1 + 1/n2))
	if pooledSE == 0 {
		return nil, &AnalysisError{
			Code:    CodeZeroVariance,
			Message: "pooled rate is degenerate, no variance to test against",
		}
	}

	diff := p2 - p1
	z := diff / pooledSE
	pValue := 2 * normalSurvival(math.Abs(z))

	unpooledSE := math.Sqrt(p1*(1-p1)/n1 + p2*(1-p2)/n2)
	zCrit := normalQuantile(1 - (1-opts.ConfidenceLevel)/2)

	result := &SignificanceResult{
		Kind:            experiment.MetricProportion,
		ControlValue:    p1,
		TreatmentValue:  p2,
		AbsoluteDiff:    diff,
		Statistic:       z,
		PValue:          pValue,
		ConfidenceLevel: opts.ConfidenceLevel,
		Significant:     pValue < 1-opts.ConfidenceLevel,
		ConfidenceLow:   diff - zCrit*unpooledSE,
		ConfidenceHigh:  diff + zCrit*unpooledSE,
	}
	if p1 != 0 {
		result.RelativeLift = diff / p1
	}

	se := unpooledSE
	if se == 0 {
		se = pooledSE
	}
	result.Power = observedPower(diff, se, zCrit)
	result.MinDetectableEffect = minDetectableEffect(se, zCrit, opts.TargetPower)

	return result, nil
}

// compareMeans runs Welch's unequal-variance t-test with the
// Welch-Satterthwaite degrees of freedom.
func compareMeans(control, treatment Sample, opts Options) (*SignificanceResult, error) {
	if control.Variance < 0 || treatment.Variance < 0 {
		return nil, &AnalysisError{
			Code:    CodeInvalidInput,
			Message: "negative variance",
		}
	}

	n1, n2 := float64(control.Count), float64(treatment.Count)
	v1, v2 := control.Variance/n1, treatment.Variance/n2
	se := math.Sqrt(v1 + v2)
	if se == 0 {
		return nil, &AnalysisError{
			Code:    CodeZeroVariance,
			Message: "both arms have zero variance",
		}
	}

	diff := treatment.Mean - control.Mean
	tStat := diff / se

	df := (v1 + v2) * (v1 + v2) / (v1*v1/(n1-1) + v2*v2/(n2-1))
	pValue := 2 * tSurvival(math.Abs(tStat), df)

	tCrit := tQuantile(1-(1-opts.ConfidenceLevel)/2, df)

	result := &SignificanceResult{
		Kind:            experiment.MetricContinuous,
		ControlValue:    control.Mean,
		TreatmentValue:  treatment.Mean,
		AbsoluteDiff:    diff,
		Statistic:       tStat,
		PValue:          pValue,
		ConfidenceLevel: opts.ConfidenceLevel,
		Significant:     pValue < 1-opts.ConfidenceLevel,
		ConfidenceLow:   diff - tCrit*se,
		ConfidenceHigh:  diff + tCrit*se,
	}
	if control.Mean != 0 {
		result.RelativeLift = diff / control.Mean
	}

	zCrit := normalQuantile(1 - (1-opts.ConfidenceLevel)/2)
	result.Power = observedPower(diff, se, zCrit)
	result.MinDetectableEffect = minDetectableEffect(se, zCrit, opts.TargetPower)

	return result, nil
}

// observedPower is the probability of detecting the measured effect again
// at the same sample sizes, under the normal approximation.
func observedPower(diff, se, zCrit float64) float64 {
	return normalCDF(math.Abs(diff)/se - zCrit)
}

// minDetectableEffect is the smallest absolute difference detectable at the
// target power given the standard error of the current samples.
func minDetectableEffect(se, zCrit, targetPower float64) float64 {
	return (zCrit + normalQuantile(targetPower)) * se
}
