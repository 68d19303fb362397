// Splitlab - Deterministic Experimentation and Impact Analysis Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/splitlab

package assignment

import (
	"github.com/cespare/xxhash/v2"

	"github.com/tomtom215/splitlab/internal/experiment"
)

// bucketResolution is the number of basis-point buckets the hash space is
// divided into. Variant boundaries are integer bucket counts, so allocation
// arithmetic never touches floating point on the assignment path.
const bucketResolution = 10000

// trafficFraction maps a user id to a stable value in [0, 1) used for the
// participation gate. The top 53 bits of the hash fill a float64 mantissa
// exactly, so the distribution is uniform over representable values.
func trafficFraction(userID string) float64 {
	h := xxhash.Sum64String(userID)
	return float64(h>>11) / float64(1<<53)
}

// bucketOf maps a (user, experiment) pair to a basis-point bucket in
// [0, bucketResolution). The experiment id is part of the hash input so the
// same user lands in uncorrelated buckets across experiments.
func bucketOf(userID, experimentID string) uint64 {
	return xxhash.Sum64String(userID+":"+experimentID) % bucketResolution
}

// variantBoundaries converts the variants' fractional allocations into
// cumulative integer bucket boundaries. Rounding remainders accumulate into
// the final variant's boundary, which is forced to bucketResolution so every
// bucket resolves to a variant. No fallback path exists.
func variantBoundaries(variants []experiment.Variant) []uint64 {
	boundaries := make([]uint64, len(variants))
	var cumulative uint64
	for i, v := range variants {
		cumulative += uint64(v.Allocation * bucketResolution)
		boundaries[i] = cumulative
	}
	if n := len(boundaries); n > 0 {
		boundaries[n-1] = bucketResolution
	}
	return boundaries
}

// variantFor resolves a bucket to a variant using the cumulative boundaries.
func variantFor(variants []experiment.Variant, boundaries []uint64, bucket uint64) *experiment.Variant {
	for i := range boundaries {
		if bucket < boundaries[i] {
			return &variants[i]
		}
	}
	// Unreachable: the last boundary is always bucketResolution.
	return &variants[len(variants)-1]
}
