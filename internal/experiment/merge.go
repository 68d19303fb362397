// Splitlab - Deterministic Experimentation and Impact Analysis Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/splitlab

package experiment

// MergeConfig applies a variant's configuration payload onto a consumer's
// baseline configuration and returns the merged result. Neither input is
// modified.
//
// Merge policy: top-level keys from override replace keys in base, except
// when both values are maps, in which case their keys are merged one level
// deep (override wins on conflicts). Structures nested deeper than one level
// are replaced wholesale, never merged.
func MergeConfig(base, override map[string]any) map[string]any {
	merged := make(map[string]any, len(base)+len(override))
	for k, v := range base {
		merged[k] = v
	}

	for k, v := range override {
		overrideMap, overrideIsMap := v.(map[string]any)
		baseMap, baseIsMap := merged[k].(map[string]any)
		if !overrideIsMap || !baseIsMap {
			merged[k] = v
			continue
		}

		// One level of nested merge; deeper values replace wholesale.
		nested := make(map[string]any, len(baseMap)+len(overrideMap))
		for nk, nv := range baseMap {
			nested[nk] = nv
		}
		for nk, nv := range overrideMap {
			nested[nk] = nv
		}
		merged[k] = nested
	}

	return merged
}
