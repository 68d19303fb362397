// Splitlab - Deterministic Experimentation and Impact Analysis Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/splitlab

package assignment

import "github.com/tomtom215/splitlab/internal/experiment"

// Context carries the caller-supplied user attributes evaluated against an
// experiment's targeting rules. A nil *Context skips targeting entirely.
type Context struct {
	Segment  string `json:"segment,omitempty"`
	Platform string `json:"platform,omitempty"`
}

// eligible evaluates the experiment's targeting rules against the context.
//
// Each filter list is permissive when empty or when it contains the
// wildcard. A non-permissive filter requires the context attribute to be
// present and listed; a missing attribute does not pass a restrictive
// filter.
func eligible(t experiment.Targeting, evalCtx *Context) bool {
	if evalCtx == nil {
		return true
	}
	if !matchesFilter(t.Segments, evalCtx.Segment) {
		return false
	}
	return matchesFilter(t.Platforms, evalCtx.Platform)
}

func matchesFilter(filter []string, value string) bool {
	if len(filter) == 0 {
		return true
	}
	for _, f := range filter {
		if f == experiment.TargetingWildcard || f == value {
			return true
		}
	}
	return false
}
