// Splitlab - Deterministic Experimentation and Impact Analysis Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/splitlab

package ledger

import (
	"fmt"
	"time"
)

// ExposureEventName is the reserved event name recorded when a user is
// assigned to a variant. Exposure events define the denominator for
// proportion metrics.
const ExposureEventName = "exposure"

// Event is a single observation tied to an experiment arm.
type Event struct {
	// ID uniquely identifies the event for idempotent writes. Assigned a
	// UUID on Record when empty; replays of the same id are ignored by the
	// store.
	ID string `json:"id"`

	ExperimentID string `json:"experiment_id"`
	VariantID    string `json:"variant_id"`
	UserID       string `json:"user_id"`

	// Name is the event name metric specs bind to, e.g. "purchase".
	Name string `json:"name"`

	// Payload carries metric values for continuous metrics, keyed by the
	// metric spec's value key.
	Payload map[string]any `json:"payload,omitempty"`

	OccurredAt time.Time `json:"occurred_at"`
}

func (e *Event) validate() error {
	switch {
	case e.ExperimentID == "":
		return fmt.Errorf("event experiment id required")
	case e.VariantID == "":
		return fmt.Errorf("event variant id required")
	case e.UserID == "":
		return fmt.Errorf("event user id required")
	case e.Name == "":
		return fmt.Errorf("event name required")
	}
	return nil
}
