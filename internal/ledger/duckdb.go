// Splitlab - Deterministic Experimentation and Impact Analysis Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/splitlab

package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/splitlab/internal/experiment"
	"github.com/tomtom215/splitlab/internal/logging"
	"github.com/tomtom215/splitlab/internal/metrics"
	"github.com/tomtom215/splitlab/internal/stats"
)

const eventSchema = `
CREATE TABLE IF NOT EXISTS events (
    event_id      VARCHAR PRIMARY KEY,
    experiment_id VARCHAR NOT NULL,
    variant_id    VARCHAR NOT NULL,
    user_id       VARCHAR NOT NULL,
    name          VARCHAR NOT NULL,
    payload       VARCHAR,
    occurred_at   TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_lookup
    ON events (experiment_id, name, occurred_at);
`

// EventStore persists and aggregates events in DuckDB. Writes are protected
// by a circuit breaker so a wedged database sheds load instead of stacking
// blocked flush goroutines.
type EventStore struct {
	db      *sql.DB
	breaker *gobreaker.CircuitBreaker[interface{}]
}

// OpenEventStore opens (or creates) a DuckDB event database at the given
// path. An empty path opens an in-memory database, used by tests.
func OpenEventStore(path string) (*EventStore, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("open event database: %w", err)
	}
	store, err := NewEventStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// NewEventStore wraps an existing DuckDB connection and ensures the schema.
func NewEventStore(db *sql.DB) (*EventStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database required")
	}
	if _, err := db.Exec(eventSchema); err != nil {
		return nil, fmt.Errorf("create event schema: %w", err)
	}

	breaker := gobreaker.NewCircuitBreaker[interface{}](gobreaker.Settings{
		Name:    "event-store-writes",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("LEDGER: Circuit breaker state change")
		},
	})

	return &EventStore{db: db, breaker: breaker}, nil
}

// Close closes the underlying database.
func (s *EventStore) Close() error {
	return s.db.Close()
}

// WriteBatch inserts a batch of events in one transaction. Replayed event
// ids are ignored, making retries of a failed flush idempotent.
func (s *EventStore) WriteBatch(ctx context.Context, events []Event) error {
	if len(events) == 0 {
		return nil
	}

	_, err := s.breaker.Execute(func() (interface{}, error) {
		return nil, s.insertBatch(ctx, events)
	})
	return err
}

func (s *EventStore) insertBatch(ctx context.Context, events []Event) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin batch transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO events (event_id, experiment_id, variant_id, user_id, name, payload, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (event_id) DO NOTHING`)
	if err != nil {
		return fmt.Errorf("prepare batch insert: %w", err)
	}
	defer stmt.Close()

	for _, event := range events {
		var payload any
		if event.Payload != nil {
			data, err := json.Marshal(event.Payload)
			if err != nil {
				return fmt.Errorf("marshal event payload %s: %w", event.ID, err)
			}
			payload = string(data)
		}

		if _, err := stmt.ExecContext(ctx,
			event.ID, event.ExperimentID, event.VariantID, event.UserID,
			event.Name, payload, event.OccurredAt.UTC(),
		); err != nil {
			return fmt.Errorf("insert event %s: %w", event.ID, err)
		}
	}

	return tx.Commit()
}

// Aggregate computes per-variant samples for a metric over the half-open
// window [from, to). A zero bound leaves that side of the window open.
//
// Proportion metrics count distinct exposed users per variant against
// distinct users who emitted the metric's event. Continuous metrics take
// count, mean, and sample variance of the payload value.
func (s *EventStore) Aggregate(ctx context.Context, experimentID string, metric experiment.MetricSpec, from, to time.Time) (map[string]stats.Sample, error) {
	start := time.Now()
	defer func() {
		metrics.AggregationDuration.WithLabelValues(string(metric.Kind)).Observe(time.Since(start).Seconds())
	}()

	switch metric.Kind {
	case experiment.MetricProportion:
		return s.aggregateProportion(ctx, experimentID, metric.EventName, from, to)
	case experiment.MetricContinuous:
		return s.aggregateContinuous(ctx, experimentID, metric, from, to)
	default:
		return nil, fmt.Errorf("unknown metric kind %q", metric.Kind)
	}
}

// windowClause appends occurred_at bounds to a WHERE fragment.
func windowClause(from, to time.Time, args []any) (string, []any) {
	clause := ""
	if !from.IsZero() {
		clause += " AND occurred_at >= ?"
		args = append(args, from.UTC())
	}
	if !to.IsZero() {
		clause += " AND occurred_at < ?"
		args = append(args, to.UTC())
	}
	return clause, args
}

func (s *EventStore) aggregateProportion(ctx context.Context, experimentID, eventName string, from, to time.Time) (map[string]stats.Sample, error) {
	samples := map[string]stats.Sample{}

	// Exposures define the denominator. A user counts once per variant no
	// matter how many times they were assigned.
	window, args := windowClause(from, to, []any{experimentID, ExposureEventName})
	rows, err := s.db.QueryContext(ctx, `
		SELECT variant_id, COUNT(DISTINCT user_id)
		FROM events
		WHERE experiment_id = ? AND name = ?`+window+`
		GROUP BY variant_id`, args...)
	if err != nil {
		return nil, fmt.Errorf("aggregate exposures: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var variantID string
		var count int64
		if err := rows.Scan(&variantID, &count); err != nil {
			return nil, fmt.Errorf("scan exposure row: %w", err)
		}
		samples[variantID] = stats.Sample{Count: count}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate exposure rows: %w", err)
	}

	window, args = windowClause(from, to, []any{experimentID, eventName})
	rows, err = s.db.QueryContext(ctx, `
		SELECT variant_id, COUNT(DISTINCT user_id)
		FROM events
		WHERE experiment_id = ? AND name = ?`+window+`
		GROUP BY variant_id`, args...)
	if err != nil {
		return nil, fmt.Errorf("aggregate conversions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var variantID string
		var conversions int64
		if err := rows.Scan(&variantID, &conversions); err != nil {
			return nil, fmt.Errorf("scan conversion row: %w", err)
		}
		sample := samples[variantID]
		sample.Conversions = conversions
		samples[variantID] = sample
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversion rows: %w", err)
	}

	return samples, nil
}

func (s *EventStore) aggregateContinuous(ctx context.Context, experimentID string, metric experiment.MetricSpec, from, to time.Time) (map[string]stats.Sample, error) {
	valueKey := metric.ValueKey
	if valueKey == "" {
		valueKey = "value"
	}

	window, args := windowClause(from, to, []any{"$." + valueKey, experimentID, metric.EventName})
	rows, err := s.db.QueryContext(ctx, `
		SELECT variant_id,
		       COUNT(v),
		       COALESCE(AVG(v), 0),
		       COALESCE(VAR_SAMP(v), 0)
		FROM (
		    SELECT variant_id,
		           CAST(json_extract(payload, ?) AS DOUBLE) AS v
		    FROM events
		    WHERE experiment_id = ? AND name = ?`+window+`
		)
		GROUP BY variant_id`, args...)
	if err != nil {
		return nil, fmt.Errorf("aggregate continuous metric: %w", err)
	}
	defer rows.Close()

	samples := map[string]stats.Sample{}
	for rows.Next() {
		var variantID string
		var sample stats.Sample
		if err := rows.Scan(&variantID, &sample.Count, &sample.Mean, &sample.Variance); err != nil {
			return nil, fmt.Errorf("scan continuous row: %w", err)
		}
		samples[variantID] = sample
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate continuous rows: %w", err)
	}

	return samples, nil
}
