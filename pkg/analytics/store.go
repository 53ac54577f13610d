package analytics

import (
	"context"
	"time"
)

// EventStore is the read-only view over raw events. Implementations must be
// safe for concurrent use. Counts cover events whose timestamp lies in
// [filter.Start, filter.End).
type EventStore interface {
	CountEvents(ctx context.Context, filter EventFilter) (int64, error)
	// CountEventsByService groups the count by originating service. Services
	// with no matching events are absent from the map.
	CountEventsByService(ctx context.Context, filter EventFilter) (map[string]int64, error)
	// CountDistinct counts distinct non-empty values of field.
	CountDistinct(ctx context.Context, filter EventFilter, field DistinctField) (int64, error)
	CountDistinctByService(ctx context.Context, filter EventFilter, field DistinctField) (map[string]int64, error)
	FindEvents(ctx context.Context, filter EventFilter) ([]RawEvent, error)
}

// MetricStore persists aggregated metrics keyed by
// (name, dimension, window start, window end, granularity).
type MetricStore interface {
	// Upsert inserts m or replaces the value and attributes of the row with
	// the same key. The CreatedAt of an existing row is kept.
	Upsert(ctx context.Context, m AggregatedMetric) error
	// UpsertBatch applies Upsert to every row atomically where the backend
	// supports it.
	UpsertBatch(ctx context.Context, ms []AggregatedMetric) error
	// Query returns matching rows ordered by window start, then dimension.
	Query(ctx context.Context, q MetricQuery) ([]AggregatedMetric, error)
	// DeleteBefore removes rows whose window end is strictly before cutoff
	// and reports how many were deleted.
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
