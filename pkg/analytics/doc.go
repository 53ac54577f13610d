// Package analytics turns raw business events into time-bucketed aggregated
// metrics.
//
// # Windows
//
// Windows splits a range into half-open calendar windows anchored at the
// range start. Month, quarter and year boundaries clamp to the last day of
// short months and never drift:
//
//	seq, _ := analytics.Windows(jan31, may1, analytics.GranularityMonth)
//	// [Jan 31, Feb 29) [Feb 29, Mar 31) [Mar 31, Apr 30) [Apr 30, May 1)
//
// # Aggregation
//
// An Aggregator evaluates a closed set of metric families per window:
// CountFamily, UniqueCountFamily and RateFamily. Each family produces an
// "overall" row and one "service:<name>" row per service seen in the window.
//
//	agg, err := analytics.NewAggregator(events, metrics, analytics.WithWorkers(4))
//	result, err := agg.Aggregate(ctx, start, end, analytics.GranularityHour)
//
// A pass reads every window before writing. Any event store failure fails
// the pass with an *AggregationError and nothing is written. Row IDs are
// derived from the row key so re-running a pass is idempotent.
//
// # Retention
//
// Pruner deletes rows whose window ends before a cutoff.
//
// # Related Packages
//
//   - pkg/storage: in-memory EventStore and MetricStore
//   - pkg/storage/postgres: Postgres stores and the cached MetricStore
//   - pkg/scheduler: cadence-driven passes
//   - pkg/kpi: KPI evaluation over aggregated metrics
package analytics
