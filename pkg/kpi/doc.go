// Package kpi classifies business KPIs into status tiers and trends.
//
// Status is a total function of a value and a fully specified Thresholds
// set; direction is set by HigherIsBetter. Trend is computed separately,
// either from a period-over-period change percentage or, given three or
// more history points, from the least-squares slope of the series.
//
// KPI definitions come from a YAML file loaded into a Registry. A Holder
// publishes the active registry and a Watcher swaps in new versions when the
// file changes. Service evaluates definitions against aggregated metrics or
// normalized domain metrics.
package kpi
