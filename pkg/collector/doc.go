// Package collector pulls raw metrics from domain services.
//
// Each HTTPSource performs a single bounded GET, optionally through a
// breaker.Breaker. FetchWithFallback serves the last good result for a
// source, wrapped in a *StaleError, when a fetch fails. Collector fans out
// over all sources and normalizes the combined result, which makes it a
// kpi.DomainSource.
package collector
