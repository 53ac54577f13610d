// Package observability holds the ambient plumbing shared by pulse binaries:
// structured JSON logging over slog, Prometheus metrics for aggregation
// passes, scheduling, retention and KPI evaluation, OpenTelemetry tracing,
// health probes and graceful shutdown.
//
// A nil *Metrics is valid everywhere and records nothing, which is what
// library tests pass.
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	metrics.ObservePass("HOUR", nil, time.Second, 1, 42)
package observability
