package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics. A nil *Metrics is valid and records
// nothing, so library packages can take it as an optional dependency.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Aggregation metrics
	AggregationPassesTotal  *prometheus.CounterVec
	AggregationPassDuration *prometheus.HistogramVec
	AggregationWindowsTotal *prometheus.CounterVec
	AggregatedRowsTotal     *prometheus.CounterVec

	// Scheduler metrics
	SchedulerRunsTotal    *prometheus.CounterVec
	SchedulerSkippedTotal *prometheus.CounterVec
	SchedulerLastSuccess  *prometheus.GaugeVec

	// Retention metrics
	PrunedRowsTotal prometheus.Counter

	// KPI metrics
	KPIStatus             *prometheus.GaugeVec
	KPIValue              *prometheus.GaugeVec
	InvalidMetricsTotal   *prometheus.CounterVec
	CollectorFetchesTotal *prometheus.CounterVec
	BreakerState          *prometheus.GaugeVec

	// Cache metrics
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pulse_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pulse_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),

		AggregationPassesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pulse_aggregation_passes_total",
				Help: "Total number of aggregation passes by outcome",
			},
			[]string{"granularity", "status"},
		),
		AggregationPassDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pulse_aggregation_pass_duration_seconds",
				Help:    "Aggregation pass duration in seconds",
				Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 300, 900},
			},
			[]string{"granularity"},
		),
		AggregationWindowsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pulse_aggregation_windows_total",
				Help: "Total number of windows aggregated",
			},
			[]string{"granularity"},
		),
		AggregatedRowsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pulse_aggregated_rows_written_total",
				Help: "Total number of aggregated metric rows upserted",
			},
			[]string{"granularity"},
		),

		SchedulerRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pulse_scheduler_runs_total",
				Help: "Total number of scheduled runs by cadence and outcome",
			},
			[]string{"cadence", "status"},
		),
		SchedulerSkippedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pulse_scheduler_skipped_total",
				Help: "Runs skipped because the same cadence was still running",
			},
			[]string{"cadence"},
		),
		SchedulerLastSuccess: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pulse_scheduler_last_success_timestamp_seconds",
				Help: "Unix time of the last successful run per cadence",
			},
			[]string{"cadence"},
		),

		PrunedRowsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "pulse_pruned_rows_total",
				Help: "Total number of aggregated rows deleted by retention",
			},
		),

		KPIStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pulse_kpi_status",
				Help: "KPI status tier (0=unknown 1=critical 2=warning 3=good 4=excellent)",
			},
			[]string{"kpi"},
		),
		KPIValue: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pulse_kpi_value",
				Help: "Current KPI value",
			},
			[]string{"kpi"},
		),
		InvalidMetricsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pulse_invalid_metrics_total",
				Help: "Domain metrics skipped during normalization",
			},
			[]string{"domain", "field"},
		),
		CollectorFetchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pulse_collector_fetches_total",
				Help: "Domain source fetches by outcome",
			},
			[]string{"source", "status"},
		),
		BreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pulse_breaker_state",
				Help: "Circuit breaker state (0=closed 1=open 2=half-open)",
			},
			[]string{"breaker"},
		),

		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pulse_cache_hits_total",
				Help: "Total number of metric query cache hits",
			},
			[]string{"layer"},
		),
		CacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pulse_cache_misses_total",
				Help: "Total number of metric query cache misses",
			},
			[]string{"layer"},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.AggregationPassesTotal,
		m.AggregationPassDuration,
		m.AggregationWindowsTotal,
		m.AggregatedRowsTotal,
		m.SchedulerRunsTotal,
		m.SchedulerSkippedTotal,
		m.SchedulerLastSuccess,
		m.PrunedRowsTotal,
		m.KPIStatus,
		m.KPIValue,
		m.InvalidMetricsTotal,
		m.CollectorFetchesTotal,
		m.BreakerState,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
	)

	return m
}

// ObservePass records the outcome of one aggregation pass
func (m *Metrics) ObservePass(granularity string, err error, duration time.Duration, windows, rows int) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "failure"
	}
	m.AggregationPassesTotal.WithLabelValues(granularity, status).Inc()
	m.AggregationPassDuration.WithLabelValues(granularity).Observe(duration.Seconds())
	m.AggregationWindowsTotal.WithLabelValues(granularity).Add(float64(windows))
	m.AggregatedRowsTotal.WithLabelValues(granularity).Add(float64(rows))
}

// ObserveScheduledRun records a cadence run outcome
func (m *Metrics) ObserveScheduledRun(cadence string, err error, at time.Time) {
	if m == nil {
		return
	}
	if err != nil {
		m.SchedulerRunsTotal.WithLabelValues(cadence, "failure").Inc()
		return
	}
	m.SchedulerRunsTotal.WithLabelValues(cadence, "success").Inc()
	m.SchedulerLastSuccess.WithLabelValues(cadence).Set(float64(at.Unix()))
}

// ObserveSkippedRun records a cadence fire skipped due to overlap
func (m *Metrics) ObserveSkippedRun(cadence string) {
	if m == nil {
		return
	}
	m.SchedulerSkippedTotal.WithLabelValues(cadence).Inc()
}

// ObservePruned records rows deleted by retention
func (m *Metrics) ObservePruned(rows int64) {
	if m == nil || rows <= 0 {
		return
	}
	m.PrunedRowsTotal.Add(float64(rows))
}

// SetKPI exports the latest evaluation of a KPI
func (m *Metrics) SetKPI(name string, statusCode int, value float64) {
	if m == nil {
		return
	}
	m.KPIStatus.WithLabelValues(name).Set(float64(statusCode))
	m.KPIValue.WithLabelValues(name).Set(value)
}

// ObserveInvalidMetric records a skipped domain metric
func (m *Metrics) ObserveInvalidMetric(domain, field string) {
	if m == nil {
		return
	}
	m.InvalidMetricsTotal.WithLabelValues(domain, field).Inc()
}

// ObserveFetch records a domain source fetch outcome ("ok", "stale", "error")
func (m *Metrics) ObserveFetch(source, status string) {
	if m == nil {
		return
	}
	m.CollectorFetchesTotal.WithLabelValues(source, status).Inc()
}

// SetBreakerState exports a breaker's state code
func (m *Metrics) SetBreakerState(name string, state int) {
	if m == nil {
		return
	}
	m.BreakerState.WithLabelValues(name).Set(float64(state))
}

// ObserveCache records a cache lookup on the given layer ("l1", "l2")
func (m *Metrics) ObserveCache(layer string, hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.CacheHitsTotal.WithLabelValues(layer).Inc()
		return
	}
	m.CacheMissesTotal.WithLabelValues(layer).Inc()
}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics.
// routeName maps a request to a low-cardinality label; nil uses the URL path.
func HTTPMetricsMiddleware(metrics *Metrics, routeName func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if metrics == nil {
				next.ServeHTTP(w, r)
				return
			}
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			route := r.URL.Path
			if routeName != nil {
				route = routeName(r)
			}
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(mux *http.ServeMux, registry *prometheus.Registry) {
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
}
