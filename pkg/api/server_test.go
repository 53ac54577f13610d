package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/pulse/pkg/analytics"
	"github.com/platinummonkey/pulse/pkg/async"
	"github.com/platinummonkey/pulse/pkg/kpi"
	"github.com/platinummonkey/pulse/pkg/observability"
	"github.com/platinummonkey/pulse/pkg/scheduler"
)

type fakeAggregator struct {
	mu    sync.Mutex
	calls []analytics.Granularity
	err   error
	block chan struct{}
}

func (f *fakeAggregator) Aggregate(ctx context.Context, start, end time.Time, g analytics.Granularity) (analytics.PassResult, error) {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	f.calls = append(f.calls, g)
	f.mu.Unlock()
	if f.err != nil {
		return analytics.PassResult{}, f.err
	}
	return analytics.PassResult{PassID: "pass-1", Granularity: g, Start: start, End: end, Windows: 2, RowsWritten: 8}, nil
}

type fakePruner struct {
	cutoff time.Time
}

func (f *fakePruner) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	f.cutoff = cutoff
	return 3, nil
}

type fakeReader struct {
	got  analytics.MetricQuery
	rows []analytics.AggregatedMetric
	err  error
}

func (f *fakeReader) Query(ctx context.Context, q analytics.MetricQuery) ([]analytics.AggregatedMetric, error) {
	f.got = q
	return f.rows, f.err
}

type fakeKPIs struct {
	all []kpi.DomainKPI
	err error
}

func (f *fakeKPIs) EvaluateAll(ctx context.Context) ([]kpi.DomainKPI, error) {
	return f.all, f.err
}

func (f *fakeKPIs) Evaluate(ctx context.Context, name string) (kpi.DomainKPI, error) {
	for _, k := range f.all {
		if k.Name == name {
			return k, f.err
		}
	}
	return kpi.DomainKPI{}, fmt.Errorf("%w: %s", kpi.ErrUnknownKPI, name)
}

type fakeScheduler struct {
	err error
	ran []string
}

func (f *fakeScheduler) Status() []scheduler.CadenceStatus {
	return []scheduler.CadenceStatus{{Name: "hourly", Spec: scheduler.HourlySpec}}
}

func (f *fakeScheduler) RunNow(ctx context.Context, name string) error {
	f.ran = append(f.ran, name)
	return f.err
}

func do(t *testing.T, h http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v), rec.Body.String())
	return v
}

var (
	jan1 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	jan2 = jan1.AddDate(0, 0, 1)
)

func TestRunAggregation(t *testing.T) {
	agg := &fakeAggregator{}
	srv := NewServer(Deps{Aggregator: agg})

	rec := do(t, srv, http.MethodPost, "/v1/aggregations", map[string]interface{}{
		"start": jan1, "end": jan2, "granularity": "hour",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	result := decode[analytics.PassResult](t, rec)
	assert.Equal(t, analytics.GranularityHour, result.Granularity)
	assert.Equal(t, 8, result.RowsWritten)
}

func TestRunAggregation_Validation(t *testing.T) {
	srv := NewServer(Deps{Aggregator: &fakeAggregator{}})

	tests := []struct {
		name string
		body interface{}
	}{
		{"malformed", `{"start":`},
		{"missing times", map[string]interface{}{"granularity": "HOUR"}},
		{"unknown granularity", map[string]interface{}{"start": jan1, "end": jan2, "granularity": "FORTNIGHT"}},
		{"reversed range", map[string]interface{}{"start": jan2, "end": jan1, "granularity": "HOUR"}},
		{"unknown field", map[string]interface{}{"start": jan1, "end": jan2, "granularity": "HOUR", "force": true}},
		{"async without tracker", map[string]interface{}{"start": jan1, "end": jan2, "granularity": "HOUR", "async": true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, srv, http.MethodPost, "/v1/aggregations", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}
}

func TestRunAggregation_WindowLimit(t *testing.T) {
	agg := &fakeAggregator{}
	srv := NewServer(Deps{Aggregator: agg}, WithMaxWindows(24))

	rec := do(t, srv, http.MethodPost, "/v1/aggregations", map[string]interface{}{
		"start": jan1, "end": jan2, "granularity": "HOUR",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, srv, http.MethodPost, "/v1/aggregations", map[string]interface{}{
		"start": jan1, "end": jan1.AddDate(3, 0, 0), "granularity": "MINUTE",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "more than 24 MINUTE windows")

	agg.mu.Lock()
	defer agg.mu.Unlock()
	assert.Len(t, agg.calls, 1)
}

func TestRunAggregation_ErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"data source", analytics.NewDataSourceError("events", "count", errors.New("conn refused")), http.StatusServiceUnavailable},
		{"cancelled", context.Canceled, http.StatusGatewayTimeout},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := NewServer(Deps{Aggregator: &fakeAggregator{err: tt.err}})
			rec := do(t, srv, http.MethodPost, "/v1/aggregations", map[string]interface{}{
				"start": jan1, "end": jan2, "granularity": "DAY",
			})
			assert.Equal(t, tt.want, rec.Code)
			if tt.want == http.StatusInternalServerError {
				assert.NotContains(t, rec.Body.String(), "boom")
			}
		})
	}
}

func TestRunAggregation_Async(t *testing.T) {
	agg := &fakeAggregator{block: make(chan struct{})}
	jobs := async.NewTracker(10, time.Minute, nil)
	defer jobs.Close(context.Background())
	srv := NewServer(Deps{Aggregator: agg, Jobs: jobs})

	rec := do(t, srv, http.MethodPost, "/v1/aggregations", map[string]interface{}{
		"start": jan1, "end": jan2, "granularity": "HOUR", "async": true,
	})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	job := decode[async.Job](t, rec)
	assert.Equal(t, async.JobRunning, job.Status)
	assert.Equal(t, "/v1/jobs/"+job.ID, rec.Header().Get("Location"))

	close(agg.block)
	require.Eventually(t, func() bool {
		rec := do(t, srv, http.MethodGet, "/v1/jobs/"+job.ID, nil)
		return rec.Code == http.StatusOK && decode[async.Job](t, rec).Status == async.JobSucceeded
	}, time.Second, 10*time.Millisecond)

	rec = do(t, srv, http.MethodGet, "/v1/jobs/unknown", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPrune(t *testing.T) {
	p := &fakePruner{}
	srv := NewServer(Deps{Pruner: p})

	rec := do(t, srv, http.MethodPost, "/v1/prune", map[string]interface{}{"cutoff": jan1})
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[pruneResponse](t, rec)
	assert.Equal(t, int64(3), resp.Deleted)
	assert.True(t, p.cutoff.Equal(jan1))

	rec = do(t, srv, http.MethodPost, "/v1/prune", map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestQueryMetrics(t *testing.T) {
	reader := &fakeReader{rows: []analytics.AggregatedMetric{{Name: "product_views", Value: 4}}}
	srv := NewServer(Deps{Metrics: reader})

	rec := do(t, srv, http.MethodGet,
		"/v1/metrics?name=product_views&dimension=overall&granularity=hour&start=2024-01-01T00:00:00Z&end=2024-01-02T00:00:00Z&limit=24", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[metricsResponse](t, rec)
	assert.Equal(t, 1, resp.Count)

	assert.Equal(t, analytics.MetricQuery{
		Name:        "product_views",
		Dimension:   "overall",
		Granularity: analytics.GranularityHour,
		Start:       jan1,
		End:         jan2,
		Limit:       24,
	}, reader.got)
}

func TestQueryMetrics_EmptyIsArray(t *testing.T) {
	srv := NewServer(Deps{Metrics: &fakeReader{}})
	rec := do(t, srv, http.MethodGet, "/v1/metrics?name=none", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"metrics":[],"count":0}`, rec.Body.String())
}

func TestQueryMetrics_Validation(t *testing.T) {
	srv := NewServer(Deps{Metrics: &fakeReader{}})
	for _, path := range []string{
		"/v1/metrics",
		"/v1/metrics?name=x&granularity=nope",
		"/v1/metrics?name=x&start=yesterday",
		"/v1/metrics?name=x&start=2024-01-02T00:00:00Z&end=2024-01-01T00:00:00Z",
		"/v1/metrics?name=x&limit=-1",
		"/v1/metrics?name=x&limit=many",
	} {
		rec := do(t, srv, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, path)
	}
}

func TestListKPIs(t *testing.T) {
	v := 0.97
	kpis := &fakeKPIs{all: []kpi.DomainKPI{{Name: "uptime", Value: &v, Status: kpi.StatusGood}}}
	srv := NewServer(Deps{KPIs: kpis})

	rec := do(t, srv, http.MethodGet, "/v1/kpis", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[kpisResponse](t, rec)
	require.Len(t, resp.KPIs, 1)
	assert.Empty(t, resp.Warning)

	kpis.err = analytics.NewDataSourceError("metrics", "query", errors.New("down"))
	rec = do(t, srv, http.MethodGet, "/v1/kpis", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, decode[kpisResponse](t, rec).Warning, "metrics store query")
}

func TestGetKPI(t *testing.T) {
	v := 12.0
	srv := NewServer(Deps{KPIs: &fakeKPIs{all: []kpi.DomainKPI{{Name: "latency_p99", Value: &v}}}})

	rec := do(t, srv, http.MethodGet, "/v1/kpis/latency_p99", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "latency_p99", decode[kpiResponse](t, rec).Name)

	rec = do(t, srv, http.MethodGet, "/v1/kpis/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEvaluateKPI(t *testing.T) {
	srv := NewServer(Deps{})

	rec := do(t, srv, http.MethodPost, "/v1/kpis/evaluate", map[string]interface{}{
		"name":     "conversion_rate",
		"value":    0.035,
		"previous": 0.03,
		"thresholds": map[string]interface{}{
			"excellent": 0.05, "good": 0.03, "warning": 0.02, "critical": 0.01,
		},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	k := decode[kpi.DomainKPI](t, rec)
	assert.Equal(t, kpi.StatusGood, k.Status)
	assert.Equal(t, kpi.TrendIncreasing, k.Trend)
	require.NotNil(t, k.ChangePercentage)
	assert.InDelta(t, 16.67, *k.ChangePercentage, 0.01)
}

func TestEvaluateKPI_Validation(t *testing.T) {
	srv := NewServer(Deps{})
	tests := []struct {
		name string
		body map[string]interface{}
	}{
		{"missing name", map[string]interface{}{"value": 1}},
		{"missing value", map[string]interface{}{"name": "x"}},
		{"partial thresholds", map[string]interface{}{"name": "x", "value": 1, "thresholds": map[string]interface{}{"good": 1}}},
		{"misordered thresholds", map[string]interface{}{"name": "x", "value": 1, "thresholds": map[string]interface{}{
			"excellent": 1, "good": 2, "warning": 3, "critical": 4,
		}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, srv, http.MethodPost, "/v1/kpis/evaluate", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}
}

func TestSchedules(t *testing.T) {
	sched := &fakeScheduler{}
	srv := NewServer(Deps{Scheduler: sched})

	rec := do(t, srv, http.MethodGet, "/v1/schedules", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[schedulesResponse](t, rec).Schedules, 1)

	rec = do(t, srv, http.MethodPost, "/v1/schedules/hourly/run", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"hourly"}, sched.ran)

	sched.err = fmt.Errorf("%w: hourly", scheduler.ErrAlreadyRunning)
	rec = do(t, srv, http.MethodPost, "/v1/schedules/hourly/run", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	sched.err = fmt.Errorf("%w: yearly", scheduler.ErrUnknownCadence)
	rec = do(t, srv, http.MethodPost, "/v1/schedules/yearly/run", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMissingDependenciesAnswer503(t *testing.T) {
	srv := NewServer(Deps{})
	for _, tc := range []struct{ method, path string }{
		{http.MethodPost, "/v1/aggregations"},
		{http.MethodPost, "/v1/prune"},
		{http.MethodGet, "/v1/metrics?name=x"},
		{http.MethodGet, "/v1/kpis"},
		{http.MethodGet, "/v1/schedules"},
		{http.MethodGet, "/v1/jobs/abc"},
	} {
		rec := do(t, srv, tc.method, tc.path, "{}")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code, tc.path)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	srv := NewServer(Deps{})
	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/v1/aggregations"},
		{http.MethodGet, "/v1/prune"},
		{http.MethodDelete, "/v1/kpis"},
		{http.MethodGet, "/v1/schedules/hourly/run"},
		{http.MethodPost, "/v1/jobs/abc"},
	} {
		rec := do(t, srv, tc.method, tc.path, nil)
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code, "%s %s", tc.method, tc.path)
		assert.Contains(t, rec.Body.String(), "method not allowed")
	}
}

func TestUnknownRouteIsJSON404(t *testing.T) {
	srv := NewServer(Deps{})
	rec := do(t, srv, http.MethodGet, "/v1/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "route not found")
}

func TestRequestMetricsUseRouteTemplate(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := observability.NewMetrics(reg)
	srv := NewServer(Deps{Scheduler: &fakeScheduler{}}, WithMetrics(m))

	do(t, srv, http.MethodPost, "/v1/schedules/hourly/run", nil)
	do(t, srv, http.MethodPost, "/v1/schedules/daily/run", nil)

	count := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues(http.MethodPost, "/v1/schedules/{cadence}/run", "200"))
	assert.Equal(t, float64(2), count)
}

func TestRequestIDIsReturned(t *testing.T) {
	srv := NewServer(Deps{Scheduler: &fakeScheduler{}})
	rec := do(t, srv, http.MethodGet, "/v1/schedules", nil)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}
