package analytics

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/pulse/pkg/observability"
)

// PassResult summarizes one aggregation pass.
type PassResult struct {
	PassID      string        `json:"pass_id"`
	Granularity Granularity   `json:"granularity"`
	Start       time.Time     `json:"start"`
	End         time.Time     `json:"end"`
	Windows     int           `json:"windows"`
	RowsWritten int           `json:"rows_written"`
	Duration    time.Duration `json:"duration_ns"`
}

// Aggregator rolls raw events up into aggregated metrics, one batch of rows
// per window and family.
type Aggregator struct {
	events   EventStore
	store    MetricStore
	families []Family
	workers  int
	now      func() time.Time
	logger   *observability.Logger
	metrics  *observability.Metrics
}

// AggregatorOption configures an Aggregator.
type AggregatorOption func(*Aggregator)

// WithFamilies replaces DefaultFamilies.
func WithFamilies(families []Family) AggregatorOption {
	return func(a *Aggregator) { a.families = families }
}

// WithWorkers bounds how many windows are computed concurrently.
func WithWorkers(n int) AggregatorOption {
	return func(a *Aggregator) {
		if n > 0 {
			a.workers = n
		}
	}
}

// WithClock overrides the time source used for CreatedAt.
func WithClock(now func() time.Time) AggregatorOption {
	return func(a *Aggregator) { a.now = now }
}

// WithLogger sets the aggregator logger.
func WithLogger(logger *observability.Logger) AggregatorOption {
	return func(a *Aggregator) { a.logger = logger }
}

// WithMetrics records passes into Prometheus.
func WithMetrics(m *observability.Metrics) AggregatorOption {
	return func(a *Aggregator) { a.metrics = m }
}

// NewAggregator creates an aggregator reading events and writing metrics.
func NewAggregator(events EventStore, store MetricStore, opts ...AggregatorOption) (*Aggregator, error) {
	if events == nil || store == nil {
		return nil, errors.New("aggregator requires an event store and a metric store")
	}
	a := &Aggregator{
		events:   events,
		store:    store,
		families: DefaultFamilies(),
		workers:  runtime.GOMAXPROCS(0),
		now:      time.Now,
		logger:   observability.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if err := ValidateFamilies(a.families); err != nil {
		return nil, fmt.Errorf("invalid metric families: %w", err)
	}
	return a, nil
}

// Families returns the families computed by each pass.
func (a *Aggregator) Families() []Family {
	return append([]Family(nil), a.families...)
}

// Aggregate computes every family over every window of [start, end] at
// granularity g and upserts the rows.
//
// All windows are read before anything is written, so an event store failure
// leaves the metric store untouched. Rows of one window are written as a
// single batch; re-running a pass replaces rows under the same keys.
//
// Calendar boundaries follow start's location, so a DAY pass over a DST
// transition day is one 23h or 25h window. Stored rows are always UTC.
func (a *Aggregator) Aggregate(ctx context.Context, start, end time.Time, g Granularity) (PassResult, error) {
	end = end.In(start.Location())
	result := PassResult{
		PassID:      uuid.NewString(),
		Granularity: g,
		Start:       start.UTC(),
		End:         end.UTC(),
	}
	began := time.Now()

	ctx, span := observability.Tracer().Start(ctx, "analytics.Aggregate", trace.WithAttributes(
		attribute.String("pulse.pass_id", result.PassID),
		attribute.String("pulse.granularity", string(g)),
		attribute.String("pulse.start", start.Format(time.RFC3339)),
		attribute.String("pulse.end", end.Format(time.RFC3339)),
	))
	defer span.End()

	ctx = observability.WithPassID(ctx, result.PassID)
	logger := observability.FromContext(ctx, a.logger).WithFields(map[string]interface{}{
		"granularity": string(g),
		"start":       start,
		"end":         end,
	})

	err := a.aggregate(ctx, start, end, g, &result)
	result.Duration = time.Since(began)
	a.metrics.ObservePass(string(g), err, result.Duration, result.Windows, result.RowsWritten)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.WithError(err).Error("Aggregation pass failed")
		return result, err
	}
	span.SetAttributes(
		attribute.Int("pulse.windows", result.Windows),
		attribute.Int("pulse.rows", result.RowsWritten),
	)
	logger.WithFields(map[string]interface{}{
		"windows":     result.Windows,
		"rows":        result.RowsWritten,
		"duration_ms": result.Duration.Milliseconds(),
	}).Info("Aggregation pass complete")
	return result, nil
}

func (a *Aggregator) aggregate(ctx context.Context, start, end time.Time, g Granularity, result *PassResult) error {
	fail := func(w *Window, err error) error {
		return &AggregationError{Granularity: g, Start: start, End: end, Window: w, Err: err}
	}

	windows, err := GenerateWindows(start, end, g)
	if err != nil {
		return fail(nil, err)
	}

	computed := make([][]AggregatedMetric, len(windows))
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(a.workers)
	for i, w := range windows {
		eg.Go(func() error {
			rows, err := a.ComputeWindow(egCtx, w, g)
			if err != nil {
				return fail(&w, err)
			}
			computed[i] = rows
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}

	for i, rows := range computed {
		if err := ctx.Err(); err != nil {
			return fail(&windows[i], err)
		}
		if len(rows) > 0 {
			if err := a.store.UpsertBatch(ctx, rows); err != nil {
				return fail(&windows[i], storeError(ctx, "metrics", "upsert_batch", err))
			}
		}
		result.Windows++
		result.RowsWritten += len(rows)
	}
	return nil
}

// ComputeWindow evaluates every family over w without writing anything.
// Rates are derived from the rows of the families they reference.
func (a *Aggregator) ComputeWindow(ctx context.Context, w Window, g Granularity) ([]AggregatedMetric, error) {
	ctx, span := observability.Tracer().Start(ctx, "analytics.ComputeWindow", trace.WithAttributes(
		attribute.String("pulse.window", w.String()),
	))
	defer span.End()

	byFamily := make(map[string][]AggregatedMetric, len(a.families))
	var out []AggregatedMetric
	for _, f := range a.families {
		var (
			rows []AggregatedMetric
			err  error
		)
		switch f := f.(type) {
		case CountFamily:
			rows, err = a.Count(ctx, f, w, g)
		case UniqueCountFamily:
			rows, err = a.UniqueCount(ctx, f, w, g)
		case RateFamily:
			rows = a.Rate(f, byFamily[f.Numerator], byFamily[f.Denominator], w, g)
		default:
			err = fmt.Errorf("unsupported family type %T", f)
		}
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
		byFamily[f.MetricName()] = rows
		out = append(out, rows...)
	}
	return out, nil
}

// Count counts events of the family's types in w: one overall row plus one
// row per service observed in the window.
func (a *Aggregator) Count(ctx context.Context, f CountFamily, w Window, g Granularity) ([]AggregatedMetric, error) {
	filter := EventFilter{Types: f.Types, Start: w.Start, End: w.End}
	total, err := a.events.CountEvents(ctx, filter)
	if err != nil {
		return nil, storeError(ctx, "events", "count", err)
	}
	byService, err := a.events.CountEventsByService(ctx, filter)
	if err != nil {
		return nil, storeError(ctx, "events", "count_by_service", err)
	}
	attrs := map[string]string{
		"family":      "count",
		"event_types": typesAttribute(f.Types),
	}
	return a.dimensionRows(KindCount, f.Name, total, byService, w, g, attrs), nil
}

// UniqueCount counts distinct non-empty user or session identifiers among
// the family's events in w, overall and per service.
func (a *Aggregator) UniqueCount(ctx context.Context, f UniqueCountFamily, w Window, g Granularity) ([]AggregatedMetric, error) {
	filter := EventFilter{Types: f.Types, Start: w.Start, End: w.End}
	total, err := a.events.CountDistinct(ctx, filter, f.Field)
	if err != nil {
		return nil, storeError(ctx, "events", "count_distinct", err)
	}
	byService, err := a.events.CountDistinctByService(ctx, filter, f.Field)
	if err != nil {
		return nil, storeError(ctx, "events", "count_distinct_by_service", err)
	}
	attrs := map[string]string{
		"family":         "unique_count",
		"event_types":    typesAttribute(f.Types),
		"distinct_field": string(f.Field),
	}
	return a.dimensionRows(KindUniqueCount, f.Name, total, byService, w, g, attrs), nil
}

// Rate divides numerator rows by denominator rows of the same dimension.
// Every dimension present on either side gets a row; a zero or missing
// denominator yields 0.
func (a *Aggregator) Rate(f RateFamily, numerator, denominator []AggregatedMetric, w Window, g Granularity) []AggregatedMetric {
	num := valuesByDimension(numerator)
	den := valuesByDimension(denominator)

	dims := make(map[string]struct{}, len(num)+len(den))
	for d := range num {
		dims[d] = struct{}{}
	}
	for d := range den {
		dims[d] = struct{}{}
	}
	dims[DimensionOverall] = struct{}{}

	attrs := map[string]string{
		"family":      "rate",
		"numerator":   f.Numerator,
		"denominator": f.Denominator,
	}
	rows := make([]AggregatedMetric, 0, len(dims))
	for _, d := range sortedDimensions(dims) {
		rows = append(rows, a.newMetric(KindRate, f.Name, d, RateValue(num[d], den[d]), w, g, attrs))
	}
	return rows
}

// RateValue returns numerator/denominator, or 0 when the denominator is 0.
func RateValue(numerator, denominator float64) float64 {
	if denominator == 0 {
		return 0
	}
	return numerator / denominator
}

func (a *Aggregator) dimensionRows(kind MetricKind, name string, total int64, byService map[string]int64, w Window, g Granularity, attrs map[string]string) []AggregatedMetric {
	rows := make([]AggregatedMetric, 0, len(byService)+1)
	rows = append(rows, a.newMetric(kind, name, DimensionOverall, float64(total), w, g, attrs))

	services := make([]string, 0, len(byService))
	for s := range byService {
		if s != "" {
			services = append(services, s)
		}
	}
	sort.Strings(services)
	for _, s := range services {
		rows = append(rows, a.newMetric(kind, name, ServiceDimension(s), float64(byService[s]), w, g, attrs))
	}
	return rows
}

func (a *Aggregator) newMetric(kind MetricKind, name, dimension string, value float64, w Window, g Granularity, attrs map[string]string) AggregatedMetric {
	m := AggregatedMetric{
		Kind:        kind,
		Name:        name,
		Dimension:   dimension,
		Value:       value,
		WindowStart: w.Start.UTC(),
		WindowEnd:   w.End.UTC(),
		Granularity: g,
		CreatedAt:   a.now().UTC(),
		Attributes:  make(map[string]string, len(attrs)+1),
	}
	for k, v := range attrs {
		m.Attributes[k] = v
	}
	m.Attributes["window_seconds"] = strconv.FormatInt(int64(w.End.Sub(w.Start)/time.Second), 10)
	m.ID = MetricID(m.Key())
	return m
}

func valuesByDimension(rows []AggregatedMetric) map[string]float64 {
	out := make(map[string]float64, len(rows))
	for _, r := range rows {
		out[r.Dimension] = r.Value
	}
	return out
}

// sortedDimensions orders overall first, then services alphabetically.
func sortedDimensions(dims map[string]struct{}) []string {
	out := make([]string, 0, len(dims))
	for d := range dims {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i] == DimensionOverall {
			return out[j] != DimensionOverall
		}
		if out[j] == DimensionOverall {
			return false
		}
		return out[i] < out[j]
	})
	return out
}

// storeError reports cancellation as-is and wraps everything else as a data
// source failure.
func storeError(ctx context.Context, store, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return NewDataSourceError(store, op, err)
}
