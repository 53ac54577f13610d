package kpi

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/pulse/pkg/analytics"
	"github.com/platinummonkey/pulse/pkg/observability"
)

// ErrUnknownKPI is returned when a KPI name is not configured.
var ErrUnknownKPI = errors.New("unknown kpi")

// DomainSource supplies normalized domain metrics, typically the collector.
type DomainSource interface {
	Collect(ctx context.Context) ([]DomainMetric, error)
}

// Service evaluates configured KPIs against aggregated and domain metrics.
type Service struct {
	holder  *Holder
	store   analytics.MetricStore
	domain  DomainSource
	logger  *observability.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithDomainSource enables KPIs backed by domain metrics.
func WithDomainSource(src DomainSource) ServiceOption {
	return func(s *Service) { s.domain = src }
}

// WithServiceLogger sets the service logger.
func WithServiceLogger(logger *observability.Logger) ServiceOption {
	return func(s *Service) { s.logger = logger }
}

// WithServiceMetrics exports evaluations as Prometheus gauges.
func WithServiceMetrics(m *observability.Metrics) ServiceOption {
	return func(s *Service) { s.metrics = m }
}

// WithServiceClock overrides the time source.
func WithServiceClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

// NewService creates a KPI service reading definitions from holder.
func NewService(holder *Holder, store analytics.MetricStore, opts ...ServiceOption) *Service {
	s := &Service{
		holder: holder,
		store:  store,
		logger: observability.NewNopLogger(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Definitions returns the active KPI definitions.
func (s *Service) Definitions() []Definition {
	return append([]Definition(nil), s.holder.Current().Definitions...)
}

func (s *Service) evaluator(r *Registry) *Evaluator {
	return NewEvaluator(
		WithTrendConfig(r.Trend),
		WithPresetStatus(r.PresetStatus),
		WithEvaluatorClock(s.now),
	)
}

// EvaluateAll evaluates every configured KPI. A KPI whose data cannot be
// read is reported as UNKNOWN; the error of the first failed read is
// returned alongside the full result set.
func (s *Service) EvaluateAll(ctx context.Context) ([]DomainKPI, error) {
	ctx, span := observability.Tracer().Start(ctx, "kpi.EvaluateAll")
	defer span.End()

	r := s.holder.Current()
	eval := s.evaluator(r)

	var domainMetrics map[string]DomainMetric
	var firstErr error
	if s.needsDomain(r) {
		var err error
		domainMetrics, err = s.collectDomain(ctx)
		if err != nil {
			firstErr = err
		}
	}

	out := make([]DomainKPI, 0, len(r.Definitions))
	for _, def := range r.Definitions {
		k, err := s.evaluate(ctx, eval, def, domainMetrics)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			s.logger.WithError(err).WithField("kpi", def.Name).Warn("KPI evaluated without data")
		}
		out = append(out, k)
	}
	span.SetAttributes(attribute.Int("pulse.kpis", len(out)))
	return out, firstErr
}

// Evaluate evaluates a single configured KPI by name.
func (s *Service) Evaluate(ctx context.Context, name string) (DomainKPI, error) {
	r := s.holder.Current()
	def, ok := r.Lookup(name)
	if !ok {
		return DomainKPI{}, fmt.Errorf("%w: %s", ErrUnknownKPI, name)
	}
	var domainMetrics map[string]DomainMetric
	if !def.FromAggregates() {
		var err error
		if domainMetrics, err = s.collectDomain(ctx); err != nil {
			return s.unknown(s.evaluator(r), def), err
		}
	}
	return s.evaluate(ctx, s.evaluator(r), def, domainMetrics)
}

func (s *Service) needsDomain(r *Registry) bool {
	for _, d := range r.Definitions {
		if !d.FromAggregates() {
			return true
		}
	}
	return false
}

func (s *Service) collectDomain(ctx context.Context) (map[string]DomainMetric, error) {
	if s.domain == nil {
		return nil, errors.New("no domain metric source configured")
	}
	ms, err := s.domain.Collect(ctx)
	out := make(map[string]DomainMetric, len(ms))
	for _, m := range ms {
		out[m.Key()] = m
	}
	return out, err
}

func (s *Service) evaluate(ctx context.Context, eval *Evaluator, def Definition, domainMetrics map[string]DomainMetric) (DomainKPI, error) {
	ctx, span := observability.Tracer().Start(ctx, "kpi.Evaluate", trace.WithAttributes(
		attribute.String("pulse.kpi", def.Name),
	))
	defer span.End()

	in := Input{
		Name:       def.Name,
		Domain:     def.Domain,
		Target:     def.Target,
		Thresholds: def.Thresholds,
	}

	if def.FromAggregates() {
		rows, err := s.store.Query(ctx, analytics.MetricQuery{
			Name:        def.Metric,
			Dimension:   def.Dimension,
			Granularity: def.Granularity,
			End:         s.now().UTC(),
			Limit:       def.History,
		})
		if err != nil {
			span.RecordError(err)
			return s.unknown(eval, def), analytics.NewDataSourceError("metrics", "query", err)
		}
		if len(rows) == 0 {
			return s.unknown(eval, def), nil
		}
		in.History = make([]float64, len(rows))
		in.SourceIDs = make([]string, len(rows))
		for i, row := range rows {
			in.History[i] = row.Value
			in.SourceIDs[i] = row.ID
		}
		in.Value = in.History[len(in.History)-1]
		return s.export(eval.Evaluate(in)), nil
	}

	m, ok := domainMetrics[def.DomainRef]
	if !ok {
		in.Value = math.NaN()
		return s.export(eval.Evaluate(in)), nil
	}
	in.Value = m.Value
	in.ChangePercentage = m.ChangePercentage
	in.SourceIDs = []string{m.ID}
	return s.export(eval.Evaluate(in)), nil
}

func (s *Service) unknown(eval *Evaluator, def Definition) DomainKPI {
	return s.export(eval.Evaluate(Input{
		Name:       def.Name,
		Domain:     def.Domain,
		Value:      math.NaN(),
		Target:     def.Target,
		Thresholds: def.Thresholds,
	}))
}

func (s *Service) export(k DomainKPI) DomainKPI {
	if k.Value != nil {
		s.metrics.SetKPI(k.Name, k.Status.Code(), *k.Value)
	} else {
		s.metrics.SetKPI(k.Name, k.Status.Code(), 0)
	}
	return k
}
