package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/pulse/pkg/analytics"
	"github.com/platinummonkey/pulse/pkg/async"
	"github.com/platinummonkey/pulse/pkg/httputil"
	"github.com/platinummonkey/pulse/pkg/kpi"
	"github.com/platinummonkey/pulse/pkg/observability"
	"github.com/platinummonkey/pulse/pkg/scheduler"
)

// maxBodyBytes bounds every request body.
const maxBodyBytes = 1 << 20

// DefaultMaxWindows caps the windows of one requested aggregation pass.
const DefaultMaxWindows = 10000

// Aggregator runs aggregation passes.
type Aggregator interface {
	Aggregate(ctx context.Context, start, end time.Time, g analytics.Granularity) (analytics.PassResult, error)
}

// Pruner deletes aggregated rows older than a cutoff.
type Pruner interface {
	Prune(ctx context.Context, cutoff time.Time) (int64, error)
}

// MetricReader reads aggregated rows.
type MetricReader interface {
	Query(ctx context.Context, q analytics.MetricQuery) ([]analytics.AggregatedMetric, error)
}

// KPIService evaluates configured KPIs.
type KPIService interface {
	EvaluateAll(ctx context.Context) ([]kpi.DomainKPI, error)
	Evaluate(ctx context.Context, name string) (kpi.DomainKPI, error)
}

// Scheduler exposes cadence state and manual triggers.
type Scheduler interface {
	Status() []scheduler.CadenceStatus
	RunNow(ctx context.Context, name string) error
}

// Deps are the collaborators behind the routes. A nil collaborator leaves
// its routes answering 503.
type Deps struct {
	Aggregator Aggregator
	Pruner     Pruner
	Metrics    MetricReader
	KPIs       KPIService
	Scheduler  Scheduler
	// Jobs enables async aggregation requests.
	Jobs *async.Tracker
}

// Server is the pulse HTTP trigger surface.
type Server struct {
	deps       Deps
	router     *mux.Router
	handler    http.Handler
	logger     *observability.Logger
	metrics    *observability.Metrics
	evaluator  *kpi.Evaluator
	maxWindows int
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(logger *observability.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithMaxWindows caps how many windows a POST /v1/aggregations request may
// span. Non-positive values keep DefaultMaxWindows.
func WithMaxWindows(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxWindows = n
		}
	}
}

// WithMetrics enables Prometheus request metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// NewServer builds the router and its middleware stack.
func NewServer(deps Deps, opts ...Option) *Server {
	s := &Server{
		deps:       deps,
		router:     mux.NewRouter(),
		logger:     observability.NewNopLogger(),
		evaluator:  kpi.NewEvaluator(),
		maxWindows: DefaultMaxWindows,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.router.Use(observability.HTTPMetricsMiddleware(s.metrics, routeTemplate))
	s.setupRoutes()

	chain := httputil.Chain(
		httputil.RequestIDMiddleware(s.logger),
		httputil.LoggingMiddleware(s.logger),
		httputil.RecoveryMiddleware(s.logger),
		httputil.ContentTypeMiddleware,
		httputil.MaxBytesMiddleware(maxBodyBytes),
	)
	s.handler = otelhttp.NewHandler(chain(s.router), "pulse-api",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + routeTemplate(r)
		}),
	)
	return s
}

// apiPrefix is the version prefix of every route. Routes are registered with
// full paths on the root router so a method mismatch answers 405.
const apiPrefix = "/v1"

func (s *Server) setupRoutes() {
	r := s.router
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteNotFound(w, "route not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteErrorMessage(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.HandleFunc(apiPrefix+"/aggregations", s.runAggregation).Methods(http.MethodPost)
	r.HandleFunc(apiPrefix+"/jobs/{id}", s.getJob).Methods(http.MethodGet)
	r.HandleFunc(apiPrefix+"/prune", s.prune).Methods(http.MethodPost)

	r.HandleFunc(apiPrefix+"/metrics", s.queryMetrics).Methods(http.MethodGet)

	r.HandleFunc(apiPrefix+"/kpis", s.listKPIs).Methods(http.MethodGet)
	r.HandleFunc(apiPrefix+"/kpis/evaluate", s.evaluateKPI).Methods(http.MethodPost)
	r.HandleFunc(apiPrefix+"/kpis/{name}", s.getKPI).Methods(http.MethodGet)

	r.HandleFunc(apiPrefix+"/schedules", s.listSchedules).Methods(http.MethodGet)
	r.HandleFunc(apiPrefix+"/schedules/{cadence}/run", s.runSchedule).Methods(http.MethodPost)
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Router returns the underlying router for extra registrations.
func (s *Server) Router() *mux.Router {
	return s.router
}

// routeTemplate labels a request by its route pattern to keep metric
// cardinality bounded.
func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

func (s *Server) log(r *http.Request) *observability.Logger {
	return observability.FromContext(r.Context(), s.logger)
}
