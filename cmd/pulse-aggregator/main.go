package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/platinummonkey/pulse/pkg/analytics"
	"github.com/platinummonkey/pulse/pkg/api"
	"github.com/platinummonkey/pulse/pkg/async"
	"github.com/platinummonkey/pulse/pkg/config"
	"github.com/platinummonkey/pulse/pkg/kpi"
	"github.com/platinummonkey/pulse/pkg/observability"
	"github.com/platinummonkey/pulse/pkg/scheduler"
)

var version = "dev"

var (
	runOnce     = flag.Bool("run-once", false, "Aggregate the previous period once and exit")
	granularity = flag.String("granularity", "DAY", "Granularity for --run-once")
	at          = flag.String("at", "", "Reference time for --run-once (RFC 3339); defaults to now")
	noScheduler = flag.Bool("no-scheduler", false, "Serve the API without firing cadences")
	logLevel    = flag.String("log-level", "", "Override PULSE_LOG_LEVEL")
)

func main() {
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *logLevel != "" {
		cfg.Observability.LogLevel = observability.ParseLogLevel(*logLevel)
	}
	if *noScheduler {
		cfg.Aggregation.SchedulerEnabled = false
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout).
		WithFields(map[string]interface{}{"service": "pulse-aggregator", "version": version})

	if err := run(context.Background(), cfg, logger); err != nil {
		logger.WithError(err).Error("pulse-aggregator exited with error")
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *observability.Logger) error {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(registry)
	}

	otelProviders, err := observability.InitOTel(ctx, cfg.Observability.OTel(), logger)
	if err != nil {
		return fmt.Errorf("init otel: %w", err)
	}

	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout)
	shutdown.RegisterShutdownFunc("otel", otelProviders.Shutdown)

	stores, err := openStores(ctx, cfg, logger, metrics)
	if err != nil {
		return err
	}
	shutdown.RegisterShutdownFunc("storage", func(context.Context) error { return stores.Close() })

	aggregator, err := analytics.NewAggregator(stores.events, stores.metrics,
		analytics.WithWorkers(cfg.Aggregation.Workers),
		analytics.WithLogger(logger),
		analytics.WithMetrics(metrics),
	)
	if err != nil {
		return fmt.Errorf("create aggregator: %w", err)
	}
	pruner := analytics.NewPruner(stores.metrics, logger, metrics)

	if *runOnce {
		defer func() { _ = shutdown.Shutdown(context.Background()) }()
		return aggregateOnce(ctx, cfg, aggregator, logger)
	}

	kpis, err := newKPIService(ctx, cfg, stores.metrics, logger, metrics, shutdown)
	if err != nil {
		return err
	}

	cadences := scheduler.DefaultCadences(aggregator, pruner, cfg.Aggregation.Retention)
	for i := range cadences {
		if spec, ok := cfg.Aggregation.Schedules[cadences[i].Name]; ok {
			cadences[i].Spec = spec
		}
		if cadences[i].Granularity != "" {
			cadences[i].Run = refreshKPIsAfter(cadences[i].Run, kpis, logger)
		}
	}
	sched, err := scheduler.New(cadences,
		scheduler.WithLocation(cfg.Aggregation.Location),
		scheduler.WithLogger(logger),
		scheduler.WithMetrics(metrics),
	)
	if err != nil {
		return fmt.Errorf("create scheduler: %w", err)
	}
	if cfg.Aggregation.SchedulerEnabled {
		sched.Start()
	} else {
		logger.Info("Scheduler disabled, cadences run only on demand")
	}
	shutdown.RegisterShutdownFunc("scheduler", sched.Stop)

	jobs := async.NewTracker(256, time.Hour, logger)
	shutdown.RegisterShutdownFunc("jobs", jobs.Close)

	apiServer := api.NewServer(api.Deps{
		Aggregator: aggregator,
		Pruner:     pruner,
		Metrics:    stores.metrics,
		KPIs:       kpis,
		Scheduler:  sched,
		Jobs:       jobs,
	}, api.WithLogger(logger), api.WithMetrics(metrics), api.WithMaxWindows(cfg.Aggregation.MaxRequestWindows))

	httpServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      apiServer,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	healthServer := &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler:           healthMux(stores, registry),
		ReadHeaderTimeout: 5 * time.Second,
	}
	shutdown.RegisterServer(httpServer)
	shutdown.RegisterServer(healthServer)

	serveErr := make(chan error, 2)
	for _, srv := range []*http.Server{httpServer, healthServer} {
		go func(srv *http.Server) {
			defer observability.RecoverPanic(logger, "http server "+srv.Addr)
			logger.WithField("addr", srv.Addr).Info("HTTP server listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serveErr <- fmt.Errorf("serve %s: %w", srv.Addr, err)
			}
		}(srv)
	}

	sigCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		if err := <-serveErr; err != nil {
			logger.WithError(err).Error("HTTP server failed")
			cancel()
		}
	}()

	logger.WithFields(map[string]interface{}{
		"storage":   cfg.Storage.Type,
		"cadences":  sched.Names(),
		"kpis":      len(kpis.Definitions()),
		"scheduler": cfg.Aggregation.SchedulerEnabled,
	}).Info("pulse-aggregator started")

	return shutdown.WaitForSignal(sigCtx)
}

// aggregateOnce aggregates the period before --at at --granularity.
func aggregateOnce(ctx context.Context, cfg *config.Config, agg *analytics.Aggregator, logger *observability.Logger) error {
	g, err := analytics.ParseGranularity(*granularity)
	if err != nil {
		return err
	}
	now := time.Now()
	if *at != "" {
		if now, err = time.Parse(time.RFC3339, *at); err != nil {
			return fmt.Errorf("invalid --at: %w", err)
		}
	}
	start, end, err := scheduler.PreviousPeriod(now.In(cfg.Aggregation.Location), g)
	if err != nil {
		return err
	}
	logger.WithFields(map[string]interface{}{
		"granularity": string(g),
		"start":       start,
		"end":         end,
	}).Info("Running single aggregation pass")

	result, err := agg.Aggregate(ctx, start, end, g)
	if err != nil {
		return err
	}
	logger.WithFields(map[string]interface{}{
		"windows": result.Windows,
		"rows":    result.RowsWritten,
	}).Info("Aggregation completed successfully")
	return nil
}

// refreshKPIsAfter re-evaluates KPIs once a pass has written new rows, so
// the exported gauges follow the aggregates. Evaluation problems do not fail
// the cadence.
func refreshKPIsAfter(run scheduler.Job, kpis *kpi.Service, logger *observability.Logger) scheduler.Job {
	return func(ctx context.Context, now time.Time) error {
		if err := run(ctx, now); err != nil {
			return err
		}
		if _, err := kpis.EvaluateAll(ctx); err != nil {
			observability.FromContext(ctx, logger).WithError(err).Warn("KPI refresh after aggregation incomplete")
		}
		return nil
	}
}

func newKPIService(ctx context.Context, cfg *config.Config, store analytics.MetricStore, logger *observability.Logger, metrics *observability.Metrics, shutdown *observability.ShutdownManager) (*kpi.Service, error) {
	registry := kpi.EmptyRegistry()
	if cfg.KPI.ConfigPath != "" {
		var err error
		if registry, err = kpi.LoadFile(cfg.KPI.ConfigPath); err != nil {
			return nil, err
		}
	}
	holder := kpi.NewHolder(registry)

	if cfg.KPI.ConfigPath != "" && cfg.KPI.WatchConfig {
		watchCtx, cancel := context.WithCancel(ctx)
		watcher := kpi.NewWatcher(cfg.KPI.ConfigPath, holder, logger, nil)
		go func() {
			defer observability.RecoverPanic(logger, "kpi watcher")
			if err := watcher.Run(watchCtx); err != nil && !errors.Is(err, context.Canceled) {
				logger.WithError(err).Error("KPI config watcher stopped")
			}
		}()
		shutdown.RegisterShutdownFunc("kpi-watcher", func(context.Context) error {
			cancel()
			return nil
		})
	}

	opts := []kpi.ServiceOption{
		kpi.WithServiceLogger(logger),
		kpi.WithServiceMetrics(metrics),
	}
	if col := newCollector(cfg, holder, logger, metrics); col != nil {
		opts = append(opts, kpi.WithDomainSource(col))
	}
	return kpi.NewService(holder, store, opts...), nil
}

func healthMux(stores *stores, registry *prometheus.Registry) *http.ServeMux {
	mux := http.NewServeMux()
	checker := observability.NewHealthChecker(stores.db(), stores.redisCmdable(), version)
	observability.RegisterHealthRoutes(mux, checker)
	observability.RegisterMetricsEndpoint(mux, registry)
	return mux
}
