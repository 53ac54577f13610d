package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"

	"github.com/platinummonkey/pulse/pkg/analytics"
	"github.com/platinummonkey/pulse/pkg/breaker"
	"github.com/platinummonkey/pulse/pkg/collector"
	"github.com/platinummonkey/pulse/pkg/config"
	"github.com/platinummonkey/pulse/pkg/kpi"
	"github.com/platinummonkey/pulse/pkg/observability"
	"github.com/platinummonkey/pulse/pkg/storage"
	"github.com/platinummonkey/pulse/pkg/storage/postgres"
)

// stores is the storage wiring for one process.
type stores struct {
	events  analytics.EventStore
	metrics analytics.MetricStore

	conn  *postgres.ConnectionManager
	redis *postgres.RedisClient
	stop  context.CancelFunc
}

func openStores(ctx context.Context, cfg *config.Config, logger *observability.Logger, metrics *observability.Metrics) (*stores, error) {
	switch cfg.Storage.Type {
	case "memory":
		logger.Warn("Using in-memory storage; aggregated metrics are lost on restart")
		return &stores{
			events:  storage.NewMemoryEventStore(),
			metrics: storage.NewMemoryMetricStore(),
		}, nil
	case "postgres":
	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Storage.Type)
	}

	conn, err := postgres.NewConnectionManager(ctx, postgres.ConnectionConfigFromStorage(cfg.Storage), logger)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := postgres.RunMigrations(ctx, conn.Primary(), logger); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	s := &stores{
		events: postgres.NewEventStore(conn),
		conn:   conn,
		stop:   func() {},
	}
	if conn.ReplicaCount() > 0 {
		var healthCtx context.Context
		healthCtx, s.stop = context.WithCancel(context.Background())
		conn.StartHealthCheckRoutine(healthCtx, 0)
	}
	var metricStore analytics.MetricStore = postgres.NewMetricStore(conn)

	if cfg.Storage.CacheEnabled {
		var opts []postgres.CacheOption
		if cfg.Storage.RedisURL != "" {
			rc, err := postgres.NewRedisClient(ctx, cfg.Storage)
			if err != nil {
				// The query cache is optional; run on L1 alone.
				logger.WithError(err).Warn("Redis unavailable, query cache is process-local")
			} else {
				s.redis = rc
				opts = append(opts, postgres.WithRedis(rc))
			}
		}
		opts = append(opts, postgres.WithCacheLogger(logger), postgres.WithCacheMetrics(metrics))
		metricStore = postgres.NewCachedMetricStore(metricStore, cfg.Storage.L1CacheSize, cfg.Storage.CacheTTL, opts...)
	}
	s.metrics = metricStore
	return s, nil
}

func (s *stores) db() *sql.DB {
	if s.conn == nil {
		return nil
	}
	return s.conn.Primary()
}

func (s *stores) redisCmdable() redis.Cmdable {
	if s.redis == nil {
		return nil
	}
	return s.redis.Client()
}

func (s *stores) Close() error {
	if s.stop != nil {
		s.stop()
	}
	var errs []error
	if s.redis != nil {
		errs = append(errs, s.redis.Close())
	}
	if s.conn != nil {
		errs = append(errs, s.conn.Close())
	}
	return errors.Join(errs...)
}

// newCollector builds the domain collector, or nil when no sources are
// configured. Each source gets its own breaker.
func newCollector(cfg *config.Config, holder *kpi.Holder, logger *observability.Logger, metrics *observability.Metrics) *collector.Collector {
	if len(cfg.Collector.Sources) == 0 {
		return nil
	}
	breakerCfg := breaker.Config{
		MaxFailures:  cfg.Collector.BreakerMaxFailures,
		ResetTimeout: cfg.Collector.BreakerResetTimeout,
	}
	sources := make([]collector.Source, 0, len(cfg.Collector.Sources))
	for _, sc := range cfg.Collector.Sources {
		b := breaker.New(sc.Name, breakerCfg, breaker.WithLogger(logger), breaker.WithMetrics(metrics))
		sources = append(sources, collector.NewHTTPSource(sc.Name, sc.URL,
			collector.WithTimeout(cfg.Collector.Timeout),
			collector.WithBreaker(b),
		))
	}
	return collector.New(sources,
		collector.WithLastGood(collector.NewLastGood(len(sources), cfg.Collector.StaleTTL)),
		collector.WithNormalizer(kpi.NewHolderNormalizer(holder, logger, metrics)),
		collector.WithLogger(logger),
		collector.WithMetrics(metrics),
	)
}
