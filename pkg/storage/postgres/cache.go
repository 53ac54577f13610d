package postgres

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/platinummonkey/pulse/pkg/analytics"
	"github.com/platinummonkey/pulse/pkg/observability"
)

const (
	cacheKeyPrefix   = "pulse:metrics"
	generationKey    = cacheKeyPrefix + ":gen"
	defaultCacheTTL  = 5 * time.Minute
	defaultL1Entries = 1024
)

// CachedMetricStore puts an in-process LRU (L1) and optionally Redis (L2) in
// front of a MetricStore's Query. Every write bumps a generation counter
// that is part of each cache key, so stale entries are never read after a
// write. Cache failures fall through to the store.
type CachedMetricStore struct {
	next     analytics.MetricStore
	l1       *lru.LRU[string, []analytics.AggregatedMetric]
	redis    *RedisClient
	ttl      time.Duration
	localGen atomic.Int64
	logger   *observability.Logger
	metrics  *observability.Metrics
}

// CacheOption configures a CachedMetricStore.
type CacheOption func(*CachedMetricStore)

// WithRedis enables the L2 cache.
func WithRedis(c *RedisClient) CacheOption {
	return func(s *CachedMetricStore) { s.redis = c }
}

// WithCacheLogger sets the logger.
func WithCacheLogger(logger *observability.Logger) CacheOption {
	return func(s *CachedMetricStore) { s.logger = logger }
}

// WithCacheMetrics records hits and misses.
func WithCacheMetrics(m *observability.Metrics) CacheOption {
	return func(s *CachedMetricStore) { s.metrics = m }
}

// NewCachedMetricStore wraps next. Non-positive size and ttl use defaults.
func NewCachedMetricStore(next analytics.MetricStore, size int, ttl time.Duration, opts ...CacheOption) *CachedMetricStore {
	if size <= 0 {
		size = defaultL1Entries
	}
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	s := &CachedMetricStore{
		next:   next,
		l1:     lru.NewLRU[string, []analytics.AggregatedMetric](size, nil, ttl),
		ttl:    ttl,
		logger: observability.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *CachedMetricStore) Upsert(ctx context.Context, m analytics.AggregatedMetric) error {
	if err := s.next.Upsert(ctx, m); err != nil {
		return err
	}
	s.invalidate(ctx)
	return nil
}

func (s *CachedMetricStore) UpsertBatch(ctx context.Context, ms []analytics.AggregatedMetric) error {
	if err := s.next.UpsertBatch(ctx, ms); err != nil {
		return err
	}
	s.invalidate(ctx)
	return nil
}

func (s *CachedMetricStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	n, err := s.next.DeleteBefore(ctx, cutoff)
	if err != nil {
		return n, err
	}
	if n > 0 {
		s.invalidate(ctx)
	}
	return n, nil
}

func (s *CachedMetricStore) Query(ctx context.Context, q analytics.MetricQuery) ([]analytics.AggregatedMetric, error) {
	key := s.key(ctx, q)

	if ms, ok := s.l1.Get(key); ok {
		s.metrics.ObserveCache("l1", true)
		return cloneMetrics(ms), nil
	}
	s.metrics.ObserveCache("l1", false)

	if s.redis != nil {
		var ms []analytics.AggregatedMetric
		err := s.redis.GetJSON(ctx, key, &ms)
		switch {
		case err == nil:
			s.metrics.ObserveCache("l2", true)
			s.l1.Add(key, ms)
			return cloneMetrics(ms), nil
		case errors.Is(err, ErrCacheMiss):
			s.metrics.ObserveCache("l2", false)
		default:
			s.logger.WithError(err).Debug("Metric cache read failed")
		}
	}

	ms, err := s.next.Query(ctx, q)
	if err != nil {
		return nil, err
	}

	s.l1.Add(key, cloneMetrics(ms))
	if s.redis != nil {
		if err := s.redis.SetJSON(ctx, key, ms, s.ttl); err != nil {
			s.logger.WithError(err).Debug("Metric cache write failed")
		}
	}
	return ms, nil
}

// Purge drops every L1 entry.
func (s *CachedMetricStore) Purge() {
	s.l1.Purge()
}

func (s *CachedMetricStore) key(ctx context.Context, q analytics.MetricQuery) string {
	gen := s.localGen.Load()
	if s.redis != nil {
		if g, err := s.redis.Generation(ctx, generationKey); err == nil {
			gen = g
		} else {
			s.logger.WithError(err).Debug("Metric cache generation read failed")
		}
	}
	return fmt.Sprintf("%s:%d:%s|%s|%s|%d|%d|%d", cacheKeyPrefix, gen,
		q.Name, q.Dimension, q.Granularity, unixOrZero(q.Start), unixOrZero(q.End), q.Limit)
}

func (s *CachedMetricStore) invalidate(ctx context.Context) {
	s.localGen.Add(1)
	s.l1.Purge()
	if s.redis == nil {
		return
	}
	if _, err := s.redis.Incr(ctx, generationKey); err != nil {
		s.logger.WithError(err).Warn("Metric cache invalidation failed")
	}
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func cloneMetrics(ms []analytics.AggregatedMetric) []analytics.AggregatedMetric {
	if ms == nil {
		return nil
	}
	out := make([]analytics.AggregatedMetric, len(ms))
	for i, m := range ms {
		out[i] = m
		if m.Attributes != nil {
			attrs := make(map[string]string, len(m.Attributes))
			for k, v := range m.Attributes {
				attrs[k] = v
			}
			out[i].Attributes = attrs
		}
	}
	return out
}

var _ analytics.MetricStore = (*CachedMetricStore)(nil)
