package collector

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/pulse/pkg/kpi"
	"github.com/platinummonkey/pulse/pkg/observability"
)

// ErrStale marks results served from the last-good cache.
var ErrStale = errors.New("stale domain metrics")

// StaleError carries the fetch failure that caused a fallback.
type StaleError struct {
	Source    string
	FetchedAt time.Time
	Err       error
}

func (e *StaleError) Error() string {
	return fmt.Sprintf("source %s: serving metrics fetched at %s: %v", e.Source, e.FetchedAt.Format(time.RFC3339), e.Err)
}

func (e *StaleError) Is(target error) bool {
	return target == ErrStale
}

func (e *StaleError) Unwrap() error {
	return e.Err
}

type cached struct {
	metrics   []kpi.DomainMetric
	fetchedAt time.Time
}

// LastGood remembers the most recent successful fetch per source.
type LastGood struct {
	cache *lru.LRU[string, cached]
	now   func() time.Time
}

// NewLastGood keeps up to size sources for at most ttl. A zero ttl never expires.
func NewLastGood(size int, ttl time.Duration) *LastGood {
	if size <= 0 {
		size = 64
	}
	return &LastGood{
		cache: lru.NewLRU[string, cached](size, nil, ttl),
		now:   time.Now,
	}
}

// FetchWithFallback fetches from src. On failure, including an open breaker,
// it returns the last good result together with a *StaleError when one exists;
// otherwise the fetch error.
func FetchWithFallback(ctx context.Context, src Source, lg *LastGood, metrics *observability.Metrics) ([]kpi.DomainMetric, error) {
	ms, err := src.Fetch(ctx)
	if err == nil {
		if lg != nil {
			lg.cache.Add(src.Name(), cached{metrics: ms, fetchedAt: lg.now()})
		}
		metrics.ObserveFetch(src.Name(), "ok")
		return ms, nil
	}
	if ctx.Err() != nil {
		metrics.ObserveFetch(src.Name(), "error")
		return nil, err
	}
	if lg != nil {
		if c, ok := lg.cache.Get(src.Name()); ok {
			metrics.ObserveFetch(src.Name(), "stale")
			return c.metrics, &StaleError{Source: src.Name(), FetchedAt: c.fetchedAt, Err: err}
		}
	}
	metrics.ObserveFetch(src.Name(), "error")
	return nil, err
}

// Collector gathers and normalizes metrics from every configured source.
type Collector struct {
	sources    []Source
	lastGood   *LastGood
	normalizer *kpi.Normalizer
	logger     *observability.Logger
	metrics    *observability.Metrics
	workers    int
}

// Option configures a Collector.
type Option func(*Collector)

// WithLastGood sets the fallback cache.
func WithLastGood(lg *LastGood) Option {
	return func(c *Collector) { c.lastGood = lg }
}

// WithNormalizer replaces the default normalizer.
func WithNormalizer(n *kpi.Normalizer) Option {
	return func(c *Collector) { c.normalizer = n }
}

// WithLogger sets the collector logger.
func WithLogger(logger *observability.Logger) Option {
	return func(c *Collector) { c.logger = logger }
}

// WithMetrics records fetch outcomes.
func WithMetrics(m *observability.Metrics) Option {
	return func(c *Collector) { c.metrics = m }
}

// WithWorkers limits concurrent fetches.
func WithWorkers(n int) Option {
	return func(c *Collector) {
		if n > 0 {
			c.workers = n
		}
	}
}

// New creates a Collector over sources.
func New(sources []Source, opts ...Option) *Collector {
	c := &Collector{
		sources:  sources,
		lastGood: NewLastGood(len(sources), 0),
		logger:   observability.NewNopLogger(),
		workers:  4,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.normalizer == nil {
		c.normalizer = kpi.NewNormalizer(kpi.DefaultUnitConfig(), c.logger, c.metrics)
	}
	return c
}

// Sources returns the configured source names.
func (c *Collector) Sources() []string {
	names := make([]string, len(c.sources))
	for i, s := range c.sources {
		names[i] = s.Name()
	}
	return names
}

// Collect fetches every source concurrently and returns the normalized
// metrics. Stale fallbacks are logged and included. Sources that produced
// nothing are reported in the joined error alongside the partial result.
func (c *Collector) Collect(ctx context.Context) ([]kpi.DomainMetric, error) {
	logger := observability.FromContext(ctx, c.logger)

	results := make([][]kpi.DomainMetric, len(c.sources))
	var (
		mu   sync.Mutex
		errs []error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers)
	for i, src := range c.sources {
		g.Go(func() error {
			ms, err := FetchWithFallback(gctx, src, c.lastGood, c.metrics)
			switch {
			case err == nil:
			case errors.Is(err, ErrStale):
				logger.WithError(err).WithField("source", src.Name()).Warn("Using stale domain metrics")
			default:
				logger.WithError(err).WithField("source", src.Name()).Error("Domain metric fetch failed")
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			results[i] = ms
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var all []kpi.DomainMetric
	for _, ms := range results {
		all = append(all, ms...)
	}
	return c.normalizer.NormalizeAll(ctx, all), errors.Join(errs...)
}

var _ kpi.DomainSource = (*Collector)(nil)
