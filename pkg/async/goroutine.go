package async

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/pulse/pkg/observability"
)

// SafeGo executes fn in a goroutine bounded by timeout, recovering panics
// and logging errors. A non-positive timeout means no deadline beyond ctx.
//
//	async.SafeGo(ctx, logger, time.Minute, "kpi export", func(ctx context.Context) error {
//	    _, err := svc.EvaluateAll(ctx)
//	    return err
//	})
func SafeGo(parentCtx context.Context, logger *observability.Logger, timeout time.Duration, taskName string, fn func(context.Context) error) {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	go func() {
		ctx, cancel := withOptionalTimeout(parentCtx, timeout)
		defer cancel()
		defer observability.RecoverPanic(logger, taskName)

		if err := fn(ctx); err != nil {
			logger.WithError(err).WithField("task", taskName).Error("Background task failed")
		}
	}()
}

func withOptionalTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

// Batch runs fn over items with at most workers in flight and returns every
// error. Each call gets its own timeout; panics are returned as errors. All
// items run even when some fail.
//
//	errs := async.Batch(ctx, granularities, 2, time.Hour, func(ctx context.Context, g analytics.Granularity) error {
//	    _, err := agg.Aggregate(ctx, start, end, g)
//	    return err
//	})
func Batch[T any](ctx context.Context, items []T, workers int, timeout time.Duration, fn func(context.Context, T) error) []error {
	if workers <= 0 {
		workers = 1
	}

	var (
		mu   sync.Mutex
		errs []error
	)
	var g errgroup.Group
	g.SetLimit(workers)
	for _, item := range items {
		g.Go(func() (err error) {
			defer func() {
				if err = observability.PanicError(recover(), err); err != nil {
					mu.Lock()
					errs = append(errs, err)
					mu.Unlock()
				}
			}()
			taskCtx, cancel := withOptionalTimeout(ctx, timeout)
			defer cancel()
			return fn(taskCtx, item)
		})
	}
	_ = g.Wait()
	return errs
}
