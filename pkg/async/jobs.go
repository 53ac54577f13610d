package async

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/platinummonkey/pulse/pkg/contextkeys"
	"github.com/platinummonkey/pulse/pkg/observability"
)

// JobStatus is the lifecycle state of a background job.
type JobStatus string

const (
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
)

// ErrClosed is returned by Submit after Close.
var ErrClosed = errors.New("job tracker closed")

// Job is a snapshot of a background job.
type Job struct {
	ID         string      `json:"id"`
	Kind       string      `json:"kind"`
	Status     JobStatus   `json:"status"`
	Result     interface{} `json:"result,omitempty"`
	Error      string      `json:"error,omitempty"`
	StartedAt  time.Time   `json:"started_at"`
	FinishedAt *time.Time  `json:"finished_at,omitempty"`
}

// Tracker runs jobs detached from the submitting request and remembers
// their outcome for a while.
type Tracker struct {
	jobs   *lru.LRU[string, Job]
	logger *observability.Logger

	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewTracker keeps up to size finished jobs for ttl.
func NewTracker(size int, ttl time.Duration, logger *observability.Logger) *Tracker {
	if size <= 0 {
		size = 256
	}
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Tracker{
		jobs:   lru.NewLRU[string, Job](size, nil, ttl),
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Submit starts fn and returns the running job. The job inherits values
// from ctx, but not its cancellation; Close cancels it.
func (t *Tracker) Submit(ctx context.Context, kind string, fn func(context.Context) (interface{}, error)) (Job, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return Job{}, ErrClosed
	}
	t.wg.Add(1)
	t.mu.Unlock()

	job := Job{
		ID:        uuid.NewString(),
		Kind:      kind,
		Status:    JobRunning,
		StartedAt: time.Now().UTC(),
	}
	t.jobs.Add(job.ID, job)

	jobCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(t.ctx, cancel)
	jobCtx = observability.WithLogger(contextkeys.WithJobID(jobCtx, job.ID), t.logger.WithField("kind", kind))
	logger := observability.FromContext(jobCtx, t.logger)

	go func() {
		defer t.wg.Done()
		defer cancel()
		defer stop()

		var (
			result interface{}
			err    error
		)
		func() {
			defer func() { err = observability.PanicError(recover(), err) }()
			result, err = fn(jobCtx)
		}()

		done := job
		finished := time.Now().UTC()
		done.FinishedAt = &finished
		if err != nil {
			done.Status = JobFailed
			done.Error = err.Error()
			logger.WithError(err).Error("Background job failed")
		} else {
			done.Status = JobSucceeded
			done.Result = result
			logger.Info("Background job complete")
		}
		t.jobs.Add(job.ID, done)
	}()
	return job, nil
}

// Get returns a job by ID.
func (t *Tracker) Get(id string) (Job, bool) {
	return t.jobs.Get(id)
}

// Close cancels running jobs and waits for them until ctx is done.
func (t *Tracker) Close(ctx context.Context) error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	t.cancel()

	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
