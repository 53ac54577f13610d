// Package scheduler runs aggregation and retention cadences on cron specs.
//
// Each cadence guards itself: a fire that overlaps the same cadence's
// running pass is skipped, while different cadences run concurrently.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/pulse/pkg/observability"
)

var (
	// ErrUnknownCadence is returned by RunNow for an unregistered name.
	ErrUnknownCadence = errors.New("unknown cadence")
	// ErrAlreadyRunning is returned when the cadence is mid-pass.
	ErrAlreadyRunning = errors.New("cadence is already running")
	// ErrStopped is returned by RunNow after Stop.
	ErrStopped = errors.New("scheduler stopped")
)

type entry struct {
	cadence Cadence
	id      cron.EntryID
	guard   sync.Mutex

	mu      sync.Mutex
	running bool
	lastRun time.Time
	lastDur time.Duration
	lastErr error
}

// CadenceStatus describes a registered cadence.
type CadenceStatus struct {
	Name        string        `json:"name"`
	Spec        string        `json:"spec"`
	Granularity string        `json:"granularity,omitempty"`
	Running     bool          `json:"running"`
	LastRun     time.Time     `json:"last_run,omitempty"`
	LastRunTook time.Duration `json:"last_run_duration_ns,omitempty"`
	LastError   string        `json:"last_error,omitempty"`
	NextRun     time.Time     `json:"next_run,omitempty"`
}

// Scheduler owns one cron entry per cadence.
type Scheduler struct {
	cron     *cron.Cron
	entries  map[string]*entry
	location *time.Location
	logger   *observability.Logger
	metrics  *observability.Metrics
	now      func() time.Time

	ctx     context.Context
	cancel  context.CancelFunc
	mu      sync.Mutex
	stopped bool
	wg      sync.WaitGroup
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLocation sets the time zone cron specs and periods are evaluated in.
// The default is UTC.
func WithLocation(loc *time.Location) Option {
	return func(s *Scheduler) {
		if loc != nil {
			s.location = loc
		}
	}
}

// WithLogger sets the scheduler logger.
func WithLogger(logger *observability.Logger) Option {
	return func(s *Scheduler) { s.logger = logger }
}

// WithMetrics records run outcomes.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// WithClock overrides the time source used for on-demand runs.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// New validates and registers cadences. Nothing runs until Start.
func New(cadences []Cadence, opts ...Option) (*Scheduler, error) {
	s := &Scheduler{
		entries:  make(map[string]*entry, len(cadences)),
		location: time.UTC,
		logger:   observability.NewNopLogger(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	cl := cronLogger{logger: s.logger.WithField("component", "cron")}
	s.cron = cron.New(
		cron.WithLocation(s.location),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl)),
	)

	for _, c := range cadences {
		if c.Name == "" {
			return nil, errors.New("cadence name is required")
		}
		if c.Run == nil {
			return nil, fmt.Errorf("cadence %s: run function is required", c.Name)
		}
		if _, dup := s.entries[c.Name]; dup {
			return nil, fmt.Errorf("cadence %s registered twice", c.Name)
		}
		e := &entry{cadence: c}
		id, err := s.cron.AddFunc(c.Spec, func() {
			_ = s.run(s.ctx, e, s.now().In(s.location), "cron")
		})
		if err != nil {
			return nil, fmt.Errorf("cadence %s: invalid spec %q: %w", c.Name, c.Spec, err)
		}
		e.id = id
		s.entries[c.Name] = e
	}
	return s, nil
}

// Start begins firing cadences.
func (s *Scheduler) Start() {
	s.cron.Start()
	for _, st := range s.Status() {
		s.logger.WithFields(map[string]interface{}{
			"cadence":  st.Name,
			"spec":     st.Spec,
			"next_run": st.NextRun,
		}).Info("Cadence scheduled")
	}
}

// Stop stops firing, cancels in-flight passes and waits for them until ctx
// is done.
func (s *Scheduler) Stop(ctx context.Context) error {
	cronDone := s.cron.Stop()
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	s.cancel()

	done := make(chan struct{})
	go func() {
		<-cronDone.Done()
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for running cadences: %w", ctx.Err())
	}
}

// RunNow runs the named cadence in the caller's goroutine under the same
// overlap guard as scheduled fires. The run is cancelled if the scheduler
// stops.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	e, ok := s.entries[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCadence, name)
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.ctx, cancel)
	defer stop()

	return s.run(ctx, e, s.now().In(s.location), "manual")
}

// Names returns the registered cadence names, sorted.
func (s *Scheduler) Names() []string {
	names := make([]string, 0, len(s.entries))
	for name := range s.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Status reports every cadence, sorted by name.
func (s *Scheduler) Status() []CadenceStatus {
	out := make([]CadenceStatus, 0, len(s.entries))
	for _, name := range s.Names() {
		e := s.entries[name]
		e.mu.Lock()
		st := CadenceStatus{
			Name:        name,
			Spec:        e.cadence.Spec,
			Granularity: string(e.cadence.Granularity),
			Running:     e.running,
			LastRun:     e.lastRun,
			LastRunTook: e.lastDur,
		}
		if e.lastErr != nil {
			st.LastError = e.lastErr.Error()
		}
		e.mu.Unlock()
		st.NextRun = s.cron.Entry(e.id).Next
		out = append(out, st)
	}
	return out
}

func (s *Scheduler) run(ctx context.Context, e *entry, now time.Time, trigger string) (err error) {
	name := e.cadence.Name
	logger := s.logger.WithFields(map[string]interface{}{
		"cadence": name,
		"trigger": trigger,
	})

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrStopped
	}
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	if !e.guard.TryLock() {
		s.metrics.ObserveSkippedRun(name)
		logger.Warn("Skipping cadence run, previous run still in progress")
		return fmt.Errorf("%w: %s", ErrAlreadyRunning, name)
	}
	defer e.guard.Unlock()

	runID := uuid.NewString()
	logger = logger.WithField("run_id", runID)
	ctx = observability.WithLogger(ctx, logger)

	e.mu.Lock()
	e.running = true
	e.mu.Unlock()

	start := time.Now()
	defer func() {
		err = observability.PanicError(recover(), err)
		took := time.Since(start)

		e.mu.Lock()
		e.running = false
		e.lastRun = now
		e.lastDur = took
		e.lastErr = err
		e.mu.Unlock()

		s.metrics.ObserveScheduledRun(name, err, s.now())
		if err != nil {
			logger.WithError(err).WithField("duration", took.String()).Error("Cadence run failed")
			return
		}
		logger.WithField("duration", took.String()).Info("Cadence run complete")
	}()

	logger.Info("Cadence run started")
	return e.cadence.Run(ctx, now)
}
