// Package breaker provides a three-state circuit breaker for calls to
// domain services, built on sony/gobreaker.
package breaker

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/platinummonkey/pulse/pkg/observability"
)

// State is the breaker state.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

func fromGobreaker(s gobreaker.State) State {
	switch s {
	case gobreaker.StateOpen:
		return Open
	case gobreaker.StateHalfOpen:
		return HalfOpen
	default:
		return Closed
	}
}

// ErrOpen is returned without calling the operation while the breaker is
// open, or while another trial call is in flight.
var ErrOpen = errors.New("circuit breaker is open")

// Config tunes a breaker.
type Config struct {
	// MaxFailures consecutive failures open the breaker.
	MaxFailures int
	// ResetTimeout is how long the breaker stays open before a trial call.
	ResetTimeout time.Duration
}

// DefaultConfig opens after 5 failures and retries after 30s.
func DefaultConfig() Config {
	return Config{MaxFailures: 5, ResetTimeout: 30 * time.Second}
}

// ProbeFunc is an optional cheap health check run before the trial call.
type ProbeFunc func(ctx context.Context) error

// Breaker guards calls to one dependency. It is safe for concurrent use;
// while half-open only one trial call runs and the rest fail fast.
type Breaker struct {
	name    string
	cfg     Config
	probe   ProbeFunc
	logger  *observability.Logger
	metrics *observability.Metrics
	cb      *gobreaker.CircuitBreaker[struct{}]
}

// Option configures a Breaker.
type Option func(*Breaker)

// WithProbe sets the half-open health check.
func WithProbe(probe ProbeFunc) Option {
	return func(b *Breaker) { b.probe = probe }
}

// WithLogger sets the breaker logger.
func WithLogger(logger *observability.Logger) Option {
	return func(b *Breaker) { b.logger = logger }
}

// WithMetrics exports state changes as a gauge.
func WithMetrics(m *observability.Metrics) Option {
	return func(b *Breaker) { b.metrics = m }
}

// New creates a closed breaker. Non-positive config values fall back to
// DefaultConfig.
func New(name string, cfg Config, opts ...Option) *Breaker {
	def := DefaultConfig()
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = def.MaxFailures
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = def.ResetTimeout
	}
	b := &Breaker{
		name:   name,
		cfg:    cfg,
		logger: observability.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.WithField("breaker", name)

	maxFailures := uint32(cfg.MaxFailures)
	b.cb = gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     cfg.ResetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: b.onStateChange,
		IsSuccessful: func(err error) bool {
			var c *canceledError
			return err == nil || errors.As(err, &c)
		},
	})
	b.metrics.SetBreakerState(name, int(Closed))
	return b
}

// Name returns the breaker name.
func (b *Breaker) Name() string {
	return b.name
}

// State returns the current state, reporting an open breaker whose reset
// timeout has passed as half-open.
func (b *Breaker) State() State {
	return fromGobreaker(b.cb.State())
}

// canceledError marks an operation that stopped because the caller's context
// ended; it does not count against the dependency.
type canceledError struct{ err error }

func (e *canceledError) Error() string { return e.err.Error() }
func (e *canceledError) Unwrap() error { return e.err }

var errProbeFailed = errors.New("breaker probe failed")

// Execute runs op through the breaker. While open it returns ErrOpen without
// calling op. Errors from op are returned unchanged.
func (b *Breaker) Execute(ctx context.Context, op func(ctx context.Context) error) error {
	_, err := b.cb.Execute(func() (struct{}, error) {
		if b.probe != nil && b.cb.State() == gobreaker.StateHalfOpen {
			if perr := b.probe(ctx); perr != nil {
				b.logger.WithError(perr).Warn("Breaker probe failed")
				return struct{}{}, errProbeFailed
			}
		}
		if err := op(ctx); err != nil {
			if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
				return struct{}{}, &canceledError{err: err}
			}
			return struct{}{}, err
		}
		return struct{}{}, nil
	})

	var c *canceledError
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests), errors.Is(err, errProbeFailed):
		return ErrOpen
	case errors.As(err, &c):
		return c.err
	default:
		return err
	}
}

func (b *Breaker) onStateChange(_ string, from, to gobreaker.State) {
	f, t := fromGobreaker(from), fromGobreaker(to)
	logger := b.logger.WithFields(map[string]interface{}{
		"from": f.String(),
		"to":   t.String(),
	})
	if t == Open {
		logger.Warn("Breaker opened")
	} else {
		logger.Info("Breaker state change")
	}
	b.metrics.SetBreakerState(b.name, int(t))
}
