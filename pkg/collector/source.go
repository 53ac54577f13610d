package collector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/pulse/pkg/breaker"
	"github.com/platinummonkey/pulse/pkg/kpi"
)

// DefaultTimeout bounds a single domain fetch.
const DefaultTimeout = 5 * time.Second

// maxBodyBytes caps a domain response body.
const maxBodyBytes = 4 << 20

// Source pulls raw metrics from one domain service.
type Source interface {
	Name() string
	Fetch(ctx context.Context) ([]kpi.DomainMetric, error)
}

// StatusError is returned when a domain service answers with a non-2xx code.
type StatusError struct {
	Source string
	Code   int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("source %s returned HTTP %d", e.Source, e.Code)
}

// HTTPSource fetches a JSON array of domain metrics from an endpoint.
type HTTPSource struct {
	name    string
	url     string
	client  *http.Client
	timeout time.Duration
	breaker *breaker.Breaker
}

// HTTPSourceOption configures an HTTPSource.
type HTTPSourceOption func(*HTTPSource)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) HTTPSourceOption {
	return func(s *HTTPSource) { s.client = c }
}

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) HTTPSourceOption {
	return func(s *HTTPSource) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithBreaker routes fetches through b.
func WithBreaker(b *breaker.Breaker) HTTPSourceOption {
	return func(s *HTTPSource) { s.breaker = b }
}

// NewHTTPSource creates a source for url.
func NewHTTPSource(name, url string, opts ...HTTPSourceOption) *HTTPSource {
	s := &HTTPSource{
		name:    name,
		url:     url,
		client:  &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *HTTPSource) Name() string {
	return s.name
}

// Fetch performs one bounded request. With a breaker configured, an open
// breaker returns breaker.ErrOpen without contacting the service.
func (s *HTTPSource) Fetch(ctx context.Context) ([]kpi.DomainMetric, error) {
	var out []kpi.DomainMetric
	call := func(ctx context.Context) error {
		ms, err := s.fetch(ctx)
		if err != nil {
			return err
		}
		out = ms
		return nil
	}

	var err error
	if s.breaker != nil {
		err = s.breaker.Execute(ctx, call)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", s.name, err)
	}
	return out, nil
}

func (s *HTTPSource) fetch(ctx context.Context) ([]kpi.DomainMetric, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		return nil, &StatusError{Source: s.name, Code: resp.StatusCode}
	}

	var ms []kpi.DomainMetric
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&ms); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("empty response body")
		}
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return ms, nil
}
