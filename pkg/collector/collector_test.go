package collector

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/pulse/pkg/breaker"
	"github.com/platinummonkey/pulse/pkg/kpi"
)

func orderMetrics() []kpi.DomainMetric {
	return []kpi.DomainMetric{
		{ID: "m1", Domain: "order", Name: "fulfillment_rate", Value: 97.5, DataType: kpi.DataTypePercentage, Unit: "%"},
		{ID: "m2", Domain: "order", Name: "open_orders", Value: 12, DataType: kpi.DataTypeCount, Unit: "count"},
	}
}

func jsonServer(t *testing.T, healthy *atomic.Bool, body any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !healthy.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPSource_Fetch(t *testing.T) {
	var healthy atomic.Bool
	healthy.Store(true)
	srv := jsonServer(t, &healthy, orderMetrics())

	src := NewHTTPSource("order", srv.URL)
	ms, err := src.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, ms, 2)
	assert.Equal(t, "fulfillment_rate", ms[0].Name)
	assert.Equal(t, "order", src.Name())
}

func TestHTTPSource_StatusError(t *testing.T) {
	var healthy atomic.Bool
	srv := jsonServer(t, &healthy, nil)

	_, err := NewHTTPSource("order", srv.URL).Fetch(context.Background())
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusServiceUnavailable, statusErr.Code)
}

func TestHTTPSource_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	start := time.Now()
	_, err := NewHTTPSource("slow", srv.URL, WithTimeout(50*time.Millisecond)).Fetch(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestHTTPSource_BreakerFastFails(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	b := breaker.New("order", breaker.Config{MaxFailures: 2, ResetTimeout: time.Hour})
	src := NewHTTPSource("order", srv.URL, WithBreaker(b))
	for i := 0; i < 2; i++ {
		_, err := src.Fetch(context.Background())
		require.Error(t, err)
	}

	_, err := src.Fetch(context.Background())
	assert.ErrorIs(t, err, breaker.ErrOpen)
	assert.Equal(t, int32(2), hits.Load())
}

func TestFetchWithFallback(t *testing.T) {
	var healthy atomic.Bool
	healthy.Store(true)
	srv := jsonServer(t, &healthy, orderMetrics())
	src := NewHTTPSource("order", srv.URL)
	lg := NewLastGood(8, time.Hour)
	ctx := context.Background()

	t.Run("no cached value", func(t *testing.T) {
		healthy.Store(false)
		ms, err := FetchWithFallback(ctx, src, lg, nil)
		require.Error(t, err)
		assert.False(t, errors.Is(err, ErrStale))
		assert.Nil(t, ms)
	})

	t.Run("fresh", func(t *testing.T) {
		healthy.Store(true)
		ms, err := FetchWithFallback(ctx, src, lg, nil)
		require.NoError(t, err)
		assert.Len(t, ms, 2)
	})

	t.Run("stale", func(t *testing.T) {
		healthy.Store(false)
		ms, err := FetchWithFallback(ctx, src, lg, nil)
		require.ErrorIs(t, err, ErrStale)
		var stale *StaleError
		require.ErrorAs(t, err, &stale)
		assert.Equal(t, "order", stale.Source)
		var statusErr *StatusError
		assert.ErrorAs(t, err, &statusErr)
		assert.Len(t, ms, 2)
	})
}

type staticSource struct {
	name string
	ms   []kpi.DomainMetric
	err  error
}

func (s staticSource) Name() string { return s.name }

func (s staticSource) Fetch(context.Context) ([]kpi.DomainMetric, error) {
	return s.ms, s.err
}

func TestCollector_Collect(t *testing.T) {
	boom := errors.New("connection refused")
	c := New([]Source{
		staticSource{name: "order", ms: orderMetrics()},
		staticSource{name: "payment", ms: []kpi.DomainMetric{
			{ID: "p1", Domain: "payment", Name: "success_rate", Value: 0.98, DataType: kpi.DataTypeRatio},
			{ID: "p2", Domain: "payment", Name: "success_rate_bad", Value: 3, DataType: kpi.DataTypeRatio},
		}},
		staticSource{name: "inventory", err: boom},
	})

	ms, err := c.Collect(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)

	keys := map[string]bool{}
	for _, m := range ms {
		keys[m.Key()] = true
		assert.False(t, m.CollectedAt.IsZero())
	}
	assert.Equal(t, map[string]bool{
		"order/fulfillment_rate": true,
		"order/open_orders":      true,
		"payment/success_rate":   true,
	}, keys)
	assert.Equal(t, []string{"order", "payment", "inventory"}, c.Sources())
}

func TestCollector_StaleIsNotAnError(t *testing.T) {
	var healthy atomic.Bool
	healthy.Store(true)
	srv := jsonServer(t, &healthy, orderMetrics())
	c := New([]Source{NewHTTPSource("order", srv.URL)})

	_, err := c.Collect(context.Background())
	require.NoError(t, err)

	healthy.Store(false)
	ms, err := c.Collect(context.Background())
	require.NoError(t, err)
	assert.Len(t, ms, 2)
}

func TestCollector_CancelledContext(t *testing.T) {
	c := New([]Source{staticSource{name: "order", ms: orderMetrics()}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Collect(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
