package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/pulse/pkg/analytics"
)

var t0 = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func sampleEvents() []analytics.RawEvent {
	return []analytics.RawEvent{
		{ID: "1", Type: analytics.EventPageView, Service: "web", UserID: "A", SessionID: "s1", Timestamp: t0},
		{ID: "2", Type: analytics.EventPageView, Service: "web", UserID: "A", SessionID: "s2", Timestamp: t0.Add(time.Minute)},
		{ID: "3", Type: analytics.EventPageView, Service: "mobile", UserID: "B", SessionID: "s3", Timestamp: t0.Add(2 * time.Minute)},
		{ID: "4", Type: analytics.EventSearch, Service: "web", UserID: "", SessionID: "s1", Timestamp: t0.Add(3 * time.Minute)},
		{ID: "5", Type: analytics.EventPageView, Service: "web", UserID: "C", Timestamp: t0.Add(time.Hour)},
	}
}

func TestMemoryEventStore_Counts(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryEventStore(sampleEvents()...)
	filter := analytics.EventFilter{
		Types: []analytics.EventType{analytics.EventPageView},
		Start: t0,
		End:   t0.Add(time.Hour),
	}

	n, err := store.CountEvents(ctx, filter)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	byService, err := store.CountEventsByService(ctx, filter)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"web": 2, "mobile": 1}, byService)

	users, err := store.CountDistinct(ctx, filter, analytics.DistinctUser)
	require.NoError(t, err)
	assert.EqualValues(t, 2, users)

	usersByService, err := store.CountDistinctByService(ctx, filter, analytics.DistinctUser)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"web": 1, "mobile": 1}, usersByService)
}

func TestMemoryEventStore_DistinctSkipsEmptyIdentifiers(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryEventStore(sampleEvents()...)
	all := analytics.EventFilter{Start: t0, End: t0.Add(time.Hour)}

	users, err := store.CountDistinct(ctx, all, analytics.DistinctUser)
	require.NoError(t, err)
	assert.EqualValues(t, 2, users, "event 4 has no user")

	sessions, err := store.CountDistinct(ctx, all, analytics.DistinctSession)
	require.NoError(t, err)
	assert.EqualValues(t, 3, sessions)
}

func TestMemoryEventStore_FindEventsOrderedAndHalfOpen(t *testing.T) {
	store := NewMemoryEventStore(sampleEvents()...)
	events, err := store.FindEvents(context.Background(), analytics.EventFilter{Start: t0, End: t0.Add(time.Hour), Service: "web"})
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, "1", events[0].ID)
	assert.Equal(t, "4", events[2].ID)
}

func TestMemoryEventStore_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewMemoryEventStore().CountEvents(ctx, analytics.EventFilter{})
	assert.ErrorIs(t, err, context.Canceled)
}

func metric(name, dim string, start time.Time, value float64) analytics.AggregatedMetric {
	m := analytics.AggregatedMetric{
		Kind:        analytics.KindCount,
		Name:        name,
		Dimension:   dim,
		Value:       value,
		WindowStart: start,
		WindowEnd:   start.Add(time.Hour),
		Granularity: analytics.GranularityHour,
		CreatedAt:   start.Add(time.Hour),
	}
	m.ID = analytics.MetricID(m.Key())
	return m
}

func TestMemoryMetricStore_UpsertKeepsCreatedAt(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryMetricStore()

	first := metric("orders", analytics.DimensionOverall, t0, 10)
	require.NoError(t, store.Upsert(ctx, first))

	second := first
	second.Value = 12
	second.CreatedAt = t0.Add(48 * time.Hour)
	require.NoError(t, store.Upsert(ctx, second))

	rows, err := store.Query(ctx, analytics.MetricQuery{Name: "orders"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 12.0, rows[0].Value)
	assert.Equal(t, first.CreatedAt, rows[0].CreatedAt)
	assert.Equal(t, first.ID, rows[0].ID)
}

func TestMemoryMetricStore_QueryFiltersAndLimit(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryMetricStore()
	require.NoError(t, store.UpsertBatch(ctx, []analytics.AggregatedMetric{
		metric("orders", analytics.DimensionOverall, t0, 1),
		metric("orders", analytics.DimensionOverall, t0.Add(time.Hour), 2),
		metric("orders", analytics.DimensionOverall, t0.Add(2*time.Hour), 3),
		metric("orders", analytics.ServiceDimension("web"), t0, 1),
		metric("page_views", analytics.DimensionOverall, t0, 100),
	}))

	rows, err := store.Query(ctx, analytics.MetricQuery{
		Name:      "orders",
		Dimension: analytics.DimensionOverall,
		Limit:     2,
	})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, 2.0, rows[0].Value)
	assert.Equal(t, 3.0, rows[1].Value)

	rows, err = store.Query(ctx, analytics.MetricQuery{Start: t0, End: t0.Add(time.Hour)})
	require.NoError(t, err)
	assert.Len(t, rows, 3)
}

func TestMemoryMetricStore_DeleteBefore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryMetricStore()
	require.NoError(t, store.UpsertBatch(ctx, []analytics.AggregatedMetric{
		metric("orders", analytics.DimensionOverall, t0, 1),
		metric("orders", analytics.DimensionOverall, t0.Add(time.Hour), 2),
	}))

	// cutoff equal to the first window's end keeps it
	n, err := store.DeleteBefore(ctx, t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = store.DeleteBefore(ctx, t0.Add(time.Hour+time.Nanosecond))
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	assert.Equal(t, 1, store.Len())
}

func TestConfig_Validate(t *testing.T) {
	cfg := DefaultConfig()
	assert.Error(t, cfg.Validate(), "postgres url required")

	cfg.PostgresURL = "postgres://localhost/pulse"
	assert.NoError(t, cfg.Validate())

	cfg.PostgresMinConns = 50
	assert.Error(t, cfg.Validate())

	assert.NoError(t, Config{Type: "memory"}.Validate())
	assert.Error(t, Config{Type: "s3"}.Validate())
}
