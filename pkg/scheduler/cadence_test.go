package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/pulse/pkg/analytics"
)

func TestPreviousPeriod(t *testing.T) {
	// Wednesday
	now := time.Date(2024, 5, 15, 14, 37, 12, 0, time.UTC)
	day := func(y int, m time.Month, d int) time.Time { return time.Date(y, m, d, 0, 0, 0, 0, time.UTC) }

	tests := []struct {
		g          analytics.Granularity
		start, end time.Time
	}{
		{analytics.GranularityMinute, time.Date(2024, 5, 15, 14, 36, 0, 0, time.UTC), time.Date(2024, 5, 15, 14, 37, 0, 0, time.UTC)},
		{analytics.GranularityHour, time.Date(2024, 5, 15, 13, 0, 0, 0, time.UTC), time.Date(2024, 5, 15, 14, 0, 0, 0, time.UTC)},
		{analytics.GranularityDay, day(2024, 5, 14), day(2024, 5, 15)},
		{analytics.GranularityWeek, day(2024, 5, 6), day(2024, 5, 13)},
		{analytics.GranularityMonth, day(2024, 4, 1), day(2024, 5, 1)},
		{analytics.GranularityQuarter, day(2024, 1, 1), day(2024, 4, 1)},
		{analytics.GranularityYear, day(2023, 1, 1), day(2024, 1, 1)},
	}
	for _, tt := range tests {
		t.Run(string(tt.g), func(t *testing.T) {
			start, end, err := PreviousPeriod(now, tt.g)
			require.NoError(t, err)
			assert.Equal(t, tt.start, start)
			assert.Equal(t, tt.end, end)
		})
	}

	t.Run("custom has no period", func(t *testing.T) {
		_, _, err := PreviousPeriod(now, analytics.GranularityCustom)
		assert.Error(t, err)
	})

	t.Run("monday week boundary", func(t *testing.T) {
		monday := time.Date(2024, 5, 13, 0, 10, 0, 0, time.UTC)
		start, end, err := PreviousPeriod(monday, analytics.GranularityWeek)
		require.NoError(t, err)
		assert.Equal(t, day(2024, 5, 6), start)
		assert.Equal(t, day(2024, 5, 13), end)
	})

	t.Run("sunday belongs to the running week", func(t *testing.T) {
		sunday := time.Date(2024, 5, 19, 23, 0, 0, 0, time.UTC)
		start, _, err := PreviousPeriod(sunday, analytics.GranularityWeek)
		require.NoError(t, err)
		assert.Equal(t, day(2024, 5, 6), start)
	})

	t.Run("january quarter and month wrap", func(t *testing.T) {
		jan := time.Date(2024, 1, 1, 0, 20, 0, 0, time.UTC)
		start, end, err := PreviousPeriod(jan, analytics.GranularityQuarter)
		require.NoError(t, err)
		assert.Equal(t, day(2023, 10, 1), start)
		assert.Equal(t, day(2024, 1, 1), end)

		start, _, err = PreviousPeriod(jan, analytics.GranularityMonth)
		require.NoError(t, err)
		assert.Equal(t, day(2023, 12, 1), start)
	})

	t.Run("location is respected", func(t *testing.T) {
		loc := time.FixedZone("UTC+2", 2*60*60)
		start, end, err := PreviousPeriod(time.Date(2024, 5, 15, 1, 0, 0, 0, loc), analytics.GranularityDay)
		require.NoError(t, err)
		assert.Equal(t, time.Date(2024, 5, 14, 0, 0, 0, 0, loc), start)
		assert.Equal(t, time.Date(2024, 5, 15, 0, 0, 0, 0, loc), end)
	})
}

type recordingAggregator struct {
	calls []analytics.PassResult
	err   error
}

func (a *recordingAggregator) Aggregate(_ context.Context, start, end time.Time, g analytics.Granularity) (analytics.PassResult, error) {
	r := analytics.PassResult{Granularity: g, Start: start, End: end}
	a.calls = append(a.calls, r)
	return r, a.err
}

type recordingPruner struct {
	now       time.Time
	retention time.Duration
}

func (p *recordingPruner) PruneOlderThan(_ context.Context, now time.Time, retention time.Duration) (int64, error) {
	p.now, p.retention = now, retention
	return 3, nil
}

func TestDefaultCadences(t *testing.T) {
	agg := &recordingAggregator{}
	pruner := &recordingPruner{}
	cs := DefaultCadences(agg, pruner, 0)

	names := make([]string, len(cs))
	for i, c := range cs {
		names[i] = c.Name
	}
	assert.Equal(t, []string{"hourly", "daily", "weekly", "monthly", "quarterly", "prune"}, names)

	now := time.Date(2024, 5, 15, 0, 5, 0, 0, time.UTC)
	require.NoError(t, cs[1].Run(context.Background(), now))
	require.Len(t, agg.calls, 1)
	assert.Equal(t, analytics.GranularityDay, agg.calls[0].Granularity)
	assert.Equal(t, time.Date(2024, 5, 14, 0, 0, 0, 0, time.UTC), agg.calls[0].Start)

	require.NoError(t, cs[5].Run(context.Background(), now))
	assert.Equal(t, analytics.DefaultRetention, pruner.retention)
	assert.Equal(t, now, pruner.now)

	assert.Len(t, DefaultCadences(agg, nil, 0), 5)
}

func TestAggregationCadence_PropagatesError(t *testing.T) {
	boom := errors.New("store down")
	c := AggregationCadence("hourly", HourlySpec, analytics.GranularityHour, &recordingAggregator{err: boom})
	assert.ErrorIs(t, c.Run(context.Background(), time.Now()), boom)
}
