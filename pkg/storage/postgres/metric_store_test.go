package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/pulse/pkg/analytics"
)

var metricRowColumns = []string{"id", "kind", "name", "dimension", "granularity", "window_start", "window_end", "value", "attributes", "created_at"}

func newMetricStoreMock(t *testing.T) (*MetricStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	s := NewMetricStore(NewConnectionManagerFromDB(db))
	s.now = func() time.Time { return time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC) }
	return s, mock
}

func sampleMetric() analytics.AggregatedMetric {
	start := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	m := analytics.AggregatedMetric{
		Kind:        analytics.KindCount,
		Name:        "product_views",
		Dimension:   analytics.DimensionOverall,
		Value:       100,
		WindowStart: start,
		WindowEnd:   start.Add(time.Hour),
		Granularity: analytics.GranularityHour,
		Attributes:  map[string]string{"family": "count"},
	}
	m.ID = analytics.MetricID(m.Key())
	return m
}

func TestMetricStore_UpsertBatch(t *testing.T) {
	store, mock := newMetricStoreMock(t)
	m := sampleMetric()
	now := store.now()

	mock.ExpectBegin()
	prep := mock.ExpectPrepare(regexp.QuoteMeta("ON CONFLICT (name, dimension, granularity, window_start, window_end) DO UPDATE"))
	prep.ExpectExec().
		WithArgs(m.ID, "COUNT", "product_views", "overall", "HOUR", m.WindowStart, m.WindowEnd, 100.0, []byte(`{"family":"count"}`), now, now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, store.UpsertBatch(context.Background(), []analytics.AggregatedMetric{m}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMetricStore_UpsertBatchRollsBackOnFailure(t *testing.T) {
	store, mock := newMetricStoreMock(t)
	m1 := sampleMetric()
	m2 := sampleMetric()
	m2.Dimension = analytics.ServiceDimension("catalog")
	boom := errors.New("disk full")

	mock.ExpectBegin()
	prep := mock.ExpectPrepare("INSERT INTO aggregated_metrics")
	prep.ExpectExec().WillReturnResult(sqlmock.NewResult(0, 1))
	prep.ExpectExec().WillReturnError(boom)
	mock.ExpectRollback()

	err := store.UpsertBatch(context.Background(), []analytics.AggregatedMetric{m1, m2})
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMetricStore_UpsertEmptyBatch(t *testing.T) {
	store, mock := newMetricStoreMock(t)
	require.NoError(t, store.UpsertBatch(context.Background(), nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMetricStore_Query(t *testing.T) {
	m := sampleMetric()

	t.Run("filters", func(t *testing.T) {
		store, mock := newMetricStoreMock(t)
		mock.ExpectQuery(regexp.QuoteMeta("FROM aggregated_metrics WHERE name = $1 AND granularity = $2 AND window_start >= $3 ORDER BY window_start, dimension")).
			WithArgs("product_views", "HOUR", m.WindowStart).
			WillReturnRows(sqlmock.NewRows(metricRowColumns).
				AddRow(m.ID, "COUNT", m.Name, m.Dimension, "HOUR", m.WindowStart, m.WindowEnd, 100.0, []byte(`{"family":"count"}`), m.WindowEnd))

		got, err := store.Query(context.Background(), analytics.MetricQuery{
			Name:        "product_views",
			Granularity: analytics.GranularityHour,
			Start:       m.WindowStart,
		})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, m.ID, got[0].ID)
		assert.Equal(t, analytics.KindCount, got[0].Kind)
		assert.Equal(t, m.Attributes, got[0].Attributes)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("limit keeps newest", func(t *testing.T) {
		store, mock := newMetricStoreMock(t)
		mock.ExpectQuery(regexp.QuoteMeta("ORDER BY window_start DESC, dimension DESC LIMIT $2) newest ORDER BY window_start, dimension")).
			WithArgs("product_views", 7).
			WillReturnRows(sqlmock.NewRows(metricRowColumns))

		got, err := store.Query(context.Background(), analytics.MetricQuery{Name: "product_views", Limit: 7})
		require.NoError(t, err)
		assert.Empty(t, got)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestMetricStore_DeleteBefore(t *testing.T) {
	store, mock := newMetricStoreMock(t)
	cutoff := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM aggregated_metrics WHERE window_end < $1")).
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 42))

	n, err := store.DeleteBefore(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(42), n)
}

func TestRunMigrations(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS pulse_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT version FROM pulse_migrations").
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(1))
	mock.ExpectBegin()
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS aggregated_metrics").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO pulse_migrations").WithArgs(2, "Create aggregated_metrics table").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, RunMigrations(context.Background(), db, nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}
