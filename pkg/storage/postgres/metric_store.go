package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/platinummonkey/pulse/pkg/analytics"
)

const metricColumns = "id, kind, name, dimension, granularity, window_start, window_end, value, attributes, created_at"

const upsertMetricSQL = `
	INSERT INTO aggregated_metrics (id, kind, name, dimension, granularity, window_start, window_end, value, attributes, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	ON CONFLICT (name, dimension, granularity, window_start, window_end) DO UPDATE SET
		kind = EXCLUDED.kind,
		value = EXCLUDED.value,
		attributes = EXCLUDED.attributes,
		updated_at = EXCLUDED.updated_at`

// MetricStore persists aggregated metrics in the aggregated_metrics table.
// Conflicting upserts keep the original created_at.
type MetricStore struct {
	conn *ConnectionManager
	now  func() time.Time
}

// NewMetricStore creates a metric store over conn.
func NewMetricStore(conn *ConnectionManager) *MetricStore {
	return &MetricStore{conn: conn, now: time.Now}
}

func (s *MetricStore) Upsert(ctx context.Context, m analytics.AggregatedMetric) error {
	return s.UpsertBatch(ctx, []analytics.AggregatedMetric{m})
}

// UpsertBatch writes all rows in one transaction.
func (s *MetricStore) UpsertBatch(ctx context.Context, ms []analytics.AggregatedMetric) (err error) {
	if len(ms) == 0 {
		return nil
	}

	tx, err := s.conn.Primary().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, upsertMetricSQL)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	now := s.now().UTC()
	for _, m := range ms {
		attrs, err := marshalAttributes(m.Attributes)
		if err != nil {
			return err
		}
		id := m.ID
		if id == "" {
			id = analytics.MetricID(m.Key())
		}
		created := m.CreatedAt.UTC()
		if m.CreatedAt.IsZero() {
			created = now
		}
		if _, err := stmt.ExecContext(ctx,
			id, string(m.Kind), m.Name, m.Dimension, string(m.Granularity),
			m.WindowStart.UTC(), m.WindowEnd.UTC(), m.Value, attrs, created, now,
		); err != nil {
			return fmt.Errorf("upsert metric %s/%s: %w", m.Name, m.Dimension, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Query returns matching rows ordered by window start, then dimension. A
// positive Limit keeps the newest rows.
func (s *MetricStore) Query(ctx context.Context, q analytics.MetricQuery) ([]analytics.AggregatedMetric, error) {
	var (
		conds []string
		args  []interface{}
	)
	add := func(cond string, v interface{}) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if q.Name != "" {
		add("name = $%d", q.Name)
	}
	if q.Dimension != "" {
		add("dimension = $%d", q.Dimension)
	}
	if q.Granularity != "" {
		add("granularity = $%d", string(q.Granularity))
	}
	if !q.Start.IsZero() {
		add("window_start >= $%d", q.Start.UTC())
	}
	if !q.End.IsZero() {
		add("window_end <= $%d", q.End.UTC())
	}

	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	query := "SELECT " + metricColumns + " FROM aggregated_metrics" + where + " ORDER BY window_start, dimension"
	if q.Limit > 0 {
		args = append(args, q.Limit)
		query = fmt.Sprintf(
			"SELECT %s FROM (SELECT %s FROM aggregated_metrics%s ORDER BY window_start DESC, dimension DESC LIMIT $%d) newest ORDER BY window_start, dimension",
			metricColumns, metricColumns, where, len(args))
	}

	rows, err := s.conn.Replica().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query metrics: %w", err)
	}
	defer rows.Close()

	var out []analytics.AggregatedMetric
	for rows.Next() {
		var (
			m          analytics.AggregatedMetric
			kind, gran string
			attrs      []byte
		)
		if err := rows.Scan(&m.ID, &kind, &m.Name, &m.Dimension, &gran,
			&m.WindowStart, &m.WindowEnd, &m.Value, &attrs, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan metric: %w", err)
		}
		m.Kind = analytics.MetricKind(kind)
		m.Granularity = analytics.Granularity(gran)
		m.WindowStart = m.WindowStart.UTC()
		m.WindowEnd = m.WindowEnd.UTC()
		m.CreatedAt = m.CreatedAt.UTC()
		if len(attrs) > 0 {
			if err := json.Unmarshal(attrs, &m.Attributes); err != nil {
				return nil, fmt.Errorf("decode attributes of metric %s: %w", m.ID, err)
			}
			if len(m.Attributes) == 0 {
				m.Attributes = nil
			}
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query metrics: %w", err)
	}
	return out, nil
}

func (s *MetricStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.conn.Primary().ExecContext(ctx, "DELETE FROM aggregated_metrics WHERE window_end < $1", cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete metrics: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete metrics: %w", err)
	}
	return n, nil
}

var _ analytics.MetricStore = (*MetricStore)(nil)
