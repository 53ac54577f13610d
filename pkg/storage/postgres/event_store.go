package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/platinummonkey/pulse/pkg/analytics"
)

// EventStore reads raw events from the raw_events table.
type EventStore struct {
	conn *ConnectionManager
}

// NewEventStore creates an event store over conn.
func NewEventStore(conn *ConnectionManager) *EventStore {
	return &EventStore{conn: conn}
}

// whereClause renders filter as a WHERE clause with positional args.
func whereClause(filter analytics.EventFilter) (string, []interface{}) {
	conds := []string{"occurred_at >= $1", "occurred_at < $2"}
	args := []interface{}{filter.Start.UTC(), filter.End.UTC()}

	if len(filter.Types) > 0 {
		args = append(args, pq.Array(filter.TypeStrings()))
		conds = append(conds, fmt.Sprintf("event_type = ANY($%d)", len(args)))
	}
	if filter.Service != "" {
		args = append(args, filter.Service)
		conds = append(conds, fmt.Sprintf("service = $%d", len(args)))
	}
	if filter.UserID != "" {
		args = append(args, filter.UserID)
		conds = append(conds, fmt.Sprintf("user_id = $%d", len(args)))
	}
	return "WHERE " + strings.Join(conds, " AND "), args
}

func distinctColumn(field analytics.DistinctField) string {
	if field == analytics.DistinctSession {
		return "session_id"
	}
	return "user_id"
}

func (s *EventStore) CountEvents(ctx context.Context, filter analytics.EventFilter) (int64, error) {
	where, args := whereClause(filter)
	var n int64
	if err := s.conn.Replica().QueryRowContext(ctx, "SELECT COUNT(*) FROM raw_events "+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return n, nil
}

func (s *EventStore) CountEventsByService(ctx context.Context, filter analytics.EventFilter) (map[string]int64, error) {
	where, args := whereClause(filter)
	query := "SELECT service, COUNT(*) FROM raw_events " + where + " GROUP BY service"
	out, err := s.groupCounts(ctx, query, args)
	if err != nil {
		return nil, fmt.Errorf("count events by service: %w", err)
	}
	return out, nil
}

func (s *EventStore) CountDistinct(ctx context.Context, filter analytics.EventFilter, field analytics.DistinctField) (int64, error) {
	where, args := whereClause(filter)
	col := distinctColumn(field)
	query := fmt.Sprintf("SELECT COUNT(DISTINCT %s) FROM raw_events %s AND %s <> ''", col, where, col)

	var n int64
	if err := s.conn.Replica().QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count distinct %s: %w", col, err)
	}
	return n, nil
}

func (s *EventStore) CountDistinctByService(ctx context.Context, filter analytics.EventFilter, field analytics.DistinctField) (map[string]int64, error) {
	where, args := whereClause(filter)
	col := distinctColumn(field)
	query := fmt.Sprintf("SELECT service, COUNT(DISTINCT %s) FROM raw_events %s AND %s <> '' GROUP BY service", col, where, col)

	out, err := s.groupCounts(ctx, query, args)
	if err != nil {
		return nil, fmt.Errorf("count distinct %s by service: %w", col, err)
	}
	return out, nil
}

func (s *EventStore) groupCounts(ctx context.Context, query string, args []interface{}) (map[string]int64, error) {
	rows, err := s.conn.Replica().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var (
			service string
			n       int64
		)
		if err := rows.Scan(&service, &n); err != nil {
			return nil, err
		}
		out[service] = n
	}
	return out, rows.Err()
}

func (s *EventStore) FindEvents(ctx context.Context, filter analytics.EventFilter) ([]analytics.RawEvent, error) {
	where, args := whereClause(filter)
	query := `SELECT id, event_type, service, user_id, session_id, occurred_at, attributes
		FROM raw_events ` + where + ` ORDER BY occurred_at, id`

	rows, err := s.conn.Replica().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("find events: %w", err)
	}
	defer rows.Close()

	var out []analytics.RawEvent
	for rows.Next() {
		var (
			e     analytics.RawEvent
			typ   string
			attrs []byte
		)
		if err := rows.Scan(&e.ID, &typ, &e.Service, &e.UserID, &e.SessionID, &e.Timestamp, &attrs); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.Type = analytics.EventType(typ)
		e.Timestamp = e.Timestamp.UTC()
		if len(attrs) > 0 {
			if err := json.Unmarshal(attrs, &e.Attributes); err != nil {
				return nil, fmt.Errorf("decode attributes of event %s: %w", e.ID, err)
			}
			if len(e.Attributes) == 0 {
				e.Attributes = nil
			}
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("find events: %w", err)
	}
	return out, nil
}

// InsertEvents stores events, ignoring IDs that already exist. Used by
// backfill and tests; production ingestion writes the table directly.
func (s *EventStore) InsertEvents(ctx context.Context, events ...analytics.RawEvent) (err error) {
	tx, err := s.conn.Primary().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO raw_events (id, event_type, service, user_id, session_id, occurred_at, attributes)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range events {
		attrs, err := marshalAttributes(e.Attributes)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, e.ID, string(e.Type), e.Service, e.UserID, e.SessionID, e.Timestamp.UTC(), attrs); err != nil {
			return fmt.Errorf("insert event %s: %w", e.ID, err)
		}
	}
	return tx.Commit()
}

func marshalAttributes(attrs map[string]string) ([]byte, error) {
	if attrs == nil {
		return []byte("{}"), nil
	}
	b, err := json.Marshal(attrs)
	if err != nil {
		return nil, fmt.Errorf("encode attributes: %w", err)
	}
	return b, nil
}

var _ analytics.EventStore = (*EventStore)(nil)
