package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/platinummonkey/pulse/pkg/analytics"
)

// MemoryEventStore is an in-process EventStore, used by tests and by the
// backfill tool when replaying events from a file.
type MemoryEventStore struct {
	mu     sync.RWMutex
	events []analytics.RawEvent
}

// NewMemoryEventStore creates a store holding events.
func NewMemoryEventStore(events ...analytics.RawEvent) *MemoryEventStore {
	s := &MemoryEventStore{}
	s.Append(events...)
	return s
}

// Append records events. Timestamps are normalized to UTC.
func (s *MemoryEventStore) Append(events ...analytics.RawEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range events {
		e.Timestamp = e.Timestamp.UTC()
		s.events = append(s.events, e)
	}
}

// Len returns the number of stored events.
func (s *MemoryEventStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

func (s *MemoryEventStore) each(ctx context.Context, filter analytics.EventFilter, fn func(analytics.RawEvent)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.events {
		if filter.Matches(e) {
			fn(e)
		}
	}
	return nil
}

func (s *MemoryEventStore) CountEvents(ctx context.Context, filter analytics.EventFilter) (int64, error) {
	var n int64
	err := s.each(ctx, filter, func(analytics.RawEvent) { n++ })
	return n, err
}

func (s *MemoryEventStore) CountEventsByService(ctx context.Context, filter analytics.EventFilter) (map[string]int64, error) {
	out := make(map[string]int64)
	err := s.each(ctx, filter, func(e analytics.RawEvent) { out[e.Service]++ })
	return out, err
}

func (s *MemoryEventStore) CountDistinct(ctx context.Context, filter analytics.EventFilter, field analytics.DistinctField) (int64, error) {
	seen := make(map[string]struct{})
	err := s.each(ctx, filter, func(e analytics.RawEvent) {
		if v := field.Value(e); v != "" {
			seen[v] = struct{}{}
		}
	})
	return int64(len(seen)), err
}

func (s *MemoryEventStore) CountDistinctByService(ctx context.Context, filter analytics.EventFilter, field analytics.DistinctField) (map[string]int64, error) {
	seen := make(map[string]map[string]struct{})
	err := s.each(ctx, filter, func(e analytics.RawEvent) {
		v := field.Value(e)
		if v == "" {
			return
		}
		if seen[e.Service] == nil {
			seen[e.Service] = make(map[string]struct{})
		}
		seen[e.Service][v] = struct{}{}
	})
	out := make(map[string]int64, len(seen))
	for svc, ids := range seen {
		out[svc] = int64(len(ids))
	}
	return out, err
}

func (s *MemoryEventStore) FindEvents(ctx context.Context, filter analytics.EventFilter) ([]analytics.RawEvent, error) {
	var out []analytics.RawEvent
	if err := s.each(ctx, filter, func(e analytics.RawEvent) { out = append(out, e) }); err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

// MemoryMetricStore is an in-process MetricStore.
type MemoryMetricStore struct {
	mu   sync.RWMutex
	rows map[analytics.MetricKey]analytics.AggregatedMetric
}

// NewMemoryMetricStore creates an empty store.
func NewMemoryMetricStore() *MemoryMetricStore {
	return &MemoryMetricStore{rows: make(map[analytics.MetricKey]analytics.AggregatedMetric)}
}

func (s *MemoryMetricStore) Upsert(ctx context.Context, m analytics.AggregatedMetric) error {
	return s.UpsertBatch(ctx, []analytics.AggregatedMetric{m})
}

func (s *MemoryMetricStore) UpsertBatch(ctx context.Context, ms []analytics.AggregatedMetric) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range ms {
		key := m.Key()
		m.WindowStart, m.WindowEnd = key.Start, key.End
		if m.ID == "" {
			m.ID = analytics.MetricID(key)
		}
		if prev, ok := s.rows[key]; ok {
			m.CreatedAt = prev.CreatedAt
		}
		m.Attributes = copyAttributes(m.Attributes)
		s.rows[key] = m
	}
	return nil
}

func (s *MemoryMetricStore) Query(ctx context.Context, q analytics.MetricQuery) ([]analytics.AggregatedMetric, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	var out []analytics.AggregatedMetric
	for _, m := range s.rows {
		if q.Matches(m) {
			m.Attributes = copyAttributes(m.Attributes)
			out = append(out, m)
		}
	}
	s.mu.RUnlock()

	SortMetrics(out)
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[len(out)-q.Limit:]
	}
	return out, nil
}

func (s *MemoryMetricStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for k, m := range s.rows {
		if m.WindowEnd.Before(cutoff) {
			delete(s.rows, k)
			n++
		}
	}
	return n, nil
}

// Len returns the number of stored rows.
func (s *MemoryMetricStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rows)
}

// SortMetrics orders rows by window start, then dimension, then name, the
// order every MetricStore returns.
func SortMetrics(ms []analytics.AggregatedMetric) {
	sort.Slice(ms, func(i, j int) bool {
		a, b := ms[i], ms[j]
		if !a.WindowStart.Equal(b.WindowStart) {
			return a.WindowStart.Before(b.WindowStart)
		}
		if a.Dimension != b.Dimension {
			return a.Dimension < b.Dimension
		}
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.Granularity < b.Granularity
	})
}

func copyAttributes(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

var (
	_ analytics.EventStore  = (*MemoryEventStore)(nil)
	_ analytics.MetricStore = (*MemoryMetricStore)(nil)
)
