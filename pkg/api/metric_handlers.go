package api

import (
	"fmt"
	"net/http"

	"github.com/platinummonkey/pulse/pkg/analytics"
	"github.com/platinummonkey/pulse/pkg/httputil"
)

const maxQueryLimit = 10000

type metricsResponse struct {
	Metrics []analytics.AggregatedMetric `json:"metrics"`
	Count   int                          `json:"count"`
}

// queryMetrics handles GET /v1/metrics.
//
// Query params: name (required), dimension, granularity, start, end (RFC
// 3339) and limit, which keeps the newest windows.
func (s *Server) queryMetrics(w http.ResponseWriter, r *http.Request) {
	if s.deps.Metrics == nil {
		unavailable(w, "metric store")
		return
	}
	q, err := parseMetricQuery(r)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	rows, err := s.deps.Metrics.Query(r.Context(), q)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if rows == nil {
		rows = []analytics.AggregatedMetric{}
	}
	_ = httputil.WriteOK(w, metricsResponse{Metrics: rows, Count: len(rows)})
}

func parseMetricQuery(r *http.Request) (analytics.MetricQuery, error) {
	q := analytics.MetricQuery{
		Name:      httputil.QueryString(r, "name", ""),
		Dimension: httputil.QueryString(r, "dimension", ""),
	}
	if q.Name == "" {
		return q, fmt.Errorf("name is required")
	}
	if g := httputil.QueryString(r, "granularity", ""); g != "" {
		parsed, err := analytics.ParseGranularity(g)
		if err != nil {
			return q, err
		}
		q.Granularity = parsed
	}
	var err error
	if q.Start, err = httputil.QueryTime(r, "start"); err != nil {
		return q, err
	}
	if q.End, err = httputil.QueryTime(r, "end"); err != nil {
		return q, err
	}
	if !q.Start.IsZero() && !q.End.IsZero() && q.Start.After(q.End) {
		return q, analytics.ErrInvalidRange
	}
	if q.Limit, err = httputil.QueryInt(r, "limit", 0); err != nil {
		return q, err
	}
	if q.Limit < 0 || q.Limit > maxQueryLimit {
		return q, fmt.Errorf("limit must be between 0 and %d", maxQueryLimit)
	}
	return q, nil
}
