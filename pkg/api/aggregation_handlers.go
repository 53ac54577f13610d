package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/platinummonkey/pulse/pkg/analytics"
	"github.com/platinummonkey/pulse/pkg/httputil"
)

type aggregationRequest struct {
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	Granularity string    `json:"granularity"`
	Async       bool      `json:"async"`
}

type pruneRequest struct {
	Cutoff time.Time `json:"cutoff"`
}

type pruneResponse struct {
	Cutoff  time.Time `json:"cutoff"`
	Deleted int64     `json:"deleted"`
}

// runAggregation handles POST /v1/aggregations.
func (s *Server) runAggregation(w http.ResponseWriter, r *http.Request) {
	if s.deps.Aggregator == nil {
		unavailable(w, "aggregator")
		return
	}
	var req aggregationRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Start.IsZero() || req.End.IsZero() {
		httputil.WriteBadRequest(w, "start and end are required")
		return
	}
	g, err := analytics.ParseGranularity(req.Granularity)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	if req.Start.After(req.End) {
		httputil.WriteBadRequest(w, analytics.ErrInvalidRange.Error())
		return
	}
	n, err := analytics.CountWindows(req.Start, req.End, g, s.maxWindows)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	if n > s.maxWindows {
		httputil.WriteBadRequest(w, fmt.Sprintf("range spans more than %d %s windows", s.maxWindows, g))
		return
	}

	if req.Async {
		if s.deps.Jobs == nil {
			httputil.WriteBadRequest(w, "async execution is not enabled")
			return
		}
		job, err := s.deps.Jobs.Submit(r.Context(), "aggregation", func(ctx context.Context) (interface{}, error) {
			return s.deps.Aggregator.Aggregate(ctx, req.Start, req.End, g)
		})
		if err != nil {
			httputil.WriteServiceUnavailable(w, err.Error())
			return
		}
		w.Header().Set("Location", "/v1/jobs/"+job.ID)
		_ = httputil.WriteAccepted(w, job)
		return
	}

	result, err := s.deps.Aggregator.Aggregate(r.Context(), req.Start, req.End, g)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	_ = httputil.WriteOK(w, result)
}

// getJob handles GET /v1/jobs/{id}.
func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	if s.deps.Jobs == nil {
		unavailable(w, "job tracker")
		return
	}
	id, err := httputil.PathString(r, "id")
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	job, ok := s.deps.Jobs.Get(id)
	if !ok {
		httputil.WriteNotFound(w, "job not found")
		return
	}
	_ = httputil.WriteOK(w, job)
}

// prune handles POST /v1/prune.
func (s *Server) prune(w http.ResponseWriter, r *http.Request) {
	if s.deps.Pruner == nil {
		unavailable(w, "pruner")
		return
	}
	var req pruneRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Cutoff.IsZero() {
		httputil.WriteBadRequest(w, "cutoff is required")
		return
	}
	deleted, err := s.deps.Pruner.Prune(r.Context(), req.Cutoff)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	_ = httputil.WriteOK(w, pruneResponse{Cutoff: req.Cutoff.UTC(), Deleted: deleted})
}
