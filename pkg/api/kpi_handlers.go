package api

import (
	"net/http"

	"github.com/platinummonkey/pulse/pkg/httputil"
	"github.com/platinummonkey/pulse/pkg/kpi"
)

type kpisResponse struct {
	KPIs []kpi.DomainKPI `json:"kpis"`
	// Warning is set when some KPIs could not read their data and were
	// reported as UNKNOWN.
	Warning string `json:"warning,omitempty"`
}

type kpiResponse struct {
	kpi.DomainKPI
	Warning string `json:"warning,omitempty"`
}

type evaluateRequest struct {
	Name       string            `json:"name"`
	Domain     string            `json:"domain"`
	Value      *float64          `json:"value"`
	Target     *float64          `json:"target"`
	Thresholds kpi.ThresholdSpec `json:"thresholds"`
	Previous   *float64          `json:"previous"`
	History    []float64         `json:"history"`
}

// listKPIs handles GET /v1/kpis. Data failures degrade affected KPIs to
// UNKNOWN and still answer 200.
func (s *Server) listKPIs(w http.ResponseWriter, r *http.Request) {
	if s.deps.KPIs == nil {
		unavailable(w, "kpi service")
		return
	}
	kpis, err := s.deps.KPIs.EvaluateAll(r.Context())
	resp := kpisResponse{KPIs: kpis}
	if resp.KPIs == nil {
		resp.KPIs = []kpi.DomainKPI{}
	}
	if err != nil {
		if r.Context().Err() != nil {
			s.writeError(w, r, r.Context().Err())
			return
		}
		resp.Warning = err.Error()
	}
	_ = httputil.WriteOK(w, resp)
}

// getKPI handles GET /v1/kpis/{name}.
func (s *Server) getKPI(w http.ResponseWriter, r *http.Request) {
	if s.deps.KPIs == nil {
		unavailable(w, "kpi service")
		return
	}
	name, err := httputil.PathString(r, "name")
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	k, err := s.deps.KPIs.Evaluate(r.Context(), name)
	resp := kpiResponse{DomainKPI: k}
	if err != nil {
		if k.Name == "" || r.Context().Err() != nil {
			s.writeError(w, r, err)
			return
		}
		resp.Warning = err.Error()
	}
	_ = httputil.WriteOK(w, resp)
}

// evaluateKPI handles POST /v1/kpis/evaluate: one value against ad-hoc
// thresholds, without touching configuration or storage.
func (s *Server) evaluateKPI(w http.ResponseWriter, r *http.Request) {
	var req evaluateRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Name == "" {
		httputil.WriteBadRequest(w, "name is required")
		return
	}
	if req.Value == nil {
		httputil.WriteBadRequest(w, "value is required")
		return
	}
	thresholds, err := req.Thresholds.Resolve(false)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	history := req.History
	if len(history) > 0 {
		history = append(append([]float64(nil), history...), *req.Value)
	}
	k := s.evaluator.Evaluate(kpi.Input{
		Name:       req.Name,
		Domain:     req.Domain,
		Value:      *req.Value,
		Target:     req.Target,
		Thresholds: thresholds,
		Previous:   req.Previous,
		History:    history,
	})
	_ = httputil.WriteOK(w, k)
}
