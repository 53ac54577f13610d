package api

import (
	"net/http"

	"github.com/platinummonkey/pulse/pkg/httputil"
	"github.com/platinummonkey/pulse/pkg/scheduler"
)

type schedulesResponse struct {
	Schedules []scheduler.CadenceStatus `json:"schedules"`
}

type runResponse struct {
	Cadence string `json:"cadence"`
	Status  string `json:"status"`
}

// listSchedules handles GET /v1/schedules.
func (s *Server) listSchedules(w http.ResponseWriter, r *http.Request) {
	if s.deps.Scheduler == nil {
		unavailable(w, "scheduler")
		return
	}
	_ = httputil.WriteOK(w, schedulesResponse{Schedules: s.deps.Scheduler.Status()})
}

// runSchedule handles POST /v1/schedules/{cadence}/run. The run happens in
// the request; an overlapping run answers 409.
func (s *Server) runSchedule(w http.ResponseWriter, r *http.Request) {
	if s.deps.Scheduler == nil {
		unavailable(w, "scheduler")
		return
	}
	name, err := httputil.PathString(r, "cadence")
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	if err := s.deps.Scheduler.RunNow(r.Context(), name); err != nil {
		s.writeError(w, r, err)
		return
	}
	_ = httputil.WriteOK(w, runResponse{Cadence: name, Status: "succeeded"})
}
