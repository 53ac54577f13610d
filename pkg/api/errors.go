package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/platinummonkey/pulse/pkg/analytics"
	"github.com/platinummonkey/pulse/pkg/httputil"
	"github.com/platinummonkey/pulse/pkg/kpi"
	"github.com/platinummonkey/pulse/pkg/scheduler"
)

// writeError maps domain errors onto status codes. Unclassified errors are
// logged and reported as 500 without detail.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, analytics.ErrInvalidRange),
		errors.Is(err, kpi.ErrThresholdMisconfigured):
		httputil.WriteBadRequest(w, err.Error())
	case errors.Is(err, kpi.ErrUnknownKPI),
		errors.Is(err, scheduler.ErrUnknownCadence):
		httputil.WriteNotFound(w, err.Error())
	case errors.Is(err, scheduler.ErrAlreadyRunning):
		httputil.WriteConflict(w, err.Error())
	case errors.Is(err, analytics.ErrDataSourceUnavailable),
		errors.Is(err, scheduler.ErrStopped):
		s.log(r).WithError(err).Warn("Request failed on unavailable dependency")
		httputil.WriteServiceUnavailable(w, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		httputil.WriteErrorMessage(w, http.StatusGatewayTimeout, "request cancelled")
	default:
		s.log(r).WithError(err).Error("Request failed")
		httputil.WriteInternalError(w)
	}
}

func unavailable(w http.ResponseWriter, what string) {
	httputil.WriteServiceUnavailable(w, what+" is not configured")
}
