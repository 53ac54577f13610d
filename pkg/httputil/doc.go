// Package httputil holds the JSON request and response helpers and the
// middleware shared by the pulse HTTP surfaces.
//
// Responses:
//
//	httputil.WriteOK(w, result)
//	httputil.WriteBadRequest(w, "granularity is required")
//
// Requests:
//
//	var req aggregationRequest
//	if !httputil.ParseJSONOrError(w, r, &req) {
//		return
//	}
//	start, err := httputil.QueryTime(r, "start")
//
// Middleware, outermost first:
//
//	handler := httputil.Chain(
//		httputil.RequestIDMiddleware(logger),
//		httputil.LoggingMiddleware(logger),
//		httputil.RecoveryMiddleware(logger),
//		httputil.MaxBytesMiddleware(1<<20),
//	)(router)
package httputil
