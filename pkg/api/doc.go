// Package api is the HTTP trigger surface of the pulse aggregator.
//
// Routes, all under /v1:
//
//	POST /aggregations              run a pass; {"async": true} answers 202 with a job
//	GET  /jobs/{id}                 async job state
//	POST /prune                     delete aggregated rows before a cutoff
//	GET  /metrics                   query aggregated rows
//	GET  /kpis                      evaluate every configured KPI
//	GET  /kpis/{name}               evaluate one configured KPI
//	POST /kpis/evaluate             evaluate a value against ad-hoc thresholds
//	GET  /schedules                 cadence status
//	POST /schedules/{cadence}/run   run a cadence now
//
// Every request is traced with otelhttp, counted by route template, logged
// with its request ID and protected by panic recovery.
package api
