// Command pulse-aggregator runs the aggregation scheduler, the KPI service
// and the HTTP trigger API in one process.
//
// Configuration comes from PULSE_* environment variables (see pkg/config);
// a few flags override them:
//
//	pulse-aggregator                          # serve and schedule
//	pulse-aggregator -no-scheduler            # serve only
//	pulse-aggregator -run-once -granularity HOUR -at 2024-03-01T10:00:00Z
//
// The health server on PULSE_HEALTH_PORT serves /healthz, /readyz and
// /metrics.
package main
