// Package config loads pulse configuration from environment variables.
//
// Server settings:
//
//	PULSE_HOST="0.0.0.0"
//	PULSE_PORT="8080"
//	PULSE_HEALTH_PORT="9090"
//
// Storage settings:
//
//	PULSE_STORAGE_TYPE="postgres"  # postgres or memory
//	PULSE_POSTGRES_URL="postgres://localhost/pulse?sslmode=disable"
//	PULSE_POSTGRES_REPLICA_URLS="postgres://replica1/pulse,postgres://replica2/pulse"
//	PULSE_REDIS_URL="redis://localhost:6379"
//	PULSE_CACHE_TTL="5m"
//
// Aggregation settings:
//
//	PULSE_AGGREGATION_WORKERS="4"
//	PULSE_TIMEZONE="UTC"
//	PULSE_RETENTION="8760h"
//	PULSE_SCHEDULE_DAILY="5 0 * * *"  # any of hourly, daily, weekly, monthly, quarterly, prune
//
// KPI and collector settings:
//
//	PULSE_KPI_CONFIG="/etc/pulse/kpis.yaml"
//	PULSE_COLLECTOR_SOURCES="order=http://orders/metrics,payment=http://payments/metrics"
//	PULSE_COLLECTOR_TIMEOUT="5s"
//	PULSE_BREAKER_MAX_FAILURES="5"
//
// Observability settings:
//
//	PULSE_LOG_LEVEL="info"  # debug, info, warn, error
//	PULSE_OTEL_ENABLED="true"
//	PULSE_OTEL_ENDPOINT="otel-collector:4317"
package config
