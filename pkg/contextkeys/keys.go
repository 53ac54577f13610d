// Package contextkeys defines every context key used across pulse, so that
// packages agree on keys without importing each other.
//
//	ctx = contextkeys.WithRequestID(ctx, id)
//	id := contextkeys.GetRequestID(ctx)
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// LoggerKey holds the request- or run-scoped *observability.Logger.
	// Set by observability.WithLogger.
	LoggerKey Key = "logger"

	// RequestIDKey holds the HTTP request ID string.
	// Set by httputil.RequestIDMiddleware.
	RequestIDKey Key = "request_id"

	// PassIDKey holds the aggregation pass ID string.
	// Set by analytics.Aggregator for the duration of a pass.
	PassIDKey Key = "pass_id"

	// JobIDKey holds the async job ID string.
	// Set by async.Tracker for submitted jobs.
	JobIDKey Key = "job_id"
)

// WithRequestID adds request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// GetRequestID retrieves request ID from context
func GetRequestID(ctx context.Context) string {
	return stringValue(ctx, RequestIDKey)
}

// WithPassID adds an aggregation pass ID to the context
func WithPassID(ctx context.Context, passID string) context.Context {
	return context.WithValue(ctx, PassIDKey, passID)
}

// GetPassID retrieves the aggregation pass ID from context
func GetPassID(ctx context.Context) string {
	return stringValue(ctx, PassIDKey)
}

// WithJobID adds an async job ID to the context
func WithJobID(ctx context.Context, jobID string) context.Context {
	return context.WithValue(ctx, JobIDKey, jobID)
}

// GetJobID retrieves the async job ID from context
func GetJobID(ctx context.Context) string {
	return stringValue(ctx, JobIDKey)
}

func stringValue(ctx context.Context, key Key) string {
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}
