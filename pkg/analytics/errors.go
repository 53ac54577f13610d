package analytics

import (
	"errors"
	"fmt"
	"time"
)

// ErrDataSourceUnavailable marks failures of the event or metric store.
var ErrDataSourceUnavailable = errors.New("data source unavailable")

// DataSourceError wraps a store failure with the operation that hit it.
type DataSourceError struct {
	Store string // "events" or "metrics"
	Op    string
	Err   error
}

func (e *DataSourceError) Error() string {
	return fmt.Sprintf("%s store %s: %v", e.Store, e.Op, e.Err)
}

func (e *DataSourceError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrDataSourceUnavailable) match any store failure.
func (e *DataSourceError) Is(target error) bool {
	return target == ErrDataSourceUnavailable
}

// NewDataSourceError wraps err, returning nil for a nil err.
func NewDataSourceError(store, op string, err error) error {
	if err == nil {
		return nil
	}
	return &DataSourceError{Store: store, Op: op, Err: err}
}

// AggregationError reports a failed aggregation pass over a time range.
// Window is set when the failure is tied to a single window.
type AggregationError struct {
	Granularity Granularity
	Start       time.Time
	End         time.Time
	Window      *Window
	Err         error
}

func (e *AggregationError) Error() string {
	if e.Window != nil {
		return fmt.Sprintf("aggregation %s %s..%s failed at window %s: %v",
			e.Granularity, e.Start.Format(time.RFC3339), e.End.Format(time.RFC3339), e.Window, e.Err)
	}
	return fmt.Sprintf("aggregation %s %s..%s failed: %v",
		e.Granularity, e.Start.Format(time.RFC3339), e.End.Format(time.RFC3339), e.Err)
}

func (e *AggregationError) Unwrap() error {
	return e.Err
}
