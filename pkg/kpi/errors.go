package kpi

import (
	"errors"
	"fmt"
)

// ErrInvalidMetric marks domain metrics rejected by normalization.
var ErrInvalidMetric = errors.New("invalid metric")

// InvalidMetricError describes why a domain metric was rejected.
type InvalidMetricError struct {
	MetricID string
	Field    string
	Reason   string
}

func (e *InvalidMetricError) Error() string {
	id := e.MetricID
	if id == "" {
		id = "<no id>"
	}
	return fmt.Sprintf("invalid metric %s: %s %s", id, e.Field, e.Reason)
}

func (e *InvalidMetricError) Is(target error) bool {
	return target == ErrInvalidMetric
}
