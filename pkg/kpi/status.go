package kpi

import "math"

// Status is the tier a KPI value falls into.
type Status string

const (
	StatusExcellent Status = "EXCELLENT"
	StatusGood      Status = "GOOD"
	StatusWarning   Status = "WARNING"
	StatusCritical  Status = "CRITICAL"
	StatusUnknown   Status = "UNKNOWN"
)

// Code maps a status to the numeric value exported as a gauge.
func (s Status) Code() int {
	switch s {
	case StatusCritical:
		return 1
	case StatusWarning:
		return 2
	case StatusGood:
		return 3
	case StatusExcellent:
		return 4
	default:
		return 0
	}
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusExcellent, StatusGood, StatusWarning, StatusCritical, StatusUnknown:
		return true
	}
	return false
}

// EvaluateStatus classifies value against t. It is total: a NaN value or
// nil thresholds yield UNKNOWN. There is no hysteresis between tiers.
func EvaluateStatus(value float64, t *Thresholds) Status {
	if t == nil || math.IsNaN(value) {
		return StatusUnknown
	}
	atLeast := func(bound float64) bool {
		if t.HigherIsBetter {
			return value >= bound
		}
		return value <= bound
	}
	switch {
	case atLeast(t.Excellent):
		return StatusExcellent
	case atLeast(t.Good):
		return StatusGood
	case atLeast(t.Warning):
		return StatusWarning
	default:
		return StatusCritical
	}
}
