package kpi

import "math"

// Trend is the direction of a KPI over time.
type Trend string

const (
	TrendIncreasing Trend = "INCREASING"
	TrendDecreasing Trend = "DECREASING"
	TrendStable     Trend = "STABLE"
	TrendVolatile   Trend = "VOLATILE"
)

// DefaultSlopeThreshold is the absolute slope, in value units per period,
// at or below which a series is STABLE.
const DefaultSlopeThreshold = 0.1

// TrendConfig tunes series trend classification.
type TrendConfig struct {
	SlopeThreshold float64 `yaml:"slope_threshold" json:"slope_threshold"`
	// VolatilityThreshold enables VOLATILE when positive: a series whose
	// coefficient of variation exceeds it is volatile.
	VolatilityThreshold float64 `yaml:"volatility_threshold" json:"volatility_threshold"`
}

// DefaultTrendConfig returns the slope threshold 0.1 with volatility off.
func DefaultTrendConfig() TrendConfig {
	return TrendConfig{SlopeThreshold: DefaultSlopeThreshold}
}

// EvaluateTrend classifies a period-over-period change. A nil or zero change
// is STABLE.
func EvaluateTrend(change *float64) Trend {
	if change == nil || math.IsNaN(*change) {
		return TrendStable
	}
	switch {
	case *change > 0:
		return TrendIncreasing
	case *change < 0:
		return TrendDecreasing
	default:
		return TrendStable
	}
}

// SeriesTrend classifies an ordered series, oldest first, by its
// least-squares slope. Series shorter than two points are STABLE.
func SeriesTrend(series []float64, cfg TrendConfig) Trend {
	if len(series) < 2 {
		return TrendStable
	}
	if cfg.VolatilityThreshold > 0 {
		if cv, ok := coefficientOfVariation(series); ok && cv > cfg.VolatilityThreshold {
			return TrendVolatile
		}
	}
	slope := Slope(series)
	switch {
	case math.IsNaN(slope), math.Abs(slope) <= cfg.SlopeThreshold:
		return TrendStable
	case slope > 0:
		return TrendIncreasing
	default:
		return TrendDecreasing
	}
}

// Slope returns the least-squares slope of series against its index.
func Slope(series []float64) float64 {
	n := float64(len(series))
	if n < 2 {
		return 0
	}
	var sumX, sumY, sumXY, sumXX float64
	for i, y := range series {
		x := float64(i)
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}
	den := n*sumXX - sumX*sumX
	if den == 0 {
		return 0
	}
	return (n*sumXY - sumX*sumY) / den
}

func coefficientOfVariation(series []float64) (float64, bool) {
	var sum float64
	for _, v := range series {
		sum += v
	}
	mean := sum / float64(len(series))
	if mean == 0 || math.IsNaN(mean) {
		return 0, false
	}
	var sq float64
	for _, v := range series {
		sq += (v - mean) * (v - mean)
	}
	std := math.Sqrt(sq / float64(len(series)))
	return std / math.Abs(mean), true
}

// ChangePercentage returns the percent change from previous to current. It
// is undefined when previous is zero or either value is NaN.
func ChangePercentage(current, previous float64) (float64, bool) {
	if previous == 0 || math.IsNaN(previous) || math.IsNaN(current) {
		return 0, false
	}
	return (current - previous) / math.Abs(previous) * 100, true
}
