package kpi

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// Input is everything the evaluator needs for one KPI snapshot.
type Input struct {
	Name       string
	Domain     string
	Value      float64
	Target     *float64
	Thresholds *Thresholds
	// Previous is the prior period's value, used for the change percentage.
	Previous *float64
	// ChangePercentage is an upstream-supplied change, used when Previous
	// and History cannot provide one.
	ChangePercentage *float64
	// History is the value series ending with the current value, oldest
	// first. Three or more points switch trend to the slope classifier.
	History []float64
	// PresetStatus is an upstream status, honoured only WithPresetStatus.
	PresetStatus Status
	SourceIDs    []string
}

// Evaluator derives status, trend and target attainment for KPI values.
type Evaluator struct {
	trend        TrendConfig
	presetStatus bool
	now          func() time.Time
}

// EvaluatorOption configures an Evaluator.
type EvaluatorOption func(*Evaluator)

// WithTrendConfig sets the series trend tuning.
func WithTrendConfig(cfg TrendConfig) EvaluatorOption {
	return func(e *Evaluator) { e.trend = cfg }
}

// WithPresetStatus makes the evaluator keep a valid upstream status instead
// of computing one. Only for producers that predate threshold configuration.
func WithPresetStatus(enabled bool) EvaluatorOption {
	return func(e *Evaluator) { e.presetStatus = enabled }
}

// WithEvaluatorClock overrides the time source for EvaluatedAt.
func WithEvaluatorClock(now func() time.Time) EvaluatorOption {
	return func(e *Evaluator) { e.now = now }
}

// NewEvaluator creates an evaluator with the default trend config.
func NewEvaluator(opts ...EvaluatorOption) *Evaluator {
	e := &Evaluator{trend: DefaultTrendConfig(), now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate returns a new KPI snapshot for in. It never fails: a NaN value
// yields a snapshot with no value and UNKNOWN status.
func (e *Evaluator) Evaluate(in Input) DomainKPI {
	out := DomainKPI{
		ID:          uuid.NewString(),
		Name:        in.Name,
		Domain:      in.Domain,
		Target:      in.Target,
		Thresholds:  in.Thresholds,
		SourceIDs:   append([]string(nil), in.SourceIDs...),
		EvaluatedAt: e.now().UTC(),
	}

	if math.IsNaN(in.Value) || math.IsInf(in.Value, 0) {
		out.Status = StatusUnknown
		out.Trend = TrendStable
		return out
	}
	out.Value = float64Ptr(in.Value)

	if e.presetStatus && in.PresetStatus.Valid() && in.PresetStatus != StatusUnknown {
		out.Status = in.PresetStatus
	} else {
		out.Status = EvaluateStatus(in.Value, in.Thresholds)
	}

	out.ChangePercentage = e.change(in)
	if len(in.History) >= 3 {
		out.Trend = SeriesTrend(in.History, e.trend)
	} else {
		out.Trend = EvaluateTrend(out.ChangePercentage)
	}

	higher := in.Thresholds == nil || in.Thresholds.HigherIsBetter
	out.TargetAttainment = TargetAttainment(in.Value, in.Target, higher)
	return out
}

func (e *Evaluator) change(in Input) *float64 {
	previous := in.Previous
	if previous == nil && len(in.History) >= 2 {
		previous = float64Ptr(in.History[len(in.History)-2])
	}
	if previous != nil {
		if pct, ok := ChangePercentage(in.Value, *previous); ok {
			return &pct
		}
	}
	if in.ChangePercentage != nil && !math.IsNaN(*in.ChangePercentage) {
		return float64Ptr(*in.ChangePercentage)
	}
	return nil
}

// TargetAttainment returns how much of target value reaches, in percent.
// For lower-is-better KPIs it is target/value. It is nil when there is no
// target or the ratio is undefined.
func TargetAttainment(value float64, target *float64, higherIsBetter bool) *float64 {
	if target == nil {
		return nil
	}
	if higherIsBetter {
		if *target == 0 {
			return nil
		}
		return float64Ptr(value / *target * 100)
	}
	if value == 0 {
		return nil
	}
	return float64Ptr(*target / value * 100)
}
