package kpi

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var evalNow = time.Date(2024, 2, 1, 12, 0, 0, 0, time.UTC)

func newTestEvaluator(opts ...EvaluatorOption) *Evaluator {
	return NewEvaluator(append([]EvaluatorOption{WithEvaluatorClock(func() time.Time { return evalNow })}, opts...)...)
}

func TestEvaluator_StatusTrendAndAttainment(t *testing.T) {
	th := MustThresholds(90, 70, 50, 30, true)
	k := newTestEvaluator().Evaluate(Input{
		Name:       "fulfilment",
		Value:      75,
		Previous:   f(60),
		Target:     f(100),
		Thresholds: &th,
		SourceIDs:  []string{"a"},
	})

	require.NotNil(t, k.Value)
	assert.Equal(t, 75.0, *k.Value)
	assert.Equal(t, StatusGood, k.Status)
	assert.Equal(t, TrendIncreasing, k.Trend)
	require.NotNil(t, k.ChangePercentage)
	assert.InDelta(t, 25, *k.ChangePercentage, 1e-9)
	require.NotNil(t, k.TargetAttainment)
	assert.InDelta(t, 75, *k.TargetAttainment, 1e-9)
	assert.Equal(t, evalNow, k.EvaluatedAt)
	assert.NotEmpty(t, k.ID)
}

func TestEvaluator_SnapshotsAreIndependent(t *testing.T) {
	e := newTestEvaluator()
	in := Input{Name: "x", Value: 1, SourceIDs: []string{"s1"}}
	first := e.Evaluate(in)
	in.SourceIDs[0] = "changed"
	second := e.Evaluate(in)

	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, "s1", first.SourceIDs[0])
}

func TestEvaluator_HistoryUsesSlope(t *testing.T) {
	// last step is down, but the series climbs overall
	k := newTestEvaluator().Evaluate(Input{Name: "x", Value: 4, History: []float64{1, 3, 5, 4}})
	assert.Equal(t, TrendIncreasing, k.Trend)
	require.NotNil(t, k.ChangePercentage)
	assert.InDelta(t, -20, *k.ChangePercentage, 1e-9)
}

func TestEvaluator_SuppliedChange(t *testing.T) {
	k := newTestEvaluator().Evaluate(Input{Name: "x", Value: 4, ChangePercentage: f(-5)})
	assert.Equal(t, TrendDecreasing, k.Trend)

	k = newTestEvaluator().Evaluate(Input{Name: "x", Value: 4})
	assert.Equal(t, TrendStable, k.Trend)
	assert.Nil(t, k.ChangePercentage)
}

func TestEvaluator_NaNValueIsUnknown(t *testing.T) {
	th := MustThresholds(90, 70, 50, 30, true)
	k := newTestEvaluator().Evaluate(Input{Name: "x", Value: math.NaN(), Thresholds: &th})
	assert.Nil(t, k.Value)
	assert.Equal(t, StatusUnknown, k.Status)
	assert.Equal(t, TrendStable, k.Trend)
}

func TestEvaluator_PresetStatus(t *testing.T) {
	th := MustThresholds(90, 70, 50, 30, true)
	in := Input{Name: "x", Value: 10, Thresholds: &th, PresetStatus: StatusExcellent}

	assert.Equal(t, StatusCritical, newTestEvaluator().Evaluate(in).Status, "preset ignored by default")
	assert.Equal(t, StatusExcellent, newTestEvaluator(WithPresetStatus(true)).Evaluate(in).Status)

	in.PresetStatus = StatusUnknown
	assert.Equal(t, StatusCritical, newTestEvaluator(WithPresetStatus(true)).Evaluate(in).Status)
}

func TestTargetAttainment(t *testing.T) {
	assert.Nil(t, TargetAttainment(5, nil, true))
	assert.Nil(t, TargetAttainment(5, f(0), true))
	assert.InDelta(t, 50, *TargetAttainment(200, f(100), false), 1e-9)
	assert.Nil(t, TargetAttainment(0, f(100), false))
}
