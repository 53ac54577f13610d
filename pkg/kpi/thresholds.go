package kpi

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// ErrThresholdMisconfigured is returned when a threshold set is partially
// configured, unordered, or contains NaN.
var ErrThresholdMisconfigured = errors.New("threshold misconfigured")

// Thresholds are the tier cut points of a KPI. All four bounds are always
// set. When HigherIsBetter, bounds descend from Excellent to Critical;
// otherwise they ascend.
type Thresholds struct {
	Excellent      float64 `json:"excellent"`
	Good           float64 `json:"good"`
	Warning        float64 `json:"warning"`
	Critical       float64 `json:"critical"`
	HigherIsBetter bool    `json:"higher_is_better"`
}

// NewThresholds builds and validates a threshold set.
func NewThresholds(excellent, good, warning, critical float64, higherIsBetter bool) (Thresholds, error) {
	t := Thresholds{
		Excellent:      excellent,
		Good:           good,
		Warning:        warning,
		Critical:       critical,
		HigherIsBetter: higherIsBetter,
	}
	return t, t.Validate()
}

// MustThresholds is NewThresholds for literals known to be valid.
func MustThresholds(excellent, good, warning, critical float64, higherIsBetter bool) Thresholds {
	t, err := NewThresholds(excellent, good, warning, critical, higherIsBetter)
	if err != nil {
		panic(err)
	}
	return t
}

// Validate checks tier ordering. Equal adjacent bounds are allowed and
// collapse the lower tier.
func (t Thresholds) Validate() error {
	bounds := []float64{t.Excellent, t.Good, t.Warning, t.Critical}
	for i, b := range bounds {
		if math.IsNaN(b) {
			return fmt.Errorf("%w: %s is NaN", ErrThresholdMisconfigured, tierNames[i])
		}
	}
	for i := 1; i < len(bounds); i++ {
		prev, cur := bounds[i-1], bounds[i]
		if t.HigherIsBetter && cur > prev {
			return fmt.Errorf("%w: %s (%g) above %s (%g) with higher-is-better",
				ErrThresholdMisconfigured, tierNames[i], cur, tierNames[i-1], prev)
		}
		if !t.HigherIsBetter && cur < prev {
			return fmt.Errorf("%w: %s (%g) below %s (%g) with lower-is-better",
				ErrThresholdMisconfigured, tierNames[i], cur, tierNames[i-1], prev)
		}
	}
	return nil
}

var tierNames = [...]string{"excellent", "good", "warning", "critical"}

// ThresholdSpec is the configuration form of Thresholds, where any bound may
// be absent. HigherIsBetter defaults to true.
type ThresholdSpec struct {
	Excellent      *float64 `yaml:"excellent" json:"excellent,omitempty"`
	Good           *float64 `yaml:"good" json:"good,omitempty"`
	Warning        *float64 `yaml:"warning" json:"warning,omitempty"`
	Critical       *float64 `yaml:"critical" json:"critical,omitempty"`
	HigherIsBetter *bool    `yaml:"higher_is_better" json:"higher_is_better,omitempty"`
}

// Resolve converts the nullable form into Thresholds.
//
// A spec with no bounds resolves to nil, which evaluates to UNKNOWN. A spec
// with every bound resolves to validated Thresholds. A partial spec is
// rejected unless legacy is set; legacy fills the missing bounds the way
// older deployments did: excellent and good become unreachable and warning
// and critical always match, so anything short of a configured tier is
// WARNING.
func (s ThresholdSpec) Resolve(legacy bool) (*Thresholds, error) {
	higher := true
	if s.HigherIsBetter != nil {
		higher = *s.HigherIsBetter
	}

	bounds := []*float64{s.Excellent, s.Good, s.Warning, s.Critical}
	var missing []string
	for i, b := range bounds {
		if b == nil {
			missing = append(missing, tierNames[i])
		}
	}
	if len(missing) == len(bounds) {
		return nil, nil
	}
	if len(missing) > 0 && !legacy {
		return nil, fmt.Errorf("%w: missing %s", ErrThresholdMisconfigured, strings.Join(missing, ", "))
	}

	unreachable, always := math.Inf(1), math.Inf(-1)
	if !higher {
		unreachable, always = always, unreachable
	}
	pick := func(v *float64, fallback float64) float64 {
		if v == nil {
			return fallback
		}
		return *v
	}

	t := Thresholds{
		Excellent:      pick(s.Excellent, unreachable),
		Good:           pick(s.Good, unreachable),
		Warning:        pick(s.Warning, always),
		Critical:       pick(s.Critical, always),
		HigherIsBetter: higher,
	}
	if legacy {
		// Defaults can break ordering against configured neighbours; legacy
		// configs were never validated, so only NaN is rejected.
		for i, b := range []float64{t.Excellent, t.Good, t.Warning, t.Critical} {
			if math.IsNaN(b) {
				return nil, fmt.Errorf("%w: %s is NaN", ErrThresholdMisconfigured, tierNames[i])
			}
		}
		return &t, nil
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &t, nil
}
