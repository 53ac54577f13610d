package kpi

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/platinummonkey/pulse/pkg/observability"
)

// UnitConfig names the standard unit per data type and the factors that
// convert other units into it. Conversions is keyed by source unit, then
// target unit.
type UnitConfig struct {
	Standard    map[DataType]string           `yaml:"standard" json:"standard"`
	Conversions map[string]map[string]float64 `yaml:"conversions" json:"conversions"`
}

// DefaultUnitConfig returns milliseconds for durations, USD for currency,
// percent for percentages and plain ratios.
func DefaultUnitConfig() UnitConfig {
	return UnitConfig{
		Standard: map[DataType]string{
			DataTypeCount:      "count",
			DataTypePercentage: "%",
			DataTypeRatio:      "ratio",
			DataTypeCurrency:   "USD",
			DataTypeDuration:   "ms",
		},
		Conversions: map[string]map[string]float64{
			"us":    {"ms": 0.001},
			"s":     {"ms": 1000},
			"min":   {"ms": 60_000},
			"h":     {"ms": 3_600_000},
			"cents": {"USD": 0.01},
			"ratio": {"%": 100},
			"%":     {"ratio": 0.01},
		},
	}
}

// Merge overlays o on c, returning a new config.
func (c UnitConfig) Merge(o UnitConfig) UnitConfig {
	out := UnitConfig{
		Standard:    make(map[DataType]string, len(c.Standard)+len(o.Standard)),
		Conversions: make(map[string]map[string]float64, len(c.Conversions)+len(o.Conversions)),
	}
	for k, v := range c.Standard {
		out.Standard[k] = v
	}
	for k, v := range o.Standard {
		out.Standard[k] = v
	}
	for _, src := range []map[string]map[string]float64{c.Conversions, o.Conversions} {
		for from, tos := range src {
			if out.Conversions[from] == nil {
				out.Conversions[from] = make(map[string]float64, len(tos))
			}
			for to, f := range tos {
				out.Conversions[from][to] = f
			}
		}
	}
	return out
}

// Validate rejects non-finite or zero conversion factors.
func (c UnitConfig) Validate() error {
	for from, tos := range c.Conversions {
		for to, f := range tos {
			if f == 0 || math.IsNaN(f) || math.IsInf(f, 0) {
				return fmt.Errorf("conversion %s->%s: invalid factor %g", from, to, f)
			}
		}
	}
	return nil
}

// convert returns value expressed in the standard unit of d. Data types
// without a standard unit keep their unit; an empty unit is assumed standard.
func (c UnitConfig) convert(value float64, unit string, d DataType) (float64, string, error) {
	std, ok := c.Standard[d]
	if !ok {
		return value, unit, nil
	}
	if unit == "" || strings.EqualFold(unit, std) {
		return value, std, nil
	}
	factor, ok := c.Conversions[unit][std]
	if !ok {
		return 0, "", fmt.Errorf("no conversion from %q to %q", unit, std)
	}
	return value * factor, std, nil
}

// Normalizer validates domain metrics and converts them to standard units.
type Normalizer struct {
	units   func() UnitConfig
	now     func() time.Time
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewNormalizer creates a normalizer with fixed units. logger and metrics may
// be nil.
func NewNormalizer(units UnitConfig, logger *observability.Logger, metrics *observability.Metrics) *Normalizer {
	return newNormalizer(func() UnitConfig { return units }, logger, metrics)
}

// NewHolderNormalizer creates a normalizer that reads units from the active
// registry of h, so a reloaded config takes effect on the next batch.
func NewHolderNormalizer(h *Holder, logger *observability.Logger, metrics *observability.Metrics) *Normalizer {
	return newNormalizer(func() UnitConfig { return h.Current().Units }, logger, metrics)
}

func newNormalizer(units func() UnitConfig, logger *observability.Logger, metrics *observability.Metrics) *Normalizer {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &Normalizer{units: units, now: time.Now, logger: logger, metrics: metrics}
}

// Normalize validates m and returns a copy in standard units. Rejections are
// *InvalidMetricError.
func (n *Normalizer) Normalize(m DomainMetric) (DomainMetric, error) {
	return n.normalize(m, n.units())
}

func (n *Normalizer) normalize(m DomainMetric, units UnitConfig) (DomainMetric, error) {
	invalid := func(field, reason string) error {
		return &InvalidMetricError{MetricID: m.ID, Field: field, Reason: reason}
	}

	switch {
	case strings.TrimSpace(m.ID) == "":
		return DomainMetric{}, invalid("id", "is required")
	case strings.TrimSpace(m.Domain) == "":
		return DomainMetric{}, invalid("domain", "is required")
	case strings.TrimSpace(m.Name) == "":
		return DomainMetric{}, invalid("name", "is required")
	case math.IsNaN(m.Value) || math.IsInf(m.Value, 0):
		return DomainMetric{}, invalid("value", "is not a finite number")
	}

	dataType, ok := ParseDataType(string(m.DataType))
	if !ok {
		return DomainMetric{}, invalid("data_type", fmt.Sprintf("%q is unknown", m.DataType))
	}

	value, unit, err := units.convert(m.Value, m.Unit, dataType)
	if err != nil {
		return DomainMetric{}, invalid("unit", err.Error())
	}

	switch dataType {
	case DataTypeCount:
		if value < 0 || value != math.Trunc(value) {
			return DomainMetric{}, invalid("value", "must be a non-negative integer count")
		}
	case DataTypePercentage:
		if value < 0 || value > 100 {
			return DomainMetric{}, invalid("value", "must be within 0..100")
		}
	case DataTypeRatio:
		if value < 0 || value > 1 {
			return DomainMetric{}, invalid("value", "must be within 0..1")
		}
	case DataTypeDuration:
		if value < 0 {
			return DomainMetric{}, invalid("value", "must not be negative")
		}
	}

	out := m
	out.Value = value
	out.Unit = unit
	out.DataType = dataType
	if out.CollectedAt.IsZero() {
		out.CollectedAt = n.now().UTC()
	}
	if out.Trend == "" {
		out.Trend = EvaluateTrend(out.ChangePercentage)
	}
	return out, nil
}

// NormalizeAll normalizes ms against one snapshot of the units, logging and
// skipping invalid metrics.
func (n *Normalizer) NormalizeAll(ctx context.Context, ms []DomainMetric) []DomainMetric {
	logger := observability.FromContext(ctx, n.logger)
	units := n.units()
	out := make([]DomainMetric, 0, len(ms))
	for _, m := range ms {
		norm, err := n.normalize(m, units)
		if err != nil {
			var invalid *InvalidMetricError
			field := "unknown"
			if errors.As(err, &invalid) {
				field = invalid.Field
			}
			n.metrics.ObserveInvalidMetric(m.Domain, field)
			logger.WithError(err).WithFields(map[string]interface{}{
				"metric_id": m.ID,
				"domain":    m.Domain,
				"name":      m.Name,
			}).Warn("Skipping invalid domain metric")
			continue
		}
		out = append(out, norm)
	}
	return out
}
