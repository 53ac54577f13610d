package analytics

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Granularity is the calendar unit that sets bucket width. The string
// values are wire-stable.
type Granularity string

const (
	GranularityMinute  Granularity = "MINUTE"
	GranularityHour    Granularity = "HOUR"
	GranularityDay     Granularity = "DAY"
	GranularityWeek    Granularity = "WEEK"
	GranularityMonth   Granularity = "MONTH"
	GranularityQuarter Granularity = "QUARTER"
	GranularityYear    Granularity = "YEAR"
	GranularityCustom  Granularity = "CUSTOM"
)

// Granularities returns every granularity tag.
func Granularities() []Granularity {
	return []Granularity{
		GranularityMinute, GranularityHour, GranularityDay, GranularityWeek,
		GranularityMonth, GranularityQuarter, GranularityYear, GranularityCustom,
	}
}

// ParseGranularity accepts a tag in any case.
func ParseGranularity(s string) (Granularity, error) {
	g := Granularity(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range Granularities() {
		if g == known {
			return g, nil
		}
	}
	return "", fmt.Errorf("unknown granularity %q", s)
}

func (g Granularity) String() string {
	return string(g)
}

// MetricKind describes how an aggregated value was derived.
type MetricKind string

const (
	KindCount       MetricKind = "COUNT"
	KindSum         MetricKind = "SUM"
	KindAverage     MetricKind = "AVERAGE"
	KindMin         MetricKind = "MIN"
	KindMax         MetricKind = "MAX"
	KindUniqueCount MetricKind = "UNIQUE_COUNT"
	KindRate        MetricKind = "RATE"
	KindRatio       MetricKind = "RATIO"
	KindHistogram   MetricKind = "HISTOGRAM"
)

// DimensionOverall is the dimension for totals across all services.
const DimensionOverall = "overall"

const servicePrefix = "service:"

// ServiceDimension returns the dimension key for a single service.
func ServiceDimension(service string) string {
	return servicePrefix + service
}

// ServiceFromDimension extracts the service name from a service dimension.
func ServiceFromDimension(dimension string) (string, bool) {
	if !strings.HasPrefix(dimension, servicePrefix) {
		return "", false
	}
	return strings.TrimPrefix(dimension, servicePrefix), true
}

// AggregatedMetric is one rolled-up value for a (name, dimension, window,
// granularity) key. Rows are immutable once written; re-aggregation replaces
// the value under the same key.
type AggregatedMetric struct {
	ID          string            `json:"id"`
	Kind        MetricKind        `json:"kind"`
	Name        string            `json:"name"`
	Dimension   string            `json:"dimension"`
	Value       float64           `json:"value"`
	WindowStart time.Time         `json:"window_start"`
	WindowEnd   time.Time         `json:"window_end"`
	Granularity Granularity       `json:"granularity"`
	CreatedAt   time.Time         `json:"created_at"`
	Attributes  map[string]string `json:"attributes,omitempty"`
}

// Key returns the upsert key of the metric.
func (m AggregatedMetric) Key() MetricKey {
	return MetricKey{
		Name:        m.Name,
		Dimension:   m.Dimension,
		Start:       m.WindowStart.UTC(),
		End:         m.WindowEnd.UTC(),
		Granularity: m.Granularity,
	}
}

// MetricKey identifies an aggregated row for upserts.
type MetricKey struct {
	Name        string
	Dimension   string
	Start       time.Time
	End         time.Time
	Granularity Granularity
}

// metricNamespace seeds deterministic metric IDs.
var metricNamespace = uuid.MustParse("6f1c2a4e-8a39-4f7b-9a51-4c0d0f3b7e21")

// MetricID returns the deterministic identifier for a metric key, so that
// re-running a window produces the same row.
func MetricID(k MetricKey) string {
	raw := fmt.Sprintf("%s|%s|%s|%d|%d",
		k.Name, k.Dimension, k.Granularity, k.Start.UnixNano(), k.End.UnixNano())
	return uuid.NewSHA1(metricNamespace, []byte(raw)).String()
}

// MetricQuery selects aggregated rows. Empty Dimension and Granularity match
// all; rows are returned when their window lies within [Start, End].
type MetricQuery struct {
	Name        string
	Dimension   string
	Granularity Granularity
	Start       time.Time
	End         time.Time
	// Limit caps the result size when positive; newest windows are kept.
	Limit int
}

// Matches reports whether m satisfies the query.
func (q MetricQuery) Matches(m AggregatedMetric) bool {
	if q.Name != "" && m.Name != q.Name {
		return false
	}
	if q.Dimension != "" && m.Dimension != q.Dimension {
		return false
	}
	if q.Granularity != "" && m.Granularity != q.Granularity {
		return false
	}
	if !q.Start.IsZero() && m.WindowStart.Before(q.Start) {
		return false
	}
	if !q.End.IsZero() && m.WindowEnd.After(q.End) {
		return false
	}
	return true
}
