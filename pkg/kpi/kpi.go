package kpi

import (
	"strings"
	"time"
)

// DataType tags how a domain metric value is interpreted.
type DataType string

const (
	DataTypeNumber     DataType = "NUMBER"
	DataTypeCount      DataType = "COUNT"
	DataTypePercentage DataType = "PERCENTAGE"
	DataTypeRatio      DataType = "RATIO"
	DataTypeCurrency   DataType = "CURRENCY"
	DataTypeDuration   DataType = "DURATION"
)

// ParseDataType accepts a tag in any case; empty means NUMBER.
func ParseDataType(s string) (DataType, bool) {
	if strings.TrimSpace(s) == "" {
		return DataTypeNumber, true
	}
	d := DataType(strings.ToUpper(strings.TrimSpace(s)))
	switch d {
	case DataTypeNumber, DataTypeCount, DataTypePercentage, DataTypeRatio, DataTypeCurrency, DataTypeDuration:
		return d, true
	}
	return "", false
}

// DomainMetric is a raw business measurement reported by a domain service.
type DomainMetric struct {
	ID               string    `json:"id"`
	Domain           string    `json:"domain"`
	Name             string    `json:"name"`
	Value            float64   `json:"value"`
	Unit             string    `json:"unit,omitempty"`
	DataType         DataType  `json:"data_type,omitempty"`
	CollectedAt      time.Time `json:"collected_at"`
	SourceTimestamp  time.Time `json:"source_timestamp"`
	Trend            Trend     `json:"trend,omitempty"`
	ChangePercentage *float64  `json:"change_percentage,omitempty"`
}

// Key is the "domain/name" reference used by KPI definitions.
func (m DomainMetric) Key() string {
	return MetricRef(m.Domain, m.Name)
}

// MetricRef builds a "domain/name" reference.
func MetricRef(domain, name string) string {
	return domain + "/" + name
}

// DomainKPI is one evaluation snapshot of a KPI. Status and Trend are set
// only by the Evaluator; each evaluation produces a new value.
type DomainKPI struct {
	ID               string      `json:"id"`
	Name             string      `json:"name"`
	Domain           string      `json:"domain,omitempty"`
	Value            *float64    `json:"value"`
	Target           *float64    `json:"target,omitempty"`
	TargetAttainment *float64    `json:"target_attainment,omitempty"`
	Thresholds       *Thresholds `json:"thresholds,omitempty"`
	Status           Status      `json:"status"`
	Trend            Trend       `json:"trend"`
	ChangePercentage *float64    `json:"change_percentage,omitempty"`
	SourceIDs        []string    `json:"source_ids,omitempty"`
	EvaluatedAt      time.Time   `json:"evaluated_at"`
}

func float64Ptr(v float64) *float64 {
	return &v
}
