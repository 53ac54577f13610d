package kpi

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/pulse/pkg/analytics"
)

// Defaults for aggregated-metric KPI definitions.
const (
	DefaultHistoryWindows = 7
	DefaultGranularity    = analytics.GranularityDay
)

// FileConfig is the on-disk KPI configuration.
//
//	legacy_threshold_defaults: false
//	trend:
//	  slope_threshold: 0.1
//	units:
//	  standard: {DURATION: ms}
//	kpis:
//	  - name: overall_conversion
//	    metric: overall_conversion_rate
//	    granularity: DAY
//	    target: 0.12
//	    thresholds: {excellent: 0.12, good: 0.08, warning: 0.05, critical: 0.02}
type FileConfig struct {
	LegacyThresholdDefaults bool             `yaml:"legacy_threshold_defaults"`
	PresetStatus            bool             `yaml:"preset_status"`
	Trend                   *TrendConfig     `yaml:"trend"`
	Units                   *UnitConfig      `yaml:"units"`
	KPIs                    []DefinitionSpec `yaml:"kpis"`
}

// DefinitionSpec configures one KPI. Exactly one of Metric and
// DomainMetric is set.
type DefinitionSpec struct {
	Name        string        `yaml:"name"`
	Domain      string        `yaml:"domain"`
	Description string        `yaml:"description"`
	Metric      string        `yaml:"metric"`
	Dimension   string        `yaml:"dimension"`
	Granularity string        `yaml:"granularity"`
	History     int           `yaml:"history"`
	DomainRef   string        `yaml:"domain_metric"`
	Target      *float64      `yaml:"target"`
	Thresholds  ThresholdSpec `yaml:"thresholds"`
}

// Definition is a resolved KPI definition.
type Definition struct {
	Name        string                `json:"name"`
	Domain      string                `json:"domain,omitempty"`
	Description string                `json:"description,omitempty"`
	Metric      string                `json:"metric,omitempty"`
	Dimension   string                `json:"dimension,omitempty"`
	Granularity analytics.Granularity `json:"granularity,omitempty"`
	History     int                   `json:"history,omitempty"`
	DomainRef   string                `json:"domain_metric,omitempty"`
	Target      *float64              `json:"target,omitempty"`
	Thresholds  *Thresholds           `json:"thresholds,omitempty"`
}

// FromAggregates reports whether the KPI reads aggregated metrics rather
// than a domain metric.
func (d Definition) FromAggregates() bool {
	return d.Metric != ""
}

// Registry is an immutable snapshot of loaded KPI configuration.
type Registry struct {
	Definitions  []Definition
	Trend        TrendConfig
	Units        UnitConfig
	Legacy       bool
	PresetStatus bool
	Source       string
	LoadedAt     time.Time
}

// EmptyRegistry returns a registry with defaults and no KPIs.
func EmptyRegistry() *Registry {
	return &Registry{
		Trend:    DefaultTrendConfig(),
		Units:    DefaultUnitConfig(),
		LoadedAt: time.Now().UTC(),
	}
}

// Lookup finds a definition by name.
func (r *Registry) Lookup(name string) (Definition, bool) {
	for _, d := range r.Definitions {
		if d.Name == name {
			return d, true
		}
	}
	return Definition{}, false
}

// ParseConfig decodes and resolves a YAML KPI configuration. Unknown fields
// are rejected.
func ParseConfig(data []byte) (*Registry, error) {
	var fc FileConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&fc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode kpi config: %w", err)
	}
	return fc.Resolve()
}

// LoadFile reads and resolves the KPI configuration at path.
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read kpi config: %w", err)
	}
	r, err := ParseConfig(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	r.Source = path
	return r, nil
}

// Resolve validates the file config into a Registry.
func (fc FileConfig) Resolve() (*Registry, error) {
	r := EmptyRegistry()
	r.Legacy = fc.LegacyThresholdDefaults
	r.PresetStatus = fc.PresetStatus

	if fc.Trend != nil {
		r.Trend = *fc.Trend
		if r.Trend.SlopeThreshold < 0 || r.Trend.VolatilityThreshold < 0 {
			return nil, errors.New("trend thresholds must not be negative")
		}
	}
	if fc.Units != nil {
		r.Units = r.Units.Merge(*fc.Units)
		if err := r.Units.Validate(); err != nil {
			return nil, fmt.Errorf("units: %w", err)
		}
	}

	seen := make(map[string]bool, len(fc.KPIs))
	for i, spec := range fc.KPIs {
		def, err := spec.resolve(r.Legacy)
		if err != nil {
			name := spec.Name
			if name == "" {
				name = fmt.Sprintf("#%d", i)
			}
			return nil, fmt.Errorf("kpi %s: %w", name, err)
		}
		if seen[def.Name] {
			return nil, fmt.Errorf("kpi %s: duplicate name", def.Name)
		}
		seen[def.Name] = true
		r.Definitions = append(r.Definitions, def)
	}
	return r, nil
}

func (s DefinitionSpec) resolve(legacy bool) (Definition, error) {
	def := Definition{
		Name:        strings.TrimSpace(s.Name),
		Domain:      s.Domain,
		Description: s.Description,
		Metric:      s.Metric,
		DomainRef:   s.DomainRef,
		Target:      s.Target,
	}
	if def.Name == "" {
		return Definition{}, errors.New("name is required")
	}
	switch {
	case s.Metric != "" && s.DomainRef != "":
		return Definition{}, errors.New("metric and domain_metric are mutually exclusive")
	case s.Metric == "" && s.DomainRef == "":
		return Definition{}, errors.New("one of metric or domain_metric is required")
	}

	if def.FromAggregates() {
		def.Dimension = s.Dimension
		if def.Dimension == "" {
			def.Dimension = analytics.DimensionOverall
		}
		def.Granularity = DefaultGranularity
		if s.Granularity != "" {
			g, err := analytics.ParseGranularity(s.Granularity)
			if err != nil {
				return Definition{}, err
			}
			def.Granularity = g
		}
		def.History = s.History
		if def.History <= 0 {
			def.History = DefaultHistoryWindows
		}
	} else if !strings.Contains(s.DomainRef, "/") {
		return Definition{}, fmt.Errorf("domain_metric %q must be domain/name", s.DomainRef)
	}

	t, err := s.Thresholds.Resolve(legacy)
	if err != nil {
		return Definition{}, err
	}
	def.Thresholds = t
	return def, nil
}

// Holder publishes the current Registry to concurrent readers.
type Holder struct {
	current atomic.Pointer[Registry]
}

// NewHolder creates a holder with an initial registry.
func NewHolder(r *Registry) *Holder {
	h := &Holder{}
	if r == nil {
		r = EmptyRegistry()
	}
	h.current.Store(r)
	return h
}

// Current returns the active registry.
func (h *Holder) Current() *Registry {
	return h.current.Load()
}

// Swap installs r and returns the previous registry.
func (h *Holder) Swap(r *Registry) *Registry {
	return h.current.Swap(r)
}
