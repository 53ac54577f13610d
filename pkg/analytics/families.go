package analytics

import (
	"fmt"
	"strings"
)

// Family describes one metric family computed per window. The set of
// implementations is closed: CountFamily, UniqueCountFamily and RateFamily.
type Family interface {
	MetricName() string
	family()
}

// CountFamily counts matching events.
type CountFamily struct {
	Name  string
	Types []EventType
}

// UniqueCountFamily counts distinct users or sessions among matching events.
type UniqueCountFamily struct {
	Name  string
	Types []EventType
	Field DistinctField
}

// RateFamily divides two count families measured over the same window.
// Numerator and Denominator name other families in the same set.
type RateFamily struct {
	Name        string
	Numerator   string
	Denominator string
}

func (f CountFamily) MetricName() string       { return f.Name }
func (f UniqueCountFamily) MetricName() string { return f.Name }
func (f RateFamily) MetricName() string        { return f.Name }

func (CountFamily) family()       {}
func (UniqueCountFamily) family() {}
func (RateFamily) family()        {}

// DefaultFamilies returns the storefront funnel, payment and platform
// families rolled up by every pass.
func DefaultFamilies() []Family {
	return []Family{
		CountFamily{Name: "page_views", Types: []EventType{EventPageView}},
		CountFamily{Name: "product_views", Types: []EventType{EventProductView}},
		CountFamily{Name: "searches", Types: []EventType{EventSearch}},
		CountFamily{Name: "add_to_cart", Types: []EventType{EventAddToCart}},
		CountFamily{Name: "orders", Types: []EventType{EventCheckoutComplete}},
		CountFamily{Name: "payments_completed", Types: []EventType{EventPaymentCompleted}},
		CountFamily{Name: "payments_failed", Types: []EventType{EventPaymentFailed}},
		CountFamily{Name: "service_errors", Types: []EventType{EventServiceError}},
		UniqueCountFamily{Name: "active_users", Field: DistinctUser},
		UniqueCountFamily{Name: "unique_sessions", Field: DistinctSession},
		RateFamily{Name: "overall_conversion_rate", Numerator: "orders", Denominator: "product_views"},
		RateFamily{Name: "cart_conversion_rate", Numerator: "orders", Denominator: "add_to_cart"},
		RateFamily{Name: "add_to_cart_rate", Numerator: "add_to_cart", Denominator: "product_views"},
		RateFamily{Name: "payment_failure_rate", Numerator: "payments_failed", Denominator: "payments_completed"},
	}
}

// ValidateFamilies checks names are unique and non-empty and that every
// rate refers to count or unique-count families declared before it.
func ValidateFamilies(families []Family) error {
	seen := make(map[string]Family, len(families))
	for i, f := range families {
		name := f.MetricName()
		if name == "" {
			return fmt.Errorf("family %d has no name", i)
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("duplicate family %q", name)
		}
		switch f := f.(type) {
		case CountFamily:
		case UniqueCountFamily:
			if f.Field != DistinctUser && f.Field != DistinctSession {
				return fmt.Errorf("family %q: unknown distinct field %q", name, f.Field)
			}
		case RateFamily:
			for _, ref := range []string{f.Numerator, f.Denominator} {
				dep, ok := seen[ref]
				if !ok {
					return fmt.Errorf("rate %q references undeclared family %q", name, ref)
				}
				if _, isRate := dep.(RateFamily); isRate {
					return fmt.Errorf("rate %q cannot reference rate %q", name, ref)
				}
			}
		default:
			return fmt.Errorf("family %q has unsupported type %T", name, f)
		}
		seen[name] = f
	}
	return nil
}

func typesAttribute(types []EventType) string {
	if len(types) == 0 {
		return "*"
	}
	parts := make([]string, len(types))
	for i, t := range types {
		parts[i] = string(t)
	}
	return strings.Join(parts, ",")
}
