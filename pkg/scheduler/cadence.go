package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/platinummonkey/pulse/pkg/analytics"
)

// Job is the work of one cadence. now is the fire time in the scheduler's
// location.
type Job func(ctx context.Context, now time.Time) error

// Cadence is one recurring job with a standard 5-field cron spec.
type Cadence struct {
	Name string
	Spec string
	// Granularity is informational for prune-style cadences.
	Granularity analytics.Granularity
	Run         Job
}

// Aggregator runs an aggregation pass.
type Aggregator interface {
	Aggregate(ctx context.Context, start, end time.Time, g analytics.Granularity) (analytics.PassResult, error)
}

// Pruner removes aggregated rows past retention.
type Pruner interface {
	PruneOlderThan(ctx context.Context, now time.Time, retention time.Duration) (int64, error)
}

// Default cron specs.
const (
	HourlySpec    = "0 * * * *"
	DailySpec     = "5 0 * * *"
	WeeklySpec    = "10 0 * * 1"
	MonthlySpec   = "15 0 1 * *"
	QuarterlySpec = "20 0 1 1,4,7,10 *"
	PruneSpec     = "30 2 * * *"
)

// PreviousPeriod returns the last complete calendar period of granularity g
// before now, evaluated in now's location. Weeks start on Monday.
func PreviousPeriod(now time.Time, g analytics.Granularity) (start, end time.Time, err error) {
	loc := now.Location()
	y, mo, d := now.Date()

	switch g {
	case analytics.GranularityMinute:
		end = now.Truncate(time.Minute)
		start = end.Add(-time.Minute)
	case analytics.GranularityHour:
		end = time.Date(y, mo, d, now.Hour(), 0, 0, 0, loc)
		start = end.Add(-time.Hour)
	case analytics.GranularityDay:
		end = time.Date(y, mo, d, 0, 0, 0, 0, loc)
		start = end.AddDate(0, 0, -1)
	case analytics.GranularityWeek:
		offset := (int(now.Weekday()) + 6) % 7
		end = time.Date(y, mo, d-offset, 0, 0, 0, 0, loc)
		start = end.AddDate(0, 0, -7)
	case analytics.GranularityMonth:
		end = time.Date(y, mo, 1, 0, 0, 0, 0, loc)
		start = end.AddDate(0, -1, 0)
	case analytics.GranularityQuarter:
		first := time.Month((int(mo)-1)/3*3 + 1)
		end = time.Date(y, first, 1, 0, 0, 0, 0, loc)
		start = end.AddDate(0, -3, 0)
	case analytics.GranularityYear:
		end = time.Date(y, time.January, 1, 0, 0, 0, 0, loc)
		start = end.AddDate(-1, 0, 0)
	default:
		return time.Time{}, time.Time{}, fmt.Errorf("granularity %s has no calendar period", g)
	}
	return start, end, nil
}

// AggregationCadence aggregates the previous full period of g on every fire.
func AggregationCadence(name, spec string, g analytics.Granularity, agg Aggregator) Cadence {
	return Cadence{
		Name:        name,
		Spec:        spec,
		Granularity: g,
		Run: func(ctx context.Context, now time.Time) error {
			start, end, err := PreviousPeriod(now, g)
			if err != nil {
				return err
			}
			_, err = agg.Aggregate(ctx, start, end, g)
			return err
		},
	}
}

// PruneCadence deletes rows older than retention on every fire.
func PruneCadence(spec string, pruner Pruner, retention time.Duration) Cadence {
	return Cadence{
		Name: "prune",
		Spec: spec,
		Run: func(ctx context.Context, now time.Time) error {
			_, err := pruner.PruneOlderThan(ctx, now, retention)
			return err
		},
	}
}

// DefaultCadences returns hourly through quarterly aggregation plus daily
// pruning. A nil pruner omits the prune cadence.
func DefaultCadences(agg Aggregator, pruner Pruner, retention time.Duration) []Cadence {
	cs := []Cadence{
		AggregationCadence("hourly", HourlySpec, analytics.GranularityHour, agg),
		AggregationCadence("daily", DailySpec, analytics.GranularityDay, agg),
		AggregationCadence("weekly", WeeklySpec, analytics.GranularityWeek, agg),
		AggregationCadence("monthly", MonthlySpec, analytics.GranularityMonth, agg),
		AggregationCadence("quarterly", QuarterlySpec, analytics.GranularityQuarter, agg),
	}
	if pruner != nil {
		if retention <= 0 {
			retention = analytics.DefaultRetention
		}
		cs = append(cs, PruneCadence(PruneSpec, pruner, retention))
	}
	return cs
}
