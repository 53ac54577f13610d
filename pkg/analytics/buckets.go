package analytics

import (
	"errors"
	"fmt"
	"iter"
	"slices"
	"time"
)

// ErrInvalidRange is returned when a window range ends before it starts.
var ErrInvalidRange = errors.New("invalid time range: start is after end")

// Window is a half-open interval [Start, End).
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// Degenerate reports whether the window has zero width.
func (w Window) Degenerate() bool {
	return w.Start.Equal(w.End)
}

func (w Window) String() string {
	return fmt.Sprintf("[%s, %s)", w.Start.Format(time.RFC3339), w.End.Format(time.RFC3339))
}

// Boundary returns the k-th calendar boundary after anchor for the given
// granularity. Boundaries are computed from the anchor rather than from the
// previous boundary so month-end anchors never drift (Jan 31, Feb 28, Mar 31).
func (g Granularity) Boundary(anchor time.Time, k int) (time.Time, error) {
	switch g {
	case GranularityMinute:
		return anchor.Add(time.Duration(k) * time.Minute), nil
	case GranularityHour:
		return anchor.Add(time.Duration(k) * time.Hour), nil
	case GranularityDay:
		return anchor.AddDate(0, 0, k), nil
	case GranularityWeek:
		return anchor.AddDate(0, 0, 7*k), nil
	case GranularityMonth:
		return addMonthsClamped(anchor, k), nil
	case GranularityQuarter:
		return addMonthsClamped(anchor, 3*k), nil
	case GranularityYear:
		return addMonthsClamped(anchor, 12*k), nil
	case GranularityCustom:
		return time.Time{}, fmt.Errorf("granularity %s has no calendar unit", g)
	}
	return time.Time{}, fmt.Errorf("unknown granularity %q", string(g))
}

// addMonthsClamped adds n months keeping the day of month, clamped to the
// last day of the target month.
func addMonthsClamped(t time.Time, n int) time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m+time.Month(n), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	if last := daysIn(first.Year(), first.Month(), t.Location()); d > last {
		d = last
	}
	return first.AddDate(0, 0, d-1)
}

func daysIn(year int, month time.Month, loc *time.Location) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, loc).Day()
}

// Windows returns the ordered, non-overlapping windows that exactly cover
// [start, end] at the given granularity. The sequence is lazy and can be
// ranged over any number of times.
//
// start == end yields the single degenerate window [start, start]. The final
// window always ends at end and may be shorter than a full unit. CUSTOM
// granularity yields the whole range as one window.
func Windows(start, end time.Time, g Granularity) (iter.Seq[Window], error) {
	if start.After(end) {
		return nil, ErrInvalidRange
	}
	if _, err := ParseGranularity(string(g)); err != nil {
		return nil, err
	}

	if start.Equal(end) || g == GranularityCustom {
		return func(yield func(Window) bool) {
			yield(Window{Start: start, End: end})
		}, nil
	}

	return func(yield func(Window) bool) {
		prev := start
		for k := 1; ; k++ {
			next, err := g.Boundary(start, k)
			if err != nil || !next.Before(end) {
				break
			}
			if !yield(Window{Start: prev, End: next}) {
				return
			}
			prev = next
		}
		yield(Window{Start: prev, End: end})
	}, nil
}

// CountWindows counts the windows of [start, end] at g without collecting
// them. Counting stops once it exceeds limit; a non-positive limit counts all.
func CountWindows(start, end time.Time, g Granularity, limit int) (int, error) {
	seq, err := Windows(start, end, g)
	if err != nil {
		return 0, err
	}
	n := 0
	for range seq {
		n++
		if limit > 0 && n > limit {
			break
		}
	}
	return n, nil
}

// GenerateWindows collects Windows into a slice.
func GenerateWindows(start, end time.Time, g Granularity) ([]Window, error) {
	seq, err := Windows(start, end, g)
	if err != nil {
		return nil, err
	}
	return slices.Collect(seq), nil
}
