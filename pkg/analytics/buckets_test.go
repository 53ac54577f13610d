package analytics

import (
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func date(y int, m time.Month, d, h int) time.Time {
	return time.Date(y, m, d, h, 0, 0, 0, time.UTC)
}

// assertPartition checks windows are ordered, contiguous and exactly cover [start, end].
func assertPartition(t *testing.T, windows []Window, start, end time.Time) {
	t.Helper()
	require.NotEmpty(t, windows)
	assert.True(t, windows[0].Start.Equal(start), "first window starts at %s", start)
	assert.True(t, windows[len(windows)-1].End.Equal(end), "last window ends at %s", end)
	for i, w := range windows {
		if !start.Equal(end) {
			assert.True(t, w.Start.Before(w.End), "window %d %s is empty", i, w)
		}
		if i > 0 {
			assert.True(t, windows[i-1].End.Equal(w.Start), "gap or overlap before window %d", i)
		}
	}
}

func TestGenerateWindows_Partition(t *testing.T) {
	tests := []struct {
		name  string
		start time.Time
		end   time.Time
		g     Granularity
		count int
	}{
		{"hours aligned", date(2024, 1, 1, 0), date(2024, 1, 1, 6), GranularityHour, 6},
		{"hours with trailing partial", date(2024, 1, 1, 0), date(2024, 1, 1, 6).Add(30 * time.Minute), GranularityHour, 7},
		{"minutes", date(2024, 1, 1, 0), date(2024, 1, 1, 1), GranularityMinute, 60},
		{"days across month", date(2024, 1, 30, 0), date(2024, 2, 2, 0), GranularityDay, 3},
		{"weeks", date(2024, 1, 1, 0), date(2024, 1, 29, 0), GranularityWeek, 4},
		{"quarters", date(2024, 1, 1, 0), date(2025, 1, 1, 0), GranularityQuarter, 4},
		{"years with partial", date(2020, 1, 1, 0), date(2023, 6, 1, 0), GranularityYear, 4},
		{"shorter than one unit", date(2024, 1, 1, 0), date(2024, 1, 1, 0).Add(10 * time.Minute), GranularityHour, 1},
		{"custom is one window", date(2024, 1, 1, 0), date(2024, 3, 1, 0), GranularityCustom, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			windows, err := GenerateWindows(tt.start, tt.end, tt.g)
			require.NoError(t, err)
			assert.Len(t, windows, tt.count)
			assertPartition(t, windows, tt.start, tt.end)
		})
	}
}

func TestGenerateWindows_MonthClamping(t *testing.T) {
	windows, err := GenerateWindows(date(2024, 1, 31, 0), date(2024, 5, 1, 0), GranularityMonth)
	require.NoError(t, err)

	want := []time.Time{
		date(2024, 1, 31, 0),
		date(2024, 2, 29, 0),
		date(2024, 3, 31, 0),
		date(2024, 4, 30, 0),
		date(2024, 5, 1, 0),
	}
	require.Len(t, windows, len(want)-1)
	for i, w := range windows {
		assert.Equal(t, want[i], w.Start, "window %d start", i)
		assert.Equal(t, want[i+1], w.End, "window %d end", i)
	}
}

func TestGenerateWindows_Degenerate(t *testing.T) {
	at := date(2024, 1, 1, 12)
	windows, err := GenerateWindows(at, at, GranularityDay)
	require.NoError(t, err)
	require.Len(t, windows, 1)
	assert.True(t, windows[0].Degenerate())
	assert.Equal(t, at, windows[0].Start)
}

func TestGenerateWindows_Errors(t *testing.T) {
	_, err := GenerateWindows(date(2024, 1, 2, 0), date(2024, 1, 1, 0), GranularityDay)
	assert.ErrorIs(t, err, ErrInvalidRange)

	_, err = GenerateWindows(date(2024, 1, 1, 0), date(2024, 1, 2, 0), Granularity("FORTNIGHT"))
	assert.Error(t, err)
}

func TestWindows_IsRestartable(t *testing.T) {
	seq, err := Windows(date(2024, 1, 1, 0), date(2024, 1, 1, 3), GranularityHour)
	require.NoError(t, err)

	count := func() int {
		n := 0
		for range seq {
			n++
		}
		return n
	}
	assert.Equal(t, 3, count())
	assert.Equal(t, 3, count())

	// stopping early must not panic
	for w := range seq {
		assert.Equal(t, date(2024, 1, 1, 0), w.Start)
		break
	}
}

func TestWindow_Contains(t *testing.T) {
	w := Window{Start: date(2024, 1, 1, 0), End: date(2024, 1, 1, 1)}
	assert.True(t, w.Contains(w.Start))
	assert.False(t, w.Contains(w.End))
}

func TestGranularity_Boundary(t *testing.T) {
	b, err := GranularityYear.Boundary(date(2024, 2, 29, 0), 1)
	require.NoError(t, err)
	assert.Equal(t, date(2025, 2, 28, 0), b)

	_, err = GranularityCustom.Boundary(date(2024, 1, 1, 0), 1)
	assert.Error(t, err)
}

func TestGenerateWindows_DSTCalendarPeriods(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	tests := []struct {
		name  string
		start time.Time
		end   time.Time
		g     Granularity
		width time.Duration
	}{
		{"fall back day", time.Date(2026, 11, 1, 0, 0, 0, 0, ny), time.Date(2026, 11, 2, 0, 0, 0, 0, ny), GranularityDay, 25 * time.Hour},
		{"spring forward day", time.Date(2026, 3, 8, 0, 0, 0, 0, ny), time.Date(2026, 3, 9, 0, 0, 0, 0, ny), GranularityDay, 23 * time.Hour},
		{"november", time.Date(2026, 11, 1, 0, 0, 0, 0, ny), time.Date(2026, 12, 1, 0, 0, 0, 0, ny), GranularityMonth, 30*24*time.Hour + time.Hour},
		{"dst week", time.Date(2026, 10, 26, 0, 0, 0, 0, ny), time.Date(2026, 11, 2, 0, 0, 0, 0, ny), GranularityWeek, 7*24*time.Hour + time.Hour},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			windows, err := GenerateWindows(tt.start, tt.end, tt.g)
			require.NoError(t, err)
			require.Len(t, windows, 1)
			assert.Equal(t, tt.width, windows[0].End.Sub(windows[0].Start))
		})
	}

	// the same instants in UTC are not calendar aligned and split
	windows, err := GenerateWindows(tests[0].start.UTC(), tests[0].end.UTC(), GranularityDay)
	require.NoError(t, err)
	assert.Len(t, windows, 2)
}

func TestCountWindows(t *testing.T) {
	start := date(2024, 1, 1, 0)
	end := date(2024, 1, 2, 0)

	n, err := CountWindows(start, end, GranularityHour, 0)
	require.NoError(t, err)
	assert.Equal(t, 24, n)

	// stops one past the limit instead of walking the whole range
	n, err = CountWindows(start, start.AddDate(10, 0, 0), GranularityMinute, 100)
	require.NoError(t, err)
	assert.Equal(t, 101, n)

	_, err = CountWindows(end, start, GranularityHour, 0)
	assert.ErrorIs(t, err, ErrInvalidRange)
}
