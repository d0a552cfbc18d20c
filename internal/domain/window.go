package domain

import (
	"fmt"
	"time"
)

const millisPerDay = int64(24 * time.Hour / time.Millisecond)

// Window is a half-open daily interval [Start, End).
type Window struct {
	Index int
	Start time.Time
	End   time.Time
}

// Contains reports whether t falls in [Start, End).
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

func (w Window) String() string {
	return fmt.Sprintf("#%d [%s, %s)", w.Index, w.Start.Format(time.RFC3339), w.End.Format(time.RFC3339))
}

// TimeRange holds the earliest and latest timestamp of a batch and how many
// timestamps were observed.
type TimeRange struct {
	Min   time.Time
	Max   time.Time
	Count int64
}

// Merge combines two ranges. It is associative and commutative, and the zero
// TimeRange is its identity.
func (r TimeRange) Merge(o TimeRange) TimeRange {
	if r.IsZero() {
		return o
	}
	if o.IsZero() {
		return r
	}
	r.Count += o.Count
	if o.Min.Before(r.Min) {
		r.Min = o.Min
	}
	if o.Max.After(r.Max) {
		r.Max = o.Max
	}
	return r
}

// IsZero reports whether the range has never observed a timestamp.
func (r TimeRange) IsZero() bool {
	return r.Count == 0
}

// Observe widens the range to include t.
func (r TimeRange) Observe(t time.Time) TimeRange {
	return r.Merge(TimeRange{Min: t, Max: t, Count: 1})
}

// Extent scans measurements for the earliest and latest timestamp.
// It returns ErrEmptyInput when there is nothing to scan.
func Extent(ms []Measurement) (TimeRange, error) {
	if len(ms) == 0 {
		return TimeRange{}, ErrEmptyInput
	}
	var r TimeRange
	for _, m := range ms {
		r = r.Observe(m.Timestamp())
	}
	return r, nil
}

// StartOfDay truncates t to midnight in loc.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// PlanDailyWindows returns the daily windows covering a batch from minTS to maxTS.
//
// The first window starts at minTS truncated to midnight in loc. The window
// count is the absolute span from that midnight to maxTS in whole days; a trailing
// partial day is dropped, and a span shorter than a day yields no windows.
// Consecutive windows advance by one calendar day in loc.
func PlanDailyWindows(minTS, maxTS time.Time, loc *time.Location) []Window {
	if loc == nil {
		loc = time.UTC
	}
	start := StartOfDay(minTS, loc)

	span := maxTS.Sub(start).Milliseconds()
	if span < 0 {
		span = -span
	}
	days := int(span / millisPerDay)

	windows := make([]Window, 0, days)
	for i := 0; i < days; i++ {
		end := start.AddDate(0, 0, 1)
		windows = append(windows, Window{Index: i, Start: start, End: end})
		start = end
	}
	return windows
}
