// Package dates holds the calendar helpers used to drive date-range crawls.
package dates

import (
	"fmt"
	"time"
)

// Layout is the canonical record date format.
const Layout = "2006-01-02"

// Parse reads a YYYY-MM-DD date in loc.
func Parse(s string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	t, err := time.ParseInLocation(Layout, s, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return t, nil
}

// Format renders t as YYYY-MM-DD.
func Format(t time.Time) string {
	return t.Format(Layout)
}

// Day truncates t to midnight in its own location.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// Yesterday returns the day before now.
func Yesterday(now time.Time) time.Time {
	return Day(now).AddDate(0, 0, -1)
}

// LastWeek returns the day a week before now.
func LastWeek(now time.Time) time.Time {
	return Day(now).AddDate(0, 0, -7)
}

// LastMonth returns the same day one month before now.
func LastMonth(now time.Time) time.Time {
	return Day(now).AddDate(0, -1, 0)
}

// LastDayOfMonth returns the last calendar day of t's month.
func LastDayOfMonth(t time.Time) time.Time {
	first := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
	return first.AddDate(0, 1, -1)
}

// Range lists every step-th day from start to end, both inclusive.
// The walk runs backwards when end is before start.
func Range(start, end time.Time, step int) []string {
	if step <= 0 {
		step = 1
	}
	start, end = Day(start), Day(end)
	dir := 1
	if end.Before(start) {
		dir = -1
	}
	var out []string
	for d := start; ; d = d.AddDate(0, 0, dir*step) {
		if dir > 0 && d.After(end) || dir < 0 && d.Before(end) {
			break
		}
		out = append(out, Format(d))
	}
	return out
}

// ClampMonthly maps a date of a monthly series onto the last day of its month,
// but never later than yesterday.
func ClampMonthly(date string, now time.Time) (string, error) {
	t, err := Parse(date, now.Location())
	if err != nil {
		return "", err
	}
	last := LastDayOfMonth(t)
	if y := Yesterday(now); y.Before(last) {
		return Format(y), nil
	}
	return Format(last), nil
}

// WithinLastMonth reports whether date is on or after the same day last month.
func WithinLastMonth(date string, now time.Time) bool {
	t, err := Parse(date, now.Location())
	if err != nil {
		return false
	}
	return !t.Before(LastMonth(now))
}
