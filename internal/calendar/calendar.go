// Package calendar works with local calendar dates in the service zone.
//
// Dates are carried as "YYYY-MM-DD" strings, the same representation pages
// and signups use. Wall-clock instants are anchored to a date with At, which
// resolves the local time through time.Date so that daylight-saving shifts
// move the instant rather than the calendar day.
package calendar

import (
	"fmt"
	"time"
)

// Layout is the date string format.
const Layout = "2006-01-02"

// DateOf returns the local calendar date of t in loc.
func DateOf(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(Layout)
}

// Parse reads a date string as local midnight in loc.
func Parse(date string, loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation(Layout, date, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("calendar: parse %q: %w", date, err)
	}
	return t, nil
}

// Valid reports whether date is a well-formed date string.
func Valid(date string) bool {
	_, err := time.Parse(Layout, date)
	return err == nil
}

// AddDays shifts a date string by n calendar days.
func AddDays(date string, n int) (string, error) {
	t, err := time.Parse(Layout, date)
	if err != nil {
		return "", fmt.Errorf("calendar: parse %q: %w", date, err)
	}
	return t.AddDate(0, 0, n).Format(Layout), nil
}

// At returns the instant of hour:minute local wall time on date.
func At(date string, hour, minute int, loc *time.Location) (time.Time, error) {
	t, err := time.Parse(Layout, date)
	if err != nil {
		return time.Time{}, fmt.Errorf("calendar: parse %q: %w", date, err)
	}
	return time.Date(t.Year(), t.Month(), t.Day(), hour, minute, 0, 0, loc), nil
}

// InRange reports whether start <= date <= end. Date strings order lexically.
func InRange(date, start, end string) bool {
	return date >= start && date <= end
}

// Range lists every date from start to end inclusive.
func Range(start, end string) ([]string, error) {
	from, err := time.Parse(Layout, start)
	if err != nil {
		return nil, fmt.Errorf("calendar: parse %q: %w", start, err)
	}
	to, err := time.Parse(Layout, end)
	if err != nil {
		return nil, fmt.Errorf("calendar: parse %q: %w", end, err)
	}

	var out []string
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		out = append(out, d.Format(Layout))
	}
	return out, nil
}

// Max returns the later of two date strings.
func Max(a, b string) string {
	if a > b {
		return a
	}
	return b
}

// Min returns the earlier of two date strings.
func Min(a, b string) string {
	if a < b {
		return a
	}
	return b
}
