package calendar

import "time"

// QuietWindow is a weekly span of local time during which scheduled mail is
// held back. The default is Friday 18:00 to Saturday 21:00 (Shabbat).
type QuietWindow struct {
	Enabled   bool
	StartDay  time.Weekday
	StartHour int
	EndDay    time.Weekday
	EndHour   int
	Location  *time.Location
}

// ShabbatWindow returns the default weekly pause in loc.
func ShabbatWindow(loc *time.Location) QuietWindow {
	return QuietWindow{
		Enabled:   true,
		StartDay:  time.Friday,
		StartHour: 18,
		EndDay:    time.Saturday,
		EndHour:   21,
		Location:  loc,
	}
}

// Contains reports whether t falls inside the window.
func (w QuietWindow) Contains(t time.Time) bool {
	if !w.Enabled {
		return false
	}
	loc := w.Location
	if loc == nil {
		loc = time.UTC
	}
	local := t.In(loc)

	pos := weekMinute(local.Weekday(), local.Hour(), local.Minute())
	start := weekMinute(w.StartDay, w.StartHour, 0)
	end := weekMinute(w.EndDay, w.EndHour, 0)

	if start <= end {
		return pos >= start && pos < end
	}
	// Window wraps past the end of the week.
	return pos >= start || pos < end
}

func weekMinute(day time.Weekday, hour, minute int) int {
	return int(day)*24*60 + hour*60 + minute
}
