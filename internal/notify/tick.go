package notify

import (
	"time"

	"github.com/neshama/shivanotify/internal/calendar"
	"github.com/neshama/shivanotify/internal/database"
)

// Tick fixes the clock for one scheduler pass. Date boundaries are computed
// once so a slow tick never straddles two definitions of "today".
type Tick struct {
	Now       time.Time
	Location  *time.Location
	Today     string
	Tomorrow  string
	Yesterday string
}

// NewTick builds the tick for now in loc.
func NewTick(now time.Time, loc *time.Location) Tick {
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	y, m, d := local.Date()
	// Noon avoids any DST edge when stepping whole days.
	noon := time.Date(y, m, d, 12, 0, 0, 0, loc)

	return Tick{
		Now:       database.Normalize(now),
		Location:  loc,
		Today:     noon.Format(calendar.Layout),
		Tomorrow:  noon.AddDate(0, 0, 1).Format(calendar.Layout),
		Yesterday: noon.AddDate(0, 0, -1).Format(calendar.Layout),
	}
}

// Local is Now in the service zone.
func (t Tick) Local() time.Time {
	return t.Now.In(t.Location)
}

// TodayAt is hour:minute local wall time today, in UTC.
func (t Tick) TodayAt(hour, minute int) time.Time {
	at, err := calendar.At(t.Today, hour, minute, t.Location)
	if err != nil {
		// Today is produced by NewTick and always parses.
		panic(err)
	}
	return at.UTC()
}

// Eligible reports whether a record scheduled for at may be sent this tick.
func (t Tick) Eligible(at *time.Time) bool {
	return at == nil || !at.After(t.Now)
}
