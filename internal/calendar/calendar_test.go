package calendar

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func toronto(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("America/Toronto")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	return loc
}

func TestDateOfUsesLocation(t *testing.T) {
	zone := time.FixedZone("EST", -5*3600)
	// 02:30 UTC on the 15th is still the 14th in EST.
	instant := time.Date(2026, 3, 15, 2, 30, 0, 0, time.UTC)

	require.Equal(t, "2026-03-14", DateOf(instant, zone))
	require.Equal(t, "2026-03-15", DateOf(instant, time.UTC))
}

func TestAddDaysCrossesMonthAndYear(t *testing.T) {
	next, err := AddDays("2026-12-31", 1)
	require.NoError(t, err)
	require.Equal(t, "2027-01-01", next)

	prev, err := AddDays("2026-03-01", -1)
	require.NoError(t, err)
	require.Equal(t, "2026-02-28", prev)

	_, err = AddDays("bogus", 1)
	require.Error(t, err)
}

func TestAtAnchorsLocalWallTime(t *testing.T) {
	zone := time.FixedZone("EST", -5*3600)
	at, err := At("2026-03-14", 19, 0, zone)
	require.NoError(t, err)
	require.True(t, at.Equal(time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)))
}

func TestAtAcrossDaylightSavingStart(t *testing.T) {
	loc := toronto(t)

	// Clocks jump forward at 02:00 on 2026-03-08; 19:00 is unaffected.
	before, err := At("2026-03-07", 19, 0, loc)
	require.NoError(t, err)
	after, err := At("2026-03-08", 19, 0, loc)
	require.NoError(t, err)

	require.Equal(t, 23*time.Hour, after.Sub(before))
	require.Equal(t, 19, after.In(loc).Hour())
	require.Equal(t, "2026-03-08", DateOf(after, loc))
}

func TestInRangeAndRange(t *testing.T) {
	require.True(t, InRange("2026-03-14", "2026-03-10", "2026-03-14"))
	require.False(t, InRange("2026-03-15", "2026-03-10", "2026-03-14"))
	require.False(t, InRange("2026-03-09", "2026-03-10", "2026-03-14"))

	dates, err := Range("2026-02-27", "2026-03-02")
	require.NoError(t, err)
	require.Equal(t, []string{"2026-02-27", "2026-02-28", "2026-03-01", "2026-03-02"}, dates)

	empty, err := Range("2026-03-02", "2026-03-01")
	require.NoError(t, err)
	require.Empty(t, empty)

	require.Equal(t, "2026-03-02", Max("2026-03-01", "2026-03-02"))
	require.Equal(t, "2026-03-01", Min("2026-03-01", "2026-03-02"))
}

func TestShabbatWindow(t *testing.T) {
	zone := time.FixedZone("EST", -5*3600)
	w := ShabbatWindow(zone)

	// 2026-03-13 is a Friday.
	cases := []struct {
		name string
		at   time.Time
		want bool
	}{
		{"friday afternoon", time.Date(2026, 3, 13, 17, 59, 0, 0, zone), false},
		{"friday evening", time.Date(2026, 3, 13, 18, 0, 0, 0, zone), true},
		{"saturday noon", time.Date(2026, 3, 14, 12, 0, 0, 0, zone), true},
		{"saturday after havdalah", time.Date(2026, 3, 14, 21, 0, 0, 0, zone), false},
		{"sunday", time.Date(2026, 3, 15, 8, 0, 0, 0, zone), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, w.Contains(tc.at))
		})
	}

	w.Enabled = false
	require.False(t, w.Contains(time.Date(2026, 3, 14, 12, 0, 0, 0, zone)))
}

func TestQuietWindowWrapsWeek(t *testing.T) {
	w := QuietWindow{Enabled: true, StartDay: time.Saturday, StartHour: 22, EndDay: time.Sunday, EndHour: 6, Location: time.UTC}

	require.True(t, w.Contains(time.Date(2026, 3, 14, 23, 0, 0, 0, time.UTC)))
	require.True(t, w.Contains(time.Date(2026, 3, 15, 5, 0, 0, 0, time.UTC)))
	require.False(t, w.Contains(time.Date(2026, 3, 15, 7, 0, 0, 0, time.UTC)))
}
