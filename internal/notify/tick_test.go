package notify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewTickComputesLocalDates(t *testing.T) {
	loc, err := time.LoadLocation("America/Toronto")
	require.NoError(t, err)

	// 02:30 UTC on April 1 is still March 31 in Toronto.
	tick := NewTick(time.Date(2026, 4, 1, 2, 30, 15, 500, time.UTC), loc)
	require.Equal(t, "2026-03-31", tick.Today)
	require.Equal(t, "2026-04-01", tick.Tomorrow)
	require.Equal(t, "2026-03-30", tick.Yesterday)
	require.Equal(t, time.Date(2026, 4, 1, 2, 30, 15, 0, time.UTC), tick.Now)
}

func TestTickTodayAtAcrossDaylightSaving(t *testing.T) {
	loc, err := time.LoadLocation("America/Toronto")
	require.NoError(t, err)

	// Clocks spring forward at 02:00 on 2026-03-08.
	tick := NewTick(time.Date(2026, 3, 8, 6, 0, 0, 0, time.UTC), loc)
	require.Equal(t, "2026-03-08", tick.Today)
	require.Equal(t, time.Date(2026, 3, 8, 12, 0, 0, 0, time.UTC), tick.TodayAt(MorningOfReminderHour, 0))
	require.Equal(t, time.Date(2026, 3, 8, 23, 0, 0, 0, time.UTC), tick.TodayAt(DayBeforeReminderHour, 0))

	// Clocks fall back at 02:00 on 2026-11-01.
	tick = NewTick(time.Date(2026, 11, 1, 12, 0, 0, 0, time.UTC), loc)
	require.Equal(t, time.Date(2026, 11, 1, 13, 0, 0, 0, time.UTC), tick.TodayAt(MorningOfReminderHour, 0))
}

func TestTickEligible(t *testing.T) {
	tick := NewTick(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC), time.UTC)
	before := tick.Now.Add(-time.Minute)
	after := tick.Now.Add(time.Minute)

	require.True(t, tick.Eligible(nil))
	require.True(t, tick.Eligible(&before))
	require.True(t, tick.Eligible(&tick.Now))
	require.False(t, tick.Eligible(&after))
}
