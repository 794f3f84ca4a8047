package app

import (
	"time"

	"github.com/neshama/shivanotify/internal/calendar"
	"github.com/neshama/shivanotify/internal/notify"
)

// DispatchConfig converts the scheduler section into dispatcher settings
// anchored in loc.
func (c SchedulerConfig) DispatchConfig(loc *time.Location) notify.DispatchConfig {
	quiet := calendar.ShabbatWindow(loc)
	quiet.Enabled = c.QuietHours.Enabled
	return notify.DispatchConfig{
		Workers:     c.Workers,
		MaxAttempts: c.MaxAttempts,
		RetryWindow: c.RetryWindow,
		SendTimeout: c.SendTimeout,
		ClaimTTL:    c.ClaimTTL,
		BatchLimit:  c.BatchLimit,
		Quiet:       quiet,
	}
}

// SchedulerOptions returns the tick loop options derived from configuration.
func (c SchedulerConfig) SchedulerOptions(loc *time.Location) []notify.Option {
	return []notify.Option{
		notify.WithLocation(loc),
		notify.WithInterval(c.Interval),
		notify.WithLeaseTTL(c.LeaseTTL),
		notify.WithRepairSchedule(c.RepairSchedule),
	}
}
