package checks

import (
	"context"
	"fmt"
	"time"

	"github.com/neshama/shivanotify/internal/monitoring"
)

const staleTickFactor = 3

// TickSource reports when the scheduler last completed a tick.
type TickSource interface {
	LastTick(ctx context.Context) (time.Time, bool, error)
}

// Scheduler reports degraded when no tick has succeeded within three
// intervals. A fresh process gets the same grace period before its first tick.
func Scheduler(source TickSource, interval time.Duration, now func() time.Time) monitoring.Check {
	if now == nil {
		now = time.Now
	}
	started := now()
	maxAge := staleTickFactor * interval

	return monitoring.NewCheck("scheduler", func(ctx context.Context) monitoring.ProbeResult {
		if source == nil {
			return monitoring.ProbeResult{
				Status:  monitoring.StatusUp,
				Details: "scheduler disabled",
			}
		}

		last, ok, err := source.LastTick(ctx)
		if err != nil {
			return monitoring.ResultFromError("scheduler", err, 0)
		}

		current := now()
		if !ok {
			if maxAge > 0 && current.Sub(started) > maxAge {
				return monitoring.ProbeResult{
					Status:  monitoring.StatusDegraded,
					Details: "no successful tick since start",
				}
			}
			return monitoring.ProbeResult{
				Status:  monitoring.StatusUp,
				Details: "awaiting first tick",
			}
		}

		if maxAge > 0 && current.Sub(last) > maxAge {
			return monitoring.ProbeResult{
				Status:  monitoring.StatusDegraded,
				Details: fmt.Sprintf("last successful tick at %s", last.UTC().Format(time.RFC3339)),
			}
		}
		return monitoring.ProbeResult{Status: monitoring.StatusUp}
	})
}
