package checks

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/neshama/shivanotify/internal/monitoring"
)

const defaultMaintenanceMaxAge = 26 * time.Hour

// Maintenance degrades when a recorded housekeeping job (cache purge,
// attempt retention, reminder flag repair) is failing or has not run within
// maxAge. Zero uses 26h: one daily run plus slack.
func Maintenance(maxAge time.Duration) monitoring.Check {
	if maxAge <= 0 {
		maxAge = defaultMaintenanceMaxAge
	}

	return monitoring.NewCheck("maintenance", func(context.Context) monitoring.ProbeResult {
		now := time.Now()
		jobs := monitoring.Snapshot().Maintenance.Jobs
		if len(jobs) == 0 {
			return monitoring.ProbeResult{Status: monitoring.StatusUp, Details: "no maintenance runs recorded"}
		}

		var problems []string
		for _, job := range jobs {
			if job.ConsecutiveFailures > 0 {
				problems = append(problems, fmt.Sprintf("%s: %d consecutive failures: %s", job.Job, job.ConsecutiveFailures, job.LastError))
			}
			if !job.LastRunAt.IsZero() && now.Sub(job.LastRunAt) > maxAge {
				problems = append(problems, fmt.Sprintf("%s: last run %s", job.Job, job.LastRunAt.UTC().Format(time.RFC3339)))
			}
		}
		if len(problems) == 0 {
			return monitoring.ProbeResult{Status: monitoring.StatusUp}
		}
		return monitoring.ProbeResult{Status: monitoring.StatusDegraded, Details: strings.Join(problems, "; ")}
	})
}
