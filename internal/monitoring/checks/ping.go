package checks

import (
	"context"

	"gorm.io/gorm"

	"github.com/neshama/shivanotify/internal/monitoring"
)

// Pinger is the minimal surface required to probe the Redis lease store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Database pings the event log database. The health manager bounds the probe.
func Database(db *gorm.DB) monitoring.Check {
	return monitoring.NewCheck("database", func(ctx context.Context) monitoring.ProbeResult {
		if db == nil {
			return monitoring.ProbeResult{Status: monitoring.StatusDown, Details: "database not configured"}
		}
		sqlDB, err := db.DB()
		if err == nil {
			err = sqlDB.PingContext(ctx)
		}
		return monitoring.ResultFromError("database", err, 0)
	})
}

// Redis probes the Redis lease store. Without Redis configured the probe is
// up. Configured but missing means the engine fell back to the database
// lease, which still serialises ticks, so the probe is degraded, not down.
func Redis(client Pinger, enabled bool) monitoring.Check {
	return monitoring.NewCheck("redis", func(ctx context.Context) monitoring.ProbeResult {
		switch {
		case !enabled:
			return monitoring.ProbeResult{Status: monitoring.StatusUp, Details: "redis disabled"}
		case client == nil:
			return monitoring.ProbeResult{Status: monitoring.StatusDegraded, Details: "redis unreachable at start-up; using database lease"}
		}
		return monitoring.ResultFromError("redis", client.Ping(ctx), 0)
	})
}
