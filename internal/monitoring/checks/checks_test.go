package checks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/neshama/shivanotify/internal/database/testutil"
	"github.com/neshama/shivanotify/internal/monitoring"
)

type tickSource struct {
	at  time.Time
	ok  bool
	err error
}

func (s tickSource) LastTick(context.Context) (time.Time, bool, error) {
	return s.at, s.ok, s.err
}

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

func TestDatabaseCheck(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	result := Database(db).Run(context.Background())
	require.Equal(t, monitoring.StatusUp, result.Status)

	result = Database(nil).Run(context.Background())
	require.Equal(t, monitoring.StatusDown, result.Status)
}

func TestSchedulerCheck(t *testing.T) {
	now := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	ctx := context.Background()

	fresh := Scheduler(tickSource{at: now.Add(-20 * time.Minute), ok: true}, 15*time.Minute, clock)
	require.Equal(t, monitoring.StatusUp, fresh.Run(ctx).Status)

	stale := Scheduler(tickSource{at: now.Add(-2 * time.Hour), ok: true}, 15*time.Minute, clock)
	result := stale.Run(ctx)
	require.Equal(t, monitoring.StatusDegraded, result.Status)
	require.Contains(t, result.Details, "2026-10-01T10:00:00Z")

	failing := Scheduler(tickSource{err: errors.New("store offline")}, 15*time.Minute, clock)
	require.Equal(t, monitoring.StatusDown, failing.Run(ctx).Status)

	require.Equal(t, monitoring.StatusUp, Scheduler(nil, time.Minute, clock).Run(ctx).Status)
}

func TestSchedulerCheckGracePeriod(t *testing.T) {
	now := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	check := Scheduler(tickSource{}, 15*time.Minute, func() time.Time { return now })
	ctx := context.Background()

	result := check.Run(ctx)
	require.Equal(t, monitoring.StatusUp, result.Status)
	require.Equal(t, "awaiting first tick", result.Details)

	now = now.Add(time.Hour)
	require.Equal(t, monitoring.StatusDegraded, check.Run(ctx).Status)
}

func TestRedisCheck(t *testing.T) {
	ctx := context.Background()
	require.Equal(t, monitoring.StatusUp, Redis(nil, false).Run(ctx).Status)
	require.Equal(t, monitoring.StatusDegraded, Redis(nil, true).Run(ctx).Status)
	require.Equal(t, monitoring.StatusUp, Redis(pinger{}, true).Run(ctx).Status)
	require.Equal(t, monitoring.StatusDown, Redis(pinger{err: errors.New("refused")}, true).Run(ctx).Status)
}
