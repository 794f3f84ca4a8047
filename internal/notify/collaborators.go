package notify

import (
	"context"
	"time"

	"github.com/neshama/shivanotify/internal/models"
)

// Directory is the read side of the page and signup store. Coverage returns
// confirmed signup counts per date in [from, to]; dates without signups may
// be omitted.
type Directory interface {
	ActivePages(ctx context.Context) ([]models.CoordinationPage, error)
	Page(ctx context.Context, id string) (*models.CoordinationPage, error)
	Signups(ctx context.Context, pageID string) ([]models.Signup, error)
	Signup(ctx context.Context, id string) (*models.Signup, error)
	SignupGroup(ctx context.Context, pageID, groupKey string) ([]models.Signup, error)
	Coverage(ctx context.Context, pageID, from, to string) (map[string]int, error)
	Invite(ctx context.Context, id string) (*models.CoOrganizerInvite, error)
}

// LeaseStore serialises ticks across processes and keeps the heartbeat of
// the last successful tick.
type LeaseStore interface {
	AcquireLease(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)
	ReleaseLease(ctx context.Context, key, owner string) error
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, bool, error)
}
