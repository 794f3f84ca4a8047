package cache

import (
	"context"
	"time"
)

// Store is the shared key/value store used to coordinate scheduler
// instances. A zero ttl means the entry does not expire.
type Store interface {
	// AcquireLease takes key for owner until ttl elapses. It succeeds when
	// the key is free, expired, or already held by owner (a renewal).
	AcquireLease(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)
	// ReleaseLease frees key if owner still holds it.
	ReleaseLease(ctx context.Context, key, owner string) error
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Delete(ctx context.Context, keys ...string) error
}
