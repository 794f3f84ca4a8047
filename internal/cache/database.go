package cache

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/neshama/shivanotify/internal/database"
	"github.com/neshama/shivanotify/internal/models"
)

var errNotInitialised = errors.New("cache: database store not initialised")

// DatabaseStore implements Store on the primary SQL database.
type DatabaseStore struct {
	db  *gorm.DB
	now func() time.Time
}

// DatabaseOption customises a DatabaseStore.
type DatabaseOption func(*DatabaseStore)

// WithClock overrides the clock used for expiry decisions.
func WithClock(now func() time.Time) DatabaseOption {
	return func(s *DatabaseStore) {
		if now != nil {
			s.now = now
		}
	}
}

// NewDatabaseStore constructs a database-backed Store.
func NewDatabaseStore(db *gorm.DB, opts ...DatabaseOption) *DatabaseStore {
	if db == nil {
		return nil
	}
	store := &DatabaseStore{db: db, now: time.Now}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

// AcquireLease takes or renews a lease under a row lock.
func (s *DatabaseStore) AcquireLease(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	if s == nil {
		return false, errNotInitialised
	}
	if owner == "" {
		return false, errors.New("cache: lease owner is required")
	}

	now := database.Normalize(s.now())
	expiry := expiryAt(now, ttl)
	acquired := false

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var entry models.CacheEntry
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where(keyIs(key)).Take(&entry).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			result := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&models.CacheEntry{
				Key:       key,
				Value:     []byte(owner),
				ExpiresAt: expiry,
			})
			acquired = result.Error == nil && result.RowsAffected > 0
			return result.Error
		}
		if err != nil {
			return err
		}

		if string(entry.Value) != owner && !expired(entry.ExpiresAt, now) {
			return nil
		}
		entry.Value = []byte(owner)
		entry.ExpiresAt = expiry
		if err := tx.Save(&entry).Error; err != nil {
			return err
		}
		acquired = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return acquired, nil
}

// ReleaseLease deletes the lease if owner still holds it.
func (s *DatabaseStore) ReleaseLease(ctx context.Context, key, owner string) error {
	if s == nil {
		return errNotInitialised
	}
	return s.db.WithContext(ctx).
		Where(keyIs(key)).
		Where(clause.Eq{Column: clause.Column{Name: "value"}, Value: []byte(owner)}).
		Delete(&models.CacheEntry{}).Error
}

// Set upserts the value for a given key with expiry.
func (s *DatabaseStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if s == nil {
		return errNotInitialised
	}

	entry := models.CacheEntry{
		Key:       key,
		Value:     value,
		ExpiresAt: expiryAt(database.Normalize(s.now()), ttl),
	}

	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "expires_at", "updated_at"}),
		}).Create(&entry).Error
}

// Get retrieves a value by key, respecting expiry.
func (s *DatabaseStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if s == nil {
		return nil, false, errNotInitialised
	}

	var entry models.CacheEntry
	err := s.db.WithContext(ctx).Where(keyIs(key)).Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	if expired(entry.ExpiresAt, database.Normalize(s.now())) {
		_ = s.Delete(ctx, key)
		return nil, false, nil
	}

	return entry.Value, true, nil
}

// Delete removes keys from the store.
func (s *DatabaseStore) Delete(ctx context.Context, keys ...string) error {
	if s == nil {
		return errNotInitialised
	}
	if len(keys) == 0 {
		return nil
	}

	values := make([]any, len(keys))
	for i, key := range keys {
		values[i] = key
	}
	return s.db.WithContext(ctx).Where(clause.IN{Column: clause.Column{Name: "key"}, Values: values}).Delete(&models.CacheEntry{}).Error
}

// PurgeExpired deletes every expired entry and reports how many were removed.
func (s *DatabaseStore) PurgeExpired(ctx context.Context) (int64, error) {
	if s == nil {
		return 0, errNotInitialised
	}
	result := s.db.WithContext(ctx).
		Where("expires_at > ? AND expires_at <= ?", time.Time{}, database.Normalize(s.now())).
		Delete(&models.CacheEntry{})
	return result.RowsAffected, result.Error
}

func expiryAt(now time.Time, ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return now.Add(ttl)
}

func expired(at, now time.Time) bool {
	return !at.IsZero() && !now.Before(at)
}

// keyIs quotes the column name; KEY is reserved in MySQL.
func keyIs(key string) clause.Expression {
	return clause.Eq{Column: clause.Column{Name: "key"}, Value: key}
}
