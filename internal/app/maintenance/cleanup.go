package maintenance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/neshama/shivanotify/internal/database"
	"github.com/neshama/shivanotify/internal/models"
	"github.com/neshama/shivanotify/internal/monitoring"
	"github.com/neshama/shivanotify/pkg/logger"
)

const (
	defaultAttemptRetentionDays = 90
	defaultCacheSpec            = "@hourly"
	defaultAttemptSpec          = "@daily"

	jobCache    = "cache_purge"
	jobAttempts = "attempt_retention"
)

// ExpiredPurger removes expired entries from a key/value store.
type ExpiredPurger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// Cleaner coordinates background housekeeping: purging expired cache entries
// and pruning old delivery attempt history.
type Cleaner struct {
	db        *gorm.DB
	cache     ExpiredPurger
	cron      *cron.Cron
	now       func() time.Time
	log       *zap.Logger
	enabled   bool
	retention int

	cacheSchedule   string
	attemptSchedule string
}

// Option customises the Cleaner.
type Option func(*Cleaner)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(cleaner *Cleaner) {
		if c != nil {
			cleaner.cron = c
		}
	}
}

// WithNow overrides the clock used for retention comparisons.
func WithNow(now func() time.Time) Option {
	return func(cleaner *Cleaner) {
		if now != nil {
			cleaner.now = now
		}
	}
}

// WithCachePurger enables the expired cache entry job.
func WithCachePurger(p ExpiredPurger) Option {
	return func(cleaner *Cleaner) {
		cleaner.cache = p
	}
}

// WithAttemptRetentionDays adjusts how long delivery attempts are kept.
// Zero disables the job.
func WithAttemptRetentionDays(days int) Option {
	return func(cleaner *Cleaner) {
		if days >= 0 {
			cleaner.retention = days
		}
	}
}

// WithCacheSchedule overrides the cron expression for cache purging.
func WithCacheSchedule(expr string) Option {
	return func(cleaner *Cleaner) {
		if expr != "" {
			cleaner.cacheSchedule = expr
		}
	}
}

// WithAttemptSchedule overrides the cron expression for attempt pruning.
func WithAttemptSchedule(expr string) Option {
	return func(cleaner *Cleaner) {
		if expr != "" {
			cleaner.attemptSchedule = expr
		}
	}
}

// NewCleaner constructs a Cleaner. A nil db disables attempt pruning and a
// missing purger disables cache purging.
func NewCleaner(db *gorm.DB, opts ...Option) *Cleaner {
	cleaner := &Cleaner{
		db:              db,
		now:             time.Now,
		retention:       defaultAttemptRetentionDays,
		cacheSchedule:   defaultCacheSpec,
		attemptSchedule: defaultAttemptSpec,
		log:             logger.WithModule("maintenance"),
	}

	for _, opt := range opts {
		opt(cleaner)
	}

	if cleaner.cron == nil {
		cleaner.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}

	cleaner.enabled = cleaner.cache != nil || (cleaner.db != nil && cleaner.retention > 0)

	return cleaner
}

// Start registers cleanup jobs with the cron scheduler and launches it if at least one cleanup is enabled.
func (c *Cleaner) Start() error {
	if !c.enabled {
		return nil
	}

	if c.cache != nil {
		if _, err := c.cron.AddFunc(c.cacheSchedule, func() {
			_ = c.purgeCache(context.Background())
		}); err != nil {
			return err
		}
	}

	if c.db != nil && c.retention > 0 {
		if _, err := c.cron.AddFunc(c.attemptSchedule, func() {
			_ = c.pruneAttempts(context.Background())
		}); err != nil {
			return err
		}
	}

	c.cron.Start()
	return nil
}

// Stop halts the underlying scheduler, waiting for any running jobs to complete.
func (c *Cleaner) Stop() context.Context {
	if c.cron == nil {
		return context.Background()
	}
	return c.cron.Stop()
}

// RunOnce executes all configured cleanup routines sequentially.
func (c *Cleaner) RunOnce(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var errs error
	if c.cache != nil {
		errs = multierr.Append(errs, c.purgeCache(ctx))
	}
	if c.db != nil && c.retention > 0 {
		errs = multierr.Append(errs, c.pruneAttempts(ctx))
	}
	return errs
}

func (c *Cleaner) purgeCache(ctx context.Context) error {
	start := time.Now()
	removed, err := c.cache.PurgeExpired(ctx)
	if err != nil {
		c.log.Warn("cache purge failed", zap.Error(err))
		monitoring.RecordMaintenanceRun(jobCache, "failure", err.Error(), time.Since(start))
		return err
	}
	monitoring.RecordMaintenanceRun(jobCache, "success", fmt.Sprintf("removed %d", removed), time.Since(start))
	return nil
}

func (c *Cleaner) pruneAttempts(ctx context.Context) error {
	start := time.Now()
	cutoff := c.now().AddDate(0, 0, -c.retention)
	removed, err := CleanupAttempts(ctx, c.db, cutoff)
	if err != nil {
		c.log.Warn("attempt cleanup failed", zap.Error(err))
		monitoring.RecordMaintenanceRun(jobAttempts, "failure", err.Error(), time.Since(start))
		return err
	}
	if removed > 0 {
		c.log.Info("delivery attempts pruned", zap.Int64("removed", removed), zap.Time("cutoff", cutoff))
	}
	monitoring.RecordMaintenanceRun(jobAttempts, "success", fmt.Sprintf("removed %d", removed), time.Since(start))
	return nil
}

// CleanupAttempts removes delivery attempt history recorded before cutoff.
// Notification records themselves are never deleted since they back
// deduplication.
func CleanupAttempts(ctx context.Context, db *gorm.DB, cutoff time.Time) (int64, error) {
	if db == nil {
		return 0, errors.New("cleanup attempts: db is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	result := db.WithContext(ctx).
		Where("created_at < ?", database.Normalize(cutoff)).
		Delete(&models.DeliveryAttempt{})
	if result.Error != nil {
		return 0, fmt.Errorf("cleanup attempts: %w", result.Error)
	}
	return result.RowsAffected, nil
}
