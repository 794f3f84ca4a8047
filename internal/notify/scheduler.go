package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/neshama/shivanotify/internal/monitoring"
	"github.com/neshama/shivanotify/pkg/logger"
)

const (
	// DefaultInterval is the scheduler cadence.
	DefaultInterval = 15 * time.Minute
	// DefaultLeaseTTL bounds how long a crashed instance can hold the tick.
	DefaultLeaseTTL = 10 * time.Minute
	// DefaultRepairSchedule runs the reminder flag repair once a day.
	DefaultRepairSchedule = "@daily"

	tickLeaseKey    = "scheduler:tick"
	lastTickKey     = "scheduler:last_tick"
	heartbeatLayout = time.RFC3339
)

// TickReport is the outcome of one scheduler tick.
type TickReport struct {
	Tick     Tick
	Resolve  ResolveReport
	Dispatch DispatchReport
	Duration time.Duration
}

// Scheduler drives resolution and dispatch on a fixed interval. Ticks never
// overlap: within a process a mutex serialises them and across processes the
// optional lease store does.
type Scheduler struct {
	events     *EventLog
	directory  Directory
	resolver   *Resolver
	dispatcher *Dispatcher
	leases     LeaseStore
	owner      string

	interval       time.Duration
	leaseTTL       time.Duration
	repairSchedule string
	location       *time.Location

	cron   *cron.Cron
	now    func() time.Time
	log    *zap.Logger
	tickMu sync.Mutex

	lifecycleMu sync.Mutex
	running     bool
	cancel      context.CancelFunc
	wg          sync.WaitGroup

	lastMu   sync.RWMutex
	lastTick time.Time
}

// Option customises the Scheduler.
type Option func(*Scheduler)

// WithNow overrides the clock.
func WithNow(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(s *Scheduler) {
		if c != nil {
			s.cron = c
		}
	}
}

// WithLeaseStore enables the cross-process tick lease and shared heartbeat.
func WithLeaseStore(store LeaseStore) Option {
	return func(s *Scheduler) {
		if store != nil {
			s.leases = store
		}
	}
}

// WithInterval sets the tick cadence.
func WithInterval(interval time.Duration) Option {
	return func(s *Scheduler) {
		if interval > 0 {
			s.interval = interval
		}
	}
}

// WithLeaseTTL sets how long a tick lease is held before it expires.
func WithLeaseTTL(ttl time.Duration) Option {
	return func(s *Scheduler) {
		if ttl > 0 {
			s.leaseTTL = ttl
		}
	}
}

// WithRepairSchedule overrides the cron expression of the flag repair job.
// An empty expression keeps the default.
func WithRepairSchedule(expr string) Option {
	return func(s *Scheduler) {
		if expr != "" {
			s.repairSchedule = expr
		}
	}
}

// WithLocation sets the zone that defines calendar dates.
func WithLocation(loc *time.Location) Option {
	return func(s *Scheduler) {
		if loc != nil {
			s.location = loc
		}
	}
}

// WithLogger overrides the scheduler logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.log = l
		}
	}
}

// NewScheduler wires the scheduler components.
func NewScheduler(events *EventLog, directory Directory, sender Sender, composer *Composer, cfg DispatchConfig, opts ...Option) (*Scheduler, error) {
	s := &Scheduler{
		events:         events,
		directory:      directory,
		owner:          uuid.NewString(),
		interval:       DefaultInterval,
		leaseTTL:       DefaultLeaseTTL,
		repairSchedule: DefaultRepairSchedule,
		location:       time.UTC,
		now:            time.Now,
		log:            logger.WithModule("scheduler"),
	}
	for _, opt := range opts {
		opt(s)
	}

	resolver, err := NewResolver(events, directory, s.log.Named("resolver"))
	if err != nil {
		return nil, err
	}
	dispatcher, err := NewDispatcher(events, composer, sender, cfg, s.log.Named("dispatcher"))
	if err != nil {
		return nil, err
	}
	dispatcher.now = s.now
	s.resolver = resolver
	s.dispatcher = dispatcher

	if s.cron == nil {
		s.cron = cron.New(
			cron.WithLocation(s.location),
			cron.WithLogger(cronLogger{log: s.log}),
			cron.WithChain(cron.Recover(cronLogger{log: s.log})),
		)
	}
	return s, nil
}

// RunOnce executes one tick: resolve, then dispatch. It returns
// ErrTickInProgress if another tick is running here or elsewhere.
func (s *Scheduler) RunOnce(ctx context.Context) (TickReport, error) {
	if !s.tickMu.TryLock() {
		monitoring.RecordTick("skipped", "tick already running", 0)
		return TickReport{}, ErrTickInProgress
	}
	defer s.tickMu.Unlock()

	tickCtx, stopRenewal := ctx, func() error { return nil }
	if s.leases != nil {
		ok, err := s.leases.AcquireLease(ctx, tickLeaseKey, s.owner, s.leaseTTL)
		if err != nil {
			monitoring.RecordTick("failure", err.Error(), 0)
			return TickReport{}, fmt.Errorf("scheduler: acquire lease: %w", err)
		}
		if !ok {
			monitoring.RecordTick("skipped", "lease held by another instance", 0)
			return TickReport{}, ErrTickInProgress
		}
		defer func() {
			if err := s.leases.ReleaseLease(context.WithoutCancel(ctx), tickLeaseKey, s.owner); err != nil {
				s.log.Warn("failed to release tick lease", zap.Error(err))
			}
		}()
		tickCtx, stopRenewal = s.renewLease(ctx)
		defer func() { _ = stopRenewal() }()
	}

	start := s.now()
	tick := NewTick(start, s.location)
	report := TickReport{Tick: tick}

	var err error
	report.Resolve, err = s.resolver.Resolve(tickCtx, tick)
	dispatch, dispatchErr := s.dispatcher.Dispatch(tickCtx, tick)
	report.Dispatch = dispatch
	err = multierr.Combine(err, dispatchErr, stopRenewal())

	report.Duration = s.now().Sub(start)
	fields := []zap.Field{
		zap.Time("tick_at", tick.Now),
		zap.String("today", tick.Today),
		zap.Int("created", report.Resolve.Created),
		zap.Int("sent", report.Dispatch.Sent),
		zap.Int("failed", report.Dispatch.Failed),
		zap.Int("skipped", report.Dispatch.Skipped),
		zap.Int("held", report.Dispatch.Held),
		zap.Duration("duration", report.Duration),
	}
	if err != nil {
		monitoring.RecordTick("partial", err.Error(), report.Duration)
		s.log.Warn("tick completed with errors", append(fields, zap.Error(err))...)
		return report, err
	}

	monitoring.RecordTick("success", "", report.Duration)
	s.markTick(context.WithoutCancel(ctx), tick.Now)
	s.log.Info("tick completed", fields...)
	return report, nil
}

// renewLease keeps the tick lease alive, renewing it every third of its TTL.
// The returned context is cancelled once the lease is taken by another owner
// or cannot be renewed before it would expire. stop ends the renewal and
// reports ErrLeaseLost if that happened.
func (s *Scheduler) renewLease(ctx context.Context) (context.Context, func() error) {
	leaseCtx, cancel := context.WithCancelCause(ctx)
	quit := make(chan struct{})
	finished := make(chan struct{})

	go func() {
		defer close(finished)
		ticker := time.NewTicker(max(s.leaseTTL/3, time.Millisecond))
		defer ticker.Stop()
		renewed := time.Now()
		for {
			select {
			case <-quit:
				return
			case <-leaseCtx.Done():
				return
			case <-ticker.C:
			}

			ok, err := s.leases.AcquireLease(leaseCtx, tickLeaseKey, s.owner, s.leaseTTL)
			if leaseCtx.Err() != nil {
				return
			}
			if err == nil && ok {
				renewed = time.Now()
				continue
			}
			if err != nil && time.Since(renewed) < s.leaseTTL {
				s.log.Warn("tick lease renewal failed, retrying", zap.Error(err))
				continue
			}

			lost := ErrLeaseLost
			if err != nil {
				lost = fmt.Errorf("%w: %w", ErrLeaseLost, err)
			}
			s.log.Warn("tick lease lost, stopping dispatch", zap.Error(lost))
			cancel(lost)
			return
		}
	}()

	var once sync.Once
	var result error
	return leaseCtx, func() error {
		once.Do(func() {
			close(quit)
			<-finished
			if cause := context.Cause(leaseCtx); errors.Is(cause, ErrLeaseLost) {
				result = cause
			}
			cancel(nil)
		})
		return result
	}
}

// Start registers the periodic tick and the repair job, launches cron and
// runs one catch-up tick in the background.
func (s *Scheduler) Start() error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()
	if s.running {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())

	tickJob := cron.NewChain(cron.SkipIfStillRunning(cronLogger{log: s.log})).Then(cron.FuncJob(func() {
		s.runScheduled(ctx)
	}))
	tickEntry := s.cron.Schedule(cron.Every(s.interval), tickJob)
	if _, err := s.cron.AddFunc(s.repairSchedule, func() {
		if _, err := s.RepairReminderFlags(ctx); err != nil {
			s.log.Warn("reminder flag repair failed", zap.Error(err))
		}
	}); err != nil {
		s.cron.Remove(tickEntry)
		cancel()
		return fmt.Errorf("scheduler: repair schedule %q: %w", s.repairSchedule, err)
	}

	s.cancel = cancel
	s.running = true
	s.cron.Start()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runScheduled(ctx)
	}()

	s.log.Info("scheduler started",
		zap.Duration("interval", s.interval),
		zap.String("timezone", s.location.String()))
	return nil
}

// Stop halts the cron loop and waits for a running tick to finish.
func (s *Scheduler) Stop() {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()
	if !s.running {
		return
	}
	done := s.cron.Stop()
	s.cancel()
	<-done.Done()
	s.wg.Wait()
	s.running = false
	s.log.Info("scheduler stopped")
}

func (s *Scheduler) runScheduled(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if _, err := s.RunOnce(ctx); err != nil && !errors.Is(err, ErrTickInProgress) {
		s.log.Debug("scheduled tick returned errors", zap.Error(err))
	}
}

// RecordExists reports whether a notification with key has been created.
func (s *Scheduler) RecordExists(ctx context.Context, key RecordKey) (bool, error) {
	return s.events.RecordExists(ctx, NewRecordKey(key.SubjectID, key.Kind, key.RecipientAddress, key.PeriodDate))
}

// FailedCounts reports failed notifications of a page.
func (s *Scheduler) FailedCounts(ctx context.Context, pageID string) (FailureCounts, error) {
	return s.events.FailedCounts(ctx, pageID)
}

// RepairReminderFlags recomputes signup reminder flags from the event log.
func (s *Scheduler) RepairReminderFlags(ctx context.Context) (RepairReport, error) {
	start := s.now()
	report, err := s.events.ReconcileReminderFlags(ctx)
	duration := s.now().Sub(start)
	if err != nil {
		monitoring.RecordMaintenanceRun("reminder_flags", "failure", err.Error(), duration)
		return report, err
	}
	monitoring.RecordMaintenanceRun("reminder_flags", "success", "", duration)
	if report.Set > 0 || report.Cleared > 0 {
		s.log.Warn("reminder flags repaired",
			zap.Int64("set", report.Set),
			zap.Int64("cleared", report.Cleared))
	}
	return report, nil
}

// LastTick returns the completion time of the latest successful tick. With
// a lease store the heartbeat is shared across instances.
func (s *Scheduler) LastTick(ctx context.Context) (time.Time, bool, error) {
	if s.leases != nil {
		raw, ok, err := s.leases.Get(ctx, lastTickKey)
		if err != nil || !ok {
			return time.Time{}, false, err
		}
		at, err := time.Parse(heartbeatLayout, string(raw))
		if err != nil {
			return time.Time{}, false, fmt.Errorf("scheduler: parse heartbeat: %w", err)
		}
		return at, true, nil
	}

	s.lastMu.RLock()
	defer s.lastMu.RUnlock()
	return s.lastTick, !s.lastTick.IsZero(), nil
}

func (s *Scheduler) markTick(ctx context.Context, at time.Time) {
	s.lastMu.Lock()
	s.lastTick = at
	s.lastMu.Unlock()

	if s.leases == nil {
		return
	}
	if err := s.leases.Set(ctx, lastTickKey, []byte(at.UTC().Format(heartbeatLayout)), 0); err != nil {
		s.log.Warn("failed to store tick heartbeat", zap.Error(err))
	}
}

// cronLogger routes cron's internal logging through zap.
type cronLogger struct {
	log *zap.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Sugar().Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Sugar().Errorw(msg, append(keysAndValues, "error", err)...)
}
