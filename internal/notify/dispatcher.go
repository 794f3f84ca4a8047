package notify

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/neshama/shivanotify/internal/calendar"
	"github.com/neshama/shivanotify/internal/models"
	"github.com/neshama/shivanotify/internal/monitoring"
)

// Delivery policy defaults.
const (
	DefaultMaxAttempts = 3
	DefaultRetryWindow = 24 * time.Hour
	DefaultSendTimeout = 30 * time.Second
	DefaultClaimTTL    = 2 * time.Minute
	DefaultWorkers     = 4
	DefaultBatchLimit  = 500

	// claimWriteBackMargin is the time a claim must outlive the send for
	// its state transition to be written.
	claimWriteBackMargin = 30 * time.Second
)

// DispatchConfig tunes the dispatcher.
type DispatchConfig struct {
	Workers     int
	MaxAttempts int
	RetryWindow time.Duration
	SendTimeout time.Duration
	ClaimTTL    time.Duration
	BatchLimit  int
	Quiet       calendar.QuietWindow
}

func (c DispatchConfig) withDefaults() DispatchConfig {
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.RetryWindow <= 0 {
		c.RetryWindow = DefaultRetryWindow
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = DefaultSendTimeout
	}
	if c.ClaimTTL <= 0 {
		c.ClaimTTL = DefaultClaimTTL
	}
	c.ClaimTTL = max(c.ClaimTTL, c.SendTimeout+claimWriteBackMargin)
	if c.BatchLimit <= 0 {
		c.BatchLimit = DefaultBatchLimit
	}
	return c
}

// DispatchReport counts the outcomes of one dispatch pass.
type DispatchReport struct {
	Due      int
	Held     int
	Sent     int
	Failed   int
	Terminal int
	Skipped  int
	Raced    int
	Expired  int
}

// Dispatcher sends due records and moves them through their lifecycle.
type Dispatcher struct {
	log      *EventLog
	composer *Composer
	sender   Sender
	cfg      DispatchConfig
	now      func() time.Time
	logger   *zap.Logger
}

// NewDispatcher constructs a Dispatcher.
func NewDispatcher(log *EventLog, composer *Composer, sender Sender, cfg DispatchConfig, logger *zap.Logger) (*Dispatcher, error) {
	if log == nil || composer == nil || sender == nil {
		return nil, errors.New("dispatcher: event log, composer and sender are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		log:      log,
		composer: composer,
		sender:   sender,
		cfg:      cfg.withDefaults(),
		now:      time.Now,
		logger:   logger,
	}, nil
}

// Dispatch expires stale retries and sends every due record. Scheduled kinds
// are held while the quiet window is open.
func (d *Dispatcher) Dispatch(ctx context.Context, tick Tick) (DispatchReport, error) {
	var report DispatchReport

	expired, err := d.log.ExpireRetries(ctx, tick.Now, d.cfg.RetryWindow, d.cfg.MaxAttempts)
	if err != nil {
		return report, err
	}
	for _, rec := range expired {
		monitoring.RecordTerminalFailure(rec.Kind)
		d.logger.Warn("notification retries exhausted",
			zap.String("record_id", rec.ID),
			zap.String("kind", rec.Kind),
			zap.String("page_id", rec.PageID))
	}
	report.Expired = len(expired)

	due, err := d.log.Due(ctx, tick.Now, d.cfg.RetryWindow, d.cfg.MaxAttempts, d.cfg.BatchLimit)
	if err != nil {
		return report, err
	}
	report.Due = len(due)

	quiet := d.cfg.Quiet.Contains(tick.Now)
	ready := due[:0]
	for _, rec := range due {
		if quiet && !Kind(rec.Kind).Immediate() {
			report.Held++
			continue
		}
		ready = append(ready, rec)
	}

	err = d.run(ctx, tick, ready, &report)
	return report, err
}

// DeliverNow sends the given records immediately, ignoring the quiet window.
// It is used by the trigger hooks for immediate kinds.
func (d *Dispatcher) DeliverNow(ctx context.Context, tick Tick, records []models.NotificationRecord) (DispatchReport, error) {
	report := DispatchReport{Due: len(records)}
	err := d.run(ctx, tick, records, &report)
	return report, err
}

// run processes recipient groups in parallel and each group in kind order.
func (d *Dispatcher) run(ctx context.Context, tick Tick, records []models.NotificationRecord, report *DispatchReport) error {
	var (
		mu   sync.Mutex
		errs error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.cfg.Workers)
	for _, group := range groupByRecipient(records) {
		group := group
		g.Go(func() error {
			for i := range group {
				if gctx.Err() != nil {
					return nil
				}
				outcome, err := d.deliver(gctx, tick, &group[i])

				mu.Lock()
				report.add(outcome)
				errs = multierr.Append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errs
}

type outcome int

const (
	outcomeNone outcome = iota
	outcomeSent
	outcomeFailed
	outcomeTerminal
	outcomeSkipped
	outcomeRaced
)

func (r *DispatchReport) add(o outcome) {
	switch o {
	case outcomeSent:
		r.Sent++
	case outcomeFailed:
		r.Failed++
	case outcomeTerminal:
		r.Failed++
		r.Terminal++
	case outcomeSkipped:
		r.Skipped++
	case outcomeRaced:
		r.Raced++
	}
}

func (d *Dispatcher) deliver(ctx context.Context, tick Tick, rec *models.NotificationRecord) (outcome, error) {
	// The claim runs from the moment the record is reached, not from the
	// start of the tick, so it still covers the send on a slow tick.
	claimed, err := d.log.Claim(ctx, rec.ID, d.now(), d.cfg.ClaimTTL)
	if errors.Is(err, ErrDataStoreConflict) {
		return outcomeRaced, nil
	}
	if err != nil {
		return outcomeNone, err
	}
	fields := []zap.Field{
		zap.String("record_id", claimed.ID),
		zap.String("kind", claimed.Kind),
		zap.String("page_id", claimed.PageID),
		zap.String("recipient", claimed.RecipientAddress),
		zap.Int("attempt", claimed.AttemptCount+1),
	}

	// Write-backs must land even if the tick is cancelled mid-send.
	writeCtx := context.WithoutCancel(ctx)

	msg, err := d.composer.Compose(ctx, tick, claimed)
	if reason, ok := IsSkip(err); ok {
		if err := d.log.MarkSkipped(writeCtx, claimed, reason); err != nil && !errors.Is(err, ErrDataStoreConflict) {
			return outcomeNone, err
		}
		monitoring.RecordDelivery(claimed.Kind, "skipped", 0)
		d.logger.Info("notification skipped", append(fields, zap.String("reason", reason))...)
		return outcomeSkipped, nil
	}
	if err != nil && !IsPermanent(err) {
		// Live state could not be read; leave the record for the next tick.
		_ = d.log.Release(writeCtx, claimed.ID)
		return outcomeNone, err
	}

	start := d.now()
	var receipt Receipt
	if err == nil {
		sendCtx, cancel := context.WithTimeout(ctx, d.cfg.SendTimeout)
		receipt, err = d.sender.Send(sendCtx, msg)
		cancel()
	}
	finished := d.now()
	took := finished.Sub(start)
	lag := finished.Sub(dueAt(claimed))

	if err == nil {
		if err := d.log.MarkSent(writeCtx, claimed, receipt.MessageID, finished, took); err != nil {
			d.logger.Error("failed to record sent notification", append(fields, zap.Error(err))...)
			return outcomeNone, fmt.Errorf("dispatcher: record sent %s: %w", claimed.ID, err)
		}
		monitoring.RecordDelivery(claimed.Kind, "sent", lag)
		d.logger.Info("notification sent", append(fields, zap.String("message_id", receipt.MessageID))...)
		return outcomeSent, nil
	}

	class := Classify(err)
	terminal, markErr := d.log.MarkFailed(writeCtx, claimed, err, d.cfg.MaxAttempts, finished, took)
	if markErr != nil {
		return outcomeNone, fmt.Errorf("dispatcher: record failure %s: %w", claimed.ID, markErr)
	}
	monitoring.RecordDelivery(claimed.Kind, string(class), lag)
	if terminal {
		monitoring.RecordTerminalFailure(claimed.Kind)
		d.logger.Warn("notification failed permanently", append(fields, zap.String("class", string(class)), zap.Error(err))...)
		return outcomeTerminal, nil
	}
	d.logger.Info("notification send failed, will retry", append(fields, zap.Error(err))...)
	return outcomeFailed, nil
}

func dueAt(rec *models.NotificationRecord) time.Time {
	if rec.ScheduledFor != nil {
		return *rec.ScheduledFor
	}
	return rec.CreatedAt
}

// groupByRecipient splits records per recipient, each group in kind priority.
func groupByRecipient(records []models.NotificationRecord) [][]models.NotificationRecord {
	index := map[string]int{}
	var groups [][]models.NotificationRecord
	for _, rec := range records {
		addr := NormalizeAddress(rec.RecipientAddress)
		i, ok := index[addr]
		if !ok {
			i = len(groups)
			index[addr] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], rec)
	}
	for _, group := range groups {
		sort.SliceStable(group, func(i, j int) bool {
			pi, pj := Kind(group[i].Kind).Priority(), Kind(group[j].Kind).Priority()
			if pi != pj {
				return pi < pj
			}
			return group[i].CreatedAt.Before(group[j].CreatedAt)
		})
	}
	return groups
}
