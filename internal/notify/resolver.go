package notify

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/neshama/shivanotify/internal/calendar"
	"github.com/neshama/shivanotify/internal/models"
	"github.com/neshama/shivanotify/internal/monitoring"
)

// ResolveReport summarises one resolution pass.
type ResolveReport struct {
	Pages        int
	Planned      int
	Created      int
	Deduplicated int
	Archived     int
	// Records holds the rows that were actually inserted.
	Records []models.NotificationRecord
}

// Resolver turns live page state into new notification records.
type Resolver struct {
	log       *EventLog
	directory Directory
	logger    *zap.Logger
}

// NewResolver constructs a Resolver.
func NewResolver(log *EventLog, directory Directory, logger *zap.Logger) (*Resolver, error) {
	if log == nil {
		return nil, errors.New("resolver: event log is required")
	}
	if directory == nil {
		return nil, errors.New("resolver: directory is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{log: log, directory: directory, logger: logger}, nil
}

// Resolve reads every active page, plans the due records and persists them.
// A page that cannot be read or a record that cannot be written does not stop
// the others; the failures are returned together.
func (r *Resolver) Resolve(ctx context.Context, tick Tick) (ResolveReport, error) {
	var report ResolveReport

	pages, err := r.directory.ActivePages(ctx)
	if err != nil {
		return report, fmt.Errorf("resolver: read active pages: %w", err)
	}

	var errs error
	states := make([]PageState, 0, len(pages))
	ids := make([]string, 0, len(pages))
	for i := range pages {
		state, err := r.loadState(ctx, tick, pages[i])
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		states = append(states, state)
		ids = append(ids, state.Page.ID)
	}
	report.Pages = len(states)

	existing, err := r.log.ExistingKeys(ctx, ids)
	if err != nil {
		return report, multierr.Append(errs, err)
	}

	plan := BuildPlan(tick, states, existing)
	report.Planned = plan.Len()

	for i := range plan.Records {
		errs = multierr.Append(errs, r.insert(ctx, &report, &plan.Records[i]))
	}
	for _, batch := range plan.ThankYous {
		errs = multierr.Append(errs, r.insertThankYou(ctx, tick, &report, batch))
	}
	return report, errs
}

// ForSignup creates the immediate records for a freshly submitted signup group.
func (r *Resolver) ForSignup(ctx context.Context, tick Tick, page models.CoordinationPage, signups []models.Signup) (ResolveReport, error) {
	var report ResolveReport
	if !page.Active() || len(signups) == 0 {
		return report, nil
	}

	keys, err := r.log.ExistingKeys(ctx, []string{page.ID})
	if err != nil {
		return report, err
	}
	p := planner{tick: tick, existing: keys, proposed: KeySet{}}
	records := p.signupRecords(&PageState{Page: page, Signups: signups})
	report.Pages = 1
	report.Planned = len(records)

	var errs error
	for i := range records {
		errs = multierr.Append(errs, r.insert(ctx, &report, &records[i]))
	}
	return report, errs
}

// ForInvite creates the invite record for a co-organizer.
func (r *Resolver) ForInvite(ctx context.Context, tick Tick, page models.CoordinationPage, invite models.CoOrganizerInvite) (ResolveReport, error) {
	var report ResolveReport
	if !page.Active() || invite.AcceptedAt != nil {
		return report, nil
	}
	rec, ok := PlanInvite(tick, page, invite, KeySet{})
	if !ok {
		return report, nil
	}
	report.Pages = 1
	report.Planned = 1
	return report, r.insert(ctx, &report, &rec)
}

func (r *Resolver) loadState(ctx context.Context, tick Tick, page models.CoordinationPage) (PageState, error) {
	signups, err := r.directory.Signups(ctx, page.ID)
	if err != nil {
		return PageState{}, fmt.Errorf("resolver: read signups of %s: %w", page.ID, err)
	}

	coverage := map[string]int{}
	if calendar.InRange(tick.Tomorrow, page.StartDate, page.EndDate) {
		coverage, err = r.directory.Coverage(ctx, page.ID, tick.Tomorrow, tick.Tomorrow)
		if err != nil {
			return PageState{}, fmt.Errorf("resolver: read coverage of %s: %w", page.ID, err)
		}
	}
	return PageState{Page: page, Signups: signups, Coverage: coverage}, nil
}

func (r *Resolver) insert(ctx context.Context, report *ResolveReport, rec *models.NotificationRecord) error {
	created, err := r.log.Insert(ctx, rec)
	if err != nil {
		r.logger.Warn("failed to create notification record",
			zap.String("kind", rec.Kind),
			zap.String("subject_id", rec.SubjectID),
			zap.Error(err))
		return err
	}
	monitoring.RecordRecordCreated(rec.Kind, created)
	if !created {
		report.Deduplicated++
		return nil
	}
	report.Created++
	report.Records = append(report.Records, *rec)
	return nil
}

func (r *Resolver) insertThankYou(ctx context.Context, tick Tick, report *ResolveReport, batch ThankYouBatch) error {
	created, err := r.log.InsertThankYouBatch(ctx, batch.PageID, batch.Records, tick.Now)
	if errors.Is(err, ErrDataStoreConflict) {
		// Archived by someone else; the next tick sees the new state.
		r.logger.Debug("page left active state before thank-you", zap.String("page_id", batch.PageID))
		return nil
	}
	if err != nil {
		return err
	}

	report.Archived++
	report.Created += len(created)
	report.Deduplicated += len(batch.Records) - len(created)
	for i := range batch.Records {
		monitoring.RecordRecordCreated(string(KindThankYou), i < len(created))
	}
	report.Records = append(report.Records, created...)
	r.logger.Info("page archived",
		zap.String("page_id", batch.PageID),
		zap.Int("thank_you", len(created)))
	return nil
}
