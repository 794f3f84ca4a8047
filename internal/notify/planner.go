package notify

import (
	"encoding/json"
	"sort"
	"strings"
	"time"

	"gorm.io/datatypes"

	"github.com/neshama/shivanotify/internal/calendar"
	"github.com/neshama/shivanotify/internal/models"
)

// Local wall-clock hours at which scheduled kinds become eligible.
const (
	DayBeforeReminderHour = 19
	MorningOfReminderHour = 8
	UncoveredAlertHour    = 19
	DailySummaryHour      = 20
)

// PageState is the live view of one page that the planner evaluates.
type PageState struct {
	Page    models.CoordinationPage
	Signups []models.Signup
	// Coverage holds confirmed signup counts per date; dates without
	// signups may be absent.
	Coverage map[string]int
}

// ThankYouBatch is the set of thank-you records for a page that must be
// written together with the page's archival.
type ThankYouBatch struct {
	PageID  string
	Records []models.NotificationRecord
}

// Plan is the resolver output for one tick.
type Plan struct {
	Records   []models.NotificationRecord
	ThankYous []ThankYouBatch
}

// Len counts every planned record.
func (p Plan) Len() int {
	n := len(p.Records)
	for _, batch := range p.ThankYous {
		n += len(batch.Records)
	}
	return n
}

// BuildPlan decides which records to create at tick. It is a pure function of
// its inputs; existing holds the keys already in the event log and is used to
// avoid proposing duplicates.
func BuildPlan(tick Tick, pages []PageState, existing KeySet) Plan {
	p := planner{tick: tick, existing: existing, proposed: KeySet{}}
	var plan Plan

	for i := range pages {
		state := &pages[i]
		if !state.Page.Active() {
			continue
		}
		plan.Records = append(plan.Records, p.signupRecords(state)...)
		plan.Records = append(plan.Records, p.reminders(state)...)
		plan.Records = append(plan.Records, p.pageDigests(state)...)
		if batch, ok := p.thankYou(state); ok {
			plan.ThankYous = append(plan.ThankYous, batch)
		}
	}

	sortRecords(plan.Records)
	sort.Slice(plan.ThankYous, func(i, j int) bool {
		return plan.ThankYous[i].PageID < plan.ThankYous[j].PageID
	})
	return plan
}

// PlanInvite builds the invite record for a co-organizer.
func PlanInvite(tick Tick, page models.CoordinationPage, invite models.CoOrganizerInvite, existing KeySet) (models.NotificationRecord, bool) {
	p := planner{tick: tick, existing: existing, proposed: KeySet{}}
	return p.record(page.ID, invite.ID, KindCoOrganizerInvite, invite.Email, invite.Name, "", nil, map[string]any{
		"invited_by": invite.InvitedBy,
	})
}

type planner struct {
	tick     Tick
	existing KeySet
	proposed KeySet
}

func (p *planner) record(pageID, subjectID string, kind Kind, recipient, name, date string, at *time.Time, payload map[string]any) (models.NotificationRecord, bool) {
	if strings.TrimSpace(recipient) == "" || subjectID == "" {
		return models.NotificationRecord{}, false
	}
	key := NewRecordKey(subjectID, kind, recipient, date)
	if p.existing.Has(key) || p.proposed.Has(key) {
		return models.NotificationRecord{}, false
	}
	p.proposed.Add(key)

	rec := models.NotificationRecord{
		BaseModel:        models.BaseModel{CreatedAt: p.tick.Now},
		PageID:           pageID,
		SubjectID:        key.SubjectID,
		Kind:             string(kind),
		RecipientAddress: key.RecipientAddress,
		RecipientName:    strings.TrimSpace(name),
		PeriodDate:       key.PeriodDate,
		ScheduledFor:     at,
		State:            string(StatePending),
		Retryable:        true,
	}
	if len(payload) > 0 {
		if raw, err := json.Marshal(payload); err == nil {
			rec.Payload = datatypes.JSON(raw)
		}
	}
	return rec, true
}

// signupRecords covers the immediate kinds of a submission: one confirmation
// to the volunteer and one alert to the organizer per signup group.
func (p *planner) signupRecords(state *PageState) []models.NotificationRecord {
	var out []models.NotificationRecord
	for _, group := range groupSignups(state.Signups) {
		var upcoming []models.Signup
		for _, s := range group {
			if s.Confirmed() && s.MealDate >= p.tick.Today {
				upcoming = append(upcoming, s)
			}
		}
		if len(upcoming) == 0 {
			continue
		}
		first := upcoming[0]
		groupKey := first.GroupKey()
		payload := map[string]any{"meal_dates": mealDates(upcoming)}

		if rec, ok := p.record(state.Page.ID, groupKey, KindSignupConfirmation, first.VolunteerEmail, first.VolunteerName, "", nil, payload); ok {
			out = append(out, rec)
		}
		if state.Page.PrefEnabled(models.PrefInstantAlert) {
			if rec, ok := p.record(state.Page.ID, groupKey, KindInstantOrganizerAlert, state.Page.OrganizerEmail, state.Page.OrganizerName, "", nil, payload); ok {
				out = append(out, rec)
			}
		}
	}
	return out
}

func (p *planner) reminders(state *PageState) []models.NotificationRecord {
	var out []models.NotificationRecord
	for _, s := range state.Signups {
		if !s.Confirmed() {
			continue
		}
		payload := map[string]any{"meal_date": s.MealDate, "meal_type": s.MealType}

		switch {
		case s.MealDate == p.tick.Tomorrow && !s.ReminderDayBeforeSent:
			at := p.tick.TodayAt(DayBeforeReminderHour, 0)
			if rec, ok := p.record(state.Page.ID, s.ID, KindDayBeforeReminder, s.VolunteerEmail, s.VolunteerName, "", &at, payload); ok {
				out = append(out, rec)
			}
		case s.MealDate == p.tick.Today && !s.ReminderMorningOfSent:
			at := p.tick.TodayAt(MorningOfReminderHour, 0)
			if rec, ok := p.record(state.Page.ID, s.ID, KindMorningOfReminder, s.VolunteerEmail, s.VolunteerName, "", &at, payload); ok {
				out = append(out, rec)
			}
		}
	}
	return out
}

// pageDigests covers the organizer's per-date kinds.
func (p *planner) pageDigests(state *PageState) []models.NotificationRecord {
	page := &state.Page
	var out []models.NotificationRecord

	if page.PrefEnabled(models.PrefUncoveredAlert) &&
		calendar.InRange(p.tick.Tomorrow, page.StartDate, page.EndDate) &&
		state.Coverage[p.tick.Tomorrow] == 0 {
		at := p.tick.TodayAt(UncoveredAlertHour, 0)
		if rec, ok := p.record(page.ID, page.ID, KindUncoveredDateAlert, page.OrganizerEmail, page.OrganizerName, p.tick.Tomorrow, &at, nil); ok {
			out = append(out, rec)
		}
	}

	if page.PrefEnabled(models.PrefDailySummary) &&
		calendar.InRange(p.tick.Today, page.StartDate, page.EndDate) {
		at := p.tick.TodayAt(DailySummaryHour, 0)
		if rec, ok := p.record(page.ID, page.ID, KindDailySummary, page.OrganizerEmail, page.OrganizerName, p.tick.Today, &at, nil); ok {
			out = append(out, rec)
		}
	}
	return out
}

// thankYou fires for an active page whose period ended before today. A page
// with no volunteers still yields an empty batch so that it is archived.
func (p *planner) thankYou(state *PageState) (ThankYouBatch, bool) {
	page := &state.Page
	if page.EndDate == "" || page.EndDate >= p.tick.Today {
		return ThankYouBatch{}, false
	}

	batch := ThankYouBatch{PageID: page.ID}
	seen := map[string]struct{}{}
	for _, s := range state.Signups {
		if !s.Confirmed() {
			continue
		}
		addr := NormalizeAddress(s.VolunteerEmail)
		if _, dup := seen[addr]; dup || addr == "" {
			continue
		}
		seen[addr] = struct{}{}
		if rec, ok := p.record(page.ID, page.ID, KindThankYou, addr, s.VolunteerName, "", nil, nil); ok {
			batch.Records = append(batch.Records, rec)
		}
	}
	sortRecords(batch.Records)
	return batch, true
}

func groupSignups(signups []models.Signup) [][]models.Signup {
	index := map[string]int{}
	var groups [][]models.Signup
	for _, s := range signups {
		key := s.GroupKey()
		if i, ok := index[key]; ok {
			groups[i] = append(groups[i], s)
			continue
		}
		index[key] = len(groups)
		groups = append(groups, []models.Signup{s})
	}
	for _, group := range groups {
		sort.SliceStable(group, func(i, j int) bool { return group[i].MealDate < group[j].MealDate })
	}
	return groups
}

func mealDates(signups []models.Signup) []string {
	dates := make([]string, 0, len(signups))
	for _, s := range signups {
		dates = append(dates, s.MealDate)
	}
	return dates
}

// sortRecords orders by kind priority, then subject and recipient.
func sortRecords(records []models.NotificationRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		a, b := &records[i], &records[j]
		if pa, pb := Kind(a.Kind).Priority(), Kind(b.Kind).Priority(); pa != pb {
			return pa < pb
		}
		if a.SubjectID != b.SubjectID {
			return a.SubjectID < b.SubjectID
		}
		return a.RecipientAddress < b.RecipientAddress
	})
}
