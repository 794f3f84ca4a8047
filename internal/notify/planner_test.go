package notify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"github.com/neshama/shivanotify/internal/models"
)

func plannerTick(t *testing.T, local string) Tick {
	t.Helper()
	loc, err := time.LoadLocation("America/Toronto")
	require.NoError(t, err)
	now, err := time.ParseInLocation("2006-01-02 15:04", local, loc)
	require.NoError(t, err)
	return NewTick(now, loc)
}

func activePage(id, start, end string) models.CoordinationPage {
	return models.CoordinationPage{
		BaseModel:      models.BaseModel{ID: id},
		FamilyName:     "Cohen",
		OrganizerName:  "Dana",
		OrganizerEmail: "Dana@example.com",
		StartDate:      start,
		EndDate:        end,
		Status:         models.PageStatusActive,
	}
}

func confirmedSignup(id, group, email, date string) models.Signup {
	return models.Signup{
		BaseModel:      models.BaseModel{ID: id},
		PageID:         "page-1",
		GroupID:        group,
		VolunteerName:  "Avi",
		VolunteerEmail: email,
		MealDate:       date,
		MealType:       "Dinner",
		Status:         models.SignupStatusConfirmed,
	}
}

func kindsOf(records []models.NotificationRecord) []Kind {
	out := make([]Kind, len(records))
	for i := range records {
		out[i] = Kind(records[i].Kind)
	}
	return out
}

func TestPlanOrdersByKindPriority(t *testing.T) {
	tick := plannerTick(t, "2026-03-10 09:00")
	state := PageState{
		Page: activePage("page-1", "2026-03-09", "2026-03-15"),
		Signups: []models.Signup{
			confirmedSignup("s-1", "g-1", "avi@example.com", "2026-03-10"),
		},
		Coverage: map[string]int{},
	}

	plan := BuildPlan(tick, []PageState{state}, KeySet{})
	require.Equal(t, []Kind{
		KindSignupConfirmation,
		KindInstantOrganizerAlert,
		KindMorningOfReminder,
		KindUncoveredDateAlert,
		KindDailySummary,
	}, kindsOf(plan.Records))
	require.Empty(t, plan.ThankYous)

	for _, rec := range plan.Records {
		require.True(t, rec.CreatedAt.Equal(tick.Now))
		switch Kind(rec.Kind) {
		case KindUncoveredDateAlert:
			require.Equal(t, "2026-03-11", rec.PeriodDate)
		case KindDailySummary:
			require.Equal(t, "2026-03-10", rec.PeriodDate)
			require.True(t, rec.ScheduledFor.Equal(tick.TodayAt(DailySummaryHour, 0)))
		case KindInstantOrganizerAlert:
			require.Equal(t, "dana@example.com", rec.RecipientAddress)
		}
	}
}

func TestPlanGroupsSignupsPerSubmission(t *testing.T) {
	tick := plannerTick(t, "2026-03-10 09:00")
	state := PageState{
		Page: activePage("page-1", "2026-03-09", "2026-03-15"),
		Signups: []models.Signup{
			confirmedSignup("s-1", "g-1", "avi@example.com", "2026-03-13"),
			confirmedSignup("s-2", "g-1", "avi@example.com", "2026-03-12"),
			confirmedSignup("s-3", "", "noa@example.com", "2026-03-14"),
		},
		Coverage: map[string]int{"2026-03-11": 1},
	}

	plan := BuildPlan(tick, []PageState{state}, KeySet{})

	var confirmations []models.NotificationRecord
	for _, rec := range plan.Records {
		if Kind(rec.Kind) == KindSignupConfirmation {
			confirmations = append(confirmations, rec)
		}
	}
	require.Len(t, confirmations, 2)
	require.Equal(t, "g-1", confirmations[0].SubjectID)
	require.Equal(t, "s-3", confirmations[1].SubjectID)
	require.JSONEq(t, `{"meal_dates":["2026-03-12","2026-03-13"]}`, string(confirmations[0].Payload))
}

func TestPlanSkipsExistingKeysAndPastSignups(t *testing.T) {
	tick := plannerTick(t, "2026-03-10 09:00")
	state := PageState{
		Page: activePage("page-1", "2026-03-09", "2026-03-15"),
		Signups: []models.Signup{
			confirmedSignup("s-1", "g-1", "avi@example.com", "2026-03-09"),
			confirmedSignup("s-2", "g-2", "avi@example.com", "2026-03-11"),
		},
		Coverage: map[string]int{"2026-03-11": 1},
	}
	existing := KeySet{}
	existing.Add(NewRecordKey("g-2", KindSignupConfirmation, "avi@example.com", ""))
	existing.Add(NewRecordKey("g-2", KindInstantOrganizerAlert, "dana@example.com", ""))
	existing.Add(NewRecordKey("page-1", KindDailySummary, "dana@example.com", "2026-03-10"))

	plan := BuildPlan(tick, []PageState{state}, existing)
	require.Equal(t, []Kind{KindDayBeforeReminder}, kindsOf(plan.Records))
	require.Equal(t, "s-2", plan.Records[0].SubjectID)
	require.True(t, plan.Records[0].ScheduledFor.Equal(tick.TodayAt(DayBeforeReminderHour, 0)))
}

func TestPlanHonoursPreferencesAndFlags(t *testing.T) {
	tick := plannerTick(t, "2026-03-10 09:00")
	page := activePage("page-1", "2026-03-09", "2026-03-15")
	page.NotificationPrefs = datatypes.JSON(`{"instant_alert":false,"uncovered_alert":false,"daily_summary":false}`)
	signup := confirmedSignup("s-1", "g-1", "avi@example.com", "2026-03-11")
	signup.ReminderDayBeforeSent = true
	cancelled := confirmedSignup("s-2", "g-2", "noa@example.com", "2026-03-11")
	cancelled.Status = models.SignupStatusCancelled

	plan := BuildPlan(tick, []PageState{{Page: page, Signups: []models.Signup{signup, cancelled}}}, KeySet{})
	require.Equal(t, []Kind{KindSignupConfirmation}, kindsOf(plan.Records))
	require.Equal(t, "g-1", plan.Records[0].SubjectID)
}

func TestPlanUncoveredOnlyInsidePeriod(t *testing.T) {
	tick := plannerTick(t, "2026-03-10 09:00")
	before := activePage("page-1", "2026-03-12", "2026-03-18")
	last := activePage("page-2", "2026-03-04", "2026-03-10")

	plan := BuildPlan(tick, []PageState{{Page: before}, {Page: last}}, KeySet{})
	require.Equal(t, []Kind{KindDailySummary}, kindsOf(plan.Records))
	require.Equal(t, "page-2", plan.Records[0].PageID)
}

func TestPlanThankYouForEndedPages(t *testing.T) {
	tick := plannerTick(t, "2026-03-10 09:00")
	ended := activePage("page-1", "2026-03-01", "2026-03-05")
	empty := activePage("page-2", "2026-03-01", "2026-03-09")
	archived := activePage("page-3", "2026-03-01", "2026-03-05")
	archived.Status = models.PageStatusArchived

	a := confirmedSignup("s-1", "g-1", "Avi@example.com", "2026-03-02")
	b := confirmedSignup("s-2", "g-2", "avi@example.com", "2026-03-03")
	c := confirmedSignup("s-3", "g-3", "noa@example.com", "2026-03-04")
	d := confirmedSignup("s-4", "g-4", "zed@example.com", "2026-03-05")
	d.Status = models.SignupStatusCancelled

	plan := BuildPlan(tick, []PageState{
		{Page: ended, Signups: []models.Signup{a, b, c, d}},
		{Page: empty},
		{Page: archived, Signups: []models.Signup{a}},
	}, KeySet{})

	require.Empty(t, plan.Records)
	require.Len(t, plan.ThankYous, 2)
	require.Equal(t, "page-1", plan.ThankYous[0].PageID)
	require.Len(t, plan.ThankYous[0].Records, 2)
	require.Equal(t, "avi@example.com", plan.ThankYous[0].Records[0].RecipientAddress)
	require.Equal(t, "noa@example.com", plan.ThankYous[0].Records[1].RecipientAddress)
	require.Equal(t, "page-2", plan.ThankYous[1].PageID)
	require.Empty(t, plan.ThankYous[1].Records)
	require.Equal(t, 2, plan.Len())
}

func TestPlanInvite(t *testing.T) {
	tick := plannerTick(t, "2026-03-10 09:00")
	page := activePage("page-1", "2026-03-09", "2026-03-15")
	invite := models.CoOrganizerInvite{
		BaseModel: models.BaseModel{ID: "inv-1"},
		PageID:    page.ID,
		Email:     "Rivka@example.com",
		InvitedBy: "Dana",
	}

	rec, ok := PlanInvite(tick, page, invite, KeySet{})
	require.True(t, ok)
	require.Equal(t, string(KindCoOrganizerInvite), rec.Kind)
	require.Equal(t, "rivka@example.com", rec.RecipientAddress)
	require.Nil(t, rec.ScheduledFor)

	existing := KeySet{}
	existing.Add(KeyOf(&rec))
	_, ok = PlanInvite(tick, page, invite, existing)
	require.False(t, ok)
}
