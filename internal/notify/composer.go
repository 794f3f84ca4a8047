package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/neshama/shivanotify/internal/calendar"
	"github.com/neshama/shivanotify/internal/models"
)

// SkipError means a record no longer applies to the live state and must be
// closed without sending.
type SkipError struct {
	Reason string
}

func (e *SkipError) Error() string {
	return "skip: " + e.Reason
}

func skip(reason string) error {
	return &SkipError{Reason: reason}
}

// IsSkip reports whether err is a SkipError and returns its reason.
func IsSkip(err error) (string, bool) {
	var s *SkipError
	if errors.As(err, &s) {
		return s.Reason, true
	}
	return "", false
}

// Composer re-reads live state for a record and builds its message.
type Composer struct {
	directory Directory
	baseURL   string
}

// NewComposer constructs a Composer. baseURL prefixes every link.
func NewComposer(directory Directory, baseURL string) (*Composer, error) {
	if directory == nil {
		return nil, errors.New("composer: directory is required")
	}
	return &Composer{directory: directory, baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/")}, nil
}

// Compose builds the message for rec as of tick. A *SkipError is returned
// when the record should be skipped.
func (c *Composer) Compose(ctx context.Context, tick Tick, rec *models.NotificationRecord) (Message, error) {
	page, err := c.directory.Page(ctx, rec.PageID)
	if err != nil {
		return Message{}, fmt.Errorf("composer: read page %s: %w", rec.PageID, err)
	}
	if page == nil {
		return Message{}, skip("page not found")
	}

	msg := Message{
		RecordID: rec.ID,
		Kind:     Kind(rec.Kind),
		To:       rec.RecipientAddress,
		ToName:   rec.RecipientName,
		Data:     c.pageData(page),
	}
	msg.Data.RecipientName = rec.RecipientName

	switch msg.Kind {
	case KindSignupConfirmation, KindInstantOrganizerAlert:
		err = c.signupGroup(ctx, tick, page, rec, &msg)
	case KindDayBeforeReminder, KindMorningOfReminder:
		err = c.reminder(ctx, tick, page, rec, &msg)
	case KindUncoveredDateAlert:
		err = c.uncovered(ctx, tick, page, rec, &msg)
	case KindDailySummary:
		err = c.summary(ctx, page, rec, &msg)
	case KindThankYou:
		// The page is archived together with the record; nothing to re-check.
	case KindCoOrganizerInvite:
		err = c.invite(ctx, page, rec, &msg)
	default:
		err = Permanent(fmt.Errorf("unknown kind %q", rec.Kind))
	}
	if err != nil {
		return Message{}, err
	}
	return msg, nil
}

func (c *Composer) signupGroup(ctx context.Context, tick Tick, page *models.CoordinationPage, rec *models.NotificationRecord, msg *Message) error {
	if msg.Kind == KindInstantOrganizerAlert && !page.PrefEnabled(models.PrefInstantAlert) {
		return skip("instant alerts disabled")
	}
	group, err := c.directory.SignupGroup(ctx, page.ID, rec.SubjectID)
	if err != nil {
		return fmt.Errorf("composer: read signup group %s: %w", rec.SubjectID, err)
	}

	for _, s := range group {
		if !s.Confirmed() || s.MealDate < tick.Today {
			continue
		}
		msg.Data.Meals = append(msg.Data.Meals, mealOf(&s, msg.Kind == KindInstantOrganizerAlert))
	}
	if len(msg.Data.Meals) == 0 {
		return skip("signup cancelled")
	}
	sortMeals(msg.Data.Meals)
	return nil
}

func (c *Composer) reminder(ctx context.Context, tick Tick, page *models.CoordinationPage, rec *models.NotificationRecord, msg *Message) error {
	if !page.Active() {
		return skip("page archived")
	}
	signup, err := c.directory.Signup(ctx, rec.SubjectID)
	if err != nil {
		return fmt.Errorf("composer: read signup %s: %w", rec.SubjectID, err)
	}
	if signup == nil || !signup.Confirmed() {
		return skip("signup cancelled")
	}

	kind := Kind(rec.Kind)
	if (kind == KindDayBeforeReminder && signup.ReminderDayBeforeSent) ||
		(kind == KindMorningOfReminder && signup.ReminderMorningOfSent) {
		return skip("reminder already sent")
	}
	if planned := payloadString(rec, "meal_date"); planned != "" && planned != signup.MealDate {
		return skip("meal date changed")
	}
	if signup.MealDate < tick.Today || (kind == KindDayBeforeReminder && signup.MealDate == tick.Today) {
		return skip("meal date passed")
	}

	meal := mealOf(signup, false)
	msg.Data.Meals = []Meal{meal}
	msg.Data.Date = meal.Date
	msg.Data.DateLabel = meal.DateLabel
	return nil
}

func (c *Composer) uncovered(ctx context.Context, tick Tick, page *models.CoordinationPage, rec *models.NotificationRecord, msg *Message) error {
	if !page.Active() {
		return skip("page archived")
	}
	if !page.PrefEnabled(models.PrefUncoveredAlert) {
		return skip("uncovered alerts disabled")
	}
	if rec.PeriodDate < tick.Today {
		return skip("date passed")
	}

	coverage, err := c.directory.Coverage(ctx, page.ID, rec.PeriodDate, page.EndDate)
	if err != nil {
		return fmt.Errorf("composer: read coverage: %w", err)
	}
	if coverage[rec.PeriodDate] > 0 {
		return skip("date covered")
	}

	msg.Data.Date = rec.PeriodDate
	msg.Data.DateLabel = dateLabel(rec.PeriodDate)
	msg.Data.UncoveredDates = uncoveredDates(calendar.Max(page.StartDate, rec.PeriodDate), page.EndDate, coverage)
	return nil
}

func (c *Composer) summary(ctx context.Context, page *models.CoordinationPage, rec *models.NotificationRecord, msg *Message) error {
	if !page.Active() {
		return skip("page archived")
	}
	if !page.PrefEnabled(models.PrefDailySummary) {
		return skip("daily summary disabled")
	}

	signups, err := c.directory.Signups(ctx, page.ID)
	if err != nil {
		return fmt.Errorf("composer: read signups: %w", err)
	}
	coverage := map[string]int{}
	for _, s := range signups {
		if !s.Confirmed() {
			continue
		}
		msg.Data.Summary.TotalConfirmed++
		coverage[s.MealDate]++
		if s.MealDate == rec.PeriodDate {
			msg.Data.Meals = append(msg.Data.Meals, mealOf(&s, true))
		}
	}
	sortMeals(msg.Data.Meals)

	if next, err := calendar.AddDays(rec.PeriodDate, 1); err == nil {
		ahead := uncoveredDates(calendar.Max(page.StartDate, next), page.EndDate, coverage)
		msg.Data.Summary.UncoveredAhead = len(ahead)
		msg.Data.UncoveredDates = ahead
	}
	msg.Data.Date = rec.PeriodDate
	msg.Data.DateLabel = dateLabel(rec.PeriodDate)
	return nil
}

func (c *Composer) invite(ctx context.Context, page *models.CoordinationPage, rec *models.NotificationRecord, msg *Message) error {
	if !page.Active() {
		return skip("page archived")
	}
	invite, err := c.directory.Invite(ctx, rec.SubjectID)
	if err != nil {
		return fmt.Errorf("composer: read invite %s: %w", rec.SubjectID, err)
	}
	if invite == nil {
		return skip("invite withdrawn")
	}
	if invite.AcceptedAt != nil {
		return skip("invite accepted")
	}
	msg.Data.InvitedBy = invite.InvitedBy
	msg.Data.AcceptURL = c.baseURL + "/api/shiva/accept-invite?token=" + url.QueryEscape(invite.Token)
	return nil
}

func (c *Composer) pageData(page *models.CoordinationPage) TemplateData {
	data := TemplateData{
		FamilyName:          page.FamilyName,
		OrganizerName:       page.OrganizerName,
		OrganizerEmail:      page.OrganizerEmail,
		Address:             page.ShivaAddress,
		City:                page.ShivaCity,
		DropOffInstructions: page.DropOffInstructions,
		StartDate:           page.StartDate,
		EndDate:             page.EndDate,
		PageURL:             c.baseURL + "/shiva/" + url.PathEscape(page.ID),
	}
	data.OrganizerURL = data.PageURL
	if page.MagicToken != "" {
		data.OrganizerURL += "?token=" + url.QueryEscape(page.MagicToken)
	}
	return data
}

func mealOf(s *models.Signup, withVolunteer bool) Meal {
	meal := Meal{
		Date:        s.MealDate,
		DateLabel:   dateLabel(s.MealDate),
		MealType:    s.MealType,
		Description: s.MealDescription,
	}
	if withVolunteer {
		meal.VolunteerName = s.VolunteerName
	}
	return meal
}

func sortMeals(meals []Meal) {
	sort.SliceStable(meals, func(i, j int) bool {
		if meals[i].Date != meals[j].Date {
			return meals[i].Date < meals[j].Date
		}
		return meals[i].MealType < meals[j].MealType
	})
}

func uncoveredDates(from, to string, coverage map[string]int) []string {
	days, err := calendar.Range(from, to)
	if err != nil {
		return nil
	}
	var out []string
	for _, day := range days {
		if coverage[day] == 0 {
			out = append(out, day)
		}
	}
	return out
}

// dateLabel renders a calendar date as "Monday, March 9".
func dateLabel(date string) string {
	t, err := time.Parse(calendar.Layout, date)
	if err != nil {
		return date
	}
	return t.Format("Monday, January 2")
}

func payloadString(rec *models.NotificationRecord, key string) string {
	if len(rec.Payload) == 0 {
		return ""
	}
	var payload map[string]any
	if err := json.Unmarshal(rec.Payload, &payload); err != nil {
		return ""
	}
	value, _ := payload[key].(string)
	return value
}
