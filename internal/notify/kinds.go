package notify

import (
	"fmt"
	"strings"
)

// Kind identifies what a notification is about.
type Kind string

const (
	KindSignupConfirmation    Kind = "signup_confirmation"
	KindCoOrganizerInvite     Kind = "co_organizer_invite"
	KindInstantOrganizerAlert Kind = "instant_organizer_alert"
	KindDayBeforeReminder     Kind = "day_before_reminder"
	KindMorningOfReminder     Kind = "morning_of_reminder"
	KindUncoveredDateAlert    Kind = "uncovered_date_alert"
	KindDailySummary          Kind = "daily_summary"
	KindThankYou              Kind = "thank_you"
)

// OrderedKinds lists every kind in processing priority. Confirmation and alert
// kinds come first so a volunteer never sees a reminder before the confirmation.
var OrderedKinds = []Kind{
	KindSignupConfirmation,
	KindCoOrganizerInvite,
	KindInstantOrganizerAlert,
	KindDayBeforeReminder,
	KindMorningOfReminder,
	KindUncoveredDateAlert,
	KindDailySummary,
	KindThankYou,
}

// ParseKind validates a kind name.
func ParseKind(value string) (Kind, error) {
	kind := Kind(strings.TrimSpace(strings.ToLower(value)))
	if !kind.Valid() {
		return "", fmt.Errorf("notify: unknown kind %q", value)
	}
	return kind, nil
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	return k.Priority() < len(OrderedKinds)
}

// Priority is the position of k in OrderedKinds; lower runs first.
func (k Kind) Priority() int {
	for i, kind := range OrderedKinds {
		if kind == k {
			return i
		}
	}
	return len(OrderedKinds)
}

// Periodic kinds repeat once per local calendar date.
func (k Kind) Periodic() bool {
	return k == KindUncoveredDateAlert || k == KindDailySummary
}

// Immediate kinds are eligible as soon as they are created and are never held
// back by the quiet window.
func (k Kind) Immediate() bool {
	switch k {
	case KindSignupConfirmation, KindInstantOrganizerAlert, KindCoOrganizerInvite:
		return true
	}
	return false
}

// Reminder reports whether k owns a cached flag on the signup.
func (k Kind) Reminder() bool {
	return k == KindDayBeforeReminder || k == KindMorningOfReminder
}

// ReminderFlagColumn is the signup column mirroring a sent reminder, or "".
func (k Kind) ReminderFlagColumn() string {
	switch k {
	case KindDayBeforeReminder:
		return "reminder_day_before_sent"
	case KindMorningOfReminder:
		return "reminder_morning_of_sent"
	}
	return ""
}

func (k Kind) String() string {
	return string(k)
}

// State is the lifecycle position of a notification record.
type State string

const (
	StatePending State = "pending"
	StateSent    State = "sent"
	StateFailed  State = "failed"
	StateSkipped State = "skipped"
)
