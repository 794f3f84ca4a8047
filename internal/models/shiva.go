package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

const (
	PageStatusActive   = "active"
	PageStatusArchived = "archived"

	SignupStatusConfirmed = "confirmed"
	SignupStatusCancelled = "cancelled"
)

// Notification preference keys stored on CoordinationPage.NotificationPrefs.
const (
	PrefInstantAlert   = "instant_alert"
	PrefUncoveredAlert = "uncovered_alert"
	PrefDailySummary   = "daily_summary"
)

// CoordinationPage is a family's shiva support page.
type CoordinationPage struct {
	BaseModel

	FamilyName          string     `gorm:"size:255;not null" json:"family_name"`
	OrganizerName       string     `gorm:"size:255;not null" json:"organizer_name"`
	OrganizerEmail      string     `gorm:"size:320;not null" json:"organizer_email"`
	ShivaAddress        string     `gorm:"type:text" json:"shiva_address"`
	ShivaCity           string     `gorm:"size:128" json:"shiva_city"`
	DropOffInstructions string     `gorm:"type:text" json:"drop_off_instructions"`
	StartDate           string     `gorm:"size:10;not null" json:"start_date"`
	EndDate             string     `gorm:"size:10;not null;index" json:"end_date"`
	Status              string     `gorm:"size:16;not null;index" json:"status"`
	ArchivedAt          *time.Time `json:"archived_at,omitempty"`
	MagicToken          string     `gorm:"size:128" json:"-"`

	NotificationPrefs datatypes.JSON `json:"notification_prefs"`
}

// TableName keeps the historical table name.
func (CoordinationPage) TableName() string {
	return "shiva_pages"
}

// PrefEnabled reports whether a notification category is on. Missing keys and
// unreadable preference blobs count as enabled.
func (p *CoordinationPage) PrefEnabled(key string) bool {
	if p == nil || len(p.NotificationPrefs) == 0 {
		return true
	}
	var prefs map[string]bool
	if err := json.Unmarshal(p.NotificationPrefs, &prefs); err != nil {
		return true
	}
	enabled, ok := prefs[key]
	return !ok || enabled
}

// Active reports whether the page still accepts signups and reminders.
func (p *CoordinationPage) Active() bool {
	return p != nil && p.Status == PageStatusActive
}

// Signup is one volunteer meal commitment on a page.
type Signup struct {
	BaseModel

	PageID          string `gorm:"size:36;not null;index" json:"page_id"`
	GroupID         string `gorm:"size:36;index" json:"group_id,omitempty"`
	VolunteerName   string `gorm:"size:255;not null" json:"volunteer_name"`
	VolunteerEmail  string `gorm:"size:320;not null" json:"volunteer_email"`
	MealDate        string `gorm:"size:10;not null;index" json:"meal_date"`
	MealType        string `gorm:"size:32;not null" json:"meal_type"`
	MealDescription string `gorm:"type:text" json:"meal_description,omitempty"`
	Status          string `gorm:"size:16;not null" json:"status"`

	ReminderDayBeforeSent bool `gorm:"not null" json:"reminder_day_before_sent"`
	ReminderMorningOfSent bool `gorm:"not null" json:"reminder_morning_of_sent"`
}

// TableName keeps the historical table name.
func (Signup) TableName() string {
	return "meal_signups"
}

// Confirmed reports whether the signup still counts toward coverage.
func (s *Signup) Confirmed() bool {
	return s != nil && s.Status == SignupStatusConfirmed
}

// GroupKey identifies the submission a signup belongs to.
func (s *Signup) GroupKey() string {
	if s.GroupID != "" {
		return s.GroupID
	}
	return s.ID
}

// CoOrganizerInvite invites a second organizer onto a page.
type CoOrganizerInvite struct {
	BaseModel

	PageID     string     `gorm:"size:36;not null;index" json:"page_id"`
	Email      string     `gorm:"size:320;not null" json:"email"`
	Name       string     `gorm:"size:255" json:"name"`
	InvitedBy  string     `gorm:"size:255" json:"invited_by"`
	Token      string     `gorm:"size:128;not null" json:"-"`
	AcceptedAt *time.Time `json:"accepted_at,omitempty"`
}
