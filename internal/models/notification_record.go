package models

import (
	"time"

	"gorm.io/datatypes"
)

// NotificationRecord is one row of the notification event log. Rows are never
// deleted; the dedup index makes a second insert of the same key a no-op.
type NotificationRecord struct {
	BaseModel

	PageID           string `gorm:"size:36;not null;index" json:"page_id"`
	SubjectID        string `gorm:"size:64;not null;uniqueIndex:idx_notification_dedup,priority:1" json:"subject_id"`
	Kind             string `gorm:"size:32;not null;uniqueIndex:idx_notification_dedup,priority:2;index" json:"kind"`
	RecipientAddress string `gorm:"size:320;not null;uniqueIndex:idx_notification_dedup,priority:3" json:"recipient_address"`
	PeriodDate       string `gorm:"size:10;not null;uniqueIndex:idx_notification_dedup,priority:4" json:"period_date,omitempty"`
	RecipientName    string `gorm:"size:255" json:"recipient_name"`

	ScheduledFor *time.Time `gorm:"index" json:"scheduled_for,omitempty"`
	State        string     `gorm:"size:16;not null;index" json:"state"`
	AttemptCount int        `gorm:"not null" json:"attempt_count"`
	Retryable    bool       `gorm:"not null" json:"retryable"`
	LastError    string     `gorm:"type:text" json:"last_error,omitempty"`
	ErrorClass   string     `gorm:"size:16" json:"error_class,omitempty"`

	SentAt            *time.Time `json:"sent_at,omitempty"`
	ProviderMessageID string     `gorm:"size:255" json:"provider_message_id,omitempty"`
	LockedUntil       *time.Time `gorm:"index" json:"-"`

	Payload datatypes.JSON `json:"payload,omitempty"`
}

// DeliveryAttempt records the outcome of a single send of a NotificationRecord.
type DeliveryAttempt struct {
	BaseModel

	RecordID          string `gorm:"size:36;not null;index" json:"record_id"`
	AttemptNumber     int    `gorm:"not null" json:"attempt_number"`
	Outcome           string `gorm:"size:16;not null" json:"outcome"`
	Error             string `gorm:"type:text" json:"error,omitempty"`
	ProviderMessageID string `gorm:"size:255" json:"provider_message_id,omitempty"`
	DurationMillis    int64  `json:"duration_ms"`
}
