package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/neshama/shivanotify/internal/database"
	"github.com/neshama/shivanotify/internal/models"
)

const maxErrorLength = 1000

// FailureCounts summarises failed notifications for an organizer dashboard.
type FailureCounts struct {
	Terminal int64 `json:"terminal"`
	Retrying int64 `json:"retrying"`
}

// RepairReport counts reminder flags changed by ReconcileReminderFlags.
type RepairReport struct {
	Set     int64 `json:"set"`
	Cleared int64 `json:"cleared"`
}

// EventLog is the durable notification log. It is the only writer of
// notification records and of the reminder flags on signups.
type EventLog struct {
	db *gorm.DB
}

// NewEventLog constructs an EventLog.
func NewEventLog(db *gorm.DB) (*EventLog, error) {
	if db == nil {
		return nil, errors.New("event log: db is required")
	}
	return &EventLog{db: db}, nil
}

// Insert writes rec unless a record with the same key already exists.
// created is false when the dedup index suppressed the insert.
func (s *EventLog) Insert(ctx context.Context, rec *models.NotificationRecord) (bool, error) {
	prepareInsert(rec)

	result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(rec)
	if result.Error != nil {
		if isUniqueConstraintError(result.Error) {
			return false, nil
		}
		return false, fmt.Errorf("event log: insert %s: %w", rec.Kind, result.Error)
	}
	return result.RowsAffected > 0, nil
}

// InsertThankYouBatch writes the thank-you records for a page and archives
// the page in one transaction, returning the records that were inserted.
// Records the dedup index suppressed are left out. If the page is no longer
// active nothing is written and ErrDataStoreConflict is returned.
func (s *EventLog) InsertThankYouBatch(ctx context.Context, pageID string, records []models.NotificationRecord, now time.Time) ([]models.NotificationRecord, error) {
	var created []models.NotificationRecord
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		created = created[:0]
		for i := range records {
			rec := &records[i]
			if rec.PageID != pageID || Kind(rec.Kind) != KindThankYou {
				return fmt.Errorf("event log: record %q does not belong to the thank-you batch of %s", rec.Kind, pageID)
			}
			prepareInsert(rec)
			result := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(rec)
			if result.Error != nil {
				return fmt.Errorf("event log: insert thank-you: %w", result.Error)
			}
			if result.RowsAffected > 0 {
				created = append(created, *rec)
			}
		}

		archivedAt := database.Normalize(now)
		result := tx.Model(&models.CoordinationPage{}).
			Where("id = ? AND status = ?", pageID, models.PageStatusActive).
			Updates(map[string]any{
				"status":      models.PageStatusArchived,
				"archived_at": archivedAt,
			})
		if result.Error != nil {
			return fmt.Errorf("event log: archive page: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return ErrDataStoreConflict
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// RecordExists reports whether a record with key has ever been created.
func (s *EventLog) RecordExists(ctx context.Context, key RecordKey) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.NotificationRecord{}).
		Where("subject_id = ? AND kind = ? AND recipient_address = ? AND period_date = ?",
			key.SubjectID, string(key.Kind), key.RecipientAddress, key.PeriodDate).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("event log: record exists: %w", err)
	}
	return count > 0, nil
}

// ExistingKeys loads the keys of every record belonging to the given pages.
func (s *EventLog) ExistingKeys(ctx context.Context, pageIDs []string) (KeySet, error) {
	keys := KeySet{}
	if len(pageIDs) == 0 {
		return keys, nil
	}

	var rows []models.NotificationRecord
	err := s.db.WithContext(ctx).
		Select("subject_id", "kind", "recipient_address", "period_date").
		Where("page_id IN ?", pageIDs).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("event log: existing keys: %w", err)
	}
	for i := range rows {
		keys.Add(KeyOf(&rows[i]))
	}
	return keys, nil
}

// Get loads a single record.
func (s *EventLog) Get(ctx context.Context, id string) (*models.NotificationRecord, error) {
	var rec models.NotificationRecord
	err := s.db.WithContext(ctx).Take(&rec, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("event log: get %s: %w", id, err)
	}
	return &rec, nil
}

// ListByPage returns every record of a page, oldest first.
func (s *EventLog) ListByPage(ctx context.Context, pageID string) ([]models.NotificationRecord, error) {
	var rows []models.NotificationRecord
	err := s.db.WithContext(ctx).
		Where("page_id = ?", pageID).
		Order("created_at, id").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("event log: list: %w", err)
	}
	return rows, nil
}

// Attempts returns the delivery history of a record.
func (s *EventLog) Attempts(ctx context.Context, recordID string) ([]models.DeliveryAttempt, error) {
	var rows []models.DeliveryAttempt
	err := s.db.WithContext(ctx).
		Where("record_id = ?", recordID).
		Order("attempt_number").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("event log: attempts: %w", err)
	}
	return rows, nil
}

// ExpireRetries marks failed records that fell out of the retry window or
// exhausted their attempts as terminal. It returns the expired records.
func (s *EventLog) ExpireRetries(ctx context.Context, now time.Time, window time.Duration, maxAttempts int) ([]models.NotificationRecord, error) {
	cutoff := database.Normalize(now.Add(-window))

	var stale []models.NotificationRecord
	err := s.db.WithContext(ctx).
		Select("id", "kind", "page_id").
		Where("state = ? AND retryable = ? AND (created_at <= ? OR attempt_count > ?)",
			string(StateFailed), true, cutoff, maxAttempts).
		Find(&stale).Error
	if err != nil {
		return nil, fmt.Errorf("event log: find stale retries: %w", err)
	}
	if len(stale) == 0 {
		return nil, nil
	}

	ids := make([]string, len(stale))
	for i := range stale {
		ids[i] = stale[i].ID
	}
	err = s.db.WithContext(ctx).Model(&models.NotificationRecord{}).
		Where("id IN ? AND state = ? AND retryable = ?", ids, string(StateFailed), true).
		Update("retryable", false).Error
	if err != nil {
		return nil, fmt.Errorf("event log: expire retries: %w", err)
	}
	return stale, nil
}

// Due returns records that may be dispatched at now: pending records whose
// scheduled time has passed and failed records still inside the retry
// policy. Records claimed by another dispatcher are excluded.
func (s *EventLog) Due(ctx context.Context, now time.Time, window time.Duration, maxAttempts, limit int) ([]models.NotificationRecord, error) {
	now = database.Normalize(now)
	cutoff := database.Normalize(now.Add(-window))

	query := s.db.WithContext(ctx).
		Where("locked_until IS NULL OR locked_until < ?", now).
		Where(
			s.db.Where("state = ? AND (scheduled_for IS NULL OR scheduled_for <= ?)", string(StatePending), now).
				Or("state = ? AND retryable = ? AND created_at > ? AND attempt_count <= ?",
					string(StateFailed), true, cutoff, maxAttempts),
		).
		Order("created_at, id")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var rows []models.NotificationRecord
	if err := query.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("event log: due: %w", err)
	}
	return rows, nil
}

// Claim takes the dispatch lock on a record until now+ttl and returns its
// current state. A record that is locked or no longer sendable yields
// ErrDataStoreConflict.
func (s *EventLog) Claim(ctx context.Context, id string, now time.Time, ttl time.Duration) (*models.NotificationRecord, error) {
	now = database.Normalize(now)
	until := now.Add(ttl)

	result := s.db.WithContext(ctx).Model(&models.NotificationRecord{}).
		Where("id = ?", id).
		Where("locked_until IS NULL OR locked_until < ?", now).
		Where("state = ? OR (state = ? AND retryable = ?)", string(StatePending), string(StateFailed), true).
		Update("locked_until", until)
	if result.Error != nil {
		return nil, fmt.Errorf("event log: claim %s: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, ErrDataStoreConflict
	}
	return s.Get(ctx, id)
}

// Release drops a claim without changing the record state.
func (s *EventLog) Release(ctx context.Context, id string) error {
	err := s.db.WithContext(ctx).Model(&models.NotificationRecord{}).
		Where("id = ?", id).
		Update("locked_until", nil).Error
	if err != nil {
		return fmt.Errorf("event log: release %s: %w", id, err)
	}
	return nil
}

// MarkSent records a successful send. For reminder kinds the signup flag is
// written in the same transaction, after the record.
func (s *EventLog) MarkSent(ctx context.Context, rec *models.NotificationRecord, messageID string, at time.Time, took time.Duration) error {
	at = database.Normalize(at)
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.NotificationRecord{}).
			Where("id = ? AND state IN ?", rec.ID, sendableStates()).
			Updates(map[string]any{
				"state":               string(StateSent),
				"sent_at":             at,
				"provider_message_id": messageID,
				"last_error":          "",
				"error_class":         "",
				"retryable":           false,
				"locked_until":        nil,
			})
		if result.Error != nil {
			return fmt.Errorf("event log: mark sent: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return ErrDataStoreConflict
		}

		if err := tx.Create(&models.DeliveryAttempt{
			BaseModel:         models.BaseModel{CreatedAt: at},
			RecordID:          rec.ID,
			AttemptNumber:     rec.AttemptCount + 1,
			Outcome:           string(StateSent),
			ProviderMessageID: messageID,
			DurationMillis:    took.Milliseconds(),
		}).Error; err != nil {
			return fmt.Errorf("event log: write attempt: %w", err)
		}

		if column := Kind(rec.Kind).ReminderFlagColumn(); column != "" {
			if err := tx.Model(&models.Signup{}).
				Where("id = ?", rec.SubjectID).
				Update(column, true).Error; err != nil {
				return fmt.Errorf("event log: set %s: %w", column, err)
			}
		}
		return nil
	})
}

// MarkFailed records a failed send. The record stays retryable only for
// transient failures within maxAttempts. terminal reports whether the record
// will not be attempted again.
func (s *EventLog) MarkFailed(ctx context.Context, rec *models.NotificationRecord, cause error, maxAttempts int, at time.Time, took time.Duration) (bool, error) {
	at = database.Normalize(at)
	class := Classify(cause)
	attempts := rec.AttemptCount + 1
	retryable := class == ClassTransient && attempts <= maxAttempts
	message := truncateError(cause)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.NotificationRecord{}).
			Where("id = ? AND state IN ? AND attempt_count = ?", rec.ID, sendableStates(), rec.AttemptCount).
			Updates(map[string]any{
				"state":         string(StateFailed),
				"attempt_count": attempts,
				"retryable":     retryable,
				"last_error":    message,
				"error_class":   string(class),
				"locked_until":  nil,
			})
		if result.Error != nil {
			return fmt.Errorf("event log: mark failed: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return ErrDataStoreConflict
		}

		if err := tx.Create(&models.DeliveryAttempt{
			BaseModel:      models.BaseModel{CreatedAt: at},
			RecordID:       rec.ID,
			AttemptNumber:  attempts,
			Outcome:        string(class),
			Error:          message,
			DurationMillis: took.Milliseconds(),
		}).Error; err != nil {
			return fmt.Errorf("event log: write attempt: %w", err)
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return !retryable, nil
}

// MarkSkipped closes a record that no longer applies.
func (s *EventLog) MarkSkipped(ctx context.Context, rec *models.NotificationRecord, reason string) error {
	result := s.db.WithContext(ctx).Model(&models.NotificationRecord{}).
		Where("id = ? AND state IN ?", rec.ID, sendableStates()).
		Updates(map[string]any{
			"state":        string(StateSkipped),
			"last_error":   reason,
			"retryable":    false,
			"locked_until": nil,
		})
	if result.Error != nil {
		return fmt.Errorf("event log: mark skipped: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrDataStoreConflict
	}
	return nil
}

// FailedCounts counts failed records for a page, split by retry status.
func (s *EventLog) FailedCounts(ctx context.Context, pageID string) (FailureCounts, error) {
	var rows []struct {
		Retryable bool
		Total     int64
	}
	err := s.db.WithContext(ctx).Model(&models.NotificationRecord{}).
		Select("retryable, COUNT(*) AS total").
		Where("page_id = ? AND state = ?", pageID, string(StateFailed)).
		Group("retryable").
		Scan(&rows).Error
	if err != nil {
		return FailureCounts{}, fmt.Errorf("event log: failed counts: %w", err)
	}

	var counts FailureCounts
	for _, row := range rows {
		if row.Retryable {
			counts.Retrying += row.Total
		} else {
			counts.Terminal += row.Total
		}
	}
	return counts, nil
}

// ReconcileReminderFlags rebuilds the signup reminder flags from sent
// reminder records, setting missing flags and clearing unbacked ones.
func (s *EventLog) ReconcileReminderFlags(ctx context.Context) (RepairReport, error) {
	var report RepairReport
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, kind := range []Kind{KindDayBeforeReminder, KindMorningOfReminder} {
			column := kind.ReminderFlagColumn()
			sent := tx.Model(&models.NotificationRecord{}).
				Select("subject_id").
				Where("kind = ? AND state = ?", string(kind), string(StateSent))

			set := tx.Model(&models.Signup{}).
				Where(column+" = ?", false).
				Where("id IN (?)", sent).
				Update(column, true)
			if set.Error != nil {
				return fmt.Errorf("event log: repair %s: %w", column, set.Error)
			}
			report.Set += set.RowsAffected

			sent = tx.Model(&models.NotificationRecord{}).
				Select("subject_id").
				Where("kind = ? AND state = ?", string(kind), string(StateSent))
			cleared := tx.Model(&models.Signup{}).
				Where(column+" = ?", true).
				Where("id NOT IN (?)", sent).
				Update(column, false)
			if cleared.Error != nil {
				return fmt.Errorf("event log: repair %s: %w", column, cleared.Error)
			}
			report.Cleared += cleared.RowsAffected
		}
		return nil
	})
	if err != nil {
		return RepairReport{}, err
	}
	return report, nil
}

func prepareInsert(rec *models.NotificationRecord) {
	rec.RecipientAddress = NormalizeAddress(rec.RecipientAddress)
	if !Kind(rec.Kind).Periodic() {
		rec.PeriodDate = ""
	}
	if rec.State == "" {
		rec.State = string(StatePending)
	}
	rec.Retryable = true
	if !rec.CreatedAt.IsZero() {
		rec.CreatedAt = database.Normalize(rec.CreatedAt)
	}
	if rec.ScheduledFor != nil {
		at := database.Normalize(*rec.ScheduledFor)
		rec.ScheduledFor = &at
	}
}

func sendableStates() []string {
	return []string{string(StatePending), string(StateFailed)}
}

func truncateError(err error) string {
	if err == nil {
		return ""
	}
	// Provider replies are not guaranteed to be UTF-8 and Postgres rejects
	// invalid text, so both the input and the cut must stay valid.
	msg := strings.ToValidUTF8(err.Error(), string(utf8.RuneError))
	if len(msg) <= maxErrorLength {
		return msg
	}
	cut := maxErrorLength
	for cut > 0 && !utf8.RuneStart(msg[cut]) {
		cut--
	}
	return msg[:cut]
}
