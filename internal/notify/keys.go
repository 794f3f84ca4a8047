package notify

import (
	"strings"

	"github.com/neshama/shivanotify/internal/models"
)

// RecordKey is the dedup identity of a notification record.
type RecordKey struct {
	SubjectID        string
	Kind             Kind
	RecipientAddress string
	PeriodDate       string
}

// NewRecordKey normalises the recipient and drops the date for kinds that
// are not keyed per period.
func NewRecordKey(subjectID string, kind Kind, recipient, date string) RecordKey {
	key := RecordKey{
		SubjectID:        strings.TrimSpace(subjectID),
		Kind:             kind,
		RecipientAddress: NormalizeAddress(recipient),
	}
	if kind.Periodic() {
		key.PeriodDate = strings.TrimSpace(date)
	}
	return key
}

// KeyOf returns the dedup key of an existing record.
func KeyOf(rec *models.NotificationRecord) RecordKey {
	return NewRecordKey(rec.SubjectID, Kind(rec.Kind), rec.RecipientAddress, rec.PeriodDate)
}

// NormalizeAddress lower-cases and trims an email address.
func NormalizeAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

// KeySet is a set of record keys already present in the event log.
type KeySet map[RecordKey]struct{}

// Has reports whether key is in the set.
func (s KeySet) Has(key RecordKey) bool {
	_, ok := s[key]
	return ok
}

// Add inserts key.
func (s KeySet) Add(key RecordKey) {
	s[key] = struct{}{}
}
