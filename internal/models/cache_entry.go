package models

import "time"

// CacheEntry is one key of the database-backed lease store: the tick lease
// (value = owning engine id) and the last-tick heartbeat. A zero ExpiresAt
// never expires.
type CacheEntry struct {
	Key       string    `gorm:"primaryKey;size:191"`
	Value     []byte    `gorm:"not null"`
	ExpiresAt time.Time `gorm:"index"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TableName pins the table name independent of gorm's naming strategy.
func (CacheEntry) TableName() string { return "cache_entries" }
