package database

import (
	"gorm.io/gorm"

	"github.com/neshama/shivanotify/internal/models"
)

// AutoMigrate creates or updates the database schema for all models.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.CoordinationPage{},
		&models.Signup{},
		&models.CoOrganizerInvite{},
		&models.NotificationRecord{},
		&models.DeliveryAttempt{},
		&models.CacheEntry{},
	)
}
