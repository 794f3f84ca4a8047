package database

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"

	"github.com/neshama/shivanotify/internal/models"
)

func TestOpenSQLiteMemory(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.Exec("SELECT 1").Error)
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(Config{Driver: "oracle"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "unsupported database driver")
}

func TestMigrateCreatesDedupIndex(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, Migrate(db))

	require.True(t, db.Migrator().HasTable(&models.NotificationRecord{}))
	require.True(t, db.Migrator().HasTable("shiva_pages"))
	require.True(t, db.Migrator().HasTable("meal_signups"))
	require.True(t, db.Migrator().HasIndex(&models.NotificationRecord{}, "idx_notification_dedup"))

	first := models.NotificationRecord{
		PageID: "p1", SubjectID: "s1", Kind: "thank_you",
		RecipientAddress: "a@example.com", State: "pending",
	}
	require.NoError(t, db.Create(&first).Error)

	dup := first
	dup.ID = ""
	require.Error(t, db.Create(&dup).Error)

	daily := first
	daily.ID = ""
	daily.PeriodDate = "2026-03-14"
	require.NoError(t, db.Create(&daily).Error)
}

func TestMigrateRejectsNilHandle(t *testing.T) {
	require.Error(t, Migrate(nil))
}

func TestNormalize(t *testing.T) {
	zone := time.FixedZone("EST", -5*3600)
	in := time.Date(2026, 3, 14, 19, 0, 0, 123456789, zone)

	out := Normalize(in)
	require.Equal(t, time.UTC, out.Location())
	require.Equal(t, 0, out.Nanosecond())
	require.True(t, out.Equal(time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)))
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := Open(Config{
		Driver:       "sqlite",
		DSN:          "file:" + t.Name() + "?mode=memory&cache=shared",
		MaxOpenConns: 1,
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	return db
}

func TestOpenLogsSlowQueries(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	db, err := Open(Config{
		Driver:             "sqlite",
		MaxOpenConns:       1,
		SlowQueryThreshold: time.Nanosecond,
		Logger:             zap.New(core),
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	require.NoError(t, db.Exec("SELECT 1").Error)
	require.NotZero(t, logs.FilterMessageSnippet("SLOW SQL").Len())
}
