package app

import (
	"path/filepath"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/require"

	"github.com/neshama/shivanotify/pkg/validator"
)

func TestLoadConfigFromFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join("testdata"))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, "console", cfg.Server.LogEncoding)
	require.Equal(t, "postgres", cfg.Database.Driver)
	require.True(t, cfg.Database.Postgres.Enabled)
	require.Equal(t, "db.example.com", cfg.Database.Postgres.Host)
	require.Equal(t, 5433, cfg.Database.Postgres.Port)

	require.True(t, cfg.Cache.Redis.Enabled)
	redis := cfg.Cache.RedisClientConfig()
	require.Equal(t, "redis://cache.example.com:6380/1", redis.URL)
	require.Equal(t, "shivanotify:", redis.Prefix)
	require.Equal(t, 5*time.Second, redis.Timeout)

	require.Equal(t, 5*time.Minute, cfg.Scheduler.Interval)
	require.Equal(t, "America/New_York", cfg.Scheduler.Timezone)
	require.Equal(t, 8, cfg.Scheduler.Workers)
	require.Equal(t, 5, cfg.Scheduler.MaxAttempts)
	require.Equal(t, 12*time.Hour, cfg.Scheduler.RetryWindow)
	require.False(t, cfg.Scheduler.QuietHours.Enabled)
	require.Equal(t, 2*time.Minute, cfg.Scheduler.ClaimTTL)

	require.Equal(t, "https://meals.example.org", cfg.Notifications.BaseURL)
	require.InDelta(t, 2.5, cfg.Notifications.SendRate, 0.0001)
	require.EqualValues(t, 3, cfg.Notifications.Breaker.ConsecutiveFailures)
	require.EqualValues(t, 1, cfg.Notifications.Breaker.HalfOpenRequests)

	require.True(t, cfg.Email.SMTP.Enabled)
	require.Equal(t, "smtp.example.com", cfg.Email.SMTP.Host)
	require.Equal(t, 2525, cfg.Email.SMTP.Port)
	require.Equal(t, "Meal Train", cfg.Email.SMTP.FromName)
	require.Equal(t, 15*time.Second, cfg.Email.SMTP.Timeout)

	require.Equal(t, 30, cfg.Maintenance.AttemptRetentionDays)
	require.Equal(t, "@hourly", cfg.Maintenance.CacheSchedule)
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	require.Equal(t, 8000, cfg.Server.Port)
	require.Equal(t, "sqlite", cfg.Database.Driver)
	require.True(t, cfg.Scheduler.Enabled)
	require.Equal(t, 15*time.Minute, cfg.Scheduler.Interval)
	require.Equal(t, "America/Toronto", cfg.Scheduler.Timezone)
	require.Equal(t, 30*time.Second, cfg.Scheduler.SendTimeout)
	require.Equal(t, 3, cfg.Scheduler.MaxAttempts)
	require.Equal(t, 24*time.Hour, cfg.Scheduler.RetryWindow)
	require.Equal(t, 10*time.Minute, cfg.Scheduler.LeaseTTL)
	require.Equal(t, "@daily", cfg.Scheduler.RepairSchedule)
	require.True(t, cfg.Scheduler.QuietHours.Enabled)
	require.False(t, cfg.Email.SMTP.Enabled)
	require.True(t, cfg.UseTestMode())
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("SHIVANOTIFY_SCHEDULER_WORKERS", "2")
	t.Setenv("SHIVANOTIFY_NOTIFICATIONS_TEST_MODE", "true")

	cfg, err := LoadConfig(filepath.Join("testdata"))
	require.NoError(t, err)
	require.Equal(t, 2, cfg.Scheduler.Workers)
	require.True(t, cfg.Notifications.TestMode)
	require.True(t, cfg.UseTestMode())
}

func TestLoadConfigEnvFillsKeysWithoutDefaults(t *testing.T) {
	t.Setenv("SHIVANOTIFY_EMAIL_SMTP_PASSWORD", "s3cret")
	t.Setenv("SHIVANOTIFY_DATABASE_POSTGRES_HOST", "db.internal")
	t.Setenv("SHIVANOTIFY_DATABASE_POSTGRES_PORT", "6432")
	t.Setenv("SHIVANOTIFY_DATABASE_DSN", "file:override.db")

	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)
	require.Equal(t, "s3cret", cfg.Email.SMTP.Password)
	require.Equal(t, "db.internal", cfg.Database.Postgres.Host)
	require.Equal(t, 6432, cfg.Database.Postgres.Port)
	require.Equal(t, "file:override.db", cfg.Database.DSN)
}

func TestConfigValidate(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	cfg.Scheduler.Timezone = "Mars/Olympus"
	cfg.Scheduler.Workers = 0
	cfg.Email.SMTP.Enabled = true

	err = cfg.Validate()
	require.Error(t, err)

	var failures validator.ValidationErrors
	require.ErrorAs(t, err, &failures)
	fields := make([]string, 0, len(failures))
	for _, failure := range failures {
		fields = append(fields, failure.Field)
	}
	require.Contains(t, fields, "timezone")
	require.Contains(t, fields, "workers")
	require.Contains(t, fields, "host")

	var nilCfg *Config
	require.Error(t, nilCfg.Validate())
}

func TestConfigValidateRedisEndpoint(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	cfg.Cache.Redis.Enabled = true
	require.ErrorContains(t, cfg.Validate(), "url or address")

	cfg.Cache.Redis.Address = "127.0.0.1:6379"
	require.NoError(t, cfg.Validate())

	cfg.Cache.Redis.URL = "redis://cache:6379/2"
	redis := cfg.Cache.RedisClientConfig()
	require.Empty(t, redis.Address)
	require.Equal(t, "redis://cache:6379/2", redis.URL)
}

func TestSchedulerAdapters(t *testing.T) {
	loc, err := time.LoadLocation("America/Toronto")
	require.NoError(t, err)

	sc := SchedulerConfig{
		Workers:     3,
		MaxAttempts: 4,
		RetryWindow: time.Hour,
		SendTimeout: time.Second,
		ClaimTTL:    time.Minute,
		BatchLimit:  10,
		QuietHours:  QuietHoursConfig{Enabled: true},
		Timezone:    "America/Toronto",
	}
	dc := sc.DispatchConfig(loc)
	require.Equal(t, 3, dc.Workers)
	require.Equal(t, 4, dc.MaxAttempts)
	require.True(t, dc.Quiet.Enabled)
	require.Equal(t, time.Friday, dc.Quiet.StartDay)
	require.Equal(t, loc, dc.Quiet.Location)

	got, err := sc.Location()
	require.NoError(t, err)
	require.Equal(t, "America/Toronto", got.String())

	sc.Timezone = "Nowhere/Else"
	_, err = sc.Location()
	require.Error(t, err)

	require.Len(t, sc.SchedulerOptions(loc), 4)
}

func TestDeliveryAdapters(t *testing.T) {
	cfg := Config{
		Email: EmailConfig{SMTP: SMTPConfig{
			Enabled:  true,
			Host:     "smtp.example.com",
			Port:     25,
			From:     "meals@example.com",
			FromName: "Meals",
		}},
		Notifications: NotificationConfig{
			MessageIDDomain: "mail.example.com",
			SendRate:        1,
			SendBurst:       2,
			Breaker:         BreakerConfig{ConsecutiveFailures: 4},
		},
	}

	smtp := cfg.Email.SMTPSettings()
	require.Equal(t, "smtp.example.com", smtp.Host)
	require.Equal(t, "Meals", smtp.FromName)

	settings := cfg.DeliverySettings()
	require.Equal(t, "meals@example.com", settings.From)
	require.Equal(t, "mail.example.com", settings.MessageIDDomain)
	require.EqualValues(t, 4, settings.Breaker.ConsecutiveFailures)
	require.False(t, cfg.UseTestMode())
}
