package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/neshama/shivanotify/pkg/validator"
)

// Config represents the runtime configuration for the notification engine.
type Config struct {
	Server        ServerConfig       `mapstructure:"server"`
	Database      DatabaseConfig     `mapstructure:"database"`
	Cache         CacheConfig        `mapstructure:"cache"`
	Scheduler     SchedulerConfig    `mapstructure:"scheduler"`
	Notifications NotificationConfig `mapstructure:"notifications"`
	Email         EmailConfig        `mapstructure:"email"`
	Monitoring    MonitoringConfig   `mapstructure:"monitoring"`
	Maintenance   MaintenanceConfig  `mapstructure:"maintenance"`
}

// ServerConfig configures the ops HTTP server and logging.
type ServerConfig struct {
	Port        int    `mapstructure:"port" validate:"min=0,max=65535"`
	LogLevel    string `mapstructure:"log_level" validate:"omitempty,oneof=debug info warn error"`
	LogEncoding string `mapstructure:"log_encoding" validate:"omitempty,oneof=json console"`
	// RateLimit caps /api requests per second per client; zero disables it.
	RateLimit float64 `mapstructure:"rate_limit" validate:"gte=0"`
	RateBurst int     `mapstructure:"rate_burst" validate:"gte=0"`
}

// DatabaseConfig describes connection options for the supported databases.
type DatabaseConfig struct {
	Driver   string       `mapstructure:"driver" validate:"oneof=sqlite postgres postgresql mysql"`
	Path     string       `mapstructure:"path"`
	DSN      string       `mapstructure:"dsn"`
	Postgres DBAuthConfig `mapstructure:"postgres"`
	MySQL    DBAuthConfig `mapstructure:"mysql"`

	SlowQueryThreshold time.Duration `mapstructure:"slow_query_threshold" validate:"min=0"`
}

// DBAuthConfig represents host based database parameters.
type DBAuthConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// CacheConfig describes the shared store used for the tick lease.
type CacheConfig struct {
	Redis RedisCacheConfig `mapstructure:"redis"`
}

// RedisCacheConfig holds Redis connection options.
type RedisCacheConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	URL      string        `mapstructure:"url"`
	Address  string        `mapstructure:"address"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db" validate:"min=0"`
	TLS      bool          `mapstructure:"tls"`
	Timeout  time.Duration `mapstructure:"timeout"`
	Prefix   string        `mapstructure:"prefix"`
}

// SchedulerConfig drives the tick loop and the dispatcher.
type SchedulerConfig struct {
	Enabled        bool             `mapstructure:"enabled"`
	Interval       time.Duration    `mapstructure:"interval" validate:"gte=1m"`
	Timezone       string           `mapstructure:"timezone" validate:"required,timezone"`
	SendTimeout    time.Duration    `mapstructure:"send_timeout" validate:"gt=0"`
	Workers        int              `mapstructure:"workers" validate:"min=1,max=64"`
	MaxAttempts    int              `mapstructure:"max_attempts" validate:"min=1"`
	RetryWindow    time.Duration    `mapstructure:"retry_window" validate:"gt=0"`
	ClaimTTL       time.Duration    `mapstructure:"claim_ttl" validate:"gt=0"`
	LeaseTTL       time.Duration    `mapstructure:"lease_ttl" validate:"gt=0"`
	BatchLimit     int              `mapstructure:"batch_limit" validate:"min=1"`
	RepairSchedule string           `mapstructure:"repair_schedule" validate:"required"`
	QuietHours     QuietHoursConfig `mapstructure:"quiet_hours"`
}

// QuietHoursConfig configures the weekly pause for scheduled mail.
type QuietHoursConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// NotificationConfig captures delivery settings independent of the transport.
type NotificationConfig struct {
	BaseURL         string        `mapstructure:"base_url" validate:"required,url"`
	TestMode        bool          `mapstructure:"test_mode"`
	MessageIDDomain string        `mapstructure:"message_id_domain"`
	UnsubscribeURL  string        `mapstructure:"unsubscribe_url" validate:"omitempty,url"`
	HookTimeout     time.Duration `mapstructure:"hook_timeout" validate:"min=0"`
	SendRate        float64       `mapstructure:"send_rate" validate:"gte=0"`
	SendBurst       int           `mapstructure:"send_burst" validate:"gte=0"`
	Breaker         BreakerConfig `mapstructure:"breaker"`
}

// BreakerConfig tunes the circuit breaker around the provider.
type BreakerConfig struct {
	ConsecutiveFailures uint32        `mapstructure:"consecutive_failures"`
	OpenTimeout         time.Duration `mapstructure:"open_timeout"`
	HalfOpenRequests    uint32        `mapstructure:"half_open_requests"`
}

// EmailConfig captures outbound email settings.
type EmailConfig struct {
	SMTP SMTPConfig `mapstructure:"smtp"`
}

// SMTPConfig defines SMTP dialer settings for sending email.
type SMTPConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Host     string        `mapstructure:"host" validate:"required_if=Enabled true"`
	Port     int           `mapstructure:"port" validate:"min=0,max=65535"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	From     string        `mapstructure:"from" validate:"omitempty,email"`
	FromName string        `mapstructure:"from_name"`
	UseTLS   bool          `mapstructure:"use_tls"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// MonitoringConfig enables health checks and metrics.
type MonitoringConfig struct {
	Prometheus PrometheusConfig `mapstructure:"prometheus"`
	Health     HealthConfig     `mapstructure:"health_check"`
}

// PrometheusConfig toggles metrics endpoints.
type PrometheusConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
}

// HealthConfig toggles health endpoints and bounds each probe.
type HealthConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Timeout time.Duration `mapstructure:"timeout" validate:"min=0"`
}

// MaintenanceConfig schedules housekeeping jobs.
type MaintenanceConfig struct {
	CacheSchedule        string `mapstructure:"cache_schedule"`
	AttemptSchedule      string `mapstructure:"attempt_schedule"`
	AttemptRetentionDays int    `mapstructure:"attempt_retention_days" validate:"min=0"`
}

// LoadConfig initialises application configuration using Viper with sensible defaults.
func LoadConfig(paths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.AddConfigPath("./config")
	for _, path := range paths {
		v.AddConfigPath(path)
	}

	setDefaults(v)

	v.SetEnvPrefix("SHIVANOTIFY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := bindEnvOnly(v); err != nil {
		return nil, fmt.Errorf("config: bind env: %w", err)
	}

	if err := v.ReadInConfig(); err != nil {
		var cfgErr viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgErr) {
			return nil, fmt.Errorf("config: read file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config, decodeHook()); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	return &config, nil
}

// Validate checks the loaded configuration against its struct rules.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config: nil")
	}
	if err := validator.ValidateStruct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := c.Cache.check(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// Location resolves the scheduler time zone.
func (c SchedulerConfig) Location() (*time.Location, error) {
	name := strings.TrimSpace(c.Timezone)
	if name == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("config: scheduler timezone %q: %w", name, err)
	}
	return loc, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.log_encoding", "json")
	v.SetDefault("server.rate_limit", 20.0)
	v.SetDefault("server.rate_burst", 40)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/shivanotify.sqlite")
	v.SetDefault("database.slow_query_threshold", "500ms")

	v.SetDefault("cache.redis.enabled", false)
	v.SetDefault("cache.redis.url", "")
	v.SetDefault("cache.redis.address", "127.0.0.1:6379")
	v.SetDefault("cache.redis.username", "")
	v.SetDefault("cache.redis.password", "")
	v.SetDefault("cache.redis.db", 0)
	v.SetDefault("cache.redis.tls", false)
	v.SetDefault("cache.redis.timeout", "5s")
	v.SetDefault("cache.redis.prefix", "shivanotify:")

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.interval", "15m")
	v.SetDefault("scheduler.timezone", "America/Toronto")
	v.SetDefault("scheduler.send_timeout", "30s")
	v.SetDefault("scheduler.workers", 4)
	v.SetDefault("scheduler.max_attempts", 3)
	v.SetDefault("scheduler.retry_window", "24h")
	v.SetDefault("scheduler.claim_ttl", "2m")
	v.SetDefault("scheduler.lease_ttl", "10m")
	v.SetDefault("scheduler.batch_limit", 500)
	v.SetDefault("scheduler.repair_schedule", "@daily")
	v.SetDefault("scheduler.quiet_hours.enabled", true)

	v.SetDefault("notifications.base_url", "http://localhost:3000")
	v.SetDefault("notifications.test_mode", false)
	v.SetDefault("notifications.message_id_domain", "")
	v.SetDefault("notifications.unsubscribe_url", "")
	v.SetDefault("notifications.hook_timeout", "1m")
	v.SetDefault("notifications.send_rate", 5.0)
	v.SetDefault("notifications.send_burst", 5)
	v.SetDefault("notifications.breaker.consecutive_failures", 5)
	v.SetDefault("notifications.breaker.open_timeout", "1m")
	v.SetDefault("notifications.breaker.half_open_requests", 1)

	v.SetDefault("email.smtp.enabled", false)
	v.SetDefault("email.smtp.host", "")
	v.SetDefault("email.smtp.port", 587)
	v.SetDefault("email.smtp.from_name", "Shiva Meals")
	v.SetDefault("email.smtp.use_tls", true)
	v.SetDefault("email.smtp.timeout", "10s")

	v.SetDefault("monitoring.prometheus.enabled", true)
	v.SetDefault("monitoring.prometheus.endpoint", "/metrics")
	v.SetDefault("monitoring.health_check.enabled", true)
	v.SetDefault("monitoring.health_check.timeout", "3s")

	v.SetDefault("maintenance.cache_schedule", "@hourly")
	v.SetDefault("maintenance.attempt_schedule", "@daily")
	v.SetDefault("maintenance.attempt_retention_days", 90)
}

// envOnlyKeys have no default, so Unmarshal only sees their environment
// variables once they are bound explicitly.
var envOnlyKeys = []string{
	"database.dsn",
	"email.smtp.username",
	"email.smtp.password",
	"email.smtp.from",
}

var dbAuthKeys = []string{"enabled", "host", "port", "database", "username", "password"}

func bindEnvOnly(v *viper.Viper) error {
	keys := append([]string(nil), envOnlyKeys...)
	for _, driver := range []string{"postgres", "mysql"} {
		for _, field := range dbAuthKeys {
			keys = append(keys, "database."+driver+"."+field)
		}
	}
	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			return err
		}
	}
	return nil
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}
