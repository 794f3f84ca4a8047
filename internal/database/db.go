package database

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Config contains database connection options.
type Config struct {
	Driver   string
	Path     string // SQLite file; empty or ":memory:" opens a private in-memory database
	DSN      string // overrides every other connection field
	Host     string
	Port     int
	Name     string
	User     string
	Password string
	Options  map[string]string

	MaxOpenConns int

	// SlowQueryThreshold logs statements slower than this through Logger.
	// Zero keeps gorm silent.
	SlowQueryThreshold time.Duration
	Logger             *zap.Logger
}

// Open initialises a gorm.DB for sqlite, postgres or mysql.
func Open(cfg Config) (*gorm.DB, error) {
	var dialector gorm.Dialector
	var err error
	switch driver := strings.ToLower(strings.TrimSpace(cfg.Driver)); driver {
	case "", "sqlite":
		dialector, err = sqliteDialector(cfg)
	case "postgres", "postgresql":
		dialector, err = postgresDialector(cfg)
	case "mysql":
		dialector, err = mysqlDialector(cfg)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, gormConfig(cfg))
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	return db, nil
}

// Now is the clock gorm uses for CreatedAt/UpdatedAt. Timestamps are kept in UTC
// at second precision so that text-encoded SQLite values compare correctly.
func Now() time.Time {
	return Normalize(time.Now())
}

// Normalize converts t to the persisted representation.
func Normalize(t time.Time) time.Time {
	return t.UTC().Truncate(time.Second)
}

func gormConfig(cfg Config) *gorm.Config {
	return &gorm.Config{
		Logger:  newQueryLogger(cfg.Logger, cfg.SlowQueryThreshold),
		NowFunc: Now,
	}
}

// newQueryLogger reports slow statements and errors other than "record not
// found" to zap. Without a threshold gorm stays silent.
func newQueryLogger(log *zap.Logger, threshold time.Duration) gormlogger.Interface {
	if log == nil || threshold <= 0 {
		return gormlogger.Default.LogMode(gormlogger.Silent)
	}
	return gormlogger.New(zapPrinter{log: log.Sugar()}, gormlogger.Config{
		SlowThreshold:             threshold,
		LogLevel:                  gormlogger.Warn,
		IgnoreRecordNotFoundError: true,
		ParameterizedQueries:      true,
	})
}

type zapPrinter struct {
	log *zap.SugaredLogger
}

func (p zapPrinter) Printf(format string, args ...any) {
	p.log.Warnf(format, args...)
}

func missingCredentials(driver string) error {
	return fmt.Errorf("%s configuration requires user and database name", driver)
}

// Migrate brings the schema up to date at start-up.
func Migrate(db *gorm.DB) error {
	if db == nil {
		return errors.New("nil database handle")
	}

	if err := AutoMigrate(db); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}
