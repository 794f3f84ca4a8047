package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/neshama/shivanotify/internal/api"
	"github.com/neshama/shivanotify/internal/app"
	"github.com/neshama/shivanotify/internal/app/maintenance"
	"github.com/neshama/shivanotify/internal/cache"
	"github.com/neshama/shivanotify/internal/database"
	"github.com/neshama/shivanotify/internal/delivery"
	"github.com/neshama/shivanotify/internal/handlers"
	"github.com/neshama/shivanotify/internal/monitoring"
	"github.com/neshama/shivanotify/internal/monitoring/checks"
	"github.com/neshama/shivanotify/internal/notify"
	"github.com/neshama/shivanotify/internal/shiva"
	"github.com/neshama/shivanotify/pkg/logger"
	"github.com/neshama/shivanotify/pkg/mail"
)

// runtimeStack bundles the long-lived services of the process.
type runtimeStack struct {
	DB         *gorm.DB
	Redis      *cache.RedisStore
	Leases     cache.Store
	Monitoring *monitoring.Module
	Scheduler  *notify.Scheduler
	Cleaner    *maintenance.Cleaner
	Router     *gin.Engine

	started bool
}

// bootstrapRuntime initialises the database, lease store, delivery stack,
// scheduler and HTTP router. Background jobs are not started here.
func bootstrapRuntime(ctx context.Context, cfg *app.Config, log *zap.Logger) (*runtimeStack, error) {
	stack := &runtimeStack{}
	var err error
	success := false

	defer func() {
		if !success {
			stack.Shutdown(context.Background(), log)
		}
	}()

	if debug, _ := os.LookupEnv("GIN_DEBUG"); debug != "true" {
		gin.SetMode(gin.ReleaseMode)
	}

	loc, err := cfg.Scheduler.Location()
	if err != nil {
		return nil, err
	}

	engine, _ := os.Hostname()
	stack.Monitoring, err = monitoring.NewModule(monitoring.Options{Engine: engine})
	if err != nil {
		return nil, fmt.Errorf("initialise monitoring: %w", err)
	}
	monitoring.SetModule(stack.Monitoring)

	stack.DB, err = initialiseDatabase(cfg)
	if err != nil {
		return nil, err
	}

	dbStore := cache.NewDatabaseStore(stack.DB)
	stack.Leases = dbStore
	if cfg.Cache.Redis.Enabled {
		if stack.Redis, err = cache.NewRedisStore(ctx, cfg.Cache.RedisClientConfig()); err != nil {
			log.Warn("redis unavailable; falling back to database-backed leases", zap.Error(err))
		} else {
			stack.Leases = stack.Redis
			log.Info("redis connected")
		}
	}

	sender, err := buildSender(cfg)
	if err != nil {
		return nil, err
	}

	directory, err := shiva.NewRepository(stack.DB)
	if err != nil {
		return nil, fmt.Errorf("initialise page repository: %w", err)
	}
	events, err := notify.NewEventLog(stack.DB)
	if err != nil {
		return nil, fmt.Errorf("initialise event log: %w", err)
	}
	composer, err := notify.NewComposer(directory, cfg.Notifications.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("initialise composer: %w", err)
	}

	opts := append(cfg.Scheduler.SchedulerOptions(loc), notify.WithLeaseStore(stack.Leases))
	stack.Scheduler, err = notify.NewScheduler(events, directory, sender, composer, cfg.Scheduler.DispatchConfig(loc), opts...)
	if err != nil {
		return nil, fmt.Errorf("initialise scheduler: %w", err)
	}

	stack.Cleaner = maintenance.NewCleaner(stack.DB,
		maintenance.WithCachePurger(dbStore),
		maintenance.WithAttemptRetentionDays(cfg.Maintenance.AttemptRetentionDays),
		maintenance.WithCacheSchedule(cfg.Maintenance.CacheSchedule),
		maintenance.WithAttemptSchedule(cfg.Maintenance.AttemptSchedule),
	)

	registerHealthChecks(cfg, stack)

	var ticks handlers.TickSource
	if cfg.Scheduler.Enabled {
		ticks = stack.Scheduler
	}
	stack.Router, err = api.NewRouter(api.Dependencies{
		Config:        cfg,
		Monitoring:    stack.Monitoring,
		Notifications: stack.Scheduler,
		Ticks:         ticks,
	})
	if err != nil {
		return nil, fmt.Errorf("build api router: %w", err)
	}

	success = true
	return stack, nil
}

func buildSender(cfg *app.Config) (notify.Sender, error) {
	renderer, err := delivery.NewRenderer()
	if err != nil {
		return nil, fmt.Errorf("load email templates: %w", err)
	}

	log := logger.WithModule("delivery")
	if cfg.UseTestMode() {
		log.Warn("test mode: notifications are logged, not sent")
		return delivery.NewLogSender(renderer, log), nil
	}

	mailer, err := mail.NewSMTPMailer(cfg.Email.SMTPSettings())
	if err != nil {
		return nil, fmt.Errorf("initialise smtp mailer: %w", err)
	}
	sender, err := delivery.NewEmailSender(mailer, renderer, cfg.DeliverySettings(), log)
	if err != nil {
		return nil, fmt.Errorf("initialise email sender: %w", err)
	}
	return sender, nil
}

func registerHealthChecks(cfg *app.Config, stack *runtimeStack) {
	health := stack.Monitoring.Health()
	health.SetCheckTimeout(cfg.Monitoring.Health.Timeout)
	health.RegisterLiveness(monitoring.NewCheck("process", func(context.Context) monitoring.ProbeResult {
		return monitoring.ProbeResult{Status: monitoring.StatusUp}
	}))
	health.RegisterReadiness(checks.Database(stack.DB))

	var source checks.TickSource
	if cfg.Scheduler.Enabled {
		source = stack.Scheduler
	}
	health.RegisterReadiness(checks.Scheduler(source, cfg.Scheduler.Interval, time.Now))

	var pinger checks.Pinger
	if stack.Redis != nil {
		pinger = stack.Redis
	}
	health.RegisterReadiness(checks.Redis(pinger, cfg.Cache.Redis.Enabled))
	health.RegisterReadiness(checks.Maintenance(0))
}

// Start launches the scheduler loop and the maintenance jobs.
func (s *runtimeStack) Start(cfg *app.Config) error {
	if cfg.Scheduler.Enabled {
		if err := s.Scheduler.Start(); err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
	}
	if err := s.Cleaner.Start(); err != nil {
		return fmt.Errorf("start maintenance jobs: %w", err)
	}
	s.started = true
	return nil
}

// Shutdown stops background jobs and releases resources.
func (s *runtimeStack) Shutdown(ctx context.Context, log *zap.Logger) {
	if s == nil {
		return
	}

	if s.started {
		if s.Scheduler != nil {
			s.Scheduler.Stop()
		}
		if s.Cleaner != nil {
			select {
			case <-s.Cleaner.Stop().Done():
			case <-ctx.Done():
				log.Warn("maintenance jobs still running at shutdown")
			}
		}
	}

	if s.Redis != nil {
		if err := s.Redis.Close(); err != nil {
			log.Warn("redis shutdown", zap.Error(err))
		}
	}

	if s.DB != nil {
		closeDatabase(s.DB, log)
	}
}

func initialiseDatabase(cfg *app.Config) (*gorm.DB, error) {
	dbCfg := convertDatabaseConfig(cfg)
	db, err := database.Open(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := database.Migrate(db); err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	logger.WithModule("database").Info("database connected", zap.String("driver", dbCfg.Driver))
	return db, nil
}

func convertDatabaseConfig(cfg *app.Config) database.Config {
	dbCfg := database.Config{
		Driver: strings.ToLower(strings.TrimSpace(cfg.Database.Driver)),
		Path:   strings.TrimSpace(cfg.Database.Path),
		DSN:    strings.TrimSpace(cfg.Database.DSN),

		SlowQueryThreshold: cfg.Database.SlowQueryThreshold,
		Logger:             logger.WithModule("database"),
	}

	var auth app.DBAuthConfig
	switch dbCfg.Driver {
	case "", "sqlite":
		dbCfg.Driver = "sqlite"
		// SQLite allows a single writer.
		dbCfg.MaxOpenConns = 1
		return dbCfg
	case "postgres", "postgresql":
		dbCfg.Driver = "postgres"
		auth = cfg.Database.Postgres
	case "mysql":
		auth = cfg.Database.MySQL
	default:
		return dbCfg
	}

	dbCfg.Host = strings.TrimSpace(auth.Host)
	dbCfg.Port = auth.Port
	dbCfg.Name = strings.TrimSpace(auth.Database)
	dbCfg.User = strings.TrimSpace(auth.Username)
	dbCfg.Password = auth.Password
	return dbCfg
}

func closeDatabase(db *gorm.DB, log *zap.Logger) {
	sqlDB, err := db.DB()
	if err != nil {
		log.Warn("failed to obtain underlying sql DB for closing", zap.Error(err))
		return
	}
	if err := sqlDB.Close(); err != nil {
		log.Warn("failed to close database", zap.Error(err))
	}
}
