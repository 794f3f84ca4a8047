package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"
	_ "time/tzdata"

	"go.uber.org/zap"

	"github.com/neshama/shivanotify/internal/app"
	"github.com/neshama/shivanotify/pkg/logger"
)

const shutdownTimeout = 15 * time.Second

type options struct {
	configPath  string
	once        bool
	repairFlags bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	if err := run(ctx, os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags(args []string) (options, error) {
	fs := flag.NewFlagSet("shivanotify", flag.ContinueOnError)
	fs.SetOutput(os.Stdout)

	var opts options
	fs.StringVar(&opts.configPath, "config", "", "Path to configuration directory or file")
	fs.BoolVar(&opts.once, "once", false, "Run a single scheduler tick and exit")
	fs.BoolVar(&opts.repairFlags, "repair-flags", false, "Reconcile reminder flags with the event log and exit")

	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	if opts.once && opts.repairFlags {
		return opts, errors.New("-once and -repair-flags are mutually exclusive")
	}
	return opts, nil
}

func run(ctx context.Context, args []string) error {
	opts, err := parseFlags(args)
	if err != nil {
		return err
	}

	cfg, err := loadApplicationConfig(opts.configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := app.ConfigureLogging(cfg.Server); err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}
	defer logger.Sync() // best effort

	log := logger.WithModule("bootstrap")

	stack, err := bootstrapRuntime(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		stack.Shutdown(shutdownCtx, log)
	}()

	switch {
	case opts.repairFlags:
		report, err := stack.Scheduler.RepairReminderFlags(ctx)
		if err != nil {
			return fmt.Errorf("repair reminder flags: %w", err)
		}
		log.Info("reminder flags reconciled", zap.Int64("set", report.Set), zap.Int64("cleared", report.Cleared))
		return nil
	case opts.once:
		report, err := stack.Scheduler.RunOnce(ctx)
		log.Info("tick finished",
			zap.Int("created", report.Resolve.Created),
			zap.Int("sent", report.Dispatch.Sent),
			zap.Int("failed", report.Dispatch.Failed),
			zap.Duration("duration", report.Duration),
		)
		if err != nil {
			return fmt.Errorf("run tick: %w", err)
		}
		return nil
	}

	if err := stack.Start(cfg); err != nil {
		return err
	}

	return serve(ctx, cfg, stack, log)
}

func serve(ctx context.Context, cfg *app.Config, stack *runtimeStack, log *zap.Logger) error {
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           stack.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("graceful shutdown: %w", err)
	}

	if err, ok := <-serverErr; ok && err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	log.Info("server stopped gracefully")
	return nil
}

func loadApplicationConfig(path string) (*app.Config, error) {
	if strings.TrimSpace(path) == "" {
		return app.LoadConfig()
	}

	info, err := os.Stat(path)
	if err == nil {
		if info.IsDir() {
			return app.LoadConfig(path)
		}
		return app.LoadConfig(filepath.Dir(path))
	}
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config path %q does not exist", path)
	}
	return nil, fmt.Errorf("stat config path: %w", err)
}
