package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/neshama/shivanotify/internal/app"
	"github.com/neshama/shivanotify/internal/shiva"
)

func testConfig(t *testing.T) *app.Config {
	t.Helper()
	cfg, err := app.LoadConfig(t.TempDir())
	require.NoError(t, err)
	cfg.Database.Path = filepath.Join(t.TempDir(), "shivanotify.sqlite")
	cfg.Notifications.TestMode = true
	require.NoError(t, cfg.Validate())
	return cfg
}

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	body := "database:\n  path: " + filepath.ToSlash(filepath.Join(dir, "data.sqlite")) + "\n" +
		"notifications:\n  test_mode: true\n" +
		"server:\n  log_level: error\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(body), 0o600))
	return dir
}

func TestParseFlags(t *testing.T) {
	opts, err := parseFlags([]string{"-config", "/etc/shivanotify", "-once"})
	require.NoError(t, err)
	require.Equal(t, "/etc/shivanotify", opts.configPath)
	require.True(t, opts.once)
	require.False(t, opts.repairFlags)

	_, err = parseFlags([]string{"-once", "-repair-flags"})
	require.Error(t, err)
}

func TestConvertDatabaseConfig(t *testing.T) {
	cfg := &app.Config{}
	cfg.Database.Driver = "PostgreSQL"
	cfg.Database.Postgres = app.DBAuthConfig{Host: " db ", Port: 5432, Database: "shiva", Username: "u", Password: "p"}

	dbCfg := convertDatabaseConfig(cfg)
	require.Equal(t, "postgres", dbCfg.Driver)
	require.Equal(t, "db", dbCfg.Host)
	require.Equal(t, 5432, dbCfg.Port)
	require.Equal(t, "shiva", dbCfg.Name)
	require.NotNil(t, dbCfg.Logger)

	cfg.Database.Driver = ""
	dbCfg = convertDatabaseConfig(cfg)
	require.Equal(t, "sqlite", dbCfg.Driver)
	require.Equal(t, 1, dbCfg.MaxOpenConns)
}

func TestLoadApplicationConfigMissingPath(t *testing.T) {
	_, err := loadApplicationConfig(filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
}

func TestBootstrapRuntime(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()
	log := zap.NewNop()

	stack, err := bootstrapRuntime(ctx, cfg, log)
	require.NoError(t, err)
	t.Cleanup(func() { stack.Shutdown(context.Background(), log) })

	pages, err := shiva.NewRepository(stack.DB)
	require.NoError(t, err)
	today := time.Now().In(time.UTC).Format("2006-01-02")
	_, err = pages.CreatePage(ctx, shiva.PageInput{
		FamilyName:     "Levi",
		OrganizerName:  "Noa",
		OrganizerEmail: "noa@example.com",
		StartDate:      today,
		EndDate:        today,
	})
	require.NoError(t, err)

	report, err := stack.Scheduler.RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, report.Resolve.Pages)

	_, ok, err := stack.Scheduler.LastTick(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	w := httptest.NewRecorder()
	stack.Router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	stack.Router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/pages/unknown/notifications/failures", nil))
	require.Equal(t, http.StatusOK, w.Code)
}

func TestRunOnce(t *testing.T) {
	dir := writeConfig(t)
	require.NoError(t, run(context.Background(), []string{"-config", dir, "-once"}))
	require.FileExists(t, filepath.Join(dir, "data.sqlite"))
}

func TestRunRepairFlags(t *testing.T) {
	dir := writeConfig(t)
	require.NoError(t, run(context.Background(), []string{"-config", dir, "-repair-flags"}))
}
