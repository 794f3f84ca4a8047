package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/neshama/shivanotify/internal/app"
	"github.com/neshama/shivanotify/internal/monitoring"
	"github.com/neshama/shivanotify/internal/notify"
	"github.com/neshama/shivanotify/pkg/response"
	"github.com/neshama/shivanotify/pkg/validator"
)

type fakeNotifications struct {
	lastTick time.Time
	counts   notify.FailureCounts
	existing map[notify.RecordKey]bool
	signups  []notify.SignupCreated
	invites  []notify.CoOrganizerInvited
	hookErr  error
}

func (f *fakeNotifications) FailedCounts(_ context.Context, pageID string) (notify.FailureCounts, error) {
	if pageID == "broken" {
		return notify.FailureCounts{}, errors.New("db offline")
	}
	return f.counts, nil
}

func (f *fakeNotifications) LastTick(context.Context) (time.Time, bool, error) {
	return f.lastTick, !f.lastTick.IsZero(), nil
}

func (f *fakeNotifications) RecordExists(_ context.Context, key notify.RecordKey) (bool, error) {
	return f.existing[key], nil
}

func (f *fakeNotifications) OnSignupCreated(_ context.Context, event notify.SignupCreated) (notify.HookResult, error) {
	if err := validator.ValidateStruct(event); err != nil {
		return notify.HookResult{}, err
	}
	if f.hookErr != nil {
		return notify.HookResult{}, f.hookErr
	}
	f.signups = append(f.signups, event)
	return notify.HookResult{
		Resolve:  notify.ResolveReport{Created: 2},
		Dispatch: notify.DispatchReport{Sent: 2},
	}, nil
}

func (f *fakeNotifications) OnCoOrganizerInvited(_ context.Context, event notify.CoOrganizerInvited) (notify.HookResult, error) {
	if f.hookErr != nil {
		return notify.HookResult{}, f.hookErr
	}
	f.invites = append(f.invites, event)
	return notify.HookResult{Resolve: notify.ResolveReport{Created: 1}, Dispatch: notify.DispatchReport{Sent: 1}}, nil
}

type testEnv struct {
	router *gin.Engine
	fake   *fakeNotifications
	mon    *monitoring.Module
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mon, err := monitoring.NewModule(monitoring.Options{DisableGoCollector: true, DisableProcessCollector: true})
	require.NoError(t, err)

	cfg := &app.Config{}
	cfg.Monitoring.Health.Enabled = true
	cfg.Monitoring.Prometheus.Enabled = true
	cfg.Monitoring.Prometheus.Endpoint = "/metrics"

	cfg.Scheduler.Interval = 15 * time.Minute

	fake := &fakeNotifications{existing: map[notify.RecordKey]bool{}}
	router, err := NewRouter(Dependencies{Config: cfg, Monitoring: mon, Notifications: fake, Ticks: fake})
	require.NoError(t, err)
	return &testEnv{router: router, fake: fake, mon: mon}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) (response.Response, map[string]any) {
	t.Helper()
	var payload response.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &payload), w.Body.String())
	data, _ := payload.Data.(map[string]any)
	return payload, data
}

func TestNewRouterRequiresConfig(t *testing.T) {
	_, err := NewRouter(Dependencies{})
	require.Error(t, err)
}

func TestHealthEndpoints(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/health/live", nil)
	require.Equal(t, http.StatusOK, w.Code)

	env.mon.Health().RegisterReadiness(monitoring.NewCheck("scheduler", func(context.Context) monitoring.ProbeResult {
		return monitoring.ProbeResult{Status: monitoring.StatusDegraded, Details: "stale"}
	}))
	w = env.do(t, http.MethodGet, "/health/ready", nil)
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	require.Contains(t, w.Body.String(), "degraded")

	w = env.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestHealthDisabled(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router, err := NewRouter(Dependencies{Config: &app.Config{}})
	require.NoError(t, err)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	monitoring.SetModule(env.mon)

	monitoring.RecordTick("success", "", time.Second)

	w := env.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "shivanotify_ticks_total")
}

func TestFailuresEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.fake.counts = notify.FailureCounts{Terminal: 2, Retrying: 1}

	w := env.do(t, http.MethodGet, "/api/pages/page-1/notifications/failures", nil)
	require.Equal(t, http.StatusOK, w.Code)
	payload, data := decode(t, w)
	require.True(t, payload.Success)
	require.Equal(t, "page-1", data["page_id"])
	require.EqualValues(t, 2, data["terminal"])
	require.EqualValues(t, 1, data["retrying"])

	w = env.do(t, http.MethodGet, "/api/pages/broken/notifications/failures", nil)
	require.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestExistsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	key := notify.NewRecordKey("page-1", notify.KindDailySummary, "dana@example.com", "2026-10-01")
	env.fake.existing[key] = true

	w := env.do(t, http.MethodGet, "/api/notifications/exists?subject_id=page-1&kind=daily_summary&recipient=Dana@Example.com&date=2026-10-01", nil)
	require.Equal(t, http.StatusOK, w.Code)
	_, data := decode(t, w)
	require.Equal(t, true, data["exists"])

	w = env.do(t, http.MethodGet, "/api/notifications/exists?subject_id=page-1&kind=daily_summary&recipient=dana@example.com&date=2026-10-02", nil)
	require.Equal(t, http.StatusOK, w.Code)
	_, data = decode(t, w)
	require.Equal(t, false, data["exists"])

	for _, query := range []string{
		"kind=daily_summary&recipient=dana@example.com",
		"subject_id=page-1&kind=birthday&recipient=dana@example.com",
		"subject_id=page-1&kind=daily_summary&recipient=not-an-email",
		"subject_id=page-1&kind=daily_summary&recipient=dana@example.com&date=10/01/2026",
	} {
		w = env.do(t, http.MethodGet, "/api/notifications/exists?"+query, nil)
		require.Equal(t, http.StatusBadRequest, w.Code, query)
	}
}

func TestSignupHookEndpoint(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/hooks/signup-created", map[string]string{
		"page_id":   "page-1",
		"group_key": "group-1",
	})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	_, data := decode(t, w)
	require.EqualValues(t, 2, data["created"])
	require.EqualValues(t, 2, data["sent"])
	require.Equal(t, []notify.SignupCreated{{PageID: "page-1", GroupKey: "group-1"}}, env.fake.signups)

	w = env.do(t, http.MethodPost, "/api/hooks/signup-created", map[string]string{"page_id": "page-1"})
	require.Equal(t, http.StatusBadRequest, w.Code)

	env.fake.hookErr = fmt.Errorf("signup hook: page x: %w", notify.ErrNotFound)
	w = env.do(t, http.MethodPost, "/api/hooks/signup-created", map[string]string{
		"page_id":   "x",
		"group_key": "group-1",
	})
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestInviteHookEndpoint(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/hooks/co-organizer-invited", map[string]string{
		"page_id":   "page-1",
		"invite_id": "invite-1",
	})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	require.Len(t, env.fake.invites, 1)

	env.fake.hookErr = errors.New("smtp down")
	w = env.do(t, http.MethodPost, "/api/hooks/co-organizer-invited", map[string]string{
		"page_id":   "page-1",
		"invite_id": "invite-2",
	})
	require.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestMonitoringSummary(t *testing.T) {
	env := newTestEnv(t)

	env.fake.lastTick = time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)

	w := env.do(t, http.MethodGet, "/api/monitoring/summary", nil)
	require.Equal(t, http.StatusOK, w.Code)
	_, data := decode(t, w)
	require.Contains(t, data, "summary")
	scheduler, ok := data["scheduler"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, true, scheduler["enabled"])
	require.Equal(t, "2026-10-01T12:15:00Z", scheduler["next_due"])
}

func TestUnknownRoute(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodGet, "/nope", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}
