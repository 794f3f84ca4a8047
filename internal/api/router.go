package api

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/neshama/shivanotify/internal/app"
	"github.com/neshama/shivanotify/internal/handlers"
	"github.com/neshama/shivanotify/internal/middleware"
	"github.com/neshama/shivanotify/internal/monitoring"
)

// Dependencies bundles what the ops router needs. Notifications and Ticks may
// be nil when the scheduler is disabled; notification routes are then not
// mounted.
type Dependencies struct {
	Config        *app.Config
	Monitoring    *monitoring.Module
	Notifications handlers.NotificationService
	Ticks         handlers.TickSource
}

// NewRouter builds the Gin engine, wires middleware and registers the ops routes.
func NewRouter(deps Dependencies) (*gin.Engine, error) {
	cfg := deps.Config
	if cfg == nil {
		return nil, errors.New("config must be provided")
	}

	r := gin.New()
	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics(metricsEndpoint(cfg)))
	r.NoRoute(middleware.NotFoundHandler)

	registerHealthRoutes(r, cfg, deps.Monitoring)
	registerMetricsRoute(r, cfg, deps.Monitoring)

	api := r.Group("/api")
	api.Use(middleware.RateLimit(cfg.Server.RateLimit, cfg.Server.RateBurst))

	if deps.Notifications != nil {
		handler, err := handlers.NewNotificationHandler(deps.Notifications, cfg.Notifications.HookTimeout)
		if err != nil {
			return nil, err
		}
		registerNotificationRoutes(api, handler)
	}
	registerMonitoringRoutes(api, handlers.NewMonitoringHandler(deps.Monitoring, cfg, deps.Ticks, metricsEndpoint(cfg)))

	return r, nil
}

func registerMetricsRoute(r *gin.Engine, cfg *app.Config, mon *monitoring.Module) {
	if mon == nil || !cfg.Monitoring.Prometheus.Enabled {
		return
	}
	r.GET(metricsEndpoint(cfg), gin.WrapH(mon.Handler()))
}

func metricsEndpoint(cfg *app.Config) string {
	if endpoint := strings.TrimSpace(cfg.Monitoring.Prometheus.Endpoint); endpoint != "" {
		return endpoint
	}
	return "/metrics"
}
