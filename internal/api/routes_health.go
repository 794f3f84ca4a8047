package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/neshama/shivanotify/internal/app"
	"github.com/neshama/shivanotify/internal/monitoring"
)

func registerHealthRoutes(r *gin.Engine, cfg *app.Config, mon *monitoring.Module) {
	if !cfg.Monitoring.Health.Enabled || mon == nil || mon.Health() == nil {
		for _, path := range []string{"/health", "/health/live", "/health/ready"} {
			r.GET(path, disabledHealthHandler)
		}
		return
	}

	manager := mon.Health()

	r.GET("/health", func(c *gin.Context) {
		ctx := c.Request.Context()
		writeHealthReport(c, monitoring.MergeReports(manager.EvaluateLiveness(ctx), manager.EvaluateReadiness(ctx)))
	})
	r.GET("/health/live", func(c *gin.Context) {
		writeHealthReport(c, manager.EvaluateLiveness(c.Request.Context()))
	})
	r.GET("/health/ready", func(c *gin.Context) {
		writeHealthReport(c, manager.EvaluateReadiness(c.Request.Context()))
	})
}

func disabledHealthHandler(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{
		"success": false,
		"status":  "disabled",
	})
}

func writeHealthReport(c *gin.Context, report monitoring.HealthReport) {
	c.JSON(report.HTTPStatus(), gin.H{
		"success":    report.Success,
		"status":     report.Status,
		"checks":     report.Checks,
		"checked_at": time.Now().UTC(),
	})
}
