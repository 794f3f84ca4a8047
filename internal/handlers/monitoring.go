package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/neshama/shivanotify/internal/app"
	"github.com/neshama/shivanotify/internal/monitoring"
	apperrors "github.com/neshama/shivanotify/pkg/errors"
	"github.com/neshama/shivanotify/pkg/response"
)

// TickSource reports the last successful scheduler tick, wherever the
// heartbeat is stored.
type TickSource interface {
	LastTick(ctx context.Context) (time.Time, bool, error)
}

// MonitoringHandler surfaces scheduler, delivery and maintenance statistics.
type MonitoringHandler struct {
	module   *monitoring.Module
	ticks    TickSource
	interval time.Duration
	metrics  string
}

// NewMonitoringHandler returns nil when monitoring is disabled. ticks may be
// nil when the scheduler is disabled.
func NewMonitoringHandler(module *monitoring.Module, cfg *app.Config, ticks TickSource, metricsEndpoint string) *MonitoringHandler {
	if module == nil || cfg == nil {
		return nil
	}
	if !cfg.Monitoring.Health.Enabled && !cfg.Monitoring.Prometheus.Enabled {
		return nil
	}
	if !cfg.Monitoring.Prometheus.Enabled {
		metricsEndpoint = ""
	}
	return &MonitoringHandler{
		module:   module,
		ticks:    ticks,
		interval: cfg.Scheduler.Interval,
		metrics:  metricsEndpoint,
	}
}

type schedulerStatus struct {
	Enabled  bool       `json:"enabled"`
	Interval string     `json:"interval,omitempty"`
	LastTick *time.Time `json:"last_tick,omitempty"`
	NextDue  *time.Time `json:"next_due,omitempty"`
}

// Summary returns the in-process statistics plus the shared heartbeat, which
// may have been written by another engine instance.
func (h *MonitoringHandler) Summary(c *gin.Context) {
	status := schedulerStatus{Enabled: h.ticks != nil}
	if h.ticks != nil {
		status.Interval = h.interval.String()
		last, ok, err := h.ticks.LastTick(requestContext(c))
		if err != nil {
			response.Error(c, apperrors.Wrap(err, "failed to read scheduler heartbeat"))
			return
		}
		if ok {
			last = last.UTC()
			next := last.Add(h.interval)
			status.LastTick, status.NextDue = &last, &next
		}
	}

	response.Success(c, http.StatusOK, gin.H{
		"summary":   h.module.Summary(),
		"scheduler": status,
		"prometheus": gin.H{
			"enabled":  h.metrics != "",
			"endpoint": h.metrics,
		},
	})
}
