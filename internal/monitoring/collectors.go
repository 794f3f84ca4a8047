package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type collectorSet struct {
	ticks               *prometheus.CounterVec
	tickDuration        prometheus.Histogram
	lastSuccessfulTick  prometheus.Gauge
	recordsCreated      *prometheus.CounterVec
	recordsDeduplicated *prometheus.CounterVec
	deliveries          *prometheus.CounterVec
	deliveryLag         *prometheus.HistogramVec
	terminalFailures    *prometheus.CounterVec
	hookInvocations     *prometheus.CounterVec
	apiLatency          *prometheus.HistogramVec
	maintenanceRuns     *prometheus.CounterVec
	maintenanceDuration *prometheus.HistogramVec
	maintenanceLastRun  *prometheus.GaugeVec
}

func newCollectors(namespace string) *collectorSet {
	buckets := prometheus.DefBuckets
	lagBuckets := []float64{
		1, 5, 30, 60, // seconds
		300, 900, 1800, 3600, // minutes
		7200, 21600, 86400,
	}

	return &collectorSet{
		ticks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ticks_total",
				Help:      "Scheduler ticks by result",
			},
			[]string{"result"},
		),
		tickDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "tick_duration_seconds",
				Help:      "Duration of a resolve and dispatch cycle",
				Buckets:   buckets,
			},
		),
		lastSuccessfulTick: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_successful_tick_timestamp_seconds",
				Help:      "Unix time of the last tick that completed without error",
			},
		),
		recordsCreated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "records_created_total",
				Help:      "Notification records written to the event log",
			},
			[]string{"kind"},
		),
		recordsDeduplicated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "records_deduplicated_total",
				Help:      "Record inserts suppressed by the dedup index",
			},
			[]string{"kind"},
		),
		deliveries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "deliveries_total",
				Help:      "Delivery outcomes by kind",
			},
			[]string{"kind", "result"},
		),
		deliveryLag: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "delivery_lag_seconds",
				Help:      "Delay between a record becoming eligible and being sent",
				Buckets:   lagBuckets,
			},
			[]string{"kind"},
		),
		terminalFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "terminal_failures_total",
				Help:      "Records that reached a terminal failed state",
			},
			[]string{"kind"},
		),
		hookInvocations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "hook_invocations_total",
				Help:      "Trigger hook invocations by result",
			},
			[]string{"hook", "result"},
		),
		apiLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "api_latency_seconds",
				Help:      "Ops API endpoint latency",
				Buckets:   buckets,
			},
			[]string{"method", "path", "status"},
		),
		maintenanceRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "maintenance_job_runs_total",
				Help:      "Maintenance job executions by result",
			},
			[]string{"job", "result"},
		),
		maintenanceDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "maintenance_job_duration_seconds",
				Help:      "Maintenance job duration",
				Buckets:   buckets,
			},
			[]string{"job"},
		),
		maintenanceLastRun: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "maintenance_job_last_success_timestamp_seconds",
				Help:      "Unix time of the last successful maintenance run",
			},
			[]string{"job"},
		),
	}
}

func (c *collectorSet) all() []prometheus.Collector {
	return []prometheus.Collector{
		c.ticks,
		c.tickDuration,
		c.lastSuccessfulTick,
		c.recordsCreated,
		c.recordsDeduplicated,
		c.deliveries,
		c.deliveryLag,
		c.terminalFailures,
		c.hookInvocations,
		c.apiLatency,
		c.maintenanceRuns,
		c.maintenanceDuration,
		c.maintenanceLastRun,
	}
}

func observeDuration(observer prometheus.Observer, d time.Duration) {
	if observer == nil {
		return
	}
	if d < 0 {
		d = 0
	}
	observer.Observe(d.Seconds())
}
