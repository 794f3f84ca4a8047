package monitoring

import (
	"strings"
	"time"
)

// RecordTick records the outcome of one scheduler tick.
func RecordTick(result, message string, duration time.Duration) {
	module := CurrentModule()
	if module == nil {
		return
	}
	label := normalizeLabel(result)
	module.metrics.ticks.WithLabelValues(label).Inc()
	observeDuration(module.metrics.tickDuration, duration)
	if label == "success" {
		module.metrics.lastSuccessfulTick.Set(float64(time.Now().Unix()))
	}
	module.stats.recordTick(label, strings.TrimSpace(message), duration)
}

// RecordRecordCreated counts an event log insert. Deduplicated inserts are
// tracked separately so the guard's activity stays visible.
func RecordRecordCreated(kind string, created bool) {
	module := CurrentModule()
	if module == nil {
		return
	}
	label := normalizeLabel(kind)
	if created {
		module.metrics.recordsCreated.WithLabelValues(label).Inc()
		module.stats.recordsCreated.Add(1)
		return
	}
	module.metrics.recordsDeduplicated.WithLabelValues(label).Inc()
	module.stats.recordsDeduplicated.Add(1)
}

// RecordDelivery records a dispatch outcome. lag is the time between the
// record becoming eligible and the attempt; it is only observed for sends.
func RecordDelivery(kind, result string, lag time.Duration) {
	module := CurrentModule()
	if module == nil {
		return
	}
	kindLabel := normalizeLabel(kind)
	resultLabel := normalizeLabel(result)
	module.metrics.deliveries.WithLabelValues(kindLabel, resultLabel).Inc()
	if resultLabel == "sent" {
		observeDuration(module.metrics.deliveryLag.WithLabelValues(kindLabel), lag)
	}
	module.stats.recordDelivery(resultLabel)
}

// RecordTerminalFailure counts a record that will not be retried again.
func RecordTerminalFailure(kind string) {
	module := CurrentModule()
	if module == nil {
		return
	}
	module.metrics.terminalFailures.WithLabelValues(normalizeLabel(kind)).Inc()
	module.stats.terminalFailures.Add(1)
}

// RecordHookInvocation counts trigger hook calls from signup and invite flows.
func RecordHookInvocation(hook, result string) {
	module := CurrentModule()
	if module == nil {
		return
	}
	module.metrics.hookInvocations.WithLabelValues(normalizeLabel(hook), normalizeLabel(result)).Inc()
}

// ObserveAPILatency captures the HTTP request latency for the supplied route.
func ObserveAPILatency(method, path, status string, duration time.Duration) {
	module := CurrentModule()
	if module == nil {
		return
	}
	if duration < 0 {
		duration = 0
	}
	method = strings.ToUpper(strings.TrimSpace(method))
	if method == "" {
		method = "UNKNOWN"
	}
	path = sanitizePath(path)
	if path == "" {
		path = "unknown"
	}
	status = strings.TrimSpace(status)
	if status == "" {
		status = "unknown"
	}
	module.metrics.apiLatency.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

// RecordMaintenanceRun records the completion of a maintenance job.
func RecordMaintenanceRun(job, result, message string, duration time.Duration) {
	module := CurrentModule()
	if module == nil {
		return
	}
	jobID := normalizeLabel(job)
	result = normalizeLabel(result)
	module.metrics.maintenanceRuns.WithLabelValues(jobID, result).Inc()
	observeDuration(module.metrics.maintenanceDuration.WithLabelValues(jobID), duration)
	if result == "success" {
		module.metrics.maintenanceLastRun.WithLabelValues(jobID).Set(float64(time.Now().Unix()))
	}
	stats := module.stats.maintenanceEntry(jobID)
	stats.record(result, strings.TrimSpace(message), duration)
}

func normalizeLabel(value string) string {
	value = strings.TrimSpace(strings.ToLower(value))
	if value == "" {
		return "unknown"
	}
	return value
}

func sanitizePath(path string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return ""
	}
	if path == "/" {
		return "root"
	}
	path = strings.Trim(path, "/")
	return strings.ReplaceAll(path, " ", "_")
}
