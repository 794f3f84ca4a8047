package monitoring

import "time"

// Summary surfaces aggregated runtime data for the ops API.
type Summary struct {
	GeneratedAt time.Time          `json:"generated_at"`
	Scheduler   JobSummary         `json:"scheduler"`
	Records     RecordSummary      `json:"records"`
	Deliveries  DeliverySummary    `json:"deliveries"`
	Maintenance MaintenanceSummary `json:"maintenance"`
}

type RecordSummary struct {
	Created      uint64 `json:"created"`
	Deduplicated uint64 `json:"deduplicated"`
}

type DeliverySummary struct {
	Sent             uint64 `json:"sent"`
	Transient        uint64 `json:"transient"`
	Permanent        uint64 `json:"permanent"`
	Skipped          uint64 `json:"skipped"`
	TerminalFailures uint64 `json:"terminal_failures"`
}

type MaintenanceSummary struct {
	Jobs []JobSummary `json:"jobs"`
}

type JobSummary struct {
	Job                 string        `json:"job"`
	LastStatus          string        `json:"last_status"`
	LastRunAt           time.Time     `json:"last_run_at"`
	LastDuration        time.Duration `json:"last_duration"`
	LastError           string        `json:"last_error,omitempty"`
	ConsecutiveFailures uint64        `json:"consecutive_failures"`
	ConsecutiveSuccess  uint64        `json:"consecutive_success"`
	LastSuccessAt       time.Time     `json:"last_success_at"`
	TotalRuns           uint64        `json:"total_runs"`
}

// Summary returns a point-in-time view of this module's runtime stats.
func (m *Module) Summary() Summary {
	if m == nil || m.stats == nil {
		return Summary{GeneratedAt: time.Now()}
	}
	return m.stats.summary()
}

// Snapshot summarises the process-wide module.
func Snapshot() Summary {
	return CurrentModule().Summary()
}
