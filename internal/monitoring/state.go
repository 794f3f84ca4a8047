package monitoring

import (
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type statStore struct {
	tick jobStats

	recordsCreated      atomic.Uint64
	recordsDeduplicated atomic.Uint64

	sent             atomic.Uint64
	transient        atomic.Uint64
	permanent        atomic.Uint64
	skipped          atomic.Uint64
	terminalFailures atomic.Uint64

	maintenance sync.Map // string -> *jobStats
}

func newStatStore() *statStore {
	return &statStore{}
}

func (s *statStore) summary() Summary {
	jobs := []JobSummary{}
	s.maintenance.Range(func(key, value any) bool {
		jobs = append(jobs, value.(*jobStats).snapshot(key.(string)))
		return true
	})
	slices.SortFunc(jobs, func(a, b JobSummary) int { return strings.Compare(a.Job, b.Job) })

	return Summary{
		GeneratedAt: time.Now(),
		Scheduler:   s.tick.snapshot("tick"),
		Records: RecordSummary{
			Created:      s.recordsCreated.Load(),
			Deduplicated: s.recordsDeduplicated.Load(),
		},
		Deliveries: DeliverySummary{
			Sent:             s.sent.Load(),
			Transient:        s.transient.Load(),
			Permanent:        s.permanent.Load(),
			Skipped:          s.skipped.Load(),
			TerminalFailures: s.terminalFailures.Load(),
		},
		Maintenance: MaintenanceSummary{Jobs: jobs},
	}
}

func (s *statStore) recordTick(result, message string, duration time.Duration) {
	s.tick.record(result, message, duration)
}

func (s *statStore) recordDelivery(result string) {
	switch result {
	case "sent":
		s.sent.Add(1)
	case "transient":
		s.transient.Add(1)
	case "permanent":
		s.permanent.Add(1)
	case "skipped":
		s.skipped.Add(1)
	}
}

func (s *statStore) maintenanceEntry(job string) *jobStats {
	value, ok := s.maintenance.Load(job)
	if ok {
		return value.(*jobStats)
	}
	stats := &jobStats{}
	actual, _ := s.maintenance.LoadOrStore(job, stats)
	return actual.(*jobStats)
}

type jobStats struct {
	lastStatus           atomic.Value // string
	lastError            atomic.Value // string
	lastRun              atomic.Int64 // unix nano
	lastDuration         atomic.Int64 // nanoseconds
	consecutiveFailures  atomic.Uint64
	totalRuns            atomic.Uint64
	lastSuccessfulRun    atomic.Int64
	consecutiveSuccesses atomic.Uint64
}

func (m *jobStats) snapshot(job string) JobSummary {
	status, _ := m.lastStatus.Load().(string)
	errMsg, _ := m.lastError.Load().(string)

	summary := JobSummary{
		Job:                 job,
		LastStatus:          status,
		LastDuration:        time.Duration(m.lastDuration.Load()),
		LastError:           errMsg,
		ConsecutiveFailures: m.consecutiveFailures.Load(),
		ConsecutiveSuccess:  m.consecutiveSuccesses.Load(),
		TotalRuns:           m.totalRuns.Load(),
	}
	if ns := m.lastRun.Load(); ns != 0 {
		summary.LastRunAt = time.Unix(0, ns)
	}
	if ns := m.lastSuccessfulRun.Load(); ns != 0 {
		summary.LastSuccessAt = time.Unix(0, ns)
	}
	return summary
}

func (m *jobStats) record(result, message string, duration time.Duration) {
	if duration < 0 {
		duration = 0
	}
	now := time.Now()
	m.lastStatus.Store(result)
	m.lastError.Store(message)
	m.lastRun.Store(now.UnixNano())
	m.lastDuration.Store(int64(duration))
	m.totalRuns.Add(1)

	switch result {
	case "success":
		m.consecutiveFailures.Store(0)
		m.consecutiveSuccesses.Add(1)
		m.lastSuccessfulRun.Store(now.UnixNano())
	case "skipped":
		// Another instance held the tick; neither a success nor a failure.
	default:
		m.consecutiveFailures.Add(1)
		m.consecutiveSuccesses.Store(0)
	}
}
