package monitoring

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
)

// ProbeStatus encodes the outcome of a health probe.
type ProbeStatus string

const (
	StatusUp       ProbeStatus = "up"
	StatusDown     ProbeStatus = "down"
	StatusDegraded ProbeStatus = "degraded"
)

const defaultCheckTimeout = 3 * time.Second

// ProbeResult captures a single dependency check outcome.
type ProbeResult struct {
	Component string        `json:"component"`
	Status    ProbeStatus   `json:"status"`
	Details   string        `json:"details,omitempty"`
	Duration  time.Duration `json:"duration"`
}

// HealthReport aggregates probe results for a liveness or readiness evaluation.
type HealthReport struct {
	Success bool          `json:"success"`
	Status  ProbeStatus   `json:"status"`
	Checks  []ProbeResult `json:"checks"`
}

// HTTPStatus maps the report onto the status code served by the health routes.
// Degraded counts as unavailable: a scheduler that stopped ticking must not
// look ready.
func (r HealthReport) HTTPStatus() int {
	if r.Success {
		return http.StatusOK
	}
	return http.StatusServiceUnavailable
}

// Check is a named dependency probe.
type Check struct {
	Name string
	Run  func(ctx context.Context) ProbeResult
}

// NewCheck builds a check. A nil probe always reports down.
func NewCheck(name string, fn func(ctx context.Context) ProbeResult) Check {
	if fn == nil {
		fn = func(context.Context) ProbeResult {
			return ProbeResult{Status: StatusDown, Details: "probe not implemented"}
		}
	}
	return Check{Name: name, Run: fn}
}

// HealthManager runs the liveness and readiness probes of the engine.
type HealthManager struct {
	timeout   time.Duration
	liveness  []Check
	readiness []Check
}

// NewHealthManager constructs an empty health manager with the default
// per-check timeout.
func NewHealthManager() *HealthManager {
	return &HealthManager{timeout: defaultCheckTimeout}
}

// SetCheckTimeout bounds every probe run. Non-positive values are ignored.
func (m *HealthManager) SetCheckTimeout(timeout time.Duration) {
	if timeout > 0 {
		m.timeout = timeout
	}
}

// RegisterLiveness appends a liveness probe. Unnamed checks are dropped.
func (m *HealthManager) RegisterLiveness(check Check) {
	if check.Name != "" {
		m.liveness = append(m.liveness, check)
	}
}

// RegisterReadiness appends a readiness probe. Unnamed checks are dropped.
func (m *HealthManager) RegisterReadiness(check Check) {
	if check.Name != "" {
		m.readiness = append(m.readiness, check)
	}
}

// EvaluateLiveness runs every liveness check.
func (m *HealthManager) EvaluateLiveness(ctx context.Context) HealthReport {
	return aggregate(m.run(ctx, m.liveness))
}

// EvaluateReadiness runs every readiness check.
func (m *HealthManager) EvaluateReadiness(ctx context.Context) HealthReport {
	return aggregate(m.run(ctx, m.readiness))
}

// run executes checks concurrently and keeps registration order in the output.
func (m *HealthManager) run(ctx context.Context, checks []Check) []ProbeResult {
	if ctx == nil {
		ctx = context.Background()
	}
	results := make([]ProbeResult, len(checks))
	var g errgroup.Group
	for i, check := range checks {
		i, check := i, check
		g.Go(func() error {
			results[i] = m.runCheck(ctx, check)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (m *HealthManager) runCheck(ctx context.Context, check Check) (result ProbeResult) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	start := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			result = ProbeResult{Status: StatusDown, Details: fmt.Sprintf("panic: %v", rec)}
		}
		if result.Status == "" {
			result.Status = StatusDown
		}
		if result.Duration == 0 {
			result.Duration = time.Since(start)
		}
		result.Component = check.Name
	}()

	return check.Run(ctx)
}

// aggregate folds probe results into a report: any down check makes the
// report down, otherwise any degraded check makes it degraded.
func aggregate(results []ProbeResult) HealthReport {
	report := HealthReport{Success: true, Status: StatusUp, Checks: results}
	if report.Checks == nil {
		report.Checks = []ProbeResult{}
	}
	for _, r := range results {
		switch r.Status {
		case StatusDown:
			report.Status = StatusDown
		case StatusDegraded:
			if report.Status != StatusDown {
				report.Status = StatusDegraded
			}
		}
	}
	report.Success = report.Status == StatusUp
	return report
}

// MergeReports combines liveness and readiness results into one payload.
func MergeReports(live, ready HealthReport) HealthReport {
	checks := make([]ProbeResult, 0, len(live.Checks)+len(ready.Checks))
	checks = append(checks, live.Checks...)
	checks = append(checks, ready.Checks...)
	return aggregate(checks)
}

// ResultFromError converts a probe error into a result. Timeouts and
// cancellations are degraded rather than down.
func ResultFromError(component string, err error, duration time.Duration) ProbeResult {
	result := ProbeResult{Component: component, Status: StatusUp, Duration: max(duration, 0)}
	if err == nil {
		return result
	}
	result.Status = StatusDown
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		result.Status = StatusDegraded
	}
	result.Details = err.Error()
	return result
}
