package health

import (
	"context"
	"time"
)

// Status is the overall or per-check health state.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

const checkTimeout = 2 * time.Second

// Pinger is a dependency that can report reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// CheckResult is the outcome of a single dependency check.
type CheckResult struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
	Latency string `json:"latency,omitempty"`
}

// Report is a health report.
type Report struct {
	Status    Status                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// Checker reports service health. The database is required. A missing
// Google client only degrades the service: local scheduling keeps working.
type Checker struct {
	database         Pinger
	googleConfigured bool
}

// NewChecker creates a health checker.
func NewChecker(database Pinger, googleConfigured bool) *Checker {
	return &Checker{database: database, googleConfigured: googleConfigured}
}

// Liveness reports that the process is serving requests.
func (c *Checker) Liveness() *Report {
	return &Report{Status: StatusHealthy, Timestamp: time.Now().UTC()}
}

// Check runs every dependency check.
func (c *Checker) Check(ctx context.Context) *Report {
	report := &Report{
		Status:    StatusHealthy,
		Timestamp: time.Now().UTC(),
		Checks:    make(map[string]CheckResult),
	}

	report.Checks["database"] = c.checkDatabase(ctx)

	if c.googleConfigured {
		report.Checks["google_calendar"] = CheckResult{Status: StatusHealthy, Message: "configured"}
	} else {
		report.Checks["google_calendar"] = CheckResult{Status: StatusDegraded, Message: "not configured"}
	}

	for _, check := range report.Checks {
		switch {
		case check.Status == StatusUnhealthy:
			report.Status = StatusUnhealthy
		case check.Status == StatusDegraded && report.Status == StatusHealthy:
			report.Status = StatusDegraded
		}
	}

	return report
}

func (c *Checker) checkDatabase(ctx context.Context) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	start := time.Now()
	if err := c.database.Ping(ctx); err != nil {
		return CheckResult{Status: StatusUnhealthy, Message: "database unreachable"}
	}
	return CheckResult{Status: StatusHealthy, Latency: time.Since(start).Round(time.Microsecond).String()}
}
