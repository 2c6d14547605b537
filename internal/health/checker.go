package health

import (
	"time"
)

// Status is the overall health of the server.
type Status string

const (
	StatusHealthy  Status = "healthy"
	StatusWarning  Status = "warning"
	StatusCritical Status = "critical"
	StatusUnknown  Status = "unknown"
)

// Thresholds are percentage-used limits for host resources.
type Thresholds struct {
	DiskWarning    float64
	DiskCritical   float64
	MemoryWarning  float64
	MemoryCritical float64
	CPUWarning     float64
	CPUCritical    float64
}

// DefaultThresholds returns the default health thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		DiskWarning:    80.0,
		DiskCritical:   90.0,
		MemoryWarning:  85.0,
		MemoryCritical: 95.0,
		CPUWarning:     80.0,
		CPUCritical:    95.0,
	}
}

// Report is the evaluated health of the host.
type Report struct {
	Status    Status    `json:"status"`
	Message   string    `json:"message"`
	Issues    []Issue   `json:"issues,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// Issue is one metric outside its threshold.
type Issue struct {
	Component string  `json:"component"`
	Severity  Status  `json:"severity"`
	Message   string  `json:"message"`
	Value     float64 `json:"value,omitempty"`
	Threshold float64 `json:"threshold,omitempty"`
}

// Checker evaluates host metrics against thresholds.
type Checker struct {
	thresholds Thresholds
	now        func() time.Time
}

// NewChecker creates a checker with the given thresholds.
func NewChecker(thresholds Thresholds) *Checker {
	return &Checker{thresholds: thresholds, now: time.Now}
}

// Evaluate turns collected metrics into a report.
func (c *Checker) Evaluate(m *Metrics) *Report {
	report := &Report{
		Status:    StatusHealthy,
		CheckedAt: c.now().UTC(),
	}

	if m == nil {
		report.Status = StatusUnknown
		report.Message = "no metrics available"
		return report
	}

	if m.Disk != nil {
		report.add(threshold("disk", m.Disk.UsedPercent, c.thresholds.DiskWarning, c.thresholds.DiskCritical))
	}
	report.add(threshold("memory", m.MemoryUsage, c.thresholds.MemoryWarning, c.thresholds.MemoryCritical))
	report.add(threshold("cpu", m.CPUUsage, c.thresholds.CPUWarning, c.thresholds.CPUCritical))

	// Without restic no backup can run.
	if !m.ResticAvailable {
		report.add(&Issue{
			Component: "restic",
			Severity:  StatusCritical,
			Message:   "restic binary not available",
		})
	}

	switch report.Status {
	case StatusHealthy:
		report.Message = "all systems operational"
	case StatusWarning:
		report.Message = "some metrics require attention"
	default:
		report.Message = "critical issues detected"
	}
	return report
}

func (r *Report) add(issue *Issue) {
	if issue == nil {
		return
	}
	r.Issues = append(r.Issues, *issue)
	if issue.Severity == StatusCritical || r.Status == StatusHealthy {
		r.Status = issue.Severity
	}
}

func threshold(component string, value, warning, critical float64) *Issue {
	switch {
	case critical > 0 && value >= critical:
		return &Issue{
			Component: component,
			Severity:  StatusCritical,
			Message:   component + " usage critically high",
			Value:     value,
			Threshold: critical,
		}
	case warning > 0 && value >= warning:
		return &Issue{
			Component: component,
			Severity:  StatusWarning,
			Message:   component + " usage high",
			Value:     value,
			Threshold: warning,
		}
	default:
		return nil
	}
}
