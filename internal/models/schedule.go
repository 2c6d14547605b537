package models

import (
	"time"

	"github.com/google/uuid"
)

// ScheduleType selects how a task's next fire time is computed.
type ScheduleType string

const (
	// ScheduleTypeCron uses a 5-field cron expression evaluated in UTC.
	ScheduleTypeCron ScheduleType = "cron"
	// ScheduleTypeInterval fires every IntervalSeconds.
	ScheduleTypeInterval ScheduleType = "interval"
)

// RetentionPolicy defines which snapshots survive a forget operation.
type RetentionPolicy struct {
	KeepLast    int `json:"keep_last,omitempty"`
	KeepHourly  int `json:"keep_hourly,omitempty"`
	KeepDaily   int `json:"keep_daily,omitempty"`
	KeepWeekly  int `json:"keep_weekly,omitempty"`
	KeepMonthly int `json:"keep_monthly,omitempty"`
	KeepYearly  int `json:"keep_yearly,omitempty"`
}

// IsEmpty reports whether no keep rule is set.
func (p RetentionPolicy) IsEmpty() bool {
	return p == RetentionPolicy{}
}

// ScheduledTask is a recurring backup definition bound to a repository.
// Exactly one of CronExpression and IntervalSeconds is meaningful,
// selected by ScheduleType.
type ScheduledTask struct {
	ID              uuid.UUID    `json:"id"`
	RepositoryID    uuid.UUID    `json:"repository_id"`
	Name            string       `json:"name"`
	SourcePath      string       `json:"source_path"`
	ScheduleType    ScheduleType `json:"schedule_type"`
	CronExpression  string       `json:"cron_expression,omitempty"`
	IntervalSeconds int          `json:"interval_seconds,omitempty"`
	Enabled         bool         `json:"enabled"`
	LastRun         *time.Time   `json:"last_run,omitempty"`
	NextRun         *time.Time   `json:"next_run,omitempty"`
	Tags            []string     `json:"tags"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

// NewScheduledTask creates a new task. The schedule parameter is not validated here.
func NewScheduledTask(repositoryID uuid.UUID, name, sourcePath string, scheduleType ScheduleType) *ScheduledTask {
	now := time.Now().UTC()
	return &ScheduledTask{
		ID:           uuid.New(),
		RepositoryID: repositoryID,
		Name:         name,
		SourcePath:   sourcePath,
		ScheduleType: scheduleType,
		Enabled:      true,
		Tags:         []string{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// ScheduleParam returns the schedule parameter in its persisted string form.
func (t *ScheduledTask) ScheduleParam() string {
	switch t.ScheduleType {
	case ScheduleTypeCron:
		return t.CronExpression
	case ScheduleTypeInterval:
		if t.IntervalSeconds == 0 {
			return ""
		}
		return (time.Duration(t.IntervalSeconds) * time.Second).String()
	default:
		return ""
	}
}

// SetCron switches the task to a cron schedule and clears the interval.
func (t *ScheduledTask) SetCron(expr string) {
	t.ScheduleType = ScheduleTypeCron
	t.CronExpression = expr
	t.IntervalSeconds = 0
}

// SetInterval switches the task to an interval schedule and clears the cron expression.
func (t *ScheduledTask) SetInterval(seconds int) {
	t.ScheduleType = ScheduleTypeInterval
	t.IntervalSeconds = seconds
	t.CronExpression = ""
}
