package backup

import (
	"strconv"
	"strings"
	"time"

	"github.com/MacJediWizard/resticron/internal/models"
	"github.com/robfig/cron/v3"
)

// cronParser accepts the standard 5-field form only: no seconds field, no
// descriptors such as @daily.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Trigger computes fire times for one schedule definition. It implements
// cron.Schedule so it can be registered directly with the cron runtime.
type Trigger struct {
	schedule cron.Schedule
	interval time.Duration
}

// NewTrigger validates a schedule definition and returns its Trigger.
// Errors unwrap to ErrInvalidSchedule.
func NewTrigger(scheduleType models.ScheduleType, cronExpr string, intervalSeconds int) (*Trigger, error) {
	switch scheduleType {
	case models.ScheduleTypeCron:
		return newCronTrigger(cronExpr)
	case models.ScheduleTypeInterval:
		if intervalSeconds <= 0 {
			return nil, &ScheduleError{
				Field:  "interval_seconds",
				Value:  strconv.Itoa(intervalSeconds),
				Reason: "must be a positive number of seconds",
			}
		}
		return &Trigger{interval: time.Duration(intervalSeconds) * time.Second}, nil
	case "":
		return nil, &ScheduleError{Field: "schedule_type", Reason: "is required"}
	default:
		return nil, &ScheduleError{
			Field:  "schedule_type",
			Value:  string(scheduleType),
			Reason: "must be cron or interval",
		}
	}
}

// TriggerForTask returns the Trigger for a task's current schedule parameters.
func TriggerForTask(task *models.ScheduledTask) (*Trigger, error) {
	return NewTrigger(task.ScheduleType, task.CronExpression, task.IntervalSeconds)
}

func newCronTrigger(expr string) (*Trigger, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, &ScheduleError{Field: "cron_expression", Reason: "is required for cron schedules"}
	}
	if strings.HasPrefix(expr, "TZ=") || strings.HasPrefix(expr, "CRON_TZ=") {
		return nil, &ScheduleError{Field: "cron_expression", Value: expr, Reason: "time zone prefixes are not supported, schedules run in UTC"}
	}

	sched, err := cronParser.Parse(expr)
	if err != nil {
		return nil, &ScheduleError{Field: "cron_expression", Value: expr, Reason: err.Error()}
	}
	if spec, ok := sched.(*cron.SpecSchedule); ok {
		spec.Location = time.UTC
	}
	return &Trigger{schedule: sched}, nil
}

// Next returns the first fire time strictly after from. For interval
// triggers that is from + interval.
func (t *Trigger) Next(from time.Time) time.Time {
	from = from.UTC()
	if t.schedule != nil {
		return t.schedule.Next(from)
	}
	return from.Add(t.interval).Truncate(time.Second)
}

// FirstFire returns the first fire time when arming at now. Interval
// triggers continue from lastRun when lastRun + interval is still ahead of
// now; otherwise the count starts at now.
func (t *Trigger) FirstFire(now time.Time, lastRun *time.Time) time.Time {
	if t.schedule == nil && lastRun != nil {
		if next := t.Next(*lastRun); next.After(now) {
			return next
		}
	}
	return t.Next(now)
}

// IsInterval reports whether the trigger is a fixed interval.
func (t *Trigger) IsInterval() bool {
	return t.schedule == nil
}

// ComputeNext is the one-shot form of NewTrigger followed by Next.
func ComputeNext(scheduleType models.ScheduleType, cronExpr string, intervalSeconds int, from time.Time) (time.Time, error) {
	trigger, err := NewTrigger(scheduleType, cronExpr, intervalSeconds)
	if err != nil {
		return time.Time{}, err
	}
	return trigger.Next(from), nil
}

// firstFireSchedule makes the cron runtime fire first at a precomputed time
// and then follow the trigger.
type firstFireSchedule struct {
	first   time.Time
	trigger *Trigger
}

func (s *firstFireSchedule) Next(t time.Time) time.Time {
	if t.Before(s.first) {
		return s.first
	}
	return s.trigger.Next(t)
}
