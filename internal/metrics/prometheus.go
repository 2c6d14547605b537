// Package metrics exposes scheduler and run metrics to Prometheus.
package metrics

import (
	"fmt"
	"time"

	"github.com/MacJediWizard/resticron/internal/backup"
	"github.com/MacJediWizard/resticron/internal/models"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "resticron"

// Metrics holds the collectors fed by the scheduler and the run coordinator.
type Metrics struct {
	RunsTotal      *prometheus.CounterVec
	RunDuration    prometheus.Histogram
	CoalescedFires prometheus.Counter
	ArmedTasks     prometheus.Gauge
	RunsInFlight   prometheus.Gauge
}

var _ backup.Metrics = (*Metrics)(nil)

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Backup runs that reached a terminal state, by status.",
		}, []string{"status"}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Duration of backup runs.",
			Buckets:   []float64{10, 30, 60, 300, 900, 1800, 3600, 7200, 14400, 43200},
		}),
		CoalescedFires: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "coalesced_fires_total",
			Help:      "Scheduled fires dropped because the previous run of the task was still in flight.",
		}),
		ArmedTasks: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "armed_tasks",
			Help:      "Tasks with a live schedule job.",
		}),
		RunsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "runs_in_flight",
			Help:      "Backup runs currently executing or waiting for a slot.",
		}),
	}

	for _, c := range []prometheus.Collector{m.RunsTotal, m.RunDuration, m.CoalescedFires, m.ArmedTasks, m.RunsInFlight} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register metric: %w", err)
		}
	}
	return m, nil
}

// RecordRun counts a finished run and observes its duration.
func (m *Metrics) RecordRun(status models.RunStatus, duration time.Duration) {
	m.RunsTotal.WithLabelValues(string(status)).Inc()
	if duration > 0 {
		m.RunDuration.Observe(duration.Seconds())
	}
}

// RecordCoalesced counts a dropped fire.
func (m *Metrics) RecordCoalesced() {
	m.CoalescedFires.Inc()
}

// SetArmedTasks sets the number of armed tasks.
func (m *Metrics) SetArmedTasks(n int) {
	m.ArmedTasks.Set(float64(n))
}

// SetRunsInFlight sets the number of in-flight runs.
func (m *Metrics) SetRunsInFlight(n int) {
	m.RunsInFlight.Set(float64(n))
}
