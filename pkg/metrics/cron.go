package metrics

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Cycle results recorded by RecordCycle.
const (
	CycleRan       = "ran"
	CycleSkipped   = "skipped_locked"
	CycleLockError = "lock_error"
)

// CronJobMetrics records how the recovery cron worker spends its cycles.
type CronJobMetrics struct {
	duration    *prometheus.HistogramVec
	runs        *prometheus.CounterVec
	lastSuccess *prometheus.GaugeVec
	cycles      *prometheus.CounterVec
}

// NewCronJobMetrics registers the cron job metrics on the provided registerer.
// A nil registerer yields a no-op recorder.
func NewCronJobMetrics(reg prometheus.Registerer) *CronJobMetrics {
	if reg == nil {
		return &CronJobMetrics{}
	}
	m := &CronJobMetrics{
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "kitchenshare_cron_job_duration_seconds",
			Help:    "Duration of cron jobs in seconds.",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 240},
		}, []string{"job"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kitchenshare_cron_job_runs_total",
			Help: "Cron job executions by outcome.",
		}, []string{"job", "outcome"}),
		lastSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "kitchenshare_cron_job_last_success_timestamp_seconds",
			Help: "Unix time of the last successful run per job.",
		}, []string{"job"}),
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kitchenshare_cron_cycles_total",
			Help: "Scheduler cycles by result.",
		}, []string{"result"}),
	}
	reg.MustRegister(m.duration, m.runs, m.lastSuccess, m.cycles)
	return m
}

// ObserveJob records one job execution. Deadline overruns count as timeouts.
func (c *CronJobMetrics) ObserveJob(job string, duration time.Duration, err error) {
	if c == nil || c.runs == nil {
		return
	}
	job = normalizeLabel(job)
	c.duration.WithLabelValues(job).Observe(duration.Seconds())
	c.runs.WithLabelValues(job, jobOutcome(err)).Inc()
	if err == nil {
		c.lastSuccess.WithLabelValues(job).SetToCurrentTime()
	}
}

// RecordCycle counts a scheduler cycle by result.
func (c *CronJobMetrics) RecordCycle(result string) {
	if c == nil || c.cycles == nil {
		return
	}
	c.cycles.WithLabelValues(normalizeLabel(result)).Inc()
}

func jobOutcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "failure"
	}
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
