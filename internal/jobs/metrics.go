// Package jobmetrics instruments asynq task handlers.
package jobmetrics

import (
	"errors"
	"sync"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
)

// Run outcomes recorded on tutorledger_jobs_total.
const (
	StatusOK      = "ok"
	StatusSkipped = "skipped"
	StatusFailed  = "failed"
)

// Metrics holds the job collectors. A nil *Metrics records nothing.
type Metrics struct {
	runs     *prometheus.CounterVec
	failures *prometheus.CounterVec
	duration *prometheus.HistogramVec
	items    *prometheus.CounterVec
	repairs  *prometheus.CounterVec
}

var defaultMetrics = sync.OnceValue(func() *Metrics {
	return register(prometheus.DefaultRegisterer)
})

// NewMetrics registers the collectors on registerer, or once on the
// default registerer when registerer is nil.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		return defaultMetrics()
	}
	return register(registerer)
}

func register(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tutorledger_jobs_total",
			Help: "Job runs by task type and outcome.",
		}, []string{"job", "status"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tutorledger_jobs_failures_total",
			Help: "Job runs that failed and will be retried.",
		}, []string{"job"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tutorledger_job_duration_seconds",
			Help:    "Job run duration in seconds.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300},
		}, []string{"job"}),
		items: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tutorledger_job_items_total",
			Help: "Items handled by a job run: keys purged, notifications sent.",
		}, []string{"job"}),
		repairs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tutorledger_attendance_repairs_total",
			Help: "Attendance log entries repaired by reconciliation, by kind.",
		}, []string{"kind"}),
	}
	registerer.MustRegister(m.runs, m.failures, m.duration, m.items, m.repairs)
	return m
}

// Tracker times one run of a job.
type Tracker struct {
	metrics *Metrics
	job     string
	start   time.Time
}

// Track starts timing a run of job.
func (m *Metrics) Track(job string) *Tracker {
	return &Tracker{metrics: m, job: job, start: time.Now()}
}

// End records the run and returns err unchanged. Errors wrapping
// asynq.SkipRetry count as skipped rather than failed.
func (t *Tracker) End(err error) error {
	if t == nil || t.metrics == nil || t.job == "" {
		return err
	}
	status := StatusOK
	switch {
	case err == nil:
	case errors.Is(err, asynq.SkipRetry):
		status = StatusSkipped
	default:
		status = StatusFailed
		t.metrics.failures.WithLabelValues(t.job).Inc()
	}
	t.metrics.runs.WithLabelValues(t.job, status).Inc()
	t.metrics.duration.WithLabelValues(t.job).Observe(time.Since(t.start).Seconds())
	return err
}

// AddItems counts units of work done by job.
func (m *Metrics) AddItems(job string, count int64) {
	if m == nil || count <= 0 {
		return
	}
	m.items.WithLabelValues(job).Add(float64(count))
}

// AddRepairs counts attendance log entries added or removed by reconciliation.
func (m *Metrics) AddRepairs(kind string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.repairs.WithLabelValues(kind).Add(float64(count))
}
