// Package jobmetrics instruments the totals worker.
package jobmetrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors for background jobs.
type Metrics struct {
	runs             *prometheus.CounterVec
	failures         *prometheus.CounterVec
	duration         *prometheus.HistogramVec
	materializations *prometheus.CounterVec
	lockContention   *prometheus.CounterVec
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// NewMetrics registers the job metrics against registerer, or once against
// the default registerer when it is nil.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer != nil {
		return register(registerer)
	}
	defaultOnce.Do(func() {
		defaultMetrics = register(prometheus.DefaultRegisterer)
	})
	return defaultMetrics
}

func register(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quoting_jobs_total",
			Help: "Job executions by task type and status.",
		}, []string{"job", "status"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quoting_jobs_failures_total",
			Help: "Failed job executions by task type.",
		}, []string{"job"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "quoting_job_duration_seconds",
			Help:    "Job execution time in seconds.",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 300},
		}, []string{"job"}),
		materializations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quoting_totals_materializations_total",
			Help: "Totals materializations by outcome.",
		}, []string{"outcome"}),
		lockContention: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quoting_totals_lock_contention_total",
			Help: "Jobs that could not obtain the per-quote totals lock.",
		}, []string{"job"}),
	}
	registerer.MustRegister(m.runs, m.failures, m.duration, m.materializations, m.lockContention)
	return m
}

// Tracker times one job run.
type Tracker struct {
	metrics *Metrics
	job     string
	start   time.Time
}

// Track starts timing a run of job. It is safe on a nil Metrics.
func (m *Metrics) Track(job string) *Tracker {
	return &Tracker{metrics: m, job: job, start: time.Now()}
}

// End records the run and returns err unchanged.
func (t *Tracker) End(err error) error {
	if t == nil || t.metrics == nil || t.job == "" {
		return err
	}
	status := "success"
	if err != nil {
		status = "failure"
		t.metrics.failures.WithLabelValues(t.job).Inc()
	}
	t.metrics.runs.WithLabelValues(t.job, status).Inc()
	t.metrics.duration.WithLabelValues(t.job).Observe(time.Since(t.start).Seconds())
	return err
}

// AddMaterialization counts a totals materialization by outcome
// (written, unchanged, stale, retracted).
func (m *Metrics) AddMaterialization(outcome string) {
	if m == nil || outcome == "" {
		return
	}
	m.materializations.WithLabelValues(outcome).Inc()
}

// AddLockContention counts a job that gave up waiting for the quote lock.
func (m *Metrics) AddLockContention(job string) {
	if m == nil {
		return
	}
	m.lockContention.WithLabelValues(job).Inc()
}
