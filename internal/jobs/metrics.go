package jobmetrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors for background jobs.
type Metrics struct {
	runs       *prometheus.CounterVec
	failures   *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	recurring  *prometheus.CounterVec
	violations *prometheus.GaugeVec
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// NewMetrics registers the job metrics against the provided registerer. When the
// registerer is nil the default Prometheus registerer is used.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		defaultOnce.Do(func() {
			defaultMetrics = buildMetrics(prometheus.DefaultRegisterer)
		})
		return defaultMetrics
	}
	return buildMetrics(registerer)
}

// Tracker provides lifecycle instrumentation helpers for a single job run.
type Tracker struct {
	metrics *Metrics
	job     string
	start   time.Time
}

// Track spawns a tracker for the given job name.
func (m *Metrics) Track(job string) *Tracker {
	if m == nil {
		return &Tracker{job: job, start: time.Now()}
	}
	return &Tracker{metrics: m, job: job, start: time.Now()}
}

// End finalises the tracker, recording duration, success/failure counts and
// returning the provided error untouched.
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

// AddRecurring counts occurrences handled by one recurring generation run.
func (m *Metrics) AddRecurring(generated, skipped, failed int) {
	if m == nil {
		return
	}
	for outcome, count := range map[string]int{"generated": generated, "skipped": skipped, "failed": failed} {
		if count > 0 {
			m.recurring.WithLabelValues(outcome).Add(float64(count))
		}
	}
}

// SetIntegrityViolations publishes the violations found by the latest integrity check.
func (m *Metrics) SetIntegrityViolations(kind string, count int) {
	if m == nil {
		return
	}
	m.violations.WithLabelValues(kind).Set(float64(count))
}

func buildMetrics(registerer prometheus.Registerer) *Metrics {
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_jobs_total",
		Help: "Total job executions partitioned by job name and status.",
	}, []string{"job", "status"})
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_jobs_failures_total",
		Help: "Total failures observed for background jobs.",
	}, []string{"job"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "odyssey_job_duration_seconds",
		Help:    "Duration in seconds of background job executions.",
		Buckets: prometheus.DefBuckets,
	}, []string{"job"})
	recurring := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_gl_recurring_occurrences_total",
		Help: "Recurring template occurrences partitioned by outcome.",
	}, []string{"outcome"})
	violations := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "odyssey_gl_integrity_violations",
		Help: "Violations found by the latest general ledger integrity check.",
	}, []string{"kind"})
	registerer.MustRegister(runs, failures, duration, recurring, violations)
	return &Metrics{runs: runs, failures: failures, duration: duration, recurring: recurring, violations: violations}
}
