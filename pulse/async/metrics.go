package async

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes runner activity to Prometheus. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	claimed   prometheus.Counter
	completed *prometheus.CounterVec
	retried   *prometheus.CounterVec
	failed    *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	inFlight  prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg.
// Pass prometheus.DefaultRegisterer in production and a fresh
// prometheus.NewRegistry() in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		claimed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cadence_jobs_claimed_total",
			Help: "Jobs moved from pending to running",
		}),
		completed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cadence_jobs_completed_total",
			Help: "Jobs that finished successfully",
		}, []string{"type"}),
		retried: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cadence_jobs_retried_total",
			Help: "Failed attempts rescheduled with backoff",
		}, []string{"type"}),
		failed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cadence_jobs_failed_total",
			Help: "Jobs that exhausted their retries",
		}, []string{"type"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cadence_job_duration_seconds",
			Help:    "Handler execution time per attempt",
			Buckets: prometheus.DefBuckets,
		}, []string{"type"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cadence_jobs_in_flight",
			Help: "Jobs currently executing in this process",
		}),
	}

	reg.MustRegister(m.claimed, m.completed, m.retried, m.failed, m.duration, m.inFlight)
	return m
}

func (m *Metrics) recordClaimed(n int) {
	if m == nil {
		return
	}
	m.claimed.Add(float64(n))
}

func (m *Metrics) start() {
	if m == nil {
		return
	}
	m.inFlight.Inc()
}

func (m *Metrics) finish(t JobType, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.inFlight.Dec()
	m.duration.WithLabelValues(string(t)).Observe(elapsed.Seconds())
}

func (m *Metrics) recordOutcome(t JobType, success, willRetry bool) {
	if m == nil {
		return
	}
	switch {
	case success:
		m.completed.WithLabelValues(string(t)).Inc()
	case willRetry:
		m.retried.WithLabelValues(string(t)).Inc()
	default:
		m.failed.WithLabelValues(string(t)).Inc()
	}
}
