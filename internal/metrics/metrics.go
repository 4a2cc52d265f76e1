package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"medscribe/internal/jobs"
	"medscribe/internal/stage"
)

const namespace = "medscribe"

// Gauges supplies live values sampled at scrape time.
type Gauges struct {
	QueueDepth    func() int
	InFlight      func() int
	Subscribers   func() int
	DroppedEvents func() int64
}

// Metrics owns the collectors and their registry.
type Metrics struct {
	registry    *prometheus.Registry
	submissions *prometheus.CounterVec
	transitions *prometheus.CounterVec
	failures    *prometheus.CounterVec
	attempts    *prometheus.HistogramVec
}

// New builds the collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_submitted_total",
			Help:      "Jobs accepted, partitioned by input kind.",
		}, []string{"input"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_transitions_total",
			Help:      "Persisted job status transitions, partitioned by the status entered.",
		}, []string{"status"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_failures_total",
			Help:      "Failed jobs, partitioned by failing stage and reason.",
		}, []string{"stage", "reason"}),
		attempts: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_attempt_duration_seconds",
			Help:      "Stage executor attempt latency, partitioned by stage and outcome.",
			Buckets:   []float64{0.5, 1, 5, 15, 60, 180, 600, 1800},
		}, []string{"stage", "outcome"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.submissions,
		m.transitions,
		m.failures,
		m.attempts,
	)
	return m
}

// Registry exposes the registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RegisterGauges adds scrape-time gauges. Nil functions are skipped.
func (m *Metrics) RegisterGauges(g Gauges) {
	gauge := func(name, help string, fn func() float64) {
		m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		}, fn))
	}
	if g.QueueDepth != nil {
		gauge("queue_depth", "Stage requests waiting for a worker.", func() float64 { return float64(g.QueueDepth()) })
	}
	if g.InFlight != nil {
		gauge("queue_in_flight", "Stage requests leased to a worker.", func() float64 { return float64(g.InFlight()) })
	}
	if g.Subscribers != nil {
		gauge("progress_subscribers", "Open progress subscriptions.", func() float64 { return float64(g.Subscribers()) })
	}
	if g.DroppedEvents != nil {
		m.registry.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "progress_events_dropped_total",
			Help:      "Progress events dropped from full subscriber buffers.",
		}, func() float64 { return float64(g.DroppedEvents()) }))
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveSubmission counts an accepted job.
func (m *Metrics) ObserveSubmission(kind jobs.InputKind) {
	m.submissions.WithLabelValues(string(kind)).Inc()
}

// ObserveTransition counts a persisted transition.
func (m *Metrics) ObserveTransition(job *jobs.Job) {
	m.transitions.WithLabelValues(string(job.Status)).Inc()
	if job.Status == jobs.StatusFailed && job.Failure != nil {
		m.failures.WithLabelValues(string(job.Failure.Stage), string(job.Failure.Reason)).Inc()
	}
}

// ObserveAttempt records an executor attempt.
func (m *Metrics) ObserveAttempt(name stage.Name, outcome string, elapsed time.Duration) {
	m.attempts.WithLabelValues(string(name), outcome).Observe(elapsed.Seconds())
}
