// Package metrics holds the prometheus collectors of the orchestrator.
//
// Collectors live on a private registry rather than the global default so
// tests and multiple app instances in one process do not collide. All
// methods are nil-safe: a nil *Metrics records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "stagegrid"

// Metrics is the set of orchestrator collectors.
type Metrics struct {
	registry *prometheus.Registry

	// runsSubmitted counts accepted runs.
	// Labels: definition
	runsSubmitted *prometheus.CounterVec

	// runsFinished counts terminal runs.
	// Labels: definition, status (completed, failed, cancelled)
	runsFinished *prometheus.CounterVec

	// stagesFinished counts terminal stages.
	// Labels: kind, status (succeeded, failed, skipped, cancelled)
	stagesFinished *prometheus.CounterVec

	// stageDuration measures executor wall time.
	// Labels: kind, status
	stageDuration *prometheus.HistogramVec

	// stagesInFlight tracks executors currently running.
	stagesInFlight prometheus.Gauge

	// runsQueued tracks runs waiting for a concurrency group slot.
	runsQueued prometheus.Gauge

	// forcedSupersedes counts occupants that did not drain within the
	// cancellation timeout.
	forcedSupersedes prometheus.Counter
}

// New creates the collectors on a fresh registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		runsSubmitted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "runs",
			Name:      "submitted_total",
			Help:      "Total runs accepted for scheduling",
		}, []string{"definition"}),
		runsFinished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "runs",
			Name:      "finished_total",
			Help:      "Total runs that reached a terminal status",
		}, []string{"definition", "status"}),
		stagesFinished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stages",
			Name:      "finished_total",
			Help:      "Total stages that reached a terminal status",
		}, []string{"kind", "status"}),
		stageDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "stages",
			Name:      "duration_seconds",
			Help:      "Executor wall time per stage",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 5, 15, 30, 60, 300, 900, 1800},
		}, []string{"kind", "status"}),
		stagesInFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "stages",
			Name:      "in_flight",
			Help:      "Executors currently running",
		}),
		runsQueued: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "runs",
			Name:      "queued",
			Help:      "Runs waiting for a concurrency group slot",
		}),
		forcedSupersedes: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "concurrency",
			Name:      "forced_supersedes_total",
			Help:      "Occupants superseded after the cancellation timeout",
		}),
	}
}

// Handler returns the HTTP handler exposing the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) RunSubmitted(definition string) {
	if m == nil {
		return
	}
	m.runsSubmitted.WithLabelValues(definition).Inc()
}

func (m *Metrics) RunFinished(definition, status string) {
	if m == nil {
		return
	}
	m.runsFinished.WithLabelValues(definition, status).Inc()
}

func (m *Metrics) StageStarted() {
	if m == nil {
		return
	}
	m.stagesInFlight.Inc()
}

// StageExecuted records an executor returning.
func (m *Metrics) StageExecuted(kind, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.stagesInFlight.Dec()
	m.stageDuration.WithLabelValues(kind, status).Observe(d.Seconds())
}

// StageFinished counts a stage reaching a terminal status, executed or not.
func (m *Metrics) StageFinished(kind, status string) {
	if m == nil {
		return
	}
	m.stagesFinished.WithLabelValues(kind, status).Inc()
}

func (m *Metrics) RunQueued() {
	if m == nil {
		return
	}
	m.runsQueued.Inc()
}

func (m *Metrics) RunDequeued() {
	if m == nil {
		return
	}
	m.runsQueued.Dec()
}

func (m *Metrics) ForcedSupersede() {
	if m == nil {
		return
	}
	m.forcedSupersedes.Inc()
}
