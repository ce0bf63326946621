package core

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/JonMunkholm/simsync/internal/ingest"
)

// Metrics holds the service's Prometheus collectors. Each Metrics has its
// own registry so several services (tests, CLI) can coexist in a process.
// A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	ingests           *prometheus.CounterVec
	commits           *prometheus.CounterVec
	changes           *prometheus.CounterVec
	manualActions     *prometheus.CounterVec
	planDuration      prometheus.Histogram
	pendingPlans      prometheus.Gauge
	entities          prometheus.Gauge
	registryVersion   prometheus.Gauge
	embeddingFailures prometheus.Counter
}

// NewMetrics registers the collectors, plus the Go runtime and process
// collectors, on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		// ingests counts ingestion runs by resulting state
		ingests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "simsync_ingests_total",
			Help: "Ingestion runs by resulting state",
		}, []string{"state"}),

		// commits counts commit attempts by result (ok, stale, error)
		commits: f.NewCounterVec(prometheus.CounterOpts{
			Name: "simsync_commits_total",
			Help: "Plan commits by result",
		}, []string{"result"}),

		changes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "simsync_committed_changes_total",
			Help: "Committed diff entries by kind",
		}, []string{"kind"}),

		manualActions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "simsync_manual_actions_total",
			Help: "Manual registry corrections by action",
		}, []string{"action"}),

		planDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "simsync_plan_duration_seconds",
			Help:    "Time to compute an ingestion plan",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~8s
		}),

		pendingPlans: f.NewGauge(prometheus.GaugeOpts{
			Name: "simsync_pending_plans",
			Help: "Plans waiting for confirmation",
		}),

		entities: f.NewGauge(prometheus.GaugeOpts{
			Name: "simsync_registry_entities",
			Help: "Entities in the current registry, active and inactive",
		}),

		registryVersion: f.NewGauge(prometheus.GaugeOpts{
			Name: "simsync_registry_version",
			Help: "Version of the current registry value",
		}),

		embeddingFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "simsync_embedding_failures_total",
			Help: "Header embedding requests that failed",
		}),
	}
}

// Handler serves the metrics in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Gatherer exposes the underlying registry, mainly for tests.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}

func (m *Metrics) observePlan(state string, d time.Duration) {
	if m == nil {
		return
	}
	m.ingests.WithLabelValues(state).Inc()
	m.planDuration.Observe(d.Seconds())
}

func (m *Metrics) observeCommit(result string, diff *ingest.DiffResult) {
	if m == nil {
		return
	}
	m.commits.WithLabelValues(result).Inc()
	if diff == nil {
		return
	}
	m.changes.WithLabelValues("created").Add(float64(diff.Summary.Created))
	m.changes.WithLabelValues("updated").Add(float64(diff.Summary.Updated))
	m.changes.WithLabelValues("deleted").Add(float64(diff.Summary.Deleted))
	m.changes.WithLabelValues("renamed").Add(float64(diff.Summary.Renamed))
	m.changes.WithLabelValues("ambiguous").Add(float64(diff.Summary.Ambiguous))
}

func (m *Metrics) observeManual(action string) {
	if m == nil {
		return
	}
	m.manualActions.WithLabelValues(action).Inc()
}

func (m *Metrics) setPending(n int) {
	if m == nil {
		return
	}
	m.pendingPlans.Set(float64(n))
}

func (m *Metrics) setRegistry(entities int, version int64) {
	if m == nil {
		return
	}
	m.entities.Set(float64(entities))
	m.registryVersion.Set(float64(version))
}

func (m *Metrics) embeddingFailed() {
	if m == nil {
		return
	}
	m.embeddingFailures.Inc()
}
