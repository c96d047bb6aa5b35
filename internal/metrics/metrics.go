// Package metrics exposes Prometheus counters and histograms for ingestion, retrieval and grading.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "saiten"

// Metrics holds the collectors registered on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	retrievals       *prometheus.CounterVec
	retrievalLatency prometheus.Histogram
	escalations      prometheus.Counter
	indexBuilds      *prometheus.CounterVec
	ingestedPassages prometheus.Counter
	essays           *prometheus.CounterVec
	criteria         *prometheus.CounterVec
	oracleLatency    *prometheus.HistogramVec
}

// New creates and registers all collectors, plus the Go runtime and process collectors.
func New() *Metrics {
	durations := []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60}
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		retrievals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "retrievals_total",
			Help: "Retrieval requests by outcome.",
		}, []string{"outcome"}),
		retrievalLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "retrieval_duration_seconds",
			Help: "Retrieval latency.", Buckets: durations,
		}),
		escalations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "retrieval_escalations_total",
			Help: "Retrievals that widened the candidate set to reach the context floor.",
		}),
		indexBuilds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "index_builds_total",
			Help: "Index builds by resulting kind.",
		}, []string{"kind"}),
		ingestedPassages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "ingested_passages_total",
			Help: "Passages written by ingestion.",
		}),
		essays: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "graded_essays_total",
			Help: "Graded essays by outcome.",
		}, []string{"outcome"}),
		criteria: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "criterion_results_total",
			Help: "Per-criterion results by outcome.",
		}, []string{"outcome"}),
		oracleLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "oracle_duration_seconds",
			Help: "Scoring oracle call latency.", Buckets: durations,
		}, []string{"outcome"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.retrievals, m.retrievalLatency, m.escalations,
		m.indexBuilds, m.ingestedPassages,
		m.essays, m.criteria, m.oracleLatency,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveRetrieval records one retrieval.
func (m *Metrics) ObserveRetrieval(d time.Duration, escalated bool, err error) {
	if m == nil {
		return
	}
	m.retrievals.WithLabelValues(outcome(err)).Inc()
	m.retrievalLatency.Observe(d.Seconds())
	if escalated {
		m.escalations.Inc()
	}
}

// IndexBuilt records a finished ingestion.
func (m *Metrics) IndexBuilt(kind string, passages int) {
	if m == nil {
		return
	}
	m.indexBuilds.WithLabelValues(kind).Inc()
	m.ingestedPassages.Add(float64(passages))
}

// EssayFinished records a graded essay.
func (m *Metrics) EssayFinished(failed bool) {
	if m == nil {
		return
	}
	if failed {
		m.essays.WithLabelValues("failed").Inc()
		return
	}
	m.essays.WithLabelValues("completed").Inc()
}

// CriterionScored records one criterion result. outcome is "ok", "parse_error",
// "oracle_error" or "error".
func (m *Metrics) CriterionScored(outcome string) {
	if m == nil {
		return
	}
	m.criteria.WithLabelValues(outcome).Inc()
}

// ObserveOracle records one oracle call.
func (m *Metrics) ObserveOracle(d time.Duration, err error) {
	if m == nil {
		return
	}
	m.oracleLatency.WithLabelValues(outcome(err)).Observe(d.Seconds())
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
