package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for the
// ingestion loop and the event store.
type Metrics struct {
	PollCycles        *prometheus.CounterVec // labels: outcome={success,fetch_error,decode_empty}
	RecordsExtracted  prometheus.Counter
	CandidatesMatched prometheus.Counter
	RecordsDropped    prometheus.Counter
	EventsTracked     *prometheus.GaugeVec // labels: status={active,lost}
	EventsRemoved     prometheus.Counter
	CycleDuration     prometheus.Histogram
	SyncErrors        *prometheus.CounterVec // labels: sink={elasticsearch,kafka}
	IngestorRunning   prometheus.Gauge
}

// NewMetrics creates and registers all ingestor metrics with the default
// Prometheus registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		PollCycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "v16",
			Name:      "poll_cycles_total",
			Help:      "Poll cycles by outcome.",
		}, []string{"outcome"}),
		RecordsExtracted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "v16",
			Name:      "records_extracted_total",
			Help:      "Raw incident records extracted from upstream payloads.",
		}),
		CandidatesMatched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "v16",
			Name:      "candidates_matched_total",
			Help:      "Records matching the V16 source/type/cause signature.",
		}),
		RecordsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "v16",
			Name:      "records_dropped_total",
			Help:      "Candidate records dropped without a usable coordinate pair.",
		}),
		EventsTracked: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "v16",
			Name:      "events_tracked",
			Help:      "Events currently held in the store, by status.",
		}, []string{"status"}),
		EventsRemoved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "v16",
			Name:      "events_removed_total",
			Help:      "Lost events garbage-collected past the retention threshold.",
		}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "v16",
			Name:      "poll_cycle_duration_seconds",
			Help:      "Duration of a complete fetch-decode-merge-sync cycle.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		SyncErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "v16",
			Name:      "sync_errors_total",
			Help:      "Best-effort persistence sync failures by sink.",
		}, []string{"sink"}),
		IngestorRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "v16",
			Name:      "ingestor_running",
			Help:      "1 when the polling worker is active, 0 when shut down.",
		}),
	}

	prometheus.MustRegister(
		m.PollCycles,
		m.RecordsExtracted,
		m.CandidatesMatched,
		m.RecordsDropped,
		m.EventsTracked,
		m.EventsRemoved,
		m.CycleDuration,
		m.SyncErrors,
		m.IngestorRunning,
	)

	return m
}

// NewMetricsForTesting creates Metrics without registering them, avoiding
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return &Metrics{
		PollCycles:        prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "v16", Name: "poll_cycles_total"}, []string{"outcome"}),
		RecordsExtracted:  prometheus.NewCounter(prometheus.CounterOpts{Namespace: "v16", Name: "records_extracted_total"}),
		CandidatesMatched: prometheus.NewCounter(prometheus.CounterOpts{Namespace: "v16", Name: "candidates_matched_total"}),
		RecordsDropped:    prometheus.NewCounter(prometheus.CounterOpts{Namespace: "v16", Name: "records_dropped_total"}),
		EventsTracked:     prometheus.NewGaugeVec(prometheus.GaugeOpts{Namespace: "v16", Name: "events_tracked"}, []string{"status"}),
		EventsRemoved:     prometheus.NewCounter(prometheus.CounterOpts{Namespace: "v16", Name: "events_removed_total"}),
		CycleDuration:     prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: "v16", Name: "poll_cycle_duration_seconds"}),
		SyncErrors:        prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "v16", Name: "sync_errors_total"}, []string{"sink"}),
		IngestorRunning:   prometheus.NewGauge(prometheus.GaugeOpts{Namespace: "v16", Name: "ingestor_running"}),
	}
}
