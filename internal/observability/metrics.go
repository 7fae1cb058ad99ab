package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters and gauges for the tracking loop.
type Metrics struct {
	AircraftObserved  prometheus.Counter
	SightingsRecorded prometheus.Counter
	DebounceSkips     prometheus.Counter
	SnapshotErrors    prometheus.Counter
	StoreErrors       prometheus.Counter
	PollRunning       prometheus.Gauge

	PollDuration prometheus.Histogram

	// Enrichment metrics.
	EnrichmentLookups  *prometheus.CounterVec // labels: source, outcome={found,miss,error}
	EnrichmentBudget   prometheus.Gauge
	AirportCacheLookup *prometheus.CounterVec // labels: result={hit,miss}

	// Publishing metrics.
	PostsPublished prometheus.Counter
	PostErrors     prometheus.Counter
}

// NewMetrics creates and registers all metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()

	prometheus.MustRegister(
		m.AircraftObserved,
		m.SightingsRecorded,
		m.DebounceSkips,
		m.SnapshotErrors,
		m.StoreErrors,
		m.PollRunning,
		m.PollDuration,
		m.EnrichmentLookups,
		m.EnrichmentBudget,
		m.AirportCacheLookup,
		m.PostsPublished,
		m.PostErrors,
	)

	return m
}

// NewMetricsForTesting creates Metrics without registering, so parallel
// tests do not hit "already registered" panics.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		AircraftObserved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "aero_alerts",
			Name:      "aircraft_observed_total",
			Help:      "Total aircraft observations decoded from the feed.",
		}),
		SightingsRecorded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "aero_alerts",
			Name:      "sightings_recorded_total",
			Help:      "Total new sightings written to the flights table.",
		}),
		DebounceSkips: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "aero_alerts",
			Name:      "debounce_skips_total",
			Help:      "Observations suppressed by the per-aircraft debounce window.",
		}),
		SnapshotErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "aero_alerts",
			Name:      "snapshot_errors_total",
			Help:      "Failed snapshot fetch or decode attempts.",
		}),
		StoreErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "aero_alerts",
			Name:      "store_errors_total",
			Help:      "Database operation failures.",
		}),
		PollRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "aero_alerts",
			Name:      "poll_running",
			Help:      "1 while the polling loop is active, 0 when shut down.",
		}),
		PollDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "aero_alerts",
			Name:      "poll_duration_seconds",
			Help:      "Duration of one fetch-classify-enrich cycle.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10},
		}),
		EnrichmentLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aero_alerts",
			Name:      "enrichment_lookups_total",
			Help:      "Enrichment lookups by source and outcome.",
		}, []string{"source", "outcome"}),
		EnrichmentBudget: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "aero_alerts",
			Name:      "enrichment_budget_open",
			Help:      "1 if the last paid-API budget check permitted spending, 0 otherwise.",
		}),
		AirportCacheLookup: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aero_alerts",
			Name:      "airport_cache_lookups_total",
			Help:      "Airport cache lookups by result.",
		}, []string{"result"}),
		PostsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "aero_alerts",
			Name:      "posts_published_total",
			Help:      "Announcements successfully published.",
		}),
		PostErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "aero_alerts",
			Name:      "post_errors_total",
			Help:      "Failed publish attempts.",
		}),
	}
}
