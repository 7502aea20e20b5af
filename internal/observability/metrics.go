package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "firewatch"

// Metrics holds the Prometheus counters, histograms, and gauges for the agent.
type Metrics struct {
	// Remote calls.
	RemoteRequests *prometheus.CounterVec   // labels: endpoint={list,create,update,delete,risk}, outcome={success,transport_error,server_error}
	RemoteDuration *prometheus.HistogramVec // labels: endpoint

	// Region reconciliation.
	RegionOps      *prometheus.CounterVec // labels: op={create,update,delete,resync}, outcome={success,error,compensated,discarded}
	StaleResponses prometheus.Counter
	LocalRegions   prometheus.Gauge

	// Risk feed.
	RiskFetches *prometheus.CounterVec // labels: outcome={success,error,discarded}
	RiskPoints  prometheus.Gauge

	// Heatmap.
	HeatCellsRendered prometheus.Gauge
	HeatCache         *prometheus.CounterVec // labels: result={hit,miss}

	// Notifications.
	Notifications       *prometheus.CounterVec // labels: level, kind
	IdentityActivations prometheus.Counter
}

// NewMetrics creates and registers all agent metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.RemoteRequests,
		m.RemoteDuration,
		m.RegionOps,
		m.StaleResponses,
		m.LocalRegions,
		m.RiskFetches,
		m.RiskPoints,
		m.HeatCellsRendered,
		m.HeatCache,
		m.Notifications,
		m.IdentityActivations,
	)
	return m
}

// NewMetricsForTesting creates Metrics without registering them, so multiple
// tests can build their own instances.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		RemoteRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remote_requests_total",
			Help:      "Remote region store and risk endpoint requests by endpoint and outcome.",
		}, []string{"endpoint", "outcome"}),
		RemoteDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "remote_request_duration_seconds",
			Help:      "Remote request duration in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"endpoint"}),
		RegionOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "region_operations_total",
			Help:      "Region reconciliation operations by kind and outcome.",
		}, []string{"op", "outcome"}),
		StaleResponses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stale_responses_total",
			Help:      "Remote responses discarded because the identity changed while in flight.",
		}),
		LocalRegions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "local_regions",
			Help:      "Regions currently held locally, including pending ones.",
		}),
		RiskFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "risk_fetches_total",
			Help:      "Risk point feed fetches by outcome.",
		}, []string{"outcome"}),
		RiskPoints: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "risk_points",
			Help:      "Risk points currently held by the feed.",
		}),
		HeatCellsRendered: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "heat_cells_rendered",
			Help:      "Cells in the most recently rendered heat layer.",
		}),
		HeatCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "heat_dataset_cache_total",
			Help:      "Heat dataset cache lookups by result.",
		}, []string{"result"}),
		Notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "User notifications by level and error kind.",
		}, []string{"level", "kind"}),
		IdentityActivations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "identity_activations_total",
			Help:      "Identity activations, each triggering a resync and a risk fetch.",
		}),
	}
}
