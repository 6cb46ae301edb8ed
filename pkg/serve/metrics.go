package serve

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the service's Prometheus collectors on a dedicated
// registry so tests can run multiple servers in one process.
type Metrics struct {
	registry *prometheus.Registry

	RequestsTotal         *prometheus.CounterVec
	ScanDuration          prometheus.Histogram
	RulesMatched          *prometheus.CounterVec
	DatasetReloadFailures prometheus.Counter
	CircuitBreakerTrips   prometheus.Counter
	AuthFailures          prometheus.Counter
	ActiveRequests        prometheus.Gauge
}

// NewMetrics registers all collectors. regexTimeouts reports the running
// total of rule evaluation timeouts, read at scrape time.
func NewMetrics(regexTimeouts func() float64) *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "layer0_requests_total",
			Help: "Total scan requests",
		}, []string{"status", "endpoint"}),
		ScanDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "layer0_scan_duration_ms",
			Help:    "Scan duration in milliseconds",
			Buckets: []float64{5, 10, 20, 50, 100, 200, 500, 1000, 2000},
		}),
		RulesMatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "layer0_rules_matched_total",
			Help: "Total rule matches",
		}, []string{"dataset", "severity"}),
		DatasetReloadFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "layer0_dataset_reload_failures_total",
			Help: "Total dataset reload failures",
		}),
		CircuitBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "layer0_circuit_breaker_trips_total",
			Help: "Total circuit breaker trips",
		}),
		AuthFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "layer0_auth_failures_total",
			Help: "Total authentication failures",
		}),
		ActiveRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "layer0_active_requests",
			Help: "Number of active requests",
		}),
	}
	reg.MustRegister(
		m.RequestsTotal, m.ScanDuration, m.RulesMatched,
		m.DatasetReloadFailures, m.CircuitBreakerTrips, m.AuthFailures,
		m.ActiveRequests,
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "layer0_regex_timeouts_total",
			Help: "Total regex timeouts",
		}, regexTimeouts),
	)
	return m
}

// Handler serves the Prometheus exposition endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
