package server

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var latencyBuckets = []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1}

// Metrics provides observability for the quote API.
// Tracks request counts, request latency and per-scenario pricing latency.
type Metrics struct {
	Requests        *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	ScenarioLatency *prometheus.HistogramVec
}

// NewMetrics creates the API metrics registered on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Requests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "annuity_http_requests_total",
			Help: "Total number of API requests by path and status code",
		}, []string{"path", "status"}),
		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "annuity_http_request_duration_seconds",
			Help:    "Duration of API requests by path",
			Buckets: latencyBuckets,
		}, []string{"path"}),
		ScenarioLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "annuity_scenario_duration_seconds",
			Help:    "Duration of pricing one scenario by kind",
			Buckets: latencyBuckets,
		}, []string{"kind"}),
	}
}

// ObserveRequest records a finished request.
// Call with time.Now() at the start of the request.
func (m *Metrics) ObserveRequest(path string, status int, start time.Time) {
	m.Requests.WithLabelValues(path, strconv.Itoa(status)).Inc()
	m.RequestDuration.WithLabelValues(path).Observe(time.Since(start).Seconds())
}

// ObserveScenario records the pricing latency of one scenario.
func (m *Metrics) ObserveScenario(kind string, d time.Duration) {
	m.ScenarioLatency.WithLabelValues(kind).Observe(d.Seconds())
}
