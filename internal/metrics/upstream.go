package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

// Upstream client instruments.

var (
	// UpstreamRequestsTotal counts upstream API calls by operation and outcome.
	UpstreamRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "comradarr_upstream_requests_total",
		Help: "Total number of upstream API requests, by operation and outcome.",
	}, []string{"operation", "outcome"})

	// UpstreamRequestSeconds observes upstream API call latency by operation.
	UpstreamRequestSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "comradarr_upstream_request_seconds",
		Help:    "Latency of upstream API requests, by operation.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	// ConnectorHealthy reports per-connector health (1 healthy, 0 not).
	ConnectorHealthy = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "comradarr_connector_healthy",
		Help: "Whether the connector most recently answered its health probe.",
	}, []string{"connector"})

	// AuthFailuresTotal counts rejected API requests.
	AuthFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "comradarr_auth_failures_total",
		Help: "Total number of rejected API authentication attempts, by reason (bad_key/locked_out).",
	}, []string{"reason"})
)

// RecordUpstreamRequest increments the request counter.
func RecordUpstreamRequest(operation, outcome string) {
	UpstreamRequestsTotal.WithLabelValues(operation, outcome).Inc()
}

// ObserveUpstreamLatency records an upstream call's duration.
func ObserveUpstreamLatency(operation string, seconds float64) {
	UpstreamRequestSeconds.WithLabelValues(operation).Observe(seconds)
}

// SetConnectorHealthy flags the health gauge for a connector.
func SetConnectorHealthy(connector string, healthy bool) {
	v := 0.0
	if healthy {
		v = 1.0
	}
	ConnectorHealthy.WithLabelValues(connector).Set(v)
}

// RecordAuthFailure increments the auth failure counter.
func RecordAuthFailure(reason string) {
	AuthFailuresTotal.WithLabelValues(reason).Inc()
}

// GetConnectorHealthy returns the current gauge value (for testing).
func GetConnectorHealthy(connector string) float64 {
	var m dto.Metric
	if err := ConnectorHealthy.WithLabelValues(connector).Write(&m); err != nil {
		return 0
	}
	return m.GetGauge().GetValue()
}
