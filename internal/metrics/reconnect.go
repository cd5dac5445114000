package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Reconnect supervisor instruments.

var (
	// ReconnectProbesTotal counts reconnect probes, by outcome.
	ReconnectProbesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "comradarr_reconnect_probes_total",
		Help: "Total reconnect probes issued, by outcome (success/failure).",
	}, []string{"outcome"})

	// ConnectorHealth tracks connectors by health status.
	ConnectorHealth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "comradarr_connector_health",
		Help: "Current number of connectors, by health status.",
	}, []string{"status"})
)

// RecordReconnectProbe counts one probe outcome.
func RecordReconnectProbe(outcome string) {
	ReconnectProbesTotal.WithLabelValues(outcome).Inc()
}

// SetConnectorHealth sets the connector health gauge for a status.
func SetConnectorHealth(status string, count float64) {
	ConnectorHealth.WithLabelValues(status).Set(count)
}
