// Package metrics provides Prometheus metrics for the comradarr control plane.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

// Throttle governor instruments. Labels stay low-cardinality: connector IDs
// are bounded by the fleet size, reasons are a closed enum.

var (
	// AdmissionAllowedTotal counts admitted dispatches per connector.
	AdmissionAllowedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "comradarr_admission_allowed_total",
		Help: "Total number of dispatches admitted by the throttle governor, by connector.",
	}, []string{"connector"})

	// AdmissionDeferredTotal counts deferred dispatches by reason.
	AdmissionDeferredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "comradarr_admission_deferred_total",
		Help: "Total number of dispatches deferred by the throttle governor, by connector and reason.",
	}, []string{"connector", "reason"})

	// AdmissionPausedTotal counts pause transitions by reason.
	AdmissionPausedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "comradarr_admission_paused_total",
		Help: "Total number of pause transitions entered by the throttle governor, by connector and reason.",
	}, []string{"connector", "reason"})

	// DailyBudgetUsed tracks searches consumed from the daily budget.
	DailyBudgetUsed = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "comradarr_daily_budget_used",
		Help: "Searches consumed from the connector's daily budget in the current window.",
	}, []string{"connector"})

	// ThrottlePaused reports whether a connector is currently paused (1) or not (0).
	ThrottlePaused = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "comradarr_throttle_paused",
		Help: "Whether the connector's throttle state is currently paused.",
	}, []string{"connector"})
)

// RecordAdmissionAllowed increments the allowed counter for a connector.
func RecordAdmissionAllowed(connector string) {
	AdmissionAllowedTotal.WithLabelValues(connector).Inc()
}

// RecordAdmissionDeferred increments the deferred counter.
func RecordAdmissionDeferred(connector, reason string) {
	AdmissionDeferredTotal.WithLabelValues(connector, reason).Inc()
}

// RecordAdmissionPaused increments the paused counter.
func RecordAdmissionPaused(connector, reason string) {
	AdmissionPausedTotal.WithLabelValues(connector, reason).Inc()
}

// SetDailyBudgetUsed sets the consumed-budget gauge for a connector.
func SetDailyBudgetUsed(connector string, used float64) {
	DailyBudgetUsed.WithLabelValues(connector).Set(used)
}

// SetThrottlePaused flags the paused gauge for a connector.
func SetThrottlePaused(connector string, paused bool) {
	v := 0.0
	if paused {
		v = 1.0
	}
	ThrottlePaused.WithLabelValues(connector).Set(v)
}

// GetDailyBudgetUsed returns the current gauge value (for testing).
func GetDailyBudgetUsed(connector string) float64 {
	var m dto.Metric
	if err := DailyBudgetUsed.WithLabelValues(connector).Write(&m); err != nil {
		return 0
	}
	return m.GetGauge().GetValue()
}
