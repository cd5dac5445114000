package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Notification dispatcher instruments.

var (
	// NotifyEventsTotal counts events accepted for delivery, by type.
	NotifyEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "comradarr_notify_events_total",
		Help: "Total notification events accepted for delivery, by event type.",
	}, []string{"type"})

	// NotifyDroppedTotal counts events dropped before delivery.
	NotifyDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "comradarr_notify_dropped_total",
		Help: "Total notification events dropped, by reason (buffer_full/rate_limited).",
	}, []string{"reason"})

	// NotifySinkErrorsTotal counts delivery failures per sink.
	NotifySinkErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "comradarr_notify_sink_errors_total",
		Help: "Total notification delivery failures, by sink.",
	}, []string{"sink"})
)

// RecordNotifyEvent counts an accepted event.
func RecordNotifyEvent(eventType string) {
	NotifyEventsTotal.WithLabelValues(eventType).Inc()
}

// RecordNotifyDrop counts a dropped event.
func RecordNotifyDrop(reason string) {
	NotifyDroppedTotal.WithLabelValues(reason).Inc()
}

// RecordNotifySinkError counts a failed delivery attempt.
func RecordNotifySinkError(sink string) {
	NotifySinkErrorsTotal.WithLabelValues(sink).Inc()
}
