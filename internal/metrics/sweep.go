package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Sweep, registry and tracker instruments.

var (
	// SweepDurationSeconds observes complete sweep durations by mode.
	SweepDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "comradarr_sweep_duration_seconds",
		Help:    "Duration of sweep runs, by sync mode.",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	}, []string{"mode"})

	// SweepTotal counts sweep runs by result.
	SweepTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "comradarr_sweep_total",
		Help: "Total number of sweep runs, by result (ok/error/skipped).",
	}, []string{"result"})

	// DispatchTotal counts search commands dispatched upstream by type.
	DispatchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "comradarr_dispatch_total",
		Help: "Total number of search commands dispatched, by search type.",
	}, []string{"search_type"})

	// RegistryRows tracks registry rows by state.
	RegistryRows = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "comradarr_registry_rows",
		Help: "Current number of search registry rows, by state.",
	}, []string{"state"})

	// RegistryTransitionsTotal counts state transitions applied to registry rows.
	RegistryTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "comradarr_registry_transitions_total",
		Help: "Total number of registry state transitions, by target state.",
	}, []string{"to"})

	// PendingCommands tracks open pending commands awaiting resolution.
	PendingCommands = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "comradarr_pending_commands",
		Help: "Current number of pending upstream commands awaiting resolution.",
	})

	// TrackerResolvedTotal counts pending command resolutions by outcome.
	TrackerResolvedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "comradarr_tracker_resolved_total",
		Help: "Total number of pending commands resolved, by outcome (completed/failed/orphaned/timeout).",
	}, []string{"outcome"})

	// ScheduleFiresTotal counts schedule fires by kind (cron/catchup/manual/dropped).
	ScheduleFiresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "comradarr_schedule_fires_total",
		Help: "Total number of schedule fires, by kind.",
	}, []string{"kind"})
)

// ObserveSweepDuration records a completed sweep's duration.
func ObserveSweepDuration(mode string, seconds float64) {
	SweepDurationSeconds.WithLabelValues(mode).Observe(seconds)
}

// RecordSweep increments the sweep counter for a result.
func RecordSweep(result string) {
	SweepTotal.WithLabelValues(result).Inc()
}

// RecordDispatch increments the dispatch counter for a search type.
func RecordDispatch(searchType string) {
	DispatchTotal.WithLabelValues(searchType).Inc()
}

// SetRegistryRows sets the registry row gauge for a state.
func SetRegistryRows(state string, count float64) {
	RegistryRows.WithLabelValues(state).Set(count)
}

// RecordRegistryTransition increments the transition counter.
func RecordRegistryTransition(to string) {
	RegistryTransitionsTotal.WithLabelValues(to).Inc()
}

// SetPendingCommands sets the pending command gauge.
func SetPendingCommands(count float64) {
	PendingCommands.Set(count)
}

// RecordTrackerResolution increments the tracker resolution counter.
func RecordTrackerResolution(outcome string) {
	TrackerResolvedTotal.WithLabelValues(outcome).Inc()
}

// RecordScheduleFire increments the schedule fire counter.
func RecordScheduleFire(kind string) {
	ScheduleFiresTotal.WithLabelValues(kind).Inc()
}
