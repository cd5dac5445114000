// SPDX-License-Identifier: MIT

package store

import (
	"time"

	"github.com/comradarr/comradarr/internal/connector"
)

// HealthStatus is the connector health classification maintained by sweeps
// and the reconnect supervisor.
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthUnhealthy HealthStatus = "unhealthy"
	HealthOffline   HealthStatus = "offline"
	HealthUnknown   HealthStatus = "unknown"
)

// SearchType discriminates why a registry entry exists: the content is
// missing entirely (gap) or sits below its quality cutoff (upgrade).
type SearchType string

const (
	SearchGap     SearchType = "gap"
	SearchUpgrade SearchType = "upgrade"
)

// RegistryState is the durable per-entry state machine position.
type RegistryState string

const (
	StatePending   RegistryState = "pending"
	StateQueued    RegistryState = "queued"
	StateSearching RegistryState = "searching"
	StateCooldown  RegistryState = "cooldown"
	StateExhausted RegistryState = "exhausted"
)

// CommandStatus mirrors the upstream command lifecycle on a pending command.
type CommandStatus string

const (
	CommandQueued    CommandStatus = "queued"
	CommandStarted   CommandStatus = "started"
	CommandCompleted CommandStatus = "completed"
	CommandFailed    CommandStatus = "failed"
)

// SweepMode selects between the cheap wanted-listing sync and the expensive
// full library reconciliation.
type SweepMode string

const (
	SweepIncremental SweepMode = "incremental"
	SweepFull        SweepMode = "full_reconciliation"
)

// Connector is one upstream service instance under management.
type Connector struct {
	ID                int64
	Type              connector.Type
	Name              string
	BaseURL           string
	APIKeyCipher      string
	Enabled           bool
	HealthStatus      HealthStatus
	LastHealthCheckAt *time.Time
	LastSyncedAt      *time.Time
	ThrottleProfileID *int64
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// ContentItem is one mirrored unit of upstream content: an episode for
// series-based connectors, a movie for Radarr.
type ContentItem struct {
	ID                  int64
	ConnectorID         int64
	Kind                connector.ContentKind
	UpstreamID          int64
	SeriesID            int64
	SeasonNumber        int
	EpisodeNumber       int
	Title               string
	Year                int
	Monitored           bool
	HasFile             bool
	QualityCutoffNotMet bool
	AirDate             *time.Time
	FirstSeenMissingAt  *time.Time
	LastSeenAt          time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// RegistryEntry is a durable intent-to-search for one content item on one
// connector with one search type.
type RegistryEntry struct {
	ID             int64
	ConnectorID    int64
	ContentID      int64
	SearchType     SearchType
	State          RegistryState
	Priority       int
	UserPriority   int
	AttemptCount   int
	NextEligibleAt *time.Time
	LastError      string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// PendingCommand correlates one dispatched upstream search command with its
// eventual outcome. Season-scoped commands cover every searching registry row
// of (ConnectorID, SeriesID, SeasonNumber); RegistryID and ContentID then
// point at the fold leader.
type PendingCommand struct {
	ID                int64
	ConnectorID       int64
	RegistryID        int64
	UpstreamCommandID int64
	ContentID         int64
	SearchType        SearchType
	SeasonScoped      bool
	SeriesID          int64
	SeasonNumber      int
	CommandStatus     CommandStatus
	FileAcquired      *bool
	DispatchedAt      time.Time
	CompletedAt       *time.Time
}

// Open reports whether the command still awaits resolution.
func (p PendingCommand) Open() bool { return p.CompletedAt == nil }

// ThrottleProfile bounds how hard a connector may be driven.
type ThrottleProfile struct {
	ID                    int64
	Name                  string
	RequestsPerMinute     int
	DailyBudget           *int
	BatchSize             int
	BatchCooldownSeconds  int
	RateLimitPauseSeconds int
	IsDefault             bool
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// BatchCooldown returns the batch pacing delay as a duration.
func (p ThrottleProfile) BatchCooldown() time.Duration {
	return time.Duration(p.BatchCooldownSeconds) * time.Second
}

// RateLimitPause returns the minimum upstream-429 pause as a duration.
func (p ThrottleProfile) RateLimitPause() time.Duration {
	return time.Duration(p.RateLimitPauseSeconds) * time.Second
}

// ThrottleState is the persisted snapshot of a connector's governor state.
// The process-resident state is authoritative; rows exist for observability
// and to restore pauses across restarts.
type ThrottleState struct {
	ConnectorID        int64
	RequestsThisMinute int
	MinuteWindowStart  time.Time
	RequestsToday      int
	DayWindowStart     time.Time
	IsPaused           bool
	PausedUntil        *time.Time
	PauseReason        string
	LastBatchAt        *time.Time
	UpdatedAt          time.Time
}

// Schedule is one user-defined sweep definition. A nil ConnectorID targets
// every enabled connector.
type Schedule struct {
	ID                int64
	Name              string
	SweepType         SweepMode
	CronExpression    string
	Timezone          string
	ConnectorID       *int64
	ThrottleProfileID *int64
	Enabled           bool
	LastRunAt         *time.Time
	NextRunAt         *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// ReconnectState tracks the supervisor's backoff position for one connector.
type ReconnectState struct {
	ConnectorID         int64
	ConsecutiveFailures int
	NextAttemptAt       *time.Time
	Paused              bool
	LastAttemptAt       *time.Time
	UpdatedAt           time.Time
}

// CompletionSnapshot is one append-only trend sample per connector.
type CompletionSnapshot struct {
	ID              int64
	ConnectorID     int64
	CapturedAt      time.Time
	MonitoredCount  int
	DownloadedCount int
	PercentBps      int
}

// SyncActivity records one sweep run for the activity log.
type SyncActivity struct {
	ID                int64
	ConnectorID       int64
	ScheduleID        int64
	Source            string
	Mode              SweepMode
	StartedAt         time.Time
	FinishedAt        time.Time
	ItemsSynced       int
	GapsAdded         int
	UpgradesAdded     int
	Dispatched        int
	Deferred          int
	SkippedConnectors int
	Error             string
}

// DispatchCandidate is a registry row joined with the content fields the
// priority scorer and batcher consume. ObservedState carries the state the
// row was selected in so the queue transition can fence on it.
type DispatchCandidate struct {
	Entry         RegistryEntry
	ObservedState RegistryState
	Content       ContentItem
}
