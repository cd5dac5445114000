// SPDX-License-Identifier: MIT

package connector

import "time"

// Type tags the upstream application variant. Sonarr, Radarr and Whisparr
// share one capability set dispatched on this tag; Prowlarr is recognised for
// health checks only.
type Type string

const (
	TypeSonarr   Type = "sonarr"
	TypeRadarr   Type = "radarr"
	TypeWhisparr Type = "whisparr"
	TypeProwlarr Type = "prowlarr"
	TypeUnknown  Type = ""
)

// Valid reports whether t names a recognised variant.
func (t Type) Valid() bool {
	switch t {
	case TypeSonarr, TypeRadarr, TypeWhisparr, TypeProwlarr:
		return true
	}
	return false
}

// SeriesBased reports whether the variant manages episodic content.
func (t Type) SeriesBased() bool {
	return t == TypeSonarr || t == TypeWhisparr
}

// Searchable reports whether the variant accepts search commands. Prowlarr
// connectors are health-check companions and are never swept.
func (t Type) Searchable() bool {
	return t == TypeSonarr || t == TypeRadarr || t == TypeWhisparr
}

// APIBasePath returns the versioned API prefix for the variant.
func (t Type) APIBasePath() string {
	if t == TypeProwlarr {
		return "/api/v1"
	}
	return "/api/v3"
}

// SystemStatus is the subset of the upstream system-status payload the core
// consumes. AppName drives type detection.
type SystemStatus struct {
	AppName      string `json:"appName"`
	InstanceName string `json:"instanceName"`
	Version      string `json:"version"`
	Branch       string `json:"branch"`
}

// ContentKind discriminates the polymorphic content item.
type ContentKind string

const (
	KindEpisode ContentKind = "episode"
	KindMovie   ContentKind = "movie"
)

// Item is one unit of upstream content as the mirror stores it: an episode
// for series-based variants, a movie for Radarr.
type Item struct {
	Kind                ContentKind
	UpstreamID          int64
	SeriesID            int64 // episodes only
	SeasonNumber        int   // episodes only
	EpisodeNumber       int   // episodes only
	Title               string
	Year                int
	Monitored           bool
	HasFile             bool
	QualityCutoffNotMet bool
	AirDate             time.Time // zero when upstream omits it
}

// SeasonStats carries the per-season statistics the episode batcher folds on.
type SeasonStats struct {
	SeasonNumber      int
	Monitored         bool
	EpisodeCount      int
	EpisodeFileCount  int
	TotalEpisodeCount int
	NextAiring        time.Time // zero when the season is fully aired
}

// Series is the upstream series row with the season statistics attached.
type Series struct {
	ID      int64
	Title   string
	Year    int
	Seasons []SeasonStats
}

// CommandState is the upstream command lifecycle the tracker follows.
type CommandState string

const (
	CommandQueued    CommandState = "queued"
	CommandStarted   CommandState = "started"
	CommandCompleted CommandState = "completed"
	CommandFailed    CommandState = "failed"
)

// CommandResult is the upstream's view of a dispatched command.
type CommandResult struct {
	ID     int64
	Name   string
	State  CommandState
	Queued time.Time
	Ended  time.Time
}

// SearchKind names the upstream search command variants.
type SearchKind string

const (
	SearchEpisodes SearchKind = "EpisodeSearch"
	SearchSeason   SearchKind = "SeasonSearch"
	SearchMovies   SearchKind = "MoviesSearch"
)

// SearchCommand describes one search dispatch. Exactly the fields matching
// Kind are consulted.
type SearchCommand struct {
	Kind         SearchKind
	EpisodeIDs   []int64 // EpisodeSearch
	SeriesID     int64   // SeasonSearch
	SeasonNumber int     // SeasonSearch
	MovieIDs     []int64 // MoviesSearch
}

// QueueItem is one upstream download-queue record.
type QueueItem struct {
	ID        int64
	EpisodeID int64
	MovieID   int64
	Status    string
}
