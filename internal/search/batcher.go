// SPDX-License-Identifier: MIT

package search

import "github.com/comradarr/comradarr/internal/connector"

// Thresholds gate when the eligible episodes of a fully aired season fold
// into one season-pack search.
type Thresholds struct {
	MinMissingPercent int // 0..100
	MinMissingCount   int
}

// DetermineBatch decides how the eligible episodes of one season dispatch.
// A season that is still airing searches episode by episode regardless of
// how much is missing; a fully aired season folds into a single SeasonSearch
// once both thresholds are met.
func DetermineBatch(stats connector.SeasonStats, th Thresholds) connector.SearchKind {
	if !stats.NextAiring.IsZero() {
		return connector.SearchEpisodes
	}
	if stats.EpisodeCount <= 0 {
		return connector.SearchEpisodes
	}
	missing := stats.EpisodeCount - stats.EpisodeFileCount
	if missing*100 >= th.MinMissingPercent*stats.EpisodeCount && missing >= th.MinMissingCount {
		return connector.SearchSeason
	}
	return connector.SearchEpisodes
}
