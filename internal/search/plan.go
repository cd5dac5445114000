// SPDX-License-Identifier: MIT

package search

import (
	"github.com/comradarr/comradarr/internal/connector"
	"github.com/comradarr/comradarr/internal/store"
)

// Unit is one dispatchable upstream command together with the registry rows
// it covers. A season fold covers every folded row; everything else covers
// exactly one.
type Unit struct {
	Command connector.SearchCommand
	Rows    []Ranked
}

// SeasonScoped reports whether the unit is a season-pack fold.
func (u Unit) SeasonScoped() bool { return u.Command.Kind == connector.SearchSeason }

// Leader returns the highest-ranked row the unit covers.
func (u Unit) Leader() Ranked { return u.Rows[0] }

// StatsFunc resolves season statistics for a series/season pair. ok=false
// means no statistics are available; the season then dispatches episode by
// episode.
type StatsFunc func(seriesID int64, season int) (stats connector.SeasonStats, ok bool)

// Plan folds ranked candidates into dispatch units, preserving rank order.
// Gap rows consult the batcher once per season and a fold absorbs every
// lower-ranked gap row of the same season; upgrade rows and movies always
// dispatch individually. A folded unit sits at the rank position of its
// highest-ranked member.
func Plan(ranked []Ranked, stats StatsFunc, th Thresholds) []Unit {
	units := make([]Unit, 0, len(ranked))
	folded := make(map[seasonKey]bool)
	for i, r := range ranked {
		switch {
		case r.Content.Kind == connector.KindMovie:
			units = append(units, Unit{
				Command: connector.SearchCommand{
					Kind:     connector.SearchMovies,
					MovieIDs: []int64{r.Content.UpstreamID},
				},
				Rows: []Ranked{r},
			})
		case r.Entry.SearchType == store.SearchGap:
			key := seasonKey{r.Content.SeriesID, r.Content.SeasonNumber}
			if folded[key] {
				continue
			}
			st, ok := stats(key.seriesID, key.season)
			if !ok || DetermineBatch(st, th) != connector.SearchSeason {
				units = append(units, episodeUnit(r))
				continue
			}
			unit := Unit{
				Command: connector.SearchCommand{
					Kind:         connector.SearchSeason,
					SeriesID:     key.seriesID,
					SeasonNumber: key.season,
				},
				Rows: []Ranked{r},
			}
			for _, peer := range ranked[i+1:] {
				if peer.Entry.SearchType == store.SearchGap &&
					peer.Content.Kind == connector.KindEpisode &&
					peer.Content.SeriesID == key.seriesID &&
					peer.Content.SeasonNumber == key.season {
					unit.Rows = append(unit.Rows, peer)
				}
			}
			folded[key] = true
			units = append(units, unit)
		default:
			units = append(units, episodeUnit(r))
		}
	}
	return units
}

type seasonKey struct {
	seriesID int64
	season   int
}

func episodeUnit(r Ranked) Unit {
	return Unit{
		Command: connector.SearchCommand{
			Kind:       connector.SearchEpisodes,
			EpisodeIDs: []int64{r.Content.UpstreamID},
		},
		Rows: []Ranked{r},
	}
}
