// SPDX-License-Identifier: MIT

// Package search holds the decision logic of the dispatch pipeline: priority
// scoring, cooldown escalation, season-pack batching and dispatch planning.
// Everything here is synchronous and free of I/O; identical inputs always
// produce identical outputs.
package search

import (
	"cmp"
	"math"
	"slices"
	"time"

	"github.com/comradarr/comradarr/internal/store"
)

// scoreHorizon saturates the age and missing-duration terms: anything that
// has waited 30 days or longer scores the full weight.
const scoreHorizon = 30 * 24 * time.Hour

// Weights are the integer scoring weights, each 0..100, read from settings.
type Weights struct {
	ContentAge      int
	MissingDuration int
	UserPriority    int
	FailurePenalty  int
	GapBonus        int
}

// Inputs are the per-row facts the scorer consumes.
type Inputs struct {
	Age             time.Duration // since the registry row was created
	MissingDuration time.Duration // since the content was first seen missing
	UserPriority    int           // 0..100
	AttemptCount    int
	MaxAttempts     int
	Gap             bool
}

// Score computes the dispatch priority of one registry row:
//
//	clamp01(age)*W.ContentAge
//	  + clamp01(missingDuration)*W.MissingDuration
//	  + userPriority/100*W.UserPriority
//	  - min(attemptCount, maxAttempts)*W.FailurePenalty
//	  + W.GapBonus when the row is a gap search
//
// rounded and clamped into [0,100].
func Score(in Inputs, w Weights) int {
	s := clamp01(in.Age)*float64(w.ContentAge) +
		clamp01(in.MissingDuration)*float64(w.MissingDuration) +
		float64(in.UserPriority)/100*float64(w.UserPriority) -
		float64(min(in.AttemptCount, in.MaxAttempts))*float64(w.FailurePenalty)
	if in.Gap {
		s += float64(w.GapBonus)
	}
	n := int(math.Round(s))
	if n < 0 {
		return 0
	}
	if n > 100 {
		return 100
	}
	return n
}

func clamp01(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	if d >= scoreHorizon {
		return 1
	}
	return float64(d) / float64(scoreHorizon)
}

// InputsFor derives scorer inputs from a dispatch candidate at instant now.
// A content row that was never seen missing contributes no missing-duration
// term.
func InputsFor(c store.DispatchCandidate, maxAttempts int, now time.Time) Inputs {
	in := Inputs{
		Age:          now.Sub(c.Entry.CreatedAt),
		UserPriority: c.Entry.UserPriority,
		AttemptCount: c.Entry.AttemptCount,
		MaxAttempts:  maxAttempts,
		Gap:          c.Entry.SearchType == store.SearchGap,
	}
	if c.Content.FirstSeenMissingAt != nil {
		in.MissingDuration = now.Sub(*c.Content.FirstSeenMissingAt)
	}
	return in
}

// Ranked is a dispatch candidate paired with its computed score.
type Ranked struct {
	store.DispatchCandidate
	Score int
}

// Rank scores every candidate and orders them for dispatch: score
// descending, then row creation ascending, then id ascending. The tie-breaks
// keep equal-priority rows FIFO so old rows never starve behind young ones.
func Rank(cands []store.DispatchCandidate, w Weights, maxAttempts int, now time.Time) []Ranked {
	out := make([]Ranked, 0, len(cands))
	for _, c := range cands {
		out = append(out, Ranked{
			DispatchCandidate: c,
			Score:             Score(InputsFor(c, maxAttempts, now), w),
		})
	}
	slices.SortFunc(out, func(a, b Ranked) int {
		if a.Score != b.Score {
			return cmp.Compare(b.Score, a.Score)
		}
		if c := a.Entry.CreatedAt.Compare(b.Entry.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.Entry.ID, b.Entry.ID)
	})
	return out
}
