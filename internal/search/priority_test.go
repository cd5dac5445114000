// SPDX-License-Identifier: MIT

package search_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/comradarr/comradarr/internal/connector"
	"github.com/comradarr/comradarr/internal/search"
	"github.com/comradarr/comradarr/internal/store"
)

var testWeights = search.Weights{
	ContentAge:      40,
	MissingDuration: 30,
	UserPriority:    50,
	FailurePenalty:  10,
	GapBonus:        20,
}

func rankCandidate(id int64, created time.Time, userPriority int) store.DispatchCandidate {
	return store.DispatchCandidate{
		Entry: store.RegistryEntry{
			ID:           id,
			SearchType:   store.SearchGap,
			State:        store.StatePending,
			UserPriority: userPriority,
			CreatedAt:    created,
		},
		ObservedState: store.StatePending,
		Content:       store.ContentItem{ID: id, Kind: connector.KindEpisode},
	}
}

func TestScoreComposition(t *testing.T) {
	in := search.Inputs{
		Age:             15 * 24 * time.Hour, // half the horizon
		MissingDuration: 45 * 24 * time.Hour, // saturated
		UserPriority:    50,
		AttemptCount:    2,
		MaxAttempts:     5,
		Gap:             true,
	}
	// 0.5*40 + 1.0*30 + 0.5*50 - 2*10 + 20
	assert.Equal(t, 75, search.Score(in, testWeights))
}

func TestScoreClampedToRange(t *testing.T) {
	hot := search.Inputs{
		Age:             60 * 24 * time.Hour,
		MissingDuration: 60 * 24 * time.Hour,
		UserPriority:    100,
		Gap:             true,
	}
	all := search.Weights{ContentAge: 100, MissingDuration: 100, UserPriority: 100, GapBonus: 100}
	assert.Equal(t, 100, search.Score(hot, all))

	cold := search.Inputs{AttemptCount: 4, MaxAttempts: 5}
	assert.Equal(t, 0, search.Score(cold, testWeights))
}

func TestScorePenaltyCapsAtMaxAttempts(t *testing.T) {
	atMax := search.Inputs{UserPriority: 100, AttemptCount: 5, MaxAttempts: 5, Gap: true}
	beyond := search.Inputs{UserPriority: 100, AttemptCount: 50, MaxAttempts: 5, Gap: true}
	assert.Equal(t, search.Score(atMax, testWeights), search.Score(beyond, testWeights))
}

func TestScoreDeterministic(t *testing.T) {
	in := search.Inputs{
		Age:          7 * 24 * time.Hour,
		UserPriority: 30,
		AttemptCount: 1,
		MaxAttempts:  5,
		Gap:          true,
	}
	first := search.Score(in, testWeights)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, search.Score(in, testWeights))
	}
}

func TestInputsForMissingDuration(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	seen := now.Add(-72 * time.Hour)

	c := rankCandidate(1, now.Add(-time.Hour), 0)
	c.Content.FirstSeenMissingAt = &seen
	c.Entry.AttemptCount = 3

	in := search.InputsFor(c, 5, now)
	assert.Equal(t, time.Hour, in.Age)
	assert.Equal(t, 72*time.Hour, in.MissingDuration)
	assert.Equal(t, 3, in.AttemptCount)
	assert.True(t, in.Gap)

	c.Content.FirstSeenMissingAt = nil
	assert.Zero(t, search.InputsFor(c, 5, now).MissingDuration)
}

func TestRankOrdersByScoreThenCreation(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	// Age weight zero so creation time cannot leak into the score itself.
	w := search.Weights{UserPriority: 50, GapBonus: 10}

	oldest := rankCandidate(3, now.Add(-30*time.Second), 40)
	younger := rankCandidate(1, now.Add(-20*time.Second), 40)
	hot := rankCandidate(2, now.Add(-5*time.Second), 90)

	ranked := search.Rank([]store.DispatchCandidate{younger, hot, oldest}, w, 5, now)
	require.Len(t, ranked, 3)
	assert.Equal(t, int64(2), ranked[0].Entry.ID, "highest score dispatches first")
	assert.Equal(t, int64(3), ranked[1].Entry.ID, "older row wins the tie")
	assert.Equal(t, int64(1), ranked[2].Entry.ID)
}

func TestRankBreaksCreationTiesByID(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	created := now.Add(-time.Minute)

	a := rankCandidate(7, created, 40)
	b := rankCandidate(4, created, 40)

	ranked := search.Rank([]store.DispatchCandidate{a, b}, search.Weights{UserPriority: 50}, 5, now)
	require.Len(t, ranked, 2)
	assert.Equal(t, int64(4), ranked[0].Entry.ID)
	assert.Equal(t, int64(7), ranked[1].Entry.ID)
}
