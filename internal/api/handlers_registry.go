// SPDX-License-Identifier: MIT

package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/comradarr/comradarr/internal/log"
	"github.com/comradarr/comradarr/internal/store"
)

type registryEntryDTO struct {
	ID             int64      `json:"id"`
	ConnectorID    int64      `json:"connectorId"`
	ContentID      int64      `json:"contentId"`
	SearchType     string     `json:"searchType"`
	State          string     `json:"state"`
	Priority       int        `json:"priority"`
	UserPriority   int        `json:"userPriority"`
	AttemptCount   int        `json:"attemptCount"`
	NextEligibleAt *time.Time `json:"nextEligibleAt,omitempty"`
	LastError      string     `json:"lastError,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

func toRegistryDTO(e store.RegistryEntry) registryEntryDTO {
	return registryEntryDTO{
		ID:             e.ID,
		ConnectorID:    e.ConnectorID,
		ContentID:      e.ContentID,
		SearchType:     string(e.SearchType),
		State:          string(e.State),
		Priority:       e.Priority,
		UserPriority:   e.UserPriority,
		AttemptCount:   e.AttemptCount,
		NextEligibleAt: e.NextEligibleAt,
		LastError:      e.LastError,
		CreatedAt:      e.CreatedAt,
		UpdatedAt:      e.UpdatedAt,
	}
}

// handleRegistryList filters the registry by connector, state and search
// type. Pagination through limit/offset; the default window keeps responses
// bounded on large installs.
func (s *Server) handleRegistryList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var connectorID int64
	if raw := q.Get("connectorId"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			respondError(w, http.StatusBadRequest, "invalid connectorId")
			return
		}
		connectorID = id
	}

	state := store.RegistryState(q.Get("state"))
	switch state {
	case "", store.StatePending, store.StateQueued, store.StateSearching, store.StateCooldown, store.StateExhausted:
	default:
		respondError(w, http.StatusBadRequest, "invalid state")
		return
	}

	searchType := store.SearchType(q.Get("searchType"))
	switch searchType {
	case "", store.SearchGap, store.SearchUpgrade:
	default:
		respondError(w, http.StatusBadRequest, "invalid searchType")
		return
	}

	limit := queryInt(r, "limit", 100)
	if limit < 1 || limit > 1000 {
		limit = 100
	}
	offset := queryInt(r, "offset", 0)
	if offset < 0 {
		offset = 0
	}

	entries, err := s.store.ListRegistryEntries(r.Context(), connectorID, state, searchType, limit, offset)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	out := make([]registryEntryDTO, 0, len(entries))
	for _, e := range entries {
		out = append(out, toRegistryDTO(e))
	}
	writeJSON(w, http.StatusOK, out)
}

// handleRegistryClear resets an entry to pending with a fresh attempt budget,
// in any state. A search in flight is abandoned along the way.
func (s *Server) handleRegistryClear(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.store.RequeueEntry(r.Context(), id); err != nil {
		respondStoreError(w, err)
		return
	}
	logger := log.WithComponentFromContext(r.Context(), "api")
	logger.Info().
		Str("event", "registry.cleared").
		Int64("registry_id", id).
		Msg("registry entry reset by user")
	respondOK(w, nil)
}

// handleRegistryExhaust parks an entry so sweeps skip it. Refused while a
// search is in flight; the tracker owns that transition.
func (s *Server) handleRegistryExhaust(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.store.ExhaustEntry(r.Context(), id); err != nil {
		respondStoreError(w, err)
		return
	}
	logger := log.WithComponentFromContext(r.Context(), "api")
	logger.Info().
		Str("event", "registry.exhausted").
		Int64("registry_id", id).
		Msg("registry entry parked by user")
	respondOK(w, nil)
}

type priorityRequest struct {
	Priority int `json:"priority"`
}

// handleRegistryPriority stores the user's score adjustment (0..100).
func (s *Server) handleRegistryPriority(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req priorityRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Priority < 0 || req.Priority > 100 {
		respondError(w, http.StatusBadRequest, "priority must be between 0 and 100")
		return
	}
	if err := s.store.SetUserPriority(r.Context(), id, req.Priority); err != nil {
		respondStoreError(w, err)
		return
	}
	respondOK(w, nil)
}

// handleRegistryDelete removes an entry outright, in any state. An in-flight
// command left behind resolves as an orphan in the tracker.
func (s *Server) handleRegistryDelete(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.store.DeleteEntry(r.Context(), id); err != nil {
		respondStoreError(w, err)
		return
	}
	respondOK(w, nil)
}
