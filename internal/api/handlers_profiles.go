// SPDX-License-Identifier: MIT

package api

import (
	"net/http"
	"time"

	"github.com/comradarr/comradarr/internal/store"
)

type profileDTO struct {
	ID                    int64     `json:"id"`
	Name                  string    `json:"name"`
	RequestsPerMinute     int       `json:"requestsPerMinute"`
	DailyBudget           *int      `json:"dailyBudget,omitempty"`
	BatchSize             int       `json:"batchSize"`
	BatchCooldownSeconds  int       `json:"batchCooldownSeconds"`
	RateLimitPauseSeconds int       `json:"rateLimitPauseSeconds"`
	IsDefault             bool      `json:"isDefault"`
	CreatedAt             time.Time `json:"createdAt"`
	UpdatedAt             time.Time `json:"updatedAt"`
}

func toProfileDTO(p store.ThrottleProfile) profileDTO {
	return profileDTO{
		ID:                    p.ID,
		Name:                  p.Name,
		RequestsPerMinute:     p.RequestsPerMinute,
		DailyBudget:           p.DailyBudget,
		BatchSize:             p.BatchSize,
		BatchCooldownSeconds:  p.BatchCooldownSeconds,
		RateLimitPauseSeconds: p.RateLimitPauseSeconds,
		IsDefault:             p.IsDefault,
		CreatedAt:             p.CreatedAt,
		UpdatedAt:             p.UpdatedAt,
	}
}

type profileRequest struct {
	Name                  string `json:"name"`
	RequestsPerMinute     int    `json:"requestsPerMinute"`
	DailyBudget           *int   `json:"dailyBudget"`
	BatchSize             int    `json:"batchSize"`
	BatchCooldownSeconds  int    `json:"batchCooldownSeconds"`
	RateLimitPauseSeconds int    `json:"rateLimitPauseSeconds"`
	IsDefault             bool   `json:"isDefault"`
}

func (req profileRequest) toModel(id int64) store.ThrottleProfile {
	return store.ThrottleProfile{
		ID:                    id,
		Name:                  req.Name,
		RequestsPerMinute:     req.RequestsPerMinute,
		DailyBudget:           req.DailyBudget,
		BatchSize:             req.BatchSize,
		BatchCooldownSeconds:  req.BatchCooldownSeconds,
		RateLimitPauseSeconds: req.RateLimitPauseSeconds,
		IsDefault:             req.IsDefault,
	}
}

func (s *Server) handleProfileList(w http.ResponseWriter, r *http.Request) {
	profiles, err := s.store.ListProfiles(r.Context())
	if err != nil {
		respondStoreError(w, err)
		return
	}
	out := make([]profileDTO, 0, len(profiles))
	for _, p := range profiles {
		out = append(out, toProfileDTO(p))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleProfileGet(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	p, err := s.store.GetProfile(r.Context(), id)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toProfileDTO(p))
}

func (s *Server) handleProfileCreate(w http.ResponseWriter, r *http.Request) {
	var req profileRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	p, err := s.store.CreateProfile(r.Context(), req.toModel(0))
	if err != nil {
		respondStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toProfileDTO(p))
}

// handleProfileUpdate persists profile changes. Governor admission reads the
// profile per sweep, so new bounds apply from the next admission on.
func (s *Server) handleProfileUpdate(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req profileRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	p, err := s.store.UpdateProfile(r.Context(), req.toModel(id))
	if err != nil {
		respondStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toProfileDTO(p))
}

func (s *Server) handleProfileDelete(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.store.DeleteProfile(r.Context(), id); err != nil {
		respondStoreError(w, err)
		return
	}
	respondOK(w, nil)
}
