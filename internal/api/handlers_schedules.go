// SPDX-License-Identifier: MIT

package api

import (
	"net/http"
	"time"

	"github.com/comradarr/comradarr/internal/store"
)

type scheduleDTO struct {
	ID                int64      `json:"id"`
	Name              string     `json:"name"`
	SweepType         string     `json:"sweepType"`
	CronExpression    string     `json:"cronExpression"`
	Timezone          string     `json:"timezone"`
	ConnectorID       *int64     `json:"connectorId,omitempty"`
	ThrottleProfileID *int64     `json:"throttleProfileId,omitempty"`
	Enabled           bool       `json:"enabled"`
	LastRunAt         *time.Time `json:"lastRunAt,omitempty"`
	NextRunAt         *time.Time `json:"nextRunAt,omitempty"`
	CreatedAt         time.Time  `json:"createdAt"`
	UpdatedAt         time.Time  `json:"updatedAt"`
}

func toScheduleDTO(sc store.Schedule) scheduleDTO {
	return scheduleDTO{
		ID:                sc.ID,
		Name:              sc.Name,
		SweepType:         string(sc.SweepType),
		CronExpression:    sc.CronExpression,
		Timezone:          sc.Timezone,
		ConnectorID:       sc.ConnectorID,
		ThrottleProfileID: sc.ThrottleProfileID,
		Enabled:           sc.Enabled,
		LastRunAt:         sc.LastRunAt,
		NextRunAt:         sc.NextRunAt,
		CreatedAt:         sc.CreatedAt,
		UpdatedAt:         sc.UpdatedAt,
	}
}

type scheduleRequest struct {
	Name              string `json:"name"`
	SweepType         string `json:"sweepType"`
	CronExpression    string `json:"cronExpression"`
	Timezone          string `json:"timezone"`
	ConnectorID       *int64 `json:"connectorId"`
	ThrottleProfileID *int64 `json:"throttleProfileId"`
	Enabled           *bool  `json:"enabled"`
}

func (s *Server) handleScheduleList(w http.ResponseWriter, r *http.Request) {
	schedules, err := s.store.ListSchedules(r.Context())
	if err != nil {
		respondStoreError(w, err)
		return
	}
	out := make([]scheduleDTO, 0, len(schedules))
	for _, sc := range schedules {
		out = append(out, toScheduleDTO(sc))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleScheduleGet(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	sc, err := s.store.GetSchedule(r.Context(), id)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toScheduleDTO(sc))
}

func (s *Server) handleScheduleCreate(w http.ResponseWriter, r *http.Request) {
	var req scheduleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	tz := req.Timezone
	if tz == "" {
		tz = "UTC"
	}
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	sc, err := s.store.CreateSchedule(r.Context(), store.Schedule{
		Name:              req.Name,
		SweepType:         store.SweepMode(req.SweepType),
		CronExpression:    req.CronExpression,
		Timezone:          tz,
		ConnectorID:       req.ConnectorID,
		ThrottleProfileID: req.ThrottleProfileID,
		Enabled:           enabled,
	})
	if err != nil {
		respondStoreError(w, err)
		return
	}
	s.refreshSchedules(r.Context())
	writeJSON(w, http.StatusCreated, toScheduleDTO(sc))
}

func (s *Server) handleScheduleUpdate(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req scheduleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	existing, err := s.store.GetSchedule(r.Context(), id)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	tz := req.Timezone
	if tz == "" {
		tz = existing.Timezone
	}
	enabled := existing.Enabled
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	connectorID := existing.ConnectorID
	if req.ConnectorID != nil {
		// Surface the immutability violation from the store rather than
		// silently ignoring a rebind attempt.
		connectorID = req.ConnectorID
	}

	sc, err := s.store.UpdateSchedule(r.Context(), store.Schedule{
		ID:                id,
		Name:              req.Name,
		SweepType:         store.SweepMode(req.SweepType),
		CronExpression:    req.CronExpression,
		Timezone:          tz,
		ConnectorID:       connectorID,
		ThrottleProfileID: req.ThrottleProfileID,
		Enabled:           enabled,
		NextRunAt:         existing.NextRunAt,
	})
	if err != nil {
		respondStoreError(w, err)
		return
	}
	s.refreshSchedules(r.Context())
	writeJSON(w, http.StatusOK, toScheduleDTO(sc))
}

func (s *Server) handleScheduleDelete(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.store.DeleteSchedule(r.Context(), id); err != nil {
		respondStoreError(w, err)
		return
	}
	s.refreshSchedules(r.Context())
	respondOK(w, nil)
}
