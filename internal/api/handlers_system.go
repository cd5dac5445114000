// SPDX-License-Identifier: MIT

package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/comradarr/comradarr/internal/log"
	"github.com/comradarr/comradarr/internal/logstore"
	"github.com/comradarr/comradarr/internal/settings"
	"github.com/comradarr/comradarr/internal/version"
)

// handleHealth serves the verbose health snapshot to authenticated clients.
// The public /healthz stays terse so probes don't hammer every checker.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.health.Health(r.Context(), true))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":          s.bridge.String(r.Context(), settings.KeyAppName),
		"version":       version.Version,
		"commit":        version.Commit,
		"buildDate":     version.Date,
		"startedAt":     s.started,
		"uptimeSeconds": int64(time.Since(s.started).Seconds()),
	})
}

type activityDTO struct {
	ID                int64     `json:"id"`
	ConnectorID       int64     `json:"connectorId"`
	ScheduleID        int64     `json:"scheduleId,omitempty"`
	Source            string    `json:"source"`
	Mode              string    `json:"mode"`
	StartedAt         time.Time `json:"startedAt"`
	FinishedAt        time.Time `json:"finishedAt"`
	ItemsSynced       int       `json:"itemsSynced"`
	GapsAdded         int       `json:"gapsAdded"`
	UpgradesAdded     int       `json:"upgradesAdded"`
	Dispatched        int       `json:"dispatched"`
	Deferred          int       `json:"deferred"`
	SkippedConnectors int       `json:"skippedConnectors"`
	Error             string    `json:"error,omitempty"`
}

func (s *Server) handleActivity(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	activities, err := s.store.ListSyncActivities(r.Context(), limit)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	out := make([]activityDTO, 0, len(activities))
	for _, a := range activities {
		out = append(out, activityDTO{
			ID:                a.ID,
			ConnectorID:       a.ConnectorID,
			ScheduleID:        a.ScheduleID,
			Source:            a.Source,
			Mode:              string(a.Mode),
			StartedAt:         a.StartedAt,
			FinishedAt:        a.FinishedAt,
			ItemsSynced:       a.ItemsSynced,
			GapsAdded:         a.GapsAdded,
			UpgradesAdded:     a.UpgradesAdded,
			Dispatched:        a.Dispatched,
			Deferred:          a.Deferred,
			SkippedConnectors: a.SkippedConnectors,
			Error:             a.Error,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

type logEntryDTO struct {
	Time    time.Time      `json:"time"`
	Level   string         `json:"level"`
	Message string         `json:"message"`
	Fields  map[string]any `json:"fields,omitempty"`
}

// handleLogs tails recent log entries. The default source is the in-memory
// ring buffer; persisted=true reads the badger store instead, which reaches
// further back and supports a since bound.
func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	minLevel := zerolog.TraceLevel
	if raw := r.URL.Query().Get("level"); raw != "" {
		parsed, err := zerolog.ParseLevel(strings.ToLower(raw))
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid level filter")
			return
		}
		minLevel = parsed
	}
	limit := queryInt(r, "limit", 100)
	if limit < 1 || limit > 1000 {
		respondError(w, http.StatusBadRequest, "limit must be between 1 and 1000")
		return
	}

	if r.URL.Query().Get("persisted") == "true" {
		s.servePersistedLogs(w, r, minLevel, limit)
		return
	}

	entries := log.GetRecentLogs()
	out := make([]logEntryDTO, 0, limit)
	// The ring snapshot is oldest-first; serve newest-first like the
	// persisted path.
	for i := len(entries) - 1; i >= 0 && len(out) < limit; i-- {
		e := entries[i]
		if lvl, err := zerolog.ParseLevel(e.Level); err == nil && lvl < minLevel {
			continue
		}
		out = append(out, logEntryDTO{
			Time:    e.Timestamp,
			Level:   e.Level,
			Message: e.Message,
			Fields:  e.Fields,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) servePersistedLogs(w http.ResponseWriter, r *http.Request, minLevel zerolog.Level, limit int) {
	if s.logs == nil {
		respondError(w, http.StatusNotFound, "log persistence is not enabled")
		return
	}
	var since time.Time
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, "since must be RFC 3339")
			return
		}
		since = parsed
	}
	entries, err := s.logs.Recent(r.Context(), logstore.Query{
		MinLevel: minLevel.String(),
		Since:    since,
		Limit:    limit,
	})
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]logEntryDTO, 0, len(entries))
	for _, e := range entries {
		out = append(out, logEntryDTO{Time: e.Time, Level: e.Level, Message: e.Message, Fields: e.Fields})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSettingsList(w http.ResponseWriter, r *http.Request) {
	all, err := s.bridge.All(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, all)
}

// handleSettingsUpdate applies a batch of setting writes. The batch is
// validated up front so a bad key rejects the whole request instead of
// leaving it half-applied.
func (s *Server) handleSettingsUpdate(w http.ResponseWriter, r *http.Request) {
	var req map[string]string
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(req) == 0 {
		respondError(w, http.StatusBadRequest, "no settings provided")
		return
	}
	for key, value := range req {
		if err := settings.Validate(key, value); err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	for key, value := range req {
		if err := s.bridge.Set(r.Context(), key, value); err != nil {
			respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if key == settings.KeyLogLevel {
			_ = log.SetLevel(value) // validated above
		}
		logger := log.WithComponentFromContext(r.Context(), "api")
		logger.Info().
			Str("event", "settings.updated").
			Str("key", key).
			Msg("setting updated")
	}
	respondOK(w, nil)
}
