// SPDX-License-Identifier: MIT

package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/comradarr/comradarr/internal/connector"
	"github.com/comradarr/comradarr/internal/log"
	"github.com/comradarr/comradarr/internal/netutil"
	"github.com/comradarr/comradarr/internal/reconnect"
	"github.com/comradarr/comradarr/internal/store"
	"github.com/comradarr/comradarr/internal/sweep"
)

// connectorDTO is the wire form of a connector. The API-key ciphertext never
// leaves the process; HasAPIKey tells the client one is stored.
type connectorDTO struct {
	ID                int64      `json:"id"`
	Type              string     `json:"type"`
	Name              string     `json:"name"`
	BaseURL           string     `json:"baseUrl"`
	HasAPIKey         bool       `json:"hasApiKey"`
	Enabled           bool       `json:"enabled"`
	HealthStatus      string     `json:"healthStatus"`
	LastHealthCheckAt *time.Time `json:"lastHealthCheckAt,omitempty"`
	LastSyncedAt      *time.Time `json:"lastSyncedAt,omitempty"`
	ThrottleProfileID *int64     `json:"throttleProfileId,omitempty"`
	CreatedAt         time.Time  `json:"createdAt"`
	UpdatedAt         time.Time  `json:"updatedAt"`
}

func toConnectorDTO(c store.Connector) connectorDTO {
	return connectorDTO{
		ID:                c.ID,
		Type:              string(c.Type),
		Name:              c.Name,
		BaseURL:           c.BaseURL,
		HasAPIKey:         c.APIKeyCipher != "",
		Enabled:           c.Enabled,
		HealthStatus:      string(c.HealthStatus),
		LastHealthCheckAt: c.LastHealthCheckAt,
		LastSyncedAt:      c.LastSyncedAt,
		ThrottleProfileID: c.ThrottleProfileID,
		CreatedAt:         c.CreatedAt,
		UpdatedAt:         c.UpdatedAt,
	}
}

type connectorRequest struct {
	Type              string `json:"type"`
	Name              string `json:"name"`
	BaseURL           string `json:"baseUrl"`
	APIKey            string `json:"apiKey"`
	Enabled           *bool  `json:"enabled"`
	ThrottleProfileID *int64 `json:"throttleProfileId"`
}

func (s *Server) handleConnectorList(w http.ResponseWriter, r *http.Request) {
	conns, err := s.store.ListConnectors(r.Context())
	if err != nil {
		respondStoreError(w, err)
		return
	}
	out := make([]connectorDTO, 0, len(conns))
	for _, c := range conns {
		out = append(out, toConnectorDTO(c))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleConnectorGet(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	c, err := s.store.GetConnector(r.Context(), id)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toConnectorDTO(c))
}

func (s *Server) handleConnectorCreate(w http.ResponseWriter, r *http.Request) {
	var req connectorRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.APIKey == "" {
		respondError(w, http.StatusBadRequest, "apiKey is required")
		return
	}

	baseURL, err := netutil.NormalizeBaseURL(req.BaseURL)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	cipherText, err := s.cipher.Encrypt(req.APIKey)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to encrypt API key")
		return
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	c, err := s.store.CreateConnector(r.Context(), store.Connector{
		Type:              connector.Type(req.Type),
		Name:              req.Name,
		BaseURL:           baseURL,
		APIKeyCipher:      cipherText,
		Enabled:           enabled,
		ThrottleProfileID: req.ThrottleProfileID,
	})
	if err != nil {
		respondStoreError(w, err)
		return
	}

	logger := log.WithComponentFromContext(r.Context(), "api")
	logger.Info().
		Str("event", "connector.created").
		Int64("connector_id", c.ID).
		Str("type", string(c.Type)).
		Str("name", c.Name).
		Msg("connector created")
	writeJSON(w, http.StatusCreated, toConnectorDTO(c))
}

func (s *Server) handleConnectorUpdate(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req connectorRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	existing, err := s.store.GetConnector(r.Context(), id)
	if err != nil {
		respondStoreError(w, err)
		return
	}

	baseURL, err := netutil.NormalizeBaseURL(req.BaseURL)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	// An empty apiKey keeps the stored credential.
	cipherText := existing.APIKeyCipher
	if req.APIKey != "" {
		cipherText, err = s.cipher.Encrypt(req.APIKey)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "failed to encrypt API key")
			return
		}
	}

	enabled := existing.Enabled
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	typ := existing.Type
	if req.Type != "" {
		typ = connector.Type(req.Type)
	}

	c, err := s.store.UpdateConnector(r.Context(), store.Connector{
		ID:                id,
		Type:              typ,
		Name:              req.Name,
		BaseURL:           baseURL,
		APIKeyCipher:      cipherText,
		Enabled:           enabled,
		ThrottleProfileID: req.ThrottleProfileID,
	})
	if err != nil {
		respondStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toConnectorDTO(c))
}

func (s *Server) handleConnectorDelete(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.store.DeleteConnector(r.Context(), id); err != nil {
		respondStoreError(w, err)
		return
	}
	s.governor.Forget(id)
	// Schedules bound to the connector cascaded away with it.
	s.refreshSchedules(r.Context())

	logger := log.WithComponentFromContext(r.Context(), "api")
	logger.Info().
		Str("event", "connector.deleted").
		Int64("connector_id", id).
		Msg("connector deleted")
	respondOK(w, nil)
}

type connectorTestRequest struct {
	BaseURL string `json:"baseUrl"`
	APIKey  string `json:"apiKey"`
}

type connectorTestResponse struct {
	Success bool   `json:"success"`
	Type    string `json:"type,omitempty"`
	Name    string `json:"name,omitempty"`
	Version string `json:"version,omitempty"`
	Error   string `json:"error,omitempty"`
}

// handleConnectorTest probes a candidate configuration without persisting
// anything: detect the application type, then confirm the key works.
func (s *Server) handleConnectorTest(w http.ResponseWriter, r *http.Request) {
	var req connectorTestRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	baseURL, err := netutil.NormalizeBaseURL(req.BaseURL)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	typ, status, err := connector.DetectType(r.Context(), baseURL, req.APIKey,
		connector.WithTimeout(10*time.Second))
	if err != nil {
		logger := log.WithComponentFromContext(r.Context(), "api")
		logger.Warn().Err(err).
			Str("event", "connector.test_failed").
			Str("base_url", baseURL).
			Msg("connector test failed")
		writeJSON(w, http.StatusOK, connectorTestResponse{Success: false, Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, connectorTestResponse{
		Success: true,
		Type:    string(typ),
		Name:    status.InstanceName,
		Version: status.Version,
	})
}

type sweepRequest struct {
	Mode string `json:"mode"`
}

// handleConnectorSweep starts a manual sweep of one connector. The sweep runs
// in the background; the response carries the correlation ID for follow-up in
// the activity log.
func (s *Server) handleConnectorSweep(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if _, err := s.store.GetConnector(r.Context(), id); err != nil {
		respondStoreError(w, err)
		return
	}

	var req sweepRequest
	if r.ContentLength > 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	mode := store.SweepIncremental
	switch req.Mode {
	case "", string(store.SweepIncremental):
	case string(store.SweepFull):
		mode = store.SweepFull
	default:
		respondError(w, http.StatusBadRequest, "mode must be incremental or full_reconciliation")
		return
	}

	if _, loaded := s.manualSweeps.LoadOrStore(id, struct{}{}); loaded {
		respondError(w, http.StatusConflict, "a manual sweep for this connector is already running")
		return
	}

	corrID := log.CorrelationIDFromContext(r.Context())
	if corrID == "" {
		corrID = uuid.NewString()
	}
	ctx := log.ContextWithCorrelationID(s.base, corrID)
	ctx = log.ContextWithSource(ctx, log.SourceManual)

	go func() {
		defer s.manualSweeps.Delete(id)
		connID := id
		if _, err := s.runner.Run(ctx, sweep.Request{
			Source:      log.SourceManual,
			Mode:        mode,
			ConnectorID: &connID,
		}); err != nil {
			logger := log.WithComponentFromContext(ctx, "api")
			logger.Warn().Err(err).
				Str("event", "api.manual_sweep_failed").
				Int64("connector_id", connID).
				Msg("manual sweep failed")
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]any{
		"success":       true,
		"correlationId": corrID,
	})
}

// handleConnectorReconnect runs a manual health probe, bypassing the backoff
// schedule (but not a user pause). A failed probe is an outcome, not a
// request error: the response reports the resulting health status either way.
func (s *Server) handleConnectorReconnect(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	probeErr := s.supervisor.Probe(r.Context(), id)
	switch {
	case errors.Is(probeErr, store.ErrNotFound):
		respondError(w, http.StatusNotFound, "not found")
		return
	case errors.Is(probeErr, reconnect.ErrPaused):
		respondError(w, http.StatusConflict, "reconnect attempts are paused for this connector")
		return
	}

	c, err := s.store.GetConnector(r.Context(), id)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	extra := map[string]any{
		"reachable":    probeErr == nil,
		"healthStatus": string(c.HealthStatus),
	}
	if probeErr != nil {
		extra["detail"] = probeErr.Error()
	}
	respondOK(w, extra)
}

// handleThrottleResume lifts a governor pause ahead of its expiry.
func (s *Server) handleThrottleResume(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if _, err := s.store.GetConnector(r.Context(), id); err != nil {
		respondStoreError(w, err)
		return
	}

	resumed := s.governor.Resume(id)
	if resumed {
		logger := log.WithComponentFromContext(r.Context(), "api")
		// Persist the lifted pause so a restart does not resurrect it.
		if err := s.store.UpsertThrottleState(r.Context(), s.governor.Snapshot(id)); err != nil {
			logger.Warn().Err(err).
				Str("event", "api.throttle_persist_failed").
				Int64("connector_id", id).
				Msg("failed to persist resumed throttle state")
		}
		logger.Info().
			Str("event", "throttle.resumed").
			Int64("connector_id", id).
			Msg("throttle pause lifted by user")
	}
	respondOK(w, map[string]any{"resumed": resumed})
}

type throttleStateDTO struct {
	ConnectorID        int64      `json:"connectorId"`
	RequestsThisMinute int        `json:"requestsThisMinute"`
	RequestsToday      int        `json:"requestsToday"`
	IsPaused           bool       `json:"isPaused"`
	PausedUntil        *time.Time `json:"pausedUntil,omitempty"`
	PauseReason        string     `json:"pauseReason,omitempty"`
	LastBatchAt        *time.Time `json:"lastBatchAt,omitempty"`
}

// handleThrottleState reports the live governor state for one connector.
func (s *Server) handleThrottleState(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if _, err := s.store.GetConnector(r.Context(), id); err != nil {
		respondStoreError(w, err)
		return
	}
	st := s.governor.Snapshot(id)
	writeJSON(w, http.StatusOK, throttleStateDTO{
		ConnectorID:        st.ConnectorID,
		RequestsThisMinute: st.RequestsThisMinute,
		RequestsToday:      st.RequestsToday,
		IsPaused:           st.IsPaused,
		PausedUntil:        st.PausedUntil,
		PauseReason:        st.PauseReason,
		LastBatchAt:        st.LastBatchAt,
	})
}

type trendPoint struct {
	CapturedAt      time.Time `json:"capturedAt"`
	MonitoredCount  int       `json:"monitoredCount"`
	DownloadedCount int       `json:"downloadedCount"`
	PercentBps      int       `json:"percentBps"`
}

// handleConnectorTrend returns the completion snapshot series for trend
// display. Window defaults to 30 days, the snapshot retention bound.
func (s *Server) handleConnectorTrend(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if _, err := s.store.GetConnector(r.Context(), id); err != nil {
		respondStoreError(w, err)
		return
	}

	days := queryInt(r, "days", 30)
	if days < 1 || days > 30 {
		days = 30
	}
	since := time.Now().UTC().AddDate(0, 0, -days)

	snaps, err := s.store.ListSnapshots(r.Context(), id, since)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	out := make([]trendPoint, 0, len(snaps))
	for _, sn := range snaps {
		out = append(out, trendPoint{
			CapturedAt:      sn.CapturedAt,
			MonitoredCount:  sn.MonitoredCount,
			DownloadedCount: sn.DownloadedCount,
			PercentBps:      sn.PercentBps,
		})
	}
	writeJSON(w, http.StatusOK, out)
}
