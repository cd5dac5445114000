// SPDX-License-Identifier: MIT

package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/comradarr/comradarr/internal/api/middleware"
	"github.com/comradarr/comradarr/internal/auth"
	"github.com/comradarr/comradarr/internal/log"
	"github.com/comradarr/comradarr/internal/metrics"
	"github.com/comradarr/comradarr/internal/netutil"
	"github.com/comradarr/comradarr/internal/settings"
)

// authMiddleware enforces X-Api-Key authentication on the /api/v1 surface.
// A missing configured key fails closed. Repeated failures from one client IP
// trip the lockout; a locked client is rejected before the key is even read.
// In local_bypass mode, clients on loopback or private addresses skip the key
// check; anything routed in from outside still authenticates in full.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := middleware.ClientIP(r)

		if s.bridge != nil &&
			s.bridge.String(r.Context(), settings.KeyAuthMode) == settings.AuthModeLocalBypass &&
			netutil.IsLocalClient(ip) {
			next.ServeHTTP(w, r)
			return
		}

		logger := log.WithComponentFromContext(r.Context(), "auth")

		if s.cfg.APIKey == "" {
			logger.Error().Str("event", "auth.fail_closed").
				Msg("no API key configured, denying access")
			respondError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		if until, locked := s.lockout.Locked(ip); locked {
			metrics.RecordAuthFailure("locked_out")
			logger.Warn().Str("event", "auth.locked_out").
				Str("client_ip", ip).
				Time("locked_until", until).
				Msg("client locked out after repeated auth failures")
			w.Header().Set("Retry-After", strconv.Itoa(int(time.Until(until).Seconds())+1))
			respondError(w, http.StatusTooManyRequests, "too many failed authentication attempts")
			return
		}

		key := auth.ExtractKey(r, false)
		if key == "" {
			s.lockout.Fail(ip)
			metrics.RecordAuthFailure("missing_key")
			logger.Warn().Str("event", "auth.missing_key").
				Str("client_ip", ip).
				Msg("request without API key")
			respondError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		if !auth.VerifyKey(key, s.cfg.APIKey) {
			s.lockout.Fail(ip)
			metrics.RecordAuthFailure("bad_key")
			logger.Warn().Str("event", "auth.bad_key").
				Str("client_ip", ip).
				Msg("invalid API key")
			respondError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		s.lockout.Succeed(ip)
		next.ServeHTTP(w, r)
	})
}
