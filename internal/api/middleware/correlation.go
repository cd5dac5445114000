// SPDX-License-Identifier: MIT

package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/comradarr/comradarr/internal/log"
)

// HeaderCorrelationID is the inbound/outbound correlation header. Clients may
// supply their own ID; otherwise one is minted per request.
const HeaderCorrelationID = "X-Correlation-ID"

// Correlation tags every request with a correlation ID and source=http so
// downstream log lines and dispatched work can be traced back to the call.
func Correlation(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(HeaderCorrelationID)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(HeaderCorrelationID, id)

		ctx := log.ContextWithCorrelationID(r.Context(), id)
		ctx = log.ContextWithSource(ctx, log.SourceHTTP)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
