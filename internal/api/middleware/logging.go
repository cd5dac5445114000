// SPDX-License-Identifier: MIT

package middleware

import (
	"net/http"
	"time"

	"github.com/comradarr/comradarr/internal/log"
)

// RequestLogger emits one structured access-log line per request after the
// handler returns, carrying method, route, status, size and latency.
func RequestLogger() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			lw := &loggingWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(lw, r)

			logger := log.WithComponentFromContext(r.Context(), "http")
			evt := logger.Info()
			if lw.statusCode >= http.StatusInternalServerError {
				evt = logger.Error()
			} else if lw.statusCode >= http.StatusBadRequest {
				evt = logger.Warn()
			}
			evt.
				Str("event", "http.request").
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Str("client_ip", ClientIP(r)).
				Int("status", lw.statusCode).
				Int("bytes", lw.bytesWritten).
				Dur("took", time.Since(start)).
				Msg("request served")
		})
	}
}

type loggingWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int
	written      bool
}

func (lw *loggingWriter) WriteHeader(statusCode int) {
	if !lw.written {
		lw.statusCode = statusCode
		lw.written = true
	}
	lw.ResponseWriter.WriteHeader(statusCode)
}

func (lw *loggingWriter) Write(b []byte) (int, error) {
	if !lw.written {
		lw.WriteHeader(http.StatusOK)
	}
	n, err := lw.ResponseWriter.Write(b)
	lw.bytesWritten += n
	return n, err
}
