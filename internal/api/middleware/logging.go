// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package middleware

import (
	"net/http"

	"github.com/felixge/httpsnoop"

	"github.com/ManuGH/tsplay/internal/log"
)

// Logging writes one access log line per request at debug level, or warn
// for server errors.
func Logging() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			m := httpsnoop.CaptureMetrics(next, w, r)

			logger := log.WithComponentFromContext(r.Context(), "http")
			ev := logger.Debug()
			if m.Code >= http.StatusInternalServerError {
				ev = logger.Warn()
			}
			ev.Str(log.FieldEvent, "http.request").
				Str("method", r.Method).
				Str(log.FieldPath, r.URL.Path).
				Int("status", m.Code).
				Int64("bytes", m.Written).
				Dur("duration", m.Duration).
				Str("remote_addr", r.RemoteAddr).
				Msg("request served")
		})
	}
}
