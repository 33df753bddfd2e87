// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/ManuGH/tsplay/internal/engine"
	"github.com/ManuGH/tsplay/internal/log"
	"github.com/ManuGH/tsplay/internal/player"
	"github.com/ManuGH/tsplay/internal/playlist"
	"github.com/ManuGH/tsplay/internal/speed"
)

// errBadRequest marks malformed request bodies and parameters.
var errBadRequest = errors.New("bad request")

// maxBody bounds JSON and M3U uploads.
const maxBody = 1 << 20

// ErrorResponse is the body of every non-2xx answer.
type ErrorResponse struct {
	Error     string `json:"error"`
	Detail    string `json:"detail,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-API-Version", "1")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// classify maps controller errors to a status and a stable error code.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, engine.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, engine.ErrFormat):
		return http.StatusUnprocessableEntity, "format"
	case errors.Is(err, speed.ErrUnknownStretch):
		return http.StatusBadRequest, "unknown_stretch"
	case errors.Is(err, playlist.ErrOutOfRange):
		return http.StatusBadRequest, "out_of_range"
	case errors.Is(err, engine.ErrNotOpen):
		return http.StatusConflict, "not_open"
	case errors.Is(err, engine.ErrAlreadyOpen):
		return http.StatusConflict, "already_open"
	case errors.Is(err, player.ErrNoChapter):
		return http.StatusConflict, "no_chapter"
	case errors.Is(err, player.ErrPlaylistEnd):
		return http.StatusConflict, "playlist_end"
	case errors.Is(err, engine.ErrIO):
		return http.StatusBadGateway, "io"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code, kind := classify(err)
	reqID := log.RequestIDFromContext(r.Context())
	if code >= http.StatusInternalServerError {
		logger := log.WithContext(r.Context(), h.logger)
		logger.Error().Err(err).Str(log.FieldEvent, "api.command_failed").Str(log.FieldPath, r.URL.Path).Msg("command failed")
	}
	writeJSON(w, code, ErrorResponse{Error: kind, Detail: err.Error(), RequestID: reqID})
}

// decode reads a JSON body strictly. An empty body leaves v untouched.
func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}
