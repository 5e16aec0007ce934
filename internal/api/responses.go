// Watchtower - Runtime Threat Detection and Automated Mitigation
// Copyright 2026 Corvexa Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/corvexa/watchtower

package api

import (
	"errors"
	"net/http"

	json "github.com/goccy/go-json"

	"github.com/corvexa/watchtower/internal/logging"
	"github.com/corvexa/watchtower/internal/security"
)

// APIResponse is the envelope for every JSON response.
type APIResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")

	body, err := json.Marshal(&APIResponse{Success: true, Data: data})
	if err != nil {
		logging.Error().Err(err).Msg("Failed to marshal JSON response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.WriteHeader(status)
	if _, err := w.Write(body); err != nil {
		logging.Error().Err(err).Msg("Failed to write JSON response")
	}
}

func respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusForError(err)
	if status >= http.StatusInternalServerError {
		logger := logging.Ctx(r.Context())
		logger.Error().Err(err).
			Str("path", r.URL.Path).
			Msg("Request failed")
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	body, merr := json.Marshal(&APIResponse{Success: false, Error: err.Error()})
	if merr != nil {
		return
	}
	if _, werr := w.Write(body); werr != nil {
		logging.Error().Err(werr).Msg("Failed to write error response")
	}
}

// statusForError maps service sentinel errors to HTTP status codes.
func statusForError(err error) int {
	switch {
	case errors.Is(err, security.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, security.ErrNotInitialized):
		return http.StatusConflict
	case errors.Is(err, security.ErrAlreadyInitialized):
		return http.StatusConflict
	case errors.Is(err, security.ErrInvalidConfiguration):
		return http.StatusBadRequest
	case errors.Is(err, security.ErrThreatNotFound),
		errors.Is(err, security.ErrCircuitBreakerNotFound),
		errors.Is(err, security.ErrMetricsNotFound),
		errors.Is(err, security.ErrRecommendationNotFound),
		errors.Is(err, security.ErrIncidentNotFound):
		return http.StatusNotFound
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// errBadRequest wraps request decoding and parameter errors.
var errBadRequest = errors.New("bad request")
