// Recommandation System - Multi-client TCP recommendation server
// Copyright 2026 InputOutputStream
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/InputOutputStream/recommandation-system

package admin

import (
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/InputOutputStream/recommandation-system/internal/logging"
)

// APIResponse is the envelope for every JSON endpoint.
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *APIError   `json:"error,omitempty"`
	Meta    APIMeta     `json:"meta"`
}

// APIError describes a failed request.
type APIError struct {
	// Code is a machine-readable error code
	Code string `json:"code"`

	// Message is a human-readable error message
	Message string `json:"message"`

	// Details contains additional error details (optional)
	Details interface{} `json:"details,omitempty"`
}

// APIMeta carries response metadata.
type APIMeta struct {
	CorrelationID string    `json:"correlation_id,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// Error codes for API responses
const (
	ErrCodeBadRequest         = "BAD_REQUEST"
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodeConflict           = "CONFLICT"
	ErrCodeInternalError      = "INTERNAL_ERROR"
	ErrCodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	ErrCodeValidationFailed   = "VALIDATION_FAILED"
	ErrCodeStoreFull          = "STORE_FULL"
)

// respondJSON writes response with the given status.
func respondJSON(w http.ResponseWriter, r *http.Request, status int, response *APIResponse) {
	response.Meta.Timestamp = time.Now().UTC()
	response.Meta.CorrelationID = logging.CorrelationIDFromContext(r.Context())

	data, err := json.Marshal(response)
	if err != nil {
		logging.Error().Err(err).Msg("failed to marshal JSON response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		logging.Error().Err(err).Msg("failed to write JSON response")
	}
}

func respondSuccess(w http.ResponseWriter, r *http.Request, data interface{}) {
	respondJSON(w, r, http.StatusOK, &APIResponse{Success: true, Data: data})
}

// respondError writes an error envelope. err, when set, is logged but not
// returned to the client.
func respondError(w http.ResponseWriter, r *http.Request, status int, code, message string, err error) {
	if err != nil {
		logging.Ctx(r.Context()).Error().
			Str("code", code).
			Str("error", sanitizeLogValue(err.Error())).
			Msg("admin API error")
	}
	respondJSON(w, r, status, &APIResponse{
		Error: &APIError{Code: code, Message: message},
	})
}

func respondValidationError(w http.ResponseWriter, r *http.Request, message string, details interface{}) {
	respondJSON(w, r, http.StatusBadRequest, &APIResponse{
		Error: &APIError{Code: ErrCodeValidationFailed, Message: message, Details: details},
	})
}

// sanitizeLogValue strips line breaks so client input cannot forge log lines.
func sanitizeLogValue(s string) string {
	const maxLen = 200
	s = strings.NewReplacer("\n", " ", "\r", " ").Replace(s)
	if len(s) > maxLen {
		s = s[:maxLen] + "..."
	}
	return s
}
