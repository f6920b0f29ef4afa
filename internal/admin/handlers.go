// Recommandation System - Multi-client TCP recommendation server
// Copyright 2026 InputOutputStream
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/InputOutputStream/recommandation-system

package admin

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/InputOutputStream/recommandation-system/internal/journal"
	"github.com/InputOutputStream/recommandation-system/internal/metrics"
	"github.com/InputOutputStream/recommandation-system/internal/ratings"
	"github.com/InputOutputStream/recommandation-system/internal/recommend"
	"github.com/InputOutputStream/recommandation-system/internal/recommend/algorithms"
	"github.com/InputOutputStream/recommandation-system/internal/session"
	"github.com/InputOutputStream/recommandation-system/internal/validation"
)

// HealthResponse is returned by /health.
type HealthResponse struct {
	Status   string  `json:"status"`
	Uptime   float64 `json:"uptime_seconds"`
	Sessions int     `json:"sessions"`
	Ratings  int     `json:"ratings"`
}

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	respondSuccess(w, r, HealthResponse{
		Status:   "ok",
		Uptime:   time.Since(h.started).Seconds(),
		Sessions: h.table.Count(),
		Ratings:  h.store.Stats().Ratings,
	})
}

// SessionStats summarizes the session table.
type SessionStats struct {
	Active   int `json:"active"`
	Capacity int `json:"capacity"`
}

// StatsResponse is returned by /api/v1/stats.
type StatsResponse struct {
	Store    ratings.Stats   `json:"store"`
	Engine   recommend.Stats `json:"engine"`
	Sessions SessionStats    `json:"sessions"`
	Journal  *journal.Stats  `json:"journal,omitempty"`
	Uptime   float64         `json:"uptime_seconds"`
}

// Stats reports store, engine, session and journal counters.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	resp := StatsResponse{
		Store:  h.store.Stats(),
		Engine: h.engine.Stats(),
		Sessions: SessionStats{
			Active:   h.table.Count(),
			Capacity: h.table.Capacity(),
		},
		Uptime: time.Since(h.started).Seconds(),
	}
	if h.journal != nil {
		st := h.journal.Stats()
		resp.Journal = &st
	}
	respondSuccess(w, r, resp)
}

// Sessions lists the admitted clients in slot order.
func (h *Handler) Sessions(w http.ResponseWriter, r *http.Request) {
	respondSuccess(w, r, h.table.Snapshot())
}

// DisconnectSession removes the session in slot {id}.
func (h *Handler) DisconnectSession(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil || id < 0 {
		respondError(w, r, http.StatusBadRequest, ErrCodeBadRequest, "session id must be a non-negative integer", nil)
		return
	}

	if err := h.table.Remove(id, session.ReasonRemoved); err != nil {
		if errors.Is(err, session.ErrNoSession) {
			respondError(w, r, http.StatusNotFound, ErrCodeNotFound, "no session with that id", nil)
			return
		}
		respondError(w, r, http.StatusInternalServerError, ErrCodeInternalError, "failed to remove session", err)
		return
	}

	h.logger.Info().Int("session_id", id).Msg("session removed via admin API")
	respondSuccess(w, r, map[string]int{"removed": id})
}

// BroadcastRequest is the body of POST /api/v1/sessions/broadcast.
type BroadcastRequest struct {
	Message string `json:"message" validate:"required,max=1024"`
}

// Broadcast writes a message line to every session.
func (h *Handler) Broadcast(w http.ResponseWriter, r *http.Request) {
	var req BroadcastRequest
	if err := h.decodeBody(w, r, &req); err != nil {
		respondError(w, r, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body", nil)
		return
	}
	if verr := validation.ValidateStruct(&req); verr != nil {
		respondValidationError(w, r, verr.Error(), verr.Fields())
		return
	}

	msg := req.Message
	if msg[len(msg)-1] != '\n' {
		msg += "\n"
	}
	delivered := h.table.Broadcast([]byte(msg))
	respondSuccess(w, r, map[string]int{"delivered": delivered})
}

// RatingInput is one rating in a POST /api/v1/ratings body.
type RatingInput struct {
	UserID     *int64   `json:"user_id" validate:"required,gte=0,lte=4294967295"`
	ItemID     *int64   `json:"item_id" validate:"required,gte=0,lte=4294967295"`
	CategoryID *int32   `json:"category_id,omitempty" validate:"omitempty,gte=-1"`
	Rating     *float64 `json:"rating" validate:"required,gte=0,lte=5"`
	Timestamp  float64  `json:"timestamp,omitempty"`
}

func (in *RatingInput) toRating() ratings.Rating {
	category := ratings.NoCategory
	if in.CategoryID != nil {
		category = *in.CategoryID
	}
	return ratings.Rating{
		UserID:     uint32(*in.UserID),
		ItemID:     uint32(*in.ItemID),
		CategoryID: category,
		Value:      *in.Rating,
		Timestamp:  in.Timestamp,
	}
}

// IngestResponse reports how many ratings were stored.
type IngestResponse struct {
	Accepted int `json:"accepted"`
	Skipped  int `json:"skipped"`
	Total    int `json:"total"`
}

// IngestRatings accepts a single rating object or an array of them.
// A single rating is all-or-nothing; an array loads every valid element
// until the store is full.
func (h *Handler) IngestRatings(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.cfg.MaxBodyBytes))
	if err != nil {
		respondError(w, r, http.StatusRequestEntityTooLarge, ErrCodeBadRequest, "request body too large", nil)
		return
	}

	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		h.ingestBatch(w, r, trimmed)
		return
	}

	var in RatingInput
	if err := json.Unmarshal(trimmed, &in); err != nil {
		respondError(w, r, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body", nil)
		return
	}
	if verr := validation.ValidateStruct(&in); verr != nil {
		metrics.RecordIngest("api", 0, 1)
		respondValidationError(w, r, verr.Error(), verr.Fields())
		return
	}

	if err := h.store.Add(in.toRating()); err != nil {
		metrics.RecordIngest("api", 0, 1)
		switch {
		case errors.Is(err, ratings.ErrStoreFull):
			respondError(w, r, http.StatusConflict, ErrCodeStoreFull, "rating store is full", nil)
		case errors.Is(err, ratings.ErrInvalidRating):
			respondValidationError(w, r, err.Error(), nil)
		default:
			respondError(w, r, http.StatusInternalServerError, ErrCodeInternalError, "failed to store rating", err)
		}
		return
	}

	metrics.RecordIngest("api", 1, 0)
	respondSuccess(w, r, IngestResponse{Accepted: 1, Total: h.store.Stats().Ratings})
}

func (h *Handler) ingestBatch(w http.ResponseWriter, r *http.Request, body []byte) {
	var inputs []RatingInput
	if err := json.Unmarshal(body, &inputs); err != nil {
		respondError(w, r, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body", nil)
		return
	}

	batch := make([]ratings.Rating, 0, len(inputs))
	invalid := 0
	for i := range inputs {
		if verr := validation.ValidateStruct(&inputs[i]); verr != nil {
			invalid++
			continue
		}
		batch = append(batch, inputs[i].toRating())
	}

	accepted := h.store.IngestBulk(batch)
	skipped := len(inputs) - accepted
	metrics.RecordIngest("api", accepted, skipped)

	h.logger.Info().
		Int("accepted", accepted).
		Int("skipped", skipped).
		Int("invalid", invalid).
		Msg("ratings ingested via admin API")

	respondSuccess(w, r, IngestResponse{
		Accepted: accepted,
		Skipped:  skipped,
		Total:    h.store.Stats().Ratings,
	})
}

// RecommendationsResponse is returned by /api/v1/recommendations.
type RecommendationsResponse struct {
	UserID    int                `json:"user_id"`
	Algorithm string             `json:"algorithm"`
	Results   []recommend.Result `json:"results"`
}

// Recommendations runs one request through the engine. Query parameters:
// user (required), algorithm (tag or name, default knn), k, n (default 10)
// and category.
func (h *Handler) Recommendations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	userID, err := strconv.Atoi(q.Get("user"))
	if err != nil {
		respondValidationError(w, r, "user must be an integer", []string{"user"})
		return
	}

	alg := recommend.AlgorithmKNN
	if s := q.Get("algorithm"); s != "" {
		var ok bool
		if alg, ok = recommend.ParseAlgorithmName(s); !ok {
			respondValidationError(w, r, "algorithm must be 1, 2, 3, knn, mf or graph", []string{"algorithm"})
			return
		}
	}

	k, okK := optionalInt(q.Get("k"), 0)
	n, okN := optionalInt(q.Get("n"), 10)
	if !okK || !okN {
		respondValidationError(w, r, "k and n must be integers", []string{"k", "n"})
		return
	}

	req := recommend.NewRequest(userID, alg, k, n)
	if s := q.Get("category"); s != "" {
		category, err := strconv.ParseInt(s, 10, 32)
		if err != nil {
			respondValidationError(w, r, "category must be a 32-bit integer", []string{"category"})
			return
		}
		req.CategoryFilter = int32(category)
	}
	if verr := validation.ValidateStruct(&req); verr != nil {
		respondValidationError(w, r, verr.Error(), verr.Fields())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.cfg.RequestTimeout)
	defer cancel()

	results, err := h.engine.Recommend(ctx, req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			respondError(w, r, http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "recommendation timed out", err)
			return
		}
		respondError(w, r, http.StatusInternalServerError, ErrCodeInternalError, "failed to compute recommendations", err)
		return
	}
	if results == nil {
		results = []recommend.Result{}
	}

	respondSuccess(w, r, RecommendationsResponse{
		UserID:    userID,
		Algorithm: alg.String(),
		Results:   results,
	})
}

// EvaluateModel reports the factorization model's training error.
func (h *Handler) EvaluateModel(w http.ResponseWriter, r *http.Request) {
	acc, err := h.engine.Evaluate(r.Context())
	if err != nil {
		if errors.Is(err, recommend.ErrNoModel) {
			respondError(w, r, http.StatusConflict, ErrCodeConflict, "no ratings to train on", nil)
			return
		}
		respondError(w, r, http.StatusInternalServerError, ErrCodeInternalError, "evaluation failed", err)
		return
	}
	respondSuccess(w, r, struct {
		algorithms.Accuracy
		Generation uint64 `json:"generation"`
	}{acc, h.store.Generation()})
}

// RefreshModel retrains the cached factorization model if it is stale.
func (h *Handler) RefreshModel(w http.ResponseWriter, r *http.Request) {
	trained, err := h.engine.RefreshModel(r.Context())
	if err != nil {
		respondError(w, r, http.StatusInternalServerError, ErrCodeInternalError, "model refresh failed", err)
		return
	}
	respondSuccess(w, r, map[string]bool{"trained": trained})
}

func (h *Handler) decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, h.cfg.MaxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		return err
	}
	return nil
}

// optionalInt parses s, returning def when s is empty.
func optionalInt(s string, def int) (int, bool) {
	if s == "" {
		return def, true
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return v, true
}
