// Recommandation System - Multi-client TCP recommendation server
// Copyright 2026 InputOutputStream
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/InputOutputStream/recommandation-system

package server

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/InputOutputStream/recommandation-system/internal/metrics"
	"github.com/InputOutputStream/recommandation-system/internal/recommend"
)

// Recommender produces recommendations for a parsed request.
// *recommend.Engine satisfies it.
type Recommender interface {
	Recommend(ctx context.Context, req recommend.Request) ([]recommend.Result, error)
}

// Responder turns request lines into reply text. The TCP workers and the
// websocket gateway share one.
type Responder struct {
	engine   Recommender
	defaultK int
	maxLen   int
	logger   zerolog.Logger
}

// NewResponder creates a responder. maxLen bounds every reply in bytes.
//
//nolint:gocritic // logger passed by value is acceptable for zerolog
func NewResponder(engine Recommender, defaultK, maxLen int, logger zerolog.Logger) *Responder {
	return &Responder{
		engine:   engine,
		defaultK: defaultK,
		maxLen:   maxLen,
		logger:   logger,
	}
}

// MaxMessageLength returns the reply size bound.
func (r *Responder) MaxMessageLength() int {
	return r.maxLen
}

// Respond parses line, runs the request and formats the reply. Malformed
// lines get InvalidFormatReply. Engine failures are logged and answered
// as an empty result.
func (r *Responder) Respond(ctx context.Context, line string) string {
	req, err := ParseRequest(line, r.defaultK)
	if err != nil {
		metrics.RecordRequest(recommend.AlgorithmUnknown.String(), "invalid", 0)
		r.logger.Debug().Err(err).Str("line", truncateForLog(line)).Msg("malformed request")
		return InvalidFormatReply + "\n"
	}

	results, err := r.engine.Recommend(ctx, req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			r.logger.Debug().Int("user_id", req.UserID).Msg("request canceled")
		} else {
			r.logger.Error().Err(err).Int("user_id", req.UserID).Msg("recommendation failed")
		}
		results = nil
	}

	return FormatResponse(req.UserID, results, r.maxLen)
}

// truncateForLog keeps client input in logs short.
func truncateForLog(s string) string {
	const maxLogged = 64
	if len(s) <= maxLogged {
		return s
	}
	return s[:maxLogged] + "..."
}
