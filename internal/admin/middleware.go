// Recommandation System - Multi-client TCP recommendation server
// Copyright 2026 InputOutputStream
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/InputOutputStream/recommandation-system

package admin

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"

	"github.com/InputOutputStream/recommandation-system/internal/logging"
	"github.com/InputOutputStream/recommandation-system/internal/metrics"
)

// correlationHeader carries the correlation id in both directions.
const correlationHeader = "X-Correlation-ID"

// CorrelationID reuses a client supplied X-Correlation-ID or generates one,
// stores it in the request context and echoes it in the response.
func CorrelationID() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(correlationHeader)
			if id == "" || len(id) > 64 {
				id = logging.GenerateCorrelationID()
			}

			ctx := logging.ContextWithCorrelationID(r.Context(), id)
			ctx = logging.ContextWithRemoteAddr(ctx, r.RemoteAddr)
			w.Header().Set(correlationHeader, id)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Metrics records request counts and latency per route pattern. Route
// patterns rather than raw paths keep label cardinality bounded.
func Metrics() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			route := "unmatched"
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				if pattern := rctx.RoutePattern(); pattern != "" {
					route = pattern
				}
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			metrics.RecordAPIRequest(r.Method, route, strconv.Itoa(status), time.Since(start))
		})
	}
}

// CORS builds the go-chi/cors handler for the configured origins.
func CORS(origins []string) func(http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", correlationHeader},
		ExposedHeaders:   []string{correlationHeader},
		AllowCredentials: false,
		MaxAge:           86400,
	})
}

// RateLimit limits requests per client IP. A non-positive limit disables it.
func RateLimit(requests int, window time.Duration) func(http.Handler) http.Handler {
	if requests <= 0 || window <= 0 {
		return func(next http.Handler) http.Handler {
			return next
		}
	}
	return httprate.Limit(
		requests,
		window,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			respondError(w, r, http.StatusTooManyRequests, "TOO_MANY_REQUESTS", "rate limit exceeded", nil)
		}),
	)
}
