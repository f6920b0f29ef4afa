// Recommandation System - Multi-client TCP recommendation server
// Copyright 2026 InputOutputStream
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/InputOutputStream/recommandation-system

// Package metrics exposes Prometheus instrumentation for the recommendation
// server: connection churn, request outcomes per algorithm, rating ingest,
// model training and the admin API.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Session Metrics
	SessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "recoserver_sessions_active",
			Help: "Current number of admitted client sessions",
		},
	)

	ConnectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recoserver_connections_total",
			Help: "Total number of client connections by admission result",
		},
		[]string{"transport", "result"}, // transport: "tcp", "websocket"; result: "accepted", "rejected"
	)

	SessionsClosed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recoserver_sessions_closed_total",
			Help: "Total number of sessions removed from the table by reason",
		},
		[]string{"reason"}, // "peer_closed", "idle_timeout", "read_error", "write_error", "shutdown"
	)

	// Request Metrics
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recoserver_requests_total",
			Help: "Total number of recommendation requests by algorithm and outcome",
		},
		[]string{"algorithm", "status"}, // status: "ok", "empty", "invalid", "rate_limited", "error"
	)

	RecommendDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "recoserver_recommend_duration_seconds",
			Help:    "Time spent computing recommendations, including snapshot lock wait",
			Buckets: []float64{.0005, .001, .005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"algorithm"},
	)

	// Rating Store Metrics
	RatingsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recoserver_ratings_ingested_total",
			Help: "Total number of ratings accepted into the store by source",
		},
		[]string{"source"}, // "seed", "api", "journal", "client"
	)

	RatingsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recoserver_ratings_skipped_total",
			Help: "Total number of ratings rejected during ingest by source",
		},
		[]string{"source"},
	)

	StoreRatings = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "recoserver_store_ratings",
			Help: "Number of ratings held in the store",
		},
	)

	StoreUsers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "recoserver_store_users",
			Help: "User dimension of the rating matrix",
		},
	)

	StoreItems = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "recoserver_store_items",
			Help: "Item dimension of the rating matrix",
		},
	)

	// Model Metrics
	MFTrainingsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "recoserver_mf_trainings_total",
			Help: "Total number of matrix factorization training runs",
		},
	)

	MFTrainDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "recoserver_mf_train_duration_seconds",
			Help:    "Duration of matrix factorization training runs",
			Buckets: prometheus.DefBuckets,
		},
	)

	MFModelCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "recoserver_mf_model_cache_hits_total",
			Help: "Total number of requests served by a cached factorization model",
		},
	)

	MFModelCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "recoserver_mf_model_cache_misses_total",
			Help: "Total number of requests that had to train a factorization model",
		},
	)

	PageRankIterations = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "recoserver_pagerank_iterations",
			Help:    "Number of power iterations until PageRank converged or hit the cap",
			Buckets: []float64{1, 2, 5, 10, 20, 30, 40, 50},
		},
	)

	PageRankRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recoserver_pagerank_runs_total",
			Help: "Total number of PageRank runs by convergence outcome",
		},
		[]string{"converged"}, // "true", "false"
	)

	// Ingest Event Metrics
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recoserver_events_published_total",
			Help: "Total number of ingest events published by status",
		},
		[]string{"status"}, // "ok", "error"
	)

	EventsHandled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recoserver_events_handled_total",
			Help: "Total number of ingest events handled per subscriber by status",
		},
		[]string{"subscriber", "status"}, // status: "ok", "error", "decode_error"
	)

	// Journal Metrics
	JournalWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recoserver_journal_writes_total",
			Help: "Total number of rating journal writes by status",
		},
		[]string{"status"}, // "ok", "error", "circuit_open"
	)

	// Admin API Metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recoserver_api_requests_total",
			Help: "Total number of admin API requests",
		},
		[]string{"method", "route", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "recoserver_api_request_duration_seconds",
			Help:    "Admin API request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)

// RecordConnection records the admission result of a new client connection.
func RecordConnection(transport string, accepted bool) {
	result := "accepted"
	if !accepted {
		result = "rejected"
	}
	ConnectionsTotal.WithLabelValues(transport, result).Inc()
}

// RecordSessionClosed records a session removal.
func RecordSessionClosed(reason string) {
	SessionsClosed.WithLabelValues(reason).Inc()
}

// RecordRequest records a recommendation request outcome and its latency.
// A zero duration is not observed (used for requests rejected before dispatch).
func RecordRequest(algorithm, status string, duration time.Duration) {
	RequestsTotal.WithLabelValues(algorithm, status).Inc()
	if duration > 0 {
		RecommendDuration.WithLabelValues(algorithm).Observe(duration.Seconds())
	}
}

// RecordIngest records the outcome of an ingest batch.
func RecordIngest(source string, loaded, skipped int) {
	if loaded > 0 {
		RatingsIngested.WithLabelValues(source).Add(float64(loaded))
	}
	if skipped > 0 {
		RatingsSkipped.WithLabelValues(source).Add(float64(skipped))
	}
}

// UpdateStoreGauges publishes the current store dimensions.
func UpdateStoreGauges(ratings, users, items int) {
	StoreRatings.Set(float64(ratings))
	StoreUsers.Set(float64(users))
	StoreItems.Set(float64(items))
}

// RecordMFTraining records a completed factorization training run.
func RecordMFTraining(duration time.Duration) {
	MFTrainingsTotal.Inc()
	MFTrainDuration.Observe(duration.Seconds())
}

// RecordMFCache records whether a factorization request hit the model cache.
func RecordMFCache(hit bool) {
	if hit {
		MFModelCacheHits.Inc()
	} else {
		MFModelCacheMisses.Inc()
	}
}

// RecordPageRankRun records the iteration count and convergence of a PageRank run.
func RecordPageRankRun(iterations int, converged bool) {
	PageRankIterations.Observe(float64(iterations))
	PageRankRuns.WithLabelValues(strconv.FormatBool(converged)).Inc()
}

// RecordEventHandled records the outcome of one subscriber handling one event.
func RecordEventHandled(subscriber, status string) {
	EventsHandled.WithLabelValues(subscriber, status).Inc()
}

// RecordAPIRequest records an admin API request metric.
func RecordAPIRequest(method, route, status string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, route, status).Inc()
	APIRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}
