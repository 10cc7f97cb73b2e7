// Reelguard - Protected Lesson Playback Sessions
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/reelguard

// Package metrics holds the Prometheus collectors for the playback protection service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// API Metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reelguard_api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "route", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "reelguard_api_request_duration_seconds",
			Help:    "Duration of API requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	APIActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "reelguard_api_active_requests",
			Help: "Number of API requests currently being served",
		},
	)

	// Session Metrics
	SessionsStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reelguard_sessions_started_total",
			Help: "Sessions created or resumed by the access gate",
		},
		[]string{"result"}, // "created", "resumed", "denied"
	)

	SessionBlocks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reelguard_session_blocks_total",
			Help: "Sessions transitioned to blocked",
		},
		[]string{"trigger"}, // "threshold", "hard_block"
	)

	RiskEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reelguard_risk_events_total",
			Help: "Security events recorded against sessions",
		},
		[]string{"event_type", "severity"},
	)

	// Token Metrics
	PlaybackTokensIssued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reelguard_playback_tokens_issued_total",
			Help: "Signed playback tokens issued",
		},
	)

	Redemptions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reelguard_redemptions_total",
			Help: "Playback token redemptions by outcome",
		},
		[]string{"outcome"}, // "success" or the denial code
	)

	RateLimitRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reelguard_rate_limit_rejections_total",
			Help: "Requests rejected by the endpoint rate limiter",
		},
		[]string{"class"},
	)

	RateLimitErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reelguard_rate_limit_store_errors_total",
			Help: "Counter store failures (request allowed through)",
		},
		[]string{"backend"},
	)

	StoreConflictRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reelguard_store_conflict_retries_total",
			Help: "Badger transaction conflicts retried",
		},
	)

	// Incident Metrics
	IncidentDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reelguard_incident_deliveries_total",
			Help: "Incident notifications by notifier and result",
		},
		[]string{"notifier", "result"}, // result: "sent", "failed", "suppressed"
	)

	// Circuit Breaker Metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker",
		},
		[]string{"name", "result"}, // result: "success", "failure", "rejected"
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_state_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"name", "from_state", "to_state"},
	)
)

// RecordAPIRequest records an API request metric.
func RecordAPIRequest(method, route, statusCode string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, route, statusCode).Inc()
	APIRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// TrackActiveRequest tracks in-flight API requests.
func TrackActiveRequest(inc bool) {
	if inc {
		APIActiveRequests.Inc()
	} else {
		APIActiveRequests.Dec()
	}
}

// RecordRedemption records the outcome of a redemption attempt.
// An empty code records a success.
func RecordRedemption(code string) {
	if code == "" {
		code = "success"
	}
	Redemptions.WithLabelValues(code).Inc()
}
