// Reelguard - Protected Lesson Playback Sessions
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/reelguard

// Package api exposes the session API and the playback redirect endpoint over
// a chi router.
//
// Routes:
//
//	POST /api/v1/sessions                          start or resume a session
//	GET  /api/v1/sessions/{token}                  session snapshot
//	POST /api/v1/sessions/{token}/heartbeat        periodic client signals
//	POST /api/v1/sessions/{token}/events           discrete security event
//	GET  /api/v1/sessions/{token}/events           recorded security events
//	POST /api/v1/sessions/{token}/end              end the session
//	POST /api/v1/sessions/{token}/playback-token   issue a signed playback URL
//	GET  /play/{signed}                            redeem and redirect to origin
//	GET  /healthz, GET /metrics
//
// Every /api/v1 route requires a viewer bearer token. /play is
// unauthenticated; the signed token and its bindings stand in for identity.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/reelguard/internal/auth"
	"github.com/tomtom215/reelguard/internal/denial"
	"github.com/tomtom215/reelguard/internal/middleware"
	"github.com/tomtom215/reelguard/internal/ratelimit"
)

// RouterConfig holds the HTTP surface settings.
type RouterConfig struct {
	CORSOrigins []string
	// APIRateLimit is the coarse per-IP ceiling for /api/v1 per minute.
	// Zero disables it.
	APIRateLimit int
	Auth         *auth.Middleware
	Limiter      *ratelimit.Limiter
}

// NewRouter builds the chi router.
func NewRouter(h *Handler, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.PrometheusMetrics)
	r.Use(middleware.SecurityHeaders)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		WriteError(w, r, http.StatusNotFound, ErrCodeNotFound, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		WriteError(w, r, http.StatusMethodNotAllowed, ErrCodeMethodNotAllowed, "method not allowed")
	})

	r.Get("/healthz", h.Healthz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	clientKey := h.deps.ClientIP.ClientIP

	r.With(
		middleware.NoReferrer,
		cfg.Limiter.Middleware(ratelimit.ClassRedeem, clientKey, writeRateLimited),
	).Get("/play/{signed}", h.Play)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: cfg.CORSOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
			ExposedHeaders: []string{middleware.RequestIDHeader, "Retry-After", "X-RateLimit-Limit"},
			MaxAge:         300,
		}))
		if cfg.APIRateLimit > 0 {
			r.Use(httprate.Limit(cfg.APIRateLimit, time.Minute,
				httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
					return clientKey(r), nil
				}),
				httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
					WriteError(w, r, http.StatusTooManyRequests, ErrCodeTooManyRequests, "too many requests")
				}),
			))
		}
		r.Use(cfg.Auth.RequireViewer)

		r.Post("/sessions", h.StartSession)
		r.Route("/sessions/{token}", func(r chi.Router) {
			r.Get("/", h.GetSession)
			r.Post("/heartbeat", h.Heartbeat)
			r.Post("/events", h.RecordEvent)
			r.Get("/events", h.ListEvents)
			r.Post("/end", h.EndSession)
			r.With(cfg.Limiter.Middleware(ratelimit.ClassIssue, clientKey, writeRateLimited)).
				Post("/playback-token", h.IssuePlaybackToken)
		})
	})

	return r
}

// writeRateLimited writes the RATE_LIMITED denial for the endpoint limiter.
func writeRateLimited(w http.ResponseWriter, r *http.Request, d ratelimit.Decision) {
	NewResponseWriter(w, r).ErrorWithDetails(http.StatusTooManyRequests,
		denial.ErrRateLimited.Code, denial.ErrRateLimited.Message,
		map[string]any{
			"limit":       d.Limit,
			"retry_after": w.Header().Get("Retry-After"),
		})
}

// UnauthorizedJSON writes the 401 envelope for the auth middleware.
func UnauthorizedJSON(w http.ResponseWriter, r *http.Request) {
	NewResponseWriter(w, r).Unauthorized("a valid bearer token is required")
}
