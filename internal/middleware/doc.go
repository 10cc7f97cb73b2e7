// Reelguard - Protected Lesson Playback Sessions
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/reelguard

/*
Package middleware provides HTTP middleware shared by the session API and the
playback redirect endpoint.

Key Components:

  - Request ID: request and correlation IDs for log tracing
  - Prometheus Metrics: request count, latency and in-flight gauge, labeled by
    route pattern so session and playback tokens never become label values
  - Client IP: resolves the caller's address, honoring forwarding headers only
    from trusted proxies
  - Security Headers: nosniff, frame denial and no-store headers

Middleware Stack:

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.PrometheusMetrics)
	r.Use(middleware.SecurityHeaders)
*/
package middleware
