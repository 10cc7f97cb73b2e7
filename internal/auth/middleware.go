// Reelguard - Protected Lesson Playback Sessions
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/reelguard

// Package auth authenticates viewers of the session API with bearer JWTs
// issued by the platform's identity service.
package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/tomtom215/reelguard/internal/content"
	"github.com/tomtom215/reelguard/internal/logging"
)

type contextKey string

const viewerContextKey contextKey = "viewer"

// ContextWithViewer stores the authenticated viewer in ctx.
func ContextWithViewer(ctx context.Context, v content.Viewer) context.Context {
	return context.WithValue(ctx, viewerContextKey, v)
}

// ViewerFromContext returns the authenticated viewer, if any.
func ViewerFromContext(ctx context.Context) (content.Viewer, bool) {
	v, ok := ctx.Value(viewerContextKey).(content.Viewer)
	return v, ok
}

// UnauthorizedHandler writes the response for an unauthenticated request.
type UnauthorizedHandler func(w http.ResponseWriter, r *http.Request)

// Middleware requires a valid "Authorization: Bearer <jwt>" header.
type Middleware struct {
	jwt            *JWTManager
	onUnauthorized UnauthorizedHandler
}

// NewMiddleware creates the authentication middleware. onUnauthorized may be
// nil, in which case a plain 401 is written.
func NewMiddleware(jwt *JWTManager, onUnauthorized UnauthorizedHandler) *Middleware {
	if onUnauthorized == nil {
		onUnauthorized = func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
		}
	}
	return &Middleware{jwt: jwt, onUnauthorized: onUnauthorized}
}

// RequireViewer rejects requests without a valid bearer token and stores the
// viewer in the request context otherwise.
func (m *Middleware) RequireViewer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			w.Header().Set("WWW-Authenticate", `Bearer realm="reelguard"`)
			m.onUnauthorized(w, r)
			return
		}

		viewer, err := m.jwt.ValidateToken(token)
		if err != nil {
			logging.Ctx(r.Context()).Debug().Err(err).Msg("Bearer token rejected")
			w.Header().Set("WWW-Authenticate", `Bearer realm="reelguard", error="invalid_token"`)
			m.onUnauthorized(w, r)
			return
		}

		next.ServeHTTP(w, r.WithContext(ContextWithViewer(r.Context(), viewer)))
	})
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(h, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
