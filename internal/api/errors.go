// Reelguard - Protected Lesson Playback Sessions
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/reelguard

package api

import (
	"errors"
	"net/http"

	"github.com/tomtom215/reelguard/internal/content"
	"github.com/tomtom215/reelguard/internal/denial"
	"github.com/tomtom215/reelguard/internal/logging"
	"github.com/tomtom215/reelguard/internal/session"
)

// statusForDenial maps a protocol denial to its HTTP status. Denials are
// always 4xx.
func statusForDenial(d *denial.Error) int {
	switch {
	case errors.Is(d, content.ErrContentNotFound), errors.Is(d, session.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(d, session.ErrSessionExpired):
		return http.StatusGone
	case errors.Is(d, session.ErrSessionNotActive):
		return http.StatusConflict
	}

	switch d.Category {
	case denial.CategoryValidation:
		return http.StatusBadRequest
	case denial.CategoryRateLimit:
		return http.StatusTooManyRequests
	default:
		return http.StatusForbidden
	}
}

// writeServiceError writes err as a denial response when it carries a
// denial code and as an opaque 500 otherwise. details is attached to denials.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error, details any) {
	rw := NewResponseWriter(w, r)
	if d, ok := denial.As(err); ok {
		rw.ErrorWithDetails(statusForDenial(d), d.Code, d.Message, details)
		return
	}

	logging.Ctx(r.Context()).Error().Err(err).
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Msg("Request failed")
	rw.InternalError("An internal error occurred")
}
