// Reelguard - Protected Lesson Playback Sessions
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/reelguard

package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/reelguard/internal/auth"
	"github.com/tomtom215/reelguard/internal/content"
	"github.com/tomtom215/reelguard/internal/middleware"
	"github.com/tomtom215/reelguard/internal/playback"
	"github.com/tomtom215/reelguard/internal/session"
)

// Deps are the services behind the HTTP surface.
type Deps struct {
	Gate     *session.Gate
	Engine   *session.Engine
	Issuer   *playback.Issuer
	Gateway  *playback.Gateway
	ClientIP *middleware.ClientIPResolver
	// DeviceCookie is the name of the device-binding cookie read on redemption.
	DeviceCookie string
	// HeartbeatInterval is advertised to players when a session starts.
	HeartbeatInterval time.Duration
	// Ready reports whether backing stores are usable. Optional.
	Ready func(ctx context.Context) error
}

// Handler implements the session API and the playback redirect endpoint.
type Handler struct {
	deps      Deps
	threshold int
	startTime time.Time
}

// NewHandler creates the HTTP handler set.
func NewHandler(deps Deps) *Handler {
	if deps.HeartbeatInterval <= 0 {
		deps.HeartbeatInterval = 15 * time.Second
	}
	return &Handler{
		deps:      deps,
		threshold: deps.Engine.Policy().RiskThreshold,
		startTime: time.Now(),
	}
}

// viewer returns the authenticated viewer. The auth middleware guarantees
// presence on every /api/v1 route.
func viewer(r *http.Request) content.Viewer {
	v, _ := auth.ViewerFromContext(r.Context())
	return v
}

// ownedSession resolves the session in the URL and hides sessions of other
// viewers behind SESSION_NOT_FOUND.
func (h *Handler) ownedSession(r *http.Request) (*session.Session, error) {
	sess, err := h.deps.Engine.Store().Get(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		return nil, err
	}
	if sess.UserID != viewer(r).ID {
		return nil, session.ErrSessionNotFound
	}
	return sess, nil
}

// StartSession handles POST /api/v1/sessions.
func (h *Handler) StartSession(w http.ResponseWriter, r *http.Request) {
	var req startSessionRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	res, err := h.deps.Gate.StartSession(r.Context(), viewer(r), req.ContentID)
	if err != nil {
		writeServiceError(w, r, err, nil)
		return
	}

	resp := startSessionResponse{
		SessionToken:             res.Session.Token,
		Status:                   res.Session.Status,
		RiskScore:                res.Session.RiskScore,
		ExpiresAt:                res.Session.ExpiresAt,
		RiskThreshold:            h.threshold,
		HeartbeatIntervalSeconds: int(h.deps.HeartbeatInterval / time.Second),
		Resumed:                  res.Resumed,
		Content:                  newContentView(res.Content),
	}

	rw := NewResponseWriter(w, r)
	if res.Resumed {
		rw.Success(resp)
		return
	}
	rw.Created(resp)
}

// GetSession handles GET /api/v1/sessions/{token}.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	if _, err := h.ownedSession(r); err != nil {
		writeServiceError(w, r, err, nil)
		return
	}

	sess, err := h.deps.Engine.GetStatus(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		writeServiceError(w, r, err, nil)
		return
	}
	WriteSuccess(w, r, newSessionResponse(sess, h.threshold))
}

// Heartbeat handles POST /api/v1/sessions/{token}/heartbeat.
func (h *Handler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	var req heartbeatRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	if _, err := h.ownedSession(r); err != nil {
		writeServiceError(w, r, err, nil)
		return
	}

	out, err := h.deps.Engine.Heartbeat(r.Context(), chi.URLParam(r, "token"), req.HeartbeatFlags, req.Metadata)
	h.writeOutcome(w, r, out, err)
}

// RecordEvent handles POST /api/v1/sessions/{token}/events.
func (h *Handler) RecordEvent(w http.ResponseWriter, r *http.Request) {
	var req eventRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	if _, err := h.ownedSession(r); err != nil {
		writeServiceError(w, r, err, nil)
		return
	}

	out, err := h.deps.Engine.RecordEvent(r.Context(), chi.URLParam(r, "token"),
		session.EventType(req.EventType), session.Severity(req.Severity), req.Metadata)
	h.writeOutcome(w, r, out, err)
}

// writeOutcome writes a heartbeat or event result. A denial on a terminal
// session still carries the session state and action=stop.
func (h *Handler) writeOutcome(w http.ResponseWriter, r *http.Request, out *session.Outcome, err error) {
	if err != nil {
		var details any
		if out != nil && out.Session != nil {
			details = newRiskResponse(out.Session, out.Action, h.threshold)
		}
		writeServiceError(w, r, err, details)
		return
	}
	WriteSuccess(w, r, newRiskResponse(out.Session, out.Action, h.threshold))
}

// EndSession handles POST /api/v1/sessions/{token}/end.
func (h *Handler) EndSession(w http.ResponseWriter, r *http.Request) {
	if _, err := h.ownedSession(r); err != nil {
		writeServiceError(w, r, err, nil)
		return
	}

	sess, err := h.deps.Engine.EndSession(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		writeServiceError(w, r, err, nil)
		return
	}
	WriteSuccess(w, r, endSessionResponse{Status: sess.Status, RiskScore: sess.RiskScore})
}

// ListEvents handles GET /api/v1/sessions/{token}/events.
func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	if _, err := h.ownedSession(r); err != nil {
		writeServiceError(w, r, err, nil)
		return
	}

	events, err := h.deps.Engine.ListEvents(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		writeServiceError(w, r, err, nil)
		return
	}
	if events == nil {
		events = []*session.SecurityEvent{}
	}
	NewResponseWriter(w, r).List(events, len(events))
}

// IssuePlaybackToken handles POST /api/v1/sessions/{token}/playback-token.
func (h *Handler) IssuePlaybackToken(w http.ResponseWriter, r *http.Request) {
	var req playbackTokenRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	grant, err := h.deps.Issuer.Issue(r.Context(), playback.IssueRequest{
		SessionToken: chi.URLParam(r, "token"),
		UserID:       viewer(r).ID,
		DeviceID:     req.DeviceID,
		IP:           h.deps.ClientIP.ClientIP(r),
		UserAgent:    r.UserAgent(),
	})
	if err != nil {
		writeServiceError(w, r, err, nil)
		return
	}

	if grant.Cookie != nil {
		http.SetCookie(w, grant.Cookie)
	}
	WriteSuccess(w, r, grant)
}

// Play handles GET /play/{signed}: it redeems a playback token and redirects
// to the content origin.
func (h *Handler) Play(w http.ResponseWriter, r *http.Request) {
	req := playback.RedeemRequest{
		Token:     chi.URLParam(r, "signed"),
		IP:        h.deps.ClientIP.ClientIP(r),
		UserAgent: r.UserAgent(),
		Referer:   r.Referer(),
	}
	if c, err := r.Cookie(h.deps.DeviceCookie); err == nil {
		req.DeviceCookie = c.Value
	}

	redirect, err := h.deps.Gateway.Redeem(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err, nil)
		return
	}
	http.Redirect(w, r, redirect.Location, http.StatusFound)
}

// Healthz handles GET /healthz.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	if h.deps.Ready != nil {
		if err := h.deps.Ready(r.Context()); err != nil {
			WriteError(w, r, http.StatusServiceUnavailable, ErrCodeUnavailable, err.Error())
			return
		}
	}
	WriteSuccess(w, r, map[string]any{
		"status":         "ok",
		"uptime_seconds": int64(time.Since(h.startTime).Seconds()),
	})
}
