// Reelguard - Protected Lesson Playback Sessions
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/reelguard

package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/reelguard/internal/content"
	"github.com/tomtom215/reelguard/internal/session"
	"github.com/tomtom215/reelguard/internal/validation"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 64 << 10

type startSessionRequest struct {
	ContentID string `json:"content_id" validate:"required,max=128"`
}

type heartbeatRequest struct {
	session.HeartbeatFlags
	Metadata map[string]any `json:"metadata,omitempty" validate:"omitempty,max=32"`
}

type eventRequest struct {
	EventType string         `json:"event_type" validate:"required,max=64"`
	Severity  string         `json:"severity,omitempty" validate:"omitempty,oneof=info warning critical"`
	Metadata  map[string]any `json:"metadata,omitempty" validate:"omitempty,max=32"`
}

type playbackTokenRequest struct {
	DeviceID string `json:"device_id" validate:"required,device_id"`
}

type contentView struct {
	ID               string `json:"id"`
	Title            string `json:"title"`
	OriginEmbedURL   string `json:"origin_embed_url,omitempty"`
	WatermarkEnabled bool   `json:"watermark_enabled"`
}

type startSessionResponse struct {
	SessionToken             string         `json:"session_token"`
	Status                   session.Status `json:"status"`
	RiskScore                int            `json:"risk_score"`
	ExpiresAt                time.Time      `json:"expires_at"`
	RiskThreshold            int            `json:"risk_threshold"`
	HeartbeatIntervalSeconds int            `json:"heartbeat_interval_seconds"`
	Resumed                  bool           `json:"resumed"`
	Content                  contentView    `json:"content"`
}

type riskResponse struct {
	Status        session.Status `json:"status"`
	RiskScore     int            `json:"risk_score"`
	BlockedReason string         `json:"blocked_reason,omitempty"`
	RiskThreshold int            `json:"risk_threshold"`
	Action        session.Action `json:"action"`
}

type sessionResponse struct {
	SessionToken    string         `json:"session_token"`
	ContentID       string         `json:"content_id"`
	Status          session.Status `json:"status"`
	RiskScore       int            `json:"risk_score"`
	BlockedReason   string         `json:"blocked_reason,omitempty"`
	RiskThreshold   int            `json:"risk_threshold"`
	CreatedAt       time.Time      `json:"created_at"`
	LastHeartbeatAt *time.Time     `json:"last_heartbeat_at,omitempty"`
	ExpiresAt       time.Time      `json:"expires_at"`
}

type endSessionResponse struct {
	Status    session.Status `json:"status"`
	RiskScore int            `json:"risk_score"`
}

func newContentView(c *content.Content) contentView {
	return contentView{
		ID:               c.ID,
		Title:            c.Title,
		OriginEmbedURL:   c.OriginEmbedURL,
		WatermarkEnabled: c.WatermarkEnabled,
	}
}

func newSessionResponse(s *session.Session, threshold int) sessionResponse {
	resp := sessionResponse{
		SessionToken:  s.Token,
		ContentID:     s.ContentID,
		Status:        s.Status,
		RiskScore:     s.RiskScore,
		BlockedReason: s.BlockReason,
		RiskThreshold: threshold,
		CreatedAt:     s.CreatedAt,
		ExpiresAt:     s.ExpiresAt,
	}
	if !s.LastHeartbeatAt.IsZero() {
		t := s.LastHeartbeatAt
		resp.LastHeartbeatAt = &t
	}
	return resp
}

func newRiskResponse(s *session.Session, action session.Action, threshold int) riskResponse {
	return riskResponse{
		Status:        s.Status,
		RiskScore:     s.RiskScore,
		BlockedReason: s.BlockReason,
		RiskThreshold: threshold,
		Action:        action,
	}
}

var errEmptyBody = errors.New("request body is required")

// decodeAndValidate decodes a JSON body into dst and validates it. On failure
// it writes the 400 response and returns false.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := decodeJSON(w, r, dst); err != nil {
		NewResponseWriter(w, r).BadRequest(err.Error())
		return false
	}
	if verr := validation.ValidateStruct(dst); verr != nil {
		apiErr := verr.ToAPIError()
		NewResponseWriter(w, r).ErrorWithDetails(http.StatusBadRequest, apiErr.Code, apiErr.Message, apiErr.Details)
		return false
	}
	return true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	defer body.Close()

	if err := json.NewDecoder(body).Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return fmt.Errorf("request body exceeds %d bytes", maxErr.Limit)
		}
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}
