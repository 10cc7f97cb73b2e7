// Reelguard - Protected Lesson Playback Sessions
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/reelguard

package session

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"maps"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/reelguard/internal/incident"
)

// Status is the lifecycle state of a viewing session.
type Status string

const (
	StatusActive  Status = "active"
	StatusBlocked Status = "blocked"
	StatusEnded   Status = "ended"
	StatusExpired Status = "expired"
)

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s != StatusActive
}

// Severity aliases the incident severity so events and incidents share one scale.
type Severity = incident.Severity

const (
	SeverityInfo     = incident.SeverityInfo
	SeverityWarning  = incident.SeverityWarning
	SeverityCritical = incident.SeverityCritical
)

// Action tells the player what to do after a heartbeat or event.
type Action string

const (
	ActionContinue Action = "continue"
	ActionBlock    Action = "block"
	ActionStop     Action = "stop"
)

// Session is one viewer watching one piece of content.
type Session struct {
	ID              string            `json:"id"`
	Token           string            `json:"session_token"`
	ContentID       string            `json:"content_id"`
	UserID          string            `json:"user_id"`
	Status          Status            `json:"status"`
	RiskScore       int               `json:"risk_score"`
	BlockReason     string            `json:"block_reason,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	LastHeartbeatAt time.Time         `json:"last_heartbeat_at"`
	ExpiresAt       time.Time         `json:"expires_at"`
	Metadata        map[string]string `json:"metadata,omitempty"`
	Nonces          *NonceLedger      `json:"nonces"`
}

// NewSession creates an Active session with a fresh 256-bit token.
func NewSession(userID, contentID string, now time.Time, ttl time.Duration, nonceCapacity int) (*Session, error) {
	token, err := generateToken()
	if err != nil {
		return nil, err
	}
	return &Session{
		ID:        uuid.NewString(),
		Token:     token,
		ContentID: contentID,
		UserID:    userID,
		Status:    StatusActive,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
		Metadata:  map[string]string{},
		Nonces:    NewNonceLedger(nonceCapacity),
	}, nil
}

// generateToken returns 32 random bytes, base64url encoded.
func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate session token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// CheckActive applies lazy expiry and reports whether the session may be used.
// It returns ErrSessionExpired once now reaches ExpiresAt (moving an Active
// session to Expired) and ErrSessionNotActive for blocked or ended sessions.
func (s *Session) CheckActive(now time.Time) error {
	if s.Status == StatusActive && !now.Before(s.ExpiresAt) {
		s.Status = StatusExpired
	}
	switch s.Status {
	case StatusActive:
		return nil
	case StatusExpired:
		return ErrSessionExpired
	default:
		return ErrSessionNotActive
	}
}

// Clone returns a deep copy.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.Metadata = maps.Clone(s.Metadata)
	c.Nonces = s.Nonces.Clone()
	return &c
}

// SecurityEvent is an append-only record of a risk signal, block or denial.
type SecurityEvent struct {
	ID         string         `json:"id"`
	SessionID  string         `json:"session_id"`
	EventType  EventType      `json:"event_type"`
	Severity   Severity       `json:"severity"`
	ScoreDelta int            `json:"score_delta"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// NewEvent builds a SecurityEvent for s.
func NewEvent(s *Session, eventType EventType, severity Severity, delta int, metadata map[string]any, now time.Time) *SecurityEvent {
	return &SecurityEvent{
		ID:         uuid.NewString(),
		SessionID:  s.ID,
		EventType:  eventType,
		Severity:   severity,
		ScoreDelta: delta,
		Metadata:   maps.Clone(metadata),
		CreatedAt:  now,
	}
}

// HeartbeatFlags are the client-reported environment signals.
// Nil visibility, focus and fullscreen flags are treated as true.
type HeartbeatFlags struct {
	IsVisible               *bool `json:"is_visible"`
	IsFocused               *bool `json:"is_focused"`
	IsFullscreen            *bool `json:"is_fullscreen"`
	DevtoolsOpen            bool  `json:"devtools_open"`
	RecorderSuspected       bool  `json:"recorder_suspected"`
	DisplayCaptureDetected  bool  `json:"display_capture_detected"`
	MultipleScreensDetected bool  `json:"multiple_screens_detected"`
}

// Signals returns the risk signals raised by the flags.
func (f HeartbeatFlags) Signals() []Signal {
	var out []Signal
	if isFalse(f.IsVisible) {
		out = append(out, SignalNotVisible)
	}
	if isFalse(f.IsFocused) {
		out = append(out, SignalNotFocused)
	}
	if isFalse(f.IsFullscreen) {
		out = append(out, SignalNotFullscreen)
	}
	if f.DevtoolsOpen {
		out = append(out, SignalDevtoolsOpen)
	}
	if f.RecorderSuspected {
		out = append(out, SignalRecorderSuspected)
	}
	if f.DisplayCaptureDetected {
		out = append(out, SignalDisplayCapture)
	}
	if f.MultipleScreensDetected {
		out = append(out, SignalMultipleScreens)
	}
	return out
}

func isFalse(b *bool) bool {
	return b != nil && !*b
}

// Outcome is the result of a heartbeat or discrete event.
type Outcome struct {
	Session *Session
	Action  Action
}
