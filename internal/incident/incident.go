// Reelguard - Protected Lesson Playback Sessions
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/reelguard

// Package incident fans out high-severity playback security incidents to
// operators over best-effort channels (log, webhook, NATS).
//
// Notification never blocks or fails the request that produced it: the
// Dispatcher delivers on background goroutines and transport failures are
// logged and counted only.
package incident

import (
	"context"
	"time"
)

// Severity classifies a security event or incident.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	switch s {
	case SeverityInfo, SeverityWarning, SeverityCritical:
		return true
	}
	return false
}

// Incident types.
const (
	TypeSessionBlocked = "session_blocked"
	TypeHardBlock      = "hard_block"
	TypeRedeemDenied   = "redeem_denied"
)

// Incident is a notification-worthy occurrence tied to a viewing session.
type Incident struct {
	ID        string         `json:"id"`
	Type      string         `json:"incident_type"`
	Reason    string         `json:"reason"`
	Severity  Severity       `json:"severity"`
	SessionID string         `json:"session_id,omitempty"`
	UserID    string         `json:"user_id,omitempty"`
	ContentID string         `json:"content_id,omitempty"`
	RiskScore int            `json:"risk_score"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Notifier delivers incidents over a single channel.
type Notifier interface {
	// Send delivers the incident. Implementations may block until ctx is done.
	Send(ctx context.Context, inc *Incident) error

	// Name identifies the notifier in logs and metrics.
	Name() string

	// Enabled reports whether the notifier should receive incidents.
	Enabled() bool
}
