// Reelguard - Protected Lesson Playback Sessions
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/reelguard

package logging

import (
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

// AuditEvent is a security-relevant occurrence written to the audit log.
type AuditEvent struct {
	// Event names what happened, e.g. "session_started", "redeem_denied".
	Event string
	// SessionToken is the raw session token; it is masked before logging.
	SessionToken string
	SessionID    string
	UserID       string
	ContentID    string
	IPAddress    string
	// UserAgent is truncated to 100 characters.
	UserAgent string
	Success   bool
	// Reason is the machine-readable denial code for failed operations.
	Reason  string
	Details map[string]string
}

// SecurityLogger writes audit lines for the playback protocol.
// Tokens and identifiers are masked before they reach the log sink.
type SecurityLogger struct {
	logger zerolog.Logger
}

// NewSecurityLogger creates a security logger on top of the global logger.
func NewSecurityLogger() *SecurityLogger {
	return &SecurityLogger{logger: With().Str("component", "security").Logger()}
}

// NewSecurityLoggerWithLogger creates a security logger with a custom zerolog logger.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func NewSecurityLoggerWithLogger(logger zerolog.Logger) *SecurityLogger {
	return &SecurityLogger{logger: logger.With().Str("component", "security").Logger()}
}

// LogEvent writes an audit event. Failed events are logged at warn level.
func (l *SecurityLogger) LogEvent(event *AuditEvent) {
	var e *zerolog.Event
	if event.Success {
		e = l.logger.Info().Str("status", "success")
	} else {
		e = l.logger.Warn().Str("status", "denied")
	}
	e = e.Str("event", event.Event)

	if event.SessionToken != "" {
		e = e.Str("session_token", SanitizeToken(event.SessionToken))
	}
	if event.SessionID != "" {
		e = e.Str("session_id", event.SessionID)
	}
	if event.UserID != "" {
		e = e.Str("user_id", SanitizeUserID(event.UserID))
	}
	if event.ContentID != "" {
		e = e.Str("content_id", event.ContentID)
	}
	if event.IPAddress != "" {
		e = e.Str("ip", event.IPAddress)
	}
	if event.UserAgent != "" {
		e = e.Str("user_agent", truncateString(event.UserAgent, 100))
	}
	if event.Reason != "" {
		e = e.Str("reason", event.Reason)
	}
	for k, v := range event.Details {
		e = e.Str(k, SanitizeValue(k, v))
	}
	e.Msg("")
}

// LogSessionStarted records a new or resumed viewing session.
func (l *SecurityLogger) LogSessionStarted(sessionID, userID, contentID string, resumed bool) {
	event := "session_started"
	if resumed {
		event = "session_resumed"
	}
	l.LogEvent(&AuditEvent{
		Event:     event,
		SessionID: sessionID,
		UserID:    userID,
		ContentID: contentID,
		Success:   true,
	})
}

// LogSessionBlocked records a transition to the blocked state.
func (l *SecurityLogger) LogSessionBlocked(sessionID, userID, reason string, riskScore int) {
	l.LogEvent(&AuditEvent{
		Event:     "session_blocked",
		SessionID: sessionID,
		UserID:    userID,
		Success:   true,
		Reason:    reason,
		Details:   map[string]string{"risk_score": strconv.Itoa(riskScore)},
	})
}

// LogTokenIssued records issuance of a playback token.
func (l *SecurityLogger) LogTokenIssued(sessionID, userID, ip string) {
	l.LogEvent(&AuditEvent{
		Event:     "playback_token_issued",
		SessionID: sessionID,
		UserID:    userID,
		IPAddress: ip,
		Success:   true,
	})
}

// LogRedeemDenied records a rejected playback token redemption.
func (l *SecurityLogger) LogRedeemDenied(sessionID, reason, ip, userAgent string) {
	l.LogEvent(&AuditEvent{
		Event:     "redeem_denied",
		SessionID: sessionID,
		IPAddress: ip,
		UserAgent: userAgent,
		Reason:    reason,
	})
}

// LogRedeemed records a successful redemption.
func (l *SecurityLogger) LogRedeemed(sessionID, contentID, ip string) {
	l.LogEvent(&AuditEvent{
		Event:     "redeemed",
		SessionID: sessionID,
		ContentID: contentID,
		IPAddress: ip,
		Success:   true,
	})
}

// SanitizeToken masks a token, showing only the first and last 4 characters.
func SanitizeToken(token string) string {
	if token == "" {
		return ""
	}
	if len(token) <= 12 {
		return "***"
	}
	return token[:4] + "..." + token[len(token)-4:]
}

// SanitizeUserID masks a user ID. IDs of 8 characters or fewer are fully masked.
func SanitizeUserID(userID string) string {
	if userID == "" {
		return ""
	}
	if len(userID) <= 8 {
		return "***"
	}
	return userID[:4] + "..." + userID[len(userID)-4:]
}

// SanitizeValue masks a value when its key names a credential.
func SanitizeValue(key, value string) string {
	switch strings.ToLower(key) {
	case "token", "session_token", "playback_token", "secret", "cookie",
		"device_cookie", "authorization", "nonce":
		return SanitizeToken(value)
	}
	return value
}

func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
