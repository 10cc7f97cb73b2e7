// Reelguard - Protected Lesson Playback Sessions
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/reelguard

package session

import "github.com/tomtom215/reelguard/internal/denial"

// Session denials.
var (
	ErrSessionNotFound  = denial.New(denial.CategorySession, "SESSION_NOT_FOUND", "session not found")
	ErrSessionNotActive = denial.New(denial.CategorySession, "SESSION_NOT_ACTIVE", "session is not active")
	ErrSessionExpired   = denial.New(denial.CategorySession, "SESSION_EXPIRED", "session has expired")
)

// Nonce denials.
var (
	ErrNonceNotFound    = denial.New(denial.CategoryNonce, "NONCE_NOT_FOUND", "playback nonce not found")
	ErrNonceAlreadyUsed = denial.New(denial.CategoryNonce, "NONCE_ALREADY_USED", "playback nonce already used")
	ErrNonceExpired     = denial.New(denial.CategoryNonce, "NONCE_EXPIRED", "playback nonce expired")
)

// Validation denials.
var (
	ErrUnknownEventType = denial.New(denial.CategoryValidation, "UNKNOWN_EVENT_TYPE", "unknown security event type")
	ErrUnknownSeverity  = denial.New(denial.CategoryValidation, "UNKNOWN_SEVERITY", "unknown severity")
)
