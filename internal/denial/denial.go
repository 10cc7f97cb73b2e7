// Reelguard - Protected Lesson Playback Sessions
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/reelguard

// Package denial defines the typed protocol errors returned when a viewer,
// session or playback token is refused.
//
// Each denial is a package-level sentinel created with New and compared with
// errors.Is. Callers that need the machine-readable code (the HTTP layer,
// audit logs, incident payloads) use errors.As or CodeOf.
//
//	if errors.Is(err, playback.ErrNonceAlreadyUsed) { ... }
//	code := denial.CodeOf(err) // "NONCE_ALREADY_USED"
package denial

import "errors"

// Category groups related denial codes.
type Category string

const (
	CategoryEntitlement Category = "entitlement"
	CategorySession     Category = "session"
	CategoryToken       Category = "token"
	CategoryNonce       Category = "nonce"
	CategoryBinding     Category = "binding"
	CategoryHotlink     Category = "hotlink"
	CategoryRateLimit   Category = "rate_limit"
	CategoryValidation  Category = "validation"
)

// Error is a protocol denial with a stable code.
type Error struct {
	Category Category
	Code     string
	Message  string
}

// New creates a denial sentinel.
func New(category Category, code, message string) *Error {
	return &Error{Category: category, Code: code, Message: message}
}

func (e *Error) Error() string {
	return e.Message
}

// As extracts the denial carried by err, if any.
func As(err error) (*Error, bool) {
	var d *Error
	if errors.As(err, &d) {
		return d, true
	}
	return nil, false
}

// CodeOf returns the denial code carried by err, or "" for non-denial errors.
func CodeOf(err error) string {
	if d, ok := As(err); ok {
		return d.Code
	}
	return ""
}

// Shared denials used by more than one component.
var (
	ErrHotlinkDenied = New(CategoryHotlink, "HOTLINK_DENIED", "referrer is not allowed to embed this content")
	ErrRateLimited   = New(CategoryRateLimit, "RATE_LIMITED", "too many requests")
)
