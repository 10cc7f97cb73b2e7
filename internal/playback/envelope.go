// Reelguard - Protected Lesson Playback Sessions
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/reelguard

package playback

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/tomtom215/reelguard/internal/denial"
)

// Token denials.
var (
	ErrTokenSignatureInvalid = denial.New(denial.CategoryToken, "TOKEN_SIGNATURE_INVALID", "playback token signature is invalid")
	ErrTokenSignatureExpired = denial.New(denial.CategoryToken, "TOKEN_SIGNATURE_EXPIRED", "playback token has expired")
	ErrTokenMalformed        = denial.New(denial.CategoryToken, "TOKEN_MALFORMED", "playback token is malformed")
)

// Claims is the signed playback envelope.
type Claims struct {
	SessionToken  string `json:"sid"`
	ContentID     string `json:"cid"`
	UserID        string `json:"uid"`
	DeviceHash    string `json:"dh"`
	IPHash        string `json:"ih,omitempty"`
	UserAgentHash string `json:"uh,omitempty"`
	Nonce         string `json:"n"`
	// IssuedAtMs is the issue time in Unix milliseconds. The registered iat
	// and exp claims only carry whole seconds.
	IssuedAtMs    int64  `json:"iat_ms,omitempty"`
	jwt.RegisteredClaims
}

// Signer mints and verifies playback envelopes (HS256 JWTs).
type Signer struct {
	key []byte
	ttl time.Duration
	now func() time.Time
}

// NewSigner creates a signer. Tokens expire ttl after issue.
func NewSigner(keys *Keys, ttl time.Duration, now func() time.Time) *Signer {
	if now == nil {
		now = time.Now
	}
	return &Signer{key: keys.signing, ttl: ttl, now: now}
}

// TTL returns the token lifetime.
func (s *Signer) TTL() time.Duration { return s.ttl }

// Sign stamps iat and exp on claims and returns the signed token.
func (s *Signer) Sign(claims *Claims, issuedAt time.Time) (string, error) {
	claims.IssuedAt = jwt.NewNumericDate(issuedAt)
	claims.ExpiresAt = jwt.NewNumericDate(issuedAt.Add(s.ttl))
	claims.IssuedAtMs = issuedAt.UnixMilli()

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("sign playback token: %w", err)
	}
	return signed, nil
}

// Verify checks the signature, then the expiry, and maps failures onto the
// token denials. A token is expired once now is strictly after issue time
// plus TTL, measured to the millisecond. On ErrTokenSignatureExpired the
// returned claims are still populated: the signature was valid, only the
// age was not.
func (s *Signer) Verify(token string) (*Claims, error) {
	now := s.now()
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (any, error) { return s.key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		// exp is truncated to the second; the exact bound is checked below.
		jwt.WithLeeway(time.Second),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	switch {
	case err == nil:
	case errors.Is(err, jwt.ErrTokenExpired):
		return claims, ErrTokenSignatureExpired
	case errors.Is(err, jwt.ErrTokenMalformed), errors.Is(err, jwt.ErrTokenRequiredClaimMissing):
		return nil, ErrTokenMalformed
	default:
		return nil, ErrTokenSignatureInvalid
	}

	if claims.SessionToken == "" || claims.Nonce == "" {
		return nil, ErrTokenMalformed
	}
	if now.After(claims.issuedAt().Add(s.ttl)) {
		return claims, ErrTokenSignatureExpired
	}
	return claims, nil
}

// issuedAt returns the millisecond issue time, falling back to iat.
func (c *Claims) issuedAt() time.Time {
	if c.IssuedAtMs > 0 {
		return time.UnixMilli(c.IssuedAtMs)
	}
	if c.IssuedAt != nil {
		return c.IssuedAt.Time
	}
	return time.Time{}
}
