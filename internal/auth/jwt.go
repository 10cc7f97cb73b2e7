// Reelguard - Protected Lesson Playback Sessions
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/reelguard

package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/tomtom215/reelguard/internal/content"
)

// ErrInvalidToken is returned for any bearer token that fails validation.
var ErrInvalidToken = errors.New("invalid bearer token")

// Claims are the viewer claims issued by the platform's identity service.
// The subject is the viewer ID.
type Claims struct {
	Groups []string `json:"groups,omitempty"`
	jwt.RegisteredClaims
}

// Config configures viewer token validation.
type Config struct {
	// Secret is the HS256 key shared with the identity service.
	Secret string
	// Issuer and Audience are checked when set.
	Issuer   string
	Audience string
}

// JWTManager validates viewer bearer tokens.
type JWTManager struct {
	secret   []byte
	issuer   string
	audience string
	now      func() time.Time
}

// NewJWTManager creates a JWT manager.
//
// The secret is kept as []byte and only HS256 tokens are accepted, which
// rules out algorithm confusion with "none" or asymmetric algorithms.
func NewJWTManager(cfg Config) (*JWTManager, error) {
	if cfg.Secret == "" {
		return nil, fmt.Errorf("viewer JWT secret is required but was empty")
	}
	return &JWTManager{
		secret:   []byte(cfg.Secret),
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
		now:      time.Now,
	}, nil
}

// GenerateToken signs a viewer token. Used by tests and local tooling; in
// production tokens come from the identity service.
func (m *JWTManager) GenerateToken(viewerID string, groups []string, ttl time.Duration) (string, error) {
	now := m.now()
	claims := &Claims{
		Groups: groups,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   viewerID,
			Issuer:    m.issuer,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	if m.audience != "" {
		claims.Audience = jwt.ClaimStrings{m.audience}
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// ValidateToken verifies a bearer token and returns the viewer it identifies.
func (m *JWTManager) ValidateToken(tokenString string) (content.Viewer, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}
	if m.audience != "" {
		opts = append(opts, jwt.WithAudience(m.audience))
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return m.secret, nil
	}, opts...)
	if err != nil {
		return content.Viewer{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !token.Valid || claims.Subject == "" {
		return content.Viewer{}, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}

	return content.Viewer{ID: claims.Subject, Groups: claims.Groups}, nil
}
