// Reelguard - Protected Lesson Playback Sessions
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/reelguard

// Package playback issues and redeems signed, single-use playback tokens.
//
// A token is an HS256 JWT carrying the session reference, a one-time nonce
// and keyed hashes of the device, network prefix and user agent it was
// issued to. The Issuer registers the nonce in the session's ledger; the
// Gateway consumes it and re-derives the bindings from the redeeming request
// before redirecting to the content origin.
package playback

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/tomtom215/reelguard/internal/denial"
	"github.com/tomtom215/reelguard/internal/logging"
	"github.com/tomtom215/reelguard/internal/metrics"
	"github.com/tomtom215/reelguard/internal/session"
)

// ErrDeviceIDRequired is returned when no device identifier is supplied.
var ErrDeviceIDRequired = denial.New(denial.CategoryValidation, "DEVICE_ID_REQUIRED", "device_id is required")

// DefaultCookieName is the base name of the device-binding cookie.
const DefaultCookieName = "rg_device"

// CookieConfig controls the device-binding cookie.
type CookieConfig struct {
	Name     string
	Secure   bool
	SameSite http.SameSite
}

// EffectiveName returns the cookie name, with the __Host- prefix when Secure.
func (c CookieConfig) EffectiveName() string {
	name := c.Name
	if name == "" {
		name = DefaultCookieName
	}
	if c.Secure && !strings.HasPrefix(name, "__Host-") {
		name = "__Host-" + name
	}
	return name
}

// IssuerConfig configures the token issuer.
type IssuerConfig struct {
	// PublicBaseURL is the externally reachable base of the /play endpoint.
	PublicBaseURL string
	Binding       BindingPolicy
	Cookie        CookieConfig
}

// IssueRequest identifies the session and the client asking for a token.
type IssueRequest struct {
	SessionToken string
	UserID       string
	DeviceID     string
	IP           string
	UserAgent    string
}

// Bound reports which attributes the token is bound to.
type Bound struct {
	User      bool `json:"user"`
	IP        bool `json:"ip"`
	Device    bool `json:"device"`
	UserAgent bool `json:"user_agent"`
}

// Grant is an issued playback token.
type Grant struct {
	PlaybackURL string `json:"playback_url"`
	TTLSeconds  int    `json:"ttl_seconds"`
	Bound       Bound  `json:"bound"`
	// Cookie is the device-binding cookie to set, nil when device binding is off.
	Cookie *http.Cookie `json:"-"`
}

// Issuer mints playback tokens.
type Issuer struct {
	store  session.Store
	signer *Signer
	hasher *Hasher
	cfg    IssuerConfig
	audit  *logging.SecurityLogger
	now    func() time.Time
}

// NewIssuer creates a token issuer. The signer's clock is used for issue times.
func NewIssuer(store session.Store, signer *Signer, hasher *Hasher, cfg IssuerConfig, audit *logging.SecurityLogger) *Issuer {
	if audit == nil {
		audit = logging.NewSecurityLogger()
	}
	cfg.PublicBaseURL = strings.TrimRight(cfg.PublicBaseURL, "/")
	return &Issuer{
		store:  store,
		signer: signer,
		hasher: hasher,
		cfg:    cfg,
		audit:  audit,
		now:    signer.now,
	}
}

// Issue registers a fresh nonce on the session and returns a signed playback
// URL bound to the requesting client. The session must be Active and owned
// by req.UserID; any other owner sees ErrSessionNotFound.
func (i *Issuer) Issue(ctx context.Context, req IssueRequest) (*Grant, error) {
	if strings.TrimSpace(req.DeviceID) == "" {
		return nil, ErrDeviceIDRequired
	}

	nonce, err := newNonce()
	if err != nil {
		return nil, err
	}

	claims := &Claims{
		SessionToken: req.SessionToken,
		DeviceHash:   i.hasher.Device(req.DeviceID),
		Nonce:        nonce,
	}
	if i.cfg.Binding.IP {
		claims.IPHash = i.hasher.IP(req.IP)
	}
	if i.cfg.Binding.UserAgent {
		claims.UserAgentHash = i.hasher.UserAgent(req.UserAgent)
	}

	ttl := i.signer.TTL()
	issuedAt := i.now()

	var denied error
	sess, err := i.store.Update(ctx, req.SessionToken, func(s *session.Session) ([]*session.SecurityEvent, error) {
		denied = nil
		if s.UserID != req.UserID {
			denied = session.ErrSessionNotFound
			return nil, nil
		}
		if err := s.CheckActive(issuedAt); err != nil {
			denied = err
			return nil, nil
		}
		if s.Nonces == nil {
			s.Nonces = session.NewNonceLedger(session.DefaultNonceCapacity)
		}
		s.Nonces.Register(nonce, issuedAt, ttl)
		return nil, nil
	})
	if err != nil {
		return nil, err
	}
	if denied != nil {
		return nil, denied
	}

	claims.ContentID = sess.ContentID
	claims.UserID = sess.UserID
	signed, err := i.signer.Sign(claims, issuedAt)
	if err != nil {
		return nil, err
	}

	grant := &Grant{
		PlaybackURL: fmt.Sprintf("%s/play/%s", i.cfg.PublicBaseURL, signed),
		TTLSeconds:  int(ttl / time.Second),
		Bound: Bound{
			User:      true,
			IP:        i.cfg.Binding.IP,
			Device:    i.cfg.Binding.Device,
			UserAgent: i.cfg.Binding.UserAgent,
		},
	}
	if i.cfg.Binding.Device {
		grant.Cookie = i.deviceCookie(claims.DeviceHash, ttl)
	}

	metrics.PlaybackTokensIssued.Inc()
	i.audit.LogTokenIssued(sess.ID, sess.UserID, req.IP)
	return grant, nil
}

func (i *Issuer) deviceCookie(value string, ttl time.Duration) *http.Cookie {
	sameSite := i.cfg.Cookie.SameSite
	if sameSite == 0 {
		sameSite = http.SameSiteLaxMode
	}
	return &http.Cookie{
		Name:     i.cfg.Cookie.EffectiveName(),
		Value:    value,
		Path:     "/",
		MaxAge:   int(ttl / time.Second),
		HttpOnly: true,
		Secure:   i.cfg.Cookie.Secure,
		SameSite: sameSite,
	}
}

// newNonce returns 128 random bits, base64url encoded.
func newNonce() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
