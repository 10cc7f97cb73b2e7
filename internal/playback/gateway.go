// Reelguard - Protected Lesson Playback Sessions
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/reelguard

package playback

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/tomtom215/reelguard/internal/content"
	"github.com/tomtom215/reelguard/internal/denial"
	"github.com/tomtom215/reelguard/internal/incident"
	"github.com/tomtom215/reelguard/internal/logging"
	"github.com/tomtom215/reelguard/internal/metrics"
	"github.com/tomtom215/reelguard/internal/session"
)

// Binding denials.
var (
	ErrBindingIPMismatch        = denial.New(denial.CategoryBinding, "BINDING_IP_MISMATCH", "network does not match the playback token")
	ErrBindingUserAgentMismatch = denial.New(denial.CategoryBinding, "BINDING_USER_AGENT_MISMATCH", "user agent does not match the playback token")
	ErrBindingDeviceMismatch    = denial.New(denial.CategoryBinding, "BINDING_DEVICE_MISMATCH", "device does not match the playback token")
)

// GatewayConfig configures the redemption gateway.
type GatewayConfig struct {
	// AllowedReferrers lists hosts allowed to embed the player. Subdomains of
	// a listed host are allowed too. Empty disables the hotlink check.
	AllowedReferrers []string
	Binding          BindingPolicy
}

// RedeemRequest carries the request attributes checked against a token.
type RedeemRequest struct {
	Token        string
	IP           string
	UserAgent    string
	Referer      string
	DeviceCookie string
}

// Redirect is a successful redemption.
type Redirect struct {
	Location  string
	SessionID string
	ContentID string
}

// Gateway redeems playback tokens. It needs no viewer authentication: every
// decision is derived from the signed envelope and the request itself.
type Gateway struct {
	store     session.Store
	catalog   content.Catalog
	signer    *Signer
	hasher    *Hasher
	notifier  session.Notifier
	audit     *logging.SecurityLogger
	referrers []string
	binding   BindingPolicy
}

// NewGateway creates a redemption gateway.
func NewGateway(store session.Store, catalog content.Catalog, signer *Signer, hasher *Hasher, notifier session.Notifier, cfg GatewayConfig, audit *logging.SecurityLogger) *Gateway {
	if audit == nil {
		audit = logging.NewSecurityLogger()
	}
	referrers := make([]string, 0, len(cfg.AllowedReferrers))
	for _, h := range cfg.AllowedReferrers {
		h = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(h)), ".")
		if h != "" {
			referrers = append(referrers, h)
		}
	}
	return &Gateway{
		store:     store,
		catalog:   catalog,
		signer:    signer,
		hasher:    hasher,
		notifier:  notifier,
		audit:     audit,
		referrers: referrers,
		binding:   cfg.Binding,
	}
}

// Redeem validates a playback token against the request and returns the
// origin redirect. Checks run in a fixed order and the first failure is
// returned as a denial:
//
//  1. signature and expiry
//  2. session lookup by token, content and user
//  3. session must be Active (lazy expiry applied)
//  4. nonce consumption
//  5. referrer allow-list
//  6. IP, user agent and device bindings
//
// Steps 3 to 6 run in one store transaction together with the denial event,
// so a nonce can be consumed at most once. The content item is resolved
// last, for the redirect target; a withdrawn item is denied with
// CONTENT_NOT_FOUND after the nonce is spent.
func (g *Gateway) Redeem(ctx context.Context, req RedeemRequest) (*Redirect, error) {
	now := g.signer.now()

	claims, err := g.signer.Verify(req.Token)
	if err != nil {
		var sess *session.Session
		if errors.Is(err, ErrTokenSignatureExpired) && claims != nil {
			sess = g.recordDenial(ctx, claims, err, req, now)
		}
		return nil, g.deny(ctx, sess, claims, err, req)
	}

	var denied error
	sess, err := g.store.Update(ctx, claims.SessionToken, func(s *session.Session) ([]*session.SecurityEvent, error) {
		denied = nil
		if s.ContentID != claims.ContentID || s.UserID != claims.UserID {
			denied = session.ErrSessionNotFound
			return nil, nil
		}
		denied = g.check(s, claims, req, now)
		if denied == nil {
			return nil, nil
		}
		return []*session.SecurityEvent{denialEvent(s, denied, req, now)}, nil
	})
	if errors.Is(err, session.ErrSessionNotFound) {
		return nil, g.deny(ctx, nil, claims, session.ErrSessionNotFound, req)
	}
	if err != nil {
		return nil, err
	}
	if errors.Is(denied, session.ErrSessionNotFound) {
		return nil, g.deny(ctx, nil, claims, denied, req)
	}
	if denied != nil {
		return nil, g.deny(ctx, sess, claims, denied, req)
	}

	item, err := g.catalog.Get(ctx, claims.ContentID)
	if err != nil && !errors.Is(err, content.ErrContentNotFound) {
		return nil, err
	}
	if err != nil || !item.IsActive {
		withdrawn := g.recordDenial(ctx, claims, content.ErrContentNotFound, req, now)
		return nil, g.deny(ctx, withdrawn, claims, content.ErrContentNotFound, req)
	}

	metrics.RecordRedemption("")
	g.audit.LogRedeemed(sess.ID, sess.ContentID, req.IP)
	return &Redirect{
		Location:  item.OriginPlaybackURL,
		SessionID: sess.ID,
		ContentID: sess.ContentID,
	}, nil
}

// check runs steps 3 to 6 against the session inside the transaction.
func (g *Gateway) check(s *session.Session, claims *Claims, req RedeemRequest, now time.Time) error {
	if err := s.CheckActive(now); err != nil {
		return err
	}
	if s.Nonces == nil {
		return session.ErrNonceNotFound
	}
	if err := s.Nonces.Consume(claims.Nonce, now); err != nil {
		return err
	}
	if !g.referrerAllowed(req.Referer) {
		return denial.ErrHotlinkDenied
	}
	if g.binding.IP && (claims.IPHash == "" || !hashEqual(g.hasher.IP(req.IP), claims.IPHash)) {
		return ErrBindingIPMismatch
	}
	if g.binding.UserAgent && (claims.UserAgentHash == "" || !hashEqual(g.hasher.UserAgent(req.UserAgent), claims.UserAgentHash)) {
		return ErrBindingUserAgentMismatch
	}
	if g.binding.Device && (req.DeviceCookie == "" || !hashEqual(req.DeviceCookie, claims.DeviceHash)) {
		return ErrBindingDeviceMismatch
	}
	return nil
}

// referrerAllowed reports whether the Referer header passes the allow-list.
func (g *Gateway) referrerAllowed(referer string) bool {
	if len(g.referrers) == 0 {
		return true
	}
	if referer == "" {
		return false
	}
	u, err := url.Parse(referer)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return false
	}
	for _, allowed := range g.referrers {
		if host == allowed || strings.HasSuffix(host, "."+allowed) {
			return true
		}
	}
	return false
}

// recordDenial appends a denial event to the session named by authentic
// claims. Used for denials decided outside the redemption transaction.
func (g *Gateway) recordDenial(ctx context.Context, claims *Claims, reason error, req RedeemRequest, now time.Time) *session.Session {
	sess, err := g.store.Update(ctx, claims.SessionToken, func(s *session.Session) ([]*session.SecurityEvent, error) {
		if s.ContentID != claims.ContentID || s.UserID != claims.UserID {
			return nil, session.ErrSessionNotFound
		}
		return []*session.SecurityEvent{denialEvent(s, reason, req, now)}, nil
	})
	if err != nil {
		if !errors.Is(err, session.ErrSessionNotFound) {
			logging.Ctx(ctx).Warn().Err(err).Msg("Failed to record redemption denial")
		}
		return nil
	}
	return sess
}

func denialEvent(s *session.Session, reason error, req RedeemRequest, now time.Time) *session.SecurityEvent {
	md := map[string]any{
		"reason":    denial.CodeOf(reason),
		"client_ip": NormalizeIP(req.IP),
	}
	if req.Referer != "" {
		md["referer"] = req.Referer
	}
	return session.NewEvent(s, session.EventRedeemDenied, session.SeverityWarning, 0, md, now)
}

// deny records metrics, writes the audit line and notifies, then returns reason.
func (g *Gateway) deny(ctx context.Context, sess *session.Session, claims *Claims, reason error, req RedeemRequest) error {
	code := denial.CodeOf(reason)
	metrics.RecordRedemption(code)

	inc := &incident.Incident{
		Type:     incident.TypeRedeemDenied,
		Reason:   code,
		Severity: incident.SeverityWarning,
		Metadata: map[string]any{
			"client_ip":  NormalizeIP(req.IP),
			"user_agent": req.UserAgent,
		},
	}
	sessionID := ""
	if sess != nil {
		sessionID = sess.ID
		inc.SessionID = sess.ID
		inc.UserID = sess.UserID
		inc.ContentID = sess.ContentID
		inc.RiskScore = sess.RiskScore
	} else if claims != nil {
		inc.UserID = claims.UserID
		inc.ContentID = claims.ContentID
	}
	if req.Referer != "" {
		inc.Metadata["referer"] = req.Referer
	}

	g.audit.LogRedeemDenied(sessionID, code, req.IP, req.UserAgent)
	if g.notifier != nil {
		g.notifier.Notify(ctx, inc)
	}
	return reason
}
