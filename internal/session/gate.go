// Reelguard - Protected Lesson Playback Sessions
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/reelguard

package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/tomtom215/reelguard/internal/content"
	"github.com/tomtom215/reelguard/internal/logging"
	"github.com/tomtom215/reelguard/internal/metrics"
)

// Gate admits viewers to content: it checks availability and entitlement,
// then creates a session or resumes the viewer's active one.
type Gate struct {
	engine       *Engine
	catalog      content.Catalog
	entitlements content.Entitlements
	audit        *logging.SecurityLogger
}

// NewGate creates an access gate on top of an engine.
func NewGate(engine *Engine, catalog content.Catalog, entitlements content.Entitlements) *Gate {
	return &Gate{
		engine:       engine,
		catalog:      catalog,
		entitlements: entitlements,
		audit:        engine.audit,
	}
}

// StartResult is returned by StartSession.
type StartResult struct {
	Session *Session
	Content *content.Content
	Resumed bool
}

// StartSession returns the viewer's Active session for the content, creating
// one if needed. Resuming never resets the risk score or extends the TTL.
func (g *Gate) StartSession(ctx context.Context, viewer content.Viewer, contentID string) (*StartResult, error) {
	item, err := g.catalog.Get(ctx, contentID)
	if err != nil {
		if errors.Is(err, content.ErrContentNotFound) {
			metrics.SessionsStarted.WithLabelValues("denied").Inc()
		}
		return nil, err
	}
	if !item.IsActive {
		metrics.SessionsStarted.WithLabelValues("denied").Inc()
		return nil, content.ErrContentNotFound
	}

	allowed, err := g.entitlements.HasAccess(ctx, viewer, item)
	if err != nil {
		return nil, fmt.Errorf("check entitlement: %w", err)
	}
	if !allowed {
		metrics.SessionsStarted.WithLabelValues("denied").Inc()
		logging.Ctx(ctx).Info().Str("content_id", contentID).
			Str("user_id", logging.SanitizeUserID(viewer.ID)).Msg("Entitlement denied")
		return nil, content.ErrAccessDenied
	}

	policy := g.engine.policy
	now := g.engine.now()
	candidate, err := NewSession(viewer.ID, item.ID, now, policy.SessionTTL, policy.NonceCapacity)
	if err != nil {
		return nil, err
	}

	sess, resumed, err := g.engine.store.StartOrResume(ctx, candidate, now)
	if err != nil {
		return nil, fmt.Errorf("start session: %w", err)
	}

	if resumed {
		metrics.SessionsStarted.WithLabelValues("resumed").Inc()
	} else {
		metrics.SessionsStarted.WithLabelValues("created").Inc()
	}
	g.audit.LogSessionStarted(sess.ID, sess.UserID, sess.ContentID, resumed)

	return &StartResult{Session: sess, Content: item, Resumed: resumed}, nil
}
