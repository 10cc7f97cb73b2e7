// Reelguard - Protected Lesson Playback Sessions
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/reelguard

package session

import (
	"context"
	"fmt"
	"maps"
	"time"

	"github.com/tomtom215/reelguard/internal/incident"
	"github.com/tomtom215/reelguard/internal/logging"
	"github.com/tomtom215/reelguard/internal/metrics"
)

// Notifier receives incidents produced by session transitions.
type Notifier interface {
	Notify(ctx context.Context, inc *incident.Incident)
}

// Engine runs the session state machine: heartbeats, discrete events and
// risk accumulation. All state changes go through Store.Update so that a
// score change, the event that caused it and any resulting block commit
// together.
type Engine struct {
	store    Store
	notifier Notifier
	policy   Policy
	audit    *logging.SecurityLogger
	now      func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithAuditLogger overrides the security audit logger.
func WithAuditLogger(l *logging.SecurityLogger) Option {
	return func(e *Engine) { e.audit = l }
}

// NewEngine creates a session engine.
func NewEngine(store Store, notifier Notifier, policy Policy, opts ...Option) *Engine {
	e := &Engine{
		store:    store,
		notifier: notifier,
		policy:   policy,
		audit:    logging.NewSecurityLogger(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Policy returns the engine's policy.
func (e *Engine) Policy() Policy { return e.policy }

// Store returns the backing store.
func (e *Engine) Store() Store { return e.store }

// Now returns the engine's current time.
func (e *Engine) Now() time.Time { return e.now() }

// blockInfo describes a block caused by the current call.
type blockInfo struct {
	hard      bool
	eventType EventType
	reason    string
	metadata  map[string]any
}

// result collects the outcome of a mutation across store retries.
type result struct {
	action   Action
	denial   error
	block    *blockInfo
	recorded *SecurityEvent
}

func (r *result) reset() {
	*r = result{action: ActionContinue}
}

// Heartbeat records a periodic client heartbeat.
func (e *Engine) Heartbeat(ctx context.Context, token string, flags HeartbeatFlags, metadata map[string]any) (*Outcome, error) {
	var res result
	sess, err := e.store.Update(ctx, token, func(s *Session) ([]*SecurityEvent, error) {
		res.reset()
		now := e.now()
		if err := s.CheckActive(now); err != nil {
			res.action, res.denial = ActionStop, err
			return nil, nil
		}
		s.LastHeartbeatAt = now

		signals := flags.Signals()
		delta := Score(e.policy.HeartbeatWeights, signals...)
		if delta == 0 {
			return nil, nil
		}

		md := maps.Clone(metadata)
		if md == nil {
			md = map[string]any{}
		}
		md["signals"] = signalNames(signals)

		if hardEvent, ok := e.policy.hardBlockEvent(signals); ok {
			ev := NewEvent(s, hardEvent, SeverityCritical, delta, md, now)
			e.hardBlock(s, delta, hardEvent, &res, md)
			res.recorded = ev
			return []*SecurityEvent{ev}, nil
		}

		ev := NewEvent(s, EventHeartbeatAnomaly, SeverityFor(delta), delta, md, now)
		e.recordRisk(s, delta, EventHeartbeatAnomaly, &res, md)
		res.recorded = ev
		return []*SecurityEvent{ev}, nil
	})
	return e.finish(ctx, sess, err, &res)
}

// RecordEvent records a discrete client-reported security event.
// An empty severity is derived from the event weight.
func (e *Engine) RecordEvent(ctx context.Context, token string, eventType EventType, severity Severity, metadata map[string]any) (*Outcome, error) {
	weight, ok := e.policy.EventWeights[eventType]
	if !ok {
		return nil, ErrUnknownEventType
	}
	if severity != "" && !severity.Valid() {
		return nil, ErrUnknownSeverity
	}

	var res result
	sess, err := e.store.Update(ctx, token, func(s *Session) ([]*SecurityEvent, error) {
		res.reset()
		now := e.now()
		if err := s.CheckActive(now); err != nil {
			res.action, res.denial = ActionStop, err
			return nil, nil
		}

		if e.policy.isHardBlockEvent(eventType) {
			ev := NewEvent(s, eventType, SeverityCritical, weight, metadata, now)
			e.hardBlock(s, weight, eventType, &res, metadata)
			res.recorded = ev
			return []*SecurityEvent{ev}, nil
		}

		sev := severity
		if sev == "" {
			sev = SeverityFor(weight)
		}
		ev := NewEvent(s, eventType, sev, weight, metadata, now)
		e.recordRisk(s, weight, eventType, &res, metadata)
		res.recorded = ev
		return []*SecurityEvent{ev}, nil
	})
	return e.finish(ctx, sess, err, &res)
}

// recordRisk applies a score delta and blocks the session at the threshold.
func (e *Engine) recordRisk(s *Session, delta int, eventType EventType, res *result, md map[string]any) {
	reason := fmt.Sprintf("risk threshold reached (%s)", eventType)
	if e.policy.applyRisk(s, delta, reason) {
		res.action = ActionBlock
		res.block = &blockInfo{eventType: eventType, reason: reason, metadata: md}
	}
}

// hardBlock blocks the session immediately, applying the full delta.
func (e *Engine) hardBlock(s *Session, delta int, eventType EventType, res *result, md map[string]any) {
	if delta > 0 {
		s.RiskScore += delta
	}
	s.Status = StatusBlocked
	s.BlockReason = fmt.Sprintf("hard block: %s", eventType)
	res.action = ActionBlock
	res.block = &blockInfo{hard: true, eventType: eventType, reason: s.BlockReason, metadata: md}
}

// finish runs post-commit side effects: metrics, audit log and incident fan-out.
func (e *Engine) finish(ctx context.Context, sess *Session, err error, res *result) (*Outcome, error) {
	if err != nil {
		return nil, err
	}

	if res.recorded != nil {
		metrics.RiskEvents.WithLabelValues(string(res.recorded.EventType), string(res.recorded.Severity)).Inc()
	}
	if res.block != nil {
		e.onBlocked(ctx, sess, res.block)
	}

	out := &Outcome{Session: sess, Action: res.action}
	if res.denial != nil {
		return out, res.denial
	}
	return out, nil
}

func (e *Engine) onBlocked(ctx context.Context, sess *Session, b *blockInfo) {
	trigger, incType := "threshold", incident.TypeSessionBlocked
	if b.hard {
		trigger, incType = "hard_block", incident.TypeHardBlock
	}
	metrics.SessionBlocks.WithLabelValues(trigger).Inc()
	e.audit.LogSessionBlocked(sess.ID, sess.UserID, b.reason, sess.RiskScore)

	md := maps.Clone(b.metadata)
	if md == nil {
		md = map[string]any{}
	}
	md["event_type"] = string(b.eventType)

	if e.notifier == nil {
		return
	}
	e.notifier.Notify(ctx, &incident.Incident{
		Type:      incType,
		Reason:    b.reason,
		Severity:  incident.SeverityCritical,
		SessionID: sess.ID,
		UserID:    sess.UserID,
		ContentID: sess.ContentID,
		RiskScore: sess.RiskScore,
		Metadata:  md,
	})
}

// GetStatus returns a snapshot of the session after applying lazy expiry.
func (e *Engine) GetStatus(ctx context.Context, token string) (*Session, error) {
	sess, err := e.store.Get(ctx, token)
	if err != nil {
		return nil, err
	}
	if sess.Status != StatusActive || e.now().Before(sess.ExpiresAt) {
		return sess, nil
	}
	return e.store.Update(ctx, token, func(s *Session) ([]*SecurityEvent, error) {
		_ = s.CheckActive(e.now())
		return nil, nil
	})
}

// EndSession moves an Active session to Ended. Terminal sessions are
// returned unchanged.
func (e *Engine) EndSession(ctx context.Context, token string) (*Session, error) {
	return e.store.Update(ctx, token, func(s *Session) ([]*SecurityEvent, error) {
		if s.CheckActive(e.now()) == nil {
			s.Status = StatusEnded
		}
		return nil, nil
	})
}

// ListEvents returns the security events recorded for a session.
func (e *Engine) ListEvents(ctx context.Context, token string) ([]*SecurityEvent, error) {
	sess, err := e.store.Get(ctx, token)
	if err != nil {
		return nil, err
	}
	return e.store.ListEvents(ctx, sess.ID)
}

func signalNames(signals []Signal) []string {
	out := make([]string, len(signals))
	for i, s := range signals {
		out[i] = string(s)
	}
	return out
}
