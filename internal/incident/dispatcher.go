// Reelguard - Protected Lesson Playback Sessions
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/reelguard

package incident

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/reelguard/internal/logging"
	"github.com/tomtom215/reelguard/internal/metrics"
)

// DispatcherConfig configures a Dispatcher.
type DispatcherConfig struct {
	// Cooldown suppresses repeats of a non-critical incident with the same
	// session, type and reason. Critical incidents are never suppressed.
	Cooldown time.Duration

	// SendTimeout bounds each notifier delivery. Default 10s.
	SendTimeout time.Duration
}

// Dispatcher delivers incidents to every enabled notifier concurrently.
type Dispatcher struct {
	cfg       DispatcherConfig
	notifiers []Notifier
	now       func() time.Time

	mu       sync.Mutex
	lastSent map[string]time.Time
	closed   bool

	wg sync.WaitGroup
}

// NewDispatcher creates a dispatcher over the given notifiers.
func NewDispatcher(cfg DispatcherConfig, notifiers ...Notifier) *Dispatcher {
	if cfg.SendTimeout == 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	return &Dispatcher{
		cfg:       cfg,
		notifiers: notifiers,
		now:       time.Now,
		lastSent:  make(map[string]time.Time),
	}
}

// Register adds a notifier.
func (d *Dispatcher) Register(n Notifier) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.notifiers = append(d.notifiers, n)
}

// Notify schedules delivery of inc and returns immediately.
// ID and CreatedAt are filled in when empty. After Close, incidents are
// dropped.
func (d *Dispatcher) Notify(ctx context.Context, inc *Incident) {
	if inc.ID == "" {
		inc.ID = uuid.NewString()
	}
	if inc.CreatedAt.IsZero() {
		inc.CreatedAt = d.now()
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		metrics.IncidentDeliveries.WithLabelValues("dispatcher", "dropped").Inc()
		logging.Ctx(ctx).Warn().Str("incident_type", inc.Type).Str("reason", inc.Reason).
			Str("session_id", inc.SessionID).Msg("Incident dropped after dispatcher close")
		return
	}
	if d.suppressedLocked(inc) {
		d.mu.Unlock()
		metrics.IncidentDeliveries.WithLabelValues("dispatcher", "suppressed").Inc()
		logging.Ctx(ctx).Debug().Str("incident_type", inc.Type).Str("session_id", inc.SessionID).
			Msg("Incident suppressed by cooldown")
		return
	}
	notifiers := make([]Notifier, 0, len(d.notifiers))
	for _, n := range d.notifiers {
		if n.Enabled() {
			notifiers = append(notifiers, n)
		}
	}
	// Added under mu so Close cannot start waiting in between.
	d.wg.Add(len(notifiers))
	d.mu.Unlock()

	// Delivery outlives the request that triggered it.
	base := context.WithoutCancel(ctx)
	for _, n := range notifiers {
		go d.deliver(base, n, inc)
	}
}

func (d *Dispatcher) deliver(ctx context.Context, n Notifier, inc *Incident) {
	defer d.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			metrics.IncidentDeliveries.WithLabelValues(n.Name(), "failed").Inc()
			logging.Error().Str("notifier", n.Name()).Str("panic", fmt.Sprint(r)).Msg("Incident notifier panicked")
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, d.cfg.SendTimeout)
	defer cancel()

	if err := n.Send(ctx, inc); err != nil {
		metrics.IncidentDeliveries.WithLabelValues(n.Name(), "failed").Inc()
		logging.Ctx(ctx).Error().Err(err).Str("notifier", n.Name()).Str("incident_id", inc.ID).
			Str("incident_type", inc.Type).Msg("Failed to send incident")
		return
	}
	metrics.IncidentDeliveries.WithLabelValues(n.Name(), "sent").Inc()
}

// suppressedLocked applies the cooldown. Must be called with mu held.
func (d *Dispatcher) suppressedLocked(inc *Incident) bool {
	if d.cfg.Cooldown <= 0 || inc.Severity == SeverityCritical {
		return false
	}

	now := d.now()
	if len(d.lastSent) > 4096 {
		for k, t := range d.lastSent {
			if now.Sub(t) >= d.cfg.Cooldown {
				delete(d.lastSent, k)
			}
		}
	}

	key := inc.SessionID + "\x00" + inc.Type + "\x00" + inc.Reason
	if last, ok := d.lastSent[key]; ok && now.Sub(last) < d.cfg.Cooldown {
		return true
	}
	d.lastSent[key] = now
	return false
}

// Wait blocks until all in-flight deliveries finish. It must not run
// concurrently with Notify; use Close on shutdown.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Close stops accepting incidents and waits for in-flight deliveries.
// It is safe to call more than once.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.wg.Wait()
}
