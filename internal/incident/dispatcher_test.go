// Reelguard - Protected Lesson Playback Sessions
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/reelguard

package incident

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// mockNotifier records delivered incidents.
type mockNotifier struct {
	mu       sync.Mutex
	name     string
	enabled  bool
	err      error
	panics   bool
	received []*Incident
}

func (m *mockNotifier) Name() string  { return m.name }
func (m *mockNotifier) Enabled() bool { return m.enabled }

func (m *mockNotifier) Send(_ context.Context, inc *Incident) error {
	if m.panics {
		panic("notifier exploded")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.received = append(m.received, inc)
	return m.err
}

func (m *mockNotifier) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.received)
}

func TestDispatcher_Notify(t *testing.T) {
	t.Run("delivers_to_enabled_notifiers_only", func(t *testing.T) {
		on := &mockNotifier{name: "on", enabled: true}
		off := &mockNotifier{name: "off", enabled: false}
		d := NewDispatcher(DispatcherConfig{}, on, off)

		d.Notify(context.Background(), &Incident{Type: TypeSessionBlocked, Severity: SeverityCritical})
		d.Wait()

		if on.count() != 1 {
			t.Errorf("enabled notifier received %d, want 1", on.count())
		}
		if off.count() != 0 {
			t.Errorf("disabled notifier received %d, want 0", off.count())
		}
	})

	t.Run("fills_id_and_timestamp", func(t *testing.T) {
		n := &mockNotifier{name: "n", enabled: true}
		d := NewDispatcher(DispatcherConfig{}, n)

		inc := &Incident{Type: TypeRedeemDenied, Severity: SeverityWarning}
		d.Notify(context.Background(), inc)
		d.Wait()

		if inc.ID == "" || inc.CreatedAt.IsZero() {
			t.Errorf("incident not populated: %+v", inc)
		}
	})

	t.Run("failures_and_panics_are_contained", func(t *testing.T) {
		failing := &mockNotifier{name: "failing", enabled: true, err: errors.New("smtp down")}
		panicking := &mockNotifier{name: "panicking", enabled: true, panics: true}
		healthy := &mockNotifier{name: "healthy", enabled: true}
		d := NewDispatcher(DispatcherConfig{}, failing, panicking, healthy)

		d.Notify(context.Background(), &Incident{Type: TypeHardBlock, Severity: SeverityCritical})
		d.Wait()

		if healthy.count() != 1 {
			t.Errorf("healthy notifier received %d, want 1", healthy.count())
		}
	})

	t.Run("canceled_request_context_does_not_cancel_delivery", func(t *testing.T) {
		n := &ctxNotifier{}
		d := NewDispatcher(DispatcherConfig{}, n)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		d.Notify(ctx, &Incident{Type: TypeRedeemDenied, Severity: SeverityWarning})
		d.Wait()

		if n.sawErr != nil {
			t.Errorf("delivery context error = %v, want nil", n.sawErr)
		}
	})
}

type ctxNotifier struct {
	sawErr error
}

func (c *ctxNotifier) Name() string  { return "ctx" }
func (c *ctxNotifier) Enabled() bool { return true }
func (c *ctxNotifier) Send(ctx context.Context, _ *Incident) error {
	c.sawErr = ctx.Err()
	return nil
}

func TestDispatcher_Cooldown(t *testing.T) {
	n := &mockNotifier{name: "n", enabled: true}
	d := NewDispatcher(DispatcherConfig{Cooldown: time.Minute}, n)

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return now }

	warn := func() *Incident {
		return &Incident{Type: TypeRedeemDenied, Reason: "HOTLINK_DENIED", SessionID: "s1", Severity: SeverityWarning}
	}

	d.Notify(context.Background(), warn())
	d.Notify(context.Background(), warn())
	d.Wait()
	if n.count() != 1 {
		t.Fatalf("warning repeats within cooldown: received %d, want 1", n.count())
	}

	// Critical incidents bypass the cooldown.
	for i := 0; i < 3; i++ {
		d.Notify(context.Background(), &Incident{Type: TypeHardBlock, Reason: "recorder_suspected", SessionID: "s1", Severity: SeverityCritical})
	}
	d.Wait()
	if n.count() != 4 {
		t.Fatalf("critical incidents suppressed: received %d, want 4", n.count())
	}

	now = now.Add(2 * time.Minute)
	d.Notify(context.Background(), warn())
	d.Wait()
	if n.count() != 5 {
		t.Errorf("warning after cooldown not delivered: received %d, want 5", n.count())
	}
}

func TestDispatcher_Close(t *testing.T) {
	t.Run("drops_after_close", func(t *testing.T) {
		n := &mockNotifier{name: "n", enabled: true}
		d := NewDispatcher(DispatcherConfig{}, n)

		d.Notify(context.Background(), &Incident{Type: TypeHardBlock, Severity: SeverityCritical})
		d.Close()
		if n.count() != 1 {
			t.Fatalf("received %d before close, want 1", n.count())
		}

		d.Notify(context.Background(), &Incident{Type: TypeHardBlock, Severity: SeverityCritical})
		d.Close()
		if n.count() != 1 {
			t.Errorf("received %d after close, want 1", n.count())
		}
	})

	t.Run("concurrent_notify_during_close", func(t *testing.T) {
		n := &mockNotifier{name: "n", enabled: true}
		d := NewDispatcher(DispatcherConfig{}, n)

		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < 50; j++ {
					d.Notify(context.Background(), &Incident{Type: TypeHardBlock, Severity: SeverityCritical})
				}
			}()
		}
		d.Close()
		delivered := n.count()
		wg.Wait()

		if got := n.count(); got != delivered {
			t.Errorf("deliveries after Close returned: %d, want %d", got, delivered)
		}
	})
}

func TestSeverity_Valid(t *testing.T) {
	t.Parallel()

	for _, s := range []Severity{SeverityInfo, SeverityWarning, SeverityCritical} {
		if !s.Valid() {
			t.Errorf("%q should be valid", s)
		}
	}
	if Severity("fatal").Valid() {
		t.Error("unknown severity reported valid")
	}
}
