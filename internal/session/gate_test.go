// Reelguard - Protected Lesson Playback Sessions
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/reelguard

package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tomtom215/reelguard/internal/content"
)

// stubEntitlements returns a fixed answer.
type stubEntitlements struct {
	allowed bool
	err     error
}

func (s stubEntitlements) HasAccess(context.Context, content.Viewer, *content.Content) (bool, error) {
	return s.allowed, s.err
}

func newTestGate(t *testing.T, ents content.Entitlements) (*Gate, *engineFixture) {
	t.Helper()
	catalog, err := content.NewMemoryCatalog([]content.Content{
		{ID: "7", Title: "Intro to Go", OriginPlaybackURL: "https://origin.example/7.m3u8", IsActive: true},
		{ID: "8", Title: "Retired lesson", OriginPlaybackURL: "https://origin.example/8.m3u8", IsActive: false},
	})
	if err != nil {
		t.Fatal(err)
	}
	f := newEngineFixture(t, DefaultPolicy())
	return NewGate(f.engine, catalog, ents), f
}

func TestGate_StartSession(t *testing.T) {
	ctx := context.Background()
	viewer := content.Viewer{ID: "1001"}

	t.Run("creates_then_resumes", func(t *testing.T) {
		gate, f := newTestGate(t, stubEntitlements{allowed: true})

		first, err := gate.StartSession(ctx, viewer, "7")
		if err != nil {
			t.Fatal(err)
		}
		if first.Resumed || first.Session.Status != StatusActive || first.Content.ID != "7" {
			t.Fatalf("first = %+v", first)
		}
		if !first.Session.ExpiresAt.Equal(testEpoch.Add(DefaultPolicy().SessionTTL)) {
			t.Errorf("ExpiresAt = %v", first.Session.ExpiresAt)
		}

		_, _ = f.engine.RecordEvent(ctx, first.Session.Token, EventTabHidden, "", nil)
		f.clock.Advance(time.Minute)

		second, err := gate.StartSession(ctx, viewer, "7")
		if err != nil {
			t.Fatal(err)
		}
		if !second.Resumed || second.Session.Token != first.Session.Token {
			t.Fatalf("second = %+v", second)
		}
		if second.Session.RiskScore != 10 {
			t.Errorf("resume reset risk to %d", second.Session.RiskScore)
		}
		if !second.Session.ExpiresAt.Equal(first.Session.ExpiresAt) {
			t.Error("resume extended the TTL")
		}
	})

	t.Run("unknown_content", func(t *testing.T) {
		gate, _ := newTestGate(t, stubEntitlements{allowed: true})
		if _, err := gate.StartSession(ctx, viewer, "404"); !errors.Is(err, content.ErrContentNotFound) {
			t.Errorf("error = %v, want ErrContentNotFound", err)
		}
	})

	t.Run("inactive_content", func(t *testing.T) {
		gate, _ := newTestGate(t, stubEntitlements{allowed: true})
		if _, err := gate.StartSession(ctx, viewer, "8"); !errors.Is(err, content.ErrContentNotFound) {
			t.Errorf("error = %v, want ErrContentNotFound", err)
		}
	})

	t.Run("not_entitled", func(t *testing.T) {
		gate, _ := newTestGate(t, stubEntitlements{allowed: false})
		if _, err := gate.StartSession(ctx, viewer, "7"); !errors.Is(err, content.ErrAccessDenied) {
			t.Errorf("error = %v, want ErrAccessDenied", err)
		}
	})

	t.Run("entitlement_backend_failure", func(t *testing.T) {
		backendErr := errors.New("entitlement service unavailable")
		gate, _ := newTestGate(t, stubEntitlements{err: backendErr})

		_, err := gate.StartSession(ctx, viewer, "7")
		if !errors.Is(err, backendErr) {
			t.Errorf("error = %v, want wrapped backend error", err)
		}
		if errors.Is(err, content.ErrAccessDenied) {
			t.Error("backend failure must not be reported as a denial")
		}
	})

	t.Run("blocked_session_is_replaced", func(t *testing.T) {
		gate, f := newTestGate(t, stubEntitlements{allowed: true})
		first, _ := gate.StartSession(ctx, viewer, "7")
		_, _ = f.engine.RecordEvent(ctx, first.Session.Token, EventRecorderSuspected, "", nil)

		second, err := gate.StartSession(ctx, viewer, "7")
		if err != nil {
			t.Fatal(err)
		}
		if second.Resumed || second.Session.Token == first.Session.Token || second.Session.RiskScore != 0 {
			t.Errorf("second = %+v", second.Session)
		}
	})
}
