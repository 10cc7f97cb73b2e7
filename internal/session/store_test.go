// Reelguard - Protected Lesson Playback Sessions
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/reelguard

package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// storeFactories returns every Store implementation under test.
func storeFactories(t *testing.T) map[string]func() Store {
	t.Helper()
	return map[string]func() Store{
		"memory": func() Store { return NewMemoryStore() },
		"badger": func() Store {
			db, err := OpenBadger("")
			if err != nil {
				t.Fatalf("OpenBadger() error = %v", err)
			}
			t.Cleanup(func() { _ = db.Close() })
			return NewBadgerStore(db)
		},
	}
}

func newTestSession(t *testing.T, userID, contentID string) *Session {
	t.Helper()
	s, err := NewSession(userID, contentID, testEpoch, time.Hour, 5)
	if err != nil {
		t.Fatalf("NewSession() error = %v", err)
	}
	return s
}

func TestStore_StartOrResume(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			t.Run("creates_then_resumes", func(t *testing.T) {
				store := factory()
				first, resumed, err := store.StartOrResume(ctx, newTestSession(t, "42", "7"), testEpoch)
				if err != nil || resumed {
					t.Fatalf("first start: resumed=%v err=%v", resumed, err)
				}

				second, resumed, err := store.StartOrResume(ctx, newTestSession(t, "42", "7"), testEpoch.Add(time.Minute))
				if err != nil || !resumed {
					t.Fatalf("second start: resumed=%v err=%v", resumed, err)
				}
				if second.Token != first.Token {
					t.Errorf("resumed token %s, want %s", second.Token, first.Token)
				}
			})

			t.Run("different_pairs_are_independent", func(t *testing.T) {
				store := factory()
				a, _, _ := store.StartOrResume(ctx, newTestSession(t, "42", "7"), testEpoch)
				b, resumed, _ := store.StartOrResume(ctx, newTestSession(t, "42", "8"), testEpoch)
				if resumed || a.Token == b.Token {
					t.Error("sessions for different content must not be shared")
				}
			})

			t.Run("replaces_expired_session", func(t *testing.T) {
				store := factory()
				first, _, _ := store.StartOrResume(ctx, newTestSession(t, "42", "7"), testEpoch)

				later := testEpoch.Add(2 * time.Hour)
				second, resumed, err := store.StartOrResume(ctx, newTestSession(t, "42", "7"), later)
				if err != nil || resumed {
					t.Fatalf("resumed=%v err=%v", resumed, err)
				}
				if second.Token == first.Token {
					t.Error("expired session was resumed")
				}

				old, err := store.Get(ctx, first.Token)
				if err != nil {
					t.Fatal(err)
				}
				if old.Status != StatusExpired {
					t.Errorf("old session status = %s, want expired", old.Status)
				}
			})

			t.Run("replaces_blocked_session", func(t *testing.T) {
				store := factory()
				first, _, _ := store.StartOrResume(ctx, newTestSession(t, "42", "7"), testEpoch)
				_, _ = store.Update(ctx, first.Token, func(s *Session) ([]*SecurityEvent, error) {
					s.Status = StatusBlocked
					return nil, nil
				})

				second, resumed, _ := store.StartOrResume(ctx, newTestSession(t, "42", "7"), testEpoch)
				if resumed || second.Token == first.Token {
					t.Error("blocked session was resumed")
				}
			})

			t.Run("concurrent_starts_yield_one_session", func(t *testing.T) {
				store := factory()
				const workers = 8
				tokens := make(chan string, workers)
				var wg sync.WaitGroup
				for range workers {
					wg.Add(1)
					go func() {
						defer wg.Done()
						s, _, err := store.StartOrResume(ctx, newTestSession(t, "42", "7"), testEpoch)
						if err != nil {
							t.Errorf("StartOrResume() error = %v", err)
							return
						}
						tokens <- s.Token
					}()
				}
				wg.Wait()
				close(tokens)

				seen := map[string]bool{}
				for tok := range tokens {
					seen[tok] = true
				}
				if len(seen) != 1 {
					t.Errorf("got %d distinct sessions, want 1", len(seen))
				}
			})
		})
	}
}

func TestStore_Update(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			t.Run("unknown_token", func(t *testing.T) {
				store := factory()
				_, err := store.Update(ctx, "nope", func(*Session) ([]*SecurityEvent, error) { return nil, nil })
				if !errors.Is(err, ErrSessionNotFound) {
					t.Errorf("Update() error = %v, want ErrSessionNotFound", err)
				}
				if _, err := store.Get(ctx, "nope"); !errors.Is(err, ErrSessionNotFound) {
					t.Errorf("Get() error = %v, want ErrSessionNotFound", err)
				}
			})

			t.Run("commits_session_and_events", func(t *testing.T) {
				store := factory()
				s, _, _ := store.StartOrResume(ctx, newTestSession(t, "42", "7"), testEpoch)

				updated, err := store.Update(ctx, s.Token, func(s *Session) ([]*SecurityEvent, error) {
					s.RiskScore += 10
					s.Nonces.Register("n1", testEpoch, time.Minute)
					return []*SecurityEvent{
						NewEvent(s, EventTabHidden, SeverityInfo, 10, nil, testEpoch),
						NewEvent(s, EventWindowBlur, SeverityInfo, 0, map[string]any{"k": "v"}, testEpoch.Add(time.Second)),
					}, nil
				})
				if err != nil {
					t.Fatal(err)
				}
				if updated.RiskScore != 10 {
					t.Errorf("RiskScore = %d, want 10", updated.RiskScore)
				}

				got, _ := store.Get(ctx, s.Token)
				if got.RiskScore != 10 || got.Nonces.Len() != 1 {
					t.Errorf("stored session = score %d nonces %d", got.RiskScore, got.Nonces.Len())
				}

				events, err := store.ListEvents(ctx, s.ID)
				if err != nil {
					t.Fatal(err)
				}
				if len(events) != 2 {
					t.Fatalf("len(events) = %d, want 2", len(events))
				}
				if events[0].EventType != EventTabHidden || events[1].EventType != EventWindowBlur {
					t.Errorf("events out of order: %s, %s", events[0].EventType, events[1].EventType)
				}
			})

			t.Run("mutation_error_aborts", func(t *testing.T) {
				store := factory()
				s, _, _ := store.StartOrResume(ctx, newTestSession(t, "42", "7"), testEpoch)
				boom := errors.New("boom")

				_, err := store.Update(ctx, s.Token, func(s *Session) ([]*SecurityEvent, error) {
					s.RiskScore = 999
					return nil, boom
				})
				if !errors.Is(err, boom) {
					t.Fatalf("Update() error = %v", err)
				}
				got, _ := store.Get(ctx, s.Token)
				if got.RiskScore != 0 {
					t.Errorf("aborted mutation was committed: score %d", got.RiskScore)
				}
			})

			t.Run("returned_copies_are_isolated", func(t *testing.T) {
				store := factory()
				s, _, _ := store.StartOrResume(ctx, newTestSession(t, "42", "7"), testEpoch)

				got, _ := store.Get(ctx, s.Token)
				got.RiskScore = 500
				got.Nonces.Register("x", testEpoch, time.Minute)

				again, _ := store.Get(ctx, s.Token)
				if again.RiskScore != 0 || again.Nonces.Len() != 0 {
					t.Error("mutating a returned session leaked into the store")
				}
			})

			t.Run("concurrent_updates_are_serialized", func(t *testing.T) {
				store := factory()
				s, _, _ := store.StartOrResume(ctx, newTestSession(t, "42", "7"), testEpoch)

				const workers = 10
				var wg sync.WaitGroup
				for range workers {
					wg.Add(1)
					go func() {
						defer wg.Done()
						_, err := store.Update(ctx, s.Token, func(s *Session) ([]*SecurityEvent, error) {
							s.RiskScore++
							return []*SecurityEvent{NewEvent(s, EventWindowBlur, SeverityInfo, 1, nil, testEpoch)}, nil
						})
						if err != nil {
							t.Errorf("Update() error = %v", err)
						}
					}()
				}
				wg.Wait()

				got, _ := store.Get(ctx, s.Token)
				if got.RiskScore != workers {
					t.Errorf("RiskScore = %d, want %d", got.RiskScore, workers)
				}
				events, _ := store.ListEvents(ctx, s.ID)
				if len(events) != workers {
					t.Errorf("len(events) = %d, want %d", len(events), workers)
				}
			})
		})
	}
}
