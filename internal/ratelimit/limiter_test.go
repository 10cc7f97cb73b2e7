// Reelguard - Protected Lesson Playback Sessions
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/reelguard

package ratelimit

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// failingCounter always errors.
type failingCounter struct{}

func (failingCounter) Name() string { return "failing" }
func (failingCounter) Incr(context.Context, string, time.Duration) (int64, time.Duration, error) {
	return 0, 0, errors.New("connection refused")
}

func openTestBadger(t *testing.T) *badger.DB {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	if err != nil {
		t.Fatalf("open badger: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func counters(t *testing.T) map[string]Counter {
	return map[string]Counter{
		"memory": NewMemoryCounter(),
		"badger": NewBadgerCounter(openTestBadger(t)),
	}
}

func TestLimiter_Allow(t *testing.T) {
	ctx := context.Background()

	for name, counter := range counters(t) {
		t.Run(name, func(t *testing.T) {
			l := NewLimiter(counter, map[Class]int{ClassIssue: 3, ClassRedeem: 5})

			for i := 1; i <= 3; i++ {
				if d := l.Allow(ctx, ClassIssue, "10.0.0.1"); !d.Allowed || d.Count != int64(i) {
					t.Fatalf("request %d: %+v", i, d)
				}
			}
			d := l.Allow(ctx, ClassIssue, "10.0.0.1")
			if d.Allowed {
				t.Fatal("ceiling+1 request was allowed")
			}
			if d.RetryAfter <= 0 || d.RetryAfter > Window {
				t.Errorf("RetryAfter = %v", d.RetryAfter)
			}

			if d := l.Allow(ctx, ClassIssue, "10.0.0.2"); !d.Allowed {
				t.Error("other client was limited")
			}
			if d := l.Allow(ctx, ClassRedeem, "10.0.0.1"); !d.Allowed {
				t.Error("other class shares the issue counter")
			}
		})
	}
}

func TestLimiter_UnknownClassUnlimited(t *testing.T) {
	l := NewLimiter(NewMemoryCounter(), map[Class]int{ClassIssue: 1})
	for range 5 {
		if d := l.Allow(context.Background(), "other", "c"); !d.Allowed {
			t.Fatal("unconfigured class should be unlimited")
		}
	}
}

func TestLimiter_FailsOpen(t *testing.T) {
	l := NewLimiter(failingCounter{}, map[Class]int{ClassRedeem: 1})
	for range 3 {
		if d := l.Allow(context.Background(), ClassRedeem, "c"); !d.Allowed {
			t.Fatal("counter failure should allow the request")
		}
	}
}

func TestMemoryCounter_WindowResets(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c := NewMemoryCounter()
	c.now = func() time.Time { return now }
	ctx := context.Background()

	_, _, _ = c.Incr(ctx, "k", Window)
	n, remaining, _ := c.Incr(ctx, "k", Window)
	if n != 2 || remaining != Window {
		t.Fatalf("Incr() = %d, %v", n, remaining)
	}

	now = now.Add(Window)
	if n, _, _ := c.Incr(ctx, "k", Window); n != 1 {
		t.Errorf("count after window = %d, want 1", n)
	}
}

func TestMemoryCounter_Concurrent(t *testing.T) {
	c := NewMemoryCounter()
	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, _ = c.Incr(context.Background(), "k", Window)
		}()
	}
	wg.Wait()
	if n, _, _ := c.Incr(context.Background(), "k", Window); n != 51 {
		t.Errorf("count = %d, want 51", n)
	}
}

func TestLimiter_Middleware(t *testing.T) {
	l := NewLimiter(NewMemoryCounter(), map[Class]int{ClassRedeem: 2})
	keyFunc := func(r *http.Request) string { return r.RemoteAddr }
	handler := l.Middleware(ClassRedeem, keyFunc, nil)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusFound)
	}))

	codes := make([]int, 0, 3)
	var last *httptest.ResponseRecorder
	for range 3 {
		req := httptest.NewRequest(http.MethodGet, "/play/x", nil)
		req.RemoteAddr = "192.0.2.1"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
		last = rec
	}

	if codes[0] != http.StatusFound || codes[1] != http.StatusFound || codes[2] != http.StatusTooManyRequests {
		t.Fatalf("codes = %v", codes)
	}
	if last.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After header")
	}
	if last.Header().Get("X-RateLimit-Limit") != "2" {
		t.Errorf("X-RateLimit-Limit = %q", last.Header().Get("X-RateLimit-Limit"))
	}
}

func TestRetryAfterSeconds(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want int
	}{
		{0, 1},
		{300 * time.Millisecond, 1},
		{time.Second, 1},
		{1500 * time.Millisecond, 2},
		{Window, 60},
	}
	for _, tt := range tests {
		if got := retryAfterSeconds(tt.in); got != tt.want {
			t.Errorf("retryAfterSeconds(%v) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
