// Reelguard - Protected Lesson Playback Sessions
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/reelguard

// Package ratelimit enforces fixed 60-second request ceilings per endpoint
// class and client on top of a shared atomic counter.
//
// This limiter protects infrastructure and never touches session risk. The
// counter store is Redis in production; Badger and memory backends exist for
// single-node deployments and tests.
package ratelimit

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/tomtom215/reelguard/internal/denial"
	"github.com/tomtom215/reelguard/internal/logging"
	"github.com/tomtom215/reelguard/internal/metrics"
)

// Window is the fixed counting window.
const Window = 60 * time.Second

// Class names an endpoint class with its own ceiling.
type Class string

const (
	ClassIssue  Class = "issue"
	ClassRedeem Class = "redeem"
)

// Default ceilings per Window.
const (
	DefaultIssueLimit  = 20
	DefaultRedeemLimit = 30
)

// Decision is the outcome of a single Allow call.
type Decision struct {
	Allowed    bool
	Count      int64
	Limit      int
	RetryAfter time.Duration
}

// Limiter applies per-class ceilings.
type Limiter struct {
	counter Counter
	limits  map[Class]int
}

// NewLimiter creates a limiter. Classes missing from limits are unlimited.
func NewLimiter(counter Counter, limits map[Class]int) *Limiter {
	l := &Limiter{counter: counter, limits: make(map[Class]int, len(limits))}
	for class, n := range limits {
		l.limits[class] = n
	}
	return l
}

// Allow counts one request from client in class. Counter failures are logged
// and the request is allowed.
func (l *Limiter) Allow(ctx context.Context, class Class, client string) Decision {
	limit, ok := l.limits[class]
	if !ok || limit <= 0 {
		return Decision{Allowed: true}
	}

	count, remaining, err := l.counter.Incr(ctx, string(class)+":"+client, Window)
	if err != nil {
		metrics.RateLimitErrors.WithLabelValues(l.counter.Name()).Inc()
		logging.Ctx(ctx).Error().Err(err).
			Str("class", string(class)).
			Str("backend", l.counter.Name()).
			Msg("Rate limit counter unavailable, allowing request")
		return Decision{Allowed: true, Limit: limit}
	}

	d := Decision{Allowed: count <= int64(limit), Count: count, Limit: limit}
	if !d.Allowed {
		d.RetryAfter = remaining
		metrics.RateLimitRejections.WithLabelValues(string(class)).Inc()
	}
	return d
}

// LimitHandler writes the response for a rejected request.
type LimitHandler func(w http.ResponseWriter, r *http.Request, d Decision)

// Middleware limits requests in class keyed by keyFunc. Rejected requests get
// 429 with Retry-After and the body written by onLimit (a plain-text body when nil).
func (l *Limiter) Middleware(class Class, keyFunc func(*http.Request) string, onLimit LimitHandler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d := l.Allow(r.Context(), class, keyFunc(r))
			if d.Limit > 0 {
				w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
			}
			if d.Allowed {
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(d.RetryAfter)))
			if onLimit != nil {
				onLimit(w, r, d)
				return
			}
			http.Error(w, denial.ErrRateLimited.Message, http.StatusTooManyRequests)
		})
	}
}

// retryAfterSeconds rounds up to whole seconds, minimum one.
func retryAfterSeconds(d time.Duration) int {
	secs := int((d + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}
