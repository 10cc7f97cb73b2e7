// Reelguard - Protected Lesson Playback Sessions
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/reelguard

package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Counter is an atomic fixed-window counter. Incr increments the counter for
// key, starting a new window of length window when none is open, and returns
// the new count with the time left in the window.
//
// Implementations shared across instances (Redis) are required for correct
// limits when the service is scaled horizontally.
type Counter interface {
	Incr(ctx context.Context, key string, window time.Duration) (count int64, remaining time.Duration, err error)
	Name() string
}

type memoryWindow struct {
	count     int64
	expiresAt time.Time
}

// maxMemoryKeys triggers a sweep of closed windows.
const maxMemoryKeys = 10000

// MemoryCounter is a process-local Counter for development and tests.
type MemoryCounter struct {
	mu      sync.Mutex
	windows map[string]*memoryWindow
	now     func() time.Time
}

// NewMemoryCounter creates an in-memory counter.
func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{windows: make(map[string]*memoryWindow), now: time.Now}
}

// Name implements Counter.
func (c *MemoryCounter) Name() string { return "memory" }

// Incr implements Counter.
func (c *MemoryCounter) Incr(_ context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	w, ok := c.windows[key]
	if !ok || !now.Before(w.expiresAt) {
		if len(c.windows) >= maxMemoryKeys {
			c.sweepLocked(now)
		}
		w = &memoryWindow{expiresAt: now.Add(window)}
		c.windows[key] = w
	}
	w.count++
	return w.count, w.expiresAt.Sub(now), nil
}

func (c *MemoryCounter) sweepLocked(now time.Time) {
	for k, w := range c.windows {
		if !now.Before(w.expiresAt) {
			delete(c.windows, k)
		}
	}
}
