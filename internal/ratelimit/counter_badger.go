// Reelguard - Protected Lesson Playback Sessions
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/reelguard

package ratelimit

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
)

const badgerKeyPrefix = "ratelimit:"

// maxBadgerRetries bounds optimistic transaction retries.
const maxBadgerRetries = 32

// BadgerCounter keeps window counters in BadgerDB entries whose TTL is the
// window end. Badger expiry has one-second resolution. Suitable for a
// single instance only.
type BadgerCounter struct {
	db *badger.DB
}

// NewBadgerCounter creates a counter on an open BadgerDB.
func NewBadgerCounter(db *badger.DB) *BadgerCounter {
	return &BadgerCounter{db: db}
}

// Name implements Counter.
func (c *BadgerCounter) Name() string { return "badger" }

// Incr implements Counter.
func (c *BadgerCounter) Incr(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	k := []byte(badgerKeyPrefix + key)
	var (
		count     int64
		remaining time.Duration
	)

	for attempt := 0; attempt < maxBadgerRetries; attempt++ {
		err := c.db.Update(func(txn *badger.Txn) error {
			now := time.Now()
			count, remaining = 1, window

			item, err := txn.Get(k)
			switch {
			case err == nil:
				expiresAt := time.Unix(int64(item.ExpiresAt()), 0)
				if item.ExpiresAt() != 0 && now.Before(expiresAt) {
					val, err := item.ValueCopy(nil)
					if err != nil {
						return fmt.Errorf("read counter: %w", err)
					}
					if len(val) == 8 {
						count = int64(binary.BigEndian.Uint64(val)) + 1
					}
					remaining = expiresAt.Sub(now)
				}
			case !errors.Is(err, badger.ErrKeyNotFound):
				return fmt.Errorf("get counter: %w", err)
			}

			val := make([]byte, 8)
			binary.BigEndian.PutUint64(val, uint64(count))
			return txn.SetEntry(badger.NewEntry(k, val).WithTTL(remaining))
		})
		if err == nil {
			return count, remaining, nil
		}
		if !errors.Is(err, badger.ErrConflict) {
			return 0, 0, err
		}
		if ctx.Err() != nil {
			return 0, 0, ctx.Err()
		}
	}
	return 0, 0, fmt.Errorf("rate limit counter: %w", badger.ErrConflict)
}
