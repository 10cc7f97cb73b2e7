// Reelguard - Protected Lesson Playback Sessions
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/reelguard

package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/tomtom215/reelguard/internal/logging"
	"github.com/tomtom215/reelguard/internal/metrics"
)

// Key prefixes for BadgerDB storage
const (
	sessionKeyPrefix = "session:"
	activeKeyPrefix  = "session_active:"
	eventKeyPrefix   = "event:"
)

// maxConflictRetries bounds optimistic transaction retries.
const maxConflictRetries = 32

// BadgerStore implements Store on BadgerDB.
//
// Badger transactions are optimistic: a transaction that read a key written
// by a concurrently committed transaction fails with badger.ErrConflict and
// is re-run against fresh state, which makes every Update an atomic
// read-modify-write of one session.
type BadgerStore struct {
	db *badger.DB
}

// NewBadgerStore wraps an open BadgerDB.
func NewBadgerStore(db *badger.DB) *BadgerStore {
	return &BadgerStore{db: db}
}

func sessionKey(token string) []byte {
	return []byte(sessionKeyPrefix + token)
}

func activeKey(contentID, userID string) []byte {
	return []byte(activeKeyPrefix + pairKey(contentID, userID))
}

func eventKey(ev *SecurityEvent) []byte {
	return []byte(fmt.Sprintf("%s%s:%020d:%s", eventKeyPrefix, ev.SessionID, ev.CreatedAt.UnixNano(), ev.ID))
}

// update runs fn in a read-write transaction, retrying on conflict.
func (s *BadgerStore) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	for attempt := 0; ; attempt++ {
		err := s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		if attempt+1 >= maxConflictRetries {
			return fmt.Errorf("session store: %w", err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		metrics.StoreConflictRetries.Inc()
		logging.Ctx(ctx).Debug().Int("attempt", attempt+1).Msg("Badger transaction conflict, retrying")
	}
}

func readSession(txn *badger.Txn, token string) (*Session, error) {
	item, err := txn.Get(sessionKey(token))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}

	var sess Session
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &sess)
	}); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	return &sess, nil
}

func writeSession(txn *badger.Txn, sess *Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	if err := txn.Set(sessionKey(sess.Token), data); err != nil {
		return fmt.Errorf("set session: %w", err)
	}
	return nil
}

func writeEvent(txn *badger.Txn, ev *SecurityEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := txn.Set(eventKey(ev), data); err != nil {
		return fmt.Errorf("set event: %w", err)
	}
	return nil
}

// Get implements Store.
func (s *BadgerStore) Get(_ context.Context, token string) (*Session, error) {
	var sess *Session
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		sess, err = readSession(txn, token)
		return err
	})
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// Update implements Store.
func (s *BadgerStore) Update(ctx context.Context, token string, fn Mutation) (*Session, error) {
	var committed *Session
	err := s.update(ctx, func(txn *badger.Txn) error {
		sess, err := readSession(txn, token)
		if err != nil {
			return err
		}

		events, err := fn(sess)
		if err != nil {
			return err
		}

		if err := writeSession(txn, sess); err != nil {
			return err
		}
		for _, ev := range events {
			if err := writeEvent(txn, ev); err != nil {
				return err
			}
		}
		committed = sess
		return nil
	})
	if err != nil {
		return nil, err
	}
	return committed, nil
}

// StartOrResume implements Store.
func (s *BadgerStore) StartOrResume(ctx context.Context, candidate *Session, now time.Time) (*Session, bool, error) {
	var (
		result  *Session
		resumed bool
	)
	err := s.update(ctx, func(txn *badger.Txn) error {
		result, resumed = nil, false

		key := activeKey(candidate.ContentID, candidate.UserID)
		item, err := txn.Get(key)
		switch {
		case err == nil:
			token, err := item.ValueCopy(nil)
			if err != nil {
				return fmt.Errorf("read active index: %w", err)
			}
			existing, err := readSession(txn, string(token))
			if err != nil && !errors.Is(err, ErrSessionNotFound) {
				return err
			}
			if existing != nil {
				if existing.CheckActive(now) == nil {
					result, resumed = existing, true
					return nil
				}
				// Persist the lazy expiry before replacing the index entry.
				if err := writeSession(txn, existing); err != nil {
					return err
				}
			}
		case !errors.Is(err, badger.ErrKeyNotFound):
			return fmt.Errorf("get active index: %w", err)
		}

		if err := writeSession(txn, candidate); err != nil {
			return err
		}
		if err := txn.Set(key, []byte(candidate.Token)); err != nil {
			return fmt.Errorf("set active index: %w", err)
		}
		result = candidate.Clone()
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return result, resumed, nil
}

// ListEvents implements Store.
func (s *BadgerStore) ListEvents(_ context.Context, sessionID string) ([]*SecurityEvent, error) {
	prefix := []byte(eventKeyPrefix + sessionID + ":")
	var events []*SecurityEvent

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var ev SecurityEvent
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &ev)
			}); err != nil {
				return fmt.Errorf("unmarshal event: %w", err)
			}
			events = append(events, &ev)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}

// Close implements Store. The DB itself is owned by the caller.
func (s *BadgerStore) Close() error {
	return nil
}

// OpenBadger opens a BadgerDB at path, or an in-memory DB when path is empty.
func OpenBadger(path string) (*badger.DB, error) {
	var opts badger.Options
	if path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(path)
	}
	opts = opts.WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return db, nil
}
