// Reelguard - Protected Lesson Playback Sessions
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/reelguard

package session

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Mutation modifies a session inside a store transaction and returns the
// security events to append in the same transaction. Returning an error
// aborts the transaction. A mutation may run more than once when the
// backing store retries on conflict, so it must only touch s and locals.
type Mutation func(s *Session) ([]*SecurityEvent, error)

// Store persists sessions and their security events.
//
// Every method that changes a session is atomic per session: concurrent
// Updates of one session are serialized, and events are committed together
// with the session change that produced them.
type Store interface {
	// Get returns a copy of the session identified by token.
	Get(ctx context.Context, token string) (*Session, error)

	// Update applies fn to the session identified by token and returns the
	// committed copy. ErrSessionNotFound is returned for unknown tokens.
	Update(ctx context.Context, token string, fn Mutation) (*Session, error)

	// StartOrResume returns the Active, unexpired session for the
	// candidate's (content, user) pair, or stores candidate when none exists.
	// The boolean reports whether an existing session was resumed.
	StartOrResume(ctx context.Context, candidate *Session, now time.Time) (*Session, bool, error)

	// ListEvents returns the session's events in creation order.
	ListEvents(ctx context.Context, sessionID string) ([]*SecurityEvent, error)

	// Close releases resources.
	Close() error
}

// MemoryStore is an in-process Store for development and tests.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*Session // by token
	active   map[string]string   // pair key -> token
	events   map[string][]*SecurityEvent
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*Session),
		active:   make(map[string]string),
		events:   make(map[string][]*SecurityEvent),
	}
}

func pairKey(contentID, userID string) string {
	return contentID + "\x00" + userID
}

// Get implements Store.
func (m *MemoryStore) Get(_ context.Context, token string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[token]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s.Clone(), nil
}

// Update implements Store.
func (m *MemoryStore) Update(_ context.Context, token string, fn Mutation) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.sessions[token]
	if !ok {
		return nil, ErrSessionNotFound
	}

	work := current.Clone()
	events, err := fn(work)
	if err != nil {
		return nil, err
	}

	m.sessions[token] = work
	for _, ev := range events {
		m.events[work.ID] = append(m.events[work.ID], ev)
	}
	return work.Clone(), nil
}

// StartOrResume implements Store.
func (m *MemoryStore) StartOrResume(_ context.Context, candidate *Session, now time.Time) (*Session, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := pairKey(candidate.ContentID, candidate.UserID)
	if token, ok := m.active[key]; ok {
		if existing, ok := m.sessions[token]; ok {
			if existing.CheckActive(now) == nil {
				return existing.Clone(), true, nil
			}
		}
	}

	stored := candidate.Clone()
	m.sessions[stored.Token] = stored
	m.active[key] = stored.Token
	return stored.Clone(), false, nil
}

// ListEvents implements Store.
func (m *MemoryStore) ListEvents(_ context.Context, sessionID string) ([]*SecurityEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	src := m.events[sessionID]
	out := make([]*SecurityEvent, len(src))
	copy(out, src)
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Close implements Store.
func (m *MemoryStore) Close() error {
	return nil
}
