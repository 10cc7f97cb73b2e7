// Reelguard - Protected Lesson Playback Sessions
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/reelguard

package session

import "time"

// DefaultNonceCapacity bounds the ledger when no capacity is configured.
const DefaultNonceCapacity = 20

// NonceEntry tracks one issued playback nonce.
type NonceEntry struct {
	Value     string     `json:"value"`
	Used      bool       `json:"used"`
	ExpiresAt time.Time  `json:"expires_at"`
	CreatedAt time.Time  `json:"created_at"`
	UsedAt    *time.Time `json:"used_at,omitempty"`
}

// NonceLedger is a bounded, insertion-ordered record of the nonces issued
// for a session. When full, registering a new nonce evicts the oldest.
type NonceLedger struct {
	Capacity int          `json:"capacity"`
	Entries  []NonceEntry `json:"entries"`
}

// NewNonceLedger creates an empty ledger.
func NewNonceLedger(capacity int) *NonceLedger {
	if capacity <= 0 {
		capacity = DefaultNonceCapacity
	}
	return &NonceLedger{Capacity: capacity, Entries: make([]NonceEntry, 0, capacity)}
}

// Register records an unused nonce valid until now+ttl.
func (l *NonceLedger) Register(value string, now time.Time, ttl time.Duration) {
	l.Entries = append(l.Entries, NonceEntry{
		Value:     value,
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
	})
	if over := len(l.Entries) - l.capacity(); over > 0 {
		l.Entries = append(l.Entries[:0], l.Entries[over:]...)
	}
}

// Consume marks the nonce used. Check order: unknown, already used, expired.
func (l *NonceLedger) Consume(value string, now time.Time) error {
	i := l.index(value)
	if i < 0 {
		return ErrNonceNotFound
	}
	entry := &l.Entries[i]
	if entry.Used {
		return ErrNonceAlreadyUsed
	}
	if now.After(entry.ExpiresAt) {
		return ErrNonceExpired
	}
	entry.Used = true
	usedAt := now
	entry.UsedAt = &usedAt
	return nil
}

// Lookup returns the entry for value.
func (l *NonceLedger) Lookup(value string) (NonceEntry, bool) {
	if i := l.index(value); i >= 0 {
		return l.Entries[i], true
	}
	return NonceEntry{}, false
}

// Len returns the number of tracked nonces.
func (l *NonceLedger) Len() int {
	if l == nil {
		return 0
	}
	return len(l.Entries)
}

// Clone returns a deep copy.
func (l *NonceLedger) Clone() *NonceLedger {
	if l == nil {
		return nil
	}
	c := &NonceLedger{Capacity: l.Capacity, Entries: make([]NonceEntry, len(l.Entries))}
	for i, e := range l.Entries {
		if e.UsedAt != nil {
			t := *e.UsedAt
			e.UsedAt = &t
		}
		c.Entries[i] = e
	}
	return c
}

func (l *NonceLedger) index(value string) int {
	for i := range l.Entries {
		if l.Entries[i].Value == value {
			return i
		}
	}
	return -1
}

func (l *NonceLedger) capacity() int {
	if l.Capacity <= 0 {
		return DefaultNonceCapacity
	}
	return l.Capacity
}
