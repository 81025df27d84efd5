// Package dedup suppresses redelivered change events. A claim is taken on the
// event's (key, sequence) identity before processing and released again if
// processing fails, so a later redelivery can retry it.
package dedup

import (
	"context"
	"sync"
	"time"
)

// Store records which events have already been claimed.
type Store interface {
	// Claim returns true if id was not yet claimed and is now owned by the caller.
	Claim(ctx context.Context, id string) (bool, error)
	Release(ctx context.Context, id string) error
}

// MemoryStore is a process-local TTL set. Expired entries are swept lazily on Claim.
type MemoryStore struct {
	mu        sync.Mutex
	ttl       time.Duration
	entries   map[string]time.Time
	clock     func() time.Time
	lastSweep time.Time
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		ttl:     ttl,
		entries: make(map[string]time.Time),
		clock:   time.Now,
	}
}

func (m *MemoryStore) Claim(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock()
	m.sweepLocked(now)

	if exp, ok := m.entries[id]; ok && now.Before(exp) {
		return false, nil
	}
	m.entries[id] = now.Add(m.ttl)
	return true, nil
}

func (m *MemoryStore) Release(ctx context.Context, id string) error {
	m.mu.Lock()
	delete(m.entries, id)
	m.mu.Unlock()
	return nil
}

// Len returns the number of live claims.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func (m *MemoryStore) sweepLocked(now time.Time) {
	if now.Sub(m.lastSweep) < m.ttl {
		return
	}
	for id, exp := range m.entries {
		if !now.Before(exp) {
			delete(m.entries, id)
		}
	}
	m.lastSweep = now
}

var _ Store = (*MemoryStore)(nil)
