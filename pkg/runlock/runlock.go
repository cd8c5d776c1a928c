// Package runlock provides a single-flight lock for batch runs, so a
// double-fired scheduler cannot stack two runs on top of each other.
package runlock

import (
	"context"
	"sync"
	"time"
)

// Locker acquires a named lock with a safety TTL. ok is false when another
// holder already owns the lock; release is non-nil only when ok is true.
// The TTL bounds how long a crashed holder can wedge the lock.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), ok bool, err error)
}

// Memory is an in-process Locker, used when no Redis is configured. It is
// sufficient for a single-instance deployment.
type Memory struct {
	mu   sync.Mutex
	next uint64
	held map[string]memoryEntry
}

// memoryEntry tracks the current holder. The token plays the same role as
// the Redis locker's per-acquisition value: a release arriving after TTL
// expiry must not drop a newer holder's lock.
type memoryEntry struct {
	expiry time.Time
	token  uint64
}

// NewMemory creates an in-process locker.
func NewMemory() *Memory {
	return &Memory{held: make(map[string]memoryEntry)}
}

// Acquire implements Locker.
func (m *Memory) Acquire(_ context.Context, key string, ttl time.Duration) (func(), bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if entry, ok := m.held[key]; ok && time.Now().Before(entry.expiry) {
		return nil, false, nil
	}

	m.next++
	token := m.next
	m.held[key] = memoryEntry{expiry: time.Now().Add(ttl), token: token}

	release := func() {
		m.mu.Lock()
		if entry, ok := m.held[key]; ok && entry.token == token {
			delete(m.held, key)
		}
		m.mu.Unlock()
	}
	return release, true, nil
}
