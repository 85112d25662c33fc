package idempotency

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cardinalpay/arbiter/internal/decision"
)

type memoryEntry struct {
	dec       *decision.Decision
	expiresAt time.Time
}

// MemoryStore is an in-memory idempotency store for single-instance
// deployments and tests. Expired entries are dropped lazily on read and
// swept periodically by the janitor.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
	running atomic.Bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]*memoryEntry)}
}

func memKey(tenantID, key string) string { return tenantID + "/" + key }

func (m *MemoryStore) Get(_ context.Context, tenantID, key string) (*decision.Decision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[memKey(tenantID, key)]
	if !ok {
		return nil, nil
	}
	if time.Now().After(e.expiresAt) {
		delete(m.entries, memKey(tenantID, key))
		return nil, nil
	}
	return e.dec, nil
}

func (m *MemoryStore) Put(_ context.Context, tenantID, key string, d *decision.Decision, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[memKey(tenantID, key)] = &memoryEntry{
		dec:       d,
		expiresAt: time.Now().Add(ttl),
	}
	return nil
}

// Sweep removes expired entries and returns how many were dropped.
func (m *MemoryStore) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	dropped := 0
	for k, e := range m.entries {
		if now.After(e.expiresAt) {
			delete(m.entries, k)
			dropped++
		}
	}
	return dropped
}

// Len returns the number of live entries.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Running reports whether the janitor loop is active.
func (m *MemoryStore) Running() bool { return m.running.Load() }

// StartJanitor sweeps expired entries on the given interval until the
// context is cancelled. Call in a goroutine.
func (m *MemoryStore) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	m.running.Store(true)
	defer m.running.Store(false)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}
