package audit

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory audit store for single-instance deployments
// and tests. Entries are copied on the way in and out so callers can never
// mutate the stored chain.
type MemoryStore struct {
	mu     sync.RWMutex
	chains map[string][]*Entry
}

// NewMemoryStore creates an empty in-memory audit store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{chains: make(map[string][]*Entry)}
}

func (m *MemoryStore) Append(_ context.Context, e *Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *e
	m.chains[e.ChainID] = append(m.chains[e.ChainID], &cp)
	return nil
}

func (m *MemoryStore) Last(_ context.Context, chainID string) (*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	chain := m.chains[chainID]
	if len(chain) == 0 {
		return nil, nil
	}
	cp := *chain[len(chain)-1]
	return &cp, nil
}

func (m *MemoryStore) List(_ context.Context, chainID string, limit int) ([]*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	chain := m.chains[chainID]
	if limit <= 0 || limit > len(chain) {
		limit = len(chain)
	}
	out := make([]*Entry, 0, limit)
	for _, e := range chain[:limit] {
		cp := *e
		out = append(out, &cp)
	}
	return out, nil
}
