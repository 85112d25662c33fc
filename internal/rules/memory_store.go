package rules

import (
	"context"
	"sync"
)

// MemoryRepository is an in-memory rule repository for single-instance
// deployments and tests.
type MemoryRepository struct {
	mu    sync.RWMutex
	rules map[string]*Rule
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{rules: make(map[string]*Rule)}
}

// Put creates or replaces a rule definition.
func (m *MemoryRepository) Put(rule *Rule) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *rule
	m.rules[rule.ID] = &cp
}

// Upsert creates or replaces a rule definition.
func (m *MemoryRepository) Upsert(_ context.Context, rule *Rule) error {
	m.Put(rule)
	return nil
}

// Disable marks a rule as disabled without removing its definition.
func (m *MemoryRepository) Disable(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if r, ok := m.rules[id]; ok {
		r.Enabled = false
	}
	return nil
}

// Delete removes a rule definition.
func (m *MemoryRepository) Delete(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.rules, id)
}

func (m *MemoryRepository) ListEnabled(_ context.Context) ([]*Rule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Rule, 0, len(m.rules))
	for _, r := range m.rules {
		if r.Enabled {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}
