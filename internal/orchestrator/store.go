package orchestrator

import (
	"context"
	"errors"
	"sync"

	"github.com/cardinalpay/arbiter/internal/decision"
	"github.com/cardinalpay/arbiter/internal/pagination"
)

// ErrDecisionNotFound is returned when a decision lookup misses.
var ErrDecisionNotFound = errors.New("decision not found")

// DecisionStore persists finalized decisions for later retrieval. The
// audit log is the source of truth for integrity; this store serves reads.
type DecisionStore interface {
	Create(ctx context.Context, d *decision.Decision) error
	Get(ctx context.Context, tenantID, id string) (*decision.Decision, error)
	ListByEvent(ctx context.Context, tenantID, eventID string) ([]*decision.Decision, error)
	// ListByTenant returns up to limit decisions for the tenant, newest
	// first, strictly older than the cursor position when one is given.
	ListByTenant(ctx context.Context, tenantID string, before *pagination.Cursor, limit int) ([]*decision.Decision, error)
}

// MemoryDecisionStore is an in-memory decision store for single-instance
// deployments and tests.
type MemoryDecisionStore struct {
	mu        sync.RWMutex
	decisions map[string]*decision.Decision // keyed by decision ID
	byEvent   map[string][]string           // tenant/event -> decision IDs
	byTenant  map[string][]string           // tenant -> decision IDs in creation order
}

// NewMemoryDecisionStore creates an empty in-memory store.
func NewMemoryDecisionStore() *MemoryDecisionStore {
	return &MemoryDecisionStore{
		decisions: make(map[string]*decision.Decision),
		byEvent:   make(map[string][]string),
		byTenant:  make(map[string][]string),
	}
}

func eventKey(tenantID, eventID string) string { return tenantID + "/" + eventID }

func (m *MemoryDecisionStore) Create(_ context.Context, d *decision.Decision) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *d
	m.decisions[d.ID] = &cp
	k := eventKey(d.TenantID, d.EventID)
	m.byEvent[k] = append(m.byEvent[k], d.ID)
	m.byTenant[d.TenantID] = append(m.byTenant[d.TenantID], d.ID)
	return nil
}

func (m *MemoryDecisionStore) Get(_ context.Context, tenantID, id string) (*decision.Decision, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	d, ok := m.decisions[id]
	if !ok || d.TenantID != tenantID {
		return nil, ErrDecisionNotFound
	}
	cp := *d
	return &cp, nil
}

func (m *MemoryDecisionStore) ListByEvent(_ context.Context, tenantID, eventID string) ([]*decision.Decision, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := m.byEvent[eventKey(tenantID, eventID)]
	out := make([]*decision.Decision, 0, len(ids))
	for _, id := range ids {
		if d, ok := m.decisions[id]; ok {
			cp := *d
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MemoryDecisionStore) ListByTenant(_ context.Context, tenantID string, before *pagination.Cursor, limit int) ([]*decision.Decision, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	// Creation order is time order, so walk backwards for newest-first.
	// A cursor resumes just past its own row; timestamps alone cannot
	// break ties at microsecond resolution.
	ids := m.byTenant[tenantID]
	start := len(ids) - 1
	if before != nil {
		for i := len(ids) - 1; i >= 0; i-- {
			start = i - 1
			if ids[i] == before.ID {
				break
			}
			if d, ok := m.decisions[ids[i]]; ok && d.CreatedAt.Before(before.CreatedAt) {
				start = i
				break
			}
		}
	}

	out := make([]*decision.Decision, 0, limit)
	for i := start; i >= 0 && len(out) < limit; i-- {
		if d, ok := m.decisions[ids[i]]; ok {
			cp := *d
			out = append(out, &cp)
		}
	}
	return out, nil
}
