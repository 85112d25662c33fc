package velocity

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/cardinalpay/arbiter/internal/syncutil"
)

const (
	maxEventsPerKey = 1000
	retention       = Window7d
)

type event struct {
	Amount float64
	At     time.Time
}

// Memory is an in-memory Gateway backed by per-key sliding windows, the
// same shape the scoring engine uses for its own history. Suitable for a
// single instance and for tests; production deployments point the gateway
// at a shared cache.
//
// Counter reads run inside the rules sub-timeout, so window locks are
// context-aware: a caller whose budget expires while waiting gives up
// instead of blocking the evaluation path.
type Memory struct {
	windowMu syncutil.ContextShardedMutex
	windows  sync.Map // map[string]*keyWindow

	listMu syncutil.ShardedMutex
	lists  sync.Map // map[string]map[string]string: listID -> value -> reason
}

type keyWindow struct {
	events []event
}

// NewMemory creates an empty in-memory gateway.
func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) getWindow(key string) *keyWindow {
	v, _ := m.windows.LoadOrStore(key, &keyWindow{})
	return v.(*keyWindow)
}

// Record appends an event to the key's window, pruning expired entries.
func (m *Memory) Record(ctx context.Context, key string, amount float64, at time.Time) error {
	unlock, err := m.windowMu.LockContext(ctx, key)
	if err != nil {
		return err
	}
	defer unlock()

	w := m.getWindow(key)
	w.events = append(w.events, event{Amount: amount, At: at})
	m.prune(w)
	return nil
}

// prune removes events past retention and caps the window size.
// Caller holds the key's window lock.
func (m *Memory) prune(w *keyWindow) {
	cutoff := time.Now().Add(-retention)
	start := 0
	for start < len(w.events) && w.events[start].At.Before(cutoff) {
		start++
	}
	if start > 0 {
		w.events = w.events[start:]
	}
	if len(w.events) > maxEventsPerKey {
		w.events = w.events[len(w.events)-maxEventsPerKey:]
	}
}

func (m *Memory) Count(ctx context.Context, key string, window time.Duration) (int, error) {
	unlock, err := m.windowMu.LockContext(ctx, key)
	if err != nil {
		return 0, err
	}
	defer unlock()

	cutoff := time.Now().Add(-window)
	n := 0
	for _, e := range m.getWindow(key).events {
		if e.At.After(cutoff) {
			n++
		}
	}
	return n, nil
}

func (m *Memory) Sum(ctx context.Context, key string, window time.Duration) (float64, error) {
	unlock, err := m.windowMu.LockContext(ctx, key)
	if err != nil {
		return 0, err
	}
	defer unlock()

	cutoff := time.Now().Add(-window)
	total := 0.0
	for _, e := range m.getWindow(key).events {
		if e.At.After(cutoff) {
			total += e.Amount
		}
	}
	return total, nil
}

func (m *Memory) IsMember(_ context.Context, listID, value string) (bool, error) {
	unlock := m.listMu.Lock(listID)
	defer unlock()

	v, ok := m.lists.Load(listID)
	if !ok {
		return false, nil
	}
	_, ok = v.(map[string]string)[strings.TrimSpace(value)]
	return ok, nil
}

// Add puts a value on a list.
func (m *Memory) Add(_ context.Context, listID, value, reason string) error {
	unlock := m.listMu.Lock(listID)
	defer unlock()

	v, _ := m.lists.LoadOrStore(listID, make(map[string]string))
	v.(map[string]string)[strings.TrimSpace(value)] = reason
	return nil
}

// Remove takes a value off a list.
func (m *Memory) Remove(_ context.Context, listID, value string) error {
	unlock := m.listMu.Lock(listID)
	defer unlock()

	if v, ok := m.lists.Load(listID); ok {
		delete(v.(map[string]string), strings.TrimSpace(value))
	}
	return nil
}

// Contains is IsMember under the ListStore interface.
func (m *Memory) Contains(ctx context.Context, listID, value string) (bool, error) {
	return m.IsMember(ctx, listID, value)
}
