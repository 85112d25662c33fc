// Package idempotency guarantees one decision per (tenant, idempotency key)
// inside the retention window. Retries of an already-decided event get the
// stored decision back; concurrent duplicates coalesce onto one in-flight
// computation instead of racing.
package idempotency

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cardinalpay/arbiter/internal/decision"
)

// DefaultTTL is how long a decided key blocks recomputation.
const DefaultTTL = 24 * time.Hour

// Store persists decided keys. Get returns (nil, nil) on a miss.
type Store interface {
	Get(ctx context.Context, tenantID, key string) (*decision.Decision, error)
	Put(ctx context.Context, tenantID, key string, d *decision.Decision, ttl time.Duration) error
}

type inflightCall struct {
	done chan struct{}
	dec  *decision.Decision
	err  error
}

// Guard wraps a Store with in-process coalescing. The store is advisory:
// if it cannot answer, the guard fails open and computes anyway, because a
// duplicate decision is recoverable and a blocked payment is not.
type Guard struct {
	store  Store
	ttl    time.Duration
	logger *slog.Logger

	mu       sync.Mutex
	inflight map[string]*inflightCall
}

// NewGuard creates a guard over the given store.
func NewGuard(store Store, ttl time.Duration, logger *slog.Logger) *Guard {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Guard{
		store:    store,
		ttl:      ttl,
		logger:   logger,
		inflight: make(map[string]*inflightCall),
	}
}

// GetOrCompute returns the stored decision for the key, or runs compute and
// stores its result. The second return is true when the decision came from
// the cache or a coalesced in-flight computation. Failed computations are
// never cached: the next retry recomputes.
func (g *Guard) GetOrCompute(ctx context.Context, tenantID, key string, compute func(context.Context) (*decision.Decision, error)) (*decision.Decision, bool, error) {
	if cached := g.lookup(ctx, tenantID, key); cached != nil {
		return cached, true, nil
	}

	mapKey := tenantID + "/" + key

	g.mu.Lock()
	if call, ok := g.inflight[mapKey]; ok {
		g.mu.Unlock()
		select {
		case <-call.done:
			return call.dec, true, call.err
		case <-ctx.Done():
			return nil, false, ctx.Err()
		}
	}
	call := &inflightCall{done: make(chan struct{})}
	g.inflight[mapKey] = call
	g.mu.Unlock()

	defer func() {
		g.mu.Lock()
		delete(g.inflight, mapKey)
		g.mu.Unlock()
		close(call.done)
	}()

	// The leader re-checks the store inside the critical section: another
	// instance may have decided the key between our miss and now.
	if cached := g.lookup(ctx, tenantID, key); cached != nil {
		call.dec = cached
		return cached, true, nil
	}

	dec, err := compute(ctx)
	call.dec = dec
	call.err = err
	if err != nil {
		return nil, false, err
	}

	if perr := g.store.Put(ctx, tenantID, key, dec, g.ttl); perr != nil {
		// Fail open: the decision stands even if we could not record the key.
		g.logger.Warn("idempotency store write failed",
			"tenant_id", tenantID, "error", perr)
	}
	return dec, false, nil
}

func (g *Guard) lookup(ctx context.Context, tenantID, key string) *decision.Decision {
	dec, err := g.store.Get(ctx, tenantID, key)
	if err != nil {
		g.logger.Warn("idempotency store read failed, failing open",
			"tenant_id", tenantID, "error", err)
		return nil
	}
	return dec
}
