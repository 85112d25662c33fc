// Package velocity provides counter aggregates and list membership for rule
// evaluation: "how many transactions on this card in the last hour" and
// "is this merchant on the deny list". The backing store is external; this
// package defines the access contract plus an in-memory implementation and
// a Postgres-backed list store.
package velocity

import (
	"context"
	"errors"
	"time"
)

// Window identifiers accepted by Count.
const (
	Window1h  = time.Hour
	Window24h = 24 * time.Hour
	Window7d  = 7 * 24 * time.Hour
)

// ErrUnavailable is returned when the backing store cannot answer in time.
// Callers treat the result as 0 / false and note the degradation.
var ErrUnavailable = errors.New("velocity: store unavailable")

// Gateway is the capability the rule evaluator calls for aggregates and
// set membership. Implementations must answer within a few milliseconds or
// return ErrUnavailable.
type Gateway interface {
	// Count returns the number of events recorded for key within window.
	Count(ctx context.Context, key string, window time.Duration) (int, error)
	// Sum returns the total amount recorded for key within window.
	Sum(ctx context.Context, key string, window time.Duration) (float64, error)
	// IsMember reports whether value is in the named list.
	IsMember(ctx context.Context, listID, value string) (bool, error)
}

// Recorder is the write side: the decision service records each scored
// transaction so future evaluations see it.
type Recorder interface {
	Record(ctx context.Context, key string, amount float64, at time.Time) error
}

// ListStore manages deny/allow list entries.
type ListStore interface {
	Add(ctx context.Context, listID, value, reason string) error
	Remove(ctx context.Context, listID, value string) error
	Contains(ctx context.Context, listID, value string) (bool, error)
}
