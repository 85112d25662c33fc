package syncutil

import (
	"context"
	"sync"
)

// ContextShardedMutex is a shard pool of channel-based mutexes whose
// acquisition respects context cancellation. Counter reads on the rules
// path run under a sub-timeout; a caller whose budget expires while
// waiting for a contended shard gives up instead of stalling evaluation.
// The zero value is ready to use.
type ContextShardedMutex struct {
	shards [shardCount]chan struct{}
	once   sync.Once
}

// NewContextShardedMutex creates a context-aware sharded mutex.
func NewContextShardedMutex() *ContextShardedMutex {
	m := &ContextShardedMutex{}
	m.init()
	return m
}

func (m *ContextShardedMutex) init() {
	m.once.Do(func() {
		for i := range m.shards {
			m.shards[i] = make(chan struct{}, 1)
			m.shards[i] <- struct{}{} // start unlocked
		}
	})
}

// LockContext acquires the mutex for the given key, or gives up when ctx
// is done first. On success the caller must invoke the returned unlock
// function. An already-expired context never acquires.
func (m *ContextShardedMutex) LockContext(ctx context.Context, key string) (func(), error) {
	m.init()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	shard := m.shards[shardIndex(key)]

	select {
	case <-shard:
		return func() { shard <- struct{}{} }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
