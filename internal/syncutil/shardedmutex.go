// Package syncutil provides per-key locking over bounded shard pools.
// The velocity gateway sees an unbounded key space (one key per card, IP,
// device), so per-key mutex maps would grow without limit; hashing keys
// onto a fixed shard array keeps memory constant at the cost of occasional
// false sharing between keys on the same shard.
package syncutil

import (
	"hash/fnv"
	"sync"
)

// shardCount is the fixed size of every shard pool in this package.
const shardCount = 256

// shardIndex maps a key to its shard.
func shardIndex(key string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return h.Sum32() % shardCount
}

// ShardedMutex is a pool of mutexes keyed by string. The zero value is
// ready to use.
type ShardedMutex struct {
	shards [shardCount]sync.Mutex
}

// Lock acquires the mutex for the given key and returns its unlock
// function.
func (s *ShardedMutex) Lock(key string) func() {
	mu := &s.shards[shardIndex(key)]
	mu.Lock()
	return mu.Unlock
}
