package muxcache

import (
	"sync"

	"github.com/zeebo/xxh3"
)

// DefaultShards is the number of independently locked partitions of the store.
const DefaultShards = 64

// entry is a stored value. It is replaced as a whole and never mutated in place.
type entry struct {
	typeID uint32
	data   []byte
}

type shard struct {
	mu    sync.RWMutex
	items map[string]entry
}

// store is the process-wide key/entry map. Keys are spread over shards by xxh3 hash;
// readers of a shard share its lock, writers hold it exclusively.
type store struct {
	shards []*shard
}

func newStore(shards int) *store {
	if shards <= 0 {
		shards = DefaultShards
	}
	s := &store{shards: make([]*shard, shards)}
	for i := range s.shards {
		s.shards[i] = &shard{items: make(map[string]entry)}
	}
	return s
}

func (s *store) shardFor(key []byte) *shard {
	return s.shards[xxh3.Hash(key)%uint64(len(s.shards))]
}

func (s *store) get(key []byte) (entry, bool) {
	sh := s.shardFor(key)
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	e, ok := sh.items[string(key)]
	return e, ok
}

// set inserts or replaces the entry for key. mutate runs under the write lock before the
// entry is stored; it is nil outside of tests.
func (s *store) set(key []byte, e entry, mutate func()) {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if mutate != nil {
		mutate()
	}
	sh.items[string(key)] = e
}

func (s *store) len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.RLock()
		n += len(sh.items)
		sh.mu.RUnlock()
	}
	return n
}
