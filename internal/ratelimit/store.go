package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

// Store holds per-identifier windows. Take runs the check-and-record step as a
// single critical section per identifier, Peek prunes and reports without recording.
type Store interface {
	Take(ctx context.Context, key string, p Policy, now time.Time) (Result, error)
	Peek(ctx context.Context, key string, p Policy, now time.Time) (Result, error)
}

const shardCount = 64

type shard struct {
	mu      sync.Mutex
	windows map[string][]int64
}

// MemoryStore is the in-process store. Identifiers are spread across fixed
// shards by hash, each shard has its own lock, so calls for one identifier are
// serialized while unrelated identifiers rarely contend.
//
// Entries are never evicted. Stale timestamps are pruned on the next access to
// the same identifier.
type MemoryStore struct {
	shards [shardCount]shard
}

// NewMemoryStore returns an empty in-memory store
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{}
	for i := range s.shards {
		s.shards[i].windows = make(map[string][]int64)
	}
	return s
}

func (s *MemoryStore) shardFor(key string) *shard {
	return &s.shards[xxhash.Sum64String(key)%shardCount]
}

// Take never returns an error
func (s *MemoryStore) Take(_ context.Context, key string, p Policy, now time.Time) (Result, error) {
	return s.do(key, p, now, true), nil
}

// Peek never returns an error
func (s *MemoryStore) Peek(_ context.Context, key string, p Policy, now time.Time) (Result, error) {
	return s.do(key, p, now, false), nil
}

func (s *MemoryStore) do(key string, p Policy, now time.Time, record bool) Result {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	ts, res := evaluate(sh.windows[key], now.UnixMilli(), p, record)
	if record {
		sh.windows[key] = ts
	} else if _, ok := sh.windows[key]; ok {
		sh.windows[key] = ts
	}
	return res
}

// Len returns the number of identifiers currently tracked
func (s *MemoryStore) Len() int {
	n := 0
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		n += len(sh.windows)
		sh.mu.Unlock()
	}
	return n
}
