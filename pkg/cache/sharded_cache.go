// Package cache provides a sharded in-memory key/value cache with optional
// expiry.
package cache

import (
	"hash/fnv"
	"sync"
	"time"
)

const numShards = 16

// Sharded is a string-keyed cache split over numShards locks.
type Sharded[V any] struct {
	shards [numShards]*shard[V]
	ttl    time.Duration
	now    func() time.Time
}

type shard[V any] struct {
	mu    sync.RWMutex
	items map[string]entry[V]
}

type entry[V any] struct {
	value     V
	updatedAt time.Time
}

// New creates a cache whose entries expire ttl after they were set. A ttl of
// zero or less keeps entries forever.
func New[V any](ttl time.Duration) *Sharded[V] {
	c := &Sharded[V]{ttl: ttl, now: time.Now}
	for i := 0; i < numShards; i++ {
		c.shards[i] = &shard[V]{items: make(map[string]entry[V])}
	}
	return c
}

func (c *Sharded[V]) getShard(key string) *shard[V] {
	h := fnv.New32a()
	h.Write([]byte(key))
	return c.shards[h.Sum32()%numShards]
}

func (c *Sharded[V]) expired(e entry[V], now time.Time) bool {
	return c.ttl > 0 && now.Sub(e.updatedAt) >= c.ttl
}

func (c *Sharded[V]) Set(key string, value V) {
	s := c.getShard(key)
	s.mu.Lock()
	s.items[key] = entry[V]{value: value, updatedAt: c.now()}
	s.mu.Unlock()
}

// Get returns the live value for key.
func (c *Sharded[V]) Get(key string) (V, bool) {
	s := c.getShard(key)
	s.mu.RLock()
	e, ok := s.items[key]
	s.mu.RUnlock()
	if !ok || c.expired(e, c.now()) {
		var zero V
		return zero, false
	}
	return e.value, true
}

// SetIfAbsent stores value unless a live entry exists. It reports whether
// the value was stored.
func (c *Sharded[V]) SetIfAbsent(key string, value V) bool {
	s := c.getShard(key)
	now := c.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.items[key]; ok && !c.expired(e, now) {
		return false
	}
	s.items[key] = entry[V]{value: value, updatedAt: now}
	return true
}

// Len counts stored entries, expired ones included until Cleanup runs.
func (c *Sharded[V]) Len() int {
	total := 0
	for _, s := range c.shards {
		s.mu.RLock()
		total += len(s.items)
		s.mu.RUnlock()
	}
	return total
}

// Cleanup drops expired entries and returns how many were removed.
func (c *Sharded[V]) Cleanup() int {
	if c.ttl <= 0 {
		return 0
	}
	removed := 0
	now := c.now()
	for _, s := range c.shards {
		s.mu.Lock()
		for k, e := range s.items {
			if c.expired(e, now) {
				delete(s.items, k)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}
