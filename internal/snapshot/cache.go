// Package snapshot provides TTL caching with request deduplication for the
// expensive aggregate views the engine serves repeatedly.
package snapshot

import (
	"context"
	"sync"
	"time"
)

// inFlight tracks a pending fetch so that concurrent callers wait for its
// result instead of launching their own.
type inFlight[T any] struct {
	done   chan struct{}
	result T
	err    error
}

type entry[T any] struct {
	value     T
	fetchedAt time.Time
}

// Stats tracks cache performance.
type Stats struct {
	Hits         int64 `json:"hits"`
	Misses       int64 `json:"misses"`
	Deduplicated int64 `json:"deduplicated"`
}

// Cache is a keyed TTL cache with single-flight fetching. A miss runs the
// fetch exactly once no matter how many callers arrive concurrently; they
// all receive that fetch's result. A failed fetch is delivered to every
// waiter and never cached, so the next caller retries.
type Cache[T any] struct {
	ttl time.Duration

	mu      sync.Mutex
	entries map[string]entry[T]
	pending map[string]*inFlight[T]
	hits    int64
	misses  int64
	deduped int64
}

// NewCache builds an empty cache whose entries live for ttl.
func NewCache[T any](ttl time.Duration) *Cache[T] {
	return &Cache[T]{
		ttl:     ttl,
		entries: make(map[string]entry[T]),
		pending: make(map[string]*inFlight[T]),
	}
}

// GetOrFetch returns the cached value for key, or runs fetch to produce it.
// Concurrent callers for the same key share one fetch.
func (c *Cache[T]) GetOrFetch(ctx context.Context, key string, fetch func(context.Context) (T, error)) (T, error) {
	c.mu.Lock()
	if e, ok := c.entries[key]; ok && time.Since(e.fetchedAt) < c.ttl {
		c.hits++
		c.mu.Unlock()
		return e.value, nil
	}
	if flight, ok := c.pending[key]; ok {
		c.deduped++
		c.mu.Unlock()
		select {
		case <-flight.done:
			return flight.result, flight.err
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		}
	}
	c.misses++
	flight := &inFlight[T]{done: make(chan struct{})}
	c.pending[key] = flight
	c.mu.Unlock()

	value, err := fetch(ctx)
	flight.result = value
	flight.err = err

	c.mu.Lock()
	delete(c.pending, key)
	if err == nil {
		c.entries[key] = entry[T]{value: value, fetchedAt: time.Now()}
	}
	c.mu.Unlock()
	close(flight.done)

	return value, err
}

// Peek returns the cached value without fetching, reporting whether a fresh
// entry exists.
func (c *Cache[T]) Peek(key string) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || time.Since(e.fetchedAt) >= c.ttl {
		var zero T
		return zero, false
	}
	return e.value, true
}

// Invalidate drops the entry for key. An in-flight fetch is unaffected; its
// result still lands in the cache when it completes.
func (c *Cache[T]) Invalidate(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// InvalidateAll drops every entry.
func (c *Cache[T]) InvalidateAll() {
	c.mu.Lock()
	c.entries = make(map[string]entry[T])
	c.mu.Unlock()
}

// Stats returns a snapshot of the hit counters.
func (c *Cache[T]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{Hits: c.hits, Misses: c.misses, Deduplicated: c.deduped}
}
