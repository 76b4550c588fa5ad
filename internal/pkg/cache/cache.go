// Package cache provides a typed TTL cache whose loads are de-duplicated
// while in flight.
package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

type entry[V any] struct {
	value   V
	expires time.Time
}

// TTL caches values of type V under keys of type K. Concurrent GetOrLoad
// calls for a missing key share one loader invocation.
type TTL[K comparable, V any] struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[K]entry[V]
	gen     map[K]uint64
	group   singleflight.Group
	now     func() time.Time
}

func New[K comparable, V any](ttl time.Duration) *TTL[K, V] {
	return &TTL[K, V]{
		ttl:     ttl,
		entries: make(map[K]entry[V]),
		gen:     make(map[K]uint64),
		now:     time.Now,
	}
}

// WithClock replaces the time source. Intended for tests.
func (c *TTL[K, V]) WithClock(now func() time.Time) *TTL[K, V] {
	c.now = now
	return c
}

func (c *TTL[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || !c.now().Before(e.expires) {
		var zero V
		return zero, false
	}
	return e.value, true
}

func (c *TTL[K, V]) Set(key K, value V) {
	c.SetWithTTL(key, value, c.ttl)
}

func (c *TTL[K, V]) SetWithTTL(key K, value V, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry[V]{value: value, expires: c.now().Add(ttl)}
}

// Invalidate drops the keys and detaches any in-flight loads for them, so
// the next caller fetches fresh data and the stale load result is discarded.
func (c *TTL[K, V]) Invalidate(keys ...K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, key := range keys {
		delete(c.entries, key)
		c.gen[key]++
		c.group.Forget(flightKey(key))
	}
}

// InvalidateFunc drops every key matching pred.
func (c *TTL[K, V]) InvalidateFunc(pred func(K) bool) {
	c.mu.Lock()
	keys := make([]K, 0)
	for key := range c.entries {
		if pred(key) {
			keys = append(keys, key)
		}
	}
	c.mu.Unlock()
	c.Invalidate(keys...)
}

func (c *TTL[K, V]) Purge() {
	c.mu.Lock()
	keys := make([]K, 0, len(c.entries))
	for key := range c.entries {
		keys = append(keys, key)
	}
	c.mu.Unlock()
	c.Invalidate(keys...)
}

// GetOrLoad returns the cached value for key or runs load once for all
// concurrent callers. Failed loads are not cached. The load runs detached
// from the caller's cancellation; a caller whose ctx ends stops waiting
// without failing the others.
func (c *TTL[K, V]) GetOrLoad(ctx context.Context, key K, load func(context.Context) (V, error)) (V, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}
	detached := context.WithoutCancel(ctx)
	ch := c.group.DoChan(flightKey(key), func() (interface{}, error) {
		if v, ok := c.Get(key); ok {
			return v, nil
		}
		c.mu.Lock()
		gen := c.gen[key]
		c.mu.Unlock()

		v, err := load(detached)
		if err != nil {
			return v, err
		}

		c.mu.Lock()
		if c.gen[key] == gen {
			c.entries[key] = entry[V]{value: v, expires: c.now().Add(c.ttl)}
		}
		c.mu.Unlock()
		return v, nil
	})

	var zero V
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		return res.Val.(V), nil
	}
}

func flightKey[K comparable](key K) string {
	return fmt.Sprintf("%T:%v", key, key)
}
