// Package cache provides the TTL cache service injected into the register
// engines. Keys are namespaced by concern ("status", "recon:<openTime>",
// "timeline:logs:<day>", …) so concurrent callers converge on one in-flight
// fetch instead of duplicating collaborator requests.
package cache

import (
	"sync"
	"time"
)

// Store is the explicit cache contract the engines depend on.
type Store interface {
	Get(key string) (interface{}, bool)
	Set(key string, value interface{}, ttl time.Duration)
	Invalidate(key string)
	InvalidatePrefix(prefix string)
	// Do returns the cached value for key, or runs fn once and caches its
	// result for ttl. Concurrent callers for the same key share a single
	// in-flight fn call; errors are returned to every waiter and not cached.
	Do(key string, ttl time.Duration, fn func() (interface{}, error)) (interface{}, error)
}

type entry struct {
	value     interface{}
	expiresAt time.Time
}

type call struct {
	done  chan struct{}
	value interface{}
	err   error
}

// TTLCache is the in-memory Store implementation. Values stay typed in-process
// objects, so a cache hit returns the same pointer the fetch produced.
type TTLCache struct {
	mu       sync.Mutex
	entries  map[string]entry
	inFlight map[string]*call
	now      func() time.Time
}

func New() *TTLCache {
	return &TTLCache{
		entries:  make(map[string]entry),
		inFlight: make(map[string]*call),
		now:      time.Now,
	}
}

func (c *TTLCache) Get(key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.now().After(e.expiresAt) {
		delete(c.entries, key)
		return nil, false
	}
	return e.value, true
}

func (c *TTLCache) Set(key string, value interface{}, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry{value: value, expiresAt: c.now().Add(ttl)}
}

func (c *TTLCache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

func (c *TTLCache) InvalidatePrefix(prefix string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.entries {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			delete(c.entries, k)
		}
	}
}

func (c *TTLCache) Do(key string, ttl time.Duration, fn func() (interface{}, error)) (interface{}, error) {
	c.mu.Lock()
	if e, ok := c.entries[key]; ok && c.now().Before(e.expiresAt) {
		c.mu.Unlock()
		return e.value, nil
	}
	if cl, ok := c.inFlight[key]; ok {
		c.mu.Unlock()
		<-cl.done
		return cl.value, cl.err
	}
	cl := &call{done: make(chan struct{})}
	c.inFlight[key] = cl
	c.mu.Unlock()

	cl.value, cl.err = fn()

	c.mu.Lock()
	delete(c.inFlight, key)
	if cl.err == nil {
		c.entries[key] = entry{value: cl.value, expiresAt: c.now().Add(ttl)}
	}
	c.mu.Unlock()
	close(cl.done)
	return cl.value, cl.err
}
