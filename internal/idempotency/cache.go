// Package idempotency replays the response of a routed request when a client
// retries it with the same Idempotency-Key, so a retry is not billed twice.
package idempotency

import (
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Header is the request header carrying the client's key.
const Header = "Idempotency-Key"

// Entry is a cached response.
type Entry struct {
	Body       []byte
	StatusCode int
	Header     http.Header
	CreatedAt  time.Time
}

// Cache is a TTL-bounded, size-limited in-memory store of responses.
type Cache struct {
	mu         sync.Mutex
	entries    map[string]*Entry
	ttl        time.Duration
	maxEntries int
	now        func() time.Time

	flight   singleflight.Group
	stop     chan struct{}
	stopOnce sync.Once
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// New creates a Cache that expires entries after ttl and evicts the oldest
// entry when maxEntries is reached. A background goroutine prunes expired
// entries every ttl/2.
func New(ttl time.Duration, maxEntries int, opts ...Option) *Cache {
	c := &Cache{
		entries:    make(map[string]*Entry),
		ttl:        ttl,
		maxEntries: maxEntries,
		now:        time.Now,
		stop:       make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	go c.cleanupLoop()
	return c
}

// Get returns the entry for key unless it is missing or expired.
func (c *Cache) Get(key string) (*Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.now().Sub(e.CreatedAt) > c.ttl {
		delete(c.entries, key)
		return nil, false
	}
	return e, true
}

// Set stores e under key, evicting the oldest entry when full.
func (c *Cache) Set(key string, e *Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxEntries {
		c.evictOldest()
	}
	e.CreatedAt = c.now()
	c.entries[key] = e
}

// Len returns the number of stored entries, expired ones included.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stop terminates the cleanup goroutine. It is safe to call more than once.
func (c *Cache) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
}

func (c *Cache) cleanupLoop() {
	interval := c.ttl / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.prune()
		case <-c.stop:
			return
		}
	}
}

func (c *Cache) prune() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for k, e := range c.entries {
		if now.Sub(e.CreatedAt) > c.ttl {
			delete(c.entries, k)
		}
	}
}

// evictOldest removes the entry with the earliest CreatedAt. Caller must hold c.mu.
func (c *Cache) evictOldest() {
	var oldestKey string
	var oldestTime time.Time
	first := true
	for k, e := range c.entries {
		if first || e.CreatedAt.Before(oldestTime) {
			oldestKey = k
			oldestTime = e.CreatedAt
			first = false
		}
	}
	if !first {
		delete(c.entries, oldestKey)
	}
}
