// Package lru is a small thread-safe LRU cache whose entries expire after a
// fixed time to live. The session uses it to avoid refetching issues that
// several commands look at in a row.
package lru

import (
	"sync"
	"time"
)

type entry[K comparable, V any] struct {
	key     K
	val     V
	expires time.Time
	prev    *entry[K, V]
	next    *entry[K, V]
}

// Cache maps keys to values, dropping the least recently used entry once
// full. A zero TTL keeps entries until they are evicted.
type Cache[K comparable, V any] struct {
	mu    sync.Mutex
	size  int
	ttl   time.Duration
	now   func() time.Time
	items map[K]*entry[K, V]
	// root is the list sentinel: root.next is the most recently used entry.
	root entry[K, V]
}

// Option configures a Cache.
type Option func(*options)

type options struct {
	ttl time.Duration
	now func() time.Time
}

// WithTTL expires entries d after they were stored.
func WithTTL(d time.Duration) Option {
	return func(o *options) { o.ttl = d }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// New returns a cache holding at most size entries. size below one is
// treated as one.
func New[K comparable, V any](size int, opts ...Option) *Cache[K, V] {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if size < 1 {
		size = 1
	}
	c := &Cache[K, V]{
		size:  size,
		ttl:   o.ttl,
		now:   o.now,
		items: make(map[K]*entry[K, V], size),
	}
	c.root.next, c.root.prev = &c.root, &c.root
	return c
}

// Get returns the live value for key and marks it recently used.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.items[key]
	if !ok {
		var zero V
		return zero, false
	}
	if c.expired(e) {
		c.drop(e)
		var zero V
		return zero, false
	}
	c.unlink(e)
	c.pushFront(e)
	return e.val, true
}

// Add stores val under key, evicting the oldest entry when full.
func (c *Cache[K, V]) Add(key K, val V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var expires time.Time
	if c.ttl > 0 {
		expires = c.now().Add(c.ttl)
	}
	if e, ok := c.items[key]; ok {
		e.val, e.expires = val, expires
		c.unlink(e)
		c.pushFront(e)
		return
	}
	if len(c.items) >= c.size {
		c.drop(c.root.prev)
	}
	e := &entry[K, V]{key: key, val: val, expires: expires}
	c.items[key] = e
	c.pushFront(e)
}

// Remove deletes key and reports whether it was present.
func (c *Cache[K, V]) Remove(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.items[key]
	if ok {
		c.drop(e)
	}
	return ok
}

// Len counts stored entries, including expired ones not yet collected.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Purge empties the cache.
func (c *Cache[K, V]) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[K]*entry[K, V], c.size)
	c.root.next, c.root.prev = &c.root, &c.root
}

func (c *Cache[K, V]) expired(e *entry[K, V]) bool {
	return !e.expires.IsZero() && !c.now().Before(e.expires)
}

func (c *Cache[K, V]) drop(e *entry[K, V]) {
	c.unlink(e)
	delete(c.items, e.key)
}

func (c *Cache[K, V]) unlink(e *entry[K, V]) {
	e.prev.next = e.next
	e.next.prev = e.prev
	e.prev, e.next = nil, nil
}

func (c *Cache[K, V]) pushFront(e *entry[K, V]) {
	e.prev = &c.root
	e.next = c.root.next
	c.root.next.prev = e
	c.root.next = e
}
