// internal/cache/entity_cache.go
package cache

import (
	"container/list"
	"strings"
	"sync"
	"time"
)

// EntityCache is a bounded key/value cache with a TTL per entry. Expired
// entries are dropped lazily on read and evicted first when the cache is
// full; after that the least recently used entry goes.
type EntityCache[V any] struct {
	mu         sync.Mutex
	entries    map[string]*list.Element
	order      *list.List
	maxEntries int
	defaultTTL time.Duration
	now        func() time.Time

	hits      uint64
	misses    uint64
	evictions uint64
}

type entry[V any] struct {
	key       string
	value     V
	expiresAt time.Time
}

// Stats is a point-in-time snapshot of cache counters.
type Stats struct {
	Entries   int
	Hits      uint64
	Misses    uint64
	Evictions uint64
}

type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock overrides time.Now, used by tests to step expiry.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// New creates a cache. maxEntries <= 0 means unbounded.
func New[V any](maxEntries int, defaultTTL time.Duration, opts ...Option) *EntityCache[V] {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return &EntityCache[V]{
		entries:    make(map[string]*list.Element),
		order:      list.New(),
		maxEntries: maxEntries,
		defaultTTL: defaultTTL,
		now:        o.now,
	}
}

// Get returns the cached value and true, or the zero value and false on a
// miss or an expired entry.
func (c *EntityCache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	el, ok := c.entries[key]
	if !ok {
		c.misses++
		return zero, false
	}
	e := el.Value.(*entry[V])
	if !c.now().Before(e.expiresAt) {
		c.removeElement(el)
		c.misses++
		return zero, false
	}
	c.order.MoveToFront(el)
	c.hits++
	return e.value, true
}

// Put stores value under key. A ttl <= 0 uses the cache default.
func (c *EntityCache[V]) Put(key string, value V, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	expiresAt := c.now().Add(ttl)
	if el, ok := c.entries[key]; ok {
		e := el.Value.(*entry[V])
		e.value = value
		e.expiresAt = expiresAt
		c.order.MoveToFront(el)
		return
	}

	c.entries[key] = c.order.PushFront(&entry[V]{key: key, value: value, expiresAt: expiresAt})
	if c.maxEntries > 0 && c.order.Len() > c.maxEntries {
		c.evict()
	}
}

// Invalidate drops key. Missing keys are fine.
func (c *EntityCache[V]) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		c.removeElement(el)
	}
}

// InvalidatePrefix drops every key starting with prefix and returns how many went.
func (c *EntityCache[V]) InvalidatePrefix(prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, el := range c.entries {
		if strings.HasPrefix(key, prefix) {
			c.removeElement(el)
			removed++
		}
	}
	return removed
}

// Purge drops every expired entry.
func (c *EntityCache[V]) Purge() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for _, el := range c.entries {
		if !now.Before(el.Value.(*entry[V]).expiresAt) {
			c.removeElement(el)
			removed++
		}
	}
	return removed
}

func (c *EntityCache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *EntityCache[V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{Entries: c.order.Len(), Hits: c.hits, Misses: c.misses, Evictions: c.evictions}
}

// evict removes one expired entry if any exist, else the LRU tail.
func (c *EntityCache[V]) evict() {
	now := c.now()
	for el := c.order.Back(); el != nil; el = el.Prev() {
		if !now.Before(el.Value.(*entry[V]).expiresAt) {
			c.removeElement(el)
			c.evictions++
			return
		}
	}
	if tail := c.order.Back(); tail != nil {
		c.removeElement(tail)
		c.evictions++
	}
}

func (c *EntityCache[V]) removeElement(el *list.Element) {
	c.order.Remove(el)
	delete(c.entries, el.Value.(*entry[V]).key)
}
