package evaluation

import (
	"container/list"
	"strings"
	"sync"
	"time"
)

// Cache defaults; both are configurable.
const (
	DefaultCacheTTL     = 30 * time.Minute
	DefaultCacheEntries = 500
)

type cacheEntry struct {
	key       string
	report    *Report
	expiresAt time.Time
}

// Cache is a bounded report cache keyed by lowercased username. Lookups
// and inserts share one mutex; LRU eviction happens inside the same
// critical section as the insert that overflows.
type Cache struct {
	mu      sync.Mutex
	ttl     time.Duration
	maxSize int
	order   *list.List // front = most recently used
	items   map[string]*list.Element
	clock   func() time.Time
}

func NewCache(ttl time.Duration, maxSize int) *Cache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if maxSize <= 0 {
		maxSize = DefaultCacheEntries
	}
	return &Cache{
		ttl:     ttl,
		maxSize: maxSize,
		order:   list.New(),
		items:   make(map[string]*list.Element),
		clock:   time.Now,
	}
}

// Get returns the cached report for the username if present and unexpired.
func (c *Cache) Get(username string) (*Report, bool) {
	key := strings.ToLower(username)

	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return nil, false
	}
	entry := el.Value.(*cacheEntry)
	if c.clock().After(entry.expiresAt) {
		c.order.Remove(el)
		delete(c.items, key)
		return nil, false
	}
	c.order.MoveToFront(el)
	return entry.report, true
}

// Set stores a report, refreshing its TTL, and evicts the least recently
// used entry when the cache is full.
func (c *Cache) Set(username string, report *Report) {
	key := strings.ToLower(username)

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		entry := el.Value.(*cacheEntry)
		entry.report = report
		entry.expiresAt = c.clock().Add(c.ttl)
		c.order.MoveToFront(el)
		return
	}

	if c.order.Len() >= c.maxSize {
		oldest := c.order.Back()
		if oldest != nil {
			c.order.Remove(oldest)
			delete(c.items, oldest.Value.(*cacheEntry).key)
		}
	}

	c.items[key] = c.order.PushFront(&cacheEntry{
		key:       key,
		report:    report,
		expiresAt: c.clock().Add(c.ttl),
	})
}

// Len reports the current number of cached entries, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
