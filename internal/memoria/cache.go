// Package memoria memoizes recent decisions by context fingerprint and
// records emitted suggestions so repeats inside the cooldown window are
// suppressed.
package memoria

import (
	"container/list"
	"sync"
	"time"

	"codewatch/internal/engine"
	"codewatch/internal/logging"
)

// CacheEntry is one memoized decision.
type CacheEntry struct {
	Fingerprint string
	Decision    engine.Decision
	CreatedAt   time.Time
	TTL         time.Duration
}

// DecisionCache maps context fingerprints to recent decisions. Entries are
// evicted on TTL expiry or by LRU once capacity is exceeded.
type DecisionCache struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	entries  map[string]*list.Element
	order    *list.List // front = most recently used

	now func() time.Time
}

// NewDecisionCache creates a cache with the given capacity and default TTL.
func NewDecisionCache(capacity int, ttl time.Duration) *DecisionCache {
	if capacity <= 0 {
		capacity = 32
	}
	return &DecisionCache{
		capacity: capacity,
		ttl:      ttl,
		entries:  make(map[string]*list.Element),
		order:    list.New(),
		now:      time.Now,
	}
}

// Get returns the cached decision for the fingerprint if it exists and has
// not expired. A hit promotes the entry to most recently used.
func (c *DecisionCache) Get(fingerprint string) (engine.Decision, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[fingerprint]
	if !ok {
		return engine.Decision{}, false
	}
	entry := el.Value.(*CacheEntry)
	if c.now().Sub(entry.CreatedAt) >= entry.TTL {
		c.order.Remove(el)
		delete(c.entries, fingerprint)
		logging.MemoriaDebug("cache entry %s expired", short(fingerprint))
		return engine.Decision{}, false
	}

	c.order.MoveToFront(el)
	logging.MemoriaDebug("cache hit %s", short(fingerprint))
	return entry.Decision, true
}

// Put inserts or overwrites the decision for the fingerprint.
func (c *DecisionCache) Put(fingerprint string, d engine.Decision) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[fingerprint]; ok {
		entry := el.Value.(*CacheEntry)
		entry.Decision = d
		entry.CreatedAt = c.now()
		c.order.MoveToFront(el)
		return
	}

	el := c.order.PushFront(&CacheEntry{
		Fingerprint: fingerprint,
		Decision:    d,
		CreatedAt:   c.now(),
		TTL:         c.ttl,
	})
	c.entries[fingerprint] = el

	for c.order.Len() > c.capacity {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		evicted := oldest.Value.(*CacheEntry)
		c.order.Remove(oldest)
		delete(c.entries, evicted.Fingerprint)
		logging.MemoriaDebug("cache evicted %s (capacity %d)", short(evicted.Fingerprint), c.capacity)
	}
}

// Len returns the number of live entries.
func (c *DecisionCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func short(fingerprint string) string {
	if len(fingerprint) > 12 {
		return fingerprint[:12]
	}
	return fingerprint
}
