package cache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/Cavidan-oss/weather-gateway/internal/observability"
)

// Cache defines the interface for response caching implementations.
// Values are opaque marshaled payloads; Get returns them verbatim if present
// and not expired, Set stores them with a TTL.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// InMemoryCache implements Cache with a bounded in-memory store. Entries
// expire after their TTL and the store holds at most capacity live entries;
// at capacity the least-recently-used entry is evicted before insert.
// Safe for concurrent use.
type InMemoryCache struct {
	mu       sync.Mutex
	capacity int
	entries  map[string]*list.Element
	order    *list.List // front = most recently used
	now      func() time.Time
}

type memEntry struct {
	key       string
	value     []byte
	expiresAt time.Time
}

// DefaultCapacity bounds the in-memory store when no capacity is configured.
const DefaultCapacity = 10000

// NewInMemoryCache creates an in-memory cache holding at most capacity entries.
// Non-positive capacity falls back to DefaultCapacity.
func NewInMemoryCache(capacity int) *InMemoryCache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &InMemoryCache{
		capacity: capacity,
		entries:  make(map[string]*list.Element),
		order:    list.New(),
		now:      time.Now,
	}
}

// Get retrieves the cached payload for key if present and not expired.
// Returns (value, true, nil) on hit, (nil, false, nil) on miss or expiration.
// Expired entries are removed on access; a hit refreshes recency.
func (c *InMemoryCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		return nil, false, nil
	}
	entry := elem.Value.(*memEntry)
	if !c.now().Before(entry.expiresAt) {
		c.removeLocked(elem)
		return nil, false, nil
	}
	c.order.MoveToFront(elem)
	return entry.value, true, nil
}

// Set stores the payload under key with the given TTL. An existing entry is
// overwritten and its TTL clock restarts at now+ttl. When the store is at
// capacity and key is new, the least-recently-used entry is evicted first.
func (c *InMemoryCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	expiresAt := c.now().Add(ttl)
	if elem, ok := c.entries[key]; ok {
		entry := elem.Value.(*memEntry)
		entry.value = value
		entry.expiresAt = expiresAt
		c.order.MoveToFront(elem)
		return nil
	}

	if c.order.Len() >= c.capacity {
		if oldest := c.order.Back(); oldest != nil {
			c.removeLocked(oldest)
			observability.CacheEvictionsTotal.Inc()
		}
	}
	c.entries[key] = c.order.PushFront(&memEntry{key: key, value: value, expiresAt: expiresAt})
	return nil
}

// Len returns the number of physically stored entries, expired ones included
// until the next access or sweep.
func (c *InMemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Sweep removes all expired entries. Run periodically so entries that are
// never read again do not occupy capacity until evicted.
func (c *InMemoryCache) Sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for elem := c.order.Back(); elem != nil; {
		prev := elem.Prev()
		if !now.Before(elem.Value.(*memEntry).expiresAt) {
			c.removeLocked(elem)
		}
		elem = prev
	}
}

func (c *InMemoryCache) removeLocked(elem *list.Element) {
	entry := elem.Value.(*memEntry)
	delete(c.entries, entry.key)
	c.order.Remove(elem)
}
