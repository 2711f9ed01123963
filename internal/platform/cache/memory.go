package cache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

const (
	defaultMaxEntries = 1000
	sweepInterval     = time.Minute
)

// entry is one cached value with its expiry.
type entry struct {
	key       string
	value     interface{}
	expiresAt time.Time
}

// MemoryCache is the in-process L1: a fixed-capacity LRU with per-entry TTL.
// Expired entries are dropped lazily on read and swept by a background
// janitor so abandoned keys do not sit around until capacity eviction.
type MemoryCache struct {
	mu       sync.Mutex
	capacity int
	order    *list.List // front is most recently used
	index    map[string]*list.Element

	done      chan struct{}
	closeOnce sync.Once
}

// NewMemoryCache creates an LRU cache holding at most maxEntries values.
func NewMemoryCache(maxEntries int) *MemoryCache {
	if maxEntries <= 0 {
		maxEntries = defaultMaxEntries
	}

	c := &MemoryCache{
		capacity: maxEntries,
		order:    list.New(),
		index:    make(map[string]*list.Element),
		done:     make(chan struct{}),
	}
	go c.janitor()
	return c
}

// Get returns the cached value or ErrNotFound. A hit refreshes the entry's
// LRU position; an expired entry is removed and reported as a miss.
func (c *MemoryCache) Get(_ context.Context, key string) (interface{}, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.index[key]
	if !ok {
		return nil, ErrNotFound
	}

	ent := elem.Value.(*entry)
	if time.Now().After(ent.expiresAt) {
		c.evict(elem)
		return nil, ErrNotFound
	}

	c.order.MoveToFront(elem)
	return ent.value, nil
}

// Set stores value under key for ttl, replacing any existing entry. When the
// cache is full the least recently used entry makes room.
func (c *MemoryCache) Set(_ context.Context, key string, value interface{}, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	expiresAt := time.Now().Add(ttl)

	if elem, ok := c.index[key]; ok {
		ent := elem.Value.(*entry)
		ent.value = value
		ent.expiresAt = expiresAt
		c.order.MoveToFront(elem)
		return nil
	}

	c.index[key] = c.order.PushFront(&entry{key: key, value: value, expiresAt: expiresAt})
	if c.order.Len() > c.capacity {
		if oldest := c.order.Back(); oldest != nil {
			c.evict(oldest)
		}
	}
	return nil
}

// Delete removes key. Deleting an absent key is not an error.
func (c *MemoryCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.index[key]; ok {
		c.evict(elem)
	}
	return nil
}

// Close stops the janitor. The cache itself stays usable.
func (c *MemoryCache) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	return nil
}

// Len returns the number of stored entries, including expired ones the
// janitor has not swept yet.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// evict removes elem from the LRU list and the index. Caller holds mu.
func (c *MemoryCache) evict(elem *list.Element) {
	c.order.Remove(elem)
	delete(c.index, elem.Value.(*entry).key)
}

func (c *MemoryCache) janitor() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case now := <-ticker.C:
			c.sweep(now)
		}
	}
}

// sweep drops every entry already expired at now.
func (c *MemoryCache) sweep(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for elem := c.order.Back(); elem != nil; {
		prev := elem.Prev()
		if ent := elem.Value.(*entry); now.After(ent.expiresAt) {
			c.evict(elem)
		}
		elem = prev
	}
}
