package imageio

import "sync"

// Cache memoises decoded assets by key. Entries are written once and only
// dropped through Invalidate or Clear; values are shared and must be
// treated as read-only by callers.
type Cache[T any] struct {
	mu    sync.RWMutex
	items map[string]T
	load  func(string) (T, error)
}

// NewCache returns a cache that fills misses with load.
func NewCache[T any](load func(string) (T, error)) *Cache[T] {
	return &Cache[T]{items: make(map[string]T), load: load}
}

// Get returns the cached value for key, loading it on first use. Failed
// loads are not cached.
func (c *Cache[T]) Get(key string) (T, error) {
	c.mu.RLock()
	v, ok := c.items[key]
	c.mu.RUnlock()
	if ok {
		return v, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if v, ok := c.items[key]; ok {
		return v, nil
	}
	v, err := c.load(key)
	if err != nil {
		var zero T
		return zero, err
	}
	c.items[key] = v
	return v, nil
}

// Invalidate drops a single entry.
func (c *Cache[T]) Invalidate(key string) {
	c.mu.Lock()
	delete(c.items, key)
	c.mu.Unlock()
}

// Clear drops every entry.
func (c *Cache[T]) Clear() {
	c.mu.Lock()
	c.items = make(map[string]T)
	c.mu.Unlock()
}

// Len reports the number of cached entries.
func (c *Cache[T]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}
