package selector

import (
	"github.com/shaj13/libcache"
	// registers the LRU implementation
	_ "github.com/shaj13/libcache/lru"
)

// DefaultCacheSize is used by NewCache for non-positive sizes
const DefaultCacheSize = 256

// Cache memoizes parsed selectors. It's safe for concurrent use.
type Cache struct {
	entries libcache.Cache
}

// NewCache creates a cache which keeps up to size parsed selectors
func NewCache(size int) *Cache {
	if size < 1 {
		size = DefaultCacheSize
	}

	return &Cache{
		entries: libcache.LRU.New(size),
	}
}

// Parse returns the cached result for selector or parses and stores it. Errors aren't cached.
// The returned list is a copy and may be modified by the caller.
func (c *Cache) Parse(selector string) (Expressions, error) {
	if cached, ok := c.entries.Load(selector); ok {
		return cached.(Expressions).Clone(), nil
	}

	result, err := Parse(selector)
	if err != nil {
		return nil, err
	}

	c.entries.Store(selector, result)
	return result.Clone(), nil
}

// Len returns the number of cached selectors
func (c *Cache) Len() int {
	return c.entries.Len()
}
