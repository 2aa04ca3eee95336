package cache

import (
	"flag"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/coderunner/execd/utils"
)

const (
	defaultCacheMaxSize = 1000
	defaultCacheTTLSec  = 300
)

// Config holds the size/TTL bounds for a KeyedCache.
type Config struct {
	MaxSize int
	TTL     time.Duration
}

// FlagPointers holds pointers to flag values for cache configuration.
type FlagPointers struct {
	maxSize *int
	ttlSec  *int
}

// RegisterFlags registers cache-related command-line flags. Returns a
// FlagPointers that should be converted to Config after flag.Parse().
func RegisterFlags(prefix string) *FlagPointers {
	return &FlagPointers{
		ttlSec: flag.Int(prefix+"-cache-ttl",
			utils.GetEnvInt("EXECD_CACHE_TTL", defaultCacheTTLSec),
			"Cache TTL in seconds"),
		maxSize: flag.Int(prefix+"-cache-max-size",
			utils.GetEnvInt("EXECD_CACHE_MAX_SIZE", defaultCacheMaxSize),
			"Cache max number of entries"),
	}
}

// ToConfig converts flag pointers to Config. Must be called after flag.Parse().
func (p *FlagPointers) ToConfig() Config {
	return Config{
		MaxSize: *p.maxSize,
		TTL:     time.Duration(*p.ttlSec) * time.Second,
	}
}

// KeyedCache is a generic thread-safe LRU cache with per-entry TTL
// expiration. The sandbox pool uses it to track idle sandboxes per
// language in recency order; the pool passes a zero TTL and leaves
// time-based eviction to its sweeper.
type KeyedCache[V any] struct {
	cache *expirable.LRU[string, V]
}

// NewKeyedCache creates a new keyed cache with the specified max size and TTL.
// A zero TTL disables time-based expiration; entries are then only evicted
// by LRU size pressure or explicit removal.
func NewKeyedCache[V any](maxSize int, ttl time.Duration) *KeyedCache[V] {
	return &KeyedCache[V]{
		cache: expirable.NewLRU[string, V](maxSize, nil, ttl),
	}
}

// Get retrieves a single value by key. Returns the value and true on hit.
// A hit does not change MRU order by itself; callers that need to promote
// an entry to most-recently-used should re-Set it.
func (c *KeyedCache[V]) Get(key string) (V, bool) {
	return c.cache.Peek(key)
}

// Set stores a value under the given key, placing it at the MRU position.
func (c *KeyedCache[V]) Set(key string, value V) {
	c.cache.Add(key, value)
}

// Remove deletes a key, returning true if it was present.
func (c *KeyedCache[V]) Remove(key string) bool {
	return c.cache.Remove(key)
}

// Oldest returns the least-recently-used key/value pair without removing it.
func (c *KeyedCache[V]) Oldest() (key string, value V, ok bool) {
	return c.cache.GetOldest()
}

// Keys returns all unexpired keys in LRU-to-MRU (oldest-to-newest) order.
func (c *KeyedCache[V]) Keys() []string {
	return c.cache.Keys()
}

// Size returns the number of entries in the cache.
func (c *KeyedCache[V]) Size() int {
	return c.cache.Len()
}
