package imagestore

import (
	"github.com/aweris/imagestore/internal/cache"
	"github.com/aweris/imagestore/internal/filter"
	"github.com/aweris/imagestore/internal/store"
)

// Durable is the mandatory filesystem tier.
// Re-exported from internal/store for convenience.
type Durable = store.Store

// Cache is the optional expiring tier. A nil Cache disables it.
// Re-exported from internal/cache for convenience.
type Cache = cache.Cache

// Filter is the optional "already popped" guard. A nil Filter disables it.
// Re-exported from internal/filter for convenience.
type Filter = filter.Filter

// NewMemoryCache returns an in-process Cache holding at most maxSize entries.
func NewMemoryCache(maxSize int) Cache { return cache.NewMemory(maxSize) }

// NewRedisCache returns a Cache backed by a Redis server.
func NewRedisCache(host string, port int, password string, db int) Cache {
	return cache.NewRedis(cache.RedisOptions{Host: host, Port: port, Password: password, DB: db})
}

// NewBloomFilter returns a Filter sized for capacity keys.
func NewBloomFilter(capacity uint, fpRate float64) Filter {
	return filter.NewBloom(capacity, fpRate)
}
