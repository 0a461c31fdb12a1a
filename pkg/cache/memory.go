package cache

import (
	"context"
	"hash/fnv"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

type entry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryCache implements Cache as a set of independently locked LRU shards.
// The underlying LRU bounds lifetime by MaxTTL; per-entry expiry is checked
// against the configured clock on every read.
type MemoryCache struct {
	config *Config
	shards []*lru.LRU[string, entry]
	hits   atomic.Int64
	misses atomic.Int64
	closed atomic.Bool
}

// NewMemoryCache creates a sharded in-memory cache
func NewMemoryCache(config *Config) *MemoryCache {
	config = config.withDefaults()

	shards := make([]*lru.LRU[string, entry], config.Shards)
	for i := range shards {
		shards[i] = lru.NewLRU[string, entry](config.EntriesPerShard, nil, config.MaxTTL)
	}

	return &MemoryCache{
		config: config,
		shards: shards,
	}
}

func (c *MemoryCache) shard(key string) *lru.LRU[string, entry] {
	h := fnv.New32a()
	h.Write([]byte(key))
	return c.shards[h.Sum32()%uint32(len(c.shards))]
}

// Get implements Cache
func (c *MemoryCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if c.closed.Load() {
		return nil, false, ErrCacheClosed
	}
	if key == "" {
		return nil, false, ErrInvalidCacheKey
	}

	s := c.shard(key)
	e, ok := s.Get(key)
	if !ok {
		c.misses.Add(1)
		return nil, false, nil
	}
	if !c.config.Clock().Before(e.expiresAt) {
		s.Remove(key)
		c.misses.Add(1)
		return nil, false, nil
	}

	c.hits.Add(1)
	return e.value, true, nil
}

// Set implements Cache
func (c *MemoryCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if c.closed.Load() {
		return ErrCacheClosed
	}
	if key == "" {
		return ErrInvalidCacheKey
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	c.shard(key).Add(key, entry{
		value:     value,
		expiresAt: c.config.Clock().Add(ttl),
	})
	return nil
}

// Delete implements Cache
func (c *MemoryCache) Delete(ctx context.Context, keys ...string) error {
	if c.closed.Load() {
		return ErrCacheClosed
	}
	for _, key := range keys {
		c.shard(key).Remove(key)
	}
	return nil
}

// Clear implements Cache
func (c *MemoryCache) Clear(ctx context.Context) error {
	for _, s := range c.shards {
		s.Purge()
	}
	return nil
}

// Stats returns cache statistics
func (c *MemoryCache) Stats() Stats {
	stats := Stats{
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
	}
	for _, s := range c.shards {
		stats.ItemCount += int64(s.Len())
	}

	total := stats.Hits + stats.Misses
	if total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total)
	}
	return stats
}

// Close implements Cache. A closed cache rejects further operations.
func (c *MemoryCache) Close() error {
	c.closed.Store(true)
	return c.Clear(context.Background())
}
