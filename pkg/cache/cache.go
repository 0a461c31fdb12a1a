package cache

import (
	"context"
	"time"
)

// DefaultTTL is the lifetime of an entry when Set is given a zero TTL
const DefaultTTL = 5 * time.Minute

// Cache is a concurrency-safe key/value store with per-entry expiry
type Cache interface {
	// Get returns the value for key. The boolean is false on a miss,
	// including when the entry has expired.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value under key for ttl. A zero ttl uses DefaultTTL.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes keys. Missing keys are ignored.
	Delete(ctx context.Context, keys ...string) error

	// Clear removes every entry owned by this cache
	Clear(ctx context.Context) error

	// Close releases resources
	Close() error
}

// Stats represents cache statistics
type Stats struct {
	Hits      int64   `json:"hits"`
	Misses    int64   `json:"misses"`
	HitRate   float64 `json:"hit_rate"`
	ItemCount int64   `json:"item_count"`
}

// Config holds cache configuration
type Config struct {
	Shards          int           // number of independent shards (default: 16)
	EntriesPerShard int           // LRU capacity of each shard (default: 4096)
	MaxTTL          time.Duration // upper bound on entry lifetime (default: 1 hour)
	Clock           func() time.Time
}

// DefaultConfig returns default cache configuration
func DefaultConfig() *Config {
	return &Config{
		Shards:          16,
		EntriesPerShard: 4096,
		MaxTTL:          time.Hour,
		Clock:           time.Now,
	}
}

func (c *Config) withDefaults() *Config {
	out := *DefaultConfig()
	if c == nil {
		return &out
	}
	if c.Shards > 0 {
		out.Shards = c.Shards
	}
	if c.EntriesPerShard > 0 {
		out.EntriesPerShard = c.EntriesPerShard
	}
	if c.MaxTTL > 0 {
		out.MaxTTL = c.MaxTTL
	}
	if c.Clock != nil {
		out.Clock = c.Clock
	}
	return &out
}
