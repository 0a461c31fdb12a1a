// Package cache provides the short-lived key/value stores used to memoize
// authorization data.
//
// Two backends implement Cache:
//
//   - MemoryCache: a sharded in-process LRU. Each shard is an independent
//     expirable LRU, so concurrent readers of different keys never contend
//     on a single lock.
//   - RedisCache: a shared Redis-backed cache for multi-instance
//     deployments. Keys are namespaced by a prefix and Clear only removes
//     keys under that prefix.
//
// Values are opaque byte slices. Callers own encoding.
package cache
