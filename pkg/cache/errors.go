package cache

import "errors"

var (
	// ErrInvalidCacheKey is returned when a cache key is empty
	ErrInvalidCacheKey = errors.New("invalid cache key")

	// ErrCacheClosed is returned when operating on a closed cache
	ErrCacheClosed = errors.New("cache closed")
)
