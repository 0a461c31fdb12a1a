package rbac

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/platinummonkey/assetguard/pkg/cache"
	"github.com/platinummonkey/assetguard/pkg/observability"
)

// Cache key families
const (
	FamilyUserRoles   = "user_roles"
	FamilyPermissions = "permissions"
	RoleHierarchyKey  = "role_hierarchy"
)

// UserRolesKey is the cache key of a user's live role list
func UserRolesKey(userID int64) string {
	return fmt.Sprintf("%s_%d", FamilyUserRoles, userID)
}

// PermissionsKey is the cache key of a user's effective permissions
func PermissionsKey(userID int64) string {
	return fmt.Sprintf("%s_%d", FamilyPermissions, userID)
}

// authCache stores JSON-encoded authorization data in a cache.Cache. Backend
// failures are logged and reported as misses so authorization falls through
// to the store.
type authCache struct {
	backend cache.Cache
	ttl     time.Duration
	logger  *observability.Logger
	metrics *observability.Metrics
}

func newAuthCache(o *options) *authCache {
	return &authCache{
		backend: o.cache,
		ttl:     o.config.CacheTTL,
		logger:  o.logger.WithField("component", "rbac_cache"),
		metrics: o.metrics,
	}
}

func (c *authCache) get(ctx context.Context, family, key string, dst interface{}) bool {
	if c.backend == nil {
		return false
	}

	data, ok, err := c.backend.Get(ctx, key)
	if err != nil {
		c.logger.WithError(err).WithField("key", key).Warn("Cache read failed")
		c.metrics.RecordCacheError("get")
		ok = false
	}
	if ok {
		if err := json.Unmarshal(data, dst); err != nil {
			c.logger.WithError(err).WithField("key", key).Warn("Dropping undecodable cache entry")
			c.delete(ctx, key)
			ok = false
		}
	}

	c.metrics.RecordCacheLookup(family, ok)
	return ok
}

// set stores v for at most the configured TTL. A positive limit shortens
// the lifetime so entries never outlive the earliest expiry they contain.
func (c *authCache) set(ctx context.Context, key string, v interface{}, limit time.Duration) {
	if c.backend == nil {
		return
	}

	ttl := c.ttl
	if limit > 0 && limit < ttl {
		ttl = limit
	}

	data, err := json.Marshal(v)
	if err != nil {
		c.logger.WithError(err).WithField("key", key).Error("Failed to encode cache entry")
		return
	}
	if err := c.backend.Set(ctx, key, data, ttl); err != nil {
		c.logger.WithError(err).WithField("key", key).Warn("Cache write failed")
		c.metrics.RecordCacheError("set")
	}
}

func (c *authCache) delete(ctx context.Context, keys ...string) {
	if c.backend == nil || len(keys) == 0 {
		return
	}
	if err := c.backend.Delete(ctx, keys...); err != nil {
		c.logger.WithError(err).WithField("keys", keys).Error("Cache invalidation failed")
		c.metrics.RecordCacheError("delete")
	}
}

func (c *authCache) invalidateUsers(ctx context.Context, userIDs ...int64) {
	keys := make([]string, 0, len(userIDs)*2)
	for _, id := range userIDs {
		keys = append(keys, UserRolesKey(id), PermissionsKey(id))
	}
	c.delete(ctx, keys...)
	c.metrics.RecordCacheInvalidation(FamilyUserRoles, len(userIDs))
	c.metrics.RecordCacheInvalidation(FamilyPermissions, len(userIDs))
}

func (c *authCache) invalidateHierarchy(ctx context.Context) {
	c.delete(ctx, RoleHierarchyKey)
	c.metrics.RecordCacheInvalidation(RoleHierarchyKey, 1)
}
