package rbac

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/assetguard/pkg/observability"
)

// Resolver computes and caches a user's effective permissions
type Resolver struct {
	store   Queries
	cache   *authCache
	logger  *observability.Logger
	metrics *observability.Metrics
	tracer  trace.Tracer
	opts    *options
}

// NewResolver creates a resolver over store
func NewResolver(store Queries, opts ...Option) *Resolver {
	return newResolver(store, buildOptions(opts))
}

func newResolver(store Queries, o *options) *Resolver {
	return &Resolver{
		store:   store,
		cache:   newAuthCache(o),
		logger:  o.logger.WithField("component", "rbac_resolver"),
		metrics: o.metrics,
		tracer:  observability.Tracer(),
		opts:    o,
	}
}

// CalculateEffectivePermissions resolves a user's permissions from the store,
// bypassing the cache.
//
// Role grants are visited in (level desc, priority desc, role id asc) order.
// The first role to grant a key owns it; a later role only replaces it with a
// strictly higher level. Live overrides are then applied unconditionally.
func (r *Resolver) CalculateEffectivePermissions(ctx context.Context, userID int64) ([]EffectivePermission, error) {
	ctx, span := r.tracer.Start(ctx, "rbac.CalculateEffectivePermissions",
		trace.WithAttributes(attribute.Int64("user.id", userID)))
	defer span.End()

	start := time.Now()
	entries, err := r.calculate(ctx, userID)
	r.metrics.ObserveStoreOperation("calculate_effective_permissions", time.Since(start), err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(attribute.Int("permissions.count", len(entries)))
	return entries, nil
}

func (r *Resolver) calculate(ctx context.Context, userID int64) ([]EffectivePermission, error) {
	now := r.opts.clock()

	grants, err := r.store.ListRoleGrants(ctx, userID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to load role grants: %w", err)
	}

	byKey := make(map[PermissionKey]EffectivePermission, len(grants))
	for _, g := range grants {
		key := g.Permission.Key()
		if existing, ok := byKey[key]; ok && g.RoleLevel <= existing.RoleLevel {
			continue
		}
		roleID := g.RoleID
		byKey[key] = EffectivePermission{
			Resource:  key.Resource,
			Action:    key.Action,
			Scope:     g.Permission.Scope,
			Source:    SourceRole,
			Granted:   true,
			RoleID:    &roleID,
			RoleName:  g.RoleName,
			RoleLevel: g.RoleLevel,
			ExpiresAt: g.ExpiresAt,
		}
	}

	overrides, err := r.store.ListLiveUserPermissions(ctx, userID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to load permission overrides: %w", err)
	}

	for _, o := range overrides {
		if o.Permission == nil {
			continue
		}
		source := SourceDirect
		if o.IsDenied {
			source = SourceOverride
		}
		key := o.Permission.Key()
		byKey[key] = EffectivePermission{
			Resource:  key.Resource,
			Action:    key.Action,
			Scope:     o.Permission.Scope,
			Source:    source,
			Granted:   !o.IsDenied,
			ExpiresAt: o.ExpiresAt,
		}
	}

	out := make([]EffectivePermission, 0, len(byKey))
	for _, e := range byKey {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Resource != out[j].Resource {
			return out[i].Resource < out[j].Resource
		}
		return out[i].Action < out[j].Action
	})
	return out, nil
}

// EffectivePermissions returns the cached effective permissions of a user,
// computing and caching them on a miss
func (r *Resolver) EffectivePermissions(ctx context.Context, userID int64) ([]EffectivePermission, error) {
	key := PermissionsKey(userID)

	var cached []EffectivePermission
	if r.cache.get(ctx, FamilyPermissions, key, &cached) {
		return cached, nil
	}

	entries, err := r.CalculateEffectivePermissions(ctx, userID)
	if err != nil {
		return nil, err
	}

	r.cache.set(ctx, key, entries, r.untilEarliestExpiry(effectiveExpiries(entries)))
	return entries, nil
}

// PermissionSet returns the user's effective permissions indexed for checks
func (r *Resolver) PermissionSet(ctx context.Context, userID int64) (*PermissionSet, error) {
	entries, err := r.EffectivePermissions(ctx, userID)
	if err != nil {
		return nil, err
	}
	return NewPermissionSet(entries), nil
}

// UserRoles returns a user's live role assignments, cached, ordered primary
// first then by role level
func (r *Resolver) UserRoles(ctx context.Context, userID int64) ([]UserRole, error) {
	key := UserRolesKey(userID)

	var cached []UserRole
	if r.cache.get(ctx, FamilyUserRoles, key, &cached) {
		return cached, nil
	}

	start := time.Now()
	roles, err := r.store.ListLiveUserRoles(ctx, userID, r.opts.clock())
	r.metrics.ObserveStoreOperation("list_user_roles", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("failed to load user roles: %w", err)
	}
	if roles == nil {
		roles = []UserRole{}
	}

	expiries := make([]*time.Time, 0, len(roles))
	for _, ur := range roles {
		expiries = append(expiries, ur.ExpiresAt)
	}
	r.cache.set(ctx, key, roles, r.untilEarliestExpiry(expiries))
	return roles, nil
}

// HighestRole returns the user's most senior live role, or nil when the user
// holds none
func (r *Resolver) HighestRole(ctx context.Context, userID int64) (*RoleSummary, error) {
	roles, err := r.UserRoles(ctx, userID)
	if err != nil {
		return nil, err
	}
	return HighestOf(roles), nil
}

// HasPermission reports whether the user may perform action on resource.
// An empty scope means ScopeAll.
func (r *Resolver) HasPermission(ctx context.Context, userID int64, resource, action, scope string) (bool, error) {
	set, err := r.PermissionSet(ctx, userID)
	if err != nil {
		return false, err
	}
	key := PermissionKey{Resource: strings.ToLower(resource), Action: strings.ToLower(action)}
	return set.Allows(key, scope), nil
}

// HasAllPermissions reports whether every key is allowed, stopping at the
// first one that is not
func (r *Resolver) HasAllPermissions(ctx context.Context, userID int64, keys []PermissionKey) (bool, error) {
	set, err := r.PermissionSet(ctx, userID)
	if err != nil {
		return false, err
	}
	for _, k := range keys {
		if !set.Allows(k, ScopeAll) {
			return false, nil
		}
	}
	return true, nil
}

// HasAnyPermission reports whether at least one key is allowed, stopping at
// the first one that is
func (r *Resolver) HasAnyPermission(ctx context.Context, userID int64, keys []PermissionKey) (bool, error) {
	set, err := r.PermissionSet(ctx, userID)
	if err != nil {
		return false, err
	}
	return set.AllowsAny(keys), nil
}

// CanManageRole reports whether the user's highest live role level is
// strictly greater than the target role's level. A user with no live roles
// can manage nothing.
func (r *Resolver) CanManageRole(ctx context.Context, userID, targetRoleID int64) (bool, error) {
	target, err := r.store.GetRole(ctx, targetRoleID)
	if err != nil {
		return false, err
	}
	if target.IsDeleted() {
		return false, newError(ErrRoleNotFound, "role not found: %d", targetRoleID)
	}

	highest, err := r.HighestRole(ctx, userID)
	if err != nil {
		return false, err
	}
	if highest == nil {
		return false, nil
	}
	return highest.Level > target.Level, nil
}

// InvalidateUser drops the cached roles and permissions of each user
func (r *Resolver) InvalidateUser(ctx context.Context, userIDs ...int64) {
	r.cache.invalidateUsers(ctx, userIDs...)
}

// InvalidateHierarchy drops the cached role hierarchy
func (r *Resolver) InvalidateHierarchy(ctx context.Context) {
	r.cache.invalidateHierarchy(ctx)
}

// untilEarliestExpiry returns the time left until the earliest non-nil
// expiry, or zero when nothing expires
func (r *Resolver) untilEarliestExpiry(expiries []*time.Time) time.Duration {
	now := r.opts.clock()
	var limit time.Duration
	for _, exp := range expiries {
		if exp == nil {
			continue
		}
		d := exp.Sub(now)
		if d <= 0 {
			d = time.Millisecond
		}
		if limit == 0 || d < limit {
			limit = d
		}
	}
	return limit
}

func effectiveExpiries(entries []EffectivePermission) []*time.Time {
	out := make([]*time.Time, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.ExpiresAt)
	}
	return out
}

// HighestOf returns the most senior role among assignments by level, then
// priority, then lowest id, or nil when none carries a role record. The
// result does not depend on the order of roles.
func HighestOf(roles []UserRole) *RoleSummary {
	var best *Role
	for i := range roles {
		role := roles[i].Role
		if role == nil {
			continue
		}
		if best == nil || outranks(role, best) {
			best = role
		}
	}
	if best == nil {
		return nil
	}
	s := best.Summary()
	return &s
}

func outranks(a, b *Role) bool {
	if a.Level != b.Level {
		return a.Level > b.Level
	}
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	return a.ID < b.ID
}
