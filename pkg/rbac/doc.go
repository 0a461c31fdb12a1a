// Package rbac provides dynamic role-based access control for the asset
// management application.
//
// # Overview
//
// Users hold leveled roles, roles hold catalog permissions, and individual
// users may carry direct permission overrides. The package stores all of
// these, resolves them into a per-user set of effective permissions, caches
// the result, and performs every administrative mutation transactionally.
//
// # Data Model
//
//	Permission      - catalog capability identified by (resource, action, scope)
//	Role            - named bundle of permissions with a seniority level
//	RolePermission  - role to permission link with its own active flag
//	UserRole        - a user's membership in a role, optionally temporary
//	UserPermission  - a direct per-user grant or deny
//
// Roles are soft-deleted. Assignments, overrides and role permissions are
// deactivated, never removed. A row whose expiry has passed is ignored by
// every read even before the sweeper deactivates it.
//
// # Effective Permissions
//
// For each resource:action key the resolver keeps one entry:
//
//  1. Role grants are visited in (level desc, priority desc, id asc) order.
//     The first role to grant a key owns it and a later role replaces it
//     only when its level is strictly higher.
//  2. Live overrides then replace the entry for their key unconditionally.
//     A deny produces source "override", a grant produces source "direct".
//
// Checks go through PermissionSet. An exact entry decides in either
// direction, so an explicit deny beats any wildcard grant. Without an exact
// entry a granted wildcard ("*:read", "tickets:*", "*:*") allows the key.
//
// # Usage
//
//	store := rbac.NewStore(db)
//	svc := rbac.NewService(store,
//		rbac.WithCache(cache.NewMemoryCache(nil)),
//		rbac.WithLogger(logger),
//		rbac.WithMetrics(metrics),
//	)
//
//	role, err := svc.CreateRole(ctx, rbac.CreateRoleInput{
//		Name:        "AUDITOR",
//		Permissions: []string{"equipment:read", "reports:export"},
//	})
//
//	_, err = svc.AssignRole(ctx, userID, role.ID, rbac.AssignOptions{})
//
//	ok, err := svc.Resolver().HasPermission(ctx, userID, "equipment", "read", "")
//
// # Caching
//
// Resolved roles and permissions are cached per user under user_roles_{id}
// and permissions_{id}, and the role hierarchy under role_hierarchy, for
// Config.CacheTTL. An entry never outlives the earliest expiry it contains.
// Every mutation drops the affected keys after its transaction commits.
//
// # Errors
//
// Domain failures are *Error values wrapping one of the Err* sentinels and
// are matched with errors.Is:
//
//	if errors.Is(err, rbac.ErrRoleInUse) {
//		// reassign users first
//	}
package rbac
