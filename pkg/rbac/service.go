package rbac

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/platinummonkey/assetguard/pkg/audit"
	"github.com/platinummonkey/assetguard/pkg/contextkeys"
	"github.com/platinummonkey/assetguard/pkg/observability"
)

const (
	maxRoleNameLength = 64
	uncategorized     = "general"
)

var roleNamePattern = regexp.MustCompile(`^[A-Z][A-Z0-9_]*$`)

// Service performs role, assignment and catalog mutations. Every multi-row
// mutation runs in one transaction and the affected cache entries are
// dropped after commit, before the call returns.
type Service struct {
	store    Store
	resolver *Resolver
	cache    *authCache
	auditLog audit.Logger
	logger   *observability.Logger
	metrics  *observability.Metrics
	opts     *options
}

// NewService creates a role management service
func NewService(store Store, opts ...Option) *Service {
	o := buildOptions(opts)
	return &Service{
		store:    store,
		resolver: newResolver(store, o),
		cache:    newAuthCache(o),
		auditLog: o.audit,
		logger:   o.logger.WithField("component", "rbac_service"),
		metrics:  o.metrics,
		opts:     o,
	}
}

// Resolver returns the resolver sharing this service's store and cache
func (s *Service) Resolver() *Resolver {
	return s.resolver
}

// NormalizeRoleName trims and upper-cases a role name, mapping spaces and
// hyphens to underscores, and validates the result
func NormalizeRoleName(name string) (string, error) {
	n := strings.ToUpper(strings.TrimSpace(name))
	n = strings.NewReplacer(" ", "_", "-", "_").Replace(n)
	if n == "" {
		return "", newError(ErrInvalidInput, "role name is required")
	}
	if len(n) > maxRoleNameLength {
		return "", newError(ErrInvalidInput, "role name must be at most %d characters", maxRoleNameLength)
	}
	if !roleNamePattern.MatchString(n) {
		return "", newError(ErrInvalidInput, "invalid role name %q: use letters, digits and underscores, starting with a letter", name)
	}
	return n, nil
}

// CreateRole creates a role and links its permissions
func (s *Service) CreateRole(ctx context.Context, in CreateRoleInput) (*Role, error) {
	now := s.opts.clock()
	in.CreatedBy = actorOrDefault(ctx, in.CreatedBy)

	var role *Role
	err := s.store.WithTx(ctx, func(q Queries) error {
		perms, err := resolvePermissions(ctx, q, in.Permissions)
		if err != nil {
			return err
		}
		role, err = s.createRoleTx(ctx, q, in, perms, now)
		return err
	})
	s.metrics.RecordRoleMutation("create", err)

	ev := &audit.Event{
		EventType:    audit.EventTypeRoleCreate,
		ActorID:      in.CreatedBy,
		ResourceType: audit.ResourceTypeRole,
		Metadata:     map[string]interface{}{"name": in.Name, "permissions": in.Permissions},
	}
	if err != nil {
		s.record(ctx, ev, err)
		return nil, err
	}

	s.resolver.InvalidateHierarchy(ctx)
	ev.ResourceID = strconv.FormatInt(role.ID, 10)
	ev.Message = fmt.Sprintf("created role %s at level %d", role.Name, role.Level)
	s.record(ctx, ev, nil)
	return role, nil
}

func (s *Service) createRoleTx(ctx context.Context, q Queries, in CreateRoleInput, perms []Permission, now time.Time) (*Role, error) {
	name, err := NormalizeRoleName(in.Name)
	if err != nil {
		return nil, err
	}
	if err := ensureRoleNameFree(ctx, q, name, 0); err != nil {
		return nil, err
	}

	level := s.opts.config.DefaultLevelStep
	if in.Level != nil {
		level = *in.Level
	} else {
		maxLevel, ok, err := q.MaxRoleLevel(ctx)
		if err != nil {
			return nil, err
		}
		if ok {
			level = maxLevel + s.opts.config.DefaultLevelStep
		}
	}

	displayName := strings.TrimSpace(in.DisplayName)
	if displayName == "" {
		displayName = name
	}

	role := &Role{
		Name:         name,
		DisplayName:  displayName,
		Description:  in.Description,
		Level:        level,
		Priority:     in.Priority,
		Color:        in.Color,
		Icon:         in.Icon,
		IsSystem:     in.IsSystem,
		IsActive:     true,
		ParentRoleID: in.ParentRoleID,
		CreatedBy:    in.CreatedBy,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := q.CreateRole(ctx, role); err != nil {
		return nil, err
	}

	for _, p := range perms {
		if err := q.ActivateRolePermission(ctx, role.ID, p.ID, in.CreatedBy, now); err != nil {
			return nil, err
		}
	}
	return role, nil
}

// UpdateRole applies the non-nil fields of in. A non-nil Permissions list
// replaces the role's whole permission set.
func (s *Service) UpdateRole(ctx context.Context, roleID int64, in UpdateRoleInput) (*Role, error) {
	now := s.opts.clock()
	in.UpdatedBy = actorOrDefault(ctx, in.UpdatedBy)

	var (
		role    *Role
		holders []int64
		before  map[string]interface{}
	)
	err := s.store.WithTx(ctx, func(q Queries) error {
		var err error
		role, err = q.GetRole(ctx, roleID)
		if err != nil {
			return err
		}
		if role.IsDeleted() {
			return newError(ErrRoleNotFound, "role not found: %d", roleID)
		}
		if role.IsSystem {
			return newError(ErrSystemRoleImmutable, "system role %s cannot be modified", role.Name)
		}
		before = roleSnapshot(role)

		if in.Name != nil {
			name, err := NormalizeRoleName(*in.Name)
			if err != nil {
				return err
			}
			if name != role.Name {
				if err := ensureRoleNameFree(ctx, q, name, role.ID); err != nil {
					return err
				}
				role.Name = name
			}
		}
		if in.DisplayName != nil {
			role.DisplayName = strings.TrimSpace(*in.DisplayName)
		}
		if in.Description != nil {
			role.Description = *in.Description
		}
		if in.Level != nil {
			role.Level = *in.Level
		}
		if in.Priority != nil {
			role.Priority = *in.Priority
		}
		if in.Color != nil {
			role.Color = *in.Color
		}
		if in.Icon != nil {
			role.Icon = *in.Icon
		}
		if in.IsActive != nil {
			role.IsActive = *in.IsActive
		}
		role.UpdatedAt = now

		if err := q.UpdateRole(ctx, role); err != nil {
			return err
		}

		if in.Permissions != nil {
			perms, err := resolvePermissions(ctx, q, *in.Permissions)
			if err != nil {
				return err
			}
			if err := q.DeactivateRolePermissions(ctx, role.ID); err != nil {
				return err
			}
			for _, p := range perms {
				if err := q.ActivateRolePermission(ctx, role.ID, p.ID, in.UpdatedBy, now); err != nil {
					return err
				}
			}
		}

		holders, err = q.ListUsersWithRole(ctx, role.ID)
		return err
	})
	s.metrics.RecordRoleMutation("update", err)

	ev := &audit.Event{
		EventType:    audit.EventTypeRoleUpdate,
		ActorID:      in.UpdatedBy,
		ResourceType: audit.ResourceTypeRole,
		ResourceID:   strconv.FormatInt(roleID, 10),
	}
	if err != nil {
		s.record(ctx, ev, err)
		return nil, err
	}

	s.resolver.InvalidateUser(ctx, holders...)
	s.resolver.InvalidateHierarchy(ctx)

	ev.Changes = &audit.ChangeDetails{Before: before, After: roleSnapshot(role)}
	if in.Permissions != nil {
		ev.Metadata = map[string]interface{}{"permissions": *in.Permissions}
	}
	ev.Message = fmt.Sprintf("updated role %s, invalidated %d users", role.Name, len(holders))
	s.record(ctx, ev, nil)
	return role, nil
}

// DeleteRole soft-deletes a role that no live assignment references
func (s *Service) DeleteRole(ctx context.Context, roleID int64) error {
	now := s.opts.clock()

	var role *Role
	err := s.store.WithTx(ctx, func(q Queries) error {
		var err error
		role, err = q.GetRole(ctx, roleID)
		if err != nil {
			return err
		}
		if role.IsDeleted() {
			return newError(ErrRoleNotFound, "role not found: %d", roleID)
		}
		if role.IsSystem {
			return newError(ErrSystemRoleImmutable, "system role %s cannot be deleted", role.Name)
		}

		count, err := q.CountLiveUserRoles(ctx, roleID, now)
		if err != nil {
			return err
		}
		if count > 0 {
			return newError(ErrRoleInUse, "role %s is assigned to %d users", role.Name, count)
		}
		return q.SoftDeleteRole(ctx, roleID, now)
	})
	s.metrics.RecordRoleMutation("delete", err)

	ev := &audit.Event{
		EventType:    audit.EventTypeRoleDelete,
		ResourceType: audit.ResourceTypeRole,
		ResourceID:   strconv.FormatInt(roleID, 10),
	}
	if err != nil {
		s.record(ctx, ev, err)
		return err
	}

	s.resolver.InvalidateHierarchy(ctx)
	ev.Message = fmt.Sprintf("deleted role %s", role.Name)
	s.record(ctx, ev, nil)
	return nil
}

// CloneRole copies a role's level, presentation and active permissions into
// a new, non-system role
func (s *Service) CloneRole(ctx context.Context, sourceRoleID int64, newName string, createdBy *int64) (*Role, error) {
	now := s.opts.clock()
	createdBy = actorOrDefault(ctx, createdBy)

	var role *Role
	err := s.store.WithTx(ctx, func(q Queries) error {
		source, err := q.GetRole(ctx, sourceRoleID)
		if err != nil {
			return err
		}
		if source.IsDeleted() {
			return newError(ErrRoleNotFound, "role not found: %d", sourceRoleID)
		}

		perms, err := q.ListRolePermissions(ctx, source.ID)
		if err != nil {
			return err
		}

		level := source.Level
		role, err = s.createRoleTx(ctx, q, CreateRoleInput{
			Name:         newName,
			DisplayName:  source.DisplayName + " (Copy)",
			Description:  source.Description,
			Level:        &level,
			Priority:     source.Priority,
			Color:        source.Color,
			Icon:         source.Icon,
			ParentRoleID: source.ParentRoleID,
			CreatedBy:    createdBy,
		}, perms, now)
		return err
	})
	s.metrics.RecordRoleMutation("clone", err)

	ev := &audit.Event{
		EventType:    audit.EventTypeRoleClone,
		ActorID:      createdBy,
		ResourceType: audit.ResourceTypeRole,
		Metadata:     map[string]interface{}{"source_role_id": sourceRoleID, "name": newName},
	}
	if err != nil {
		s.record(ctx, ev, err)
		return nil, err
	}

	s.resolver.InvalidateHierarchy(ctx)
	ev.ResourceID = strconv.FormatInt(role.ID, 10)
	ev.Message = fmt.Sprintf("cloned role %d into %s", sourceRoleID, role.Name)
	s.record(ctx, ev, nil)
	return role, nil
}

// GetRole returns a non-deleted role
func (s *Service) GetRole(ctx context.Context, roleID int64) (*Role, error) {
	role, err := s.store.GetRole(ctx, roleID)
	if err != nil {
		return nil, err
	}
	if role.IsDeleted() {
		return nil, newError(ErrRoleNotFound, "role not found: %d", roleID)
	}
	return role, nil
}

// ListRoles lists non-deleted roles, most senior first
func (s *Service) ListRoles(ctx context.Context) ([]Role, error) {
	return s.store.ListRoles(ctx)
}

// AssignRole grants roleID to userID
func (s *Service) AssignRole(ctx context.Context, userID, roleID int64, opts AssignOptions) (*UserRole, error) {
	now := s.opts.clock()
	opts.AssignedBy = actorOrDefault(ctx, opts.AssignedBy)

	var ur *UserRole
	err := s.store.WithTx(ctx, func(q Queries) error {
		if userID <= 0 {
			return newError(ErrInvalidInput, "invalid user id: %d", userID)
		}
		if opts.ExpiresAt != nil && !opts.ExpiresAt.After(now) {
			return newError(ErrInvalidInput, "expiry %s is in the past", opts.ExpiresAt.UTC().Format(time.RFC3339))
		}

		role, err := q.GetRole(ctx, roleID)
		if err != nil {
			return err
		}
		if role.IsDeleted() || !role.IsActive {
			return newError(ErrRoleNotFound, "role not found: %d", roleID)
		}

		existing, err := q.GetActiveUserRole(ctx, userID, roleID, now)
		if err == nil {
			return newError(ErrDuplicateAssignment, "user %d already holds role %s (assignment %d)", userID, role.Name, existing.ID)
		}
		if !errors.Is(err, ErrAssignmentNotFound) {
			return err
		}

		ur = &UserRole{
			UserID:     userID,
			RoleID:     roleID,
			IsActive:   true,
			IsPrimary:  opts.IsPrimary,
			ExpiresAt:  utcPtr(opts.ExpiresAt),
			AssignedBy: opts.AssignedBy,
			Reason:     opts.Reason,
			AssignedAt: now,
		}
		if err := q.CreateUserRole(ctx, ur); err != nil {
			return err
		}
		if opts.IsPrimary {
			return q.ClearPrimary(ctx, userID, ur.ID)
		}
		return nil
	})
	s.metrics.RecordRoleMutation("assign", err)

	ev := &audit.Event{
		EventType:    audit.EventTypeRoleAssign,
		ActorID:      opts.AssignedBy,
		ResourceType: audit.ResourceTypeRole,
		ResourceID:   strconv.FormatInt(roleID, 10),
		TargetUserID: audit.Int64(userID),
		Metadata:     map[string]interface{}{"primary": opts.IsPrimary, "reason": opts.Reason},
	}
	if opts.ExpiresAt != nil {
		ev.Metadata["expires_at"] = opts.ExpiresAt.UTC()
	}
	if err != nil {
		s.record(ctx, ev, err)
		return nil, err
	}

	s.resolver.InvalidateUser(ctx, userID)
	s.resolver.InvalidateHierarchy(ctx)
	s.record(ctx, ev, nil)
	return ur, nil
}

// RemoveRole deactivates the user's live assignment of roleID
func (s *Service) RemoveRole(ctx context.Context, userID, roleID int64) error {
	now := s.opts.clock()

	err := s.store.WithTx(ctx, func(q Queries) error {
		ur, err := q.GetActiveUserRole(ctx, userID, roleID, now)
		if err != nil {
			return err
		}
		return q.DeactivateUserRole(ctx, ur.ID)
	})
	s.metrics.RecordRoleMutation("remove", err)

	ev := &audit.Event{
		EventType:    audit.EventTypeRoleRemove,
		ResourceType: audit.ResourceTypeRole,
		ResourceID:   strconv.FormatInt(roleID, 10),
		TargetUserID: audit.Int64(userID),
	}
	if err != nil {
		s.record(ctx, ev, err)
		return err
	}

	s.resolver.InvalidateUser(ctx, userID)
	s.resolver.InvalidateHierarchy(ctx)
	s.record(ctx, ev, nil)
	return nil
}

// GetUserRoles returns the user's live assignments
func (s *Service) GetUserRoles(ctx context.Context, userID int64) ([]UserRole, error) {
	return s.resolver.UserRoles(ctx, userID)
}

// GetRoleHierarchy returns every non-deleted role with its active permission
// keys and live assignment count, most senior first
func (s *Service) GetRoleHierarchy(ctx context.Context) ([]RoleHierarchyEntry, error) {
	var cached []RoleHierarchyEntry
	if s.cache.get(ctx, RoleHierarchyKey, RoleHierarchyKey, &cached) {
		return cached, nil
	}

	now := s.opts.clock()
	roles, err := s.store.ListRoles(ctx)
	if err != nil {
		return nil, err
	}

	entries := make([]RoleHierarchyEntry, 0, len(roles))
	for _, role := range roles {
		perms, err := s.store.ListRolePermissions(ctx, role.ID)
		if err != nil {
			return nil, err
		}
		count, err := s.store.CountLiveUserRoles(ctx, role.ID, now)
		if err != nil {
			return nil, err
		}

		keys := make([]string, 0, len(perms))
		for _, p := range perms {
			keys = append(keys, p.Key().String())
		}
		entries = append(entries, RoleHierarchyEntry{Role: role, Permissions: keys, UserCount: count})
	}

	s.cache.set(ctx, RoleHierarchyKey, entries, 0)
	return entries, nil
}

// CreatePermission adds a catalog entry
func (s *Service) CreatePermission(ctx context.Context, in CreatePermissionInput) (*Permission, error) {
	key, err := ParsePermissionKey(in.Resource + ":" + in.Action)
	if err != nil {
		return nil, err
	}

	scope := strings.ToUpper(strings.TrimSpace(in.Scope))
	if scope == "" {
		scope = ScopeAll
	}
	risk := RiskLevel(strings.ToUpper(string(in.RiskLevel)))
	if risk == "" {
		risk = RiskLow
	}
	if !risk.Valid() {
		return nil, newError(ErrInvalidInput, "invalid risk level %q", in.RiskLevel)
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		name = key.String()
	}

	p := &Permission{
		Resource:    key.Resource,
		Action:      key.Action,
		Scope:       scope,
		Name:        name,
		Description: in.Description,
		Category:    in.Category,
		RiskLevel:   risk,
		RequiresMFA: in.RequiresMFA,
		IsSystem:    in.IsSystem,
		IsActive:    true,
		CreatedAt:   s.opts.clock(),
	}

	err = s.store.WithTx(ctx, func(q Queries) error {
		_, err := q.GetPermissionByIdentity(ctx, p.Resource, p.Action, p.Scope)
		if err == nil {
			return newError(ErrDuplicatePermission, "permission %s@%s already exists", key, scope)
		}
		if !errors.Is(err, ErrPermissionNotFound) {
			return err
		}
		return q.CreatePermission(ctx, p)
	})
	s.metrics.RecordRoleMutation("create_permission", err)

	ev := &audit.Event{
		EventType:    audit.EventTypePermissionCreate,
		ResourceType: audit.ResourceTypePermission,
		Metadata:     map[string]interface{}{"key": key.String(), "scope": scope, "risk_level": string(risk)},
	}
	if err != nil {
		s.record(ctx, ev, err)
		return nil, err
	}
	ev.ResourceID = strconv.FormatInt(p.ID, 10)
	s.record(ctx, ev, nil)
	return p, nil
}

// SetPermissionActive toggles a catalog entry and drops the cached
// permissions of every user holding it through a role or an override
func (s *Service) SetPermissionActive(ctx context.Context, permissionID int64, active bool) error {
	var users []int64
	err := s.store.WithTx(ctx, func(q Queries) error {
		p, err := q.GetPermission(ctx, permissionID)
		if err != nil {
			return err
		}
		if p.IsSystem {
			return newError(ErrSystemPermissionImmutable, "system permission %s cannot be modified", p.Key())
		}
		if err := q.SetPermissionActive(ctx, permissionID, active); err != nil {
			return err
		}

		roleIDs, err := q.ListRolesWithPermission(ctx, permissionID)
		if err != nil {
			return err
		}
		for _, roleID := range roleIDs {
			ids, err := q.ListUsersWithRole(ctx, roleID)
			if err != nil {
				return err
			}
			users = append(users, ids...)
		}
		ids, err := q.ListUsersWithOverride(ctx, permissionID)
		if err != nil {
			return err
		}
		users = uniqueIDs(append(users, ids...))
		return nil
	})
	s.metrics.RecordRoleMutation("toggle_permission", err)

	ev := &audit.Event{
		EventType:    audit.EventTypePermissionToggle,
		ResourceType: audit.ResourceTypePermission,
		ResourceID:   strconv.FormatInt(permissionID, 10),
		Metadata:     map[string]interface{}{"active": active},
	}
	if err != nil {
		s.record(ctx, ev, err)
		return err
	}

	s.resolver.InvalidateUser(ctx, users...)
	s.resolver.InvalidateHierarchy(ctx)
	ev.Message = fmt.Sprintf("invalidated %d users", len(users))
	s.record(ctx, ev, nil)
	return nil
}

// ListPermissions lists the catalog
func (s *Service) ListPermissions(ctx context.Context, activeOnly bool) ([]Permission, error) {
	return s.store.ListPermissions(ctx, activeOnly)
}

// GetPermissionsByCategory groups the active catalog by category. Entries
// without a category are grouped under "general".
func (s *Service) GetPermissionsByCategory(ctx context.Context) (map[string][]Permission, error) {
	perms, err := s.store.ListPermissions(ctx, true)
	if err != nil {
		return nil, err
	}

	out := make(map[string][]Permission)
	for _, p := range perms {
		category := p.Category
		if category == "" {
			category = uncategorized
		}
		out[category] = append(out[category], p)
	}
	return out, nil
}

// SetUserPermission creates or replaces the user's live override of the
// permission named by pattern
func (s *Service) SetUserPermission(ctx context.Context, userID int64, pattern string, opts OverrideOptions) (*UserPermission, error) {
	now := s.opts.clock()
	opts.GrantedBy = actorOrDefault(ctx, opts.GrantedBy)

	var up *UserPermission
	err := s.store.WithTx(ctx, func(q Queries) error {
		if userID <= 0 {
			return newError(ErrInvalidInput, "invalid user id: %d", userID)
		}
		if opts.ExpiresAt != nil && !opts.ExpiresAt.After(now) {
			return newError(ErrInvalidInput, "expiry %s is in the past", opts.ExpiresAt.UTC().Format(time.RFC3339))
		}

		key, err := ParsePermissionKey(pattern)
		if err != nil {
			return err
		}
		p, err := q.FindPermission(ctx, key)
		if err != nil {
			return err
		}

		existing, err := q.GetLiveUserPermission(ctx, userID, p.ID, now)
		switch {
		case err == nil:
			if err := q.DeactivateUserPermission(ctx, existing.ID); err != nil {
				return err
			}
		case !errors.Is(err, ErrOverrideNotFound):
			return err
		}

		up = &UserPermission{
			UserID:       userID,
			PermissionID: p.ID,
			IsDenied:     opts.Denied,
			IsActive:     true,
			ExpiresAt:    utcPtr(opts.ExpiresAt),
			GrantedBy:    opts.GrantedBy,
			Reason:       opts.Reason,
			CreatedAt:    now,
			Permission:   p,
		}
		return q.CreateUserPermission(ctx, up)
	})
	s.metrics.RecordRoleMutation("set_override", err)

	ev := &audit.Event{
		EventType:    audit.EventTypeOverrideSet,
		ActorID:      opts.GrantedBy,
		ResourceType: audit.ResourceTypePermission,
		TargetUserID: audit.Int64(userID),
		Metadata:     map[string]interface{}{"permission": pattern, "denied": opts.Denied, "reason": opts.Reason},
	}
	if err != nil {
		s.record(ctx, ev, err)
		return nil, err
	}

	s.resolver.InvalidateUser(ctx, userID)
	ev.ResourceID = strconv.FormatInt(up.PermissionID, 10)
	s.record(ctx, ev, nil)
	return up, nil
}

// RemoveUserPermission deactivates the user's live override of the
// permission named by pattern
func (s *Service) RemoveUserPermission(ctx context.Context, userID int64, pattern string) error {
	now := s.opts.clock()

	err := s.store.WithTx(ctx, func(q Queries) error {
		key, err := ParsePermissionKey(pattern)
		if err != nil {
			return err
		}
		p, err := q.FindPermission(ctx, key)
		if err != nil {
			return err
		}
		up, err := q.GetLiveUserPermission(ctx, userID, p.ID, now)
		if err != nil {
			return err
		}
		return q.DeactivateUserPermission(ctx, up.ID)
	})
	s.metrics.RecordRoleMutation("remove_override", err)

	ev := &audit.Event{
		EventType:    audit.EventTypeOverrideRemove,
		ResourceType: audit.ResourceTypePermission,
		TargetUserID: audit.Int64(userID),
		Metadata:     map[string]interface{}{"permission": pattern},
	}
	if err != nil {
		s.record(ctx, ev, err)
		return err
	}

	s.resolver.InvalidateUser(ctx, userID)
	s.record(ctx, ev, nil)
	return nil
}

// SweepExpired deactivates assignments and overrides whose expiry has
// passed. Reads already ignore expired rows; the sweep keeps the tables
// tidy and drops cached entries of the affected users.
func (s *Service) SweepExpired(ctx context.Context) (*SweepResult, error) {
	now := s.opts.clock()

	var roleUsers, overrideUsers []int64
	err := s.store.WithTx(ctx, func(q Queries) error {
		var err error
		roleUsers, err = q.DeactivateExpiredUserRoles(ctx, now)
		if err != nil {
			return err
		}
		overrideUsers, err = q.DeactivateExpiredUserPermissions(ctx, now)
		return err
	})
	s.metrics.RecordSweep(len(roleUsers), len(overrideUsers), err)
	if err != nil {
		s.record(ctx, &audit.Event{EventType: audit.EventTypeExpirySweep}, err)
		return nil, err
	}

	result := &SweepResult{
		Assignments: len(roleUsers),
		Overrides:   len(overrideUsers),
		Users:       uniqueIDs(append(roleUsers, overrideUsers...)),
	}
	if len(result.Users) == 0 {
		return result, nil
	}

	s.resolver.InvalidateUser(ctx, result.Users...)
	if result.Assignments > 0 {
		s.resolver.InvalidateHierarchy(ctx)
	}

	s.logger.WithFields(map[string]interface{}{
		"assignments": result.Assignments,
		"overrides":   result.Overrides,
		"users":       len(result.Users),
	}).Info("Deactivated expired grants")
	s.record(ctx, &audit.Event{
		EventType: audit.EventTypeExpirySweep,
		Metadata: map[string]interface{}{
			"assignments": result.Assignments,
			"overrides":   result.Overrides,
			"users":       result.Users,
		},
	}, nil)
	return result, nil
}

// record stamps and writes an audit event. Audit failures are logged and
// never fail the operation.
func (s *Service) record(ctx context.Context, ev *audit.Event, err error) {
	ev.Timestamp = s.opts.clock()
	if ev.ActorID == nil {
		ev.ActorID = actorOrDefault(ctx, nil)
	}
	ev.RequestID = contextkeys.GetRequestID(ctx)

	ev.Status = audit.EventStatusSuccess
	if err != nil {
		ev.Status = audit.EventStatusFailure
		ev.ErrorMessage = err.Error()
	}

	if lerr := s.auditLog.Log(ctx, ev); lerr != nil {
		s.logger.WithError(lerr).WithField("event_type", string(ev.EventType)).Warn("Failed to write audit event")
	}
}

// resolvePermissions parses patterns and resolves each against the active
// catalog. Duplicate patterns collapse to one permission.
func resolvePermissions(ctx context.Context, q Queries, patterns []string) ([]Permission, error) {
	keys, err := ParsePermissionKeys(patterns)
	if err != nil {
		return nil, err
	}

	seen := make(map[PermissionKey]bool, len(keys))
	perms := make([]Permission, 0, len(keys))
	for _, k := range keys {
		if seen[k] {
			continue
		}
		seen[k] = true

		p, err := q.FindPermission(ctx, k)
		if err != nil {
			return nil, err
		}
		perms = append(perms, *p)
	}
	return perms, nil
}

// ensureRoleNameFree fails with ErrDuplicateRole when a non-deleted role
// other than exceptID already uses name
func ensureRoleNameFree(ctx context.Context, q Queries, name string, exceptID int64) error {
	existing, err := q.GetRoleByName(ctx, name)
	if errors.Is(err, ErrRoleNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if existing.ID == exceptID {
		return nil
	}
	return newError(ErrDuplicateRole, "role %s already exists", name)
}

func actorOrDefault(ctx context.Context, explicit *int64) *int64 {
	if explicit != nil {
		return explicit
	}
	if id, ok := contextkeys.GetActorID(ctx); ok {
		return &id
	}
	return nil
}

func roleSnapshot(r *Role) map[string]interface{} {
	return map[string]interface{}{
		"name":         r.Name,
		"display_name": r.DisplayName,
		"level":        r.Level,
		"priority":     r.Priority,
		"is_active":    r.IsActive,
	}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func uniqueIDs(ids []int64) []int64 {
	if len(ids) == 0 {
		return nil
	}
	seen := make(map[int64]bool, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
