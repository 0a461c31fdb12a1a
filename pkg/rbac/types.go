package rbac

import (
	"time"
)

// RiskLevel classifies how dangerous a permission is to grant
type RiskLevel string

const (
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

// Valid reports whether r is one of the known risk levels
func (r RiskLevel) Valid() bool {
	switch r {
	case RiskLow, RiskMedium, RiskHigh, RiskCritical:
		return true
	}
	return false
}

// ScopeAll is the default permission scope and matches every requested scope
const ScopeAll = "ALL"

// Wildcard matches any resource or any action in a permission entry
const Wildcard = "*"

// Source identifies where an effective permission entry came from
type Source string

const (
	SourceRole     Source = "role"
	SourceOverride Source = "override" // direct deny
	SourceDirect   Source = "direct"   // direct grant
)

// Permission is a catalog entry identified by (resource, action, scope)
type Permission struct {
	ID          int64     `json:"id"`
	Resource    string    `json:"resource"`
	Action      string    `json:"action"`
	Scope       string    `json:"scope"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Category    string    `json:"category"`
	RiskLevel   RiskLevel `json:"risk_level"`
	RequiresMFA bool      `json:"requires_mfa"`
	IsSystem    bool      `json:"is_system"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
}

// Key returns the resource:action key of the permission
func (p Permission) Key() PermissionKey {
	return PermissionKey{Resource: p.Resource, Action: p.Action}
}

// Role is a named, leveled bundle of permissions
type Role struct {
	ID           int64      `json:"id"`
	Name         string     `json:"name"`
	DisplayName  string     `json:"display_name"`
	Description  string     `json:"description,omitempty"`
	Level        int        `json:"level"`
	Priority     int        `json:"priority"`
	Color        string     `json:"color,omitempty"`
	Icon         string     `json:"icon,omitempty"`
	IsSystem     bool       `json:"is_system"`
	IsActive     bool       `json:"is_active"`
	ParentRoleID *int64     `json:"parent_role_id,omitempty"` // informational only, never traversed
	CreatedBy    *int64     `json:"created_by,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	DeletedAt    *time.Time `json:"deleted_at,omitempty"`
}

// IsDeleted reports whether the role has been soft-deleted
func (r *Role) IsDeleted() bool {
	return r.DeletedAt != nil
}

// Summary returns the compact representation used in authorization contexts
func (r *Role) Summary() RoleSummary {
	return RoleSummary{ID: r.ID, Name: r.Name, Level: r.Level}
}

// RoleSummary is the {id, name, level} triple exposed to callers
type RoleSummary struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Level int    `json:"level"`
}

// RolePermission links a role to a catalog permission
type RolePermission struct {
	ID           int64     `json:"id"`
	RoleID       int64     `json:"role_id"`
	PermissionID int64     `json:"permission_id"`
	IsActive     bool      `json:"is_active"`
	GrantedBy    *int64    `json:"granted_by,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// UserRole is a user's membership in a role
type UserRole struct {
	ID         int64      `json:"id"`
	UserID     int64      `json:"user_id"`
	RoleID     int64      `json:"role_id"`
	IsActive   bool       `json:"is_active"`
	IsPrimary  bool       `json:"is_primary"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	AssignedBy *int64     `json:"assigned_by,omitempty"`
	Reason     string     `json:"reason,omitempty"`
	AssignedAt time.Time  `json:"assigned_at"`

	// Role is populated by read paths that join the role record
	Role *Role `json:"role,omitempty"`
}

// IsTemporary reports whether the assignment carries an expiry
func (ur *UserRole) IsTemporary() bool {
	return ur.ExpiresAt != nil
}

// IsLive reports whether the assignment counts at instant now
func (ur *UserRole) IsLive(now time.Time) bool {
	return ur.IsActive && (ur.ExpiresAt == nil || ur.ExpiresAt.After(now))
}

// UserPermission is a direct per-user grant or deny of a catalog permission
type UserPermission struct {
	ID           int64      `json:"id"`
	UserID       int64      `json:"user_id"`
	PermissionID int64      `json:"permission_id"`
	IsDenied     bool       `json:"is_denied"`
	IsActive     bool       `json:"is_active"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	GrantedBy    *int64     `json:"granted_by,omitempty"`
	Reason       string     `json:"reason,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`

	// Permission is populated by read paths that join the catalog
	Permission *Permission `json:"permission,omitempty"`
}

// IsLive reports whether the override counts at instant now
func (up *UserPermission) IsLive(now time.Time) bool {
	return up.IsActive && (up.ExpiresAt == nil || up.ExpiresAt.After(now))
}

// EffectivePermission is the resolved grant or deny of one resource:action key
type EffectivePermission struct {
	Resource  string     `json:"resource"`
	Action    string     `json:"action"`
	Scope     string     `json:"scope"`
	Source    Source     `json:"source"`
	Granted   bool       `json:"granted"`
	RoleID    *int64     `json:"role_id,omitempty"`
	RoleName  string     `json:"role_name,omitempty"`
	RoleLevel int        `json:"role_level,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// Key returns the resource:action key of the entry
func (e EffectivePermission) Key() PermissionKey {
	return PermissionKey{Resource: e.Resource, Action: e.Action}
}

// RoleGrant is one (live assignment, active role permission) pair as read
// from the store for effective-permission computation
type RoleGrant struct {
	RoleID       int64
	RoleName     string
	RoleLevel    int
	RolePriority int
	ExpiresAt    *time.Time
	Permission   Permission
}

// RoleHierarchyEntry describes one role in the hierarchy view
type RoleHierarchyEntry struct {
	Role        Role     `json:"role"`
	Permissions []string `json:"permissions"`
	UserCount   int      `json:"user_count"`
}

// CreateRoleInput holds the fields for creating a role
type CreateRoleInput struct {
	Name         string   `json:"name"`
	DisplayName  string   `json:"display_name"`
	Description  string   `json:"description"`
	Level        *int     `json:"level,omitempty"`
	Priority     int      `json:"priority"`
	Color        string   `json:"color"`
	Icon         string   `json:"icon"`
	ParentRoleID *int64   `json:"parent_role_id,omitempty"`
	Permissions  []string `json:"permissions"`
	CreatedBy    *int64   `json:"-"`
	IsSystem     bool     `json:"-"`
}

// UpdateRoleInput holds optional changes to a role. Nil fields are left
// untouched; a non-nil Permissions slice replaces the whole permission set.
type UpdateRoleInput struct {
	Name        *string   `json:"name,omitempty"`
	DisplayName *string   `json:"display_name,omitempty"`
	Description *string   `json:"description,omitempty"`
	Level       *int      `json:"level,omitempty"`
	Priority    *int      `json:"priority,omitempty"`
	Color       *string   `json:"color,omitempty"`
	Icon        *string   `json:"icon,omitempty"`
	IsActive    *bool     `json:"is_active,omitempty"`
	Permissions *[]string `json:"permissions,omitempty"`
	UpdatedBy   *int64    `json:"-"`
}

// AssignOptions controls a role assignment
type AssignOptions struct {
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	Reason     string     `json:"reason,omitempty"`
	AssignedBy *int64     `json:"-"`
	IsPrimary  bool       `json:"is_primary"`
}

// OverrideOptions controls a direct permission override
type OverrideOptions struct {
	Denied    bool       `json:"denied"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	Reason    string     `json:"reason,omitempty"`
	GrantedBy *int64     `json:"-"`
}

// CreatePermissionInput holds the fields for a new catalog entry
type CreatePermissionInput struct {
	Resource    string    `json:"resource"`
	Action      string    `json:"action"`
	Scope       string    `json:"scope"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Category    string    `json:"category"`
	RiskLevel   RiskLevel `json:"risk_level"`
	RequiresMFA bool      `json:"requires_mfa"`
	IsSystem    bool      `json:"-"`
}

// SweepResult reports what an expiry sweep deactivated
type SweepResult struct {
	Assignments int     `json:"assignments"`
	Overrides   int     `json:"overrides"`
	Users       []int64 `json:"users"`
}
