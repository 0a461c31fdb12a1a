package rbac

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Queries is the set of persistence operations the resolver and service need.
// Every method is usable both on the plain connection and inside a transaction.
type Queries interface {
	CreatePermission(ctx context.Context, p *Permission) error
	GetPermission(ctx context.Context, id int64) (*Permission, error)
	FindPermission(ctx context.Context, key PermissionKey) (*Permission, error)
	GetPermissionByIdentity(ctx context.Context, resource, action, scope string) (*Permission, error)
	ListPermissions(ctx context.Context, activeOnly bool) ([]Permission, error)
	SetPermissionActive(ctx context.Context, id int64, active bool) error

	CreateRole(ctx context.Context, role *Role) error
	GetRole(ctx context.Context, id int64) (*Role, error)
	GetRoleByName(ctx context.Context, name string) (*Role, error)
	UpdateRole(ctx context.Context, role *Role) error
	SoftDeleteRole(ctx context.Context, id int64, now time.Time) error
	ListRoles(ctx context.Context) ([]Role, error)
	MaxRoleLevel(ctx context.Context) (int, bool, error)
	ListRolesWithPermission(ctx context.Context, permissionID int64) ([]int64, error)

	ListRolePermissions(ctx context.Context, roleID int64) ([]Permission, error)
	DeactivateRolePermissions(ctx context.Context, roleID int64) error
	ActivateRolePermission(ctx context.Context, roleID, permissionID int64, grantedBy *int64, now time.Time) error

	CreateUserRole(ctx context.Context, ur *UserRole) error
	GetActiveUserRole(ctx context.Context, userID, roleID int64, now time.Time) (*UserRole, error)
	ListLiveUserRoles(ctx context.Context, userID int64, now time.Time) ([]UserRole, error)
	DeactivateUserRole(ctx context.Context, id int64) error
	ClearPrimary(ctx context.Context, userID, keepID int64) error
	CountLiveUserRoles(ctx context.Context, roleID int64, now time.Time) (int, error)
	ListUsersWithRole(ctx context.Context, roleID int64) ([]int64, error)
	ListRoleGrants(ctx context.Context, userID int64, now time.Time) ([]RoleGrant, error)

	CreateUserPermission(ctx context.Context, up *UserPermission) error
	GetLiveUserPermission(ctx context.Context, userID, permissionID int64, now time.Time) (*UserPermission, error)
	ListLiveUserPermissions(ctx context.Context, userID int64, now time.Time) ([]UserPermission, error)
	DeactivateUserPermission(ctx context.Context, id int64) error
	ListUsersWithOverride(ctx context.Context, permissionID int64) ([]int64, error)

	DeactivateExpiredUserRoles(ctx context.Context, now time.Time) ([]int64, error)
	DeactivateExpiredUserPermissions(ctx context.Context, now time.Time) ([]int64, error)
}

// Store is Queries plus transaction control
type Store interface {
	Queries

	// WithTx runs fn inside a single transaction. The transaction is rolled
	// back if fn returns an error and committed otherwise.
	WithTx(ctx context.Context, fn func(q Queries) error) error

	// Ping verifies the underlying connection
	Ping(ctx context.Context) error
}

// dbtx is satisfied by both *sql.DB and *sql.Tx
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// SQLStore handles RBAC data persistence on database/sql. Queries use $n
// placeholders and run unchanged on PostgreSQL and SQLite.
type SQLStore struct {
	*queries
	db *sql.DB
}

// NewStore creates a new RBAC store
func NewStore(db *sql.DB) *SQLStore {
	return &SQLStore{queries: &queries{db: db}, db: db}
}

// WithTx implements Store
func (s *SQLStore) WithTx(ctx context.Context, fn func(q Queries) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(&queries{db: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Ping implements Store
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

type queries struct {
	db dbtx
}

type scanner interface {
	Scan(dest ...interface{}) error
}

const permissionColumns = `p.id, p.resource, p.action, p.scope, p.name, p.description, p.category, p.risk_level, p.requires_mfa, p.is_system, p.is_active, p.created_at`

func scanPermission(row scanner, extra ...interface{}) (*Permission, error) {
	var p Permission
	var risk string
	dest := []interface{}{
		&p.ID,
		&p.Resource,
		&p.Action,
		&p.Scope,
		&p.Name,
		&p.Description,
		&p.Category,
		&risk,
		&p.RequiresMFA,
		&p.IsSystem,
		&p.IsActive,
		&p.CreatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	p.RiskLevel = RiskLevel(risk)
	return &p, nil
}

// CreatePermission inserts a catalog entry
func (q *queries) CreatePermission(ctx context.Context, p *Permission) error {
	query := `
		INSERT INTO permissions (resource, action, scope, name, description, category, risk_level, requires_mfa, is_system, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id
	`

	err := q.db.QueryRowContext(ctx, query,
		p.Resource,
		p.Action,
		p.Scope,
		p.Name,
		p.Description,
		p.Category,
		string(p.RiskLevel),
		p.RequiresMFA,
		p.IsSystem,
		p.IsActive,
		p.CreatedAt,
	).Scan(&p.ID)
	if err != nil {
		return fmt.Errorf("failed to create permission: %w", err)
	}
	return nil
}

// GetPermission retrieves a catalog entry by ID, active or not
func (q *queries) GetPermission(ctx context.Context, id int64) (*Permission, error) {
	query := `SELECT ` + permissionColumns + ` FROM permissions p WHERE p.id = $1`

	p, err := scanPermission(q.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, newError(ErrPermissionNotFound, "permission not found: %d", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get permission: %w", err)
	}
	return p, nil
}

// FindPermission resolves an active catalog entry by resource:action. When
// the catalog holds the key at several scopes the ALL scope is preferred.
func (q *queries) FindPermission(ctx context.Context, key PermissionKey) (*Permission, error) {
	query := `
		SELECT ` + permissionColumns + `
		FROM permissions p
		WHERE p.resource = $1 AND p.action = $2 AND p.is_active = TRUE
		ORDER BY CASE WHEN p.scope = 'ALL' THEN 0 ELSE 1 END, p.id
		LIMIT 1
	`

	p, err := scanPermission(q.db.QueryRowContext(ctx, query, key.Resource, key.Action))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, newError(ErrPermissionNotFound, "permission not found: %s", key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find permission: %w", err)
	}
	return p, nil
}

// GetPermissionByIdentity retrieves a catalog entry by its full identity,
// active or not
func (q *queries) GetPermissionByIdentity(ctx context.Context, resource, action, scope string) (*Permission, error) {
	query := `SELECT ` + permissionColumns + ` FROM permissions p WHERE p.resource = $1 AND p.action = $2 AND p.scope = $3`

	p, err := scanPermission(q.db.QueryRowContext(ctx, query, resource, action, scope))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, newError(ErrPermissionNotFound, "permission not found: %s:%s@%s", resource, action, scope)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get permission: %w", err)
	}
	return p, nil
}

// ListPermissions lists the catalog ordered by category then key
func (q *queries) ListPermissions(ctx context.Context, activeOnly bool) ([]Permission, error) {
	query := `
		SELECT ` + permissionColumns + `
		FROM permissions p
		WHERE ($1 = FALSE OR p.is_active = TRUE)
		ORDER BY p.category, p.resource, p.action, p.scope
	`

	rows, err := q.db.QueryContext(ctx, query, activeOnly)
	if err != nil {
		return nil, fmt.Errorf("failed to list permissions: %w", err)
	}
	defer rows.Close()

	var perms []Permission
	for rows.Next() {
		p, err := scanPermission(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan permission: %w", err)
		}
		perms = append(perms, *p)
	}
	return perms, rows.Err()
}

// SetPermissionActive toggles a catalog entry
func (q *queries) SetPermissionActive(ctx context.Context, id int64, active bool) error {
	res, err := q.db.ExecContext(ctx, `UPDATE permissions SET is_active = $1 WHERE id = $2`, active, id)
	if err != nil {
		return fmt.Errorf("failed to update permission: %w", err)
	}
	return expectRow(res, newError(ErrPermissionNotFound, "permission not found: %d", id))
}

const roleColumns = `r.id, r.name, r.display_name, r.description, r.level, r.priority, r.color, r.icon, r.is_system, r.is_active, r.parent_role_id, r.created_by, r.created_at, r.updated_at, r.deleted_at`

func scanRole(row scanner, extra ...interface{}) (*Role, error) {
	var role Role
	var parentRoleID, createdBy sql.NullInt64
	var deletedAt sql.NullTime

	dest := []interface{}{
		&role.ID,
		&role.Name,
		&role.DisplayName,
		&role.Description,
		&role.Level,
		&role.Priority,
		&role.Color,
		&role.Icon,
		&role.IsSystem,
		&role.IsActive,
		&parentRoleID,
		&createdBy,
		&role.CreatedAt,
		&role.UpdatedAt,
		&deletedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}

	if parentRoleID.Valid {
		id := parentRoleID.Int64
		role.ParentRoleID = &id
	}
	if createdBy.Valid {
		id := createdBy.Int64
		role.CreatedBy = &id
	}
	if deletedAt.Valid {
		t := deletedAt.Time
		role.DeletedAt = &t
	}
	return &role, nil
}

// CreateRole creates a new role
func (q *queries) CreateRole(ctx context.Context, role *Role) error {
	query := `
		INSERT INTO roles (name, display_name, description, level, priority, color, icon, is_system, is_active, parent_role_id, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id
	`

	err := q.db.QueryRowContext(ctx, query,
		role.Name,
		role.DisplayName,
		role.Description,
		role.Level,
		role.Priority,
		role.Color,
		role.Icon,
		role.IsSystem,
		role.IsActive,
		role.ParentRoleID,
		role.CreatedBy,
		role.CreatedAt,
		role.UpdatedAt,
	).Scan(&role.ID)
	if err != nil {
		return fmt.Errorf("failed to create role: %w", err)
	}
	return nil
}

// GetRole retrieves a role by ID, including soft-deleted roles
func (q *queries) GetRole(ctx context.Context, id int64) (*Role, error) {
	query := `SELECT ` + roleColumns + ` FROM roles r WHERE r.id = $1`

	role, err := scanRole(q.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, newError(ErrRoleNotFound, "role not found: %d", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get role: %w", err)
	}
	return role, nil
}

// GetRoleByName retrieves a non-deleted role by name
func (q *queries) GetRoleByName(ctx context.Context, name string) (*Role, error) {
	query := `SELECT ` + roleColumns + ` FROM roles r WHERE r.name = $1 AND r.deleted_at IS NULL`

	role, err := scanRole(q.db.QueryRowContext(ctx, query, name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, newError(ErrRoleNotFound, "role not found: %s", name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get role: %w", err)
	}
	return role, nil
}

// UpdateRole writes every mutable column of role
func (q *queries) UpdateRole(ctx context.Context, role *Role) error {
	query := `
		UPDATE roles
		SET name = $1, display_name = $2, description = $3, level = $4, priority = $5, color = $6, icon = $7, is_active = $8, updated_at = $9
		WHERE id = $10 AND deleted_at IS NULL
	`

	res, err := q.db.ExecContext(ctx, query,
		role.Name,
		role.DisplayName,
		role.Description,
		role.Level,
		role.Priority,
		role.Color,
		role.Icon,
		role.IsActive,
		role.UpdatedAt,
		role.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update role: %w", err)
	}
	return expectRow(res, newError(ErrRoleNotFound, "role not found: %d", role.ID))
}

// SoftDeleteRole marks a role deleted and inactive
func (q *queries) SoftDeleteRole(ctx context.Context, id int64, now time.Time) error {
	query := `UPDATE roles SET deleted_at = $1, is_active = FALSE, updated_at = $1 WHERE id = $2 AND deleted_at IS NULL`

	res, err := q.db.ExecContext(ctx, query, now, id)
	if err != nil {
		return fmt.Errorf("failed to delete role: %w", err)
	}
	return expectRow(res, newError(ErrRoleNotFound, "role not found: %d", id))
}

// ListRoles lists non-deleted roles, most senior first
func (q *queries) ListRoles(ctx context.Context) ([]Role, error) {
	query := `
		SELECT ` + roleColumns + `
		FROM roles r
		WHERE r.deleted_at IS NULL
		ORDER BY r.level DESC, r.priority DESC, r.name ASC
	`

	rows, err := q.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	defer rows.Close()

	var roles []Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		roles = append(roles, *role)
	}
	return roles, rows.Err()
}

// MaxRoleLevel returns the highest level among non-deleted roles. The
// boolean is false when no role exists.
func (q *queries) MaxRoleLevel(ctx context.Context) (int, bool, error) {
	var level sql.NullInt64
	err := q.db.QueryRowContext(ctx, `SELECT MAX(level) FROM roles WHERE deleted_at IS NULL`).Scan(&level)
	if err != nil {
		return 0, false, fmt.Errorf("failed to get max role level: %w", err)
	}
	return int(level.Int64), level.Valid, nil
}

// ListRolesWithPermission returns the non-deleted roles actively linked to a permission
func (q *queries) ListRolesWithPermission(ctx context.Context, permissionID int64) ([]int64, error) {
	query := `
		SELECT DISTINCT rp.role_id
		FROM role_permissions rp
		JOIN roles r ON r.id = rp.role_id
		WHERE rp.permission_id = $1 AND rp.is_active = TRUE AND r.deleted_at IS NULL
	`
	return q.listIDs(ctx, query, permissionID)
}

// ListRolePermissions returns the active permissions actively linked to a role
func (q *queries) ListRolePermissions(ctx context.Context, roleID int64) ([]Permission, error) {
	query := `
		SELECT ` + permissionColumns + `
		FROM role_permissions rp
		JOIN permissions p ON p.id = rp.permission_id
		WHERE rp.role_id = $1 AND rp.is_active = TRUE AND p.is_active = TRUE
		ORDER BY p.resource, p.action
	`

	rows, err := q.db.QueryContext(ctx, query, roleID)
	if err != nil {
		return nil, fmt.Errorf("failed to list role permissions: %w", err)
	}
	defer rows.Close()

	var perms []Permission
	for rows.Next() {
		p, err := scanPermission(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan role permission: %w", err)
		}
		perms = append(perms, *p)
	}
	return perms, rows.Err()
}

// DeactivateRolePermissions revokes every permission link of a role
func (q *queries) DeactivateRolePermissions(ctx context.Context, roleID int64) error {
	_, err := q.db.ExecContext(ctx, `UPDATE role_permissions SET is_active = FALSE WHERE role_id = $1`, roleID)
	if err != nil {
		return fmt.Errorf("failed to deactivate role permissions: %w", err)
	}
	return nil
}

// ActivateRolePermission reactivates an existing link or creates a new one
func (q *queries) ActivateRolePermission(ctx context.Context, roleID, permissionID int64, grantedBy *int64, now time.Time) error {
	res, err := q.db.ExecContext(ctx,
		`UPDATE role_permissions SET is_active = TRUE, granted_by = $1 WHERE role_id = $2 AND permission_id = $3`,
		grantedBy, roleID, permissionID,
	)
	if err != nil {
		return fmt.Errorf("failed to activate role permission: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		return nil
	}

	_, err = q.db.ExecContext(ctx,
		`INSERT INTO role_permissions (role_id, permission_id, is_active, granted_by, created_at) VALUES ($1, $2, TRUE, $3, $4)`,
		roleID, permissionID, grantedBy, now,
	)
	if err != nil {
		return fmt.Errorf("failed to create role permission: %w", err)
	}
	return nil
}

const userRoleColumns = `ur.id, ur.user_id, ur.role_id, ur.is_active, ur.is_primary, ur.expires_at, ur.assigned_by, ur.reason, ur.assigned_at`

func scanUserRole(row scanner, extra ...interface{}) (*UserRole, error) {
	var ur UserRole
	var expiresAt sql.NullTime
	var assignedBy sql.NullInt64

	dest := []interface{}{
		&ur.ID,
		&ur.UserID,
		&ur.RoleID,
		&ur.IsActive,
		&ur.IsPrimary,
		&expiresAt,
		&assignedBy,
		&ur.Reason,
		&ur.AssignedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}

	if expiresAt.Valid {
		t := expiresAt.Time
		ur.ExpiresAt = &t
	}
	if assignedBy.Valid {
		id := assignedBy.Int64
		ur.AssignedBy = &id
	}
	return &ur, nil
}

// CreateUserRole inserts a role assignment
func (q *queries) CreateUserRole(ctx context.Context, ur *UserRole) error {
	query := `
		INSERT INTO user_roles (user_id, role_id, is_active, is_primary, expires_at, assigned_by, reason, assigned_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`

	err := q.db.QueryRowContext(ctx, query,
		ur.UserID,
		ur.RoleID,
		ur.IsActive,
		ur.IsPrimary,
		ur.ExpiresAt,
		ur.AssignedBy,
		ur.Reason,
		ur.AssignedAt,
	).Scan(&ur.ID)
	if err != nil {
		return fmt.Errorf("failed to create user role: %w", err)
	}
	return nil
}

// GetActiveUserRole returns the live assignment of roleID to userID
func (q *queries) GetActiveUserRole(ctx context.Context, userID, roleID int64, now time.Time) (*UserRole, error) {
	query := `
		SELECT ` + userRoleColumns + `
		FROM user_roles ur
		WHERE ur.user_id = $1 AND ur.role_id = $2 AND ur.is_active = TRUE
		  AND (ur.expires_at IS NULL OR ur.expires_at > $3)
		ORDER BY ur.id DESC
		LIMIT 1
	`

	ur, err := scanUserRole(q.db.QueryRowContext(ctx, query, userID, roleID, now))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, newError(ErrAssignmentNotFound, "user %d has no active assignment of role %d", userID, roleID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user role: %w", err)
	}
	return ur, nil
}

// ListLiveUserRoles returns a user's live assignments joined to their roles,
// ordered primary first then by role seniority
func (q *queries) ListLiveUserRoles(ctx context.Context, userID int64, now time.Time) ([]UserRole, error) {
	query := `
		SELECT ` + userRoleColumns + `, ` + roleColumns + `
		FROM user_roles ur
		JOIN roles r ON r.id = ur.role_id
		WHERE ur.user_id = $1 AND ur.is_active = TRUE
		  AND (ur.expires_at IS NULL OR ur.expires_at > $2)
		  AND r.is_active = TRUE AND r.deleted_at IS NULL
		ORDER BY ur.is_primary DESC, r.level DESC, r.priority DESC, r.id ASC
	`

	rows, err := q.db.QueryContext(ctx, query, userID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to list user roles: %w", err)
	}
	defer rows.Close()

	var out []UserRole
	for rows.Next() {
		var rt roleTargets
		ur, err := scanUserRole(rows, rt.dest()...)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user role: %w", err)
		}
		ur.Role = rt.finish()
		out = append(out, *ur)
	}
	return out, rows.Err()
}

// DeactivateUserRole deactivates an assignment
func (q *queries) DeactivateUserRole(ctx context.Context, id int64) error {
	res, err := q.db.ExecContext(ctx, `UPDATE user_roles SET is_active = FALSE, is_primary = FALSE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to deactivate user role: %w", err)
	}
	return expectRow(res, newError(ErrAssignmentNotFound, "assignment not found: %d", id))
}

// ClearPrimary clears the primary flag on every active assignment of the
// user except keepID
func (q *queries) ClearPrimary(ctx context.Context, userID, keepID int64) error {
	_, err := q.db.ExecContext(ctx,
		`UPDATE user_roles SET is_primary = FALSE WHERE user_id = $1 AND is_active = TRUE AND id <> $2`,
		userID, keepID,
	)
	if err != nil {
		return fmt.Errorf("failed to clear primary role: %w", err)
	}
	return nil
}

// CountLiveUserRoles counts live assignments referencing a role
func (q *queries) CountLiveUserRoles(ctx context.Context, roleID int64, now time.Time) (int, error) {
	var count int
	err := q.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM user_roles WHERE role_id = $1 AND is_active = TRUE AND (expires_at IS NULL OR expires_at > $2)`,
		roleID, now,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count user roles: %w", err)
	}
	return count, nil
}

// ListUsersWithRole returns every user with an active assignment of a role
func (q *queries) ListUsersWithRole(ctx context.Context, roleID int64) ([]int64, error) {
	return q.listIDs(ctx, `SELECT DISTINCT user_id FROM user_roles WHERE role_id = $1 AND is_active = TRUE`, roleID)
}

// ListRoleGrants returns every (live assignment, active permission) pair of
// a user in evaluation order: role level desc, priority desc, role id asc.
func (q *queries) ListRoleGrants(ctx context.Context, userID int64, now time.Time) ([]RoleGrant, error) {
	query := `
		SELECT r.id, r.name, r.level, r.priority, ur.expires_at, ` + permissionColumns + `
		FROM user_roles ur
		JOIN roles r ON r.id = ur.role_id
		JOIN role_permissions rp ON rp.role_id = r.id
		JOIN permissions p ON p.id = rp.permission_id
		WHERE ur.user_id = $1 AND ur.is_active = TRUE
		  AND (ur.expires_at IS NULL OR ur.expires_at > $2)
		  AND r.is_active = TRUE AND r.deleted_at IS NULL
		  AND rp.is_active = TRUE AND p.is_active = TRUE
		ORDER BY r.level DESC, r.priority DESC, r.id ASC, p.id ASC
	`

	rows, err := q.db.QueryContext(ctx, query, userID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to list role grants: %w", err)
	}
	defer rows.Close()

	var grants []RoleGrant
	for rows.Next() {
		var g RoleGrant
		var expiresAt sql.NullTime
		var p Permission
		var risk string
		err := rows.Scan(
			&g.RoleID,
			&g.RoleName,
			&g.RoleLevel,
			&g.RolePriority,
			&expiresAt,
			&p.ID,
			&p.Resource,
			&p.Action,
			&p.Scope,
			&p.Name,
			&p.Description,
			&p.Category,
			&risk,
			&p.RequiresMFA,
			&p.IsSystem,
			&p.IsActive,
			&p.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan role grant: %w", err)
		}
		p.RiskLevel = RiskLevel(risk)
		g.Permission = p
		if expiresAt.Valid {
			t := expiresAt.Time
			g.ExpiresAt = &t
		}
		grants = append(grants, g)
	}
	return grants, rows.Err()
}

const userPermissionColumns = `up.id, up.user_id, up.permission_id, up.is_denied, up.is_active, up.expires_at, up.granted_by, up.reason, up.created_at`

func scanUserPermission(row scanner, extra ...interface{}) (*UserPermission, error) {
	var up UserPermission
	var expiresAt sql.NullTime
	var grantedBy sql.NullInt64

	dest := []interface{}{
		&up.ID,
		&up.UserID,
		&up.PermissionID,
		&up.IsDenied,
		&up.IsActive,
		&expiresAt,
		&grantedBy,
		&up.Reason,
		&up.CreatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}

	if expiresAt.Valid {
		t := expiresAt.Time
		up.ExpiresAt = &t
	}
	if grantedBy.Valid {
		id := grantedBy.Int64
		up.GrantedBy = &id
	}
	return &up, nil
}

// CreateUserPermission inserts a direct override
func (q *queries) CreateUserPermission(ctx context.Context, up *UserPermission) error {
	query := `
		INSERT INTO user_permissions (user_id, permission_id, is_denied, is_active, expires_at, granted_by, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`

	err := q.db.QueryRowContext(ctx, query,
		up.UserID,
		up.PermissionID,
		up.IsDenied,
		up.IsActive,
		up.ExpiresAt,
		up.GrantedBy,
		up.Reason,
		up.CreatedAt,
	).Scan(&up.ID)
	if err != nil {
		return fmt.Errorf("failed to create user permission: %w", err)
	}
	return nil
}

// GetLiveUserPermission returns the live override of a permission for a user
func (q *queries) GetLiveUserPermission(ctx context.Context, userID, permissionID int64, now time.Time) (*UserPermission, error) {
	query := `
		SELECT ` + userPermissionColumns + `
		FROM user_permissions up
		WHERE up.user_id = $1 AND up.permission_id = $2 AND up.is_active = TRUE
		  AND (up.expires_at IS NULL OR up.expires_at > $3)
		ORDER BY up.id DESC
		LIMIT 1
	`

	up, err := scanUserPermission(q.db.QueryRowContext(ctx, query, userID, permissionID, now))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, newError(ErrOverrideNotFound, "user %d has no override for permission %d", userID, permissionID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user permission: %w", err)
	}
	return up, nil
}

// ListLiveUserPermissions returns a user's live overrides joined to active
// catalog entries, oldest first
func (q *queries) ListLiveUserPermissions(ctx context.Context, userID int64, now time.Time) ([]UserPermission, error) {
	query := `
		SELECT ` + userPermissionColumns + `, ` + permissionColumns + `
		FROM user_permissions up
		JOIN permissions p ON p.id = up.permission_id
		WHERE up.user_id = $1 AND up.is_active = TRUE
		  AND (up.expires_at IS NULL OR up.expires_at > $2)
		  AND p.is_active = TRUE
		ORDER BY up.created_at ASC, up.id ASC
	`

	rows, err := q.db.QueryContext(ctx, query, userID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to list user permissions: %w", err)
	}
	defer rows.Close()

	var out []UserPermission
	for rows.Next() {
		var p Permission
		var risk string
		up, err := scanUserPermission(rows,
			&p.ID, &p.Resource, &p.Action, &p.Scope, &p.Name, &p.Description, &p.Category,
			&risk, &p.RequiresMFA, &p.IsSystem, &p.IsActive, &p.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user permission: %w", err)
		}
		p.RiskLevel = RiskLevel(risk)
		up.Permission = &p
		out = append(out, *up)
	}
	return out, rows.Err()
}

// DeactivateUserPermission deactivates an override
func (q *queries) DeactivateUserPermission(ctx context.Context, id int64) error {
	res, err := q.db.ExecContext(ctx, `UPDATE user_permissions SET is_active = FALSE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to deactivate user permission: %w", err)
	}
	return expectRow(res, newError(ErrOverrideNotFound, "override not found: %d", id))
}

// ListUsersWithOverride returns every user with an active override of a permission
func (q *queries) ListUsersWithOverride(ctx context.Context, permissionID int64) ([]int64, error) {
	return q.listIDs(ctx, `SELECT DISTINCT user_id FROM user_permissions WHERE permission_id = $1 AND is_active = TRUE`, permissionID)
}

// DeactivateExpiredUserRoles deactivates assignments whose expiry has passed
// and returns the affected user IDs
func (q *queries) DeactivateExpiredUserRoles(ctx context.Context, now time.Time) ([]int64, error) {
	return q.listIDs(ctx,
		`UPDATE user_roles SET is_active = FALSE, is_primary = FALSE WHERE is_active = TRUE AND expires_at IS NOT NULL AND expires_at <= $1 RETURNING user_id`,
		now,
	)
}

// DeactivateExpiredUserPermissions deactivates overrides whose expiry has
// passed and returns the affected user IDs
func (q *queries) DeactivateExpiredUserPermissions(ctx context.Context, now time.Time) ([]int64, error) {
	return q.listIDs(ctx,
		`UPDATE user_permissions SET is_active = FALSE WHERE is_active = TRUE AND expires_at IS NOT NULL AND expires_at <= $1 RETURNING user_id`,
		now,
	)
}

func (q *queries) listIDs(ctx context.Context, query string, args ...interface{}) ([]int64, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// roleTargets holds scan destinations for roleColumns when they trail
// another entity's columns in a joined row
type roleTargets struct {
	role         Role
	parentRoleID sql.NullInt64
	createdBy    sql.NullInt64
	deletedAt    sql.NullTime
}

func (t *roleTargets) dest() []interface{} {
	return []interface{}{
		&t.role.ID,
		&t.role.Name,
		&t.role.DisplayName,
		&t.role.Description,
		&t.role.Level,
		&t.role.Priority,
		&t.role.Color,
		&t.role.Icon,
		&t.role.IsSystem,
		&t.role.IsActive,
		&t.parentRoleID,
		&t.createdBy,
		&t.role.CreatedAt,
		&t.role.UpdatedAt,
		&t.deletedAt,
	}
}

func (t *roleTargets) finish() *Role {
	role := t.role
	if t.parentRoleID.Valid {
		id := t.parentRoleID.Int64
		role.ParentRoleID = &id
	}
	if t.createdBy.Valid {
		id := t.createdBy.Int64
		role.CreatedBy = &id
	}
	if t.deletedAt.Valid {
		ts := t.deletedAt.Time
		role.DeletedAt = &ts
	}
	return &role
}

func expectRow(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}
