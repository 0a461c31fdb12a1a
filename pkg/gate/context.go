package gate

import (
	"strings"

	"github.com/platinummonkey/assetguard/pkg/rbac"
)

// AuthContext is the authorization view of one verified caller
type AuthContext struct {
	UserID      int64             `json:"user_id"`
	Username    string            `json:"username"`
	Roles       []string          `json:"roles"`
	Permissions []string          `json:"permissions"`
	HighestRole *rbac.RoleSummary `json:"highest_role"`
	Role        *string           `json:"role"`
	Superuser   bool              `json:"superuser"`

	set *rbac.PermissionSet
}

// HasRole reports whether the caller holds the role, either as an assigned
// role or as the legacy role claim
func (a *AuthContext) HasRole(name string) bool {
	name = strings.ToUpper(name)
	if a.Role != nil && strings.EqualFold(*a.Role, name) {
		return true
	}
	for _, r := range a.Roles {
		if r == name {
			return true
		}
	}
	return false
}

// Can reports whether the caller is allowed key. Superusers are allowed everything.
func (a *AuthContext) Can(key rbac.PermissionKey) bool {
	if a.Superuser {
		return true
	}
	if a.set == nil {
		return false
	}
	return a.set.Allows(key, rbac.ScopeAll)
}

// HasPermission is Can for a resource and action
func (a *AuthContext) HasPermission(resource, action string) bool {
	return a.Can(rbac.PermissionKey{Resource: strings.ToLower(resource), Action: strings.ToLower(action)})
}

// Evaluate checks req against the context and returns a *Error when it is not met
func (a *AuthContext) Evaluate(req Requirement) *Error {
	if a.Superuser {
		return nil
	}

	switch req.Mode() {
	case ModeAuthenticated:
		return nil

	case ModePermission, ModeAllOf:
		var missing []string
		for _, k := range req.keys {
			if !a.Can(k) {
				missing = append(missing, k.String())
			}
		}
		if len(missing) == 0 {
			return nil
		}
		return a.denied(CodePermissionDenied, req, missing)

	case ModeAnyOf:
		for _, k := range req.keys {
			if a.Can(k) {
				return nil
			}
		}
		return a.denied(CodePermissionDenied, req, req.Required())

	case ModeRole, ModeAnyRole:
		for _, r := range req.roles {
			if a.HasRole(r) {
				return nil
			}
		}
		return a.denied(CodeRoleRequired, req, req.Required())
	}

	return a.denied(CodePermissionDenied, req, req.Required())
}

func (a *AuthContext) denied(code Code, req Requirement, missing []string) *Error {
	e := newError(code, nil)
	e.Required = req.Required()
	e.Missing = missing
	return e
}

// NewAuthContext assembles a context from loaded roles and effective
// permissions. legacyRole is the token's role claim and may be empty.
// superuserRole names the role that bypasses every check.
func NewAuthContext(userID int64, username, legacyRole string, roles []rbac.UserRole, perms []rbac.EffectivePermission, superuserRole string) *AuthContext {
	ac := &AuthContext{
		UserID:   userID,
		Username: username,
		Roles:    make([]string, 0, len(roles)),
		set:      rbac.NewPermissionSet(perms),
	}
	ac.Permissions = ac.set.Granted()

	var primary string
	seen := make(map[string]bool, len(roles))
	for i := range roles {
		role := roles[i].Role
		if role == nil {
			continue
		}
		name := strings.ToUpper(role.Name)
		if !seen[name] {
			seen[name] = true
			ac.Roles = append(ac.Roles, name)
		}
		if roles[i].IsPrimary && primary == "" {
			primary = name
		}
	}
	if hr := rbac.HighestOf(roles); hr != nil {
		hr.Name = strings.ToUpper(hr.Name)
		ac.HighestRole = hr
	}

	switch {
	case legacyRole != "":
		r := strings.ToUpper(legacyRole)
		ac.Role = &r
	case primary != "":
		ac.Role = &primary
	}

	if superuserRole != "" {
		ac.Superuser = ac.HasRole(superuserRole)
	}
	return ac
}
