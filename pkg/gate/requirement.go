package gate

import (
	"fmt"
	"strings"

	"github.com/platinummonkey/assetguard/pkg/rbac"
)

// Mode selects how a Requirement is evaluated
type Mode string

const (
	ModeAuthenticated Mode = "authenticated"
	ModePermission    Mode = "permission"
	ModeAllOf         Mode = "all"
	ModeAnyOf         Mode = "any"
	ModeRole          Mode = "role"
	ModeAnyRole       Mode = "any_role"
)

// Requirement is what a protected operation demands of its caller
type Requirement struct {
	mode  Mode
	keys  []rbac.PermissionKey
	roles []string
}

// Authenticated requires only a valid credential
func Authenticated() Requirement {
	return Requirement{mode: ModeAuthenticated}
}

// Permission requires resource:action
func Permission(resource, action string) Requirement {
	return Requirement{
		mode: ModePermission,
		keys: []rbac.PermissionKey{{Resource: strings.ToLower(resource), Action: strings.ToLower(action)}},
	}
}

// AllPermissions requires every key
func AllPermissions(keys ...rbac.PermissionKey) Requirement {
	return Requirement{mode: ModeAllOf, keys: keys}
}

// AnyPermission requires at least one key
func AnyPermission(keys ...rbac.PermissionKey) Requirement {
	return Requirement{mode: ModeAnyOf, keys: keys}
}

// Role requires the named role
func Role(name string) Requirement {
	return Requirement{mode: ModeRole, roles: []string{strings.ToUpper(name)}}
}

// AnyRole requires at least one of the named roles
func AnyRole(names ...string) Requirement {
	roles := make([]string, len(names))
	for i, n := range names {
		roles[i] = strings.ToUpper(n)
	}
	return Requirement{mode: ModeAnyRole, roles: roles}
}

// ParseRequirement builds a Requirement from a mode and string operands, as
// received over the wire. Permission operands must be resource:action.
func ParseRequirement(mode Mode, operands []string) (Requirement, error) {
	switch mode {
	case ModeAuthenticated, "":
		return Authenticated(), nil
	case ModePermission, ModeAllOf, ModeAnyOf:
		keys, err := rbac.ParsePermissionKeys(operands)
		if err != nil {
			return Requirement{}, err
		}
		if len(keys) == 0 {
			return Requirement{}, fmt.Errorf("mode %s needs at least one permission", mode)
		}
		if mode == ModePermission && len(keys) != 1 {
			return Requirement{}, fmt.Errorf("mode %s takes exactly one permission", mode)
		}
		return Requirement{mode: mode, keys: keys}, nil
	case ModeRole, ModeAnyRole:
		if len(operands) == 0 {
			return Requirement{}, fmt.Errorf("mode %s needs at least one role", mode)
		}
		if mode == ModeRole && len(operands) != 1 {
			return Requirement{}, fmt.Errorf("mode %s takes exactly one role", mode)
		}
		r := AnyRole(operands...)
		r.mode = mode
		return r, nil
	default:
		return Requirement{}, fmt.Errorf("unknown requirement mode %q", mode)
	}
}

// Mode returns how the requirement is evaluated
func (r Requirement) Mode() Mode {
	if r.mode == "" {
		return ModeAuthenticated
	}
	return r.mode
}

// Required returns the permissions or roles the requirement names
func (r Requirement) Required() []string {
	if len(r.roles) > 0 {
		return append([]string(nil), r.roles...)
	}
	out := make([]string, len(r.keys))
	for i, k := range r.keys {
		out[i] = k.String()
	}
	return out
}

func (r Requirement) String() string {
	if r.Mode() == ModeAuthenticated {
		return string(ModeAuthenticated)
	}
	return fmt.Sprintf("%s(%s)", r.Mode(), strings.Join(r.Required(), ","))
}
