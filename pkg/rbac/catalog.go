package rbac

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// SuperuserRoleName is the role that passes every authorization check
// regardless of its stored permissions
const SuperuserRoleName = "SUPER_ADMIN"

// Catalog is the set of system permissions and roles seeded at startup
type Catalog struct {
	Permissions []CatalogPermission `yaml:"permissions"`
	Roles       []CatalogRole       `yaml:"roles"`
}

// CatalogPermission is a system permission in a Catalog
type CatalogPermission struct {
	Key         string    `yaml:"key"`
	Scope       string    `yaml:"scope,omitempty"`
	Name        string    `yaml:"name"`
	Description string    `yaml:"description,omitempty"`
	Category    string    `yaml:"category"`
	RiskLevel   RiskLevel `yaml:"risk_level,omitempty"`
	RequiresMFA bool      `yaml:"requires_mfa,omitempty"`
}

// CatalogRole is a system role in a Catalog
type CatalogRole struct {
	Name        string   `yaml:"name"`
	DisplayName string   `yaml:"display_name"`
	Description string   `yaml:"description,omitempty"`
	Level       int      `yaml:"level"`
	Color       string   `yaml:"color,omitempty"`
	Icon        string   `yaml:"icon,omitempty"`
	Permissions []string `yaml:"permissions"`
}

// BootstrapResult reports what Bootstrap created
type BootstrapResult struct {
	PermissionsCreated int `json:"permissions_created"`
	RolesCreated       int `json:"roles_created"`
}

var (
	assetResources = []string{"employees", "equipment", "printers", "tickets", "purchases"}
	crudActions    = []string{"read", "create", "update", "delete"}
)

// DefaultCatalog returns the built-in catalog: CRUD on every asset resource,
// administration permissions and the five standard roles
func DefaultCatalog() Catalog {
	var c Catalog
	for _, resource := range assetResources {
		for _, action := range crudActions {
			risk := RiskLow
			switch action {
			case "update", "create":
				risk = RiskMedium
			case "delete":
				risk = RiskHigh
			}
			c.Permissions = append(c.Permissions, CatalogPermission{
				Key:       resource + ":" + action,
				Name:      strings.ToUpper(action[:1]) + action[1:] + " " + resource,
				Category:  resource,
				RiskLevel: risk,
			})
		}
	}
	c.Permissions = append(c.Permissions,
		CatalogPermission{Key: "reports:read", Name: "Read reports", Category: "reports", RiskLevel: RiskLow},
		CatalogPermission{Key: "reports:export", Name: "Export reports", Category: "reports", RiskLevel: RiskMedium},
		CatalogPermission{Key: "roles:read", Name: "Read roles", Category: "administration", RiskLevel: RiskLow},
		CatalogPermission{Key: "roles:manage", Name: "Manage roles", Category: "administration", RiskLevel: RiskCritical, RequiresMFA: true},
		CatalogPermission{Key: "roles:assign", Name: "Assign roles", Category: "administration", RiskLevel: RiskHigh},
		CatalogPermission{Key: "permissions:read", Name: "Read permission catalog", Category: "administration", RiskLevel: RiskLow},
		CatalogPermission{Key: "permissions:manage", Name: "Manage permission catalog", Category: "administration", RiskLevel: RiskCritical, RequiresMFA: true},
		CatalogPermission{Key: "settings:update", Name: "Update settings", Category: "administration", RiskLevel: RiskHigh},
		CatalogPermission{Key: "*:*", Name: "Everything", Category: "administration", RiskLevel: RiskCritical, RequiresMFA: true},
	)

	c.Roles = []CatalogRole{
		{
			Name:        SuperuserRoleName,
			DisplayName: "Super Administrator",
			Description: "Unrestricted access",
			Level:       100,
			Color:       "#b91c1c",
			Icon:        "shield",
			Permissions: []string{"*:*"},
		},
		{
			Name:        "ADMIN",
			DisplayName: "Administrator",
			Level:       90,
			Color:       "#c2410c",
			Icon:        "key",
			Permissions: append(resourceActions(assetResources, crudActions),
				"reports:read", "reports:export", "roles:read", "roles:manage", "roles:assign",
				"permissions:read", "permissions:manage", "settings:update"),
		},
		{
			Name:        "MANAGER",
			DisplayName: "Manager",
			Level:       50,
			Color:       "#1d4ed8",
			Icon:        "briefcase",
			Permissions: append(resourceActions(assetResources, []string{"read", "create", "update"}),
				"reports:read", "reports:export", "roles:read", "roles:assign"),
		},
		{
			Name:        "TECHNICIAN",
			DisplayName: "Technician",
			Level:       30,
			Color:       "#15803d",
			Icon:        "wrench",
			Permissions: append(resourceActions(assetResources, []string{"read"}),
				"equipment:update", "printers:update", "tickets:create", "tickets:update"),
		},
		{
			Name:        "VIEWER",
			DisplayName: "Viewer",
			Level:       10,
			Color:       "#6b7280",
			Icon:        "eye",
			Permissions: append(resourceActions(assetResources, []string{"read"}), "reports:read"),
		},
	}
	return c
}

func resourceActions(resources, actions []string) []string {
	out := make([]string, 0, len(resources)*len(actions))
	for _, r := range resources {
		for _, a := range actions {
			out = append(out, r+":"+a)
		}
	}
	return out
}

// LoadCatalog reads a YAML catalog file
func LoadCatalog(path string) (Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Catalog{}, fmt.Errorf("failed to read catalog file: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes a YAML catalog and validates its permission keys
func ParseCatalog(data []byte) (Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Catalog{}, fmt.Errorf("failed to parse catalog: %w", err)
	}
	for _, p := range c.Permissions {
		if _, err := ParsePermissionKey(p.Key); err != nil {
			return Catalog{}, err
		}
	}
	for _, r := range c.Roles {
		if _, err := ParsePermissionKeys(r.Permissions); err != nil {
			return Catalog{}, fmt.Errorf("role %s: %w", r.Name, err)
		}
	}
	return c, nil
}

// Bootstrap seeds the catalog's permissions and roles as system entries.
// Existing permissions and roles are left untouched, so running it on every
// start is safe.
func (s *Service) Bootstrap(ctx context.Context, c Catalog) (*BootstrapResult, error) {
	now := s.opts.clock()
	result := &BootstrapResult{}

	err := s.store.WithTx(ctx, func(q Queries) error {
		*result = BootstrapResult{}

		for _, cp := range c.Permissions {
			key, err := ParsePermissionKey(cp.Key)
			if err != nil {
				return err
			}
			scope := strings.ToUpper(cp.Scope)
			if scope == "" {
				scope = ScopeAll
			}
			risk := cp.RiskLevel
			if risk == "" {
				risk = RiskLow
			}

			_, err = q.GetPermissionByIdentity(ctx, key.Resource, key.Action, scope)
			if err == nil {
				continue
			}
			if !errors.Is(err, ErrPermissionNotFound) {
				return err
			}

			name := cp.Name
			if name == "" {
				name = key.String()
			}
			if err := q.CreatePermission(ctx, &Permission{
				Resource:    key.Resource,
				Action:      key.Action,
				Scope:       scope,
				Name:        name,
				Description: cp.Description,
				Category:    cp.Category,
				RiskLevel:   risk,
				RequiresMFA: cp.RequiresMFA,
				IsSystem:    true,
				IsActive:    true,
				CreatedAt:   now,
			}); err != nil {
				return err
			}
			result.PermissionsCreated++
		}

		for _, cr := range c.Roles {
			name, err := NormalizeRoleName(cr.Name)
			if err != nil {
				return err
			}
			_, err = q.GetRoleByName(ctx, name)
			if err == nil {
				continue
			}
			if !errors.Is(err, ErrRoleNotFound) {
				return err
			}

			perms, err := resolvePermissions(ctx, q, cr.Permissions)
			if err != nil {
				return fmt.Errorf("role %s: %w", name, err)
			}
			level := cr.Level
			if _, err := s.createRoleTx(ctx, q, CreateRoleInput{
				Name:        name,
				DisplayName: cr.DisplayName,
				Description: cr.Description,
				Level:       &level,
				Color:       cr.Color,
				Icon:        cr.Icon,
				IsSystem:    true,
			}, perms, now); err != nil {
				return err
			}
			result.RolesCreated++
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to bootstrap catalog: %w", err)
	}

	if result.PermissionsCreated > 0 || result.RolesCreated > 0 {
		s.resolver.InvalidateHierarchy(ctx)
		s.logger.WithFields(map[string]interface{}{
			"permissions_created": result.PermissionsCreated,
			"roles_created":       result.RolesCreated,
		}).Info("Bootstrapped authorization catalog")
	}
	return result, nil
}
