package cli

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"strings"

	"github.com/platinummonkey/assetguard/pkg/rbac"
)

func newMigrateCommand() *Command {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	configPath := fs.String("config", "", "YAML config file (overrides ASSETGUARD_CONFIG)")

	return &Command{
		Name:        "migrate",
		Description: "Apply pending database migrations",
		Flags:       fs,
		Run: func(args []string) error {
			if err := fs.Parse(args); err != nil {
				return err
			}
			return withApp(*configPath, func(ctx context.Context, a *app) error {
				applied, err := a.migrate(ctx)
				if err != nil {
					return err
				}
				if len(applied) == 0 {
					fmt.Fprintln(stdout, "Schema is up to date")
					return nil
				}
				versions := make([]string, len(applied))
				for i, v := range applied {
					versions[i] = fmt.Sprint(v)
				}
				fmt.Fprintf(stdout, "Applied migrations: %s\n", strings.Join(versions, ", "))
				return nil
			})
		},
	}
}

func newBootstrapCommand() *Command {
	fs := flag.NewFlagSet("bootstrap", flag.ContinueOnError)
	configPath := fs.String("config", "", "YAML config file (overrides ASSETGUARD_CONFIG)")
	catalogPath := fs.String("catalog", "", "YAML catalog file (defaults to rbac.catalog_file, then the built-in catalog)")

	return &Command{
		Name:        "bootstrap",
		Description: "Seed the permission catalog and system roles",
		Flags:       fs,
		Run: func(args []string) error {
			if err := fs.Parse(args); err != nil {
				return err
			}
			return withApp(*configPath, func(ctx context.Context, a *app) error {
				catalog, err := a.catalog(*catalogPath)
				if err != nil {
					return err
				}
				res, err := a.service.Bootstrap(ctx, catalog)
				if err != nil {
					return err
				}
				return printJSON(res)
			})
		},
	}
}

func newAssignCommand() *Command {
	fs := flag.NewFlagSet("assign", flag.ContinueOnError)
	configPath := fs.String("config", "", "YAML config file (overrides ASSETGUARD_CONFIG)")
	userID := fs.Int64("user", 0, "User ID")
	roleName := fs.String("role", "", "Role name")
	primary := fs.Bool("primary", true, "Make this the user's primary role")
	reason := fs.String("reason", "assigned from the command line", "Audit reason")

	return &Command{
		Name:        "assign",
		Description: "Assign a role to a user without going through the API",
		Flags:       fs,
		Run: func(args []string) error {
			if err := fs.Parse(args); err != nil {
				return err
			}
			if *userID <= 0 || *roleName == "" {
				return fmt.Errorf("--user and --role are required")
			}
			return withApp(*configPath, func(ctx context.Context, a *app) error {
				role, err := findRole(ctx, a.service, *roleName)
				if err != nil {
					return err
				}
				ur, err := a.service.AssignRole(ctx, *userID, role.ID, rbac.AssignOptions{
					IsPrimary: *primary,
					Reason:    *reason,
				})
				if err != nil {
					return err
				}
				return printJSON(ur)
			})
		},
	}
}

func findRole(ctx context.Context, svc *rbac.Service, name string) (*rbac.Role, error) {
	roles, err := svc.ListRoles(ctx)
	if err != nil {
		return nil, err
	}
	want, err := rbac.NormalizeRoleName(name)
	if err != nil {
		return nil, err
	}
	for i := range roles {
		if roles[i].Name == want {
			return &roles[i], nil
		}
	}
	return nil, fmt.Errorf("role not found: %s", want)
}

// withApp loads configuration, opens the app, runs fn and closes everything
func withApp(configPath string, fn func(ctx context.Context, a *app) error) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	ctx := context.Background()
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close(ctx)
	return fn(ctx, a)
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
