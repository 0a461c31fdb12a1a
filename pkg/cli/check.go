package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"strings"

	"github.com/platinummonkey/assetguard/pkg/auth"
	"github.com/platinummonkey/assetguard/pkg/gate"
)

// ErrDenied is returned by the check command when the requirement fails
var ErrDenied = errors.New("access denied")

type checkResult struct {
	UserID      int64    `json:"user_id"`
	Requirement string   `json:"requirement"`
	Allowed     bool     `json:"allowed"`
	Code        string   `json:"code,omitempty"`
	Missing     []string `json:"missing,omitempty"`
	Roles       []string `json:"roles"`
}

func newCheckCommand() *Command {
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	configPath := fs.String("config", "", "YAML config file (overrides ASSETGUARD_CONFIG)")
	userID := fs.Int64("user", 0, "User ID")
	mode := fs.String("mode", string(gate.ModePermission), "permission, all, any, role or any_role")
	permissions := fs.String("permission", "", "Comma-separated resource:action keys")
	roles := fs.String("role", "", "Comma-separated role names")

	return &Command{
		Name:        "check",
		Description: "Evaluate a permission or role requirement for a user",
		Flags:       fs,
		Run: func(args []string) error {
			if err := fs.Parse(args); err != nil {
				return err
			}
			if *userID <= 0 {
				return fmt.Errorf("--user is required")
			}

			m := gate.Mode(*mode)
			operands := splitList(*permissions)
			if m == gate.ModeRole || m == gate.ModeAnyRole {
				operands = splitList(*roles)
			}
			req, err := gate.ParseRequirement(m, operands)
			if err != nil {
				return err
			}

			return withApp(*configPath, func(ctx context.Context, a *app) error {
				g := gate.New(nil, a.service.Resolver(),
					gate.WithLogger(a.logger),
					gate.WithSuperuserRole(a.cfg.Auth.SuperuserRole),
				)
				ac, err := g.Load(ctx, &auth.Principal{UserID: *userID})
				if err != nil {
					return err
				}

				res := checkResult{UserID: *userID, Requirement: req.String(), Allowed: true, Roles: ac.Roles}
				if gerr := ac.Evaluate(req); gerr != nil {
					res.Allowed = false
					res.Code = string(gerr.Code)
					res.Missing = gerr.Missing
				}
				if err := printJSON(res); err != nil {
					return err
				}
				if !res.Allowed {
					return ErrDenied
				}
				return nil
			})
		},
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
