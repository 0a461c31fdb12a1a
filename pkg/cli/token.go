package cli

import (
	"flag"
	"fmt"

	"github.com/platinummonkey/assetguard/pkg/auth"
)

func newTokenCommand() *Command {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	configPath := fs.String("config", "", "YAML config file (overrides ASSETGUARD_CONFIG)")
	userID := fs.Int64("user", 0, "User ID")
	username := fs.String("username", "", "Username claim")
	role := fs.String("role", "", "Optional legacy role claim")
	ttl := fs.Duration("ttl", 0, "Token lifetime (defaults to auth.token_ttl)")

	return &Command{
		Name:        "token",
		Description: "Issue a signed JWT for local testing",
		Flags:       fs,
		Run: func(args []string) error {
			if err := fs.Parse(args); err != nil {
				return err
			}
			if *userID <= 0 {
				return fmt.Errorf("--user is required")
			}
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			if cfg.Auth.Mode != "jwt" {
				return fmt.Errorf("token issuance needs auth mode jwt, got %s", cfg.Auth.Mode)
			}

			jwtCfg, err := cfg.Auth.JWT()
			if err != nil {
				return err
			}
			if *ttl > 0 {
				jwtCfg.TTL = *ttl
			}
			issuer, err := auth.NewJWTIssuer(jwtCfg)
			if err != nil {
				return err
			}

			name := *username
			if name == "" {
				name = fmt.Sprintf("user%d", *userID)
			}
			token, err := issuer.Issue(auth.Principal{
				UserID:   *userID,
				Username: name,
				Role:     *role,
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(stdout, token)
			return nil
		},
	}
}
