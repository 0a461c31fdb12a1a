// Package cli implements the assetguard command-line interface.
//
// # Commands
//
// serve: run the admin API on server.port and health/metrics on server.health_port
//
//	assetguard serve --config /etc/assetguard/assetguard.yaml --migrate
//
// migrate: apply pending schema migrations
//
//	assetguard migrate
//
// bootstrap: seed the permission catalog and the system roles
//
//	assetguard bootstrap --catalog ./catalog.yaml
//
// assign: grant a role directly, typically the first SUPER_ADMIN
//
//	assetguard assign --user 1 --role super_admin
//
// token: sign a development JWT with the configured HS256 secret or RS256 key
//
//	assetguard token --user 1 --username alice --ttl 8h
//
// check: evaluate a requirement for a user; exits non-zero when denied
//
//	assetguard check --user 42 --mode all --permission equipment:read,reports:export
//
// Every command reads configuration through pkg/config, so ASSETGUARD_*
// variables and ASSETGUARD_CONFIG apply to all of them.
package cli
