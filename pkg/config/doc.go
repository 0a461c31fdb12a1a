// Package config provides application configuration management.
//
// # Overview
//
// Configuration is assembled in three layers: built-in defaults, an optional
// YAML file named by ASSETGUARD_CONFIG, and ASSETGUARD_* environment
// variables, which win over the file. The result is validated before use.
//
// # Configuration Structure
//
// Server settings:
//
//	ASSETGUARD_HOST="0.0.0.0"
//	ASSETGUARD_PORT="8080"
//	ASSETGUARD_HEALTH_PORT="9090"
//	ASSETGUARD_SHUTDOWN_TIMEOUT="30s"
//
// Database settings:
//
//	ASSETGUARD_DB_DRIVER="postgres"  # postgres, sqlite3
//	ASSETGUARD_DB_DSN="postgres://localhost/assetguard?sslmode=disable"
//	ASSETGUARD_DB_MAX_CONNS="20"
//
// Authentication settings:
//
//	ASSETGUARD_AUTH_MODE="jwt"  # jwt, oidc
//	ASSETGUARD_JWT_SECRET="..."  # HS256, at least 32 bytes
//	ASSETGUARD_OIDC_ISSUER_URL="https://id.example.com"
//	ASSETGUARD_AUTH_COOKIE="token"
//	ASSETGUARD_SUPERUSER_ROLE="SUPER_ADMIN"  # empty disables the bypass
//
// Cache and role engine settings:
//
//	ASSETGUARD_CACHE_BACKEND="memory"  # memory, redis
//	ASSETGUARD_CACHE_TTL="5m"
//	ASSETGUARD_REDIS_URL="redis://localhost:6379/0"
//	ASSETGUARD_SWEEP_SCHEDULE="*/5 * * * *"
//	ASSETGUARD_CATALOG_FILE="/etc/assetguard/catalog.yaml"
//
// Rate limiting and observability:
//
//	ASSETGUARD_RATE_LIMIT_PER_MINUTE="1000"
//	ASSETGUARD_LOG_LEVEL="info"  # debug, info, warn, error
//	ASSETGUARD_OTEL_ENABLED="true"
//
// The same settings may be given in YAML:
//
//	database:
//	  driver: postgres
//	  dsn: postgres://localhost/assetguard
//	cache:
//	  ttl: 5m
//	observability:
//	  log_level: debug
//
// # Usage Example
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	if path := os.Getenv(config.FileEnvVar); path != "" {
//		_ = config.WatchLogLevel(ctx, path, logger)
//	}
//
// WatchLogLevel applies log level edits to a running process. Every other
// setting is read once at startup. A save that leaves log_level unset,
// including the empty file seen mid-write, keeps the current level.
package config
