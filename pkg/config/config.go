package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/assetguard/pkg/auth"
	"github.com/platinummonkey/assetguard/pkg/cache"
	"github.com/platinummonkey/assetguard/pkg/middleware"
	"github.com/platinummonkey/assetguard/pkg/observability"
	"github.com/platinummonkey/assetguard/pkg/rbac"
	"github.com/platinummonkey/assetguard/pkg/storage"
)

// FileEnvVar names the optional YAML file loaded before environment overrides
const FileEnvVar = "ASSETGUARD_CONFIG"

// Config holds all application configuration
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Auth          AuthConfig          `yaml:"auth"`
	Cache         CacheConfig         `yaml:"cache"`
	RBAC          RBACConfig          `yaml:"rbac"`
	RateLimit     RateLimitConfig     `yaml:"rate_limit"`
	Audit         AuditConfig         `yaml:"audit"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// Health/metrics server (separate port for k8s probes)
	HealthPort string `yaml:"health_port"`
}

// DatabaseConfig holds the SQL connection settings
type DatabaseConfig struct {
	Driver      string        `yaml:"driver"`
	DSN         string        `yaml:"dsn"`
	MaxConns    int           `yaml:"max_conns"`
	MinConns    int           `yaml:"min_conns"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxLifetime time.Duration `yaml:"max_lifetime"`
	MaxIdleTime time.Duration `yaml:"max_idle_time"`
}

// AuthConfig selects and configures the credential verifier
type AuthConfig struct {
	// Mode is "jwt" or "oidc"
	Mode string `yaml:"mode"`

	JWTAlgorithm      string        `yaml:"jwt_algorithm"`
	JWTSecret         string        `yaml:"jwt_secret"`
	JWTPublicKeyFile  string        `yaml:"jwt_public_key_file"`
	JWTPrivateKeyFile string        `yaml:"jwt_private_key_file"`
	JWTIssuer         string        `yaml:"jwt_issuer"`
	JWTAudience       string        `yaml:"jwt_audience"`
	JWTLeeway         time.Duration `yaml:"jwt_leeway"`
	TokenTTL          time.Duration `yaml:"token_ttl"`

	OIDCIssuerURL string `yaml:"oidc_issuer_url"`
	OIDCClientID  string `yaml:"oidc_client_id"`

	CookieName string `yaml:"cookie_name"`
	// SuperuserRole bypasses every requirement; empty disables the bypass
	SuperuserRole string `yaml:"superuser_role"`
}

// CacheConfig holds the resolver cache settings
type CacheConfig struct {
	// Backend is "memory" or "redis"
	Backend         string        `yaml:"backend"`
	TTL             time.Duration `yaml:"ttl"`
	Shards          int           `yaml:"shards"`
	EntriesPerShard int           `yaml:"entries_per_shard"`

	RedisURL        string `yaml:"redis_url"`
	RedisPassword   string `yaml:"redis_password"`
	RedisDB         int    `yaml:"redis_db"`
	RedisPoolSize   int    `yaml:"redis_pool_size"`
	RedisMaxRetries int    `yaml:"redis_max_retries"`
	RedisKeyPrefix  string `yaml:"redis_key_prefix"`
}

// RBACConfig holds role engine settings
type RBACConfig struct {
	SweepSchedule    string `yaml:"sweep_schedule"`
	CatalogFile      string `yaml:"catalog_file"`
	BootstrapOnStart bool   `yaml:"bootstrap_on_start"`
	DefaultLevelStep int    `yaml:"default_level_step"`
}

// RateLimitConfig holds admin API rate limiting settings
type RateLimitConfig struct {
	Enabled bool `yaml:"enabled"`
	// Backend is "memory" or "redis"; redis shares cache.redis_url
	Backend                    string `yaml:"backend"`
	RequestsPerMinute          int    `yaml:"requests_per_minute"`
	Burst                      int    `yaml:"burst"`
	AnonymousRequestsPerMinute int    `yaml:"anonymous_requests_per_minute"`
	AnonymousBurst             int    `yaml:"anonymous_burst"`
	FailOpen                   bool   `yaml:"fail_open"`
}

// AuditConfig holds audit sink settings
type AuditConfig struct {
	// File receives JSON audit events; empty writes them to stdout
	File string `yaml:"file"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       string `yaml:"log_level"`
	MetricsEnabled bool   `yaml:"metrics_enabled"`

	OTelEnabled        bool    `yaml:"otel_enabled"`
	OTelEndpoint       string  `yaml:"otel_endpoint"`
	OTelServiceName    string  `yaml:"otel_service_name"`
	OTelServiceVersion string  `yaml:"otel_service_version"`
	OTelInsecure       bool    `yaml:"otel_insecure"`
	OTelSampleRatio    float64 `yaml:"otel_sample_ratio"`
	Environment        string  `yaml:"environment"`
}

// Default returns the configuration used when nothing overrides it
func Default() *Config {
	db := storage.DefaultConfig()
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            "8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			HealthPort:      "9090",
		},
		Database: DatabaseConfig{
			Driver:      db.Driver,
			MaxConns:    db.MaxConns,
			MinConns:    db.MinConns,
			Timeout:     db.Timeout,
			MaxLifetime: db.MaxLifetime,
			MaxIdleTime: db.MaxIdleTime,
		},
		Auth: AuthConfig{
			Mode:          "jwt",
			JWTAlgorithm:  string(auth.HS256),
			JWTLeeway:     30 * time.Second,
			TokenTTL:      time.Hour,
			CookieName:    middleware.DefaultCookieName,
			SuperuserRole: rbac.SuperuserRoleName,
		},
		Cache: CacheConfig{
			Backend:         "memory",
			TTL:             rbac.DefaultConfig().CacheTTL,
			Shards:          16,
			EntriesPerShard: 4096,
			RedisPoolSize:   10,
			RedisMaxRetries: 3,
			RedisKeyPrefix:  cache.DefaultKeyPrefix,
		},
		RBAC: RBACConfig{
			SweepSchedule:    rbac.DefaultSweepSchedule,
			DefaultLevelStep: rbac.DefaultConfig().DefaultLevelStep,
		},
		RateLimit: RateLimitConfig{
			Enabled:                    true,
			Backend:                    "memory",
			RequestsPerMinute:          1000,
			Burst:                      50,
			AnonymousRequestsPerMinute: 100,
			AnonymousBurst:             10,
			FailOpen:                   true,
		},
		Observability: ObservabilityConfig{
			LogLevel:           "info",
			MetricsEnabled:     true,
			OTelEndpoint:       "localhost:4317",
			OTelServiceName:    "assetguard",
			OTelServiceVersion: "1.0.0",
			OTelInsecure:       true,
			OTelSampleRatio:    1.0,
		},
	}
}

// LoadConfig loads the file named by ASSETGUARD_CONFIG, if any, then
// applies ASSETGUARD_* environment overrides and validates the result
func LoadConfig() (*Config, error) {
	return Load(os.Getenv(FileEnvVar))
}

// Load builds configuration from defaults, an optional YAML file and the environment
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// mergeFile overlays the YAML file at path; keys absent from the file keep their current value
func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	s := &c.Server
	s.Host = getEnv("ASSETGUARD_HOST", s.Host)
	s.Port = getEnv("ASSETGUARD_PORT", s.Port)
	s.HealthPort = getEnv("ASSETGUARD_HEALTH_PORT", s.HealthPort)
	s.ReadTimeout = getEnvDuration("ASSETGUARD_READ_TIMEOUT", s.ReadTimeout)
	s.WriteTimeout = getEnvDuration("ASSETGUARD_WRITE_TIMEOUT", s.WriteTimeout)
	s.IdleTimeout = getEnvDuration("ASSETGUARD_IDLE_TIMEOUT", s.IdleTimeout)
	s.ShutdownTimeout = getEnvDuration("ASSETGUARD_SHUTDOWN_TIMEOUT", s.ShutdownTimeout)

	d := &c.Database
	d.Driver = getEnv("ASSETGUARD_DB_DRIVER", d.Driver)
	d.DSN = getEnv("ASSETGUARD_DB_DSN", d.DSN)
	d.MaxConns = getEnvInt("ASSETGUARD_DB_MAX_CONNS", d.MaxConns)
	d.MinConns = getEnvInt("ASSETGUARD_DB_MIN_CONNS", d.MinConns)
	d.Timeout = getEnvDuration("ASSETGUARD_DB_TIMEOUT", d.Timeout)

	a := &c.Auth
	a.Mode = getEnv("ASSETGUARD_AUTH_MODE", a.Mode)
	a.JWTAlgorithm = getEnv("ASSETGUARD_JWT_ALGORITHM", a.JWTAlgorithm)
	a.JWTSecret = getEnv("ASSETGUARD_JWT_SECRET", a.JWTSecret)
	a.JWTPublicKeyFile = getEnv("ASSETGUARD_JWT_PUBLIC_KEY_FILE", a.JWTPublicKeyFile)
	a.JWTPrivateKeyFile = getEnv("ASSETGUARD_JWT_PRIVATE_KEY_FILE", a.JWTPrivateKeyFile)
	a.JWTIssuer = getEnv("ASSETGUARD_JWT_ISSUER", a.JWTIssuer)
	a.JWTAudience = getEnv("ASSETGUARD_JWT_AUDIENCE", a.JWTAudience)
	a.JWTLeeway = getEnvDuration("ASSETGUARD_JWT_LEEWAY", a.JWTLeeway)
	a.TokenTTL = getEnvDuration("ASSETGUARD_TOKEN_TTL", a.TokenTTL)
	a.OIDCIssuerURL = getEnv("ASSETGUARD_OIDC_ISSUER_URL", a.OIDCIssuerURL)
	a.OIDCClientID = getEnv("ASSETGUARD_OIDC_CLIENT_ID", a.OIDCClientID)
	a.CookieName = getEnv("ASSETGUARD_AUTH_COOKIE", a.CookieName)
	if v, ok := os.LookupEnv("ASSETGUARD_SUPERUSER_ROLE"); ok {
		a.SuperuserRole = v
	}

	ch := &c.Cache
	ch.Backend = getEnv("ASSETGUARD_CACHE_BACKEND", ch.Backend)
	ch.TTL = getEnvDuration("ASSETGUARD_CACHE_TTL", ch.TTL)
	ch.Shards = getEnvInt("ASSETGUARD_CACHE_SHARDS", ch.Shards)
	ch.EntriesPerShard = getEnvInt("ASSETGUARD_CACHE_ENTRIES_PER_SHARD", ch.EntriesPerShard)
	ch.RedisURL = getEnv("ASSETGUARD_REDIS_URL", ch.RedisURL)
	ch.RedisPassword = getEnv("ASSETGUARD_REDIS_PASSWORD", ch.RedisPassword)
	ch.RedisDB = getEnvInt("ASSETGUARD_REDIS_DB", ch.RedisDB)
	ch.RedisPoolSize = getEnvInt("ASSETGUARD_REDIS_POOL_SIZE", ch.RedisPoolSize)
	ch.RedisMaxRetries = getEnvInt("ASSETGUARD_REDIS_MAX_RETRIES", ch.RedisMaxRetries)
	ch.RedisKeyPrefix = getEnv("ASSETGUARD_REDIS_KEY_PREFIX", ch.RedisKeyPrefix)

	r := &c.RBAC
	r.SweepSchedule = getEnv("ASSETGUARD_SWEEP_SCHEDULE", r.SweepSchedule)
	r.CatalogFile = getEnv("ASSETGUARD_CATALOG_FILE", r.CatalogFile)
	r.BootstrapOnStart = getEnvBool("ASSETGUARD_BOOTSTRAP_ON_START", r.BootstrapOnStart)
	r.DefaultLevelStep = getEnvInt("ASSETGUARD_DEFAULT_LEVEL_STEP", r.DefaultLevelStep)

	rl := &c.RateLimit
	rl.Enabled = getEnvBool("ASSETGUARD_RATE_LIMIT_ENABLED", rl.Enabled)
	rl.Backend = getEnv("ASSETGUARD_RATE_LIMIT_BACKEND", rl.Backend)
	rl.RequestsPerMinute = getEnvInt("ASSETGUARD_RATE_LIMIT_PER_MINUTE", rl.RequestsPerMinute)
	rl.Burst = getEnvInt("ASSETGUARD_RATE_LIMIT_BURST", rl.Burst)
	rl.AnonymousRequestsPerMinute = getEnvInt("ASSETGUARD_RATE_LIMIT_ANON_PER_MINUTE", rl.AnonymousRequestsPerMinute)
	rl.AnonymousBurst = getEnvInt("ASSETGUARD_RATE_LIMIT_ANON_BURST", rl.AnonymousBurst)
	rl.FailOpen = getEnvBool("ASSETGUARD_RATE_LIMIT_FAIL_OPEN", rl.FailOpen)

	c.Audit.File = getEnv("ASSETGUARD_AUDIT_FILE", c.Audit.File)

	o := &c.Observability
	o.LogLevel = getEnv("ASSETGUARD_LOG_LEVEL", o.LogLevel)
	o.MetricsEnabled = getEnvBool("ASSETGUARD_METRICS_ENABLED", o.MetricsEnabled)
	o.OTelEnabled = getEnvBool("ASSETGUARD_OTEL_ENABLED", o.OTelEnabled)
	o.OTelEndpoint = getEnv("ASSETGUARD_OTEL_ENDPOINT", o.OTelEndpoint)
	o.OTelServiceName = getEnv("ASSETGUARD_OTEL_SERVICE_NAME", o.OTelServiceName)
	o.OTelServiceVersion = getEnv("ASSETGUARD_OTEL_SERVICE_VERSION", o.OTelServiceVersion)
	o.OTelInsecure = getEnvBool("ASSETGUARD_OTEL_INSECURE", o.OTelInsecure)
	o.OTelSampleRatio = getEnvFloat("ASSETGUARD_OTEL_SAMPLE_RATIO", o.OTelSampleRatio)
	o.Environment = getEnv("ASSETGUARD_ENVIRONMENT", o.Environment)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate server config
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	if err := c.Database.Storage().Validate(); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	switch c.Auth.Mode {
	case "jwt":
		switch auth.Algorithm(c.Auth.JWTAlgorithm) {
		case auth.HS256:
			if len(c.Auth.JWTSecret) < 32 {
				return fmt.Errorf("jwt secret must be at least 32 bytes for HS256")
			}
		case auth.RS256:
			if c.Auth.JWTPublicKeyFile == "" && c.Auth.JWTPrivateKeyFile == "" {
				return fmt.Errorf("jwt public or private key file is required for RS256")
			}
		default:
			return fmt.Errorf("invalid jwt algorithm: %s (must be HS256 or RS256)", c.Auth.JWTAlgorithm)
		}
	case "oidc":
		if c.Auth.OIDCIssuerURL == "" || c.Auth.OIDCClientID == "" {
			return fmt.Errorf("oidc issuer URL and client ID are required for oidc auth")
		}
	default:
		return fmt.Errorf("invalid auth mode: %s (must be jwt or oidc)", c.Auth.Mode)
	}

	switch c.Cache.Backend {
	case "memory":
	case "redis":
		if c.Cache.RedisURL == "" {
			return fmt.Errorf("redis URL is required for the redis cache backend")
		}
	default:
		return fmt.Errorf("invalid cache backend: %s (must be memory or redis)", c.Cache.Backend)
	}
	if c.Cache.TTL <= 0 {
		return fmt.Errorf("cache TTL must be positive")
	}

	if _, err := cron.ParseStandard(c.RBAC.SweepSchedule); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", c.RBAC.SweepSchedule, err)
	}

	if c.RateLimit.Enabled {
		if c.RateLimit.RequestsPerMinute <= 0 || c.RateLimit.AnonymousRequestsPerMinute <= 0 {
			return fmt.Errorf("rate limits must be positive when rate limiting is enabled")
		}
		if c.RateLimit.Burst < 0 || c.RateLimit.AnonymousBurst < 0 {
			return fmt.Errorf("rate limit burst must not be negative")
		}
		switch c.RateLimit.Backend {
		case "memory":
		case "redis":
			if c.Cache.RedisURL == "" {
				return fmt.Errorf("redis URL is required for the redis rate limit backend")
			}
		default:
			return fmt.Errorf("invalid rate limit backend: %s (must be memory or redis)", c.RateLimit.Backend)
		}
	}

	if _, err := observability.ParseLogLevel(c.Observability.LogLevel); err != nil {
		return err
	}

	// Validate OpenTelemetry config
	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// Addr returns the API listen address
func (s ServerConfig) Addr() string {
	return s.Host + ":" + s.Port
}

// Storage converts the database settings for storage.Open
func (d DatabaseConfig) Storage() storage.Config {
	return storage.Config{
		Driver:      d.Driver,
		DSN:         d.DSN,
		MaxConns:    d.MaxConns,
		MinConns:    d.MinConns,
		Timeout:     d.Timeout,
		MaxLifetime: d.MaxLifetime,
		MaxIdleTime: d.MaxIdleTime,
	}
}

// JWT builds the verifier configuration, reading key files from disk
func (a AuthConfig) JWT() (auth.JWTConfig, error) {
	cfg := auth.JWTConfig{
		Algorithm: auth.Algorithm(a.JWTAlgorithm),
		Secret:    a.JWTSecret,
		Issuer:    a.JWTIssuer,
		Audience:  a.JWTAudience,
		Leeway:    a.JWTLeeway,
		TTL:       a.TokenTTL,
	}
	var err error
	if cfg.PublicKeyPEM, err = readOptional(a.JWTPublicKeyFile); err != nil {
		return auth.JWTConfig{}, err
	}
	if cfg.PrivateKeyPEM, err = readOptional(a.JWTPrivateKeyFile); err != nil {
		return auth.JWTConfig{}, err
	}
	return cfg, nil
}

// OIDC builds the OIDC verifier configuration
func (a AuthConfig) OIDC() auth.OIDCConfig {
	return auth.OIDCConfig{
		IssuerURL: a.OIDCIssuerURL,
		ClientID:  a.OIDCClientID,
	}
}

func readOptional(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read key file: %w", err)
	}
	return string(data), nil
}

// Memory returns the in-memory cache configuration
func (c CacheConfig) Memory() *cache.Config {
	cfg := cache.DefaultConfig()
	cfg.Shards = c.Shards
	cfg.EntriesPerShard = c.EntriesPerShard
	return cfg
}

// Redis returns the Redis connection configuration
func (c CacheConfig) Redis() cache.RedisConfig {
	return cache.RedisConfig{
		URL:        c.RedisURL,
		Password:   c.RedisPassword,
		DB:         c.RedisDB,
		PoolSize:   c.RedisPoolSize,
		MaxRetries: c.RedisMaxRetries,
		KeyPrefix:  c.RedisKeyPrefix,
	}
}

// Engine returns the role engine configuration
func (c *Config) Engine() rbac.Config {
	return rbac.Config{
		CacheTTL:         c.Cache.TTL,
		DefaultLevelStep: c.RBAC.DefaultLevelStep,
	}
}

// User returns the per-user limiter settings
func (r RateLimitConfig) User() *middleware.RateLimitConfig {
	return &middleware.RateLimitConfig{
		RequestsPerWindow: r.RequestsPerMinute,
		WindowDuration:    time.Minute,
		BurstSize:         r.Burst,
	}
}

// Anonymous returns the per-IP limiter settings
func (r RateLimitConfig) Anonymous() *middleware.RateLimitConfig {
	return &middleware.RateLimitConfig{
		RequestsPerWindow: r.AnonymousRequestsPerMinute,
		WindowDuration:    time.Minute,
		BurstSize:         r.AnonymousBurst,
	}
}

// Level returns the parsed log level
func (o ObservabilityConfig) Level() observability.LogLevel {
	level, _ := observability.ParseLogLevel(o.LogLevel)
	return level
}

// OTel returns the OpenTelemetry configuration
func (o ObservabilityConfig) OTel() observability.OTelConfig {
	return observability.OTelConfig{
		Enabled:        o.OTelEnabled,
		Endpoint:       o.OTelEndpoint,
		ServiceName:    o.OTelServiceName,
		ServiceVersion: o.OTelServiceVersion,
		Insecure:       o.OTelInsecure,
		SampleRatio:    o.OTelSampleRatio,
		Environment:    o.Environment,
	}
}

// Telemetry returns the OpenTelemetry configuration with the deployment's
// auth mode, cache backend and database driver as resource attributes
func (c *Config) Telemetry() observability.OTelConfig {
	oc := c.Observability.OTel()
	oc.Attributes = map[string]string{
		"assetguard.auth.mode":       c.Auth.Mode,
		"assetguard.cache.backend":   c.Cache.Backend,
		"assetguard.database.driver": c.Database.Driver,
	}
	return oc
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvFloat returns a float environment variable or a default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
