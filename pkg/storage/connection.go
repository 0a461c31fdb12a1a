package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"           // PostgreSQL driver
	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Supported database/sql driver names
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

// Config holds database connection configuration
type Config struct {
	Driver      string
	DSN         string
	MaxConns    int
	MinConns    int
	Timeout     time.Duration
	MaxLifetime time.Duration
	MaxIdleTime time.Duration
}

// DefaultConfig returns pool settings suitable for a single API instance
func DefaultConfig() Config {
	return Config{
		Driver:      DriverPostgres,
		MaxConns:    20,
		MinConns:    2,
		Timeout:     10 * time.Second,
		MaxLifetime: 30 * time.Minute,
		MaxIdleTime: 5 * time.Minute,
	}
}

// Validate checks the driver and DSN
func (c Config) Validate() error {
	switch c.Driver {
	case DriverPostgres, DriverSQLite:
	default:
		return fmt.Errorf("unsupported database driver %q (must be %s or %s)", c.Driver, DriverPostgres, DriverSQLite)
	}
	if c.DSN == "" {
		return fmt.Errorf("database DSN is required")
	}
	if c.MaxConns < 0 || c.MinConns < 0 {
		return fmt.Errorf("connection pool sizes must not be negative")
	}
	if c.MaxConns > 0 && c.MinConns > c.MaxConns {
		return fmt.Errorf("min connections (%d) exceeds max connections (%d)", c.MinConns, c.MaxConns)
	}
	return nil
}

// ConnectionManager owns the pooled database handle
type ConnectionManager struct {
	db     *sql.DB
	driver string
	config Config
}

// Open connects using cfg and verifies the connection with a ping
func Open(ctx context.Context, cfg Config) (*ConnectionManager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s connection: %w", cfg.Driver, err)
	}

	cm := NewConnectionManager(db, cfg)
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping %s: %w", cfg.Driver, err)
	}
	return cm, nil
}

// NewConnectionManager wraps an already opened handle and applies the pool settings
func NewConnectionManager(db *sql.DB, cfg Config) *ConnectionManager {
	if cfg.Driver == DriverSQLite && isMemoryDSN(cfg.DSN) {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
		db.SetConnMaxIdleTime(0)
	} else {
		if cfg.MaxConns > 0 {
			db.SetMaxOpenConns(cfg.MaxConns)
		}
		if cfg.MinConns > 0 {
			db.SetMaxIdleConns(cfg.MinConns)
		}
		db.SetConnMaxLifetime(cfg.MaxLifetime)
		db.SetConnMaxIdleTime(cfg.MaxIdleTime)
	}
	return &ConnectionManager{db: db, driver: cfg.Driver, config: cfg}
}

func isMemoryDSN(dsn string) bool {
	return dsn == ":memory:" || strings.Contains(dsn, "mode=memory")
}

// DB returns the pooled handle
func (cm *ConnectionManager) DB() *sql.DB {
	return cm.db
}

// Driver returns the database/sql driver name
func (cm *ConnectionManager) Driver() string {
	return cm.driver
}

// HealthCheck pings the database
func (cm *ConnectionManager) HealthCheck(ctx context.Context) error {
	if err := cm.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%s unhealthy: %w", cm.driver, err)
	}
	return nil
}

// Stats returns connection pool statistics
func (cm *ConnectionManager) Stats() sql.DBStats {
	return cm.db.Stats()
}

// Close closes the pool
func (cm *ConnectionManager) Close() error {
	return cm.db.Close()
}
