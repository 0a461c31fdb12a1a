package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/platinummonkey/assetguard/pkg/audit"
	"github.com/platinummonkey/assetguard/pkg/cache"
	"github.com/platinummonkey/assetguard/pkg/config"
	"github.com/platinummonkey/assetguard/pkg/observability"
	"github.com/platinummonkey/assetguard/pkg/rbac"
	"github.com/platinummonkey/assetguard/pkg/storage"
)

// app holds the components shared by every command that touches the store
type app struct {
	cfg      *config.Config
	logger   *observability.Logger
	registry *prometheus.Registry
	metrics  *observability.Metrics
	db       *storage.ConnectionManager
	cache    cache.Cache
	redis    *redis.Client
	audit    audit.Logger
	service  *rbac.Service
}

// newApp opens the database, cache and audit sink described by cfg
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{
		cfg:      cfg,
		logger:   observability.NewLogger(cfg.Observability.Level(), os.Stderr),
		registry: prometheus.NewRegistry(),
	}
	a.metrics = observability.NewMetrics(a.registry)

	db, err := storage.Open(ctx, cfg.Database.Storage())
	if err != nil {
		return nil, err
	}
	a.db = db

	switch cfg.Cache.Backend {
	case "redis":
		rc, err := cache.NewRedisCache(cfg.Cache.Redis())
		if err != nil {
			a.close(ctx)
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		a.cache = rc
		a.redis = rc.Client()
	default:
		a.cache = cache.NewMemoryCache(cfg.Cache.Memory())
	}

	if cfg.Audit.File != "" {
		fl, err := audit.NewFileLogger(cfg.Audit.File)
		if err != nil {
			a.close(ctx)
			return nil, err
		}
		a.audit = fl
	} else {
		a.audit = audit.NewLogrusLogger(os.Stdout)
	}

	a.service = rbac.NewService(rbac.NewStore(db.DB()),
		rbac.WithConfig(cfg.Engine()),
		rbac.WithCache(a.cache),
		rbac.WithLogger(a.logger),
		rbac.WithMetrics(a.metrics),
		rbac.WithAuditLogger(a.audit),
	)
	return a, nil
}

// migrate applies pending schema migrations
func (a *app) migrate(ctx context.Context) ([]int, error) {
	return rbac.RunMigrations(ctx, a.db.DB(), rbac.Dialect(a.db.Driver()))
}

// catalog returns the configured catalog file, or the built-in catalog
func (a *app) catalog(override string) (rbac.Catalog, error) {
	path := override
	if path == "" {
		path = a.cfg.RBAC.CatalogFile
	}
	if path == "" {
		return rbac.DefaultCatalog(), nil
	}
	return rbac.LoadCatalog(path)
}

func (a *app) close(ctx context.Context) {
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			a.logger.WithError(err).Warn("cache close failed")
		}
	}
	if a.audit != nil {
		if err := a.audit.Close(); err != nil {
			a.logger.WithError(err).Warn("audit close failed")
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.WithError(err).Warn("database close failed")
		}
	}
}

// loadConfig reads configuration, letting --config override ASSETGUARD_CONFIG
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		path = os.Getenv(config.FileEnvVar)
	}
	return config.Load(path)
}
