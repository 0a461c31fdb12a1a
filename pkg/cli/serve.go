package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/assetguard/pkg/api"
	"github.com/platinummonkey/assetguard/pkg/auth"
	"github.com/platinummonkey/assetguard/pkg/config"
	"github.com/platinummonkey/assetguard/pkg/gate"
	"github.com/platinummonkey/assetguard/pkg/httputil"
	"github.com/platinummonkey/assetguard/pkg/middleware"
	"github.com/platinummonkey/assetguard/pkg/observability"
	"github.com/platinummonkey/assetguard/pkg/rbac"
)

// Version is stamped at build time with -ldflags "-X .../pkg/cli.Version=..."
var Version = "dev"

const maxRequestBody = 1 << 20

func newServeCommand() *Command {
	cmd := &Command{
		Name:        "serve",
		Description: "Run the admin API and authorization service",
		Flags:       flag.NewFlagSet("serve", flag.ContinueOnError),
	}
	cmd.Flags.String("config", "", "YAML config file (overrides ASSETGUARD_CONFIG)")
	cmd.Flags.Bool("migrate", false, "Apply pending migrations before serving")
	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		path := cmd.Flags.Lookup("config").Value.String()
		migrate := cmd.Flags.Lookup("migrate").Value.String() == "true"
		return runServe(path, migrate)
	}
	return cmd
}

func runServe(configPath string, migrate bool) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	logger := a.logger

	if migrate {
		applied, err := a.migrate(ctx)
		if err != nil {
			a.close(ctx)
			return err
		}
		logger.WithField("applied", applied).Info("Migrations applied")
	}
	if cfg.RBAC.BootstrapOnStart {
		catalog, err := a.catalog("")
		if err != nil {
			a.close(ctx)
			return err
		}
		res, err := a.service.Bootstrap(ctx, catalog)
		if err != nil {
			a.close(ctx)
			return err
		}
		logger.WithFields(map[string]interface{}{
			"permissions_created": res.PermissionsCreated,
			"roles_created":       res.RolesCreated,
		}).Info("Catalog bootstrapped")
	}

	otelProviders, err := observability.InitOTel(ctx, cfg.Telemetry(), logger)
	if err != nil {
		a.close(ctx)
		return err
	}

	verifier, err := newVerifier(ctx, cfg.Auth)
	if err != nil {
		a.close(ctx)
		return err
	}

	gateOpts := []gate.Option{
		gate.WithLogger(logger),
		gate.WithMetrics(a.metrics),
		gate.WithAuditLogger(a.audit),
		gate.WithSuperuserRole(cfg.Auth.SuperuserRole),
	}
	if cfg.Observability.OTelEnabled {
		om, err := observability.NewOTelMetrics()
		if err != nil {
			logger.WithError(err).Warn("OTel metrics unavailable")
		} else {
			gateOpts = append(gateOpts, gate.WithOTelMetrics(om))
		}
	}
	g := gate.New(verifier, a.service.Resolver(), gateOpts...)

	limiter, err := newRateLimit(ctx, cfg, a.redis)
	if err != nil {
		a.close(ctx)
		return err
	}

	server := api.NewServer(api.Deps{
		Service:    a.service,
		Gate:       g,
		Authorizer: middleware.NewAuthorizer(g, middleware.WithCookieName(cfg.Auth.CookieName)),
		RateLimit:  limiter,
		Logger:     logger,
	})

	handler := httputil.Chain(
		middleware.RequestID(logger),
		httputil.Recovery(logger),
		httputil.AccessLog(logger),
		observability.HTTPMetricsMiddleware(a.metrics, routeLabel(server.Router())),
		httputil.MaxBytes(maxRequestBody),
	)(server)

	httpServer := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      otelhttp.NewHandler(handler, "assetguard-api"),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	healthMux := http.NewServeMux()
	observability.RegisterHealthRoutes(healthMux, observability.NewHealthChecker(a.db.DB(), a.redis, Version))
	if cfg.Observability.MetricsEnabled {
		observability.RegisterMetricsEndpoint(healthMux, a.registry)
	}
	healthServer := &http.Server{
		Addr:    cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler: healthMux,
	}

	sweeper, err := rbac.NewSweeper(a.service, cfg.RBAC.SweepSchedule, logger)
	if err != nil {
		a.close(ctx)
		return err
	}
	sweeper.Start()

	if configPath == "" {
		configPath = os.Getenv(config.FileEnvVar)
	}
	if configPath != "" {
		if err := config.WatchLogLevel(ctx, configPath, logger); err != nil {
			logger.WithError(err).Warn("Log level reload disabled")
		}
	}

	shutdown := observability.NewShutdownManager(logger, httpServer, cfg.Server.ShutdownTimeout)
	shutdown.Register("health_server", healthServer.Shutdown)
	shutdown.Register("sweeper", sweeper.Stop)
	shutdown.Register("otel", func(ctx context.Context) error {
		return observability.ShutdownOTel(ctx, otelProviders, logger)
	})
	shutdown.Register("storage", func(ctx context.Context) error {
		a.close(ctx)
		return nil
	})

	serveErr := make(chan error, 2)
	listen := func(name string, srv *http.Server) {
		logger.WithFields(map[string]interface{}{"server": name, "addr": srv.Addr}).Info("Listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- fmt.Errorf("%s: %w", name, err)
			cancel()
		}
	}
	go listen("api", httpServer)
	go listen("health", healthServer)

	logger.WithField("version", Version).Info("AssetGuard started")
	shutdownErr := shutdown.WaitForSignal(ctx)

	select {
	case err := <-serveErr:
		return errors.Join(err, shutdownErr)
	default:
		return shutdownErr
	}
}

// newVerifier builds the credential verifier selected by cfg.Mode
func newVerifier(ctx context.Context, cfg config.AuthConfig) (auth.Verifier, error) {
	switch cfg.Mode {
	case "oidc":
		v, err := auth.NewOIDCVerifier(ctx, cfg.OIDC())
		if err != nil {
			return nil, err
		}
		return v, nil
	default:
		jwtCfg, err := cfg.JWT()
		if err != nil {
			return nil, err
		}
		v, err := auth.NewJWTVerifier(jwtCfg)
		if err != nil {
			return nil, err
		}
		return v, nil
	}
}

// newRateLimit returns nil when rate limiting is disabled
func newRateLimit(ctx context.Context, cfg *config.Config, client *redis.Client) (*middleware.RateLimitMiddleware, error) {
	if !cfg.RateLimit.Enabled {
		return nil, nil
	}

	var user, anonymous middleware.Limiter
	switch cfg.RateLimit.Backend {
	case "redis":
		if client == nil {
			opts, err := redis.ParseURL(cfg.Cache.RedisURL)
			if err != nil {
				return nil, fmt.Errorf("invalid redis URL: %w", err)
			}
			client = redis.NewClient(opts)
		}
		user = middleware.NewDistributedRateLimiter(client, cfg.RateLimit.User(), "")
		anonymous = middleware.NewDistributedRateLimiter(client, cfg.RateLimit.Anonymous(), "")
	default:
		u := middleware.NewRateLimiter(cfg.RateLimit.User())
		an := middleware.NewRateLimiter(cfg.RateLimit.Anonymous())
		u.StartCleanup(ctx)
		an.StartCleanup(ctx)
		user, anonymous = u, an
	}

	m := middleware.NewRateLimitMiddleware(user, anonymous)
	m.SetFailOpen(cfg.RateLimit.FailOpen)
	return m, nil
}

// routeLabel reports the matched route template so metrics stay low-cardinality
func routeLabel(router *mux.Router) observability.RouteLabel {
	return func(r *http.Request) string {
		var match mux.RouteMatch
		if router.Match(r, &match) && match.Route != nil {
			if tmpl, err := match.Route.GetPathTemplate(); err == nil {
				return tmpl
			}
		}
		return "unmatched"
	}
}
