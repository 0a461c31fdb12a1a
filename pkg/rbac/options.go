package rbac

import (
	"time"

	"github.com/platinummonkey/assetguard/pkg/audit"
	"github.com/platinummonkey/assetguard/pkg/cache"
	"github.com/platinummonkey/assetguard/pkg/observability"
)

// Config holds RBAC configuration
type Config struct {
	// CacheTTL is how long resolved roles and permissions stay cached
	CacheTTL time.Duration

	// DefaultLevelStep is added to the current maximum level when a role is
	// created without an explicit level
	DefaultLevelStep int
}

// DefaultConfig returns default RBAC configuration
func DefaultConfig() Config {
	return Config{
		CacheTTL:         5 * time.Minute,
		DefaultLevelStep: 10,
	}
}

type options struct {
	config  Config
	cache   cache.Cache
	logger  *observability.Logger
	metrics *observability.Metrics
	audit   audit.Logger
	now     func() time.Time
}

// Option configures a Resolver or Service
type Option func(*options)

// WithConfig overrides the default configuration
func WithConfig(c Config) Option {
	return func(o *options) {
		if c.CacheTTL > 0 {
			o.config.CacheTTL = c.CacheTTL
		}
		if c.DefaultLevelStep > 0 {
			o.config.DefaultLevelStep = c.DefaultLevelStep
		}
	}
}

// WithCache sets the cache backend. Without one every read hits the store.
func WithCache(c cache.Cache) Option {
	return func(o *options) { o.cache = c }
}

// WithLogger sets the logger
func WithLogger(l *observability.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics sets the Prometheus metrics
func WithMetrics(m *observability.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithAuditLogger sets the audit sink
func WithAuditLogger(a audit.Logger) Option {
	return func(o *options) { o.audit = a }
}

// WithClock sets the time source used for expiry checks and timestamps
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func buildOptions(opts []Option) *options {
	o := &options{
		config: DefaultConfig(),
		audit:  audit.NopLogger{},
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = observability.NewNopLogger()
	}
	return o
}

func (o *options) clock() time.Time {
	return o.now().UTC()
}
