package gate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/assetguard/pkg/audit"
	"github.com/platinummonkey/assetguard/pkg/auth"
	"github.com/platinummonkey/assetguard/pkg/contextkeys"
	"github.com/platinummonkey/assetguard/pkg/observability"
	"github.com/platinummonkey/assetguard/pkg/rbac"
)

// Loader reads the cached authorization data of a user. *rbac.Resolver
// satisfies it.
type Loader interface {
	UserRoles(ctx context.Context, userID int64) ([]rbac.UserRole, error)
	EffectivePermissions(ctx context.Context, userID int64) ([]rbac.EffectivePermission, error)
}

// Gate authorizes requests
type Gate struct {
	verifier      auth.Verifier
	loader        Loader
	logger        *observability.Logger
	metrics       *observability.Metrics
	otelMetrics   *observability.OTelMetrics
	audit         audit.Logger
	tracer        trace.Tracer
	superuserRole string
}

// Option configures a Gate
type Option func(*Gate)

// WithLogger sets the logger
func WithLogger(l *observability.Logger) Option {
	return func(g *Gate) { g.logger = l }
}

// WithMetrics sets the Prometheus metrics
func WithMetrics(m *observability.Metrics) Option {
	return func(g *Gate) { g.metrics = m }
}

// WithOTelMetrics sets the OpenTelemetry metrics
func WithOTelMetrics(m *observability.OTelMetrics) Option {
	return func(g *Gate) { g.otelMetrics = m }
}

// WithAuditLogger sets the sink for denied and failed decisions
func WithAuditLogger(a audit.Logger) Option {
	return func(g *Gate) { g.audit = a }
}

// WithSuperuserRole overrides the role that bypasses every check. An empty
// name disables the bypass.
func WithSuperuserRole(name string) Option {
	return func(g *Gate) { g.superuserRole = name }
}

// New creates a gate
func New(verifier auth.Verifier, loader Loader, opts ...Option) *Gate {
	g := &Gate{
		verifier:      verifier,
		loader:        loader,
		audit:         audit.NopLogger{},
		tracer:        observability.Tracer(),
		superuserRole: rbac.SuperuserRoleName,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.logger == nil {
		g.logger = observability.NewNopLogger()
	}
	g.logger = g.logger.WithField("component", "authz_gate")
	return g
}

// Authorize verifies credential, loads the caller's AuthContext and checks
// req against it. Every failure is a *Error.
func (g *Gate) Authorize(ctx context.Context, credential string, req Requirement) (*AuthContext, error) {
	ctx, span := g.tracer.Start(ctx, "gate.Authorize",
		trace.WithAttributes(attribute.String("authz.requirement", req.String())))
	defer span.End()

	start := time.Now()
	ac, gerr := g.authorize(ctx, credential, req)
	elapsed := time.Since(start)

	if gerr != nil {
		g.metrics.RecordDecision(false, string(gerr.Code), elapsed)
		g.otelMetrics.RecordDecision(ctx, false, string(gerr.Code), elapsed)
		span.SetAttributes(attribute.String("authz.code", string(gerr.Code)))
		span.SetStatus(codes.Error, string(gerr.Code))
		return nil, gerr
	}

	g.metrics.RecordDecision(true, "", elapsed)
	g.otelMetrics.RecordDecision(ctx, true, "OK", elapsed)
	span.SetAttributes(
		attribute.Int64("user.id", ac.UserID),
		attribute.Bool("authz.superuser", ac.Superuser),
	)
	return ac, nil
}

func (g *Gate) authorize(ctx context.Context, credential string, req Requirement) (*AuthContext, *Error) {
	if credential == "" {
		return nil, newError(CodeTokenRequired, nil)
	}

	principal, err := g.verifier.Verify(ctx, credential)
	if err != nil {
		return nil, newError(verifyCode(err), err)
	}
	if principal == nil || principal.UserID <= 0 {
		return nil, newError(CodeInvalidToken, errors.New("credential carries no user id"))
	}

	ac, err := g.Load(ctx, principal)
	if err != nil {
		g.loadFailed(ctx, principal, err)
		return nil, newError(CodeLoadFailed, err)
	}

	if gerr := ac.Evaluate(req); gerr != nil {
		g.denied(ctx, ac, req, gerr)
		return nil, gerr
	}
	return ac, nil
}

// Load builds the AuthContext of a verified principal. Roles and effective
// permissions are read concurrently.
func (g *Gate) Load(ctx context.Context, p *auth.Principal) (*AuthContext, error) {
	start := time.Now()
	defer func() {
		d := time.Since(start)
		g.metrics.ObserveContextLoad(d)
		g.otelMetrics.ObserveContextLoad(ctx, d)
	}()

	var (
		roles []rbac.UserRole
		perms []rbac.EffectivePermission
	)

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		var err error
		roles, err = g.loader.UserRoles(egCtx, p.UserID)
		if err != nil {
			return fmt.Errorf("failed to load roles for user %d: %w", p.UserID, err)
		}
		return nil
	})
	eg.Go(func() error {
		var err error
		perms, err = g.loader.EffectivePermissions(egCtx, p.UserID)
		if err != nil {
			return fmt.Errorf("failed to load permissions for user %d: %w", p.UserID, err)
		}
		return nil
	})
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	return NewAuthContext(p.UserID, p.Username, p.Role, roles, perms, g.superuserRole), nil
}

func (g *Gate) loadFailed(ctx context.Context, p *auth.Principal, err error) {
	logger := observability.UpdateLoggerWithTraceContext(ctx, g.logger)
	logger.WithFields(map[string]interface{}{
		"user_id":    p.UserID,
		"request_id": contextkeys.GetRequestID(ctx),
	}).WithError(err).Error("Failed to load authorization context")

	g.record(ctx, &audit.Event{
		Timestamp:    time.Now().UTC(),
		EventType:    audit.EventTypeLoadFailed,
		Status:       audit.EventStatusFailure,
		ActorID:      audit.Int64(p.UserID),
		Username:     p.Username,
		ResourceType: audit.ResourceTypeRequest,
		RequestID:    contextkeys.GetRequestID(ctx),
		ErrorMessage: err.Error(),
	})
}

func (g *Gate) denied(ctx context.Context, ac *AuthContext, req Requirement, gerr *Error) {
	g.logger.WithFields(map[string]interface{}{
		"user_id":     ac.UserID,
		"code":        string(gerr.Code),
		"requirement": req.String(),
		"missing":     gerr.Missing,
		"request_id":  contextkeys.GetRequestID(ctx),
	}).Warn("Authorization denied")

	g.record(ctx, &audit.Event{
		Timestamp:    time.Now().UTC(),
		EventType:    audit.EventTypeAccessDenied,
		Status:       audit.EventStatusDenied,
		ActorID:      audit.Int64(ac.UserID),
		Username:     ac.Username,
		ResourceType: audit.ResourceTypeRequest,
		RequestID:    contextkeys.GetRequestID(ctx),
		Message:      string(gerr.Code),
		Metadata: map[string]interface{}{
			"required": gerr.Required,
			"missing":  gerr.Missing,
		},
	})
}

func (g *Gate) record(ctx context.Context, ev *audit.Event) {
	if err := g.audit.Log(ctx, ev); err != nil {
		g.logger.WithError(err).WithField("event_type", string(ev.EventType)).Warn("Failed to write audit event")
	}
}

func verifyCode(err error) Code {
	switch auth.ErrorCode(err) {
	case auth.CodeExpired:
		return CodeTokenExpired
	case auth.CodeMalformed:
		return CodeMalformedToken
	case auth.CodeNotActive:
		return CodeTokenNotActive
	default:
		return CodeInvalidToken
	}
}
