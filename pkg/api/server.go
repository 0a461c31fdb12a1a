package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/assetguard/pkg/gate"
	"github.com/platinummonkey/assetguard/pkg/httputil"
	"github.com/platinummonkey/assetguard/pkg/middleware"
	"github.com/platinummonkey/assetguard/pkg/observability"
	"github.com/platinummonkey/assetguard/pkg/rbac"
)

// Deps are the collaborators of the API server
type Deps struct {
	Service    *rbac.Service
	Gate       *gate.Gate
	Authorizer *middleware.Authorizer
	// RateLimit is optional and applies to every authorized route
	RateLimit *middleware.RateLimitMiddleware
	Logger    *observability.Logger
}

// RouteRegistrar is implemented by handler groups
type RouteRegistrar interface {
	RegisterRoutes(router *mux.Router)
}

// Server represents the admin API server
type Server struct {
	router *mux.Router
	deps   Deps
}

// NewServer creates the API server with every handler group registered
func NewServer(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = observability.NewNopLogger()
	}
	deps.Logger = deps.Logger.WithField("component", "admin_api")

	s := &Server{
		router: mux.NewRouter(),
		deps:   deps,
	}

	p := s.protector()
	api := s.router.PathPrefix("/api/v1").Subrouter()
	s.RegisterRoutes(api,
		NewRoleHandlers(deps.Service, p, deps.Logger),
		NewUserHandlers(deps.Service, p, deps.Logger),
		NewPermissionHandlers(deps.Service, p, deps.Logger),
		NewAuthzHandlers(deps.Gate, p, deps.Logger),
	)
	return s
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Router exposes the router for extra registrations
func (s *Server) Router() *mux.Router {
	return s.router
}

// RegisterRoutes registers handler groups on router
func (s *Server) RegisterRoutes(router *mux.Router, registrars ...RouteRegistrar) {
	for _, r := range registrars {
		r.RegisterRoutes(router)
	}
}

func (s *Server) protector() *protector {
	return &protector{authz: s.deps.Authorizer, rateLimit: s.deps.RateLimit}
}

// protector wraps handlers with authorization then rate limiting
type protector struct {
	authz     *middleware.Authorizer
	rateLimit *middleware.RateLimitMiddleware
}

func (p *protector) wrap(req gate.Requirement, h http.HandlerFunc) http.Handler {
	var next http.Handler = h
	if p.rateLimit != nil {
		next = p.rateLimit.Handler(next)
	}
	return p.authz.Require(req)(next)
}

// requireOutrank answers 403 unless the caller may manage roleID. It returns
// false when a response has been written.
func requireOutrank(w http.ResponseWriter, r *http.Request, svc *rbac.Service, logger *observability.Logger, roleID int64) bool {
	ac := middleware.GetAuthContext(r)
	if ac == nil {
		httputil.WriteErrorCode(w, http.StatusUnauthorized, string(gate.CodeTokenRequired), "Authentication token required")
		return false
	}
	if ac.Superuser {
		return true
	}

	ok, err := svc.Resolver().CanManageRole(r.Context(), ac.UserID, roleID)
	if err != nil {
		httputil.WriteDomainError(w, r, logger, err)
		return false
	}
	if !ok {
		httputil.WriteErrorCode(w, http.StatusForbidden, httputil.CodeRoleManagementDenied,
			"Your highest role must outrank the target role")
		return false
	}
	return true
}

// requireHeldPermission answers 403 unless the caller holds pattern
// themselves, so an override can never hand out more than its author has.
// Malformed patterns pass through for the service to reject.
func requireHeldPermission(w http.ResponseWriter, r *http.Request, pattern string) bool {
	ac := middleware.GetAuthContext(r)
	if ac == nil {
		httputil.WriteErrorCode(w, http.StatusUnauthorized, string(gate.CodeTokenRequired), "Authentication token required")
		return false
	}
	key, err := rbac.ParsePermissionKey(pattern)
	if err != nil || ac.Can(key) {
		return true
	}
	httputil.WriteErrorBody(w, http.StatusForbidden, httputil.ErrorBody{
		Error:    httputil.CodeOverrideDenied,
		Message:  "You can only grant or deny permissions you hold",
		Required: []string{key.String()},
		Missing:  []string{key.String()},
	})
	return false
}

// requireLevelBelowCaller answers 403 when a non-superuser tries to set a
// role level at or above their own highest level
func requireLevelBelowCaller(w http.ResponseWriter, r *http.Request, level *int) bool {
	ac := middleware.GetAuthContext(r)
	if ac == nil || ac.Superuser || level == nil {
		return true
	}
	if ac.HighestRole == nil || *level >= ac.HighestRole.Level {
		httputil.WriteErrorCode(w, http.StatusForbidden, httputil.CodeRoleManagementDenied,
			"Role level must be below your highest role level")
		return false
	}
	return true
}
