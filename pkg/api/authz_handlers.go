package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/assetguard/pkg/auth"
	"github.com/platinummonkey/assetguard/pkg/gate"
	"github.com/platinummonkey/assetguard/pkg/httputil"
	"github.com/platinummonkey/assetguard/pkg/middleware"
	"github.com/platinummonkey/assetguard/pkg/observability"
)

// AuthzHandlers exposes authorization decisions over HTTP
type AuthzHandlers struct {
	gate   *gate.Gate
	p      *protector
	logger *observability.Logger
}

// NewAuthzHandlers creates authorization handlers
func NewAuthzHandlers(g *gate.Gate, p *protector, logger *observability.Logger) *AuthzHandlers {
	return &AuthzHandlers{gate: g, p: p, logger: logger}
}

// RegisterRoutes registers authorization routes
func (h *AuthzHandlers) RegisterRoutes(router *mux.Router) {
	router.Handle("/me", h.p.wrap(gate.Authenticated(), h.me)).Methods("GET")
	router.Handle("/authz/check", h.p.wrap(gate.Authenticated(), h.check)).Methods("POST")
}

// me handles GET /me
func (h *AuthzHandlers) me(w http.ResponseWriter, r *http.Request) {
	_ = httputil.WriteJSON(w, http.StatusOK, middleware.GetAuthContext(r))
}

type checkRequest struct {
	UserID      int64     `json:"user_id,omitempty"`
	Mode        gate.Mode `json:"mode"`
	Permissions []string  `json:"permissions,omitempty"`
	Roles       []string  `json:"roles,omitempty"`
}

type checkResponse struct {
	UserID   int64    `json:"user_id"`
	Allowed  bool     `json:"allowed"`
	Code     string   `json:"code,omitempty"`
	Required []string `json:"required,omitempty"`
	Missing  []string `json:"missing,omitempty"`
}

// check handles POST /authz/check. Without user_id the caller's own context
// is evaluated; checking another user needs roles:read.
func (h *AuthzHandlers) check(w http.ResponseWriter, r *http.Request) {
	var req checkRequest
	if !httputil.DecodeJSONOrError(w, r, &req) {
		return
	}

	operands := req.Permissions
	if req.Mode == gate.ModeRole || req.Mode == gate.ModeAnyRole {
		operands = req.Roles
	}
	requirement, err := gate.ParseRequirement(req.Mode, operands)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	ac := middleware.GetAuthContext(r)
	if req.UserID != 0 && req.UserID != ac.UserID {
		if gerr := ac.Evaluate(permRolesRead); gerr != nil {
			middleware.WriteGateError(w, gerr)
			return
		}
		ac, err = h.gate.Load(r.Context(), &auth.Principal{UserID: req.UserID})
		if err != nil {
			httputil.WriteDomainError(w, r, h.logger, err)
			return
		}
	}

	resp := checkResponse{UserID: ac.UserID, Allowed: true}
	if gerr := ac.Evaluate(requirement); gerr != nil {
		resp.Allowed = false
		resp.Code = string(gerr.Code)
		resp.Required = gerr.Required
		resp.Missing = gerr.Missing
	}
	_ = httputil.WriteJSON(w, http.StatusOK, resp)
}
