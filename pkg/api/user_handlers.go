package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/assetguard/pkg/gate"
	"github.com/platinummonkey/assetguard/pkg/httputil"
	"github.com/platinummonkey/assetguard/pkg/middleware"
	"github.com/platinummonkey/assetguard/pkg/observability"
	"github.com/platinummonkey/assetguard/pkg/rbac"
)

var permPermissionsManage = gate.Permission("permissions", "manage")

// UserHandlers handles per-user assignment and override requests
type UserHandlers struct {
	svc    *rbac.Service
	p      *protector
	logger *observability.Logger
}

// NewUserHandlers creates user handlers
func NewUserHandlers(svc *rbac.Service, p *protector, logger *observability.Logger) *UserHandlers {
	return &UserHandlers{svc: svc, p: p, logger: logger}
}

// RegisterRoutes registers user routes
func (h *UserHandlers) RegisterRoutes(router *mux.Router) {
	router.Handle("/users/{id:[0-9]+}/roles", h.p.wrap(permRolesRead, h.listUserRoles)).Methods("GET")
	router.Handle("/users/{id:[0-9]+}/roles", h.p.wrap(permRolesAssign, h.assignRole)).Methods("POST")
	router.Handle("/users/{id:[0-9]+}/roles/{roleID:[0-9]+}", h.p.wrap(permRolesAssign, h.removeRole)).Methods("DELETE")
	router.Handle("/users/{id:[0-9]+}/permissions", h.p.wrap(permPermissionsManage, h.setOverride)).Methods("PUT")
	router.Handle("/users/{id:[0-9]+}/permissions", h.p.wrap(permPermissionsManage, h.removeOverride)).Methods("DELETE")
	router.Handle("/users/{id:[0-9]+}/effective-permissions", h.p.wrap(gate.Authenticated(), h.effectivePermissions)).Methods("GET")
}

// listUserRoles handles GET /users/{id}/roles
func (h *UserHandlers) listUserRoles(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.PathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	roles, err := h.svc.GetUserRoles(r.Context(), userID)
	if err != nil {
		httputil.WriteDomainError(w, r, h.logger, err)
		return
	}
	_ = httputil.WriteJSON(w, http.StatusOK, roles)
}

type assignRoleRequest struct {
	RoleID    int64      `json:"role_id"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	Reason    string     `json:"reason,omitempty"`
	IsPrimary bool       `json:"is_primary"`
}

// assignRole handles POST /users/{id}/roles
func (h *UserHandlers) assignRole(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.PathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	var req assignRoleRequest
	if !httputil.DecodeJSONOrError(w, r, &req) {
		return
	}
	if req.RoleID <= 0 {
		httputil.WriteBadRequest(w, "role_id is required")
		return
	}
	if !requireOutrank(w, r, h.svc, h.logger, req.RoleID) {
		return
	}

	ur, err := h.svc.AssignRole(r.Context(), userID, req.RoleID, rbac.AssignOptions{
		ExpiresAt: req.ExpiresAt,
		Reason:    req.Reason,
		IsPrimary: req.IsPrimary,
	})
	if err != nil {
		httputil.WriteDomainError(w, r, h.logger, err)
		return
	}
	_ = httputil.WriteJSON(w, http.StatusCreated, ur)
}

// removeRole handles DELETE /users/{id}/roles/{roleID}
func (h *UserHandlers) removeRole(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.PathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	roleID, ok := httputil.PathInt64OrError(w, r, "roleID")
	if !ok {
		return
	}
	if !requireOutrank(w, r, h.svc, h.logger, roleID) {
		return
	}

	if err := h.svc.RemoveRole(r.Context(), userID, roleID); err != nil {
		httputil.WriteDomainError(w, r, h.logger, err)
		return
	}
	httputil.WriteNoContent(w)
}

type overrideRequest struct {
	Permission string     `json:"permission"`
	Denied     bool       `json:"denied"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	Reason     string     `json:"reason,omitempty"`
}

// setOverride handles PUT /users/{id}/permissions. Callers may only grant or
// deny keys they hold themselves.
func (h *UserHandlers) setOverride(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.PathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	var req overrideRequest
	if !httputil.DecodeJSONOrError(w, r, &req) {
		return
	}
	if !requireHeldPermission(w, r, req.Permission) {
		return
	}

	up, err := h.svc.SetUserPermission(r.Context(), userID, req.Permission, rbac.OverrideOptions{
		Denied:    req.Denied,
		ExpiresAt: req.ExpiresAt,
		Reason:    req.Reason,
	})
	if err != nil {
		httputil.WriteDomainError(w, r, h.logger, err)
		return
	}
	_ = httputil.WriteJSON(w, http.StatusOK, up)
}

// removeOverride handles DELETE /users/{id}/permissions?permission=resource:action
func (h *UserHandlers) removeOverride(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.PathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	pattern := r.URL.Query().Get("permission")
	if pattern == "" {
		httputil.WriteBadRequest(w, "permission query parameter is required")
		return
	}
	if !requireHeldPermission(w, r, pattern) {
		return
	}

	if err := h.svc.RemoveUserPermission(r.Context(), userID, pattern); err != nil {
		httputil.WriteDomainError(w, r, h.logger, err)
		return
	}
	httputil.WriteNoContent(w)
}

// effectivePermissions handles GET /users/{id}/effective-permissions. Callers
// may always read their own; reading another user's needs roles:read.
func (h *UserHandlers) effectivePermissions(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.PathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	ac := middleware.GetAuthContext(r)
	if ac.UserID != userID {
		if gerr := ac.Evaluate(permRolesRead); gerr != nil {
			middleware.WriteGateError(w, gerr)
			return
		}
	}

	entries, err := h.svc.Resolver().EffectivePermissions(r.Context(), userID)
	if err != nil {
		httputil.WriteDomainError(w, r, h.logger, err)
		return
	}
	if entries == nil {
		entries = []rbac.EffectivePermission{}
	}
	_ = httputil.WriteJSON(w, http.StatusOK, entries)
}
