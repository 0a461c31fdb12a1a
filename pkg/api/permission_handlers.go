package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/assetguard/pkg/gate"
	"github.com/platinummonkey/assetguard/pkg/httputil"
	"github.com/platinummonkey/assetguard/pkg/observability"
	"github.com/platinummonkey/assetguard/pkg/rbac"
)

var permPermissionsRead = gate.Permission("permissions", "read")

// PermissionHandlers handles permission catalog requests
type PermissionHandlers struct {
	svc    *rbac.Service
	p      *protector
	logger *observability.Logger
}

// NewPermissionHandlers creates catalog handlers
func NewPermissionHandlers(svc *rbac.Service, p *protector, logger *observability.Logger) *PermissionHandlers {
	return &PermissionHandlers{svc: svc, p: p, logger: logger}
}

// RegisterRoutes registers catalog routes
func (h *PermissionHandlers) RegisterRoutes(router *mux.Router) {
	router.Handle("/permissions", h.p.wrap(permPermissionsRead, h.listPermissions)).Methods("GET")
	router.Handle("/permissions", h.p.wrap(permPermissionsManage, h.createPermission)).Methods("POST")
	router.Handle("/permissions/{id:[0-9]+}", h.p.wrap(permPermissionsManage, h.togglePermission)).Methods("PATCH")
}

// listPermissions handles GET /permissions?active_only=true&group=category
func (h *PermissionHandlers) listPermissions(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("group") == "category" {
		groups, err := h.svc.GetPermissionsByCategory(r.Context())
		if err != nil {
			httputil.WriteDomainError(w, r, h.logger, err)
			return
		}
		_ = httputil.WriteJSON(w, http.StatusOK, groups)
		return
	}

	activeOnly, err := httputil.QueryBool(r, "active_only", false)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	perms, err := h.svc.ListPermissions(r.Context(), activeOnly)
	if err != nil {
		httputil.WriteDomainError(w, r, h.logger, err)
		return
	}
	if perms == nil {
		perms = []rbac.Permission{}
	}
	_ = httputil.WriteJSON(w, http.StatusOK, perms)
}

// createPermission handles POST /permissions
func (h *PermissionHandlers) createPermission(w http.ResponseWriter, r *http.Request) {
	var in rbac.CreatePermissionInput
	if !httputil.DecodeJSONOrError(w, r, &in) {
		return
	}

	perm, err := h.svc.CreatePermission(r.Context(), in)
	if err != nil {
		httputil.WriteDomainError(w, r, h.logger, err)
		return
	}
	_ = httputil.WriteJSON(w, http.StatusCreated, perm)
}

// togglePermission handles PATCH /permissions/{id} with {"is_active": bool}
func (h *PermissionHandlers) togglePermission(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.PathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	var req struct {
		IsActive *bool `json:"is_active"`
	}
	if !httputil.DecodeJSONOrError(w, r, &req) {
		return
	}
	if req.IsActive == nil {
		httputil.WriteBadRequest(w, "is_active is required")
		return
	}

	if err := h.svc.SetPermissionActive(r.Context(), id, *req.IsActive); err != nil {
		httputil.WriteDomainError(w, r, h.logger, err)
		return
	}
	httputil.WriteNoContent(w)
}
