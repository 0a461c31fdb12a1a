package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/assetguard/pkg/gate"
	"github.com/platinummonkey/assetguard/pkg/httputil"
	"github.com/platinummonkey/assetguard/pkg/observability"
	"github.com/platinummonkey/assetguard/pkg/rbac"
)

var (
	permRolesRead   = gate.Permission("roles", "read")
	permRolesManage = gate.Permission("roles", "manage")
	permRolesAssign = gate.Permission("roles", "assign")
)

// RoleHandlers handles role management HTTP requests
type RoleHandlers struct {
	svc    *rbac.Service
	p      *protector
	logger *observability.Logger
}

// NewRoleHandlers creates role handlers
func NewRoleHandlers(svc *rbac.Service, p *protector, logger *observability.Logger) *RoleHandlers {
	return &RoleHandlers{svc: svc, p: p, logger: logger}
}

// RegisterRoutes registers role routes
func (h *RoleHandlers) RegisterRoutes(router *mux.Router) {
	router.Handle("/roles", h.p.wrap(permRolesRead, h.listRoles)).Methods("GET")
	router.Handle("/roles", h.p.wrap(permRolesManage, h.createRole)).Methods("POST")
	router.Handle("/roles/hierarchy", h.p.wrap(permRolesRead, h.hierarchy)).Methods("GET")
	router.Handle("/roles/{id:[0-9]+}", h.p.wrap(permRolesRead, h.getRole)).Methods("GET")
	router.Handle("/roles/{id:[0-9]+}", h.p.wrap(permRolesManage, h.updateRole)).Methods("PUT")
	router.Handle("/roles/{id:[0-9]+}", h.p.wrap(permRolesManage, h.deleteRole)).Methods("DELETE")
	router.Handle("/roles/{id:[0-9]+}/clone", h.p.wrap(permRolesManage, h.cloneRole)).Methods("POST")
}

// listRoles handles GET /roles
func (h *RoleHandlers) listRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.svc.ListRoles(r.Context())
	if err != nil {
		httputil.WriteDomainError(w, r, h.logger, err)
		return
	}
	if roles == nil {
		roles = []rbac.Role{}
	}
	_ = httputil.WriteJSON(w, http.StatusOK, roles)
}

// hierarchy handles GET /roles/hierarchy
func (h *RoleHandlers) hierarchy(w http.ResponseWriter, r *http.Request) {
	entries, err := h.svc.GetRoleHierarchy(r.Context())
	if err != nil {
		httputil.WriteDomainError(w, r, h.logger, err)
		return
	}
	_ = httputil.WriteJSON(w, http.StatusOK, entries)
}

// getRole handles GET /roles/{id}
func (h *RoleHandlers) getRole(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.PathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	role, err := h.svc.GetRole(r.Context(), id)
	if err != nil {
		httputil.WriteDomainError(w, r, h.logger, err)
		return
	}
	_ = httputil.WriteJSON(w, http.StatusOK, role)
}

// createRole handles POST /roles
func (h *RoleHandlers) createRole(w http.ResponseWriter, r *http.Request) {
	var in rbac.CreateRoleInput
	if !httputil.DecodeJSONOrError(w, r, &in) {
		return
	}
	if !requireLevelBelowCaller(w, r, in.Level) {
		return
	}

	role, err := h.svc.CreateRole(r.Context(), in)
	if err != nil {
		httputil.WriteDomainError(w, r, h.logger, err)
		return
	}
	_ = httputil.WriteJSON(w, http.StatusCreated, role)
}

// updateRole handles PUT /roles/{id}
func (h *RoleHandlers) updateRole(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.PathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	var in rbac.UpdateRoleInput
	if !httputil.DecodeJSONOrError(w, r, &in) {
		return
	}
	if !requireOutrank(w, r, h.svc, h.logger, id) || !requireLevelBelowCaller(w, r, in.Level) {
		return
	}

	role, err := h.svc.UpdateRole(r.Context(), id, in)
	if err != nil {
		httputil.WriteDomainError(w, r, h.logger, err)
		return
	}
	_ = httputil.WriteJSON(w, http.StatusOK, role)
}

// deleteRole handles DELETE /roles/{id}
func (h *RoleHandlers) deleteRole(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.PathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	if !requireOutrank(w, r, h.svc, h.logger, id) {
		return
	}

	if err := h.svc.DeleteRole(r.Context(), id); err != nil {
		httputil.WriteDomainError(w, r, h.logger, err)
		return
	}
	httputil.WriteNoContent(w)
}

// cloneRole handles POST /roles/{id}/clone
func (h *RoleHandlers) cloneRole(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.PathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	var req struct {
		Name string `json:"name"`
	}
	if !httputil.DecodeJSONOrError(w, r, &req) {
		return
	}
	if !requireOutrank(w, r, h.svc, h.logger, id) {
		return
	}

	role, err := h.svc.CloneRole(r.Context(), id, req.Name, nil)
	if err != nil {
		httputil.WriteDomainError(w, r, h.logger, err)
		return
	}
	_ = httputil.WriteJSON(w, http.StatusCreated, role)
}
