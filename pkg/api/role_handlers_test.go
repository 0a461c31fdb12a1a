package api

import (
	"net/http"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/assetguard/pkg/gate"
	"github.com/platinummonkey/assetguard/pkg/httputil"
	"github.com/platinummonkey/assetguard/pkg/rbac"
)

func TestServer_RoutesRegistered(t *testing.T) {
	f := newAPIFixture(t)

	tests := []struct {
		method string
		path   string
	}{
		{"GET", "/api/v1/roles"},
		{"POST", "/api/v1/roles"},
		{"GET", "/api/v1/roles/hierarchy"},
		{"PUT", "/api/v1/roles/3"},
		{"DELETE", "/api/v1/roles/3"},
		{"POST", "/api/v1/roles/3/clone"},
		{"GET", "/api/v1/users/7/roles"},
		{"POST", "/api/v1/users/7/roles"},
		{"DELETE", "/api/v1/users/7/roles/3"},
		{"PUT", "/api/v1/users/7/permissions"},
		{"DELETE", "/api/v1/users/7/permissions"},
		{"GET", "/api/v1/users/7/effective-permissions"},
		{"GET", "/api/v1/permissions"},
		{"POST", "/api/v1/permissions"},
		{"PATCH", "/api/v1/permissions/3"},
		{"POST", "/api/v1/authz/check"},
		{"GET", "/api/v1/me"},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			req, _ := http.NewRequest(tt.method, tt.path, nil)
			var match mux.RouteMatch
			assert.True(t, f.server.Router().Match(req, &match), "route %s %s should be registered", tt.method, tt.path)
		})
	}
}

func TestRoles_RequiresCredential(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(http.MethodGet, "/api/v1/roles", 0, nil)
	assertError(t, w, http.StatusUnauthorized, string(gate.CodeTokenRequired))
}

func TestRoles_List(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(http.MethodGet, "/api/v1/roles", viewerUser, nil)
	assertError(t, w, http.StatusForbidden, string(gate.CodePermissionDenied))
	assert.Equal(t, []string{"roles:read"}, errorBody(t, w).Missing)

	w = f.do(http.MethodGet, "/api/v1/roles", adminUser, nil)
	require.Equal(t, http.StatusOK, w.Code)
	roles := decode[[]rbac.Role](t, w)
	require.Len(t, roles, 5)
	assert.Equal(t, rbac.SuperuserRoleName, roles[0].Name)
}

func TestRoles_Hierarchy(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(http.MethodGet, "/api/v1/roles/hierarchy", managerUser, nil)
	require.Equal(t, http.StatusOK, w.Code)
	entries := decode[[]rbac.RoleHierarchyEntry](t, w)
	counts := map[string]int{}
	for _, e := range entries {
		counts[e.Role.Name] = e.UserCount
	}
	assert.Equal(t, 1, counts["ADMIN"])
	assert.Equal(t, 1, counts["VIEWER"])
	assert.Equal(t, 0, counts["TECHNICIAN"])
}

func TestRoles_GetByID(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(http.MethodGet, f.rolePath("VIEWER"), adminUser, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "VIEWER", decode[rbac.Role](t, w).Name)

	w = f.do(http.MethodGet, "/api/v1/roles/9999", adminUser, nil)
	assertError(t, w, http.StatusNotFound, httputil.CodeRoleNotFound)
}

func TestRoles_Create(t *testing.T) {
	f := newAPIFixture(t)
	level := 40

	w := f.do(http.MethodPost, "/api/v1/roles", adminUser, rbac.CreateRoleInput{
		Name:        "field auditor",
		Level:       &level,
		Permissions: []string{"equipment:read", "reports:export"},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	role := decode[rbac.Role](t, w)
	assert.Equal(t, "FIELD_AUDITOR", role.Name)
	require.NotNil(t, role.CreatedBy)
	assert.Equal(t, adminUser, *role.CreatedBy)

	w = f.do(http.MethodPost, "/api/v1/roles", adminUser, rbac.CreateRoleInput{Name: "FIELD_AUDITOR", Level: &level})
	assertError(t, w, http.StatusConflict, httputil.CodeDuplicateRole)

	w = f.do(http.MethodPost, "/api/v1/roles", adminUser, rbac.CreateRoleInput{Name: "BROKEN", Level: &level, Permissions: []string{"nocolon"}})
	assertError(t, w, http.StatusBadRequest, httputil.CodeInvalidPermissionKey)

	w = f.do(http.MethodPost, "/api/v1/roles", adminUser, rbac.CreateRoleInput{Name: "BAD NAME!", Level: &level})
	assertError(t, w, http.StatusBadRequest, httputil.CodeInvalidInput)

	w = f.do(http.MethodPost, "/api/v1/roles", managerUser, rbac.CreateRoleInput{Name: "NOPE", Level: &level})
	assertError(t, w, http.StatusForbidden, string(gate.CodePermissionDenied))
}

func TestRoles_CreateAboveOwnLevel(t *testing.T) {
	f := newAPIFixture(t)
	level := 95

	w := f.do(http.MethodPost, "/api/v1/roles", adminUser, rbac.CreateRoleInput{Name: "OVERLORD", Level: &level})
	assertError(t, w, http.StatusForbidden, httputil.CodeRoleManagementDenied)

	w = f.do(http.MethodPost, "/api/v1/roles", superUser, rbac.CreateRoleInput{Name: "OVERLORD", Level: &level})
	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestRoles_Update(t *testing.T) {
	f := newAPIFixture(t)
	level := 40
	w := f.do(http.MethodPost, "/api/v1/roles", adminUser, rbac.CreateRoleInput{Name: "AUDITOR", Level: &level})
	require.Equal(t, http.StatusCreated, w.Code)
	f.roles["AUDITOR"] = decode[rbac.Role](t, w).ID

	display := "Asset Auditor"
	perms := []string{"equipment:read"}
	w = f.do(http.MethodPut, f.rolePath("AUDITOR"), adminUser, rbac.UpdateRoleInput{DisplayName: &display, Permissions: &perms})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "Asset Auditor", decode[rbac.Role](t, w).DisplayName)

	// a manager at level 50 outranks the auditor but lacks roles:manage
	w = f.do(http.MethodPut, f.rolePath("AUDITOR"), managerUser, rbac.UpdateRoleInput{DisplayName: &display})
	assertError(t, w, http.StatusForbidden, string(gate.CodePermissionDenied))

	raised := 90
	w = f.do(http.MethodPut, f.rolePath("AUDITOR"), adminUser, rbac.UpdateRoleInput{Level: &raised})
	assertError(t, w, http.StatusForbidden, httputil.CodeRoleManagementDenied)
}

func TestRoles_UpdateSystemAndSenior(t *testing.T) {
	f := newAPIFixture(t)
	display := "Boss"

	w := f.do(http.MethodPut, f.rolePath("MANAGER"), adminUser, rbac.UpdateRoleInput{DisplayName: &display})
	assertError(t, w, http.StatusUnprocessableEntity, httputil.CodeSystemRoleImmutable)

	w = f.do(http.MethodPut, f.rolePath(rbac.SuperuserRoleName), adminUser, rbac.UpdateRoleInput{DisplayName: &display})
	assertError(t, w, http.StatusForbidden, httputil.CodeRoleManagementDenied)

	w = f.do(http.MethodPut, f.rolePath("ADMIN"), adminUser, rbac.UpdateRoleInput{DisplayName: &display})
	assertError(t, w, http.StatusForbidden, httputil.CodeRoleManagementDenied)

	w = f.do(http.MethodPut, f.rolePath("ADMIN"), superUser, rbac.UpdateRoleInput{DisplayName: &display})
	assertError(t, w, http.StatusUnprocessableEntity, httputil.CodeSystemRoleImmutable)
}

func TestRoles_Delete(t *testing.T) {
	f := newAPIFixture(t)
	level := 20
	w := f.do(http.MethodPost, "/api/v1/roles", adminUser, rbac.CreateRoleInput{Name: "INTERN", Level: &level})
	require.Equal(t, http.StatusCreated, w.Code)
	f.roles["INTERN"] = decode[rbac.Role](t, w).ID

	w = f.do(http.MethodPost, "/api/v1/users/50/roles", adminUser, map[string]interface{}{"role_id": f.roles["INTERN"]})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = f.do(http.MethodDelete, f.rolePath("INTERN"), adminUser, nil)
	assertError(t, w, http.StatusConflict, httputil.CodeRoleInUse)

	w = f.do(http.MethodDelete, "/api/v1/users/50/roles/"+itoa(f.roles["INTERN"]), adminUser, nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	w = f.do(http.MethodDelete, f.rolePath("INTERN"), adminUser, nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	w = f.do(http.MethodDelete, f.rolePath("INTERN"), adminUser, nil)
	assertError(t, w, http.StatusNotFound, httputil.CodeRoleNotFound)

	w = f.do(http.MethodDelete, f.rolePath("VIEWER"), adminUser, nil)
	assertError(t, w, http.StatusUnprocessableEntity, httputil.CodeSystemRoleImmutable)
}

func TestRoles_Clone(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(http.MethodPost, f.rolePath("MANAGER", "/clone"), adminUser, map[string]string{"name": "regional manager"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	clone := decode[rbac.Role](t, w)
	assert.Equal(t, "REGIONAL_MANAGER", clone.Name)
	assert.Equal(t, 50, clone.Level)
	assert.False(t, clone.IsSystem)

	w = f.do(http.MethodPost, f.rolePath("ADMIN", "/clone"), adminUser, map[string]string{"name": "ADMIN_TWO"})
	assertError(t, w, http.StatusForbidden, httputil.CodeRoleManagementDenied)

	w = f.do(http.MethodPost, "/api/v1/roles/9999/clone", superUser, map[string]string{"name": "GHOST"})
	assertError(t, w, http.StatusNotFound, httputil.CodeRoleNotFound)
}

func TestRoles_UnknownFieldsRejected(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(http.MethodPost, "/api/v1/roles", adminUser, map[string]interface{}{"name": "X", "is_system": true})
	assertError(t, w, http.StatusBadRequest, httputil.CodeInvalidInput)
}
