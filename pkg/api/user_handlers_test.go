package api

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/assetguard/pkg/gate"
	"github.com/platinummonkey/assetguard/pkg/httputil"
	"github.com/platinummonkey/assetguard/pkg/rbac"
)

func TestUsers_AssignAndRemove(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(http.MethodPost, "/api/v1/users/20/roles", managerUser, map[string]interface{}{
		"role_id":    f.roles["VIEWER"],
		"reason":     "onboarding",
		"is_primary": true,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	ur := decode[rbac.UserRole](t, w)
	assert.Equal(t, int64(20), ur.UserID)
	assert.True(t, ur.IsPrimary)
	require.NotNil(t, ur.AssignedBy)
	assert.Equal(t, managerUser, *ur.AssignedBy)

	w = f.do(http.MethodPost, "/api/v1/users/20/roles", managerUser, map[string]interface{}{"role_id": f.roles["VIEWER"]})
	assertError(t, w, http.StatusConflict, httputil.CodeDuplicateAssignment)

	w = f.do(http.MethodGet, "/api/v1/users/20/roles", managerUser, nil)
	require.Equal(t, http.StatusOK, w.Code)
	roles := decode[[]rbac.UserRole](t, w)
	require.Len(t, roles, 1)
	require.NotNil(t, roles[0].Role)
	assert.Equal(t, "VIEWER", roles[0].Role.Name)

	w = f.do(http.MethodDelete, "/api/v1/users/20/roles/"+itoa(f.roles["VIEWER"]), managerUser, nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	w = f.do(http.MethodDelete, "/api/v1/users/20/roles/"+itoa(f.roles["VIEWER"]), managerUser, nil)
	assertError(t, w, http.StatusNotFound, httputil.CodeAssignmentNotFound)
}

func TestUsers_AssignRequiresOutranking(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(http.MethodPost, "/api/v1/users/20/roles", managerUser, map[string]interface{}{"role_id": f.roles["ADMIN"]})
	assertError(t, w, http.StatusForbidden, httputil.CodeRoleManagementDenied)

	w = f.do(http.MethodPost, "/api/v1/users/20/roles", managerUser, map[string]interface{}{"role_id": f.roles["MANAGER"]})
	assertError(t, w, http.StatusForbidden, httputil.CodeRoleManagementDenied)

	w = f.do(http.MethodPost, "/api/v1/users/20/roles", superUser, map[string]interface{}{"role_id": f.roles[rbac.SuperuserRoleName]})
	assert.Equal(t, http.StatusCreated, w.Code)

	w = f.do(http.MethodPost, "/api/v1/users/20/roles", viewerUser, map[string]interface{}{"role_id": f.roles["VIEWER"]})
	assertError(t, w, http.StatusForbidden, string(gate.CodePermissionDenied))
}

func TestUsers_AssignValidation(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(http.MethodPost, "/api/v1/users/20/roles", adminUser, map[string]interface{}{})
	assertError(t, w, http.StatusBadRequest, httputil.CodeInvalidInput)

	past := time.Now().Add(-time.Hour)
	w = f.do(http.MethodPost, "/api/v1/users/20/roles", adminUser, map[string]interface{}{"role_id": f.roles["VIEWER"], "expires_at": past})
	assertError(t, w, http.StatusBadRequest, httputil.CodeInvalidInput)

	w = f.do(http.MethodPost, "/api/v1/users/20/roles", superUser, map[string]interface{}{"role_id": 9999})
	assertError(t, w, http.StatusNotFound, httputil.CodeRoleNotFound)
}

func TestUsers_Overrides(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(http.MethodPut, "/api/v1/users/3/permissions", adminUser, map[string]interface{}{
		"permission": "equipment:delete",
		"reason":     "cleanup week",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = f.do(http.MethodPut, "/api/v1/users/3/permissions", adminUser, map[string]interface{}{
		"permission": "reports:read",
		"denied":     true,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = f.do(http.MethodGet, "/api/v1/users/3/effective-permissions", viewerUser, nil)
	require.Equal(t, http.StatusOK, w.Code)
	byKey := map[string]rbac.EffectivePermission{}
	for _, e := range decode[[]rbac.EffectivePermission](t, w) {
		byKey[e.Resource+":"+e.Action] = e
	}
	assert.True(t, byKey["equipment:delete"].Granted)
	assert.Equal(t, rbac.SourceDirect, byKey["equipment:delete"].Source)
	assert.False(t, byKey["reports:read"].Granted)
	assert.Equal(t, rbac.SourceOverride, byKey["reports:read"].Source)
	assert.Equal(t, rbac.SourceRole, byKey["equipment:read"].Source)

	w = f.do(http.MethodDelete, "/api/v1/users/3/permissions?permission=equipment:delete", adminUser, nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	w = f.do(http.MethodDelete, "/api/v1/users/3/permissions?permission=equipment:delete", adminUser, nil)
	assertError(t, w, http.StatusNotFound, httputil.CodeOverrideNotFound)

	w = f.do(http.MethodDelete, "/api/v1/users/3/permissions", adminUser, nil)
	assertError(t, w, http.StatusBadRequest, httputil.CodeInvalidInput)

	w = f.do(http.MethodPut, "/api/v1/users/3/permissions", adminUser, map[string]interface{}{"permission": "bogus"})
	assertError(t, w, http.StatusBadRequest, httputil.CodeInvalidPermissionKey)

	w = f.do(http.MethodPut, "/api/v1/users/3/permissions", superUser, map[string]interface{}{"permission": "unknown:thing"})
	assertError(t, w, http.StatusNotFound, httputil.CodePermissionNotFound)

	w = f.do(http.MethodPut, "/api/v1/users/3/permissions", managerUser, map[string]interface{}{"permission": "equipment:delete"})
	assertError(t, w, http.StatusForbidden, string(gate.CodePermissionDenied))
}

func TestUsers_OverridesLimitedToHeldPermissions(t *testing.T) {
	f := newAPIFixture(t)

	const catalogAdmin int64 = 30
	level := 20
	role, err := f.svc.CreateRole(f.ctx, rbac.CreateRoleInput{
		Name:        "CATALOG_ADMIN",
		Level:       &level,
		Permissions: []string{"permissions:manage", "equipment:read"},
	})
	require.NoError(t, err)
	_, err = f.svc.AssignRole(f.ctx, catalogAdmin, role.ID, rbac.AssignOptions{IsPrimary: true})
	require.NoError(t, err)

	// No self-escalation to keys the caller lacks
	w := f.do(http.MethodPut, "/api/v1/users/30/permissions", catalogAdmin, map[string]interface{}{"permission": "roles:manage"})
	assertError(t, w, http.StatusForbidden, httputil.CodeOverrideDenied)
	assert.Contains(t, w.Body.String(), "roles:manage")

	w = f.do(http.MethodPut, "/api/v1/users/3/permissions", catalogAdmin, map[string]interface{}{"permission": "equipment:delete", "denied": true})
	assertError(t, w, http.StatusForbidden, httputil.CodeOverrideDenied)

	w = f.do(http.MethodPut, "/api/v1/users/3/permissions", adminUser, map[string]interface{}{"permission": "*:*"})
	assertError(t, w, http.StatusForbidden, httputil.CodeOverrideDenied)

	ok, err := f.svc.Resolver().HasPermission(f.ctx, catalogAdmin, "roles", "manage", "")
	require.NoError(t, err)
	assert.False(t, ok)

	// Held keys may be granted or denied
	w = f.do(http.MethodPut, "/api/v1/users/3/permissions", catalogAdmin, map[string]interface{}{"permission": "permissions:manage"})
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = f.do(http.MethodPut, "/api/v1/users/3/permissions", catalogAdmin, map[string]interface{}{"permission": "equipment:read", "denied": true})
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// Removal follows the same rule
	w = f.do(http.MethodPut, "/api/v1/users/3/permissions", superUser, map[string]interface{}{"permission": "reports:export"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = f.do(http.MethodDelete, "/api/v1/users/3/permissions?permission=reports:export", catalogAdmin, nil)
	assertError(t, w, http.StatusForbidden, httputil.CodeOverrideDenied)

	w = f.do(http.MethodPut, "/api/v1/users/3/permissions", superUser, map[string]interface{}{"permission": "*:*"})
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestUsers_EffectivePermissionsVisibility(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(http.MethodGet, "/api/v1/users/2/effective-permissions", viewerUser, nil)
	assertError(t, w, http.StatusForbidden, string(gate.CodePermissionDenied))

	w = f.do(http.MethodGet, "/api/v1/users/3/effective-permissions", managerUser, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = f.do(http.MethodGet, "/api/v1/users/777/effective-permissions", adminUser, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, "[]", w.Body.String())
}
