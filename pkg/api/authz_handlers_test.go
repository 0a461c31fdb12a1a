package api

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/assetguard/pkg/gate"
	"github.com/platinummonkey/assetguard/pkg/httputil"
	"github.com/platinummonkey/assetguard/pkg/middleware"
)

type meResponse struct {
	UserID      int64    `json:"user_id"`
	Username    string   `json:"username"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
	HighestRole *struct {
		Name  string `json:"name"`
		Level int    `json:"level"`
	} `json:"highest_role"`
	Role      *string `json:"role"`
	Superuser bool    `json:"superuser"`
}

func TestMe(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(http.MethodGet, "/api/v1/me", viewerUser, nil)
	require.Equal(t, http.StatusOK, w.Code)
	me := decode[meResponse](t, w)
	assert.Equal(t, viewerUser, me.UserID)
	assert.Equal(t, "user3", me.Username)
	assert.Equal(t, []string{"VIEWER"}, me.Roles)
	assert.Contains(t, me.Permissions, "equipment:read")
	assert.NotContains(t, me.Permissions, "equipment:delete")
	require.NotNil(t, me.HighestRole)
	assert.Equal(t, 10, me.HighestRole.Level)
	require.NotNil(t, me.Role)
	assert.Equal(t, "VIEWER", *me.Role)
	assert.False(t, me.Superuser)

	w = f.do(http.MethodGet, "/api/v1/me", superUser, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decode[meResponse](t, w).Superuser)

	w = f.do(http.MethodGet, "/api/v1/me", 555, nil)
	require.Equal(t, http.StatusOK, w.Code)
	me = decode[meResponse](t, w)
	assert.Nil(t, me.HighestRole)
	assert.Nil(t, me.Role)
	assert.Empty(t, me.Roles)
}

func TestAuthzCheck(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(http.MethodPost, "/api/v1/authz/check", viewerUser, map[string]interface{}{
		"mode":        "permission",
		"permissions": []string{"equipment:read"},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.True(t, decode[checkResponse](t, w).Allowed)

	w = f.do(http.MethodPost, "/api/v1/authz/check", viewerUser, map[string]interface{}{
		"mode":        "all",
		"permissions": []string{"equipment:read", "equipment:delete"},
	})
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[checkResponse](t, w)
	assert.False(t, resp.Allowed)
	assert.Equal(t, string(gate.CodePermissionDenied), resp.Code)
	assert.Equal(t, []string{"equipment:delete"}, resp.Missing)

	w = f.do(http.MethodPost, "/api/v1/authz/check", viewerUser, map[string]interface{}{
		"mode":  "any_role",
		"roles": []string{"admin", "viewer"},
	})
	assert.True(t, decode[checkResponse](t, w).Allowed)
}

func TestAuthzCheck_OtherUser(t *testing.T) {
	f := newAPIFixture(t)
	body := map[string]interface{}{
		"user_id":     viewerUser,
		"mode":        "permission",
		"permissions": []string{"equipment:delete"},
	}

	w := f.do(http.MethodPost, "/api/v1/authz/check", adminUser, body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode[checkResponse](t, w)
	assert.Equal(t, viewerUser, resp.UserID)
	assert.False(t, resp.Allowed)

	body["user_id"] = adminUser
	w = f.do(http.MethodPost, "/api/v1/authz/check", viewerUser, body)
	assertError(t, w, http.StatusForbidden, string(gate.CodePermissionDenied))
}

func TestAuthzCheck_BadRequest(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(http.MethodPost, "/api/v1/authz/check", viewerUser, map[string]interface{}{"mode": "sometimes"})
	assertError(t, w, http.StatusBadRequest, httputil.CodeInvalidInput)

	w = f.do(http.MethodPost, "/api/v1/authz/check", viewerUser, map[string]interface{}{"mode": "all", "permissions": []string{"broken"}})
	assertError(t, w, http.StatusBadRequest, httputil.CodeInvalidInput)
}

func TestServer_RateLimited(t *testing.T) {
	limiter := middleware.NewRateLimiter(&middleware.RateLimitConfig{RequestsPerWindow: 1, WindowDuration: time.Hour})
	f := newAPIFixture(t, func(d *Deps) {
		d.RateLimit = middleware.NewRateLimitMiddleware(limiter, limiter)
	})

	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/api/v1/me", viewerUser, nil).Code)
	w := f.do(http.MethodGet, "/api/v1/me", viewerUser, nil)
	assertError(t, w, http.StatusTooManyRequests, httputil.CodeRateLimited)

	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/api/v1/me", adminUser, nil).Code, "limits are per user")
}
