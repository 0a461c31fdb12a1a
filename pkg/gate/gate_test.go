package gate

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"net/http"
	"sync"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/assetguard/pkg/audit"
	"github.com/platinummonkey/assetguard/pkg/auth"
	"github.com/platinummonkey/assetguard/pkg/cache"
	"github.com/platinummonkey/assetguard/pkg/observability"
	"github.com/platinummonkey/assetguard/pkg/rbac"
)

type fakeLoader struct {
	roles    []rbac.UserRole
	perms    []rbac.EffectivePermission
	rolesErr error
	permsErr error
}

func (f *fakeLoader) UserRoles(ctx context.Context, userID int64) ([]rbac.UserRole, error) {
	return f.roles, f.rolesErr
}

func (f *fakeLoader) EffectivePermissions(ctx context.Context, userID int64) ([]rbac.EffectivePermission, error) {
	return f.perms, f.permsErr
}

type capturingAudit struct {
	mu     sync.Mutex
	events []*audit.Event
}

func (c *capturingAudit) Log(ctx context.Context, e *audit.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
	return nil
}

func (c *capturingAudit) Close() error { return nil }

type failingAudit struct{}

func (failingAudit) Log(ctx context.Context, e *audit.Event) error { return errors.New("disk full") }
func (failingAudit) Close() error { return nil }

func staticVerifier(p *auth.Principal) auth.Verifier {
	return auth.VerifierFunc(func(ctx context.Context, token string) (*auth.Principal, error) {
		return p, nil
	})
}

func failingVerifier(code auth.VerifyErrorCode) auth.Verifier {
	return auth.VerifierFunc(func(ctx context.Context, token string) (*auth.Principal, error) {
		return nil, &auth.VerifyError{Code: code, Err: errors.New("rejected")}
	})
}

func userRole(id int64, name string, level int, primary bool) rbac.UserRole {
	return rbac.UserRole{
		UserID:    7,
		RoleID:    id,
		IsActive:  true,
		IsPrimary: primary,
		Role:      &rbac.Role{ID: id, Name: name, Level: level, IsActive: true},
	}
}

func grant(resource, action string) rbac.EffectivePermission {
	return rbac.EffectivePermission{Resource: resource, Action: action, Scope: rbac.ScopeAll, Source: rbac.SourceRole, Granted: true}
}

func deny(resource, action string) rbac.EffectivePermission {
	return rbac.EffectivePermission{Resource: resource, Action: action, Scope: rbac.ScopeAll, Source: rbac.SourceOverride}
}

func asGateError(t *testing.T, err error) *Error {
	t.Helper()
	var gerr *Error
	require.True(t, errors.As(err, &gerr), "expected *gate.Error, got %v", err)
	return gerr
}

func TestAuthorize_TokenRequired(t *testing.T) {
	g := New(staticVerifier(&auth.Principal{UserID: 7}), &fakeLoader{})

	_, err := g.Authorize(context.Background(), "", Authenticated())
	gerr := asGateError(t, err)
	assert.Equal(t, CodeTokenRequired, gerr.Code)
	assert.Equal(t, http.StatusUnauthorized, gerr.Class().HTTPStatus())
}

func TestAuthorize_VerifyFailures(t *testing.T) {
	tests := []struct {
		code auth.VerifyErrorCode
		want Code
	}{
		{auth.CodeExpired, CodeTokenExpired},
		{auth.CodeMalformed, CodeMalformedToken},
		{auth.CodeNotActive, CodeTokenNotActive},
		{auth.CodeInvalid, CodeInvalidToken},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			g := New(failingVerifier(tt.code), &fakeLoader{})
			_, err := g.Authorize(context.Background(), "tok", Authenticated())
			gerr := asGateError(t, err)
			assert.Equal(t, tt.want, gerr.Code)
			assert.Equal(t, ClassUnauthenticated, gerr.Class())
		})
	}
}

func TestAuthorize_PlainVerifierErrorIsInvalid(t *testing.T) {
	v := auth.VerifierFunc(func(ctx context.Context, token string) (*auth.Principal, error) {
		return nil, errors.New("boom")
	})
	_, err := New(v, &fakeLoader{}).Authorize(context.Background(), "tok", Authenticated())
	assert.Equal(t, CodeInvalidToken, asGateError(t, err).Code)
}

func TestAuthorize_MissingUserID(t *testing.T) {
	g := New(staticVerifier(&auth.Principal{Username: "ghost"}), &fakeLoader{})
	_, err := g.Authorize(context.Background(), "tok", Authenticated())
	assert.Equal(t, CodeInvalidToken, asGateError(t, err).Code)
}

func TestAuthorize_BuildsContext(t *testing.T) {
	loader := &fakeLoader{
		roles: []rbac.UserRole{
			userRole(2, "viewer", 10, true),
			userRole(1, "Admin", 90, false),
		},
		perms: []rbac.EffectivePermission{grant("Equipment", "Read"), grant("tickets", "create"), deny("tickets", "delete")},
	}
	g := New(staticVerifier(&auth.Principal{UserID: 7, Username: "jdoe"}), loader)

	ac, err := g.Authorize(context.Background(), "tok", Authenticated())
	require.NoError(t, err)

	assert.Equal(t, int64(7), ac.UserID)
	assert.Equal(t, "jdoe", ac.Username)
	assert.Equal(t, []string{"VIEWER", "ADMIN"}, ac.Roles)
	assert.Equal(t, []string{"equipment:read", "tickets:create"}, ac.Permissions)
	require.NotNil(t, ac.HighestRole)
	assert.Equal(t, rbac.RoleSummary{ID: 1, Name: "ADMIN", Level: 90}, *ac.HighestRole)
	require.NotNil(t, ac.Role)
	assert.Equal(t, "VIEWER", *ac.Role, "legacy role falls back to the primary role")
	assert.False(t, ac.Superuser)

	assert.True(t, ac.HasPermission("equipment", "read"))
	assert.Nil(t, ac.Evaluate(Permission("Equipment", "Read")))
}

func TestAuthorize_LegacyRoleClaimWins(t *testing.T) {
	loader := &fakeLoader{roles: []rbac.UserRole{userRole(2, "VIEWER", 10, true)}}
	g := New(staticVerifier(&auth.Principal{UserID: 7, Role: "manager"}), loader)

	ac, err := g.Authorize(context.Background(), "tok", Role("MANAGER"))
	require.NoError(t, err)
	require.NotNil(t, ac.Role)
	assert.Equal(t, "MANAGER", *ac.Role)
}

func TestAuthorize_NoRolesHasNullRole(t *testing.T) {
	g := New(staticVerifier(&auth.Principal{UserID: 7}), &fakeLoader{})

	ac, err := g.Authorize(context.Background(), "tok", Authenticated())
	require.NoError(t, err)
	assert.Nil(t, ac.Role)
	assert.Nil(t, ac.HighestRole)
	assert.Empty(t, ac.Roles)
	assert.Empty(t, ac.Permissions)
}

func TestAuthorize_PermissionDenied(t *testing.T) {
	rec := &capturingAudit{}
	loader := &fakeLoader{perms: []rbac.EffectivePermission{grant("equipment", "read")}}
	g := New(staticVerifier(&auth.Principal{UserID: 7}), loader, WithAuditLogger(rec))

	_, err := g.Authorize(context.Background(), "tok", AllPermissions(
		rbac.MustParsePermissionKey("equipment:read"),
		rbac.MustParsePermissionKey("equipment:delete"),
	))
	gerr := asGateError(t, err)
	assert.Equal(t, CodePermissionDenied, gerr.Code)
	assert.Equal(t, http.StatusForbidden, gerr.Class().HTTPStatus())
	assert.Equal(t, []string{"equipment:read", "equipment:delete"}, gerr.Required)
	assert.Equal(t, []string{"equipment:delete"}, gerr.Missing)

	require.Len(t, rec.events, 1)
	assert.Equal(t, audit.EventTypeAccessDenied, rec.events[0].EventType)
	assert.Equal(t, audit.EventStatusDenied, rec.events[0].Status)
}

func TestAuthorize_AuditWriteFailureIsLogged(t *testing.T) {
	var buf bytes.Buffer
	loader := &fakeLoader{}
	g := New(staticVerifier(&auth.Principal{UserID: 7}), loader,
		WithAuditLogger(failingAudit{}),
		WithLogger(observability.NewLogger(observability.InfoLevel, &buf)),
	)

	_, err := g.Authorize(context.Background(), "tok", Permission("equipment", "read"))
	assert.Equal(t, CodePermissionDenied, asGateError(t, err).Code)

	assert.Contains(t, buf.String(), "Failed to write audit event")
	assert.Contains(t, buf.String(), "disk full")
	assert.Contains(t, buf.String(), string(audit.EventTypeAccessDenied))
}

func TestAuthorize_SinglePermission(t *testing.T) {
	loader := &fakeLoader{perms: []rbac.EffectivePermission{grant("tickets", "*")}}
	g := New(staticVerifier(&auth.Principal{UserID: 7}), loader)

	_, err := g.Authorize(context.Background(), "tok", Permission("TICKETS", "update"))
	assert.NoError(t, err)

	_, err = g.Authorize(context.Background(), "tok", Permission("equipment", "update"))
	assert.Equal(t, CodePermissionDenied, asGateError(t, err).Code)
}

func TestAuthorize_DenyBeatsWildcard(t *testing.T) {
	loader := &fakeLoader{perms: []rbac.EffectivePermission{grant("*", "*"), deny("reports", "export")}}
	g := New(staticVerifier(&auth.Principal{UserID: 7}), loader)

	_, err := g.Authorize(context.Background(), "tok", Permission("reports", "export"))
	assert.Equal(t, CodePermissionDenied, asGateError(t, err).Code)

	_, err = g.Authorize(context.Background(), "tok", Permission("reports", "read"))
	assert.NoError(t, err)
}

func TestAuthorize_AnyPermission(t *testing.T) {
	loader := &fakeLoader{perms: []rbac.EffectivePermission{grant("reports", "read")}}
	g := New(staticVerifier(&auth.Principal{UserID: 7}), loader)

	_, err := g.Authorize(context.Background(), "tok", AnyPermission(
		rbac.MustParsePermissionKey("reports:export"),
		rbac.MustParsePermissionKey("reports:read"),
	))
	assert.NoError(t, err)

	_, err = g.Authorize(context.Background(), "tok", AnyPermission(rbac.MustParsePermissionKey("reports:export")))
	gerr := asGateError(t, err)
	assert.Equal(t, CodePermissionDenied, gerr.Code)
	assert.Equal(t, []string{"reports:export"}, gerr.Missing)
}

func TestAuthorize_RoleRequired(t *testing.T) {
	loader := &fakeLoader{roles: []rbac.UserRole{userRole(2, "TECHNICIAN", 30, false)}}
	g := New(staticVerifier(&auth.Principal{UserID: 7}), loader)

	_, err := g.Authorize(context.Background(), "tok", AnyRole("manager", "technician"))
	assert.NoError(t, err)

	_, err = g.Authorize(context.Background(), "tok", Role("ADMIN"))
	gerr := asGateError(t, err)
	assert.Equal(t, CodeRoleRequired, gerr.Code)
	assert.Equal(t, []string{"ADMIN"}, gerr.Required)
	assert.Equal(t, ClassForbidden, gerr.Class())
}

func TestAuthorize_SuperuserBypass(t *testing.T) {
	loader := &fakeLoader{roles: []rbac.UserRole{userRole(1, rbac.SuperuserRoleName, 100, true)}}
	g := New(staticVerifier(&auth.Principal{UserID: 1}), loader)

	ac, err := g.Authorize(context.Background(), "tok", AllPermissions(rbac.MustParsePermissionKey("anything:goes")))
	require.NoError(t, err)
	assert.True(t, ac.Superuser)

	_, err = g.Authorize(context.Background(), "tok", Role("AUDITOR"))
	assert.NoError(t, err)
}

func TestAuthorize_SuperuserFromLegacyClaim(t *testing.T) {
	g := New(staticVerifier(&auth.Principal{UserID: 1, Role: "super_admin"}), &fakeLoader{})

	ac, err := g.Authorize(context.Background(), "tok", Permission("settings", "update"))
	require.NoError(t, err)
	assert.True(t, ac.Superuser)
}

func TestAuthorize_SuperuserDisabled(t *testing.T) {
	loader := &fakeLoader{roles: []rbac.UserRole{userRole(1, rbac.SuperuserRoleName, 100, true)}}
	g := New(staticVerifier(&auth.Principal{UserID: 1}), loader, WithSuperuserRole(""))

	_, err := g.Authorize(context.Background(), "tok", Permission("settings", "update"))
	assert.Equal(t, CodePermissionDenied, asGateError(t, err).Code)
}

func TestAuthorize_LoadFailure(t *testing.T) {
	rec := &capturingAudit{}
	cause := errors.New("connection refused")
	g := New(staticVerifier(&auth.Principal{UserID: 7}), &fakeLoader{permsErr: cause}, WithAuditLogger(rec))

	_, err := g.Authorize(context.Background(), "tok", Authenticated())
	gerr := asGateError(t, err)
	assert.Equal(t, CodeLoadFailed, gerr.Code)
	assert.Equal(t, http.StatusInternalServerError, gerr.Class().HTTPStatus())
	assert.NotContains(t, gerr.Message, "connection refused")
	assert.ErrorIs(t, err, cause)

	require.Len(t, rec.events, 1)
	assert.Equal(t, audit.EventTypeLoadFailed, rec.events[0].EventType)
}

func TestParseRequirement(t *testing.T) {
	r, err := ParseRequirement(ModeAllOf, []string{"equipment:read", "Tickets:Create"})
	require.NoError(t, err)
	assert.Equal(t, ModeAllOf, r.Mode())
	assert.Equal(t, []string{"equipment:read", "tickets:create"}, r.Required())

	r, err = ParseRequirement(ModeAnyRole, []string{"admin", "manager"})
	require.NoError(t, err)
	assert.Equal(t, []string{"ADMIN", "MANAGER"}, r.Required())

	r, err = ParseRequirement("", nil)
	require.NoError(t, err)
	assert.Equal(t, ModeAuthenticated, r.Mode())

	_, err = ParseRequirement(ModePermission, []string{"a:b", "c:d"})
	assert.Error(t, err)

	_, err = ParseRequirement(ModeAllOf, []string{"nocolon"})
	assert.ErrorIs(t, err, rbac.ErrInvalidPermissionKey)

	_, err = ParseRequirement(ModeRole, nil)
	assert.Error(t, err)

	_, err = ParseRequirement("sometimes", nil)
	assert.Error(t, err)
}

// The gate over a real resolver, checking the Admin/Viewer scenario end to end.
func TestAuthorize_WithResolver(t *testing.T) {
	ctx := context.Background()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	_, err = rbac.RunMigrations(ctx, db, rbac.DialectSQLite)
	require.NoError(t, err)

	svc := rbac.NewService(rbac.NewStore(db), rbac.WithCache(cache.NewMemoryCache(nil)))
	_, err = svc.Bootstrap(ctx, rbac.DefaultCatalog())
	require.NoError(t, err)

	roles, err := svc.ListRoles(ctx)
	require.NoError(t, err)
	ids := map[string]int64{}
	for _, r := range roles {
		ids[r.Name] = r.ID
	}

	_, err = svc.AssignRole(ctx, 42, ids["VIEWER"], rbac.AssignOptions{IsPrimary: true})
	require.NoError(t, err)

	g := New(staticVerifier(&auth.Principal{UserID: 42, Username: "viewer"}), svc.Resolver())

	_, err = g.Authorize(ctx, "tok", Permission("equipment", "read"))
	require.NoError(t, err)

	_, err = g.Authorize(ctx, "tok", Permission("equipment", "delete"))
	assert.Equal(t, CodePermissionDenied, asGateError(t, err).Code)

	_, err = svc.AssignRole(ctx, 42, ids["ADMIN"], rbac.AssignOptions{})
	require.NoError(t, err)

	ac, err := g.Authorize(ctx, "tok", Permission("equipment", "delete"))
	require.NoError(t, err)
	assert.Equal(t, "ADMIN", ac.HighestRole.Name)
	assert.Equal(t, "VIEWER", *ac.Role)
}
