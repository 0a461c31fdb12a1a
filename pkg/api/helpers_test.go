package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/assetguard/pkg/auth"
	"github.com/platinummonkey/assetguard/pkg/cache"
	"github.com/platinummonkey/assetguard/pkg/gate"
	"github.com/platinummonkey/assetguard/pkg/httputil"
	"github.com/platinummonkey/assetguard/pkg/middleware"
	"github.com/platinummonkey/assetguard/pkg/rbac"
)

// Users seeded by newAPIFixture
const (
	superUser   int64 = 1
	adminUser   int64 = 2
	viewerUser  int64 = 3
	managerUser int64 = 4
)

type apiFixture struct {
	t      *testing.T
	ctx    context.Context
	svc    *rbac.Service
	server *Server
	roles  map[string]int64
}

// tokenVerifier accepts "user-<id>" credentials
func tokenVerifier() auth.Verifier {
	return auth.VerifierFunc(func(ctx context.Context, token string) (*auth.Principal, error) {
		idStr, ok := strings.CutPrefix(token, "user-")
		if !ok {
			return nil, &auth.VerifyError{Code: auth.CodeInvalid, Err: errors.New("unknown token")}
		}
		id, err := strconv.ParseInt(idStr, 10, 64)
		if err != nil {
			return nil, &auth.VerifyError{Code: auth.CodeMalformed, Err: err}
		}
		return &auth.Principal{UserID: id, Username: "user" + idStr}, nil
	})
}

func newAPIFixture(t *testing.T, extra ...func(*Deps)) *apiFixture {
	t.Helper()
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

	f := &apiFixture{t: t, ctx: ctx, svc: svc, roles: map[string]int64{}}
	roles, err := svc.ListRoles(ctx)
	require.NoError(t, err)
	for _, r := range roles {
		f.roles[r.Name] = r.ID
	}

	for user, role := range map[int64]string{
		superUser:   rbac.SuperuserRoleName,
		adminUser:   "ADMIN",
		viewerUser:  "VIEWER",
		managerUser: "MANAGER",
	} {
		_, err := svc.AssignRole(ctx, user, f.roles[role], rbac.AssignOptions{IsPrimary: true})
		require.NoError(t, err)
	}

	g := gate.New(tokenVerifier(), svc.Resolver())
	deps := Deps{
		Service:    svc,
		Gate:       g,
		Authorizer: middleware.NewAuthorizer(g),
	}
	for _, fn := range extra {
		fn(&deps)
	}
	f.server = NewServer(deps)
	return f
}

// do sends a request as userID; zero sends no credential
func (f *apiFixture) do(method, path string, userID int64, body interface{}) *httptest.ResponseRecorder {
	f.t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(f.t, json.NewEncoder(&buf).Encode(body))
	}
	r := httptest.NewRequest(method, path, &buf)
	if userID != 0 {
		r.Header.Set("Authorization", "Bearer user-"+strconv.FormatInt(userID, 10))
	}
	w := httptest.NewRecorder()
	f.server.ServeHTTP(w, r)
	return w
}

func (f *apiFixture) rolePath(name string, suffix ...string) string {
	return "/api/v1/roles/" + strconv.FormatInt(f.roles[name], 10) + strings.Join(suffix, "")
}

func errorBody(t *testing.T, w *httptest.ResponseRecorder) httputil.ErrorBody {
	t.Helper()
	var body httputil.ErrorBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body), w.Body.String())
	return body
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func assertError(t *testing.T, w *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	require.Equal(t, status, w.Code, w.Body.String())
	require.Equal(t, code, errorBody(t, w).Error)
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
