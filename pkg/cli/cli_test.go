package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/assetguard/pkg/auth"
)

const testSecret = "0123456789abcdef0123456789abcdef"

// captureOutput redirects command output for the duration of the test
func captureOutput(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	old := stdout
	stdout = &buf
	t.Cleanup(func() { stdout = old })
	return &buf
}

// testEnv points every command at a fresh SQLite file
func testEnv(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("ASSETGUARD_CONFIG", "")
	t.Setenv("ASSETGUARD_DB_DRIVER", "sqlite3")
	t.Setenv("ASSETGUARD_DB_DSN", "file:"+filepath.Join(dir, "assetguard.db"))
	t.Setenv("ASSETGUARD_JWT_SECRET", testSecret)
	t.Setenv("ASSETGUARD_AUDIT_FILE", filepath.Join(dir, "audit.log"))
	t.Setenv("ASSETGUARD_LOG_LEVEL", "error")
}

func run(t *testing.T, args ...string) error {
	t.Helper()
	return NewRootCommand().Execute(args)
}

func TestNewRootCommand(t *testing.T) {
	root := NewRootCommand()

	assert.Equal(t, "assetguard", root.Name)
	for _, name := range []string{"serve", "migrate", "bootstrap", "assign", "token", "check"} {
		assert.Contains(t, root.Subcommands, name)
	}
	assert.Len(t, root.Subcommands, 6)
}

func TestCommandUsage(t *testing.T) {
	out := captureOutput(t)

	require.NoError(t, run(t))
	usage := out.String()
	assert.Contains(t, usage, "Usage: assetguard <command> [args]")
	assert.Less(t, strings.Index(usage, "assign"), strings.Index(usage, "token"), "commands are listed alphabetically")

	out.Reset()
	require.NoError(t, run(t, "--help"))
	assert.Contains(t, out.String(), "Commands:")
}

func TestUnknownCommand(t *testing.T) {
	err := run(t, "frobnicate")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown command: frobnicate")
}

func TestMigrateBootstrapAssignCheck(t *testing.T) {
	testEnv(t)
	out := captureOutput(t)

	require.NoError(t, run(t, "migrate"))
	assert.Contains(t, out.String(), "Applied migrations: 1, 2, 3, 4, 5")

	out.Reset()
	require.NoError(t, run(t, "migrate"))
	assert.Contains(t, out.String(), "Schema is up to date")

	out.Reset()
	require.NoError(t, run(t, "bootstrap"))
	var first struct {
		PermissionsCreated int `json:"permissions_created"`
		RolesCreated       int `json:"roles_created"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &first))
	assert.Positive(t, first.PermissionsCreated)
	assert.Equal(t, 5, first.RolesCreated)

	out.Reset()
	require.NoError(t, run(t, "bootstrap"))
	assert.JSONEq(t, `{"permissions_created":0,"roles_created":0}`, out.String())

	out.Reset()
	err := run(t, "check", "--user", "7", "--permission", "equipment:read")
	assert.ErrorIs(t, err, ErrDenied)
	assert.Contains(t, out.String(), `"allowed": false`)

	out.Reset()
	require.NoError(t, run(t, "assign", "--user", "7", "--role", "viewer"))
	assert.Contains(t, out.String(), `"user_id": 7`)

	out.Reset()
	require.NoError(t, run(t, "check", "--user", "7", "--permission", "equipment:read"))
	var res checkResult
	require.NoError(t, json.Unmarshal(out.Bytes(), &res))
	assert.True(t, res.Allowed)
	assert.Equal(t, []string{"VIEWER"}, res.Roles)

	out.Reset()
	err = run(t, "check", "--user", "7", "--mode", "all", "--permission", "equipment:read,equipment:delete")
	assert.ErrorIs(t, err, ErrDenied)
	require.NoError(t, json.Unmarshal(out.Bytes(), &res))
	assert.Equal(t, []string{"equipment:delete"}, res.Missing)

	out.Reset()
	require.NoError(t, run(t, "check", "--user", "7", "--mode", "any_role", "--role", "admin,viewer"))

	assert.Error(t, run(t, "assign", "--user", "7", "--role", "no_such_role"))
	assert.Error(t, run(t, "assign", "--role", "viewer"))
	assert.Error(t, run(t, "check", "--user", "7", "--mode", "sometimes"))
}

func TestBootstrap_CatalogFile(t *testing.T) {
	testEnv(t)
	out := captureOutput(t)
	require.NoError(t, run(t, "migrate"))

	assert.Error(t, run(t, "bootstrap", "--catalog", filepath.Join(t.TempDir(), "missing.yaml")))

	out.Reset()
	require.NoError(t, run(t, "bootstrap", "--catalog", writeCatalog(t)))
	assert.JSONEq(t, `{"permissions_created":2,"roles_created":1}`, out.String())
}

func writeCatalog(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	content := `
permissions:
  - key: licenses:read
    name: Read licenses
    category: licenses
  - key: licenses:audit
    name: Audit licenses
    category: licenses
    risk_level: MEDIUM
roles:
  - name: LICENSE_AUDITOR
    display_name: License auditor
    level: 20
    permissions: [licenses:read, licenses:audit]
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestToken(t *testing.T) {
	testEnv(t)
	out := captureOutput(t)

	require.NoError(t, run(t, "token", "--user", "12", "--username", "alice", "--role", "manager"))
	token := strings.TrimSpace(out.String())
	require.NotEmpty(t, token)

	v, err := auth.NewJWTVerifier(auth.JWTConfig{Algorithm: auth.HS256, Secret: testSecret})
	require.NoError(t, err)
	p, err := v.Verify(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, int64(12), p.UserID)
	assert.Equal(t, "alice", p.Username)
	assert.Equal(t, "manager", p.Role)

	assert.Error(t, run(t, "token"))

	t.Setenv("ASSETGUARD_AUTH_MODE", "oidc")
	t.Setenv("ASSETGUARD_OIDC_ISSUER_URL", "https://id.example.com")
	t.Setenv("ASSETGUARD_OIDC_CLIENT_ID", "assetguard")
	err = run(t, "token", "--user", "12")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "needs auth mode jwt")
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"a:b", "c:d"}, splitList(" a:b, ,c:d "))
	assert.Nil(t, splitList(""))
}
