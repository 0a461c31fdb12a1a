package rbac

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/assetguard/pkg/audit"
	"github.com/platinummonkey/assetguard/pkg/cache"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err, "Failed to open test database")

	// every connection to :memory: is a separate database
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	_, err = RunMigrations(context.Background(), db, DialectSQLite)
	require.NoError(t, err, "Failed to run migrations")
	return db
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingAudit struct {
	mu     sync.Mutex
	events []*audit.Event
}

func (r *recordingAudit) Log(ctx context.Context, e *audit.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recordingAudit) Close() error { return nil }

func (r *recordingAudit) last() *audit.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) == 0 {
		return nil
	}
	return r.events[len(r.events)-1]
}

type fixture struct {
	t     *testing.T
	ctx   context.Context
	db    *sql.DB
	store *SQLStore
	cache *cache.MemoryCache
	clock *testClock
	audit *recordingAudit
	svc   *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db := setupTestDB(t)
	clock := newTestClock()
	c := cache.NewMemoryCache(&cache.Config{Shards: 4, Clock: clock.Now})
	t.Cleanup(func() { c.Close() })

	store := NewStore(db)
	rec := &recordingAudit{}
	svc := NewService(store,
		WithCache(c),
		WithClock(clock.Now),
		WithAuditLogger(rec),
	)

	return &fixture{
		t:     t,
		ctx:   context.Background(),
		db:    db,
		store: store,
		cache: c,
		clock: clock,
		audit: rec,
		svc:   svc,
	}
}

func (f *fixture) permission(key string) *Permission {
	f.t.Helper()
	k := MustParsePermissionKey(key)
	p, err := f.svc.CreatePermission(f.ctx, CreatePermissionInput{Resource: k.Resource, Action: k.Action})
	require.NoError(f.t, err)
	return p
}

func (f *fixture) role(name string, level int, perms ...string) *Role {
	f.t.Helper()
	role, err := f.svc.CreateRole(f.ctx, CreateRoleInput{Name: name, Level: &level, Permissions: perms})
	require.NoError(f.t, err)
	return role
}

func (f *fixture) assign(userID, roleID int64) *UserRole {
	f.t.Helper()
	ur, err := f.svc.AssignRole(f.ctx, userID, roleID, AssignOptions{})
	require.NoError(f.t, err)
	return ur
}

func (f *fixture) allowed(userID int64, key string) bool {
	f.t.Helper()
	k := MustParsePermissionKey(key)
	ok, err := f.svc.Resolver().HasPermission(f.ctx, userID, k.Resource, k.Action, "")
	require.NoError(f.t, err)
	return ok
}

func (f *fixture) effective(userID int64, key string) (EffectivePermission, bool) {
	f.t.Helper()
	entries, err := f.svc.Resolver().EffectivePermissions(f.ctx, userID)
	require.NoError(f.t, err)
	for _, e := range entries {
		if e.Key().String() == key {
			return e, true
		}
	}
	return EffectivePermission{}, false
}
