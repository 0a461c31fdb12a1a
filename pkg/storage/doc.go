// Package storage opens and supervises the SQL connection that backs the
// authorization store.
//
// Two drivers are supported:
//
//	postgres  - github.com/lib/pq, the production backend
//	sqlite3   - github.com/mattn/go-sqlite3, for tests and single-node installs
//
// # Usage
//
//	mgr, err := storage.Open(ctx, storage.Config{
//		Driver: storage.DriverPostgres,
//		DSN:    "postgres://assetguard@localhost/assetguard?sslmode=disable",
//	})
//	if err != nil {
//		return err
//	}
//	defer mgr.Close()
//
//	store := rbac.NewStore(mgr.DB())
//
// An in-memory SQLite database lives only as long as its connection, so Open
// pins the pool to a single connection for ":memory:" DSNs.
package storage
