package rbac

import (
	"context"
	"database/sql"
	"fmt"
)

// Dialect selects the DDL flavor used by migrations
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite3"
)

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	Postgres    string
	SQLite      string
}

// SQL returns the statement for a dialect
func (m Migration) SQL(d Dialect) string {
	if d == DialectSQLite {
		return m.SQLite
	}
	return m.Postgres
}

// GetMigrations returns all RBAC migrations
func GetMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create permissions table",
			Postgres: `
				CREATE TABLE IF NOT EXISTS permissions (
					id BIGSERIAL PRIMARY KEY,
					resource VARCHAR(100) NOT NULL,
					action VARCHAR(100) NOT NULL,
					scope VARCHAR(50) NOT NULL DEFAULT 'ALL',
					name VARCHAR(255) NOT NULL,
					description TEXT NOT NULL DEFAULT '',
					category VARCHAR(100) NOT NULL DEFAULT '',
					risk_level VARCHAR(20) NOT NULL DEFAULT 'LOW',
					requires_mfa BOOLEAN NOT NULL DEFAULT FALSE,
					is_system BOOLEAN NOT NULL DEFAULT FALSE,
					is_active BOOLEAN NOT NULL DEFAULT TRUE,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					UNIQUE(resource, action, scope)
				);

				CREATE INDEX IF NOT EXISTS idx_permissions_category ON permissions(category);
			`,
			SQLite: `
				CREATE TABLE IF NOT EXISTS permissions (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					resource TEXT NOT NULL,
					action TEXT NOT NULL,
					scope TEXT NOT NULL DEFAULT 'ALL',
					name TEXT NOT NULL,
					description TEXT NOT NULL DEFAULT '',
					category TEXT NOT NULL DEFAULT '',
					risk_level TEXT NOT NULL DEFAULT 'LOW',
					requires_mfa BOOLEAN NOT NULL DEFAULT 0,
					is_system BOOLEAN NOT NULL DEFAULT 0,
					is_active BOOLEAN NOT NULL DEFAULT 1,
					created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
					UNIQUE(resource, action, scope)
				);

				CREATE INDEX IF NOT EXISTS idx_permissions_category ON permissions(category);
			`,
		},
		{
			Version:     2,
			Description: "Create roles table",
			Postgres: `
				CREATE TABLE IF NOT EXISTS roles (
					id BIGSERIAL PRIMARY KEY,
					name VARCHAR(255) NOT NULL,
					display_name VARCHAR(255) NOT NULL,
					description TEXT NOT NULL DEFAULT '',
					level INTEGER NOT NULL DEFAULT 0,
					priority INTEGER NOT NULL DEFAULT 0,
					color VARCHAR(32) NOT NULL DEFAULT '',
					icon VARCHAR(64) NOT NULL DEFAULT '',
					is_system BOOLEAN NOT NULL DEFAULT FALSE,
					is_active BOOLEAN NOT NULL DEFAULT TRUE,
					parent_role_id BIGINT REFERENCES roles(id) ON DELETE SET NULL,
					created_by BIGINT,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					deleted_at TIMESTAMPTZ
				);

				CREATE UNIQUE INDEX IF NOT EXISTS idx_roles_name_live ON roles(name) WHERE deleted_at IS NULL;
				CREATE INDEX IF NOT EXISTS idx_roles_level ON roles(level DESC);
			`,
			SQLite: `
				CREATE TABLE IF NOT EXISTS roles (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					name TEXT NOT NULL,
					display_name TEXT NOT NULL,
					description TEXT NOT NULL DEFAULT '',
					level INTEGER NOT NULL DEFAULT 0,
					priority INTEGER NOT NULL DEFAULT 0,
					color TEXT NOT NULL DEFAULT '',
					icon TEXT NOT NULL DEFAULT '',
					is_system BOOLEAN NOT NULL DEFAULT 0,
					is_active BOOLEAN NOT NULL DEFAULT 1,
					parent_role_id INTEGER REFERENCES roles(id) ON DELETE SET NULL,
					created_by INTEGER,
					created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
					updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
					deleted_at TIMESTAMP
				);

				CREATE UNIQUE INDEX IF NOT EXISTS idx_roles_name_live ON roles(name) WHERE deleted_at IS NULL;
				CREATE INDEX IF NOT EXISTS idx_roles_level ON roles(level DESC);
			`,
		},
		{
			Version:     3,
			Description: "Create role_permissions table",
			Postgres: `
				CREATE TABLE IF NOT EXISTS role_permissions (
					id BIGSERIAL PRIMARY KEY,
					role_id BIGINT NOT NULL REFERENCES roles(id),
					permission_id BIGINT NOT NULL REFERENCES permissions(id),
					is_active BOOLEAN NOT NULL DEFAULT TRUE,
					granted_by BIGINT,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					UNIQUE(role_id, permission_id)
				);

				CREATE INDEX IF NOT EXISTS idx_role_permissions_permission_id ON role_permissions(permission_id);
			`,
			SQLite: `
				CREATE TABLE IF NOT EXISTS role_permissions (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					role_id INTEGER NOT NULL REFERENCES roles(id),
					permission_id INTEGER NOT NULL REFERENCES permissions(id),
					is_active BOOLEAN NOT NULL DEFAULT 1,
					granted_by INTEGER,
					created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
					UNIQUE(role_id, permission_id)
				);

				CREATE INDEX IF NOT EXISTS idx_role_permissions_permission_id ON role_permissions(permission_id);
			`,
		},
		{
			Version:     4,
			Description: "Create user_roles table",
			Postgres: `
				CREATE TABLE IF NOT EXISTS user_roles (
					id BIGSERIAL PRIMARY KEY,
					user_id BIGINT NOT NULL,
					role_id BIGINT NOT NULL REFERENCES roles(id),
					is_active BOOLEAN NOT NULL DEFAULT TRUE,
					is_primary BOOLEAN NOT NULL DEFAULT FALSE,
					expires_at TIMESTAMPTZ,
					assigned_by BIGINT,
					reason TEXT NOT NULL DEFAULT '',
					assigned_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE INDEX IF NOT EXISTS idx_user_roles_user_id ON user_roles(user_id) WHERE is_active;
				CREATE INDEX IF NOT EXISTS idx_user_roles_role_id ON user_roles(role_id) WHERE is_active;
			`,
			SQLite: `
				CREATE TABLE IF NOT EXISTS user_roles (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					user_id INTEGER NOT NULL,
					role_id INTEGER NOT NULL REFERENCES roles(id),
					is_active BOOLEAN NOT NULL DEFAULT 1,
					is_primary BOOLEAN NOT NULL DEFAULT 0,
					expires_at TIMESTAMP,
					assigned_by INTEGER,
					reason TEXT NOT NULL DEFAULT '',
					assigned_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
				);

				CREATE INDEX IF NOT EXISTS idx_user_roles_user_id ON user_roles(user_id);
				CREATE INDEX IF NOT EXISTS idx_user_roles_role_id ON user_roles(role_id);
			`,
		},
		{
			Version:     5,
			Description: "Create user_permissions table",
			Postgres: `
				CREATE TABLE IF NOT EXISTS user_permissions (
					id BIGSERIAL PRIMARY KEY,
					user_id BIGINT NOT NULL,
					permission_id BIGINT NOT NULL REFERENCES permissions(id),
					is_denied BOOLEAN NOT NULL DEFAULT FALSE,
					is_active BOOLEAN NOT NULL DEFAULT TRUE,
					expires_at TIMESTAMPTZ,
					granted_by BIGINT,
					reason TEXT NOT NULL DEFAULT '',
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE INDEX IF NOT EXISTS idx_user_permissions_user_id ON user_permissions(user_id) WHERE is_active;
			`,
			SQLite: `
				CREATE TABLE IF NOT EXISTS user_permissions (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					user_id INTEGER NOT NULL,
					permission_id INTEGER NOT NULL REFERENCES permissions(id),
					is_denied BOOLEAN NOT NULL DEFAULT 0,
					is_active BOOLEAN NOT NULL DEFAULT 1,
					expires_at TIMESTAMP,
					granted_by INTEGER,
					reason TEXT NOT NULL DEFAULT '',
					created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
				);

				CREATE INDEX IF NOT EXISTS idx_user_permissions_user_id ON user_permissions(user_id);
			`,
		},
	}
}

// RunMigrations executes all pending migrations and returns the versions applied
func RunMigrations(ctx context.Context, db *sql.DB, dialect Dialect) ([]int, error) {
	// Create migration tracking table
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS rbac_migrations (
			version INT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrations table: %w", err)
	}

	// Get applied migrations
	rows, err := db.QueryContext(ctx, "SELECT version FROM rbac_migrations ORDER BY version")
	if err != nil {
		return nil, fmt.Errorf("failed to query migrations: %w", err)
	}

	appliedVersions := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan migration version: %w", err)
		}
		appliedVersions[version] = true
	}
	rows.Close()

	var applied []int
	for _, migration := range GetMigrations() {
		if appliedVersions[migration.Version] {
			continue
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return applied, fmt.Errorf("failed to start transaction: %w", err)
		}

		if _, err := tx.ExecContext(ctx, migration.SQL(dialect)); err != nil {
			tx.Rollback()
			return applied, fmt.Errorf("failed to execute migration %d: %w", migration.Version, err)
		}

		if _, err := tx.ExecContext(ctx,
			"INSERT INTO rbac_migrations (version, description) VALUES ($1, $2)",
			migration.Version, migration.Description,
		); err != nil {
			tx.Rollback()
			return applied, fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return applied, fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
		}
		applied = append(applied, migration.Version)
	}

	return applied, nil
}
