package db

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib" // driver: pgx
	_ "modernc.org/sqlite"             // driver: sqlite
)

type Driver string

const (
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
)

// Open opens a DB and ensures schema exists.
func Open(ctx context.Context, driver Driver, dsn string) (*sql.DB, error) {
	var drvName string
	switch driver {
	case DriverSQLite:
		drvName = "sqlite" // modernc driver
		if dsn == "" {
			dsn = "file:uploadnest.db?cache=shared&mode=rwc&_pragma=busy_timeout(5000)"
		}
	case DriverPostgres:
		drvName = "pgx" // pgx stdlib driver
		if dsn == "" {
			dsn = "postgres://localhost:5432/uploadnest?sslmode=disable"
		}
	default:
		return nil, fmt.Errorf("unsupported driver: %s", driver)
	}

	db, err := sql.Open(drvName, dsn)
	if err != nil {
		return nil, err
	}
	if driver == DriverSQLite {
		// a single writer avoids SQLITE_BUSY under concurrent batch inserts
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	if err := ensureSchema(ctx, db, driver); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return db, nil
}

func ensureSchema(ctx context.Context, db *sql.DB, driver Driver) error {
	var stmts []string
	switch driver {
	case DriverSQLite:
		stmts = schemaSQLite
	case DriverPostgres:
		stmts = schemaPostgres
	}
	for _, s := range stmts {
		if _, err := db.ExecContext(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

var schemaSQLite = []string{
	`CREATE TABLE IF NOT EXISTS files (
  id TEXT PRIMARY KEY,
  owner_id TEXT NOT NULL,
  workspace_id TEXT NOT NULL DEFAULT '',
  storage_key TEXT NOT NULL UNIQUE,
  original_name TEXT NOT NULL,
  size INTEGER NOT NULL,
  ext TEXT NOT NULL DEFAULT '',
  mime_type TEXT NOT NULL,
  upload_source TEXT NOT NULL DEFAULT 'WEB',
  created_at INTEGER NOT NULL          -- unix millis
)`,
	`CREATE INDEX IF NOT EXISTS files_owner_created ON files (owner_id, created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS api_keys (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  workspace_id TEXT NOT NULL DEFAULT '',
  key_type TEXT NOT NULL,              -- live | test
  display_key TEXT NOT NULL,
  hashed_key TEXT NOT NULL,
  created_at INTEGER NOT NULL,
  last_used_at INTEGER
)`,
	`CREATE INDEX IF NOT EXISTS api_keys_display ON api_keys (display_key)`,
}

var schemaPostgres = []string{
	`CREATE TABLE IF NOT EXISTS files (
  id TEXT PRIMARY KEY,
  owner_id TEXT NOT NULL,
  workspace_id TEXT NOT NULL DEFAULT '',
  storage_key TEXT NOT NULL UNIQUE,
  original_name TEXT NOT NULL,
  size BIGINT NOT NULL,
  ext TEXT NOT NULL DEFAULT '',
  mime_type TEXT NOT NULL,
  upload_source TEXT NOT NULL DEFAULT 'WEB',
  created_at BIGINT NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS files_owner_created ON files (owner_id, created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS api_keys (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  workspace_id TEXT NOT NULL DEFAULT '',
  key_type TEXT NOT NULL,
  display_key TEXT NOT NULL,
  hashed_key TEXT NOT NULL,
  created_at BIGINT NOT NULL,
  last_used_at BIGINT
)`,
	`CREATE INDEX IF NOT EXISTS api_keys_display ON api_keys (display_key)`,
}
