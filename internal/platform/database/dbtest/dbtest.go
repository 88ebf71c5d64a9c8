// Package dbtest opens migrated in-memory databases for tests.
package dbtest

import (
	"context"
	"database/sql"
	"testing"

	"hookgate/internal/platform/database"
)

// Open returns a migrated in-memory sqlite database. A single connection
// keeps every query on the same in-memory instance.
func Open(t testing.TB) *database.DB {
	t.Helper()
	sqlDB, err := sql.Open(database.DriverSQLite, ":memory:")
	if err != nil {
		t.Fatalf("Failed to open db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	db := database.Wrap(sqlDB, database.DriverSQLite)
	if err := database.Migrate(context.Background(), db); err != nil {
		t.Fatalf("Failed to migrate: %v", err)
	}
	return db
}
