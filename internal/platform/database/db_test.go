package database_test

import (
	"context"
	"testing"

	"hookgate/internal/platform/database"
	"hookgate/internal/platform/database/dbtest"
)

func TestRebind(t *testing.T) {
	tests := []struct {
		driver string
		query  string
		want   string
	}{
		{database.DriverSQLite, "SELECT * FROM t WHERE a = ? AND b = ?", "SELECT * FROM t WHERE a = ? AND b = ?"},
		{database.DriverPostgres, "SELECT * FROM t WHERE a = ? AND b = ?", "SELECT * FROM t WHERE a = $1 AND b = $2"},
		{database.DriverPostgres, "SELECT 1", "SELECT 1"},
	}

	for _, tt := range tests {
		db := &database.DB{Driver: tt.driver}
		if got := db.Rebind(tt.query); got != tt.want {
			t.Errorf("Rebind(%q) [%s] = %q, want %q", tt.query, tt.driver, got, tt.want)
		}
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	db := dbtest.Open(t)
	ctx := context.Background()

	if err := database.Migrate(ctx, db); err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}

	var count int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations").Scan(&count); err != nil {
		t.Fatalf("count migrations: %v", err)
	}
	if count != 3 {
		t.Errorf("schema_migrations rows = %d, want 3", count)
	}

	for _, table := range []string{"webhook_configs", "webhook_events", "processing_attempts", "delivery_metrics", "processing_jobs", "security_audit_log", "delivery_metric_hours"} {
		rows, err := db.QueryContext(ctx, "SELECT 1 FROM "+table+" LIMIT 1")
		if err != nil {
			t.Errorf("table %s missing: %v", table, err)
			continue
		}
		rows.Close()
	}
}
