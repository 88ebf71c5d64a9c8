package audit

import (
	"context"
	"testing"

	"hookgate/internal/platform/database/dbtest"
	"hookgate/internal/platform/models"
)

func TestLogger_RecordAndList(t *testing.T) {
	db := dbtest.Open(t)
	l := NewLogger(db)

	l.Record(models.SecurityAuditEntry{Kind: KindViolation, IP: "203.0.113.5", Platform: "twitter", Rule: "SignatureMismatch", CreatedAt: 100})
	l.Record(models.SecurityAuditEntry{Kind: KindBlock, IP: "203.0.113.5", Actor: "admin", Detail: map[string]interface{}{"ttl_seconds": 3600.0}, CreatedAt: 200})
	l.Wait()

	entries, err := l.List(context.Background(), models.AuditFilter{IP: "203.0.113.5"})
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("Expected 2 entries, got %d", len(entries))
	}
	if entries[0].Kind != KindBlock || entries[0].Detail["ttl_seconds"] != 3600.0 {
		t.Errorf("Expected newest block entry first, got %+v", entries[0])
	}

	n, err := l.DeleteBefore(context.Background(), 150)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("Expected 1 deleted, got %d", n)
	}
}
