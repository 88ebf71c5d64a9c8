package repositories

import (
	"context"
	"testing"

	"hookgate/internal/platform/database/dbtest"
	"hookgate/internal/platform/models"
)

func TestAttemptRepository_CloseOnce(t *testing.T) {
	db := dbtest.Open(t)
	repo := NewAttemptRepository(db)
	ctx := context.Background()

	a, err := repo.Start(ctx, "evt_1", "facebook", 100)
	if err != nil {
		t.Fatal(err)
	}
	if err := repo.Close(ctx, a, models.AttemptCompleted, `{"ok":true}`, "", 101); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := repo.Close(ctx, a, models.AttemptFailed, "", "late", 102); err != ErrNotFound {
		t.Errorf("Expected closed attempt to be immutable, got %v", err)
	}

	attempts, err := repo.ListByEvent(ctx, "evt_1")
	if err != nil {
		t.Fatal(err)
	}
	if len(attempts) != 1 || attempts[0].Status != models.AttemptCompleted || attempts[0].CompletedAt == nil {
		t.Errorf("Unexpected attempts %+v", attempts)
	}
}
