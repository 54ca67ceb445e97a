package onboarding

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/stridelab/coach-backend/internal/data/repos/testutil"
	types "github.com/stridelab/coach-backend/internal/domain"
	"github.com/stridelab/coach-backend/internal/pkg/dbctx"
)

func TestRunLedgerLifecycle(t *testing.T) {
	db := testutil.DB(t)
	repo := NewRunRepo(db, testutil.Logger(t))
	dbc := dbctx.New(context.Background())
	userID := uuid.New()

	run, err := repo.EnsureForUser(dbc, userID)
	if err != nil {
		t.Fatalf("EnsureForUser: %v", err)
	}
	if run.Status != types.RunPending {
		t.Fatalf("fresh run status = %s, want pending", run.Status)
	}

	// Ensure is idempotent, same row comes back.
	again, err := repo.EnsureForUser(dbc, userID)
	if err != nil {
		t.Fatalf("EnsureForUser again: %v", err)
	}
	if again.ID != run.ID {
		t.Fatalf("second Ensure created a new row: %s vs %s", again.ID, run.ID)
	}

	moved, err := repo.MarkStarted(dbc, userID)
	if err != nil || !moved {
		t.Fatalf("MarkStarted: moved=%v err=%v", moved, err)
	}
	// Completed requires started; a second MarkStarted must not fire.
	moved, err = repo.MarkStarted(dbc, userID)
	if err != nil {
		t.Fatalf("MarkStarted twice: %v", err)
	}
	if moved {
		t.Fatalf("MarkStarted moved a non-pending run")
	}

	moved, err = repo.MarkCompleted(dbc, userID)
	if err != nil || !moved {
		t.Fatalf("MarkCompleted: moved=%v err=%v", moved, err)
	}

	got, err := repo.GetByUserID(dbc, userID)
	if err != nil {
		t.Fatalf("GetByUserID: %v", err)
	}
	if got.Status != types.RunCompleted || got.CompletedAt == nil || got.StartedAt == nil {
		t.Fatalf("completed run = %+v", got)
	}
}

func TestRunLedgerFailAndRestart(t *testing.T) {
	db := testutil.DB(t)
	repo := NewRunRepo(db, testutil.Logger(t))
	dbc := dbctx.New(context.Background())
	userID := uuid.New()

	if _, err := repo.EnsureForUser(dbc, userID); err != nil {
		t.Fatalf("EnsureForUser: %v", err)
	}
	if _, err := repo.MarkStarted(dbc, userID); err != nil {
		t.Fatalf("MarkStarted: %v", err)
	}
	moved, err := repo.MarkFailed(dbc, userID, "generation blew up")
	if err != nil || !moved {
		t.Fatalf("MarkFailed: moved=%v err=%v", moved, err)
	}

	got, _ := repo.GetByUserID(dbc, userID)
	if got.Status != types.RunFailed || got.FailureReason == "" {
		t.Fatalf("failed run = %+v", got)
	}

	moved, err = repo.Restart(dbc, userID)
	if err != nil || !moved {
		t.Fatalf("Restart: moved=%v err=%v", moved, err)
	}
	got, _ = repo.GetByUserID(dbc, userID)
	if got.Status != types.RunStarted {
		t.Fatalf("restarted run status = %s, want started", got.Status)
	}
	if got.CompletedAt != nil || got.FailureReason != "" {
		t.Fatalf("restart must clear terminal fields: %+v", got)
	}

	// Restart only applies to terminal runs.
	moved, err = repo.Restart(dbc, userID)
	if err != nil {
		t.Fatalf("Restart on started run: %v", err)
	}
	if moved {
		t.Fatalf("Restart moved a started run")
	}
}
