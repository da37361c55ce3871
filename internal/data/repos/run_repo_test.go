package repos

import (
	"context"
	"testing"
	"time"

	"github.com/boardflow/orchestrator/internal/data/repos/testutil"
	"github.com/boardflow/orchestrator/internal/domain"
	"github.com/boardflow/orchestrator/internal/platform/dbctx"
)

func TestRunRepoCreateAndUpdate(t *testing.T) {
	db := testutil.DB(t)
	repo := NewRunRepo(db, testutil.Logger(t))
	dbc := dbctx.Context{Ctx: context.Background()}

	run := &domain.Run{TaskID: 1, ExternalItemID: "item-1", Status: domain.RunPending}
	if err := repo.Create(dbc, run); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := repo.GetByID(dbc, run.ID)
	if err != nil || got == nil {
		t.Fatalf("GetByID: err=%v got=%v", err, got)
	}

	if err := repo.UpdateFields(dbc, run.ID, map[string]interface{}{"status": domain.RunCanceled}); err != nil {
		t.Fatalf("UpdateFields: %v", err)
	}

	updated, err := repo.UpdateFieldsUnlessStatus(dbc, run.ID, []domain.RunStatus{domain.RunCanceled}, map[string]interface{}{
		"status": domain.RunRunning,
	})
	if err != nil {
		t.Fatalf("UpdateFieldsUnlessStatus: %v", err)
	}
	if updated {
		t.Fatalf("UpdateFieldsUnlessStatus: expected no-op against canceled run")
	}

	got, _ = repo.GetByID(dbc, run.ID)
	if got.Status != domain.RunCanceled {
		t.Fatalf("expected status to remain canceled, got %q", got.Status)
	}
}

// TestRunRepoClaimNextRunnable exercises SELECT ... FOR UPDATE SKIP LOCKED,
// which sqlite does not support, so it needs a real Postgres instance.
func TestRunRepoClaimNextRunnable(t *testing.T) {
	testutil.RequiresPostgres(t)
	db := testutil.DB(t)
	repo := NewRunRepo(db, testutil.Logger(t))
	dbc := dbctx.Context{Ctx: context.Background()}

	now := time.Now()
	pending := &domain.Run{TaskID: 1, ExternalItemID: "item-1", Status: domain.RunPending, CreatedAt: now.Add(-time.Hour)}
	if err := repo.Create(dbc, pending); err != nil {
		t.Fatalf("Create: %v", err)
	}

	claimed, err := repo.ClaimNextRunnable(dbc, 3, time.Minute, time.Hour)
	if err != nil {
		t.Fatalf("ClaimNextRunnable: %v", err)
	}
	if claimed == nil || claimed.ID != pending.ID {
		t.Fatalf("ClaimNextRunnable: expected to claim pending run")
	}

	got, _ := repo.GetByID(dbc, pending.ID)
	if got.Status != domain.RunRunning {
		t.Fatalf("expected claimed run to be running, got %q", got.Status)
	}
	if got.Attempt != 2 {
		t.Fatalf("expected attempt incremented to 2, got %d", got.Attempt)
	}

	none, err := repo.ClaimNextRunnable(dbc, 3, time.Minute, time.Hour)
	if err != nil {
		t.Fatalf("ClaimNextRunnable (empty): %v", err)
	}
	if none != nil {
		t.Fatalf("expected nothing claimable, got %+v", none)
	}
}
