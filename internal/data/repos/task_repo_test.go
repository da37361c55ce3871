package repos

import (
	"context"
	"testing"

	"github.com/boardflow/orchestrator/internal/data/repos/testutil"
	"github.com/boardflow/orchestrator/internal/domain"
	"github.com/boardflow/orchestrator/internal/platform/dbctx"
)

func TestTaskRepo(t *testing.T) {
	db := testutil.DB(t)
	repo := NewTaskRepo(db, testutil.Logger(t))
	dbc := dbctx.Context{Ctx: context.Background()}

	task := &domain.Task{
		ExternalItemID: "item-1",
		Title:          "fix the thing",
		Priority:       domain.PriorityHigh,
		InternalStatus: domain.TaskPending,
	}
	if err := repo.Create(dbc, task); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if task.ID == 0 {
		t.Fatalf("Create: expected assigned ID")
	}

	got, err := repo.GetByExternalItemID(dbc, "item-1")
	if err != nil || got == nil {
		t.Fatalf("GetByExternalItemID: err=%v got=%v", err, got)
	}
	if got.Title != "fix the thing" {
		t.Fatalf("GetByExternalItemID: unexpected title %q", got.Title)
	}

	if missing, err := repo.GetByExternalItemID(dbc, "does-not-exist"); err != nil || missing != nil {
		t.Fatalf("GetByExternalItemID missing: err=%v got=%v", err, missing)
	}

	locked, err := repo.TryLock(dbc, task.ID)
	if err != nil || !locked {
		t.Fatalf("TryLock: expected true, got %v err=%v", locked, err)
	}
	againLocked, err := repo.TryLock(dbc, task.ID)
	if err != nil || againLocked {
		t.Fatalf("TryLock second call: expected false, got %v err=%v", againLocked, err)
	}
	if err := repo.Unlock(dbc, task.ID); err != nil {
		t.Fatalf("Unlock: %v", err)
	}
	relocked, err := repo.TryLock(dbc, task.ID)
	if err != nil || !relocked {
		t.Fatalf("TryLock after unlock: expected true, got %v err=%v", relocked, err)
	}

	if err := repo.UpdateFields(dbc, task.ID, map[string]interface{}{"internal_status": domain.TaskCompleted}); err != nil {
		t.Fatalf("UpdateFields: %v", err)
	}
	got, _ = repo.GetByID(dbc, task.ID)
	if got.InternalStatus != domain.TaskCompleted {
		t.Fatalf("UpdateFields: expected completed, got %q", got.InternalStatus)
	}
}
