package validation

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/boardflow/orchestrator/internal/adapters"
	"github.com/boardflow/orchestrator/internal/data/repos"
	"github.com/boardflow/orchestrator/internal/data/repos/testutil"
	"github.com/boardflow/orchestrator/internal/domain"
	"github.com/boardflow/orchestrator/internal/platform/dbctx"
	"github.com/boardflow/orchestrator/internal/scheduler"
)

func newTestPoller(t *testing.T, board adapters.Board) (*Poller, repos.TaskRepo, repos.RunRepo, repos.ValidationRepo) {
	t.Helper()
	db := testutil.DB(t)
	lg := testutil.Logger(t)
	tasks := repos.NewTaskRepo(db, lg)
	runs := repos.NewRunRepo(db, lg)
	validations := repos.NewValidationRepo(db, lg)
	coord := NewCoordinator(validations, board, adapters.NewPassthroughTranslator(), NewRuleInterpreter(), 3, lg)
	return NewPoller(validations, tasks, runs, coord, lg), tasks, runs, validations
}

func seedTaskAndRun(t *testing.T, tasks repos.TaskRepo, runs repos.RunRepo, snapshot []byte) (*domain.Task, *domain.Run) {
	t.Helper()
	ctx := context.Background()
	task := &domain.Task{ExternalItemID: "item-1", CreatorID: "creator-1", CreatorEmail: "creator@example.com"}
	if err := tasks.Create(dbctx.Context{Ctx: ctx}, task); err != nil {
		t.Fatalf("create task: %v", err)
	}
	run := &domain.Run{TaskID: task.ID, ExternalItemID: task.ExternalItemID, Status: domain.RunWaitingValidation, Snapshot: snapshot}
	if err := runs.Create(dbctx.Context{Ctx: ctx}, run); err != nil {
		t.Fatalf("create run: %v", err)
	}
	return task, run
}

func baseSnapshot(t *testing.T) []byte {
	t.Helper()
	st := &scheduler.RunState{}
	st.EnsureStage("implement").Status = scheduler.StageSucceeded
	st.EnsureStage("test").Status = scheduler.StageSucceeded
	st.EnsureStage("human_validation").Status = scheduler.StageRunning
	raw, err := json.Marshal(scheduler.SaveRunState(st))
	if err != nil {
		t.Fatalf("marshal snapshot: %v", err)
	}
	return raw
}

func TestPollerTickApprovesAndResumesRun(t *testing.T) {
	board := &fakeBoard{comments: []adapters.Comment{
		{ID: "c-1", AuthorID: "creator-1", Body: "approve", CreatedAt: time.Now()},
	}}
	poller, tasks, runs, validations := newTestPoller(t, board)
	task, run := seedTaskAndRun(t, tasks, runs, baseSnapshot(t))

	req := &domain.ValidationRequest{
		RunID: run.ID, ExternalItemID: task.ExternalItemID, Status: domain.ValidationPending,
		RequestedAt: time.Now(), TimeoutAt: time.Now().Add(time.Hour),
	}
	if err := validations.CreateRequest(dbctx.Context{Ctx: context.Background()}, req); err != nil {
		t.Fatalf("create request: %v", err)
	}

	if err := poller.Tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}

	got, err := runs.GetByID(dbctx.Context{Ctx: context.Background()}, run.ID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if got.Status != domain.RunPending {
		t.Fatalf("expected run re-queued pending, got %s", got.Status)
	}
	var m map[string]any
	if err := json.Unmarshal(got.Snapshot, &m); err != nil {
		t.Fatalf("unmarshal snapshot: %v", err)
	}
	st := scheduler.LoadRunState(m)
	if st.Meta["validation_verdict"] != "approve" {
		t.Fatalf("expected validation_verdict=approve in snapshot, got %#v", st.Meta["validation_verdict"])
	}
}

func TestPollerTickRejectResetsStagesAndCarriesInstructions(t *testing.T) {
	board := &fakeBoard{comments: []adapters.Comment{
		{ID: "c-1", AuthorID: "creator-1", Body: "no, add a nil check", CreatedAt: time.Now()},
	}}
	poller, tasks, runs, validations := newTestPoller(t, board)
	task, run := seedTaskAndRun(t, tasks, runs, baseSnapshot(t))

	req := &domain.ValidationRequest{
		RunID: run.ID, ExternalItemID: task.ExternalItemID, Status: domain.ValidationPending,
		RequestedAt: time.Now(), TimeoutAt: time.Now().Add(time.Hour),
	}
	if err := validations.CreateRequest(dbctx.Context{Ctx: context.Background()}, req); err != nil {
		t.Fatalf("create request: %v", err)
	}

	if err := poller.Tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}

	got, err := runs.GetByID(dbctx.Context{Ctx: context.Background()}, run.ID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if got.Status != domain.RunPending {
		t.Fatalf("expected run re-queued pending for rework, got %s", got.Status)
	}
	if got.RejectionCount != 1 {
		t.Fatalf("expected rejection count 1, got %d", got.RejectionCount)
	}
	var m map[string]any
	if err := json.Unmarshal(got.Snapshot, &m); err != nil {
		t.Fatalf("unmarshal snapshot: %v", err)
	}
	st := scheduler.LoadRunState(m)
	if st.Stages["implement"].Status != scheduler.StagePending {
		t.Fatalf("expected implement stage reset to pending, got %s", st.Stages["implement"].Status)
	}
	if st.Meta["modification_instructions"] == "" {
		t.Fatalf("expected modification instructions carried into snapshot")
	}
}

func TestPollerTickAppliesTimeout(t *testing.T) {
	board := &fakeBoard{}
	poller, tasks, runs, validations := newTestPoller(t, board)
	task, run := seedTaskAndRun(t, tasks, runs, baseSnapshot(t))

	req := &domain.ValidationRequest{
		RunID: run.ID, ExternalItemID: task.ExternalItemID, Status: domain.ValidationPending,
		RequestedAt: time.Now().Add(-2 * time.Hour), TimeoutAt: time.Now().Add(-time.Hour),
	}
	if err := validations.CreateRequest(dbctx.Context{Ctx: context.Background()}, req); err != nil {
		t.Fatalf("create request: %v", err)
	}

	if err := poller.Tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}

	got, err := runs.GetByID(dbctx.Context{Ctx: context.Background()}, run.ID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if got.Status != domain.RunFailed {
		t.Fatalf("expected run failed on validation timeout, got %s", got.Status)
	}
}
