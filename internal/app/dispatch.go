package app

import (
	"context"
	"encoding/json"

	"gorm.io/datatypes"

	"github.com/boardflow/orchestrator/internal/data/repos"
	"github.com/boardflow/orchestrator/internal/domain"
	"github.com/boardflow/orchestrator/internal/platform/dbctx"
	"github.com/boardflow/orchestrator/internal/platform/logger"
	"github.com/boardflow/orchestrator/internal/queue"
	"github.com/boardflow/orchestrator/internal/scheduler"
)

// dispatcher bridges a claimed domain.QueueEntry to a new domain.Run: the
// seam queue.Sweeper's onClaim callback leaves open, since C3 only knows
// about queue entries and C4's stage graph only knows about runs. Seeds
// the run's snapshot meta with the fields stages.go's BuildStages reads:
// repo_url, external_item_id and task_description from the task the entry
// points at, base_branch set to "main", and modification_instructions empty.
type dispatcher struct {
	runs  repos.RunRepo
	tasks repos.TaskRepo
	queue *queue.Manager
	log   *logger.Logger
}

func newDispatcher(runs repos.RunRepo, tasks repos.TaskRepo, q *queue.Manager, lg *logger.Logger) *dispatcher {
	return &dispatcher{runs: runs, tasks: tasks, queue: q, log: lg.With("component", "app.dispatcher")}
}

func (d *dispatcher) OnQueueClaim(ctx context.Context, entry *domain.QueueEntry) {
	if entry.RunID != nil {
		// Already has a run attached — the reactivation path creates its
		// run directly and only goes through the queue for exclusivity
		// bookkeeping, so there is nothing left for this callback to do.
		return
	}

	task, err := d.tasks.GetByID(dbctx.Context{Ctx: ctx}, entry.TaskID)
	if err != nil || task == nil {
		d.log.Warn("failed to load task for claimed queue entry", "entry_id", entry.ID, "task_id", entry.TaskID, "error", err)
		return
	}

	st := &scheduler.RunState{Meta: map[string]any{
		"repo_url":                  task.RepositoryURL,
		"external_item_id":          task.ExternalItemID,
		"base_branch":               "main",
		"task_description":          task.Description,
		"modification_instructions": "",
	}}
	snapshot, err := json.Marshal(scheduler.SaveRunState(st))
	if err != nil {
		d.log.Error("failed to marshal initial run snapshot", "entry_id", entry.ID, "error", err)
		return
	}

	run := &domain.Run{
		TaskID:         task.ID,
		ExternalItemID: task.ExternalItemID,
		Status:         domain.RunPending,
		Snapshot:       datatypes.JSON(snapshot),
	}
	if err := d.runs.Create(dbctx.Context{Ctx: ctx}, run); err != nil {
		d.log.Error("failed to create run for claimed queue entry", "entry_id", entry.ID, "error", err)
		return
	}

	if err := d.queue.AttachRun(ctx, entry.ID, run.ID); err != nil {
		d.log.Warn("failed to attach run to queue entry", "entry_id", entry.ID, "run_id", run.ID, "error", err)
	}
}
