package app

import (
	"context"
	"encoding/json"
	"fmt"

	"gorm.io/datatypes"

	"github.com/boardflow/orchestrator/internal/data/repos"
	"github.com/boardflow/orchestrator/internal/domain"
	"github.com/boardflow/orchestrator/internal/platform/dbctx"
	"github.com/boardflow/orchestrator/internal/platform/logger"
	"github.com/boardflow/orchestrator/internal/queue"
	"github.com/boardflow/orchestrator/internal/reactivation"
	"github.com/boardflow/orchestrator/internal/scheduler"
)

// reactivator implements ingress.Reactivator (C6's accept path, spec.md
// §4.5 item 3): build the reactivation Run directly rather than going
// through dispatcher.OnQueueClaim, since the Run must exist before it can
// be enqueued so the queue entry can be attached to it up front.
type reactivator struct {
	runs  repos.RunRepo
	tasks repos.TaskRepo
	queue *queue.Manager
	log   *logger.Logger
}

func newReactivator(runs repos.RunRepo, tasks repos.TaskRepo, q *queue.Manager, lg *logger.Logger) *reactivator {
	return &reactivator{runs: runs, tasks: tasks, queue: q, log: lg.With("component", "app.reactivator")}
}

// Activate builds and persists a reactivation Run for task, bumps the
// task's reactivation bookkeeping, and enqueues it so C3's exclusivity and
// priority rules still apply to reactivation work.
func (r *reactivator) Activate(ctx context.Context, task *domain.Task, commentBody string) (*domain.Run, error) {
	run := reactivation.BuildReactivationRun(task, commentBody)

	reactivationNumber := task.ReactivationCnt + 1
	description := reactivation.ReactivationPrefix(task, reactivationNumber) + commentBody

	st := &scheduler.RunState{Meta: map[string]any{
		"repo_url":                  task.RepositoryURL,
		"external_item_id":          task.ExternalItemID,
		"base_branch":               "main",
		"task_description":          description,
		"modification_instructions": "",
	}}
	snapshot, err := json.Marshal(scheduler.SaveRunState(st))
	if err != nil {
		return nil, fmt.Errorf("marshal reactivation run snapshot: %w", err)
	}
	run.Snapshot = datatypes.JSON(snapshot)

	dbc := dbctx.Context{Ctx: ctx}
	if err := r.runs.Create(dbc, run); err != nil {
		return nil, fmt.Errorf("create reactivation run: %w", err)
	}

	if err := r.tasks.UpdateFields(dbc, task.ID, map[string]interface{}{
		"reactivation_count": reactivationNumber,
		"last_run_id":        run.ID,
	}); err != nil {
		r.log.Warn("failed to update task reactivation bookkeeping", "task_id", task.ID, "error", err)
	}

	admission, err := r.queue.Enqueue(ctx, task)
	if err != nil {
		return nil, fmt.Errorf("enqueue reactivation run: %w", err)
	}
	if err := r.queue.AttachRun(ctx, admission.Entry.ID, run.ID); err != nil {
		r.log.Warn("failed to attach reactivation run to queue entry", "entry_id", admission.Entry.ID, "run_id", run.ID, "error", err)
	}

	return run, nil
}
