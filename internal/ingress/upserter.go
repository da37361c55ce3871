package ingress

import (
	"context"

	"github.com/boardflow/orchestrator/internal/data/repos"
	"github.com/boardflow/orchestrator/internal/domain"
	"github.com/boardflow/orchestrator/internal/platform/dbctx"
)

// RepoUpserter is the production TaskUpserter, backed by
// internal/data/repos.TaskRepo: look the task up by its external item id,
// and create it on first sight. Matches spec.md §4.1's requirement that
// re-delivery of the same event never creates a duplicate task.
type RepoUpserter struct {
	Tasks repos.TaskRepo
}

func NewRepoUpserter(tasks repos.TaskRepo) *RepoUpserter {
	return &RepoUpserter{Tasks: tasks}
}

func (u *RepoUpserter) UpsertFromEvent(ctx context.Context, evt RawEvent) (*domain.Task, error) {
	dbc := dbctx.Context{Ctx: ctx}
	existing, err := u.Tasks.GetByExternalItemID(dbc, evt.PulseID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	task := &domain.Task{
		ExternalItemID: evt.PulseID,
		Title:          evt.PulseName,
		Description:    evt.TextBody,
		CreatorID:      evt.UserID,
		Priority:       priorityFromEvent(evt.Priority),
		InternalStatus: domain.TaskPending,
	}
	if err := u.Tasks.Create(dbc, task); err != nil {
		return nil, err
	}
	return task, nil
}

// priorityFromEvent maps the board's priority string to a domain.Priority,
// defaulting to medium for an unset or unrecognized value.
func priorityFromEvent(raw string) domain.Priority {
	switch domain.Priority(raw) {
	case domain.PriorityLow, domain.PriorityMedium, domain.PriorityHigh, domain.PriorityUrgent:
		return domain.Priority(raw)
	default:
		return domain.PriorityMedium
	}
}
