// Package queue implements C3: the per-item FIFO-with-priority queue that
// enforces at most one running run per external_item_id while letting
// different items run concurrently. Cross-item concurrency is bounded by the
// worker pool, which runs no more claim loops per process than
// MAX_CONCURRENT_RUNS allows; this manager itself sets no such limit. The
// manager wraps a platform/lock.Locker for cross-process exclusivity and
// internal/data/repos.QueueEntryRepo for durable state, generalizing the
// teacher's jobs.JobRunRepo claim pattern to the per-item rule described in
// the board's original workflow_queue_manager.py.
package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/boardflow/orchestrator/internal/data/repos"
	"github.com/boardflow/orchestrator/internal/domain"
	"github.com/boardflow/orchestrator/internal/platform/dbctx"
	"github.com/boardflow/orchestrator/internal/platform/lock"
	"github.com/boardflow/orchestrator/internal/platform/logger"
)

type Manager struct {
	entries RunEntryCreator
	locker  lock.Locker
	log     *logger.Logger
}

// RunEntryCreator is the narrow repo surface the manager needs, named
// separately from repos.QueueEntryRepo so tests can supply an in-memory
// fake without a real database.
type RunEntryCreator interface {
	Create(dbc dbctx.Context, entry *domain.QueueEntry) error
	HasRunningForItem(dbc dbctx.Context, externalItemID string) (bool, error)
	GetRunningForItem(dbc dbctx.Context, externalItemID string) (*domain.QueueEntry, error)
	ClaimNextForItem(dbc dbctx.Context, externalItemID string) (*domain.QueueEntry, error)
	UpdateFields(dbc dbctx.Context, id uint64, updates map[string]interface{}) error
	ListPendingByItem(dbc dbctx.Context, externalItemID string) ([]*domain.QueueEntry, error)
	ListDistinctPendingItems(dbc dbctx.Context) ([]string, error)
}

var _ RunEntryCreator = (repos.QueueEntryRepo)(nil)

func NewManager(entries RunEntryCreator, locker lock.Locker, lg *logger.Logger) *Manager {
	return &Manager{entries: entries, locker: locker, log: lg.With("service", "queue.Manager")}
}

// Enqueue appends a pending queue entry for task and reports, per spec.md
// §4.1(4), whether it is the one that will run next (Accepted) or is
// waiting behind a running or higher-priority entry for the same item
// (Position among currently pending entries, RunningQueueID set when
// another entry already holds the item's running slot). It never blocks: a
// second enqueue for an item that already has a running entry simply waits
// behind it in priority order, which is the queue-instead-of-reject
// behavior the board's original queue manager implements for late comments
// on a task that is mid-run. Whether this entry actually starts is decided
// later, by ClaimNext (the sweeper's poll loop); Enqueue only predicts it
// from the state visible right now, so the priority ordering a later claim
// applies across entries enqueued in quick succession is never preempted by
// an enqueue racing its own claim.
func (m *Manager) Enqueue(ctx context.Context, task *domain.Task) (*domain.QueueAdmission, error) {
	dbc := dbctx.Context{Ctx: ctx}
	entry := &domain.QueueEntry{
		ExternalItemID: task.ExternalItemID,
		TaskID:         task.ID,
		Priority:       domain.PriorityWeight(task.Priority),
		Status:         domain.QueuePending,
		EnqueuedAt:     time.Now(),
	}
	if err := m.entries.Create(dbc, entry); err != nil {
		return nil, fmt.Errorf("enqueue %s: %w", task.ExternalItemID, err)
	}
	m.log.Info("enqueued task", "external_item_id", task.ExternalItemID, "priority", entry.Priority)

	running, err := m.entries.GetRunningForItem(dbc, task.ExternalItemID)
	if err != nil {
		return nil, fmt.Errorf("get running entry for %s: %w", task.ExternalItemID, err)
	}
	pending, err := m.entries.ListPendingByItem(dbc, task.ExternalItemID)
	if err != nil {
		return nil, fmt.Errorf("list pending for %s: %w", task.ExternalItemID, err)
	}
	position := len(pending)
	for i, e := range pending {
		if e.ID == entry.ID {
			position = i + 1
			break
		}
	}

	admission := &domain.QueueAdmission{Entry: entry, Position: position}
	if running == nil && position == 1 {
		admission.Accepted = true
	} else if running != nil {
		admission.RunningQueueID = &running.ID
	}
	return admission, nil
}

// ShouldExecuteNow reports whether externalItemID currently has no running
// entry, matching workflow_queue_manager.py's should_execute_now check.
func (m *Manager) ShouldExecuteNow(ctx context.Context, externalItemID string) (bool, error) {
	running, err := m.entries.HasRunningForItem(dbctx.Context{Ctx: ctx}, externalItemID)
	if err != nil {
		return false, err
	}
	return !running, nil
}

// ClaimNext acquires the cross-process per-item lock and, while holding it,
// claims the next runnable queue entry for externalItemID. The returned
// release function must be called once the claimed entry either starts
// running durably (recorded in the DB) or is abandoned; holding the lock
// only for the claim keeps it from becoming a long-held mutex across an
// entire run.
func (m *Manager) ClaimNext(ctx context.Context, externalItemID string) (*domain.QueueEntry, error) {
	release, err := m.locker.Lock(ctx, externalItemID)
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", externalItemID, err)
	}
	defer release()

	entry, err := m.entries.ClaimNextForItem(dbctx.Context{Ctx: ctx}, externalItemID)
	if err != nil {
		return nil, fmt.Errorf("claim next for %s: %w", externalItemID, err)
	}
	return entry, nil
}

// MarkWaitingValidation transitions a running entry to waiting_validation,
// which frees the item for the next queued entry to claim even though this
// run has not finished — the spec's distinction between "running" (holds
// the exclusivity slot) and "waiting_validation" (does not).
func (m *Manager) MarkWaitingValidation(ctx context.Context, entryID uint64) error {
	return m.entries.UpdateFields(dbctx.Context{Ctx: ctx}, entryID, map[string]interface{}{
		"status": domain.QueueWaiting,
	})
}

// AttachRun records which domain.Run a claimed entry spawned, the link the
// sweeper's onClaim callback fills in once it has created the run row.
func (m *Manager) AttachRun(ctx context.Context, entryID, runID uint64) error {
	now := time.Now()
	return m.entries.UpdateFields(dbctx.Context{Ctx: ctx}, entryID, map[string]interface{}{
		"run_id":     runID,
		"started_at": now,
	})
}

func (m *Manager) MarkDone(ctx context.Context, entryID uint64) error {
	now := time.Now()
	return m.entries.UpdateFields(dbctx.Context{Ctx: ctx}, entryID, map[string]interface{}{
		"status":      domain.QueueDone,
		"finished_at": now,
	})
}

func (m *Manager) ListPending(ctx context.Context, externalItemID string) ([]*domain.QueueEntry, error) {
	return m.entries.ListPendingByItem(dbctx.Context{Ctx: ctx}, externalItemID)
}

func (m *Manager) ListDistinctPendingItems(ctx context.Context) ([]string, error) {
	return m.entries.ListDistinctPendingItems(dbctx.Context{Ctx: ctx})
}
