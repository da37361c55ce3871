package queue

import (
	"context"
	"testing"

	"github.com/boardflow/orchestrator/internal/domain"
	"github.com/boardflow/orchestrator/internal/platform/dbctx"
	"github.com/boardflow/orchestrator/internal/platform/lock"
	"github.com/boardflow/orchestrator/internal/platform/logger"
)

type fakeEntryRepo struct {
	nextID  uint64
	entries map[uint64]*domain.QueueEntry
}

func newFakeEntryRepo() *fakeEntryRepo {
	return &fakeEntryRepo{entries: map[uint64]*domain.QueueEntry{}}
}

func (f *fakeEntryRepo) Create(dbc dbctx.Context, entry *domain.QueueEntry) error {
	f.nextID++
	entry.ID = f.nextID
	f.entries[entry.ID] = entry
	return nil
}

func (f *fakeEntryRepo) HasRunningForItem(dbc dbctx.Context, externalItemID string) (bool, error) {
	for _, e := range f.entries {
		if e.ExternalItemID == externalItemID && e.Status == domain.QueueRunning {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeEntryRepo) GetRunningForItem(dbc dbctx.Context, externalItemID string) (*domain.QueueEntry, error) {
	for _, e := range f.entries {
		if e.ExternalItemID == externalItemID && e.Status == domain.QueueRunning {
			return e, nil
		}
	}
	return nil, nil
}

func (f *fakeEntryRepo) ClaimNextForItem(dbc dbctx.Context, externalItemID string) (*domain.QueueEntry, error) {
	if running, _ := f.HasRunningForItem(dbc, externalItemID); running {
		return nil, nil
	}
	var best *domain.QueueEntry
	for _, e := range f.entries {
		if e.ExternalItemID != externalItemID || e.Status != domain.QueuePending {
			continue
		}
		if best == nil || e.Priority > best.Priority {
			best = e
		}
	}
	if best == nil {
		return nil, nil
	}
	best.Status = domain.QueueRunning
	return best, nil
}

func (f *fakeEntryRepo) UpdateFields(dbc dbctx.Context, id uint64, updates map[string]interface{}) error {
	e, ok := f.entries[id]
	if !ok {
		return nil
	}
	if status, ok := updates["status"]; ok {
		e.Status = status.(domain.QueueStatus)
	}
	if runID, ok := updates["run_id"]; ok {
		id := runID.(uint64)
		e.RunID = &id
	}
	return nil
}

func (f *fakeEntryRepo) ListPendingByItem(dbc dbctx.Context, externalItemID string) ([]*domain.QueueEntry, error) {
	var out []*domain.QueueEntry
	for _, e := range f.entries {
		if e.ExternalItemID == externalItemID && e.Status == domain.QueuePending {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeEntryRepo) ListDistinctPendingItems(dbc dbctx.Context) ([]string, error) {
	seen := map[string]bool{}
	var out []string
	for _, e := range f.entries {
		if e.Status == domain.QueuePending && !seen[e.ExternalItemID] {
			seen[e.ExternalItemID] = true
			out = append(out, e.ExternalItemID)
		}
	}
	return out, nil
}

func newTestManager(t *testing.T) (*Manager, *fakeEntryRepo) {
	t.Helper()
	lg, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	repo := newFakeEntryRepo()
	return NewManager(repo, lock.NewInProcess(), lg), repo
}

func TestEnqueueAndClaimRespectsExclusivity(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	task := &domain.Task{ID: 1, ExternalItemID: "item-1", Priority: domain.PriorityHigh}
	if _, err := m.Enqueue(ctx, task); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	ok, err := m.ShouldExecuteNow(ctx, "item-1")
	if err != nil || !ok {
		t.Fatalf("ShouldExecuteNow: ok=%v err=%v", ok, err)
	}

	entry, err := m.ClaimNext(ctx, "item-1")
	if err != nil || entry == nil {
		t.Fatalf("ClaimNext: entry=%v err=%v", entry, err)
	}
	if entry.Status != domain.QueueRunning {
		t.Fatalf("expected claimed entry to be running, got %q", entry.Status)
	}

	ok, err = m.ShouldExecuteNow(ctx, "item-1")
	if err != nil || ok {
		t.Fatalf("expected ShouldExecuteNow false while running, ok=%v err=%v", ok, err)
	}

	none, err := m.ClaimNext(ctx, "item-1")
	if err != nil || none != nil {
		t.Fatalf("expected no second claim while one is running, got %+v err=%v", none, err)
	}
}

func TestEnqueuePriorityOrdering(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	low := &domain.Task{ID: 1, ExternalItemID: "item-1", Priority: domain.PriorityLow}
	urgent := &domain.Task{ID: 2, ExternalItemID: "item-1", Priority: domain.PriorityUrgent}
	if _, err := m.Enqueue(ctx, low); err != nil {
		t.Fatalf("Enqueue low: %v", err)
	}
	if _, err := m.Enqueue(ctx, urgent); err != nil {
		t.Fatalf("Enqueue urgent: %v", err)
	}

	entry, err := m.ClaimNext(ctx, "item-1")
	if err != nil || entry == nil {
		t.Fatalf("ClaimNext: entry=%v err=%v", entry, err)
	}
	if entry.TaskID != urgent.ID {
		t.Fatalf("expected urgent task claimed first, got task_id=%d", entry.TaskID)
	}
}

func TestEnqueueAdmissionAcceptedWhenItemIdle(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	task := &domain.Task{ID: 1, ExternalItemID: "item-1", Priority: domain.PriorityHigh}
	admission, err := m.Enqueue(ctx, task)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if !admission.Accepted {
		t.Fatalf("expected first enqueue against an idle item to be accepted")
	}
	if admission.Position != 1 {
		t.Fatalf("expected position 1, got %d", admission.Position)
	}
	if admission.RunningQueueID != nil {
		t.Fatalf("expected no running entry, got %v", *admission.RunningQueueID)
	}
}

func TestEnqueueAdmissionQueuedBehindRunningEntry(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	first := &domain.Task{ID: 1, ExternalItemID: "item-1", Priority: domain.PriorityMedium}
	firstAdmission, err := m.Enqueue(ctx, first)
	if err != nil {
		t.Fatalf("Enqueue first: %v", err)
	}
	running, err := m.ClaimNext(ctx, "item-1")
	if err != nil || running == nil {
		t.Fatalf("ClaimNext: entry=%v err=%v", running, err)
	}

	second := &domain.Task{ID: 2, ExternalItemID: "item-1", Priority: domain.PriorityMedium}
	secondAdmission, err := m.Enqueue(ctx, second)
	if err != nil {
		t.Fatalf("Enqueue second: %v", err)
	}
	if secondAdmission.Accepted {
		t.Fatalf("expected second enqueue behind a running entry to be queued, not accepted")
	}
	if secondAdmission.Position != 1 {
		t.Fatalf("expected position 1 among pending entries, got %d", secondAdmission.Position)
	}
	if secondAdmission.RunningQueueID == nil || *secondAdmission.RunningQueueID != firstAdmission.Entry.ID {
		t.Fatalf("expected running_queue_id to reference the running entry, got %v", secondAdmission.RunningQueueID)
	}
}

func TestMarkWaitingValidationFreesItemForNextClaim(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	first := &domain.Task{ID: 1, ExternalItemID: "item-1", Priority: domain.PriorityMedium}
	second := &domain.Task{ID: 2, ExternalItemID: "item-1", Priority: domain.PriorityMedium}
	_, _ = m.Enqueue(ctx, first)

	entry, err := m.ClaimNext(ctx, "item-1")
	if err != nil || entry == nil {
		t.Fatalf("ClaimNext: entry=%v err=%v", entry, err)
	}

	_, _ = m.Enqueue(ctx, second)

	if err := m.MarkWaitingValidation(ctx, entry.ID); err != nil {
		t.Fatalf("MarkWaitingValidation: %v", err)
	}

	ok, err := m.ShouldExecuteNow(ctx, "item-1")
	if err != nil || !ok {
		t.Fatalf("expected item free once waiting_validation, ok=%v err=%v", ok, err)
	}

	next, err := m.ClaimNext(ctx, "item-1")
	if err != nil || next == nil {
		t.Fatalf("expected to claim second entry, got %v err=%v", next, err)
	}
	if next.TaskID != second.ID {
		t.Fatalf("expected second task claimed, got task_id=%d", next.TaskID)
	}
}

func TestAttachRunRecordsRunID(t *testing.T) {
	m, repo := newTestManager(t)
	ctx := context.Background()

	task := &domain.Task{ID: 1, ExternalItemID: "item-1", Priority: domain.PriorityMedium}
	_, _ = m.Enqueue(ctx, task)

	entry, err := m.ClaimNext(ctx, "item-1")
	if err != nil || entry == nil {
		t.Fatalf("ClaimNext: entry=%v err=%v", entry, err)
	}

	if err := m.AttachRun(ctx, entry.ID, 42); err != nil {
		t.Fatalf("AttachRun: %v", err)
	}

	stored := repo.entries[entry.ID]
	if stored.RunID == nil || *stored.RunID != 42 {
		t.Fatalf("expected run_id 42 attached, got %v", stored.RunID)
	}
}
