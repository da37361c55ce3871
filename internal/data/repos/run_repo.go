package repos

import (
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/boardflow/orchestrator/internal/domain"
	"github.com/boardflow/orchestrator/internal/platform/dbctx"
	"github.com/boardflow/orchestrator/internal/platform/logger"
)

// RunRepo persists domain.Run rows, grounded on the teacher's
// jobs.JobRunRepo: the claim pattern (SELECT ... FOR UPDATE SKIP LOCKED
// inside a transaction, then an UPDATE flipping status/attempt/locked_at)
// is reused verbatim, generalized from job "queued/failed/running" states
// to run "pending/failed/running".
type RunRepo interface {
	Create(dbc dbctx.Context, run *domain.Run) error
	GetByID(dbc dbctx.Context, id uint64) (*domain.Run, error)
	ClaimNextRunnable(dbc dbctx.Context, maxAttempts int, retryDelay, staleRunning time.Duration) (*domain.Run, error)
	UpdateFields(dbc dbctx.Context, id uint64, updates map[string]interface{}) error
	UpdateFieldsUnlessStatus(dbc dbctx.Context, id uint64, disallowed []domain.RunStatus, updates map[string]interface{}) (bool, error)
	Heartbeat(dbc dbctx.Context, id uint64) error
	ListByTaskID(dbc dbctx.Context, taskID uint64) ([]*domain.Run, error)
}

type runRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewRunRepo(db *gorm.DB, baseLog *logger.Logger) RunRepo {
	return &runRepo{db: db, log: baseLog.With("repo", "RunRepo")}
}

func (r *runRepo) tx(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

func (r *runRepo) Create(dbc dbctx.Context, run *domain.Run) error {
	return r.tx(dbc).WithContext(dbc.Ctx).Create(run).Error
}

func (r *runRepo) GetByID(dbc dbctx.Context, id uint64) (*domain.Run, error) {
	var run domain.Run
	err := r.tx(dbc).WithContext(dbc.Ctx).First(&run, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// ClaimNextRunnable claims the oldest pending run, or a failed run past its
// retry delay, or a running run whose heartbeat has gone stale, matching
// spec.md §5's single-writer claim semantics for horizontal worker scaling.
func (r *runRepo) ClaimNextRunnable(dbc dbctx.Context, maxAttempts int, retryDelay, staleRunning time.Duration) (*domain.Run, error) {
	transaction := r.tx(dbc)
	now := time.Now()
	retryCutoff := now.Add(-retryDelay)
	staleCutoff := now.Add(-staleRunning)

	var claimed *domain.Run
	err := transaction.WithContext(dbc.Ctx).Transaction(func(txx *gorm.DB) error {
		var run domain.Run
		q := txx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where(`
				(
					status = ?
					OR (status = ? AND attempt < ? AND updated_at < ?)
					OR (status = ? AND heartbeat_at IS NOT NULL AND heartbeat_at < ?)
				)
			`, domain.RunPending, domain.RunFailed, maxAttempts, retryCutoff, domain.RunRunning, staleCutoff).
			Order("created_at ASC")
		qErr := q.First(&run).Error
		if errors.Is(qErr, gorm.ErrRecordNotFound) {
			return nil
		}
		if qErr != nil {
			return qErr
		}
		uErr := txx.Model(&domain.Run{}).
			Where("id = ?", run.ID).
			Updates(map[string]interface{}{
				"status":       domain.RunRunning,
				"attempt":      gorm.Expr("attempt + 1"),
				"locked_at":    now,
				"heartbeat_at": now,
				"updated_at":   now,
			}).Error
		if uErr != nil {
			return uErr
		}
		claimed = &run
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (r *runRepo) UpdateFields(dbc dbctx.Context, id uint64, updates map[string]interface{}) error {
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	return r.tx(dbc).WithContext(dbc.Ctx).Model(&domain.Run{}).Where("id = ?", id).Updates(updates).Error
}

// UpdateFieldsUnlessStatus refuses to clobber a run that has already
// reached one of the disallowed statuses, e.g. never resurrect a run a
// cancel request already marked canceled.
func (r *runRepo) UpdateFieldsUnlessStatus(dbc dbctx.Context, id uint64, disallowed []domain.RunStatus, updates map[string]interface{}) (bool, error) {
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	q := r.tx(dbc).WithContext(dbc.Ctx).Model(&domain.Run{}).Where("id = ?", id)
	if len(disallowed) == 1 {
		q = q.Where("status <> ?", disallowed[0])
	} else if len(disallowed) > 1 {
		q = q.Where("status NOT IN ?", disallowed)
	}
	res := q.Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *runRepo) Heartbeat(dbc dbctx.Context, id uint64) error {
	now := time.Now()
	return r.tx(dbc).WithContext(dbc.Ctx).Model(&domain.Run{}).
		Where("id = ? AND status = ?", id, domain.RunRunning).
		Updates(map[string]interface{}{"heartbeat_at": now, "updated_at": now}).Error
}

func (r *runRepo) ListByTaskID(dbc dbctx.Context, taskID uint64) ([]*domain.Run, error) {
	var runs []*domain.Run
	err := r.tx(dbc).WithContext(dbc.Ctx).Where("task_id = ?", taskID).Order("created_at DESC").Find(&runs).Error
	return runs, err
}
