package repos

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/boardflow/orchestrator/internal/domain"
	"github.com/boardflow/orchestrator/internal/platform/dbctx"
	"github.com/boardflow/orchestrator/internal/platform/logger"
)

type TaskRepo interface {
	Create(dbc dbctx.Context, task *domain.Task) error
	GetByExternalItemID(dbc dbctx.Context, externalItemID string) (*domain.Task, error)
	GetByID(dbc dbctx.Context, id uint64) (*domain.Task, error)
	UpdateFields(dbc dbctx.Context, id uint64, updates map[string]interface{}) error
	// TryLock sets is_locked atomically, returning false if it was already
	// locked, so two concurrent claims of the same task can't both proceed.
	TryLock(dbc dbctx.Context, id uint64) (bool, error)
	Unlock(dbc dbctx.Context, id uint64) error
}

type taskRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewTaskRepo(db *gorm.DB, baseLog *logger.Logger) TaskRepo {
	return &taskRepo{db: db, log: baseLog.With("repo", "TaskRepo")}
}

func (r *taskRepo) tx(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

func (r *taskRepo) Create(dbc dbctx.Context, task *domain.Task) error {
	return r.tx(dbc).WithContext(dbc.Ctx).Create(task).Error
}

func (r *taskRepo) GetByExternalItemID(dbc dbctx.Context, externalItemID string) (*domain.Task, error) {
	var task domain.Task
	err := r.tx(dbc).WithContext(dbc.Ctx).First(&task, "external_item_id = ?", externalItemID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &task, nil
}

func (r *taskRepo) GetByID(dbc dbctx.Context, id uint64) (*domain.Task, error) {
	var task domain.Task
	err := r.tx(dbc).WithContext(dbc.Ctx).First(&task, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &task, nil
}

func (r *taskRepo) UpdateFields(dbc dbctx.Context, id uint64, updates map[string]interface{}) error {
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	return r.tx(dbc).WithContext(dbc.Ctx).Model(&domain.Task{}).Where("id = ?", id).Updates(updates).Error
}

func (r *taskRepo) TryLock(dbc dbctx.Context, id uint64) (bool, error) {
	res := r.tx(dbc).WithContext(dbc.Ctx).Model(&domain.Task{}).
		Where("id = ? AND is_locked = ?", id, false).
		Updates(map[string]interface{}{"is_locked": true, "updated_at": time.Now()})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *taskRepo) Unlock(dbc dbctx.Context, id uint64) error {
	return r.tx(dbc).WithContext(dbc.Ctx).Model(&domain.Task{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"is_locked": false, "updated_at": time.Now()}).Error
}
