package repos

import (
	"gorm.io/gorm"

	"github.com/boardflow/orchestrator/internal/domain"
	"github.com/boardflow/orchestrator/internal/platform/dbctx"
	"github.com/boardflow/orchestrator/internal/platform/logger"
)

type StageExecutionRepo interface {
	Create(dbc dbctx.Context, se *domain.StageExecution) error
	UpdateFields(dbc dbctx.Context, id uint64, updates map[string]interface{}) error
	ListByRunID(dbc dbctx.Context, runID uint64) ([]*domain.StageExecution, error)
}

type stageExecutionRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewStageExecutionRepo(db *gorm.DB, baseLog *logger.Logger) StageExecutionRepo {
	return &stageExecutionRepo{db: db, log: baseLog.With("repo", "StageExecutionRepo")}
}

func (r *stageExecutionRepo) tx(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

func (r *stageExecutionRepo) Create(dbc dbctx.Context, se *domain.StageExecution) error {
	return r.tx(dbc).WithContext(dbc.Ctx).Create(se).Error
}

func (r *stageExecutionRepo) UpdateFields(dbc dbctx.Context, id uint64, updates map[string]interface{}) error {
	return r.tx(dbc).WithContext(dbc.Ctx).Model(&domain.StageExecution{}).Where("id = ?", id).Updates(updates).Error
}

func (r *stageExecutionRepo) ListByRunID(dbc dbctx.Context, runID uint64) ([]*domain.StageExecution, error) {
	var out []*domain.StageExecution
	err := r.tx(dbc).WithContext(dbc.Ctx).Where("run_id = ?", runID).Order("created_at ASC").Find(&out).Error
	return out, err
}
