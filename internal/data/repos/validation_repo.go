package repos

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/boardflow/orchestrator/internal/domain"
	"github.com/boardflow/orchestrator/internal/platform/dbctx"
	"github.com/boardflow/orchestrator/internal/platform/logger"
)

type ValidationRepo interface {
	CreateRequest(dbc dbctx.Context, req *domain.ValidationRequest) error
	GetRequestByID(dbc dbctx.Context, id uint64) (*domain.ValidationRequest, error)
	GetOpenRequestByRunID(dbc dbctx.Context, runID uint64) (*domain.ValidationRequest, error)
	GetLatestRequestByRunID(dbc dbctx.Context, runID uint64) (*domain.ValidationRequest, error)
	UpdateRequestFields(dbc dbctx.Context, id uint64, updates map[string]interface{}) error
	ListTimedOut(dbc dbctx.Context, now time.Time) ([]*domain.ValidationRequest, error)
	ListPending(dbc dbctx.Context) ([]*domain.ValidationRequest, error)
	CreateResponse(dbc dbctx.Context, resp *domain.ValidationResponse) error
	ListResponses(dbc dbctx.Context, requestID uint64) ([]*domain.ValidationResponse, error)
}

type validationRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewValidationRepo(db *gorm.DB, baseLog *logger.Logger) ValidationRepo {
	return &validationRepo{db: db, log: baseLog.With("repo", "ValidationRepo")}
}

func (r *validationRepo) tx(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

func (r *validationRepo) CreateRequest(dbc dbctx.Context, req *domain.ValidationRequest) error {
	return r.tx(dbc).WithContext(dbc.Ctx).Create(req).Error
}

func (r *validationRepo) GetRequestByID(dbc dbctx.Context, id uint64) (*domain.ValidationRequest, error) {
	var req domain.ValidationRequest
	err := r.tx(dbc).WithContext(dbc.Ctx).First(&req, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &req, nil
}

func (r *validationRepo) GetOpenRequestByRunID(dbc dbctx.Context, runID uint64) (*domain.ValidationRequest, error) {
	var req domain.ValidationRequest
	err := r.tx(dbc).WithContext(dbc.Ctx).
		Where("run_id = ? AND status = ?", runID, domain.ValidationPending).
		Order("requested_at DESC").
		First(&req).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &req, nil
}

// GetLatestRequestByRunID returns the most recent request for runID
// regardless of status, so a fresh rework request can chain its
// ParentValidationID back to the one the rejection responded to.
func (r *validationRepo) GetLatestRequestByRunID(dbc dbctx.Context, runID uint64) (*domain.ValidationRequest, error) {
	var req domain.ValidationRequest
	err := r.tx(dbc).WithContext(dbc.Ctx).
		Where("run_id = ?", runID).
		Order("requested_at DESC").
		First(&req).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &req, nil
}

func (r *validationRepo) UpdateRequestFields(dbc dbctx.Context, id uint64, updates map[string]interface{}) error {
	return r.tx(dbc).WithContext(dbc.Ctx).Model(&domain.ValidationRequest{}).Where("id = ?", id).Updates(updates).Error
}

func (r *validationRepo) ListTimedOut(dbc dbctx.Context, now time.Time) ([]*domain.ValidationRequest, error) {
	var out []*domain.ValidationRequest
	err := r.tx(dbc).WithContext(dbc.Ctx).
		Where("status = ? AND timeout_at < ?", domain.ValidationPending, now).
		Find(&out).Error
	return out, err
}

func (r *validationRepo) ListPending(dbc dbctx.Context) ([]*domain.ValidationRequest, error) {
	var out []*domain.ValidationRequest
	err := r.tx(dbc).WithContext(dbc.Ctx).
		Where("status = ?", domain.ValidationPending).
		Order("requested_at ASC").
		Find(&out).Error
	return out, err
}

func (r *validationRepo) CreateResponse(dbc dbctx.Context, resp *domain.ValidationResponse) error {
	return r.tx(dbc).WithContext(dbc.Ctx).Create(resp).Error
}

func (r *validationRepo) ListResponses(dbc dbctx.Context, requestID uint64) ([]*domain.ValidationResponse, error) {
	var out []*domain.ValidationResponse
	err := r.tx(dbc).WithContext(dbc.Ctx).
		Where("validation_request_id = ?", requestID).
		Order("received_at ASC").
		Find(&out).Error
	return out, err
}
