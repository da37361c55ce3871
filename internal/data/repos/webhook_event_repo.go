package repos

import (
	"gorm.io/gorm"

	"github.com/boardflow/orchestrator/internal/domain"
	"github.com/boardflow/orchestrator/internal/platform/dbctx"
	"github.com/boardflow/orchestrator/internal/platform/logger"
)

type WebhookEventRepo interface {
	Create(dbc dbctx.Context, event *domain.WebhookEvent) error
	ListByExternalItemID(dbc dbctx.Context, externalItemID string, limit int) ([]*domain.WebhookEvent, error)
}

type webhookEventRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewWebhookEventRepo(db *gorm.DB, baseLog *logger.Logger) WebhookEventRepo {
	return &webhookEventRepo{db: db, log: baseLog.With("repo", "WebhookEventRepo")}
}

func (r *webhookEventRepo) tx(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

func (r *webhookEventRepo) Create(dbc dbctx.Context, event *domain.WebhookEvent) error {
	return r.tx(dbc).WithContext(dbc.Ctx).Create(event).Error
}

func (r *webhookEventRepo) ListByExternalItemID(dbc dbctx.Context, externalItemID string, limit int) ([]*domain.WebhookEvent, error) {
	var out []*domain.WebhookEvent
	q := r.tx(dbc).WithContext(dbc.Ctx).Where("external_item_id = ?", externalItemID).Order("received_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&out).Error
	return out, err
}
