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

// QueueEntryRepo backs the per-item FIFO-with-priority queue of C3. The
// claim query generalizes the teacher's SKIP LOCKED claim pattern to also
// respect the "only one running entry per external_item_id" exclusivity
// rule the spec requires.
type QueueEntryRepo interface {
	Create(dbc dbctx.Context, entry *domain.QueueEntry) error
	HasRunningForItem(dbc dbctx.Context, externalItemID string) (bool, error)
	GetRunningForItem(dbc dbctx.Context, externalItemID string) (*domain.QueueEntry, error)
	ClaimNextForItem(dbc dbctx.Context, externalItemID string) (*domain.QueueEntry, error)
	UpdateFields(dbc dbctx.Context, id uint64, updates map[string]interface{}) error
	ListPendingByItem(dbc dbctx.Context, externalItemID string) ([]*domain.QueueEntry, error)
	ListDistinctPendingItems(dbc dbctx.Context) ([]string, error)
}

type queueEntryRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewQueueEntryRepo(db *gorm.DB, baseLog *logger.Logger) QueueEntryRepo {
	return &queueEntryRepo{db: db, log: baseLog.With("repo", "QueueEntryRepo")}
}

func (r *queueEntryRepo) tx(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

func (r *queueEntryRepo) Create(dbc dbctx.Context, entry *domain.QueueEntry) error {
	return r.tx(dbc).WithContext(dbc.Ctx).Create(entry).Error
}

func (r *queueEntryRepo) HasRunningForItem(dbc dbctx.Context, externalItemID string) (bool, error) {
	var count int64
	err := r.tx(dbc).WithContext(dbc.Ctx).Model(&domain.QueueEntry{}).
		Where("external_item_id = ? AND status = ?", externalItemID, domain.QueueRunning).
		Count(&count).Error
	return count > 0, err
}

// GetRunningForItem returns the one entry currently holding externalItemID's
// running slot, or nil if the item is idle, so a caller can report which
// run a freshly queued entry is waiting behind.
func (r *queueEntryRepo) GetRunningForItem(dbc dbctx.Context, externalItemID string) (*domain.QueueEntry, error) {
	var entry domain.QueueEntry
	err := r.tx(dbc).WithContext(dbc.Ctx).
		Where("external_item_id = ? AND status = ?", externalItemID, domain.QueueRunning).
		First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// ClaimNextForItem atomically claims the highest-priority, oldest pending
// entry for externalItemID, but only if no entry for that item is already
// running — enforcing the one-run-per-item exclusivity rule at the row
// level, the same SKIP LOCKED idea the teacher applies to job claiming.
func (r *queueEntryRepo) ClaimNextForItem(dbc dbctx.Context, externalItemID string) (*domain.QueueEntry, error) {
	transaction := r.tx(dbc)
	now := time.Now()
	var claimed *domain.QueueEntry
	err := transaction.WithContext(dbc.Ctx).Transaction(func(txx *gorm.DB) error {
		var running int64
		if err := txx.Model(&domain.QueueEntry{}).
			Where("external_item_id = ? AND status = ?", externalItemID, domain.QueueRunning).
			Count(&running).Error; err != nil {
			return err
		}
		if running > 0 {
			return nil
		}
		var entry domain.QueueEntry
		qErr := txx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("external_item_id = ? AND status = ?", externalItemID, domain.QueuePending).
			Order("priority DESC, enqueued_at ASC").
			First(&entry).Error
		if errors.Is(qErr, gorm.ErrRecordNotFound) {
			return nil
		}
		if qErr != nil {
			return qErr
		}
		uErr := txx.Model(&domain.QueueEntry{}).Where("id = ?", entry.ID).
			Updates(map[string]interface{}{
				"status":     domain.QueueRunning,
				"started_at": now,
				"updated_at": now,
			}).Error
		if uErr != nil {
			return uErr
		}
		claimed = &entry
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (r *queueEntryRepo) UpdateFields(dbc dbctx.Context, id uint64, updates map[string]interface{}) error {
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	return r.tx(dbc).WithContext(dbc.Ctx).Model(&domain.QueueEntry{}).Where("id = ?", id).Updates(updates).Error
}

func (r *queueEntryRepo) ListPendingByItem(dbc dbctx.Context, externalItemID string) ([]*domain.QueueEntry, error) {
	var out []*domain.QueueEntry
	err := r.tx(dbc).WithContext(dbc.Ctx).
		Where("external_item_id = ? AND status = ?", externalItemID, domain.QueuePending).
		Order("priority DESC, enqueued_at ASC").
		Find(&out).Error
	return out, err
}

func (r *queueEntryRepo) ListDistinctPendingItems(dbc dbctx.Context) ([]string, error) {
	var ids []string
	err := r.tx(dbc).WithContext(dbc.Ctx).Model(&domain.QueueEntry{}).
		Where("status = ?", domain.QueuePending).
		Distinct().
		Pluck("external_item_id", &ids).Error
	return ids, err
}
