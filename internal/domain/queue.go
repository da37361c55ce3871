package domain

import "time"

type QueueStatus string

const (
	QueuePending QueueStatus = "pending"
	QueueRunning QueueStatus = "running"
	QueueWaiting QueueStatus = "waiting_validation"
	QueueDone    QueueStatus = "done"
)

// QueueEntry is the FIFO-with-priority record backing the per-item exclusion
// rule of C3: at most one entry per external_item_id may be "running" at a
// time, but a "waiting_validation" entry does not hold that slot, so a late
// comment on the same item can enqueue a fresh entry behind it.
type QueueEntry struct {
	ID             uint64      `gorm:"primaryKey;autoIncrement" json:"queue_entry_id"`
	ExternalItemID string      `gorm:"column:external_item_id;not null;index" json:"external_item_id"`
	TaskID         uint64      `gorm:"column:task_id;not null;index" json:"task_id"`
	RunID          *uint64     `gorm:"column:run_id" json:"run_id,omitempty"`
	Priority       int         `gorm:"column:priority;not null;default:5;index" json:"priority"`
	Status         QueueStatus `gorm:"column:status;not null;index;default:pending" json:"status"`
	EnqueuedAt     time.Time   `gorm:"column:enqueued_at;not null;default:now()" json:"enqueued_at"`
	StartedAt      *time.Time  `gorm:"column:started_at" json:"started_at,omitempty"`
	FinishedAt     *time.Time  `gorm:"column:finished_at" json:"finished_at,omitempty"`
	CreatedAt      time.Time   `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt      time.Time   `gorm:"not null;default:now()" json:"updated_at"`
}

func (QueueEntry) TableName() string { return "queue_entry" }

// QueueAdmission is Enqueue's verdict on a freshly created QueueEntry: spec.md
// §4.1(4) requires the webhook response to tell accepted (will run next)
// apart from queued (waiting behind a running or higher-priority entry for
// the same item).
type QueueAdmission struct {
	Entry          *QueueEntry
	Accepted       bool
	Position       int
	RunningQueueID *uint64
}
