// Package domain holds the GORM-mapped entities described in the data
// model: Task, Run, StageExecution, ValidationRequest, ValidationResponse,
// WebhookEvent and QueueEntry, plus their shared enums. Modeled the way
// the teacher models internal/domain/jobs.JobRun: plain structs, gorm tags
// for the schema, datatypes.JSON for snapshot columns.
package domain

import (
	"time"

	"gorm.io/gorm"
)

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// PriorityWeight maps a task priority to the numeric queue priority used for
// ordering pending QueueEntry rows, per spec.md §4.1 (urgent->9, high->7,
// medium->5, low->3; default 5).
func PriorityWeight(p Priority) int {
	switch p {
	case PriorityUrgent:
		return 9
	case PriorityHigh:
		return 7
	case PriorityMedium:
		return 5
	case PriorityLow:
		return 3
	default:
		return 5
	}
}

type TaskStatus string

const (
	TaskPending           TaskStatus = "pending"
	TaskInProgress        TaskStatus = "in_progress"
	TaskWaitingValidation TaskStatus = "waiting_validation"
	TaskCompleted         TaskStatus = "completed"
	TaskFailed            TaskStatus = "failed"
	TaskAbandoned         TaskStatus = "abandoned"
	TaskQualityCheck      TaskStatus = "quality_check"
)

// TerminalTaskStatuses are the statuses under which a late comment is
// considered for reactivation by C6 (spec.md §4.5, and Open Question #3:
// quality_check is reactivation-eligible per the original source).
var TerminalTaskStatuses = map[TaskStatus]bool{
	TaskCompleted:    true,
	TaskFailed:       true,
	TaskQualityCheck: true,
}

// Task is one row per distinct board item the system has ever seen.
type Task struct {
	ID               uint64     `gorm:"primaryKey;autoIncrement" json:"task_id"`
	ExternalItemID   string     `gorm:"column:external_item_id;uniqueIndex;not null" json:"external_item_id"`
	Title            string     `gorm:"column:title" json:"title"`
	Description      string     `gorm:"column:description;type:text" json:"description"`
	Priority         Priority   `gorm:"column:priority;not null;default:medium" json:"priority"`
	RepositoryURL    string     `gorm:"column:repository_url" json:"repository_url"`
	UserLanguage     string     `gorm:"column:user_language" json:"user_language,omitempty"`
	CreatorID        string     `gorm:"column:creator_id;index" json:"creator_id"`
	CreatorEmail     string     `gorm:"column:creator_email" json:"creator_email,omitempty"`
	InternalStatus   TaskStatus `gorm:"column:internal_status;not null;index;default:pending" json:"internal_status"`
	ReactivationCnt  int        `gorm:"column:reactivation_count;not null;default:0" json:"reactivation_count"`
	CooldownUntil    *time.Time `gorm:"column:cooldown_until" json:"cooldown_until,omitempty"`
	IsLocked         bool       `gorm:"column:is_locked;not null;default:false" json:"is_locked"`
	LastRunID        *uint64    `gorm:"column:last_run_id" json:"last_run_id,omitempty"`
	CreatedAt        time.Time  `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt        time.Time  `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt        gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (Task) TableName() string { return "task" }

// IsReactivationEligible reports whether a comment arriving right now could
// spawn a new run: the task must be in a terminal status, not locked, and
// past any cooldown.
func (t *Task) IsReactivationEligible(now time.Time) bool {
	if t == nil {
		return false
	}
	if t.IsLocked {
		return false
	}
	if !TerminalTaskStatuses[t.InternalStatus] {
		return false
	}
	if t.CooldownUntil != nil && now.Before(*t.CooldownUntil) {
		return false
	}
	return true
}
