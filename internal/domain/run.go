package domain

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type RunStatus string

const (
	RunPending           RunStatus = "pending"
	RunRunning           RunStatus = "running"
	RunWaitingValidation RunStatus = "waiting_validation"
	RunCompleted         RunStatus = "completed"
	RunFailed            RunStatus = "failed"
	RunCanceled          RunStatus = "canceled"
)

// IsTerminal reports whether the scheduler considers a run done advancing.
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunCompleted, RunFailed, RunCanceled:
		return true
	default:
		return false
	}
}

// Run is one attempt at driving a Task through the stage graph, mirroring
// the teacher's jobs.JobRun: a claimable row with status/stage/progress and
// a JSON snapshot column for crash recovery.
type Run struct {
	ID                  uint64         `gorm:"primaryKey;autoIncrement" json:"run_id"`
	TaskID              uint64         `gorm:"column:task_id;not null;index" json:"task_id"`
	ExternalItemID      string         `gorm:"column:external_item_id;not null;index" json:"external_item_id"`
	Status              RunStatus      `gorm:"column:status;not null;index;default:pending" json:"status"`
	CurrentStage        string         `gorm:"column:current_stage" json:"current_stage"`
	Attempt             int            `gorm:"column:attempt;not null;default:1" json:"attempt"`
	DebugAttempts       int            `gorm:"column:debug_attempts;not null;default:0" json:"debug_attempts"`
	RejectionCount      int            `gorm:"column:rejection_count;not null;default:0" json:"rejection_count"`
	IsReactivation      bool           `gorm:"column:is_reactivation;not null;default:false" json:"is_reactivation"`
	ParentRunID         *uint64        `gorm:"column:parent_run_id" json:"parent_run_id,omitempty"`
	ReactivationContext string         `gorm:"column:reactivation_context;type:text" json:"reactivation_context,omitempty"`
	LastMergedPRURL     string         `gorm:"column:last_merged_pr_url" json:"last_merged_pr_url,omitempty"`
	Snapshot            datatypes.JSON `gorm:"column:snapshot" json:"snapshot,omitempty"`
	Result              datatypes.JSON `gorm:"column:result" json:"result,omitempty"`
	LastError           string         `gorm:"column:last_error;type:text" json:"last_error,omitempty"`
	LockedBy            string         `gorm:"column:locked_by" json:"locked_by,omitempty"`
	LockedAt            *time.Time     `gorm:"column:locked_at" json:"locked_at,omitempty"`
	HeartbeatAt         *time.Time     `gorm:"column:heartbeat_at" json:"heartbeat_at,omitempty"`
	NextRunAt           *time.Time     `gorm:"column:next_run_at;index" json:"next_run_at,omitempty"`
	StartedAt           *time.Time     `gorm:"column:started_at" json:"started_at,omitempty"`
	FinishedAt          *time.Time     `gorm:"column:finished_at" json:"finished_at,omitempty"`
	CreatedAt      time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt      time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt      gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (Run) TableName() string { return "run" }

// StageExecution records one stage's attempt within a Run, the way the
// teacher's runtime package records each task step of a JobRun.
type StageExecution struct {
	ID          uint64         `gorm:"primaryKey;autoIncrement" json:"stage_execution_id"`
	RunID       uint64         `gorm:"column:run_id;not null;index" json:"run_id"`
	StageName   string         `gorm:"column:stage_name;not null;index" json:"stage_name"`
	Attempt     int            `gorm:"column:attempt;not null;default:1" json:"attempt"`
	Status      RunStatus      `gorm:"column:status;not null;default:pending" json:"status"`
	Input       datatypes.JSON `gorm:"column:input" json:"input,omitempty"`
	Output      datatypes.JSON `gorm:"column:output" json:"output,omitempty"`
	Error       string         `gorm:"column:error;type:text" json:"error,omitempty"`
	StartedAt   *time.Time     `gorm:"column:started_at" json:"started_at,omitempty"`
	FinishedAt  *time.Time     `gorm:"column:finished_at" json:"finished_at,omitempty"`
	DurationMs  int64          `gorm:"column:duration_ms" json:"duration_ms,omitempty"`
	CreatedAt   time.Time      `gorm:"not null;default:now()" json:"created_at"`
}

func (StageExecution) TableName() string { return "stage_execution" }
