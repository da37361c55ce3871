package domain

import (
	"time"

	"gorm.io/datatypes"
)

type ValidationStatus string

const (
	ValidationPending   ValidationStatus = "pending"
	ValidationApproved  ValidationStatus = "approved"
	ValidationRejected  ValidationStatus = "rejected"
	ValidationTimedOut  ValidationStatus = "timed_out"
	ValidationAbandoned ValidationStatus = "abandoned"
)

// ValidationRequest is the durable envelope the human-validation coordinator
// (C5) persists when a run suspends waiting for reviewer sign-off. It plays
// the same role as the teacher's waitpoint record: it captures exactly what
// the run is waiting for so the run can be resumed from cold storage.
type ValidationRequest struct {
	ID                        uint64           `gorm:"primaryKey;autoIncrement" json:"validation_request_id"`
	RunID                     uint64           `gorm:"column:run_id;not null;index" json:"run_id"`
	ExternalItemID            string           `gorm:"column:external_item_id;not null;index" json:"external_item_id"`
	Status                    ValidationStatus `gorm:"column:status;not null;index;default:pending" json:"status"`
	PRURL                     string           `gorm:"column:pr_url" json:"pr_url,omitempty"`
	Summary                   string           `gorm:"column:summary;type:text" json:"summary,omitempty"`
	Context                   datatypes.JSON   `gorm:"column:context" json:"context,omitempty"`
	// ParentValidationID chains a re-prompt back to the request it followed
	// a rejection of, so a reviewer's reply-to reference can be resolved
	// across the whole reject -> rework -> re-validate cycle, not just the
	// most recent request.
	ParentValidationID *uint64 `gorm:"column:parent_validation_id;index" json:"parent_validation_id,omitempty"`
	// RejectionCount is this request's position in that chain: 0 for the
	// first validation attempt on a run, incremented on each rework cycle.
	RejectionCount int `gorm:"column:rejection_count;not null;default:0" json:"rejection_count"`
	// ModificationInstructions carries the reviewer's rejection comment
	// forward into the re-prompt, the text analyzeStage appends as extra
	// reviewer instructions on a rework pass.
	ModificationInstructions string    `gorm:"column:modification_instructions;type:text" json:"modification_instructions,omitempty"`
	// BoardCommentID is the id PostComment returned for this request's
	// prompt, so a reviewer's reply can be matched by reply-to reference
	// instead of only by chronological order.
	BoardCommentID string     `gorm:"column:board_comment_id" json:"board_comment_id,omitempty"`
	RequestedAt    time.Time  `gorm:"column:requested_at;not null;default:now()" json:"requested_at"`
	TimeoutAt      time.Time  `gorm:"column:timeout_at;not null;index" json:"timeout_at"`
	ResolvedAt     *time.Time `gorm:"column:resolved_at" json:"resolved_at,omitempty"`
}

func (ValidationRequest) TableName() string { return "validation_request" }

// ValidationResponse records one reviewer reply against a ValidationRequest.
// A request can receive more than one response (e.g. a rejection followed
// by an approval after rework), so responses are append-only children.
type ValidationResponse struct {
	ID                  uint64           `gorm:"primaryKey;autoIncrement" json:"validation_response_id"`
	ValidationRequestID uint64           `gorm:"column:validation_request_id;not null;index" json:"validation_request_id"`
	Verdict             ValidationStatus `gorm:"column:verdict;not null" json:"verdict"`
	ReviewerID          string           `gorm:"column:reviewer_id" json:"reviewer_id,omitempty"`
	Comment             string           `gorm:"column:comment;type:text" json:"comment,omitempty"`
	Confidence          float64          `gorm:"column:confidence" json:"confidence,omitempty"`
	ReceivedAt          time.Time        `gorm:"column:received_at;not null;default:now()" json:"received_at"`
}

func (ValidationResponse) TableName() string { return "validation_response" }
