package domain

import (
	"time"

	"gorm.io/datatypes"
)

type WebhookEventKind string

const (
	WebhookEventComment      WebhookEventKind = "comment"
	WebhookEventStatusChange WebhookEventKind = "status_change"
	WebhookEventItemCreated  WebhookEventKind = "item_created"
	WebhookEventUnknown      WebhookEventKind = "unknown"
)

// WebhookEvent is an immutable record of every inbound board webhook, kept
// for audit and replay regardless of whether the event was classified as
// actionable. There is deliberately no DeletedAt: events are never soft
// deleted, matching the teacher's append-only audit tables.
type WebhookEvent struct {
	ID             uint64           `gorm:"primaryKey;autoIncrement" json:"webhook_event_id"`
	ExternalItemID string           `gorm:"column:external_item_id;index" json:"external_item_id"`
	Kind           WebhookEventKind `gorm:"column:kind;not null;index" json:"kind"`
	Actionable     bool             `gorm:"column:actionable;not null;default:false" json:"actionable"`
	SkipReason     string           `gorm:"column:skip_reason" json:"skip_reason,omitempty"`
	Payload        datatypes.JSON   `gorm:"column:payload" json:"payload"`
	ReceivedAt     time.Time        `gorm:"column:received_at;not null;default:now()" json:"received_at"`
}

func (WebhookEvent) TableName() string { return "webhook_event" }
