package ingress

import (
	"encoding/json"
	"strings"

	"github.com/boardflow/orchestrator/internal/domain"
)

// RawEvent is the shape the board webhook body decodes into: a pulse
// (board item) comment or a column/status change, matching the board's
// pulseId/pulseName vocabulary.
type RawEvent struct {
	Type           string          `json:"type"`
	PulseID        string          `json:"pulseId"`
	PulseName      string          `json:"pulseName"`
	UserID         string          `json:"userId"`
	ColumnID       string          `json:"columnId"`
	ColumnValue    json.RawMessage `json:"columnValue"`
	TextBody       string          `json:"textBody"`
	BoardID        string          `json:"boardId"`
	TriggerKeyword string          `json:"triggerKeyword"`
	Priority       string          `json:"priority"`
}

// UnmarshalJSON tolerates the board sending pulseId as either a quoted
// string or a bare number — the create_pulse payload uses a bare number,
// everything else observed so far quotes it.
func (e *RawEvent) UnmarshalJSON(data []byte) error {
	type alias RawEvent
	aux := struct {
		PulseID json.RawMessage `json:"pulseId"`
		*alias
	}{alias: (*alias)(e)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if len(aux.PulseID) == 0 {
		return nil
	}
	var asString string
	if err := json.Unmarshal(aux.PulseID, &asString); err == nil {
		e.PulseID = asString
		return nil
	}
	var asNumber json.Number
	if err := json.Unmarshal(aux.PulseID, &asNumber); err != nil {
		return err
	}
	e.PulseID = asNumber.String()
	return nil
}

// Classification is the result of deciding whether an inbound event should
// spawn work.
type Classification struct {
	Kind       domain.WebhookEventKind
	Actionable bool
	SkipReason string
}

// triggerKeywords are the comment substrings that mark a comment as a
// request for the orchestrator to act, mirroring the original board
// integration's trigger-phrase check rather than acting on every comment.
var triggerKeywords = []string{"@agent", "/build", "/implement", "please implement", "please fix"}

// Classify decides whether a raw webhook event is actionable. Status-change
// events on a board's "ready" column are always actionable; comment events
// are only actionable when they contain a trigger keyword, so idle chatter
// on a ticket does not spawn a run.
func Classify(evt RawEvent, readyColumnID string) Classification {
	switch evt.Type {
	case "update_column_value":
		if evt.ColumnID == readyColumnID && readyColumnID != "" {
			return Classification{Kind: domain.WebhookEventStatusChange, Actionable: true}
		}
		return Classification{Kind: domain.WebhookEventStatusChange, SkipReason: "column not tracked"}
	case "create_pulse":
		// A new pulse's creation payload carries the item's initial
		// description, which spec.md §4.1(2a) treats as actionable on its
		// own — the same footing as a human comment under (2b).
		return Classification{Kind: domain.WebhookEventItemCreated, Actionable: true}
	case "create_update", "comment":
		if containsTriggerKeyword(evt.TextBody) {
			return Classification{Kind: domain.WebhookEventComment, Actionable: true}
		}
		return Classification{Kind: domain.WebhookEventComment, SkipReason: "no trigger keyword in comment"}
	default:
		return Classification{Kind: domain.WebhookEventUnknown, SkipReason: "unrecognized event type " + evt.Type}
	}
}

func containsTriggerKeyword(text string) bool {
	lower := strings.ToLower(text)
	for _, kw := range triggerKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
