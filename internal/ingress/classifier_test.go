package ingress

import (
	"encoding/json"
	"testing"

	"github.com/boardflow/orchestrator/internal/domain"
)

func TestClassifyCommentRequiresTriggerKeyword(t *testing.T) {
	plain := Classify(RawEvent{Type: "create_update", TextBody: "looks good to me"}, "status_col")
	if plain.Actionable {
		t.Fatalf("expected plain chatter to be non-actionable")
	}

	triggered := Classify(RawEvent{Type: "create_update", TextBody: "@agent please implement this"}, "status_col")
	if !triggered.Actionable {
		t.Fatalf("expected trigger keyword comment to be actionable")
	}
}

func TestClassifyStatusChangeOnlyReadyColumn(t *testing.T) {
	ready := Classify(RawEvent{Type: "update_column_value", ColumnID: "status_col"}, "status_col")
	if !ready.Actionable {
		t.Fatalf("expected ready-column change to be actionable")
	}

	other := Classify(RawEvent{Type: "update_column_value", ColumnID: "other_col"}, "status_col")
	if other.Actionable {
		t.Fatalf("expected unrelated column change to be non-actionable")
	}
}

func TestClassifyItemCreationIsActionable(t *testing.T) {
	created := Classify(RawEvent{Type: "create_pulse", PulseID: "5028673529"}, "status_col")
	if !created.Actionable {
		t.Fatalf("expected item creation to be actionable")
	}
	if created.Kind != domain.WebhookEventItemCreated {
		t.Fatalf("expected item_created kind, got %q", created.Kind)
	}
}

func TestRawEventUnmarshalJSONTreatsBareNumberPulseIDAsString(t *testing.T) {
	var evt RawEvent
	body := []byte(`{"type":"create_pulse","pulseId":5028673529,"priority":"high"}`)
	if err := json.Unmarshal(body, &evt); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if evt.PulseID != "5028673529" {
		t.Fatalf("expected pulseId decoded as string, got %q", evt.PulseID)
	}
	if evt.Priority != "high" {
		t.Fatalf("expected priority decoded, got %q", evt.Priority)
	}
}

func TestClassifyUnknownType(t *testing.T) {
	unknown := Classify(RawEvent{Type: "something_else"}, "status_col")
	if unknown.Kind != "unknown" || unknown.Actionable {
		t.Fatalf("expected unknown event type to be non-actionable unknown kind, got %+v", unknown)
	}
}
