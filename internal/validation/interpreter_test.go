package validation

import (
	"context"
	"testing"
)

func TestRuleInterpreterApprove(t *testing.T) {
	d, err := NewRuleInterpreter().Interpret(nil, "Looks good, ship it!")
	if err != nil {
		t.Fatalf("interpret: %v", err)
	}
	if d.Verdict != VerdictApprove {
		t.Fatalf("expected approve, got %s", d.Verdict)
	}
}

func TestRuleInterpreterReject(t *testing.T) {
	d, err := NewRuleInterpreter().Interpret(nil, "no, please fix the error handling in the parser")
	if err != nil {
		t.Fatalf("interpret: %v", err)
	}
	if d.Verdict != VerdictReject {
		t.Fatalf("expected reject, got %s", d.Verdict)
	}
	if d.ModificationInstructions == "" {
		t.Fatalf("expected modification instructions to be captured")
	}
}

func TestRuleInterpreterAbandon(t *testing.T) {
	d, err := NewRuleInterpreter().Interpret(nil, "abandon this task")
	if err != nil {
		t.Fatalf("interpret: %v", err)
	}
	if d.Verdict != VerdictAbandon {
		t.Fatalf("expected abandon, got %s", d.Verdict)
	}
}

func TestRuleInterpreterQuestion(t *testing.T) {
	d, err := NewRuleInterpreter().Interpret(nil, "does this handle the nil case?")
	if err != nil {
		t.Fatalf("interpret: %v", err)
	}
	if d.Verdict != VerdictQuestion {
		t.Fatalf("expected question, got %s", d.Verdict)
	}
}

func TestRuleInterpreterStripsMarkup(t *testing.T) {
	d, err := NewRuleInterpreter().Interpret(nil, "<p>approve</p>")
	if err != nil {
		t.Fatalf("interpret: %v", err)
	}
	if d.Verdict != VerdictApprove {
		t.Fatalf("expected markup-stripped approve, got %s", d.Verdict)
	}
}

func TestFallbackInterpreterOnlyConsultsFallbackWhenUnclear(t *testing.T) {
	primary := stubInterpreter{d: Decision{Verdict: VerdictUnclear}}
	fallback := stubInterpreter{d: Decision{Verdict: VerdictApprove, Method: "fallback"}}
	fi := NewFallbackInterpreter(primary, fallback)

	d, err := fi.Interpret(nil, "whatever")
	if err != nil {
		t.Fatalf("interpret: %v", err)
	}
	if d.Verdict != VerdictApprove || d.Method != "fallback" {
		t.Fatalf("expected fallback decision, got %#v", d)
	}
}

func TestFallbackInterpreterSkipsFallbackWhenPrimaryConfident(t *testing.T) {
	primary := stubInterpreter{d: Decision{Verdict: VerdictApprove, Method: "primary"}}
	fallback := stubInterpreter{d: Decision{Verdict: VerdictReject, Method: "fallback"}}
	fi := NewFallbackInterpreter(primary, fallback)

	d, err := fi.Interpret(nil, "yes")
	if err != nil {
		t.Fatalf("interpret: %v", err)
	}
	if d.Method != "primary" {
		t.Fatalf("expected primary decision to win, got %#v", d)
	}
}

type stubInterpreter struct{ d Decision }

func (s stubInterpreter) Interpret(_ context.Context, _ string) (Decision, error) {
	return s.d, nil
}
