// Package validation implements C5, the human-validation coordinator:
// posting structured review prompts to the board, polling for an authorized
// reply, interpreting it into a verdict, and chaining rejections into a
// bounded reject->implement loop. Grounded on the teacher's approach to
// jobs/learning's quiz-answer interpretation (a rule-based matcher with a
// model fallback) rather than on any single teacher file, since the teacher
// has no human-in-the-loop review flow of its own.
package validation

import (
	"context"
	"regexp"
	"strings"
)

type Verdict string

const (
	VerdictApprove             Verdict = "approve"
	VerdictReject              Verdict = "reject"
	VerdictAbandon             Verdict = "abandon"
	VerdictClarificationNeeded Verdict = "clarification_needed"
	VerdictQuestion            Verdict = "question"
	VerdictUnclear             Verdict = "unclear"
)

// Decision is the outcome of interpreting one reviewer reply.
type Decision struct {
	Verdict                  Verdict
	Confidence               float64
	ModificationInstructions string
	Method                   string
}

// Interpreter turns a reviewer's reply body into a Decision. Implementations
// MAY consult a language model but MUST fall back to a rule-based matcher,
// per spec's interpreter contract.
type Interpreter interface {
	Interpret(ctx context.Context, body string) (Decision, error)
}

var htmlTag = regexp.MustCompile(`<[^>]*>`)

// stripMarkup removes HTML tags and collapses whitespace, matching the
// "body is stripped of HTML/markup" step before interpretation.
func stripMarkup(body string) string {
	cleaned := htmlTag.ReplaceAllString(body, " ")
	return strings.TrimSpace(strings.Join(strings.Fields(cleaned), " "))
}

var (
	approveKeywords = []string{"approve", "approved", "lgtm", "looks good", "valid", "yes", "ok", "ship it"}
	rejectKeywords  = []string{"reject", "no", "change", "fix", "don't", "not quite", "incorrect"}
	abandonKeywords = []string{"abandon", "stop", "cancel this", "give up"}
)

// ruleInterpreter is the mandatory fallback matcher: a small ordered set of
// keyword checks, cheap enough to run on every reply before ever reaching
// for a model.
type ruleInterpreter struct{}

// NewRuleInterpreter returns the keyword-based Interpreter that every
// deployment must have available as a fallback.
func NewRuleInterpreter() Interpreter { return ruleInterpreter{} }

func (ruleInterpreter) Interpret(_ context.Context, body string) (Decision, error) {
	clean := stripMarkup(body)
	lower := strings.ToLower(clean)

	if lower == "" {
		return Decision{Verdict: VerdictUnclear, Confidence: 0, Method: "rule"}, nil
	}
	if strings.HasSuffix(strings.TrimSpace(lower), "?") {
		return Decision{Verdict: VerdictQuestion, Confidence: 0.6, Method: "rule"}, nil
	}
	if containsAny(lower, abandonKeywords) {
		return Decision{Verdict: VerdictAbandon, Confidence: 0.9, Method: "rule"}, nil
	}
	if containsAny(lower, approveKeywords) {
		return Decision{Verdict: VerdictApprove, Confidence: 0.85, Method: "rule"}, nil
	}
	if containsAny(lower, rejectKeywords) {
		return Decision{
			Verdict:                  VerdictReject,
			Confidence:               0.75,
			ModificationInstructions: rejectInstructions(clean),
			Method:                   "rule",
		}, nil
	}
	return Decision{Verdict: VerdictUnclear, Confidence: 0.2, Method: "rule"}, nil
}

func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}

// rejectInstructions captures everything after a leading rejection keyword
// as the modification instructions, or the whole body when no keyword
// prefixes it, per the "rest of the text captured as modification
// instructions" rule.
func rejectInstructions(body string) string {
	lower := strings.ToLower(body)
	for _, kw := range rejectKeywords {
		if idx := strings.Index(lower, kw); idx == 0 {
			rest := strings.TrimSpace(body[len(kw):])
			rest = strings.TrimLeft(rest, ",:.- ")
			if rest != "" {
				return rest
			}
		}
	}
	return body
}

// FallbackInterpreter tries primary first and only consults fallback when
// primary reports unclear, matching "MAY use a language model; MUST fall
// back to a rule-based matcher".
type FallbackInterpreter struct {
	Primary  Interpreter
	Fallback Interpreter
}

func NewFallbackInterpreter(primary, fallback Interpreter) Interpreter {
	return FallbackInterpreter{Primary: primary, Fallback: fallback}
}

func (f FallbackInterpreter) Interpret(ctx context.Context, body string) (Decision, error) {
	d, err := f.Primary.Interpret(ctx, body)
	if err == nil && d.Verdict != VerdictUnclear {
		return d, nil
	}
	return f.Fallback.Interpret(ctx, body)
}
