// Package reactivation implements C6: deciding whether a comment arriving
// on a task that has already reached a terminal status should spawn a new
// run. Like internal/validation's interpreter, it is an "is this text
// meaningful intent" classifier with a mandatory cheap rule-based path and
// an optional model path; here the model score is used whenever an LLM is
// set, and the rule score covers a nil LLM or a failed model call.
package reactivation

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/boardflow/orchestrator/internal/adapters"
	"github.com/boardflow/orchestrator/internal/domain"
	"github.com/boardflow/orchestrator/internal/platform/logger"
)

// Decision is the analyzer's verdict on one candidate reactivation comment.
type Decision struct {
	Accept     bool
	Confidence float64
	Reason     string
}

// intentKeywords nudge the rule-based score up when present; their absence
// does not by itself reject, since a terse "please also handle foo" is
// still plausibly a new request.
var intentKeywords = []string{
	"please", "can you", "also", "now", "again", "reopen", "redo",
	"add", "fix", "update", "change", "implement", "support",
}

// acknowledgementPhrases are low-intent noise — thanks/closing remarks on an
// already-finished task — that should never reactivate by themselves.
var acknowledgementPhrases = []string{"thanks", "thank you", "great", "nice work", "lgtm", "👍", "perfect"}

// Analyzer scores inbound comments on terminal tasks for reactivation
// intent. LLM is optional; when nil, only the rule-based score is used.
type Analyzer struct {
	LLM            adapters.LLMClient
	SystemAuthorID string
	Threshold      float64
	Log            *logger.Logger
}

func NewAnalyzer(llm adapters.LLMClient, systemAuthorID string, threshold float64, lg *logger.Logger) *Analyzer {
	return &Analyzer{
		LLM:            llm,
		SystemAuthorID: systemAuthorID,
		Threshold:      threshold,
		Log:            lg.With("service", "reactivation.Analyzer"),
	}
}

// Evaluate decides whether commentBody, posted by commentAuthorID on task,
// should spawn a new run. It refuses self-authored comments, comments on a
// non-terminal or locked task, and comments on a task still within its
// cooldown window outright, before ever scoring intent.
func (a *Analyzer) Evaluate(ctx context.Context, task *domain.Task, commentAuthorID, commentBody string, now time.Time) Decision {
	if a.SystemAuthorID != "" && commentAuthorID == a.SystemAuthorID {
		return Decision{Accept: false, Reason: "self-authored comment"}
	}
	if !task.IsReactivationEligible(now) {
		reason := "task not in a terminal, unlocked, post-cooldown state"
		if task.IsLocked {
			reason = "task is locked"
		} else if task.CooldownUntil != nil && now.Before(*task.CooldownUntil) {
			reason = "task is within its cooldown window"
		} else if !domain.TerminalTaskStatuses[task.InternalStatus] {
			reason = "task status is not terminal"
		}
		return Decision{Accept: false, Reason: reason}
	}

	score, method := a.score(ctx, commentBody)
	accept := score >= a.Threshold
	reason := "intent score below threshold"
	if accept {
		reason = "intent score at or above threshold"
	}
	a.Log.Info("reactivation intent scored",
		"task_id", task.ID, "method", method, "score", score, "threshold", a.Threshold, "accept", accept)
	return Decision{Accept: accept, Confidence: score, Reason: reason}
}

func (a *Analyzer) score(ctx context.Context, body string) (float64, string) {
	if a.LLM != nil {
		if score, ok := a.llmScore(ctx, body); ok {
			return score, "model"
		}
	}
	return ruleScore(body), "rule"
}

func (a *Analyzer) llmScore(ctx context.Context, body string) (float64, bool) {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"is_new_request": map[string]any{"type": "boolean"},
			"confidence":      map[string]any{"type": "number"},
		},
		"required": []string{"is_new_request", "confidence"},
	}
	out, err := a.LLM.CompleteJSON(ctx,
		"Decide whether the following board comment, left on an already-finished task, constitutes a new work request.",
		body, "reactivation_intent", schema)
	if err != nil {
		a.Log.Warn("reactivation llm scoring failed, falling back to rule score", "error", err)
		return 0, false
	}
	conf, _ := out["confidence"].(float64)
	isNew, _ := out["is_new_request"].(bool)
	if !isNew {
		return 0, true
	}
	return conf, true
}

// ruleScore is the mandatory fallback: a small bag-of-keywords heuristic
// that never requires network access.
func ruleScore(body string) float64 {
	clean := strings.ToLower(strings.TrimSpace(body))
	if clean == "" {
		return 0
	}
	if isAcknowledgement(clean) {
		return 0.05
	}

	score := 0.1
	for _, kw := range intentKeywords {
		if strings.Contains(clean, kw) {
			score += 0.15
		}
	}
	if strings.Contains(clean, "?") {
		score += 0.1
	}
	if len(strings.Fields(clean)) >= 4 {
		score += 0.1
	}
	if score > 1 {
		score = 1
	}
	return score
}

func isAcknowledgement(clean string) bool {
	for _, p := range acknowledgementPhrases {
		if strings.Contains(clean, p) {
			return true
		}
	}
	return false
}

// BuildReactivationRun assembles a new domain.Run for an accepted
// reactivation, per spec.md §4.5 item 3: is_reactivation=true, linked to
// the task's last run, with the triggering comment text carried in
// ReactivationContext rather than mutating the task's own description.
func BuildReactivationRun(task *domain.Task, commentBody string) *domain.Run {
	return &domain.Run{
		TaskID:              task.ID,
		ExternalItemID:      task.ExternalItemID,
		Status:              domain.RunPending,
		IsReactivation:      true,
		ParentRunID:         task.LastRunID,
		ReactivationContext: commentBody,
	}
}

// ReactivationPrefix builds the prefix of the synthetic task description
// spec.md §4.5 calls for: the original description plus a
// reactivation-number marker line. The caller appends the new comment text
// after it.
func ReactivationPrefix(task *domain.Task, reactivationNumber int) string {
	var b strings.Builder
	b.WriteString(task.Description)
	b.WriteString("\n\n---\n")
	b.WriteString("Reactivation #")
	b.WriteString(strconv.Itoa(reactivationNumber))
	b.WriteString(" triggered by a new comment on a completed task.\n")
	return b.String()
}
