package validation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/boardflow/orchestrator/internal/adapters"
	"github.com/boardflow/orchestrator/internal/data/repos"
	"github.com/boardflow/orchestrator/internal/domain"
	"github.com/boardflow/orchestrator/internal/platform/dbctx"
	"github.com/boardflow/orchestrator/internal/platform/logger"
)

// ErrValidationTimedOut is returned by AwaitResponse when no authorized
// reply is observed within the request's timeout. The run is terminated as
// failed, not abandoned, per spec's reactivation-eligibility distinction.
var ErrValidationTimedOut = errors.New("validation timed out")

// RunSummary carries what RequestValidation needs to render the review
// prompt; the worker pool assembles it from the run's persisted snapshot
// (worker.runSummaryFromSnapshot).
type RunSummary struct {
	PRURL          string
	TestPassed     bool
	TestDetail     string
	ModifiedFiles  []string
	StageStatus    string
	CreatorLocale  string
	// ModificationInstructions carries a prior rejection's reviewer comment
	// forward into a rework pass's review prompt and its ValidationRequest.
	ModificationInstructions string
}

// Coordinator implements C5's two operations against a board adapter and
// the validation repo, with a pluggable reply Interpreter.
type Coordinator struct {
	Repo       repos.ValidationRepo
	Board      adapters.Board
	Translator adapters.Translator
	Interp     Interpreter
	Log        *logger.Logger

	MaxRejections int

	// Now and Sleep are overridden in tests to avoid real clock waits.
	Now   func() time.Time
	Sleep func(time.Duration)
}

func NewCoordinator(repo repos.ValidationRepo, board adapters.Board, tr adapters.Translator, interp Interpreter, maxRejections int, lg *logger.Logger) *Coordinator {
	return &Coordinator{
		Repo:          repo,
		Board:         board,
		Translator:    tr,
		Interp:        interp,
		Log:           lg.With("service", "validation.Coordinator"),
		MaxRejections: maxRejections,
		Now:           time.Now,
		Sleep:         time.Sleep,
	}
}

func (c *Coordinator) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

// RequestValidation posts a structured review prompt to the board item and
// persists a ValidationRequest tying the returned comment id to the run.
// When posting fails with a board authorization error but the run itself
// completed successfully, it returns an auto-approved request instead of
// propagating the error (spec's permissions-error fallback).
func (c *Coordinator) RequestValidation(ctx context.Context, run *domain.Run, task *domain.Task, summary RunSummary, timeout time.Duration) (*domain.ValidationRequest, error) {
	body, err := c.renderPrompt(ctx, task, summary)
	if err != nil {
		return nil, fmt.Errorf("render validation prompt: %w", err)
	}

	now := c.now()
	req := &domain.ValidationRequest{
		RunID:                    run.ID,
		ExternalItemID:           task.ExternalItemID,
		Status:                   domain.ValidationPending,
		PRURL:                    summary.PRURL,
		Summary:                  summary.TestDetail,
		RejectionCount:           run.RejectionCount,
		ModificationInstructions: summary.ModificationInstructions,
		RequestedAt:              now,
		TimeoutAt:                now.Add(timeout),
	}
	if run.RejectionCount > 0 {
		if parent, err := c.Repo.GetLatestRequestByRunID(dbctx.Context{Ctx: ctx}, run.ID); err != nil {
			c.Log.Warn("failed to look up prior validation request for chaining", "run_id", run.ID, "error", err)
		} else if parent != nil {
			req.ParentValidationID = &parent.ID
		}
	}

	commentID, postErr := c.Board.PostComment(ctx, task.ExternalItemID, body)
	if postErr != nil {
		var authErr *adapters.BoardAuthError
		if errors.As(postErr, &authErr) && summary.TestPassed {
			c.Log.Warn("board auth error posting validation comment, auto-approving",
				"external_item_id", task.ExternalItemID, "run_id", run.ID, "status", authErr.StatusCode)
			req.Status = domain.ValidationApproved
			resolvedAt := now
			req.ResolvedAt = &resolvedAt
			if err := c.Repo.CreateRequest(dbctx.Context{Ctx: ctx}, req); err != nil {
				return nil, err
			}
			if err := c.Repo.CreateResponse(dbctx.Context{Ctx: ctx}, &domain.ValidationResponse{
				ValidationRequestID: req.ID,
				Verdict:             domain.ValidationApproved,
				Comment:             "auto-approved: board returned a permissions error while posting the review request",
				Confidence:          1,
				ReceivedAt:          now,
			}); err != nil {
				return nil, err
			}
			return req, nil
		}
		return nil, fmt.Errorf("post validation comment: %w", postErr)
	}

	req.BoardCommentID = commentID
	if err := c.Repo.CreateRequest(dbctx.Context{Ctx: ctx}, req); err != nil {
		return nil, err
	}
	return req, nil
}

func (c *Coordinator) renderPrompt(ctx context.Context, task *domain.Task, s RunSummary) (string, error) {
	var b strings.Builder
	b.WriteString("Review requested.\n\n")
	if s.PRURL != "" {
		fmt.Fprintf(&b, "Pull request: %s\n", s.PRURL)
	}
	fmt.Fprintf(&b, "Tests: %s (%s)\n", passFailLabel(s.TestPassed), s.TestDetail)
	if len(s.ModifiedFiles) > 0 {
		fmt.Fprintf(&b, "Modified files: %s\n", strings.Join(s.ModifiedFiles, ", "))
	}
	b.WriteString("\nReply with one of: approve (\"yes\"/\"lgtm\"/\"approve\"), reject with what to change, or abandon (\"abandon\"/\"stop\").")

	out, err := c.Translator.ToCreatorLanguage(ctx, b.String(), task.UserLanguage)
	if err != nil {
		return "", err
	}
	return out, nil
}

func passFailLabel(passed bool) string {
	if passed {
		return "passed"
	}
	return "failed"
}

// adaptivePollIntervals implements spec's "initial fast probes at 0s, 2s,
// 5s; then a steady poll (default every 5s)".
func adaptivePollIntervals(steady time.Duration) []time.Duration {
	return []time.Duration{0, 2 * time.Second, 5 * time.Second, steady}
}

// AwaitResponse polls the board for an authorized reply to req, interprets
// it, and applies rejection chaining. It returns ErrValidationTimedOut if
// no authorized reply lands before req.TimeoutAt, or before noActivityLimit
// elapses with zero new comments observed (spec's early-exit rule).
func (c *Coordinator) AwaitResponse(ctx context.Context, req *domain.ValidationRequest, task *domain.Task, run *domain.Run, noActivityLimit time.Duration) (Decision, error) {
	intervals := adaptivePollIntervals(5 * time.Second)
	idx := 0
	lastActivity := c.now()
	grace := 30 * time.Second

	for {
		if ctx.Err() != nil {
			return Decision{}, ctx.Err()
		}
		now := c.now()
		if now.After(req.TimeoutAt) {
			return c.handleTimeout(ctx, req)
		}
		if now.Sub(lastActivity) > noActivityLimit {
			return c.handleTimeout(ctx, req)
		}

		wait := intervals[idx]
		if idx < len(intervals)-1 {
			idx++
		}
		if wait > 0 {
			c.sleep(wait)
		}

		comments, err := c.Board.ListComments(ctx, task.ExternalItemID, req.RequestedAt.Add(-grace))
		if err != nil {
			c.Log.Warn("list comments failed, will retry", "error", err, "external_item_id", task.ExternalItemID)
			continue
		}
		if len(comments) > 0 {
			lastActivity = c.now()
		}

		comments = prioritizeReplyTo(req.BoardCommentID, comments)
		for _, cm := range comments {
			if !c.isAuthorized(task, cm) {
				c.warnUnauthorized(ctx, task, cm)
				continue
			}
			return c.resolve(ctx, req, run, cm)
		}
	}
}

// prioritizeReplyTo moves any comment that is a direct reply to
// boardCommentID to the front, per spec's preference for reply-to
// reference over chronological order; comments are otherwise left in
// their original relative order.
func prioritizeReplyTo(boardCommentID string, comments []adapters.Comment) []adapters.Comment {
	if boardCommentID == "" {
		return comments
	}
	matched := make([]adapters.Comment, 0, len(comments))
	rest := make([]adapters.Comment, 0, len(comments))
	for _, cm := range comments {
		if cm.ReplyToID == boardCommentID {
			matched = append(matched, cm)
		} else {
			rest = append(rest, cm)
		}
	}
	if len(matched) == 0 {
		return comments
	}
	return append(matched, rest...)
}

func (c *Coordinator) sleep(d time.Duration) {
	if c.Sleep != nil {
		c.Sleep(d)
		return
	}
	time.Sleep(d)
}

// isAuthorized matches by platform user id, falling back to case-insensitive
// email comparison, per the authorized-replier rule.
func (c *Coordinator) isAuthorized(task *domain.Task, cm adapters.Comment) bool {
	if task.CreatorID != "" && cm.AuthorID == task.CreatorID {
		return true
	}
	if task.CreatorEmail != "" && strings.EqualFold(cm.AuthorID, task.CreatorEmail) {
		return true
	}
	return false
}

func (c *Coordinator) warnUnauthorized(ctx context.Context, task *domain.Task, cm adapters.Comment) {
	body := fmt.Sprintf("@%s this task can only be reviewed by its creator (%s); your reply was recorded but will not be acted on.", cm.AuthorID, task.CreatorID)
	if _, err := c.Board.PostComment(ctx, task.ExternalItemID, body); err != nil {
		c.Log.Warn("failed to post unauthorized-reply notice", "error", err, "external_item_id", task.ExternalItemID)
	}
}

func (c *Coordinator) resolve(ctx context.Context, req *domain.ValidationRequest, run *domain.Run, cm adapters.Comment) (Decision, error) {
	decision, err := c.Interp.Interpret(ctx, cm.Body)
	if err != nil {
		return Decision{}, err
	}

	switch decision.Verdict {
	case VerdictReject:
		run.RejectionCount++
		if run.RejectionCount >= c.MaxRejections {
			decision.Verdict = VerdictAbandon
			decision.ModificationInstructions = ""
			c.Log.Info("rejection limit reached, coercing to abandon",
				"run_id", run.ID, "rejection_count", run.RejectionCount, "max", c.MaxRejections)
		}
	}

	resp := &domain.ValidationResponse{
		ValidationRequestID: req.ID,
		Verdict:             verdictToStatus(decision.Verdict),
		ReviewerID:          cm.AuthorID,
		Comment:             cm.Body,
		Confidence:          decision.Confidence,
		ReceivedAt:          c.now(),
	}
	if err := c.Repo.CreateResponse(dbctx.Context{Ctx: ctx}, resp); err != nil {
		return Decision{}, err
	}

	now := c.now()
	updates := map[string]interface{}{
		"status":      verdictToStatus(decision.Verdict),
		"resolved_at": now,
	}
	if err := c.Repo.UpdateRequestFields(dbctx.Context{Ctx: ctx}, req.ID, updates); err != nil {
		return Decision{}, err
	}
	return decision, nil
}

func (c *Coordinator) handleTimeout(ctx context.Context, req *domain.ValidationRequest) (Decision, error) {
	now := c.now()
	if err := c.Repo.UpdateRequestFields(dbctx.Context{Ctx: ctx}, req.ID, map[string]interface{}{
		"status":      domain.ValidationTimedOut,
		"resolved_at": now,
	}); err != nil {
		return Decision{}, err
	}
	return Decision{}, ErrValidationTimedOut
}

func verdictToStatus(v Verdict) domain.ValidationStatus {
	switch v {
	case VerdictApprove:
		return domain.ValidationApproved
	case VerdictReject:
		return domain.ValidationRejected
	case VerdictAbandon:
		return domain.ValidationAbandoned
	default:
		return domain.ValidationPending
	}
}
