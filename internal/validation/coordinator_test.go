package validation

import (
	"context"
	"testing"
	"time"

	"github.com/boardflow/orchestrator/internal/adapters"
	"github.com/boardflow/orchestrator/internal/data/repos"
	"github.com/boardflow/orchestrator/internal/data/repos/testutil"
	"github.com/boardflow/orchestrator/internal/domain"
	"github.com/boardflow/orchestrator/internal/platform/dbctx"
)

type fakeBoard struct {
	posted      []string
	comments    []adapters.Comment
	commentsErr error
}

func (f *fakeBoard) PostComment(_ context.Context, _ string, body string) (string, error) {
	f.posted = append(f.posted, body)
	return "c-1", nil
}

func (f *fakeBoard) GetItemStatus(_ context.Context, _ string) (string, error) { return "", nil }

func (f *fakeBoard) ListComments(_ context.Context, _ string, _ time.Time) ([]adapters.Comment, error) {
	return f.comments, f.commentsErr
}

type authErrBoard struct{ *fakeBoard }

func (b authErrBoard) PostComment(_ context.Context, _ string, _ string) (string, error) {
	return "", &adapters.BoardAuthError{StatusCode: 403, Body: "forbidden"}
}

func newTestCoordinator(t *testing.T, board adapters.Board) (*Coordinator, repos.ValidationRepo) {
	t.Helper()
	db := testutil.DB(t)
	repo := repos.NewValidationRepo(db, testutil.Logger(t))
	coord := NewCoordinator(repo, board, adapters.NewPassthroughTranslator(), NewRuleInterpreter(), 3, testutil.Logger(t))
	coord.Sleep = func(time.Duration) {}
	return coord, repo
}

func testTask() *domain.Task {
	return &domain.Task{ID: 1, ExternalItemID: "item-1", CreatorID: "creator-1", CreatorEmail: "creator@example.com", UserLanguage: "en"}
}

func TestRequestValidationPostsAndPersists(t *testing.T) {
	board := &fakeBoard{}
	coord, repo := newTestCoordinator(t, board)
	run := &domain.Run{ID: 1}
	req, err := coord.RequestValidation(context.Background(), run, testTask(), RunSummary{PRURL: "https://host/pr/1", TestPassed: true}, time.Hour)
	if err != nil {
		t.Fatalf("request validation: %v", err)
	}
	if req.Status != domain.ValidationPending {
		t.Fatalf("expected pending request, got %s", req.Status)
	}
	if len(board.posted) != 1 {
		t.Fatalf("expected one comment posted, got %d", len(board.posted))
	}
	got, err := repo.GetOpenRequestByRunID(dbctx.Context{Ctx: context.Background()}, run.ID)
	if err != nil || got == nil {
		t.Fatalf("expected persisted open request: err=%v got=%v", err, got)
	}
}

func TestRequestValidationAutoApprovesOnBoardAuthErrorWhenTestsPassed(t *testing.T) {
	board := authErrBoard{&fakeBoard{}}
	coord, _ := newTestCoordinator(t, board)
	run := &domain.Run{ID: 2}
	req, err := coord.RequestValidation(context.Background(), run, testTask(), RunSummary{TestPassed: true}, time.Hour)
	if err != nil {
		t.Fatalf("expected auto-approve, got error: %v", err)
	}
	if req.Status != domain.ValidationApproved {
		t.Fatalf("expected auto-approved request, got %s", req.Status)
	}
}

func TestRequestValidationPropagatesBoardErrorWhenTestsFailed(t *testing.T) {
	board := authErrBoard{&fakeBoard{}}
	coord, _ := newTestCoordinator(t, board)
	run := &domain.Run{ID: 3}
	_, err := coord.RequestValidation(context.Background(), run, testTask(), RunSummary{TestPassed: false}, time.Hour)
	if err == nil {
		t.Fatalf("expected error when tests failed and board post fails")
	}
}

func TestRequestValidationPersistsBoardCommentID(t *testing.T) {
	board := &fakeBoard{}
	coord, _ := newTestCoordinator(t, board)
	run := &domain.Run{ID: 4}
	req, err := coord.RequestValidation(context.Background(), run, testTask(), RunSummary{TestPassed: true}, time.Hour)
	if err != nil {
		t.Fatalf("request validation: %v", err)
	}
	if req.BoardCommentID != "c-1" {
		t.Fatalf("expected board_comment_id persisted from PostComment, got %q", req.BoardCommentID)
	}
}

func newPendingRequest(t *testing.T, repo repos.ValidationRepo, runID uint64, timeout time.Duration) *domain.ValidationRequest {
	t.Helper()
	req := &domain.ValidationRequest{
		RunID:          runID,
		ExternalItemID: "item-1",
		Status:         domain.ValidationPending,
		RequestedAt:    time.Now(),
		TimeoutAt:      time.Now().Add(timeout),
	}
	if err := repo.CreateRequest(dbctx.Context{Ctx: context.Background()}, req); err != nil {
		t.Fatalf("create request: %v", err)
	}
	return req
}

func TestAwaitResponseApprovesOnAuthorizedReply(t *testing.T) {
	board := &fakeBoard{comments: []adapters.Comment{
		{ID: "c-1", AuthorID: "creator-1", Body: "approve", CreatedAt: time.Now()},
	}}
	coord, repo := newTestCoordinator(t, board)
	task := testTask()
	run := &domain.Run{ID: 10}
	req := newPendingRequest(t, repo, run.ID, time.Hour)

	decision, err := coord.AwaitResponse(context.Background(), req, task, run, time.Hour)
	if err != nil {
		t.Fatalf("await response: %v", err)
	}
	if decision.Verdict != VerdictApprove {
		t.Fatalf("expected approve, got %s", decision.Verdict)
	}
}

func TestAwaitResponseIgnoresUnauthorizedReplyThenApproves(t *testing.T) {
	board := &fakeBoard{comments: []adapters.Comment{
		{ID: "c-1", AuthorID: "intruder", Body: "approve", CreatedAt: time.Now()},
		{ID: "c-2", AuthorID: "creator-1", Body: "approve", CreatedAt: time.Now()},
	}}
	coord, repo := newTestCoordinator(t, board)
	task := testTask()
	run := &domain.Run{ID: 11}
	req := newPendingRequest(t, repo, run.ID, time.Hour)

	decision, err := coord.AwaitResponse(context.Background(), req, task, run, time.Hour)
	if err != nil {
		t.Fatalf("await response: %v", err)
	}
	if decision.Verdict != VerdictApprove {
		t.Fatalf("expected approve, got %s", decision.Verdict)
	}
	if len(board.posted) != 1 {
		t.Fatalf("expected one unauthorized-reply notice posted, got %d", len(board.posted))
	}
}

func TestAwaitResponseCoercesRejectionLimitToAbandon(t *testing.T) {
	board := &fakeBoard{comments: []adapters.Comment{
		{ID: "c-1", AuthorID: "creator-1", Body: "no, please redo the tests", CreatedAt: time.Now()},
	}}
	coord, repo := newTestCoordinator(t, board)
	task := testTask()
	run := &domain.Run{ID: 12, RejectionCount: 2}
	req := newPendingRequest(t, repo, run.ID, time.Hour)

	decision, err := coord.AwaitResponse(context.Background(), req, task, run, time.Hour)
	if err != nil {
		t.Fatalf("await response: %v", err)
	}
	if decision.Verdict != VerdictAbandon {
		t.Fatalf("expected rejection limit to coerce to abandon, got %s", decision.Verdict)
	}
	if run.RejectionCount != 3 {
		t.Fatalf("expected rejection count incremented to 3, got %d", run.RejectionCount)
	}
}

func TestAwaitResponsePrefersReplyToOverChronologicalOrder(t *testing.T) {
	board := &fakeBoard{comments: []adapters.Comment{
		{ID: "c-2", AuthorID: "creator-1", Body: "no, please redo the tests", CreatedAt: time.Now()},
		{ID: "c-3", AuthorID: "creator-1", Body: "approve", CreatedAt: time.Now(), ReplyToID: "prompt-1"},
	}}
	coord, repo := newTestCoordinator(t, board)
	task := testTask()
	run := &domain.Run{ID: 14}
	req := newPendingRequest(t, repo, run.ID, time.Hour)
	req.BoardCommentID = "prompt-1"

	decision, err := coord.AwaitResponse(context.Background(), req, task, run, time.Hour)
	if err != nil {
		t.Fatalf("await response: %v", err)
	}
	if decision.Verdict != VerdictApprove {
		t.Fatalf("expected the reply-to match to be resolved first, got %s", decision.Verdict)
	}
}

func TestAwaitResponseTimesOutWhenNoReply(t *testing.T) {
	board := &fakeBoard{}
	coord, repo := newTestCoordinator(t, board)
	task := testTask()
	run := &domain.Run{ID: 13}
	req := newPendingRequest(t, repo, run.ID, -time.Minute)

	_, err := coord.AwaitResponse(context.Background(), req, task, run, time.Hour)
	if err != ErrValidationTimedOut {
		t.Fatalf("expected timeout error, got %v", err)
	}

	stored, err := repo.GetRequestByID(dbctx.Context{Ctx: context.Background()}, req.ID)
	if err != nil {
		t.Fatalf("get request: %v", err)
	}
	if stored.Status != domain.ValidationTimedOut {
		t.Fatalf("expected timed_out status, got %s", stored.Status)
	}
}
