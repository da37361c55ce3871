package repos

import (
	"context"
	"testing"
	"time"

	"github.com/boardflow/orchestrator/internal/data/repos/testutil"
	"github.com/boardflow/orchestrator/internal/domain"
	"github.com/boardflow/orchestrator/internal/platform/dbctx"
)

func TestValidationRepo(t *testing.T) {
	db := testutil.DB(t)
	repo := NewValidationRepo(db, testutil.Logger(t))
	dbc := dbctx.Context{Ctx: context.Background()}

	req := &domain.ValidationRequest{
		RunID:          1,
		ExternalItemID: "item-1",
		Status:         domain.ValidationPending,
		TimeoutAt:      time.Now().Add(-time.Minute),
	}
	if err := repo.CreateRequest(dbc, req); err != nil {
		t.Fatalf("CreateRequest: %v", err)
	}

	open, err := repo.GetOpenRequestByRunID(dbc, 1)
	if err != nil || open == nil {
		t.Fatalf("GetOpenRequestByRunID: err=%v got=%v", err, open)
	}

	timedOut, err := repo.ListTimedOut(dbc, time.Now())
	if err != nil {
		t.Fatalf("ListTimedOut: %v", err)
	}
	if len(timedOut) != 1 {
		t.Fatalf("expected 1 timed out request, got %d", len(timedOut))
	}

	pending, err := repo.ListPending(dbc)
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("expected 1 pending request, got %d", len(pending))
	}

	resp := &domain.ValidationResponse{ValidationRequestID: req.ID, Verdict: domain.ValidationApproved, ReviewerID: "r1"}
	if err := repo.CreateResponse(dbc, resp); err != nil {
		t.Fatalf("CreateResponse: %v", err)
	}
	responses, err := repo.ListResponses(dbc, req.ID)
	if err != nil || len(responses) != 1 {
		t.Fatalf("ListResponses: err=%v len=%d", err, len(responses))
	}

	if err := repo.UpdateRequestFields(dbc, req.ID, map[string]interface{}{"status": domain.ValidationApproved}); err != nil {
		t.Fatalf("UpdateRequestFields: %v", err)
	}
	open, err = repo.GetOpenRequestByRunID(dbc, 1)
	if err != nil {
		t.Fatalf("GetOpenRequestByRunID after approve: %v", err)
	}
	if open != nil {
		t.Fatalf("expected no open request after approval, got %+v", open)
	}
}
