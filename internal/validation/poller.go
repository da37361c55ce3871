package validation

import (
	"context"
	"encoding/json"
	"time"

	"github.com/boardflow/orchestrator/internal/data/repos"
	"github.com/boardflow/orchestrator/internal/domain"
	"github.com/boardflow/orchestrator/internal/platform/dbctx"
	"github.com/boardflow/orchestrator/internal/platform/logger"
	"github.com/boardflow/orchestrator/internal/scheduler"
)

// Poller reconciles outstanding ValidationRequest rows out-of-band, the way
// the teacher's background job dispatchers sweep for timed-out work. This
// is what lets a run sit in waiting_validation across a process restart
// without any in-process timer: every tick re-derives state purely from
// the durable store and the board, per §4.3's "park without holding
// resources" requirement.
type Poller struct {
	Requests    repos.ValidationRepo
	Tasks       repos.TaskRepo
	Runs        repos.RunRepo
	Coordinator *Coordinator
	Log         *logger.Logger

	ReplyGrace time.Duration
}

func NewPoller(requests repos.ValidationRepo, tasks repos.TaskRepo, runs repos.RunRepo, coord *Coordinator, lg *logger.Logger) *Poller {
	return &Poller{
		Requests:    requests,
		Tasks:       tasks,
		Runs:        runs,
		Coordinator: coord,
		Log:         lg.With("service", "validation.Poller"),
		ReplyGrace:  30 * time.Second,
	}
}

// Tick scans every pending ValidationRequest once, resolving the ones with
// an authorized reply or an elapsed timeout, and leaving the rest pending
// for the next tick.
func (p *Poller) Tick(ctx context.Context) error {
	dbc := dbctx.Context{Ctx: ctx}
	pending, err := p.Requests.ListPending(dbc)
	if err != nil {
		return err
	}
	for _, req := range pending {
		if err := p.resolveOne(ctx, req); err != nil {
			p.Log.Warn("poll validation request failed", "validation_request_id", req.ID, "error", err)
		}
	}
	return nil
}

func (p *Poller) resolveOne(ctx context.Context, req *domain.ValidationRequest) error {
	dbc := dbctx.Context{Ctx: ctx}

	if time.Now().After(req.TimeoutAt) {
		if _, err := p.Coordinator.handleTimeout(ctx, req); err != nil {
			return err
		}
		return p.applyTimeout(ctx, req)
	}

	task, err := p.Tasks.GetByExternalItemID(dbc, req.ExternalItemID)
	if err != nil || task == nil {
		return err
	}
	run, err := p.Runs.GetByID(dbc, req.RunID)
	if err != nil || run == nil {
		return err
	}

	comments, err := p.Coordinator.Board.ListComments(ctx, task.ExternalItemID, req.RequestedAt.Add(-p.ReplyGrace))
	if err != nil {
		return err
	}

	comments = prioritizeReplyTo(req.BoardCommentID, comments)
	for _, cm := range comments {
		if !p.Coordinator.isAuthorized(task, cm) {
			p.Coordinator.warnUnauthorized(ctx, task, cm)
			continue
		}
		decision, err := p.Coordinator.resolve(ctx, req, run, cm)
		if err != nil {
			return err
		}
		return p.applyDecision(ctx, req, run, decision)
	}
	return nil
}

// applyTimeout terminates the run as failed (not abandoned), leaving the
// task reactivation-eligible per spec's §4.4/§4.5 distinction.
func (p *Poller) applyTimeout(ctx context.Context, req *domain.ValidationRequest) error {
	now := time.Now()
	_, err := p.Runs.UpdateFieldsUnlessStatus(dbctx.Context{Ctx: ctx}, req.RunID, []domain.RunStatus{domain.RunCompleted, domain.RunCanceled, domain.RunFailed}, map[string]interface{}{
		"status":      domain.RunFailed,
		"last_error":  "validation timed out",
		"finished_at": now,
	})
	return err
}

// applyDecision folds a resolved verdict back into the run's durable
// snapshot and flips its status so the worker pool picks it back up:
// approve resumes straight to merge, reject resets the implement..finalize
// stages for another pass with modification instructions attached, and
// abandon cancels the run outright.
func (p *Poller) applyDecision(ctx context.Context, req *domain.ValidationRequest, run *domain.Run, decision Decision) error {
	dbc := dbctx.Context{Ctx: ctx}
	st := scheduler.LoadRunState(decodeSnapshot(run.Snapshot))

	switch decision.Verdict {
	case VerdictApprove:
		st.Meta["validation_verdict"] = "approve"
		raw, _ := json.Marshal(scheduler.SaveRunState(st))
		return p.Runs.UpdateFields(dbc, run.ID, map[string]interface{}{
			"status":   domain.RunPending,
			"snapshot": raw,
		})

	case VerdictReject:
		st.Meta["validation_verdict"] = ""
		st.Meta["modification_instructions"] = decision.ModificationInstructions
		resetForRework(st)
		raw, _ := json.Marshal(scheduler.SaveRunState(st))
		return p.Runs.UpdateFields(dbc, run.ID, map[string]interface{}{
			"status":          domain.RunPending,
			"rejection_count": run.RejectionCount,
			"snapshot":        raw,
		})

	default: // abandon, or any other terminal-coercion
		now := time.Now()
		return p.Runs.UpdateFields(dbc, run.ID, map[string]interface{}{
			"status":          domain.RunCanceled,
			"rejection_count": run.RejectionCount,
			"finished_at":     now,
		})
	}
}

// resetForRework re-queues the implement..finalize_pr stages for another
// pass, per spec's "re-enter the implement stage with modification
// instructions appended to the run's context" rejection-chain rule. test
// and qa are reset alongside implement since their outputs were produced
// against the rejected diff and are no longer valid; human_validation is
// reset too so the run suspends again for a fresh verdict. prepare's branch
// and analyze's plan are left untouched.
func resetForRework(st *scheduler.RunState) {
	for _, name := range []string{"implement", "test", "qa", "finalize_pr", "human_validation"} {
		if ss, ok := st.Stages[name]; ok {
			ss.Status = scheduler.StagePending
			ss.Outputs = map[string]any{}
			ss.NextRunAt = nil
		}
	}
}

func decodeSnapshot(raw []byte) map[string]any {
	if len(raw) == 0 {
		return map[string]any{}
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return map[string]any{}
	}
	return m
}
