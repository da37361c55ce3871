// Package scheduler is C4: it drives a domain.Run through an ordered list
// of Stage definitions, persisting a JSON snapshot after every transition
// so a crash mid-run resumes from the last completed stage rather than
// restarting the whole task. Grounded on the teacher's jobs/orchestrator
// engine.go, generalized from its inline/child dual-mode DAG to a single
// inline mode plus an explicit suspend-for-human-validation mode, since
// this domain has no notion of spawning a nested child run.
package scheduler

import (
	"fmt"
	"strings"
	"time"

	"github.com/boardflow/orchestrator/internal/runtime"
)

// Stage is one step of the graph: prepare, analyze, implement, test, qa,
// finalize_pr, human_validation, merge (see stages.go); the bounded debug
// loop runs inside test rather than as a stage of its own.
type Stage struct {
	Name string

	// IsDone lets a stage short-circuit: if it reports true, Run is never
	// called and the stage is marked succeeded immediately. Used by
	// human_validation to recognize that a prior suspend already resolved.
	IsDone func(ctx *runtime.Context, st *RunState) (bool, error)

	// Run executes the stage. Returning (nil, ErrSuspendForValidation) is
	// the sanctioned way a stage asks the scheduler to suspend the run for
	// human sign-off instead of treating the stage as failed.
	Run func(ctx *runtime.Context, st *RunState) (map[string]any, error)

	Retry RetryPolicy
}

// ErrSuspendForValidation is returned by the human_validation stage's Run
// to signal a clean suspend rather than an error.
var ErrSuspendForValidation = fmt.Errorf("suspend for human validation")

type Engine struct{}

func NewEngine() *Engine { return &Engine{} }

// Run advances ctx.Run through stages from wherever its snapshot says it
// left off. It returns nil whether the run completed, failed, or suspended
// — those are all recorded on the run row itself, not via the error return,
// matching the teacher's design where the orchestrator's own Run() always
// returns nil and terminal state lives in storage.
func (e *Engine) Run(ctx *runtime.Context, stages []Stage) error {
	if err := validateStages(stages); err != nil {
		return ctx.Fail("validate", err)
	}
	st := LoadRunState(ctx.Snapshot())

	for i := range stages {
		def := stages[i]
		ss := st.EnsureStage(def.Name)
		if ss.Status == StageSucceeded || ss.Status == StageSkipped {
			continue
		}
		if ss.NextRunAt != nil && time.Now().Before(*ss.NextRunAt) {
			return ctx.Advance(def.Name, SaveRunState(st))
		}
		ss.NextRunAt = nil

		ss.Status = StageRunning
		markStarted(ss)
		if err := ctx.Advance(def.Name, SaveRunState(st)); err != nil {
			return err
		}

		if def.IsDone != nil {
			done, err := def.IsDone(ctx, st)
			if err != nil {
				return e.handleStageErr(ctx, st, ss, def, err)
			}
			if done {
				e.succeedStage(ss, nil)
				if err := ctx.Advance(def.Name, SaveRunState(st)); err != nil {
					return err
				}
				continue
			}
		}

		outputs, err := def.Run(ctx, st)
		if err == ErrSuspendForValidation {
			return ctx.WaitValidation(def.Name, SaveRunState(st))
		}
		if err != nil {
			return e.handleStageErr(ctx, st, ss, def, err)
		}
		e.succeedStage(ss, outputs)
		if err := ctx.Advance(def.Name, SaveRunState(st)); err != nil {
			return err
		}
	}

	return ctx.Succeed("done", collectOutputs(stages, st))
}

func (e *Engine) succeedStage(ss *StageState, outputs map[string]any) {
	ss.Status = StageSucceeded
	markFinished(ss, "")
	if outputs != nil {
		if ss.Outputs == nil {
			ss.Outputs = map[string]any{}
		}
		for k, v := range outputs {
			ss.Outputs[k] = v
		}
	}
}

func (e *Engine) handleStageErr(ctx *runtime.Context, st *RunState, ss *StageState, def Stage, err error) error {
	ss.Attempts++
	ss.LastError = err.Error()
	ss.Status = StageFailed
	markFinished(ss, ss.LastError)

	if shouldRetry(def.Retry, ss.Attempts, err) {
		when := time.Now().Add(computeBackoff(def.Retry, ss.Attempts))
		ss.NextRunAt = &when
		ss.Status = StagePending
		return ctx.Advance(def.Name, SaveRunState(st))
	}
	_ = ctx.Advance(def.Name, SaveRunState(st))
	return ctx.Fail(def.Name, err)
}

func collectOutputs(stages []Stage, st *RunState) map[string]any {
	out := map[string]any{}
	for _, def := range stages {
		if ss := st.Stages[def.Name]; ss != nil && ss.Outputs != nil {
			out[def.Name] = ss.Outputs
		}
	}
	return out
}

func validateStages(stages []Stage) error {
	seen := map[string]bool{}
	for _, s := range stages {
		if strings.TrimSpace(s.Name) == "" {
			return fmt.Errorf("stage missing Name")
		}
		if seen[s.Name] {
			return fmt.Errorf("duplicate stage name %q", s.Name)
		}
		seen[s.Name] = true
		if s.Run == nil && s.IsDone == nil {
			return fmt.Errorf("stage %q: Run is nil", s.Name)
		}
	}
	return nil
}

func markStarted(ss *StageState) {
	if ss.StartedAt != nil {
		return
	}
	now := time.Now().UTC()
	ss.StartedAt = &now
}

func markFinished(ss *StageState, lastErr string) {
	now := time.Now().UTC()
	ss.FinishedAt = &now
	if lastErr != "" {
		ss.LastError = lastErr
	}
}
