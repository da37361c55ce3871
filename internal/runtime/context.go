// Package runtime is the execution contract between the stage scheduler
// and stage business logic, grounded on the teacher's jobs/runtime.Context:
// a capability-scoped handle wrapping the DB, the Run row, and the only
// sanctioned ways stage code can report progress, suspend, fail, or
// succeed. Stage code never touches the Run row directly.
package runtime

import (
	"context"
	"encoding/json"
	"time"

	"github.com/boardflow/orchestrator/internal/data/repos"
	"github.com/boardflow/orchestrator/internal/domain"
	"github.com/boardflow/orchestrator/internal/platform/dbctx"
)

var disallowedWhileCanceled = []domain.RunStatus{domain.RunCanceled}

type Context struct {
	Ctx     context.Context
	Run     *domain.Run
	Repo    repos.RunRepo
	payload map[string]any
}

func NewContext(ctx context.Context, run *domain.Run, repo repos.RunRepo) *Context {
	c := &Context{Ctx: ctx, Run: run, Repo: repo}
	_ = c.decodeSnapshot()
	return c
}

func (c *Context) decodeSnapshot() error {
	if c.Run == nil || len(c.Run.Snapshot) == 0 {
		c.payload = map[string]any{}
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(c.Run.Snapshot, &m); err != nil {
		c.payload = map[string]any{}
		return err
	}
	c.payload = m
	return nil
}

// Snapshot returns the decoded run snapshot, never nil.
func (c *Context) Snapshot() map[string]any {
	if c.payload == nil {
		c.payload = map[string]any{}
	}
	return c.payload
}

// Update writes arbitrary fields to the run row, refusing to clobber a
// canceled run.
func (c *Context) Update(updates map[string]interface{}) error {
	if c.Run == nil || c.Run.ID == 0 {
		return nil
	}
	_, err := c.Repo.UpdateFieldsUnlessStatus(dbctx.Context{Ctx: c.Ctx}, c.Run.ID, disallowedWhileCanceled, updates)
	return err
}

// Advance persists the current stage name and snapshot, leaving status
// alone (the caller remains "running").
func (c *Context) Advance(stage string, snapshot map[string]any) error {
	raw, _ := json.Marshal(snapshot)
	err := c.Update(map[string]interface{}{
		"current_stage": stage,
		"snapshot":      raw,
		"heartbeat_at":  time.Now(),
	})
	if err == nil {
		c.Run.CurrentStage = stage
	}
	return err
}

// WaitValidation suspends the run, marking it waiting_validation. The
// scheduler itself does not know what the run is waiting for — that detail
// lives in a domain.ValidationRequest row the validation coordinator owns —
// this only flips the run's own status/lock state the way the teacher's
// WaitForUser flips job_run's.
func (c *Context) WaitValidation(stage string, snapshot map[string]any) error {
	raw, _ := json.Marshal(snapshot)
	return c.Update(map[string]interface{}{
		"status":        domain.RunWaitingValidation,
		"current_stage": stage,
		"snapshot":      raw,
		"locked_by":     "",
		"locked_at":     nil,
	})
}

func (c *Context) Fail(stage string, err error) error {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	updateErr := c.Update(map[string]interface{}{
		"status":        domain.RunFailed,
		"current_stage": stage,
		"last_error":    msg,
		"locked_by":     "",
		"locked_at":     nil,
		"finished_at":   time.Now(),
	})
	if updateErr == nil && c.Run != nil {
		c.Run.Status = domain.RunFailed
	}
	return updateErr
}

func (c *Context) Succeed(stage string, result map[string]any) error {
	raw, _ := json.Marshal(result)
	updateErr := c.Update(map[string]interface{}{
		"status":        domain.RunCompleted,
		"current_stage": stage,
		"result":        raw,
		"locked_by":     "",
		"locked_at":     nil,
		"finished_at":   time.Now(),
	})
	if updateErr == nil && c.Run != nil {
		c.Run.Status = domain.RunCompleted
	}
	return updateErr
}
