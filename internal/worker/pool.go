// Package worker is C8: it drives domain.Run rows to completion by
// claiming them and handing them to the stage scheduler, and separately
// ticks the validation poller so parked runs get reconciled without
// pinning a goroutine per run. Grounded on the teacher's jobs.Worker
// (internal/jobs/worker.go), whose single ticker goroutine claims one
// runnable job per tick and dispatches it to a registered handler. That
// shape is generalized here to PoolSize concurrent claim loops,
// bounded with golang.org/x/sync/errgroup the way the teacher's own
// steps (e.g. modules/learning/steps) already use errgroup for bounded
// fan-out, since ClaimNextRunnable's SELECT ... FOR UPDATE SKIP LOCKED
// already makes concurrent claiming safe.
package worker

import (
	"context"
	"encoding/json"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/boardflow/orchestrator/internal/data/repos"
	"github.com/boardflow/orchestrator/internal/domain"
	"github.com/boardflow/orchestrator/internal/platform/dbctx"
	"github.com/boardflow/orchestrator/internal/platform/logger"
	"github.com/boardflow/orchestrator/internal/runtime"
	"github.com/boardflow/orchestrator/internal/scheduler"
	"github.com/boardflow/orchestrator/internal/validation"
)

// Config bounds a Pool's claim concurrency and retry/staleness windows,
// mirroring the constants the teacher hard-codes in Worker.Start.
type Config struct {
	PoolSize          int
	ClaimInterval     time.Duration
	ValidationTick    time.Duration
	MaxAttempts       int
	RetryDelay        time.Duration
	StaleRunning      time.Duration
	ValidationTimeout time.Duration
}

// DefaultConfig matches the teacher's hard-coded Worker.Start constants,
// save for PoolSize, which has no teacher analogue since that worker ran
// one claim loop.
func DefaultConfig(poolSize int) Config {
	return Config{
		PoolSize:          poolSize,
		ClaimInterval:     time.Second,
		ValidationTick:    30 * time.Second,
		MaxAttempts:       5,
		RetryDelay:        30 * time.Second,
		StaleRunning:      2 * time.Minute,
		ValidationTimeout: 24 * time.Hour,
	}
}

// Pool claims runnable domain.Run rows and drives them through the stage
// graph, and separately ticks the validation poller on its own schedule.
// It is also the glue between the scheduler suspending a run for human
// sign-off and C5 actually posting the validation prompt: the scheduler
// itself only flips the run's own status (runtime.Context.WaitValidation),
// it has no notion of the board or of ValidationRequest rows.
type Pool struct {
	cfg    Config
	runs   repos.RunRepo
	tasks  repos.TaskRepo
	engine *scheduler.Engine
	stages []scheduler.Stage
	coord  *validation.Coordinator
	poller *validation.Poller
	log    *logger.Logger
}

func NewPool(cfg Config, runs repos.RunRepo, tasks repos.TaskRepo, engine *scheduler.Engine, stages []scheduler.Stage, coord *validation.Coordinator, poller *validation.Poller, lg *logger.Logger) *Pool {
	return &Pool{
		cfg:    cfg,
		runs:   runs,
		tasks:  tasks,
		engine: engine,
		stages: stages,
		coord:  coord,
		poller: poller,
		log:    lg.With("component", "worker.Pool"),
	}
}

// Run blocks, driving PoolSize concurrent claim loops plus one validation
// poller loop, until ctx is canceled or a loop returns a non-context error.
// Matching the teacher's "ClaimNextRunnable failed" behavior, individual
// claim errors are logged and retried rather than treated as fatal; only
// ctx cancellation ends Run cleanly.
func (p *Pool) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	for i := 0; i < p.cfg.PoolSize; i++ {
		g.Go(func() error {
			p.claimLoop(gctx)
			return nil
		})
	}

	g.Go(func() error {
		p.validationLoop(gctx)
		return nil
	})

	return g.Wait()
}

func (p *Pool) claimLoop(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.ClaimInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.claimAndRun(ctx)
		}
	}
}

func (p *Pool) claimAndRun(ctx context.Context) {
	run, err := p.runs.ClaimNextRunnable(dbctx.Context{Ctx: ctx}, p.cfg.MaxAttempts, p.cfg.RetryDelay, p.cfg.StaleRunning)
	if err != nil {
		p.log.Warn("ClaimNextRunnable failed", "error", err)
		return
	}
	if run == nil {
		return
	}
	p.dispatch(ctx, run)
}

// dispatch hands one claimed run to the scheduler, recovering from a panic
// in stage code the way the teacher's Worker.Start recovers from a handler
// panic, so one bad stage never kills a claim loop goroutine.
func (p *Pool) dispatch(ctx context.Context, run *domain.Run) {
	rc := runtime.NewContext(ctx, run, p.runs)
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("stage panic", "run_id", run.ID, "panic", r)
			_ = rc.Fail("panic", panicError{r})
		}
	}()
	if err := p.engine.Run(rc, p.stages); err != nil {
		p.log.Warn("engine run returned error", "run_id", run.ID, "error", err)
		return
	}
	if run.Status == domain.RunWaitingValidation {
		p.requestValidationIfNeeded(ctx, run)
	}
}

// requestValidationIfNeeded posts the review prompt the first time a run
// suspends at human_validation. Re-dispatches of an already-parked run
// (e.g. a stale heartbeat reclaim) must not re-post, so this checks for an
// existing open request before calling the coordinator.
func (p *Pool) requestValidationIfNeeded(ctx context.Context, run *domain.Run) {
	existing, err := p.coord.Repo.GetOpenRequestByRunID(dbctx.Context{Ctx: ctx}, run.ID)
	if err != nil {
		p.log.Warn("failed to check for open validation request", "run_id", run.ID, "error", err)
		return
	}
	if existing != nil {
		return
	}

	task, err := p.tasks.GetByID(dbctx.Context{Ctx: ctx}, run.TaskID)
	if err != nil || task == nil {
		p.log.Warn("failed to load task for validation request", "run_id", run.ID, "task_id", run.TaskID, "error", err)
		return
	}

	summary := runSummaryFromSnapshot(run.Snapshot)
	if _, err := p.coord.RequestValidation(ctx, run, task, summary, p.cfg.ValidationTimeout); err != nil {
		p.log.Warn("failed to request validation", "run_id", run.ID, "error", err)
	}
}

// runSummaryFromSnapshot pulls the validation.RunSummary fields out of the
// run's snapshot: finalize_pr's PR URL, test's pass/fail detail, and the
// run's modification_instructions meta.
func runSummaryFromSnapshot(snapshot []byte) validation.RunSummary {
	var m map[string]any
	if len(snapshot) > 0 {
		_ = json.Unmarshal(snapshot, &m)
	}
	st := scheduler.LoadRunState(m)

	summary := validation.RunSummary{StageStatus: "human_validation"}
	if ss := st.Stages["finalize_pr"]; ss != nil && ss.Outputs != nil {
		if v, ok := ss.Outputs["pr_url"].(string); ok {
			summary.PRURL = v
		}
	}
	if ss := st.Stages["test"]; ss != nil && ss.Outputs != nil {
		if v, ok := ss.Outputs["passed"].(bool); ok {
			summary.TestPassed = v
		}
		if v, ok := ss.Outputs["detail"].(string); ok {
			summary.TestDetail = v
		}
	}
	if v, ok := st.Meta["modification_instructions"].(string); ok {
		summary.ModificationInstructions = v
	}
	return summary
}

type panicError struct{ val any }

func (e panicError) Error() string { return "panic in stage handler" }

func (p *Pool) validationLoop(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.ValidationTick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.poller.Tick(ctx); err != nil {
				p.log.Warn("validation poller tick failed", "error", err)
			}
		}
	}
}
