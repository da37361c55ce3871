package app

import (
	"time"

	"github.com/boardflow/orchestrator/internal/broker"
	"github.com/boardflow/orchestrator/internal/config"
	"github.com/boardflow/orchestrator/internal/platform/lock"
	"github.com/boardflow/orchestrator/internal/platform/logger"
	"github.com/boardflow/orchestrator/internal/queue"
	"github.com/boardflow/orchestrator/internal/reactivation"
	"github.com/boardflow/orchestrator/internal/scheduler"
	"github.com/boardflow/orchestrator/internal/validation"
	"github.com/boardflow/orchestrator/internal/worker"
)

// Services bundles every long-lived collaborator wired off Repos/Adapters:
// the queue manager and its claim sweeper (C3), the validation coordinator
// and poller (C5), the reactivation analyzer (C6), and the worker pool that
// drives the stage graph (C4/C8). Mirrors the teacher's app.Services
// grouping, minus the course-generation-specific members that have no
// analogue here.
type Services struct {
	Queue       *queue.Manager
	Sweeper     *queue.Sweeper
	Coordinator *validation.Coordinator
	Poller      *validation.Poller
	Analyzer    *reactivation.Analyzer
	Pool        *worker.Pool
	Broker      *broker.Client
}

func wireServices(cfg *config.Config, reposet Repos, ad Adapters, locker lock.Locker, brk *broker.Client, lg *logger.Logger) Services {
	queueManager := queue.NewManager(reposet.QueueEntries, locker, lg)

	stages := scheduler.BuildStages(scheduler.StageDeps{
		CodeHost: ad.CodeHost,
		LLM:      ad.LLM,
		MaxDebug: cfg.MaxDebugAttempts,
	})
	engine := scheduler.NewEngine()

	interp := validation.NewRuleInterpreter()
	coord := validation.NewCoordinator(reposet.Validations, ad.Board, ad.Translator, interp, cfg.MaxRejections, lg)
	poller := validation.NewPoller(reposet.Validations, reposet.Tasks, reposet.Runs, coord, lg)

	analyzer := reactivation.NewAnalyzer(ad.LLM, cfg.SystemAuthorID, cfg.ReactivationConfidenceThreshold, lg)

	poolSize := cfg.WorkerPoolSize
	if cfg.MaxConcurrentRuns > 0 && cfg.MaxConcurrentRuns < poolSize {
		poolSize = cfg.MaxConcurrentRuns
	}
	workerCfg := worker.DefaultConfig(poolSize)
	workerCfg.ValidationTick = cfg.ValidationPollInterval
	workerCfg.ValidationTimeout = cfg.ValidationTimeout
	pool := worker.NewPool(workerCfg, reposet.Runs, reposet.Tasks, engine, stages, coord, poller, lg)

	dispatch := newDispatcher(reposet.Runs, reposet.Tasks, queueManager, lg)
	sweeper := queue.NewSweeper(queueManager, 2*time.Second, dispatch.OnQueueClaim, lg)

	return Services{
		Queue:       queueManager,
		Sweeper:     sweeper,
		Coordinator: coord,
		Poller:      poller,
		Analyzer:    analyzer,
		Pool:        pool,
		Broker:      brk,
	}
}
