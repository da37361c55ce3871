package app

import (
	"context"
	"fmt"
	"os"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/boardflow/orchestrator/internal/broker"
	"github.com/boardflow/orchestrator/internal/config"
	"github.com/boardflow/orchestrator/internal/data/db"
	"github.com/boardflow/orchestrator/internal/platform/lock"
	"github.com/boardflow/orchestrator/internal/platform/logger"
)

// App is the orchestrator's composition root, mirroring the teacher's
// internal/app.App: every long-lived collaborator hangs off this struct,
// built once in New and torn down once in Close.
type App struct {
	Log      *logger.Logger
	DB       *gorm.DB
	Router   *gin.Engine
	Cfg      *config.Config
	Repos    Repos
	Adapters Adapters
	Services Services
	Handlers Handlers
	dbConn   *db.Service
	cancel   context.CancelFunc
}

func New() (*App, error) {
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	log.Info("loading configuration")
	cfg := config.Load(log)

	dbService, err := db.New(cfg, log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init database: %w", err)
	}
	theDB := dbService.DB()

	var locker lock.Locker = lock.NewInProcess()
	var brk *broker.Client
	if cfg.RedisAddr != "" {
		brk, err = broker.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, log)
		if err != nil {
			log.Warn("failed to connect to redis, falling back to in-process locking and no broker fan-out", "error", err)
			brk = nil
		} else {
			locker = lock.NewRedis(brk.Raw())
		}
	}

	reposet := wireRepos(theDB, log)
	adapterset := wireAdapters(cfg, log)
	serviceset := wireServices(cfg, reposet, adapterset, locker, brk, log)
	handlerset := wireHandlers(cfg, reposet, adapterset, serviceset, log)
	middleware := wireMiddleware(cfg, log)
	router := wireRouter(handlerset, middleware)

	return &App{
		Log:      log,
		DB:       theDB,
		Router:   router,
		Cfg:      cfg,
		Repos:    reposet,
		Adapters: adapterset,
		Services: serviceset,
		Handlers: handlerset,
		dbConn:   dbService,
	}, nil
}

// Start launches the worker pool's claim/dispatch loop, its validation
// poller loop, and the queue sweeper as background goroutines under a
// single cancelable context, the way the teacher's Start kicks off
// CourseGeneration's worker.
func (a *App) Start(runServer, runWorker bool) {
	if a == nil || a.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	if runWorker {
		go func() {
			if err := a.Services.Pool.Run(ctx); err != nil {
				a.Log.Error("worker pool stopped", "error", err)
			}
		}()
		go a.Services.Sweeper.Run(ctx)
	}
}

func (a *App) Run(addr string) error {
	if a == nil || a.Router == nil {
		return fmt.Errorf("app not initialized")
	}
	return a.Router.Run(addr)
}

func (a *App) Close() {
	if a == nil {
		return
	}
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	if a.Services.Broker != nil {
		_ = a.Services.Broker.Close()
	}
	if a.dbConn != nil {
		_ = a.dbConn.Close()
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}
