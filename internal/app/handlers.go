package app

import (
	"github.com/boardflow/orchestrator/internal/broker"
	"github.com/boardflow/orchestrator/internal/config"
	"github.com/boardflow/orchestrator/internal/http/handlers"
	"github.com/boardflow/orchestrator/internal/ingress"
	"github.com/boardflow/orchestrator/internal/platform/logger"
)

// Handlers bundles every gin.HandlerFunc-bearing collaborator the router
// mounts, mirroring the teacher's app.Handlers grouping.
type Handlers struct {
	Webhook *ingress.Handler
	Admin   *handlers.AdminHandler
}

func wireHandlers(cfg *config.Config, reposet Repos, ad Adapters, svc Services, lg *logger.Logger) Handlers {
	recorder := &ingress.RepoRecorder{Events: reposet.WebhookEvents}
	if svc.Broker != nil {
		recorder.Publisher = svc.Broker
		recorder.Topic = broker.TopicWebhooks
	}
	upserter := ingress.NewRepoUpserter(reposet.Tasks)
	reactivator := newReactivator(reposet.Runs, reposet.Tasks, svc.Queue, lg)

	webhook := ingress.NewHandler(
		lg.With("component", "ingress.Handler"),
		cfg.BoardWebhookSecret,
		cfg.BoardReadyColumnID,
		svc.Queue,
		upserter,
		recorder,
		svc.Analyzer,
		reactivator,
	)

	admin := handlers.NewAdminHandler(reposet.Runs, reposet.QueueEntries)

	return Handlers{Webhook: webhook, Admin: admin}
}
