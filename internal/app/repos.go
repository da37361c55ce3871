package app

import (
	"gorm.io/gorm"

	"github.com/boardflow/orchestrator/internal/data/repos"
	"github.com/boardflow/orchestrator/internal/platform/logger"
)

// Repos is the flat collection of per-entity repositories, the way the
// teacher's app.Repos bundles its own per-entity repos for injection into
// services and handlers.
type Repos struct {
	Tasks          repos.TaskRepo
	Runs           repos.RunRepo
	StageExecution repos.StageExecutionRepo
	QueueEntries   repos.QueueEntryRepo
	WebhookEvents  repos.WebhookEventRepo
	Validations    repos.ValidationRepo
}

func wireRepos(db *gorm.DB, lg *logger.Logger) Repos {
	return Repos{
		Tasks:          repos.NewTaskRepo(db, lg),
		Runs:           repos.NewRunRepo(db, lg),
		StageExecution: repos.NewStageExecutionRepo(db, lg),
		QueueEntries:   repos.NewQueueEntryRepo(db, lg),
		WebhookEvents:  repos.NewWebhookEventRepo(db, lg),
		Validations:    repos.NewValidationRepo(db, lg),
	}
}
