package ingress

import (
	"context"

	"github.com/boardflow/orchestrator/internal/data/repos"
	"github.com/boardflow/orchestrator/internal/domain"
	"github.com/boardflow/orchestrator/internal/platform/dbctx"
)

// Publisher is the narrow broker surface RepoRecorder optionally fans
// webhook events out to, named separately from *broker.Client so this
// package never imports internal/broker directly.
type Publisher interface {
	Publish(ctx context.Context, topic, kind string, payload interface{}) (string, error)
}

// RepoRecorder is the production EventRecorder, persisting every inbound
// webhook to WebhookEventRepo, along with its classification, before the
// handler acts on it — spec.md §4.1 requires the raw payload survive regardless
// of what happens downstream. When Publisher is set, the recorded event is
// also fanned out to the webhooks broker topic, so other processes (e.g. a
// future audit consumer) see it without polling WebhookEventRepo.
type RepoRecorder struct {
	Events    repos.WebhookEventRepo
	Publisher Publisher
	Topic     string
}

func NewRepoRecorder(events repos.WebhookEventRepo) *RepoRecorder {
	return &RepoRecorder{Events: events}
}

func (r *RepoRecorder) Record(ctx context.Context, externalItemID string, kind domain.WebhookEventKind, actionable bool, skipReason string, payload []byte) error {
	event := &domain.WebhookEvent{
		ExternalItemID: externalItemID,
		Kind:           kind,
		Actionable:     actionable,
		SkipReason:     skipReason,
		Payload:        payload,
	}
	if err := r.Events.Create(dbctx.Context{Ctx: ctx}, event); err != nil {
		return err
	}
	if r.Publisher != nil {
		if _, err := r.Publisher.Publish(ctx, r.Topic, string(kind), event); err != nil {
			return err
		}
	}
	return nil
}
