package ingress

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/boardflow/orchestrator/internal/domain"
	"github.com/boardflow/orchestrator/internal/platform/logger"
	"github.com/boardflow/orchestrator/internal/reactivation"
)

// Enqueuer is the subset of the queue manager (C3) that ingress depends on,
// kept as a narrow interface so this package never imports internal/queue
// directly.
type Enqueuer interface {
	Enqueue(ctx context.Context, task *domain.Task) (*domain.QueueAdmission, error)
}

// Reactivator is C6's narrow surface for actually spawning a new run on a
// terminal task once the reactivation evaluator has accepted a comment: the
// seam that builds the reactivation Run and enqueues it, kept separate from
// ReactivationEvaluator (which only scores intent).
type Reactivator interface {
	Activate(ctx context.Context, task *domain.Task, commentBody string) (*domain.Run, error)
}

// TaskUpserter resolves or creates the domain.Task a webhook event refers
// to, backed by internal/data/repos.TaskRepo in production.
type TaskUpserter interface {
	UpsertFromEvent(ctx context.Context, evt RawEvent) (*domain.Task, error)
}

// EventRecorder persists the raw webhook for audit regardless of whether it
// turned out to be actionable.
type EventRecorder interface {
	Record(ctx context.Context, externalItemID string, kind domain.WebhookEventKind, actionable bool, skipReason string, payload []byte) error
}

// ReactivationEvaluator is C6's narrow surface: decide whether a comment on
// an already-terminal task should spawn a new run. Left nil, every
// actionable comment enqueues unconditionally, which is fine for a
// deployment with BoardWebhookSecret set but no LLM configured.
type ReactivationEvaluator interface {
	Evaluate(ctx context.Context, task *domain.Task, commentAuthorID, commentBody string, now time.Time) reactivation.Decision
}

type Handler struct {
	log           *logger.Logger
	webhookSecret string
	readyColumnID string
	enqueuer      Enqueuer
	upserter      TaskUpserter
	recorder      EventRecorder
	reactivation  ReactivationEvaluator
	reactivator   Reactivator
}

func NewHandler(lg *logger.Logger, webhookSecret, readyColumnID string, enqueuer Enqueuer, upserter TaskUpserter, recorder EventRecorder, reactivationEvaluator ReactivationEvaluator, reactivator Reactivator) *Handler {
	return &Handler{
		log:           lg.With("handler", "ingress.Handler"),
		webhookSecret: webhookSecret,
		readyColumnID: readyColumnID,
		enqueuer:      enqueuer,
		upserter:      upserter,
		recorder:      recorder,
		reactivation:  reactivationEvaluator,
		reactivator:   reactivator,
	}
}

// HandleChallenge answers GET /webhook/board, the board's subscription
// handshake: echo the challenge query parameter verbatim, or a readiness
// body when no challenge is present.
func (h *Handler) HandleChallenge(c *gin.Context) {
	if challenge := c.Query("challenge"); challenge != "" {
		c.JSON(http.StatusOK, gin.H{"challenge": challenge})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// challengeBody is the shape of a platform challenge handshake delivered as
// a POST body instead of a query parameter: {"challenge": "..."} with no
// "event" field.
type challengeBody struct {
	Challenge string          `json:"challenge"`
	Event     json.RawMessage `json:"event"`
}

// HandleWebhook is the single POST /webhook/board route: verify signature,
// decode, classify, record, and (if actionable) enqueue. Its first duty,
// ahead of signature verification, is recognizing a challenge handshake and
// echoing it back, since the board sends those unsigned.
func (h *Handler) HandleWebhook(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": gin.H{"message": "could not read body", "code": "bad_request"}})
		return
	}

	var ch challengeBody
	if err := json.Unmarshal(body, &ch); err == nil && ch.Challenge != "" && len(ch.Event) == 0 {
		c.JSON(http.StatusOK, gin.H{"challenge": ch.Challenge})
		return
	}

	if h.webhookSecret != "" {
		sig := c.GetHeader("X-Board-Signature")
		if err := VerifyHMACSignature(h.webhookSecret, body, sig); err != nil {
			h.log.Warn("webhook signature rejected", "error", err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": gin.H{"message": "invalid signature", "code": "unauthorized"}})
			return
		}
	}

	// Board webhooks wrap the actual event in an "event" envelope
	// ({"event": {...}}); ch was already decoded above for the challenge
	// check, so reuse it instead of decoding the body twice. A body with no
	// "event" field is the flattened shape some integrations send directly.
	eventBody := body
	if len(ch.Event) > 0 {
		eventBody = ch.Event
	}

	var evt RawEvent
	if err := json.Unmarshal(eventBody, &evt); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": gin.H{"message": "malformed payload", "code": "bad_request"}})
		return
	}

	classification := Classify(evt, h.readyColumnID)

	ctx := c.Request.Context()
	if h.recorder != nil {
		if err := h.recorder.Record(ctx, evt.PulseID, classification.Kind, classification.Actionable, classification.SkipReason, body); err != nil {
			h.log.Warn("failed to record webhook event", "error", err)
		}
	}

	if !classification.Actionable {
		c.JSON(http.StatusOK, gin.H{"status": "ignored", "reason": classification.SkipReason})
		return
	}

	task, err := h.upserter.UpsertFromEvent(ctx, evt)
	if err != nil {
		h.log.Error("failed to upsert task", "error", err, "external_item_id", evt.PulseID)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": gin.H{"message": "internal error", "code": "internal_error"}})
		return
	}

	// A comment on a task that already reached a terminal status is a
	// reactivation candidate, not a plain enqueue: C6 must score intent
	// before this spawns a new run. Status-change events and comments on a
	// still-active task skip straight to enqueue.
	if h.reactivation != nil && classification.Kind == domain.WebhookEventComment && domain.TerminalTaskStatuses[task.InternalStatus] {
		decision := h.reactivation.Evaluate(ctx, task, evt.UserID, evt.TextBody, time.Now())
		if !decision.Accept {
			c.JSON(http.StatusOK, gin.H{"status": "reactivation_declined", "reason": decision.Reason})
			return
		}
		if h.reactivator == nil {
			h.log.Error("reactivation accepted but no reactivator configured", "external_item_id", task.ExternalItemID)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": gin.H{"message": "internal error", "code": "internal_error"}})
			return
		}
		run, err := h.reactivator.Activate(ctx, task, evt.TextBody)
		if err != nil {
			h.log.Error("failed to reactivate task", "error", err, "external_item_id", task.ExternalItemID)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": gin.H{"message": "internal error", "code": "internal_error"}})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "reactivated", "task_id": task.ID, "run_id": run.ID})
		return
	}

	admission, err := h.enqueuer.Enqueue(ctx, task)
	if err != nil {
		h.log.Error("failed to enqueue task", "error", err, "external_item_id", task.ExternalItemID)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": gin.H{"message": "internal error", "code": "internal_error"}})
		return
	}

	if admission.Accepted {
		c.JSON(http.StatusOK, gin.H{"status": "accepted", "queue_id": admission.Entry.ID})
		return
	}

	queueInfo := gin.H{"queue_id": admission.Entry.ID, "position": admission.Position}
	if admission.RunningQueueID != nil {
		queueInfo["running_workflow_id"] = *admission.RunningQueueID
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "queued", "queue_info": queueInfo})
}
