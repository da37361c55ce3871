// Package handlers holds the admin API surface: read access to runs and
// queue state, plus run cancellation, grounded on the teacher's
// internal/http/handlers/job.go.
package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/boardflow/orchestrator/internal/data/repos"
	"github.com/boardflow/orchestrator/internal/domain"
	"github.com/boardflow/orchestrator/internal/http/response"
	"github.com/boardflow/orchestrator/internal/platform/dbctx"
)

type AdminHandler struct {
	runs  repos.RunRepo
	queue repos.QueueEntryRepo
}

func NewAdminHandler(runs repos.RunRepo, queue repos.QueueEntryRepo) *AdminHandler {
	return &AdminHandler{runs: runs, queue: queue}
}

// GET /api/runs/:id
func (h *AdminHandler) GetRun(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_run_id", err)
		return
	}
	run, err := h.runs.GetByID(dbctx.Context{Ctx: c.Request.Context()}, id)
	if err != nil || run == nil {
		response.RespondError(c, http.StatusNotFound, "run_not_found", err)
		return
	}
	response.RespondOK(c, gin.H{"run": run})
}

// GET /api/queue/:external_item_id
func (h *AdminHandler) GetQueueForItem(c *gin.Context) {
	itemID := c.Param("external_item_id")
	entries, err := h.queue.ListPendingByItem(dbctx.Context{Ctx: c.Request.Context()}, itemID)
	if err != nil {
		response.RespondError(c, http.StatusInternalServerError, "queue_lookup_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"entries": entries})
}

// POST /api/runs/:id/cancel
func (h *AdminHandler) CancelRun(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_run_id", err)
		return
	}
	dbc := dbctx.Context{Ctx: c.Request.Context()}
	run, err := h.runs.GetByID(dbc, id)
	if err != nil || run == nil {
		response.RespondError(c, http.StatusNotFound, "run_not_found", err)
		return
	}
	if run.Status.IsTerminal() {
		response.RespondError(c, http.StatusConflict, "run_already_terminal", nil)
		return
	}
	disallowed := []domain.RunStatus{domain.RunCompleted, domain.RunFailed, domain.RunCanceled}
	ok, err := h.runs.UpdateFieldsUnlessStatus(dbc, id, disallowed, map[string]interface{}{
		"status":    domain.RunCanceled,
		"locked_by": "",
		"locked_at": nil,
	})
	if err != nil {
		response.RespondError(c, http.StatusInternalServerError, "cancel_run_failed", err)
		return
	}
	if !ok {
		response.RespondError(c, http.StatusConflict, "run_already_terminal", nil)
		return
	}
	run.Status = domain.RunCanceled
	response.RespondOK(c, gin.H{"run": run})
}

// GET /healthz
func HealthCheck(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}
