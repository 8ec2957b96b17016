package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/habitbridge-backend/internal/http/middleware"
	"github.com/yungbote/habitbridge-backend/internal/http/response"
	"github.com/yungbote/habitbridge-backend/internal/observability"
	"github.com/yungbote/habitbridge-backend/internal/platform/dbctx"
	"github.com/yungbote/habitbridge-backend/internal/platform/logger"
	"github.com/yungbote/habitbridge-backend/internal/sync/outbox"
)

const (
	defaultDeadLetterLimit = 100
	maxDeadLetterLimit     = 1000
)

type AdminHandler struct {
	log     *logger.Logger
	outbox  outbox.Outbox
	metrics *observability.Metrics
}

func NewAdminHandler(log *logger.Logger, ob outbox.Outbox, metrics *observability.Metrics) *AdminHandler {
	return &AdminHandler{log: log.With("handler", "AdminHandler"), outbox: ob, metrics: metrics}
}

// GET /admin/dead-letters?limit=100&unreplayed=true
func (h *AdminHandler) ListDeadLetters(c *gin.Context) {
	limit := defaultDeadLetterLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			response.RespondError(c, http.StatusBadRequest, "invalid_limit", err)
			return
		}
		limit = min(n, maxDeadLetterLimit)
	}
	unreplayed, _ := strconv.ParseBool(c.DefaultQuery("unreplayed", "false"))

	items, err := h.outbox.ListDeadLetters(dbctx.Context{Ctx: c.Request.Context()}, limit, unreplayed)
	if err != nil {
		response.RespondAPIError(c, err, "list_dead_letters_failed")
		return
	}
	response.RespondOK(c, gin.H{"dead_letters": items})
}

// POST /admin/dead-letters/:id/replay
func (h *AdminHandler) Replay(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		response.RespondError(c, http.StatusBadRequest, "invalid_dead_letter_id", err)
		return
	}
	ok, err := h.outbox.Replay(dbctx.Context{Ctx: c.Request.Context()}, id)
	if err != nil {
		response.RespondAPIError(c, err, "replay_failed")
		return
	}
	h.metrics.ObserveReplay("api", ok)
	if !ok {
		response.RespondError(c, http.StatusNotFound, "dead_letter_not_found", nil)
		return
	}
	h.log.Info("dead letter replay requested", "dead_letter_id", id, "admin_subject", middleware.AdminSubject(c))
	response.RespondOK(c, gin.H{"replayed": true, "dead_letter_id": id})
}
