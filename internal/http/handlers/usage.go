package handlers

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/habitbridge-backend/internal/data/repos"
	"github.com/yungbote/habitbridge-backend/internal/http/response"
	"github.com/yungbote/habitbridge-backend/internal/platform/apierr"
	"github.com/yungbote/habitbridge-backend/internal/platform/civil"
	"github.com/yungbote/habitbridge-backend/internal/services"
)

type UsageHandler struct {
	usage services.UsageService
}

func NewUsageHandler(usage services.UsageService) *UsageHandler {
	return &UsageHandler{usage: usage}
}

// POST /api/usage/habits
// body: { "user_id": "<uuid|rec…>", "method_id": "...", "usage_date": "2025-06-15", "program_id": "..." }
func (h *UsageHandler) RecordHabit(c *gin.Context) {
	var req services.HabitUsageInput
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	res, err := h.usage.RecordHabitUsage(c.Request.Context(), req)
	if err != nil {
		response.RespondAPIError(c, err, "record_habit_failed")
		return
	}
	response.RespondOK(c, gin.H{"usage": res})
}

// POST /api/usage/goals
func (h *UsageHandler) RecordGoal(c *gin.Context) {
	var req services.GoalUsageInput
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	res, err := h.usage.RecordGoalUsage(c.Request.Context(), req)
	if err != nil {
		response.RespondAPIError(c, err, "record_goal_failed")
		return
	}
	response.RespondOK(c, gin.H{"usage": res})
}

// POST /api/usage/beliefs
// A second completion of the same belief answers 409.
func (h *UsageHandler) CompleteBelief(c *gin.Context) {
	var req services.BeliefInput
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	res, err := h.usage.CompleteBelief(c.Request.Context(), req)
	if err != nil {
		response.RespondAPIError(c, err, "complete_belief_failed")
		return
	}
	response.RespondOK(c, gin.H{"usage": res})
}

type deleteUsageRequest struct {
	UserRef   string     `json:"user_id"`
	SubjectID string     `json:"subject_id"`
	Date      civil.Date `json:"usage_date"`
}

// DELETE /api/usage/habits
// body: { "user_id": "...", "subject_id": "<method id>", "usage_date": "2025-06-15" }
func (h *UsageHandler) DeleteHabit(c *gin.Context) {
	h.deleteUsage(c, h.usage.DeleteHabitUsage)
}

// DELETE /api/usage/goals
func (h *UsageHandler) DeleteGoal(c *gin.Context) {
	h.deleteUsage(c, h.usage.DeleteGoalUsage)
}

func (h *UsageHandler) deleteUsage(c *gin.Context, del func(ctx context.Context, userRef, subjectID string, day civil.Date) (bool, error)) {
	var req deleteUsageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	if req.Date.IsZero() {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", fmt.Errorf("usage_date required"))
		return
	}
	removed, err := del(c.Request.Context(), req.UserRef, req.SubjectID, req.Date)
	if err != nil {
		response.RespondAPIError(c, err, "delete_usage_failed")
		return
	}
	if !removed {
		response.RespondError(c, http.StatusNotFound, "usage_not_found", nil)
		return
	}
	response.RespondOK(c, gin.H{"ok": true})
}

// GET /api/users/:ref/usage?from=2025-06-01&to=2025-06-30
func (h *UsageHandler) ListUsage(c *gin.Context) {
	var rng repos.UsageRange
	for _, q := range []struct {
		name string
		into *civil.Date
	}{{"from", &rng.From}, {"to", &rng.To}} {
		raw := c.Query(q.name)
		if raw == "" {
			continue
		}
		d, err := civil.Parse(raw)
		if err != nil {
			response.RespondAPIError(c, fmt.Errorf("%s: %v: %w", q.name, err, apierr.ErrInvalidArgument), "invalid_request")
			return
		}
		*q.into = d
	}
	list, err := h.usage.ListUsage(c.Request.Context(), c.Param("ref"), rng)
	if err != nil {
		response.RespondAPIError(c, err, "list_usage_failed")
		return
	}
	response.RespondOK(c, list)
}
