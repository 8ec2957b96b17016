package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/habitbridge-backend/internal/services"
)

type HealthHandler struct {
	health services.HealthService
}

func NewHealthHandler(health services.HealthService) *HealthHandler {
	return &HealthHandler{health: health}
}

// GET /healthcheck
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}

// GET /health
// 503 only when the relational store is unreachable; a degraded queue still
// answers 200 so load balancers keep the instance.
func (h *HealthHandler) Health(c *gin.Context) {
	if h.health == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": services.HealthUnavailable})
		return
	}
	rep := h.health.Check(c.Request.Context())
	status := http.StatusOK
	if rep.Database == services.HealthUnavailable {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, rep)
}
