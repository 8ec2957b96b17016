package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/habitbridge-backend/internal/http/response"
	"github.com/yungbote/habitbridge-backend/internal/notify"
	"github.com/yungbote/habitbridge-backend/internal/services"
)

type NotificationHandler struct {
	notifications services.NotificationService
}

func NewNotificationHandler(notifications services.NotificationService) *NotificationHandler {
	return &NotificationHandler{notifications: notifications}
}

type subscribeRequest struct {
	UserRef  string                  `json:"user_id"`
	Endpoint string                  `json:"endpoint"`
	Keys     notify.SubscriptionKeys `json:"keys"`
}

// POST /api/push/subscribe
// body: { "user_id": "...", "endpoint": "https://...", "keys": { "p256dh": "...", "auth": "..." } }
func (h *NotificationHandler) Subscribe(c *gin.Context) {
	var req subscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	sub, err := h.notifications.Subscribe(c.Request.Context(), req.UserRef, notify.SubscribeInput{
		Endpoint:  req.Endpoint,
		Keys:      req.Keys,
		UserAgent: c.Request.UserAgent(),
	})
	if err != nil {
		response.RespondAPIError(c, err, "subscribe_failed")
		return
	}
	response.RespondOK(c, gin.H{"subscription_id": sub.ID, "status": sub.Status})
}

// POST /api/push/unsubscribe
// body: { "user_id": "...", "endpoint": "https://..." }
func (h *NotificationHandler) Unsubscribe(c *gin.Context) {
	var req subscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	removed, err := h.notifications.Unsubscribe(c.Request.Context(), req.UserRef, req.Endpoint)
	if err != nil {
		response.RespondAPIError(c, err, "unsubscribe_failed")
		return
	}
	response.RespondOK(c, gin.H{"removed": removed})
}

type preferencesRequest struct {
	UserRef string `json:"user_id"`
	services.PreferencesInput
}

// GET /api/notifications/preferences?user_id=...
func (h *NotificationHandler) GetPreferences(c *gin.Context) {
	p, err := h.notifications.GetPreferences(c.Request.Context(), c.Query("user_id"))
	if err != nil {
		response.RespondAPIError(c, err, "get_preferences_failed")
		return
	}
	response.RespondOK(c, gin.H{"preferences": p})
}

// PUT /api/notifications/preferences
func (h *NotificationHandler) UpdatePreferences(c *gin.Context) {
	var req preferencesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	p, err := h.notifications.UpdatePreferences(c.Request.Context(), req.UserRef, req.PreferencesInput)
	if err != nil {
		response.RespondAPIError(c, err, "update_preferences_failed")
		return
	}
	response.RespondOK(c, gin.H{"preferences": p})
}
