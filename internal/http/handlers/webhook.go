package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/habitbridge-backend/internal/http/response"
	"github.com/yungbote/habitbridge-backend/internal/observability"
	"github.com/yungbote/habitbridge-backend/internal/platform/apierr"
	"github.com/yungbote/habitbridge-backend/internal/services"
)

const (
	SignatureHeader    = "X-Legacy-Signature"
	maxWebhookBodySize = 1 << 20
)

type WebhookHandler struct {
	webhooks services.WebhookService
	metrics  *observability.Metrics
}

func NewWebhookHandler(webhooks services.WebhookService, metrics *observability.Metrics) *WebhookHandler {
	return &WebhookHandler{webhooks: webhooks, metrics: metrics}
}

// POST /webhooks/legacy
// The signature covers the raw body, so it is read before any decoding.
func (h *WebhookHandler) Ingest(c *gin.Context) {
	raw, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBodySize))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.RespondError(c, http.StatusRequestEntityTooLarge, "body_too_large", err)
			return
		}
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	res, err := h.webhooks.Ingest(c.Request.Context(), raw, c.GetHeader(SignatureHeader))
	if err != nil {
		h.metrics.ObserveWebhook("unknown", apierr.FromError(err, "webhook_failed").Status)
		response.RespondAPIError(c, err, "webhook_failed")
		return
	}
	h.metrics.ObserveWebhook(string(res.Entity), http.StatusOK)
	response.RespondOK(c, gin.H{"result": res})
}
