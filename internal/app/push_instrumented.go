package app

import (
	"context"

	"github.com/google/uuid"

	"github.com/yungbote/habitbridge-backend/internal/notify"
	"github.com/yungbote/habitbridge-backend/internal/observability"
)

// instrumentedPush counts per-subscription push outcomes. Subscribe and
// Unsubscribe pass straight through via the embedded service.
type instrumentedPush struct {
	notify.PushService
	metrics *observability.Metrics
}

func instrumentPush(inner notify.PushService, metrics *observability.Metrics) notify.PushService {
	if inner == nil || metrics == nil {
		return inner
	}
	return &instrumentedPush{PushService: inner, metrics: metrics}
}

func (p *instrumentedPush) SendToUser(ctx context.Context, userID uuid.UUID, msg notify.Message) (notify.SendResult, error) {
	res, err := p.PushService.SendToUser(ctx, userID, msg)
	p.metrics.AddPush(observability.OutcomeDelivered, res.Delivered)
	p.metrics.AddPush(observability.OutcomeExpired, res.Expired)
	p.metrics.AddPush(observability.OutcomeFailed, res.Failed)
	return res, err
}
