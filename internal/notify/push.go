package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/habitbridge-backend/internal/data/repos"
	types "github.com/yungbote/habitbridge-backend/internal/domain"
	"github.com/yungbote/habitbridge-backend/internal/platform/apierr"
	"github.com/yungbote/habitbridge-backend/internal/platform/dbctx"
	"github.com/yungbote/habitbridge-backend/internal/platform/logger"
)

type SubscriptionKeys struct {
	P256dh string `json:"p256dh"`
	Auth   string `json:"auth"`
}

// SubscribeInput mirrors the browser's PushSubscription JSON.
type SubscribeInput struct {
	Endpoint  string           `json:"endpoint"`
	Keys      SubscriptionKeys `json:"keys"`
	UserAgent string           `json:"user_agent,omitempty"`
}

type Message struct {
	Title string         `json:"title"`
	Body  string         `json:"body"`
	URL   string         `json:"url,omitempty"`
	Tag   string         `json:"tag,omitempty"`
	Data  map[string]any `json:"data,omitempty"`
}

type SendResult struct {
	Attempted int `json:"attempted"`
	Delivered int `json:"delivered"`
	Expired   int `json:"expired"`
	Failed    int `json:"failed"`
}

type PushService interface {
	Subscribe(ctx context.Context, userID uuid.UUID, in SubscribeInput) (*types.PushSubscription, error)
	// Unsubscribe reports false when the subscription was already revoked
	// or never existed.
	Unsubscribe(ctx context.Context, userID uuid.UUID, endpoint string) (bool, error)
	SendToUser(ctx context.Context, userID uuid.UUID, msg Message) (SendResult, error)
}

type pushService struct {
	subs      repos.PushSubscriptionRepo
	transport Transport
	log       *logger.Logger
	now       func() time.Time
}

func NewPushService(subs repos.PushSubscriptionRepo, transport Transport, baseLog *logger.Logger) PushService {
	return &pushService{
		subs:      subs,
		transport: transport,
		log:       baseLog.With("service", "PushService"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *pushService) Subscribe(ctx context.Context, userID uuid.UUID, in SubscribeInput) (*types.PushSubscription, error) {
	endpoint := strings.TrimSpace(in.Endpoint)
	if userID == uuid.Nil || endpoint == "" || strings.TrimSpace(in.Keys.P256dh) == "" || strings.TrimSpace(in.Keys.Auth) == "" {
		return nil, fmt.Errorf("subscription needs user, endpoint and keys: %w", apierr.ErrInvalidArgument)
	}
	if !strings.HasPrefix(endpoint, "https://") {
		return nil, fmt.Errorf("push endpoint must be https: %w", apierr.ErrInvalidArgument)
	}
	return s.subs.Upsert(dbctx.Context{Ctx: ctx}, &types.PushSubscription{
		UserID:    userID,
		Endpoint:  endpoint,
		P256dh:    strings.TrimSpace(in.Keys.P256dh),
		Auth:      strings.TrimSpace(in.Keys.Auth),
		UserAgent: strings.TrimSpace(in.UserAgent),
	})
}

func (s *pushService) Unsubscribe(ctx context.Context, userID uuid.UUID, endpoint string) (bool, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return false, fmt.Errorf("endpoint required: %w", apierr.ErrInvalidArgument)
	}
	n, err := s.subs.Revoke(dbctx.Context{Ctx: ctx}, userID, endpoint)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// SendToUser pushes msg to every active subscription of the user. 404 and
// 410 from the push service expire the subscription; other failures are
// recorded and the subscription stays active. When push is disabled nothing
// is sent or recorded and ErrPushDisabled is returned.
func (s *pushService) SendToUser(ctx context.Context, userID uuid.UUID, msg Message) (SendResult, error) {
	var res SendResult
	dbc := dbctx.Context{Ctx: ctx}
	subs, err := s.subs.ListActiveByUser(dbc, userID)
	if err != nil {
		return res, err
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return res, err
	}
	for _, sub := range subs {
		res.Attempted++
		status, sendErr := s.transport.Send(ctx, sub, payload)
		if errors.Is(sendErr, ErrPushDisabled) {
			res.Attempted--
			return res, sendErr
		}
		switch {
		case sendErr == nil && status >= 200 && status < 300:
			res.Delivered++
			if err := s.subs.MarkSuccess(dbc, sub.ID, s.now()); err != nil {
				return res, err
			}
		case sendErr == nil && (status == http.StatusNotFound || status == http.StatusGone):
			res.Expired++
			if _, err := s.subs.MarkExpired(dbc, sub.ID, fmt.Sprintf("push service returned %d", status)); err != nil {
				return res, err
			}
			s.log.Info("push subscription expired", "subscription_id", sub.ID, "user_id", userID, "status", status)
		default:
			res.Failed++
			lastErr := fmt.Sprintf("push service returned %d", status)
			if sendErr != nil {
				lastErr = sendErr.Error()
			}
			if err := s.subs.RecordError(dbc, sub.ID, lastErr); err != nil {
				return res, err
			}
			s.log.Warn("push delivery failed", "subscription_id", sub.ID, "user_id", userID, "error", lastErr)
		}
	}
	return res, nil
}
