package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"

	types "github.com/yungbote/habitbridge-backend/internal/domain"
	"github.com/yungbote/habitbridge-backend/internal/platform/envutil"
)

// Transport delivers one encrypted payload to one subscription and reports
// the push service's HTTP status. A non-nil error means no status was
// received.
type Transport interface {
	Send(ctx context.Context, sub *types.PushSubscription, payload []byte) (int, error)
}

type VAPIDConfig struct {
	PublicKey  string
	PrivateKey string
	// Subject is the mailto: or https: contact put in the VAPID token.
	Subject string
	TTL     time.Duration
}

func VAPIDConfigFromEnv() VAPIDConfig {
	return VAPIDConfig{
		PublicKey:  envutil.String("VAPID_PUBLIC_KEY", ""),
		PrivateKey: envutil.String("VAPID_PRIVATE_KEY", ""),
		Subject:    envutil.String("VAPID_SUBJECT", ""),
		TTL:        envutil.Duration("PUSH_TTL", 12*time.Hour),
	}
}

type webPushTransport struct {
	cfg    VAPIDConfig
	client *http.Client
}

func NewWebPushTransport(cfg VAPIDConfig) (Transport, error) {
	if strings.TrimSpace(cfg.PublicKey) == "" || strings.TrimSpace(cfg.PrivateKey) == "" {
		return nil, fmt.Errorf("missing VAPID_PUBLIC_KEY or VAPID_PRIVATE_KEY")
	}
	if strings.TrimSpace(cfg.Subject) == "" {
		return nil, fmt.Errorf("missing VAPID_SUBJECT")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 12 * time.Hour
	}
	return &webPushTransport{cfg: cfg, client: &http.Client{Timeout: 15 * time.Second}}, nil
}

func (t *webPushTransport) Send(ctx context.Context, sub *types.PushSubscription, payload []byte) (int, error) {
	resp, err := webpush.SendNotificationWithContext(ctx, payload, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys:     webpush.Keys{P256dh: sub.P256dh, Auth: sub.Auth},
	}, &webpush.Options{
		HTTPClient:      t.client,
		Subscriber:      t.cfg.Subject,
		VAPIDPublicKey:  t.cfg.PublicKey,
		VAPIDPrivateKey: t.cfg.PrivateKey,
		TTL:             int(t.cfg.TTL / time.Second),
		Urgency:         webpush.UrgencyNormal,
	})
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	return resp.StatusCode, nil
}

// ErrPushDisabled is returned by NopTransport. Nothing was sent, so callers
// must not count it as a delivery or as a subscription failure.
var ErrPushDisabled = errors.New("push delivery disabled: VAPID keys not configured")

// NopTransport refuses every push; used when VAPID keys are not configured.
type NopTransport struct{}

func (NopTransport) Send(context.Context, *types.PushSubscription, []byte) (int, error) {
	return 0, ErrPushDisabled
}
