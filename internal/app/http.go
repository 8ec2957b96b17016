package app

import (
	httpserver "github.com/yungbote/habitbridge-backend/internal/http"
	httpH "github.com/yungbote/habitbridge-backend/internal/http/handlers"
	httpMW "github.com/yungbote/habitbridge-backend/internal/http/middleware"
	"github.com/yungbote/habitbridge-backend/internal/observability"
	"github.com/yungbote/habitbridge-backend/internal/platform/logger"
)

type Handlers struct {
	Health       *httpH.HealthHandler
	Webhook      *httpH.WebhookHandler
	Usage        *httpH.UsageHandler
	Notification *httpH.NotificationHandler
	Admin        *httpH.AdminHandler
}

type Middleware struct {
	AdminAuth *httpMW.AdminAuth
}

func wireHandlers(log *logger.Logger, svc Services, r Repos, metrics *observability.Metrics) Handlers {
	log.Info("Wiring handlers...")
	return Handlers{
		Health:       httpH.NewHealthHandler(svc.Health),
		Webhook:      httpH.NewWebhookHandler(svc.Webhook, metrics),
		Usage:        httpH.NewUsageHandler(svc.Usage),
		Notification: httpH.NewNotificationHandler(svc.Notification),
		Admin:        httpH.NewAdminHandler(log, r.Outbox, metrics),
	}
}

func wireMiddleware(log *logger.Logger, cfg Config) Middleware {
	log.Info("Wiring middleware...")
	return Middleware{
		AdminAuth: httpMW.NewAdminAuth(log, cfg.AdminJWTSecret),
	}
}

func wireServer(log *logger.Logger, cfg Config, metrics *observability.Metrics, h Handlers, mw Middleware) *httpserver.Server {
	return httpserver.NewServer(httpserver.RouterConfig{
		Log:                 log,
		Metrics:             metrics,
		CORSOrigins:         cfg.CORSOrigins,
		Tracing:             cfg.Tracing,
		AdminAuth:           mw.AdminAuth,
		HealthHandler:       h.Health,
		WebhookHandler:      h.Webhook,
		UsageHandler:        h.Usage,
		NotificationHandler: h.Notification,
		AdminHandler:        h.Admin,
	})
}
