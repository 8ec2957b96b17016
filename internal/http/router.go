package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	httpH "github.com/yungbote/habitbridge-backend/internal/http/handlers"
	httpMW "github.com/yungbote/habitbridge-backend/internal/http/middleware"
	"github.com/yungbote/habitbridge-backend/internal/observability"
	"github.com/yungbote/habitbridge-backend/internal/platform/logger"
)

type RouterConfig struct {
	Log         *logger.Logger
	Metrics     *observability.Metrics
	CORSOrigins []string
	// Tracing adds the otelgin middleware; leave it off when no tracer
	// provider is installed.
	Tracing bool

	AdminAuth *httpMW.AdminAuth

	HealthHandler       *httpH.HealthHandler
	WebhookHandler      *httpH.WebhookHandler
	UsageHandler        *httpH.UsageHandler
	NotificationHandler *httpH.NotificationHandler
	AdminHandler        *httpH.AdminHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	if cfg.Tracing {
		r.Use(otelgin.Middleware(observability.DefaultServiceName))
	}
	r.Use(httpMW.AttachTraceContext())
	r.Use(httpMW.RequestLogger(cfg.Log))
	r.Use(httpMW.Metrics(cfg.Metrics))
	r.Use(httpMW.CORS(cfg.CORSOrigins))

	// Health
	if cfg.HealthHandler != nil {
		r.GET("/healthcheck", cfg.HealthHandler.HealthCheck)
		r.GET("/health", cfg.HealthHandler.Health)
	}

	// Legacy store change notifications (signature checked by the service)
	if cfg.WebhookHandler != nil {
		r.POST("/webhooks/legacy", cfg.WebhookHandler.Ingest)
	}

	api := r.Group("/api")
	{
		if cfg.UsageHandler != nil {
			api.POST("/usage/habits", cfg.UsageHandler.RecordHabit)
			api.DELETE("/usage/habits", cfg.UsageHandler.DeleteHabit)
			api.POST("/usage/goals", cfg.UsageHandler.RecordGoal)
			api.DELETE("/usage/goals", cfg.UsageHandler.DeleteGoal)
			api.POST("/usage/beliefs", cfg.UsageHandler.CompleteBelief)
			api.GET("/users/:ref/usage", cfg.UsageHandler.ListUsage)
		}

		if cfg.NotificationHandler != nil {
			api.POST("/push/subscribe", cfg.NotificationHandler.Subscribe)
			api.POST("/push/unsubscribe", cfg.NotificationHandler.Unsubscribe)
			api.GET("/notifications/preferences", cfg.NotificationHandler.GetPreferences)
			api.PUT("/notifications/preferences", cfg.NotificationHandler.UpdatePreferences)
		}
	}

	if cfg.AdminHandler != nil && cfg.AdminAuth != nil {
		admin := r.Group("/admin")
		admin.Use(cfg.AdminAuth.RequireAdmin())
		{
			admin.GET("/dead-letters", cfg.AdminHandler.ListDeadLetters)
			admin.POST("/dead-letters/:id/replay", cfg.AdminHandler.Replay)
		}
	}

	return r
}
