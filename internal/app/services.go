package app

import (
	"github.com/yungbote/habitbridge-backend/internal/legacy"
	"github.com/yungbote/habitbridge-backend/internal/notify"
	"github.com/yungbote/habitbridge-backend/internal/observability"
	"github.com/yungbote/habitbridge-backend/internal/platform/backendmode"
	"github.com/yungbote/habitbridge-backend/internal/platform/logger"
	"github.com/yungbote/habitbridge-backend/internal/services"
	"github.com/yungbote/habitbridge-backend/internal/sync/outbox"
	"github.com/yungbote/habitbridge-backend/internal/sync/readthrough"
)

type Services struct {
	Modes        *backendmode.Resolver
	ReadThrough  *readthrough.Users
	User         services.UserService
	Usage        services.UsageService
	Webhook      services.WebhookService
	Notification services.NotificationService
	Health       services.HealthService
	Push         notify.PushService
	Drainer      *outbox.Drainer
	Planner      *notify.Planner
	Dispatcher   *notify.Dispatcher
}

func wireServices(log *logger.Logger, cfg Config, pinger services.Pinger, clients Clients, r Repos, metrics *observability.Metrics) Services {
	log.Info("Wiring services...")
	modes := backendmode.FromEnv()
	log.Info("Backend modes",
		"user_backend", modes.Mode(services.UserBackendFlag).String(),
		"usage_backend", modes.Mode(services.UsageBackendFlag).String(),
		"read_through", modes.Flag(services.ReadThroughFlag, false),
	)

	legacyUsers := legacy.NewUsers(clients.Legacy, clients.LegacySchema)
	writer := legacy.NewWriter(clients.Legacy, clients.LegacySchema, r.IDMap, log)
	rt := readthrough.New(r.User, r.IDMap, r.Tx, r.Outbox, legacyUsers, func() bool {
		return modes.Flag(services.ReadThroughFlag, false)
	}, log)

	users := services.NewUserService(log, modes, rt, legacyUsers, r.User, r.IDMap, clients.UserCache)
	usage := services.NewUsageService(log, modes, users, r.HabitUsage, r.GoalUsage, r.BeliefUsage, r.UserStreak, writer, legacyUsers)
	webhooks := services.NewWebhookService(log, cfg.LegacyWebhookSecret, clients.LegacySchema, r.Tx, r.IDMap, users, rt, r.HabitUsage, r.GoalUsage, r.BeliefUsage)
	push := instrumentPush(notify.NewPushService(r.PushSubscription, clients.Push, log), metrics)
	drainer := outbox.NewDrainer(r.OutboxEvent, r.DeadLetter, r.Tx, legacy.NewDeliverer(writer, log), cfg.Drain, log)

	return Services{
		Modes:        modes,
		ReadThrough:  rt,
		User:         users,
		Usage:        usage,
		Webhook:      webhooks,
		Notification: services.NewNotificationService(log, users, push, r.NotificationPreferences),
		Health:       services.NewHealthService(log, pinger, r.Outbox, r.NotificationJob),
		Push:         push,
		Drainer:      drainer,
		Planner:      notify.NewPlanner(r.NotificationPreferences, r.NotificationJob, cfg.Planner, log),
		Dispatcher:   notify.NewDispatcher(r.NotificationJob, push, cfg.Dispatch, log),
	}
}
