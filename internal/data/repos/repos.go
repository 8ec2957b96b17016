package repos

import (
	"github.com/yungbote/habitbridge-backend/internal/data/repos/notify"
	"github.com/yungbote/habitbridge-backend/internal/data/repos/outbox"
	"github.com/yungbote/habitbridge-backend/internal/data/repos/usage"
	"github.com/yungbote/habitbridge-backend/internal/data/repos/user"
)

type UserRepo = user.UserRepo

type OutboxEventRepo = outbox.OutboxEventRepo
type DeadLetterRepo = outbox.DeadLetterRepo
type IDMapRepo = outbox.IDMapRepo

type HabitUsageRepo = usage.HabitUsageRepo
type GoalUsageRepo = usage.GoalUsageRepo
type BeliefUsageRepo = usage.BeliefUsageRepo
type UserStreakRepo = usage.UserStreakRepo
type UsageRange = usage.Range

type PushSubscriptionRepo = notify.PushSubscriptionRepo
type NotificationPreferencesRepo = notify.NotificationPreferencesRepo
type NotificationJobRepo = notify.NotificationJobRepo

var ErrAlreadyCompleted = usage.ErrAlreadyCompleted

var (
	NewUserRepo = user.NewUserRepo

	NewOutboxEventRepo = outbox.NewOutboxEventRepo
	NewDeadLetterRepo  = outbox.NewDeadLetterRepo
	NewIDMapRepo       = outbox.NewIDMapRepo

	NewHabitUsageRepo  = usage.NewHabitUsageRepo
	NewGoalUsageRepo   = usage.NewGoalUsageRepo
	NewBeliefUsageRepo = usage.NewBeliefUsageRepo
	NewUserStreakRepo  = usage.NewUserStreakRepo

	NewPushSubscriptionRepo        = notify.NewPushSubscriptionRepo
	NewNotificationPreferencesRepo = notify.NewNotificationPreferencesRepo
	NewNotificationJobRepo         = notify.NewNotificationJobRepo
)
