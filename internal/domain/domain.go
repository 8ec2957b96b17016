package domain

import (
	"github.com/yungbote/habitbridge-backend/internal/domain/notify"
	"github.com/yungbote/habitbridge-backend/internal/domain/outbox"
	"github.com/yungbote/habitbridge-backend/internal/domain/usage"
	"github.com/yungbote/habitbridge-backend/internal/domain/user"
)

type User = user.User

type HabitUsage = usage.HabitUsage
type GoalUsage = usage.GoalUsage
type BeliefUsage = usage.BeliefUsage
type UserStreak = usage.UserStreak

type OutboxEvent = outbox.OutboxEvent
type DeadLetter = outbox.DeadLetter
type IDMapping = outbox.IDMapping
type EventType = outbox.EventType
type EntityType = outbox.EntityType
type OutboxStatus = outbox.Status
type OutboxInput = outbox.Event

const (
	EventUpsert = outbox.EventUpsert
	EventDelete = outbox.EventDelete

	EntityUser             = outbox.EntityUser
	EntityHabitUsage       = outbox.EntityHabitUsage
	EntityGoalUsage        = outbox.EntityGoalUsage
	EntityBeliefUsage      = outbox.EntityBeliefUsage
	EntityPushSubscription = outbox.EntityPushSubscription

	OutboxPending    = outbox.StatusPending
	OutboxDelivering = outbox.StatusDelivering
	OutboxDone       = outbox.StatusDone
	OutboxDeadLetter = outbox.StatusDeadLetter

	PriorityReplay  = outbox.PriorityReplay
	PriorityNotify  = outbox.PriorityNotify
	PriorityDefault = outbox.PriorityDefault
)

func EntityTypes() []EntityType { return outbox.EntityTypes() }

type PushSubscription = notify.PushSubscription
type SubscriptionStatus = notify.SubscriptionStatus
type NotificationPreferences = notify.NotificationPreferences
type ReminderMode = notify.ReminderMode
type NotificationJob = notify.NotificationJob
type JobStatus = notify.JobStatus
type JobMode = notify.JobMode

const (
	SubscriptionActive  = notify.SubscriptionActive
	SubscriptionRevoked = notify.SubscriptionRevoked
	SubscriptionExpired = notify.SubscriptionExpired

	ReminderSession      = notify.ReminderSession
	ReminderDailySummary = notify.ReminderDailySummary
	ReminderBoth         = notify.ReminderBoth

	JobPending           = notify.JobPending
	JobDispatching       = notify.JobDispatching
	JobSkippedQuietHours = notify.JobSkippedQuietHours
	JobSent              = notify.JobSent
	JobFailed            = notify.JobFailed

	JobModeSession      = notify.JobModeSession
	JobModeDailySummary = notify.JobModeDailySummary
)

// AllModels lists every table the service owns, in migration order.
func AllModels() []any {
	return []any{
		&User{},
		&HabitUsage{},
		&GoalUsage{},
		&BeliefUsage{},
		&UserStreak{},
		&OutboxEvent{},
		&DeadLetter{},
		&IDMapping{},
		&PushSubscription{},
		&NotificationPreferences{},
		&NotificationJob{},
	}
}

var JobKey = notify.JobKey
