package app

import (
	"gorm.io/gorm"

	"github.com/yungbote/habitbridge-backend/internal/data/db"
	"github.com/yungbote/habitbridge-backend/internal/data/repos"
	"github.com/yungbote/habitbridge-backend/internal/platform/logger"
	"github.com/yungbote/habitbridge-backend/internal/sync/outbox"
)

type Repos struct {
	Tx     db.TxRunner
	Outbox outbox.Outbox

	User        repos.UserRepo
	OutboxEvent repos.OutboxEventRepo
	DeadLetter  repos.DeadLetterRepo
	IDMap       repos.IDMapRepo

	HabitUsage  repos.HabitUsageRepo
	GoalUsage   repos.GoalUsageRepo
	BeliefUsage repos.BeliefUsageRepo
	UserStreak  repos.UserStreakRepo

	PushSubscription        repos.PushSubscriptionRepo
	NotificationPreferences repos.NotificationPreferencesRepo
	NotificationJob         repos.NotificationJobRepo
}

func wireRepos(theDB *gorm.DB, log *logger.Logger, cfg Config) Repos {
	log.Info("Wiring repos...")
	tx := db.NewGormTxRunner(theDB, db.TxOptions{
		AcquireTimeout: cfg.DB.AcquireTimeout,
		Retries:        cfg.DB.TxRetries,
	}, log)

	events := repos.NewOutboxEventRepo(theDB, log)
	deadLetters := repos.NewDeadLetterRepo(theDB, log)
	ob := outbox.New(events, deadLetters, tx, log)
	streaks := repos.NewUserStreakRepo(theDB, ob, log)

	return Repos{
		Tx:     tx,
		Outbox: ob,

		User:        repos.NewUserRepo(theDB, log),
		OutboxEvent: events,
		DeadLetter:  deadLetters,
		IDMap:       repos.NewIDMapRepo(theDB, log),

		HabitUsage:  repos.NewHabitUsageRepo(theDB, tx, ob, streaks, log),
		GoalUsage:   repos.NewGoalUsageRepo(theDB, tx, ob, streaks, log),
		BeliefUsage: repos.NewBeliefUsageRepo(theDB, tx, ob, log),
		UserStreak:  streaks,

		PushSubscription:        repos.NewPushSubscriptionRepo(theDB, tx, ob, log),
		NotificationPreferences: repos.NewNotificationPreferencesRepo(theDB, log),
		NotificationJob:         repos.NewNotificationJobRepo(theDB, log),
	}
}
