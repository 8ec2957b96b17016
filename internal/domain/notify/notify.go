package notify

import (
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/habitbridge-backend/internal/platform/civil"
)

type SubscriptionStatus string

const (
	SubscriptionActive  SubscriptionStatus = "active"
	SubscriptionRevoked SubscriptionStatus = "revoked"
	SubscriptionExpired SubscriptionStatus = "expired"
)

type PushSubscription struct {
	ID            uuid.UUID          `gorm:"type:uuid;primaryKey" json:"id"`
	UserID        uuid.UUID          `gorm:"type:uuid;not null;index" json:"user_id"`
	Endpoint      string             `gorm:"column:endpoint;not null;uniqueIndex" json:"endpoint"`
	P256dh        string             `gorm:"column:p256dh;not null" json:"-"`
	Auth          string             `gorm:"column:auth;not null" json:"-"`
	Status        SubscriptionStatus `gorm:"column:status;not null;index" json:"status"`
	UserAgent     string             `gorm:"column:user_agent" json:"user_agent,omitempty"`
	LastError     string             `gorm:"column:last_error" json:"last_error,omitempty"`
	LastSuccessAt *time.Time         `gorm:"column:last_success_at" json:"last_success_at,omitempty"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (PushSubscription) TableName() string { return "push_subscription" }

type ReminderMode string

const (
	ReminderSession      ReminderMode = "session"
	ReminderDailySummary ReminderMode = "daily_summary"
	ReminderBoth         ReminderMode = "both"
)

func (m ReminderMode) Valid() bool {
	switch m {
	case ReminderSession, ReminderDailySummary, ReminderBoth:
		return true
	}
	return false
}

// NotificationPreferences times are local "HH:MM" strings in Timezone. An
// empty quiet-hours pair disables quiet hours; start == end means all day.
type NotificationPreferences struct {
	UserID             uuid.UUID    `gorm:"type:uuid;primaryKey" json:"user_id"`
	Enabled            bool         `gorm:"column:enabled;not null;index" json:"enabled"`
	ReminderMode       ReminderMode `gorm:"column:reminder_mode;not null" json:"reminder_mode"`
	LeadMinutes        int          `gorm:"column:lead_minutes;not null" json:"lead_minutes"`
	PreferredTimeLocal string       `gorm:"column:preferred_time_local;not null" json:"preferred_time_local"`
	Timezone           string       `gorm:"column:timezone;not null" json:"timezone"`
	QuietHoursStart    string       `gorm:"column:quiet_hours_start" json:"quiet_hours_start"`
	QuietHoursEnd      string       `gorm:"column:quiet_hours_end" json:"quiet_hours_end"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (NotificationPreferences) TableName() string { return "notification_preferences" }

type JobStatus string

const (
	JobPending           JobStatus = "pending"
	JobDispatching       JobStatus = "dispatching"
	JobSkippedQuietHours JobStatus = "skipped_quiet_hours"
	JobSent              JobStatus = "sent"
	JobFailed            JobStatus = "failed"
)

// JobMode is the kind of reminder a job delivers; it is never "both".
type JobMode string

const (
	JobModeSession      JobMode = "session"
	JobModeDailySummary JobMode = "daily_summary"
)

type NotificationJob struct {
	ID             uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	UserID         uuid.UUID  `gorm:"type:uuid;not null;index" json:"user_id"`
	Mode           JobMode    `gorm:"column:mode;not null" json:"mode"`
	LocalDate      civil.Date `gorm:"column:local_date;not null" json:"local_date"`
	ScheduledFor   time.Time  `gorm:"column:scheduled_for;not null;index:idx_notification_job_due,priority:2" json:"scheduled_for"`
	Status         JobStatus  `gorm:"column:status;not null;index:idx_notification_job_due,priority:1" json:"status"`
	IdempotencyKey string     `gorm:"column:idempotency_key;not null;uniqueIndex" json:"idempotency_key"`
	Attempts       int        `gorm:"column:attempts;not null" json:"attempts"`
	LastError      string     `gorm:"column:last_error" json:"last_error,omitempty"`
	LockedAt       *time.Time `gorm:"column:locked_at" json:"-"`
	SentAt         *time.Time `gorm:"column:sent_at" json:"sent_at,omitempty"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (NotificationJob) TableName() string { return "notification_job" }

// JobKey identifies one reminder per user, local date and mode.
func JobKey(userID uuid.UUID, date civil.Date, mode JobMode) string {
	return userID.String() + ":" + date.String() + ":" + string(mode)
}
