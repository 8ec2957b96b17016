package usage

import (
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/habitbridge-backend/internal/platform/civil"
)

// HabitUsage records that a user practised a method on a calendar day.
type HabitUsage struct {
	ID        uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	UserID    uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex:idx_habit_usage_natural,priority:1" json:"user_id"`
	MethodID  string     `gorm:"column:method_id;not null;uniqueIndex:idx_habit_usage_natural,priority:2" json:"method_id"`
	UsageDate civil.Date `gorm:"column:usage_date;not null;uniqueIndex:idx_habit_usage_natural,priority:3" json:"usage_date"`
	ProgramID *string    `gorm:"column:program_id" json:"program_id,omitempty"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (HabitUsage) TableName() string { return "habit_usage" }

type GoalUsage struct {
	ID        uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	UserID    uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex:idx_goal_usage_natural,priority:1" json:"user_id"`
	GoalID    string     `gorm:"column:goal_id;not null;uniqueIndex:idx_goal_usage_natural,priority:2" json:"goal_id"`
	UsageDate civil.Date `gorm:"column:usage_date;not null;uniqueIndex:idx_goal_usage_natural,priority:3" json:"usage_date"`
	ProgramID *string    `gorm:"column:program_id" json:"program_id,omitempty"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (GoalUsage) TableName() string { return "personal_goal_usage" }

// BeliefUsage ("overtuiging") can be completed once per user; there is no
// per-day repetition.
type BeliefUsage struct {
	ID            uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	UserID        uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex:idx_belief_usage_natural,priority:1" json:"user_id"`
	OvertuigingID string     `gorm:"column:overtuiging_id;not null;uniqueIndex:idx_belief_usage_natural,priority:2" json:"overtuiging_id"`
	UsageDate     civil.Date `gorm:"column:usage_date;not null" json:"usage_date"`
	ProgramID     *string    `gorm:"column:program_id" json:"program_id,omitempty"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (BeliefUsage) TableName() string { return "overtuiging_usage" }

type UserStreak struct {
	UserID         uuid.UUID   `gorm:"type:uuid;primaryKey" json:"user_id"`
	CurrentStreak  int         `gorm:"column:current_streak;not null" json:"current_streak"`
	LongestStreak  int         `gorm:"column:longest_streak;not null" json:"longest_streak"`
	LastActiveDate *civil.Date `gorm:"column:last_active_date" json:"last_active_date,omitempty"`

	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (UserStreak) TableName() string { return "user_streak" }
