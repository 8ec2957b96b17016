package outbox

import (
	"time"

	"gorm.io/datatypes"
)

type EventType string

const (
	EventUpsert EventType = "upsert"
	EventDelete EventType = "delete"
)

func (t EventType) Valid() bool { return t == EventUpsert || t == EventDelete }

// EntityType names a synchronized table. The set is closed; the legacy
// schema mapping has one entry per value.
type EntityType string

const (
	EntityUser             EntityType = "user"
	EntityHabitUsage       EntityType = "habit_usage"
	EntityGoalUsage        EntityType = "personal_goal_usage"
	EntityBeliefUsage      EntityType = "overtuiging_usage"
	EntityPushSubscription EntityType = "push_subscription"
)

var entityTypes = []EntityType{
	EntityUser,
	EntityHabitUsage,
	EntityGoalUsage,
	EntityBeliefUsage,
	EntityPushSubscription,
}

func EntityTypes() []EntityType { return append([]EntityType(nil), entityTypes...) }

func (t EntityType) Valid() bool {
	for _, e := range entityTypes {
		if e == t {
			return true
		}
	}
	return false
}

type Status string

const (
	StatusPending    Status = "pending"
	StatusDelivering Status = "delivering"
	StatusDone       Status = "done"
	StatusDeadLetter Status = "dead_letter"
)

// Lower priority values drain first.
const (
	PriorityReplay  = 0
	PriorityNotify  = 50
	PriorityDefault = 100
)

type OutboxEvent struct {
	ID             int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	EventType      EventType      `gorm:"column:event_type;not null" json:"event_type"`
	EntityType     EntityType     `gorm:"column:entity_type;not null;index" json:"entity_type"`
	EntityID       string         `gorm:"column:entity_id;not null" json:"entity_id"`
	Payload        datatypes.JSON `gorm:"column:payload" json:"payload"`
	Priority       int            `gorm:"column:priority;not null" json:"priority"`
	IdempotencyKey string         `gorm:"column:idempotency_key;not null;uniqueIndex" json:"idempotency_key"`
	Status         Status         `gorm:"column:status;not null;index:idx_outbox_status_next" json:"status"`
	AttemptCount   int            `gorm:"column:attempt_count;not null" json:"attempt_count"`
	NextAttemptAt  time.Time      `gorm:"column:next_attempt_at;not null;index:idx_outbox_status_next" json:"next_attempt_at"`
	LastError      string         `gorm:"column:last_error" json:"last_error,omitempty"`
	LockedAt       *time.Time     `gorm:"column:locked_at" json:"locked_at,omitempty"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (OutboxEvent) TableName() string { return "outbox_event" }

// DeadLetter is an audit copy of an outbox event that exhausted its retries.
// Replays never delete it.
type DeadLetter struct {
	ID             int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	OutboxEventID  int64          `gorm:"column:outbox_event_id;not null;index" json:"outbox_event_id"`
	EventType      EventType      `gorm:"column:event_type;not null" json:"event_type"`
	EntityType     EntityType     `gorm:"column:entity_type;not null" json:"entity_type"`
	EntityID       string         `gorm:"column:entity_id;not null" json:"entity_id"`
	Payload        datatypes.JSON `gorm:"column:payload" json:"payload"`
	IdempotencyKey string         `gorm:"column:idempotency_key;not null" json:"idempotency_key"`
	AttemptCount   int            `gorm:"column:attempt_count;not null" json:"attempt_count"`
	LastError      string         `gorm:"column:last_error" json:"last_error"`
	FailedAt       time.Time      `gorm:"column:failed_at;not null" json:"failed_at"`
	ReplayCount    int            `gorm:"column:replay_count;not null" json:"replay_count"`
	LastReplayedAt *time.Time     `gorm:"column:last_replayed_at" json:"last_replayed_at,omitempty"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (DeadLetter) TableName() string { return "outbox_dead_letter" }

type IDMapping struct {
	EntityType   EntityType `gorm:"column:entity_type;primaryKey;uniqueIndex:idx_id_map_legacy,priority:1" json:"entity_type"`
	RelationalID string     `gorm:"column:relational_id;primaryKey" json:"relational_id"`
	LegacyID     string     `gorm:"column:legacy_id;not null;uniqueIndex:idx_id_map_legacy,priority:2" json:"legacy_id"`
	LastSyncedAt time.Time  `gorm:"column:last_synced_at;not null" json:"last_synced_at"`
}

func (IDMapping) TableName() string { return "id_map" }

// Event is what producers hand to the outbox. IdempotencyKey may be left
// empty to derive it from the other fields; Priority zero means default.
type Event struct {
	Type           EventType
	Entity         EntityType
	EntityID       string
	Payload        any
	Priority       int
	IdempotencyKey string
}
