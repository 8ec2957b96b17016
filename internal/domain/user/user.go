package user

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// User is the relational copy of a legacy user record. LegacyFields keeps the
// raw legacy field set seen at the last read-through or webhook sync.
type User struct {
	ID           uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	Email        string         `gorm:"uniqueIndex;not null;column:email" json:"email"`
	Name         string         `gorm:"column:name" json:"name"`
	Timezone     string         `gorm:"column:timezone" json:"timezone"`
	LegacyFields datatypes.JSON `gorm:"column:legacy_fields" json:"legacy_fields,omitempty"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (User) TableName() string { return "user" }
