package coaching

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// CurrentKey is the value held by the "current" row of a history-preserving
// entity. Superseded rows carry NULL, so the (owner, current_key) unique
// index admits any number of historical rows but at most one current one.
const CurrentKey = "current"

func CurrentSlot() *string {
	k := CurrentKey
	return &k
}

// Profile is the derived fitness profile for a user. Re-creation inserts a
// new row and demotes the old current; rows are never mutated in place.
type Profile struct {
	ID         uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	UserID     uuid.UUID      `gorm:"type:uuid;not null;index;uniqueIndex:ux_profile_user_current,priority:1" json:"user_id"`
	CurrentKey *string        `gorm:"column:current_key;uniqueIndex:ux_profile_user_current,priority:2" json:"current_key,omitempty"`
	Content    datatypes.JSON `gorm:"column:content;type:jsonb" json:"content"`
	Model      string         `gorm:"column:model" json:"model,omitempty"`
	CreatedAt  time.Time      `gorm:"not null;index" json:"created_at"`
	UpdatedAt  time.Time      `gorm:"not null" json:"updated_at"`
	DeletedAt  gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (Profile) TableName() string { return "profile" }
