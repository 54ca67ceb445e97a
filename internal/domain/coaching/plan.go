package coaching

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Plan is a training plan derived from the user's current Profile. It holds a
// read-only reference to the profile it was generated from, never a copy.
type Plan struct {
	ID         uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	UserID     uuid.UUID      `gorm:"type:uuid;not null;index;uniqueIndex:ux_plan_user_current,priority:1" json:"user_id"`
	ProfileID  uuid.UUID      `gorm:"type:uuid;not null;index" json:"profile_id"`
	CurrentKey *string        `gorm:"column:current_key;uniqueIndex:ux_plan_user_current,priority:2" json:"current_key,omitempty"`
	Title      string         `gorm:"column:title" json:"title"`
	Content    datatypes.JSON `gorm:"column:content;type:jsonb" json:"content"`
	Model      string         `gorm:"column:model" json:"model,omitempty"`
	CreatedAt  time.Time      `gorm:"not null;index" json:"created_at"`
	UpdatedAt  time.Time      `gorm:"not null" json:"updated_at"`
	DeletedAt  gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (Plan) TableName() string { return "plan" }
