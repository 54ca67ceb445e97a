package coaching

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// WorkoutInstance is a single day's workout under a Microcycle, keyed by ISO
// calendar date.
type WorkoutInstance struct {
	ID           uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	UserID       uuid.UUID      `gorm:"type:uuid;not null;index;uniqueIndex:ux_workout_user_date_current,priority:1" json:"user_id"`
	MicrocycleID uuid.UUID      `gorm:"type:uuid;not null;index" json:"microcycle_id"`
	WorkoutDate  string         `gorm:"column:workout_date;not null;uniqueIndex:ux_workout_user_date_current,priority:2" json:"workout_date"`
	CurrentKey   *string        `gorm:"column:current_key;uniqueIndex:ux_workout_user_date_current,priority:3" json:"current_key,omitempty"`
	Title        string         `gorm:"column:title" json:"title"`
	Content      datatypes.JSON `gorm:"column:content;type:jsonb" json:"content"`
	Model        string         `gorm:"column:model" json:"model,omitempty"`
	CreatedAt    time.Time      `gorm:"not null;index" json:"created_at"`
	UpdatedAt    time.Time      `gorm:"not null" json:"updated_at"`
	DeletedAt    gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (WorkoutInstance) TableName() string { return "workout_instance" }
