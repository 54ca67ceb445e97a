package coaching

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Microcycle is one week's training pattern under a Plan. WeekStart is an ISO
// date (Monday) so the (user, week, current) uniqueness is exact across
// drivers.
type Microcycle struct {
	ID         uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	UserID     uuid.UUID      `gorm:"type:uuid;not null;index;uniqueIndex:ux_microcycle_user_week_current,priority:1" json:"user_id"`
	PlanID     uuid.UUID      `gorm:"type:uuid;not null;index" json:"plan_id"`
	WeekStart  string         `gorm:"column:week_start;not null;uniqueIndex:ux_microcycle_user_week_current,priority:2" json:"week_start"`
	WeekEnd    string         `gorm:"column:week_end;not null" json:"week_end"`
	CurrentKey *string        `gorm:"column:current_key;uniqueIndex:ux_microcycle_user_week_current,priority:3" json:"current_key,omitempty"`
	Days       datatypes.JSON `gorm:"column:days;type:jsonb" json:"days"`
	Model      string         `gorm:"column:model" json:"model,omitempty"`
	CreatedAt  time.Time      `gorm:"not null;index" json:"created_at"`
	UpdatedAt  time.Time      `gorm:"not null" json:"updated_at"`
	DeletedAt  gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (Microcycle) TableName() string { return "microcycle" }
