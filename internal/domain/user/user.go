package user

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	SubscriptionActive   = "active"
	SubscriptionPending  = "pending"
	SubscriptionCanceled = "canceled"
)

type User struct {
	ID                 uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	Email              string         `gorm:"not null;uniqueIndex" json:"email"`
	FirstName          string         `json:"first_name"`
	LastName           string         `json:"last_name"`
	Phone              string         `gorm:"column:phone" json:"phone,omitempty"`
	Timezone           string         `gorm:"column:timezone" json:"timezone,omitempty"`
	SubscriptionStatus string         `gorm:"column:subscription_status;not null;default:pending;index" json:"subscription_status"`
	CreatedAt          time.Time      `gorm:"not null;index" json:"created_at"`
	UpdatedAt          time.Time      `gorm:"not null" json:"updated_at"`
	DeletedAt          gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (User) TableName() string { return "app_user" }

// SignupData is the immutable snapshot of what the user supplied at signup.
// It is written once by the signup flow and only ever read by the onboarding
// pipeline.
type SignupData struct {
	ID            uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	UserID        uuid.UUID      `gorm:"type:uuid;not null;uniqueIndex" json:"user_id"`
	Goals         datatypes.JSON `gorm:"column:goals;type:jsonb" json:"goals"`
	Constraints   datatypes.JSON `gorm:"column:constraints;type:jsonb" json:"constraints"`
	SchedulePrefs datatypes.JSON `gorm:"column:schedule_prefs;type:jsonb" json:"schedule_prefs"`
	Experience    string         `gorm:"column:experience" json:"experience,omitempty"`
	CreatedAt     time.Time      `gorm:"not null" json:"created_at"`
}

func (SignupData) TableName() string { return "signup_data" }
