package onboarding

import (
	"time"

	"github.com/google/uuid"
)

const (
	RunPending   = "pending"
	RunStarted   = "started"
	RunCompleted = "completed"
	RunFailed    = "failed"
)

// OnboardingRun is the per-user ledger row for the onboarding pipeline.
// Status only moves forward (pending -> started -> completed|failed); the
// only sanctioned way back is a force re-onboarding restart. Rows are never
// deleted, they are the audit trail.
type OnboardingRun struct {
	ID            uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	UserID        uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex" json:"user_id"`
	Status        string     `gorm:"column:status;not null;default:pending;index" json:"status"`
	StartedAt     *time.Time `gorm:"column:started_at" json:"started_at,omitempty"`
	CompletedAt   *time.Time `gorm:"column:completed_at" json:"completed_at,omitempty"`
	FailureReason string     `gorm:"column:failure_reason" json:"failure_reason,omitempty"`
	CreatedAt     time.Time  `gorm:"not null;index" json:"created_at"`
	UpdatedAt     time.Time  `gorm:"not null" json:"updated_at"`
}

func (OnboardingRun) TableName() string { return "onboarding_run" }
