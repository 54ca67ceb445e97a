package onboarding

import (
	"time"

	"github.com/google/uuid"
)

const (
	MessageKindWelcome      = "welcome"
	MessageKindFirstWorkout = "first_workout"

	MessageStatusSent   = "sent"
	MessageStatusFailed = "failed"
)

// Message is an outbound notification record. The (user, kind, run_token)
// unique index is what makes the dispatcher idempotent: a second send attempt
// for the same onboarding attempt hits the constraint instead of the wire.
type Message struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	UserID     uuid.UUID `gorm:"type:uuid;not null;index;uniqueIndex:ux_message_user_kind_run,priority:1" json:"user_id"`
	Kind       string    `gorm:"column:kind;not null;uniqueIndex:ux_message_user_kind_run,priority:2" json:"kind"`
	RunToken   string    `gorm:"column:run_token;not null;uniqueIndex:ux_message_user_kind_run,priority:3" json:"run_token"`
	Body       string    `gorm:"column:body" json:"body"`
	Status     string    `gorm:"column:status;not null" json:"status"`
	ProviderID string    `gorm:"column:provider_id" json:"provider_id,omitempty"`
	CreatedAt  time.Time `gorm:"not null;index" json:"created_at"`
}

func (Message) TableName() string { return "message" }
