package domain

import (
	"github.com/stridelab/coach-backend/internal/domain/coaching"
	"github.com/stridelab/coach-backend/internal/domain/jobs"
	"github.com/stridelab/coach-backend/internal/domain/onboarding"
	"github.com/stridelab/coach-backend/internal/domain/user"
)

type (
	User       = user.User
	SignupData = user.SignupData

	Profile         = coaching.Profile
	Plan            = coaching.Plan
	Microcycle      = coaching.Microcycle
	WorkoutInstance = coaching.WorkoutInstance

	OnboardingRun = onboarding.OnboardingRun
	Message       = onboarding.Message

	JobRun = jobs.JobRun
)

const (
	SubscriptionActive   = user.SubscriptionActive
	SubscriptionPending  = user.SubscriptionPending
	SubscriptionCanceled = user.SubscriptionCanceled

	CurrentKey = coaching.CurrentKey

	RunPending   = onboarding.RunPending
	RunStarted   = onboarding.RunStarted
	RunCompleted = onboarding.RunCompleted
	RunFailed    = onboarding.RunFailed

	MessageKindWelcome      = onboarding.MessageKindWelcome
	MessageKindFirstWorkout = onboarding.MessageKindFirstWorkout
	MessageStatusSent       = onboarding.MessageStatusSent
	MessageStatusFailed     = onboarding.MessageStatusFailed

	JobStatusQueued    = jobs.StatusQueued
	JobStatusRunning   = jobs.StatusRunning
	JobStatusSucceeded = jobs.StatusSucceeded
	JobStatusFailed    = jobs.StatusFailed
	JobStatusCanceled  = jobs.StatusCanceled
)

var CurrentSlot = coaching.CurrentSlot
