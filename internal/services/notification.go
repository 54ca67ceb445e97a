package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	onboardingrepo "github.com/stridelab/coach-backend/internal/data/repos/onboarding"
	types "github.com/stridelab/coach-backend/internal/domain"
	"github.com/stridelab/coach-backend/internal/pkg/dbctx"
	"github.com/stridelab/coach-backend/internal/pkg/logger"
	"github.com/stridelab/coach-backend/internal/platform/textline"
)

// NotificationService sends the onboarding SMS pair (welcome, first workout).
// It may decline without error: an inactive subscription or a missing phone
// number is a skip, not a failure. Per-attempt idempotency comes from the
// (user, kind, run_token) unique index on the message table, where the run
// token is derived from the ledger's started_at. A force restart stamps a
// new started_at, so re-onboarding sends again while retries within one
// attempt do not.
type NotificationService interface {
	SendOnboardingMessages(ctx context.Context, user *types.User, run *types.OnboardingRun, workout *types.WorkoutInstance) (bool, error)
}

type notificationService struct {
	messages onboardingrepo.MessageRepo
	sms      textline.Client
	log      *logger.Logger
}

func NewNotificationService(messages onboardingrepo.MessageRepo, sms textline.Client, baseLog *logger.Logger) NotificationService {
	return &notificationService{
		messages: messages,
		sms:      sms,
		log:      baseLog.With("service", "NotificationService"),
	}
}

// RunToken identifies one onboarding attempt for message dedupe.
func RunToken(run *types.OnboardingRun) string {
	if run == nil {
		return ""
	}
	if run.StartedAt != nil {
		return fmt.Sprintf("%s:%d", run.ID, run.StartedAt.UnixNano())
	}
	return run.ID.String()
}

func (s *notificationService) SendOnboardingMessages(ctx context.Context, user *types.User, run *types.OnboardingRun, workout *types.WorkoutInstance) (bool, error) {
	if user == nil {
		return false, ErrUserNotFound
	}
	if user.SubscriptionStatus != types.SubscriptionActive {
		s.log.Info("skipping onboarding messages, subscription not active", "user_id", user.ID, "subscription_status", user.SubscriptionStatus)
		return false, nil
	}
	if user.Phone == "" {
		s.log.Info("skipping onboarding messages, no phone on file", "user_id", user.ID)
		return false, nil
	}

	token := RunToken(run)
	if token == "" {
		return false, errors.New("onboarding run has no token")
	}

	if err := s.sendOnce(ctx, user, token, types.MessageKindWelcome, welcomeBody(user)); err != nil {
		return false, err
	}
	if err := s.sendOnce(ctx, user, token, types.MessageKindFirstWorkout, firstWorkoutBody(workout)); err != nil {
		return false, err
	}
	return true, nil
}

// sendOnce delivers one message kind at most once per run token. Only sent
// messages are recorded; a delivery failure leaves no row so a later retry
// can try again.
func (s *notificationService) sendOnce(ctx context.Context, user *types.User, token, kind, body string) error {
	exists, err := s.messages.ExistsForRun(dbctx.New(ctx), user.ID, kind, token)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	res, err := s.sms.SendSMS(ctx, textline.SendSMSRequest{To: user.Phone, Body: body})
	if err != nil {
		return fmt.Errorf("send %s: %w", kind, err)
	}

	msg := &types.Message{
		ID:         uuid.New(),
		UserID:     user.ID,
		Kind:       kind,
		RunToken:   token,
		Body:       body,
		Status:     types.MessageStatusSent,
		ProviderID: res.ProviderID,
	}
	if _, err := s.messages.Create(dbctx.New(ctx), []*types.Message{msg}); err != nil {
		// A concurrent sender recorded it first. The SMS may have gone out
		// twice in that window; the record stays single.
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil
		}
		return err
	}
	s.log.Info("onboarding message sent", "user_id", user.ID, "kind", kind, "provider_id", res.ProviderID)
	return nil
}

func welcomeBody(user *types.User) string {
	name := user.FirstName
	if name == "" {
		name = "there"
	}
	return fmt.Sprintf("Hi %s, welcome to Stride! Your coaching plan is ready. Reply STOP to opt out.", name)
}

func firstWorkoutBody(workout *types.WorkoutInstance) string {
	if workout == nil || workout.Title == "" {
		return "Your first workout is ready in the app. See you out there!"
	}
	return fmt.Sprintf("Your first workout is ready: %s (%s). Open the app when you're set.", workout.Title, workout.WorkoutDate)
}
