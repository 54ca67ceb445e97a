package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	onboardingrepo "github.com/stridelab/coach-backend/internal/data/repos/onboarding"
	"github.com/stridelab/coach-backend/internal/data/repos/testutil"
	types "github.com/stridelab/coach-backend/internal/domain"
	"github.com/stridelab/coach-backend/internal/pkg/dbctx"
	"github.com/stridelab/coach-backend/internal/platform/textline"
)

type fakeSMS struct {
	sent []textline.SendSMSRequest
	err  error
}

func (f *fakeSMS) SendSMS(_ context.Context, req textline.SendSMSRequest) (*textline.SendSMSResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.sent = append(f.sent, req)
	return &textline.SendSMSResult{ProviderID: "prov-1", Accepted: true}, nil
}

func activeUser() *types.User {
	return &types.User{
		ID:                 uuid.New(),
		Email:              "a@b.c",
		FirstName:          "Sam",
		Phone:              "+15550100",
		SubscriptionStatus: types.SubscriptionActive,
	}
}

func startedRun(userID uuid.UUID) *types.OnboardingRun {
	now := time.Now().UTC()
	return &types.OnboardingRun{
		ID:        uuid.New(),
		UserID:    userID,
		Status:    types.RunStarted,
		StartedAt: &now,
	}
}

func TestSendOnboardingMessages(t *testing.T) {
	db := testutil.DB(t)
	msgs := onboardingrepo.NewMessageRepo(db, testutil.Logger(t))
	sms := &fakeSMS{}
	svc := NewNotificationService(msgs, sms, testutil.Logger(t))

	user := activeUser()
	run := startedRun(user.ID)
	workout := &types.WorkoutInstance{ID: uuid.New(), UserID: user.ID, Title: "Tempo Run", WorkoutDate: "2026-08-30"}

	sent, err := svc.SendOnboardingMessages(context.Background(), user, run, workout)
	if err != nil {
		t.Fatalf("SendOnboardingMessages: %v", err)
	}
	if !sent {
		t.Fatalf("sent = false")
	}
	if len(sms.sent) != 2 {
		t.Fatalf("delivered %d SMS, want 2", len(sms.sent))
	}

	// Replay within the same run is a no-op on the wire.
	sent, err = svc.SendOnboardingMessages(context.Background(), user, run, workout)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if !sent {
		t.Fatalf("replay sent = false")
	}
	if len(sms.sent) != 2 {
		t.Fatalf("replay delivered more SMS: %d", len(sms.sent))
	}

	stored, err := msgs.ListByUser(dbctx.New(context.Background()), user.ID)
	if err != nil {
		t.Fatalf("ListByUser: %v", err)
	}
	if len(stored) != 2 {
		t.Fatalf("stored %d messages, want 2", len(stored))
	}
}

func TestSendOnboardingMessagesNewRunTokenSendsAgain(t *testing.T) {
	db := testutil.DB(t)
	msgs := onboardingrepo.NewMessageRepo(db, testutil.Logger(t))
	sms := &fakeSMS{}
	svc := NewNotificationService(msgs, sms, testutil.Logger(t))

	user := activeUser()
	run := startedRun(user.ID)

	if _, err := svc.SendOnboardingMessages(context.Background(), user, run, nil); err != nil {
		t.Fatalf("first attempt: %v", err)
	}

	// Force re-onboarding stamps a new started_at.
	restarted := time.Now().UTC().Add(time.Minute)
	run.StartedAt = &restarted
	if _, err := svc.SendOnboardingMessages(context.Background(), user, run, nil); err != nil {
		t.Fatalf("second attempt: %v", err)
	}
	if len(sms.sent) != 4 {
		t.Fatalf("delivered %d SMS, want 4", len(sms.sent))
	}
}

func TestSendOnboardingMessagesDeclines(t *testing.T) {
	db := testutil.DB(t)
	msgs := onboardingrepo.NewMessageRepo(db, testutil.Logger(t))
	sms := &fakeSMS{}
	svc := NewNotificationService(msgs, sms, testutil.Logger(t))

	pending := activeUser()
	pending.SubscriptionStatus = types.SubscriptionPending
	sent, err := svc.SendOnboardingMessages(context.Background(), pending, startedRun(pending.ID), nil)
	if err != nil {
		t.Fatalf("pending subscription: %v", err)
	}
	if sent {
		t.Fatalf("pending subscription must not send")
	}

	noPhone := activeUser()
	noPhone.Phone = ""
	sent, err = svc.SendOnboardingMessages(context.Background(), noPhone, startedRun(noPhone.ID), nil)
	if err != nil {
		t.Fatalf("no phone: %v", err)
	}
	if sent {
		t.Fatalf("missing phone must not send")
	}
	if len(sms.sent) != 0 {
		t.Fatalf("declined paths delivered SMS")
	}
}

func TestSendOnboardingMessagesProviderFailure(t *testing.T) {
	db := testutil.DB(t)
	msgs := onboardingrepo.NewMessageRepo(db, testutil.Logger(t))
	sms := &fakeSMS{err: errors.New("gateway 500")}
	svc := NewNotificationService(msgs, sms, testutil.Logger(t))

	user := activeUser()
	run := startedRun(user.ID)
	sent, err := svc.SendOnboardingMessages(context.Background(), user, run, nil)
	if err == nil {
		t.Fatalf("expected provider error")
	}
	if sent {
		t.Fatalf("sent = true on failure")
	}

	// No failed rows linger, so a retry can deliver.
	stored, _ := msgs.ListByUser(dbctx.New(context.Background()), user.ID)
	if len(stored) != 0 {
		t.Fatalf("failure recorded %d messages", len(stored))
	}

	sms.err = nil
	sent, err = svc.SendOnboardingMessages(context.Background(), user, run, nil)
	if err != nil || !sent {
		t.Fatalf("retry after provider recovery: sent=%v err=%v", sent, err)
	}
	if len(sms.sent) != 2 {
		t.Fatalf("retry delivered %d SMS, want 2", len(sms.sent))
	}
}
