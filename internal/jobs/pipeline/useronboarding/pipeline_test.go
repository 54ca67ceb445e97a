package useronboarding

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	coachingrepo "github.com/stridelab/coach-backend/internal/data/repos/coaching"
	jobsrepo "github.com/stridelab/coach-backend/internal/data/repos/jobs"
	onboardingrepo "github.com/stridelab/coach-backend/internal/data/repos/onboarding"
	"github.com/stridelab/coach-backend/internal/data/repos/testutil"
	userrepo "github.com/stridelab/coach-backend/internal/data/repos/user"
	types "github.com/stridelab/coach-backend/internal/domain"
	"github.com/stridelab/coach-backend/internal/pkg/dbctx"
	"github.com/stridelab/coach-backend/internal/platform/textline"
	"github.com/stridelab/coach-backend/internal/services"
)

// scriptedAI returns canned generations and can be told to fail the next N
// calls for a given schema.
type scriptedAI struct {
	mu       sync.Mutex
	calls    map[string]int
	failNext map[string]int
}

func newScriptedAI() *scriptedAI {
	return &scriptedAI{calls: map[string]int{}, failNext: map[string]int{}}
}

func (s *scriptedAI) callCount(schema string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[schema]
}

func (s *scriptedAI) GenerateJSON(_ context.Context, _, _, schemaName string, _ map[string]any) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[schemaName]++
	if s.failNext[schemaName] > 0 {
		s.failNext[schemaName]--
		return nil, errors.New("model overloaded")
	}
	switch schemaName {
	case "athlete_profile":
		return map[string]any{"level": "beginner", "focus_areas": []any{"base"}, "days_per_week": 3}, nil
	case "training_plan":
		return map[string]any{"title": "Base Block", "weeks": 4, "phases": []any{map[string]any{"name": "base"}}}, nil
	case "microcycle_week":
		return map[string]any{"days": weekDays()}, nil
	case "workout_instance":
		return map[string]any{"title": "Easy Run", "blocks": []any{map[string]any{"name": "warmup"}}, "duration_minutes": 40}, nil
	}
	return nil, fmt.Errorf("unexpected schema %s", schemaName)
}

func (s *scriptedAI) GenerateText(context.Context, string, string) (string, error) {
	return "", nil
}

// weekDays covers the current UTC week so the workout stage always finds a
// day entry for "today".
func weekDays() []any {
	now := time.Now().UTC()
	wd := int(now.Weekday())
	if wd == 0 {
		wd = 7
	}
	monday := now.AddDate(0, 0, -(wd - 1))
	days := make([]any, 0, 7)
	for i := 0; i < 7; i++ {
		days = append(days, map[string]any{
			"date":  monday.AddDate(0, 0, i).Format("2006-01-02"),
			"focus": "endurance",
			"rest":  i == 6,
		})
	}
	return days
}

type countingSMS struct {
	mu   sync.Mutex
	sent []textline.SendSMSRequest
	err  error
}

func (f *countingSMS) SendSMS(_ context.Context, req textline.SendSMSRequest) (*textline.SendSMSResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.sent = append(f.sent, req)
	return &textline.SendSMSResult{ProviderID: fmt.Sprintf("prov-%d", len(f.sent)), Accepted: true}, nil
}

func (f *countingSMS) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type harness struct {
	db      *gorm.DB
	ai      *scriptedAI
	sms     *countingSMS
	handler *Handler
	jobRuns jobsrepo.JobRunRepo
	runs    onboardingrepo.RunRepo

	profiles    coachingrepo.ProfileRepo
	plans       coachingrepo.PlanRepo
	microcycles coachingrepo.MicrocycleRepo
	workouts    coachingrepo.WorkoutRepo
}

func newHarness(t *testing.T, opts ...func(*Deps)) *harness {
	t.Helper()
	db := testutil.DB(t)
	log := testutil.Logger(t)
	ai := newScriptedAI()
	sms := &countingSMS{}

	profiles := coachingrepo.NewProfileRepo(db, log)
	plans := coachingrepo.NewPlanRepo(db, log)
	microcycles := coachingrepo.NewMicrocycleRepo(db, log)
	workouts := coachingrepo.NewWorkoutRepo(db, log)
	runs := onboardingrepo.NewRunRepo(db, log)
	messages := onboardingrepo.NewMessageRepo(db, log)
	jobRuns := jobsrepo.NewJobRunRepo(db, log)

	deps := Deps{
		Users:           userrepo.NewUserRepo(db, log),
		Signups:         userrepo.NewSignupDataRepo(db, log),
		Runs:            runs,
		Messages:        messages,
		Profiles:        services.NewProfileService(profiles, ai, "test-model", log),
		Plans:           services.NewPlanService(plans, ai, "test-model", log),
		Microcycles:     services.NewMicrocycleService(microcycles, ai, "test-model", nil, log),
		Workouts:        services.NewWorkoutService(workouts, ai, "test-model", nil, log),
		Notify:          services.NewNotificationService(messages, sms, log),
		Log:             log,
		RetryMinBackoff: time.Millisecond,
		RetryMaxBackoff: 2 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(&deps)
	}
	h := NewHandler(deps)
	h.Engine.MinPollInterval = time.Millisecond
	h.Engine.MaxPollInterval = 2 * time.Millisecond

	return &harness{
		db:          db,
		ai:          ai,
		sms:         sms,
		handler:     h,
		jobRuns:     jobRuns,
		runs:        runs,
		profiles:    profiles,
		plans:       plans,
		microcycles: microcycles,
		workouts:    workouts,
	}
}

func (h *harness) run(t *testing.T, userID uuid.UUID, force bool) Result {
	t.Helper()
	res, err := h.handler.Execute(context.Background(), h.db, h.jobRuns, nil, userID, force)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	return res
}

func (h *harness) entityCounts(t *testing.T, userID uuid.UUID) (profiles, plans int64) {
	t.Helper()
	dbc := dbctx.New(context.Background())
	p, err := h.profiles.CountByUserID(dbc, userID)
	if err != nil {
		t.Fatalf("profile count: %v", err)
	}
	pl, err := h.plans.CountByUserID(dbc, userID)
	if err != nil {
		t.Fatalf("plan count: %v", err)
	}
	return p, pl
}

func TestOnboardingHappyPath(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	user := testutil.SeedUser(t, ctx, h.db, "happy@stride.run")
	testutil.SeedSignupData(t, ctx, h.db, user.ID)

	res := h.run(t, user.ID, false)
	if !res.Success {
		t.Fatalf("onboarding failed: %s", res.Error)
	}
	if !res.MessagesSent {
		t.Fatalf("messages not sent")
	}

	dbc := dbctx.New(ctx)
	if p, _ := h.profiles.GetCurrentByUserID(dbc, user.ID); p == nil {
		t.Fatalf("no current profile")
	}
	if pl, _ := h.plans.GetCurrentByUserID(dbc, user.ID); pl == nil {
		t.Fatalf("no current plan")
	}
	run, err := h.runs.GetByUserID(dbc, user.ID)
	if err != nil || run == nil {
		t.Fatalf("ledger: run=%v err=%v", run, err)
	}
	if run.Status != types.RunCompleted {
		t.Fatalf("run status = %s, want completed", run.Status)
	}
	if h.sms.count() != 2 {
		t.Fatalf("delivered %d SMS, want 2", h.sms.count())
	}
}

func TestOnboardingIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	user := testutil.SeedUser(t, ctx, h.db, "twice@stride.run")
	testutil.SeedSignupData(t, ctx, h.db, user.ID)

	first := h.run(t, user.ID, false)
	second := h.run(t, user.ID, false)

	if !first.Success || !second.Success {
		t.Fatalf("success: first=%v second=%v", first.Success, second.Success)
	}
	if first.MessagesSent != second.MessagesSent {
		t.Fatalf("messages_sent diverged: %v vs %v", first.MessagesSent, second.MessagesSent)
	}

	profiles, plans := h.entityCounts(t, user.ID)
	if profiles != 1 || plans != 1 {
		t.Fatalf("re-run duplicated entities: profiles=%d plans=%d", profiles, plans)
	}
	if got := h.ai.callCount("athlete_profile"); got != 1 {
		t.Fatalf("profile generated %d times, want 1", got)
	}
	if h.sms.count() != 2 {
		t.Fatalf("re-run delivered more SMS: %d", h.sms.count())
	}
}

func TestOnboardingResumesAfterTransientFailures(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	user := testutil.SeedUser(t, ctx, h.db, "flaky@stride.run")
	testutil.SeedSignupData(t, ctx, h.db, user.ID)

	h.ai.failNext["training_plan"] = 2

	res := h.run(t, user.ID, false)
	if !res.Success {
		t.Fatalf("onboarding failed: %s", res.Error)
	}

	// Earlier stages are checkpointed, only the failing one re-runs.
	if got := h.ai.callCount("athlete_profile"); got != 1 {
		t.Fatalf("profile generated %d times, want 1", got)
	}
	if got := h.ai.callCount("training_plan"); got != 3 {
		t.Fatalf("plan attempted %d times, want 3", got)
	}
	profiles, plans := h.entityCounts(t, user.ID)
	if profiles != 1 || plans != 1 {
		t.Fatalf("retries duplicated entities: profiles=%d plans=%d", profiles, plans)
	}
}

func TestOnboardingFailsWhenRetriesExhausted(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	user := testutil.SeedUser(t, ctx, h.db, "down@stride.run")
	testutil.SeedSignupData(t, ctx, h.db, user.ID)

	h.ai.failNext["athlete_profile"] = 10

	res := h.run(t, user.ID, false)
	if res.Success {
		t.Fatalf("onboarding succeeded with the model down")
	}
	if res.Error == "" {
		t.Fatalf("no error recorded")
	}

	run, _ := h.runs.GetByUserID(dbctx.New(ctx), user.ID)
	if run == nil || run.Status != types.RunFailed {
		t.Fatalf("ledger run = %+v, want failed", run)
	}
	if h.sms.count() != 0 {
		t.Fatalf("failed onboarding delivered SMS")
	}

	// A fresh trigger after the model recovers finishes the job.
	h.ai.failNext["athlete_profile"] = 0
	res = h.run(t, user.ID, false)
	if !res.Success {
		t.Fatalf("retrigger failed: %s", res.Error)
	}
	run, _ = h.runs.GetByUserID(dbctx.New(ctx), user.ID)
	if run.Status != types.RunCompleted {
		t.Fatalf("run status after retrigger = %s", run.Status)
	}
}

func TestOnboardingMissingSignupIsFatal(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	user := testutil.SeedUser(t, ctx, h.db, "nosignup@stride.run")

	res := h.run(t, user.ID, false)
	if res.Success {
		t.Fatalf("onboarding succeeded without signup data")
	}
	if got := h.ai.callCount("athlete_profile"); got != 0 {
		t.Fatalf("generation attempted despite missing signup")
	}
	run, _ := h.runs.GetByUserID(dbctx.New(ctx), user.ID)
	if run == nil || run.Status != types.RunFailed {
		t.Fatalf("ledger run = %+v, want failed", run)
	}
}

func TestOnboardingForceCreatesNewVersions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	user := testutil.SeedUser(t, ctx, h.db, "force@stride.run")
	testutil.SeedSignupData(t, ctx, h.db, user.ID)

	h.run(t, user.ID, false)
	res := h.run(t, user.ID, true)
	if !res.Success {
		t.Fatalf("force re-onboarding failed: %s", res.Error)
	}
	if !res.MessagesSent {
		t.Fatalf("force re-onboarding skipped messages")
	}

	profiles, plans := h.entityCounts(t, user.ID)
	if profiles != 2 || plans != 2 {
		t.Fatalf("force run did not version entities: profiles=%d plans=%d", profiles, plans)
	}

	dbc := dbctx.New(ctx)
	current, err := h.profiles.GetCurrentByUserID(dbc, user.ID)
	if err != nil || current == nil {
		t.Fatalf("current profile after force: %v %v", current, err)
	}
	if h.sms.count() != 4 {
		t.Fatalf("force run delivered %d SMS, want 4", h.sms.count())
	}
}

func TestOnboardingCompletesWhenMessagingIsDown(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	user := testutil.SeedUser(t, ctx, h.db, "smsdown@stride.run")
	testutil.SeedSignupData(t, ctx, h.db, user.ID)

	h.sms.err = errors.New("gateway 500")

	res := h.run(t, user.ID, false)
	if !res.Success {
		t.Fatalf("onboarding failed: %s", res.Error)
	}
	if res.MessagesSent {
		t.Fatalf("messages_sent = true with the gateway down")
	}

	run, _ := h.runs.GetByUserID(dbctx.New(ctx), user.ID)
	if run == nil || run.Status != types.RunCompleted {
		t.Fatalf("run = %+v, want completed", run)
	}
	if h.sms.count() != 0 {
		t.Fatalf("failed gateway recorded %d deliveries", h.sms.count())
	}
}

// flakyRunRepo fails GetByUserID on one chosen call and otherwise delegates.
type flakyRunRepo struct {
	onboardingrepo.RunRepo
	mu       sync.Mutex
	calls    int
	failCall int
}

func (f *flakyRunRepo) GetByUserID(dbc dbctx.Context, userID uuid.UUID) (*types.OnboardingRun, error) {
	f.mu.Lock()
	f.calls++
	n := f.calls
	f.mu.Unlock()
	if n == f.failCall {
		return nil, errors.New("storage hiccup")
	}
	return f.RunRepo.GetByUserID(dbc, userID)
}

func TestOnboardingNotifyRetriesTransientReadFailure(t *testing.T) {
	var flaky *flakyRunRepo
	h := newHarness(t, func(d *Deps) {
		// Call 1 is the ledger prep read; call 2 is the notify stage's
		// read, after finalize has already completed the run.
		flaky = &flakyRunRepo{RunRepo: d.Runs, failCall: 2}
		d.Runs = flaky
	})
	ctx := context.Background()
	user := testutil.SeedUser(t, ctx, h.db, "hiccup@stride.run")
	testutil.SeedSignupData(t, ctx, h.db, user.ID)

	res := h.run(t, user.ID, false)
	if !res.Success {
		t.Fatalf("onboarding failed: %s", res.Error)
	}
	if !res.MessagesSent {
		t.Fatalf("messages never sent after transient notify failure")
	}
	if flaky.calls <= flaky.failCall {
		t.Fatalf("notify stage never hit the injected failure")
	}

	run, _ := h.runs.GetByUserID(dbctx.New(ctx), user.ID)
	if run == nil || run.Status != types.RunCompleted {
		t.Fatalf("run = %+v, want completed", run)
	}
	if h.sms.count() != 2 {
		t.Fatalf("delivered %d SMS, want 2", h.sms.count())
	}
	if got := h.ai.callCount("athlete_profile"); got != 1 {
		t.Fatalf("notify retry regenerated the profile %d times", got)
	}
}

func TestOnboardingDeclinesMessagesForInactiveSubscription(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	user := testutil.SeedUser(t, ctx, h.db, "inactive@stride.run")
	if err := h.db.Model(&types.User{}).Where("id = ?", user.ID).
		Update("subscription_status", types.SubscriptionPending).Error; err != nil {
		t.Fatalf("downgrade subscription: %v", err)
	}
	testutil.SeedSignupData(t, ctx, h.db, user.ID)

	res := h.run(t, user.ID, false)
	if !res.Success {
		t.Fatalf("onboarding failed: %s", res.Error)
	}
	if res.MessagesSent {
		t.Fatalf("inactive subscription reported messages_sent")
	}
	if h.sms.count() != 0 {
		t.Fatalf("inactive subscription delivered SMS")
	}

	run, _ := h.runs.GetByUserID(dbctx.New(ctx), user.ID)
	if run.Status != types.RunCompleted {
		t.Fatalf("run status = %s, want completed", run.Status)
	}
}
