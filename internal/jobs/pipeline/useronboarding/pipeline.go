package useronboarding

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	onboardingrepo "github.com/stridelab/coach-backend/internal/data/repos/onboarding"
	userrepo "github.com/stridelab/coach-backend/internal/data/repos/user"
	types "github.com/stridelab/coach-backend/internal/domain"
	"github.com/stridelab/coach-backend/internal/jobs/orchestrator"
	jobrt "github.com/stridelab/coach-backend/internal/jobs/runtime"
	"github.com/stridelab/coach-backend/internal/pkg/dbctx"
	"github.com/stridelab/coach-backend/internal/pkg/logger"
	"github.com/stridelab/coach-backend/internal/services"
)

// JobType matches services.JobTypeUserOnboarding; redeclared here so the
// pipeline package does not import the enqueue side.
const JobType = "user_onboarding"

const (
	stageLoadSignup = "load_signup"
	stageProfile    = "profile"
	stagePlan       = "plan"
	stageMicrocycle = "microcycle"
	stageWorkout    = "workout"
	stageFinalize   = "finalize"
	stageNotify     = "notify"
)

type Deps struct {
	Users       userrepo.UserRepo
	Signups     userrepo.SignupDataRepo
	Runs        onboardingrepo.RunRepo
	Messages    onboardingrepo.MessageRepo
	Profiles    services.ProfileService
	Plans       services.PlanService
	Microcycles services.MicrocycleService
	Workouts    services.WorkoutService
	Notify      services.NotificationService
	Log         *logger.Logger

	// Backoff bounds for retryable stages. Zero values fall back to the
	// production defaults; tests shrink them.
	RetryMinBackoff time.Duration
	RetryMaxBackoff time.Duration
}

// Handler runs the onboarding pipeline for one claimed job. Each stage is a
// get-or-create step, so any prefix of the pipeline can be replayed after a
// crash or retry without duplicating entities. The ledger row is the public
// answer to "has this user been onboarded"; the job row is the execution
// record.
type Handler struct {
	deps   Deps
	Engine *orchestrator.Engine
	log    *logger.Logger
}

func NewHandler(deps Deps) *Handler {
	return &Handler{
		deps:   deps,
		Engine: orchestrator.NewEngine(),
		log:    deps.Log.With("pipeline", "UserOnboarding"),
	}
}

func (h *Handler) Type() string { return JobType }

func (h *Handler) Run(jc *jobrt.Context) error {
	userID, ok := jc.PayloadUUID("user_id")
	if !ok {
		err := errors.New("payload missing user_id")
		jc.Fail("payload", err)
		return err
	}
	force := jc.PayloadBool("force")
	ctx := jc.Ctx

	resuming := orchestrator.HasCheckpoint(jc)
	run, shortCircuit, err := h.prepareLedger(ctx, userID, force, resuming)
	if err != nil {
		jc.Fail("ledger", err)
		return err
	}
	if shortCircuit {
		sent, _ := h.deps.Messages.ExistsForRun(dbctx.New(ctx), userID, types.MessageKindWelcome, services.RunToken(run))
		jc.Succeed("done", map[string]any{
			"onboarding": map[string]any{
				"already_completed": true,
				"messages_sent":     sent,
			},
		})
		return nil
	}

	h.Engine.Run(jc, h.stages(userID, force), map[string]any{"user_id": userID.String()})

	if jc.Job.Status == types.JobStatusFailed {
		if _, err := h.deps.Runs.MarkFailed(dbctx.New(ctx), userID, jc.Job.Error); err != nil {
			h.log.Warn("MarkFailed after job failure", "user_id", userID, "error", err)
		}
	}
	return nil
}

// prepareLedger moves the per-user run row into "started" for this attempt.
// A completed run without force short-circuits the whole job, except when
// this job already holds checkpoint state: then finalize ran inside this job
// and the engine still owes the remaining stages. Force, and a plain
// re-trigger after a terminal failure, restart the row with a fresh
// started_at, which also rotates the message dedupe token.
func (h *Handler) prepareLedger(ctx context.Context, userID uuid.UUID, force, resuming bool) (*types.OnboardingRun, bool, error) {
	dbc := dbctx.New(ctx)
	run, err := h.deps.Runs.EnsureForUser(dbc, userID)
	if err != nil {
		return nil, false, err
	}
	switch run.Status {
	case types.RunCompleted:
		if resuming {
			break
		}
		if !force {
			return run, true, nil
		}
		if _, err := h.deps.Runs.Restart(dbc, userID); err != nil {
			return nil, false, err
		}
	case types.RunFailed:
		if _, err := h.deps.Runs.Restart(dbc, userID); err != nil {
			return nil, false, err
		}
	case types.RunPending:
		if _, err := h.deps.Runs.MarkStarted(dbc, userID); err != nil {
			return nil, false, err
		}
	case types.RunStarted:
		// Resuming a crashed or retried attempt.
	}
	run, err = h.deps.Runs.GetByUserID(dbc, userID)
	if err != nil {
		return nil, false, err
	}
	if run == nil {
		return nil, false, fmt.Errorf("onboarding run vanished for user %s", userID)
	}
	return run, false, nil
}

func (h *Handler) stages(userID uuid.UUID, force bool) []orchestrator.Stage {
	var (
		user   *types.User
		signup *types.SignupData
	)
	ensureUser := func(ctx context.Context) (*types.User, error) {
		if user != nil {
			return user, nil
		}
		u, err := h.deps.Users.GetByID(dbctx.New(ctx), userID)
		if err != nil {
			return nil, err
		}
		if u == nil {
			return nil, services.ErrUserNotFound
		}
		user = u
		return user, nil
	}
	ensureSignup := func(ctx context.Context) (*types.SignupData, error) {
		if signup != nil {
			return signup, nil
		}
		sd, err := h.deps.Signups.GetByUserID(dbctx.New(ctx), userID)
		if err != nil {
			return nil, err
		}
		if sd == nil {
			return nil, services.ErrSignupDataMissing
		}
		signup = sd
		return signup, nil
	}

	minBackoff := h.deps.RetryMinBackoff
	if minBackoff <= 0 {
		minBackoff = 2 * time.Second
	}
	maxBackoff := h.deps.RetryMaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = 30 * time.Second
	}
	genRetry := orchestrator.RetryPolicy{
		MaxAttempts: 3,
		MinBackoff:  minBackoff,
		MaxBackoff:  maxBackoff,
	}

	return []orchestrator.Stage{
		{
			Name:     stageLoadSignup,
			StartPct: 0,
			EndPct:   10,
			StartMsg: "Loading signup data",
			Retry: orchestrator.RetryPolicy{
				MaxAttempts: 3,
				Retryable:   func(err error) bool { return !services.IsFatalPrerequisite(err) },
			},
			Run: func(jc *jobrt.Context, st *orchestrator.RunState) (map[string]any, error) {
				u, err := ensureUser(jc.Ctx)
				if err != nil {
					return nil, err
				}
				if _, err := ensureSignup(jc.Ctx); err != nil {
					return nil, err
				}
				return map[string]any{"user_id": u.ID.String()}, nil
			},
		},
		{
			Name:     stageProfile,
			StartPct: 10,
			EndPct:   30,
			StartMsg: "Deriving fitness profile",
			Timeout:  2 * time.Minute,
			Retry:    genRetry,
			Run: func(jc *jobrt.Context, st *orchestrator.RunState) (map[string]any, error) {
				u, err := ensureUser(jc.Ctx)
				if err != nil {
					return nil, err
				}
				sd, err := ensureSignup(jc.Ctx)
				if err != nil {
					return nil, err
				}
				p, created, err := h.deps.Profiles.GetOrCreate(jc.Ctx, u, sd, force)
				if err != nil {
					return nil, err
				}
				return map[string]any{"profile_id": p.ID.String(), "created": created}, nil
			},
		},
		{
			Name:     stagePlan,
			StartPct: 30,
			EndPct:   50,
			StartMsg: "Building training plan",
			Timeout:  2 * time.Minute,
			Retry:    genRetry,
			Run: func(jc *jobrt.Context, st *orchestrator.RunState) (map[string]any, error) {
				u, err := ensureUser(jc.Ctx)
				if err != nil {
					return nil, err
				}
				profile, err := h.deps.Profiles.GetCurrent(jc.Ctx, userID)
				if err != nil {
					return nil, err
				}
				p, created, err := h.deps.Plans.GetOrCreate(jc.Ctx, u, profile, force)
				if err != nil {
					return nil, err
				}
				return map[string]any{"plan_id": p.ID.String(), "created": created}, nil
			},
		},
		{
			Name:     stageMicrocycle,
			StartPct: 50,
			EndPct:   65,
			StartMsg: "Laying out this week",
			Timeout:  2 * time.Minute,
			Retry:    genRetry,
			Run: func(jc *jobrt.Context, st *orchestrator.RunState) (map[string]any, error) {
				u, err := ensureUser(jc.Ctx)
				if err != nil {
					return nil, err
				}
				plan, err := h.deps.Plans.GetCurrent(jc.Ctx, userID)
				if err != nil {
					return nil, err
				}
				m, created, err := h.deps.Microcycles.GetOrCreate(jc.Ctx, u, plan, force)
				if err != nil {
					return nil, err
				}
				return map[string]any{"microcycle_id": m.ID.String(), "week_start": m.WeekStart, "created": created}, nil
			},
		},
		{
			Name:     stageWorkout,
			StartPct: 65,
			EndPct:   80,
			StartMsg: "Preparing first workout",
			Timeout:  2 * time.Minute,
			Retry:    genRetry,
			Run: func(jc *jobrt.Context, st *orchestrator.RunState) (map[string]any, error) {
				u, err := ensureUser(jc.Ctx)
				if err != nil {
					return nil, err
				}
				micro, err := h.deps.Microcycles.GetCurrentWeek(jc.Ctx, u)
				if err != nil {
					return nil, err
				}
				w, created, err := h.deps.Workouts.GetOrCreate(jc.Ctx, u, micro, force)
				if err != nil {
					return nil, err
				}
				return map[string]any{"workout_id": w.ID.String(), "workout_date": w.WorkoutDate, "created": created}, nil
			},
		},
		{
			Name:     stageFinalize,
			StartPct: 80,
			EndPct:   90,
			StartMsg: "Completing onboarding",
			Retry:    orchestrator.RetryPolicy{MaxAttempts: 3},
			Run: func(jc *jobrt.Context, st *orchestrator.RunState) (map[string]any, error) {
				moved, err := h.deps.Runs.MarkCompleted(dbctx.New(jc.Ctx), userID)
				if err != nil {
					return nil, err
				}
				// Not moving is fine on replay: the run is already terminal.
				return map[string]any{"run_completed": moved}, nil
			},
		},
		{
			Name:     stageNotify,
			StartPct: 90,
			EndPct:   100,
			StartMsg: "Sending welcome messages",
			DoneMsg:  "Onboarding complete",
			Retry: orchestrator.RetryPolicy{
				MaxAttempts: 3,
				MinBackoff:  minBackoff,
				MaxBackoff:  maxBackoff,
			},
			Run: func(jc *jobrt.Context, st *orchestrator.RunState) (map[string]any, error) {
				u, err := ensureUser(jc.Ctx)
				if err != nil {
					return nil, err
				}
				dbc := dbctx.New(jc.Ctx)
				run, err := h.deps.Runs.GetByUserID(dbc, userID)
				if err != nil {
					return nil, err
				}
				workout, err := h.deps.Workouts.GetForToday(jc.Ctx, u)
				if err != nil {
					return nil, err
				}
				sent, serr := h.deps.Notify.SendOnboardingMessages(jc.Ctx, u, run, workout)
				if serr != nil {
					// Message delivery never fails the onboarding itself.
					h.log.Warn("onboarding messages failed", "user_id", userID, "error", serr)
					return map[string]any{"messages_sent": false, "send_error": serr.Error()}, nil
				}
				return map[string]any{"messages_sent": sent}, nil
			},
		},
	}
}
