package app

import (
	"fmt"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/stridelab/coach-backend/internal/jobs"
	"github.com/stridelab/coach-backend/internal/jobs/pipeline/useronboarding"
	jobrt "github.com/stridelab/coach-backend/internal/jobs/runtime"
	"github.com/stridelab/coach-backend/internal/pkg/logger"
	"github.com/stridelab/coach-backend/internal/platform/openai"
	"github.com/stridelab/coach-backend/internal/platform/textline"
	"github.com/stridelab/coach-backend/internal/services"
)

type Services struct {
	Profiles    services.ProfileService
	Plans       services.PlanService
	Microcycles services.MicrocycleService
	Workouts    services.WorkoutService
	Notify      services.NotificationService
	Jobs        services.JobService

	Registry  *jobrt.Registry
	JobWorker *jobs.Worker
	Redis     *redis.Client
}

func wireServices(db *gorm.DB, log *logger.Logger, cfg Config, repos Repos) (Services, error) {
	ai, err := openai.NewFromEnv(log)
	if err != nil {
		return Services{}, fmt.Errorf("init openai client: %w", err)
	}
	sms, err := textline.NewFromEnv(log)
	if err != nil {
		return Services{}, fmt.Errorf("init textline client: %w", err)
	}

	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
	}

	svc := Services{
		Profiles:    services.NewProfileService(repos.Profiles, ai, cfg.GenerationModel, log),
		Plans:       services.NewPlanService(repos.Plans, ai, cfg.GenerationModel, log),
		Microcycles: services.NewMicrocycleService(repos.Microcycles, ai, cfg.GenerationModel, nil, log),
		Workouts:    services.NewWorkoutService(repos.Workouts, ai, cfg.GenerationModel, nil, log),
		Redis:       rdb,
	}
	svc.Notify = services.NewNotificationService(repos.Messages, sms, log)
	svc.Jobs = services.NewJobService(repos.JobRuns, rdb, log)

	notifier := services.NewLogNotifier(log)
	pipeline := useronboarding.NewHandler(useronboarding.Deps{
		Users:       repos.Users,
		Signups:     repos.Signups,
		Runs:        repos.Runs,
		Messages:    repos.Messages,
		Profiles:    svc.Profiles,
		Plans:       svc.Plans,
		Microcycles: svc.Microcycles,
		Workouts:    svc.Workouts,
		Notify:      svc.Notify,
		Log:         log,
	})

	registry := jobrt.NewRegistry()
	if err := registry.Register(pipeline); err != nil {
		return Services{}, fmt.Errorf("register onboarding pipeline: %w", err)
	}
	svc.Registry = registry
	svc.JobWorker = jobs.NewWorker(db, log, repos.JobRuns, registry, notifier, jobs.WorkerConfig{
		PollInterval: cfg.WorkerPollInterval,
		MaxAttempts:  cfg.WorkerMaxAttempts,
		RetryDelay:   cfg.WorkerRetryDelay,
		StaleRunning: cfg.WorkerStaleRunning,
	})
	return svc, nil
}
