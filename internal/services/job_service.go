package services

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"gorm.io/datatypes"

	jobsrepo "github.com/stridelab/coach-backend/internal/data/repos/jobs"
	types "github.com/stridelab/coach-backend/internal/domain"
	"github.com/stridelab/coach-backend/internal/pkg/dbctx"
	"github.com/stridelab/coach-backend/internal/pkg/logger"
)

const JobTypeUserOnboarding = "user_onboarding"

// JobService enqueues durable jobs. Duplicate trigger deliveries are
// absorbed twice: a best-effort redis SETNX window for the common case, and
// the authoritative ExistsRunnable check against the queue table. Both only
// keep the queue clean; correctness comes from the idempotent steps.
type JobService interface {
	EnqueueOnboarding(ctx context.Context, userID uuid.UUID, force bool) (*types.JobRun, bool, error)
}

type jobService struct {
	repo  jobsrepo.JobRunRepo
	rdb   *redis.Client
	log   *logger.Logger
	dedup time.Duration
}

func NewJobService(repo jobsrepo.JobRunRepo, rdb *redis.Client, baseLog *logger.Logger) JobService {
	return &jobService{
		repo:  repo,
		rdb:   rdb,
		log:   baseLog.With("service", "JobService"),
		dedup: 30 * time.Second,
	}
}

func (s *jobService) EnqueueOnboarding(ctx context.Context, userID uuid.UUID, force bool) (*types.JobRun, bool, error) {
	if userID == uuid.Nil {
		return nil, false, ErrUserNotFound
	}

	if s.rdb != nil {
		key := "onboarding:trigger:" + userID.String()
		ok, err := s.rdb.SetNX(ctx, key, "1", s.dedup).Result()
		if err != nil {
			s.log.Debug("redis dedupe unavailable, falling through", "error", err)
		} else if !ok {
			latest, lerr := s.repo.GetLatestByOwnerAndType(dbctx.New(ctx), userID, JobTypeUserOnboarding)
			if lerr == nil && latest != nil {
				return latest, false, nil
			}
		}
	}

	exists, err := s.repo.ExistsRunnable(dbctx.New(ctx), userID, JobTypeUserOnboarding)
	if err != nil {
		return nil, false, err
	}
	if exists {
		latest, lerr := s.repo.GetLatestByOwnerAndType(dbctx.New(ctx), userID, JobTypeUserOnboarding)
		if lerr != nil {
			return nil, false, lerr
		}
		return latest, false, nil
	}

	payload := map[string]any{"user_id": userID.String()}
	if force {
		payload["force"] = true
	}
	b, _ := json.Marshal(payload)
	job := &types.JobRun{
		ID:          uuid.New(),
		OwnerUserID: userID,
		JobType:     JobTypeUserOnboarding,
		Status:      types.JobStatusQueued,
		Stage:       "queued",
		Payload:     datatypes.JSON(b),
		Result:      datatypes.JSON([]byte("{}")),
	}
	created, err := s.repo.Create(dbctx.New(ctx), []*types.JobRun{job})
	if err != nil {
		return nil, false, err
	}
	s.log.Info("onboarding job enqueued", "user_id", userID, "job_id", job.ID, "force", force)
	return created[0], true, nil
}
