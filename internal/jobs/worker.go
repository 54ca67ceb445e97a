package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	jobsrepo "github.com/stridelab/coach-backend/internal/data/repos/jobs"
	"github.com/stridelab/coach-backend/internal/jobs/runtime"
	"github.com/stridelab/coach-backend/internal/pkg/dbctx"
	"github.com/stridelab/coach-backend/internal/pkg/logger"
)

type WorkerConfig struct {
	PollInterval time.Duration
	MaxAttempts  int
	RetryDelay   time.Duration
	StaleRunning time.Duration
}

func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		PollInterval: 1 * time.Second,
		MaxAttempts:  5,
		RetryDelay:   30 * time.Second,
		StaleRunning: 2 * time.Minute,
	}
}

// Worker claims runnable jobs and dispatches them to registered handlers.
// A duplicate trigger, a retried failure, and a crash-recovered stale run
// all arrive here through the same claim query.
type Worker struct {
	db       *gorm.DB
	log      *logger.Logger
	repo     jobsrepo.JobRunRepo
	registry *runtime.Registry
	notify   runtime.Notifier
	cfg      WorkerConfig
}

func NewWorker(db *gorm.DB, baseLog *logger.Logger, repo jobsrepo.JobRunRepo, registry *runtime.Registry, notify runtime.Notifier, cfg WorkerConfig) *Worker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 1 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 30 * time.Second
	}
	if cfg.StaleRunning <= 0 {
		cfg.StaleRunning = 2 * time.Minute
	}
	return &Worker{
		db:       db,
		log:      baseLog.With("component", "JobWorker"),
		repo:     repo,
		registry: registry,
		notify:   notify,
		cfg:      cfg,
	}
}

func (w *Worker) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(w.cfg.PollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				w.tick(ctx)
			}
		}
	}()
}

func (w *Worker) tick(ctx context.Context) {
	job, err := w.repo.ClaimNextRunnable(dbctx.New(ctx), w.cfg.MaxAttempts, w.cfg.RetryDelay, w.cfg.StaleRunning)
	if err != nil {
		w.log.Warn("ClaimNextRunnable failed", "error", err)
		return
	}
	if job == nil {
		return
	}
	jc := runtime.NewContext(ctx, w.db, job, w.repo, w.notify)
	h, ok := w.registry.Get(job.JobType)
	if !ok {
		w.log.Warn("No handler registered for job_type", "job_type", job.JobType, "job_id", job.ID)
		jc.Fail("dispatch", fmt.Errorf("no handler registered for job_type=%s", job.JobType))
		return
	}
	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	defer stopHeartbeat()
	go w.heartbeatLoop(hbCtx, job.ID)
	func() {
		defer func() {
			if r := recover(); r != nil {
				w.log.Error("Job handler panic", "job_id", job.ID, "job_type", job.JobType, "panic", r)
				jc.Fail("panic", fmt.Errorf("panic: %v", r))
			}
		}()
		if err := h.Run(jc); err != nil {
			w.log.Error("Job handler returned error", "job_id", job.ID, "job_type", job.JobType, "error", err)
		}
	}()
}

// heartbeatLoop refreshes heartbeat_at while a handler holds the claim, so a
// stage that legitimately runs up to its timeout is not reclaimed as stale by
// another worker mid-flight.
func (w *Worker) heartbeatLoop(ctx context.Context, id uuid.UUID) {
	ticker := time.NewTicker(w.cfg.StaleRunning / 4)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.repo.Heartbeat(dbctx.New(ctx), id); err != nil {
				w.log.Warn("Heartbeat failed", "job_id", id, "error", err)
			}
		}
	}
}
