package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	jobsrepo "github.com/stridelab/coach-backend/internal/data/repos/jobs"
	"github.com/stridelab/coach-backend/internal/data/repos/testutil"
	types "github.com/stridelab/coach-backend/internal/domain"
	"github.com/stridelab/coach-backend/internal/jobs/runtime"
	"github.com/stridelab/coach-backend/internal/pkg/dbctx"
)

// heartbeatWatcher holds the claim until it observes heartbeat_at advance
// past the value stamped at claim time.
type heartbeatWatcher struct {
	repo     jobsrepo.JobRunRepo
	observed bool
}

func (h *heartbeatWatcher) Type() string { return "slow_job" }

func (h *heartbeatWatcher) Run(jc *runtime.Context) error {
	dbc := dbctx.New(jc.Ctx)
	start, err := h.repo.GetByID(dbc, jc.Job.ID)
	if err != nil || start == nil {
		jc.Fail("read", err)
		return err
	}
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		cur, err := h.repo.GetByID(dbc, jc.Job.ID)
		if err != nil {
			jc.Fail("read", err)
			return err
		}
		if cur.HeartbeatAt != nil && (start.HeartbeatAt == nil || cur.HeartbeatAt.After(*start.HeartbeatAt)) {
			h.observed = true
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	jc.Succeed("done", nil)
	return nil
}

func TestWorkerHeartbeatsWhileHandlerRuns(t *testing.T) {
	db := testutil.DB(t)
	log := testutil.Logger(t)
	repo := jobsrepo.NewJobRunRepo(db, log)

	watcher := &heartbeatWatcher{repo: repo}
	registry := runtime.NewRegistry()
	if err := registry.Register(watcher); err != nil {
		t.Fatalf("Register: %v", err)
	}

	job := &types.JobRun{
		ID:          uuid.New(),
		OwnerUserID: uuid.New(),
		JobType:     "slow_job",
		Status:      types.JobStatusQueued,
		Payload:     datatypes.JSON([]byte(`{}`)),
	}
	if _, err := repo.Create(dbctx.New(context.Background()), []*types.JobRun{job}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	cfg := DefaultWorkerConfig()
	cfg.StaleRunning = 40 * time.Millisecond
	w := NewWorker(db, log, repo, registry, nil, cfg)
	w.tick(context.Background())

	if !watcher.observed {
		t.Fatalf("heartbeat_at never advanced while the handler held the claim")
	}
	final, err := repo.GetByID(dbctx.New(context.Background()), job.ID)
	if err != nil || final == nil {
		t.Fatalf("GetByID: job=%v err=%v", final, err)
	}
	if final.Status != types.JobStatusSucceeded {
		t.Fatalf("job status = %s, want succeeded", final.Status)
	}
}
