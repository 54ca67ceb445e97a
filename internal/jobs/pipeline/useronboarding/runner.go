package useronboarding

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	jobsrepo "github.com/stridelab/coach-backend/internal/data/repos/jobs"
	types "github.com/stridelab/coach-backend/internal/domain"
	jobrt "github.com/stridelab/coach-backend/internal/jobs/runtime"
	"github.com/stridelab/coach-backend/internal/pkg/dbctx"
)

// Result is the synchronous summary of one onboarding execution.
type Result struct {
	Success      bool
	MessagesSent bool
	JobID        uuid.UUID
	Error        string
}

// Execute runs the pipeline for one user to a terminal state in the calling
// goroutine, driving the same handler the worker uses. The engine may yield
// the job between attempts; Execute just re-enters until the job row settles.
// Intended for CLIs and tests; production traffic goes through the queue.
func (h *Handler) Execute(ctx context.Context, db *gorm.DB, repo jobsrepo.JobRunRepo, notify jobrt.Notifier, userID uuid.UUID, force bool) (Result, error) {
	payload := map[string]any{"user_id": userID.String()}
	if force {
		payload["force"] = true
	}
	b, _ := json.Marshal(payload)
	job := &types.JobRun{
		ID:          uuid.New(),
		OwnerUserID: userID,
		JobType:     JobType,
		Status:      types.JobStatusRunning,
		Payload:     datatypes.JSON(b),
	}
	if repo != nil {
		if _, err := repo.Create(dbctx.New(ctx), []*types.JobRun{job}); err != nil {
			return Result{}, err
		}
	}

	const maxPasses = 64
	for i := 0; i < maxPasses; i++ {
		jc := jobrt.NewContext(ctx, db, job, repo, notify)
		if err := h.Run(jc); err != nil {
			return resultFromJob(job), err
		}
		switch job.Status {
		case types.JobStatusSucceeded, types.JobStatusFailed, types.JobStatusCanceled:
			return resultFromJob(job), nil
		}
		if err := ctx.Err(); err != nil {
			return resultFromJob(job), err
		}
	}
	return resultFromJob(job), fmt.Errorf("onboarding for user %s did not settle", userID)
}

func resultFromJob(job *types.JobRun) Result {
	res := Result{
		Success: job.Status == types.JobStatusSucceeded,
		JobID:   job.ID,
		Error:   job.Error,
	}
	if len(job.Result) > 0 {
		var m map[string]any
		if err := json.Unmarshal(job.Result, &m); err == nil {
			res.MessagesSent = messagesSentFrom(m)
		}
	}
	return res
}

// messagesSentFrom digs the notify outcome out of the final result, covering
// both the full pipeline shape and the already-completed short circuit.
func messagesSentFrom(m map[string]any) bool {
	if ob, ok := m["onboarding"].(map[string]any); ok {
		if v, ok := ob["messages_sent"].(bool); ok {
			return v
		}
	}
	outs, ok := m["outputs"].(map[string]any)
	if !ok {
		return false
	}
	notify, ok := outs[stageNotify].(map[string]any)
	if !ok {
		return false
	}
	v, _ := notify["messages_sent"].(bool)
	return v
}
