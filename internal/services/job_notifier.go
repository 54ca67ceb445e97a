package services

import (
	"github.com/google/uuid"

	types "github.com/stridelab/coach-backend/internal/domain"
	"github.com/stridelab/coach-backend/internal/jobs/runtime"
	"github.com/stridelab/coach-backend/internal/pkg/logger"
)

// NewLogNotifier returns a runtime.Notifier that writes lifecycle events to
// the structured log. Dashboards consume these from the log pipeline; there
// is no push surface in this service.
func NewLogNotifier(baseLog *logger.Logger) runtime.Notifier {
	return &logNotifier{log: baseLog.With("component", "JobNotifier")}
}

type logNotifier struct {
	log *logger.Logger
}

func (n *logNotifier) JobProgress(userID uuid.UUID, job *types.JobRun, stage string, progress int, message string) {
	n.log.Debug("job progress", "user_id", userID, "job_id", job.ID, "job_type", job.JobType, "stage", stage, "progress", progress, "message", message)
}

func (n *logNotifier) JobFailed(userID uuid.UUID, job *types.JobRun, stage string, errorMessage string) {
	n.log.Warn("job failed", "user_id", userID, "job_id", job.ID, "job_type", job.JobType, "stage", stage, "error", errorMessage)
}

func (n *logNotifier) JobDone(userID uuid.UUID, job *types.JobRun) {
	n.log.Info("job done", "user_id", userID, "job_id", job.ID, "job_type", job.JobType)
}
