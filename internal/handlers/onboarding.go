package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	jobsrepo "github.com/stridelab/coach-backend/internal/data/repos/jobs"
	onboardingrepo "github.com/stridelab/coach-backend/internal/data/repos/onboarding"
	"github.com/stridelab/coach-backend/internal/pkg/dbctx"
	"github.com/stridelab/coach-backend/internal/pkg/logger"
	"github.com/stridelab/coach-backend/internal/services"
)

// OnboardingHandler is the trigger surface for the onboarding pipeline. The
// trigger endpoint is deliberately at-least-once friendly: replays of the
// same event settle on the same job or onboarding outcome.
type OnboardingHandler struct {
	log  *logger.Logger
	jobs services.JobService
	runs onboardingrepo.RunRepo
	msgs onboardingrepo.MessageRepo
	jrs  jobsrepo.JobRunRepo
}

func NewOnboardingHandler(baseLog *logger.Logger, jobs services.JobService, runs onboardingrepo.RunRepo, msgs onboardingrepo.MessageRepo, jrs jobsrepo.JobRunRepo) *OnboardingHandler {
	return &OnboardingHandler{
		log:  baseLog.With("handler", "OnboardingHandler"),
		jobs: jobs,
		runs: runs,
		msgs: msgs,
		jrs:  jrs,
	}
}

type triggerRequest struct {
	EventName string `json:"event_name"`
	UserID    string `json:"user_id" binding:"required"`
	Force     bool   `json:"force"`
}

// Trigger accepts an onboarding.requested event and enqueues the pipeline.
// 202 with the job id on enqueue, 200 when an equivalent job already exists.
func (h *OnboardingHandler) Trigger(c *gin.Context) {
	var req triggerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.EventName != "" && req.EventName != "onboarding.requested" {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "unsupported event_name"})
		return
	}
	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id must be a uuid"})
		return
	}

	job, enqueued, err := h.jobs.EnqueueOnboarding(c.Request.Context(), userID, req.Force)
	if err != nil {
		h.log.Error("enqueue onboarding failed", "user_id", userID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to enqueue onboarding"})
		return
	}
	status := http.StatusOK
	if enqueued {
		status = http.StatusAccepted
	}
	c.JSON(status, gin.H{
		"job_id":   job.ID,
		"status":   job.Status,
		"enqueued": enqueued,
	})
}

// Status reports the ledger row plus the latest job run for a user.
func (h *OnboardingHandler) Status(c *gin.Context) {
	userID, err := uuid.Parse(c.Param("userId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "userId must be a uuid"})
		return
	}
	dbc := dbctx.New(c.Request.Context())

	run, err := h.runs.GetByUserID(dbc, userID)
	if err != nil {
		h.log.Error("load onboarding run failed", "user_id", userID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load onboarding status"})
		return
	}
	if run == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no onboarding run for user"})
		return
	}

	resp := gin.H{"run": run}
	if job, err := h.jrs.GetLatestByOwnerAndType(dbc, userID, services.JobTypeUserOnboarding); err == nil && job != nil {
		resp["job"] = gin.H{
			"id":       job.ID,
			"status":   job.Status,
			"stage":    job.Stage,
			"progress": job.Progress,
			"error":    job.Error,
		}
	}
	if msgs, err := h.msgs.ListByUser(dbc, userID); err == nil {
		resp["messages"] = msgs
	}
	c.JSON(http.StatusOK, resp)
}
