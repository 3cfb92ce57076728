package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/liftline/liftline-backend/internal/pkg/dbctx"
	"github.com/liftline/liftline-backend/internal/services"
)

type AdminJobsHandler struct {
	jobs services.JobService
}

func NewAdminJobsHandler(jobs services.JobService) *AdminJobsHandler {
	return &AdminJobsHandler{jobs: jobs}
}

type backfillRequest struct {
	JobType         string   `json:"job_type" binding:"required"`
	Source          string   `json:"source" binding:"required"`
	EventTypes      []string `json:"event_types"`
	IncludeAllUsers bool     `json:"include_all_users"`
}

// POST /api/admin/backfill
func (h *AdminJobsHandler) Backfill(c *gin.Context) {
	var req backfillRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	dbc := dbctx.Context{Ctx: c.Request.Context()}
	job, created, err := h.jobs.EnqueueBackfill(dbc, req.JobType, req.Source, req.EventTypes, req.IncludeAllUsers)
	if err != nil {
		RespondError(c, http.StatusBadRequest, "backfill_rejected", err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusAccepted
	}
	c.JSON(status, gin.H{"job": job, "created": created})
}

// GET /api/admin/jobs/status?job_type=...&source=...
func (h *AdminJobsHandler) Status(c *gin.Context) {
	dbc := dbctx.Context{Ctx: c.Request.Context()}
	counts, err := h.jobs.AggregateStatus(dbc, c.Query("job_type"), c.Query("source"))
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "status_failed", err)
		return
	}
	dead, err := h.jobs.CountDead(dbc)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "status_failed", err)
		return
	}
	RespondOK(c, gin.H{"counts": counts, "dead_total": dead})
}

// GET /api/admin/jobs/:id
func (h *AdminJobsHandler) GetByID(c *gin.Context) {
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_job_id", err)
		return
	}
	job, err := h.jobs.GetByID(dbctx.Context{Ctx: c.Request.Context()}, jobID)
	if err != nil {
		RespondError(c, http.StatusNotFound, "job_not_found", err)
		return
	}
	RespondOK(c, gin.H{"job": job})
}

// POST /api/admin/jobs/:id/requeue
func (h *AdminJobsHandler) Requeue(c *gin.Context) {
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_job_id", err)
		return
	}
	job, err := h.jobs.RequeueDead(dbctx.Context{Ctx: c.Request.Context()}, jobID)
	if err != nil {
		RespondError(c, http.StatusConflict, "requeue_failed", err)
		return
	}
	RespondOK(c, gin.H{"job": job})
}

// POST /api/admin/jobs/:id/cancel
func (h *AdminJobsHandler) Cancel(c *gin.Context) {
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_job_id", err)
		return
	}
	job, err := h.jobs.CancelPending(dbctx.Context{Ctx: c.Request.Context()}, jobID)
	if err != nil {
		RespondError(c, http.StatusConflict, "cancel_failed", err)
		return
	}
	RespondOK(c, gin.H{"job": job})
}
