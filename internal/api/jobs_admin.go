package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"trading-core/internal/jobs"
)

// getJob reports a job's current record, reading the durable row so it
// covers every status (queued/scheduled/running/terminal), not just the
// in-memory result store which only holds completed jobs.
func (s *Server) getJob(c *gin.Context) {
	if s.DB == nil {
		respondError(c, http.StatusServiceUnavailable, "JOBS_UNAVAILABLE", "jobs not ready")
		return
	}
	row, err := s.DB.GetJob(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, http.StatusInternalServerError, "DB_ERROR", err.Error())
		return
	}
	if row == nil {
		respondError(c, http.StatusNotFound, "JOB_NOT_FOUND", "job not found")
		return
	}
	c.JSON(http.StatusOK, gin.H{"job": row})
}

func (s *Server) listDeadLetterJobs(c *gin.Context) {
	if s.Jobs == nil {
		respondError(c, http.StatusServiceUnavailable, "JOBS_UNAVAILABLE", "job queue not ready")
		return
	}
	c.JSON(http.StatusOK, gin.H{"dead_letter_jobs": s.Jobs.DeadLetterJobs()})
}

func (s *Server) getJobQueueDepth(c *gin.Context) {
	if s.Jobs == nil {
		respondError(c, http.StatusServiceUnavailable, "JOBS_UNAVAILABLE", "job queue not ready")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"critical": s.Jobs.Depth(jobs.PriorityCritical),
		"high":     s.Jobs.Depth(jobs.PriorityHigh),
		"normal":   s.Jobs.Depth(jobs.PriorityNormal),
		"low":      s.Jobs.Depth(jobs.PriorityLow),
	})
}
