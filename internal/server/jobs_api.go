package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/irjudson/lumina/internal/catalog"
	"github.com/irjudson/lumina/internal/jobs"
)

type submitJobRequest struct {
	JobType    string                 `json:"job_type" binding:"required"`
	CatalogID  string                 `json:"catalog_id"`
	Parameters map[string]interface{} `json:"parameters"`
}

// submitJob accepts a job for asynchronous execution and returns the
// pending row with 202. Unknown job types map to 400 and unknown
// catalogs to 404.
func (s *Server) submitJob(c *gin.Context) {
	var req submitJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	job, err := s.ctrl.Submit(req.JobType, req.CatalogID, req.Parameters)
	if err != nil {
		switch {
		case errors.Is(err, jobs.ErrUnknownJobType):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, catalog.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to submit job", "details": err.Error()})
		}
		return
	}

	c.JSON(http.StatusAccepted, job)
}

// listJobs returns jobs newest first, optionally filtered by
// catalog_id and status query parameters.
func (s *Server) listJobs(c *gin.Context) {
	catalogID := c.Query("catalog_id")
	status := c.Query("status")

	list, err := s.ctrl.List(catalogID, status)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list jobs", "details": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"jobs":  list,
		"count": len(list),
	})
}

func (s *Server) getJob(c *gin.Context) {
	job, err := s.ctrl.Get(c.Param("id"))
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load job", "details": err.Error()})
		return
	}

	c.JSON(http.StatusOK, job)
}

// cancelJob requests cancellation and returns the updated row. Jobs
// already in a terminal state answer 409.
func (s *Server) cancelJob(c *gin.Context) {
	id := c.Param("id")
	if err := s.ctrl.Cancel(id); err != nil {
		switch {
		case errors.Is(err, catalog.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
		case errors.Is(err, jobs.ErrNotCancellable):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to cancel job", "details": err.Error()})
		}
		return
	}

	job, err := s.ctrl.Get(id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load job", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, job)
}

// jobProgress returns the tail of a job's progress ring. limit bounds
// the number of events, defaulting to 50.
func (s *Server) jobProgress(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit"})
		return
	}

	id := c.Param("id")
	tail, err := s.ctrl.ProgressTail(id, limit)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load progress", "details": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"job_id": id,
		"events": tail,
		"count":  len(tail),
	})
}
