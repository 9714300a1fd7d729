package server

import (
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/irjudson/lumina/internal/database"
	"github.com/irjudson/lumina/internal/events"
)

func (s *Server) health(c *gin.Context) {
	if err := s.bus.Health(); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// systemStatus reports host load alongside the currently running jobs
// so a dashboard can show both on one call.
func (s *Server) systemStatus(c *gin.Context) {
	var cpuPct, memPct float64
	if s.load != nil {
		cpuPct, memPct = s.load.Snapshot()
	}

	running, err := s.ctrl.List("", database.JobStatusRunning)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list running jobs", "details": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"cpu_percent":    cpuPct,
		"memory_percent": memPct,
		"go_version":     runtime.Version(),
		"num_cpu":        runtime.NumCPU(),
		"goroutines":     runtime.NumGoroutine(),
		"uptime_seconds": time.Since(s.started).Seconds(),
		"running_jobs":   running,
		"running_count":  len(running),
		"events":         s.bus.GetStats(),
	})
}

// listEvents returns recent bus events, newest first, optionally
// filtered by type, source, or channel.
func (s *Server) listEvents(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit"})
		return
	}
	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid offset"})
		return
	}

	filter := events.EventFilter{}
	if t := c.Query("type"); t != "" {
		filter.Types = []events.EventType{events.EventType(t)}
	}
	if src := c.Query("source"); src != "" {
		filter.Sources = []string{src}
	}
	if ch := c.Query("channel"); ch != "" {
		filter.Channels = []string{ch}
	}

	list, total, err := s.bus.GetEvents(filter, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list events", "details": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"events": list,
		"count":  len(list),
		"total":  total,
	})
}
