package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AI2HU/fbads/internal/models"
	"github.com/AI2HU/fbads/internal/services"
)

const healthTimeout = 5 * time.Second

// StatsResponse is the reply of GET /api/v1/stats
type StatsResponse struct {
	*models.TaskStats
	Modes          map[models.CampaignMode]*services.ModeStats `json:"modes"`
	RecentFailures []*models.Task                              `json:"recent_failures"`
}

// Stats endpoint

// getStats handles GET /api/v1/stats
func (s *Server) getStats(c *gin.Context) {
	if s.statsService == nil {
		s.errorResponse(c, http.StatusServiceUnavailable, "Statistics are not available")
		return
	}

	overall, err := s.statsService.GetOverallStats(c.Request.Context())
	if err != nil {
		s.errorResponse(c, http.StatusInternalServerError, "Failed to get task stats: "+err.Error())
		return
	}

	modes, err := s.statsService.GetModeStats(c.Request.Context())
	if err != nil {
		s.errorResponse(c, http.StatusInternalServerError, "Failed to get mode stats: "+err.Error())
		return
	}

	// Get recent failures
	limitStr := c.DefaultQuery("failure_limit", "10")
	failureLimit, _ := strconv.Atoi(limitStr)
	if failureLimit <= 0 || failureLimit > 100 {
		failureLimit = 10
	}

	failures, err := s.statsService.GetRecentFailures(c.Request.Context(), failureLimit)
	if err != nil {
		s.errorResponse(c, http.StatusInternalServerError, "Failed to get recent failures: "+err.Error())
		return
	}
	if failures == nil {
		failures = []*models.Task{}
	}

	s.successResponse(c, StatsResponse{
		TaskStats:      overall,
		Modes:          modes,
		RecentFailures: failures,
	})
}

// Health check endpoint

// healthCheck handles GET /api/v1/health. The store must answer; an
// unreachable backend or push channel only degrades the status.
func (s *Server) healthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
	defer cancel()

	if s.database != nil {
		if err := s.database.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, APIResponse{
				Success: false,
				Error:   "Database connection failed",
			})
			return
		}
	}

	checks := map[string]string{"database": "ok"}
	status := "healthy"

	if s.backend != nil {
		if err := s.backend.Health(ctx); err != nil {
			checks["backend"] = err.Error()
			status = "degraded"
		} else {
			checks["backend"] = "ok"
		}
	}

	if s.push != nil {
		if s.push.Connected() {
			checks["push"] = "ok"
		} else {
			checks["push"] = "disconnected"
			status = "degraded"
		}
	}

	c.JSON(http.StatusOK, APIResponse{
		Success: true,
		Data: map[string]interface{}{
			"status":       status,
			"checks":       checks,
			"active_tasks": s.tracker.ActiveCount(),
			"timestamp":    time.Now(),
		},
	})
}
