package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AI2HU/fbads/internal/logger"
	"github.com/AI2HU/fbads/internal/models"
	"github.com/AI2HU/fbads/internal/shared"
	"github.com/AI2HU/fbads/internal/tracker"
)

const streamHeartbeat = 15 * time.Second

// submitStatus maps a tracker submission error to an HTTP status
func submitStatus(err error) int {
	switch {
	case errors.Is(err, tracker.ErrInvalidSubmission):
		return http.StatusBadRequest
	case errors.Is(err, tracker.ErrTaskInFlight):
		return http.StatusConflict
	case errors.Is(err, tracker.ErrShuttingDown):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// listTasks handles GET /api/v1/tasks
func (s *Server) listTasks(c *gin.Context) {
	page, limit := shared.ParsePagination(c)

	filter := shared.TaskFilter{
		SessionID: c.Query("session_id"),
		Statuses:  shared.ParseStatusFilter(c),
	}

	tasks, err := s.taskService.List(c.Request.Context(), filter)
	if err != nil {
		s.errorResponse(c, http.StatusInternalServerError, "Failed to list tasks: "+err.Error())
		return
	}

	pageTasks, pagination := paginate(tasks, page, limit)

	s.successResponse(c, PaginatedResponse{
		Data:       pageTasks,
		Pagination: pagination,
	})
}

// createTask handles POST /api/v1/tasks
func (s *Server) createTask(c *gin.Context) {
	sess := s.session(c)

	up, err := s.receiveUpload(c)
	if err != nil {
		s.errorResponse(c, uploadStatus(err), "Invalid upload: "+err.Error())
		return
	}

	mode := models.CampaignMode(up.field("mode"))
	if mode == "" {
		mode = models.ModeExistingCampaign
		if up.field("campaignName", "campaign_name") != "" {
			mode = models.ModeNewCampaign
		}
	}

	sub, err := s.buildSubmission(c.Request.Context(), sess.ID, mode, up)
	if err != nil {
		up.discard()
		s.errorResponse(c, http.StatusInternalServerError, "Failed to prepare submission: "+err.Error())
		return
	}

	task, err := s.tracker.Submit(c.Request.Context(), sub)
	if err != nil {
		up.discard()
		s.errorResponse(c, submitStatus(err), err.Error())
		return
	}

	c.JSON(http.StatusCreated, APIResponse{
		Success: true,
		Data:    task,
		Message: "Task submitted successfully",
	})
}

// getTask handles GET /api/v1/tasks/:id
func (s *Server) getTask(c *gin.Context) {
	id := c.Param("id")

	detail, err := s.taskService.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, tracker.ErrTaskNotFound) {
			s.errorResponse(c, http.StatusNotFound, "Task not found")
			return
		}
		s.errorResponse(c, http.StatusInternalServerError, "Failed to get task: "+err.Error())
		return
	}

	s.successResponse(c, detail)
}

// cancelTask handles POST /api/v1/tasks/:id/cancel
func (s *Server) cancelTask(c *gin.Context) {
	id := c.Param("id")

	message, err := s.tracker.Cancel(c.Request.Context(), id)
	if errors.Is(err, tracker.ErrTaskNotFound) {
		s.errorResponse(c, http.StatusNotFound, "Task not found")
		return
	}
	if err != nil && message == "" {
		s.errorResponse(c, http.StatusInternalServerError, "Failed to cancel task: "+err.Error())
		return
	}

	task, getErr := s.tracker.Get(c.Request.Context(), id)
	if getErr != nil {
		logger.Warning("Failed to reload canceled task %s: %v", id, getErr)
		task = nil
	}

	if err != nil {
		// Canceled locally, but the backend did not confirm.
		c.JSON(http.StatusBadGateway, APIResponse{
			Success: false,
			Data:    task,
			Error:   err.Error(),
			Message: message,
		})
		return
	}

	c.JSON(http.StatusOK, APIResponse{
		Success: true,
		Data:    task,
		Message: message,
	})
}

// terminalEvent names the event that ends the stream of a finished task
func terminalEvent(task *models.Task) models.EventType {
	switch task.Status {
	case models.TaskCompleted:
		return models.EventTaskComplete
	case models.TaskCanceled:
		return models.EventCanceled
	default:
		return models.EventError
	}
}

// streamTaskEvents handles GET /api/v1/tasks/:id/events. It sends a ready
// event with the current task, then every update until the task finishes.
func (s *Server) streamTaskEvents(c *gin.Context) {
	id := c.Param("id")
	ctx := c.Request.Context()

	// Subscribe before reading the snapshot so no update falls in between.
	updates, unsubscribe := s.tracker.Subscribe(id)
	defer unsubscribe()

	task, err := s.tracker.Get(ctx, id)
	if err != nil {
		if errors.Is(err, tracker.ErrTaskNotFound) {
			s.errorResponse(c, http.StatusNotFound, "Task not found")
			return
		}
		s.errorResponse(c, http.StatusInternalServerError, "Failed to get task: "+err.Error())
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	c.SSEvent("ready", task)
	c.Writer.Flush()

	if task.Status.IsTerminal() {
		s.endStream(c, terminalEvent(task), task)
		return
	}

	heartbeat := time.NewTicker(streamHeartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			_, _ = c.Writer.WriteString(": keepalive\n\n")
			c.Writer.Flush()
		case u, ok := <-updates:
			if !ok {
				return
			}
			if u.Task.Status.IsTerminal() {
				s.endStream(c, u.Event, u.Task)
				return
			}
			c.SSEvent(string(u.Event), u.Task)
			c.Writer.Flush()
		}
	}
}

// endStream sends the terminal event, followed by an alert for tasks that
// did not complete
func (s *Server) endStream(c *gin.Context, event models.EventType, task *models.Task) {
	c.SSEvent(string(event), task)
	if task.Status != models.TaskCompleted && task.Message != "" {
		c.SSEvent("alert", alertText(event, task.Message))
	}
	c.Writer.Flush()
}
