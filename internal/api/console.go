package api

import (
	"context"
	"embed"
	"errors"
	"html/template"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/AI2HU/fbads/internal/logger"
	"github.com/AI2HU/fbads/internal/models"
	"github.com/AI2HU/fbads/internal/services"
	"github.com/AI2HU/fbads/internal/session"
	"github.com/AI2HU/fbads/internal/tracker"
)

//go:embed templates/*.html
var templatesFS embed.FS

const consoleTemplate = "console.html"

func parseTemplates() (*template.Template, error) {
	return template.New("").Funcs(template.FuncMap{
		"percent": func(p float64) string { return strconv.FormatFloat(p, 'f', 2, 64) },
	}).ParseFS(templatesFS, "templates/*.html")
}

// consoleView is the data of one console render
type consoleView struct {
	View   session.View
	Alerts []string
	Config *models.AdConfig
	Task   *models.Task
	Error  string
}

// redirectHome sends the browser back to the console after a form post
func redirectHome(c *gin.Context) {
	c.Redirect(http.StatusSeeOther, "/")
}

// renderConsole handles GET /
func (s *Server) renderConsole(c *gin.Context) {
	sess := s.session(c)
	ctx := c.Request.Context()

	view := consoleView{}

	if taskID := sess.TaskID(); taskID != "" {
		task, err := s.tracker.Get(ctx, taskID)
		switch {
		case errors.Is(err, tracker.ErrTaskNotFound):
			_ = sess.Abandon("Task " + taskID + " is no longer tracked")
		case err != nil:
			s.errorPage(c, err)
			return
		default:
			sess.Reconcile(s.withAlert(ctx, task))
			view.Task = task
		}
	}

	view.View = sess.View()
	if view.View == session.ViewConfig {
		cfg, err := s.configService.Get(ctx, sess.ID)
		if err != nil {
			s.errorPage(c, err)
			return
		}
		view.Config = cfg
	}
	view.Alerts = sess.TakeFlash()

	c.HTML(http.StatusOK, consoleTemplate, view)
}

// withAlert returns task with the message its failure alert shows. Failures
// reported by a push error event read "Error: <message>"; the others show
// their message as is.
func (s *Server) withAlert(ctx context.Context, task *models.Task) *models.Task {
	if task.Status != models.TaskFailed || task.Message == "" {
		return task
	}
	events, err := s.tracker.Events(ctx, task.ID)
	if err != nil {
		logger.Warning("Failed to load events of task %s: %v", task.ID, err)
		return task
	}
	if len(events) == 0 || events[len(events)-1].Type != models.EventError {
		return task
	}
	alerted := task.Clone()
	alerted.Message = alertText(models.EventError, task.Message)
	return alerted
}

// alertText is the alert for a task that ended with message after event
func alertText(event models.EventType, message string) string {
	if event == models.EventError {
		return "Error: " + message
	}
	return message
}

// errorPage renders the main view with an alert when a store call fails
func (s *Server) errorPage(c *gin.Context, err error) {
	logger.Error("Console request failed: %v", err)
	c.HTML(http.StatusInternalServerError, consoleTemplate, consoleView{
		View:   session.ViewMain,
		Alerts: []string{"Something went wrong, please try again"},
	})
}

// transition applies a view change and returns to the console. Invalid
// transitions, such as a stale form in another tab, are ignored.
func (s *Server) transition(c *gin.Context, change func(*session.Session) error) {
	sess := s.session(c)
	if err := change(sess); err != nil {
		logger.Debug("Session %s: %v", sess.ID, err)
	}
	redirectHome(c)
}

// showNewCampaignForm handles POST /forms/new
func (s *Server) showNewCampaignForm(c *gin.Context) {
	s.transition(c, func(sess *session.Session) error { return sess.ShowForm(session.ViewNewCampaign) })
}

// showExistingCampaignForm handles POST /forms/existing
func (s *Server) showExistingCampaignForm(c *gin.Context) {
	s.transition(c, func(sess *session.Session) error { return sess.ShowForm(session.ViewExistingCampaign) })
}

// goBack handles POST /back
func (s *Server) goBack(c *gin.Context) {
	s.transition(c, func(sess *session.Session) error { return sess.ShowForm(session.ViewMain) })
}

// editConfig handles POST /config/edit
func (s *Server) editConfig(c *gin.Context) {
	s.transition(c, (*session.Session).EditConfig)
}

// cancelConfig handles POST /config/cancel
func (s *Server) cancelConfig(c *gin.Context) {
	s.transition(c, (*session.Session).CancelConfig)
}

// saveConfig handles POST /config. An invalid config re-renders the form
// with what was entered.
func (s *Server) saveConfig(c *gin.Context) {
	sess := s.session(c)
	if sess.View() != session.ViewConfig {
		redirectHome(c)
		return
	}

	var input models.AdConfig
	if err := c.ShouldBind(&input); err != nil {
		c.HTML(http.StatusBadRequest, consoleTemplate, consoleView{
			View:   session.ViewConfig,
			Config: &input,
			Error:  "Invalid form: " + err.Error(),
		})
		return
	}

	if _, err := s.configService.Save(c.Request.Context(), sess.ID, input); err != nil {
		if errors.Is(err, services.ErrValidation) {
			c.HTML(http.StatusUnprocessableEntity, consoleTemplate, consoleView{
				View:   session.ViewConfig,
				Config: &input,
				Error:  err.Error(),
			})
			return
		}
		s.errorPage(c, err)
		return
	}

	if err := sess.SaveConfig(); err != nil {
		logger.Debug("Session %s: %v", sess.ID, err)
	}
	redirectHome(c)
}

// submitCampaign handles POST /campaigns. The upload is spooled, handed to
// the tracker and the session moves to the progress view.
func (s *Server) submitCampaign(c *gin.Context) {
	sess := s.session(c)

	mode, ok := sess.View().CampaignMode()
	if err := sess.CanBegin(); err != nil || !ok {
		if errors.Is(err, session.ErrTaskInFlight) {
			sess.Flash("A campaign is already being created")
		}
		redirectHome(c)
		return
	}

	up, err := s.receiveUpload(c)
	if err != nil {
		logger.Warning("Rejected upload from session %s: %v", sess.ID, err)
		sess.Flash(uploadAlert(err))
		redirectHome(c)
		return
	}

	sub, err := s.buildSubmission(c.Request.Context(), sess.ID, mode, up)
	if err != nil {
		up.discard()
		s.errorPage(c, err)
		return
	}

	task, err := s.tracker.Submit(c.Request.Context(), sub)
	if err != nil {
		up.discard()
		logger.Warning("Submission from session %s refused: %v", sess.ID, err)
		sess.Flash(submitAlert(err))
		redirectHome(c)
		return
	}

	if err := sess.BeginTask(task.ID); err != nil {
		// The session changed under us; the task still runs and shows up
		// in the task list.
		logger.Warning("Session %s could not follow task %s: %v", sess.ID, task.ID, err)
	}
	redirectHome(c)
}

// cancelUpload handles POST /cancel
func (s *Server) cancelUpload(c *gin.Context) {
	sess := s.session(c)

	taskID := sess.TaskID()
	if taskID == "" {
		redirectHome(c)
		return
	}

	message, err := s.tracker.Cancel(c.Request.Context(), taskID)
	if err == nil {
		// The task may have completed before the click arrived.
		if task, getErr := s.tracker.Get(c.Request.Context(), taskID); getErr == nil && task.Status == models.TaskCompleted {
			sess.Reconcile(task)
			redirectHome(c)
			return
		}
	} else {
		logger.Warning("Cancel of task %s: %v", taskID, err)
		if message == "" {
			message = tracker.MsgCancelFailed
		}
	}

	if err := sess.Abandon(message); err != nil {
		logger.Debug("Session %s: %v", sess.ID, err)
	}
	redirectHome(c)
}

func uploadAlert(err error) string {
	switch {
	case errors.Is(err, errUploadTooLarge):
		return "The selected folders are too large to upload"
	case errors.Is(err, errTooManyFiles):
		return "The selected folders contain too many files"
	default:
		return "The upload could not be read, please try again"
	}
}

func submitAlert(err error) string {
	switch {
	case errors.Is(err, tracker.ErrInvalidSubmission):
		return "Please fill in the form and choose at least one folder"
	case errors.Is(err, tracker.ErrTaskInFlight):
		return "A campaign is already being created"
	case errors.Is(err, tracker.ErrShuttingDown):
		return "The console is shutting down, please try again later"
	default:
		return tracker.MsgCreateFailed
	}
}
