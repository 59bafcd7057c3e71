package api

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AI2HU/fbads/internal/config"
	"github.com/AI2HU/fbads/internal/logger"
	"github.com/AI2HU/fbads/internal/services"
	"github.com/AI2HU/fbads/internal/session"
	"github.com/AI2HU/fbads/internal/tracker"
)

// Pinger reports whether a store is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthChecker reports whether the backend answers
type HealthChecker interface {
	Health(ctx context.Context) error
}

// PushStatus reports whether the push channel is connected
type PushStatus interface {
	Connected() bool
}

// Options holds everything the server serves
type Options struct {
	Config   *config.Config
	Database Pinger
	Backend  HealthChecker
	Push     PushStatus
	Tracker  *tracker.Tracker
	Sessions *session.Manager
	Configs  *services.ConfigService
	Tasks    *services.TaskService
	Stats    *services.StatsService
}

// Server serves the HTML console and the JSON API
type Server struct {
	router     *gin.Engine
	httpServer *http.Server

	cfg      *config.Config
	database Pinger
	backend  HealthChecker
	push     PushStatus

	tracker        *tracker.Tracker
	sessions       *session.Manager
	configService  *services.ConfigService
	taskService    *services.TaskService
	statsService   *services.StatsService
	templates      *template.Template
	shutdownGrace  time.Duration
	sessionCookie  string
	allowedOrigins string
}

// APIResponse is the envelope of every JSON reply
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
}

// PaginatedResponse wraps a page of results
type PaginatedResponse struct {
	Data       interface{} `json:"data"`
	Pagination Pagination  `json:"pagination"`
}

// Pagination describes a page of results
type Pagination struct {
	Page       int   `json:"page"`
	Limit      int   `json:"limit"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
}

// NewServer creates a new server
func NewServer(opts Options) (*Server, error) {
	if opts.Config == nil {
		opts.Config = config.DefaultConfig()
	}
	if opts.Tracker == nil || opts.Sessions == nil || opts.Configs == nil {
		return nil, errors.New("tracker, sessions and config service are required")
	}

	tmpl, err := parseTemplates()
	if err != nil {
		return nil, fmt.Errorf("failed to parse console templates: %w", err)
	}

	corsOrigin := opts.Config.Server.CORSOrigin
	if corsOrigin == "" {
		corsOrigin = "*"
	}

	s := &Server{
		cfg:            opts.Config,
		database:       opts.Database,
		backend:        opts.Backend,
		push:           opts.Push,
		tracker:        opts.Tracker,
		sessions:       opts.Sessions,
		configService:  opts.Configs,
		taskService:    opts.Tasks,
		statsService:   opts.Stats,
		templates:      tmpl,
		shutdownGrace:  10 * time.Second,
		sessionCookie:  opts.Config.Server.SessionCookie,
		allowedOrigins: corsOrigin,
	}
	if s.taskService == nil {
		s.taskService = services.NewTaskService(opts.Tracker)
	}
	if s.sessionCookie == "" {
		s.sessionCookie = config.DefaultConfig().Server.SessionCookie
	}

	s.setupRouter()
	return s, nil
}

func (s *Server) setupRouter() {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger())
	router.Use(corsMiddleware(s.allowedOrigins))
	router.SetHTMLTemplate(s.templates)

	// Console
	router.GET("/", s.renderConsole)
	router.POST("/forms/new", s.showNewCampaignForm)
	router.POST("/forms/existing", s.showExistingCampaignForm)
	router.POST("/back", s.goBack)
	router.POST("/config/edit", s.editConfig)
	router.POST("/config", s.saveConfig)
	router.POST("/config/cancel", s.cancelConfig)
	router.POST("/campaigns", s.submitCampaign)
	router.POST("/cancel", s.cancelUpload)

	// JSON API
	v1 := router.Group("/api/v1")
	{
		v1.GET("/health", s.healthCheck)

		v1.GET("/config", s.getConfig)
		v1.PUT("/config", s.updateConfig)

		v1.GET("/tasks", s.listTasks)
		v1.POST("/tasks", s.createTask)
		v1.GET("/tasks/:id", s.getTask)
		v1.POST("/tasks/:id/cancel", s.cancelTask)
		v1.GET("/tasks/:id/events", s.streamTaskEvents)

		v1.GET("/stats", s.getStats)
	}

	s.router = router
}

// Handler returns the HTTP handler of the server
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on address until ctx is done, then shuts down gracefully.
// Request contexts derive from ctx so open event streams end with it.
func (s *Server) Run(ctx context.Context, address string) error {
	s.httpServer = &http.Server{
		Addr:              address,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownGrace)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down HTTP server: %w", err)
	}
	return nil
}

// errorResponse sends an error response
func (s *Server) errorResponse(c *gin.Context, status int, message string) {
	c.JSON(status, APIResponse{
		Success: false,
		Error:   message,
	})
}

// successResponse sends a success response
func (s *Server) successResponse(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, APIResponse{
		Success: true,
		Data:    data,
	})
}

// paginate slices items for the requested page
func paginate[T any](items []T, page, limit int) ([]T, Pagination) {
	total := len(items)
	start := (page - 1) * limit
	if start > total {
		start = total
	}
	end := start + limit
	if end > total {
		end = total
	}

	totalPages := (total + limit - 1) / limit
	return items[start:end], Pagination{
		Page:       page,
		Limit:      limit,
		Total:      int64(total),
		TotalPages: totalPages,
	}
}
