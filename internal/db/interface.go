package db

import (
	"context"
	"time"

	"github.com/AI2HU/fbads/internal/models"
	"github.com/AI2HU/fbads/internal/shared"
)

// ErrNotFound is returned when a record does not exist
var ErrNotFound = shared.ErrNotFound

// SQLDatabase defines the interface for SQL database operations (Tasks and saved ad configs)
type SQLDatabase interface {
	// Connection management
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	Ping(ctx context.Context) error

	// Ad config operations, one row per console session
	GetAdConfig(ctx context.Context, sessionID string) (*models.AdConfig, error)
	SaveAdConfig(ctx context.Context, sessionID string, cfg *models.AdConfig) error

	// Task operations
	CreateTask(ctx context.Context, task *models.Task) error
	GetTask(ctx context.Context, id string) (*models.Task, error)
	ListTasks(ctx context.Context, filter shared.TaskFilter) ([]*models.Task, error)
	UpdateTask(ctx context.Context, task *models.Task) error
	DeleteTasksBefore(ctx context.Context, before time.Time) (int, error)
	CountTasksByStatus(ctx context.Context) (map[models.TaskStatus]int, error)
}

// NoSQLDatabase defines the interface for the task event archive
type NoSQLDatabase interface {
	// Connection management
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	Ping(ctx context.Context) error

	// Event operations
	AppendEvent(ctx context.Context, event *models.TaskEvent) error
	ListEvents(ctx context.Context, taskID string) ([]*models.TaskEvent, error)
	CountEventsByType(ctx context.Context) (map[models.EventType]int, error)
	DeleteEventsBefore(ctx context.Context, before time.Time) (int, error)
}

// Database defines the combined interface for both SQL and NoSQL database operations
type Database interface {
	SQLDatabase
	NoSQLDatabase
}
