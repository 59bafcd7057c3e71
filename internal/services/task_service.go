package services

import (
	"context"
	"fmt"

	"github.com/AI2HU/fbads/internal/models"
	"github.com/AI2HU/fbads/internal/shared"
)

// TaskSource is the read side of the task tracker
type TaskSource interface {
	Get(ctx context.Context, id string) (*models.Task, error)
	List(ctx context.Context, filter shared.TaskFilter) ([]*models.Task, error)
	Events(ctx context.Context, id string) ([]*models.TaskEvent, error)
}

// TaskDetail is a task with its archived timeline
type TaskDetail struct {
	*models.Task
	Events []*models.TaskEvent `json:"events"`
}

// TaskService provides read access to tracked tasks
type TaskService struct {
	tasks TaskSource
}

// NewTaskService creates a new task service
func NewTaskService(tasks TaskSource) *TaskService {
	return &TaskService{tasks: tasks}
}

// List lists tasks matching the filter
func (s *TaskService) List(ctx context.Context, filter shared.TaskFilter) ([]*models.Task, error) {
	tasks, err := s.tasks.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	if tasks == nil {
		tasks = []*models.Task{}
	}
	return tasks, nil
}

// Get returns a task and its events
func (s *TaskService) Get(ctx context.Context, id string) (*TaskDetail, error) {
	task, err := s.tasks.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	events, err := s.tasks.Events(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load task events: %w", err)
	}
	if events == nil {
		events = []*models.TaskEvent{}
	}

	return &TaskDetail{Task: task, Events: events}, nil
}
