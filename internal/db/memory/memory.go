// Package memory keeps tasks, ad configs and events in process memory. It
// backs unit tests and single-run deployments that need no persistence.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/AI2HU/fbads/internal/models"
	"github.com/AI2HU/fbads/internal/shared"
)

// Store implements both the SQL and the NoSQL database interfaces
type Store struct {
	mu      sync.RWMutex
	configs map[string]models.AdConfig
	tasks   map[string]*models.Task
	events  []*models.TaskEvent
}

// New creates an empty store
func New() *Store {
	return &Store{
		configs: make(map[string]models.AdConfig),
		tasks:   make(map[string]*models.Task),
	}
}

func (s *Store) Connect(ctx context.Context) error    { return nil }
func (s *Store) Disconnect(ctx context.Context) error { return nil }
func (s *Store) Ping(ctx context.Context) error       { return nil }

// GetAdConfig returns the ad config saved by a session
func (s *Store) GetAdConfig(ctx context.Context, sessionID string) (*models.AdConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cfg, ok := s.configs[sessionID]
	if !ok {
		return nil, fmt.Errorf("ad config for session %s: %w", sessionID, shared.ErrNotFound)
	}
	return &cfg, nil
}

// SaveAdConfig stores the ad config of a session
func (s *Store) SaveAdConfig(ctx context.Context, sessionID string, cfg *models.AdConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.configs[sessionID] = *cfg
	return nil
}

// CreateTask inserts a new task
func (s *Store) CreateTask(ctx context.Context, task *models.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[task.ID]; exists {
		return fmt.Errorf("task %s already exists", task.ID)
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now().UTC()
	}
	if task.UpdatedAt.IsZero() {
		task.UpdatedAt = task.CreatedAt
	}
	s.tasks[task.ID] = task.Clone()
	return nil
}

// GetTask retrieves a task by ID
func (s *Store) GetTask(ctx context.Context, id string) (*models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	task, ok := s.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task %s: %w", id, shared.ErrNotFound)
	}
	return task.Clone(), nil
}

// ListTasks lists tasks newest first
func (s *Store) ListTasks(ctx context.Context, filter shared.TaskFilter) ([]*models.Task, error) {
	s.mu.RLock()
	var tasks []*models.Task
	for _, task := range s.tasks {
		if filter.Matches(task) {
			tasks = append(tasks, task.Clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(tasks, func(i, j int) bool {
		return tasks[i].CreatedAt.After(tasks[j].CreatedAt)
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(tasks) {
			return nil, nil
		}
		tasks = tasks[filter.Offset:]
	}
	if filter.Limit > 0 && len(tasks) > filter.Limit {
		tasks = tasks[:filter.Limit]
	}
	return tasks, nil
}

// UpdateTask replaces a stored task
func (s *Store) UpdateTask(ctx context.Context, task *models.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[task.ID]; !ok {
		return fmt.Errorf("task %s: %w", task.ID, shared.ErrNotFound)
	}
	task.UpdatedAt = time.Now().UTC()
	s.tasks[task.ID] = task.Clone()
	return nil
}

// DeleteTasksBefore removes terminal tasks last updated before the cutoff
func (s *Store) DeleteTasksBefore(ctx context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := 0
	for id, task := range s.tasks {
		if task.Status.IsTerminal() && task.UpdatedAt.Before(before) {
			delete(s.tasks, id)
			deleted++
		}
	}
	return deleted, nil
}

// CountTasksByStatus returns how many tasks are in each status
func (s *Store) CountTasksByStatus(ctx context.Context) (map[models.TaskStatus]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[models.TaskStatus]int)
	for _, task := range s.tasks {
		counts[task.Status]++
	}
	return counts, nil
}

// AppendEvent archives one event
func (s *Store) AppendEvent(ctx context.Context, event *models.TaskEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if event.ReceivedAt.IsZero() {
		event.ReceivedAt = time.Now().UTC()
	}
	e := *event
	s.events = append(s.events, &e)
	return nil
}

// ListEvents returns a task's events in arrival order
func (s *Store) ListEvents(ctx context.Context, taskID string) ([]*models.TaskEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var events []*models.TaskEvent
	for _, e := range s.events {
		if e.TaskID == taskID {
			c := *e
			events = append(events, &c)
		}
	}
	return events, nil
}

// CountEventsByType counts archived events per event name
func (s *Store) CountEventsByType(ctx context.Context) (map[models.EventType]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[models.EventType]int)
	for _, e := range s.events {
		counts[e.Type]++
	}
	return counts, nil
}

// DeleteEventsBefore removes events received before the cutoff
func (s *Store) DeleteEventsBefore(ctx context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.events[:0]
	deleted := 0
	for _, e := range s.events {
		if e.ReceivedAt.Before(before) {
			deleted++
			continue
		}
		kept = append(kept, e)
	}
	s.events = kept
	return deleted, nil
}
