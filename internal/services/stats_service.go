package services

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/AI2HU/fbads/internal/db"
	"github.com/AI2HU/fbads/internal/models"
	"github.com/AI2HU/fbads/internal/shared"
)

// ActiveCounter reports how many tasks are still in flight
type ActiveCounter interface {
	ActiveCount() int
}

// StatsService provides business logic for statistics
type StatsService struct {
	db      db.Database
	tracker ActiveCounter
}

// NewStatsService creates a new stats service
func NewStatsService(database db.Database, tracker ActiveCounter) *StatsService {
	return &StatsService{db: database, tracker: tracker}
}

// GetOverallStats returns task totals by status and archived events by type
func (s *StatsService) GetOverallStats(ctx context.Context) (*models.TaskStats, error) {
	byStatus, err := s.db.CountTasksByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count tasks: %w", err)
	}

	byEvent, err := s.db.CountEventsByType(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count events: %w", err)
	}

	total := 0
	for _, n := range byStatus {
		total += n
	}

	finished := byStatus[models.TaskCompleted] + byStatus[models.TaskFailed] + byStatus[models.TaskCanceled]
	successRate := 0.0
	if finished > 0 {
		successRate = float64(byStatus[models.TaskCompleted]) / float64(finished) * 100
	}

	active := byStatus[models.TaskUploading] + byStatus[models.TaskRunning]
	if s.tracker != nil {
		active = s.tracker.ActiveCount()
	}

	return &models.TaskStats{
		TotalTasks:  total,
		ByStatus:    byStatus,
		ByEventType: byEvent,
		ActiveTasks: active,
		SuccessRate: successRate,
		GeneratedAt: time.Now().UTC(),
	}, nil
}

// ModeStats represents statistics for one campaign mode
type ModeStats struct {
	Mode           models.CampaignMode `json:"mode"`
	TotalTasks     int                 `json:"total_tasks"`
	CompletedTasks int                 `json:"completed_tasks"`
	TotalFiles     int                 `json:"total_files"`
	TotalBytes     int64               `json:"total_bytes"`
	AvgDuration    time.Duration       `json:"avg_duration"`
	totalDuration  time.Duration
	timedTasks     int
}

// GetModeStats returns statistics grouped by campaign mode
func (s *StatsService) GetModeStats(ctx context.Context) (map[models.CampaignMode]*ModeStats, error) {
	tasks, err := s.db.ListTasks(ctx, shared.TaskFilter{Limit: 10000})
	if err != nil {
		return nil, fmt.Errorf("failed to get tasks: %w", err)
	}

	modeStats := make(map[models.CampaignMode]*ModeStats)

	for _, task := range tasks {
		if modeStats[task.Mode] == nil {
			modeStats[task.Mode] = &ModeStats{Mode: task.Mode}
		}

		stats := modeStats[task.Mode]
		stats.TotalTasks++
		stats.TotalFiles += task.FileCount
		stats.TotalBytes += task.TotalBytes
		if task.Status == models.TaskCompleted {
			stats.CompletedTasks++
			if task.FinishedAt != nil {
				stats.totalDuration += task.FinishedAt.Sub(task.CreatedAt)
				stats.timedTasks++
			}
		}
	}

	// Calculate averages
	for _, stats := range modeStats {
		if stats.timedTasks > 0 {
			stats.AvgDuration = stats.totalDuration / time.Duration(stats.timedTasks)
		}
	}

	return modeStats, nil
}

// GetRecentFailures returns the latest failed or canceled tasks, newest first
func (s *StatsService) GetRecentFailures(ctx context.Context, limit int) ([]*models.Task, error) {
	tasks, err := s.db.ListTasks(ctx, shared.TaskFilter{
		Statuses: []models.TaskStatus{models.TaskFailed, models.TaskCanceled},
		Limit:    10000,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get tasks: %w", err)
	}

	sort.Slice(tasks, func(i, j int) bool {
		return tasks[i].UpdatedAt.After(tasks[j].UpdatedAt)
	})

	if limit > 0 && len(tasks) > limit {
		tasks = tasks[:limit]
	}

	return tasks, nil
}

// PruneHistory deletes finished tasks and archived events older than before
func (s *StatsService) PruneHistory(ctx context.Context, before time.Time) (tasks int, events int, err error) {
	tasks, err = s.db.DeleteTasksBefore(ctx, before)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to delete tasks: %w", err)
	}

	events, err = s.db.DeleteEventsBefore(ctx, before)
	if err != nil {
		return tasks, 0, fmt.Errorf("failed to delete events: %w", err)
	}

	return tasks, events, nil
}
