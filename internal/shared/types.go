package shared

import (
	"errors"

	"github.com/AI2HU/fbads/internal/models"
)

// ErrNotFound is returned by stores when a record does not exist
var ErrNotFound = errors.New("not found")

// TaskFilter provides filtering options for listing tasks
type TaskFilter struct {
	SessionID string
	Statuses  []models.TaskStatus
	Limit     int
	Offset    int
}

// Matches reports whether the task passes the filter, ignoring pagination
func (f TaskFilter) Matches(task *models.Task) bool {
	if f.SessionID != "" && task.SessionID != f.SessionID {
		return false
	}
	if len(f.Statuses) == 0 {
		return true
	}
	for _, s := range f.Statuses {
		if task.Status == s {
			return true
		}
	}
	return false
}
