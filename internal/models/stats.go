package models

import (
	"time"
)

// TaskStats summarises tracked tasks and their archived events
type TaskStats struct {
	TotalTasks  int                `json:"total_tasks"`
	ByStatus    map[TaskStatus]int `json:"by_status"`
	ByEventType map[EventType]int  `json:"by_event_type"`
	ActiveTasks int                `json:"active_tasks"`
	SuccessRate float64            `json:"success_rate"`
	GeneratedAt time.Time          `json:"generated_at"`
}
