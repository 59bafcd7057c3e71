package models

import (
	"time"
)

// EventType names an event on a task's timeline. The first three are the
// names used by the backend push channel.
type EventType string

const (
	EventProgress     EventType = "progress"
	EventTaskComplete EventType = "task_complete"
	EventError        EventType = "error"
	EventCanceled     EventType = "canceled"
	EventUploadFailed EventType = "upload_failed"
)

// IsPushEvent reports whether the backend may send this event type
func (e EventType) IsPushEvent() bool {
	switch e {
	case EventProgress, EventTaskComplete, EventError:
		return true
	default:
		return false
	}
}

// PushEvent is a decoded notification from the backend push channel
type PushEvent struct {
	Type     EventType `json:"event"`
	TaskID   string    `json:"task_id"`
	Progress float64   `json:"progress,omitempty"`
	Step     string    `json:"step,omitempty"`
	Message  string    `json:"message,omitempty"`
}

// TaskEvent is an archived entry of a task's timeline
type TaskEvent struct {
	ID         string    `json:"id" bson:"_id"`
	TaskID     string    `json:"task_id" bson:"task_id"`
	Type       EventType `json:"event" bson:"event"`
	Progress   float64   `json:"progress,omitempty" bson:"progress,omitempty"`
	Step       string    `json:"step,omitempty" bson:"step,omitempty"`
	Message    string    `json:"message,omitempty" bson:"message,omitempty"`
	ReceivedAt time.Time `json:"received_at" bson:"received_at"`
}

// TaskUpdate is delivered to subscribers after every accepted change
type TaskUpdate struct {
	Event EventType `json:"event"`
	Task  *Task     `json:"task"`
}
