package models

import (
	"time"
)

// Core domain models

// AdConfig holds the ad creative settings a session applies to its submissions
type AdConfig struct {
	FacebookPageID string `json:"facebook_page_id" yaml:"facebook_page_id" form:"facebook_page_id"`
	Headline       string `json:"headline" yaml:"headline" form:"headline"`
	Link           string `json:"link" yaml:"link" form:"link"`
	UTMParameters  string `json:"utm_parameters" yaml:"utm_parameters" form:"utm_parameters"`
}

// HasPage reports whether a Facebook page is configured. The remaining ad
// fields are only forwarded to the backend when it is.
func (c AdConfig) HasPage() bool {
	return c.FacebookPageID != ""
}

// CampaignMode selects between creating a campaign and reusing one
type CampaignMode string

const (
	ModeNewCampaign      CampaignMode = "new"
	ModeExistingCampaign CampaignMode = "existing"
)

// Valid reports whether the mode is known
func (m CampaignMode) Valid() bool {
	return m == ModeNewCampaign || m == ModeExistingCampaign
}

// UploadFile is a media file spooled locally before it is streamed to the backend
type UploadFile struct {
	Name string `json:"name"` // Relative path inside the uploaded folders, forward slashes
	Path string `json:"-"`    // Location of the spooled copy
	Size int64  `json:"size"`
}

// Submission is everything needed to ask the backend to create ads
type Submission struct {
	TaskID       string
	SessionID    string
	Mode         CampaignMode
	CampaignName string
	CampaignID   string
	Files        []UploadFile
	Config       AdConfig
	SpoolDir     string // Removed once the upload finishes
}

// TotalBytes returns the combined size of all files
func (s *Submission) TotalBytes() int64 {
	var total int64
	for _, f := range s.Files {
		total += f.Size
	}
	return total
}

// TaskStatus is the lifecycle state of a submitted task
type TaskStatus string

const (
	TaskUploading TaskStatus = "uploading"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
	TaskCanceled  TaskStatus = "canceled"
)

// IsTerminal reports whether no further updates are expected
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskCompleted, TaskFailed, TaskCanceled:
		return true
	default:
		return false
	}
}

// ParseTaskStatus parses a status name, returning false for unknown values
func ParseTaskStatus(s string) (TaskStatus, bool) {
	switch status := TaskStatus(s); status {
	case TaskUploading, TaskRunning, TaskCompleted, TaskFailed, TaskCanceled:
		return status, true
	default:
		return "", false
	}
}

// Task represents a campaign creation job tracked by the console
type Task struct {
	ID           string       `json:"id"`
	SessionID    string       `json:"session_id"`
	Mode         CampaignMode `json:"mode"`
	CampaignName string       `json:"campaign_name,omitempty"`
	CampaignID   string       `json:"campaign_id,omitempty"`
	Status       TaskStatus   `json:"status"`
	Progress     float64      `json:"progress"`
	Step         string       `json:"step,omitempty"`
	Message      string       `json:"message,omitempty"`
	FileCount    int          `json:"file_count"`
	TotalBytes   int64        `json:"total_bytes"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
	FinishedAt   *time.Time   `json:"finished_at,omitempty"`
}

// Clone returns a copy that can be handed to other goroutines
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	c := *t
	if t.FinishedAt != nil {
		finished := *t.FinishedAt
		c.FinishedAt = &finished
	}
	return &c
}
