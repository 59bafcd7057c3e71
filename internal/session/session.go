// Package session holds the view state of each console user: which form is
// on screen, which task is being followed and the alerts still to show.
package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AI2HU/fbads/internal/models"
)

var (
	ErrInvalidTransition = errors.New("invalid view transition")
	ErrTaskInFlight      = errors.New("a task is already in progress")
)

// View names the screen a session is on
type View string

const (
	ViewMain             View = "mainForm"
	ViewNewCampaign      View = "newCampaignForm"
	ViewExistingCampaign View = "existingCampaignForm"
	ViewConfig           View = "configForm"
	ViewProgress         View = "progress"
	ViewSuccess          View = "successScreen"
)

// CampaignMode returns the campaign mode a form view submits, if any
func (v View) CampaignMode() (models.CampaignMode, bool) {
	switch v {
	case ViewNewCampaign:
		return models.ModeNewCampaign, true
	case ViewExistingCampaign:
		return models.ModeExistingCampaign, true
	default:
		return "", false
	}
}

// Session is the state of one console user
type Session struct {
	ID string

	mu         sync.Mutex
	view       View
	taskID     string
	lastTaskID string
	flash      []string
	lastSeen   time.Time
}

func newSession(id string) *Session {
	return &Session{ID: id, view: ViewMain, lastSeen: time.Now()}
}

// Snapshot is a consistent copy of a session's state
type Snapshot struct {
	ID         string
	View       View
	TaskID     string
	LastTaskID string
}

// Snapshot returns the current state
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{ID: s.ID, View: s.view, TaskID: s.taskID, LastTaskID: s.lastTaskID}
}

// View returns the screen the session is on
func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view
}

// TaskID returns the task being followed, or ""
func (s *Session) TaskID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.taskID
}

func (s *Session) transition(from []View, to View) error {
	for _, v := range from {
		if s.view == v {
			s.view = to
			return nil
		}
	}
	return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, s.view, to)
}

// ShowForm opens a campaign form from the main view, or returns to the main
// view from any form or the success screen
func (s *Session) ShowForm(v View) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch v {
	case ViewNewCampaign, ViewExistingCampaign:
		return s.transition([]View{ViewMain}, v)
	case ViewMain:
		return s.transition([]View{ViewMain, ViewNewCampaign, ViewExistingCampaign, ViewConfig, ViewSuccess}, v)
	default:
		return fmt.Errorf("%w: %s is not a form", ErrInvalidTransition, v)
	}
}

// EditConfig opens the config form
func (s *Session) EditConfig() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transition([]View{ViewMain, ViewNewCampaign, ViewExistingCampaign}, ViewConfig)
}

// SaveConfig leaves the config form after the config was stored
func (s *Session) SaveConfig() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transition([]View{ViewConfig}, ViewMain)
}

// CancelConfig leaves the config form without storing anything
func (s *Session) CancelConfig() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transition([]View{ViewConfig}, ViewMain)
}

// CanBegin checks that a submission may start from the current view
func (s *Session) CanBegin() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.canBegin()
}

func (s *Session) canBegin() error {
	if s.taskID != "" {
		return ErrTaskInFlight
	}
	if _, ok := s.view.CampaignMode(); !ok {
		return fmt.Errorf("%w: cannot submit from %s", ErrInvalidTransition, s.view)
	}
	return nil
}

// BeginTask moves a campaign form to the progress view for taskID
func (s *Session) BeginTask(taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.canBegin(); err != nil {
		return err
	}
	s.view = ViewProgress
	s.taskID = taskID
	return nil
}

// Resume follows a task that was started for this session but is not
// followed yet, as after a console restart. Any view gives way to the
// progress view.
func (s *Session) Resume(taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.taskID {
	case taskID:
		return nil
	case "":
	default:
		return ErrTaskInFlight
	}
	s.view = ViewProgress
	s.taskID = taskID
	return nil
}

// Reconcile applies the state of the followed task. A completed task leads
// to the success screen; a failed or canceled one back to the main view with
// its message as an alert. It reports whether the view changed.
func (s *Session) Reconcile(task *models.Task) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if task == nil || s.view != ViewProgress || task.ID != s.taskID || !task.Status.IsTerminal() {
		return false
	}

	s.lastTaskID = s.taskID
	s.taskID = ""
	switch task.Status {
	case models.TaskCompleted:
		s.view = ViewSuccess
	default:
		s.view = ViewMain
		if task.Message != "" {
			s.flash = append(s.flash, task.Message)
		}
	}
	return true
}

// Abandon leaves the progress view with an alert, as after a cancel
func (s *Session) Abandon(message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.transition([]View{ViewProgress}, ViewMain); err != nil {
		return err
	}
	s.lastTaskID = s.taskID
	s.taskID = ""
	if message != "" {
		s.flash = append(s.flash, message)
	}
	return nil
}

// Flash queues an alert for the next render
func (s *Session) Flash(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flash = append(s.flash, message)
}

// TakeFlash returns the queued alerts and clears them
func (s *Session) TakeFlash() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	flash := s.flash
	s.flash = nil
	return flash
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastSeen = now
	s.mu.Unlock()
}

func (s *Session) idleSince(cutoff time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.taskID == "" && s.lastSeen.Before(cutoff)
}

// Manager keeps the sessions of all console users
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager creates an empty manager
func NewManager() *Manager {
	return &Manager{sessions: make(map[string]*Session)}
}

// Get returns the session with id, creating it when id is unknown. An empty
// or malformed id gets a fresh one.
func (m *Manager) Get(id string) *Session {
	if _, err := uuid.Parse(id); err != nil {
		id = uuid.NewString()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		s = newSession(id)
		m.sessions[id] = s
	}
	s.touch(time.Now())
	return s
}

// Lookup returns an existing session without creating one
func (m *Manager) Lookup(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Len returns the number of sessions
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Sweep drops sessions unused since cutoff that are not following a task
func (m *Manager) Sweep(cutoff time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, s := range m.sessions {
		if s.idleSince(cutoff) {
			delete(m.sessions, id)
			removed++
		}
	}
	return removed
}
