package session

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AI2HU/fbads/internal/models"
)

func TestFormNavigation(t *testing.T) {
	s := newSession("id")
	assert.Equal(t, ViewMain, s.View())

	require.NoError(t, s.ShowForm(ViewNewCampaign))
	assert.Equal(t, ViewNewCampaign, s.View())

	// A campaign form cannot jump straight to the other one.
	err := s.ShowForm(ViewExistingCampaign)
	assert.True(t, errors.Is(err, ErrInvalidTransition))
	assert.Equal(t, ViewNewCampaign, s.View())

	require.NoError(t, s.ShowForm(ViewMain))
	require.NoError(t, s.ShowForm(ViewExistingCampaign))
	assert.Equal(t, ViewExistingCampaign, s.View())

	assert.Error(t, s.ShowForm(ViewProgress))
}

func TestConfigForm(t *testing.T) {
	s := newSession("id")
	require.NoError(t, s.ShowForm(ViewNewCampaign))
	require.NoError(t, s.EditConfig())
	assert.Equal(t, ViewConfig, s.View())

	require.NoError(t, s.SaveConfig())
	assert.Equal(t, ViewMain, s.View())

	require.NoError(t, s.EditConfig())
	require.NoError(t, s.CancelConfig())
	assert.Equal(t, ViewMain, s.View())

	assert.True(t, errors.Is(s.SaveConfig(), ErrInvalidTransition))
}

func TestBeginTaskRequiresCampaignForm(t *testing.T) {
	s := newSession("id")
	assert.True(t, errors.Is(s.BeginTask("task-1"), ErrInvalidTransition))

	require.NoError(t, s.ShowForm(ViewNewCampaign))
	require.NoError(t, s.CanBegin())
	require.NoError(t, s.BeginTask("task-1"))
	assert.Equal(t, ViewProgress, s.View())
	assert.Equal(t, "task-1", s.TaskID())

	assert.True(t, errors.Is(s.BeginTask("task-2"), ErrTaskInFlight))
	assert.Error(t, s.ShowForm(ViewMain), "cannot leave progress by navigation")
}

func TestResume(t *testing.T) {
	s := newSession("id")
	require.NoError(t, s.EditConfig())

	require.NoError(t, s.Resume("task-1"))
	assert.Equal(t, ViewProgress, s.View())
	assert.Equal(t, "task-1", s.TaskID())

	assert.NoError(t, s.Resume("task-1"))
	assert.True(t, errors.Is(s.Resume("task-2"), ErrTaskInFlight))
	assert.Equal(t, "task-1", s.TaskID())

	assert.True(t, s.Reconcile(&models.Task{ID: "task-1", Status: models.TaskCompleted}))
	assert.Equal(t, ViewSuccess, s.View())
}

func TestReconcile(t *testing.T) {
	tests := []struct {
		name      string
		status    models.TaskStatus
		message   string
		wantView  View
		wantFlash []string
	}{
		{"completed", models.TaskCompleted, "", ViewSuccess, nil},
		{"failed", models.TaskFailed, "Invalid page id", ViewMain, []string{"Invalid page id"}},
		{"canceled", models.TaskCanceled, "Upload canceled by user", ViewMain, []string{"Upload canceled by user"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newSession("id")
			require.NoError(t, s.ShowForm(ViewNewCampaign))
			require.NoError(t, s.BeginTask("task-1"))

			assert.False(t, s.Reconcile(&models.Task{ID: "task-1", Status: models.TaskRunning}))
			assert.False(t, s.Reconcile(&models.Task{ID: "task-other", Status: tt.status}))
			assert.Equal(t, ViewProgress, s.View())

			assert.True(t, s.Reconcile(&models.Task{ID: "task-1", Status: tt.status, Message: tt.message}))
			assert.Equal(t, tt.wantView, s.View())
			assert.Equal(t, tt.wantFlash, s.TakeFlash())
			assert.Nil(t, s.TakeFlash(), "flash is consumed on read")

			snap := s.Snapshot()
			assert.Empty(t, snap.TaskID)
			assert.Equal(t, "task-1", snap.LastTaskID)
		})
	}
}

func TestAbandon(t *testing.T) {
	s := newSession("id")
	assert.Error(t, s.Abandon("nope"))

	require.NoError(t, s.ShowForm(ViewExistingCampaign))
	require.NoError(t, s.BeginTask("task-1"))
	require.NoError(t, s.Abandon("Task canceled"))
	assert.Equal(t, ViewMain, s.View())
	assert.Equal(t, []string{"Task canceled"}, s.TakeFlash())

	// A new task can start once the old one was abandoned.
	require.NoError(t, s.ShowForm(ViewNewCampaign))
	assert.NoError(t, s.BeginTask("task-2"))
}

func TestManager(t *testing.T) {
	m := NewManager()

	fresh := m.Get("")
	_, err := uuid.Parse(fresh.ID)
	require.NoError(t, err)

	assert.Same(t, fresh, m.Get(fresh.ID))
	assert.NotEqual(t, "not-a-uuid", m.Get("not-a-uuid").ID)
	assert.Equal(t, 2, m.Len())

	_, ok := m.Lookup(fresh.ID)
	assert.True(t, ok)
}

func TestManagerSweepKeepsBusySessions(t *testing.T) {
	m := NewManager()
	idle := m.Get("")
	busy := m.Get("")
	require.NoError(t, busy.ShowForm(ViewNewCampaign))
	require.NoError(t, busy.BeginTask("task-1"))

	removed := m.Sweep(time.Now().Add(time.Minute))
	assert.Equal(t, 1, removed)

	_, ok := m.Lookup(idle.ID)
	assert.False(t, ok)
	_, ok = m.Lookup(busy.ID)
	assert.True(t, ok)
}
