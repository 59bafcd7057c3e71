package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AI2HU/fbads/internal/models"
	"github.com/AI2HU/fbads/internal/shared"
)

func TestTasksAreCopiedInAndOut(t *testing.T) {
	ctx := context.Background()
	s := New()

	task := &models.Task{ID: "task-1", SessionID: "a", Status: models.TaskUploading}
	require.NoError(t, s.CreateTask(ctx, task))
	task.Status = models.TaskFailed

	got, err := s.GetTask(ctx, "task-1")
	require.NoError(t, err)
	assert.Equal(t, models.TaskUploading, got.Status)

	got.Progress = 50
	again, _ := s.GetTask(ctx, "task-1")
	assert.Zero(t, again.Progress)

	assert.Error(t, s.CreateTask(ctx, &models.Task{ID: "task-1"}))
	assert.True(t, errors.Is(s.UpdateTask(ctx, &models.Task{ID: "task-x"}), shared.ErrNotFound))
}

func TestListTasksPagination(t *testing.T) {
	ctx := context.Background()
	s := New()

	base := time.Now()
	for i, id := range []string{"task-a", "task-b", "task-c"} {
		require.NoError(t, s.CreateTask(ctx, &models.Task{ID: id, Status: models.TaskRunning, CreatedAt: base.Add(time.Duration(i) * time.Second)}))
	}

	page, err := s.ListTasks(ctx, shared.TaskFilter{Limit: 2})
	require.NoError(t, err)
	ids := []string{page[0].ID, page[1].ID}
	if diff := cmp.Diff([]string{"task-c", "task-b"}, ids); diff != "" {
		t.Errorf("unexpected order (-want +got):\n%s", diff)
	}

	rest, err := s.ListTasks(ctx, shared.TaskFilter{Limit: 2, Offset: 2})
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, "task-a", rest[0].ID)

	none, err := s.ListTasks(ctx, shared.TaskFilter{Offset: 10})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestEventArchive(t *testing.T) {
	ctx := context.Background()
	s := New()

	old := time.Now().Add(-time.Hour)
	require.NoError(t, s.AppendEvent(ctx, &models.TaskEvent{ID: "e1", TaskID: "task-1", Type: models.EventProgress, ReceivedAt: old}))
	require.NoError(t, s.AppendEvent(ctx, &models.TaskEvent{ID: "e2", TaskID: "task-1", Type: models.EventTaskComplete}))
	require.NoError(t, s.AppendEvent(ctx, &models.TaskEvent{ID: "e3", TaskID: "task-2", Type: models.EventProgress}))

	events, err := s.ListEvents(ctx, "task-1")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "e1", events[0].ID)

	counts, err := s.CountEventsByType(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[models.EventType]int{models.EventProgress: 2, models.EventTaskComplete: 1}, counts)

	deleted, err := s.DeleteEventsBefore(ctx, time.Now().Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	events, _ = s.ListEvents(ctx, "task-1")
	assert.Len(t, events, 1)
}

func TestAdConfigNotFound(t *testing.T) {
	ctx := context.Background()
	s := New()

	_, err := s.GetAdConfig(ctx, "nobody")
	assert.True(t, errors.Is(err, shared.ErrNotFound))

	require.NoError(t, s.SaveAdConfig(ctx, "sess", &models.AdConfig{Headline: "Hi"}))
	cfg, err := s.GetAdConfig(ctx, "sess")
	require.NoError(t, err)
	assert.Equal(t, "Hi", cfg.Headline)
}
