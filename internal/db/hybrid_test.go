package db

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AI2HU/fbads/internal/models"
)

func TestNewRejectsUnknownProviders(t *testing.T) {
	_, err := New(&models.Config{Provider: "postgres"}, &models.Config{Provider: "memory"})
	assert.ErrorContains(t, err, "unsupported SQL database provider")

	_, err = New(&models.Config{Provider: "memory"}, &models.Config{Provider: "cassandra"})
	assert.ErrorContains(t, err, "unsupported NoSQL database provider")
}

func TestHybridRoutesToBothStores(t *testing.T) {
	ctx := context.Background()
	h, err := New(
		&models.Config{Provider: "sqlite", URI: filepath.Join(t.TempDir(), "fbads.db")},
		&models.Config{Provider: "memory"},
	)
	require.NoError(t, err)
	require.NoError(t, h.Connect(ctx))
	defer h.Disconnect(ctx)
	require.NoError(t, h.Ping(ctx))

	now := time.Now().UTC()
	require.NoError(t, h.CreateTask(ctx, &models.Task{
		ID: "task-abc", SessionID: "s1", Mode: models.ModeNewCampaign,
		Status: models.TaskUploading, CreatedAt: now, UpdatedAt: now,
	}))
	require.NoError(t, h.AppendEvent(ctx, &models.TaskEvent{
		ID: "e1", TaskID: "task-abc", Type: models.EventProgress, Progress: 10, ReceivedAt: now,
	}))

	task, err := h.GetTask(ctx, "task-abc")
	require.NoError(t, err)
	assert.Equal(t, models.TaskUploading, task.Status)

	events, err := h.ListEvents(ctx, "task-abc")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, models.EventProgress, events[0].Type)
}
