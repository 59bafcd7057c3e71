package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AI2HU/fbads/internal/models"
	"github.com/AI2HU/fbads/internal/services"
	"github.com/AI2HU/fbads/internal/tracker"
)

func consoleStub(t *testing.T, status int, reply cancelReply) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/tasks/task-abc123def/cancel", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(reply)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRequestCancel(t *testing.T) {
	ctx := context.Background()

	t.Run("confirmed", func(t *testing.T) {
		srv := consoleStub(t, http.StatusOK, cancelReply{Success: true, Message: "Task stopped"})
		reply, err := requestCancel(ctx, srv.Client(), srv.URL, "task-abc123def")
		require.NoError(t, err)
		assert.True(t, reply.Success)
		assert.Equal(t, "Task stopped", reply.Message)
	})

	t.Run("backend unreachable", func(t *testing.T) {
		srv := consoleStub(t, http.StatusBadGateway, cancelReply{
			Message: tracker.MsgCancelFailed,
			Error:   "connection refused",
		})
		reply, err := requestCancel(ctx, srv.Client(), srv.URL, "task-abc123def")
		require.NoError(t, err)
		assert.False(t, reply.Success)
		assert.Equal(t, tracker.MsgCancelFailed, reply.Message)
	})

	t.Run("unknown task", func(t *testing.T) {
		srv := consoleStub(t, http.StatusNotFound, cancelReply{Error: "Task not found"})
		_, err := requestCancel(ctx, srv.Client(), srv.URL, "task-abc123def")
		assert.ErrorIs(t, err, tracker.ErrTaskNotFound)
	})

	t.Run("console down", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		srv.Close()
		_, err := requestCancel(ctx, http.DefaultClient, srv.URL, "task-abc123def")
		assert.ErrorContains(t, err, "not reachable")
	})
}

func TestPrintTaskTable(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var out bytes.Buffer
	printTaskTable(&out, []*models.Task{
		{ID: "task-aaaaaaaaa", Mode: models.ModeNewCampaign, CampaignName: "Spring sale", Status: models.TaskRunning, Progress: 42.5, FileCount: 3, TotalBytes: 2048, CreatedAt: created},
		{ID: "task-bbbbbbbbb", Mode: models.ModeExistingCampaign, CampaignID: "120200", Status: models.TaskFailed, FileCount: 1, TotalBytes: 10, CreatedAt: created},
	})

	text := out.String()
	assert.Contains(t, text, "task-aaaaaaaaa")
	assert.Contains(t, text, "Spring sale")
	assert.Contains(t, text, "42.50%")
	assert.Contains(t, text, "2.0 KiB")
	assert.Contains(t, text, "120200")
	assert.Contains(t, text, "failed")
}

func TestPrintTaskDetail(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	finished := created.Add(90 * time.Second)

	var out bytes.Buffer
	printTaskDetail(&out, &services.TaskDetail{
		Task: &models.Task{
			ID: "task-aaaaaaaaa", Mode: models.ModeNewCampaign, CampaignName: "Spring sale",
			Status: models.TaskCompleted, Progress: 100, CreatedAt: created, FinishedAt: &finished,
		},
		Events: []*models.TaskEvent{
			{Type: models.EventProgress, Progress: 50, Step: "Uploading videos", ReceivedAt: created},
			{Type: models.EventTaskComplete, ReceivedAt: finished},
		},
	})

	text := out.String()
	assert.Contains(t, text, "Spring sale")
	assert.Contains(t, text, "1.5m")
	assert.Contains(t, text, "Uploading videos")
	assert.Contains(t, text, "50.00%")
	assert.Contains(t, text, string(models.EventTaskComplete))
}
