package tracker

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/AI2HU/fbads/internal/backend"
	"github.com/AI2HU/fbads/internal/db/memory"
	"github.com/AI2HU/fbads/internal/models"
	"github.com/AI2HU/fbads/internal/shared"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeBackend struct {
	mu        sync.Mutex
	create    func(ctx context.Context, sub *models.Submission) error
	cancelMsg string
	cancelErr error
	canceled  []string
}

func (f *fakeBackend) CreateCampaign(ctx context.Context, sub *models.Submission) error {
	if f.create == nil {
		return nil
	}
	return f.create(ctx, sub)
}

func (f *fakeBackend) CancelTask(ctx context.Context, taskID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.canceled = append(f.canceled, taskID)
	return f.cancelMsg, f.cancelErr
}

// blockUntilCanceled mimics an upload that only ends when it is aborted
func blockUntilCanceled(ctx context.Context, _ *models.Submission) error {
	<-ctx.Done()
	return ctx.Err()
}

func newTracker(t *testing.T, b *fakeBackend) (*Tracker, *memory.Store) {
	t.Helper()
	store := memory.New()
	tr := New(store, store, b)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, tr.Shutdown(ctx))
	})
	return tr, store
}

func submission(session string) *models.Submission {
	return &models.Submission{
		SessionID:    session,
		Mode:         models.ModeNewCampaign,
		CampaignName: "Spring",
		Files:        []models.UploadFile{{Name: "a/b.mp4", Size: 10}, {Name: "a/c.jpg", Size: 5}},
	}
}

func waitStatus(t *testing.T, tr *Tracker, id string, want models.TaskStatus) *models.Task {
	t.Helper()
	var task *models.Task
	require.Eventually(t, func() bool {
		got, err := tr.Get(context.Background(), id)
		if err != nil {
			return false
		}
		task = got
		return got.Status == want
	}, 2*time.Second, 5*time.Millisecond, "task %s never reached %s", id, want)
	return task
}

func TestNewID(t *testing.T) {
	pattern := regexp.MustCompile(`^task-[0-9a-z]{9}$`)
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := NewID()
		require.Regexp(t, pattern, id)
		require.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}

func TestSubmitValidates(t *testing.T) {
	tr, _ := newTracker(t, &fakeBackend{})

	tests := []struct {
		name string
		sub  *models.Submission
	}{
		{"no campaign name", &models.Submission{Mode: models.ModeNewCampaign, Files: []models.UploadFile{{Name: "x"}}}},
		{"no campaign id", &models.Submission{Mode: models.ModeExistingCampaign, Files: []models.UploadFile{{Name: "x"}}}},
		{"unknown mode", &models.Submission{Mode: "other", CampaignName: "x", Files: []models.UploadFile{{Name: "x"}}}},
		{"no files", &models.Submission{Mode: models.ModeNewCampaign, CampaignName: "x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tr.Submit(context.Background(), tt.sub)
			assert.True(t, errors.Is(err, ErrInvalidSubmission))
		})
	}
}

func TestSubmitProgressComplete(t *testing.T) {
	ctx := context.Background()
	tr, store := newTracker(t, &fakeBackend{})

	task, err := tr.Submit(ctx, submission("s1"))
	require.NoError(t, err)
	assert.Equal(t, models.TaskUploading, task.Status)
	assert.Equal(t, 2, task.FileCount)
	assert.Equal(t, int64(15), task.TotalBytes)

	updates, unsubscribe := tr.Subscribe(task.ID)
	defer unsubscribe()

	waitStatus(t, tr, task.ID, models.TaskRunning)

	assert.True(t, tr.HandleEvent(ctx, models.PushEvent{Type: models.EventProgress, TaskID: task.ID, Progress: 40, Step: "Creating ad set"}))
	assert.True(t, tr.HandleEvent(ctx, models.PushEvent{Type: models.EventProgress, TaskID: task.ID, Progress: 25.5, Step: "Uploading media"}))

	got, err := tr.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, 25.5, got.Progress, "last write wins")
	assert.Equal(t, "Uploading media", got.Step)

	assert.True(t, tr.HandleEvent(ctx, models.PushEvent{Type: models.EventTaskComplete, TaskID: task.ID}))

	var last models.TaskUpdate
	for u := range updates {
		last = u
	}
	assert.Equal(t, models.EventTaskComplete, last.Event)
	assert.Equal(t, models.TaskCompleted, last.Task.Status)
	assert.Equal(t, 100.0, last.Task.Progress)
	require.NotNil(t, last.Task.FinishedAt)

	stored, err := store.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskCompleted, stored.Status)

	events, err := tr.Events(ctx, task.ID)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, models.EventTaskComplete, events[2].Type)
	assert.Equal(t, 0, tr.ActiveCount())
	assert.Nil(t, tr.Active("s1"))
}

func TestHandleEventIgnoresUnknownAndFinishedTasks(t *testing.T) {
	ctx := context.Background()
	tr, _ := newTracker(t, &fakeBackend{})

	assert.False(t, tr.HandleEvent(ctx, models.PushEvent{Type: models.EventProgress, TaskID: "task-nobody"}))

	task, err := tr.Submit(ctx, submission("s1"))
	require.NoError(t, err)
	require.True(t, tr.HandleEvent(ctx, models.PushEvent{Type: models.EventError, TaskID: task.ID, Message: "Invalid token"}))

	assert.False(t, tr.HandleEvent(ctx, models.PushEvent{Type: models.EventTaskComplete, TaskID: task.ID}))
	assert.False(t, tr.HandleEvent(ctx, models.PushEvent{Type: models.EventProgress, TaskID: task.ID, Progress: 90}))

	got, err := tr.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskFailed, got.Status)
	assert.Equal(t, "Invalid token", got.Message)
	assert.Zero(t, got.Progress)
}

func TestProgressIsClamped(t *testing.T) {
	ctx := context.Background()
	tr, _ := newTracker(t, &fakeBackend{create: blockUntilCanceled})

	task, err := tr.Submit(ctx, submission("s1"))
	require.NoError(t, err)

	tr.HandleEvent(ctx, models.PushEvent{Type: models.EventProgress, TaskID: task.ID, Progress: 140})
	got, _ := tr.Get(ctx, task.ID)
	assert.Equal(t, 100.0, got.Progress)
	assert.Equal(t, models.TaskRunning, got.Status)

	tr.HandleEvent(ctx, models.PushEvent{Type: models.EventProgress, TaskID: task.ID, Progress: -3})
	got, _ = tr.Get(ctx, task.ID)
	assert.Equal(t, 0.0, got.Progress)
}

func TestUploadOutcomes(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		wantStatus  models.TaskStatus
		wantMessage string
	}{
		{"rejected", &backend.RejectedError{StatusCode: 400, Message: "Campaign not found"}, models.TaskFailed, "Campaign not found"},
		{"transport failure", errors.New("connection refused"), models.TaskFailed, MsgCreateFailed},
		{"aborted", context.Canceled, models.TaskCanceled, MsgUploadCanceled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr, _ := newTracker(t, &fakeBackend{create: func(context.Context, *models.Submission) error { return tt.err }})

			task, err := tr.Submit(context.Background(), submission("s1"))
			require.NoError(t, err)

			got := waitStatus(t, tr, task.ID, tt.wantStatus)
			assert.Equal(t, tt.wantMessage, got.Message)
		})
	}
}

func TestErrorEventAbortsUpload(t *testing.T) {
	ctx := context.Background()
	aborted := make(chan struct{})
	tr, _ := newTracker(t, &fakeBackend{create: func(ctx context.Context, sub *models.Submission) error {
		<-ctx.Done()
		close(aborted)
		return ctx.Err()
	}})

	task, err := tr.Submit(ctx, submission("s1"))
	require.NoError(t, err)
	require.True(t, tr.HandleEvent(ctx, models.PushEvent{Type: models.EventError, TaskID: task.ID, Message: "Rate limited"}))

	select {
	case <-aborted:
	case <-time.After(2 * time.Second):
		t.Fatal("upload was not aborted")
	}

	// The late upload result does not overwrite the backend's verdict.
	got := waitStatus(t, tr, task.ID, models.TaskFailed)
	assert.Equal(t, "Rate limited", got.Message)
}

func TestOneTaskPerSession(t *testing.T) {
	ctx := context.Background()
	tr, _ := newTracker(t, &fakeBackend{create: blockUntilCanceled})

	first, err := tr.Submit(ctx, submission("s1"))
	require.NoError(t, err)

	_, err = tr.Submit(ctx, submission("s1"))
	assert.True(t, errors.Is(err, ErrTaskInFlight))

	_, err = tr.Submit(ctx, submission("s2"))
	assert.NoError(t, err)

	require.Equal(t, first.ID, tr.Active("s1").ID)
	require.True(t, tr.HandleEvent(ctx, models.PushEvent{Type: models.EventTaskComplete, TaskID: first.ID}))

	_, err = tr.Submit(ctx, submission("s1"))
	assert.NoError(t, err)
}

func TestCancelDuringUpload(t *testing.T) {
	ctx := context.Background()
	fb := &fakeBackend{create: blockUntilCanceled, cancelMsg: "Task task-x canceled"}
	tr, _ := newTracker(t, fb)

	task, err := tr.Submit(ctx, submission("s1"))
	require.NoError(t, err)

	msg, err := tr.Cancel(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, "Task task-x canceled", msg)
	assert.Equal(t, []string{task.ID}, fb.canceled)

	got := waitStatus(t, tr, task.ID, models.TaskCanceled)
	assert.Equal(t, "Task task-x canceled", got.Message)

	// Canceling again reports the recorded message without calling the backend.
	msg, err = tr.Cancel(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, "Task task-x canceled", msg)
	assert.Len(t, fb.canceled, 1)
}

func TestCancelBackendFailureStillCancelsLocally(t *testing.T) {
	ctx := context.Background()
	tr, _ := newTracker(t, &fakeBackend{create: blockUntilCanceled, cancelErr: errors.New("connection reset")})

	task, err := tr.Submit(ctx, submission("s1"))
	require.NoError(t, err)

	msg, err := tr.Cancel(ctx, task.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
	assert.Equal(t, MsgCancelFailed, msg)

	got := waitStatus(t, tr, task.ID, models.TaskCanceled)
	assert.Equal(t, MsgCancelFailed, got.Message)
}

func TestCancelUnknownTask(t *testing.T) {
	tr, _ := newTracker(t, &fakeBackend{})

	_, err := tr.Cancel(context.Background(), "task-missing")
	assert.True(t, errors.Is(err, ErrTaskNotFound))
}

func TestExpireStale(t *testing.T) {
	ctx := context.Background()
	tr, _ := newTracker(t, &fakeBackend{create: func(ctx context.Context, sub *models.Submission) error {
		if sub.SessionID == "slow" {
			return blockUntilCanceled(ctx, sub)
		}
		return nil
	}})

	uploading, err := tr.Submit(ctx, submission("slow"))
	require.NoError(t, err)
	running, err := tr.Submit(ctx, submission("quiet"))
	require.NoError(t, err)
	waitStatus(t, tr, running.ID, models.TaskRunning)

	assert.Equal(t, 0, tr.ExpireStale(time.Now().Add(-time.Hour)))
	assert.Equal(t, 1, tr.ExpireStale(time.Now().Add(time.Hour)))

	got := waitStatus(t, tr, running.ID, models.TaskFailed)
	assert.Equal(t, MsgTimedOut, got.Message)

	// An upload that is still sending is never stale.
	still, err := tr.Get(ctx, uploading.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskUploading, still.Status)
	assert.Equal(t, 0, tr.ExpireStale(time.Now().Add(time.Hour)))
}

func TestCancelStoredTask(t *testing.T) {
	ctx := context.Background()
	fb := &fakeBackend{cancelMsg: "Task task-left stopped"}
	tr, store := newTracker(t, fb)
	require.NoError(t, store.CreateTask(ctx, &models.Task{ID: "task-left", SessionID: "a", Status: models.TaskRunning}))

	msg, err := tr.Cancel(ctx, "task-left")
	require.NoError(t, err)
	assert.Equal(t, "Task task-left stopped", msg)
	assert.Equal(t, []string{"task-left"}, fb.canceled)

	stored, err := store.GetTask(ctx, "task-left")
	require.NoError(t, err)
	assert.Equal(t, models.TaskCanceled, stored.Status)
	assert.Equal(t, "Task task-left stopped", stored.Message)
	assert.NotNil(t, stored.FinishedAt)

	events, err := tr.Events(ctx, "task-left")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, models.EventCanceled, events[0].Type)

	// The task is finished now, so a second cancel stays local.
	msg, err = tr.Cancel(ctx, "task-left")
	require.NoError(t, err)
	assert.Equal(t, "Task task-left stopped", msg)
	assert.Len(t, fb.canceled, 1)
}

// gatedStore holds UpdateTask until release is closed
type gatedStore struct {
	*memory.Store
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (g *gatedStore) UpdateTask(ctx context.Context, task *models.Task) error {
	g.once.Do(func() { close(g.entered) })
	<-g.release
	return g.Store.UpdateTask(ctx, task)
}

func TestSlowStoreDoesNotBlockReads(t *testing.T) {
	ctx := context.Background()
	mem := memory.New()
	require.NoError(t, mem.CreateTask(ctx, &models.Task{ID: "task-slow", SessionID: "a", Status: models.TaskRunning}))
	store := &gatedStore{Store: mem, entered: make(chan struct{}), release: make(chan struct{})}
	tr := New(store, mem, &fakeBackend{})

	restored, err := tr.Restore(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, restored)

	done := make(chan bool)
	go func() {
		done <- tr.HandleEvent(ctx, models.PushEvent{Type: models.EventTaskComplete, TaskID: "task-slow"})
	}()
	<-store.entered

	// The write is stuck, yet readers see the finished task.
	got, err := tr.Get(ctx, "task-slow")
	require.NoError(t, err)
	assert.Equal(t, models.TaskCompleted, got.Status)
	assert.Nil(t, tr.Active("a"))
	assert.Equal(t, 0, tr.ActiveCount())

	close(store.release)
	assert.True(t, <-done)

	stored, err := mem.GetTask(ctx, "task-slow")
	require.NoError(t, err)
	assert.Equal(t, models.TaskCompleted, stored.Status)
	require.NoError(t, tr.Shutdown(ctx))
}

func TestShutdownCancelsUploads(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	tr := New(store, store, &fakeBackend{create: blockUntilCanceled})

	task, err := tr.Submit(ctx, submission("s1"))
	require.NoError(t, err)

	shutdownCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	require.NoError(t, tr.Shutdown(shutdownCtx))

	stored, err := store.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskCanceled, stored.Status)
	assert.Equal(t, MsgUploadCanceled, stored.Message)

	_, err = tr.Submit(ctx, submission("s2"))
	assert.True(t, errors.Is(err, ErrShuttingDown))
}

func TestRestore(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	require.NoError(t, store.CreateTask(ctx, &models.Task{ID: "task-running", SessionID: "a", Status: models.TaskRunning}))
	require.NoError(t, store.CreateTask(ctx, &models.Task{ID: "task-upload", SessionID: "b", Status: models.TaskUploading}))
	require.NoError(t, store.CreateTask(ctx, &models.Task{ID: "task-done", SessionID: "c", Status: models.TaskCompleted}))

	tr, _ := newTracker(t, &fakeBackend{})
	tr.store = store

	restored, err := tr.Restore(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, restored)

	lost, err := store.GetTask(ctx, "task-upload")
	require.NoError(t, err)
	assert.Equal(t, models.TaskFailed, lost.Status)
	assert.Equal(t, MsgUploadLost, lost.Message)

	assert.True(t, tr.HandleEvent(ctx, models.PushEvent{Type: models.EventTaskComplete, TaskID: "task-running"}))
	done, err := store.GetTask(ctx, "task-running")
	require.NoError(t, err)
	assert.Equal(t, models.TaskCompleted, done.Status)
}

func TestSlowSubscriberKeepsLatestUpdate(t *testing.T) {
	ctx := context.Background()
	tr, _ := newTracker(t, &fakeBackend{create: blockUntilCanceled})

	task, err := tr.Submit(ctx, submission("s1"))
	require.NoError(t, err)

	updates, unsubscribe := tr.Subscribe(task.ID)
	defer unsubscribe()

	for i := 1; i <= 3*subscriberBuffer; i++ {
		tr.HandleEvent(ctx, models.PushEvent{Type: models.EventProgress, TaskID: task.ID, Progress: float64(i)})
	}

	var received []models.TaskUpdate
	for len(updates) > 0 {
		received = append(received, <-updates)
	}
	require.Len(t, received, subscriberBuffer)
	assert.Equal(t, float64(3*subscriberBuffer), received[len(received)-1].Task.Progress)
}

func TestSubscribeFinishedTaskIsClosed(t *testing.T) {
	tr, _ := newTracker(t, &fakeBackend{})

	updates, unsubscribe := tr.Subscribe("task-unknown")
	defer unsubscribe()

	_, open := <-updates
	assert.False(t, open)
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	ctx := context.Background()
	tr, _ := newTracker(t, &fakeBackend{create: blockUntilCanceled})

	task, err := tr.Submit(ctx, submission("s1"))
	require.NoError(t, err)

	updates, unsubscribe := tr.Subscribe(task.ID)
	unsubscribe()
	unsubscribe()

	_, open := <-updates
	assert.False(t, open)
	assert.True(t, tr.HandleEvent(ctx, models.PushEvent{Type: models.EventProgress, TaskID: task.ID, Progress: 5}))
}

func TestSpoolDirRemovedAfterUpload(t *testing.T) {
	spool := filepath.Join(t.TempDir(), "spool")
	require.NoError(t, os.MkdirAll(spool, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(spool, "a.mp4"), []byte("x"), 0o644))

	tr, _ := newTracker(t, &fakeBackend{})
	sub := submission("s1")
	sub.SpoolDir = spool

	task, err := tr.Submit(context.Background(), sub)
	require.NoError(t, err)
	waitStatus(t, tr, task.ID, models.TaskRunning)

	require.Eventually(t, func() bool {
		_, err := os.Stat(spool)
		return os.IsNotExist(err)
	}, 2*time.Second, 5*time.Millisecond)
}

func TestListDelegatesToStore(t *testing.T) {
	ctx := context.Background()
	tr, _ := newTracker(t, &fakeBackend{})

	_, err := tr.Submit(ctx, submission("s1"))
	require.NoError(t, err)
	_, err = tr.Submit(ctx, submission("s2"))
	require.NoError(t, err)

	tasks, err := tr.List(ctx, shared.TaskFilter{SessionID: "s2"})
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "s2", tasks[0].SessionID)
}
