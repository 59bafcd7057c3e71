// Package tracker follows campaign creation tasks from submission to a
// terminal state. A task is uploaded to the backend on its own goroutine,
// then advanced by events from the push channel, and can be canceled at any
// point before it finishes.
package tracker

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AI2HU/fbads/internal/backend"
	"github.com/AI2HU/fbads/internal/logger"
	"github.com/AI2HU/fbads/internal/models"
	"github.com/AI2HU/fbads/internal/shared"
)

var (
	ErrTaskNotFound      = errors.New("task not found")
	ErrTaskInFlight      = errors.New("a task is already in progress for this session")
	ErrInvalidSubmission = errors.New("invalid submission")
	ErrShuttingDown      = errors.New("tracker is shutting down")
)

// Messages recorded on tasks that end locally
const (
	MsgUploadCanceled  = "Upload canceled by user"
	MsgCreateFailed    = "An error occurred while creating the campaign"
	MsgCancelFailed    = "An error occurred while canceling the upload"
	MsgTimedOut        = "timed out waiting for the backend"
	MsgUploadLost      = "upload interrupted by a restart"
	defaultCancelReply = "Task canceled"
)

// Backend is the part of the backend client the tracker needs
type Backend interface {
	CreateCampaign(ctx context.Context, sub *models.Submission) error
	CancelTask(ctx context.Context, taskID string) (string, error)
}

// Store persists task records
type Store interface {
	CreateTask(ctx context.Context, task *models.Task) error
	GetTask(ctx context.Context, id string) (*models.Task, error)
	ListTasks(ctx context.Context, filter shared.TaskFilter) ([]*models.Task, error)
	UpdateTask(ctx context.Context, task *models.Task) error
}

// Archive keeps the event timeline of each task
type Archive interface {
	AppendEvent(ctx context.Context, event *models.TaskEvent) error
	ListEvents(ctx context.Context, taskID string) ([]*models.TaskEvent, error)
}

// run is the in-memory state of a non-terminal task
type run struct {
	task      *models.Task
	abort     context.CancelFunc
	uploading bool
	canceling bool
}

// write is a store or archive write queued while t.mu is held
type write struct {
	task  *models.Task
	event *models.TaskEvent
}

// Tracker owns every non-terminal task
type Tracker struct {
	store   Store
	archive Archive
	backend Backend

	mu     sync.Mutex
	active map[string]*run
	subs   map[string]map[*subscriber]struct{}
	closed bool

	// pending holds writes in commit order until flush persists them.
	// settling keeps finished tasks readable until they reach the store.
	pending  []write
	settling map[string]*models.Task
	flushMu  sync.Mutex

	wg sync.WaitGroup
}

// New creates a tracker
func New(store Store, archive Archive, b Backend) *Tracker {
	return &Tracker{
		store:    store,
		archive:  archive,
		backend:  b,
		active:   make(map[string]*run),
		subs:     make(map[string]map[*subscriber]struct{}),
		settling: make(map[string]*models.Task),
	}
}

const idAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// NewID returns a task id of the form task-xxxxxxxxx
func NewID() string {
	id := make([]byte, 0, 9)
	buf := make([]byte, 16)
	for len(id) < 9 {
		if _, err := rand.Read(buf); err != nil {
			panic(fmt.Sprintf("crypto/rand failed: %v", err))
		}
		for _, b := range buf {
			// 252 is the largest multiple of 36 below 256.
			if b >= 252 || len(id) == 9 {
				continue
			}
			id = append(id, idAlphabet[b%36])
		}
	}
	return "task-" + string(id)
}

func validate(sub *models.Submission) error {
	switch sub.Mode {
	case models.ModeNewCampaign:
		if sub.CampaignName == "" {
			return fmt.Errorf("%w: campaign name is required", ErrInvalidSubmission)
		}
	case models.ModeExistingCampaign:
		if sub.CampaignID == "" {
			return fmt.Errorf("%w: campaign id is required", ErrInvalidSubmission)
		}
	default:
		return fmt.Errorf("%w: unknown campaign mode %q", ErrInvalidSubmission, sub.Mode)
	}
	if len(sub.Files) == 0 {
		return fmt.Errorf("%w: at least one file is required", ErrInvalidSubmission)
	}
	return nil
}

// Submit records a new task and starts uploading it. It returns as soon as
// the task is recorded; progress is reported through Subscribe.
func (t *Tracker) Submit(ctx context.Context, sub *models.Submission) (*models.Task, error) {
	if err := validate(sub); err != nil {
		return nil, err
	}
	if sub.TaskID == "" {
		sub.TaskID = NewID()
	}

	now := time.Now().UTC()
	task := &models.Task{
		ID:           sub.TaskID,
		SessionID:    sub.SessionID,
		Mode:         sub.Mode,
		CampaignName: sub.CampaignName,
		CampaignID:   sub.CampaignID,
		Status:       models.TaskUploading,
		FileCount:    len(sub.Files),
		TotalBytes:   sub.TotalBytes(),
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	uploadCtx, abort := context.WithCancel(context.Background())
	r := &run{task: task, abort: abort, uploading: true}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		abort()
		return nil, ErrShuttingDown
	}
	if _, exists := t.active[task.ID]; exists {
		t.mu.Unlock()
		abort()
		return nil, fmt.Errorf("%w: duplicate task id %s", ErrInvalidSubmission, task.ID)
	}
	if sub.SessionID != "" {
		for _, other := range t.active {
			if other.task.SessionID == sub.SessionID {
				t.mu.Unlock()
				abort()
				return nil, ErrTaskInFlight
			}
		}
	}
	t.active[task.ID] = r
	t.mu.Unlock()

	if err := t.store.CreateTask(ctx, task.Clone()); err != nil {
		t.mu.Lock()
		delete(t.active, task.ID)
		t.mu.Unlock()
		abort()
		return nil, fmt.Errorf("failed to record task: %w", err)
	}

	logger.Info("Submitted task %s (%d files, %d bytes)", task.ID, task.FileCount, task.TotalBytes)

	t.wg.Add(1)
	go t.upload(uploadCtx, sub)

	return task.Clone(), nil
}

func (t *Tracker) upload(ctx context.Context, sub *models.Submission) {
	defer t.wg.Done()
	defer func() {
		if sub.SpoolDir != "" {
			if err := os.RemoveAll(sub.SpoolDir); err != nil {
				logger.Warning("Failed to remove spool dir %s: %v", sub.SpoolDir, err)
			}
		}
	}()

	err := t.backend.CreateCampaign(ctx, sub)
	t.finishUpload(sub.TaskID, err)
	t.flush(context.Background())
}

func (t *Tracker) finishUpload(id string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	r, ok := t.active[id]
	if !ok {
		return
	}
	r.uploading = false
	r.abort()

	task := r.task
	var rejected *backend.RejectedError
	switch {
	case err == nil:
		logger.Info("Upload of task %s accepted by backend", id)
		if task.Status != models.TaskUploading {
			return
		}
		task.Status = models.TaskRunning
		t.commit(r, models.EventProgress)
	case r.canceling:
		// Cancel finishes the task once the backend has answered.
		return
	case errors.Is(err, context.Canceled):
		logger.Info("Upload of task %s canceled", id)
		t.endLocally(r, models.TaskCanceled, models.EventCanceled, MsgUploadCanceled)
	case errors.As(err, &rejected):
		logger.Warning("Backend rejected task %s: %s", id, rejected.Message)
		t.endLocally(r, models.TaskFailed, models.EventUploadFailed, rejected.Message)
	default:
		logger.Error("Upload of task %s failed: %v", id, err)
		t.endLocally(r, models.TaskFailed, models.EventUploadFailed, MsgCreateFailed)
	}
}

// endLocally finishes a task for a reason that did not come from the push
// channel. Callers hold t.mu.
func (t *Tracker) endLocally(r *run, status models.TaskStatus, event models.EventType, message string) {
	r.uploading = false
	r.abort()
	r.task.Status = status
	r.task.Message = message
	t.archiveEvent(&models.TaskEvent{TaskID: r.task.ID, Type: event, Message: message})
	t.commit(r, event)
}

// HandleEvent applies a push channel event. Events for tasks that are unknown
// or already finished are ignored and reported as not applied.
func (t *Tracker) HandleEvent(ctx context.Context, ev models.PushEvent) bool {
	t.mu.Lock()
	applied := t.applyEvent(ev)
	t.mu.Unlock()

	if applied {
		t.flush(ctx)
	}
	return applied
}

func (t *Tracker) applyEvent(ev models.PushEvent) bool {
	r, ok := t.active[ev.TaskID]
	if !ok {
		logger.Debug("Ignoring %s event for untracked task %s", ev.Type, ev.TaskID)
		return false
	}

	task := r.task
	switch ev.Type {
	case models.EventProgress:
		task.Progress = clampProgress(ev.Progress)
		task.Step = ev.Step
		if task.Status == models.TaskUploading {
			task.Status = models.TaskRunning
		}
	case models.EventTaskComplete:
		task.Status = models.TaskCompleted
		task.Progress = 100
		if ev.Message != "" {
			task.Message = ev.Message
		}
		r.abort()
	case models.EventError:
		task.Status = models.TaskFailed
		task.Message = ev.Message
		r.abort()
	default:
		logger.Debug("Ignoring unsupported event %s for task %s", ev.Type, ev.TaskID)
		return false
	}

	t.archiveEvent(&models.TaskEvent{
		TaskID:   ev.TaskID,
		Type:     ev.Type,
		Progress: ev.Progress,
		Step:     ev.Step,
		Message:  ev.Message,
	})
	t.commit(r, ev.Type)
	return true
}

func clampProgress(p float64) float64 {
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	default:
		return p
	}
}

// Cancel aborts the local upload, if any, and asks the backend to stop the
// task. The returned message is what the user should be shown. When the
// backend cannot be reached the task is still canceled locally and the
// error is returned alongside the message. Unfinished tasks this tracker does
// not follow, such as ones left in the store by another process, are
// canceled on the backend too.
func (t *Tracker) Cancel(ctx context.Context, id string) (string, error) {
	t.mu.Lock()
	r, following := t.active[id]
	if following {
		r.canceling = true
		if r.uploading {
			r.abort()
		}
	}
	t.mu.Unlock()

	var stored *models.Task
	if !following {
		task, err := t.Get(ctx, id)
		if err != nil {
			return "", err
		}
		if task.Status.IsTerminal() {
			return task.Message, nil
		}
		stored = task
	}

	message, cancelErr := t.cancelOnBackend(ctx, id)

	t.mu.Lock()
	if r, ok := t.active[id]; ok {
		t.endLocally(r, models.TaskCanceled, models.EventCanceled, message)
	} else if stored != nil {
		t.endLocally(&run{task: stored, abort: func() {}}, models.TaskCanceled, models.EventCanceled, message)
	} else {
		// A terminal event won the race.
		t.mu.Unlock()
		return message, cancelErr
	}
	t.mu.Unlock()
	t.flush(ctx)

	logger.Info("Canceled task %s: %s", id, message)
	return message, cancelErr
}

func (t *Tracker) cancelOnBackend(ctx context.Context, id string) (string, error) {
	if t.backend == nil {
		return defaultCancelReply, nil
	}
	message, err := t.backend.CancelTask(ctx, id)
	if err != nil {
		logger.Error("Backend failed to cancel task %s: %v", id, err)
		return MsgCancelFailed, fmt.Errorf("failed to cancel task on backend: %w", err)
	}
	if message == "" {
		message = defaultCancelReply
	}
	return message, nil
}

// commit stamps and publishes the task of r and queues it for the store.
// Terminal tasks leave the active set. Callers hold t.mu and call flush once
// they release it.
func (t *Tracker) commit(r *run, event models.EventType) {
	task := r.task
	now := time.Now().UTC()
	task.UpdatedAt = now
	if task.Status.IsTerminal() {
		task.FinishedAt = &now
	}
	snapshot := task.Clone()
	if task.Status.IsTerminal() {
		delete(t.active, task.ID)
		t.settling[task.ID] = snapshot
	}
	t.pending = append(t.pending, write{task: snapshot})

	t.publish(models.TaskUpdate{Event: event, Task: task.Clone()})
}

// archiveEvent stamps an event and queues it for the archive. Callers hold t.mu.
func (t *Tracker) archiveEvent(event *models.TaskEvent) {
	if t.archive == nil {
		return
	}
	event.ID = uuid.NewString()
	event.ReceivedAt = time.Now().UTC()
	t.pending = append(t.pending, write{event: event})
}

// flush persists queued writes in the order they were committed. It returns
// once every write queued before the call has been attempted.
func (t *Tracker) flush(ctx context.Context) {
	t.flushMu.Lock()
	defer t.flushMu.Unlock()

	t.mu.Lock()
	batch := t.pending
	t.pending = nil
	t.mu.Unlock()
	if len(batch) == 0 {
		return
	}

	base := context.WithoutCancel(ctx)
	for _, w := range batch {
		wctx, cancel := context.WithTimeout(base, 5*time.Second)
		if w.event != nil {
			if err := t.archive.AppendEvent(wctx, w.event); err != nil {
				logger.Warning("Failed to archive %s event for task %s: %v", w.event.Type, w.event.TaskID, err)
			}
		} else if err := t.store.UpdateTask(wctx, w.task.Clone()); err != nil {
			logger.Error("Failed to persist task %s: %v", w.task.ID, err)
		}
		cancel()
	}

	t.mu.Lock()
	for _, w := range batch {
		if w.task != nil && t.settling[w.task.ID] == w.task {
			delete(t.settling, w.task.ID)
		}
	}
	t.mu.Unlock()
}

// Get returns a snapshot of a task
func (t *Tracker) Get(ctx context.Context, id string) (*models.Task, error) {
	t.mu.Lock()
	if r, ok := t.active[id]; ok {
		task := r.task.Clone()
		t.mu.Unlock()
		return task, nil
	}
	if task, ok := t.settling[id]; ok {
		task = task.Clone()
		t.mu.Unlock()
		return task, nil
	}
	t.mu.Unlock()

	task, err := t.store.GetTask(ctx, id)
	if errors.Is(err, shared.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return task, nil
}

// Active returns the non-terminal task of a session, or nil
func (t *Tracker) Active(sessionID string) *models.Task {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, r := range t.active {
		if r.task.SessionID == sessionID {
			return r.task.Clone()
		}
	}
	return nil
}

// ActiveCount returns how many tasks are not finished
func (t *Tracker) ActiveCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.active)
}

// List returns stored tasks matching the filter
func (t *Tracker) List(ctx context.Context, filter shared.TaskFilter) ([]*models.Task, error) {
	return t.store.ListTasks(ctx, filter)
}

// Events returns the archived timeline of a task
func (t *Tracker) Events(ctx context.Context, id string) ([]*models.TaskEvent, error) {
	if t.archive == nil {
		return nil, nil
	}
	return t.archive.ListEvents(ctx, id)
}

// ExpireStale fails every running task with no push event since cutoff.
// Uploads still in progress are left alone however long they take.
func (t *Tracker) ExpireStale(cutoff time.Time) int {
	t.mu.Lock()
	expired := 0
	for id, r := range t.active {
		if r.canceling || r.uploading || !r.task.UpdatedAt.Before(cutoff) {
			continue
		}
		t.endLocally(r, models.TaskFailed, models.EventError, MsgTimedOut)
		logger.Warning("Task %s timed out", id)
		expired++
	}
	t.mu.Unlock()

	t.flush(context.Background())
	return expired
}

// Restore adopts the non-terminal tasks left in the store by a previous run.
// Tasks that were still uploading cannot resume and are failed; the others
// keep following push events.
func (t *Tracker) Restore(ctx context.Context) (int, error) {
	tasks, err := t.store.ListTasks(ctx, shared.TaskFilter{
		Statuses: []models.TaskStatus{models.TaskUploading, models.TaskRunning},
	})
	if err != nil {
		return 0, fmt.Errorf("failed to load unfinished tasks: %w", err)
	}

	t.mu.Lock()
	restored := 0
	for _, task := range tasks {
		if _, exists := t.active[task.ID]; exists {
			continue
		}
		r := &run{task: task, abort: func() {}}
		if task.Status == models.TaskUploading {
			t.endLocally(r, models.TaskFailed, models.EventUploadFailed, MsgUploadLost)
			continue
		}
		t.active[task.ID] = r
		restored++
	}
	t.mu.Unlock()

	t.flush(ctx)
	return restored, nil
}

// Shutdown aborts running uploads and waits for their goroutines
func (t *Tracker) Shutdown(ctx context.Context) error {
	t.mu.Lock()
	t.closed = true
	for _, r := range t.active {
		if r.uploading {
			r.abort()
		}
	}
	t.mu.Unlock()

	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("uploads still running: %w", ctx.Err())
	}
}
