package tracker

import (
	"sync"

	"github.com/AI2HU/fbads/internal/models"
)

const subscriberBuffer = 16

type subscriber struct {
	ch chan models.TaskUpdate
}

// send never blocks. When the buffer is full the oldest update is dropped so
// the newest one always gets through.
func (s *subscriber) send(u models.TaskUpdate) {
	for {
		select {
		case s.ch <- u:
			return
		default:
		}
		select {
		case <-s.ch:
		default:
		}
	}
}

// Subscribe returns the updates of a task and a function that stops them.
// The channel is closed after the terminal update or on unsubscribe. For a
// task that is not running the channel is closed immediately.
func (t *Tracker) Subscribe(taskID string) (<-chan models.TaskUpdate, func()) {
	sub := &subscriber{ch: make(chan models.TaskUpdate, subscriberBuffer)}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.active[taskID]; !ok {
		close(sub.ch)
		return sub.ch, func() {}
	}

	if t.subs[taskID] == nil {
		t.subs[taskID] = make(map[*subscriber]struct{})
	}
	t.subs[taskID][sub] = struct{}{}

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			t.mu.Lock()
			defer t.mu.Unlock()
			if _, ok := t.subs[taskID][sub]; ok {
				delete(t.subs[taskID], sub)
				if len(t.subs[taskID]) == 0 {
					delete(t.subs, taskID)
				}
				close(sub.ch)
			}
		})
	}
}

// publish fans an update out to the task's subscribers. Callers hold t.mu.
func (t *Tracker) publish(u models.TaskUpdate) {
	subs := t.subs[u.Task.ID]
	for sub := range subs {
		sub.send(u)
	}
	if u.Task.Status.IsTerminal() {
		for sub := range subs {
			close(sub.ch)
		}
		delete(t.subs, u.Task.ID)
	}
}
