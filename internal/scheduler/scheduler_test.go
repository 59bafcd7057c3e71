package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AI2HU/fbads/internal/config"
)

type recorder struct {
	mu       sync.Mutex
	expired  []time.Time
	pruned   []time.Time
	swept    []time.Time
	pruneErr error
}

func (r *recorder) ExpireStale(cutoff time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.expired = append(r.expired, cutoff)
	return 1
}

func (r *recorder) PruneHistory(ctx context.Context, before time.Time) (int, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pruned = append(r.pruned, before)
	return 2, 3, r.pruneErr
}

func (r *recorder) Sweep(cutoff time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.swept = append(r.swept, cutoff)
	return 0
}

func (r *recorder) reaps() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.expired)
}

func testConfig() config.TaskConfig {
	return config.TaskConfig{
		StaleAfter:    30 * time.Minute,
		ReapSchedule:  "@every 1s",
		Retention:     24 * time.Hour,
		PruneSchedule: "@daily",
		SessionIdle:   time.Hour,
	}
}

func TestRunOnceUsesConfiguredWindows(t *testing.T) {
	rec := &recorder{}
	s := New(testConfig(), rec, rec, rec)

	before := time.Now()
	require.NoError(t, s.RunOnce(context.Background()))

	require.Len(t, rec.expired, 1)
	require.Len(t, rec.pruned, 1)
	require.Len(t, rec.swept, 1)
	assert.WithinDuration(t, before.Add(-30*time.Minute), rec.expired[0], time.Second)
	assert.WithinDuration(t, before.Add(-24*time.Hour), rec.pruned[0], time.Second)
	assert.WithinDuration(t, before.Add(-time.Hour), rec.swept[0], time.Second)
}

func TestRunOncePropagatesPruneError(t *testing.T) {
	rec := &recorder{pruneErr: errors.New("disk full")}
	s := New(testConfig(), rec, rec, rec)

	err := s.RunOnce(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
}

func TestStartRunsReapJob(t *testing.T) {
	rec := &recorder{}
	s := New(testConfig(), rec, rec, rec)

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	assert.Error(t, s.Start(context.Background()), "second start is rejected")

	require.Eventually(t, func() bool { return rec.reaps() > 0 }, 3*time.Second, 50*time.Millisecond)
}

func TestStartRejectsBadSchedule(t *testing.T) {
	cfg := testConfig()
	cfg.PruneSchedule = "whenever"
	s := New(cfg, nil, nil, nil)

	err := s.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "prune")
}

func TestStopIsIdempotent(t *testing.T) {
	s := New(testConfig(), nil, nil, nil)
	s.Stop()

	require.NoError(t, s.Start(context.Background()))
	s.Stop()
	s.Stop()

	// Restarting registers the jobs again.
	require.NoError(t, s.Start(context.Background()))
	s.Stop()
}
