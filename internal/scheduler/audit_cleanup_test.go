package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrlokans/authview/internal/tasks"
)

type recordingQueue struct {
	mu    sync.Mutex
	tasks []tasks.PurgeAuditTrailTask
	err   error
}

func (q *recordingQueue) EnqueueAuditPurge(_ context.Context, task tasks.PurgeAuditTrailTask) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = append(q.tasks, task)
	return q.err
}

type recordingPurger struct {
	calls  int
	cutoff time.Time
}

func (p *recordingPurger) PurgeBefore(cutoff time.Time) (int64, error) {
	p.calls++
	p.cutoff = cutoff
	return 0, nil
}

var schedulerNow = time.Date(2024, 5, 31, 3, 0, 0, 0, time.UTC)

func TestValidateCronSchedule(t *testing.T) {
	assert.NoError(t, ValidateCronSchedule("0 3 * * *"))
	assert.NoError(t, ValidateCronSchedule("*/15 * * * *"))
	assert.Error(t, ValidateCronSchedule("every day"))
	assert.Error(t, ValidateCronSchedule("0 0 3 * * *"))
}

func TestAuditCleanupScheduler_RunNowEnqueues(t *testing.T) {
	queue := &recordingQueue{}
	purger := &recordingPurger{}
	s := NewAuditCleanupScheduler("0 3 * * *", 14, queue, purger, nil)
	s.now = func() time.Time { return schedulerNow }

	s.RunNow(context.Background())

	require.Len(t, queue.tasks, 1)
	assert.Equal(t, 14, queue.tasks[0].RetentionDays)
	assert.Equal(t, schedulerNow.AddDate(0, 0, -14), queue.tasks[0].Cutoff)
	assert.Zero(t, purger.calls, "purge runs through the queue")
}

func TestAuditCleanupScheduler_RunNowEnqueueError(t *testing.T) {
	queue := &recordingQueue{err: errors.New("queue closed")}
	s := NewAuditCleanupScheduler("0 3 * * *", 14, queue, nil, nil)

	assert.NotPanics(t, func() { s.RunNow(context.Background()) })
}

func TestAuditCleanupScheduler_RunNowInline(t *testing.T) {
	purger := &recordingPurger{}
	s := NewAuditCleanupScheduler("0 3 * * *", 2, nil, purger, nil)
	s.now = func() time.Time { return schedulerNow }

	s.RunNow(context.Background())

	assert.Equal(t, 1, purger.calls)
	assert.Equal(t, schedulerNow.Add(-48*time.Hour), purger.cutoff)
}

func TestAuditCleanupScheduler_StartStop(t *testing.T) {
	s := NewAuditCleanupScheduler("0 3 * * *", 30, &recordingQueue{}, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, s.Start(ctx))
	assert.True(t, s.IsRunning())
	next := s.NextRun()
	require.NotNil(t, next)
	assert.Equal(t, 3, next.Hour())

	s.Stop()
	assert.False(t, s.IsRunning())
	assert.Nil(t, s.NextRun())
}

func TestAuditCleanupScheduler_StopsOnContextCancel(t *testing.T) {
	s := NewAuditCleanupScheduler("*/5 * * * *", 30, &recordingQueue{}, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Start(ctx))
	cancel()

	assert.Eventually(t, func() bool { return !s.IsRunning() }, time.Second, 10*time.Millisecond)
}

func TestAuditCleanupScheduler_InvalidSchedule(t *testing.T) {
	s := NewAuditCleanupScheduler("nope", 30, nil, nil, nil)
	assert.Error(t, s.Start(context.Background()))
	assert.False(t, s.IsRunning())
}
