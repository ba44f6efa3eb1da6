package tasks

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mikestefanello/backlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	client, err := NewClient(filepath.Join(t.TempDir(), "app.db"), Config{Workers: 1}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

// startClient runs the dispatcher until the test ends.
func startClient(t *testing.T, client *Client) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	go client.Start(ctx)
	t.Cleanup(func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer stopCancel()
		client.Stop(stopCtx)
		cancel()
	})
}

func TestDatabasePath(t *testing.T) {
	assert.Equal(t, "data/app-tasks.db", DatabasePath("data/app.db"))
	assert.Equal(t, "./authview-tasks.db", DatabasePath("./authview.db"))
	assert.Equal(t, "queue-tasks", DatabasePath("queue"))
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	assert.Equal(t, 2, cfg.Workers)
	assert.Equal(t, 15*time.Minute, cfg.ReleaseAfter)
	assert.Equal(t, time.Hour, cfg.CleanupInterval)

	cfg = Config{Workers: 4, ReleaseAfter: time.Minute}.withDefaults()
	assert.Equal(t, 4, cfg.Workers)
	assert.Equal(t, time.Minute, cfg.ReleaseAfter)
}

func TestNewClient_CreatesQueueDatabase(t *testing.T) {
	dir := t.TempDir()
	client, err := NewClient(filepath.Join(dir, "app.db"), Config{}, nil)
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(dir, "app-tasks.db"))
	assert.NoError(t, err)
	assert.NoError(t, client.Close())
}

func TestClient_StopBeforeStart(t *testing.T) {
	client := newTestClient(t)
	assert.True(t, client.Stop(context.Background()))
}

func TestClient_StartStop(t *testing.T) {
	client := newTestClient(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go client.Start(ctx)
	go client.Start(ctx) // second call is a no-op

	time.Sleep(50 * time.Millisecond)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer stopCancel()
	assert.True(t, client.Stop(stopCtx))
}

type purgerFunc func(time.Time) (int64, error)

func (f purgerFunc) PurgeBefore(cutoff time.Time) (int64, error) {
	return f(cutoff)
}

func TestNewPurgeAuditTrailTask(t *testing.T) {
	now := time.Date(2024, 5, 31, 3, 0, 0, 0, time.UTC)

	task := NewPurgeAuditTrailTask(now, 7)
	assert.Equal(t, time.Date(2024, 5, 24, 3, 0, 0, 0, time.UTC), task.Cutoff)
	assert.Equal(t, 7, task.RetentionDays)

	task = NewPurgeAuditTrailTask(now, 0)
	assert.Equal(t, DefaultAuditRetentionDays, task.RetentionDays)
	assert.Equal(t, time.Date(2024, 5, 1, 3, 0, 0, 0, time.UTC), task.Cutoff)
}

func TestPurgeAuditTrailTaskConfig(t *testing.T) {
	cfg := PurgeAuditTrailTask{}.Config()

	assert.Equal(t, "purge_auth_audit", cfg.Name)
	assert.Equal(t, 5, cfg.MaxAttempts)
	assert.Equal(t, 30*time.Second, cfg.Timeout)
	require.NotNil(t, cfg.Retention)
	assert.True(t, cfg.Retention.OnlyFailed)
}

func TestPurgeAuditTrailProcessor(t *testing.T) {
	cutoff := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		task     PurgeAuditTrailTask
		purgeErr error
		wantErr  bool
	}{
		{name: "purges before the cutoff", task: PurgeAuditTrailTask{Cutoff: cutoff, RetentionDays: 30}},
		{name: "propagates purge errors", task: PurgeAuditTrailTask{Cutoff: cutoff}, purgeErr: errors.New("database is locked"), wantErr: true},
		{name: "rejects a task without cutoff", task: PurgeAuditTrailTask{RetentionDays: 30}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got time.Time
			process := PurgeAuditTrailProcessor(purgerFunc(func(c time.Time) (int64, error) {
				got = c
				return 3, tt.purgeErr
			}), nil)

			err := process(context.Background(), tt.task)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.task.Cutoff, got)
		})
	}

	t.Run("requires a purger", func(t *testing.T) {
		process := PurgeAuditTrailProcessor(nil, nil)
		assert.Error(t, process(context.Background(), PurgeAuditTrailTask{Cutoff: cutoff}))
	})
}

func TestEnqueueAuditPurge_RunsOnWorker(t *testing.T) {
	client := newTestClient(t)

	done := make(chan time.Time, 1)
	client.Register(NewPurgeAuditTrailQueue(purgerFunc(func(cutoff time.Time) (int64, error) {
		done <- cutoff
		return 0, nil
	}), nil))
	startClient(t, client)

	task := NewPurgeAuditTrailTask(time.Date(2024, 5, 3, 0, 0, 0, 0, time.UTC), 2)
	require.NoError(t, client.EnqueueAuditPurge(context.Background(), task))

	select {
	case cutoff := <-done:
		assert.True(t, task.Cutoff.Equal(cutoff), "cutoff survives the queue: got %s", cutoff)
	case <-time.After(5 * time.Second):
		t.Fatal("purge task was not executed within timeout")
	}
}

type echoTask struct {
	Value string `json:"value"`
}

func (echoTask) Config() backlite.QueueConfig {
	return backlite.QueueConfig{Name: "echo", MaxAttempts: 1, Backoff: time.Second, Timeout: 5 * time.Second}
}

func TestAdd_CustomQueue(t *testing.T) {
	client := newTestClient(t)

	got := make(chan string, 1)
	client.Register(backlite.NewQueue(func(_ context.Context, task echoTask) error {
		got <- task.Value
		return nil
	}))
	startClient(t, client)

	ids, err := client.Add(echoTask{Value: "hello"}).Save()
	require.NoError(t, err)
	assert.Len(t, ids, 1)

	select {
	case v := <-got:
		assert.Equal(t, "hello", v)
	case <-time.After(5 * time.Second):
		t.Fatal("task was not executed within timeout")
	}
}
