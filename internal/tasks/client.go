// Package tasks runs background jobs on a backlite queue kept in its own
// SQLite file next to the application database.
package tasks

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/mikestefanello/backlite"
	"go.uber.org/zap"

	"github.com/mrlokans/authview/internal/logging"
)

// Config sizes the worker pool. Zero values take the defaults.
type Config struct {
	Workers         int           // default 2
	ReleaseAfter    time.Duration // a claimed task is handed out again after this, default 15m
	CleanupInterval time.Duration // how often finished tasks are purged, default 1h
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.ReleaseAfter <= 0 {
		c.ReleaseAfter = 15 * time.Minute
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = time.Hour
	}
	return c
}

// Client owns the queue database and the backlite dispatcher.
type Client struct {
	queue   *backlite.Client
	db      *sql.DB
	workers int
	logger  *zap.Logger
	started atomic.Bool
}

// DatabasePath returns where the queue lives for a given application
// database: "app.db" becomes "app-tasks.db".
func DatabasePath(mainDBPath string) string {
	ext := filepath.Ext(mainDBPath)
	return strings.TrimSuffix(mainDBPath, ext) + "-tasks" + ext
}

// NewClient opens (and installs the schema of) the queue database that
// belongs to mainDBPath.
func NewClient(mainDBPath string, cfg Config, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()

	db, err := sql.Open("sqlite3", DatabasePath(mainDBPath)+"?_journal=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open tasks database: %w", err)
	}
	db.SetMaxOpenConns(cfg.Workers + 2)
	db.SetConnMaxLifetime(time.Hour)

	queue, err := backlite.NewClient(backlite.ClientConfig{
		DB:              db,
		NumWorkers:      cfg.Workers,
		ReleaseAfter:    cfg.ReleaseAfter,
		CleanupInterval: cfg.CleanupInterval,
		Logger:          logging.NewTaskLogger(logger),
	})
	if err == nil {
		err = queue.Install()
	}
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set up task queue: %w", err)
	}

	return &Client{
		queue:   queue,
		db:      db,
		workers: cfg.Workers,
		logger:  logger.Named("tasks"),
	}, nil
}

// Register adds queues. It must be called before Start.
func (c *Client) Register(queues ...backlite.Queue) {
	for _, q := range queues {
		c.queue.Register(q)
	}
}

// Start dispatches tasks until ctx is cancelled or Stop is called. Only the
// first call has an effect.
func (c *Client) Start(ctx context.Context) {
	if !c.started.CompareAndSwap(false, true) {
		return
	}
	c.logger.Info("task queue started", zap.Int("workers", c.workers))
	c.queue.Start(ctx)
}

// Stop waits for running tasks until ctx expires. It reports whether every
// worker finished in time.
func (c *Client) Stop(ctx context.Context) bool {
	if !c.started.Load() {
		return true
	}

	finished := c.queue.Stop(ctx)
	if finished {
		c.logger.Info("task queue stopped")
	} else {
		c.logger.Warn("task queue stop timed out, running tasks were abandoned")
	}
	return finished
}

// Close releases the queue database. Call it after Stop.
func (c *Client) Close() error {
	return c.db.Close()
}

// Add starts an operation to enqueue tasks.
func (c *Client) Add(tasks ...backlite.Task) *backlite.TaskAddOp {
	return c.queue.Add(tasks...)
}

// EnqueueAuditPurge puts one audit trail purge on the queue.
func (c *Client) EnqueueAuditPurge(ctx context.Context, task PurgeAuditTrailTask) error {
	ids, err := c.queue.Add(task).Ctx(ctx).Save()
	if err != nil {
		return fmt.Errorf("enqueue audit purge: %w", err)
	}
	c.logger.Debug("audit purge enqueued", zap.Strings("task_ids", ids), zap.Time("cutoff", task.Cutoff))
	return nil
}
