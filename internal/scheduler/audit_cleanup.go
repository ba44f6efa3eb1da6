// Package scheduler runs periodic maintenance jobs on a cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/mrlokans/authview/internal/tasks"
)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ValidateCronSchedule checks a standard five-field cron expression.
func ValidateCronSchedule(schedule string) error {
	_, err := cronParser.Parse(schedule)
	return err
}

// PurgeEnqueuer puts an audit trail purge on the queue.
type PurgeEnqueuer interface {
	EnqueueAuditPurge(ctx context.Context, task tasks.PurgeAuditTrailTask) error
}

// AuditCleanupScheduler periodically purges the auth audit trail. With a
// task queue it enqueues a purge task; without one it purges inline.
type AuditCleanupScheduler struct {
	schedule      string
	retentionDays int
	queue         PurgeEnqueuer
	purger        tasks.AuditPurger
	logger        *zap.Logger
	now           func() time.Time

	cron       *cron.Cron
	entryID    cron.EntryID
	mu         sync.RWMutex
	isRunning  bool
	isCleaning bool
}

func NewAuditCleanupScheduler(schedule string, retentionDays int, queue PurgeEnqueuer, purger tasks.AuditPurger, logger *zap.Logger) *AuditCleanupScheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuditCleanupScheduler{
		schedule:      schedule,
		retentionDays: retentionDays,
		queue:         queue,
		purger:        purger,
		logger:        logger.Named("scheduler"),
		now:           time.Now,
		cron:          cron.New(cron.WithParser(cronParser)),
	}
}

// Start schedules the cleanup job. It stops when ctx is cancelled.
func (s *AuditCleanupScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return nil
	}

	if err := ValidateCronSchedule(s.schedule); err != nil {
		return fmt.Errorf("invalid cron schedule '%s': %w", s.schedule, err)
	}

	entryID, err := s.cron.AddFunc(s.schedule, func() {
		s.RunNow(context.Background())
	})
	if err != nil {
		return fmt.Errorf("failed to schedule audit cleanup: %w", err)
	}
	s.entryID = entryID

	s.cron.Start()
	s.isRunning = true

	s.logger.Info("audit cleanup scheduler started",
		zap.String("schedule", s.schedule),
		zap.Int("retention_days", s.retentionDays),
		zap.Time("next_run", s.cron.Entry(entryID).Next))

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	return nil
}

// Stop stops the scheduler and waits for a running job to finish.
func (s *AuditCleanupScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isRunning {
		return
	}

	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
	s.isRunning = false

	s.logger.Info("audit cleanup scheduler stopped")
}

// IsRunning returns whether the scheduler is active
func (s *AuditCleanupScheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// NextRun returns when the next cleanup will occur.
func (s *AuditCleanupScheduler) NextRun() *time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.isRunning {
		return nil
	}
	next := s.cron.Entry(s.entryID).Next
	return &next
}

// RunNow performs one cleanup. Overlapping runs are skipped.
func (s *AuditCleanupScheduler) RunNow(ctx context.Context) {
	s.mu.Lock()
	if s.isCleaning {
		s.mu.Unlock()
		s.logger.Info("audit cleanup skipped, already running")
		return
	}
	s.isCleaning = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.isCleaning = false
		s.mu.Unlock()
	}()

	task := tasks.NewPurgeAuditTrailTask(s.now(), s.retentionDays)

	if s.queue != nil {
		if err := s.queue.EnqueueAuditPurge(ctx, task); err != nil {
			s.logger.Error("failed to enqueue audit purge", zap.Error(err))
		}
		return
	}

	if s.purger == nil {
		return
	}
	if err := tasks.PurgeAuditTrailProcessor(s.purger, s.logger)(ctx, task); err != nil {
		s.logger.Error("audit purge failed", zap.Error(err))
	}
}
