package tasks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mikestefanello/backlite"
	"go.uber.org/zap"
)

// DefaultAuditRetentionDays applies when no retention is configured.
const DefaultAuditRetentionDays = 30

// AuditPurger deletes auth audit entries recorded before a cutoff.
type AuditPurger interface {
	PurgeBefore(cutoff time.Time) (int64, error)
}

// PurgeAuditTrailTask drops sign-up, login and logout records older than
// Cutoff. The cutoff is fixed when the task is built, so a retried run
// deletes the same range as the first attempt.
type PurgeAuditTrailTask struct {
	Cutoff        time.Time `json:"cutoff"`
	RetentionDays int       `json:"retention_days"`
}

// NewPurgeAuditTrailTask keeps retentionDays of history before now.
func NewPurgeAuditTrailTask(now time.Time, retentionDays int) PurgeAuditTrailTask {
	if retentionDays <= 0 {
		retentionDays = DefaultAuditRetentionDays
	}
	return PurgeAuditTrailTask{
		Cutoff:        now.AddDate(0, 0, -retentionDays).UTC(),
		RetentionDays: retentionDays,
	}
}

func (PurgeAuditTrailTask) Config() backlite.QueueConfig {
	return backlite.QueueConfig{
		Name:        "purge_auth_audit",
		MaxAttempts: 5,
		Backoff:     time.Minute,
		Timeout:     30 * time.Second,
		// Successful purges leave nothing worth keeping.
		Retention: &backlite.Retention{
			Duration:   7 * 24 * time.Hour,
			OnlyFailed: true,
		},
	}
}

// PurgeAuditTrailProcessor runs a PurgeAuditTrailTask against purger.
func PurgeAuditTrailProcessor(purger AuditPurger, logger *zap.Logger) backlite.QueueProcessor[PurgeAuditTrailTask] {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(ctx context.Context, task PurgeAuditTrailTask) error {
		if purger == nil {
			return errors.New("audit purger not configured")
		}
		if task.Cutoff.IsZero() {
			return errors.New("audit purge task has no cutoff")
		}

		deleted, err := purger.PurgeBefore(task.Cutoff)
		if err != nil {
			return fmt.Errorf("purge audit trail: %w", err)
		}

		logger.Info("audit trail purged",
			zap.Int64("deleted", deleted),
			zap.Time("cutoff", task.Cutoff),
			zap.Int("retention_days", task.RetentionDays))
		return nil
	}
}

func NewPurgeAuditTrailQueue(purger AuditPurger, logger *zap.Logger) backlite.Queue {
	return backlite.NewQueue(PurgeAuditTrailProcessor(purger, logger))
}
