// Package audit records what happened on the auth view: sign-ups, logins,
// logouts and user record inserts.
package audit

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mrlokans/authview/internal/database/audit"
	"github.com/mrlokans/authview/internal/entities"
)

// Service provides high-level audit logging functionality.
type Service struct {
	repo   *audit.Repository
	logger *zap.Logger
	wg     sync.WaitGroup
}

// NewService creates a new audit service.
func NewService(repo *audit.Repository, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{repo: repo, logger: logger.Named("audit")}
}

// Log records a generic audit event.
func (s *Service) Log(event *entities.AuditEvent) error {
	return s.repo.LogEvent(event)
}

// LogAsync records an audit event in the background (non-blocking).
func (s *Service) LogAsync(event *entities.AuditEvent) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.repo.LogEvent(event); err != nil {
			s.logger.Warn("failed to log audit event",
				zap.String("action", event.Action),
				zap.Error(err))
		}
	}()
}

// Wait blocks until all pending LogAsync writes are done.
func (s *Service) Wait() {
	s.wg.Wait()
}

// AuthRecord describes one auth action performed through the view.
type AuthRecord struct {
	UserRef       string
	Action        string
	IPAddress     string
	UserAgent     string
	CorrelationID string
	Err           error
}

// LogAuth records an authentication event.
func (s *Service) LogAuth(rec AuthRecord) {
	event := &entities.AuditEvent{
		UserRef:       rec.UserRef,
		EventType:     entities.AuditEventAuth,
		Action:        rec.Action,
		IPAddress:     rec.IPAddress,
		UserAgent:     truncate(rec.UserAgent, 500),
		CorrelationID: rec.CorrelationID,
		Status:        entities.AuditStatusSuccess,
	}

	if rec.Err != nil {
		event.Status = entities.AuditStatusFailed
		event.ErrorMsg = truncate(rec.Err.Error(), 500)
	}

	s.LogAsync(event)
}

// LogProfileInsert records the outcome of writing the user record after
// sign-up.
func (s *Service) LogProfileInsert(userRef, correlationID string, err error) {
	event := &entities.AuditEvent{
		UserRef:       userRef,
		EventType:     entities.AuditEventProfile,
		Action:        entities.AuditActionProfileSave,
		Description:   "Inserted user record after sign-up",
		CorrelationID: correlationID,
		Status:        entities.AuditStatusSuccess,
	}

	if err != nil {
		event.Status = entities.AuditStatusFailed
		event.ErrorMsg = truncate(err.Error(), 500)
	}

	s.LogAsync(event)
}

// GetEvents retrieves paginated audit events.
func (s *Service) GetEvents(userRef string, limit, offset int) ([]entities.AuditEvent, int64, error) {
	return s.repo.GetEvents(userRef, limit, offset)
}

// PurgeBefore removes events recorded before cutoff. It implements
// tasks.AuditPurger.
func (s *Service) PurgeBefore(cutoff time.Time) (int64, error) {
	return s.repo.DeleteOldEvents(cutoff)
}

// truncate shortens a string to max length.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
