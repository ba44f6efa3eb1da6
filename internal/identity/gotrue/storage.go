package gotrue

import (
	"context"
	"sync"

	"github.com/mrlokans/authview/internal/identity"
)

// SessionStorage persists the provider session between calls. LoadSession
// returns (nil, nil) when nothing is stored.
type SessionStorage interface {
	LoadSession(ctx context.Context) (*identity.Session, error)
	SaveSession(ctx context.Context, session *identity.Session) error
	RemoveSession(ctx context.Context) error
}

// MemoryStorage keeps the session in process memory.
type MemoryStorage struct {
	mu      sync.Mutex
	session *identity.Session
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{}
}

func (m *MemoryStorage) LoadSession(context.Context) (*identity.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return nil, nil
	}
	s := *m.session
	return &s, nil
}

func (m *MemoryStorage) SaveSession(_ context.Context, session *identity.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if session == nil {
		m.session = nil
		return nil
	}
	s := *session
	m.session = &s
	return nil
}

func (m *MemoryStorage) RemoveSession(context.Context) error {
	m.mu.Lock()
	m.session = nil
	m.mu.Unlock()
	return nil
}
