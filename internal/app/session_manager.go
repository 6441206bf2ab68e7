package app

import (
	"sync"

	"github.com/dkeye/AudioSync/internal/core"
	"github.com/dkeye/AudioSync/internal/domain"
)

type SessionManagerImpl struct {
	mu       sync.RWMutex
	sessions map[domain.SessionID]core.SessionService
}

func NewSessionManager() core.SessionManager {
	return &SessionManagerImpl{sessions: make(map[domain.SessionID]core.SessionService)}
}

func (m *SessionManagerImpl) Create(s *domain.Session) (core.SessionService, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.ID]; ok {
		return nil, core.ErrDuplicateSession
	}
	svc := core.NewSessionService(s)
	m.sessions[s.ID] = svc
	return svc, nil
}

func (m *SessionManagerImpl) Get(id domain.SessionID) (core.SessionService, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

func (m *SessionManagerImpl) List() []core.SessionInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]core.SessionInfo, 0, len(m.sessions))
	for id, s := range m.sessions {
		out = append(out, core.SessionInfo{
			ID:          id,
			Name:        s.Session().Name,
			Mode:        s.Session().Mode,
			ClientCount: s.ClientCount(),
		})
	}
	return out
}

func (m *SessionManagerImpl) Stop(id domain.SessionID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
}
