package core

import (
	"sync"

	"github.com/dkeye/AudioSync/internal/domain"
)

// MemberSession binds domain.Member and its transport endpoint.
// This is what a session stores and fans out to.
type MemberSession interface {
	Meta() *domain.Member
	Signal() SignalConnection
	SetRole(domain.Role)
}

type memberSession struct {
	mu     sync.RWMutex
	meta   *domain.Member
	signal SignalConnection
}

func NewMemberSession(meta *domain.Member, signal SignalConnection) MemberSession {
	return &memberSession{meta: meta, signal: signal}
}

func (m *memberSession) Meta() *domain.Member {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.meta
}

func (m *memberSession) Signal() SignalConnection { return m.signal }

func (m *memberSession) SetRole(role domain.Role) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.meta = domain.NewMember(m.meta.Participant, role)
}
