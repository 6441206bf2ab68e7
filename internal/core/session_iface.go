package core

import (
	"github.com/dkeye/AudioSync/internal/domain"
)

// PublishResult reports delivery stats/backpressure to orchestrator.
type PublishResult struct {
	SendTo  int
	Dropped []domain.ConnID
}

// MemberDTO is a read-only view for APIs (no transport fields).
type MemberDTO struct {
	ID   domain.ConnID `json:"id"`
	Name string        `json:"name"`
	Role domain.Role   `json:"role"`
}

// SessionService is the core-facing API of one broadcast session.
// It owns the membership set but never touches transport resources.
type SessionService interface {
	Session() *domain.Session
	MemberCount() int
	ClientCount() int
	MembersSnapshot() []MemberDTO
	Has(id domain.ConnID) bool

	AddMember(id domain.ConnID, ms MemberSession)
	RemoveMember(id domain.ConnID)
	SendTo(id domain.ConnID, data Frame) error
	Broadcast(from domain.ConnID, data Frame) PublishResult
}

type SessionInfo struct {
	ID          domain.SessionID `json:"id"`
	Name        string           `json:"session_name"`
	Mode        domain.Mode      `json:"mode"`
	ClientCount int              `json:"client_count"`
}

type SessionManager interface {
	Create(s *domain.Session) (SessionService, error)
	Get(id domain.SessionID) (SessionService, bool)
	List() []SessionInfo
	Stop(id domain.SessionID)
}
