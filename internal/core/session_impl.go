package core

import (
	"sync"

	"github.com/dkeye/AudioSync/internal/domain"
	"github.com/rs/zerolog/log"
)

// sessionImpl is a threadsafe in-memory session.
// It never closes adapter-owned resources.
type sessionImpl struct {
	session *domain.Session
	mu      sync.RWMutex
	members map[domain.ConnID]MemberSession
}

func NewSessionService(s *domain.Session) SessionService {
	return &sessionImpl{
		session: s,
		members: make(map[domain.ConnID]MemberSession),
	}
}

func (s *sessionImpl) Session() *domain.Session { return s.session }

func (s *sessionImpl) MemberCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.members)
}

func (s *sessionImpl) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for id := range s.members {
		if id != s.session.HostID {
			n++
		}
	}
	return n
}

func (s *sessionImpl) Has(id domain.ConnID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.members[id]
	return ok
}

func (s *sessionImpl) AddMember(id domain.ConnID, ms MemberSession) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.members[id] = ms
	log.Info().Str("module", "core.session").Str("session", string(s.session.ID)).Str("conn", string(id)).Msg("member added")
}

func (s *sessionImpl) RemoveMember(id domain.ConnID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.members, id)
	log.Info().Str("module", "core.session").Str("session", string(s.session.ID)).Str("conn", string(id)).Msg("member removed")
}

func (s *sessionImpl) SendTo(id domain.ConnID, data Frame) error {
	s.mu.RLock()
	m, ok := s.members[id]
	s.mu.RUnlock()
	if !ok {
		return ErrTargetNotFound
	}
	return m.Signal().TrySend(data)
}

func (s *sessionImpl) Broadcast(from domain.ConnID, data Frame) PublishResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res := PublishResult{}
	for id, m := range s.members {
		if id == from {
			continue
		}
		if err := m.Signal().TrySend(data); err != nil {
			res.Dropped = append(res.Dropped, id)
			continue
		}
		res.SendTo++
	}
	log.Debug().Str("module", "core.session").Str("from", string(from)).Int("sent_to", res.SendTo).Int("dropped", len(res.Dropped)).Msg("broadcast result")
	return res
}

func (s *sessionImpl) MembersSnapshot() []MemberDTO {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]MemberDTO, 0, len(s.members))
	for id, ms := range s.members {
		meta := ms.Meta()
		out = append(out, MemberDTO{ID: id, Name: meta.Participant.Name, Role: meta.Role})
	}
	return out
}
