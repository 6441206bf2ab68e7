package app

import (
	"context"
	"sync"

	"github.com/dkeye/AudioSync/internal/core"
	"github.com/dkeye/AudioSync/internal/domain"
	"github.com/rs/zerolog/log"
)

type connEntry struct {
	SessionID domain.SessionID
	Session   core.MemberSession
	Cancel    context.CancelFunc
}

// Registry tracks every live relay connection and the session it belongs to.
// It is created once per relay process and emptied as connections drop.
type Registry struct {
	mu    sync.RWMutex
	conns map[domain.ConnID]*connEntry
}

func NewRegistry() *Registry {
	return &Registry{
		conns: make(map[domain.ConnID]*connEntry),
	}
}

func (r *Registry) Bind(id domain.ConnID, sess core.MemberSession, cancel context.CancelFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[id]; ok {
		return core.ErrConnectionExists
	}
	r.conns[id] = &connEntry{Session: sess, Cancel: cancel}
	log.Info().Str("module", "app.registry").Str("conn", string(id)).Msg("bound connection")
	return nil
}

func (r *Registry) Get(id domain.ConnID) (core.MemberSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.conns[id]; ok {
		return e.Session, true
	}
	return nil, false
}

func (r *Registry) Unbind(id domain.ConnID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns, id)
	log.Info().Str("module", "app.registry").Str("conn", string(id)).Msg("unbound connection")
}

func (r *Registry) SessionOf(id domain.ConnID) (domain.SessionID, core.MemberSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.conns[id]
	if !ok || entry.SessionID == "" {
		return "", nil, false
	}
	return entry.SessionID, entry.Session, true
}

func (r *Registry) UpdateSession(id domain.ConnID, sid domain.SessionID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.conns[id]
	if !ok {
		return false
	}
	entry.SessionID = sid
	log.Info().Str("module", "app.registry").Str("conn", string(id)).Str("session", string(sid)).Msg("updated session")
	return true
}

func (r *Registry) ClearSession(id domain.ConnID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if entry, ok := r.conns[id]; ok {
		entry.SessionID = ""
	}
}

type regSnap struct {
	ID      domain.ConnID
	Session core.MemberSession
}

func (r *Registry) MembersOfSession(sid domain.SessionID) []regSnap {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]regSnap, 0, len(r.conns))
	for id, e := range r.conns {
		if e.SessionID == sid {
			out = append(out, regSnap{ID: id, Session: e.Session})
		}
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Cancel stops the transport pumps of a connection.
func (r *Registry) Cancel(id domain.ConnID) bool {
	r.mu.RLock()
	e, ok := r.conns[id]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if e.Cancel != nil {
		e.Cancel()
	}
	log.Info().Str("module", "app.registry").Str("conn", string(id)).Msg("canceled connection")
	return true
}
