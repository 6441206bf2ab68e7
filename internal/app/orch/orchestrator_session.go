package orch

import (
	"context"
	"time"

	"github.com/dkeye/AudioSync/internal/core"
	"github.com/dkeye/AudioSync/internal/domain"
	"github.com/rs/zerolog/log"
)

// CreateSession registers a new session hosted by hostID and confirms it
// with session_created.
func (o *Orchestrator) CreateSession(hostID domain.ConnID, sid domain.SessionID, name string, mode domain.Mode) error {
	ms, ok := o.Registry.Get(hostID)
	if !ok {
		return core.ErrNotInSession
	}
	if _, _, in := o.Registry.SessionOf(hostID); in {
		return core.ErrAlreadyInSession
	}

	svc, err := o.Sessions.Create(&domain.Session{ID: sid, Name: name, HostID: hostID, Mode: mode})
	if err != nil {
		return err
	}
	ms.SetRole(domain.RoleHost)
	svc.AddMember(hostID, ms)
	o.Registry.UpdateSession(hostID, sid)

	o.withStore(func(ctx context.Context, s core.SessionStore) error {
		return s.Upsert(ctx, core.SessionRecord{
			ID:        sid,
			HostID:    hostID,
			Name:      name,
			CreatedAt: time.Now().UTC(),
			IsActive:  true,
		})
	})

	log.Info().Str("module", "orch").Str("session", string(sid)).Str("host", string(hostID)).Str("mode", string(mode)).Msg("session created")
	return o.send(ms, domain.Envelope{Type: domain.TypeSessionCreated, SessionID: sid})
}

// JoinSession adds clientID to the session and notifies both sides.
// On failure membership is left untouched.
func (o *Orchestrator) JoinSession(clientID domain.ConnID, sid domain.SessionID, clientName string) error {
	ms, ok := o.Registry.Get(clientID)
	if !ok {
		return core.ErrNotInSession
	}
	svc, ok := o.Sessions.Get(sid)
	if !ok {
		return core.ErrSessionNotFound
	}
	if _, _, in := o.Registry.SessionOf(clientID); in {
		return core.ErrAlreadyInSession
	}
	p := ms.Meta().Participant
	if clientName != "" {
		if err := p.SetName(clientName); err != nil {
			return err
		}
	}

	ms.SetRole(domain.RoleClient)
	svc.AddMember(clientID, ms)
	o.Registry.UpdateSession(clientID, sid)

	// The host may have ended the session since the lookup above; its
	// teardown would not have seen this member.
	if cur, live := o.Sessions.Get(sid); !live || cur != svc {
		svc.RemoveMember(clientID)
		o.Registry.ClearSession(clientID)
		return core.ErrSessionNotFound
	}
	o.syncClientCount(svc)

	session := svc.Session()
	if err := svc.SendTo(session.HostID, mustEncode(domain.Envelope{
		Type:       domain.TypeClientJoined,
		ClientID:   clientID,
		ClientName: p.Name,
	})); err != nil {
		o.onDropped(svc, session.HostID, domain.TypeClientJoined, err)
	}

	log.Info().Str("module", "orch").Str("session", string(sid)).Str("client", string(clientID)).Msg("client joined")
	return o.send(ms, domain.Envelope{
		Type:        domain.TypeJoinedSession,
		SessionID:   sid,
		SessionName: session.Name,
		Mode:        session.Mode,
		HostID:      session.HostID,
	})
}

// OnDisconnect tears down whatever the connection owned. A departing host
// ends its session for everyone; a departing client is removed from
// membership and the host is told.
func (o *Orchestrator) OnDisconnect(id domain.ConnID) {
	defer o.Registry.Unbind(id)

	sid, _, ok := o.Registry.SessionOf(id)
	if !ok {
		return
	}
	svc, ok := o.Sessions.Get(sid)
	if !ok {
		return
	}

	if svc.Session().HostID == id {
		o.endSession(svc)
		return
	}

	svc.RemoveMember(id)
	o.Registry.ClearSession(id)
	o.syncClientCount(svc)
	if err := svc.SendTo(svc.Session().HostID, mustEncode(domain.Envelope{
		Type:     domain.TypeClientLeft,
		ClientID: id,
	})); err != nil {
		log.Debug().Err(err).Str("module", "orch").Str("session", string(sid)).Msg("client_left not delivered")
	}
}

func (o *Orchestrator) endSession(svc core.SessionService) {
	session := svc.Session()
	o.Sessions.Stop(session.ID)

	ended := mustEncode(domain.Envelope{Type: domain.TypeSessionEnded, SessionID: session.ID})
	res := svc.Broadcast(session.HostID, ended)
	for _, snap := range o.Registry.MembersOfSession(session.ID) {
		svc.RemoveMember(snap.ID)
		o.Registry.ClearSession(snap.ID)
	}

	o.withStore(func(ctx context.Context, s core.SessionStore) error {
		return s.SetActive(ctx, session.ID, false)
	})
	log.Info().Str("module", "orch").Str("session", string(session.ID)).Int("notified", res.SendTo).Msg("session ended")
}

// EvictSession ends a session on operator request.
func (o *Orchestrator) EvictSession(sid domain.SessionID) bool {
	svc, ok := o.Sessions.Get(sid)
	if !ok {
		return false
	}
	o.endSession(svc)
	return true
}

func (o *Orchestrator) syncClientCount(svc core.SessionService) {
	n := svc.ClientCount()
	id := svc.Session().ID
	o.withStore(func(ctx context.Context, s core.SessionStore) error {
		return s.SetClientCount(ctx, id, n)
	})
}

func mustEncode(env domain.Envelope) core.Frame {
	b, err := domain.Encode(env)
	if err != nil {
		// Envelope holds only plain fields; encoding cannot fail.
		panic(err)
	}
	return b
}
