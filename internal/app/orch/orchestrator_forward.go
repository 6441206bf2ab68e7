package orch

import (
	"github.com/dkeye/AudioSync/internal/app"
	"github.com/dkeye/AudioSync/internal/core"
	"github.com/dkeye/AudioSync/internal/domain"
	"github.com/rs/zerolog/log"
)

// Forward relays env from a session member to its addressed peer, or to
// every other member when the target is "broadcast". Negotiation envelopes
// are strictly pairwise.
func (o *Orchestrator) Forward(from domain.ConnID, env domain.Envelope) error {
	raw, err := domain.Encode(env)
	if err != nil {
		return err
	}
	return o.ForwardFrame(from, env, raw)
}

// ForwardFrame is Forward for a frame already on the wire. env supplies the
// routing fields; raw is what the recipients get, with only target_id and
// from_id rewritten.
func (o *Orchestrator) ForwardFrame(from domain.ConnID, env domain.Envelope, raw []byte) error {
	sid, _, ok := o.Registry.SessionOf(from)
	if !ok {
		return core.ErrNotInSession
	}
	svc, ok := o.Sessions.Get(sid)
	if !ok {
		return core.ErrSessionNotFound
	}

	target := env.TargetID
	if target == "" && env.Type.IsApplication() {
		target = domain.BroadcastTarget
	}
	if target == domain.BroadcastTarget && env.Type.IsNegotiation() {
		return core.ErrBroadcastNotAllowed
	}

	frame, err := domain.Readdress(raw, from)
	if err != nil {
		return err
	}

	if target == domain.BroadcastTarget {
		res := svc.Broadcast(from, frame)
		for _, id := range res.Dropped {
			o.onDropped(svc, id, env.Type, nil)
		}
		return nil
	}

	to := domain.ConnID(target)
	if to == from || !svc.Has(to) {
		return core.ErrTargetNotFound
	}
	if err := svc.SendTo(to, frame); err != nil {
		o.onDropped(svc, to, env.Type, err)
	}
	log.Debug().Str("module", "orch").Str("session", string(sid)).Str("from", string(from)).Str("to", target).Str("type", string(env.Type)).Msg("forwarded")
	return nil
}

func (o *Orchestrator) onDropped(svc core.SessionService, id domain.ConnID, t domain.MessageType, err error) {
	if o.Policy == nil {
		return
	}
	switch o.Policy.OnBackPressure(svc, id, t) {
	case app.KickMember:
		log.Warn().Err(err).Str("module", "orch").Str("conn", string(id)).Str("type", string(t)).Msg("backpressure, kicking")
		o.Kick(id)
	case app.DropFrame:
		log.Debug().Str("module", "orch").Str("conn", string(id)).Str("type", string(t)).Msg("frame dropped")
	}
}
