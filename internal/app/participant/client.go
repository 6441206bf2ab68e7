package participant

import (
	"github.com/dkeye/AudioSync/internal/core"
	"github.com/dkeye/AudioSync/internal/domain"
	"github.com/goccy/go-json"
	"github.com/pion/webrtc/v4"
)

// Join asks the relay to add this participant to session sid. Call before Run.
func (o *Orchestrator) Join(sid domain.SessionID, name string) error {
	o.mu.Lock()
	o.role = domain.RoleClient
	o.session = sid
	o.pending = true
	o.mu.Unlock()
	return o.relay.Send(domain.Envelope{
		Type:       domain.TypeClientJoinSession,
		SessionID:  sid,
		ClientName: name,
	})
}

func (o *Orchestrator) onJoined(env domain.Envelope) {
	o.mu.Lock()
	o.pending = false
	o.hostID = env.HostID
	o.mode = domain.ParseMode(string(env.Mode))
	o.mu.Unlock()
	o.logger.Info().
		Str("session", string(env.SessionID)).
		Str("name", env.SessionName).
		Str("host", string(env.HostID)).
		Str("mode", string(env.Mode)).
		Msg("joined session")
	if domain.ParseMode(string(env.Mode)) == domain.ModeFile && o.engine.Duration() == 0 {
		o.logger.Warn().Msg("file session but no track loaded, sync will be silent")
	}
}

func (o *Orchestrator) onOffer(env domain.Envelope) {
	offer, err := decodeSDP(env.Offer)
	if err != nil {
		o.logger.Warn().Err(err).Msg("bad offer")
		return
	}
	o.mu.Lock()
	host := o.hostID
	o.mu.Unlock()
	if host != "" && env.FromID != host {
		o.logger.Debug().Str("from", string(env.FromID)).Msg("offer from non-host ignored")
		return
	}
	p, ok := o.peer(env.FromID)
	if !ok || p.State() != core.PeerIdle {
		p = o.attachPeer(env.FromID)
	}
	if err := p.Initialize(core.PeerRoleClient); err != nil {
		o.logger.Error().Err(err).Msg("initialize peer")
		return
	}
	answer, err := p.CreateAnswer(offer)
	if err != nil || answer == nil {
		o.logger.Error().Err(err).Msg("create answer")
		o.dropPeer(env.FromID)
		return
	}
	raw, err := json.Marshal(answer)
	if err != nil {
		return
	}
	if err := o.relay.Send(domain.Envelope{Type: domain.TypeAnswer, TargetID: string(env.FromID), Answer: raw}); err != nil {
		o.logger.Warn().Err(err).Msg("send answer")
	}
}

// onPeerEnvelope handles application traffic from the host.
func (o *Orchestrator) onPeerEnvelope(env domain.Envelope) {
	switch env.Type {
	case domain.TypeSyncState:
		s, ok := env.SyncState()
		if !ok {
			o.logger.Debug().Msg("incomplete sync_state")
			return
		}
		o.applySync(s)
	case domain.TypeAudioChunk:
		c, ok := env.Chunk()
		if !ok {
			return
		}
		o.engine.IngestChunk(c.Samples, c.Timestamp, c.SampleRate)
	}
}

// applySync aligns play/pause with the host, then lets the engine decide
// whether drift warrants a reseek.
func (o *Orchestrator) applySync(s domain.SyncState) {
	if !s.IsPlaying {
		if o.engine.IsPlaying() {
			o.engine.Pause()
		}
		o.engine.Seek(s.PlaybackPosition)
		return
	}
	if !o.engine.IsPlaying() {
		o.engine.Play(o.engine.Project(s.PlaybackPosition, s.Timestamp))
		return
	}
	o.engine.CorrectAgainstHost(s.PlaybackPosition, s.Timestamp)
}

func decodeSDP(raw []byte) (webrtc.SessionDescription, error) {
	var sd webrtc.SessionDescription
	err := json.Unmarshal(raw, &sd)
	return sd, err
}
