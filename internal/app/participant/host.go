package participant

import (
	"fmt"

	"github.com/dkeye/AudioSync/internal/core"
	"github.com/dkeye/AudioSync/internal/domain"
	"github.com/goccy/go-json"
)

// Host asks the relay to create session sid. Call before Run.
func (o *Orchestrator) Host(sid domain.SessionID, name string, mode domain.Mode) error {
	o.mu.Lock()
	o.role = domain.RoleHost
	o.session = sid
	o.mode = mode
	o.pending = true
	o.mu.Unlock()
	return o.relay.Send(domain.Envelope{
		Type:        domain.TypeHostCreateSession,
		SessionID:   sid,
		SessionName: name,
		Mode:        mode,
	})
}

func (o *Orchestrator) onSessionCreated(env domain.Envelope) error {
	o.mu.Lock()
	o.pending = false
	mode := o.mode
	o.mu.Unlock()
	o.logger.Info().Str("session", string(env.SessionID)).Str("mode", string(mode)).Msg("session created")

	if mode == domain.ModeLive {
		if err := o.engine.BeginCapture(o.onCaptured); err != nil {
			return fmt.Errorf("live capture: %w", err)
		}
		return nil
	}
	go o.syncLoop()
	return nil
}

func (o *Orchestrator) onClientJoined(client domain.ConnID) {
	o.logger.Info().Str("peer", string(client)).Msg("client joined")
	p := o.attachPeer(client)
	if err := p.Initialize(core.PeerRoleHost); err != nil {
		o.logger.Error().Err(err).Str("peer", string(client)).Msg("initialize peer")
		o.dropPeer(client)
		return
	}
	offer, err := p.CreateOffer()
	if err != nil || offer == nil {
		o.logger.Error().Err(err).Str("peer", string(client)).Msg("create offer")
		o.dropPeer(client)
		return
	}
	raw, err := json.Marshal(offer)
	if err != nil {
		o.dropPeer(client)
		return
	}
	if err := o.relay.Send(domain.Envelope{Type: domain.TypeOffer, TargetID: string(client), Offer: raw}); err != nil {
		o.logger.Warn().Err(err).Msg("send offer")
	}
}

func (o *Orchestrator) onAnswer(env domain.Envelope) {
	p, ok := o.peer(env.FromID)
	if !ok {
		o.logger.Debug().Str("peer", string(env.FromID)).Msg("answer for unknown peer")
		return
	}
	answer, err := decodeSDP(env.Answer)
	if err != nil {
		o.logger.Warn().Err(err).Msg("bad answer")
		return
	}
	if err := p.ApplyAnswer(answer); err != nil {
		o.logger.Warn().Err(err).Str("peer", string(env.FromID)).Msg("apply answer")
	}
}

// onPeerConnected brings a fresh file-mode client up to date immediately
// instead of waiting for the next tick.
func (o *Orchestrator) onPeerConnected(p core.PeerChannel) {
	o.mu.Lock()
	role, mode := o.role, o.mode
	o.mu.Unlock()
	if role != domain.RoleHost || mode != domain.ModeFile {
		return
	}
	b, err := domain.Encode(o.syncState())
	if err == nil {
		p.Send(b)
	}
}

func (o *Orchestrator) syncState() domain.Envelope {
	env := domain.NewSyncStateEnvelope(domain.SyncState{
		PlaybackPosition: o.engine.CurrentPosition(),
		IsPlaying:        o.engine.IsPlaying(),
		Timestamp:        o.engine.NowMillis(),
		CurrentTrack:     o.track,
	})
	return env
}

// BroadcastSync pushes the current playback state to every connected client
// and returns how many received it.
func (o *Orchestrator) BroadcastSync() int {
	return o.sendPeers(o.syncState())
}

func (o *Orchestrator) syncLoop() {
	ticker := o.clk.Ticker(o.interval)
	defer ticker.Stop()
	for {
		select {
		case <-o.stop:
			return
		case <-ticker.C:
			n := o.BroadcastSync()
			o.logger.Debug().Int("peers", n).Msg("sync tick")
		}
	}
}

func (o *Orchestrator) onCaptured(c domain.Chunk) {
	o.sendPeers(domain.NewAudioChunkEnvelope(c))
}

// Play, Pause and Seek drive the host's authoritative clock and announce the
// change right away.
func (o *Orchestrator) Play(offset float64) {
	o.engine.Play(offset)
	o.BroadcastSync()
}

func (o *Orchestrator) Pause() {
	o.engine.Pause()
	o.BroadcastSync()
}

func (o *Orchestrator) Seek(offset float64) {
	o.engine.Seek(offset)
	o.BroadcastSync()
}
