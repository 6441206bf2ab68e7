// Package participant drives one host or client through a session: relay
// requests, peer negotiation and feeding the audio engine.
package participant

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/dkeye/AudioSync/internal/core"
	"github.com/dkeye/AudioSync/internal/domain"
	"github.com/goccy/go-json"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	ErrSessionEnded = errors.New("session ended by host")
	ErrRelayClosed  = errors.New("relay connection closed")
)

// Relay is the participant end of the relay channel.
type Relay interface {
	ID() domain.ConnID
	Send(domain.Envelope) error
	Incoming() <-chan domain.Envelope
}

// Engine is what the orchestrator needs from the audio engine.
type Engine interface {
	Play(offset float64)
	Pause()
	Seek(offset float64)
	CurrentPosition() float64
	IsPlaying() bool
	Duration() float64
	NowMillis() float64
	Project(hostPosition, hostTimestamp float64) float64
	CorrectAgainstHost(hostPosition, hostTimestamp float64) bool
	BeginCapture(onChunk func(domain.Chunk)) error
	EndCapture()
	IngestChunk(samples []float32, timestamp float64, sampleRate int) (float64, bool)
}

// PeerFactory returns a fresh, idle peer channel for one remote participant.
type PeerFactory func(remote domain.ConnID) core.PeerChannel

type Options struct {
	Relay        Relay
	Peers        PeerFactory
	Engine       Engine
	Clock        clock.Clock
	SyncInterval time.Duration
	// TrackName is advertised in sync_state as current_track.
	TrackName string
}

type Orchestrator struct {
	relay    Relay
	newPeer  PeerFactory
	engine   Engine
	clk      clock.Clock
	interval time.Duration
	track    string
	logger   zerolog.Logger

	mu      sync.Mutex
	role    domain.Role
	session domain.SessionID
	mode    domain.Mode
	hostID  domain.ConnID
	pending bool
	peers   map[domain.ConnID]core.PeerChannel
	stop    chan struct{}
}

func New(opts Options) *Orchestrator {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.SyncInterval <= 0 {
		opts.SyncInterval = 100 * time.Millisecond
	}
	return &Orchestrator{
		relay:    opts.Relay,
		newPeer:  opts.Peers,
		engine:   opts.Engine,
		clk:      opts.Clock,
		interval: opts.SyncInterval,
		track:    opts.TrackName,
		logger:   log.With().Str("module", "participant").Str("conn", string(opts.Relay.ID())).Logger(),
		peers:    make(map[domain.ConnID]core.PeerChannel),
		stop:     make(chan struct{}),
	}
}

// Run dispatches relay traffic until ctx ends, the relay drops, the request
// is refused or (for clients) the host ends the session.
func (o *Orchestrator) Run(ctx context.Context) error {
	defer o.shutdown()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case env, ok := <-o.relay.Incoming():
			if !ok {
				return ErrRelayClosed
			}
			if err := o.dispatch(env); err != nil {
				return err
			}
		}
	}
}

func (o *Orchestrator) dispatch(env domain.Envelope) error {
	switch env.Type {
	case domain.TypeSessionCreated:
		return o.onSessionCreated(env)
	case domain.TypeClientJoined:
		o.onClientJoined(env.ClientID)
	case domain.TypeClientLeft:
		o.dropPeer(env.ClientID)
	case domain.TypeJoinedSession:
		o.onJoined(env)
	case domain.TypeSessionEnded:
		o.logger.Info().Str("session", string(env.SessionID)).Msg("session ended")
		return ErrSessionEnded
	case domain.TypeOffer:
		o.onOffer(env)
	case domain.TypeAnswer:
		o.onAnswer(env)
	case domain.TypeICECandidate:
		o.onCandidate(env)
	case domain.TypeSyncState, domain.TypeAudioChunk:
		// Relay fallback path.
		o.onPeerEnvelope(env)
	case domain.TypeError:
		o.mu.Lock()
		pending := o.pending
		o.pending = false
		o.mu.Unlock()
		o.logger.Warn().Str("message", env.Message).Msg("relay error")
		if pending {
			return fmt.Errorf("relay refused request: %s", env.Message)
		}
	case domain.TypePong:
	default:
		o.logger.Debug().Str("type", string(env.Type)).Msg("ignored envelope")
	}
	return nil
}

// Session reports the current session id and mode once established.
func (o *Orchestrator) Session() (domain.SessionID, domain.Mode) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.session, o.mode
}

func (o *Orchestrator) peer(id domain.ConnID) (core.PeerChannel, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	p, ok := o.peers[id]
	return p, ok
}

func (o *Orchestrator) connectedPeers() []core.PeerChannel {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]core.PeerChannel, 0, len(o.peers))
	for _, p := range o.peers {
		if p.State() == core.PeerConnected {
			out = append(out, p)
		}
	}
	return out
}

// Peers lists remote ids with their negotiation state.
func (o *Orchestrator) Peers() map[domain.ConnID]core.PeerState {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make(map[domain.ConnID]core.PeerState, len(o.peers))
	for id, p := range o.peers {
		out[id] = p.State()
	}
	return out
}

// attachPeer registers a new peer and routes its ICE candidates and
// messages. A previous peer for the same remote is closed.
func (o *Orchestrator) attachPeer(remote domain.ConnID) core.PeerChannel {
	p := o.newPeer(remote)
	p.OnICECandidate(func(c webrtc.ICECandidateInit) {
		raw, err := json.Marshal(c)
		if err != nil {
			return
		}
		if err := o.relay.Send(domain.Envelope{Type: domain.TypeICECandidate, TargetID: string(remote), Candidate: raw}); err != nil {
			o.logger.Warn().Err(err).Str("peer", string(remote)).Msg("send candidate")
		}
	})
	p.OnStateChange(func(s core.PeerState) {
		o.logger.Info().Str("peer", string(remote)).Str("state", s.String()).Msg("peer state")
		switch s {
		case core.PeerConnected:
			o.onPeerConnected(p)
		case core.PeerClosed:
			o.mu.Lock()
			if o.peers[remote] == p {
				delete(o.peers, remote)
			}
			o.mu.Unlock()
		}
	})
	p.OnMessage(func(b []byte) {
		env, err := domain.Decode(b)
		if err != nil {
			o.logger.Debug().Err(err).Msg("bad peer message")
			return
		}
		o.onPeerEnvelope(env)
	})

	o.mu.Lock()
	old := o.peers[remote]
	o.peers[remote] = p
	o.mu.Unlock()
	if old != nil {
		old.Close()
	}
	return p
}

func (o *Orchestrator) dropPeer(remote domain.ConnID) {
	o.mu.Lock()
	p := o.peers[remote]
	delete(o.peers, remote)
	o.mu.Unlock()
	if p != nil {
		p.Close()
		o.logger.Info().Str("peer", string(remote)).Msg("peer dropped")
	}
}

func (o *Orchestrator) onCandidate(env domain.Envelope) {
	var c webrtc.ICECandidateInit
	if err := json.Unmarshal(env.Candidate, &c); err != nil {
		o.logger.Warn().Err(err).Msg("bad candidate")
		return
	}
	p, ok := o.peer(env.FromID)
	if !ok {
		o.mu.Lock()
		role := o.role
		o.mu.Unlock()
		if role != domain.RoleClient {
			o.logger.Debug().Str("peer", string(env.FromID)).Msg("candidate for unknown peer")
			return
		}
		// Candidates may overtake the offer; an idle peer buffers them.
		p = o.attachPeer(env.FromID)
	}
	if err := p.ApplyICECandidate(c); err != nil {
		o.logger.Warn().Err(err).Msg("apply candidate")
	}
}

func (o *Orchestrator) shutdown() {
	o.mu.Lock()
	select {
	case <-o.stop:
	default:
		close(o.stop)
	}
	peers := o.peers
	o.peers = make(map[domain.ConnID]core.PeerChannel)
	o.mu.Unlock()

	o.engine.EndCapture()
	for _, p := range peers {
		p.Close()
	}
}

func (o *Orchestrator) sendPeers(env domain.Envelope) int {
	b, err := domain.Encode(env)
	if err != nil {
		o.logger.Error().Err(err).Msg("encode")
		return 0
	}
	peers := o.connectedPeers()
	for _, p := range peers {
		p.Send(b)
	}
	return len(peers)
}
