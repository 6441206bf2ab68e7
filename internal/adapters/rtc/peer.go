package rtc

import (
	"errors"
	"sync"

	"github.com/dkeye/AudioSync/internal/core"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const dataChannelLabel = "audio-sync"

var (
	ErrAlreadyInitialized = errors.New("peer already initialized")
	ErrPeerClosed         = errors.New("peer closed")
)

// PeerManager negotiates one data channel with a single remote participant.
//
// negMu serializes calls into the pion peer connection; mu guards state and
// callbacks. Callbacks run without either lock held.
type PeerManager struct {
	api    *webrtc.API
	config webrtc.Configuration
	logger zerolog.Logger

	negMu     sync.Mutex
	pc        *webrtc.PeerConnection
	remoteSet bool
	pending   []webrtc.ICECandidateInit

	mu      sync.Mutex
	state   core.PeerState
	role    core.PeerRole
	dc      *webrtc.DataChannel
	onICE   func(webrtc.ICECandidateInit)
	onState func(core.PeerState)
	onMsg   func([]byte)
}

var _ core.PeerChannel = (*PeerManager)(nil)

func NewPeerManager(api *webrtc.API, cfg webrtc.Configuration, remote string) *PeerManager {
	return &PeerManager{
		api:    api,
		config: cfg,
		logger: log.With().Str("module", "rtc").Str("peer", remote).Logger(),
		state:  core.PeerIdle,
	}
}

func (p *PeerManager) Initialize(role core.PeerRole) error {
	p.negMu.Lock()
	defer p.negMu.Unlock()

	p.mu.Lock()
	if p.state != core.PeerIdle {
		st := p.state
		p.mu.Unlock()
		if st == core.PeerClosed {
			return ErrPeerClosed
		}
		return ErrAlreadyInitialized
	}
	p.role = role
	p.mu.Unlock()

	pc, err := p.api.NewPeerConnection(p.config)
	if err != nil {
		return err
	}
	p.pc = pc

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		p.mu.Lock()
		fn := p.onICE
		p.mu.Unlock()
		if fn != nil {
			fn(c.ToJSON())
		}
	})

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		p.logger.Info().Str("peer_connection_state", s.String()).Msg("peer state")
		if s == webrtc.PeerConnectionStateFailed || s == webrtc.PeerConnectionStateClosed {
			p.Close()
		}
	})

	if role == core.PeerRoleHost {
		ordered := true
		maxRetransmits := uint16(0)
		dc, err := pc.CreateDataChannel(dataChannelLabel, &webrtc.DataChannelInit{
			Ordered:        &ordered,
			MaxRetransmits: &maxRetransmits,
		})
		if err != nil {
			_ = pc.Close()
			p.pc = nil
			return err
		}
		p.attach(dc)
	} else {
		pc.OnDataChannel(func(dc *webrtc.DataChannel) {
			p.logger.Info().Str("label", dc.Label()).Msg("data channel offered")
			p.attach(dc)
		})
	}

	p.setState(core.PeerNegotiating)
	return nil
}

func (p *PeerManager) attach(dc *webrtc.DataChannel) {
	p.mu.Lock()
	p.dc = dc
	p.mu.Unlock()

	dc.OnOpen(func() {
		p.logger.Info().Str("label", dc.Label()).Msg("data channel open")
		p.setState(core.PeerConnected)
	})
	dc.OnClose(func() {
		p.logger.Info().Str("label", dc.Label()).Msg("data channel closed")
		p.Close()
	})
	dc.OnError(func(err error) {
		p.logger.Warn().Err(err).Msg("data channel error")
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		p.mu.Lock()
		fn := p.onMsg
		p.mu.Unlock()
		if fn != nil {
			fn(msg.Data)
		}
	})
}

// CreateOffer is used by the host. It returns nil when the peer was never
// initialized or is already closed.
func (p *PeerManager) CreateOffer() (*webrtc.SessionDescription, error) {
	p.negMu.Lock()
	defer p.negMu.Unlock()
	if p.pc == nil || p.State() == core.PeerClosed {
		return nil, nil
	}

	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return nil, err
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return nil, err
	}
	return p.pc.LocalDescription(), nil
}

func (p *PeerManager) CreateAnswer(offer webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	p.negMu.Lock()
	defer p.negMu.Unlock()
	if p.pc == nil || p.State() == core.PeerClosed {
		return nil, nil
	}

	if err := p.pc.SetRemoteDescription(offer); err != nil {
		return nil, err
	}
	p.remoteSet = true
	p.flushPending()

	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return nil, err
	}
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return nil, err
	}
	return p.pc.LocalDescription(), nil
}

// ApplyAnswer ignores answers that arrive twice or after close.
func (p *PeerManager) ApplyAnswer(answer webrtc.SessionDescription) error {
	p.negMu.Lock()
	defer p.negMu.Unlock()
	if p.pc == nil || p.State() == core.PeerClosed {
		return nil
	}
	if p.remoteSet || p.pc.SignalingState() != webrtc.SignalingStateHaveLocalOffer {
		p.logger.Debug().Str("signaling_state", p.pc.SignalingState().String()).Msg("stray answer ignored")
		return nil
	}

	if err := p.pc.SetRemoteDescription(answer); err != nil {
		return err
	}
	p.remoteSet = true
	p.flushPending()
	return nil
}

// ApplyICECandidate buffers candidates that precede the remote description.
// Candidates that pion rejects are logged and dropped; they never close the
// peer.
func (p *PeerManager) ApplyICECandidate(c webrtc.ICECandidateInit) error {
	p.negMu.Lock()
	defer p.negMu.Unlock()
	if p.State() == core.PeerClosed {
		return nil
	}
	if p.pc == nil || !p.remoteSet {
		p.pending = append(p.pending, c)
		return nil
	}
	if err := p.pc.AddICECandidate(c); err != nil {
		p.logger.Warn().Err(err).Msg("add ice candidate")
	}
	return nil
}

// flushPending must be called with negMu held.
func (p *PeerManager) flushPending() {
	for _, c := range p.pending {
		if err := p.pc.AddICECandidate(c); err != nil {
			p.logger.Warn().Err(err).Msg("add buffered ice candidate")
		}
	}
	p.pending = nil
}

func (p *PeerManager) Send(data []byte) {
	p.mu.Lock()
	dc, st := p.dc, p.state
	p.mu.Unlock()
	if st != core.PeerConnected || dc == nil {
		return
	}
	if err := dc.Send(data); err != nil {
		p.logger.Debug().Err(err).Msg("send dropped")
	}
}

func (p *PeerManager) State() core.PeerState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Close is terminal and idempotent.
func (p *PeerManager) Close() {
	p.mu.Lock()
	if p.state == core.PeerClosed {
		p.mu.Unlock()
		return
	}
	p.state = core.PeerClosed
	fn := p.onState
	p.mu.Unlock()

	// pc is only written under negMu by Initialize, which cannot run after
	// the state is closed.
	p.negMu.Lock()
	pc := p.pc
	p.negMu.Unlock()
	if pc != nil {
		go func() {
			if err := pc.Close(); err != nil {
				p.logger.Error().Err(err).Msg("close error")
			}
		}()
	}
	p.logger.Info().Msg("closed")
	if fn != nil {
		fn(core.PeerClosed)
	}
}

func (p *PeerManager) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onICE = fn
}

func (p *PeerManager) OnStateChange(fn func(core.PeerState)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onState = fn
}

func (p *PeerManager) OnMessage(fn func([]byte)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onMsg = fn
}

// setState never leaves closed and never goes backwards.
func (p *PeerManager) setState(s core.PeerState) {
	p.mu.Lock()
	if p.state == core.PeerClosed || s <= p.state {
		p.mu.Unlock()
		return
	}
	p.state = s
	fn := p.onState
	p.mu.Unlock()

	p.logger.Info().Str("state", s.String()).Msg("state change")
	if fn != nil {
		fn(s)
	}
}
