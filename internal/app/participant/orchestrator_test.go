package participant

import (
	"context"
	"math"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/dkeye/AudioSync/internal/audio"
	"github.com/dkeye/AudioSync/internal/core"
	"github.com/dkeye/AudioSync/internal/domain"
	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/goccy/go-json"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const wait = time.Second

type fakeRelay struct {
	id       domain.ConnID
	incoming chan domain.Envelope

	mu   sync.Mutex
	sent []domain.Envelope
}

func (r *fakeRelay) ID() domain.ConnID { return r.id }
func (r *fakeRelay) Incoming() <-chan domain.Envelope { return r.incoming }

func (r *fakeRelay) Send(env domain.Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, env)
	return nil
}

func (r *fakeRelay) last(t domain.MessageType) (domain.Envelope, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.sent) - 1; i >= 0; i-- {
		if r.sent[i].Type == t {
			return r.sent[i], true
		}
	}
	return domain.Envelope{}, false
}

type fakePeer struct {
	mu         sync.Mutex
	role       core.PeerRole
	state      core.PeerState
	answers    int
	candidates []webrtc.ICECandidateInit
	sent       [][]byte

	onICE   func(webrtc.ICECandidateInit)
	onState func(core.PeerState)
	onMsg   func([]byte)
}

func (p *fakePeer) Initialize(role core.PeerRole) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.role = role
	p.state = core.PeerNegotiating
	return nil
}

func (p *fakePeer) CreateOffer() (*webrtc.SessionDescription, error) {
	if p.State() != core.PeerNegotiating {
		return nil, nil
	}
	return &webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "offer"}, nil
}

func (p *fakePeer) CreateAnswer(webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	return &webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer"}, nil
}

func (p *fakePeer) ApplyAnswer(webrtc.SessionDescription) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.answers++
	return nil
}

func (p *fakePeer) ApplyICECandidate(c webrtc.ICECandidateInit) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.candidates = append(p.candidates, c)
	return nil
}

func (p *fakePeer) Send(b []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, b)
}

func (p *fakePeer) State() core.PeerState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *fakePeer) Close() { p.setState(core.PeerClosed) }

func (p *fakePeer) OnICECandidate(fn func(webrtc.ICECandidateInit)) { p.onICE = fn }
func (p *fakePeer) OnStateChange(fn func(core.PeerState)) { p.onState = fn }
func (p *fakePeer) OnMessage(fn func([]byte)) { p.onMsg = fn }

func (p *fakePeer) setState(s core.PeerState) {
	p.mu.Lock()
	if p.state == s {
		p.mu.Unlock()
		return
	}
	p.state = s
	fn := p.onState
	p.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}

func (p *fakePeer) sentTypes() []domain.MessageType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.MessageType, 0, len(p.sent))
	for _, b := range p.sent {
		env, err := domain.Decode(b)
		if err == nil {
			out = append(out, env.Type)
		}
	}
	return out
}

func (p *fakePeer) deliver(t *testing.T, env domain.Envelope) {
	b, err := domain.Encode(env)
	require.NoError(t, err)
	p.onMsg(b)
}

type fixture struct {
	relay  *fakeRelay
	mock   *clock.Mock
	engine *audio.Engine
	orch   *Orchestrator
	done   chan error
	cancel context.CancelFunc

	mu    sync.Mutex
	peers map[domain.ConnID]*fakePeer
}

func newFixture(t *testing.T, id domain.ConnID) *fixture {
	t.Helper()
	mock := clock.NewMock()
	mock.Add(time.Hour)
	f := &fixture{
		relay:  &fakeRelay{id: id, incoming: make(chan domain.Envelope, 16)},
		mock:   mock,
		engine: audio.NewEngine(audio.Options{Clock: mock, SampleRate: 8000, ChunkSize: 4}),
		done:   make(chan error, 1),
		peers:  make(map[domain.ConnID]*fakePeer),
	}
	f.orch = New(Options{
		Relay:  f.relay,
		Engine: f.engine,
		Clock:  mock,
		Peers: func(remote domain.ConnID) core.PeerChannel {
			p := &fakePeer{}
			f.mu.Lock()
			f.peers[remote] = p
			f.mu.Unlock()
			return p
		},
	})
	t.Cleanup(func() {
		if f.cancel != nil {
			f.cancel()
		}
	})
	return f
}

func (f *fixture) run() {
	ctx, cancel := context.WithCancel(context.Background())
	f.cancel = cancel
	go func() { f.done <- f.orch.Run(ctx) }()
}

func (f *fixture) push(env domain.Envelope) { f.relay.incoming <- env }

func (f *fixture) peer(id domain.ConnID) *fakePeer {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.peers[id]
}

func rawJSON(t *testing.T, v any) json.RawMessage {
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func TestHostNegotiatesWithJoiningClient(t *testing.T) {
	f := newFixture(t, "host")
	require.NoError(t, f.orch.Host("abc123", "party", domain.ModeFile))
	req, ok := f.relay.last(domain.TypeHostCreateSession)
	require.True(t, ok)
	assert.Equal(t, domain.ModeFile, req.Mode)

	f.run()
	f.push(domain.Envelope{Type: domain.TypeSessionCreated, SessionID: "abc123"})
	f.push(domain.Envelope{Type: domain.TypeClientJoined, ClientID: "c1"})

	require.Eventually(t, func() bool {
		_, ok := f.relay.last(domain.TypeOffer)
		return ok
	}, wait, 5*time.Millisecond)
	offer, _ := f.relay.last(domain.TypeOffer)
	assert.Equal(t, "c1", offer.TargetID)

	p := f.peer("c1")
	require.NotNil(t, p)
	assert.Equal(t, core.PeerRoleHost, p.role)

	p.onICE(webrtc.ICECandidateInit{Candidate: "candidate:1 1 udp 1 127.0.0.1 5000 typ host"})
	ice, ok := f.relay.last(domain.TypeICECandidate)
	require.True(t, ok)
	assert.Equal(t, "c1", ice.TargetID)

	answer := rawJSON(t, webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0"})
	f.push(domain.Envelope{Type: domain.TypeAnswer, FromID: "c1", Answer: answer})
	f.push(domain.Envelope{Type: domain.TypeICECandidate, FromID: "c1", Candidate: rawJSON(t, webrtc.ICECandidateInit{Candidate: "c"})})
	// Nobody by that id; must be ignored.
	f.push(domain.Envelope{Type: domain.TypeAnswer, FromID: "ghost", Answer: answer})

	assert.Eventually(t, func() bool {
		p.mu.Lock()
		defer p.mu.Unlock()
		return p.answers == 1 && len(p.candidates) == 1
	}, wait, 5*time.Millisecond)

	f.push(domain.Envelope{Type: domain.TypeClientLeft, ClientID: "c1"})
	assert.Eventually(t, func() bool {
		return p.State() == core.PeerClosed && len(f.orch.Peers()) == 0
	}, wait, 5*time.Millisecond)
}

func TestHostBroadcastsSyncState(t *testing.T) {
	f := newFixture(t, "host")
	require.NoError(t, f.orch.Host("abc123", "", domain.ModeFile))
	f.run()
	f.push(domain.Envelope{Type: domain.TypeSessionCreated, SessionID: "abc123"})
	f.push(domain.Envelope{Type: domain.TypeClientJoined, ClientID: "c1"})
	require.Eventually(t, func() bool {
		_, ok := f.relay.last(domain.TypeOffer)
		return ok
	}, wait, 5*time.Millisecond)
	p := f.peer("c1")

	f.orch.Play(2)
	assert.Empty(t, p.sentTypes(), "nothing goes out before the channel opens")

	// Opening the channel pushes the current state straight away.
	p.setState(core.PeerConnected)
	require.Len(t, p.sentTypes(), 1)

	assert.Eventually(t, func() bool {
		f.mock.Add(100 * time.Millisecond)
		return len(p.sentTypes()) >= 3
	}, wait, 5*time.Millisecond)
	for _, typ := range p.sentTypes() {
		assert.Equal(t, domain.TypeSyncState, typ)
	}

	p.mu.Lock()
	env, err := domain.Decode(p.sent[len(p.sent)-1])
	p.mu.Unlock()
	require.NoError(t, err)
	state, ok := env.SyncState()
	require.True(t, ok)
	assert.True(t, state.IsPlaying)
	assert.Greater(t, state.PlaybackPosition, 2.0)
}

func TestLiveHostWithoutMicrophoneFails(t *testing.T) {
	f := newFixture(t, "host")
	require.NoError(t, f.orch.Host("abc123", "", domain.ModeLive))
	f.run()
	f.push(domain.Envelope{Type: domain.TypeSessionCreated, SessionID: "abc123"})
	select {
	case err := <-f.done:
		assert.ErrorIs(t, err, audio.ErrDeviceUnavailable)
	case <-time.After(wait):
		t.Fatal("run did not return")
	}
}

func TestClientAnswersHostAndFollowsSync(t *testing.T) {
	f := newFixture(t, "c1")
	require.NoError(t, f.orch.Join("abc123", "bob"))
	req, ok := f.relay.last(domain.TypeClientJoinSession)
	require.True(t, ok)
	assert.Equal(t, "bob", req.ClientName)

	f.run()
	f.push(domain.Envelope{Type: domain.TypeJoinedSession, SessionID: "abc123", HostID: "host", Mode: domain.ModeFile})
	// A candidate that overtakes the offer is held by the idle peer.
	f.push(domain.Envelope{Type: domain.TypeICECandidate, FromID: "host", Candidate: rawJSON(t, webrtc.ICECandidateInit{Candidate: "c"})})
	f.push(domain.Envelope{Type: domain.TypeOffer, FromID: "host", Offer: rawJSON(t, webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0"})})

	require.Eventually(t, func() bool {
		_, ok := f.relay.last(domain.TypeAnswer)
		return ok
	}, wait, 5*time.Millisecond)
	ans, _ := f.relay.last(domain.TypeAnswer)
	assert.Equal(t, "host", ans.TargetID)

	p := f.peer("host")
	require.NotNil(t, p)
	assert.Equal(t, core.PeerRoleClient, p.role)
	assert.Len(t, p.candidates, 1)
	_, mode := f.orch.Session()
	assert.Equal(t, domain.ModeFile, mode)

	p.setState(core.PeerConnected)
	hostTS := f.engine.NowMillis()
	f.mock.Add(40 * time.Millisecond)
	p.deliver(t, domain.NewSyncStateEnvelope(domain.SyncState{PlaybackPosition: 5, IsPlaying: true, Timestamp: hostTS}))
	assert.True(t, f.engine.IsPlaying())
	assert.InDelta(t, 5.02, f.engine.CurrentPosition(), 1e-6)

	// Small drift is left alone.
	f.mock.Add(100 * time.Millisecond)
	p.deliver(t, domain.NewSyncStateEnvelope(domain.SyncState{PlaybackPosition: 5.1, IsPlaying: true, Timestamp: f.engine.NowMillis()}))
	assert.InDelta(t, 5.12, f.engine.CurrentPosition(), 1e-6)

	p.deliver(t, domain.NewSyncStateEnvelope(domain.SyncState{PlaybackPosition: 8, IsPlaying: false, Timestamp: f.engine.NowMillis()}))
	assert.False(t, f.engine.IsPlaying())
	assert.InDelta(t, 8.0, f.engine.CurrentPosition(), 1e-6)

	p.deliver(t, domain.NewAudioChunkEnvelope(domain.Chunk{Samples: []float32{0.1, 0.2}, SampleRate: 8000, Timestamp: hostTS}))
	assert.Equal(t, 1, f.engine.Mixer().Active())

	f.push(domain.Envelope{Type: domain.TypeSessionEnded, SessionID: "abc123"})
	select {
	case err := <-f.done:
		assert.ErrorIs(t, err, ErrSessionEnded)
	case <-time.After(wait):
		t.Fatal("run did not return")
	}
	assert.Equal(t, core.PeerClosed, p.State())
}

func trackFixture(t *testing.T, secs float64, rate int) []byte {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "*.wav")
	require.NoError(t, err)
	data := make([]int, int(secs*float64(rate)))
	for i := range data {
		data[i] = int(8000 * math.Sin(2*math.Pi*440*float64(i)/float64(rate)))
	}
	enc := wav.NewEncoder(f, rate, 16, 1, 1)
	require.NoError(t, enc.Write(&goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: rate},
		Data:           data,
		SourceBitDepth: 16,
	}))
	require.NoError(t, enc.Close())
	require.NoError(t, f.Close())
	b, err := os.ReadFile(f.Name())
	require.NoError(t, err)
	return b
}

func TestClientWithTrackPlaysOnSync(t *testing.T) {
	f := newFixture(t, "c1")
	_, err := f.engine.LoadFile(trackFixture(t, 2, 8000))
	require.NoError(t, err)

	require.NoError(t, f.orch.Join("abc123", ""))
	f.run()
	f.push(domain.Envelope{Type: domain.TypeJoinedSession, SessionID: "abc123", HostID: "host", Mode: domain.ModeFile})
	f.push(domain.Envelope{Type: domain.TypeOffer, FromID: "host", Offer: rawJSON(t, webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0"})})
	require.Eventually(t, func() bool {
		_, ok := f.relay.last(domain.TypeAnswer)
		return ok
	}, wait, 5*time.Millisecond)

	p := f.peer("host")
	require.NotNil(t, p)
	p.setState(core.PeerConnected)
	assert.Equal(t, 0, f.engine.Mixer().Active())

	p.deliver(t, domain.NewSyncStateEnvelope(domain.SyncState{PlaybackPosition: 0.5, IsPlaying: true, Timestamp: f.engine.NowMillis()}))
	assert.True(t, f.engine.IsPlaying())
	assert.Equal(t, 1, f.engine.Mixer().Active())

	p.deliver(t, domain.NewSyncStateEnvelope(domain.SyncState{PlaybackPosition: 0.7, IsPlaying: false, Timestamp: f.engine.NowMillis()}))
	assert.Equal(t, 0, f.engine.Mixer().Active())
}

func TestClientIgnoresOfferFromNonHost(t *testing.T) {
	f := newFixture(t, "c1")
	require.NoError(t, f.orch.Join("abc123", ""))
	f.run()
	f.push(domain.Envelope{Type: domain.TypeJoinedSession, SessionID: "abc123", HostID: "host"})
	f.push(domain.Envelope{Type: domain.TypeOffer, FromID: "c2", Offer: rawJSON(t, webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0"})})
	f.push(domain.Envelope{Type: domain.TypePong})

	assert.Never(t, func() bool {
		_, ok := f.relay.last(domain.TypeAnswer)
		return ok
	}, 50*time.Millisecond, 5*time.Millisecond)
	assert.Nil(t, f.peer("c2"))
}

func TestJoinRefused(t *testing.T) {
	f := newFixture(t, "c1")
	require.NoError(t, f.orch.Join("nope00", ""))
	f.run()
	f.push(domain.NewErrorEnvelope("Session not found"))
	select {
	case err := <-f.done:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "Session not found")
	case <-time.After(wait):
		t.Fatal("run did not return")
	}
}

func TestRelayClosed(t *testing.T) {
	f := newFixture(t, "c1")
	f.run()
	close(f.relay.incoming)
	select {
	case err := <-f.done:
		assert.ErrorIs(t, err, ErrRelayClosed)
	case <-time.After(wait):
		t.Fatal("run did not return")
	}
}
