package orch

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/dkeye/AudioSync/internal/app"
	"github.com/dkeye/AudioSync/internal/core"
	"github.com/dkeye/AudioSync/internal/domain"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	frames []domain.Envelope
	raw    [][]byte
	full   bool
}

func (r *recorder) TrySend(f core.Frame) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.full {
		return errors.New("full")
	}
	env, err := domain.Decode(f)
	if err != nil {
		return err
	}
	r.frames = append(r.frames, env)
	r.raw = append(r.raw, f)
	return nil
}

func (r *recorder) Close() {}

func (r *recorder) types() []domain.MessageType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.MessageType, 0, len(r.frames))
	for _, f := range r.frames {
		out = append(out, f.Type)
	}
	return out
}

func (r *recorder) last() domain.Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frames[len(r.frames)-1]
}

func (r *recorder) lastRaw() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.raw[len(r.raw)-1]
}

type memStore struct {
	mu   sync.Mutex
	recs map[domain.SessionID]core.SessionRecord
}

func newMemStore() *memStore {
	return &memStore{recs: make(map[domain.SessionID]core.SessionRecord)}
}

func (m *memStore) Create(_ context.Context, rec core.SessionRecord) error { return m.Upsert(context.Background(), rec) }

func (m *memStore) Upsert(_ context.Context, rec core.SessionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs[rec.ID] = rec
	return nil
}

func (m *memStore) Get(_ context.Context, id domain.SessionID) (core.SessionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.recs[id]
	if !ok {
		return core.SessionRecord{}, core.ErrSessionNotFound
	}
	return rec, nil
}

func (m *memStore) ListActive(context.Context, int) ([]core.SessionRecord, error) { return nil, nil }

func (m *memStore) SetActive(_ context.Context, id domain.SessionID, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := m.recs[id]
	rec.IsActive = active
	m.recs[id] = rec
	return nil
}

func (m *memStore) SetClientCount(_ context.Context, id domain.SessionID, n int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := m.recs[id]
	rec.ClientCount = n
	m.recs[id] = rec
	return nil
}

func (m *memStore) Close() error { return nil }

type fixture struct {
	o      *Orchestrator
	store  *memStore
	kicked map[domain.ConnID]bool
}

func newFixture() *fixture {
	st := newMemStore()
	return &fixture{
		o:      New(app.NewRegistry(), app.NewSessionManager(), app.SimplePolicy{}, st),
		store:  st,
		kicked: make(map[domain.ConnID]bool),
	}
}

func (f *fixture) connect(t *testing.T, id domain.ConnID) *recorder {
	t.Helper()
	p, err := domain.NewParticipant(id, "")
	require.NoError(t, err)
	rec := &recorder{}
	ms := core.NewMemberSession(domain.NewMember(p, domain.RoleClient), rec)
	require.NoError(t, f.o.Connect(id, ms, func() { f.kicked[id] = true }))
	return rec
}

func TestCreateAndJoin(t *testing.T) {
	f := newFixture()
	host := f.connect(t, "h")
	client := f.connect(t, "c1")

	require.NoError(t, f.o.CreateSession("h", "abc123", "Friday", domain.ModeLive))
	assert.Equal(t, []domain.MessageType{domain.TypeSessionCreated}, host.types())

	require.NoError(t, f.o.JoinSession("c1", "abc123", "Ann"))
	joined := host.last()
	assert.Equal(t, domain.TypeClientJoined, joined.Type)
	assert.Equal(t, domain.ConnID("c1"), joined.ClientID)
	assert.Equal(t, "Ann", joined.ClientName)

	ack := client.last()
	assert.Equal(t, domain.TypeJoinedSession, ack.Type)
	assert.Equal(t, "Friday", ack.SessionName)
	assert.Equal(t, domain.ModeLive, ack.Mode)
	assert.Equal(t, domain.ConnID("h"), ack.HostID)

	rec, err := f.store.Get(context.Background(), "abc123")
	require.NoError(t, err)
	assert.True(t, rec.IsActive)
	assert.Equal(t, 1, rec.ClientCount)
}

func TestCreateDuplicateSession(t *testing.T) {
	f := newFixture()
	f.connect(t, "h1")
	f.connect(t, "h2")
	require.NoError(t, f.o.CreateSession("h1", "abc123", "a", domain.ModeFile))
	err := f.o.CreateSession("h2", "abc123", "b", domain.ModeFile)
	assert.ErrorIs(t, err, core.ErrDuplicateSession)

	_, _, in := f.o.Registry.SessionOf("h2")
	assert.False(t, in)
}

func TestJoinUnknownSessionLeavesNoTrace(t *testing.T) {
	f := newFixture()
	client := f.connect(t, "c1")

	err := f.o.JoinSession("c1", "nope00", "Ann")
	assert.ErrorIs(t, err, core.ErrSessionNotFound)
	_, _, in := f.o.Registry.SessionOf("c1")
	assert.False(t, in)
	assert.Empty(t, client.types())
	assert.Empty(t, f.o.Sessions.List())
}

func TestForwardPairwise(t *testing.T) {
	f := newFixture()
	host := f.connect(t, "h")
	c1 := f.connect(t, "c1")
	c2 := f.connect(t, "c2")
	require.NoError(t, f.o.CreateSession("h", "abc123", "s", domain.ModeFile))
	require.NoError(t, f.o.JoinSession("c1", "abc123", ""))
	require.NoError(t, f.o.JoinSession("c2", "abc123", ""))

	offer := domain.Envelope{Type: domain.TypeOffer, TargetID: "c1", Offer: []byte(`{"type":"offer","sdp":"v=0"}`)}
	require.NoError(t, f.o.Forward("h", offer))

	got := c1.last()
	assert.Equal(t, domain.TypeOffer, got.Type)
	assert.Equal(t, domain.ConnID("h"), got.FromID)
	assert.Empty(t, got.TargetID)
	assert.NotContains(t, c2.types(), domain.TypeOffer)
	assert.NotContains(t, host.types(), domain.TypeOffer)
}

func TestForwardRejectsBroadcastNegotiation(t *testing.T) {
	f := newFixture()
	c1 := f.connect(t, "c1")
	f.connect(t, "h")
	require.NoError(t, f.o.CreateSession("h", "abc123", "s", domain.ModeFile))
	require.NoError(t, f.o.JoinSession("c1", "abc123", ""))

	ice := domain.Envelope{Type: domain.TypeICECandidate, TargetID: domain.BroadcastTarget, Candidate: []byte(`{"candidate":"x"}`)}
	err := f.o.Forward("h", ice)
	assert.ErrorIs(t, err, core.ErrBroadcastNotAllowed)
	assert.NotContains(t, c1.types(), domain.TypeICECandidate)
}

func TestForwardOutsideSession(t *testing.T) {
	f := newFixture()
	f.connect(t, "x")
	err := f.o.Forward("x", domain.Envelope{Type: domain.TypeAnswer, TargetID: "h"})
	assert.ErrorIs(t, err, core.ErrNotInSession)
}

func TestForwardApplicationFanOut(t *testing.T) {
	f := newFixture()
	f.connect(t, "h")
	c1 := f.connect(t, "c1")
	c2 := f.connect(t, "c2")
	require.NoError(t, f.o.CreateSession("h", "abc123", "s", domain.ModeFile))
	require.NoError(t, f.o.JoinSession("c1", "abc123", ""))
	require.NoError(t, f.o.JoinSession("c2", "abc123", ""))

	c2.full = true
	state := domain.NewSyncStateEnvelope(domain.SyncState{PlaybackPosition: 1, IsPlaying: true, Timestamp: 5})
	require.NoError(t, f.o.Forward("h", state))

	assert.Equal(t, domain.TypeSyncState, c1.last().Type)
	// Dropped application frames do not cost the member its connection.
	assert.False(t, f.kicked["c2"])
}

func TestSlowMemberKickedOnControlTraffic(t *testing.T) {
	f := newFixture()
	f.connect(t, "h")
	c1 := f.connect(t, "c1")
	require.NoError(t, f.o.CreateSession("h", "abc123", "s", domain.ModeFile))
	require.NoError(t, f.o.JoinSession("c1", "abc123", ""))

	c1.full = true
	require.NoError(t, f.o.Forward("h", domain.Envelope{Type: domain.TypeOffer, TargetID: "c1", Offer: []byte(`{}`)}))
	assert.True(t, f.kicked["c1"])
}

func TestHostDisconnectEndsSession(t *testing.T) {
	f := newFixture()
	f.connect(t, "h")
	c1 := f.connect(t, "c1")
	require.NoError(t, f.o.CreateSession("h", "abc123", "s", domain.ModeFile))
	require.NoError(t, f.o.JoinSession("c1", "abc123", ""))

	f.o.OnDisconnect("h")

	assert.Equal(t, domain.TypeSessionEnded, c1.last().Type)
	_, ok := f.o.Sessions.Get("abc123")
	assert.False(t, ok)
	_, _, in := f.o.Registry.SessionOf("c1")
	assert.False(t, in)

	err := f.o.Forward("c1", domain.Envelope{Type: domain.TypeAnswer, TargetID: "h", Answer: []byte(`{}`)})
	assert.ErrorIs(t, err, core.ErrNotInSession)

	rec, err := f.store.Get(context.Background(), "abc123")
	require.NoError(t, err)
	assert.False(t, rec.IsActive)
}

func TestClientDisconnectNotifiesHost(t *testing.T) {
	f := newFixture()
	host := f.connect(t, "h")
	f.connect(t, "c1")
	require.NoError(t, f.o.CreateSession("h", "abc123", "s", domain.ModeFile))
	require.NoError(t, f.o.JoinSession("c1", "abc123", ""))

	f.o.OnDisconnect("c1")

	left := host.last()
	assert.Equal(t, domain.TypeClientLeft, left.Type)
	assert.Equal(t, domain.ConnID("c1"), left.ClientID)

	svc, ok := f.o.Sessions.Get("abc123")
	require.True(t, ok)
	assert.Equal(t, 0, svc.ClientCount())
	_, ok = f.o.Registry.Get("c1")
	assert.False(t, ok)
}

func TestSecondSessionRejected(t *testing.T) {
	f := newFixture()
	f.connect(t, "h")
	require.NoError(t, f.o.CreateSession("h", "abc123", "s", domain.ModeFile))
	err := f.o.CreateSession("h", "def456", "s", domain.ModeFile)
	assert.ErrorIs(t, err, core.ErrAlreadyInSession)
}

func TestForwardFrameKeepsPayloadVerbatim(t *testing.T) {
	f := newFixture()
	f.connect(t, "h")
	c1 := f.connect(t, "c1")
	require.NoError(t, f.o.CreateSession("h", "abc123", "s", domain.ModeLive))
	require.NoError(t, f.o.JoinSession("c1", "abc123", ""))

	raw := []byte(`{"type":"audio_chunk","target_id":"broadcast","chunk_id":7,"audioData":[0.123456789012],"sampleRate":44100,"timestamp":10}`)
	env, err := domain.Decode(raw)
	require.NoError(t, err)
	require.NoError(t, f.o.ForwardFrame("h", env, raw))

	got := c1.lastRaw()
	var fields map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(got, &fields))
	assert.NotContains(t, fields, "target_id")
	assert.JSONEq(t, `"h"`, string(fields["from_id"]))
	assert.Equal(t, "7", string(fields["chunk_id"]))
	assert.Equal(t, "[0.123456789012]", string(fields["audioData"]))
	assert.Equal(t, "44100", string(fields["sampleRate"]))
}

// racingManager runs onGet once, right after the first lookup returns.
type racingManager struct {
	core.SessionManager
	onGet func()
}

func (m *racingManager) Get(id domain.SessionID) (core.SessionService, bool) {
	svc, ok := m.SessionManager.Get(id)
	if hook := m.onGet; hook != nil {
		m.onGet = nil
		hook()
	}
	return svc, ok
}

func TestJoinLosesRaceWithHostTeardown(t *testing.T) {
	st := newMemStore()
	mgr := &racingManager{SessionManager: app.NewSessionManager()}
	f := &fixture{
		o:      New(app.NewRegistry(), mgr, app.SimplePolicy{}, st),
		store:  st,
		kicked: make(map[domain.ConnID]bool),
	}
	f.connect(t, "h")
	client := f.connect(t, "c1")
	require.NoError(t, f.o.CreateSession("h", "abc123", "s", domain.ModeFile))

	mgr.onGet = func() { f.o.OnDisconnect("h") }
	err := f.o.JoinSession("c1", "abc123", "Ann")
	assert.ErrorIs(t, err, core.ErrSessionNotFound)

	_, _, in := f.o.Registry.SessionOf("c1")
	assert.False(t, in)
	assert.NotContains(t, client.types(), domain.TypeJoinedSession)

	require.NoError(t, f.o.CreateSession("c1", "def456", "mine", domain.ModeFile))
}
