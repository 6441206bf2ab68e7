package domain

import (
	"github.com/goccy/go-json"
)

type MessageType string

// Relay channel.
const (
	TypeHostCreateSession MessageType = "host_create_session"
	TypeClientJoinSession MessageType = "client_join_session"
	TypeSessionCreated    MessageType = "session_created"
	TypeClientJoined      MessageType = "client_joined"
	TypeJoinedSession     MessageType = "joined_session"
	TypeClientLeft        MessageType = "client_left"
	TypeSessionEnded      MessageType = "session_ended"
	TypeOffer             MessageType = "webrtc_offer"
	TypeAnswer            MessageType = "webrtc_answer"
	TypeICECandidate      MessageType = "webrtc_ice_candidate"
	TypePing              MessageType = "ping"
	TypePong              MessageType = "pong"
	TypeError             MessageType = "error"
)

// Direct peer channel (also accepted by the relay as a fallback path).
const (
	TypeSyncState  MessageType = "sync_state"
	TypeAudioChunk MessageType = "audio_chunk"
)

// BroadcastTarget addresses every other member of the sender's session.
const BroadcastTarget = "broadcast"

// IsNegotiation reports whether t belongs to the offer/answer/ICE exchange.
func (t MessageType) IsNegotiation() bool {
	return t == TypeOffer || t == TypeAnswer || t == TypeICECandidate
}

// IsApplication reports whether t is payload traffic rather than control.
func (t MessageType) IsApplication() bool {
	return t == TypeSyncState || t == TypeAudioChunk
}

// Envelope is the single tagged message shape shared by the relay channel and
// the direct peer channel. Field names are fixed by the wire protocol.
type Envelope struct {
	Type MessageType `json:"type" validate:"required"`

	SessionID   SessionID `json:"session_id,omitempty" validate:"required_if=Type host_create_session,required_if=Type client_join_session,max=64"`
	SessionName string    `json:"session_name,omitempty" validate:"max=128"`
	Mode        Mode      `json:"mode,omitempty" validate:"omitempty,oneof=file live"`
	ClientID    ConnID    `json:"client_id,omitempty"`
	ClientName  string    `json:"client_name,omitempty" validate:"max=64"`
	HostID      ConnID    `json:"host_id,omitempty"`
	TargetID    string    `json:"target_id,omitempty" validate:"required_if=Type webrtc_offer,required_if=Type webrtc_answer,required_if=Type webrtc_ice_candidate,max=64"`
	FromID      ConnID    `json:"from_id,omitempty"`
	Message     string    `json:"message,omitempty"`

	Offer     json.RawMessage `json:"offer,omitempty" validate:"required_if=Type webrtc_offer"`
	Answer    json.RawMessage `json:"answer,omitempty" validate:"required_if=Type webrtc_answer"`
	Candidate json.RawMessage `json:"candidate,omitempty" validate:"required_if=Type webrtc_ice_candidate"`

	PlaybackPosition *float64  `json:"playback_position,omitempty"`
	IsPlaying        *bool     `json:"is_playing,omitempty"`
	Timestamp        *float64  `json:"timestamp,omitempty"`
	CurrentTrack     string    `json:"current_track,omitempty"`
	BPM              *float64  `json:"bpm,omitempty"`
	AudioData        []float32 `json:"audioData,omitempty"`
	SampleRate       int       `json:"sampleRate,omitempty"`
}

// SyncState is the host's authoritative playback position.
// Timestamp is in milliseconds of the host reference clock.
type SyncState struct {
	PlaybackPosition float64
	IsPlaying        bool
	Timestamp        float64
	CurrentTrack     string
}

// Chunk is one frame of captured mono PCM. Timestamp is in milliseconds.
type Chunk struct {
	Samples    []float32
	Timestamp  float64
	SampleRate int
}

func NewSyncStateEnvelope(s SyncState) Envelope {
	pos, playing, ts := s.PlaybackPosition, s.IsPlaying, s.Timestamp
	return Envelope{
		Type:             TypeSyncState,
		PlaybackPosition: &pos,
		IsPlaying:        &playing,
		Timestamp:        &ts,
		CurrentTrack:     s.CurrentTrack,
	}
}

func NewAudioChunkEnvelope(c Chunk) Envelope {
	ts := c.Timestamp
	return Envelope{
		Type:       TypeAudioChunk,
		AudioData:  c.Samples,
		Timestamp:  &ts,
		SampleRate: c.SampleRate,
	}
}

func NewErrorEnvelope(msg string) Envelope {
	return Envelope{Type: TypeError, Message: msg}
}

// SyncState extracts the sync payload; ok is false for other types or
// when a required field is missing.
func (e Envelope) SyncState() (SyncState, bool) {
	if e.Type != TypeSyncState || e.PlaybackPosition == nil || e.IsPlaying == nil || e.Timestamp == nil {
		return SyncState{}, false
	}
	return SyncState{
		PlaybackPosition: *e.PlaybackPosition,
		IsPlaying:        *e.IsPlaying,
		Timestamp:        *e.Timestamp,
		CurrentTrack:     e.CurrentTrack,
	}, true
}

func (e Envelope) Chunk() (Chunk, bool) {
	if e.Type != TypeAudioChunk || e.SampleRate <= 0 {
		return Chunk{}, false
	}
	c := Chunk{Samples: e.AudioData, SampleRate: e.SampleRate}
	if e.Timestamp != nil {
		c.Timestamp = *e.Timestamp
	}
	return c, true
}

func Encode(e Envelope) ([]byte, error) {
	return json.Marshal(e)
}

func Decode(data []byte) (Envelope, error) {
	var e Envelope
	err := json.Unmarshal(data, &e)
	return e, err
}

// Readdress rewrites only the routing fields of a raw envelope: target_id is
// removed and from_id is set. Every other field is kept byte for byte.
func Readdress(raw []byte, from ConnID) ([]byte, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	delete(fields, "target_id")
	id, err := json.Marshal(from)
	if err != nil {
		return nil, err
	}
	fields["from_id"] = id
	return json.Marshal(fields)
}
