package core

import (
	"github.com/pion/webrtc/v4"
)

// PeerState is the negotiation phase of one direct peer channel.
type PeerState int

const (
	PeerIdle PeerState = iota
	PeerNegotiating
	PeerConnected
	PeerClosed
)

func (s PeerState) String() string {
	switch s {
	case PeerIdle:
		return "idle"
	case PeerNegotiating:
		return "negotiating"
	case PeerConnected:
		return "connected"
	case PeerClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// PeerRole decides who creates the data channel and the offer.
type PeerRole int

const (
	PeerRoleHost PeerRole = iota
	PeerRoleClient
)

// PeerChannel negotiates and owns one direct low-latency channel between
// a host and a client.
type PeerChannel interface {
	// Initialize moves idle -> negotiating.
	Initialize(role PeerRole) error
	// CreateOffer returns nil when the channel was never initialized.
	CreateOffer() (*webrtc.SessionDescription, error)
	CreateAnswer(offer webrtc.SessionDescription) (*webrtc.SessionDescription, error)
	// ApplyAnswer and ApplyICECandidate tolerate duplicates and late arrivals.
	ApplyAnswer(answer webrtc.SessionDescription) error
	ApplyICECandidate(c webrtc.ICECandidateInit) error
	// Send is best effort: dropped unless connected.
	Send(data []byte)
	State() PeerState
	Close()

	OnICECandidate(func(webrtc.ICECandidateInit))
	OnStateChange(func(PeerState))
	OnMessage(func([]byte))
}
