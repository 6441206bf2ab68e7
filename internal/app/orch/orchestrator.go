// Package orch implements the signaling relay: session discovery and
// forwarding of negotiation and application envelopes between peers.
package orch

import (
	"context"
	"time"

	"github.com/dkeye/AudioSync/internal/app"
	"github.com/dkeye/AudioSync/internal/core"
	"github.com/dkeye/AudioSync/internal/domain"
	"github.com/rs/zerolog/log"
)

const storeTimeout = 2 * time.Second

type Orchestrator struct {
	Registry *app.Registry
	Sessions core.SessionManager
	Policy   app.Policy
	// Store is optional; nil disables session record persistence.
	Store core.SessionStore
}

func New(reg *app.Registry, sessions core.SessionManager, policy app.Policy, store core.SessionStore) *Orchestrator {
	return &Orchestrator{
		Registry: reg,
		Sessions: sessions,
		Policy:   policy,
		Store:    store,
	}
}

// Connect registers a fresh relay connection.
func (o *Orchestrator) Connect(id domain.ConnID, ms core.MemberSession, cancel context.CancelFunc) error {
	return o.Registry.Bind(id, ms, cancel)
}

// Kick cancels the connection; its read loop then runs OnDisconnect.
func (o *Orchestrator) Kick(id domain.ConnID) {
	if !o.Registry.Cancel(id) {
		return
	}
	log.Warn().Str("module", "orch").Str("conn", string(id)).Msg("kicked")
}

func (o *Orchestrator) send(ms core.MemberSession, env domain.Envelope) error {
	b, err := domain.Encode(env)
	if err != nil {
		return err
	}
	return ms.Signal().TrySend(b)
}

// SendTo delivers env to a connection outside of any session context.
func (o *Orchestrator) SendTo(id domain.ConnID, env domain.Envelope) error {
	ms, ok := o.Registry.Get(id)
	if !ok {
		return core.ErrTargetNotFound
	}
	return o.send(ms, env)
}

func (o *Orchestrator) withStore(fn func(ctx context.Context, s core.SessionStore) error) {
	if o.Store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := fn(ctx, o.Store); err != nil {
		log.Error().Err(err).Str("module", "orch").Msg("session store")
	}
}
