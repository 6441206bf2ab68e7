package signal

import (
	"errors"

	"github.com/dkeye/AudioSync/internal/core"
	"github.com/dkeye/AudioSync/internal/domain"
	"github.com/rs/zerolog/log"
)

var errRateLimited = errors.New("too many session requests")

func (ctl *SignalWSController) handleSignal(id domain.ConnID, c *WsSignalConn, data []byte) {
	env, err := domain.Decode(data)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("conn", string(id)).Msg("bad json")
		ctl.sendError(c, "invalid message")
		return
	}
	if err := ctl.validate.Struct(env); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("conn", string(id)).Str("type", string(env.Type)).Msg("invalid envelope")
		ctl.sendError(c, "invalid payload")
		return
	}

	switch {
	case env.Type == domain.TypeHostCreateSession:
		err = ctl.handleCreate(id, env)
	case env.Type == domain.TypeClientJoinSession:
		err = ctl.handleJoin(id, env)
	case env.Type == domain.TypePing:
		ctl.sendEnvelope(c, domain.Envelope{Type: domain.TypePong})
	case env.Type.IsNegotiation(), env.Type.IsApplication():
		err = ctl.Orch.ForwardFrame(id, env, data)
	default:
		log.Warn().Str("module", "signal").Str("type", string(env.Type)).Msg("unknown signal")
		ctl.sendError(c, "unknown message type")
		return
	}
	if err != nil {
		log.Info().Err(err).Str("module", "signal").Str("conn", string(id)).Str("type", string(env.Type)).Msg("request rejected")
		ctl.sendError(c, errorMessage(err))
	}
}

func (ctl *SignalWSController) handleCreate(id domain.ConnID, env domain.Envelope) error {
	if !ctl.limiter.Allow(id) {
		return errRateLimited
	}
	name := env.SessionName
	if name == "" {
		name = string(env.SessionID)
	}
	return ctl.Orch.CreateSession(id, env.SessionID, name, domain.ParseMode(string(env.Mode)))
}

func (ctl *SignalWSController) handleJoin(id domain.ConnID, env domain.Envelope) error {
	if !ctl.limiter.Allow(id) {
		return errRateLimited
	}
	return ctl.Orch.JoinSession(id, env.SessionID, env.ClientName)
}

// errorMessage maps relay errors to the messages participants expect.
func errorMessage(err error) string {
	switch {
	case errors.Is(err, core.ErrSessionNotFound):
		return "Session not found"
	case errors.Is(err, core.ErrDuplicateSession):
		return "Session already exists"
	default:
		return err.Error()
	}
}

func (ctl *SignalWSController) sendError(c *WsSignalConn, msg string) {
	ctl.sendEnvelope(c, domain.NewErrorEnvelope(msg))
}

func (ctl *SignalWSController) sendEnvelope(c *WsSignalConn, env domain.Envelope) {
	b, err := domain.Encode(env)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("encode")
		return
	}
	_ = c.TrySend(b)
}
