package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/dkeye/AudioSync/internal/app/orch"
	"github.com/dkeye/AudioSync/internal/config"
	"github.com/dkeye/AudioSync/internal/core"
	"github.com/dkeye/AudioSync/internal/domain"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrConnClosed   = errors.New("connection closed")
)

type Options struct {
	ReadLimit  int64
	PingPeriod time.Duration
	PongWait   time.Duration
	WriteWait  time.Duration
	SendBuffer int
	// JoinLimit caps create/join attempts per connection within JoinWindow.
	JoinLimit  int
	JoinWindow time.Duration
}

func OptionsFromConfig(cfg *config.Config) Options {
	o := DefaultOptions()
	if cfg.ReadLimit > 0 {
		o.ReadLimit = cfg.ReadLimit
	}
	if cfg.PingPeriod > 0 {
		o.PingPeriod = cfg.PingPeriod
	}
	if cfg.PongWait > 0 {
		o.PongWait = cfg.PongWait
	}
	if cfg.WriteWait > 0 {
		o.WriteWait = cfg.WriteWait
	}
	if cfg.SendBuffer > 0 {
		o.SendBuffer = cfg.SendBuffer
	}
	return o
}

func DefaultOptions() Options {
	return Options{
		ReadLimit:  1 << 20,
		PingPeriod: 54 * time.Second,
		PongWait:   60 * time.Second,
		WriteWait:  5 * time.Second,
		SendBuffer: 256,
		JoinLimit:  10,
		JoinWindow: time.Minute,
	}
}

// SignalWSController serves the relay channel of every participant.
type SignalWSController struct {
	Orch     *orch.Orchestrator
	opts     Options
	validate *validator.Validate
	limiter  *JoinRateLimiter
}

func NewSignalWSController(o *orch.Orchestrator, opts Options) *SignalWSController {
	return &SignalWSController{
		Orch:     o,
		opts:     opts,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		limiter:  NewJoinRateLimiter(opts.JoinLimit, opts.JoinWindow),
	}
}

type WsSignalConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrConnClosed
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// HandleSignal upgrades the request and runs the pumps for connection id
// until either side goes away. A connection id that is already live is
// refused with 409 before the upgrade.
func (ctl *SignalWSController) HandleSignal(ctx context.Context, w http.ResponseWriter, r *http.Request, id domain.ConnID) {
	logger := log.With().Str("module", "signal").Str("conn", string(id)).Logger()

	if err := domain.ValidateConnID(id); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if _, live := ctl.Orch.Registry.Get(id); live {
		http.Error(w, core.ErrConnectionExists.Error(), http.StatusConflict)
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error().Err(err).Msg("ws upgrade")
		return
	}

	conn := &WsSignalConn{
		conn: ws,
		send: make(chan core.Frame, ctl.opts.SendBuffer),
	}

	p, err := domain.NewParticipant(id, "")
	if err != nil {
		logger.Error().Err(err).Msg("new participant")
		_ = ws.Close()
		return
	}
	sess := core.NewMemberSession(domain.NewMember(p, domain.RoleClient), conn)
	ctx, cancel := context.WithCancel(ctx)
	if err := ctl.Orch.Connect(id, sess, cancel); err != nil {
		cancel()
		logger.Warn().Err(err).Msg("connect")
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, err.Error()),
			time.Now().Add(ctl.opts.WriteWait))
		_ = ws.Close()
		return
	}
	logger.Info().Msg("new WS connection")

	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, cancel, id, conn)
}
