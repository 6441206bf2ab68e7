package signal

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/dkeye/AudioSync/internal/core"
	"github.com/dkeye/AudioSync/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Client is the participant end of the relay channel.
type Client struct {
	id   domain.ConnID
	conn *WsSignalConn
	opts Options

	incoming chan domain.Envelope
	done     chan struct{}
	closing  chan struct{}
	once     sync.Once
	logger   zerolog.Logger
}

// Dial connects to <base>/ws/<id>.
func Dial(ctx context.Context, base string, id domain.ConnID, opts Options) (*Client, error) {
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("relay url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws/" + url.PathEscape(string(id))

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	ws, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial relay: %w", err)
	}

	c := &Client{
		id:       id,
		conn:     &WsSignalConn{conn: ws, send: make(chan core.Frame, opts.SendBuffer)},
		opts:     opts,
		incoming: make(chan domain.Envelope, opts.SendBuffer),
		done:     make(chan struct{}),
		closing:  make(chan struct{}),
		logger:   log.With().Str("module", "signal.client").Str("conn", string(id)).Logger(),
	}
	go c.writeLoop()
	go c.readLoop()
	c.logger.Info().Str("url", u.String()).Msg("relay connected")
	return c, nil
}

func (c *Client) ID() domain.ConnID { return c.id }

// Incoming yields decoded envelopes; it is closed when the channel drops.
func (c *Client) Incoming() <-chan domain.Envelope { return c.incoming }

// Done is closed once the relay connection is gone.
func (c *Client) Done() <-chan struct{} { return c.done }

func (c *Client) Send(env domain.Envelope) error {
	b, err := domain.Encode(env)
	if err != nil {
		return err
	}
	return c.conn.TrySend(b)
}

func (c *Client) Close() {
	c.once.Do(func() {
		close(c.closing)
		_ = c.conn.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(c.opts.WriteWait))
		c.conn.Close()
	})
}

func (c *Client) writeLoop() {
	ticker := time.NewTicker(c.opts.PingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.conn.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.opts.WriteWait)); err != nil {
				c.logger.Debug().Err(err).Msg("ping")
				return
			}
		case data, ok := <-c.conn.send:
			if !ok {
				return
			}
			_ = c.conn.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			if err := c.conn.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Error().Err(err).Msg("write")
				c.conn.Close()
				return
			}
		}
	}
}

func (c *Client) readLoop() {
	defer func() {
		close(c.incoming)
		close(c.done)
		c.conn.Close()
		c.logger.Info().Msg("relay connection closed")
	}()

	ws := c.conn.conn
	ws.SetReadLimit(c.opts.ReadLimit)
	_ = ws.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	})
	// Server pings keep the read deadline alive as well.
	ws.SetPingHandler(func(data string) error {
		_ = ws.SetReadDeadline(time.Now().Add(c.opts.PongWait))
		return ws.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(c.opts.WriteWait))
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn().Err(err).Msg("read")
			}
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(c.opts.PongWait))
		env, err := domain.Decode(data)
		if err != nil {
			c.logger.Warn().Err(err).Msg("bad json from relay")
			continue
		}
		select {
		case c.incoming <- env:
		case <-c.closing:
			return
		}
	}
}
