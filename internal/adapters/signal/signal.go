// Package signal carries the signaling protocol over websockets: the
// server-side controller that feeds upgraded connections to a
// Switchboard, and the client-side dialer used by the call agent.
package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/dkeye/televisit/internal/signaling"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var ErrBackpressure = errors.New("backpressure")

const (
	writeWait  = 5 * time.Second
	sendBuffer = 32
)

// Options tune one websocket connection. Zero values disable the read
// limit and keepalive pings.
type Options struct {
	ReadLimit  int64
	PingPeriod time.Duration
}

// WsSignalConn adapts a websocket to signaling.Conn. Messages are JSON
// text frames.
type WsSignalConn struct {
	conn   *websocket.Conn
	send   chan []byte
	recv   chan signaling.Message
	done   chan struct{}
	opts   Options
	logger zerolog.Logger

	mu     sync.RWMutex
	closed bool
}

var _ signaling.Conn = (*WsSignalConn)(nil)

// NewWsSignalConn starts the read and write pumps. The connection closes
// when ctx is done, on a transport error, or on Close.
func NewWsSignalConn(ctx context.Context, ws *websocket.Conn, opts Options, logger zerolog.Logger) *WsSignalConn {
	c := &WsSignalConn{
		conn:   ws,
		send:   make(chan []byte, sendBuffer),
		recv:   make(chan signaling.Message),
		done:   make(chan struct{}),
		opts:   opts,
		logger: logger,
	}
	go c.writePump(ctx)
	go c.readPump()
	return c
}

func (c *WsSignalConn) Send(msg signaling.Message) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", msg.Type, err)
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return signaling.ErrConnClosed
	}
	select {
	case c.send <- b:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Receive() <-chan signaling.Message { return c.recv }

func (c *WsSignalConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	close(c.done)
	close(c.send)
	return c.conn.Close()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// SignalWSController upgrades signaling requests and serves them on a
// switchboard.
type SignalWSController struct {
	Switchboard *signaling.Switchboard
	Options     Options
}

func NewSignalWSController(sb *signaling.Switchboard, opts Options) *SignalWSController {
	return &SignalWSController{Switchboard: sb, Options: opts}
}

func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	sid := c.GetString("client_token")
	logger := log.With().Str("module", "signal").Str("sid", sid).Logger()
	logger.Info().Msg("new WS connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Error().Err(err).Msg("ws upgrade")
		return
	}
	conn := NewWsSignalConn(ctx, ws, ctl.Options, logger)
	go ctl.Switchboard.Serve(ctx, conn)
}

// Dialer returns a signaling.DialFunc connecting to the websocket at url.
// ctx bounds only the handshake; the connection lives until closed.
func Dialer(url string, opts Options) signaling.DialFunc {
	return func(ctx context.Context) (signaling.Conn, error) {
		ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
		if err != nil {
			return nil, fmt.Errorf("dial %s: %w", url, err)
		}
		logger := log.With().Str("module", "signal").Str("url", url).Logger()
		logger.Info().Msg("connected")
		return NewWsSignalConn(context.WithoutCancel(ctx), ws, opts, logger), nil
	}
}
