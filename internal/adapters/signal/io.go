package signal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/dkeye/televisit/internal/signaling"
	"github.com/gorilla/websocket"
)

func (c *WsSignalConn) writePump(ctx context.Context) {
	defer c.Close()

	var ping <-chan time.Time
	if c.opts.PingPeriod > 0 {
		ticker := time.NewTicker(c.opts.PingPeriod)
		defer ticker.Stop()
		ping = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			c.logger.Info().Msg("writePump ctx done")
			return
		case <-ping:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.logger.Debug().Err(err).Msg("writePump ping")
				return
			}
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.logger.Error().Err(err).Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Error().Err(err).Msg("writePump write error")
				return
			}
		}
	}
}

// readPump owns recv and closes it when the connection ends.
func (c *WsSignalConn) readPump() {
	defer func() {
		c.logger.Info().Msg("readPump closing")
		close(c.recv)
		c.Close()
	}()

	if c.opts.ReadLimit > 0 {
		c.conn.SetReadLimit(c.opts.ReadLimit)
	}
	if c.opts.PingPeriod > 0 {
		pongWait := c.opts.PingPeriod * 10 / 9
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		c.conn.SetPongHandler(func(string) error {
			return c.conn.SetReadDeadline(time.Now().Add(pongWait))
		})
	}

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Warn().Err(err).Msg("readPump read error")
			}
			return
		}
		var msg signaling.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Error().Err(err).Msg("bad json")
			continue
		}
		select {
		case c.recv <- msg:
		case <-c.done:
			return
		}
	}
}
