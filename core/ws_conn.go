package core

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WSConn is a websocket peer of the relay. Events are queued on a bounded
// send buffer and written by the write loop.
type WSConn struct {
	conn    *websocket.Conn
	id      ConnID
	hub     *Hub
	context context.Context
	cfg     WSConfig
	logger  *slog.Logger

	send      chan *Event
	closed    chan struct{}
	closeOnce sync.Once
}

func newWSConn(ctx context.Context, conn *websocket.Conn, hub *Hub, cfg WSConfig, logger *slog.Logger) *WSConn {
	return &WSConn{
		conn:    conn,
		hub:     hub,
		context: ctx,
		cfg:     cfg,
		logger:  logger,
		send:    make(chan *Event, cfg.SendBuffer),
		closed:  make(chan struct{}),
	}
}

// Deliver queues e without blocking. Events delivered after Close are dropped.
func (c *WSConn) Deliver(e *Event) bool {
	select {
	case <-c.closed:
		return true
	default:
	}
	select {
	case c.send <- e:
		return true
	default:
		return false
	}
}

// Close stops the write loop, which sends a close frame to the client.
func (c *WSConn) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)
	})
}

func (c *WSConn) readLoop() {
	c.logger.Debug("read loop started")
	defer func() {
		c.hub.Detach(c.id)
		c.conn.Close()
		c.logger.Debug("read loop stopped")
	}()

	c.conn.SetReadLimit(c.cfg.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
		return nil
	})
	for {
		format, r, err := c.conn.NextReader()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debug(fmt.Sprintf("expected close: %v", err))
				return
			}
			if websocket.IsUnexpectedCloseError(err) {
				c.logger.Info(fmt.Sprintf("unexpected close: %v", err))
				return
			}
			c.logger.Debug(fmt.Sprintf("NextReader: %v", err))
			return
		}

		if format != websocket.TextMessage {
			c.logger.Debug(fmt.Sprintf("unexpected message format: %v", format))
			continue
		}

		var event Event
		if err := DecodeEvent(r, &event); err != nil {
			c.logger.Debug(err.Error())
			continue
		}
		c.hub.Receive(c.id, &event)
	}
}

func (c *WSConn) writeLoop() {
	c.logger.Debug("write loop started")
	ticker := time.NewTicker(c.cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.logger.Debug("write loop stopped")
	}()

	for {
		select {
		case e := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				c.logger.Debug(fmt.Sprintf("getting next writer: %v", err))
				return
			}
			if err := EncodeEvent(w, e); err != nil {
				c.logger.Error(err.Error())
			}
			if err := w.Close(); err != nil {
				c.logger.Debug(fmt.Sprintf("closing writer: %v", err))
				return
			}
		case <-c.closed:
			c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case <-c.context.Done():
			c.logger.Debug("context done")
			return
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Debug(fmt.Sprintf("writing ping: %v", err))
				return
			}
		}
	}
}
