package core

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WSConfig holds the keepalive and buffering settings of websocket peers.
type WSConfig struct {
	// Send pings to peer with this period. Must be less than PongWait.
	PingPeriod time.Duration
	// Time allowed to read the next pong message from the peer.
	PongWait time.Duration
	// Time allowed to write a message to the peer.
	WriteWait time.Duration
	// Maximum message size allowed from peer.
	MaxMessageSize int64
	// Number of outbound events buffered per connection before it is
	// considered a slow consumer.
	SendBuffer int
}

var DefaultWSConfig = WSConfig{
	PingPeriod:     25 * time.Second,
	PongWait:       60 * time.Second,
	WriteWait:      10 * time.Second,
	MaxMessageSize: 64 * 1024,
	SendBuffer:     256,
}

// Authenticator resolves the verified identity of an upgrade request.
// An error means the connection is anonymous.
type Authenticator interface {
	Authenticate(r *http.Request) (*Identity, error)
}

type AuthenticatorFunc func(r *http.Request) (*Identity, error)

func (f AuthenticatorFunc) Authenticate(r *http.Request) (*Identity, error) {
	return f(r)
}

// ConnManager upgrades HTTP requests to websocket connections and attaches
// them to the hub.
type ConnManager struct {
	hub           *Hub
	authenticator Authenticator
	context       context.Context
	connWg        sync.WaitGroup
	logger        *slog.Logger
	upgrader      websocket.Upgrader
	cfg           WSConfig
}

var defaultUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type ManagerOption func(*ConnManager)

func WithCheckOrigin(f func(r *http.Request) bool) ManagerOption {
	return func(m *ConnManager) {
		m.upgrader.CheckOrigin = f
	}
}

func WithLogger(l *slog.Logger) ManagerOption {
	return func(m *ConnManager) {
		m.logger = l
	}
}

func WithAuthenticator(a Authenticator) ManagerOption {
	return func(m *ConnManager) {
		m.authenticator = a
	}
}

func WithWSConfig(cfg WSConfig) ManagerOption {
	return func(m *ConnManager) {
		m.cfg = cfg
	}
}

func NewConnManager(ctx context.Context, hub *Hub, opts ...ManagerOption) *ConnManager {
	m := &ConnManager{
		hub:      hub,
		context:  ctx,
		logger:   hub.logger,
		upgrader: defaultUpgrader,
		cfg:      DefaultWSConfig,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *ConnManager) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var identity *Identity
	if m.authenticator != nil {
		id, err := m.authenticator.Authenticate(r)
		if err != nil {
			m.logger.Debug("anonymous connection", slog.String("reason", err.Error()))
		} else {
			identity = id
		}
	}

	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.logger.Debug("upgrade failed", slog.String("err", err.Error()))
		return
	}

	wsConn := newWSConn(m.context, conn, m.hub, m.cfg, m.logger)
	id, err := m.hub.Attach(wsConn, identity)
	if err != nil {
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
		conn.Close()
		return
	}
	wsConn.id = id
	wsConn.logger = m.logger.With(slog.String("conn", string(id)))

	m.connWg.Add(1)
	go func() {
		defer m.connWg.Done()
		wsConn.readLoop()
	}()
	m.connWg.Add(1)
	go func() {
		defer m.connWg.Done()
		wsConn.writeLoop()
	}()
}

// Wait blocks until every connection goroutine has exited or ctx is done.
func (m *ConnManager) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.connWg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
