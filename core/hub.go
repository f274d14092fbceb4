package core

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

type HubState int

const (
	StateClosed HubState = iota
	StateClosing
	StateRunning
)

type attachRequest struct {
	peer     Peer
	identity *Identity
	reply    chan ConnID
}

type inboundEvent struct {
	conn  ConnID
	event *Event
}

// Hub runs a Relay on a single goroutine. Transport goroutines hand it
// attaches, detaches and events over channels, so every relay operation runs
// to completion before the next one starts.
type Hub struct {
	relay *Relay

	attachChan chan attachRequest
	detachChan chan ConnID
	in         chan inboundEvent
	// tasks runs arbitrary functions in the hub loop: scheduled timers and queries.
	tasks chan func()
	// exit signals the loop to stop.
	exit chan struct{}
	done chan struct{}

	logger       *slog.Logger
	closeTimeout time.Duration

	state HubState
	mu    sync.RWMutex
}

type HubOption func(*Hub)

func WithHubLogger(l *slog.Logger) HubOption {
	return func(h *Hub) {
		h.logger = l
	}
}

func WithCloseTimeout(d time.Duration) HubOption {
	return func(h *Hub) {
		h.closeTimeout = d
	}
}

func NewHub(relay *Relay, opts ...HubOption) *Hub {
	h := &Hub{
		relay:        relay,
		attachChan:   make(chan attachRequest),
		detachChan:   make(chan ConnID),
		in:           make(chan inboundEvent, 256),
		tasks:        make(chan func()),
		exit:         make(chan struct{}),
		done:         make(chan struct{}),
		logger:       relay.logger,
		closeTimeout: 10 * time.Second,
		state:        StateClosed,
	}
	for _, opt := range opts {
		opt(h)
	}
	relay.useScheduler(hubScheduler{hub: h})
	return h
}

func (h *Hub) Start() {
	h.mu.Lock()
	h.state = StateRunning
	h.mu.Unlock()
	go func() {
		defer func() {
			h.mu.Lock()
			h.state = StateClosed
			h.mu.Unlock()
			close(h.done)
			h.logger.Info("hub stopped")
		}()
		h.loop()
	}()
	h.logger.Info("hub started")
}

func (h *Hub) loop() {
	for {
		select {
		case <-h.exit:
			return
		case req := <-h.attachChan:
			// Close has already detached everyone, late peers are refused
			if h.State() != StateRunning {
				req.reply <- ""
				continue
			}
			req.reply <- h.relay.Attach(req.peer, req.identity)
		case id := <-h.detachChan:
			h.safely(func() { h.relay.Detach(id) })
		case ev := <-h.in:
			h.safely(func() { h.relay.HandleEvent(ev.conn, ev.event) })
		case task := <-h.tasks:
			h.safely(task)
		}
	}
}

// safely keeps the loop alive when a handler panics.
func (h *Hub) safely(f func()) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error(fmt.Sprintf("recovered from panic in hub: %v", r))
		}
	}()
	f()
}

func (h *Hub) State() HubState {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.state
}

// Attach registers a peer with the relay and returns its connection id.
// It returns ErrHubClosed once Close has started.
func (h *Hub) Attach(peer Peer, identity *Identity) (ConnID, error) {
	reply := make(chan ConnID, 1)
	select {
	case h.attachChan <- attachRequest{peer: peer, identity: identity, reply: reply}:
	case <-h.exit:
		return "", ErrHubClosed
	}
	id := <-reply
	if id == "" {
		return "", ErrHubClosed
	}
	return id, nil
}

// Receive hands a client event to the relay.
func (h *Hub) Receive(id ConnID, e *Event) {
	select {
	case h.in <- inboundEvent{conn: id, event: e}:
	case <-h.exit:
	}
}

// Detach removes the connection from the relay. It is safe to call for a
// connection that is already gone.
func (h *Hub) Detach(id ConnID) {
	select {
	case h.detachChan <- id:
	case <-h.exit:
	}
}

// Do runs f in the hub loop and waits for it to return.
func (h *Hub) Do(f func(*Relay)) error {
	done := make(chan struct{})
	task := func() {
		defer close(done)
		f(h.relay)
	}
	select {
	case h.tasks <- task:
	case <-h.exit:
		return ErrHubClosed
	}
	<-done
	return nil
}

// Presence returns the live presence of a room.
func (h *Hub) Presence(key RoomKey) (RoomPresence, error) {
	var p RoomPresence
	err := h.Do(func(r *Relay) {
		p = r.Presence(key)
	})
	return p, err
}

// Online reports whether userID has a live bound connection.
func (h *Hub) Online(userID string) (bool, error) {
	var online bool
	err := h.Do(func(r *Relay) {
		online = r.Online(userID)
	})
	return online, err
}

// Close detaches and closes every connection, then stops the loop. It waits
// at most closeTimeout for the loop to exit.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.state != StateRunning {
		h.mu.Unlock()
		return
	}
	h.state = StateClosing
	h.mu.Unlock()

	h.logger.Info("closing connections...")
	if err := h.Do(func(r *Relay) { r.DetachAll() }); err != nil {
		h.logger.Error(err.Error())
	}

	h.logger.Info("exiting hub...")
	close(h.exit)
	timer := time.NewTimer(h.closeTimeout)
	defer timer.Stop()
	select {
	case <-timer.C:
		h.logger.Info("hub closed with timeout")
	case <-h.done:
		h.logger.Info("hub closed gracefully")
	}
}

// hubScheduler fires timers back into the hub loop.
type hubScheduler struct {
	hub *Hub
}

func (s hubScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, func() {
		select {
		case s.hub.tasks <- f:
		case <-s.hub.exit:
		}
	})
}
