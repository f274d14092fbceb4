package core

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakePeer struct {
	events []*Event
	closed bool
	// capacity bounds the number of undrained events, zero means unbounded.
	capacity int
}

func (p *fakePeer) Deliver(e *Event) bool {
	if p.capacity > 0 && len(p.events) >= p.capacity {
		return false
	}
	p.events = append(p.events, e)
	return true
}

func (p *fakePeer) Close() {
	p.closed = true
}

// take drains the received events.
func (p *fakePeer) take() []*Event {
	events := p.events
	p.events = nil
	return events
}

func (p *fakePeer) types() []string {
	types := make([]string, 0, len(p.events))
	for _, e := range p.events {
		types = append(types, e.Type)
	}
	return types
}

func (p *fakePeer) count(eventType string) int {
	n := 0
	for _, e := range p.events {
		if e.Type == eventType {
			n++
		}
	}
	return n
}

func (p *fakePeer) last(t *testing.T, eventType string) *Event {
	t.Helper()
	for i := len(p.events) - 1; i >= 0; i-- {
		if p.events[i].Type == eventType {
			return p.events[i]
		}
	}
	t.Fatalf("no %s event received, got %v", eventType, p.types())
	return nil
}

func payloadOf[T any](t *testing.T, e *Event) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(e.Payload, &v))
	return v
}

type manualTimer struct {
	at      time.Duration
	f       func()
	stopped bool
	fired   bool
}

func (t *manualTimer) Stop() bool {
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

// manualScheduler fires timers synchronously when advanced.
type manualScheduler struct {
	now    time.Duration
	timers []*manualTimer
}

func (s *manualScheduler) AfterFunc(d time.Duration, f func()) Timer {
	t := &manualTimer{at: s.now + d, f: f}
	s.timers = append(s.timers, t)
	return t
}

func (s *manualScheduler) advance(d time.Duration) {
	s.now += d
	timers := append([]*manualTimer(nil), s.timers...)
	for _, t := range timers {
		if t.stopped || t.fired || t.at > s.now {
			continue
		}
		t.fired = true
		t.f()
	}
}

type relayFixture struct {
	t     *testing.T
	relay *Relay
	sched *manualScheduler
	clock time.Time
	seq   int
}

func newRelayFixture(t *testing.T, opts ...RelayOption) *relayFixture {
	f := &relayFixture{
		t:     t,
		sched: &manualScheduler{},
		clock: time.Date(2024, 12, 1, 18, 0, 0, 0, time.UTC),
	}
	base := []RelayOption{
		WithScheduler(f.sched),
		WithClock(func() time.Time { return f.clock }),
		WithMessageIDs(func() string {
			f.seq++
			return fmt.Sprintf("msg-%d", f.seq)
		}),
	}
	f.relay = NewRelay(append(base, opts...)...)
	return f
}

func (f *relayFixture) attach(identity *Identity) (ConnID, *fakePeer) {
	p := &fakePeer{}
	return f.relay.Attach(p, identity), p
}

func (f *relayFixture) send(conn ConnID, eventType string, payload any) {
	f.t.Helper()
	e, err := NewEvent(eventType, payload)
	require.NoError(f.t, err)
	f.relay.HandleEvent(conn, e)
}

func (f *relayFixture) join(conn ConnID, gameID, username string) {
	f.send(conn, JoinRoomEvent, map[string]any{
		"gameId": gameID,
		"user":   map[string]any{"id": "id-" + username, "username": username},
	})
}

func takeAll(peers ...*fakePeer) {
	for _, p := range peers {
		p.take()
	}
}
