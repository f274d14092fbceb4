package core

import "time"

// Timer is a pending scheduled call.
type Timer interface {
	Stop() bool
}

// Scheduler runs f after d. Implementations used by the hub deliver f back
// into the hub loop so it runs with exclusive access to relay state.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

// typingKey is per connection: several connections may share a username.
type typingKey struct {
	room RoomKey
	conn ConnID
}

type typingEntry struct {
	username string
	gen      uint64
	timer    Timer
}

// typingTracker holds one expiry timer per (room, connection) currently typing.
// gen guards against a timer that fired after it was replaced or stopped.
type typingTracker struct {
	timeout time.Duration
	sched   Scheduler
	entries map[typingKey]*typingEntry
	gen     uint64
}

func newTypingTracker(timeout time.Duration, sched Scheduler) *typingTracker {
	return &typingTracker{
		timeout: timeout,
		sched:   sched,
		entries: make(map[typingKey]*typingEntry),
	}
}

// start arms or re-arms the timer for key. expire is called with the
// generation the timer was armed with.
func (t *typingTracker) start(key typingKey, username string, expire func(typingKey, uint64)) {
	t.stop(key)
	t.gen++
	gen := t.gen
	e := &typingEntry{username: username, gen: gen}
	e.timer = t.sched.AfterFunc(t.timeout, func() {
		expire(key, gen)
	})
	t.entries[key] = e
}

func (t *typingTracker) stop(key typingKey) {
	e, ok := t.entries[key]
	if !ok {
		return
	}
	e.timer.Stop()
	delete(t.entries, key)
}

// expired consumes the entry if gen is still current and returns the username it was armed for.
func (t *typingTracker) expired(key typingKey, gen uint64) (string, bool) {
	e, ok := t.entries[key]
	if !ok || e.gen != gen {
		return "", false
	}
	delete(t.entries, key)
	return e.username, true
}

// stopConn cancels the timers armed by conn, in room if room is non-nil or
// everywhere otherwise.
func (t *typingTracker) stopConn(conn ConnID, room *RoomKey) {
	for key, e := range t.entries {
		if key.conn != conn {
			continue
		}
		if room != nil && key.room != *room {
			continue
		}
		e.timer.Stop()
		delete(t.entries, key)
	}
}

func (t *typingTracker) len() int {
	return len(t.entries)
}

type timeScheduler struct{}

func (timeScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
