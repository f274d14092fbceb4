package core

import (
	"github.com/google/uuid"
)

// AnonymousUsername is the display name given to connections that join a room
// without any identity.
const AnonymousUsername = "Anonymous"

// ConnID identifies one live transport connection.
type ConnID string

// Identity is the verified identity of a user as produced by the auth layer.
// It is immutable for the life of a connection.
type Identity struct {
	UserID   string `json:"id"`
	Username string `json:"username"`
	Avatar   string `json:"avatar"`
}

// Peer is the relay's view of a transport connection.
type Peer interface {
	// Deliver queues an event for the connection without blocking.
	// It returns false if the connection cannot take more events.
	Deliver(e *Event) bool
	// Close releases the transport. It must not block and must be safe to call more than once.
	Close()
}

type connection struct {
	id       ConnID
	peer     Peer
	identity *Identity
	// member is the last game room membership resolved for an unverified
	// connection, reused to name it in DM rooms.
	member *Member
}

// Registry tracks live connections and the identity bound to each.
type Registry struct {
	conns map[ConnID]*connection
	newID func() ConnID
}

func NewRegistry() *Registry {
	return &Registry{
		conns: make(map[ConnID]*connection),
		newID: func() ConnID {
			return ConnID(uuid.New().String())
		},
	}
}

func (r *Registry) attach(peer Peer, identity *Identity) *connection {
	if identity != nil {
		cp := *identity
		identity = &cp
	}
	c := &connection{
		id:       r.newID(),
		peer:     peer,
		identity: identity,
	}
	r.conns[c.id] = c
	return c
}

func (r *Registry) get(id ConnID) (*connection, bool) {
	c, ok := r.conns[id]
	return c, ok
}

// remove deletes the connection. The second return value is false if the
// connection was already gone.
func (r *Registry) remove(id ConnID) (*connection, bool) {
	c, ok := r.conns[id]
	if !ok {
		return nil, false
	}
	delete(r.conns, id)
	return c, true
}

// Identity returns the verified identity bound to the connection.
// A nil identity with ok true means the connection is anonymous.
func (r *Registry) Identity(id ConnID) (*Identity, bool) {
	c, ok := r.conns[id]
	if !ok {
		return nil, false
	}
	return c.identity, true
}

func (r *Registry) Contains(id ConnID) bool {
	_, ok := r.conns[id]
	return ok
}

func (r *Registry) Len() int {
	return len(r.conns)
}

func (r *Registry) ids() []ConnID {
	ids := make([]ConnID, 0, len(r.conns))
	for id := range r.conns {
		ids = append(ids, id)
	}
	return ids
}
