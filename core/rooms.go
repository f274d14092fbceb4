package core

import (
	"slices"
	"strings"
)

type RoomKind uint8

const (
	// GameRoomKind is a live chat room attached to a fixture.
	GameRoomKind RoomKind = iota
	// DMRoomKind is the live room of a direct message conversation.
	DMRoomKind
)

const dmRoomPrefix = "dm_"

// RoomKey identifies a room. The kind keeps game and DM rooms in separate
// namespaces even when their ids collide.
type RoomKey struct {
	Kind RoomKind
	ID   string
}

func GameRoom(gameID string) RoomKey {
	return RoomKey{Kind: GameRoomKind, ID: gameID}
}

func DMRoom(conversationID string) RoomKey {
	return RoomKey{Kind: DMRoomKind, ID: conversationID}
}

// String renders the key the way clients see it: the game id for game rooms
// and dm_<conversationId> for DM rooms.
func (k RoomKey) String() string {
	if k.Kind == DMRoomKind {
		return dmRoomPrefix + k.ID
	}
	return k.ID
}

// Member is a membership entry as sent to clients in presence payloads.
type Member struct {
	ConnID   ConnID  `json:"socketId"`
	Username string  `json:"username"`
	Avatar   string  `json:"avatar"`
	UserID   *string `json:"userId"`
}

type room struct {
	members map[ConnID]Member
	// order keeps insertion order for presence payloads.
	order []ConnID
}

// Departure describes one room a connection was removed from.
type Departure struct {
	Room      RoomKey
	Member    Member
	Remaining int
}

// Rooms is the membership table: room -> connection -> member.
// Rooms are created on first join and deleted as soon as they are empty.
type Rooms struct {
	rooms  map[RoomKey]*room
	byConn map[ConnID]map[RoomKey]struct{}
}

func NewRooms() *Rooms {
	return &Rooms{
		rooms:  make(map[RoomKey]*room),
		byConn: make(map[ConnID]map[RoomKey]struct{}),
	}
}

// Join adds the member to the room, or replaces its metadata if the
// connection is already in the room. It returns true if the connection was
// not a member before.
func (t *Rooms) Join(key RoomKey, m Member) bool {
	rm, ok := t.rooms[key]
	if !ok {
		rm = &room{members: make(map[ConnID]Member)}
		t.rooms[key] = rm
	}

	_, existed := rm.members[m.ConnID]
	rm.members[m.ConnID] = m
	if existed {
		return false
	}
	rm.order = append(rm.order, m.ConnID)

	keys, ok := t.byConn[m.ConnID]
	if !ok {
		keys = make(map[RoomKey]struct{})
		t.byConn[m.ConnID] = keys
	}
	keys[key] = struct{}{}
	return true
}

// Leave removes the connection from the room. ok is false if it was not a member.
func (t *Rooms) Leave(key RoomKey, conn ConnID) (m Member, remaining int, ok bool) {
	rm, found := t.rooms[key]
	if !found {
		return Member{}, 0, false
	}
	m, ok = rm.members[conn]
	if !ok {
		return Member{}, len(rm.members), false
	}

	delete(rm.members, conn)
	if idx := slices.Index(rm.order, conn); idx != -1 {
		rm.order = slices.Delete(rm.order, idx, idx+1)
	}
	if len(rm.members) == 0 {
		delete(t.rooms, key)
	}

	if keys, found := t.byConn[conn]; found {
		delete(keys, key)
		if len(keys) == 0 {
			delete(t.byConn, conn)
		}
	}
	return m, len(rm.members), true
}

// LeaveAll removes the connection from every room it is in and returns one
// departure per affected room, ordered by room key.
func (t *Rooms) LeaveAll(conn ConnID) []Departure {
	keys := t.RoomsOf(conn)
	deps := make([]Departure, 0, len(keys))
	for _, key := range keys {
		m, remaining, ok := t.Leave(key, conn)
		if !ok {
			continue
		}
		deps = append(deps, Departure{Room: key, Member: m, Remaining: remaining})
	}
	return deps
}

// Members returns a copy of the room's members in join order.
func (t *Rooms) Members(key RoomKey) []Member {
	rm, ok := t.rooms[key]
	if !ok {
		return []Member{}
	}
	members := make([]Member, 0, len(rm.order))
	for _, id := range rm.order {
		members = append(members, rm.members[id])
	}
	return members
}

// Member returns the entry of conn in the room.
func (t *Rooms) Member(key RoomKey, conn ConnID) (Member, bool) {
	rm, ok := t.rooms[key]
	if !ok {
		return Member{}, false
	}
	m, ok := rm.members[conn]
	return m, ok
}

func (t *Rooms) Contains(key RoomKey, conn ConnID) bool {
	rm, ok := t.rooms[key]
	if !ok {
		return false
	}
	_, ok = rm.members[conn]
	return ok
}

// Count returns the number of members in the room, zero if the room does not exist.
func (t *Rooms) Count(key RoomKey) int {
	rm, ok := t.rooms[key]
	if !ok {
		return 0
	}
	return len(rm.members)
}

// RoomsOf returns the rooms the connection is in, ordered by room key.
func (t *Rooms) RoomsOf(conn ConnID) []RoomKey {
	keys := make([]RoomKey, 0, len(t.byConn[conn]))
	for key := range t.byConn[conn] {
		keys = append(keys, key)
	}
	slices.SortFunc(keys, func(a, b RoomKey) int {
		if a.Kind != b.Kind {
			return int(a.Kind) - int(b.Kind)
		}
		return strings.Compare(a.ID, b.ID)
	})
	return keys
}

// Len returns the number of live rooms.
func (t *Rooms) Len() int {
	return len(t.rooms)
}

func (t *Rooms) each(key RoomKey, f func(Member)) {
	rm, ok := t.rooms[key]
	if !ok {
		return
	}
	for _, id := range rm.order {
		f(rm.members[id])
	}
}
