package core

// RoomPresence is the count and member list of a room.
type RoomPresence struct {
	Room  string   `json:"room"`
	Count int      `json:"count"`
	Users []Member `json:"users"`
}

// PresenceOf derives the presence of a room from the membership table.
// It holds no state of its own.
func PresenceOf(rooms *Rooms, key RoomKey) RoomPresence {
	users := rooms.Members(key)
	return RoomPresence{
		Room:  key.String(),
		Count: len(users),
		Users: users,
	}
}
