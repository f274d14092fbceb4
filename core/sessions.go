package core

// Sessions indexes the connections bound to each user id, independently of
// room membership. A connection is bound to at most one user id.
type Sessions struct {
	byUser map[string]map[ConnID]struct{}
	byConn map[ConnID]string
}

func NewSessions() *Sessions {
	return &Sessions{
		byUser: make(map[string]map[ConnID]struct{}),
		byConn: make(map[ConnID]string),
	}
}

// Register binds the connection to userID. A connection that was bound to
// another user is moved.
func (s *Sessions) Register(conn ConnID, userID string) {
	if userID == "" {
		return
	}
	if prev, ok := s.byConn[conn]; ok {
		if prev == userID {
			return
		}
		s.unbind(conn, prev)
	}
	conns, ok := s.byUser[userID]
	if !ok {
		conns = make(map[ConnID]struct{})
		s.byUser[userID] = conns
	}
	conns[conn] = struct{}{}
	s.byConn[conn] = userID
}

// Unregister removes the connection from whichever user it was bound to.
func (s *Sessions) Unregister(conn ConnID) (string, bool) {
	userID, ok := s.byConn[conn]
	if !ok {
		return "", false
	}
	s.unbind(conn, userID)
	return userID, true
}

func (s *Sessions) unbind(conn ConnID, userID string) {
	delete(s.byConn, conn)
	conns, ok := s.byUser[userID]
	if !ok {
		return
	}
	delete(conns, conn)
	if len(conns) == 0 {
		delete(s.byUser, userID)
	}
}

func (s *Sessions) UserOf(conn ConnID) (string, bool) {
	userID, ok := s.byConn[conn]
	return userID, ok
}

func (s *Sessions) ConnsOf(userID string) []ConnID {
	conns := make([]ConnID, 0, len(s.byUser[userID]))
	for c := range s.byUser[userID] {
		conns = append(conns, c)
	}
	return conns
}

// Online reports whether any connection is bound to the user.
func (s *Sessions) Online(userID string) bool {
	_, ok := s.byUser[userID]
	return ok
}

// Len returns the number of users with at least one bound connection.
func (s *Sessions) Len() int {
	return len(s.byUser)
}
