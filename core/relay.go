package core

import (
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Relay routes client events to rooms and fans out the resulting server
// events. It owns the connection registry, the membership table and the DM
// session index.
//
// A Relay is not safe for concurrent use. Every call must run to completion
// before the next one starts; Hub provides that by running the relay on a
// single goroutine.
type Relay struct {
	registry *Registry
	rooms    *Rooms
	sessions *Sessions
	typing   *typingTracker

	logger        *slog.Logger
	now           func() time.Time
	newMessageID  func() string
	sched         Scheduler
	typingTimeout time.Duration
	// trustPayloadIdentity lets anonymous connections use the identity
	// fields clients put in event payloads.
	trustPayloadIdentity bool

	// slow holds connections whose send buffer overflowed during the current
	// event. They are detached once the event has been fully handled.
	slow    []ConnID
	slowSet map[ConnID]struct{}
}

type RelayOption func(*Relay)

func WithRelayLogger(l *slog.Logger) RelayOption {
	return func(r *Relay) {
		r.logger = l
	}
}

func WithClock(now func() time.Time) RelayOption {
	return func(r *Relay) {
		r.now = now
	}
}

func WithMessageIDs(f func() string) RelayOption {
	return func(r *Relay) {
		r.newMessageID = f
	}
}

func WithScheduler(s Scheduler) RelayOption {
	return func(r *Relay) {
		r.sched = s
	}
}

// WithTypingTimeout enables server side expiry of typing indicators.
// A zero duration disables it.
func WithTypingTimeout(d time.Duration) RelayOption {
	return func(r *Relay) {
		r.typingTimeout = d
	}
}

func WithPayloadIdentity(trust bool) RelayOption {
	return func(r *Relay) {
		r.trustPayloadIdentity = trust
	}
}

func NewRelay(opts ...RelayOption) *Relay {
	r := &Relay{
		registry:             NewRegistry(),
		rooms:                NewRooms(),
		sessions:             NewSessions(),
		logger:               slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:                  time.Now,
		newMessageID:         uuid.NewString,
		sched:                timeScheduler{},
		trustPayloadIdentity: true,
		slowSet:              make(map[ConnID]struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.typingTimeout > 0 {
		r.typing = newTypingTracker(r.typingTimeout, r.sched)
	}
	return r
}

func (r *Relay) useScheduler(s Scheduler) {
	r.sched = s
	if r.typing != nil {
		r.typing.sched = s
	}
}

// Attach records a new connection. identity is nil for anonymous connections.
func (r *Relay) Attach(peer Peer, identity *Identity) ConnID {
	c := r.registry.attach(peer, identity)
	if identity != nil {
		r.logger.Debug("connection attached", slog.String("conn", string(c.id)), slog.String("user", identity.UserID))
	} else {
		r.logger.Debug("connection attached", slog.String("conn", string(c.id)))
	}
	return c.id
}

// Detach removes the connection from every room and from the session index,
// then closes its peer. Detaching an unknown connection is a no-op.
func (r *Relay) Detach(id ConnID) {
	r.detach(id)
	r.drainSlow()
}

// DetachAll detaches every live connection.
func (r *Relay) DetachAll() {
	for _, id := range r.registry.ids() {
		r.detach(id)
	}
	r.drainSlow()
}

// HandleEvent decodes a raw client event and handles it. Events that fail to
// decode are dropped.
func (r *Relay) HandleEvent(id ConnID, e *Event) {
	in, err := DecodeInbound(e)
	if err != nil {
		r.logger.Debug("dropping event", slog.String("conn", string(id)), slog.String("err", err.Error()))
		return
	}
	r.Handle(id, in)
}

// Handle applies one decoded client event.
func (r *Relay) Handle(id ConnID, in Inbound) {
	c, ok := r.registry.get(id)
	if !ok {
		r.logger.Debug("event from unknown connection", slog.String("conn", string(id)))
		return
	}

	switch in := in.(type) {
	case JoinRoom:
		r.joinRoom(c, in)
	case LeaveRoom:
		r.leave(c, GameRoom(in.GameID))
	case SendMessage:
		r.sendMessage(c, in)
	case Typing:
		r.typingSignal(c, in)
	case RegisterUser:
		r.registerUser(c, in)
	case JoinDM:
		r.joinDM(c, in)
	case LeaveDM:
		r.leave(c, DMRoom(in.ConversationID))
	case SendDM:
		r.sendDM(c, in)
	case DMTyping:
		r.dmTyping(c, in)
	default:
		r.logger.Warn("unhandled inbound event", slog.Any("event", in))
	}

	r.drainSlow()
}

// Presence returns the current presence of the room.
func (r *Relay) Presence(key RoomKey) RoomPresence {
	return PresenceOf(r.rooms, key)
}

// Online reports whether any live connection is bound to userID.
func (r *Relay) Online(userID string) bool {
	return r.sessions.Online(userID)
}

func (r *Relay) joinRoom(c *connection, in JoinRoom) {
	key := GameRoom(in.GameID)
	m := r.memberFor(c, in.User)
	if c.identity == nil && m.Username != AnonymousUsername {
		remembered := m
		c.member = &remembered
	}
	r.rooms.Join(key, m)
	r.announceJoin(key, m.Username)
}

func (r *Relay) leave(c *connection, key RoomKey) {
	m, remaining, ok := r.rooms.Leave(key, c.id)
	if !ok {
		return
	}
	if r.typing != nil {
		r.typing.stopConn(c.id, &key)
	}
	r.announceLeave(key, m.Username, remaining)
}

func (r *Relay) sendMessage(c *connection, in SendMessage) {
	key := GameRoom(in.GameID)
	if r.rooms.Count(key) == 0 {
		r.logger.Debug("message to empty room", slog.String("room", key.String()))
		return
	}
	sender, ok := r.senderFor(c, in.Message)
	if !ok {
		r.logger.Debug("message without sender identity", slog.String("conn", string(c.id)))
		return
	}
	msgType := in.Message.Type
	if msgType == "" {
		msgType = "text"
	}
	r.emit(key, "", NewMessageEvent, ChatMessage{
		ID:        r.newMessageID(),
		GameID:    in.GameID,
		User:      sender,
		Content:   in.Message.Content,
		Type:      msgType,
		CreatedAt: r.now().UTC(),
	})
}

func (r *Relay) typingSignal(c *connection, in Typing) {
	key := GameRoom(in.GameID)
	if r.rooms.Count(key) == 0 {
		return
	}
	username := r.typerName(c, key, in.Username)
	if username == "" {
		return
	}
	r.relayTyping(c, key, UserTypingEvent, username, in.IsTyping)
}

func (r *Relay) registerUser(c *connection, in RegisterUser) {
	userID := r.bindableUser(c, in.UserID)
	if userID == "" || userID != in.UserID {
		r.logger.Debug("ignoring register_user", slog.String("conn", string(c.id)))
		return
	}
	r.sessions.Register(c.id, userID)
}

func (r *Relay) joinDM(c *connection, in JoinDM) {
	if userID := r.bindableUser(c, in.UserID); userID != "" {
		r.sessions.Register(c.id, userID)
	}
	if in.ConversationID == "" {
		return
	}
	m, ok := r.dmMemberFor(c, in.User)
	if !ok {
		r.logger.Debug("dm join without identity", slog.String("conn", string(c.id)))
		return
	}
	key := DMRoom(in.ConversationID)
	r.rooms.Join(key, m)
	r.announceJoin(key, m.Username)
}

func (r *Relay) sendDM(c *connection, in SendDM) {
	key := DMRoom(in.ConversationID)
	if r.rooms.Count(key) == 0 || !r.hasIdentity(c) {
		return
	}
	r.broadcast(key, c.id, &Event{Type: NewDMEvent, Payload: in.Message})
}

func (r *Relay) dmTyping(c *connection, in DMTyping) {
	key := DMRoom(in.ConversationID)
	if r.rooms.Count(key) == 0 || !r.hasIdentity(c) {
		return
	}
	username := r.typerName(c, key, in.Username)
	if username == "" {
		return
	}
	r.relayTyping(c, key, DMUserTypingEvent, username, in.IsTyping)
}

func (r *Relay) relayTyping(c *connection, key RoomKey, eventType, username string, isTyping bool) {
	r.emit(key, c.id, eventType, TypingStatus{Username: username, IsTyping: isTyping})
	if r.typing == nil {
		return
	}
	tk := typingKey{room: key, conn: c.id}
	if isTyping {
		r.typing.start(tk, username, r.expireTyping)
	} else {
		r.typing.stop(tk)
	}
}

func (r *Relay) expireTyping(tk typingKey, gen uint64) {
	username, ok := r.typing.expired(tk, gen)
	if !ok {
		return
	}
	eventType := UserTypingEvent
	if tk.room.Kind == DMRoomKind {
		eventType = DMUserTypingEvent
	}
	r.emit(tk.room, tk.conn, eventType, TypingStatus{Username: username, IsTyping: false})
	r.drainSlow()
}

func (r *Relay) announceJoin(key RoomKey, username string) {
	p := PresenceOf(r.rooms, key)
	r.emit(key, "", RoomUsersEvent, p)
	r.emit(key, "", UserJoinedEvent, MemberChange{Room: p.Room, Username: username, Count: p.Count})
}

// announceLeave tells the remaining members about a departure. Empty rooms
// get nothing.
func (r *Relay) announceLeave(key RoomKey, username string, remaining int) {
	if remaining == 0 {
		return
	}
	p := PresenceOf(r.rooms, key)
	r.emit(key, "", RoomUsersEvent, p)
	r.emit(key, "", UserLeftEvent, MemberChange{Room: p.Room, Username: username, Count: p.Count})
}

func (r *Relay) detach(id ConnID) {
	c, ok := r.registry.remove(id)
	if !ok {
		return
	}
	c.peer.Close()
	if r.typing != nil {
		r.typing.stopConn(id, nil)
	}
	r.sessions.Unregister(id)
	deps := r.rooms.LeaveAll(id)
	for _, d := range deps {
		r.announceLeave(d.Room, d.Member.Username, d.Remaining)
	}
	r.logger.Debug("connection detached", slog.String("conn", string(id)), slog.Int("rooms", len(deps)))
}

func (r *Relay) emit(key RoomKey, except ConnID, eventType string, payload any) {
	e, err := NewEvent(eventType, payload)
	if err != nil {
		r.logger.Error(err.Error())
		return
	}
	r.broadcast(key, except, e)
}

// broadcast delivers e to every member of the room except the given connection.
func (r *Relay) broadcast(key RoomKey, except ConnID, e *Event) {
	r.rooms.each(key, func(m Member) {
		if m.ConnID == except {
			return
		}
		c, ok := r.registry.get(m.ConnID)
		if !ok {
			return
		}
		r.deliver(c, e)
	})
}

func (r *Relay) deliver(c *connection, e *Event) {
	if _, slow := r.slowSet[c.id]; slow {
		return
	}
	if c.peer.Deliver(e) {
		return
	}
	r.logger.Warn("send buffer full, dropping connection", slog.String("conn", string(c.id)))
	r.slowSet[c.id] = struct{}{}
	r.slow = append(r.slow, c.id)
}

func (r *Relay) drainSlow() {
	for len(r.slow) > 0 {
		id := r.slow[0]
		r.slow = r.slow[1:]
		r.detach(id)
	}
	clear(r.slowSet)
}

func (r *Relay) memberFor(c *connection, u *UserPayload) Member {
	m := Member{ConnID: c.id, Username: AnonymousUsername}
	if c.identity != nil {
		userID := c.identity.UserID
		m.Username = c.identity.Username
		m.Avatar = c.identity.Avatar
		m.UserID = &userID
		return m
	}
	if u == nil || !r.trustPayloadIdentity {
		return m
	}
	if u.Username != "" {
		m.Username = u.Username
	}
	m.Avatar = u.Avatar
	if u.ID != "" {
		userID := u.ID
		m.UserID = &userID
	}
	return m
}

// dmMemberFor names a DM room member. A session-bound connection without a
// verified identity uses the payload user when trusted, then the name it
// joined a game room with, and is Anonymous otherwise. The user id always
// comes from the session.
func (r *Relay) dmMemberFor(c *connection, u *UserPayload) (Member, bool) {
	if c.identity != nil {
		return r.memberFor(c, nil), true
	}
	userID, ok := r.sessions.UserOf(c.id)
	if !ok {
		return Member{}, false
	}
	m := Member{ConnID: c.id, Username: AnonymousUsername}
	switch {
	case u != nil && u.Username != "" && r.trustPayloadIdentity:
		m.Username = u.Username
		m.Avatar = u.Avatar
	case c.member != nil:
		m.Username = c.member.Username
		m.Avatar = c.member.Avatar
	}
	m.UserID = &userID
	return m, true
}

func (r *Relay) senderFor(c *connection, p *ChatPayload) (Sender, bool) {
	if c.identity != nil {
		return Sender{ID: c.identity.UserID, Username: c.identity.Username, Avatar: c.identity.Avatar}, true
	}
	if !r.trustPayloadIdentity || p.Username == "" {
		return Sender{}, false
	}
	return Sender{ID: p.UserID, Username: p.Username, Avatar: p.UserAvatar}, true
}

// typerName resolves the username shown in a typing indicator.
func (r *Relay) typerName(c *connection, key RoomKey, payload string) string {
	if c.identity != nil {
		return c.identity.Username
	}
	if r.trustPayloadIdentity && payload != "" {
		return payload
	}
	if m, ok := r.rooms.Member(key, c.id); ok {
		return m.Username
	}
	return ""
}

// bindableUser returns the user id the connection may be bound to. A verified
// identity always wins over the payload.
func (r *Relay) bindableUser(c *connection, payload string) string {
	if c.identity != nil {
		return c.identity.UserID
	}
	if r.trustPayloadIdentity {
		return payload
	}
	return ""
}

func (r *Relay) hasIdentity(c *connection) bool {
	if c.identity != nil {
		return true
	}
	_, ok := r.sessions.UserOf(c.id)
	return ok
}
