package core

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// Inbound event types, sent by clients.
const (
	JoinRoomEvent     = "join_room"
	LeaveRoomEvent    = "leave_room"
	SendMessageEvent  = "send_message"
	TypingEvent       = "typing"
	StopTypingEvent   = "stop_typing"
	RegisterUserEvent = "register_user"
	JoinDMRoomEvent   = "join_dm_room"
	LeaveDMRoomEvent  = "leave_dm_room"
	SendDMEvent       = "send_dm"
	DMTypingEvent     = "dm_typing"
)

// Outbound event types, sent by the relay.
const (
	RoomUsersEvent    = "room_users"
	UserJoinedEvent   = "user_joined"
	UserLeftEvent     = "user_left"
	NewMessageEvent   = "new_message"
	UserTypingEvent   = "user_typing"
	NewDMEvent        = "new_dm"
	DMUserTypingEvent = "dm_user_typing"
)

// Event is the frame exchanged over the websocket in both directions.
type Event struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func (e Event) String() string {
	return fmt.Sprintf("Event{Type: %s, Payload.Size: %d}", e.Type, len(e.Payload))
}

func NewEvent(t string, payload any) (*Event, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", t, err)
	}
	return &Event{Type: t, Payload: b}, nil
}

func EncodeEvent(w io.Writer, e *Event) error {
	if err := json.NewEncoder(w).Encode(e); err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return nil
}

func DecodeEvent(r io.Reader, e *Event) error {
	if err := json.NewDecoder(r).Decode(e); err != nil {
		return fmt.Errorf("decode event: %w", err)
	}
	return nil
}

// Inbound is a decoded client event. The set of implementations is closed.
type Inbound interface {
	inbound()
}

// UserPayload is the optional identity a client attaches to join_room.
type UserPayload struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Avatar   string `json:"avatar"`
}

type JoinRoom struct {
	GameID string       `json:"gameId"`
	User   *UserPayload `json:"user"`
}

type LeaveRoom struct {
	GameID string `json:"gameId"`
}

// ChatPayload is the message body of send_message as written by clients.
type ChatPayload struct {
	UserID     string `json:"userId"`
	Username   string `json:"username"`
	UserAvatar string `json:"userAvatar"`
	Content    string `json:"content"`
	Type       string `json:"type"`
}

type SendMessage struct {
	GameID  string       `json:"gameId"`
	Message *ChatPayload `json:"message"`
}

// Typing covers both typing and stop_typing.
type Typing struct {
	GameID   string `json:"gameId"`
	Username string `json:"username"`
	IsTyping bool   `json:"-"`
}

type RegisterUser struct {
	UserID string `json:"userId"`
}

type JoinDM struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	// User optionally names an unverified connection in DM presence.
	User *UserPayload `json:"user,omitempty"`
}

type LeaveDM struct {
	ConversationID string `json:"conversationId"`
}

// SendDM carries a message the relay forwards without looking inside.
type SendDM struct {
	ConversationID string          `json:"conversationId"`
	Message        json.RawMessage `json:"message"`
}

type DMTyping struct {
	ConversationID string `json:"conversationId"`
	Username       string `json:"username"`
	IsTyping       bool   `json:"isTyping"`
}

func (JoinRoom) inbound()     {}
func (LeaveRoom) inbound()    {}
func (SendMessage) inbound()  {}
func (Typing) inbound()       {}
func (RegisterUser) inbound() {}
func (JoinDM) inbound()       {}
func (LeaveDM) inbound()      {}
func (SendDM) inbound()       {}
func (DMTyping) inbound()     {}

// DecodeInbound decodes the payload of a client event into its typed form.
// It returns ErrUnknownEvent for unsupported types and ErrMalformedEvent when
// the payload cannot be decoded or lacks a required field.
func DecodeInbound(e *Event) (Inbound, error) {
	switch e.Type {
	case JoinRoomEvent:
		var in JoinRoom
		if err := decodePayload(e, &in); err != nil {
			return nil, err
		}
		return in, requireField(e.Type, in.GameID != "")
	case LeaveRoomEvent:
		var in LeaveRoom
		if err := decodePayload(e, &in); err != nil {
			return nil, err
		}
		return in, requireField(e.Type, in.GameID != "")
	case SendMessageEvent:
		var in SendMessage
		if err := decodePayload(e, &in); err != nil {
			return nil, err
		}
		return in, requireField(e.Type, in.GameID != "" && in.Message != nil)
	case TypingEvent, StopTypingEvent:
		var in Typing
		if err := decodePayload(e, &in); err != nil {
			return nil, err
		}
		in.IsTyping = e.Type == TypingEvent
		return in, requireField(e.Type, in.GameID != "")
	case RegisterUserEvent:
		var in RegisterUser
		if err := decodePayload(e, &in); err != nil {
			return nil, err
		}
		return in, requireField(e.Type, in.UserID != "")
	case JoinDMRoomEvent:
		var in JoinDM
		if err := decodePayload(e, &in); err != nil {
			return nil, err
		}
		return in, requireField(e.Type, in.ConversationID != "" || in.UserID != "")
	case LeaveDMRoomEvent:
		var in LeaveDM
		if err := decodePayload(e, &in); err != nil {
			return nil, err
		}
		return in, requireField(e.Type, in.ConversationID != "")
	case SendDMEvent:
		var in SendDM
		if err := decodePayload(e, &in); err != nil {
			return nil, err
		}
		return in, requireField(e.Type, in.ConversationID != "" && !isNullJSON(in.Message))
	case DMTypingEvent:
		var in DMTyping
		if err := decodePayload(e, &in); err != nil {
			return nil, err
		}
		return in, requireField(e.Type, in.ConversationID != "")
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, e.Type)
	}
}

func decodePayload(e *Event, v any) error {
	if isNullJSON(e.Payload) {
		return fmt.Errorf("%w: %s: missing payload", ErrMalformedEvent, e.Type)
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformedEvent, e.Type, err)
	}
	return nil
}

func requireField(t string, ok bool) error {
	if !ok {
		return fmt.Errorf("%w: %s: missing required field", ErrMalformedEvent, t)
	}
	return nil
}

func isNullJSON(b json.RawMessage) bool {
	b = bytes.TrimSpace(b)
	return len(b) == 0 || bytes.Equal(b, []byte("null"))
}

// Outbound payloads.

// MemberChange is the payload of user_joined and user_left.
type MemberChange struct {
	Room     string `json:"room"`
	Username string `json:"username"`
	Count    int    `json:"count"`
}

// Sender is the author of a chat message as rendered by clients.
type Sender struct {
	ID       string `json:"_id"`
	Username string `json:"username"`
	Avatar   string `json:"avatar"`
}

// ChatMessage is a game chat message, both as relayed live and as persisted.
type ChatMessage struct {
	ID        string    `json:"_id"`
	GameID    string    `json:"gameId"`
	User      Sender    `json:"user"`
	Content   string    `json:"content"`
	Type      string    `json:"type"`
	CreatedAt time.Time `json:"createdAt"`
}

// TypingStatus is the payload of user_typing and dm_user_typing.
type TypingStatus struct {
	Username string `json:"username"`
	IsTyping bool   `json:"isTyping"`
}
