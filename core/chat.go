package core

import (
	"context"
	"errors"
	"time"
)

const (
	TextMessage     = "text"
	ReactionMessage = "reaction"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 100
)

// PageQuery selects a page of history ending just before Before.
// A zero Before means the most recent page.
type PageQuery struct {
	Limit  int
	Before time.Time
}

func (q PageQuery) limit() int {
	switch {
	case q.Limit <= 0:
		return DefaultPageSize
	case q.Limit > MaxPageSize:
		return MaxPageSize
	default:
		return q.Limit
	}
}

// MessagePage is a page of game chat history in chronological order.
type MessagePage struct {
	Messages []ChatMessage `json:"messages"`
	HasMore  bool          `json:"hasMore"`
	Total    int           `json:"total"`
}

// ChatStore persists game chat messages. It is independent of the relay:
// a message may be relayed without being stored and the other way round.
type ChatStore interface {
	SaveMessage(ctx context.Context, gameID string, sender Sender, content, msgType string) (*ChatMessage, error)

	GetMessages(ctx context.Context, gameID string, q PageQuery) (*MessagePage, error)
}

// Conversation is a 1:1 DM conversation as seen by one participant.
type Conversation struct {
	ID string `json:"_id"`
	// Participants lists the other participants.
	Participants  []Sender  `json:"participants"`
	LastMessage   string    `json:"lastMessage"`
	LastMessageAt time.Time `json:"lastMessageAt"`
	LastSenderID  string    `json:"lastSenderId,omitempty"`
	UnreadCount   int       `json:"unreadCount"`
	CreatedAt     time.Time `json:"createdAt"`
}

type DirectMessage struct {
	ID             string    `json:"_id"`
	ConversationID string    `json:"conversationId"`
	Sender         Sender    `json:"sender"`
	Content        string    `json:"content"`
	Read           bool      `json:"read"`
	CreatedAt      time.Time `json:"createdAt"`
}

type DirectMessagePage struct {
	Messages []DirectMessage `json:"messages"`
	HasMore  bool            `json:"hasMore"`
}

// DMStore persists DM conversations and their messages.
type DMStore interface {
	// OpenConversation returns the conversation between the two users,
	// creating it if needed.
	OpenConversation(ctx context.Context, userID, targetID string) (*Conversation, error)

	// Conversations returns the user's conversations, most recent first, with
	// unread counts.
	Conversations(ctx context.Context, userID string) ([]Conversation, error)

	// Messages returns a page of history and marks the messages sent to userID as read.
	Messages(ctx context.Context, conversationID, userID string, q PageQuery) (*DirectMessagePage, error)

	SendDirectMessage(ctx context.Context, conversationID string, sender Sender, content string) (*DirectMessage, error)
}

var (
	// ErrInvalidUser is returned when a user is not found or is invalid.
	ErrInvalidUser = errors.New("invalid user")
	// ErrInvalidConversation is returned when a conversation does not exist or
	// the user is not a participant.
	ErrInvalidConversation = errors.New("invalid conversation")
	// ErrSelfConversation is returned when a user opens a conversation with themselves.
	ErrSelfConversation = errors.New("cannot start a conversation with yourself")
)
