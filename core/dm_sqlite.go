package core

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

// previewLength is the number of runes of the last message kept on a conversation.
const previewLength = 100

type SQLiteDMStore struct {
	db        *sql.DB
	userStore UserStore
	now       func() time.Time
}

func NewSQLiteDMStore(db *sql.DB, userStore UserStore) *SQLiteDMStore {
	return &SQLiteDMStore{db: db, userStore: userStore, now: time.Now}
}

func participantsKey(a, b string) string {
	ids := []string{a, b}
	slices.Sort(ids)
	return strings.Join(ids, ":")
}

func (s *SQLiteDMStore) OpenConversation(ctx context.Context, userID, targetID string) (*Conversation, error) {
	if userID == targetID {
		return nil, ErrSelfConversation
	}
	target, err := s.userStore.GetUserByID(ctx, targetID)
	if err != nil {
		return nil, fmt.Errorf("get target user: %w", err)
	}
	if target == nil {
		return nil, ErrInvalidUser
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("BeginTx: %w", err)
	}
	defer tx.Rollback()

	key := participantsKey(userID, targetID)
	var id string
	err = tx.QueryRowContext(ctx, "SELECT id FROM conversations WHERE participants_key = @key",
		sql.Named("key", key)).Scan(&id)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		id = uuid.NewString()
		now := s.now().UTC()
		_, err = tx.ExecContext(ctx,
			`INSERT INTO conversations (id, participants_key, last_message_at, created_at)
			 VALUES (@id, @key, @now, @now)`,
			sql.Named("id", id), sql.Named("key", key), sql.Named("now", now))
		if err != nil {
			return nil, fmt.Errorf("inserting conversation: %w", err)
		}
		for _, p := range []string{userID, targetID} {
			_, err = tx.ExecContext(ctx,
				"INSERT INTO conversation_participants (conversation_id, user_id) VALUES (@id, @user)",
				sql.Named("id", id), sql.Named("user", p))
			if err != nil {
				return nil, fmt.Errorf("inserting participant: %w", err)
			}
		}
	case err != nil:
		return nil, fmt.Errorf("finding conversation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("Commit: %w", err)
	}

	convs, err := s.conversations(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if len(convs) == 0 {
		return nil, ErrInvalidConversation
	}
	return &convs[0], nil
}

func (s *SQLiteDMStore) Conversations(ctx context.Context, userID string) ([]Conversation, error) {
	return s.conversations(ctx, userID, "")
}

// conversations lists the user's conversations, restricted to one
// conversation when only is non-empty.
func (s *SQLiteDMStore) conversations(ctx context.Context, userID, only string) ([]Conversation, error) {
	filter := ""
	args := []any{sql.Named("user", userID)}
	if only != "" {
		filter = "AND c.id = @only"
		args = append(args, sql.Named("only", only))
	}

	query := `
	SELECT c.id, c.last_message, c.last_message_at, c.last_sender_id, c.created_at,
	       (SELECT COUNT(*) FROM dm_messages d
	        WHERE d.conversation_id = c.id AND d.sender_id != @user AND d.read = 0) AS unread
	FROM conversations c
	JOIN conversation_participants p ON p.conversation_id = c.id
	WHERE p.user_id = @user ` + filter + `
	ORDER BY c.last_message_at DESC, c.id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying conversations: %w", err)
	}
	defer rows.Close()

	convs := []Conversation{}
	index := make(map[string]int)
	for rows.Next() {
		c := Conversation{Participants: []Sender{}}
		if err := rows.Scan(&c.ID, &c.LastMessage, &c.LastMessageAt, &c.LastSenderID, &c.CreatedAt, &c.UnreadCount); err != nil {
			return nil, fmt.Errorf("scanning conversation: %w", err)
		}
		index[c.ID] = len(convs)
		convs = append(convs, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating conversations: %w", err)
	}
	if len(convs) == 0 {
		return convs, nil
	}

	prows, err := s.db.QueryContext(ctx, `
	SELECT p.conversation_id, u.id, u.username, u.avatar
	FROM conversation_participants p
	JOIN users u ON u.id = p.user_id
	WHERE p.user_id != @user AND p.conversation_id IN
	      (SELECT conversation_id FROM conversation_participants WHERE user_id = @user)
	ORDER BY u.username`, sql.Named("user", userID))
	if err != nil {
		return nil, fmt.Errorf("querying participants: %w", err)
	}
	defer prows.Close()

	for prows.Next() {
		var convID string
		var p Sender
		if err := prows.Scan(&convID, &p.ID, &p.Username, &p.Avatar); err != nil {
			return nil, fmt.Errorf("scanning participant: %w", err)
		}
		if i, ok := index[convID]; ok {
			convs[i].Participants = append(convs[i].Participants, p)
		}
	}
	return convs, prows.Err()
}

func (s *SQLiteDMStore) isParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM conversation_participants WHERE conversation_id = @id AND user_id = @user",
		sql.Named("id", conversationID), sql.Named("user", userID)).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("checking participant: %w", err)
	}
	return count > 0, nil
}

func (s *SQLiteDMStore) Messages(ctx context.Context, conversationID, userID string, q PageQuery) (*DirectMessagePage, error) {
	ok, err := s.isParticipant(ctx, conversationID, userID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrInvalidConversation
	}

	limit := q.limit()
	args := []any{sql.Named("id", conversationID), sql.Named("limit", limit+1)}
	cursor := ""
	if !q.Before.IsZero() {
		cursor = "AND d.created_at < @before"
		args = append(args, sql.Named("before", q.Before.UTC()))
	}
	query := `
	SELECT d.id, d.conversation_id, u.id, u.username, u.avatar, d.content, d.read, d.created_at
	FROM dm_messages d
	JOIN users u ON u.id = d.sender_id
	WHERE d.conversation_id = @id ` + cursor + `
	ORDER BY d.created_at DESC, d.id DESC
	LIMIT @limit`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	page := &DirectMessagePage{Messages: []DirectMessage{}}
	for rows.Next() {
		var m DirectMessage
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Sender.ID, &m.Sender.Username, &m.Sender.Avatar,
			&m.Content, &m.Read, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		page.Messages = append(page.Messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating messages: %w", err)
	}
	rows.Close()

	if len(page.Messages) > limit {
		page.HasMore = true
		page.Messages = page.Messages[:limit]
	}
	slices.Reverse(page.Messages)

	_, err = s.db.ExecContext(ctx,
		"UPDATE dm_messages SET read = 1 WHERE conversation_id = @id AND sender_id != @user AND read = 0",
		sql.Named("id", conversationID), sql.Named("user", userID))
	if err != nil {
		return nil, fmt.Errorf("marking messages read: %w", err)
	}
	return page, nil
}

func (s *SQLiteDMStore) SendDirectMessage(ctx context.Context, conversationID string, sender Sender, content string) (*DirectMessage, error) {
	ok, err := s.isParticipant(ctx, conversationID, sender.ID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrInvalidConversation
	}

	msg := &DirectMessage{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Sender:         sender,
		Content:        strings.TrimSpace(content),
		CreatedAt:      s.now().UTC(),
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("BeginTx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO dm_messages (id, conversation_id, sender_id, content, created_at)
		 VALUES (@id, @conversation_id, @sender_id, @content, @created_at)`,
		sql.Named("id", msg.ID), sql.Named("conversation_id", conversationID),
		sql.Named("sender_id", sender.ID), sql.Named("content", msg.Content),
		sql.Named("created_at", msg.CreatedAt))
	if err != nil {
		return nil, fmt.Errorf("inserting message: %w", err)
	}

	preview := []rune(msg.Content)
	if len(preview) > previewLength {
		preview = preview[:previewLength]
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE conversations SET last_message = @preview, last_message_at = @at, last_sender_id = @sender
		 WHERE id = @id`,
		sql.Named("preview", string(preview)), sql.Named("at", msg.CreatedAt),
		sql.Named("sender", sender.ID), sql.Named("id", conversationID))
	if err != nil {
		return nil, fmt.Errorf("updating conversation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("Commit: %w", err)
	}
	return msg, nil
}
