package core

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

type SQLiteChatStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLiteChatStore(db *sql.DB) *SQLiteChatStore {
	return &SQLiteChatStore{db: db, now: time.Now}
}

func (s *SQLiteChatStore) SaveMessage(ctx context.Context, gameID string, sender Sender, content, msgType string) (*ChatMessage, error) {
	if msgType == "" {
		msgType = TextMessage
	}
	msg := &ChatMessage{
		ID:        uuid.NewString(),
		GameID:    gameID,
		User:      sender,
		Content:   strings.TrimSpace(content),
		Type:      msgType,
		CreatedAt: s.now().UTC(),
	}

	query := `INSERT INTO messages (id, game_id, user_id, content, type, created_at)
	          VALUES (@id, @game_id, @user_id, @content, @type, @created_at)`
	_, err := s.db.ExecContext(ctx, query,
		sql.Named("id", msg.ID), sql.Named("game_id", msg.GameID),
		sql.Named("user_id", sender.ID), sql.Named("content", msg.Content),
		sql.Named("type", msg.Type), sql.Named("created_at", msg.CreatedAt))
	if err != nil {
		return nil, fmt.Errorf("inserting message: %w", err)
	}
	return msg, nil
}

func (s *SQLiteChatStore) GetMessages(ctx context.Context, gameID string, q PageQuery) (*MessagePage, error) {
	limit := q.limit()
	page := &MessagePage{Messages: []ChatMessage{}}

	row := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM messages WHERE game_id = @game_id", sql.Named("game_id", gameID))
	if err := row.Scan(&page.Total); err != nil {
		return nil, fmt.Errorf("counting messages: %w", err)
	}

	args := []any{sql.Named("game_id", gameID), sql.Named("limit", limit+1)}
	cursor := ""
	if !q.Before.IsZero() {
		cursor = "AND m.created_at < @before"
		args = append(args, sql.Named("before", q.Before.UTC()))
	}
	query := `
	SELECT m.id, m.game_id, m.user_id, u.username, u.avatar, m.content, m.type, m.created_at
	FROM messages m
	JOIN users u ON u.id = m.user_id
	WHERE m.game_id = @game_id ` + cursor + `
	ORDER BY m.created_at DESC, m.id DESC
	LIMIT @limit`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var m ChatMessage
		if err := rows.Scan(&m.ID, &m.GameID, &m.User.ID, &m.User.Username, &m.User.Avatar,
			&m.Content, &m.Type, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		page.Messages = append(page.Messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating messages: %w", err)
	}

	if len(page.Messages) > limit {
		page.HasMore = true
		page.Messages = page.Messages[:limit]
	}
	slices.Reverse(page.Messages)
	return page, nil
}
