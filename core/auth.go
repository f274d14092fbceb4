package core

import (
	"context"
	"errors"
	"time"
)

type Session struct {
	UserID    string    `json:"userId"`
	Username  string    `json:"username"`
	Avatar    string    `json:"avatar"`
	Token     string    `json:"-"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func (s Session) Identity() *Identity {
	return &Identity{UserID: s.UserID, Username: s.Username, Avatar: s.Avatar}
}

var (
	ErrBadCredentials  = errors.New("invalid credentials")
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrUnauthorized    = errors.New("unauthorized")
)

type AuthStore interface {
	NewSession(ctx context.Context, email, password string) (*Session, error)

	DestroySession(ctx context.Context, session Session) error

	// Session returns ErrUnauthenticated for invalid, expired or revoked tokens.
	Session(ctx context.Context, token string) (*Session, error)
}
